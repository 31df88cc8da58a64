package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	msgSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_store_messages_saved_total",
		Help: "Messages appended to conversations.",
	})
	readMarks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_store_messages_marked_read_total",
		Help: "Read marks persisted.",
	})
	feedChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beaconbond_feed_changes_total",
		Help: "Change events published to the live feed, by kind.",
	}, []string{"kind"})
	feedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_feed_dropped_total",
		Help: "Change events dropped because a subscriber buffer was full.",
	})
	feedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beaconbond_feed_subscribers",
		Help: "Currently attached feed subscriptions.",
	})
)
