package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	popupsShown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_notify_popups_shown_total",
		Help: "Popup events emitted.",
	})
	popupsRetracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_notify_popups_retracted_total",
		Help: "Retraction events emitted.",
	})
	replaySuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_notify_replay_suppressed_total",
		Help: "Unread replay entries absorbed without a popup.",
	})
	writeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_notify_write_failures_total",
		Help: "Read-mark writes that failed and were surfaced for retry.",
	})
	lookupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_notify_lookup_failures_total",
		Help: "Sender display-name lookups that fell back to the mask.",
	})
	subscriptionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beaconbond_notify_subscription_failures_total",
		Help: "Watcher attach attempts that failed.",
	})
	watcherGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beaconbond_notify_watchers",
		Help: "Currently attached per-conversation watchers.",
	})
	unreadGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beaconbond_notify_unread_records",
		Help: "Records currently in the unread state store.",
	})
)
