package store

import (
	"sync"
	"sync/atomic"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/models"
)

// The change feed fans out store mutations to in-process subscribers. A
// subscription is scoped to one conversation; the snapshot returned at
// subscribe time and the subsequent change stream are atomic with respect
// to concurrent writes (the feed lock is held across the snapshot read).

type Subscription struct {
	C    <-chan models.Change
	ch   chan models.Change
	conv string
	id   uint64
	once sync.Once
}

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once, including after the feed evicted the subscription.
func (s *Subscription) Cancel() {
	feedMu.Lock()
	if subs, ok := feedSubs[s.conv]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(feedSubs, s.conv)
		}
	}
	feedMu.Unlock()
	s.detach()
}

// detach closes the channel exactly once. Callers must have removed the
// subscription from the registry already; never call while holding feedMu.
func (s *Subscription) detach() {
	s.once.Do(func() {
		close(s.ch)
		feedSubscribers.Dec()
	})
}

// ConvSubscription streams the global conversation-id set: the full set at
// subscribe time, then each newly created conversation id.
type ConvSubscription struct {
	C    <-chan string
	ch   chan string
	id   uint64
	once sync.Once
}

func (s *ConvSubscription) Cancel() {
	s.once.Do(func() {
		feedMu.Lock()
		delete(convSubs, s.id)
		feedMu.Unlock()
		close(s.ch)
	})
}

var (
	feedMu   sync.Mutex
	feedSubs = map[string]map[uint64]*Subscription{}
	convSubs = map[uint64]*ConvSubscription{}
	subSeq   uint64
)

// Subscribe attaches a live subscription to one conversation's messages.
// It returns the current snapshot (in insertion order) plus a channel of
// subsequent changes. A slow consumer that fills the buffer is evicted:
// its channel is closed without a Cancel, which tells it to resubscribe
// and reconverge from a fresh snapshot.
func Subscribe(convID string, buffer int) (*Subscription, []models.Message, error) {
	if buffer <= 0 {
		buffer = 256
	}
	feedMu.Lock()
	defer feedMu.Unlock()
	snapshot, err := ListMessages(convID)
	if err != nil {
		return nil, nil, err
	}
	s := &Subscription{
		ch:   make(chan models.Change, buffer),
		conv: convID,
		id:   atomic.AddUint64(&subSeq, 1),
	}
	s.C = s.ch
	if feedSubs[convID] == nil {
		feedSubs[convID] = map[uint64]*Subscription{}
	}
	feedSubs[convID][s.id] = s
	feedSubscribers.Inc()
	return s, snapshot, nil
}

// SubscribeConversations attaches a live subscription to the global
// conversation-id set.
func SubscribeConversations(buffer int) (*ConvSubscription, []string, error) {
	if buffer <= 0 {
		buffer = 64
	}
	feedMu.Lock()
	defer feedMu.Unlock()
	ids, err := ListConversations()
	if err != nil {
		return nil, nil, err
	}
	s := &ConvSubscription{
		ch: make(chan string, buffer),
		id: atomic.AddUint64(&subSeq, 1),
	}
	s.C = s.ch
	convSubs[s.id] = s
	return s, ids, nil
}

func publish(c models.Change) {
	var evicted []*Subscription
	feedMu.Lock()
	feedChanges.WithLabelValues(string(c.Kind)).Inc()
	for id, s := range feedSubs[c.Conversation] {
		select {
		case s.ch <- c:
		default:
			delete(feedSubs[c.Conversation], id)
			if len(feedSubs[c.Conversation]) == 0 {
				delete(feedSubs, c.Conversation)
			}
			evicted = append(evicted, s)
			feedDropped.Inc()
			logger.Warn("feed_subscriber_evicted", "conversation", c.Conversation, "msg_id", c.ID, "kind", c.Kind)
		}
	}
	feedMu.Unlock()
	for _, s := range evicted {
		s.detach()
	}
}

func publishConversation(convID string) {
	feedMu.Lock()
	defer feedMu.Unlock()
	for _, s := range convSubs {
		select {
		case s.ch <- convID:
		default:
			feedDropped.Inc()
			logger.Warn("feed_conversation_dropped", "conversation", convID)
		}
	}
}

// closeFeed detaches every subscriber; called from Close.
func closeFeed() {
	feedMu.Lock()
	subs := feedSubs
	cs := convSubs
	feedSubs = map[string]map[uint64]*Subscription{}
	convSubs = map[uint64]*ConvSubscription{}
	feedMu.Unlock()
	for _, m := range subs {
		for _, s := range m {
			s.detach()
		}
	}
	for _, s := range cs {
		s.once.Do(func() { close(s.ch) })
	}
}
