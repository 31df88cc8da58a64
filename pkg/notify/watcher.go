package notify

import (
	"context"
	"encoding/json"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/models"
)

// watcher forwards one conversation's live changes onto the reconciler's
// intake queue. On attach it replays the current snapshot as OpReplay
// entries before forwarding incremental changes, so historic unread
// messages reach the unread count without a popup burst.
type watcher struct {
	conv   string
	sub    MessageSub
	cancel context.CancelFunc
	done   chan struct{}
}

func newWatcher(ctx context.Context, conv string, sub MessageSub, snapshot []models.Message, q *Queue) *watcher {
	wctx, cancel := context.WithCancel(ctx)
	w := &watcher{conv: conv, sub: sub, cancel: cancel, done: make(chan struct{})}
	go w.run(wctx, snapshot, q)
	return w
}

func (w *watcher) run(ctx context.Context, snapshot []models.Message, q *Queue) {
	defer close(w.done)
	for _, m := range snapshot {
		payload, err := json.Marshal(m)
		if err != nil {
			logger.Error("watcher_replay_marshal_failed", "conversation", w.conv, "msg_id", m.ID, "error", err)
			continue
		}
		op := Op{Type: OpReplay, Conversation: w.conv, ID: m.ID, Payload: payload, TS: m.TS}
		if err := q.Enqueue(ctx, &op); err != nil {
			return
		}
	}
	for {
		select {
		case c, ok := <-w.sub.Changes():
			if !ok {
				if ctx.Err() == nil {
					// the feed evicted this subscription after buffer
					// overflow; some changes were lost
					logger.Warn("watcher_feed_evicted", "conversation", w.conv)
					op := Op{Type: OpResubscribe, Conversation: w.conv}
					if err := q.Enqueue(ctx, &op); err != nil {
						logger.Warn("watcher_resubscribe_dropped", "conversation", w.conv, "error", err)
					}
				}
				return
			}
			op := Op{Type: opTypeFor(c.Kind), Conversation: c.Conversation, ID: c.ID, Payload: c.Payload, TS: c.TS}
			if err := q.Enqueue(ctx, &op); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// stop halts forwarding and detaches the underlying subscription. It
// returns once the forwarding goroutine has exited, so no further ops for
// this conversation can be enqueued after stop returns.
func (w *watcher) stop() {
	w.cancel()
	w.sub.Cancel()
	<-w.done
}

func opTypeFor(k models.ChangeKind) OpType {
	switch k {
	case models.ChangeUpdated:
		return OpUpdated
	case models.ChangeRemoved:
		return OpRemoved
	default:
		return OpAdded
	}
}
