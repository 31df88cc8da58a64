package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/models"
)

// ErrReconcilerClosed is returned by operations invoked after Close.
var ErrReconcilerClosed = errors.New("notify: reconciler closed")

// Options configures a Reconciler.
type Options struct {
	// User is the current user's opaque identity token.
	User string
	// Source supplies the live conversation and message feeds.
	Source Source
	// Names resolves sender display names, best-effort.
	Names NameResolver
	// Sink receives popup, retraction and write-failure emissions.
	Sink Sink
	// QueueCapacity bounds the intake queue (default 4096).
	QueueCapacity int
	// PreviewLength caps popup previews in runes (default 50).
	PreviewLength int
	// WatcherBuffer sizes each per-conversation change buffer.
	WatcherBuffer int
}

// Reconciler consumes watcher events, applies the unread rules and owns
// the unread state store. All store mutations happen on its single event
// loop; watcher attach/detach and viewing-context updates are linearized
// through the same loop.
type Reconciler struct {
	user       string
	src        Source
	names      NameResolver
	sink       Sink
	previewLen int
	watcherBuf int

	q     *Queue
	state *UnreadStore
	// shown is the session-wide popup dedupe set: at most one popup per
	// composite key regardless of redeliveries.
	shown   map[CompositeKey]struct{}
	viewing string

	mu       sync.Mutex
	watchers map[string]*watcher
	resolver Resolver
	convSub  ConvSub

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	memDone  chan struct{}
	started  atomic.Bool
	closed   atomic.Bool

	// snapshot is the last published newest-first record list, readable
	// without touching the loop-owned store.
	snapshot atomic.Value // []models.NotificationRecord
}

// New creates a Reconciler. Call Start to attach it to the source.
func New(opts Options) (*Reconciler, error) {
	if opts.User == "" {
		return nil, fmt.Errorf("notify: missing user identity")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("notify: missing source")
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 50
	}
	if opts.WatcherBuffer <= 0 {
		opts.WatcherBuffer = 256
	}
	r := &Reconciler{
		user:       opts.User,
		src:        opts.Source,
		names:      opts.Names,
		sink:       opts.Sink,
		previewLen: opts.PreviewLength,
		watcherBuf: opts.WatcherBuffer,
		q:          NewQueue(opts.QueueCapacity),
		state:      NewUnreadStore(),
		shown:      map[CompositeKey]struct{}{},
		watchers:   map[string]*watcher{},
		loopDone:   make(chan struct{}),
		memDone:    make(chan struct{}),
	}
	r.snapshot.Store([]models.NotificationRecord{})
	return r, nil
}

// Start subscribes to the conversation set, attaches watchers for the
// user's current membership and starts the event loop. The reconciler
// stops when ctx is canceled or Close is called.
func (r *Reconciler) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("notify: reconciler already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	convSub, ids, err := r.src.SubscribeConversations(0)
	if err != nil {
		r.cancel()
		r.started.Store(false)
		return fmt.Errorf("subscribe conversations: %w", err)
	}
	r.convSub = convSub

	go r.loop()
	go r.membershipLoop(ids)
	logger.Info("reconciler_started", "user", r.user, "conversations", len(ids))
	return nil
}

// Close tears the subsystem down: it detaches all watchers, stops the
// loop and clears the store. No event is processed after Close begins
// taking effect; pending queue items are drained unprocessed.
func (r *Reconciler) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	if !r.started.Load() {
		return
	}
	r.cancel()
	if r.convSub != nil {
		r.convSub.Cancel()
	}
	<-r.memDone

	r.mu.Lock()
	ws := r.watchers
	r.watchers = map[string]*watcher{}
	r.mu.Unlock()
	for _, w := range ws {
		w.stop()
	}

	<-r.loopDone
	r.q.CloseAndDrain()
	r.state.Clear()
	r.snapshot.Store([]models.NotificationRecord{})
	unreadGauge.Set(0)
	watcherGauge.Set(0)
	logger.Info("reconciler_closed", "user", r.user)
}

// SetViewing updates the viewing context to convID; empty means no
// conversation is open. Records for the viewed conversation are purged
// retroactively.
func (r *Reconciler) SetViewing(convID string) {
	if r.closed.Load() {
		return
	}
	if err := r.q.TryEnqueue(&Op{Type: OpSetViewing, Conversation: convID}); err != nil {
		logger.Warn("set_viewing_dropped", "conversation", convID, "error", err)
	}
}

// Dismiss persists the read mark for the record's message and removes the
// local record once the write succeeds. On write failure the record is
// kept and the failure is surfaced through the sink; the caller may retry.
// After Close it performs no writes and returns ErrReconcilerClosed.
func (r *Reconciler) Dismiss(key CompositeKey) error {
	if r.closed.Load() {
		return ErrReconcilerClosed
	}
	if err := r.src.MarkMessageRead(key.Conversation, key.Message, r.user); err != nil {
		logger.Error("dismiss_write_failed", "conversation", key.Conversation, "msg_id", key.Message, "error", err)
		writeFailures.Inc()
		r.sink.WriteFailed(key, err)
		return err
	}
	// The store publishes the update through the feed as well; this
	// explicit removal guarantees the record clears even if that change
	// is dropped by a saturated watcher buffer.
	if err := r.q.TryEnqueue(&Op{Type: OpRemoveRecord, Conversation: key.Conversation, ID: key.Message}); err != nil {
		logger.Warn("dismiss_remove_dropped", "conversation", key.Conversation, "error", err)
	}
	return nil
}

// Click handles a popup click: the message is marked read and the clicked
// conversation becomes the viewing context.
func (r *Reconciler) Click(key CompositeKey) error {
	if err := r.Dismiss(key); err != nil {
		return err
	}
	r.SetViewing(key.Conversation)
	return nil
}

// Snapshot returns the active records, newest first. Safe to call from
// any goroutine.
func (r *Reconciler) Snapshot() []models.NotificationRecord {
	return r.snapshot.Load().([]models.NotificationRecord)
}

// UnreadCount returns the current number of unread records.
func (r *Reconciler) UnreadCount() int { return len(r.Snapshot()) }

// membershipLoop re-evaluates conversation membership as the global set
// mutates, attaching and detaching watchers.
func (r *Reconciler) membershipLoop(initial []string) {
	defer close(r.memDone)
	known := append([]string(nil), initial...)
	r.applyMembership(known)
	ch := r.convSub.Conversations()
	for {
		select {
		case id, ok := <-ch:
			if !ok {
				return
			}
			known = append(known, id)
			r.applyMembership(known)
		case <-r.ctx.Done():
			return
		}
	}
}

// applyMembership diffs desired membership against active watchers.
// Teardown stops a watcher's forwarding first, then queues the purge of
// its store entries, so no event for a detached conversation survives the
// purge.
func (r *Reconciler) applyMembership(all []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	member := map[string]struct{}{}
	for _, id := range r.resolver.Resolve(r.user, all) {
		member[id] = struct{}{}
	}
	for id, w := range r.watchers {
		if _, ok := member[id]; ok {
			continue
		}
		w.stop()
		delete(r.watchers, id)
		watcherGauge.Dec()
		if err := r.q.TryEnqueue(&Op{Type: OpPurgeConversation, Conversation: id}); err != nil {
			logger.Warn("membership_purge_dropped", "conversation", id, "error", err)
		}
		logger.Info("watcher_detached", "conversation", id)
	}
	for id := range member {
		if _, ok := r.watchers[id]; ok {
			continue
		}
		sub, snapshot, err := r.src.Subscribe(id, r.watcherBuf)
		if err != nil {
			// conversation treated as absent until the next membership
			// pass reattempts the attach
			subscriptionFailures.Inc()
			logger.Error("watcher_attach_failed", "conversation", id, "error", err)
			continue
		}
		r.watchers[id] = newWatcher(r.ctx, id, sub, snapshot, r.q)
		watcherGauge.Inc()
		logger.Info("watcher_attached", "conversation", id, "replay", len(snapshot))
	}
}

// reattach replaces a watcher whose feed subscription was evicted after
// buffer overflow. The conversation's records were purged just before, so
// the fresh snapshot replay reconverges them without popups.
func (r *Reconciler) reattach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	w, ok := r.watchers[id]
	if !ok {
		// detached by a membership pass in the meantime
		return
	}
	w.stop()
	delete(r.watchers, id)
	watcherGauge.Dec()

	sub, snapshot, err := r.src.Subscribe(id, r.watcherBuf)
	if err != nil {
		// treated as absent until the next membership pass retries
		subscriptionFailures.Inc()
		logger.Error("watcher_reattach_failed", "conversation", id, "error", err)
		return
	}
	r.watchers[id] = newWatcher(r.ctx, id, sub, snapshot, r.q)
	watcherGauge.Inc()
	logger.Info("watcher_reattached", "conversation", id, "replay", len(snapshot))
}

// loop is the single consumer of the intake queue; it exclusively owns
// the unread state store.
func (r *Reconciler) loop() {
	defer close(r.loopDone)
	for {
		select {
		case it := <-r.q.Out():
			r.handle(it.Op)
			it.Done()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reconciler) handle(op *Op) {
	switch op.Type {
	case OpSetViewing:
		r.viewing = op.Conversation
		if r.viewing != "" {
			r.purgeConversation(r.viewing)
		}
		r.publish()
	case OpPurgeConversation:
		r.purgeConversation(op.Conversation)
		r.publish()
	case OpResubscribe:
		r.purgeConversation(op.Conversation)
		r.publish()
		r.reattach(op.Conversation)
	case OpRemoveRecord, OpRemoved:
		r.removeKey(CompositeKey{Conversation: op.Conversation, Message: op.ID})
		r.publish()
	case OpAdded, OpUpdated, OpReplay:
		var m models.Message
		if err := json.Unmarshal(op.Payload, &m); err != nil {
			logger.Error("reconcile_invalid_payload", "conversation", op.Conversation, "msg_id", op.ID, "error", err)
			return
		}
		r.reconcile(op.Type, m)
		r.publish()
	default:
		logger.Warn("reconcile_unknown_op", "type", string(op.Type))
	}
}

// reconcile applies the unread predicate to one message snapshot.
func (r *Reconciler) reconcile(t OpType, m models.Message) {
	key := CompositeKey{Conversation: m.Conversation, Message: m.ID}
	switch {
	case m.Deleted:
		r.removeKey(key)
	case m.Conversation == r.viewing && r.viewing != "":
		// the open conversation implies visual read, regardless of the
		// stored read marker
		r.removeKey(key)
	case m.SenderID == r.user:
		r.removeKey(key)
	case m.ReadByUser(r.user):
		r.removeKey(key)
	default:
		rec := models.NotificationRecord{
			Conversation: m.Conversation,
			MessageID:    m.ID,
			SenderID:     m.SenderID,
			Preview:      previewText(m, r.previewLen),
			TS:           m.TS,
		}
		r.state.Upsert(key, rec)
		if t == OpReplay {
			replaySuppressed.Inc()
			return
		}
		if _, ok := r.shown[key]; ok {
			return
		}
		r.shown[key] = struct{}{}
		name := r.resolveSender(m.SenderID)
		popupsShown.Inc()
		r.sink.ShowPopup(PopupEvent{
			Key:        key,
			Record:     rec,
			SenderName: name,
			Title:      "New message from " + name,
			Body:       name + ": " + rec.Preview,
		})
	}
}

func (r *Reconciler) removeKey(key CompositeKey) {
	if r.state.Remove(key) {
		popupsRetracted.Inc()
		r.sink.RetractPopup(key)
	}
}

func (r *Reconciler) purgeConversation(convID string) {
	for _, key := range r.state.RemoveConversation(convID) {
		popupsRetracted.Inc()
		r.sink.RetractPopup(key)
	}
}

func (r *Reconciler) publish() {
	snap := r.state.Snapshot()
	r.snapshot.Store(snap)
	unreadGauge.Set(float64(len(snap)))
}

// resolveSender looks the display name up once, best-effort, falling back
// to a masked identifier built from the sender id.
func (r *Reconciler) resolveSender(senderID string) string {
	if r.names != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if name, err := r.names.DisplayName(ctx, senderID); err == nil && name != "" {
			return name
		} else if err != nil {
			lookupFailures.Inc()
			logger.Debug("sender_lookup_failed", "sender", senderID, "error", err)
		}
	}
	return maskedName(senderID)
}

func maskedName(id string) string {
	if id == "" {
		return "Someone"
	}
	if len(id) > 6 {
		id = id[:6]
	}
	return "User " + id
}

// previewText builds the truncated display text for a message, or the
// attachment/new-message placeholder when there is no text body.
func previewText(m models.Message, max int) string {
	content := m.Text
	if content == "" {
		if m.HasAttachment() {
			return "Sent a file"
		}
		return "New message"
	}
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	if max > 3 {
		return string(runes[:max-3]) + "..."
	}
	return string(runes[:max])
}
