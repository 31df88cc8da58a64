package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// OpType represents an operation kind on the reconciler's intake queue.
// Message-change ops carry a snapshot payload; control ops linearize
// viewing-context updates, teardown purges and post-dismiss removals with
// ordinary event processing.
type OpType string

const (
	OpAdded   OpType = "added"
	OpUpdated OpType = "updated"
	OpRemoved OpType = "removed"
	// OpReplay is an Added op from a watcher's initial snapshot replay;
	// it updates state without emitting popups.
	OpReplay OpType = "replay"
	// OpPurgeConversation removes every record for Conversation.
	OpPurgeConversation OpType = "purge_conversation"
	// OpRemoveRecord removes a single record after a successful read write.
	OpRemoveRecord OpType = "remove_record"
	// OpSetViewing updates the viewing context to Conversation ("" = none).
	OpSetViewing OpType = "set_viewing"
	// OpResubscribe asks for a fresh watcher attach after the feed evicted
	// a saturated subscription; the replay reconverges the records.
	OpResubscribe OpType = "resubscribe"
)

// Op is a lightweight in-memory representation of one reconciler input.
// Payload may be backed by a pooled ByteBuffer; consumers must call
// Item.Done() when finished.
type Op struct {
	Type         OpType
	Conversation string
	ID           string
	// Payload holds the raw message snapshot JSON (may be nil for
	// control ops).
	Payload []byte
	// TS is the source message's creation timestamp (nanoseconds).
	TS int64
	// EnqSeq is a monotonic enqueue sequence assigned when the op is
	// accepted into the queue; it gives deterministic ordering.
	EnqSeq uint64
}

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("notify queue full")

// ErrQueueClosed is returned on enqueue after CloseAndDrain.
var ErrQueueClosed = errors.New("notify queue closed")

// Item wraps an Op and owns a pooled ByteBuffer if one was used. Consumers
// MUST call Done() exactly once after processing the item.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases internal pooled resources back to the pool.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			// avoid retaining huge buffers in the pool
			if int64(cap(it.buf.B)) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Op != nil {
			it.Op.Payload = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
		itemPool.Put(it)
	})
}

var opPool = sync.Pool{New: func() any { return &Op{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// maxPooledBuffer controls the largest buffer size returned to the pool;
// larger buffers are dropped so GC can reclaim them.
var maxPooledBuffer int64 = 256 * 1024 // 256 KiB

// SetMaxPooledBuffer overrides the pooled buffer cap (from config).
func SetMaxPooledBuffer(n int64) {
	if n > 0 {
		maxPooledBuffer = n
	}
}

// Queue is a bounded in-memory queue feeding the reconciler loop. It is
// safe for concurrent producers; the single consumer ranges over Out().
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	enqSeq   uint64
	closed   atomic.Bool
}

// NewQueue creates a new bounded Queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the read-only consumer channel. Do not close it from
// callers; use CloseAndDrain.
func (q *Queue) Out() <-chan *Item { return q.ch }

func (q *Queue) newItem(op *Op) *Item {
	newOp := opPool.Get().(*Op)
	*newOp = *op
	newOp.EnqSeq = atomic.AddUint64(&q.enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(op.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
	}
	it := itemPool.Get().(*Item)
	*it = Item{Op: newOp, buf: bb}
	return it
}

func (q *Queue) release(it *Item) {
	if it.buf != nil {
		bytebufferpool.Put(it.buf)
	}
	opPool.Put(it.Op)
	atomic.AddUint64(&q.dropped, 1)
}

// TryEnqueue attempts to enqueue an Op by copying its payload into a
// pooled buffer. If the queue is full ErrQueueFull is returned; after
// CloseAndDrain it returns ErrQueueClosed.
func (q *Queue) TryEnqueue(op *Op) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	it := q.newItem(op)
	select {
	case q.ch <- it:
		return nil
	default:
		q.release(it)
		return ErrQueueFull
	}
}

// Enqueue enqueues op, blocking until space is available or the provided
// context is done.
func (q *Queue) Enqueue(ctx context.Context, op *Op) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	it := q.newItem(op)
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		q.release(it)
		return ctx.Err()
	}
}

// CloseAndDrain marks the queue closed and drains buffered items,
// releasing their resources. The channel itself is never closed, so a
// producer racing the closed flag sends harmlessly into the buffer
// instead of panicking; its item is simply never consumed.
func (q *Queue) CloseAndDrain() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	for {
		select {
		case it := <-q.ch:
			it.Done()
		default:
			return
		}
	}
}

// Len returns the current number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of ops dropped due to a full queue or
// context cancellation during enqueue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
