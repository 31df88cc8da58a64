package models

// ChangeKind tags a message-change event from the store's live feed.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change is one message-change event delivered to feed subscribers. The
// message snapshot travels as raw JSON; consumers decode it on their side
// of the queue.
type Change struct {
	Kind         ChangeKind
	Conversation string
	ID           string
	Payload      []byte
	// TS is the server-assigned creation time (ns) of the message.
	TS int64
}

// NotificationRecord is a derived, in-memory record for one unread message.
// It exists only while the underlying message is unread and its
// conversation is not currently being viewed; it is never persisted.
type NotificationRecord struct {
	Conversation string `json:"conversation"`
	MessageID    string `json:"message_id"`
	SenderID     string `json:"sender_id"`
	// Preview is the truncated display text.
	Preview string `json:"preview"`
	// TS is the source message's creation time (ns), used for the
	// newest-first ordering of the snapshot view.
	TS int64 `json:"ts"`
}
