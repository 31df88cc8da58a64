package notify

import "beaconbond/pkg/models"

// PopupEvent is one user-visible "show popup" emission.
type PopupEvent struct {
	Key        CompositeKey              `json:"key"`
	Record     models.NotificationRecord `json:"record"`
	SenderName string                    `json:"sender_name"`
	Title      string                    `json:"title"`
	Body       string                    `json:"body"`
}

// Sink receives the reconciler's UI-facing emissions. Calls are made from
// the reconciler loop, one at a time; implementations must not block for
// long.
type Sink interface {
	// ShowPopup is emitted at most once per composite key per session.
	ShowPopup(ev PopupEvent)
	// RetractPopup is emitted when a record is removed after having
	// existed.
	RetractPopup(key CompositeKey)
	// WriteFailed surfaces a failed read-mark write; the record is
	// retained so the caller can retry the dismissal.
	WriteFailed(key CompositeKey, err error)
}

// NopSink discards all emissions.
type NopSink struct{}

func (NopSink) ShowPopup(PopupEvent)            {}
func (NopSink) RetractPopup(CompositeKey)       {}
func (NopSink) WriteFailed(CompositeKey, error) {}
