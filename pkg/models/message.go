package models

type Message struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	SenderID     string `json:"sender_id,omitempty"`
	TS           int64  `json:"ts"`
	Text         string `json:"text,omitempty"`
	// Optional attached-file reference
	FileName string `json:"file_name,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	// Read state has historically been written in two forms: a boolean flag
	// and a per-message set of reader identities. Either one indicating
	// "read" is authoritative; absence of both means unread.
	IsRead bool     `json:"is_read,omitempty"`
	ReadBy []string `json:"read_by,omitempty"`
	// Deleted flag; deletes are appended as tombstone versions
	Deleted bool `json:"deleted,omitempty"`
}

// ReadByUser reports whether the message counts as read for the given
// identity under either representation.
func (m Message) ReadByUser(user string) bool {
	if m.IsRead {
		return true
	}
	for _, id := range m.ReadBy {
		if id == user {
			return true
		}
	}
	return false
}

// HasAttachment reports whether the message carries a file reference.
func (m Message) HasAttachment() bool {
	return m.FileName != "" || m.FileURL != ""
}
