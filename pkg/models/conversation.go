package models

type Conversation struct {
	// ID is the canonical two-party key: the participant identities sorted
	// and joined by "_". Conversations are created implicitly on first
	// message and never deleted.
	ID string `json:"id"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - last time a message was appended
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// LastSeen maps identity -> last time (unix seconds) the user had the
	// conversation open.
	LastSeen map[string]int64 `json:"last_seen,omitempty"`
}

type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	// FullName is an older field some writers still populate; DisplayName
	// wins when both are set.
	FullName string `json:"full_name,omitempty"`
}

// Name returns the best available human-readable name, or "" when the
// profile carries none.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.FullName
}
