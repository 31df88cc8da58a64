package notify

import "strings"

// ConversationKey returns the canonical two-party conversation id for a
// pair of identities: the sorted pair joined by "_". It is
// order-independent in its arguments.
func ConversationKey(a, b string) string {
	if a < b {
		return a + "_" + b
	}
	return b + "_" + a
}

// ConversationHasMember reports whether the canonical conversation id
// names the given identity as one of its two participants.
func ConversationHasMember(convID, user string) bool {
	if user == "" {
		return false
	}
	// participant ids may themselves contain the separator, so check both
	// the prefix and suffix positions rather than splitting.
	return strings.HasPrefix(convID, user+"_") || strings.HasSuffix(convID, "_"+user)
}

// CompositeKey uniquely identifies a notification candidate.
type CompositeKey struct {
	Conversation string
	Message      string
}

func (k CompositeKey) String() string {
	return k.Conversation + "_" + k.Message
}
