package notify

import "beaconbond/pkg/logger"

// Resolver determines which conversation ids belong to the current user.
// It retains its previous answer so an identity lookup failure degrades to
// the last known membership instead of dropping every watcher.
type Resolver struct {
	prev []string
}

// Resolve returns the subset of all whose canonical key contains user as a
// participant. An empty user identity is treated as a lookup failure: the
// previous membership is returned unchanged and the condition is logged.
func (r *Resolver) Resolve(user string, all []string) []string {
	if user == "" {
		logger.Warn("membership_identity_unavailable", "kept", len(r.prev))
		return r.prev
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if ConversationHasMember(id, user) {
			out = append(out, id)
		}
	}
	r.prev = out
	return out
}
