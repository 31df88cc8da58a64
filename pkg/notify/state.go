package notify

import (
	"bytes"
	"encoding/json"
	"sort"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/models"
)

// debugInvariants makes duplicate-key inserts with diverging content panic
// instead of self-healing. Tests enable it; production leaves it off and
// recovers by last-write-wins.
var debugInvariants = false

// SetDebugInvariants toggles fail-fast behavior on store invariant
// violations.
func SetDebugInvariants(v bool) { debugInvariants = v }

// UnreadStore maps composite keys to notification records. It is owned
// exclusively by the reconciler loop and is not safe for concurrent use.
type UnreadStore struct {
	records map[CompositeKey]models.NotificationRecord
}

func NewUnreadStore() *UnreadStore {
	return &UnreadStore{records: map[CompositeKey]models.NotificationRecord{}}
}

// Upsert inserts or replaces the record for key and reports whether the
// key was previously absent. Replacing an existing record with identical
// content is a no-op.
func (s *UnreadStore) Upsert(key CompositeKey, rec models.NotificationRecord) bool {
	old, ok := s.records[key]
	if ok && old != rec {
		// Duplicate key with diverging content is a programming error;
		// self-heal by last-write-wins outside debug builds.
		if debugInvariants {
			panic("unread store: duplicate key with diverging content: " + key.String())
		}
		logger.Warn("unread_store_content_divergence", "key", key.String())
	}
	s.records[key] = rec
	return !ok
}

// Remove deletes the record for key and reports whether one existed.
func (s *UnreadStore) Remove(key CompositeKey) bool {
	if _, ok := s.records[key]; !ok {
		return false
	}
	delete(s.records, key)
	return true
}

// RemoveConversation deletes every record for a conversation and returns
// the removed keys.
func (s *UnreadStore) RemoveConversation(convID string) []CompositeKey {
	var removed []CompositeKey
	for k := range s.records {
		if k.Conversation == convID {
			removed = append(removed, k)
			delete(s.records, k)
		}
	}
	return removed
}

// Clear drops all records.
func (s *UnreadStore) Clear() {
	s.records = map[CompositeKey]models.NotificationRecord{}
}

// Len returns the current unread count.
func (s *UnreadStore) Len() int { return len(s.records) }

// Snapshot returns the active records ordered newest-first by source
// message creation time.
func (s *UnreadStore) Snapshot() []models.NotificationRecord {
	out := make([]models.NotificationRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS > out[j].TS
		}
		return out[i].MessageID > out[j].MessageID
	})
	return out
}

// MarshalSnapshot renders the snapshot as JSON. Used by the gateway to
// serve the notification list without exposing the store itself.
func (s *UnreadStore) MarshalSnapshot() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(s.Snapshot()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
