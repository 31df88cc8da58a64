package notify

import (
	"testing"

	"beaconbond/pkg/models"
)

func rec(conv, msg string, ts int64) models.NotificationRecord {
	return models.NotificationRecord{Conversation: conv, MessageID: msg, SenderID: "s", Preview: "p", TS: ts}
}

func TestUnreadStoreUpsertAndRemove(t *testing.T) {
	s := NewUnreadStore()
	k := CompositeKey{Conversation: "a_b", Message: "m1"}

	if !s.Upsert(k, rec("a_b", "m1", 1)) {
		t.Fatalf("first upsert should report a new key")
	}
	if s.Upsert(k, rec("a_b", "m1", 1)) {
		t.Fatalf("second upsert of same key should not report new")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
	if !s.Remove(k) {
		t.Fatalf("remove of existing key should report true")
	}
	if s.Remove(k) {
		t.Fatalf("remove of absent key should report false")
	}
}

func TestUnreadStoreDivergencePanicsInDebug(t *testing.T) {
	SetDebugInvariants(true)
	defer SetDebugInvariants(false)

	s := NewUnreadStore()
	k := CompositeKey{Conversation: "a_b", Message: "m1"}
	s.Upsert(k, rec("a_b", "m1", 1))

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on diverging duplicate insert")
		}
	}()
	s.Upsert(k, rec("a_b", "m1", 99))
}

func TestUnreadStoreSnapshotNewestFirst(t *testing.T) {
	s := NewUnreadStore()
	s.Upsert(CompositeKey{Conversation: "a_b", Message: "m1"}, rec("a_b", "m1", 10))
	s.Upsert(CompositeKey{Conversation: "a_b", Message: "m2"}, rec("a_b", "m2", 30))
	s.Upsert(CompositeKey{Conversation: "a_c", Message: "m3"}, rec("a_c", "m3", 20))

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 records, got %d", len(snap))
	}
	want := []string{"m2", "m3", "m1"}
	for i, id := range want {
		if snap[i].MessageID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, snap[i].MessageID)
		}
	}
}

func TestUnreadStoreSnapshotTieBreak(t *testing.T) {
	s := NewUnreadStore()
	s.Upsert(CompositeKey{Conversation: "a_b", Message: "m1"}, rec("a_b", "m1", 5))
	s.Upsert(CompositeKey{Conversation: "a_b", Message: "m2"}, rec("a_b", "m2", 5))

	snap := s.Snapshot()
	if snap[0].MessageID != "m2" || snap[1].MessageID != "m1" {
		t.Fatalf("equal timestamps must order by message id desc, got %v", snap)
	}
}

func TestUnreadStoreRemoveConversation(t *testing.T) {
	s := NewUnreadStore()
	s.Upsert(CompositeKey{Conversation: "a_b", Message: "m1"}, rec("a_b", "m1", 1))
	s.Upsert(CompositeKey{Conversation: "a_b", Message: "m2"}, rec("a_b", "m2", 2))
	s.Upsert(CompositeKey{Conversation: "a_c", Message: "m3"}, rec("a_c", "m3", 3))

	removed := s.RemoveConversation("a_b")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed keys, got %d", len(removed))
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining record, got %d", s.Len())
	}
	if len(s.RemoveConversation("a_b")) != 0 {
		t.Fatalf("second purge should remove nothing")
	}
}
