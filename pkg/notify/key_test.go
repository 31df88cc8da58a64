package notify

import "testing"

func TestConversationKey(t *testing.T) {
	if got := ConversationKey("bob", "alice"); got != "alice_bob" {
		t.Fatalf("expected alice_bob, got %s", got)
	}
	if ConversationKey("alice", "bob") != ConversationKey("bob", "alice") {
		t.Fatalf("key must be order-independent")
	}
}

func TestConversationHasMember(t *testing.T) {
	conv := ConversationKey("alice", "bob")
	if !ConversationHasMember(conv, "alice") {
		t.Fatalf("alice should be a member of %s", conv)
	}
	if !ConversationHasMember(conv, "bob") {
		t.Fatalf("bob should be a member of %s", conv)
	}
	if ConversationHasMember(conv, "carol") {
		t.Fatalf("carol should not be a member of %s", conv)
	}
	if ConversationHasMember(conv, "") {
		t.Fatalf("empty identity is never a member")
	}
	// substring of a participant id must not match
	if ConversationHasMember(conv, "ali") {
		t.Fatalf("prefix of a participant id should not match")
	}
}

func TestResolverKeepsPreviousOnEmptyIdentity(t *testing.T) {
	var r Resolver
	all := []string{"alice_bob", "bob_carol", "alice_carol"}
	got := r.Resolve("alice", all)
	if len(got) != 2 {
		t.Fatalf("expected 2 conversations for alice, got %v", got)
	}
	// lookup failure keeps the previous membership
	kept := r.Resolve("", all)
	if len(kept) != 2 {
		t.Fatalf("expected previous membership on empty identity, got %v", kept)
	}
}
