package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beaconbond/pkg/models"
	"beaconbond/pkg/notify"
	"beaconbond/pkg/store"
)

func setupGateway(t *testing.T) http.Handler {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := notify.NewService(context.Background(), notify.StoreSource{}, nil, nil, 0, 0)
	t.Cleanup(func() {
		svc.Close()
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return New(svc, NewHub(), nil).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if user != "" {
		r.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestPostMessageCreatesConversation(t *testing.T) {
	h := setupGateway(t)

	w := doJSON(t, h, http.MethodPost, "/v1/messages", "alice", map[string]string{"recipient": "bob", "text": "hi"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var saved models.Message
	if err := json.Unmarshal(w.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if saved.Conversation != "alice_bob" {
		t.Fatalf("unexpected conversation %q", saved.Conversation)
	}
	if saved.ID == "" || saved.TS == 0 {
		t.Fatalf("missing assigned fields: %+v", saved)
	}

	// both participants see the conversation
	for _, user := range []string{"alice", "bob"} {
		w = doJSON(t, h, http.MethodGet, "/v1/conversations", user, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list for %s: %d", user, w.Code)
		}
		var ids []string
		if err := json.Unmarshal(w.Body.Bytes(), &ids); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(ids) != 1 || ids[0] != "alice_bob" {
			t.Fatalf("unexpected conversations for %s: %v", user, ids)
		}
	}

	// outsiders see nothing
	w = doJSON(t, h, http.MethodGet, "/v1/conversations", "carol", nil)
	var ids []string
	_ = json.Unmarshal(w.Body.Bytes(), &ids)
	if len(ids) != 0 {
		t.Fatalf("carol should see no conversations: %v", ids)
	}
}

func TestPostMessageValidation(t *testing.T) {
	h := setupGateway(t)

	if w := doJSON(t, h, http.MethodPost, "/v1/messages", "", map[string]string{"recipient": "bob"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/messages", "alice", map[string]string{"text": "hi"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without recipient, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/messages", "alice", map[string]string{"recipient": "bob"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", w.Code)
	}
}

func TestListMessagesRequiresMembership(t *testing.T) {
	h := setupGateway(t)

	doJSON(t, h, http.MethodPost, "/v1/messages", "alice", map[string]string{"recipient": "bob", "text": "hi"})

	w := doJSON(t, h, http.MethodGet, "/v1/conversations/alice_bob/messages", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for member, got %d", w.Code)
	}
	var msgs []models.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Fatalf("unexpected messages: %v", msgs)
	}

	if w := doJSON(t, h, http.MethodGet, "/v1/conversations/alice_bob/messages", "carol", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", w.Code)
	}
}

func TestNotificationsAndMarkRead(t *testing.T) {
	h := setupGateway(t)

	w := doJSON(t, h, http.MethodPost, "/v1/messages", "alice", map[string]string{"recipient": "bob", "text": "unread for bob"})
	var saved models.Message
	_ = json.Unmarshal(w.Body.Bytes(), &saved)

	// bob's reconciler replays the store and surfaces the record
	var recs []models.NotificationRecord
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = doJSON(t, h, http.MethodGet, "/v1/notifications", "bob", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("notifications: %d", w.Code)
		}
		recs = recs[:0]
		_ = json.Unmarshal(w.Body.Bytes(), &recs)
		if len(recs) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(recs) != 1 || recs[0].MessageID != saved.ID {
		t.Fatalf("expected one record for bob, got %v", recs)
	}

	// the sender has no unread records
	w = doJSON(t, h, http.MethodGet, "/v1/notifications", "alice", nil)
	var own []models.NotificationRecord
	_ = json.Unmarshal(w.Body.Bytes(), &own)
	if len(own) != 0 {
		t.Fatalf("sender should have no records: %v", own)
	}

	// marking read persists and clears the record
	w = doJSON(t, h, http.MethodPost, "/v1/conversations/alice_bob/messages/"+saved.ID+"/read", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("mark read: %d: %s", w.Code, w.Body.String())
	}
	got, err := store.GetMessage(saved.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if !got.IsRead || !got.ReadByUser("bob") {
		t.Fatalf("read mark not persisted: %+v", got)
	}
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = doJSON(t, h, http.MethodGet, "/v1/notifications", "bob", nil)
		recs = recs[:0]
		_ = json.Unmarshal(w.Body.Bytes(), &recs)
		if len(recs) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(recs) != 0 {
		t.Fatalf("record should be cleared after read, got %v", recs)
	}
}

func TestMarkReadRequiresMembership(t *testing.T) {
	h := setupGateway(t)

	w := doJSON(t, h, http.MethodPost, "/v1/messages", "alice", map[string]string{"recipient": "bob", "text": "x"})
	var saved models.Message
	_ = json.Unmarshal(w.Body.Bytes(), &saved)

	if w := doJSON(t, h, http.MethodPost, "/v1/conversations/alice_bob/messages/"+saved.ID+"/read", "carol", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	// a read mark for a message that does not exist is a gateway error
	if w := doJSON(t, h, http.MethodPost, "/v1/conversations/alice_bob/messages/m-missing/read", "bob", nil); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for missing message, got %d", w.Code)
	}
}

func TestViewingEndpoint(t *testing.T) {
	h := setupGateway(t)

	doJSON(t, h, http.MethodPost, "/v1/messages", "alice", map[string]string{"recipient": "bob", "text": "x"})

	if w := doJSON(t, h, http.MethodPost, "/v1/viewing", "bob", map[string]string{"conversation": "alice_bob"}); w.Code != http.StatusOK {
		t.Fatalf("set viewing: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/viewing", "carol", map[string]string{"conversation": "alice_bob"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", w.Code)
	}
	// clearing is always allowed
	if w := doJSON(t, h, http.MethodPost, "/v1/viewing", "bob", map[string]string{"conversation": ""}); w.Code != http.StatusOK {
		t.Fatalf("clear viewing: %d", w.Code)
	}
}

func TestProfileEndpoints(t *testing.T) {
	h := setupGateway(t)

	if w := doJSON(t, h, http.MethodPost, "/v1/profiles", "alice", models.Profile{DisplayName: "Alice A."}); w.Code != http.StatusOK {
		t.Fatalf("save profile: %d", w.Code)
	}
	// the id in the body is ignored; the profile belongs to the caller
	if w := doJSON(t, h, http.MethodPost, "/v1/profiles", "bob", models.Profile{ID: "alice", DisplayName: "Impostor"}); w.Code != http.StatusOK {
		t.Fatalf("save profile: %d", w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/profiles/alice", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get profile: %d", w.Code)
	}
	var p models.Profile
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if p.DisplayName != "Alice A." {
		t.Fatalf("profile overwritten by another user: %+v", p)
	}

	if w := doJSON(t, h, http.MethodGet, "/v1/profiles/nobody", "bob", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/profiles", "carol", models.Profile{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty name, got %d", w.Code)
	}
}
