package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"beaconbond/pkg/identity"
	"beaconbond/pkg/logger"
	"beaconbond/pkg/models"
	"beaconbond/pkg/notify"
	"beaconbond/pkg/store"
	"beaconbond/pkg/utils"
)

// API is the HTTP/WebSocket gateway over the store and notification
// service. It renders nothing itself; the notification surface consumes
// the snapshot endpoint and the websocket event stream.
type API struct {
	svc      *notify.Service
	hub      *Hub
	verifier *identity.TokenVerifier
}

func New(svc *notify.Service, hub *Hub, verifier *identity.TokenVerifier) *API {
	return &API{svc: svc, hub: hub, verifier: verifier}
}

// Router returns the versioned API router.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/messages", a.postMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations", a.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{conv}/messages", a.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{conv}/messages/{msg}/read", a.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/notifications", a.listNotifications).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/ws", a.notificationsWS).Methods(http.MethodGet)
	v1.HandleFunc("/viewing", a.setViewing).Methods(http.MethodPost)
	v1.HandleFunc("/profiles", a.saveProfile).Methods(http.MethodPost)
	v1.HandleFunc("/profiles/{id}", a.getProfile).Methods(http.MethodGet)
	return r
}

// caller resolves the request identity or writes a 401.
func (a *API) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := identity.FromRequest(r, a.verifier)
	if err != nil {
		utils.JSONError(w, http.StatusUnauthorized, err.Error())
		return "", false
	}
	return id, true
}

type postMessageReq struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	FileURL   string `json:"file_url,omitempty"`
}

func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req postMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Recipient == "" {
		utils.JSONError(w, http.StatusBadRequest, "recipient required")
		return
	}
	if req.Text == "" && req.FileName == "" && req.FileURL == "" {
		utils.JSONError(w, http.StatusBadRequest, "message needs text or a file")
		return
	}
	msg := models.Message{
		ID:           utils.GenMsgID(),
		Conversation: notify.ConversationKey(user, req.Recipient),
		SenderID:     user,
		Text:         req.Text,
		FileName:     req.FileName,
		FileURL:      req.FileURL,
	}
	saved, err := store.SaveMessage(msg)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("message_created", "conversation", saved.Conversation, "id", saved.ID)
	_ = utils.JSONWrite(w, http.StatusCreated, saved)
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	all, err := store.ListConversations()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	mine := []string{}
	for _, id := range all {
		if notify.ConversationHasMember(id, user) {
			mine = append(mine, id)
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, mine)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	conv := mux.Vars(r)["conv"]
	if !notify.ConversationHasMember(conv, user) {
		utils.JSONError(w, http.StatusForbidden, "not a participant")
		return
	}
	msgs, err := store.ListMessages(conv)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, msgs)
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	conv, msg := vars["conv"], vars["msg"]
	if !notify.ConversationHasMember(conv, user) {
		utils.JSONError(w, http.StatusForbidden, "not a participant")
		return
	}
	rec, err := a.svc.For(user)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := rec.Dismiss(notify.CompositeKey{Conversation: conv, Message: msg}); err != nil {
		// retryable: the record is retained until a write succeeds
		utils.JSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "read"})
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	rec, err := a.svc.For(user)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rec.Snapshot())
}

type viewingReq struct {
	Conversation string `json:"conversation"`
}

func (a *API) setViewing(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req viewingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Conversation != "" && !notify.ConversationHasMember(req.Conversation, user) {
		utils.JSONError(w, http.StatusForbidden, "not a participant")
		return
	}
	rec, err := a.svc.For(user)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec.SetViewing(req.Conversation)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"viewing": req.Conversation})
}

func (a *API) notificationsWS(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	// ensure the user's reconciler is running so the sink has a producer
	if _, err := a.svc.For(user); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.serveWS(w, r, user)
}

func (a *API) saveProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := a.caller(w, r)
	if !ok {
		return
	}
	var p models.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// users may only write their own profile
	p.ID = user
	if p.Name() == "" {
		utils.JSONError(w, http.StatusBadRequest, "display name required")
		return
	}
	if err := store.SaveProfile(p); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, p)
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.caller(w, r); !ok {
		return
	}
	p, err := store.GetProfile(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "profile not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, p)
}
