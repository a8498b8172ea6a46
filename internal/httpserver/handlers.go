package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/domain"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/session"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/store"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/util"
)

// Store is the slice of the persistence gateway the REST layer needs:
// outbound message audit, reads, and webhook configuration.
type Store interface {
	InsertMessage(ctx context.Context, in store.MessageRecord) error
	UpdateMessageStatus(ctx context.Context, id, status string) error
	GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]store.MessageRecord, error)
	SetSessionWebhook(ctx context.Context, id, url string) (bool, error)
	GetSessionsMetrics(ctx context.Context) (store.SessionsMetrics, error)
}

type WSHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

type API struct {
	Manager *session.Manager
	Store   Store
	WS      WSHandler
}

func (a *API) Register(m *mux.Router) {
	m.HandleFunc("/api/sessions", a.handleCreateSession).Methods(http.MethodPost)
	m.HandleFunc("/api/sessions", a.handleListSessions).Methods(http.MethodGet)
	m.HandleFunc("/api/sessions/{id}", a.handleGetSession).Methods(http.MethodGet)
	m.HandleFunc("/api/sessions/{id}", a.handleDestroySession).Methods(http.MethodDelete)
	m.HandleFunc("/api/sessions/{id}/restart", a.handleRestartSession).Methods(http.MethodPost)
	m.HandleFunc("/api/sessions/{id}/qr", a.handleGetQR).Methods(http.MethodGet)
	m.HandleFunc("/api/sessions/{id}/messages", a.handleSendMessage).Methods(http.MethodPost)
	m.HandleFunc("/api/sessions/{id}/messages", a.handleListMessages).Methods(http.MethodGet)
	m.HandleFunc("/api/sessions/{id}/webhook", a.handleSetWebhook).Methods(http.MethodPut)
	m.HandleFunc("/api/metrics", a.handleMetrics).Methods(http.MethodGet)
	if a.WS != nil {
		m.HandleFunc("/ws", a.WS.ServeWS)
	}
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := a.Manager.CreateSession(r.Context(), req.Name, req.UserID)
	if err != nil {
		slog.Error("create session failed", "err", err, "name", req.Name, "user_id", req.UserID)
		http.Error(w, ErrInternal, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Manager.GetAllSessions())
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Manager.GetSession(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.Manager.DestroySession(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("destroy session failed", "err", err, "session_id", id)
		http.Error(w, ErrInternal, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRestartSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := a.Manager.RestartSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("restart session failed", "err", err, "session_id", id)
		http.Error(w, ErrInternal, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleGetQR(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Manager.GetSession(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	if sess.QRCode == "" {
		http.Error(w, ErrNoQR, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": sess.ID,
		"qrCode":    sess.QRCode,
		"status":    string(sess.Status),
	})
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req domain.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = "text"
	}

	if _, err := a.Manager.GetSession(id); err != nil {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}

	// the outbound attempt is recorded before dispatch and resolved after,
	// so even a crash mid-send leaves an audit row
	rec := store.MessageRecord{
		ID:        util.NewMessageID(),
		SessionID: id,
		Direction: "outgoing",
		ToNum:     util.NormalizeChatID(req.To),
		Body:      req.Body,
		Kind:      req.Kind,
		Status:    "pending",
		CreatedAt: util.NowUTC(),
	}
	if err := a.Store.InsertMessage(r.Context(), rec); err != nil {
		slog.Error("outbound message persist failed", "err", err, "session_id", id)
	}

	res, err := a.Manager.SendMessage(r.Context(), id, req)
	if err != nil {
		a.resolveMessage(r.Context(), rec.ID, "failed")
		var nr domain.NotReadyError
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			http.Error(w, ErrNotFound, http.StatusNotFound)
		case errors.As(err, &nr):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":     nr.Error(),
				"status":    string(nr.Status),
				"connected": nr.Connected,
			})
		default:
			slog.Error("send message failed", "err", err, "session_id", id)
			http.Error(w, ErrInternal, http.StatusInternalServerError)
		}
		return
	}

	status := "sent"
	if !res.Success {
		status = "failed"
	}
	a.resolveMessage(r.Context(), rec.ID, status)

	code := http.StatusOK
	if !res.Success {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

func (a *API) resolveMessage(ctx context.Context, id, status string) {
	if err := a.Store.UpdateMessageStatus(ctx, id, status); err != nil {
		slog.Error("outbound message status persist failed", "err", err, "message_id", id)
	}
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	msgs, err := a.Store.GetMessages(r.Context(), id, limit, offset)
	if err != nil {
		slog.Error("list messages failed", "err", err, "session_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	found, err := a.Store.SetSessionWebhook(r.Context(), id, req.URL)
	if err != nil {
		slog.Error("set webhook failed", "err", err, "session_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "webhookUrl": req.URL})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.Store.GetSessionsMetrics(r.Context())
	if err != nil {
		slog.Error("sessions metrics failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activeSessions": a.Manager.ActiveSessionCount(),
		"store":          m,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
