package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/adapter"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/domain"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/session"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/store"
)

type nopGateway struct{}

func (nopGateway) SaveSession(ctx context.Context, in store.SessionRecord) error { return nil }
func (nopGateway) GetAllSessions(ctx context.Context) ([]store.SessionRecord, error) {
	return nil, nil
}
func (nopGateway) UpdateSessionStatus(ctx context.Context, id, status, phoneNumber string) error {
	return nil
}
func (nopGateway) DeleteSession(ctx context.Context, id string) error { return nil }
func (nopGateway) IncrementSessionMessageCount(ctx context.Context, id, direction string) error {
	return nil
}
func (nopGateway) IncrementSessionErrors(ctx context.Context, id string) error { return nil }
func (nopGateway) InsertMessage(ctx context.Context, in store.MessageRecord) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(event string, data any) {}

type nopWebhooks struct{}

func (nopWebhooks) Send(ctx context.Context, sessionID, event string, payload any) bool {
	return false
}

type fakeStore struct {
	messages []store.MessageRecord
	statuses map[string]string
	webhooks map[string]string
}

func (s *fakeStore) InsertMessage(ctx context.Context, in store.MessageRecord) error {
	s.messages = append(s.messages, in)
	return nil
}

func (s *fakeStore) UpdateMessageStatus(ctx context.Context, id, status string) error {
	if s.statuses == nil {
		s.statuses = map[string]string{}
	}
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]store.MessageRecord, error) {
	return s.messages, nil
}

func (s *fakeStore) SetSessionWebhook(ctx context.Context, id, url string) (bool, error) {
	if s.webhooks == nil {
		return false, nil
	}
	s.webhooks[id] = url
	return true, nil
}

func (s *fakeStore) GetSessionsMetrics(ctx context.Context) (store.SessionsMetrics, error) {
	return store.SessionsMetrics{TotalSessions: 1}, nil
}

func newTestAPI(t *testing.T) (*API, *Server) {
	t.Helper()
	dir := t.TempDir()
	factory := adapter.NewSimFactory(adapter.SimOptions{
		QRDelay:    time.Hour, // keep the simulator quiet during handler tests
		PairDelay:  time.Hour,
		ReadyDelay: time.Hour,
	})
	mgr := session.NewManager(session.NewStore(), nopGateway{}, nopNotifier{}, nopWebhooks{}, factory, session.Options{
		SessionsDir: filepath.Join(dir, "sessions"),
		QRDir:       filepath.Join(dir, "qr"),
		InitTimeout: 5 * time.Second,
	})
	api := &API{Manager: mgr, Store: &fakeStore{webhooks: map[string]string{}}}
	s := New()
	api.Register(s.Mux)
	return api, s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, r)
	return w
}

func TestCreateSessionValidation(t *testing.T) {
	_, s := newTestAPI(t)

	if w := do(s, http.MethodPost, "/api/sessions", "{not json"); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid json: got %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/sessions", `{"name":"Sales"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing user: got %d", w.Code)
	}
}

func TestCreateAndFetchSession(t *testing.T) {
	_, s := newTestAPI(t)

	w := do(s, http.MethodPost, "/api/sessions", `{"name":"Sales","userId":"u1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", w.Code, w.Body.String())
	}
	var sess domain.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.Status != domain.StatusInitializing {
		t.Fatalf("expected initializing, got %s", sess.Status)
	}

	if w := do(s, http.MethodGet, "/api/sessions/"+sess.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/sessions/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("get unknown: got %d", w.Code)
	}
}

func TestSendMessageNotReadyMapsToConflict(t *testing.T) {
	_, s := newTestAPI(t)

	w := do(s, http.MethodPost, "/api/sessions", `{"name":"Sales","userId":"u1"}`)
	var sess domain.Session
	_ = json.Unmarshal(w.Body.Bytes(), &sess)

	w = do(s, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", `{"to":"15559999","body":"hi"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != string(domain.StatusInitializing) {
		t.Fatalf("expected status diagnostics, got %v", resp)
	}
}

// the outbound audit row is written before dispatch and resolved after
func TestSendMessageAuditTrail(t *testing.T) {
	api, s := newTestAPI(t)
	fs := api.Store.(*fakeStore)

	w := do(s, http.MethodPost, "/api/sessions", `{"name":"Sales","userId":"u1"}`)
	var sess domain.Session
	_ = json.Unmarshal(w.Body.Bytes(), &sess)

	if w := do(s, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", `{"to":"15559999","body":"hi"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if len(fs.messages) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(fs.messages))
	}
	rec := fs.messages[0]
	if rec.Status != "pending" || rec.Direction != "outgoing" || rec.ToNum != "15559999@c.us" {
		t.Fatalf("unexpected audit row: %+v", rec)
	}
	if fs.statuses[rec.ID] != "failed" {
		t.Fatalf("rejected send must resolve the row failed, got %q", fs.statuses[rec.ID])
	}
}

func TestSetWebhook(t *testing.T) {
	api, s := newTestAPI(t)
	fs := api.Store.(*fakeStore)

	w := do(s, http.MethodPut, "/api/sessions/sess-1/webhook", `{"url":"http://example.com/hook"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set webhook: got %d body %s", w.Code, w.Body.String())
	}
	if fs.webhooks["sess-1"] != "http://example.com/hook" {
		t.Fatalf("webhook not stored: %v", fs.webhooks)
	}
}

func TestDestroySessionNotFound(t *testing.T) {
	_, s := newTestAPI(t)
	if w := do(s, http.MethodDelete, "/api/sessions/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestQRNotAvailable(t *testing.T) {
	_, s := newTestAPI(t)

	w := do(s, http.MethodPost, "/api/sessions", `{"name":"Sales","userId":"u1"}`)
	var sess domain.Session
	_ = json.Unmarshal(w.Body.Bytes(), &sess)

	if w := do(s, http.MethodGet, "/api/sessions/"+sess.ID+"/qr", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before pairing starts, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, s := newTestAPI(t)
	w := do(s, http.MethodGet, "/api/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["activeSessions"]; !ok {
		t.Fatalf("expected activeSessions, got %v", resp)
	}
}
