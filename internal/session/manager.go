// Package session holds the lifecycle manager: the sole mutator of session
// state. It bridges adapter callbacks into state transitions, persists them
// through the gateway, and fans them out to the bus and webhook sender.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/adapter"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/domain"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/observability"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/qr"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/store"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/util"
)

// Gateway is the durable side of the session store. Every call here is
// best-effort relative to in-memory truth: failures are logged at the call
// site and never abort a transition.
type Gateway interface {
	SaveSession(ctx context.Context, in store.SessionRecord) error
	GetAllSessions(ctx context.Context) ([]store.SessionRecord, error)
	UpdateSessionStatus(ctx context.Context, id, status, phoneNumber string) error
	DeleteSession(ctx context.Context, id string) error
	IncrementSessionMessageCount(ctx context.Context, id, direction string) error
	IncrementSessionErrors(ctx context.Context, id string) error
	InsertMessage(ctx context.Context, in store.MessageRecord) error
}

type Notifier interface {
	Broadcast(event string, data any)
}

type WebhookSender interface {
	Send(ctx context.Context, sessionID, event string, payload any) bool
}

type Options struct {
	SessionsDir string
	QRDir       string
	// InitTimeout bounds adapter startup so a session cannot sit in
	// initializing forever.
	InitTimeout time.Duration
}

type Manager struct {
	store    *Store
	gw       Gateway
	notifier Notifier
	webhooks WebhookSender
	factory  adapter.Factory
	opts     Options
}

func NewManager(st *Store, gw Gateway, notifier Notifier, webhooks WebhookSender, factory adapter.Factory, opts Options) *Manager {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 2 * time.Minute
	}
	return &Manager{store: st, gw: gw, notifier: notifier, webhooks: webhooks, factory: factory, opts: opts}
}

func (m *Manager) credDir(id string) string {
	return filepath.Join(m.opts.SessionsDir, id)
}

func (m *Manager) qrPath(id string) string {
	return qr.ImagePath(m.opts.QRDir, id)
}

// CreateSession provisions credentials, starts a fresh adapter and registers
// the session. On any failure the session is fully unregistered again;
// callers re-request creation.
func (m *Manager) CreateSession(ctx context.Context, name, userID string) (domain.Session, error) {
	id := util.NewSessionID()
	now := util.NowUTC()

	if err := os.MkdirAll(m.credDir(id), 0o755); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	sess := domain.Session{
		ID:           id,
		Name:         name,
		UserID:       userID,
		Status:       domain.StatusInitializing,
		CreatedAt:    now,
		LastActivity: now,
	}
	e := m.store.put(id, sess)
	client := m.bind(e, id)

	initCtx, cancel := context.WithTimeout(ctx, m.opts.InitTimeout)
	err := client.Initialize(initCtx)
	cancel()
	if err != nil {
		m.store.remove(id)
		if rmErr := os.RemoveAll(m.credDir(id)); rmErr != nil {
			slog.Error("session credential cleanup failed", "err", rmErr, "session_id", id)
		}
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	m.persistSave(sess)
	m.notifier.Broadcast(EventSessionStatus, StatusEvent{SessionID: id, Status: string(sess.Status)})
	slog.Info("session created", "session_id", id, "name", name, "user_id", userID)
	return sess, nil
}

// RestartSession tears the current adapter down (best-effort) and starts a
// fresh one against the same identifier and credentials, so a persisted
// pairing is reused. The whole swap runs inside the session's critical
// section; a destroy that wins the race for the entry turns the restart into
// not-found.
func (m *Manager) RestartSession(ctx context.Context, id string) (domain.Session, error) {
	e, ok := m.store.get(id)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return m.restart(ctx, id, e)
}

func (m *Manager) restart(ctx context.Context, id string, e *entry) (domain.Session, error) {
	e.mu.Lock()
	// a destroy may have won the race for the entry between lookup and lock
	if cur, ok := m.store.get(id); !ok || cur != e {
		e.mu.Unlock()
		return domain.Session{}, domain.ErrSessionNotFound
	}
	e.epoch++
	epoch := e.epoch
	old := e.client
	if old != nil {
		destroyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := old.Destroy(destroyCtx); err != nil {
			slog.Warn("adapter teardown failed during restart", "err", err, "session_id", id)
		}
		cancel()
	}

	e.sess.Status = domain.StatusInitializing
	e.sess.Connected = false
	e.sess.QRCode = ""
	e.sess.PhoneNumber = ""
	e.sess.LastActivity = util.NowUTC()

	client := m.factory(id, m.credDir(id))
	e.client = client
	m.bindHandlers(client, id, epoch)
	snap := e.sess
	e.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, m.opts.InitTimeout)
	err := client.Initialize(initCtx)
	cancel()
	if err != nil {
		slog.Error("adapter start failed during restart", "err", err, "session_id", id)
		return domain.Session{}, fmt.Errorf("restart session: %w", err)
	}

	m.updateActiveGauge()
	m.persistStatus(id, snap.Status, "")
	m.notifier.Broadcast(EventSessionStatus, StatusEvent{SessionID: id, Status: string(snap.Status), Connected: boolPtr(false)})
	slog.Info("session restarted", "session_id", id)
	return snap, nil
}

// DestroySession removes the session from the registry first, so a repeated
// destroy observes not-found, then cleans up adapter, artifacts and the
// durable record best-effort.
func (m *Manager) DestroySession(ctx context.Context, id string) error {
	e, ok := m.store.remove(id)
	if !ok {
		return domain.ErrSessionNotFound
	}

	e.mu.Lock()
	e.epoch++
	client := e.client
	e.client = nil
	e.mu.Unlock()

	if client != nil {
		destroyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := client.Destroy(destroyCtx); err != nil {
			slog.Warn("adapter teardown failed during destroy", "err", err, "session_id", id)
		}
		cancel()
	}

	if err := os.RemoveAll(m.credDir(id)); err != nil {
		slog.Error("session credential cleanup failed", "err", err, "session_id", id)
	}
	if err := qr.Remove(m.qrPath(id)); err != nil {
		slog.Error("qr artifact cleanup failed", "err", err, "session_id", id)
	}
	m.persist("session record delete failed", id, func(ctx context.Context) error {
		return m.gw.DeleteSession(ctx, id)
	})

	m.updateActiveGauge()
	m.notifier.Broadcast(EventSessionDestroyed, DestroyedEvent{SessionID: id})
	slog.Info("session destroyed", "session_id", id)
	return nil
}

// SendMessage dispatches one outbound message. Send failures come back inside
// the result, not as an error, so callers can persist the attempt either way.
func (m *Manager) SendMessage(ctx context.Context, id string, req domain.SendMessageRequest) (domain.SendResult, error) {
	e, ok := m.store.get(id)
	if !ok {
		return domain.SendResult{}, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	if e.sess.Status != domain.StatusReady || !e.sess.Connected {
		nr := domain.NotReadyError{Status: e.sess.Status, Connected: e.sess.Connected}
		e.mu.Unlock()
		return domain.SendResult{}, nr
	}
	client := e.client
	e.mu.Unlock()

	chatID := util.NormalizeChatID(req.To)
	msgID, sendErr := client.SendMessage(ctx, chatID, req.Body)
	now := util.NowUTC()

	// activity and counter move on any outcome
	e.mu.Lock()
	e.sess.LastActivity = now
	e.sess.MessagesSent++
	e.mu.Unlock()
	m.persist("sent counter persist failed", id, func(ctx context.Context) error {
		return m.gw.IncrementSessionMessageCount(ctx, id, "outgoing")
	})

	if sendErr != nil {
		observability.MessagesSent.WithLabelValues("error").Inc()
		slog.Error("message send failed", "err", sendErr, "session_id", id, "to", chatID)
		return domain.SendResult{Success: false, Timestamp: now, Error: sendErr.Error()}, nil
	}
	observability.MessagesSent.WithLabelValues("ok").Inc()
	return domain.SendResult{Success: true, MessageID: msgID, Timestamp: now}, nil
}

// RestoreSummary reports one startup sweep.
type RestoreSummary struct {
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// RestoreSessions re-establishes sessions whose durable record shows a prior
// successful pairing and whose credential directory survived. Everything else
// is marked disconnected and skipped. One aggregate fan-out fires after the
// sweep; per-session failures never abort it.
func (m *Manager) RestoreSessions(ctx context.Context) (RestoreSummary, error) {
	var sum RestoreSummary

	recs, err := m.gw.GetAllSessions(ctx)
	if err != nil {
		return sum, fmt.Errorf("restore sessions: %w", err)
	}

	for _, rec := range recs {
		if !restorable(rec.Status) || !dirExists(m.credDir(rec.ID)) {
			if rec.Status != string(domain.StatusDisconnected) {
				if err := m.gw.UpdateSessionStatus(ctx, rec.ID, string(domain.StatusDisconnected), ""); err != nil {
					slog.Error("restore mark disconnected failed", "err", err, "session_id", rec.ID)
					sum.Failed++
					observability.RestoredSessions.WithLabelValues("failed").Inc()
					continue
				}
			}
			sum.Skipped++
			observability.RestoredSessions.WithLabelValues("skipped").Inc()
			continue
		}

		sess := domain.Session{
			ID:               rec.ID,
			Name:             rec.Name,
			UserID:           rec.UserID,
			Status:           domain.StatusConnecting,
			PhoneNumber:      rec.PhoneNumber,
			CreatedAt:        rec.CreatedAt,
			LastActivity:     util.NowUTC(),
			MessagesSent:     rec.MessagesSent,
			MessagesReceived: rec.MessagesReceived,
			Errors:           rec.Errors,
		}
		e := m.store.put(rec.ID, sess)
		client := m.bind(e, rec.ID)

		if err := m.gw.UpdateSessionStatus(ctx, rec.ID, string(domain.StatusConnecting), ""); err != nil {
			slog.Error("restore status persist failed", "err", err, "session_id", rec.ID)
		}

		// startup is asynchronous; a late failure lands the session in
		// disconnected instead of aborting the sweep
		go m.startRestored(rec.ID, e, client)

		sum.Restored++
		observability.RestoredSessions.WithLabelValues("restored").Inc()
		slog.Info("session restore started", "session_id", rec.ID, "prior_status", rec.Status)
	}

	m.notifier.Broadcast(EventSessionsUpdated, m.store.snapshot())
	slog.Info("restore sweep complete", "restored", sum.Restored, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (m *Manager) startRestored(id string, e *entry, client adapter.Client) {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()

	initCtx, cancel := context.WithTimeout(context.Background(), m.opts.InitTimeout)
	err := client.Initialize(initCtx)
	cancel()
	if err == nil {
		return
	}
	slog.Error("restored adapter start failed", "err", err, "session_id", id)

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	e.sess.Status = domain.StatusDisconnected
	e.sess.Connected = false
	e.mu.Unlock()

	m.persistStatus(id, domain.StatusDisconnected, "")
	m.notifier.Broadcast(EventSessionStatus, StatusEvent{
		SessionID: id, Status: string(domain.StatusDisconnected), Connected: boolPtr(false), Reason: "startup failed",
	})
}

// Shutdown detaches every session sequentially: the adapter is torn down and
// the in-memory entry dropped, but the durable record and credential
// directory stay so the next startup's restore sweep can re-establish the
// pairing.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, id := range m.store.ids() {
		e, ok := m.store.remove(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		e.epoch++
		client := e.client
		e.client = nil
		e.mu.Unlock()

		if client != nil {
			destroyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := client.Destroy(destroyCtx); err != nil {
				slog.Warn("adapter teardown failed during shutdown", "err", err, "session_id", id)
			}
			cancel()
		}
		slog.Info("session detached", "session_id", id)
	}
	m.updateActiveGauge()
}

func (m *Manager) GetSession(id string) (domain.Session, error) {
	e, ok := m.store.get(id)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess, nil
}

func (m *Manager) GetAllSessions() []domain.Session {
	return m.store.snapshot()
}

func (m *Manager) ActiveSessionCount() int {
	n := 0
	for _, s := range m.store.snapshot() {
		if s.Status == domain.StatusReady && s.Connected {
			n++
		}
	}
	return n
}

// bind attaches a fresh adapter to the entry under its lock and registers the
// event handlers for the entry's current epoch.
func (m *Manager) bind(e *entry, id string) adapter.Client {
	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	client := m.factory(id, m.credDir(id))
	e.client = client
	e.mu.Unlock()
	m.bindHandlers(client, id, epoch)
	return client
}

func (m *Manager) bindHandlers(client adapter.Client, id string, epoch int) {
	client.Bind(adapter.Handlers{
		OnQR:            func(payload string) { m.handleQR(id, epoch, payload) },
		OnAuthenticated: func() { m.handleAuthenticated(id, epoch) },
		OnReady:         func() { m.handleReady(id, epoch) },
		OnMessage:       func(msg adapter.InboundMessage) { m.handleMessage(id, epoch, msg) },
		OnDisconnected:  func(reason string) { m.handleDisconnected(id, epoch, reason) },
		OnAuthFailure:   func(reason string) { m.handleAuthFailure(id, epoch, reason) },
	})
}

func (m *Manager) handleQR(id string, epoch int, payload string) {
	inline, err := qr.Inline(payload)
	if err != nil {
		slog.Error("qr inline render failed", "err", err, "session_id", id)
	}

	e, ok := m.current(id, epoch)
	if !ok {
		return
	}
	e.sess.Status = domain.StatusQRReceived
	e.sess.Connected = false
	if inline != "" {
		e.sess.QRCode = inline
	}
	snap := e.sess
	e.mu.Unlock()

	observability.SessionEvents.WithLabelValues("qr").Inc()
	if err := qr.WriteImage(payload, m.qrPath(id)); err != nil {
		slog.Error("qr image write failed", "err", err, "session_id", id)
	}
	m.updateActiveGauge()
	m.persistStatus(id, snap.Status, "")
	m.notifier.Broadcast(EventSessionQR, QREvent{SessionID: id, QRCode: snap.QRCode, Status: string(snap.Status)})
	m.fanoutWebhook(id, WebhookQR, map[string]any{"qrCode": snap.QRCode})
}

func (m *Manager) handleAuthenticated(id string, epoch int) {
	e, ok := m.current(id, epoch)
	if !ok {
		return
	}
	e.sess.Status = domain.StatusAuthenticated
	e.sess.Connected = false
	e.sess.QRCode = ""
	snap := e.sess
	e.mu.Unlock()

	observability.SessionEvents.WithLabelValues("authenticated").Inc()
	if err := qr.Remove(m.qrPath(id)); err != nil {
		slog.Error("qr artifact cleanup failed", "err", err, "session_id", id)
	}
	m.persistStatus(id, snap.Status, "")
	m.notifier.Broadcast(EventSessionStatus, StatusEvent{SessionID: id, Status: string(snap.Status), Connected: boolPtr(false)})
	m.fanoutWebhook(id, WebhookAuthenticated, map[string]any{"status": string(snap.Status)})
}

func (m *Manager) handleReady(id string, epoch int) {
	e, ok := m.current(id, epoch)
	if !ok {
		return
	}
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return
	}
	info := client.Info()

	e, ok = m.current(id, epoch)
	if !ok {
		return
	}
	e.sess.Status = domain.StatusReady
	e.sess.Connected = true
	e.sess.PhoneNumber = info.PhoneNumber
	e.sess.QRCode = ""
	e.sess.LastActivity = util.NowUTC()
	snap := e.sess
	e.mu.Unlock()

	observability.SessionEvents.WithLabelValues("ready").Inc()
	m.updateActiveGauge()
	m.persistStatus(id, snap.Status, snap.PhoneNumber)
	m.notifier.Broadcast(EventSessionStatus, StatusEvent{
		SessionID: id, Status: string(snap.Status), Connected: boolPtr(true), PhoneNumber: snap.PhoneNumber,
	})
	m.fanoutWebhook(id, WebhookReady, map[string]any{"phoneNumber": snap.PhoneNumber})
}

func (m *Manager) handleMessage(id string, epoch int, msg adapter.InboundMessage) {
	e, ok := m.current(id, epoch)
	if !ok {
		return
	}
	e.sess.LastActivity = util.NowUTC()
	e.sess.MessagesReceived++
	e.mu.Unlock()

	observability.SessionEvents.WithLabelValues("message").Inc()
	m.persist("received counter persist failed", id, func(ctx context.Context) error {
		return m.gw.IncrementSessionMessageCount(ctx, id, "incoming")
	})

	kind := msg.Kind
	if kind == "" {
		kind = "text"
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = util.NowUTC()
	}
	rec := store.MessageRecord{
		ID:        util.NewMessageID(),
		SessionID: id,
		Direction: "incoming",
		FromNum:   msg.From,
		ToNum:     msg.To,
		Body:      msg.Body,
		Kind:      kind,
		Status:    "received",
		CreatedAt: ts,
	}
	m.persist("inbound message persist failed", id, func(ctx context.Context) error {
		return m.gw.InsertMessage(ctx, rec)
	})

	ev := MessageEvent{
		ID: rec.ID, SessionID: id, From: msg.From, To: msg.To,
		Body: msg.Body, Type: kind, Timestamp: ts, HasMedia: msg.HasMedia,
	}
	m.notifier.Broadcast(EventMessageReceived, ev)
	m.fanoutWebhook(id, WebhookMessage, ev)
}

func (m *Manager) handleDisconnected(id string, epoch int, reason string) {
	e, ok := m.current(id, epoch)
	if !ok {
		return
	}
	e.sess.Status = domain.StatusDisconnected
	e.sess.Connected = false
	e.sess.QRCode = ""
	e.mu.Unlock()

	observability.SessionEvents.WithLabelValues("disconnected").Inc()
	m.updateActiveGauge()
	m.persistStatus(id, domain.StatusDisconnected, "")
	m.notifier.Broadcast(EventSessionStatus, StatusEvent{
		SessionID: id, Status: string(domain.StatusDisconnected), Connected: boolPtr(false), Reason: reason,
	})
	m.fanoutWebhook(id, WebhookDisconnected, map[string]any{"reason": reason})
}

func (m *Manager) handleAuthFailure(id string, epoch int, reason string) {
	e, ok := m.current(id, epoch)
	if !ok {
		return
	}
	e.sess.Status = domain.StatusAuthFailure
	e.sess.Connected = false
	e.sess.QRCode = ""
	e.sess.Errors++
	e.mu.Unlock()

	observability.SessionEvents.WithLabelValues("auth_failure").Inc()
	slog.Error("session auth failure", "session_id", id, "reason", reason)
	m.updateActiveGauge()
	m.persistStatus(id, domain.StatusAuthFailure, "")
	m.persist("error counter persist failed", id, func(ctx context.Context) error {
		return m.gw.IncrementSessionErrors(ctx, id)
	})
	m.notifier.Broadcast(EventSessionStatus, StatusEvent{
		SessionID: id, Status: string(domain.StatusAuthFailure), Connected: boolPtr(false), Error: reason,
	})
	m.fanoutWebhook(id, WebhookAuthFailure, map[string]any{"error": reason})
}

// current locks the entry and verifies the callback still belongs to the live
// adapter instance. On success the entry is returned locked.
func (m *Manager) current(id string, epoch int) (*entry, bool) {
	e, ok := m.store.get(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return nil, false
	}
	return e, true
}

func (m *Manager) persistSave(sess domain.Session) {
	rec := store.SessionRecord{
		ID:               sess.ID,
		Name:             sess.Name,
		UserID:           sess.UserID,
		Status:           string(sess.Status),
		PhoneNumber:      sess.PhoneNumber,
		CreatedAt:        sess.CreatedAt,
		LastActivity:     sess.LastActivity,
		MessagesSent:     sess.MessagesSent,
		MessagesReceived: sess.MessagesReceived,
		Errors:           sess.Errors,
	}
	m.persist("session record save failed", sess.ID, func(ctx context.Context) error {
		return m.gw.SaveSession(ctx, rec)
	})
}

func (m *Manager) persistStatus(id string, status domain.SessionStatus, phone string) {
	m.persist("session status persist failed", id, func(ctx context.Context) error {
		return m.gw.UpdateSessionStatus(ctx, id, string(status), phone)
	})
}

// fanoutWebhook fires delivery without blocking the event handler; retries
// and backoff run on their own goroutine.
func (m *Manager) fanoutWebhook(id, event string, payload any) {
	if m.webhooks == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		m.webhooks.Send(ctx, id, event, payload)
	}()
}

// persist runs one gateway call on a bounded context detached from the
// triggering request, logging instead of propagating failure.
func (m *Manager) persist(op, id string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Error(op, "err", err, "session_id", id)
	}
}

func (m *Manager) updateActiveGauge() {
	observability.SessionsActive.Set(float64(m.ActiveSessionCount()))
}

func restorable(status string) bool {
	switch status {
	case "connected", string(domain.StatusReady), string(domain.StatusAuthenticated):
		return true
	}
	return false
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
