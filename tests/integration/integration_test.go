//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/store"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/store/pg"
)

func TestSaveSessionUpsert(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)

	rec := sessionRecord("sess-1")
	if err := st.SaveSession(ctx, rec); err != nil {
		t.Fatalf("save session: %v", err)
	}

	rec.Status = "ready"
	rec.PhoneNumber = "15551234567"
	rec.MessagesSent = 3
	if err := st.SaveSession(ctx, rec); err != nil {
		t.Fatalf("upsert session: %v", err)
	}

	all, err := st.GetAllSessions(ctx)
	if err != nil {
		t.Fatalf("get all sessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 session, got %d", len(all))
	}
	got := all[0]
	if got.Status != "ready" || got.PhoneNumber != "15551234567" || got.MessagesSent != 3 {
		t.Fatalf("upsert not applied: %+v", got)
	}
}

func TestUpdateSessionStatusKeepsPhone(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedSession(t, st, "sess-2")

	if err := st.UpdateSessionStatus(ctx, "sess-2", "ready", "15550001111"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	// Empty phone must not clobber the stored number.
	if err := st.UpdateSessionStatus(ctx, "sess-2", "disconnected", ""); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got := fetchSession(t, st, "sess-2")
	if got.Status != "disconnected" {
		t.Fatalf("expected disconnected, got %s", got.Status)
	}
	if got.PhoneNumber != "15550001111" {
		t.Fatalf("phone clobbered: %q", got.PhoneNumber)
	}
}

func TestIncrementSessionMessageCount(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedSession(t, st, "sess-3")

	for i := 0; i < 2; i++ {
		if err := st.IncrementSessionMessageCount(ctx, "sess-3", "outgoing"); err != nil {
			t.Fatalf("increment outgoing: %v", err)
		}
	}
	if err := st.IncrementSessionMessageCount(ctx, "sess-3", "incoming"); err != nil {
		t.Fatalf("increment incoming: %v", err)
	}

	got := fetchSession(t, st, "sess-3")
	if got.MessagesSent != 2 || got.MessagesReceived != 1 {
		t.Fatalf("expected 2 sent / 1 received, got %d / %d", got.MessagesSent, got.MessagesReceived)
	}
}

func TestSessionWebhookRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedSession(t, st, "sess-4")

	_, found, err := st.GetSessionWebhook(ctx, "sess-4")
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if !found {
		t.Fatalf("expected session row to be found")
	}

	ok, err := st.SetSessionWebhook(ctx, "sess-4", "http://example.com/hook")
	if err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	if !ok {
		t.Fatalf("expected update to hit a row")
	}

	wh, found, err := st.GetSessionWebhook(ctx, "sess-4")
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if !found || wh.URL != "http://example.com/hook" {
		t.Fatalf("unexpected webhook: found=%v url=%q", found, wh.URL)
	}

	ok, err = st.SetSessionWebhook(ctx, "missing", "http://example.com/hook")
	if err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	if ok {
		t.Fatalf("expected no row for unknown session")
	}

	_, found, err = st.GetSessionWebhook(ctx, "missing")
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if found {
		t.Fatalf("expected unknown session to report not found")
	}
}

func TestLogWebhookEvent(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedSession(t, st, "sess-5")

	err := st.LogWebhookEvent(ctx, store.WebhookAttempt{
		SessionID:  "sess-5",
		Event:      "message",
		URL:        "http://example.com/hook",
		Payload:    `{"event":"message"}`,
		Attempt:    1,
		HTTPStatus: 500,
		Outcome:    "retryable",
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("log webhook event: %v", err)
	}

	var n int
	err = db.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_events WHERE session_id=$1 AND http_status=500`, "sess-5").Scan(&n)
	if err != nil {
		t.Fatalf("count webhook events: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 audit row, got %d", n)
	}
}

func TestMessagesPagination(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedSession(t, st, "sess-6")

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		err := st.InsertMessage(ctx, store.MessageRecord{
			ID:        fmt.Sprintf("msg-%d", i),
			SessionID: "sess-6",
			Direction: "outgoing",
			FromNum:   "15550001111",
			ToNum:     "15552223333@c.us",
			Body:      fmt.Sprintf("hello %d", i),
			Kind:      "chat",
			Status:    "sent",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("insert message %d: %v", i, err)
		}
	}

	page, err := st.GetMessages(ctx, "sess-6", 2, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page))
	}
	// Newest first.
	if page[0].ID != "msg-4" || page[1].ID != "msg-3" {
		t.Fatalf("unexpected page order: %s, %s", page[0].ID, page[1].ID)
	}

	page, err = st.GetMessages(ctx, "sess-6", 2, 4)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page) != 1 || page[0].ID != "msg-0" {
		t.Fatalf("unexpected last page: %+v", page)
	}

	if err := st.UpdateMessageStatus(ctx, "msg-0", "failed"); err != nil {
		t.Fatalf("update message status: %v", err)
	}
	var status string
	if err := db.QueryRow(ctx, `SELECT status FROM messages WHERE id='msg-0'`).Scan(&status); err != nil {
		t.Fatalf("select status: %v", err)
	}
	if status != "failed" {
		t.Fatalf("expected failed, got %s", status)
	}
}

func TestSessionsMetricsAggregates(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)

	ready := sessionRecord("sess-7")
	ready.Status = "ready"
	if err := st.SaveSession(ctx, ready); err != nil {
		t.Fatalf("save session: %v", err)
	}
	down := sessionRecord("sess-8")
	down.Status = "disconnected"
	if err := st.SaveSession(ctx, down); err != nil {
		t.Fatalf("save session: %v", err)
	}

	now := time.Now().UTC()
	msgs := []store.MessageRecord{
		{ID: "m-1", SessionID: "sess-7", Direction: "outgoing", Status: "sent", Kind: "chat", CreatedAt: now},
		{ID: "m-2", SessionID: "sess-7", Direction: "outgoing", Status: "failed", Kind: "chat", CreatedAt: now},
		{ID: "m-3", SessionID: "sess-7", Direction: "incoming", Status: "received", Kind: "chat", CreatedAt: now},
	}
	for _, m := range msgs {
		if err := st.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert message %s: %v", m.ID, err)
		}
	}

	m, err := st.GetSessionsMetrics(ctx)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if m.TotalSessions != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.TotalSessions)
	}
	if m.SessionsByStatus["ready"] != 1 || m.SessionsByStatus["disconnected"] != 1 {
		t.Fatalf("unexpected sessions by status: %+v", m.SessionsByStatus)
	}
	if m.TotalMessages != 3 {
		t.Fatalf("expected 3 messages, got %d", m.TotalMessages)
	}
	if m.MessagesByDirection["outgoing"] != 2 || m.MessagesByDirection["incoming"] != 1 {
		t.Fatalf("unexpected messages by direction: %+v", m.MessagesByDirection)
	}
	if m.MessagesByStatus["failed"] != 1 {
		t.Fatalf("unexpected messages by status: %+v", m.MessagesByStatus)
	}
	if len(m.MessagesLast24h) == 0 {
		t.Fatalf("expected hourly buckets for recent messages")
	}
}

func sessionRecord(id string) store.SessionRecord {
	now := time.Now().UTC()
	return store.SessionRecord{
		ID:           id,
		Name:         "test " + id,
		UserID:       "user-1",
		Status:       "initializing",
		CreatedAt:    now,
		LastActivity: now,
	}
}

func seedSession(t *testing.T, st *pg.Store, id string) {
	t.Helper()
	if err := st.SaveSession(context.Background(), sessionRecord(id)); err != nil {
		t.Fatalf("seed session %s: %v", id, err)
	}
}

func fetchSession(t *testing.T, st *pg.Store, id string) store.SessionRecord {
	t.Helper()
	all, err := st.GetAllSessions(context.Background())
	if err != nil {
		t.Fatalf("get all sessions: %v", err)
	}
	for _, r := range all {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("session %s not found", id)
	return store.SessionRecord{}
}

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN not set")
	}

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	admin, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}

	_, err = admin.Exec(context.Background(), "CREATE SCHEMA "+schema)
	if err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	dbDSN, err := withSearchPath(dsn, schema)
	if err != nil {
		admin.Close()
		t.Fatalf("build dsn: %v", err)
	}

	db, err := pgxpool.New(context.Background(), dbDSN)
	if err != nil {
		admin.Close()
		t.Fatalf("connect test db: %v", err)
	}

	sqlPath := filepath.Join("..", "..", "db", "schema.sql")
	sqlBytes, err := os.ReadFile(sqlPath)
	if err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("read schema: %v", err)
	}

	if _, err := db.Exec(context.Background(), string(sqlBytes)); err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("apply schema: %v", err)
	}

	cleanup := func() {
		db.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	}

	return db, cleanup
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	opts := q.Get("options")
	if opts != "" {
		opts = opts + " -c search_path=" + schema
	} else {
		opts = "-c search_path=" + schema
	}
	q.Set("options", opts)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
