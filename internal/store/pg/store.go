package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) SaveSession(ctx context.Context, in store.SessionRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO sessions (id, name, user_id, status, phone_number, webhook_url, created_at, last_activity, messages_sent, messages_received, errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, status=EXCLUDED.status, phone_number=EXCLUDED.phone_number,
			last_activity=EXCLUDED.last_activity, messages_sent=EXCLUDED.messages_sent,
			messages_received=EXCLUDED.messages_received, errors=EXCLUDED.errors
	`, in.ID, in.Name, in.UserID, in.Status, nullIfEmpty(in.PhoneNumber), nullIfEmpty(in.WebhookURL),
		in.CreatedAt, in.LastActivity, in.MessagesSent, in.MessagesReceived, in.Errors)
	return err
}

func (s *Store) GetAllSessions(ctx context.Context) ([]store.SessionRecord, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, user_id, status, COALESCE(phone_number,''), COALESCE(webhook_url,''),
		       created_at, last_activity, messages_sent, messages_received, errors
		FROM sessions ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SessionRecord
	for rows.Next() {
		var r store.SessionRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.UserID, &r.Status, &r.PhoneNumber, &r.WebhookURL,
			&r.CreatedAt, &r.LastActivity, &r.MessagesSent, &r.MessagesReceived, &r.Errors); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateSessionStatus updates the durable status; an empty phone leaves the
// stored number untouched.
func (s *Store) UpdateSessionStatus(ctx context.Context, id, status, phoneNumber string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sessions
		SET status=$2, phone_number=COALESCE(NULLIF($3,''), phone_number), last_activity=$4
		WHERE id=$1
	`, id, status, phoneNumber, time.Now().UTC())
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	return err
}

func (s *Store) IncrementSessionMessageCount(ctx context.Context, id, direction string) error {
	col := "messages_sent"
	if direction == "incoming" {
		col = "messages_received"
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE sessions SET `+col+` = `+col+` + 1, last_activity=$2 WHERE id=$1
	`, id, time.Now().UTC())
	return err
}

func (s *Store) IncrementSessionErrors(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `UPDATE sessions SET errors = errors + 1 WHERE id=$1`, id)
	return err
}

func (s *Store) GetSessionWebhook(ctx context.Context, id string) (store.SessionWebhook, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT COALESCE(webhook_url,''), name FROM sessions WHERE id=$1`, id)
	var wh store.SessionWebhook
	err := row.Scan(&wh.URL, &wh.Name)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return store.SessionWebhook{}, false, nil
		}
		return store.SessionWebhook{}, false, err
	}
	return wh, true, nil
}

func (s *Store) SetSessionWebhook(ctx context.Context, id, url string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `UPDATE sessions SET webhook_url=$2 WHERE id=$1`, id, nullIfEmpty(url))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) LogWebhookEvent(ctx context.Context, in store.WebhookAttempt) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO webhook_events (session_id, event, url, payload, attempt, http_status, outcome, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, in.SessionID, in.Event, in.URL, in.Payload, in.Attempt, in.HTTPStatus, nullIfEmpty(in.Outcome), in.CreatedAt)
	return err
}

func (s *Store) InsertMessage(ctx context.Context, in store.MessageRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO messages (id, session_id, direction, from_num, to_num, body, kind, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, in.ID, in.SessionID, in.Direction, in.FromNum, in.ToNum, in.Body, in.Kind, in.Status, in.CreatedAt)
	return err
}

func (s *Store) UpdateMessageStatus(ctx context.Context, id, status string) error {
	_, err := s.DB.Exec(ctx, `UPDATE messages SET status=$2 WHERE id=$1`, id, status)
	return err
}

func (s *Store) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]store.MessageRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, session_id, direction, from_num, to_num, body, kind, status, created_at
		FROM messages WHERE session_id=$1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.MessageRecord
	for rows.Next() {
		var m store.MessageRecord
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Direction, &m.FromNum, &m.ToNum, &m.Body, &m.Kind, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetSessionsMetrics(ctx context.Context) (store.SessionsMetrics, error) {
	m := store.SessionsMetrics{
		SessionsByStatus:    map[string]int{},
		MessagesByDirection: map[string]int{},
		MessagesByStatus:    map[string]int{},
	}

	rows, err := s.DB.Query(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return m, err
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return m, err
		}
		m.SessionsByStatus[st] = n
		m.TotalSessions += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return m, err
	}

	rows, err = s.DB.Query(ctx, `SELECT direction, COUNT(*) FROM messages GROUP BY direction`)
	if err != nil {
		return m, err
	}
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			rows.Close()
			return m, err
		}
		m.MessagesByDirection[d] = n
		m.TotalMessages += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return m, err
	}

	rows, err = s.DB.Query(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return m, err
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return m, err
		}
		m.MessagesByStatus[st] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return m, err
	}

	rows, err = s.DB.Query(ctx, `
		SELECT date_trunc('hour', created_at) AS h, COUNT(*)
		FROM messages
		WHERE created_at >= now() - interval '24 hours'
		GROUP BY h ORDER BY h
	`)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var hc store.HourCount
		if err := rows.Scan(&hc.Hour, &hc.Count); err != nil {
			return m, err
		}
		m.MessagesLast24h = append(m.MessagesLast24h, hc)
	}
	return m, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
