package store

import "time"

// SessionRecord is the durable shadow of an in-memory session.
type SessionRecord struct {
	ID               string
	Name             string
	UserID           string
	Status           string
	PhoneNumber      string
	WebhookURL       string
	CreatedAt        time.Time
	LastActivity     time.Time
	MessagesSent     int
	MessagesReceived int
	Errors           int
}

// MessageRecord is the append-only log entry for one message. Status may be
// updated once with the send outcome.
type MessageRecord struct {
	ID        string
	SessionID string
	Direction string // incoming | outgoing
	FromNum   string
	ToNum     string
	Body      string
	Kind      string
	Status    string
	CreatedAt time.Time
}

// WebhookAttempt audits one delivery try. HTTPStatus 0 means the request
// never produced a response (network failure, breaker open).
type WebhookAttempt struct {
	SessionID  string
	Event      string
	URL        string
	Payload    string
	Attempt    int
	HTTPStatus int
	Outcome    string
	CreatedAt  time.Time
}

type SessionWebhook struct {
	URL  string
	Name string
}

type HourCount struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// SessionsMetrics aggregates the dashboard queries.
type SessionsMetrics struct {
	TotalSessions       int            `json:"totalSessions"`
	SessionsByStatus    map[string]int `json:"sessionsByStatus"`
	TotalMessages       int            `json:"totalMessages"`
	MessagesByDirection map[string]int `json:"messagesByDirection"`
	MessagesByStatus    map[string]int `json:"messagesByStatus"`
	MessagesLast24h     []HourCount    `json:"messagesLast24h"`
}
