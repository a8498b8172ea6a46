package session

import "time"

// Bus event names.
const (
	EventSessionQR        = "session:qr"
	EventSessionStatus    = "session:status"
	EventSessionDestroyed = "session:destroyed"
	EventMessageReceived  = "message:received"
	EventSessionsUpdated  = "sessions:updated"
)

// Webhook event types.
const (
	WebhookQR            = "qr"
	WebhookAuthenticated = "authenticated"
	WebhookReady         = "ready"
	WebhookMessage       = "message"
	WebhookDisconnected  = "disconnected"
	WebhookAuthFailure   = "auth_failure"
)

type QREvent struct {
	SessionID string `json:"sessionId"`
	QRCode    string `json:"qrCode"`
	Status    string `json:"status"`
}

type StatusEvent struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	Connected   *bool  `json:"connected,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

type DestroyedEvent struct {
	SessionID string `json:"sessionId"`
}

type MessageEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	HasMedia  bool      `json:"hasMedia"`
}

func boolPtr(b bool) *bool { return &b }
