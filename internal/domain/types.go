package domain

import "time"

type SessionStatus string

const (
	StatusInitializing  SessionStatus = "initializing"
	StatusConnecting    SessionStatus = "connecting"
	StatusQRReceived    SessionStatus = "qr_received"
	StatusAuthenticated SessionStatus = "authenticated"
	StatusReady         SessionStatus = "ready"
	StatusDisconnected  SessionStatus = "disconnected"
	StatusAuthFailure   SessionStatus = "auth_failure"
)

// Session is one logical chat-protocol identity. The lifecycle manager is the
// only writer; everything handed out of the manager is a copy.
type Session struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	UserID           string        `json:"userId"`
	Status           SessionStatus `json:"status"`
	Connected        bool          `json:"connected"`
	PhoneNumber      string        `json:"phoneNumber,omitempty"`
	QRCode           string        `json:"qrCode,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	LastActivity     time.Time     `json:"lastActivity"`
	MessagesSent     int           `json:"messagesSent"`
	MessagesReceived int           `json:"messagesReceived"`
	Errors           int           `json:"errors"`
}

type CreateSessionRequest struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

func (r CreateSessionRequest) Validate() error {
	if r.Name == "" || r.UserID == "" {
		return ErrMissingFields
	}
	return nil
}

type SendMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
	Kind string `json:"kind,omitempty"` // text (default) or media
}

func (r SendMessageRequest) Validate() error {
	if r.To == "" || r.Body == "" {
		return ErrMissingFields
	}
	return nil
}

// SendResult reports one send outcome. Failures are carried in the result so
// callers can persist the attempt either way.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}
