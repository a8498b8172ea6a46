// Package adapter defines the boundary to the underlying chat-protocol
// client. One Client per session; the protocol implementation behind it is
// opaque to the rest of the system.
package adapter

import (
	"context"
	"time"
)

type ClientInfo struct {
	PhoneNumber string
	Platform    string
}

type InboundMessage struct {
	ID        string
	From      string
	To        string
	Body      string
	Kind      string
	Timestamp time.Time
	HasMedia  bool
}

// Handlers is the full event set for one client instance. Bind is called
// exactly once, before Initialize; nil entries are skipped. The client may
// invoke handlers from its own goroutines at any time after Initialize.
type Handlers struct {
	OnQR            func(payload string)
	OnAuthenticated func()
	OnReady         func()
	OnMessage       func(msg InboundMessage)
	OnDisconnected  func(reason string)
	OnAuthFailure   func(reason string)
}

// Client is one live protocol connection. Initialize returns once the
// connection attempt is underway; pairing progress arrives via handlers.
type Client interface {
	Bind(h Handlers)
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, chatID, body string) (messageID string, err error)
	Destroy(ctx context.Context) error
	Info() ClientInfo
}

// Factory builds a client bound to a session identifier and its exclusive
// on-disk credential directory.
type Factory func(sessionID, credentialDir string) Client
