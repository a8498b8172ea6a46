package adapter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SimOptions tunes the simulated client. Zero values fall back to defaults
// suitable for local development.
type SimOptions struct {
	QRDelay    time.Duration // delay before the qr event
	PairDelay  time.Duration // delay between qr and authenticated
	ReadyDelay time.Duration // delay between authenticated and ready
	Phone      string
}

// NewSimFactory returns a factory producing in-process simulated clients.
// The simulator walks the real lifecycle (qr -> authenticated -> ready, or
// straight to ready when the credential directory already holds a pairing)
// so the full stack can run without a protocol engine. Used by cmd/server in
// sim mode and by tests.
func NewSimFactory(opts SimOptions) Factory {
	if opts.QRDelay == 0 {
		opts.QRDelay = 200 * time.Millisecond
	}
	if opts.PairDelay == 0 {
		opts.PairDelay = 2 * time.Second
	}
	if opts.ReadyDelay == 0 {
		opts.ReadyDelay = 300 * time.Millisecond
	}
	return func(sessionID, credentialDir string) Client {
		phone := opts.Phone
		if phone == "" {
			phone = "1555" + hexID(7)
		}
		return &simClient{sessionID: sessionID, credentialDir: credentialDir, opts: opts, phone: phone}
	}
}

type simClient struct {
	sessionID     string
	credentialDir string
	opts          SimOptions
	phone         string

	mu        sync.Mutex
	handlers  Handlers
	destroyed bool
	cancel    context.CancelFunc
}

func (c *simClient) Bind(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

func (c *simClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errors.New("client destroyed")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if err := os.MkdirAll(c.credentialDir, 0o755); err != nil {
		return fmt.Errorf("sim credential dir: %w", err)
	}

	paired := c.loadPairing()
	go c.run(runCtx, paired)
	return nil
}

func (c *simClient) run(ctx context.Context, paired bool) {
	if !paired {
		if !sleep(ctx, c.opts.QRDelay) {
			return
		}
		c.emitQR("sim://" + c.sessionID + "/" + hexID(16))
		if !sleep(ctx, c.opts.PairDelay) {
			return
		}
		if err := c.savePairing(); err == nil {
			c.emitAuthenticated()
		}
	}
	if !sleep(ctx, c.opts.ReadyDelay) {
		return
	}
	c.emitReady()
}

func (c *simClient) SendMessage(ctx context.Context, chatID, body string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return "", errors.New("client destroyed")
	}
	return "true_" + chatID + "_" + hexID(12), nil
}

func (c *simClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *simClient) Info() ClientInfo {
	return ClientInfo{PhoneNumber: c.phone, Platform: "sim"}
}

func (c *simClient) pairingPath() string {
	return filepath.Join(c.credentialDir, "pairing.json")
}

func (c *simClient) loadPairing() bool {
	b, err := os.ReadFile(c.pairingPath())
	return err == nil && len(b) > 0
}

func (c *simClient) savePairing() error {
	payload := fmt.Sprintf(`{"sessionId":%q,"phone":%q,"pairedAt":%q}`, c.sessionID, c.phone, time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(c.pairingPath(), []byte(payload), 0o600)
}

func (c *simClient) emitQR(payload string) {
	c.mu.Lock()
	h := c.handlers.OnQR
	c.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (c *simClient) emitAuthenticated() {
	c.mu.Lock()
	h := c.handlers.OnAuthenticated
	c.mu.Unlock()
	if h != nil {
		h()
	}
}

func (c *simClient) emitReady() {
	c.mu.Lock()
	h := c.handlers.OnReady
	c.mu.Unlock()
	if h != nil {
		h()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func hexID(n int) string {
	b := make([]byte, (n+1)/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)[:n]
}
