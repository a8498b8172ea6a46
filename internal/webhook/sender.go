// Package webhook delivers session and message events to per-session
// configured URLs: bounded attempts, exponential backoff, one audit row per
// attempt. Delivery never fails the triggering operation.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/observability"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/store"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/util"
)

type Gateway interface {
	GetSessionWebhook(ctx context.Context, id string) (store.SessionWebhook, bool, error)
	LogWebhookEvent(ctx context.Context, in store.WebhookAttempt) error
}

// Policy is the retry schedule. Backoff is indexed from 0 and applied after
// every attempt but the last.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}
}

// Envelope is the JSON body POSTed to the configured URL.
type Envelope struct {
	Event       string    `json:"event"`
	SessionID   string    `json:"sessionId"`
	SessionName string    `json:"sessionName"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data"`
}

type Sender struct {
	Gateway Gateway
	HTTP    *http.Client
	Policy  Policy
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	// Sleep is swapped out in tests; nil means time.Sleep.
	Sleep func(d time.Duration)
}

func NewSender(gw Gateway, timeout time.Duration, policy Policy) *Sender {
	return &Sender{
		Gateway: gw,
		HTTP:    &http.Client{Timeout: timeout},
		Policy:  policy,
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "webhook",
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		}),
	}
}

// Send posts one event envelope to the session's configured URL. Returns true
// on a < 400 response within the attempt budget, false otherwise (including
// the opt-out case of no configured URL, which makes zero attempts).
func (s *Sender) Send(ctx context.Context, sessionID, event string, payload any) bool {
	wh, found, err := s.Gateway.GetSessionWebhook(ctx, sessionID)
	if err != nil {
		slog.Error("webhook url lookup failed", "err", err, "session_id", sessionID, "event", event)
		return false
	}
	if !found || wh.URL == "" {
		return false
	}

	body, err := json.Marshal(Envelope{
		Event:       event,
		SessionID:   sessionID,
		SessionName: wh.Name,
		Timestamp:   util.NowUTC(),
		Data:        payload,
	})
	if err != nil {
		slog.Error("webhook envelope marshal failed", "err", err, "session_id", sessionID, "event", event)
		return false
	}

	max := s.Policy.MaxAttempts
	if max <= 0 {
		max = 1
	}
	for attempt := 0; attempt < max; attempt++ {
		status, outcome := s.post(ctx, wh.URL, body)

		observability.WebhookAttempts.WithLabelValues(resultLabel(status), strconv.Itoa(status)).Inc()
		s.record(ctx, store.WebhookAttempt{
			SessionID:  sessionID,
			Event:      event,
			URL:        wh.URL,
			Payload:    string(body),
			Attempt:    attempt,
			HTTPStatus: status,
			Outcome:    outcome,
			CreatedAt:  util.NowUTC(),
		})

		if status > 0 && status < 400 {
			return true
		}
		if attempt < max-1 {
			s.sleep(s.Policy.Backoff(attempt))
		}
	}

	slog.Error("webhook delivery exhausted", "session_id", sessionID, "event", event, "url", wh.URL, "attempts", max)
	return false
}

// post performs one POST. Status 0 means no HTTP response was obtained.
func (s *Sender) post(ctx context.Context, url string, body []byte) (int, string) {
	if s.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return 0, "rate_limited_local"
		}
	}

	call := func() (any, error) {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.HTTP.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		observability.WebhookLatency.Observe(time.Since(start).Seconds())
		if resp.StatusCode >= 500 {
			return resp.StatusCode, errors.New("upstream " + strconv.Itoa(resp.StatusCode))
		}
		return resp.StatusCode, nil
	}

	var res any
	var err error
	if s.Breaker != nil {
		res, err = s.Breaker.Execute(call)
	} else {
		res, err = call()
	}

	status, _ := res.(int)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, "breaker_open"
		}
		return status, err.Error()
	}
	if status >= 400 {
		return status, "http " + strconv.Itoa(status)
	}
	return status, "delivered"
}

func (s *Sender) record(ctx context.Context, in store.WebhookAttempt) {
	if err := s.Gateway.LogWebhookEvent(ctx, in); err != nil {
		slog.Error("webhook attempt audit failed", "err", err, "session_id", in.SessionID, "event", in.Event, "attempt", in.Attempt)
	}
}

func (s *Sender) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}

func resultLabel(status int) string {
	if status > 0 && status < 400 {
		return "ok"
	}
	return "error"
}
