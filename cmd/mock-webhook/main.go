// mock-webhook is a local receiver for session event webhooks. It logs every
// envelope and answers with a scripted status sequence so delivery retries
// can be exercised end to end.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/logging"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/webhook"
)

type cfg struct {
	Port string `envconfig:"PORT" default:"9100"`
	// comma separated HTTP statuses answered in order, then repeating the
	// last one, e.g. "500,500,200"
	Outcomes  string `envconfig:"MOCK_OUTCOMES" default:"200"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	var c cfg
	if err := envconfig.Process("", &c); err != nil {
		panic(err)
	}
	logging.Init("mock-webhook", c.LogFormat, c.LogLevel)

	var outcomes []int
	for _, part := range strings.Split(c.Outcomes, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 100 || n > 599 {
			slog.Error("invalid MOCK_OUTCOMES entry", "value", part)
			return
		}
		outcomes = append(outcomes, n)
	}

	var calls atomic.Int64
	m := mux.NewRouter()
	m.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		var env webhook.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		i := int(calls.Add(1)) - 1
		if i >= len(outcomes) {
			i = len(outcomes) - 1
		}
		status := outcomes[i]
		slog.Info("webhook received",
			"event", env.Event,
			"session_id", env.SessionID,
			"session_name", env.SessionName,
			"call", calls.Load(),
			"answer", status,
		)
		w.WriteHeader(status)
	}).Methods(http.MethodPost)

	slog.Info("mock webhook listening", "port", c.Port, "outcomes", c.Outcomes)
	if err := http.ListenAndServe(":"+c.Port, m); err != nil {
		slog.Error("mock webhook failed", "err", err)
	}
}
