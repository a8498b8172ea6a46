package config

import "github.com/kelseyhightower/envconfig"

type ServerConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// filesystem roots for per-session artifacts
	SessionsDir string `envconfig:"SESSIONS_DIR" default:"./data/sessions"`
	QRDir       string `envconfig:"QR_DIR" default:"./data/qr"`

	// adapter startup
	AdapterInitTimeout string `envconfig:"ADAPTER_INIT_TIMEOUT" default:"2m"`
	AdapterMode        string `envconfig:"ADAPTER_MODE" default:"sim"`

	// webhook delivery
	WebhookTimeout     string  `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	WebhookMaxAttempts int     `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"3"`
	WebhookRPS         float64 `envconfig:"WEBHOOK_RPS" default:"20"`
	WebhookBurst       int     `envconfig:"WEBHOOK_BURST" default:"40"`

	// DB pool
	DBPoolMaxConns int32 `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns int32 `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
}

func LoadServer() ServerConfig {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
