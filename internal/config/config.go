package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DirectURL  string `envconfig:"DIRECT_API_URL" default:"https://api.direct.yandex.com/json/v5"`
	MetrikaURL string `envconfig:"METRIKA_API_URL" default:"https://api-metrika.yandex.net"`

	APITimeout         time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
	ReportTimeout      time.Duration `envconfig:"REPORT_TIMEOUT" default:"60s"`
	PendingRetryDelay  time.Duration `envconfig:"PENDING_RETRY_DELAY" default:"5s"`
	PendingMaxAttempts int           `envconfig:"PENDING_MAX_ATTEMPTS" default:"3"`

	// IntegrationTokens is "direct:TOKEN,metrika:TOKEN".
	IntegrationTokens map[string]string `envconfig:"INTEGRATION_TOKENS"`
	// RefreshURL, when set, is asked for a fresh token instead.
	RefreshURL string `envconfig:"TOKEN_REFRESH_URL"`

	SinkURL    string `envconfig:"SINK_URL"`
	SinkSecret string `envconfig:"SINK_SECRET"`
	ExportDir  string `envconfig:"EXPORT_DIR" default:"exports"`
	// StorePath selects the SQLite run store; empty keeps runs in memory.
	StorePath string `envconfig:"STORE_PATH"`
}

func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
