// Package ingest fetches source data from the advertising and analytics
// APIs and returns it as tables.
package ingest

import (
	"context"
	"log/slog"
	"slices"

	"github.com/AngelCh415/adreports/internal/config"
	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/period"
	"github.com/AngelCh415/adreports/internal/table"
)

// Fetcher pulls one source for a resolved period. Implementations never
// modify src.
type Fetcher interface {
	// Validate checks the source parameters without any network call.
	Validate(src models.SourceConfig) error
	Fetch(ctx context.Context, src models.SourceConfig, r period.Range, token string) (*table.Table, error)
}

// Registry maps a source type to its adapter.
type Registry map[models.SourceType]Fetcher

func (r Registry) Fetcher(t models.SourceType) (Fetcher, error) {
	f, ok := r[t]
	if !ok {
		return nil, errs.Invalid("type", "unknown source type %q", t)
	}
	return f, nil
}

// NewRegistry wires both adapters from the service configuration.
func NewRegistry(cfg config.Config, log *slog.Logger) Registry {
	return Registry{
		models.SourceDirect: NewDirect(DirectOptions{
			BaseURL:       cfg.DirectURL,
			ReportTimeout: cfg.ReportTimeout,
			APITimeout:    cfg.APITimeout,
			RetryDelay:    cfg.PendingRetryDelay,
			MaxAttempts:   cfg.PendingMaxAttempts,
		}, log),
		models.SourceMetrika: NewMetrika(MetrikaOptions{BaseURL: cfg.MetrikaURL, Timeout: cfg.APITimeout}, log),
	}
}

// whitelist keeps the requested names that are allowed, in request order.
// An empty result falls back to defaults.
func whitelist(requested []string, allowed map[string]bool, defaults []string, canon func(string) string) []string {
	var out []string
	for _, n := range requested {
		if canon != nil {
			n = canon(n)
		}
		if allowed[n] && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return slices.Clone(defaults)
	}
	return out
}
