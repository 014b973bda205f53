// Package export delivers finished report tables to their destination.
package export

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/AngelCh415/adreports/internal/config"
	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/table"
	"github.com/AngelCh415/adreports/internal/utils"
)

// Request names one delivery: the destination settings plus the run that
// produced the table.
type Request struct {
	Config     models.ExportConfig
	ReportName string
	RunID      string
}

// Sink writes a table and returns a reference to where it landed (a path,
// a URL, a sheet id).
type Sink interface {
	Write(ctx context.Context, t *table.Table, req Request) (string, error)
}

// DefaultType is used when a report does not name an export type.
const DefaultType = "csv"

// Mux routes a request to the sink registered for its export type.
type Mux map[string]Sink

// NewMux registers the CSV sink, plus the webhook sink when a sink URL is
// configured.
func NewMux(cfg config.Config, log *slog.Logger) Mux {
	m := Mux{"csv": CSVSink{Dir: cfg.ExportDir}}
	if cfg.SinkURL != "" {
		m["webhook"] = WebhookSink{
			URL:     cfg.SinkURL,
			Secret:  cfg.SinkSecret,
			Client:  &http.Client{Timeout: cfg.APITimeout},
			Backoff: utils.NewBackoff(200*time.Millisecond, 3),
			Log:     log,
		}
	}
	return m
}

func (m Mux) sink(typ string) (Sink, error) {
	if typ == "" {
		typ = DefaultType
	}
	s, ok := m[typ]
	if !ok {
		return nil, errs.Invalid("export.type", "no sink configured for %q", typ)
	}
	return s, nil
}

// Check reports whether cfg can be delivered, before any work is done.
func (m Mux) Check(cfg models.ExportConfig) error {
	_, err := m.sink(cfg.Type)
	return err
}

func (m Mux) Write(ctx context.Context, t *table.Table, req Request) (string, error) {
	s, err := m.sink(req.Config.Type)
	if err != nil {
		return "", err
	}
	return s.Write(ctx, t, req)
}
