package export

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/AngelCh415/adreports/internal/table"
	"github.com/AngelCh415/adreports/internal/utils"
)

// WebhookSink posts the table as JSON to URL, signed with an HMAC-SHA256 of
// the body in X-Signature. 5xx answers and transport errors are retried.
type WebhookSink struct {
	URL     string
	Secret  string
	Client  *http.Client
	Backoff utils.Backoff
	Log     *slog.Logger
}

type webhookPayload struct {
	Report   string      `json:"report"`
	RunID    string      `json:"run_id"`
	Sheet    string      `json:"sheet_name,omitempty"`
	Columns  []string    `json:"columns"`
	Data     []table.Row `json:"data"`
	RowCount int         `json:"row_count"`
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s WebhookSink) Write(ctx context.Context, t *table.Table, req Request) (string, error) {
	if s.URL == "" || s.Secret == "" {
		return "", errors.New("webhook export: sink not configured")
	}
	rows := t.Rows
	if rows == nil {
		rows = []table.Row{}
	}
	b, err := json.Marshal(webhookPayload{
		Report: req.ReportName, RunID: req.RunID, Sheet: req.Config.SheetName,
		Columns: t.Columns, Data: rows, RowCount: len(rows),
	})
	if err != nil {
		return "", fmt.Errorf("webhook export: %w", err)
	}
	sig := Sign(s.Secret, b)
	c := s.Client
	if c == nil {
		c = http.DefaultClient
	}

	err = s.Backoff.Do(ctx, func(attempt int) error {
		hr, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
		if err != nil {
			return utils.Permanent(err)
		}
		hr.Header.Set("Content-Type", "application/json")
		hr.Header.Set("X-Signature", sig)
		resp, err := c.Do(hr)
		if err != nil {
			s.warn("webhook export failed", attempt, err)
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		switch {
		case resp.StatusCode >= 500:
			err := fmt.Errorf("sink answered %d", resp.StatusCode)
			s.warn("webhook export failed", attempt, err)
			return err
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return utils.Permanent(fmt.Errorf("sink answered %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("webhook export: %w", err)
	}
	return s.URL, nil
}

func (s WebhookSink) warn(msg string, attempt int, err error) {
	if s.Log != nil {
		s.Log.Warn(msg, slog.Int("attempt", attempt), slog.String("err", err.Error()))
	}
}
