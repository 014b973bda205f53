package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/AngelCh415/adreports/internal/table"
)

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// CSVSink writes one file per export under Dir. The file is named after the
// sheet (or report) name; create_new adds the run id so earlier exports are
// kept instead of overwritten.
type CSVSink struct {
	Dir string
}

func (s CSVSink) path(req Request) string {
	base := req.Config.SheetName
	if base == "" {
		base = req.ReportName
	}
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "_.")
	if base == "" {
		base = "report"
	}
	if req.Config.CreateNew && req.RunID != "" {
		base += "-" + req.RunID
	}
	return filepath.Join(s.Dir, base+".csv")
}

func (s CSVSink) Write(_ context.Context, t *table.Table, req Request) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("csv export: %w", err)
	}
	p := s.path(req)
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("csv export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		return "", fmt.Errorf("csv export: %w", err)
	}
	rec := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		for i, c := range t.Columns {
			rec[i] = table.Format(r[c])
		}
		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("csv export: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("csv export: %w", err)
	}
	return p, f.Close()
}
