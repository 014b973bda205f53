// Package period turns a symbolic period descriptor into inclusive dates.
package period

import (
	"strings"
	"time"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/models"
)

const Layout = "2006-01-02"

const (
	Custom    = "custom"
	ThisMonth = "this_month"
	LastMonth = "last_month"
)

// windows ending yesterday
var relative = map[string]int{
	"last_7_days":  7,
	"last_14_days": 14,
	"last_30_days": 30,
	"last_90_days": 90,
}

// Range is an inclusive pair of calendar dates (UTC midnight).
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) DateFrom() string { return r.From.Format(Layout) }
func (r Range) DateTo() string   { return r.To.Format(Layout) }

// Days counts the days in the window, both ends included.
func (r Range) Days() int { return int(r.To.Sub(r.From).Hours()/24) + 1 }

// Resolve computes the window for cfg relative to today.
func Resolve(cfg models.PeriodConfig, today time.Time) (Range, error) {
	kind := strings.TrimSpace(cfg.Type)
	yesterday := dayUTC(today).AddDate(0, 0, -1)

	if n, ok := relative[kind]; ok {
		return Range{From: yesterday.AddDate(0, 0, -(n - 1)), To: yesterday}, nil
	}
	switch kind {
	case ThisMonth:
		return Range{From: firstOfMonth(yesterday), To: yesterday}, nil
	case LastMonth:
		first := firstOfMonth(dayUTC(today)).AddDate(0, -1, 0)
		return Range{From: first, To: first.AddDate(0, 1, -1)}, nil
	case Custom:
		return custom(cfg)
	case "":
		return Range{}, errs.Invalid("period.type", "is required")
	}
	return Range{}, errs.Invalid("period.type", "unknown period %q", kind)
}

func custom(cfg models.PeriodConfig) (Range, error) {
	from, err := time.Parse(Layout, strings.TrimSpace(cfg.DateFrom))
	if err != nil {
		return Range{}, errs.Invalid("period.date_from", "want YYYY-MM-DD, got %q", cfg.DateFrom)
	}
	to, err := time.Parse(Layout, strings.TrimSpace(cfg.DateTo))
	if err != nil {
		return Range{}, errs.Invalid("period.date_to", "want YYYY-MM-DD, got %q", cfg.DateTo)
	}
	if from.After(to) {
		return Range{}, errs.Invalid("period", "date_from %s is after date_to %s", cfg.DateFrom, cfg.DateTo)
	}
	return Range{From: from, To: to}, nil
}

func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
