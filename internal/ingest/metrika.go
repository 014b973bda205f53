package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/period"
	"github.com/AngelCh415/adreports/internal/table"
)

const (
	DefaultMetrikaURL = "https://api-metrika.yandex.net"
	metrikaPageSize   = 10000
	campaignDimension = "ym:s:lastDirectClickOrder"
)

var (
	metrikaMetrics = map[string]bool{
		"ym:s:visits": true, "ym:s:users": true, "ym:s:bounceRate": true,
		"ym:s:pageDepth": true, "ym:s:avgVisitDurationSeconds": true,
	}
	metrikaDimensions = map[string]bool{
		"ym:s:UTMSource": true, "ym:s:UTMCampaign": true, "ym:s:UTMMedium": true,
		"ym:s:UTMContent": true, "ym:s:UTMTerm": true, "ym:s:trafficSource": true,
		"ym:s:date": true, campaignDimension: true,
	}
	metrikaDefaultMetrics    = []string{"ym:s:visits", "ym:s:users", "ym:s:bounceRate"}
	metrikaDefaultDimensions = []string{"ym:s:UTMSource", "ym:s:UTMCampaign"}
)

type MetrikaOptions struct {
	BaseURL string
	Timeout time.Duration
	// PageSize caps rows per request; the API maximum is 10000.
	PageSize int
}

// Metrika is the analytics adapter over the reporting (stat/v1/data) API.
type Metrika struct {
	opts MetrikaOptions
	c    HTTPClient
	log  *slog.Logger
}

func NewMetrika(opts MetrikaOptions, log *slog.Logger) *Metrika {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultMetrikaURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PageSize <= 0 || opts.PageSize > metrikaPageSize {
		opts.PageSize = metrikaPageSize
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if log == nil {
		log = slog.Default()
	}
	return &Metrika{opts: opts, c: NewHTTPClient(opts.Timeout), log: log}
}

func (m *Metrika) Validate(src models.SourceConfig) error {
	if src.CounterID <= 0 {
		return errs.Invalid("counter_id", "metrika source %q needs a counter id", src.ID)
	}
	return nil
}

// qualify accepts both "visits" and "ym:s:visits".
func qualify(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "ym:") {
		return name
	}
	return "ym:s:" + name
}

// Query resolves the metric and dimension lists of a source. Unknown names
// are dropped; goal ids add their reach metrics.
func (m *Metrika) Query(src models.SourceConfig) (metricNames, dimensions []string) {
	metricNames = whitelist(src.Metrics, metrikaMetrics, metrikaDefaultMetrics, qualify)
	for _, g := range src.Goals {
		metricNames = append(metricNames, "ym:s:goal"+strconv.FormatInt(g, 10)+"reaches")
	}
	dimensions = whitelist(src.Dimensions, metrikaDimensions, metrikaDefaultDimensions, qualify)
	return metricNames, dimensions
}

type metrikaResponse struct {
	Data []struct {
		Dimensions []struct {
			Name *string `json:"name"`
			ID   any     `json:"id"`
		} `json:"dimensions"`
		Metrics []any `json:"metrics"`
	} `json:"data"`
	TotalRows int `json:"total_rows"`
	Errors    []struct {
		Type    string `json:"error_type"`
		Message string `json:"message"`
	} `json:"errors"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (m *Metrika) Fetch(ctx context.Context, src models.SourceConfig, r period.Range, token string) (*table.Table, error) {
	metricNames, dimensions := m.Query(src)
	cols := make([]string, 0, len(dimensions)+len(metricNames))
	for _, d := range dimensions {
		cols = append(cols, ColumnName(d))
	}
	for _, mn := range metricNames {
		cols = append(cols, ColumnName(mn))
	}
	out := table.New(cols...)

	header := http.Header{}
	header.Set("Authorization", "OAuth "+token)

	for offset := 1; ; {
		q := url.Values{}
		q.Set("ids", strconv.FormatInt(src.CounterID, 10))
		q.Set("metrics", strings.Join(metricNames, ","))
		q.Set("dimensions", strings.Join(dimensions, ","))
		q.Set("date1", r.DateFrom())
		q.Set("date2", r.DateTo())
		q.Set("limit", strconv.Itoa(m.opts.PageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("accuracy", "full")

		var page metrikaResponse
		if err := call(ctx, m.c, "metrika", http.MethodGet, m.opts.BaseURL+"/stat/v1/data?"+q.Encode(), header, nil, &page); err != nil {
			return nil, metrikaError(err)
		}
		if len(page.Errors) > 0 {
			return nil, &errs.UpstreamError{Service: "metrika", Status: page.Code, Message: page.Errors[0].Message}
		}
		for _, rec := range page.Data {
			row := make(table.Row, len(cols))
			for i, d := range dimensions {
				row[cols[i]] = nil
				if i < len(rec.Dimensions) {
					dim := rec.Dimensions[i]
					row[cols[i]] = dimensionValue(d, dim.Name, dim.ID)
				}
			}
			for i := range metricNames {
				c := cols[len(dimensions)+i]
				row[c] = nil
				if i < len(rec.Metrics) {
					row[c] = metricValue(rec.Metrics[i])
				}
			}
			out.Rows = append(out.Rows, row)
		}
		if len(page.Data) == 0 || out.Len() >= page.TotalRows {
			break
		}
		offset += len(page.Data)
	}
	m.log.Debug("metrika fetched", slog.String("source_id", src.ID), slog.Int("rows", out.Len()))
	return out, nil
}

// metrikaError pulls the API message out of a non-200 error body.
func metrikaError(err error) error {
	var ue *errs.UpstreamError
	if !errors.As(err, &ue) || ue.Message == "" {
		return err
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(ue.Message), &body) == nil && body.Message != "" {
		ue.Message = body.Message
	}
	return ue
}

func dimensionValue(dim string, name *string, id any) any {
	if dim == campaignDimension {
		if v := table.Normalize(id); v != nil {
			return table.Format(v)
		}
		return nil
	}
	if name != nil {
		return *name
	}
	if v := table.Normalize(id); v != nil {
		return table.Format(v)
	}
	return nil
}

func metricValue(v any) any {
	if f, ok := table.Number(table.Normalize(v)); ok {
		return f
	}
	return nil
}

// ColumnName turns an API name into a table column: the ym:<ns>: prefix
// is dropped and the rest converted to snake_case.
func ColumnName(name string) string {
	if name == campaignDimension {
		return "campaign_id"
	}
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	if strings.HasPrefix(name, "goal") && strings.HasSuffix(name, "reaches") {
		if id := strings.TrimSuffix(strings.TrimPrefix(name, "goal"), "reaches"); id != "" {
			return "goal_" + id + "_reaches"
		}
	}
	rs := []rune(name)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) && i > 0 {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
