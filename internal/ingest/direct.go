package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/metrics"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/period"
	"github.com/AngelCh415/adreports/internal/table"
)

const DefaultDirectURL = "https://api.direct.yandex.com/json/v5"

var (
	directFields = map[string]bool{
		"CampaignId": true, "CampaignName": true, "Date": true,
		"Impressions": true, "Clicks": true, "Cost": true, "Ctr": true, "AvgCpc": true,
		"Conversions": true, "ConversionRate": true, "CostPerConversion": true,
	}
	directDefaultFields = []string{
		"CampaignId", "CampaignName",
		"Impressions", "Clicks", "Cost", "Ctr", "AvgCpc",
		"Conversions", "ConversionRate", "CostPerConversion",
	}
	directIntFields   = map[string]bool{"Impressions": true, "Clicks": true, "Conversions": true}
	directFloatFields = map[string]bool{"Cost": true, "Ctr": true, "AvgCpc": true, "ConversionRate": true, "CostPerConversion": true}
)

type DirectOptions struct {
	BaseURL       string
	ReportTimeout time.Duration
	APITimeout    time.Duration
	// RetryDelay is the fixed wait between pending report resubmissions.
	RetryDelay  time.Duration
	MaxAttempts int
	// Now names the report; defaults to time.Now.
	Now func() time.Time
}

// Direct is the ad-platform adapter. Reports are requested in TSV and
// polled while the API answers 201/202; when no report is ready within
// the attempt budget, campaign-level statistics are used instead.
type Direct struct {
	opts    DirectOptions
	reports *retryablehttp.Client
	api     HTTPClient
	log     *slog.Logger
}

func NewDirect(opts DirectOptions, log *slog.Logger) *Direct {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultDirectURL
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 60 * time.Second
	}
	if opts.APITimeout <= 0 {
		opts.APITimeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if log == nil {
		log = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: opts.ReportTimeout}
	rc.Logger = log
	rc.RetryMax = opts.MaxAttempts - 1
	rc.RetryWaitMin, rc.RetryWaitMax = opts.RetryDelay, opts.RetryDelay
	rc.CheckRetry = pendingReport
	rc.Backoff = func(_, _ time.Duration, attempt int, _ *http.Response) time.Duration {
		metrics.DirectPendingRetries.Inc()
		log.Info("direct report pending", slog.Int("attempt", attempt+1))
		return opts.RetryDelay
	}
	// hand the last pending response back instead of an error
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Direct{opts: opts, reports: rc, api: NewHTTPClient(opts.APITimeout), log: log}
}

// pendingReport retries only while the report is still being generated.
// Transport errors are returned as is.
func pendingReport(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted, nil
}

func (d *Direct) Validate(src models.SourceConfig) error {
	switch src.DirectGroupBy {
	case "", "campaign", "day":
		return nil
	}
	return errs.Invalid("direct_group_by", "unknown grouping %q", src.DirectGroupBy)
}

// FieldNames resolves the requested report fields: unknown names are
// dropped, an empty request uses the defaults and day grouping puts Date
// first.
func (d *Direct) FieldNames(src models.SourceConfig) []string {
	fields := whitelist(src.DirectFields, directFields, directDefaultFields, nil)
	if src.DirectGroupBy == "day" && !slices.Contains(fields, "Date") {
		fields = append([]string{"Date"}, fields...)
	}
	return fields
}

type reportFilter struct {
	Field    string  `json:"Field"`
	Operator string  `json:"Operator"`
	Values   []int64 `json:"Values"`
}

type reportCriteria struct {
	DateFrom string         `json:"DateFrom"`
	DateTo   string         `json:"DateTo"`
	Filter   []reportFilter `json:"Filter,omitempty"`
}

type reportParams struct {
	SelectionCriteria reportCriteria `json:"SelectionCriteria"`
	FieldNames        []string       `json:"FieldNames"`
	ReportName        string         `json:"ReportName"`
	ReportType        string         `json:"ReportType"`
	DateRangeType     string         `json:"DateRangeType"`
	Format            string         `json:"Format"`
	IncludeVAT        string         `json:"IncludeVAT"`
	IncludeDiscount   string         `json:"IncludeDiscount"`
}

func (d *Direct) reportRequest(src models.SourceConfig, r period.Range) map[string]reportParams {
	crit := reportCriteria{DateFrom: r.DateFrom(), DateTo: r.DateTo()}
	if len(src.CampaignIDs) > 0 {
		crit.Filter = []reportFilter{{Field: "CampaignId", Operator: "IN", Values: src.CampaignIDs}}
	}
	return map[string]reportParams{"params": {
		SelectionCriteria: crit,
		FieldNames:        d.FieldNames(src),
		ReportName:        "Report_" + d.opts.Now().Format("20060102_150405"),
		ReportType:        "CAMPAIGN_PERFORMANCE_REPORT",
		DateRangeType:     "CUSTOM_DATE",
		Format:            "TSV",
		IncludeVAT:        "YES",
		IncludeDiscount:   "NO",
	}}
}

func (d *Direct) Fetch(ctx context.Context, src models.SourceConfig, r period.Range, token string) (*table.Table, error) {
	body, err := json.Marshal(d.reportRequest(src, r))
	if err != nil {
		return nil, fmt.Errorf("direct: encode report request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.opts.BaseURL+"/reports", body)
	if err != nil {
		return nil, fmt.Errorf("direct: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Language", "ru")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("processingMode", "auto")
	req.Header.Set("returnMoneyInMicros", "false")
	req.Header.Set("skipReportHeader", "true")
	req.Header.Set("skipReportSummary", "true")

	resp, err := d.reports.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.UpstreamError{Service: "direct", Err: err}
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &errs.UpstreamError{Service: "direct", Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK && len(bytes.TrimSpace(raw)) > 0:
		return parseReport(raw), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &errs.UpstreamError{Service: "direct", Status: resp.StatusCode, Message: directMessage(raw)}
	}

	d.log.Warn("direct report unavailable, using campaign statistics",
		slog.String("source_id", src.ID), slog.Int("status", resp.StatusCode))
	if src.DirectGroupBy == "day" {
		d.log.Warn("campaign statistics cannot be grouped by day", slog.String("source_id", src.ID))
	}
	metrics.DirectFallbacks.Inc()
	return d.campaigns(ctx, src, token)
}

// parseReport reads a TSV body whose first line holds the field names.
func parseReport(raw []byte) *table.Table {
	lines := strings.Split(strings.Trim(string(raw), "\r\n"), "\n")
	headers := strings.Split(strings.TrimRight(lines[0], "\r"), "\t")
	cols := make([]string, len(headers))
	for i, h := range headers {
		cols[i] = strings.ToLower(strings.TrimSpace(h))
	}
	out := table.New(cols...)
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		values := strings.Split(line, "\t")
		row := make(table.Row, len(cols))
		for i, h := range headers {
			h = strings.TrimSpace(h)
			switch {
			case i < len(values):
				row[cols[i]] = coerce(h, values[i])
			case directIntFields[h] || directFloatFields[h]:
				row[cols[i]] = coerce(h, "")
			default:
				row[cols[i]] = nil
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// coerce converts the fixed numeric fields; blanks and the API's "--"
// placeholder read as zero.
func coerce(field, v string) any {
	v = strings.TrimSpace(v)
	switch {
	case directIntFields[field]:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int64(f)
		}
		return int64(0)
	case directFloatFields[field]:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return table.Normalize(f)
		}
		return 0.0
	}
	return v
}

type directError struct {
	Error *struct {
		Code   json.Number `json:"error_code"`
		String string      `json:"error_string"`
		Detail string      `json:"error_detail"`
	} `json:"error"`
}

func (e directError) message() string {
	msg := e.Error.String
	if e.Error.Detail != "" {
		msg += ": " + e.Error.Detail
	}
	if e.Error.Code != "" {
		msg = "error_code " + e.Error.Code.String() + ": " + msg
	}
	return msg
}

func directMessage(raw []byte) string {
	var e directError
	if json.Unmarshal(raw, &e) == nil && e.Error != nil {
		return e.message()
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 1024 {
		s = s[:1024]
	}
	return s
}

type campaignsResponse struct {
	directError
	Result struct {
		Campaigns []struct {
			ID         json.Number `json:"Id"`
			Name       string      `json:"Name"`
			Statistics *struct {
				Impressions json.Number `json:"Impressions"`
				Clicks      json.Number `json:"Clicks"`
				Cost        json.Number `json:"Cost"`
			} `json:"Statistics"`
		} `json:"Campaigns"`
	} `json:"result"`
}

var fallbackColumns = []string{"campaign_id", "campaign_name", "impressions", "clicks", "cost"}

// campaigns lists campaign-level statistics, the degraded path when no
// report is available. The output is always one row per campaign.
func (d *Direct) campaigns(ctx context.Context, src models.SourceConfig, token string) (*table.Table, error) {
	crit := map[string]any{}
	if len(src.CampaignIDs) > 0 {
		crit["Ids"] = src.CampaignIDs
	}
	body := map[string]any{
		"method": "get",
		"params": map[string]any{
			"SelectionCriteria": crit,
			"FieldNames":        []string{"Id", "Name", "Statistics"},
		},
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Accept-Language", "ru")
	header.Set("Content-Type", "application/json")

	var res campaignsResponse
	if err := call(ctx, d.api, "direct", http.MethodPost, d.opts.BaseURL+"/campaigns", header, body, &res); err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, &errs.UpstreamError{Service: "direct", Status: http.StatusOK, Message: res.message()}
	}

	out := table.New(fallbackColumns...)
	for _, c := range res.Result.Campaigns {
		row := table.Row{
			"campaign_id":   table.Normalize(c.ID),
			"campaign_name": c.Name,
			"impressions":   int64(0),
			"clicks":        int64(0),
			"cost":          0.0,
		}
		if st := c.Statistics; st != nil {
			row["impressions"] = count(st.Impressions)
			row["clicks"] = count(st.Clicks)
			if f, err := st.Cost.Float64(); err == nil {
				row["cost"] = f
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func count(n json.Number) int64 {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}
