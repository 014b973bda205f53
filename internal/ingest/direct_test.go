package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/metrics"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/period"
	"github.com/AngelCh415/adreports/internal/table"
)

var testRange = period.Range{
	From: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC),
}

// fakeDirect answers /reports from a status script and /campaigns with a
// fixed body, counting hits on both.
type fakeDirect struct {
	statuses  []int
	report    string
	campaigns string

	reportHits   atomic.Int32
	campaignHits atomic.Int32
	bodies       [][]byte
	headers      []http.Header
}

func (f *fakeDirect) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	switch r.URL.Path {
	case "/reports":
		n := int(f.reportHits.Add(1)) - 1
		f.bodies = append(f.bodies, b)
		f.headers = append(f.headers, r.Header.Clone())
		st := f.statuses[min(n, len(f.statuses)-1)]
		w.WriteHeader(st)
		if st == http.StatusOK || st >= 400 {
			io.WriteString(w, f.report)
		}
	case "/campaigns":
		f.campaignHits.Add(1)
		f.bodies = append(f.bodies, b)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, f.campaigns)
	default:
		http.NotFound(w, r)
	}
}

func newTestDirect(url string) *Direct {
	return NewDirect(DirectOptions{
		BaseURL:    url,
		RetryDelay: 5 * time.Millisecond,
		Now:        func() time.Time { return time.Date(2025, 8, 15, 9, 30, 0, 0, time.UTC) },
	}, nil)
}

const campaignsBody = `{"result":{"Campaigns":[
	{"Id":42,"Name":"Brand","Statistics":{"Impressions":1000,"Clicks":50,"Cost":123.4}},
	{"Id":43,"Name":"Generic"}
]}}`

func TestDirectParsesReport(t *testing.T) {
	f := &fakeDirect{
		statuses: []int{http.StatusOK},
		report:   "CampaignId\tCampaignName\tImpressions\tClicks\tCost\tCtr\n42\tBrand\t1000\t\t12.5\t5\n43\tGeneric\t--\t3\t\t\n",
	}
	srv := httptest.NewServer(f)
	defer srv.Close()

	src := models.SourceConfig{ID: "direct", Type: models.SourceDirect, CampaignIDs: []int64{42, 43},
		DirectFields: []string{"CampaignId", "CampaignName", "Impressions", "Clicks", "Cost", "Ctr", "Bogus"}}
	out, err := newTestDirect(srv.URL).Fetch(context.Background(), src, testRange, "tok")
	require.NoError(t, err)
	require.NoError(t, out.Check())

	assert.Equal(t, []string{"campaignid", "campaignname", "impressions", "clicks", "cost", "ctr"}, out.Columns)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, table.Row{"campaignid": "42", "campaignname": "Brand", "impressions": int64(1000), "clicks": int64(0), "cost": 12.5, "ctr": 5.0}, out.Rows[0])
	assert.Equal(t, table.Row{"campaignid": "43", "campaignname": "Generic", "impressions": int64(0), "clicks": int64(3), "cost": 0.0, "ctr": 0.0}, out.Rows[1])
	assert.EqualValues(t, 1, f.reportHits.Load())
	assert.EqualValues(t, 0, f.campaignHits.Load())

	h := f.headers[0]
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.Equal(t, "ru", h.Get("Accept-Language"))
	assert.Equal(t, "auto", h.Get("processingMode"))
	assert.Equal(t, "false", h.Get("returnMoneyInMicros"))
	assert.Equal(t, "true", h.Get("skipReportHeader"))
	assert.Equal(t, "true", h.Get("skipReportSummary"))

	assert.JSONEq(t, `{"params":{
		"SelectionCriteria":{"DateFrom":"2025-08-01","DateTo":"2025-08-07",
			"Filter":[{"Field":"CampaignId","Operator":"IN","Values":[42,43]}]},
		"FieldNames":["CampaignId","CampaignName","Impressions","Clicks","Cost","Ctr"],
		"ReportName":"Report_20250815_093000",
		"ReportType":"CAMPAIGN_PERFORMANCE_REPORT",
		"DateRangeType":"CUSTOM_DATE",
		"Format":"TSV",
		"IncludeVAT":"YES",
		"IncludeDiscount":"NO"}}`, string(f.bodies[0]))
}

func TestDirectHeaderOnlyReportIsEmptyTable(t *testing.T) {
	f := &fakeDirect{statuses: []int{http.StatusOK}, report: "CampaignId\tClicks\n"}
	srv := httptest.NewServer(f)
	defer srv.Close()

	out, err := newTestDirect(srv.URL).Fetch(context.Background(), models.SourceConfig{ID: "d"}, testRange, "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"campaignid", "clicks"}, out.Columns)
	assert.Equal(t, 0, out.Len())
	assert.EqualValues(t, 0, f.campaignHits.Load())
}

func TestDirectPendingThenReady(t *testing.T) {
	f := &fakeDirect{
		statuses: []int{http.StatusAccepted, http.StatusAccepted, http.StatusOK},
		report:   "CampaignId\tClicks\n42\t7\n",
	}
	srv := httptest.NewServer(f)
	defer srv.Close()

	retries := testutil.ToFloat64(metrics.DirectPendingRetries)
	fallbacks := testutil.ToFloat64(metrics.DirectFallbacks)

	out, err := newTestDirect(srv.URL).Fetch(context.Background(), models.SourceConfig{ID: "d"}, testRange, "tok")
	require.NoError(t, err)
	assert.Equal(t, []table.Row{{"campaignid": "42", "clicks": int64(7)}}, out.Rows)

	assert.EqualValues(t, 3, f.reportHits.Load())
	assert.EqualValues(t, 0, f.campaignHits.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DirectPendingRetries)-retries)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.DirectFallbacks)-fallbacks)
	// every attempt resubmits the identical request
	assert.Equal(t, f.bodies[0], f.bodies[1])
	assert.Equal(t, f.bodies[0], f.bodies[2])
}

func TestDirectPendingExhaustedFallsBack(t *testing.T) {
	f := &fakeDirect{
		statuses:  []int{http.StatusCreated, http.StatusAccepted, http.StatusAccepted},
		campaigns: campaignsBody,
	}
	srv := httptest.NewServer(f)
	defer srv.Close()

	retries := testutil.ToFloat64(metrics.DirectPendingRetries)
	src := models.SourceConfig{ID: "d", CampaignIDs: []int64{42, 43}, DirectGroupBy: "day"}
	out, err := newTestDirect(srv.URL).Fetch(context.Background(), src, testRange, "tok")
	require.NoError(t, err)

	assert.EqualValues(t, 3, f.reportHits.Load())
	assert.EqualValues(t, 1, f.campaignHits.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DirectPendingRetries)-retries)

	assert.Equal(t, []string{"campaign_id", "campaign_name", "impressions", "clicks", "cost"}, out.Columns)
	assert.Equal(t, []table.Row{
		{"campaign_id": int64(42), "campaign_name": "Brand", "impressions": int64(1000), "clicks": int64(50), "cost": 123.4},
		{"campaign_id": int64(43), "campaign_name": "Generic", "impressions": int64(0), "clicks": int64(0), "cost": 0.0},
	}, out.Rows)

	var req map[string]any
	require.NoError(t, json.Unmarshal(f.bodies[3], &req))
	assert.Equal(t, "get", req["method"])
	assert.Equal(t, map[string]any{
		"SelectionCriteria": map[string]any{"Ids": []any{42.0, 43.0}},
		"FieldNames":        []any{"Id", "Name", "Statistics"},
	}, req["params"])
}

func TestDirectServerErrorFallsBack(t *testing.T) {
	f := &fakeDirect{statuses: []int{http.StatusInternalServerError}, campaigns: `{"result":{"Campaigns":[]}}`}
	srv := httptest.NewServer(f)
	defer srv.Close()

	out, err := newTestDirect(srv.URL).Fetch(context.Background(), models.SourceConfig{ID: "d"}, testRange, "tok")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.reportHits.Load())
	assert.EqualValues(t, 1, f.campaignHits.Load())
	assert.Equal(t, 0, out.Len())
	assert.Len(t, out.Columns, 5)
}

func TestDirectClientErrorIsUpstreamError(t *testing.T) {
	f := &fakeDirect{
		statuses: []int{http.StatusBadRequest},
		report:   `{"error":{"error_code":8000,"error_string":"Invalid request","error_detail":"unknown field"}}`,
	}
	srv := httptest.NewServer(f)
	defer srv.Close()

	_, err := newTestDirect(srv.URL).Fetch(context.Background(), models.SourceConfig{ID: "d"}, testRange, "tok")
	require.Error(t, err)
	var ue *errs.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Equal(t, "error_code 8000: Invalid request: unknown field", ue.Message)
	assert.EqualValues(t, 1, f.reportHits.Load())
	assert.EqualValues(t, 0, f.campaignHits.Load())
}

func TestDirectFallbackErrorEnvelope(t *testing.T) {
	f := &fakeDirect{
		statuses:  []int{http.StatusBadGateway},
		campaigns: `{"error":{"error_code":53,"error_string":"Authorization error","error_detail":""}}`,
	}
	srv := httptest.NewServer(f)
	defer srv.Close()

	_, err := newTestDirect(srv.URL).Fetch(context.Background(), models.SourceConfig{ID: "d"}, testRange, "tok")
	var ue *errs.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "error_code 53: Authorization error", ue.Message)
	assert.Equal(t, errs.KindUpstream, errs.KindOf(err))
}

func TestDirectCanceledWhilePending(t *testing.T) {
	f := &fakeDirect{statuses: []int{http.StatusAccepted}}
	srv := httptest.NewServer(f)
	defer srv.Close()

	d := NewDirect(DirectOptions{BaseURL: srv.URL, RetryDelay: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Fetch(ctx, models.SourceConfig{ID: "d"}, testRange, "tok")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 0, f.campaignHits.Load())
}

func TestDirectFieldNames(t *testing.T) {
	d := NewDirect(DirectOptions{}, nil)

	assert.Equal(t, directDefaultFields, d.FieldNames(models.SourceConfig{}))
	assert.Equal(t, directDefaultFields, d.FieldNames(models.SourceConfig{DirectFields: []string{"Nope", "Revenue"}}))
	assert.Equal(t, []string{"Clicks", "Cost"}, d.FieldNames(models.SourceConfig{DirectFields: []string{"Clicks", "Nope", "Cost", "Clicks"}}))
	assert.Equal(t, []string{"Date", "Clicks"}, d.FieldNames(models.SourceConfig{DirectFields: []string{"Clicks"}, DirectGroupBy: "day"}))
	assert.Equal(t, []string{"Clicks", "Date"}, d.FieldNames(models.SourceConfig{DirectFields: []string{"Clicks", "Date"}, DirectGroupBy: "day"}))

	src := models.SourceConfig{DirectFields: []string{"Bogus"}}
	d.FieldNames(src)
	assert.Equal(t, []string{"Bogus"}, src.DirectFields)

	assert.NoError(t, d.Validate(models.SourceConfig{DirectGroupBy: "day"}))
	assert.Error(t, d.Validate(models.SourceConfig{DirectGroupBy: "week"}))
}

func TestDirectDefaults(t *testing.T) {
	d := NewDirect(DirectOptions{}, nil)
	assert.Equal(t, DefaultDirectURL, d.opts.BaseURL)
	assert.Equal(t, 3, d.opts.MaxAttempts)
	assert.Equal(t, 5*time.Second, d.opts.RetryDelay)
	assert.Equal(t, 2, d.reports.RetryMax)
	assert.Equal(t, 60*time.Second, d.reports.HTTPClient.Timeout)
	api, ok := d.api.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, api.Timeout)

	retries := testutil.ToFloat64(metrics.DirectPendingRetries)
	for attempt := range 2 {
		wait := d.reports.Backoff(d.reports.RetryWaitMin, d.reports.RetryWaitMax, attempt, &http.Response{StatusCode: http.StatusAccepted})
		assert.Equal(t, 5*time.Second, wait, "attempt %d", attempt)
	}
	assert.Equal(t, retries+2, testutil.ToFloat64(metrics.DirectPendingRetries))
}
