package httpx

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/adreports/internal/credentials"
	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/export"
	"github.com/AngelCh415/adreports/internal/ingest"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/pipeline"
	"github.com/AngelCh415/adreports/internal/store"
	"github.com/AngelCh415/adreports/internal/table"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(t *testing.T, creds credentials.Provider) *httptest.Server {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "CampaignId\tCampaignName\tClicks\n42\tBrand\t50\n43\tGeneric\t8\n44\tOther\t0\n")
	}))
	t.Cleanup(direct.Close)

	reg := ingest.Registry{
		models.SourceDirect: ingest.NewDirect(ingest.DirectOptions{BaseURL: direct.URL, RetryDelay: time.Millisecond}, quiet),
	}
	runner := &pipeline.Runner{
		Pipeline: pipeline.New(reg, creds, quiet, nil),
		Sinks:    export.Mux{"csv": export.CSVSink{Dir: t.TempDir()}},
		Runs:     store.NewMemoryStore(),
		Log:      quiet,
	}
	srv := httptest.NewServer(NewRouter(quiet, runner))
	t.Cleanup(srv.Close)
	return srv
}

const reportBody = `{"name":"weekly","config":{
	"sources":[{"id":"direct","type":"direct","direct_fields":["CampaignId","CampaignName","Clicks"]}],
	"period":{"type":"custom","date_from":"2025-08-01","date_to":"2025-08-07"},
	"transformations":[{"type":"sort","column":"clicks","ascending":false}]
}}`

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	srv := newServer(t, credentials.Static{"direct": "tok"})
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/healthz").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/readyz").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/metrics").StatusCode)
}

func TestPreviewPages(t *testing.T) {
	srv := newServer(t, credentials.Static{"direct": "tok"})
	resp := post(t, srv.URL+"/reports/preview?limit=2&offset=1", reportBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-Total-Rows"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out table.Table
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{"campaignid", "campaignname", "clicks"}, out.Columns)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "Generic", out.Rows[0]["campaignname"])
	assert.Equal(t, "Other", out.Rows[1]["campaignname"])
}

func TestPreviewErrors(t *testing.T) {
	srv := newServer(t, credentials.Static{})

	resp := post(t, srv.URL+"/reports/preview", reportBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, errs.KindAuth, body.Kind)
	assert.Equal(t, "fetch:direct", body.Stage)

	resp = post(t, srv.URL+"/reports/preview", `{"config":{"sources":[{"id":"d","type":"direct"}],"period":{"type":"fortnight"}}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body = decodeError(t, resp)
	assert.Equal(t, errs.KindValidation, body.Kind)
	assert.Equal(t, errs.StagePeriod, body.Stage)

	resp = post(t, srv.URL+"/reports/preview", `{"config":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errs.KindValidation, decodeError(t, resp).Kind)
}

func TestValidateEndpoint(t *testing.T) {
	srv := newServer(t, credentials.Static{})
	resp := post(t, srv.URL+"/reports/validate", reportBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "2025-08-01", body["date_from"])
	assert.Equal(t, "2025-08-07", body["date_to"])
}

func TestRunAndListRuns(t *testing.T) {
	srv := newServer(t, credentials.Static{"direct": "tok"})

	resp := post(t, srv.URL+"/reports/run", reportBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var run models.ReportRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, "weekly", run.ReportName)
	assert.Equal(t, 3, run.RowCount)

	resp = get(t, srv.URL+"/runs/"+run.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.ReportRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, run.ID, got.ID)

	failed := strings.Replace(reportBody, `"period":{`, `"export":{"type":"google_sheets"},"period":{`, 1)
	resp = post(t, srv.URL+"/reports/run", failed)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Run-ID"))
	assert.Equal(t, errs.StageExport, decodeError(t, resp).Stage)

	resp = get(t, srv.URL+"/runs?limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []models.ReportRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 2)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, models.RunCompleted, runs[1].Status)

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/runs/missing").StatusCode)
}
