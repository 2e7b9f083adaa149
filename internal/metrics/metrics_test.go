package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposure(t *testing.T) {
	IncCommandRun("export")
	IncCommandError("export")
	DealPages.Inc()
	DealsFetched.Add(3)
	ActivityFiles.Inc()
	IncBatchReadFailure("notes")
	IncAPIRequest("/crm/v3/objects/deals", http.StatusOK)
	IncAPIRetry("/crm/v3/objects/deals")
	IncTokenRefresh(true)
	ObserveExportDuration(time.Now().Add(-1500 * time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, m := range []string{
		"hsexport_command_runs_total",
		"hsexport_command_errors_total",
		"hsexport_export_duration_seconds",
		"hsexport_deal_pages_total",
		"hsexport_deals_fetched_total",
		"hsexport_activity_files_written_total",
		"hsexport_batch_read_failures_total",
		"hsexport_api_requests_total",
		"hsexport_api_retries_total",
		"hsexport_token_refreshes_total",
	} {
		assert.Contains(t, body, m)
	}
}

func TestWriteTextfile(t *testing.T) {
	DealsFetched.Inc()
	path := filepath.Join(t.TempDir(), "hsexport.prom")
	require.NoError(t, WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "hsexport_deals_fetched_total")

	assert.NoError(t, WriteTextfile(""), "empty path is a no-op")
}
