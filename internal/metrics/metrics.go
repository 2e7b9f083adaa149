package metrics

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hsexport_command_runs_total",
		Help: "Total command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hsexport_command_errors_total",
		Help: "Total failed command invocations",
	}, []string{"command"})
	ExportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hsexport_export_duration_seconds",
		Help:    "Export run duration seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	DealPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hsexport_deal_pages_total",
		Help: "Deal list pages fetched",
	})
	DealsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hsexport_deals_fetched_total",
		Help: "Deals fetched from the CRM",
	})
	ActivityFiles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hsexport_activity_files_written_total",
		Help: "Activity files written",
	})
	BatchReadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hsexport_batch_read_failures_total",
		Help: "Batch read chunks skipped after a failure",
	}, []string{"type"})
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hsexport_api_requests_total",
		Help: "CRM API requests by endpoint and status code",
	}, []string{"endpoint", "code"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hsexport_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hsexport_token_refreshes_total",
		Help: "OAuth token refresh attempts by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(CommandRuns, CommandErrors, ExportDuration, DealPages, DealsFetched,
		ActivityFiles, BatchReadFailures, APIRequests, APIRetries, TokenRefreshes)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// WriteTextfile dumps the default registry in text format, for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// ObserveExportDuration records a run duration.
func ObserveExportDuration(start time.Time) {
	ExportDuration.Observe(time.Since(start).Seconds())
}

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

// IncAPIRequest counts one completed request; code 0 means no response was received.
func IncAPIRequest(endpoint string, code int) {
	APIRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func IncTokenRefresh(ok bool) {
	if ok {
		TokenRefreshes.WithLabelValues("success").Inc()
		return
	}
	TokenRefreshes.WithLabelValues("failure").Inc()
}

func IncBatchReadFailure(typ string) { BatchReadFailures.WithLabelValues(typ).Inc() }
