package cmdlog

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"hsexport/internal/logging"
	"hsexport/internal/metrics"
)

func TestRunCountsErrors(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.SetOutput(&buf)
	defer logging.SetOutput(prev)

	runs := testutil.ToFloat64(metrics.CommandRuns.WithLabelValues("cmdlog-test"))
	errs := testutil.ToFloat64(metrics.CommandErrors.WithLabelValues("cmdlog-test"))

	assert.NoError(t, Run("cmdlog-test", func() error { return nil }))
	boom := errors.New("boom")
	assert.ErrorIs(t, Run("cmdlog-test", func() error { return boom }), boom)

	assert.Equal(t, runs+2, testutil.ToFloat64(metrics.CommandRuns.WithLabelValues("cmdlog-test")))
	assert.Equal(t, errs+1, testutil.ToFloat64(metrics.CommandErrors.WithLabelValues("cmdlog-test")))
	assert.Contains(t, buf.String(), `"message":"cmdlog-test_ok"`)
	assert.Contains(t, buf.String(), `"message":"cmdlog-test_error"`)
}
