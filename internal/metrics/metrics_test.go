package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		ObserveProviderCall("memory", "replace", time.Now(), nil)
		ObserveProviderCall("memory", "replace", time.Now(), errors.New("down"))
		AddRollovers(0)
		AddRollovers(2)
		ObserveBotUpdate(time.Now())
	})
}

func TestSyncRunCounter(t *testing.T) {
	before := testutil.ToFloat64(syncRuns.WithLabelValues("upload", "failed"))
	ObserveSyncRun("upload", false)
	assert.Equal(t, before+1, testutil.ToFloat64(syncRuns.WithLabelValues("upload", "failed")))
}

func TestPendingGauge(t *testing.T) {
	SetPending(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(pendingChanges))
	SetPending(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(pendingChanges))
}

func TestHandler(t *testing.T) {
	Register()
	IncHTTP("healthz")

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "dayroll_http_requests_total")
}

func TestBotCommandCounter(t *testing.T) {
	before := testutil.ToFloat64(botCommands.WithLabelValues("today"))
	IncBotCommand("today")
	assert.Equal(t, before+1, testutil.ToFloat64(botCommands.WithLabelValues("today")))
}
