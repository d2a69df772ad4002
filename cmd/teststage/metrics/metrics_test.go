package metrics

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbd-testing/teststage/pkg/types"
)

func sessionInfo() *types.SessionInfo {
	info := types.NewSessionInfo("run-1", "cfgA")
	info.Outcome = types.TestFailure
	info.Duration = 90 * time.Second
	info.Records = map[types.Status]int{types.Passed: 3, types.Failed: 1}
	return info
}

func TestRecordSession(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordSession(sessionInfo())
	r.RecordSession(sessionInfo())

	sessions := r.Sessions.With(prometheus.Labels{"configuration": "cfgA", "outcome": "test_failure", "error_kind": "none"})
	assert.Equal(t, float64(2), testutil.ToFloat64(sessions))
	assert.Equal(t, float64(90), testutil.ToFloat64(r.SessionDuration.With(prometheus.Labels{"configuration": "cfgA"})))
	assert.Equal(t, float64(3), testutil.ToFloat64(r.Records.With(prometheus.Labels{"configuration": "cfgA", "status": "passed"})))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.Records.With(prometheus.Labels{"configuration": "cfgA", "status": "error"})))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordSession(sessionInfo())
	r.RecordRun(types.TestFailure, time.Minute)

	path := filepath.Join(t.TempDir(), "teststage.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "teststage_run_outcome 1")
	assert.Contains(t, string(data), `teststage_sessions_total{configuration="cfgA",error_kind="none",outcome="test_failure"} 1`)
}

func TestPush(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder(nil)
	r.RecordRun(types.Success, time.Second)
	require.NoError(t, r.Push(srv.URL, "run-1"))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/teststage/run_id/run-1", path)
}
