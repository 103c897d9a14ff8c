package metrics_test

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/dealmatch/pkg/metrics"
)

func TestManagerRecords(t *testing.T) {
	m := metrics.NewManager()

	m.RunFinished("ok", 3*time.Second)
	m.SubjectDone(2, 1, []float64{44, 91})
	m.SubjectFailed()
	m.InvariantViolated()
	m.Assessed("approved")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				got[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, got["dealmatch_pipeline_runs_total"])
	assert.Equal(t, 2.0, got["dealmatch_pipeline_matches_written_total"])
	assert.Equal(t, 1.0, got["dealmatch_pipeline_matches_pruned_total"])
	assert.Equal(t, 1.0, got["dealmatch_pipeline_invariant_violations_total"])
	assert.Equal(t, 1.0, got["dealmatch_validation_assessments_total"])
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *metrics.Manager
	assert.NotPanics(t, func() {
		m.RunFinished("failed", time.Second)
		m.SubjectDone(1, 0, []float64{50})
		m.PageFailed()
		m.Assessed("error")
	})
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := metrics.NewManager(metrics.WithNamespace("test"))
	m.RunFinished("partial", time.Second)

	path := filepath.Join(t.TempDir(), "dealmatch.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `test_pipeline_runs_total{result="partial"} 1`)
}

func TestHandler(t *testing.T) {
	m := metrics.NewManager()
	m.PageFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "dealmatch_pipeline_pages_failed_total 1")
}
