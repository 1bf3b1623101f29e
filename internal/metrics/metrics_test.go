package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordChainOperation(t *testing.T) {
	m := New()

	m.RecordChainOperation("append", nil, time.Millisecond)
	m.RecordChainOperation("append", nil, time.Millisecond)
	m.RecordChainOperation("append", errors.New("x"), time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChainOperationsTotal.WithLabelValues("append", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChainOperationsTotal.WithLabelValues("append", "error")))
}

func TestRecordTemporalLookup(t *testing.T) {
	m := New()

	m.RecordTemporalLookup("checkpoint", "none", 3)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordMetadataWrite(true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TemporalLookupsTotal.WithLabelValues("checkpoint", "none")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.LatestResultsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CheckpointCacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CheckpointCacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MetadataWritesReused))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordChainOperation("delete", nil, time.Millisecond)
		m.RecordIntegrityViolation()
		m.RecordTemporalLookup("none", "none", 0)
		m.RecordCacheLookup(true)
		m.RecordMetadataWrite(false)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordIntegrityViolation()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkpoint_chain_integrity_violations_total 1")
}
