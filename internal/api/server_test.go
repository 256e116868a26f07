package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/api/health"
	pipelineservice "chainintel/internal/services/pipeline"
	"chainintel/internal/workers"
	"chainintel/pkg/logger"
)

type staticStats struct {
	snapshot pipelineservice.MetricsSnapshot
}

func (s staticStats) GetMetrics() pipelineservice.MetricsSnapshot { return s.snapshot }

type staticWorkers map[string]workers.WorkerHealth

func (s staticWorkers) GetAllHealth() map[string]workers.WorkerHealth { return s }

func TestMux_Stats(t *testing.T) {
	mux := NewMux(ServerConfig{
		ServiceName: "chainintel",
		Stats:       staticStats{pipelineservice.MetricsSnapshot{Processed: 10, Failed: 1}},
		Workers:     staticWorkers{"batch_sweeper": {RunCount: 3, Enabled: true}},
	}, health.New(logger.Nop(), "chainintel", "test", nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.EqualValues(t, 10, got["processed"])
	assert.EqualValues(t, 1, got["failed"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"batch_sweeper"`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMux_StatsOptional(t *testing.T) {
	mux := NewMux(ServerConfig{}, health.New(logger.Nop(), "chainintel", "test", nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
