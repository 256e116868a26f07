package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.ErrUnavailable }

func decode(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	return status
}

func TestHandler_HealthStates(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]Checker
		wantCode int
		want     string
	}{
		{"all healthy", map[string]Checker{"postgres": CheckerFunc(ok), "redis": CheckerFunc(ok)}, http.StatusOK, statusHealthy},
		{"partial outage", map[string]Checker{"postgres": CheckerFunc(ok), "redis": CheckerFunc(down)}, http.StatusOK, statusDegraded},
		{"total outage", map[string]Checker{"postgres": CheckerFunc(down)}, http.StatusServiceUnavailable, statusUnhealthy},
		{"nil checkers ignored", map[string]Checker{"postgres": CheckerFunc(ok), "clickhouse": nil}, http.StatusOK, statusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(logger.Nop(), "chainintel", "test", tt.checks)
			rec := httptest.NewRecorder()
			h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			status := decode(t, rec)
			assert.Equal(t, tt.want, status.Status)
			assert.NotContains(t, status.Checks, "clickhouse")
		})
	}
}

func TestHandler_ReadinessRequiresEveryCheck(t *testing.T) {
	h := New(logger.Nop(), "chainintel", "test", map[string]Checker{
		"postgres": CheckerFunc(ok),
		"redis":    CheckerFunc(down),
	})

	rec := httptest.NewRecorder()
	h.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, statusUnhealthy, status.Checks["redis"].Status)
	assert.Equal(t, errors.ErrUnavailable.Error(), status.Checks["redis"].Error)
}

func TestHandler_Liveness(t *testing.T) {
	h := New(logger.Nop(), "chainintel", "test", nil)
	rec := httptest.NewRecorder()
	h.HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
