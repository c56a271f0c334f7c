package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, checker *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	checker.RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func healthy(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		checker := NewChecker("1.0.0")
		checker.AddCheck("database", healthy)
		checker.AddCheck("object_store", healthy)

		code, resp := serve(t, checker, "/api/v1/health")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusHealthy, resp.Status)
		assert.Equal(t, "1.0.0", resp.Version)
		assert.Len(t, resp.Checks, 2)
	})

	t.Run("critical failure", func(t *testing.T) {
		checker := NewChecker("1.0.0")
		checker.AddCheck("database", func(context.Context) error { return errors.New("connection refused") })
		checker.AddOptionalCheck("kafka", healthy)

		code, resp := serve(t, checker, "/api/v1/health")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, StatusUnhealthy, resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["database"].Message)
	})

	t.Run("optional failure degrades", func(t *testing.T) {
		checker := NewChecker("1.0.0")
		checker.AddCheck("database", healthy)
		checker.AddOptionalCheck("redis", func(context.Context) error { return errors.New("timeout") })

		code, resp := serve(t, checker, "/api/v1/health")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusDegraded, resp.Status)
	})

	t.Run("nil check is unhealthy", func(t *testing.T) {
		checker := NewChecker("1.0.0")
		checker.AddCheck("database", nil)

		_, resp := serve(t, checker, "/api/v1/health")
		assert.Equal(t, StatusUnhealthy, resp.Checks["database"].Status)
	})
}

func TestReadinessHandler(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddCheck("database", healthy)

	code, resp := serve(t, checker, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Checks, "startup")

	checker.SetReady(true)
	code, resp = serve(t, checker, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestLivenessHandler(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddCheck("database", func(context.Context) error { return errors.New("down") })

	code, resp := serve(t, checker, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestNames(t *testing.T) {
	checker := NewChecker("dev")
	checker.AddCheck("redis", healthy)
	checker.AddCheck("database", healthy)

	assert.Equal(t, []string{"database", "redis"}, checker.Names())
}

func TestAddCheckReplacesByName(t *testing.T) {
	checker := NewChecker("dev")
	checker.AddCheck("database", func(context.Context) error { return errors.New("stale client") })
	checker.AddCheck("database", healthy)

	results := checker.RunChecks(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, StatusHealthy, results["database"].Status)
}
