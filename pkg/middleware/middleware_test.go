package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	utils "github.com/MarkPhamm/consumer-complaint-pipeline/pkg/context"
)

type staticVerifier struct {
	token  string
	claims UserClaims
}

func (v staticVerifier) Verify(_ context.Context, raw string) (*UserClaims, error) {
	if raw != v.token {
		return nil, errors.New("signature mismatch")
	}
	claims := v.claims
	return &claims, nil
}

func newTestServer() *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	e.Use(Logger(logger))
	return e
}

func TestContextMiddleware(t *testing.T) {
	e := newTestServer()
	e.GET("/ping", func(c echo.Context) error {
		ctx := c.Request().Context()
		return c.JSON(http.StatusOK, map[string]string{
			"request_id": utils.GetRequestID(ctx),
			"user_id":    utils.GetUserID(ctx),
			"method":     utils.GetMethod(ctx),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	req.Header.Set(HeaderUserID, "operator")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-123", body["request_id"])
	assert.Equal(t, "operator", body["user_id"])
	assert.Equal(t, http.MethodGet, body["method"])
	assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestContextMiddlewareGeneratesRequestID(t *testing.T) {
	e := newTestServer()
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, utils.GetRequestID(c.Request().Context()))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, rec.Body.String())
	assert.Equal(t, rec.Body.String(), rec.Header().Get(echo.HeaderXRequestID))
}

func TestErrorHandler(t *testing.T) {
	e := newTestServer()
	e.GET("/missing", func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusNotFound, "run not found")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("database exploded")
	})
	e.GET("/slow", func(c echo.Context) error {
		return fmt.Errorf("validation query: %w", context.DeadlineExceeded)
	})

	t.Run("http error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/missing", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-404")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "run not found", resp.Message)
		assert.Equal(t, "req-404", resp.RequestID)
	})

	t.Run("plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Internal Server Error", resp.Message)
	})

	t.Run("deadline", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAuthentication(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := newTestServer()
	verifier := staticVerifier{token: "good", claims: UserClaims{Sub: "user-1"}}
	e.GET("/secure", func(c echo.Context) error {
		return c.String(http.StatusOK, utils.GetUserID(c.Request().Context()))
	}, Authentication(logger, verifier))

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{name: "missing header", header: "", code: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", code: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer bad", code: http.StatusUnauthorized},
		{name: "good token", header: "Bearer good", code: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/secure", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, "user-1", rec.Body.String())
			}
		})
	}
}
