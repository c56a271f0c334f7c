package middleware

import (
	stdcontext "context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/context"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

// ErrorResponse is the body of every failed admin API call.
type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error renders handler errors as ErrorResponse. Client errors are logged at warn.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		code, message, meta := describe(err)

		log := logger.WithContext(ctx).WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			log.Errorf("%s %s failed", c.Request().Method, c.Path())
		} else {
			log.Warnf("%s %s rejected", c.Request().Method, c.Path())
		}

		if c.Response().Committed {
			return
		}
		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}

func describe(err error) (int, string, map[string]any) {
	meta := map[string]any{}

	if httperror.IsHTTPError(err) {
		httperr := httperror.ToHTTPError(err)
		if httperr.Meta != nil {
			meta = httperr.Meta
		}
		return httperror.GetStatusCode(err), httperr.Error(), meta
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
		return he.Code, message, meta
	}

	if errors.Is(err, stdcontext.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "request timed out", meta
	}
	return http.StatusInternalServerError, "Internal Server Error", meta
}
