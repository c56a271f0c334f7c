package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/context"
)

// HeaderUserID carries the operator identity when auth is disabled.
const HeaderUserID = "X-User-ID"

// Context stores request metadata on the request context and echoes the request id.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := context.SetRequestID(req.Context(), requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, c.Path())
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			if operator := req.Header.Get(HeaderUserID); operator != "" {
				ctx = context.SetUserID(ctx, operator)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
