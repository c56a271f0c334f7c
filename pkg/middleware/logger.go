package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/context"
)

// Logger writes one access log line per request. Probe and scrape traffic is logged at debug.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			log := logger.WithContext(req.Context()).WithFields(map[string]interface{}{
				"request_id":  context.GetRequestID(req.Context()),
				"user_id":     context.GetUserID(req.Context()),
				"method":      req.Method,
				"route":       c.Path(),
				"status":      res.Status,
				"bytes":       res.Size,
				"duration_ms": time.Since(start).Milliseconds(),
			})

			switch {
			case isProbe(c.Path()):
				log.Debugf("%s %s", req.Method, req.URL.Path)
			case res.Status >= http.StatusInternalServerError:
				log.Errorf("%s %s", req.Method, req.URL.Path)
			default:
				log.Infof("%s %s", req.Method, req.URL.Path)
			}
			return nil
		}
	}
}

func isProbe(route string) bool {
	return route == "/metrics" || strings.HasPrefix(route, "/api/v1/health")
}
