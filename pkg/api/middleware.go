package api

import (
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

const requestIDHeader = "X-Request-ID"

// requestID assigns a correlation id to every request that arrives
// without one, and echoes it back on the response either way. Error logs
// and DLQ entries downstream carry the same id so an operator can trace
// one webhook through the pipeline.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
				c.Request().Header.Set(requestIDHeader, id)
			}
			c.Response().Header().Set(requestIDHeader, id)
			return next(c)
		}
	}
}

// securityHeaders sets the standard browser-hardening response headers.
// The API serves no HTML, so these mostly matter when a response is
// opened directly in a browser.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}
