package session

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// contextKey is the echo context key the middleware stores the session under.
const contextKey = "session"

// Middleware rejects requests without a usable session and stores the
// session on the context for downstream handlers. The 401 body uses the same
// shape as the session-status endpoint so clients decode one payload.
func (r *Reader) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := r.Read(c)
			if !res.Authenticated() {
				return c.JSON(http.StatusUnauthorized, Status{
					Authenticated: false,
					Expired:       res.State == StateExpired,
				})
			}
			c.Set(contextKey, res.Session)
			return next(c)
		}
	}
}

// FromContext returns the session stored by Middleware, or nil when the
// request did not pass it.
func FromContext(c echo.Context) *Session {
	sess, _ := c.Get(contextKey).(*Session)
	return sess
}
