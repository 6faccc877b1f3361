package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healermy/portal/internal/platform/session"
)

// RequireRole returns middleware that only admits sessions holding one of
// the given roles. It runs inside the session middleware, so a missing
// session is a misconfigured route rather than a client error.
func RequireRole(roles ...session.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := session.FromContext(c)
			if sess == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "no session")
			}
			for _, required := range roles {
				if sess.Role == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", joinRoles(roles)))
		}
	}
}

func joinRoles(roles []session.Role) string {
	out := ""
	for i, r := range roles {
		if i > 0 {
			out += " or "
		}
		out += string(r)
	}
	return out
}
