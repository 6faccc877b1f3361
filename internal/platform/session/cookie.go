package session

import (
	"net/http"
	"time"
)

// CookieConfig carries the deployment-dependent cookie attributes. Secure is
// on in production; Domain is usually empty (host-only cookie).
type CookieConfig struct {
	Domain string
	Secure bool
	TTL    time.Duration
}

// NewCookie builds the session cookie carrying an encrypted value. The
// cookie is HttpOnly and SameSite=Strict so scripts never see it and
// cross-site requests never send it.
func NewCookie(value string, cfg CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   int(cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearCookie builds a cookie that instructs the browser to drop the session
// immediately (serialized as Max-Age=0).
func ClearCookie(cfg CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
