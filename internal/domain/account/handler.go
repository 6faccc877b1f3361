// Package account serves the session surface of the portal: the login flow
// that creates the cookie, the status endpoint behind the "who am I" call,
// the refresh grant and logout. These endpoints run outside the session
// middleware because most of them must answer for absent or expired
// sessions too.
package account

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healermy/portal/internal/platform/auth"
	"github.com/healermy/portal/internal/platform/session"
)

// LoginFlow is the slice of the relying party the handler drives.
// *auth.RelyingParty satisfies it.
type LoginFlow interface {
	BeginLogin(role session.Role) (string, error)
	CompleteLogin(ctx context.Context, state, code string) (*session.Session, error)
	Refresh(ctx context.Context, sess *session.Session) (*session.Session, error)
}

// Config wires the account handler. Flow may be nil when no identity
// provider is configured; the login and refresh endpoints then answer 503.
type Config struct {
	Reader *session.Reader
	Codec  *session.Codec
	Flow   LoginFlow
	Cookie session.CookieConfig
	// PostLoginURL is where the callback sends the browser once the cookie
	// is set. Empty means the application root.
	PostLoginURL string
	Logger       zerolog.Logger
}

// Handler exposes the session and login endpoints.
type Handler struct {
	reader       *session.Reader
	codec        *session.Codec
	flow         LoginFlow
	cookie       session.CookieConfig
	postLoginURL string
	logger       zerolog.Logger
}

// NewHandler creates the account handler.
func NewHandler(cfg Config) *Handler {
	postLogin := cfg.PostLoginURL
	if postLogin == "" {
		postLogin = "/"
	}
	return &Handler{
		reader:       cfg.Reader,
		codec:        cfg.Codec,
		flow:         cfg.Flow,
		cookie:       cfg.Cookie,
		postLoginURL: postLogin,
		logger:       cfg.Logger.With().Str("component", "account").Logger(),
	}
}

// RegisterSessionRoutes mounts the session endpoints. The group must NOT
// carry the session middleware: refresh has to accept expired sessions and
// the status endpoint reports the unauthenticated case itself.
func (h *Handler) RegisterSessionRoutes(g *echo.Group) {
	g.GET("/session", h.GetSession)
	g.DELETE("/session", h.Logout)
	g.POST("/session/refresh", h.Refresh)
}

// RegisterAuthRoutes mounts the browser-facing login flow.
func (h *Handler) RegisterAuthRoutes(g *echo.Group) {
	g.GET("/login", h.Login)
	g.GET("/callback", h.Callback)
}

// GetSession handles GET /api/v1/session. It answers 200 with the redacted
// profile for a live session and 401 otherwise; tokens never appear in the
// body.
func (h *Handler) GetSession(c echo.Context) error {
	res := h.reader.Read(c)
	if !res.Authenticated() {
		return c.JSON(http.StatusUnauthorized, session.Status{
			Authenticated: false,
			Expired:       res.State == session.StateExpired,
		})
	}

	profile := res.Session.Redacted()
	return c.JSON(http.StatusOK, session.Status{Authenticated: true, Session: &profile})
}

// Logout handles DELETE /api/v1/session. It always clears the cookie, even
// when the request carries none.
func (h *Handler) Logout(c echo.Context) error {
	c.SetCookie(session.ClearCookie(h.cookie))
	return c.NoContent(http.StatusNoContent)
}

// Refresh handles POST /api/v1/session/refresh. An expired session is fine
// here as long as it still carries a refresh token; any failure clears the
// cookie so the client restarts from login.
func (h *Handler) Refresh(c echo.Context) error {
	if h.flow == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "login is not configured")
	}

	res := h.reader.Read(c)
	if res.Session == nil {
		c.SetCookie(session.ClearCookie(h.cookie))
		return c.JSON(http.StatusUnauthorized, session.Status{Authenticated: false})
	}

	refreshed, err := h.flow.Refresh(c.Request().Context(), res.Session)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("subject", res.Session.SubjectReference()).
			Msg("refresh grant failed")
		c.SetCookie(session.ClearCookie(h.cookie))
		return c.JSON(http.StatusUnauthorized, session.Status{
			Authenticated: false,
			Expired:       res.State == session.StateExpired,
		})
	}

	value, err := h.codec.Encrypt(refreshed)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not seal session")
	}
	c.SetCookie(session.NewCookie(value, h.cookie))

	profile := refreshed.Redacted()
	return c.JSON(http.StatusOK, session.Status{Authenticated: true, Session: &profile})
}

// Login handles GET /auth/login. The optional role query parameter selects
// the practitioner flow; the default is a patient login.
func (h *Handler) Login(c echo.Context) error {
	if h.flow == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "login is not configured")
	}

	role := session.Role(c.QueryParam("role"))
	if role == "" {
		role = session.RolePatient
	}

	authURL, err := h.flow.BeginLogin(role)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown role")
	}
	return c.Redirect(http.StatusFound, authURL)
}

// Callback handles GET /auth/callback: code exchange, session creation,
// cookie seal, redirect into the application.
func (h *Handler) Callback(c echo.Context) error {
	if h.flow == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "login is not configured")
	}

	if errCode := c.QueryParam("error"); errCode != "" {
		h.logger.Warn().
			Str("error", errCode).
			Str("description", c.QueryParam("error_description")).
			Msg("identity provider rejected the login")
		return echo.NewHTTPError(http.StatusUnauthorized, "identity provider rejected the login")
	}

	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "state and code query parameters are required")
	}

	sess, err := h.flow.CompleteLogin(c.Request().Context(), state, code)
	if err != nil {
		if errors.Is(err, auth.ErrFlowNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "login flow expired or unknown")
		}
		h.logger.Error().Err(err).Msg("login completion failed")
		return echo.NewHTTPError(http.StatusUnauthorized, "login failed")
	}

	value, err := h.codec.Encrypt(sess)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not seal session")
	}
	c.SetCookie(session.NewCookie(value, h.cookie))

	return c.Redirect(http.StatusFound, h.postLoginURL)
}
