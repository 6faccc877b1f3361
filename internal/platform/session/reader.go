package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// State classifies the outcome of reading session material from a request.
type State int

const (
	// StateAbsent means no usable session material was found. Cookies that
	// fail to decrypt land here, so a forged cookie behaves exactly like no
	// cookie at all.
	StateAbsent State = iota
	// StateAuthenticated means a complete, unexpired session was read.
	StateAuthenticated
	// StateExpired means a session was read but its expiry has passed.
	StateExpired
	// StateIncomplete means a session was read but lacks fields the portal
	// cannot call the FHIR server without.
	StateIncomplete
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateIncomplete:
		return "incomplete"
	default:
		return "absent"
	}
}

// Result is the outcome of Reader.Read. Session is set for every state
// except StateAbsent; Missing names the required fields that were empty when
// State is StateIncomplete.
type Result struct {
	State   State
	Session *Session
	Missing []string
}

// Authenticated reports whether the request carries a usable session.
func (r Result) Authenticated() bool { return r.State == StateAuthenticated }

// TokenVerifier validates a bearer token injected by a trusted proxy and
// reconstructs the session it represents.
type TokenVerifier interface {
	VerifySession(ctx context.Context, rawToken string) (*Session, error)
}

// HeaderFHIRBaseURL lets a trusted proxy name the FHIR server for a
// bearer-authenticated request.
const HeaderFHIRBaseURL = "X-Fhir-Base-Url"

// Reader resolves the session for an incoming request. The encrypted cookie
// is checked first; when a verifier is configured, a proxy-injected bearer
// token is accepted as a fallback.
type Reader struct {
	codec    *Codec
	verifier TokenVerifier
	logger   zerolog.Logger
	now      func() time.Time
}

// ReaderConfig configures a Reader. Verifier is optional; when nil the
// proxy-header path is disabled and only the cookie is honored.
type ReaderConfig struct {
	Codec    *Codec
	Verifier TokenVerifier
	Logger   zerolog.Logger
	Now      func() time.Time
}

func NewReader(cfg ReaderConfig) *Reader {
	r := &Reader{
		codec:    cfg.Codec,
		verifier: cfg.Verifier,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Read never fails: a request without a session is a normal condition,
// reported through Result.State rather than an error.
func (r *Reader) Read(c echo.Context) Result {
	if cookie, err := c.Cookie(CookieName); err == nil && cookie.Value != "" {
		sess, err := r.codec.Decrypt(cookie.Value)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("remote_ip", c.RealIP()).
				Msg("session cookie failed to decrypt")
			return Result{State: StateAbsent}
		}
		return r.validate(sess)
	}

	if r.verifier != nil {
		if raw := bearerToken(c.Request()); raw != "" {
			sess, err := r.verifier.VerifySession(c.Request().Context(), raw)
			if err != nil {
				r.logger.Warn().
					Err(err).
					Str("remote_ip", c.RealIP()).
					Msg("proxy bearer token rejected")
				return Result{State: StateAbsent}
			}
			if base := c.Request().Header.Get(HeaderFHIRBaseURL); base != "" {
				sess.FHIRBaseURL = base
			}
			return r.validate(sess)
		}
	}

	return Result{State: StateAbsent}
}

func (r *Reader) validate(sess *Session) Result {
	if sess.Expired(r.now()) {
		return Result{State: StateExpired, Session: sess}
	}
	var missing []string
	if sess.AccessToken == "" {
		missing = append(missing, "accessToken")
	}
	if sess.FHIRBaseURL == "" {
		missing = append(missing, "fhirBaseUrl")
	}
	if len(missing) > 0 {
		return Result{State: StateIncomplete, Session: sess, Missing: missing}
	}
	return Result{State: StateAuthenticated, Session: sess}
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
