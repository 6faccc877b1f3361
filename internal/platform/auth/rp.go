package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/healermy/portal/internal/platform/session"
)

// ErrFlowNotFound is returned by CompleteLogin when the state parameter does
// not match a pending login, either because it was forged or because the
// flow expired.
var ErrFlowNotFound = errors.New("auth: login flow not found or expired")

// flowTTL bounds how long a login may sit between the redirect to the
// identity provider and the callback.
const flowTTL = 10 * time.Minute

// flowState is the server-side half of an in-flight login, keyed by the
// OAuth state parameter.
type flowState struct {
	codeVerifier string
	nonce        string
	role         session.Role
	createdAt    time.Time
}

// RPConfig configures the OIDC relying party.
type RPConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	FHIRBaseURL  string
	// SessionTTL is the fallback session lifetime when the token response
	// carries no expiry.
	SessionTTL time.Duration
	Logger     zerolog.Logger
}

// RelyingParty drives the interactive login against the identity provider:
// authorization redirect with PKCE, code exchange, ID token verification and
// refresh grants. Each completed login yields a portal session.
type RelyingParty struct {
	provider   *oidc.Provider
	oauthCfg   oauth2.Config
	verifier   *oidc.IDTokenVerifier
	fhirBase   string
	sessionTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]flowState
}

// NewRelyingParty discovers the identity provider's endpoints and prepares
// the OAuth client. It performs a network round trip to the issuer's
// discovery document.
func NewRelyingParty(ctx context.Context, cfg RPConfig) (*RelyingParty, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: discover issuer %s: %w", cfg.Issuer, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "fhirUser", oidc.ScopeOfflineAccess}
	}

	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = time.Hour
	}

	return &RelyingParty{
		provider: provider,
		oauthCfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		fhirBase:   cfg.FHIRBaseURL,
		sessionTTL: sessionTTL,
		logger:     cfg.Logger,
		now:        time.Now,
		pending:    make(map[string]flowState),
	}, nil
}

// JWKSURI returns the issuer's key set endpoint from the discovery document,
// used to configure the bearer verifier when no explicit URL is set.
func (rp *RelyingParty) JWKSURI() string {
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := rp.provider.Claims(&doc); err != nil {
		return ""
	}
	return doc.JWKSURI
}

// BeginLogin starts a login for the given role and returns the authorization
// URL to redirect the browser to. State, nonce and the PKCE verifier are
// held server-side until the callback.
func (rp *RelyingParty) BeginLogin(role session.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("auth: cannot begin login for role %q", role)
	}

	state, err := randomURLString(32)
	if err != nil {
		return "", fmt.Errorf("auth: generate state: %w", err)
	}
	nonce, err := randomURLString(32)
	if err != nil {
		return "", fmt.Errorf("auth: generate nonce: %w", err)
	}
	codeVerifier, err := randomURLString(48)
	if err != nil {
		return "", fmt.Errorf("auth: generate code verifier: %w", err)
	}

	rp.mu.Lock()
	rp.prunePendingLocked()
	rp.pending[state] = flowState{
		codeVerifier: codeVerifier,
		nonce:        nonce,
		role:         role,
		createdAt:    rp.now(),
	}
	rp.mu.Unlock()

	opts := []oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge(codeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	// SMART authorization servers expect the FHIR server the token will be
	// used against as the aud parameter.
	if rp.fhirBase != "" {
		opts = append(opts, oauth2.SetAuthURLParam("aud", rp.fhirBase))
	}

	return rp.oauthCfg.AuthCodeURL(state, opts...), nil
}

// CompleteLogin handles the authorization callback: it exchanges the code,
// verifies the ID token against the stored nonce and maps the identity
// claims to a portal session. The state entry is consumed whether or not the
// exchange succeeds.
func (rp *RelyingParty) CompleteLogin(ctx context.Context, state, code string) (*session.Session, error) {
	rp.mu.Lock()
	flow, ok := rp.pending[state]
	delete(rp.pending, state)
	rp.mu.Unlock()

	if !ok || rp.now().Sub(flow.createdAt) > flowTTL {
		return nil, ErrFlowNotFound
	}

	token, err := rp.oauthCfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", flow.codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("auth: code exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("auth: token response carries no id_token")
	}

	idToken, err := rp.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("auth: verify id token: %w", err)
	}

	var claims struct {
		Subject        string `json:"sub"`
		Nonce          string `json:"nonce"`
		FHIRUser       string `json:"fhirUser"`
		Role           string `json:"role"`
		PatientID      string `json:"patientId"`
		PractitionerID string `json:"practitionerId"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("auth: extract id token claims: %w", err)
	}
	if claims.Nonce != flow.nonce {
		return nil, fmt.Errorf("auth: id token nonce mismatch")
	}

	sess := &session.Session{
		Role:           session.Role(claims.Role),
		PatientID:      claims.PatientID,
		PractitionerID: claims.PractitionerID,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		FHIRBaseURL:    rp.fhirBase,
		TokenURL:       rp.oauthCfg.Endpoint.TokenURL,
		ClientID:       rp.oauthCfg.ClientID,
		ExpiresAt:      rp.sessionExpiry(token.Expiry),
	}

	if resType, id, ok := splitFHIRUser(claims.FHIRUser); ok {
		switch resType {
		case "Patient":
			if sess.Role == "" {
				sess.Role = session.RolePatient
			}
			if sess.PatientID == "" {
				sess.PatientID = id
			}
		case "Practitioner":
			if sess.Role == "" {
				sess.Role = session.RolePractitioner
			}
			if sess.PractitionerID == "" {
				sess.PractitionerID = id
			}
		}
	}

	// SMART servers return the launch patient alongside the tokens.
	if patient, ok := token.Extra("patient").(string); ok && patient != "" && sess.PatientID == "" {
		sess.PatientID = patient
		if sess.Role == "" {
			sess.Role = session.RolePatient
		}
	}

	if sess.Role == "" {
		sess.Role = flow.role
	}
	if sess.Role != flow.role {
		return nil, fmt.Errorf("auth: identity provider returned role %q for a %q login", sess.Role, flow.role)
	}
	if sess.SubjectID() == "" {
		return nil, fmt.Errorf("auth: identity provider supplied no FHIR identity for role %q", sess.Role)
	}

	rp.logger.Info().
		Str("role", string(sess.Role)).
		Str("subject", sess.SubjectReference()).
		Msg("login completed")

	return sess, nil
}

// Refresh exchanges the session's refresh token for fresh credentials and
// returns a new session with the same identity. The caller reseals the
// cookie.
func (rp *RelyingParty) Refresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if sess.RefreshToken == "" {
		return nil, fmt.Errorf("auth: session has no refresh token")
	}

	ts := rp.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: sess.RefreshToken})
	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refresh grant: %w", err)
	}

	refreshed := *sess
	refreshed.AccessToken = token.AccessToken
	refreshed.RefreshToken = token.RefreshToken
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = sess.RefreshToken
	}
	refreshed.ExpiresAt = rp.sessionExpiry(token.Expiry)

	return &refreshed, nil
}

func (rp *RelyingParty) sessionExpiry(tokenExpiry time.Time) time.Time {
	if tokenExpiry.IsZero() {
		return rp.now().Add(rp.sessionTTL)
	}
	return tokenExpiry
}

// prunePendingLocked drops expired flows. Callers hold rp.mu.
func (rp *RelyingParty) prunePendingLocked() {
	cutoff := rp.now().Add(-flowTTL)
	for state, flow := range rp.pending {
		if flow.createdAt.Before(cutoff) {
			delete(rp.pending, state)
		}
	}
}

// randomURLString creates a random base64url string from n bytes of entropy.
func randomURLString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// codeChallenge creates a PKCE S256 code challenge from a verifier.
func codeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
