package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/healermy/portal/internal/platform/session"
)

// newFakeIssuer serves a minimal OIDC discovery document. The token endpoint
// rejects every exchange; tests that need a successful exchange do not exist
// because they would require a full identity provider.
func newFakeIssuer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"issuer": %q,
			"authorization_endpoint": %q,
			"token_endpoint": %q,
			"jwks_uri": %q,
			"response_types_supported": ["code"],
			"subject_types_supported": ["public"],
			"id_token_signing_alg_values_supported": ["RS256"]
		}`, srv.URL, srv.URL+"/authorize", srv.URL+"/token", srv.URL+"/keys")
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{})
	})

	return srv
}

func newTestRelyingParty(t *testing.T) *RelyingParty {
	t.Helper()
	issuer := newFakeIssuer(t)
	rp, err := NewRelyingParty(context.Background(), RPConfig{
		Issuer:      issuer.URL,
		ClientID:    "portal-client",
		RedirectURL: "https://portal.example.com/auth/callback",
		FHIRBaseURL: "https://fhir.example.com/r4",
		SessionTTL:  time.Hour,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("create relying party: %v", err)
	}
	return rp
}

func TestNewRelyingParty_Discovery(t *testing.T) {
	rp := newTestRelyingParty(t)

	if !strings.HasSuffix(rp.oauthCfg.Endpoint.AuthURL, "/authorize") {
		t.Errorf("unexpected auth endpoint: %s", rp.oauthCfg.Endpoint.AuthURL)
	}
	if !strings.HasSuffix(rp.oauthCfg.Endpoint.TokenURL, "/token") {
		t.Errorf("unexpected token endpoint: %s", rp.oauthCfg.Endpoint.TokenURL)
	}
	if !strings.HasSuffix(rp.JWKSURI(), "/keys") {
		t.Errorf("unexpected jwks uri: %s", rp.JWKSURI())
	}
}

func TestRelyingParty_BeginLogin(t *testing.T) {
	rp := newTestRelyingParty(t)

	authURL, err := rp.BeginLogin(session.RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()

	if q.Get("response_type") != "code" {
		t.Errorf("expected response_type=code, got %q", q.Get("response_type"))
	}
	if q.Get("client_id") != "portal-client" {
		t.Errorf("expected client_id=portal-client, got %q", q.Get("client_id"))
	}
	if q.Get("state") == "" {
		t.Error("expected a state parameter")
	}
	if q.Get("nonce") == "" {
		t.Error("expected a nonce parameter")
	}
	if q.Get("code_challenge") == "" {
		t.Error("expected a PKCE code challenge")
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("expected S256 challenge method, got %q", q.Get("code_challenge_method"))
	}
	if q.Get("aud") != "https://fhir.example.com/r4" {
		t.Errorf("expected aud to name the FHIR server, got %q", q.Get("aud"))
	}
	if q.Get("redirect_uri") != "https://portal.example.com/auth/callback" {
		t.Errorf("unexpected redirect_uri: %q", q.Get("redirect_uri"))
	}

	// The pending flow is retrievable under the issued state.
	rp.mu.Lock()
	flow, ok := rp.pending[q.Get("state")]
	rp.mu.Unlock()
	if !ok {
		t.Fatal("expected pending flow for issued state")
	}
	if flow.role != session.RolePatient {
		t.Errorf("expected patient flow, got %q", flow.role)
	}
	if codeChallenge(flow.codeVerifier) != q.Get("code_challenge") {
		t.Error("stored verifier does not match the challenge in the URL")
	}
}

func TestRelyingParty_BeginLogin_TwoLoginsDistinctState(t *testing.T) {
	rp := newTestRelyingParty(t)

	url1, err := rp.BeginLogin(session.RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	url2, err := rp.BeginLogin(session.RolePractitioner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url1 == url2 {
		t.Error("two logins must not share state or nonce")
	}
}

func TestRelyingParty_BeginLogin_InvalidRole(t *testing.T) {
	rp := newTestRelyingParty(t)
	if _, err := rp.BeginLogin(session.Role("admin")); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRelyingParty_CompleteLogin_UnknownState(t *testing.T) {
	rp := newTestRelyingParty(t)

	_, err := rp.CompleteLogin(context.Background(), "forged-state", "some-code")
	if err != ErrFlowNotFound {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestRelyingParty_CompleteLogin_StateIsSingleUse(t *testing.T) {
	rp := newTestRelyingParty(t)

	authURL, err := rp.BeginLogin(session.RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	// The fake issuer's token endpoint rejects the exchange, so the first
	// attempt fails after consuming the state.
	if _, err := rp.CompleteLogin(context.Background(), state, "bad-code"); err == nil {
		t.Fatal("expected exchange to fail against fake issuer")
	} else if err == ErrFlowNotFound {
		t.Fatal("first attempt should consume the state, not miss it")
	}

	if _, err := rp.CompleteLogin(context.Background(), state, "bad-code"); err != ErrFlowNotFound {
		t.Fatalf("expected ErrFlowNotFound on replay, got %v", err)
	}
}

func TestRelyingParty_CompleteLogin_ExpiredFlow(t *testing.T) {
	rp := newTestRelyingParty(t)

	authURL, err := rp.BeginLogin(session.RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	// Jump the clock past the flow TTL.
	rp.now = func() time.Time { return time.Now().Add(flowTTL + time.Minute) }

	if _, err := rp.CompleteLogin(context.Background(), state, "code"); err != ErrFlowNotFound {
		t.Fatalf("expected ErrFlowNotFound for expired flow, got %v", err)
	}
}

func TestRelyingParty_Refresh_RequiresToken(t *testing.T) {
	rp := newTestRelyingParty(t)

	_, err := rp.Refresh(context.Background(), &session.Session{})
	if err == nil {
		t.Fatal("expected error for session without refresh token")
	}
}

func TestCodeChallenge_RFCVector(t *testing.T) {
	// Test vector from RFC 7636 appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := codeChallenge(verifier); got != want {
		t.Errorf("code challenge: got %q, want %q", got, want)
	}
}

func TestRandomURLString(t *testing.T) {
	s1, err := randomURLString(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := randomURLString(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1 == s2 {
		t.Error("two random strings should differ")
	}
	if len(s1) != 43 { // 32 bytes base64url without padding
		t.Errorf("expected 43 chars, got %d", len(s1))
	}
}

func TestPrunePending(t *testing.T) {
	rp := newTestRelyingParty(t)

	if _, err := rp.BeginLogin(session.RolePatient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rp.now = func() time.Time { return time.Now().Add(flowTTL + time.Minute) }
	if _, err := rp.BeginLogin(session.RolePractitioner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rp.mu.Lock()
	n := len(rp.pending)
	rp.mu.Unlock()
	if n != 1 {
		t.Errorf("expected stale flow to be pruned, have %d pending", n)
	}
}
