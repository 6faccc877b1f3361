// Package auth holds the pieces of the portal that talk to the identity
// provider: the OIDC relying party used by the interactive login flow, the
// bearer verifier used when a trusted proxy injects tokens as headers, and
// the role guard for practitioner-only routes.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/healermy/portal/internal/platform/session"
)

// Claims are the portal-relevant claims of a proxy-injected access token.
// Identity can arrive either as explicit id claims or as a SMART fhirUser
// reference.
type Claims struct {
	jwt.RegisteredClaims
	Role           string `json:"role"`
	PatientID      string `json:"patientId"`
	PractitionerID string `json:"practitionerId"`
	FHIRUser       string `json:"fhirUser"`
}

// JWKSKey represents a single JSON Web Key from a JWKS endpoint.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse represents the response from a JWKS endpoint.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache caches JWKS keys fetched from a remote endpoint with a configurable TTL.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

// NewJWKSCache creates a new JWKS cache that fetches keys from the given URL.
func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKey returns the RSA public key for the given kid.
// It fetches keys from the JWKS endpoint if the cache is expired or if the kid is not found.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	// Cache miss or expired: fetch fresh keys
	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

// fetch retrieves the JWKS from the remote endpoint and updates the cache.
func (c *JWKSCache) fetch() error {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k)
		if err != nil {
			continue // skip malformed keys
		}
		keys[k.Kid] = pubKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

// parseRSAPublicKey converts a JWKSKey to an *rsa.PublicKey.
func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// defaultJWKSCacheTTL is the default time-to-live for cached JWKS keys.
const defaultJWKSCacheTTL = 5 * time.Minute

// VerifierConfig configures the bearer verifier for proxy-injected tokens.
type VerifierConfig struct {
	// JWKSURL is the identity provider's key set endpoint. Required.
	JWKSURL string
	// Issuer and Audience are enforced on the token when set.
	Issuer   string
	Audience string
	// FHIRBaseURL is the default upstream for bearer sessions; a trusted
	// proxy can override it per request.
	FHIRBaseURL string
}

// BearerVerifier reconstructs a portal session from a bearer token that a
// trusted proxy injected. It implements session.TokenVerifier.
type BearerVerifier struct {
	cfg   VerifierConfig
	cache *JWKSCache
}

func NewBearerVerifier(cfg VerifierConfig) (*BearerVerifier, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("auth: bearer verifier requires a JWKS URL")
	}
	return &BearerVerifier{
		cfg:   cfg,
		cache: NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL),
	}, nil
}

// VerifySession validates the token signature, issuer, audience and expiry,
// then maps its claims to a session. The raw token doubles as the upstream
// access token since the proxy terminated the OAuth flow with the same
// authorization server the FHIR server trusts.
func (v *BearerVerifier) VerifySession(ctx context.Context, rawToken string) (*session.Session, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(rawToken, claims, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: parse bearer token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: bearer token is not valid")
	}

	sess, err := sessionFromClaims(claims)
	if err != nil {
		return nil, err
	}
	sess.AccessToken = rawToken
	sess.FHIRBaseURL = v.cfg.FHIRBaseURL
	return sess, nil
}

func (v *BearerVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}
	return v.cache.GetKey(kid)
}

func sessionFromClaims(claims *Claims) (*session.Session, error) {
	sess := &session.Session{
		Role:           session.Role(claims.Role),
		PatientID:      claims.PatientID,
		PractitionerID: claims.PractitionerID,
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}

	// SMART tokens identify the user as a FHIR reference.
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

	if !sess.Role.Valid() {
		return nil, fmt.Errorf("auth: token carries no usable role")
	}
	if sess.SubjectID() == "" {
		return nil, fmt.Errorf("auth: token carries no subject id for role %q", sess.Role)
	}
	return sess, nil
}

// splitFHIRUser splits a fhirUser claim such as "Patient/123" or
// "https://fhir.example.com/r4/Practitioner/456" into resource type and id.
func splitFHIRUser(ref string) (string, string, bool) {
	if ref == "" {
		return "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(ref, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	resType, id := parts[len(parts)-2], parts[len(parts)-1]
	if resType == "" || id == "" {
		return "", "", false
	}
	return resType, id, true
}
