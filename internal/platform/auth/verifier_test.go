package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/healermy/portal/internal/platform/session"
)

const testKid = "test-key-1"

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

// newJWKSServer serves a JWKS document exposing the given key under testKid.
func newJWKSServer(t *testing.T, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	jwks := JWKSResponse{
		Keys: []JWKSKey{{
			Kty: "RSA",
			Kid: testKid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signTestToken(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	raw, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return raw
}

func TestBearerVerifier_ValidToken(t *testing.T) {
	key := generateRSAKey(t)
	srv := newJWKSServer(t, &key.PublicKey)

	v, err := NewBearerVerifier(VerifierConfig{
		JWKSURL:     srv.URL,
		FHIRBaseURL: "https://fhir.example.com/r4",
	})
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	raw := signTestToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		FHIRUser: "Practitioner/prac-1",
	})

	sess, err := v.VerifySession(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Role != session.RolePractitioner {
		t.Errorf("expected practitioner role, got %q", sess.Role)
	}
	if sess.PractitionerID != "prac-1" {
		t.Errorf("expected prac-1, got %q", sess.PractitionerID)
	}
	if sess.AccessToken != raw {
		t.Error("raw bearer token should become the upstream access token")
	}
	if sess.FHIRBaseURL != "https://fhir.example.com/r4" {
		t.Errorf("expected default FHIR base url, got %q", sess.FHIRBaseURL)
	}
	if sess.Expired(time.Now()) {
		t.Error("session should not be expired")
	}
}

func TestBearerVerifier_ExplicitClaims(t *testing.T) {
	key := generateRSAKey(t)
	srv := newJWKSServer(t, &key.PublicKey)

	v, err := NewBearerVerifier(VerifierConfig{JWKSURL: srv.URL, FHIRBaseURL: "https://fhir.example.com/r4"})
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	raw := signTestToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:      "patient",
		PatientID: "pat-7",
	})

	sess, err := v.VerifySession(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Role != session.RolePatient {
		t.Errorf("expected patient role, got %q", sess.Role)
	}
	if sess.PatientID != "pat-7" {
		t.Errorf("expected pat-7, got %q", sess.PatientID)
	}
}

func TestBearerVerifier_ExpiredToken(t *testing.T) {
	key := generateRSAKey(t)
	srv := newJWKSServer(t, &key.PublicKey)

	v, err := NewBearerVerifier(VerifierConfig{JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	raw := signTestToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		FHIRUser: "Patient/pat-1",
	})

	if _, err := v.VerifySession(context.Background(), raw); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestBearerVerifier_WrongKey(t *testing.T) {
	signingKey := generateRSAKey(t)
	otherKey := generateRSAKey(t)
	srv := newJWKSServer(t, &otherKey.PublicKey)

	v, err := NewBearerVerifier(VerifierConfig{JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	raw := signTestToken(t, signingKey, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		FHIRUser: "Patient/pat-1",
	})

	if _, err := v.VerifySession(context.Background(), raw); err == nil {
		t.Fatal("expected error for token signed with an unknown key")
	}
}

func TestBearerVerifier_WrongIssuer(t *testing.T) {
	key := generateRSAKey(t)
	srv := newJWKSServer(t, &key.PublicKey)

	v, err := NewBearerVerifier(VerifierConfig{
		JWKSURL: srv.URL,
		Issuer:  "https://idp.example.com",
	})
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	raw := signTestToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://evil.example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		FHIRUser: "Patient/pat-1",
	})

	if _, err := v.VerifySession(context.Background(), raw); err == nil {
		t.Fatal("expected error for wrong issuer")
	}
}

func TestBearerVerifier_NoUsableIdentity(t *testing.T) {
	key := generateRSAKey(t)
	srv := newJWKSServer(t, &key.PublicKey)

	v, err := NewBearerVerifier(VerifierConfig{JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	raw := signTestToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.VerifySession(context.Background(), raw); err == nil {
		t.Fatal("expected error for token without role or fhirUser")
	}
}

func TestNewBearerVerifier_RequiresJWKSURL(t *testing.T) {
	if _, err := NewBearerVerifier(VerifierConfig{}); err == nil {
		t.Fatal("expected error for missing JWKS URL")
	}
}

func TestJWKSCache_UnknownKid(t *testing.T) {
	key := generateRSAKey(t)
	srv := newJWKSServer(t, &key.PublicKey)

	cache := NewJWKSCache(srv.URL, time.Minute)
	if _, err := cache.GetKey("nonexistent-kid"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if _, err := cache.GetKey(testKid); err != nil {
		t.Fatalf("expected known kid to resolve: %v", err)
	}
}

func TestSplitFHIRUser(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantID   string
		wantOK   bool
	}{
		{"relative reference", "Patient/123", "Patient", "123", true},
		{"absolute reference", "https://fhir.example.com/r4/Practitioner/456", "Practitioner", "456", true},
		{"trailing slash", "Patient/123/", "Patient", "123", true},
		{"bare id", "123", "", "", false},
		{"empty", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resType, id, ok := splitFHIRUser(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if resType != tt.wantType {
				t.Errorf("type: got %q, want %q", resType, tt.wantType)
			}
			if id != tt.wantID {
				t.Errorf("id: got %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestSessionFromClaims_ExplicitWinsOverFHIRUser(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:           "practitioner",
		PractitionerID: "prac-explicit",
		FHIRUser:       "Practitioner/prac-from-fhiruser",
	}

	sess, err := sessionFromClaims(claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.PractitionerID != "prac-explicit" {
		t.Errorf("explicit claim should win, got %q", sess.PractitionerID)
	}
}
