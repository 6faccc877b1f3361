package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type verifierFunc func(ctx context.Context, raw string) (*Session, error)

func (f verifierFunc) VerifySession(ctx context.Context, raw string) (*Session, error) {
	return f(ctx, raw)
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(generateTestKey(t), 1)
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}
	return codec
}

func newTestReader(t *testing.T, codec *Codec, verifier TokenVerifier) *Reader {
	t.Helper()
	return NewReader(ReaderConfig{
		Codec:    codec,
		Verifier: verifier,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return testNow },
	})
}

func newRequestContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func encryptSession(t *testing.T, codec *Codec, sess *Session) string {
	t.Helper()
	value, err := codec.Encrypt(sess)
	if err != nil {
		t.Fatalf("encrypt session: %v", err)
	}
	return value
}

func TestReader_Read_NoCookie(t *testing.T) {
	r := newTestReader(t, newTestCodec(t), nil)
	c, _ := newRequestContext(httptest.NewRequest(http.MethodGet, "/", nil))

	res := r.Read(c)
	if res.State != StateAbsent {
		t.Errorf("expected absent, got %v", res.State)
	}
	if res.Session != nil {
		t.Error("expected nil session")
	}
}

func TestReader_Read_ValidCookie(t *testing.T) {
	codec := newTestCodec(t)
	r := newTestReader(t, codec, nil)

	sess := testSession()
	sess.ExpiresAt = testNow.Add(time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: encryptSession(t, codec, sess)})
	c, _ := newRequestContext(req)

	res := r.Read(c)
	if res.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %v", res.State)
	}
	if res.Session.PatientID != "pat-123" {
		t.Errorf("expected pat-123, got %q", res.Session.PatientID)
	}
	if res.Session.AccessToken != "access-token-value" {
		t.Errorf("access token not carried through: %q", res.Session.AccessToken)
	}
}

func TestReader_Read_TamperedCookieFailsClosed(t *testing.T) {
	codec := newTestCodec(t)
	r := newTestReader(t, codec, nil)

	sess := testSession()
	sess.ExpiresAt = testNow.Add(time.Hour)
	value := encryptSession(t, codec, sess)
	tampered := []byte(value)
	tampered[len(tampered)-1] ^= 0x01

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: string(tampered)})
	c, _ := newRequestContext(req)

	res := r.Read(c)
	if res.State != StateAbsent {
		t.Errorf("tampered cookie should read as absent, got %v", res.State)
	}
	if res.Session != nil {
		t.Error("tampered cookie must never yield a session")
	}
}

func TestReader_Read_ExpiredSession(t *testing.T) {
	codec := newTestCodec(t)
	r := newTestReader(t, codec, nil)

	sess := testSession()
	sess.ExpiresAt = testNow.Add(-time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: encryptSession(t, codec, sess)})
	c, _ := newRequestContext(req)

	res := r.Read(c)
	if res.State != StateExpired {
		t.Fatalf("expected expired, got %v", res.State)
	}
	if res.Session == nil {
		t.Fatal("expired result should still carry the session for refresh")
	}
	if res.Session.RefreshToken != "refresh-token-value" {
		t.Errorf("refresh token missing from expired session: %q", res.Session.RefreshToken)
	}
	if res.Authenticated() {
		t.Error("expired session must not count as authenticated")
	}
}

func TestReader_Read_IncompleteSession(t *testing.T) {
	codec := newTestCodec(t)
	r := newTestReader(t, codec, nil)

	sess := &Session{
		Role:      RolePatient,
		PatientID: "pat-123",
		ExpiresAt: testNow.Add(time.Hour),
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: encryptSession(t, codec, sess)})
	c, _ := newRequestContext(req)

	res := r.Read(c)
	if res.State != StateIncomplete {
		t.Fatalf("expected incomplete, got %v", res.State)
	}
	want := map[string]bool{"accessToken": true, "fhirBaseUrl": true}
	if len(res.Missing) != len(want) {
		t.Fatalf("expected %d missing fields, got %v", len(want), res.Missing)
	}
	for _, field := range res.Missing {
		if !want[field] {
			t.Errorf("unexpected missing field %q", field)
		}
	}
}

func TestReader_Read_BearerHeader(t *testing.T) {
	verifier := verifierFunc(func(ctx context.Context, raw string) (*Session, error) {
		if raw != "proxy-token" {
			return nil, errors.New("unexpected token")
		}
		return &Session{
			Role:           RolePractitioner,
			PractitionerID: "prac-9",
			AccessToken:    raw,
			FHIRBaseURL:    "https://fhir.example.com/r4",
			ExpiresAt:      testNow.Add(time.Hour),
		}, nil
	})
	r := newTestReader(t, newTestCodec(t), verifier)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer proxy-token")
	c, _ := newRequestContext(req)

	res := r.Read(c)
	if res.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %v", res.State)
	}
	if res.Session.PractitionerID != "prac-9" {
		t.Errorf("expected prac-9, got %q", res.Session.PractitionerID)
	}
	if res.Session.AccessToken != "proxy-token" {
		t.Errorf("bearer token should double as the upstream access token, got %q", res.Session.AccessToken)
	}
}

func TestReader_Read_BearerHeaderFHIRBaseOverride(t *testing.T) {
	verifier := verifierFunc(func(ctx context.Context, raw string) (*Session, error) {
		return &Session{
			Role:        RolePatient,
			PatientID:   "pat-1",
			AccessToken: raw,
			FHIRBaseURL: "https://default.example.com/r4",
			ExpiresAt:   testNow.Add(time.Hour),
		}, nil
	})
	r := newTestReader(t, newTestCodec(t), verifier)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer abc")
	req.Header.Set(HeaderFHIRBaseURL, "https://tenant.example.com/r4")
	c, _ := newRequestContext(req)

	res := r.Read(c)
	if res.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %v", res.State)
	}
	if res.Session.FHIRBaseURL != "https://tenant.example.com/r4" {
		t.Errorf("header should override FHIR base url, got %q", res.Session.FHIRBaseURL)
	}
}

func TestReader_Read_BearerRejected(t *testing.T) {
	verifier := verifierFunc(func(ctx context.Context, raw string) (*Session, error) {
		return nil, errors.New("bad signature")
	})
	r := newTestReader(t, newTestCodec(t), verifier)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer forged")
	c, _ := newRequestContext(req)

	if res := r.Read(c); res.State != StateAbsent {
		t.Errorf("rejected bearer should read as absent, got %v", res.State)
	}
}

func TestReader_Read_BearerIgnoredWithoutVerifier(t *testing.T) {
	r := newTestReader(t, newTestCodec(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer anything")
	c, _ := newRequestContext(req)

	if res := r.Read(c); res.State != StateAbsent {
		t.Errorf("bearer without a verifier should read as absent, got %v", res.State)
	}
}

func TestReader_Read_CookieTakesPrecedence(t *testing.T) {
	codec := newTestCodec(t)
	called := false
	verifier := verifierFunc(func(ctx context.Context, raw string) (*Session, error) {
		called = true
		return nil, errors.New("should not be called")
	})
	r := newTestReader(t, codec, verifier)

	sess := testSession()
	sess.ExpiresAt = testNow.Add(time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: encryptSession(t, codec, sess)})
	req.Header.Set(echo.HeaderAuthorization, "Bearer other")
	c, _ := newRequestContext(req)

	res := r.Read(c)
	if res.State != StateAuthenticated {
		t.Fatalf("expected authenticated via cookie, got %v", res.State)
	}
	if called {
		t.Error("verifier should not run when a valid cookie is present")
	}
}

func TestMiddleware_RejectsWithoutSession(t *testing.T) {
	r := newTestReader(t, newTestCodec(t), nil)
	c, rec := newRequestContext(httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))

	handler := r.Middleware()(func(c echo.Context) error {
		t.Error("handler should not run")
		return nil
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if status.Authenticated {
		t.Error("expected authenticated=false")
	}
	if status.Expired {
		t.Error("expected expired to be unset for an absent session")
	}
}

func TestMiddleware_ExpiredFlagInBody(t *testing.T) {
	codec := newTestCodec(t)
	r := newTestReader(t, codec, nil)

	sess := testSession()
	sess.ExpiresAt = testNow.Add(-time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: encryptSession(t, codec, sess)})
	c, rec := newRequestContext(req)

	handler := r.Middleware()(func(c echo.Context) error { return nil })
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if !status.Expired {
		t.Error("expected expired=true for an expired session")
	}
}

func TestMiddleware_SetsSessionInContext(t *testing.T) {
	codec := newTestCodec(t)
	r := newTestReader(t, codec, nil)

	sess := testSession()
	sess.ExpiresAt = testNow.Add(time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: encryptSession(t, codec, sess)})
	c, rec := newRequestContext(req)

	handler := r.Middleware()(func(c echo.Context) error {
		got := FromContext(c)
		if got == nil {
			t.Fatal("expected session in context")
		}
		if got.PatientID != "pat-123" {
			t.Errorf("expected pat-123, got %q", got.PatientID)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestFromContext_Unset(t *testing.T) {
	c, _ := newRequestContext(httptest.NewRequest(http.MethodGet, "/", nil))
	if FromContext(c) != nil {
		t.Error("expected nil session for bare context")
	}
}
