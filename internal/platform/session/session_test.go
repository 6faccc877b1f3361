package session

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"in the future", now.Add(time.Hour), false},
		{"one second ahead", now.Add(time.Second), false},
		{"exactly now", now, true},
		{"one second ago", now.Add(-time.Second), true},
		{"zero value", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			if got := s.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_Redacted(t *testing.T) {
	sess := testSession()
	p := sess.Redacted()

	if p.Role != sess.Role {
		t.Errorf("role: got %q, want %q", p.Role, sess.Role)
	}
	if p.PatientID != sess.PatientID {
		t.Errorf("patient id: got %q, want %q", p.PatientID, sess.PatientID)
	}
	if p.FHIRBaseURL != sess.FHIRBaseURL {
		t.Errorf("fhir base url: got %q, want %q", p.FHIRBaseURL, sess.FHIRBaseURL)
	}
	if !p.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("expires at: got %v, want %v", p.ExpiresAt, sess.ExpiresAt)
	}
}

func TestSession_RedactedJSONNeverLeaksTokens(t *testing.T) {
	sess := testSession()

	raw, err := json.Marshal(sess.Redacted())
	if err != nil {
		t.Fatalf("marshal profile: %v", err)
	}
	body := string(raw)

	for _, secret := range []string{
		sess.AccessToken,
		sess.RefreshToken,
		"accessToken",
		"refreshToken",
		"clientSecret",
	} {
		if strings.Contains(body, secret) {
			t.Errorf("redacted profile JSON contains %q: %s", secret, body)
		}
	}
}

func TestSession_SubjectID(t *testing.T) {
	patient := &Session{Role: RolePatient, PatientID: "pat-1", PractitionerID: "ignored"}
	if got := patient.SubjectID(); got != "pat-1" {
		t.Errorf("patient subject: got %q, want pat-1", got)
	}

	practitioner := &Session{Role: RolePractitioner, PractitionerID: "prac-9"}
	if got := practitioner.SubjectID(); got != "prac-9" {
		t.Errorf("practitioner subject: got %q, want prac-9", got)
	}
}

func TestSession_SubjectReference(t *testing.T) {
	patient := &Session{Role: RolePatient, PatientID: "pat-1"}
	if got := patient.SubjectReference(); got != "Patient/pat-1" {
		t.Errorf("got %q, want Patient/pat-1", got)
	}

	practitioner := &Session{Role: RolePractitioner, PractitionerID: "prac-9"}
	if got := practitioner.SubjectReference(); got != "Practitioner/prac-9" {
		t.Errorf("got %q, want Practitioner/prac-9", got)
	}

	unknown := &Session{Role: Role("admin")}
	if got := unknown.SubjectReference(); got != "" {
		t.Errorf("got %q, want empty reference for unknown role", got)
	}
}

func TestRole_Valid(t *testing.T) {
	if !RolePatient.Valid() {
		t.Error("patient should be valid")
	}
	if !RolePractitioner.Valid() {
		t.Error("practitioner should be valid")
	}
	if Role("admin").Valid() {
		t.Error("admin should not be valid")
	}
	if Role("").Valid() {
		t.Error("empty role should not be valid")
	}
}

func TestStatus_JSONShape(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		raw, err := json.Marshal(Status{Authenticated: false})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(raw) != `{"authenticated":false}` {
			t.Errorf("unexpected body: %s", raw)
		}
	})

	t.Run("expired", func(t *testing.T) {
		raw, err := json.Marshal(Status{Authenticated: false, Expired: true})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(raw) != `{"authenticated":false,"expired":true}` {
			t.Errorf("unexpected body: %s", raw)
		}
	})
}

func TestNewCookie(t *testing.T) {
	cookie := NewCookie("encrypted-value", CookieConfig{Secure: true, TTL: time.Hour})

	if cookie.Name != CookieName {
		t.Errorf("name: got %q, want %q", cookie.Name, CookieName)
	}
	if cookie.Value != "encrypted-value" {
		t.Errorf("value: got %q", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("cookie must be HttpOnly")
	}
	if !cookie.Secure {
		t.Error("cookie must be Secure when configured")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("expected SameSite=Strict, got %v", cookie.SameSite)
	}
	if cookie.MaxAge != 3600 {
		t.Errorf("max age: got %d, want 3600", cookie.MaxAge)
	}
	if cookie.Path != "/" {
		t.Errorf("path: got %q, want /", cookie.Path)
	}
}

func TestClearCookie(t *testing.T) {
	cookie := ClearCookie(CookieConfig{})

	if cookie.Value != "" {
		t.Errorf("expected empty value, got %q", cookie.Value)
	}
	if cookie.MaxAge >= 0 {
		t.Errorf("expected negative max age, got %d", cookie.MaxAge)
	}
	if !strings.Contains(cookie.String(), "Max-Age=0") {
		t.Errorf("expected serialized Max-Age=0, got %q", cookie.String())
	}
}
