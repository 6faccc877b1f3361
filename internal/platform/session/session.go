// Package session implements the encrypted portal session: the cookie codec,
// the request reader that resolves a session from a cookie or from
// proxy-injected headers, and the echo middleware that guards authenticated
// routes. The session payload carries the upstream FHIR credentials and is
// never exposed to clients in full; endpoints return the redacted Profile.
package session

import (
	"time"
)

// CookieName is the HTTP cookie holding the encrypted session blob.
const CookieName = "healermy_session"

// Role identifies which side of the portal the session belongs to.
type Role string

const (
	RolePatient      Role = "patient"
	RolePractitioner Role = "practitioner"
)

// Valid reports whether the role is one the portal knows.
func (r Role) Valid() bool {
	return r == RolePatient || r == RolePractitioner
}

// Session is the decrypted content of the healermy_session cookie. It is
// created at the OAuth callback, refreshed when the upstream token expires,
// and destroyed on logout.
type Session struct {
	Role           Role      `json:"role"`
	PatientID      string    `json:"patientId,omitempty"`
	PractitionerID string    `json:"practitionerId,omitempty"`
	AccessToken    string    `json:"accessToken"`
	RefreshToken   string    `json:"refreshToken,omitempty"`
	FHIRBaseURL    string    `json:"fhirBaseUrl"`
	TokenURL       string    `json:"tokenUrl,omitempty"`
	ClientID       string    `json:"clientId,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the session has expired at the given instant.
// A session expiring exactly now counts as expired.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SubjectID returns the FHIR id of the signed-in party.
func (s *Session) SubjectID() string {
	if s.Role == RolePractitioner {
		return s.PractitionerID
	}
	return s.PatientID
}

// SubjectReference returns the FHIR reference of the signed-in party,
// e.g. "Patient/123" or "Practitioner/456".
func (s *Session) SubjectReference() string {
	switch s.Role {
	case RolePractitioner:
		return "Practitioner/" + s.PractitionerID
	case RolePatient:
		return "Patient/" + s.PatientID
	}
	return ""
}

// Profile is the redacted session projection returned to clients. It has no
// token fields at all, so its JSON encoding cannot leak accessToken,
// refreshToken or clientSecret no matter how it is constructed.
type Profile struct {
	Role           Role      `json:"role"`
	PatientID      string    `json:"patientId,omitempty"`
	PractitionerID string    `json:"practitionerId,omitempty"`
	FHIRBaseURL    string    `json:"fhirBaseUrl"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Redacted returns the client-safe projection of the session.
func (s *Session) Redacted() Profile {
	return Profile{
		Role:           s.Role,
		PatientID:      s.PatientID,
		PractitionerID: s.PractitionerID,
		FHIRBaseURL:    s.FHIRBaseURL,
		ExpiresAt:      s.ExpiresAt,
	}
}

// Status is the session-status payload returned by the session endpoints and
// by the middleware's 401 responses.
type Status struct {
	Authenticated bool     `json:"authenticated"`
	Expired       bool     `json:"expired,omitempty"`
	Session       *Profile `json:"session,omitempty"`
}
