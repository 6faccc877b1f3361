// Package directory proxies the upstream provider and patient directory.
// The portal never owns these records; it reads them with the caller's
// credentials and reshapes nothing beyond the wire decoding.
package directory

import (
	"strings"

	"github.com/healermy/portal/internal/platform/fhir"
)

// Practitioner is the slice of the FHIR Practitioner resource the portal
// reads. Unknown upstream fields are dropped on decode.
type Practitioner struct {
	fhir.Resource

	Active        *bool               `json:"active,omitempty"`
	Identifier    []fhir.Identifier   `json:"identifier,omitempty"`
	Name          []fhir.HumanName    `json:"name,omitempty"`
	Telecom       []fhir.ContactPoint `json:"telecom,omitempty"`
	Gender        string              `json:"gender,omitempty"`
	BirthDate     string              `json:"birthDate,omitempty"`
	Address       []fhir.Address      `json:"address,omitempty"`
	Qualification []Qualification     `json:"qualification,omitempty"`
}

// Qualification is a practitioner credential (degree, specialty board).
type Qualification struct {
	Identifier []fhir.Identifier    `json:"identifier,omitempty"`
	Code       fhir.CodeableConcept `json:"code"`
	Period     *fhir.Period         `json:"period,omitempty"`
}

// Patient is the slice of the FHIR Patient resource exposed to
// practitioners looking up who sent them a message or booked a slot.
type Patient struct {
	fhir.Resource

	Active              *bool               `json:"active,omitempty"`
	Identifier          []fhir.Identifier   `json:"identifier,omitempty"`
	Name                []fhir.HumanName    `json:"name,omitempty"`
	Telecom             []fhir.ContactPoint `json:"telecom,omitempty"`
	Gender              string              `json:"gender,omitempty"`
	BirthDate           string              `json:"birthDate,omitempty"`
	Address             []fhir.Address      `json:"address,omitempty"`
	GeneralPractitioner []fhir.Reference    `json:"generalPractitioner,omitempty"`
}

// PractitionerSummary is the flattened row the practitioner list returns.
// Full resources stay behind the per-id endpoint.
type PractitionerSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Gender      string   `json:"gender,omitempty"`
	Specialties []string `json:"specialties,omitempty"`
}

// Summary flattens the resource for list rendering.
func (p *Practitioner) Summary() PractitionerSummary {
	return PractitionerSummary{
		ID:          p.ID,
		Name:        p.DisplayName(),
		Gender:      p.Gender,
		Specialties: p.Specialties(),
	}
}

// DisplayName flattens the first recorded name into "Prefix Given Family".
func (p *Practitioner) DisplayName() string {
	return displayName(p.Name)
}

// Specialties lists the practitioner's qualification labels, preferring the
// concept text over the first coding's display.
func (p *Practitioner) Specialties() []string {
	var out []string
	for _, q := range p.Qualification {
		label := q.Code.Text
		if label == "" && len(q.Code.Coding) > 0 {
			label = q.Code.Coding[0].Display
		}
		if label != "" {
			out = append(out, label)
		}
	}
	return out
}

// DisplayName flattens the first recorded name into "Prefix Given Family".
func (p *Patient) DisplayName() string {
	return displayName(p.Name)
}

func displayName(names []fhir.HumanName) string {
	if len(names) == 0 {
		return ""
	}
	n := names[0]

	parts := make([]string, 0, len(n.Prefix)+len(n.Given)+1)
	parts = append(parts, n.Prefix...)
	parts = append(parts, n.Given...)
	if n.Family != "" {
		parts = append(parts, n.Family)
	}
	return strings.Join(parts, " ")
}
