// Package scheduling proxies the portal's booking UI onto the upstream
// FHIR server. It carries no scheduling business rules of its own: slot
// availability and appointment state live upstream, the portal only books,
// cancels and lists on the caller's behalf and sends the counterpart a
// notification afterwards.
package scheduling

import (
	"strings"
	"time"

	"github.com/healermy/portal/internal/platform/fhir"
)

// Appointment is the FHIR R4 wire shape the portal exchanges with the
// upstream server.
type Appointment struct {
	fhir.Resource
	Status string `json:"status,omitempty"`
	// Spelled with one "l" in FHIR R4.
	CancelationReason *fhir.CodeableConcept  `json:"cancelationReason,omitempty"`
	ServiceType       []fhir.CodeableConcept `json:"serviceType,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Start             *time.Time             `json:"start,omitempty"`
	End               *time.Time             `json:"end,omitempty"`
	MinutesDuration   int                    `json:"minutesDuration,omitempty"`
	Slot              []fhir.Reference       `json:"slot,omitempty"`
	Comment           string                 `json:"comment,omitempty"`
	Participant       []Participant          `json:"participant,omitempty"`
}

// Participant is one actor on an appointment.
type Participant struct {
	Actor  *fhir.Reference `json:"actor,omitempty"`
	Status string          `json:"status,omitempty"`
}

// StartTime returns the start timestamp, or the zero time when absent.
func (a *Appointment) StartTime() time.Time {
	if a.Start == nil {
		return time.Time{}
	}
	return *a.Start
}

// ParticipantRef returns the reference of the first participant of the
// given resource type, or "" when the appointment has none.
func (a *Appointment) ParticipantRef(resourceType string) string {
	prefix := resourceType + "/"
	for _, p := range a.Participant {
		if p.Actor != nil && strings.HasPrefix(p.Actor.Reference, prefix) {
			return p.Actor.Reference
		}
	}
	return ""
}

// ParticipantDisplay returns the display name of the first participant of
// the given resource type, falling back to the bare reference.
func (a *Appointment) ParticipantDisplay(resourceType string) string {
	prefix := resourceType + "/"
	for _, p := range a.Participant {
		if p.Actor != nil && strings.HasPrefix(p.Actor.Reference, prefix) {
			if p.Actor.Display != "" {
				return p.Actor.Display
			}
			return p.Actor.Reference
		}
	}
	return ""
}

// HasParticipant reports whether ref is one of the appointment's actors.
func (a *Appointment) HasParticipant(ref string) bool {
	for _, p := range a.Participant {
		if p.Actor != nil && p.Actor.Reference == ref {
			return true
		}
	}
	return false
}

// Cancelled reports whether the appointment has reached the cancelled
// status.
func (a *Appointment) Cancelled() bool {
	return a.Status == "cancelled"
}

// Slot is the FHIR R4 wire shape of a bookable slot.
type Slot struct {
	fhir.Resource
	Schedule *fhir.Reference `json:"schedule,omitempty"`
	Status   string          `json:"status,omitempty"`
	Start    *time.Time      `json:"start,omitempty"`
	End      *time.Time      `json:"end,omitempty"`
	Comment  string          `json:"comment,omitempty"`
}

// Free reports whether the slot can still be booked.
func (s *Slot) Free() bool {
	return s.Status == "free"
}
