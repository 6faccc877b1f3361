package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/healermy/portal/internal/domain/notifications"
	"github.com/healermy/portal/internal/platform/fhir"
	"github.com/healermy/portal/internal/platform/session"
	"github.com/healermy/portal/pkg/pagination"
)

// appointmentFetchLimit bounds one upstream appointment search.
const appointmentFetchLimit = 200

// Common errors returned by the scheduling service.
var (
	ErrMissingSlot         = errors.New("slotId is required")
	ErrMissingPractitioner = errors.New("practitionerId is required")
	ErrSlotNotFree         = errors.New("slot is not available")
	ErrNotParticipant      = errors.New("not a participant of this appointment")
	ErrPatientOnly         = errors.New("patient role required")
)

// Notifier sends the counterpart a portal notification after a scheduling
// transition. Failures are the caller's to log; they never fail the
// transition itself.
type Notifier interface {
	Notify(ctx context.Context, tgt fhir.Target, templateID string, data map[string]string, recipientRef, appointmentID string) error
}

// BookingRequest is the patient's booking payload.
type BookingRequest struct {
	SlotID         string `json:"slotId"`
	PractitionerID string `json:"practitionerId"`
	Reason         string `json:"reason,omitempty"`
	Comment        string `json:"comment,omitempty"`
}

// Service implements the scheduling proxy.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   zerolog.Logger
}

// NewService creates the scheduling service. notifier may be nil, in which
// case transitions simply send nothing.
func NewService(repo Repository, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With().Str("component", "scheduling").Logger(),
	}
}

func target(sess *session.Session) fhir.Target {
	return fhir.Target{BaseURL: sess.FHIRBaseURL, Token: sess.AccessToken}
}

// List returns the caller's appointments, soonest first.
func (s *Service) List(ctx context.Context, sess *session.Session, pg pagination.Params) ([]Appointment, int, error) {
	appts, err := s.repo.ListForActor(ctx, target(sess), sess.SubjectReference(), appointmentFetchLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("actor", sess.SubjectReference()).Msg("upstream appointment fetch failed")
		return nil, 0, err
	}

	total := len(appts)
	lo, hi := pg.Window(total)
	return appts[lo:hi], total, nil
}

// Get returns one appointment after verifying the caller participates in
// it.
func (s *Service) Get(ctx context.Context, sess *session.Session, id string) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, target(sess), id)
	if err != nil {
		return nil, err
	}
	if !appt.HasParticipant(sess.SubjectReference()) {
		return nil, ErrNotParticipant
	}
	return appt, nil
}

// Book creates an appointment on the chosen slot for the signed-in patient
// and notifies the practitioner. The upstream server owns slot state; the
// portal only refuses slots it can already see are taken.
func (s *Service) Book(ctx context.Context, sess *session.Session, req BookingRequest) (*Appointment, error) {
	if sess.Role != session.RolePatient {
		return nil, ErrPatientOnly
	}
	if req.SlotID == "" {
		return nil, ErrMissingSlot
	}
	if req.PractitionerID == "" {
		return nil, ErrMissingPractitioner
	}

	tgt := target(sess)

	slot, err := s.repo.GetSlot(ctx, tgt, req.SlotID)
	if err != nil {
		return nil, err
	}
	if !slot.Free() {
		return nil, ErrSlotNotFree
	}

	practitionerRef := "Practitioner/" + req.PractitionerID
	appt := &Appointment{
		Status:      "booked",
		Description: req.Reason,
		Start:       slot.Start,
		End:         slot.End,
		Slot:        []fhir.Reference{{Reference: "Slot/" + slot.ID}},
		Comment:     req.Comment,
		Participant: []Participant{
			{Actor: &fhir.Reference{Reference: sess.SubjectReference()}, Status: "accepted"},
			{Actor: &fhir.Reference{Reference: practitionerRef}, Status: "accepted"},
		},
	}

	created, err := s.repo.Create(ctx, tgt, appt)
	if err != nil {
		s.logger.Error().Err(err).Str("slot", req.SlotID).Msg("upstream booking failed")
		return nil, err
	}

	s.notify(ctx, tgt, notifications.TemplateBookedProvider, created, practitionerRef)
	return created, nil
}

// Cancel moves the appointment to cancelled and notifies the counterpart.
// Cancelling an already-cancelled appointment is a no-op.
func (s *Service) Cancel(ctx context.Context, sess *session.Session, id, reason string) (*Appointment, error) {
	tgt := target(sess)

	appt, err := s.repo.Get(ctx, tgt, id)
	if err != nil {
		return nil, err
	}
	if !appt.HasParticipant(sess.SubjectReference()) {
		return nil, ErrNotParticipant
	}
	if appt.Cancelled() {
		return appt, nil
	}

	updated, err := s.repo.Cancel(ctx, tgt, id, reason)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("upstream cancel failed")
		return nil, err
	}

	// The party who cancelled already knows; tell the other one.
	templateID := notifications.TemplateCancelledProvider
	recipient := updated.ParticipantRef("Practitioner")
	if sess.Role == session.RolePractitioner {
		templateID = notifications.TemplateCancelledPatient
		recipient = updated.ParticipantRef("Patient")
	}
	s.notify(ctx, tgt, templateID, updated, recipient)

	return updated, nil
}

// Slots returns free slots matching the query.
func (s *Service) Slots(ctx context.Context, sess *session.Session, q SlotQuery) ([]Slot, error) {
	slots, err := s.repo.SearchSlots(ctx, target(sess), q)
	if err != nil {
		s.logger.Error().Err(err).Msg("upstream slot search failed")
		return nil, err
	}
	return slots, nil
}

// notify sends the transition message best-effort. A missing recipient or a
// failed send is logged and swallowed; the transition already happened.
func (s *Service) notify(ctx context.Context, tgt fhir.Target, templateID string, appt *Appointment, recipientRef string) {
	if s.notifier == nil || recipientRef == "" {
		return
	}

	data := map[string]string{
		"patient":      appt.ParticipantDisplay("Patient"),
		"practitioner": appt.ParticipantDisplay("Practitioner"),
	}
	if start := appt.StartTime(); !start.IsZero() {
		data["date"] = start.Format("2006-01-02")
		data["time"] = start.Format("15:04")
	}

	if err := s.notifier.Notify(ctx, tgt, templateID, data, recipientRef, appt.ID); err != nil {
		s.logger.Warn().Err(err).Str("appointment", appt.ID).Str("template", templateID).Msg("transition notification failed")
	}
}

// parseDateRange turns inclusive yyyy-mm-dd bounds into a half-open instant
// range. The end date is inclusive for callers, so one day is added before
// it becomes the exclusive upper bound.
func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end.AddDate(0, 0, 1), nil
}
