package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/healermy/portal/internal/platform/fhir"
	"github.com/healermy/portal/internal/platform/session"
	"github.com/healermy/portal/pkg/pagination"
)

// upstreamFetchLimit bounds how many Communications one list pulls from the
// upstream server. Dedup and hidden filtering run after the fetch, so the
// window is deliberately larger than a portal page.
const upstreamFetchLimit = 200

// ErrPractitionerOnly is returned when a patient session calls a
// practitioner-scoped operation.
var ErrPractitionerOnly = errors.New("practitioner role required")

// Service implements the notification feed: fetch, dedup, read-state
// reconciliation and the overlay-backed mutations.
type Service struct {
	repo      Repository
	store     StateStore
	templates *TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates the notification service.
func NewService(repo Repository, store StateStore, templates *TemplateEngine, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		store:     store,
		templates: templates,
		logger:    logger.With().Str("component", "notifications").Logger(),
		now:       time.Now,
	}
}

func target(sess *session.Session) fhir.Target {
	return fhir.Target{BaseURL: sess.FHIRBaseURL, Token: sess.AccessToken}
}

// DedupByAbout collapses appointment-linked messages to one per appointment.
// Among messages referencing the same appointment the later sent timestamp
// wins; on a tie the record already kept stays. Messages without an
// appointment reference pass through untouched. Survivors keep the input
// order of their first appearance.
func DedupByAbout(comms []Communication) []Communication {
	kept := make([]Communication, 0, len(comms))
	byAppointment := make(map[string]int)

	for _, c := range comms {
		apptID := c.AppointmentID()
		if apptID == "" {
			kept = append(kept, c)
			continue
		}
		pos, seen := byAppointment[apptID]
		if !seen {
			byAppointment[apptID] = len(kept)
			kept = append(kept, c)
			continue
		}
		if c.SentTime().After(kept[pos].SentTime()) {
			kept[pos] = c
		}
	}
	return kept
}

// ListResult is one reconciled page of the feed. Total and Unread describe
// the whole visible feed, not just the page.
type ListResult struct {
	Items  []Notification
	Total  int
	Unread int
}

// List returns the caller's notification feed: fetched upstream, deduped by
// appointment, reconciled against the overlay and, for practitioners,
// filtered of hidden records. Overlay entries whose mutation is already
// visible on the upstream record are dropped along the way.
func (s *Service) List(ctx context.Context, sess *session.Session, pg pagination.Params) (*ListResult, error) {
	owner := sess.SubjectReference()

	comms, err := s.repo.ListByRecipient(ctx, target(sess), owner, upstreamFetchLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("owner", owner).Msg("upstream notification fetch failed")
		return nil, err
	}
	comms = DedupByAbout(comms)

	overlayRead, err := s.store.Get(ctx, owner, BucketRead)
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	var overlayHidden map[string]bool
	if sess.Role == session.RolePractitioner {
		overlayHidden, err = s.store.Get(ctx, owner, BucketHidden)
		if err != nil {
			return nil, fmt.Errorf("hidden overlay: %w", err)
		}
	}

	var (
		items           []Notification
		unread          int
		readConverged   []string
		hiddenConverged []string
	)
	for i := range comms {
		c := &comms[i]

		if c.ReadOnServer() && overlayRead[c.ID] {
			readConverged = append(readConverged, c.ID)
		}
		if c.DeletedForProvider() && overlayHidden[c.ID] {
			hiddenConverged = append(hiddenConverged, c.ID)
		}

		if sess.Role == session.RolePractitioner && (c.DeletedForProvider() || overlayHidden[c.ID]) {
			continue
		}

		state := ResolveReadState(c.ReadOnServer(), overlayRead[c.ID])
		if state == ReadStateUnread {
			unread++
		}
		items = append(items, NewNotification(c, state))
	}

	// The overlay only bridges the gap until the upstream record shows the
	// mutation; once it does, the server record alone answers.
	if len(readConverged) > 0 {
		if err := s.store.Remove(ctx, owner, BucketRead, readConverged...); err != nil {
			s.logger.Warn().Err(err).Msg("read overlay cleanup failed")
		}
	}
	if len(hiddenConverged) > 0 {
		if err := s.store.Remove(ctx, owner, BucketHidden, hiddenConverged...); err != nil {
			s.logger.Warn().Err(err).Msg("hidden overlay cleanup failed")
		}
	}

	total := len(items)
	lo, hi := pg.Window(total)
	return &ListResult{Items: items[lo:hi], Total: total, Unread: unread}, nil
}

// Get returns one notification with the caller's overlay applied.
func (s *Service) Get(ctx context.Context, sess *session.Session, id string) (*Notification, error) {
	if id == "" {
		return nil, fmt.Errorf("notification id is required")
	}

	comm, err := s.repo.Get(ctx, target(sess), id)
	if err != nil {
		return nil, err
	}

	overlayRead, err := s.store.Get(ctx, sess.SubjectReference(), BucketRead)
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}

	n := NewNotification(comm, ResolveReadState(comm.ReadOnServer(), overlayRead[comm.ID]))
	return &n, nil
}

// MarkRead marks one notification read. The overlay entry is written first
// and answers immediately; the upstream stamp is pushed best-effort, so an
// upstream failure is logged and the local mark stands until a later poll
// reconciles. Marking a notification already in the overlay skips the
// upstream push entirely.
func (s *Service) MarkRead(ctx context.Context, sess *session.Session, id string) error {
	if id == "" {
		return fmt.Errorf("notification id is required")
	}
	owner := sess.SubjectReference()

	overlay, err := s.store.Get(ctx, owner, BucketRead)
	if err != nil {
		return fmt.Errorf("read overlay: %w", err)
	}
	if overlay[id] {
		return nil
	}

	if err := s.store.Add(ctx, owner, BucketRead, id); err != nil {
		return fmt.Errorf("record read mark: %w", err)
	}
	if err := s.repo.SetRead(ctx, target(sess), id); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("upstream read stamp failed, overlay keeps the mark")
	}
	return nil
}

// MarkFailure reports one id whose upstream stamp failed.
type MarkFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// MarkAllResult summarizes a mark-all run.
type MarkAllResult struct {
	Marked int           `json:"marked"`
	Failed []MarkFailure `json:"failed,omitempty"`
}

// MarkAllRead marks every given notification read, or every currently
// unread one when ids is empty. Each id is its own upstream request; there
// is no transaction across them, and a per-id failure is reported in the
// result instead of aborting the rest.
func (s *Service) MarkAllRead(ctx context.Context, sess *session.Session, ids []string) (*MarkAllResult, error) {
	owner := sess.SubjectReference()

	if len(ids) == 0 {
		comms, err := s.repo.ListByRecipient(ctx, target(sess), owner, upstreamFetchLimit)
		if err != nil {
			s.logger.Error().Err(err).Str("owner", owner).Msg("upstream notification fetch failed")
			return nil, err
		}
		comms = DedupByAbout(comms)

		overlay, err := s.store.Get(ctx, owner, BucketRead)
		if err != nil {
			return nil, fmt.Errorf("read overlay: %w", err)
		}
		for i := range comms {
			if ResolveReadState(comms[i].ReadOnServer(), overlay[comms[i].ID]) == ReadStateUnread {
				ids = append(ids, comms[i].ID)
			}
		}
	}

	result := &MarkAllResult{}
	for _, id := range ids {
		if err := s.store.Add(ctx, owner, BucketRead, id); err != nil {
			result.Failed = append(result.Failed, MarkFailure{ID: id, Reason: err.Error()})
			continue
		}
		if err := s.repo.SetRead(ctx, target(sess), id); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("upstream read stamp failed")
			result.Failed = append(result.Failed, MarkFailure{ID: id, Reason: err.Error()})
			continue
		}
		result.Marked++
	}
	return result, nil
}

// Hide soft-deletes a notification for the practitioner who dismissed it.
// The record keeps existing upstream and the patient recipient still sees
// it; only the practitioner's feed filters it out. Unlike MarkRead the
// upstream stamp failure is surfaced, since nothing retries it later. The
// overlay entry stays either way, so the record disappears locally at once.
func (s *Service) Hide(ctx context.Context, sess *session.Session, id string) error {
	if id == "" {
		return fmt.Errorf("notification id is required")
	}
	if sess.Role != session.RolePractitioner {
		return ErrPractitionerOnly
	}
	owner := sess.SubjectReference()

	if err := s.store.Add(ctx, owner, BucketHidden, id); err != nil {
		return fmt.Errorf("record hide: %w", err)
	}
	if err := s.repo.SetDeleted(ctx, target(sess), id); err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("upstream delete stamp failed")
		return err
	}
	return nil
}

// Notify renders a template and creates the Communication upstream. Callers
// treat it as best-effort; a failed notification must never fail the flow
// that triggered it.
func (s *Service) Notify(ctx context.Context, tgt fhir.Target, templateID string, data map[string]string, recipientRef, appointmentID string) error {
	comm, err := s.templates.BuildCommunication(templateID, data, recipientRef, appointmentID, s.now().UTC())
	if err != nil {
		return err
	}
	if _, err := s.repo.Create(ctx, tgt, comm); err != nil {
		return err
	}
	return nil
}
