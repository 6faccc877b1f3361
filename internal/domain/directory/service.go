package directory

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/healermy/portal/internal/platform/fhir"
	"github.com/healermy/portal/internal/platform/session"
	"github.com/healermy/portal/pkg/pagination"
)

// directoryFetchLimit bounds one upstream directory search.
const directoryFetchLimit = 200

// ErrPractitionerOnly rejects patient lookups from patient sessions.
var ErrPractitionerOnly = errors.New("practitioner role required")

// Service implements the directory proxy.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

// NewService creates the directory service.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

func target(sess *session.Session) fhir.Target {
	return fhir.Target{BaseURL: sess.FHIRBaseURL, Token: sess.AccessToken}
}

// ListPractitioners returns a page of practitioner summaries, optionally
// narrowed by a name fragment.
func (s *Service) ListPractitioners(ctx context.Context, sess *session.Session, name string, pg pagination.Params) ([]PractitionerSummary, int, error) {
	practs, err := s.repo.SearchPractitioners(ctx, target(sess), name, directoryFetchLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("upstream practitioner search failed")
		return nil, 0, err
	}

	total := len(practs)
	lo, hi := pg.Window(total)

	summaries := make([]PractitionerSummary, 0, hi-lo)
	for i := lo; i < hi; i++ {
		summaries = append(summaries, practs[i].Summary())
	}
	return summaries, total, nil
}

// GetPractitioner returns the full practitioner resource.
func (s *Service) GetPractitioner(ctx context.Context, sess *session.Session, id string) (*Practitioner, error) {
	return s.repo.GetPractitioner(ctx, target(sess), id)
}

// GetPatient returns the full patient resource. Only practitioners may look
// up patients.
func (s *Service) GetPatient(ctx context.Context, sess *session.Session, id string) (*Patient, error) {
	if sess.Role != session.RolePractitioner {
		return nil, ErrPractitionerOnly
	}
	return s.repo.GetPatient(ctx, target(sess), id)
}
