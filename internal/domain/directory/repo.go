package directory

import (
	"context"

	"github.com/healermy/portal/internal/platform/fhir"
)

// Repository reads directory resources from the upstream FHIR store.
type Repository interface {
	// SearchPractitioners returns up to count practitioners, optionally
	// narrowed by a name fragment.
	SearchPractitioners(ctx context.Context, target fhir.Target, name string, count int) ([]Practitioner, error)
	// GetPractitioner reads a single practitioner by id.
	GetPractitioner(ctx context.Context, target fhir.Target, id string) (*Practitioner, error)
	// GetPatient reads a single patient by id.
	GetPatient(ctx context.Context, target fhir.Target, id string) (*Patient, error)
}
