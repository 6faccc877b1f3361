package notifications

import (
	"context"

	"github.com/healermy/portal/internal/platform/fhir"
)

// Repository reads and mutates Communication records in the upstream
// clinical store. Every call runs against the caller's own target, so the
// upstream server enforces access control per user rather than per portal.
type Repository interface {
	// ListByRecipient returns Communications addressed to the given
	// reference, newest first, up to count records.
	ListByRecipient(ctx context.Context, target fhir.Target, recipientRef string, count int) ([]Communication, error)
	// Get fetches a single Communication by id.
	Get(ctx context.Context, target fhir.Target, id string) (*Communication, error)
	// SetRead stamps the read extension on the record. Records that already
	// carry it are left untouched.
	SetRead(ctx context.Context, target fhir.Target, id string) error
	// SetDeleted stamps the provider-deleted extension on the record.
	// Records that already carry it are left untouched.
	SetDeleted(ctx context.Context, target fhir.Target, id string) error
	// Create writes a new Communication and returns the stored record.
	Create(ctx context.Context, target fhir.Target, comm *Communication) (*Communication, error)
}
