package scheduling

import (
	"context"
	"time"

	"github.com/healermy/portal/internal/platform/fhir"
)

// SlotQuery narrows the upstream free-slot search. Start and End bound the
// slot start time; End is exclusive.
type SlotQuery struct {
	ScheduleID string
	Start      time.Time
	End        time.Time
}

// Repository reads and mutates scheduling resources in the upstream
// clinical store on the caller's behalf.
type Repository interface {
	// ListForActor returns appointments the given reference participates
	// in, soonest first, up to count records.
	ListForActor(ctx context.Context, target fhir.Target, actorRef string, count int) ([]Appointment, error)
	// Get fetches a single appointment by id.
	Get(ctx context.Context, target fhir.Target, id string) (*Appointment, error)
	// Create books a new appointment and returns the stored record.
	Create(ctx context.Context, target fhir.Target, appt *Appointment) (*Appointment, error)
	// Cancel moves the appointment to cancelled and returns the updated
	// record. The reason, when given, lands in cancelationReason.
	Cancel(ctx context.Context, target fhir.Target, id, reason string) (*Appointment, error)
	// SearchSlots returns free slots matching the query.
	SearchSlots(ctx context.Context, target fhir.Target, query SlotQuery) ([]Slot, error)
	// GetSlot fetches a single slot by id.
	GetSlot(ctx context.Context, target fhir.Target, id string) (*Slot, error)
}
