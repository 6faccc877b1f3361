package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/healermy/portal/internal/platform/fhir"
)

// slotFetchLimit bounds one upstream slot search.
const slotFetchLimit = 100

// FHIRRepository implements Repository against the upstream FHIR REST API.
type FHIRRepository struct {
	client *fhir.Client
}

// NewFHIRRepository returns a Repository backed by the given client.
func NewFHIRRepository(client *fhir.Client) *FHIRRepository {
	return &FHIRRepository{client: client}
}

// ListForActor implements Repository.
func (r *FHIRRepository) ListForActor(ctx context.Context, target fhir.Target, actorRef string, count int) ([]Appointment, error) {
	query := url.Values{}
	query.Set("actor", actorRef)
	query.Set("_sort", "date")
	query.Set("_count", strconv.Itoa(count))

	bundle, err := r.client.Search(ctx, target, "Appointment", query)
	if err != nil {
		return nil, err
	}

	var appts []Appointment
	err = bundle.Resources(func(raw json.RawMessage) error {
		var a Appointment
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("decode appointment: %w", err)
		}
		appts = append(appts, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appts, nil
}

// Get implements Repository.
func (r *FHIRRepository) Get(ctx context.Context, target fhir.Target, id string) (*Appointment, error) {
	var a Appointment
	if err := r.client.Read(ctx, target, "Appointment", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create implements Repository.
func (r *FHIRRepository) Create(ctx context.Context, target fhir.Target, appt *Appointment) (*Appointment, error) {
	appt.ResourceType = "Appointment"

	var stored Appointment
	if err := r.client.Create(ctx, target, "Appointment", appt, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// Cancel implements Repository.
func (r *FHIRRepository) Cancel(ctx context.Context, target fhir.Target, id, reason string) (*Appointment, error) {
	ops := []fhir.PatchOp{{Op: "replace", Path: "/status", Value: "cancelled"}}
	if reason != "" {
		ops = append(ops, fhir.PatchOp{
			Op:    "add",
			Path:  "/cancelationReason",
			Value: fhir.CodeableConcept{Text: reason},
		})
	}

	var updated Appointment
	if err := r.client.Patch(ctx, target, "Appointment", id, ops, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// SearchSlots implements Repository. Both time bounds apply to the slot
// start; the upstream server expects instants with ge/lt prefixes.
func (r *FHIRRepository) SearchSlots(ctx context.Context, target fhir.Target, q SlotQuery) ([]Slot, error) {
	query := url.Values{}
	query.Set("status", "free")
	query.Set("_sort", "start")
	query.Set("_count", strconv.Itoa(slotFetchLimit))
	if q.ScheduleID != "" {
		query.Set("schedule", "Schedule/"+q.ScheduleID)
	}
	if !q.Start.IsZero() {
		query.Add("start", "ge"+q.Start.Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		query.Add("start", "lt"+q.End.Format(time.RFC3339))
	}

	bundle, err := r.client.Search(ctx, target, "Slot", query)
	if err != nil {
		return nil, err
	}

	var slots []Slot
	err = bundle.Resources(func(raw json.RawMessage) error {
		var s Slot
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode slot: %w", err)
		}
		slots = append(slots, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// GetSlot implements Repository.
func (r *FHIRRepository) GetSlot(ctx context.Context, target fhir.Target, id string) (*Slot, error) {
	var s Slot
	if err := r.client.Read(ctx, target, "Slot", id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
