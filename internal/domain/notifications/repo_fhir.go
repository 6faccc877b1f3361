package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/healermy/portal/internal/platform/fhir"
)

// FHIRRepository implements Repository against the upstream FHIR REST API.
type FHIRRepository struct {
	client *fhir.Client
}

// NewFHIRRepository returns a Repository backed by the given client.
func NewFHIRRepository(client *fhir.Client) *FHIRRepository {
	return &FHIRRepository{client: client}
}

// ListByRecipient implements Repository.
func (r *FHIRRepository) ListByRecipient(ctx context.Context, target fhir.Target, recipientRef string, count int) ([]Communication, error) {
	query := url.Values{}
	query.Set("recipient", recipientRef)
	query.Set("_sort", "-sent")
	query.Set("_count", strconv.Itoa(count))

	bundle, err := r.client.Search(ctx, target, "Communication", query)
	if err != nil {
		return nil, err
	}

	var comms []Communication
	err = bundle.Resources(func(raw json.RawMessage) error {
		var c Communication
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("decode communication: %w", err)
		}
		comms = append(comms, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return comms, nil
}

// Get implements Repository.
func (r *FHIRRepository) Get(ctx context.Context, target fhir.Target, id string) (*Communication, error) {
	var c Communication
	if err := r.client.Read(ctx, target, "Communication", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SetRead implements Repository.
func (r *FHIRRepository) SetRead(ctx context.Context, target fhir.Target, id string) error {
	return r.setExtension(ctx, target, id, ReadExtensionURL)
}

// SetDeleted implements Repository.
func (r *FHIRRepository) SetDeleted(ctx context.Context, target fhir.Target, id string) error {
	return r.setExtension(ctx, target, id, DeletedExtensionURL)
}

// setExtension reads the record, upserts the boolean extension and patches
// the full extension array back. The read keeps extensions written by other
// parties intact; the JSON Patch "add" replaces the member whether or not it
// already exists.
func (r *FHIRRepository) setExtension(ctx context.Context, target fhir.Target, id, extURL string) error {
	comm, err := r.Get(ctx, target, id)
	if err != nil {
		return err
	}
	if fhir.BoolExtension(comm.Extension, extURL) {
		return nil
	}

	exts := fhir.SetBoolExtension(comm.Extension, extURL, true)
	ops := []fhir.PatchOp{{Op: "add", Path: "/extension", Value: exts}}
	return r.client.Patch(ctx, target, "Communication", id, ops, nil)
}

// Create implements Repository.
func (r *FHIRRepository) Create(ctx context.Context, target fhir.Target, comm *Communication) (*Communication, error) {
	comm.ResourceType = "Communication"

	var stored Communication
	if err := r.client.Create(ctx, target, "Communication", comm, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}
