package directory

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

// SearchPractitioners implements Repository. The name parameter maps onto
// the FHIR name search, which matches any part of any recorded name.
func (r *FHIRRepository) SearchPractitioners(ctx context.Context, target fhir.Target, name string, count int) ([]Practitioner, error) {
	query := url.Values{}
	query.Set("_sort", "family")
	query.Set("_count", strconv.Itoa(count))
	if name != "" {
		query.Set("name", name)
	}

	bundle, err := r.client.Search(ctx, target, "Practitioner", query)
	if err != nil {
		return nil, err
	}

	var practs []Practitioner
	err = bundle.Resources(func(raw json.RawMessage) error {
		var p Practitioner
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode practitioner: %w", err)
		}
		practs = append(practs, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return practs, nil
}

// GetPractitioner implements Repository.
func (r *FHIRRepository) GetPractitioner(ctx context.Context, target fhir.Target, id string) (*Practitioner, error) {
	var p Practitioner
	if err := r.client.Read(ctx, target, "Practitioner", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPatient implements Repository.
func (r *FHIRRepository) GetPatient(ctx context.Context, target fhir.Target, id string) (*Patient, error) {
	var p Patient
	if err := r.client.Read(ctx, target, "Patient", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
