package fhir

import (
	"encoding/json"
	"testing"
)

func TestFindExtension(t *testing.T) {
	yes := true
	exts := []Extension{
		{URL: "https://example.org/other", ValueString: "x"},
		{URL: "https://healermy.app/fhir/StructureDefinition/notification-read", ValueBoolean: &yes},
	}

	ext := FindExtension(exts, "https://healermy.app/fhir/StructureDefinition/notification-read")
	if ext == nil {
		t.Fatal("expected extension to be found")
	}
	if ext.ValueBoolean == nil || !*ext.ValueBoolean {
		t.Error("expected valueBoolean true")
	}

	if FindExtension(exts, "https://example.org/absent") != nil {
		t.Error("expected nil for absent url")
	}
	if FindExtension(nil, "anything") != nil {
		t.Error("expected nil for nil slice")
	}
}

func TestSetBoolExtension(t *testing.T) {
	url := "https://healermy.app/fhir/StructureDefinition/provider-deleted"

	exts := SetBoolExtension(nil, url, true)
	if len(exts) != 1 {
		t.Fatalf("expected 1 extension, got %d", len(exts))
	}
	if !BoolExtension(exts, url) {
		t.Error("expected extension to read back true")
	}

	// Setting again replaces rather than duplicates.
	exts = SetBoolExtension(exts, url, false)
	if len(exts) != 1 {
		t.Fatalf("expected 1 extension after upsert, got %d", len(exts))
	}
	if BoolExtension(exts, url) {
		t.Error("expected extension to read back false")
	}
}

func TestBoolExtension(t *testing.T) {
	url := "https://healermy.app/fhir/StructureDefinition/notification-read"
	no := false

	if BoolExtension(nil, url) {
		t.Error("expected false for nil extensions")
	}
	if BoolExtension([]Extension{{URL: url}}, url) {
		t.Error("expected false when valueBoolean is absent")
	}
	if BoolExtension([]Extension{{URL: url, ValueBoolean: &no}}, url) {
		t.Error("expected false when valueBoolean is false")
	}
}

func TestCodeableConcept_HasCoding(t *testing.T) {
	concept := CodeableConcept{
		Coding: []Coding{
			{System: "http://terminology.hl7.org/CodeSystem/communication-category", Code: "appointment-reminder"},
		},
		Text: "Appointment reminder",
	}

	if !concept.HasCoding("http://terminology.hl7.org/CodeSystem/communication-category", "appointment-reminder") {
		t.Error("expected coding to match")
	}
	if concept.HasCoding("http://terminology.hl7.org/CodeSystem/communication-category", "alert") {
		t.Error("expected mismatching code to fail")
	}
	if concept.HasCoding("http://other.system", "appointment-reminder") {
		t.Error("expected mismatching system to fail")
	}
}

func TestBundle_Resources(t *testing.T) {
	bundle := Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Entry: []BundleEntry{
			{Resource: json.RawMessage(`{"resourceType":"Communication","id":"comm-1"}`)},
			{
				Resource: json.RawMessage(`{"resourceType":"Practitioner","id":"pr-1"}`),
				Search:   &BundleSearch{Mode: "include"},
			},
			{Search: &BundleSearch{Mode: "match"}},
			{
				Resource: json.RawMessage(`{"resourceType":"Communication","id":"comm-2"}`),
				Search:   &BundleSearch{Mode: "match"},
			},
		},
	}

	var ids []string
	err := bundle.Resources(func(raw json.RawMessage) error {
		var res Resource
		if err := json.Unmarshal(raw, &res); err != nil {
			return err
		}
		ids = append(ids, res.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ids) != 2 {
		t.Fatalf("expected 2 match resources, got %d: %v", len(ids), ids)
	}
	if ids[0] != "comm-1" || ids[1] != "comm-2" {
		t.Errorf("unexpected ids: %v", ids)
	}
}
