package notifications

import (
	"strings"
	"testing"
	"time"
)

func TestTemplateEngine_Render(t *testing.T) {
	engine := NewTemplateEngine()

	body, err := engine.Render(TemplateBookedPatient, map[string]string{
		"practitioner": "Dr. Chen",
		"date":         "2026-03-10",
		"time":         "14:30",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "Your appointment with Dr. Chen on 2026-03-10 at 14:30 has been booked."
	if body != want {
		t.Errorf("Render() = %q, want %q", body, want)
	}
}

func TestTemplateEngine_Render_MissingKeysLeft(t *testing.T) {
	engine := NewTemplateEngine()

	body, err := engine.Render(TemplateBookedPatient, map[string]string{
		"practitioner": "Dr. Chen",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "{{date}}") {
		t.Errorf("Render() = %q, want unresolved placeholder left as-is", body)
	}
}

func TestTemplateEngine_Render_NotFound(t *testing.T) {
	engine := NewTemplateEngine()

	if _, err := engine.Render("no-such-template", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_RegisterTemplate_Overrides(t *testing.T) {
	engine := NewTemplateEngine()
	engine.RegisterTemplate(&Template{
		ID:   TemplateReminder,
		Name: "Custom Reminder",
		Body: "See you at {{time}}.",
		Kind: KindReminder,
	})

	body, err := engine.Render(TemplateReminder, map[string]string{"time": "09:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "See you at 09:00." {
		t.Errorf("Render() = %q after override", body)
	}
}

func TestTemplateEngine_BuildCommunication(t *testing.T) {
	engine := NewTemplateEngine()
	sent := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	comm, err := engine.BuildCommunication(TemplateCancelledProvider, map[string]string{
		"patient": "Ada Park",
		"date":    "2026-03-12",
	}, "Practitioner/pr-1", "appt-4", sent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if comm.ResourceType != "Communication" {
		t.Errorf("ResourceType = %q", comm.ResourceType)
	}
	if comm.Status != "completed" {
		t.Errorf("Status = %q", comm.Status)
	}
	if comm.Text() != "Ada Park cancelled the appointment on 2026-03-12." {
		t.Errorf("payload = %q", comm.Text())
	}
	if len(comm.Recipient) != 1 || comm.Recipient[0].Reference != "Practitioner/pr-1" {
		t.Errorf("Recipient = %v", comm.Recipient)
	}
	if comm.AppointmentID() != "appt-4" {
		t.Errorf("AppointmentID() = %q", comm.AppointmentID())
	}
	if comm.Sent == nil || !comm.Sent.Equal(sent) {
		t.Errorf("Sent = %v, want %v", comm.Sent, sent)
	}
	if KindOf(comm) != KindCancelled {
		t.Errorf("KindOf() = %q, want typed category from template", KindOf(comm))
	}
}

func TestTemplateEngine_BuildCommunication_NoAppointment(t *testing.T) {
	engine := NewTemplateEngine()

	comm, err := engine.BuildCommunication(TemplateReminder, nil, "Patient/p-1", "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comm.About) != 0 {
		t.Errorf("About = %v, want none", comm.About)
	}
}

func TestTemplateEngine_BuildCommunication_UnknownTemplate(t *testing.T) {
	engine := NewTemplateEngine()

	if _, err := engine.BuildCommunication("missing", nil, "Patient/p-1", "", time.Now()); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
