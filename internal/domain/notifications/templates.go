package notifications

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/healermy/portal/internal/platform/fhir"
)

// Template is a reusable notification message. Body placeholders use
// {{key}} syntax and are replaced from the data map at render time.
type Template struct {
	ID   string
	Name string
	Body string
	Kind Kind
}

// Built-in template ids. The scheduling flows render these after booking or
// cancelling an appointment.
const (
	TemplateBookedPatient     = "appointment-booked-patient"
	TemplateBookedProvider    = "appointment-booked-provider"
	TemplateCancelledPatient  = "appointment-cancelled-patient"
	TemplateCancelledProvider = "appointment-cancelled-provider"
	TemplateReminder          = "appointment-reminder"
)

// TemplateEngine renders notification bodies from registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates an engine with the built-in templates
// registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	e.RegisterTemplate(&Template{
		ID:   TemplateBookedPatient,
		Name: "Appointment Booked (patient)",
		Body: "Your appointment with {{practitioner}} on {{date}} at {{time}} has been booked.",
		Kind: KindBooked,
	})
	e.RegisterTemplate(&Template{
		ID:   TemplateBookedProvider,
		Name: "Appointment Booked (provider)",
		Body: "{{patient}} booked an appointment on {{date}} at {{time}}.",
		Kind: KindBooked,
	})
	e.RegisterTemplate(&Template{
		ID:   TemplateCancelledPatient,
		Name: "Appointment Cancelled (patient)",
		Body: "Your appointment with {{practitioner}} on {{date}} has been cancelled.",
		Kind: KindCancelled,
	})
	e.RegisterTemplate(&Template{
		ID:   TemplateCancelledProvider,
		Name: "Appointment Cancelled (provider)",
		Body: "{{patient}} cancelled the appointment on {{date}}.",
		Kind: KindCancelled,
	})
	e.RegisterTemplate(&Template{
		ID:   TemplateReminder,
		Name: "Appointment Reminder",
		Body: "Reminder: you have an appointment with {{practitioner}} on {{date}} at {{time}}.",
		Kind: KindReminder,
	})
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t *Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render produces the message body for a template. Placeholders with no
// entry in data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	tmpl, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}

	body := tmpl.Body
	for key, value := range data {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}
	return body, nil
}

// BuildCommunication renders a template into a Communication addressed to
// recipientRef about the given appointment. The template's kind becomes the
// typed category coding.
func (e *TemplateEngine) BuildCommunication(templateID string, data map[string]string, recipientRef, appointmentID string, sent time.Time) (*Communication, error) {
	body, err := e.Render(templateID, data)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	kind := e.templates[templateID].Kind
	e.mu.RUnlock()

	comm := &Communication{
		Status: "completed",
		Category: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: CategorySystem, Code: string(kind)}},
			Text:   string(kind),
		}},
		Recipient: []fhir.Reference{{Reference: recipientRef}},
		Sent:      &sent,
		Payload:   []Payload{{ContentString: body}},
	}
	comm.ResourceType = "Communication"
	if appointmentID != "" {
		comm.About = []fhir.Reference{{Reference: "Appointment/" + appointmentID}}
	}
	return comm, nil
}
