// Package notifications serves the portal's notification feed. Records live
// upstream as FHIR Communication resources; the portal layers per-user read
// and hidden state on top and reconciles that overlay against the upstream
// record on every list.
package notifications

import (
	"strings"
	"time"

	"github.com/healermy/portal/internal/platform/fhir"
)

// Extension URLs the portal stamps onto Communication records.
const (
	// ReadExtensionURL marks a notification as read by its recipient.
	ReadExtensionURL = "https://healermy.app/fhir/StructureDefinition/notification-read"
	// DeletedExtensionURL marks a notification as dismissed by the
	// practitioner recipient. Patients are never filtered on it.
	DeletedExtensionURL = "https://healermy.app/fhir/StructureDefinition/provider-deleted"
)

// CategorySystem is the coding system for notification categories written
// by the portal.
const CategorySystem = "https://healermy.app/fhir/CodeSystem/notification-category"

// Kind is the portal-facing notification classification.
type Kind string

const (
	KindBooked    Kind = "appointment-booked"
	KindCancelled Kind = "appointment-cancelled"
	KindReminder  Kind = "appointment-reminder"
	KindGeneral   Kind = "general"
)

var validKinds = map[Kind]bool{
	KindBooked:    true,
	KindCancelled: true,
	KindReminder:  true,
	KindGeneral:   true,
}

// Communication is the FHIR R4 wire shape of an upstream notification.
type Communication struct {
	fhir.Resource
	Status    string                 `json:"status,omitempty"`
	Category  []fhir.CodeableConcept `json:"category,omitempty"`
	Subject   *fhir.Reference        `json:"subject,omitempty"`
	About     []fhir.Reference       `json:"about,omitempty"`
	Recipient []fhir.Reference       `json:"recipient,omitempty"`
	Sender    *fhir.Reference        `json:"sender,omitempty"`
	Sent      *time.Time             `json:"sent,omitempty"`
	Received  *time.Time             `json:"received,omitempty"`
	Payload   []Payload              `json:"payload,omitempty"`
}

// Payload carries the message body. The portal only reads and writes string
// content.
type Payload struct {
	ContentString string `json:"contentString,omitempty"`
}

// Text returns the first non-empty payload string.
func (c *Communication) Text() string {
	for _, p := range c.Payload {
		if p.ContentString != "" {
			return p.ContentString
		}
	}
	return ""
}

// SentTime returns the sent timestamp, or the zero time when absent.
func (c *Communication) SentTime() time.Time {
	if c.Sent == nil {
		return time.Time{}
	}
	return *c.Sent
}

// AppointmentID returns the id of the appointment this message is about, or
// "" when no about reference points at an Appointment.
func (c *Communication) AppointmentID() string {
	for _, ref := range c.About {
		if id := appointmentIDFromRef(ref.Reference); id != "" {
			return id
		}
	}
	return ""
}

// appointmentIDFromRef extracts the id from a relative or absolute
// Appointment reference, tolerating trailing path segments such as
// version markers.
func appointmentIDFromRef(ref string) string {
	const marker = "Appointment/"
	idx := strings.Index(ref, marker)
	if idx < 0 {
		return ""
	}
	if idx > 0 && ref[idx-1] != '/' {
		return ""
	}
	id := ref[idx+len(marker):]
	if slash := strings.IndexByte(id, '/'); slash >= 0 {
		id = id[:slash]
	}
	return id
}

// ReadOnServer reports whether the upstream record carries the read
// extension.
func (c *Communication) ReadOnServer() bool {
	return fhir.BoolExtension(c.Extension, ReadExtensionURL)
}

// DeletedForProvider reports whether the practitioner recipient dismissed
// this notification.
func (c *Communication) DeletedForProvider() bool {
	return fhir.BoolExtension(c.Extension, DeletedExtensionURL)
}

// KindOf classifies a Communication. Typed category codings are
// authoritative; payload text sniffing is only a fallback for records
// written before the portal stamped categories.
func KindOf(c *Communication) Kind {
	for _, cat := range c.Category {
		for _, coding := range cat.Coding {
			if k := Kind(coding.Code); validKinds[k] {
				return k
			}
		}
		if k := Kind(cat.Text); validKinds[k] {
			return k
		}
	}
	return sniffKind(c.Text())
}

func sniffKind(text string) Kind {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "cancel"):
		return KindCancelled
	case strings.Contains(t, "remind"):
		return KindReminder
	case strings.Contains(t, "book"), strings.Contains(t, "confirm"):
		return KindBooked
	default:
		return KindGeneral
	}
}

// Notification is the portal's API projection of a Communication after
// read-state reconciliation.
type Notification struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Text          string     `json:"text"`
	Sent          *time.Time `json:"sent,omitempty"`
	AppointmentID string     `json:"appointmentId,omitempty"`
	SenderName    string     `json:"senderName,omitempty"`
	IsRead        bool       `json:"isRead"`
	ReadState     ReadState  `json:"readState"`
}

// NewNotification builds the API view for a record in the given read state.
func NewNotification(c *Communication, state ReadState) Notification {
	n := Notification{
		ID:            c.ID,
		Kind:          KindOf(c),
		Text:          c.Text(),
		Sent:          c.Sent,
		AppointmentID: c.AppointmentID(),
		IsRead:        state != ReadStateUnread,
		ReadState:     state,
	}
	if c.Sender != nil {
		n.SenderName = c.Sender.Display
	}
	return n
}
