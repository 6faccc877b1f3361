package fhir

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes the portal inspects or emits.
const (
	IssueTypeInvalid    = "invalid"
	IssueTypeRequired   = "required"
	IssueTypeNotFound   = "not-found"
	IssueTypeConflict   = "conflict"
	IssueTypeProcessing = "processing"
	IssueTypeSecurity   = "security"
	IssueTypeLogin      = "login"
	IssueTypeThrottled  = "throttled"
	IssueTypeException  = "exception"
	IssueTypeTimeout    = "timeout"
)

// OperationOutcome is the FHIR error envelope upstream servers return for
// failed interactions.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// Diagnostics returns the first issue's diagnostics, falling back to its
// code, for embedding in log lines and error strings.
func (o *OperationOutcome) Diagnostics() string {
	if o == nil || len(o.Issue) == 0 {
		return ""
	}
	if o.Issue[0].Diagnostics != "" {
		return o.Issue[0].Diagnostics
	}
	return o.Issue[0].Code
}
