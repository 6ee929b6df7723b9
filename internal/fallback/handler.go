// Package fallback builds safe, templated responses for requests the
// assistant cannot answer from verified sources.
package fallback

import (
	"strings"

	"policy-rag-assistant/internal/models"
)

// Messages are fixed templates keyed by reason; they are never generated.
var messages = map[models.FallbackReason]string{
	models.ReasonInsufficientSources: "No verified knowledge-base sources cover this request. " +
		"Please consult the listed resources or contact your policy lead.",
	models.ReasonLowConfidence: "The available sources do not support a confident answer. " +
		"Please review the listed resources before drafting this policy.",
	models.ReasonSafetyValidationFailed: "The drafted content did not pass safety validation and has been withheld. " +
		"The issue has been flagged for review.",
	models.ReasonSystemError: "The assistant could not process this request. " +
		"Please try again later or consult the listed resources.",
}

// regulators maps each jurisdiction to its regulator contact. Requests for
// unknown jurisdictions fall back to the internal help centre entry.
var regulators = map[string]models.AlternativeResource{
	"england":          {Name: "Care Quality Commission (CQC)", Contact: "https://www.cqc.org.uk"},
	"scotland":         {Name: "Care Inspectorate Scotland", Contact: "https://www.careinspectorate.com"},
	"wales":            {Name: "Care Inspectorate Wales (CIW)", Contact: "https://www.careinspectorate.wales"},
	"northern_ireland": {Name: "RQIA", Contact: "https://www.rqia.org.uk"},
	"isle_of_man":      {Name: "Registration and Inspection Unit, Isle of Man", Contact: "https://www.gov.im/dhsc"},
	"jersey":           {Name: "Jersey Care Commission", Contact: "https://carecommission.je"},
	"guernsey":         {Name: "Committee for Health & Social Care, Guernsey", Contact: "https://www.gov.gg"},
}

var helpCentre = models.AlternativeResource{
	Name:    "Policy help centre",
	Contact: "help/policies",
}

const escalationContact = "safety-review@internal"

// Handler builds fallback responses. Pure; holds no mutable state.
type Handler struct{}

// NewHandler creates a fallback handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Build returns the templated fallback for the given reason and
// jurisdictions. It always includes at least one alternative resource and,
// for safety failures, an escalation contact. It cannot fail.
func (h *Handler) Build(reason models.FallbackReason, intent models.Intent, jurisdictions []string) *models.FallbackResponse {
	message, ok := messages[reason]
	if !ok {
		message = messages[models.ReasonSystemError]
		reason = models.ReasonSystemError
	}

	var alternatives []models.AlternativeResource
	seen := make(map[string]struct{})
	for _, jurisdiction := range jurisdictions {
		regulator, ok := regulators[strings.ToLower(jurisdiction)]
		if !ok {
			continue
		}
		if _, dup := seen[regulator.Name]; dup {
			continue
		}
		seen[regulator.Name] = struct{}{}
		alternatives = append(alternatives, regulator)
	}
	alternatives = append(alternatives, helpCentre)

	response := &models.FallbackResponse{
		Reason:       reason,
		Message:      message,
		Alternatives: alternatives,
	}
	if reason == models.ReasonSafetyValidationFailed {
		response.EscalationContact = escalationContact
	}
	return response
}
