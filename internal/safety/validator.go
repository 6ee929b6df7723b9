// Package safety defines the external content-validation collaborator.
package safety

import (
	"context"
	"strings"

	"policy-rag-assistant/internal/models"
)

// Result is the validator's verdict on a synthesized response.
type Result struct {
	Approved bool     `json:"approved"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Validator screens synthesized content before it is released. A rejection
// routes the request to the fallback path.
type Validator interface {
	Validate(ctx context.Context, response *models.SynthesizedResponse) (Result, error)
}

// RuleValidator is the built-in validator: it enforces structural rules
// that any releasable response must satisfy. Deployments with an external
// validation service wire it in behind the same interface.
type RuleValidator struct{}

// NewRuleValidator creates the built-in validator.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{}
}

// Validate implements Validator. It rejects responses with no sources and
// clause drafts whose body carries placeholder markers that were never
// filled in.
func (v *RuleValidator) Validate(_ context.Context, response *models.SynthesizedResponse) (Result, error) {
	if len(response.Sources) == 0 {
		return Result{Approved: false, Reasons: []string{"response carries no source references"}}, nil
	}

	if draft, ok := response.Content.(models.ClauseDraft); ok {
		if strings.TrimSpace(draft.Content) == "" {
			return Result{Approved: false, Reasons: []string{"clause draft has empty content"}}, nil
		}
		for _, marker := range []string{"{{", "}}", "[TODO", "[PLACEHOLDER"} {
			if strings.Contains(draft.Content, marker) {
				return Result{Approved: false, Reasons: []string{"clause draft contains unfilled template markers"}}, nil
			}
		}
	}

	return Result{Approved: true}, nil
}
