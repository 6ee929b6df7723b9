package models

import (
	"time"

	"github.com/google/uuid"
)

// RetrievalResult is one scored match from the retriever. Results are
// ephemeral; only the source reference (id, version, score) survives into
// the audit log.
type RetrievalResult struct {
	Document     *KnowledgeDocument `json:"document"`
	Score        float64            `json:"score"`
	MatchedTerms []string           `json:"matched_terms"`
}

// SourceReference identifies one document version a response was built from.
type SourceReference struct {
	DocumentID uuid.UUID `json:"document_id"`
	Version    int       `json:"version"`
	Relevance  float64   `json:"relevance"`
}

// SynthesisMethod records how a response's content was assembled.
type SynthesisMethod string

const (
	MethodSingleSource     SynthesisMethod = "single_source"
	MethodMultiSourceMerge SynthesisMethod = "multi_source_merge"
	MethodTemplateAssembly SynthesisMethod = "template_assembly"
)

// SynthesizedResponse is the assistant's positive answer: content assembled
// strictly from retrieved documents, with its supporting evidence attached.
// Immutable once built.
type SynthesizedResponse struct {
	Intent     Intent            `json:"intent"`
	Content    any               `json:"content"`
	Confidence float64           `json:"confidence"`
	Sources    []SourceReference `json:"sources"`
	Warnings   []string          `json:"warnings,omitempty"`
	Method     SynthesisMethod   `json:"method"`
}

// Per-intent content shapes. Exactly one of these is carried in
// SynthesizedResponse.Content, matched exhaustively on Intent.

// ClauseDraft is the content shape for suggest_clause.
type ClauseDraft struct {
	Title                string      `json:"title"`
	Content              string      `json:"content"`
	Rationale            string      `json:"rationale"`
	SourceTemplateID     uuid.UUID   `json:"source_template_id"`
	SupportingReferences []uuid.UUID `json:"supporting_references"`
}

// PolicyMapping is the content shape for map_policy.
type PolicyMapping struct {
	PolicyID         string   `json:"policy_id"`
	StandardsCovered []string `json:"standards_covered"`
	CoverageGaps     []string `json:"coverage_gaps"`
}

// PolicyReview is the content shape for review_policy.
type PolicyReview struct {
	Findings         []string `json:"findings"`
	Recommendations  []string `json:"recommendations"`
	ComplianceStatus string   `json:"compliance_status"`
}

// ImprovementPlan is the content shape for suggest_improvement.
type ImprovementPlan struct {
	Suggestions     []string `json:"suggestions"`
	Priority        string   `json:"priority"`
	EstimatedImpact string   `json:"estimated_impact"`
}

// ComplianceCheck is the content shape for validate_compliance.
type ComplianceCheck struct {
	StandardsChecked []string `json:"standards_checked"`
	Passed           []string `json:"passed"`
	Failed           []string `json:"failed"`
}

// FallbackReason says why synthesis could not proceed.
type FallbackReason string

const (
	ReasonInsufficientSources    FallbackReason = "insufficient_sources"
	ReasonLowConfidence          FallbackReason = "low_confidence"
	ReasonSafetyValidationFailed FallbackReason = "safety_validation_failed"
	ReasonSystemError            FallbackReason = "system_error"
)

// AlternativeResource points the user at a human or regulator who can help
// when the assistant cannot.
type AlternativeResource struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// FallbackResponse is the safe, templated non-answer returned when synthesis
// cannot proceed with sufficient evidence. Never generated, always logged.
type FallbackResponse struct {
	Reason            FallbackReason        `json:"reason"`
	Message           string                `json:"message"`
	Alternatives      []AlternativeResource `json:"alternatives"`
	EscalationContact string                `json:"escalation_contact,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// DocumentResponse acknowledges a document ingestion.
type DocumentResponse struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Message string `json:"message"`
}

// SuggestionRequest is the inbound payload for a policy-authoring request.
type SuggestionRequest struct {
	Intent         string   `json:"intent"`
	Prompt         string   `json:"prompt"`
	Jurisdictions  []string `json:"jurisdictions"`
	Standards      []string `json:"standards,omitempty"`
	OrganizationID string   `json:"organization_id"`
	PolicyContext  string   `json:"policy_context,omitempty"`
}

// SuggestionResponse is what the caller gets back: either a synthesized
// response or a fallback, plus the id under which the request was audited.
type SuggestionResponse struct {
	SuggestionID uuid.UUID            `json:"suggestion_id"`
	Status       RequestStatus        `json:"status"`
	Synthesized  *SynthesizedResponse `json:"synthesized,omitempty"`
	Fallback     *FallbackResponse    `json:"fallback,omitempty"`
	ErrorCode    string               `json:"error_code,omitempty"`
	ProcessingMs int64                `json:"processing_ms"`
}

// DecisionRequest records the user's verdict on a prior suggestion.
type DecisionRequest struct {
	Decision        string `json:"decision"`
	ModifiedContent string `json:"modified_content,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// DecisionResponse acknowledges a recorded decision.
type DecisionResponse struct {
	SuggestionID uuid.UUID `json:"suggestion_id"`
	Decision     Decision  `json:"decision"`
	DecidedAt    time.Time `json:"decided_at"`
}

// PermissionsResponse lists what the authenticated user may do.
type PermissionsResponse struct {
	User       string   `json:"user"`
	Intents    []Intent `json:"intents"`
	CanPublish bool     `json:"can_publish"`
}
