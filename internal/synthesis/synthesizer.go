// Package synthesis assembles structured responses strictly from retrieved
// document text. Nothing in a synthesized response may introduce factual
// content that is not traceable to a listed source.
package synthesis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"policy-rag-assistant/internal/config"
	"policy-rag-assistant/internal/models"
)

// ErrInsufficientSources signals that retrieval did not produce enough
// evidence to synthesize anything. The orchestrator answers with a fallback.
var ErrInsufficientSources = errors.New("synthesis: insufficient sources")

// Confidence weights per factor. The count factor saturates at five sources.
const (
	relevanceWeight = 0.4
	countWeight     = 0.3
	verifiedWeight  = 0.2
	recencyWeight   = 0.1

	countSaturation = 5

	// Documents older than this contribute the minimum recency factor.
	recencyHorizon = 5 * 365 * 24 * time.Hour
	recencyFloor   = 0.2
)

// WarnLowConfidence is attached when confidence lands below the configured
// minimum; such responses require human review before use.
const WarnLowConfidence = "confidence below minimum threshold; mandatory human review required"

// WarnSingleSource is attached when the single-source exception path was
// taken instead of the normal multi-source requirement.
const WarnSingleSource = "assembled from a single high-relevance source"

// Synthesizer builds per-intent structured content from retrieval results.
// Pure in-memory computation; it performs no I/O.
type Synthesizer struct {
	minSources      int
	singleSourceBar float64
	minConfidence   float64
	now             func() time.Time
}

// New creates a synthesizer with thresholds from configuration.
func New(cfg config.AssistantConfig) *Synthesizer {
	return &Synthesizer{
		minSources:      cfg.MinSources,
		singleSourceBar: cfg.SingleSourceBar,
		minConfidence:   cfg.MinConfidence,
		now:             time.Now,
	}
}

// singleSourceIntents may be assembled from one source, provided that
// source clears the high-relevance bar.
var singleSourceIntents = map[models.Intent]bool{
	models.IntentSuggestClause: true,
	models.IntentReviewPolicy:  true,
}

// Synthesize builds a response for the intent from the given results, or
// returns ErrInsufficientSources. standards and policyContext come from the
// original request and only parameterize templates; they never add facts.
func (s *Synthesizer) Synthesize(intent models.Intent, results []models.RetrievalResult, standards []string, policyContext string) (*models.SynthesizedResponse, error) {
	if len(results) == 0 {
		return nil, ErrInsufficientSources
	}

	var warnings []string
	method := models.MethodMultiSourceMerge

	if len(results) < s.minSources {
		if !singleSourceIntents[intent] || len(results) != 1 || results[0].Score < s.singleSourceBar {
			return nil, ErrInsufficientSources
		}
		method = models.MethodSingleSource
		warnings = append(warnings, WarnSingleSource)
	}

	content, err := s.assemble(intent, results, standards, policyContext)
	if err != nil {
		return nil, err
	}
	if intent == models.IntentSuggestClause && method != models.MethodSingleSource {
		method = models.MethodTemplateAssembly
	}

	confidence := s.confidence(results)
	if confidence < s.minConfidence {
		warnings = append(warnings, WarnLowConfidence)
	}

	sources := make([]models.SourceReference, 0, len(results))
	for _, result := range results {
		sources = append(sources, models.SourceReference{
			DocumentID: result.Document.ID,
			Version:    result.Document.Version,
			Relevance:  result.Score,
		})
	}

	return &models.SynthesizedResponse{
		Intent:     intent,
		Content:    content,
		Confidence: confidence,
		Sources:    sources,
		Warnings:   warnings,
		Method:     method,
	}, nil
}

// confidence combines average relevance, a saturating source-count factor,
// the verified fraction, and recency, clamped to [0,1].
func (s *Synthesizer) confidence(results []models.RetrievalResult) float64 {
	var relevanceSum, recencySum float64
	var verified int
	now := s.now()

	for _, result := range results {
		relevanceSum += result.Score
		recencySum += recencyFactor(now, result.Document.EffectiveDate)
		if result.Document.Status == models.StatusVerified {
			verified++
		}
	}

	n := float64(len(results))
	countFactor := n / countSaturation
	if countFactor > 1 {
		countFactor = 1
	}

	confidence := relevanceWeight*(relevanceSum/n) +
		countWeight*countFactor +
		verifiedWeight*(float64(verified)/n) +
		recencyWeight*(recencySum/n)

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// recencyFactor decays linearly from 1 for a document effective now down to
// the floor at the horizon.
func recencyFactor(now, effective time.Time) float64 {
	age := now.Sub(effective)
	if age <= 0 {
		return 1
	}
	if age >= recencyHorizon {
		return recencyFloor
	}
	return 1 - (1-recencyFloor)*(float64(age)/float64(recencyHorizon))
}

// assemble shapes the content for each intent. The switch is exhaustive
// over the known intents; an unknown intent here is a programming error
// because the orchestrator validates intents first.
func (s *Synthesizer) assemble(intent models.Intent, results []models.RetrievalResult, standards []string, policyContext string) (any, error) {
	switch intent {
	case models.IntentSuggestClause:
		return s.assembleClause(results), nil
	case models.IntentMapPolicy:
		return s.assembleMapping(results, standards, policyContext), nil
	case models.IntentReviewPolicy:
		return s.assembleReview(results), nil
	case models.IntentSuggestImprovement:
		return s.assembleImprovements(results), nil
	case models.IntentValidateCompliance:
		return s.assembleComplianceCheck(results, standards), nil
	default:
		return nil, fmt.Errorf("synthesis: unhandled intent %q", intent)
	}
}

func (s *Synthesizer) assembleClause(results []models.RetrievalResult) models.ClauseDraft {
	top := results[0].Document

	var body strings.Builder
	var supporting []uuid.UUID
	for i, result := range results {
		doc := result.Document
		if i > 0 {
			supporting = append(supporting, doc.ID)
			body.WriteString("\n\n")
		}
		fmt.Fprintf(&body, "## %s [%d]\n\n%s", doc.Title, i+1, excerpt(doc.Content))
	}

	return models.ClauseDraft{
		Title:                top.Title,
		Content:              body.String(),
		Rationale:            rationale(results),
		SourceTemplateID:     top.ID,
		SupportingReferences: supporting,
	}
}

func (s *Synthesizer) assembleMapping(results []models.RetrievalResult, standards []string, policyContext string) models.PolicyMapping {
	covered := coveredStandards(results)

	var gaps []string
	for _, standard := range standards {
		if !containsFold(covered, standard) {
			gaps = append(gaps, standard)
		}
	}

	return models.PolicyMapping{
		PolicyID:         policyContext,
		StandardsCovered: covered,
		CoverageGaps:     gaps,
	}
}

func (s *Synthesizer) assembleReview(results []models.RetrievalResult) models.PolicyReview {
	var findings, recommendations []string
	verified := 0
	for i, result := range results {
		doc := result.Document
		findings = append(findings, fmt.Sprintf("[%d] %s: %s", i+1, doc.Title, excerpt(doc.Content)))
		if doc.Category == models.CategoryBestPractice {
			recommendations = append(recommendations, excerpt(doc.Content))
		}
		if doc.Status == models.StatusVerified {
			verified++
		}
	}

	status := "needs_review"
	if verified == len(results) {
		status = "supported_by_verified_sources"
	}

	return models.PolicyReview{
		Findings:         findings,
		Recommendations:  recommendations,
		ComplianceStatus: status,
	}
}

func (s *Synthesizer) assembleImprovements(results []models.RetrievalResult) models.ImprovementPlan {
	var suggestions []string
	for i, result := range results {
		doc := result.Document
		suggestions = append(suggestions, fmt.Sprintf("[%d] %s: %s", i+1, doc.Title, excerpt(doc.Content)))
	}

	priority := "routine"
	if results[0].Score >= 0.8 {
		priority = "high"
	}

	return models.ImprovementPlan{
		Suggestions:     suggestions,
		Priority:        priority,
		EstimatedImpact: fmt.Sprintf("derived from %d knowledge-base sources", len(results)),
	}
}

func (s *Synthesizer) assembleComplianceCheck(results []models.RetrievalResult, standards []string) models.ComplianceCheck {
	checked := standards
	if len(checked) == 0 {
		checked = coveredStandards(results)
	}

	var verifiedCovered []string
	for _, result := range results {
		if result.Document.Status != models.StatusVerified {
			continue
		}
		for _, standard := range result.Document.Standards {
			if !containsFold(verifiedCovered, standard) {
				verifiedCovered = append(verifiedCovered, standard)
			}
		}
	}

	var passed, failed []string
	for _, standard := range checked {
		if containsFold(verifiedCovered, standard) {
			passed = append(passed, standard)
		} else {
			failed = append(failed, standard)
		}
	}

	return models.ComplianceCheck{
		StandardsChecked: checked,
		Passed:           passed,
		Failed:           failed,
	}
}

// rationale is pure scaffolding: it cites the sources by title and never
// states anything not carried by their metadata.
func rationale(results []models.RetrievalResult) string {
	titles := make([]string, 0, len(results))
	for _, result := range results {
		titles = append(titles, result.Document.Title)
	}
	return fmt.Sprintf("Assembled from %d knowledge-base source(s): %s.",
		len(results), strings.Join(titles, "; "))
}

func coveredStandards(results []models.RetrievalResult) []string {
	var covered []string
	for _, result := range results {
		for _, standard := range result.Document.Standards {
			if !containsFold(covered, standard) {
				covered = append(covered, standard)
			}
		}
	}
	return covered
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// excerptSentences bounds how much of each source is copied verbatim.
const excerptSentences = 3

// excerpt returns the leading sentences of a document verbatim.
func excerpt(content string) string {
	content = strings.TrimSpace(content)
	count := 0
	for i := 0; i < len(content); i++ {
		if content[i] != '.' && content[i] != '!' && content[i] != '?' {
			continue
		}
		count++
		if count == excerptSentences {
			return strings.TrimSpace(content[:i+1])
		}
	}
	return content
}
