// Package assistant contains the orchestrator that drives each request
// through authorization, retrieval, synthesis, safety validation, and
// auditing.
package assistant

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"policy-rag-assistant/internal/audit"
	"policy-rag-assistant/internal/auth"
	"policy-rag-assistant/internal/config"
	"policy-rag-assistant/internal/errors"
	"policy-rag-assistant/internal/fallback"
	"policy-rag-assistant/internal/knowledge"
	"policy-rag-assistant/internal/models"
	"policy-rag-assistant/internal/permissions"
	"policy-rag-assistant/internal/retrieval"
	"policy-rag-assistant/internal/safety"
	"policy-rag-assistant/internal/synthesis"
)

// Assistant coordinates one request end to end. Every submit call writes
// exactly one audit entry before returning, whatever path the request took.
type Assistant struct {
	cfg       config.AssistantConfig
	guard     permissions.Checker
	retriever retrieval.Retriever
	synth     *synthesis.Synthesizer
	fallbacks *fallback.Handler
	validator safety.Validator
	sink      audit.Sink
	store     knowledge.Store
	now       func() time.Time
}

// New wires the orchestrator. All thresholds come from cfg; nothing reads
// process-wide state at request time.
func New(cfg config.AssistantConfig, guard permissions.Checker, retriever retrieval.Retriever,
	synth *synthesis.Synthesizer, fallbacks *fallback.Handler, validator safety.Validator,
	sink audit.Sink, store knowledge.Store) *Assistant {
	return &Assistant{
		cfg:       cfg,
		guard:     guard,
		retriever: retriever,
		synth:     synth,
		fallbacks: fallbacks,
		validator: validator,
		sink:      sink,
		store:     store,
		now:       time.Now,
	}
}

// Submit runs the full pipeline for one request. The returned response is
// always well-formed; the error, when non-nil, is a StandardError the
// transport layer maps to a status code. The audit entry has been durably
// written by the time Submit returns.
func (a *Assistant) Submit(ctx context.Context, identity auth.Identity, req models.SuggestionRequest) (*models.SuggestionResponse, error) {
	start := a.now()
	entry := &models.SuggestionLogEntry{
		ID:             uuid.New(),
		UserID:         identity.UserID,
		OrganizationID: identity.OrganizationID,
		Prompt:         req.Prompt,
		Jurisdictions:  req.Jurisdictions,
		Decision:       models.DecisionPending,
		CreatedAt:      start,
	}

	intent, err := validateRequest(req)
	entry.Intent = intent
	if err != nil {
		return a.finishError(ctx, entry, start, err)
	}

	if err := a.guard.Authorize(identity.Roles, identity.OrganizationID, req.OrganizationID, intent); err != nil {
		return a.finishError(ctx, entry, start, err)
	}

	results, err := a.retrieve(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return a.finishError(ctx, entry, start, &errors.StandardError{
				Type:    errors.CodeCancelled,
				Message: "request cancelled",
				Cause:   ctx.Err(),
			})
		}
		log.Printf("assistant: retrieval failed: %v", err)
		return a.finishSystemError(ctx, entry, start, intent, req.Jurisdictions)
	}

	response, err := a.synth.Synthesize(intent, results, req.Standards, req.PolicyContext)
	if err == synthesis.ErrInsufficientSources {
		return a.finishFallback(ctx, entry, start,
			a.fallbacks.Build(models.ReasonInsufficientSources, intent, req.Jurisdictions))
	}
	if err != nil {
		log.Printf("assistant: synthesis failed: %v", err)
		return a.finishSystemError(ctx, entry, start, intent, req.Jurisdictions)
	}

	// Far-below-threshold confidence is not shown even with a warning; the
	// response is replaced by a fallback.
	if response.Confidence < a.cfg.FallbackCutoff {
		return a.finishFallback(ctx, entry, start,
			a.fallbacks.Build(models.ReasonLowConfidence, intent, req.Jurisdictions))
	}

	verdict, err := a.validate(ctx, response)
	if err != nil {
		if ctx.Err() != nil {
			return a.finishError(ctx, entry, start, &errors.StandardError{
				Type:    errors.CodeCancelled,
				Message: "request cancelled",
				Cause:   ctx.Err(),
			})
		}
		log.Printf("assistant: safety validation failed: %v", err)
		return a.finishSystemError(ctx, entry, start, intent, req.Jurisdictions)
	}
	if !verdict.Approved {
		log.Printf("assistant: content rejected by safety validator: %v", verdict.Reasons)
		return a.finishFallback(ctx, entry, start,
			a.fallbacks.Build(models.ReasonSafetyValidationFailed, intent, req.Jurisdictions))
	}

	a.recordUsage(ctx, response.Sources)

	entry.Synthesized = response
	entry.Status = models.RequestSuccess
	entry.ProcessingMs = a.elapsed(start)
	if err := a.appendAudit(ctx, entry); err != nil {
		return nil, errors.ErrSystemError.WithCause(err)
	}

	return &models.SuggestionResponse{
		SuggestionID: entry.ID,
		Status:       models.RequestSuccess,
		Synthesized:  response,
		ProcessingMs: entry.ProcessingMs,
	}, nil
}

// RecordDecision sets the one-shot decision fields on an existing entry.
// Only the user who made the original request may decide on it.
func (a *Assistant) RecordDecision(ctx context.Context, identity auth.Identity, suggestionID uuid.UUID, req models.DecisionRequest) (*models.DecisionResponse, error) {
	decision, ok := models.ParseDecision(req.Decision)
	if !ok {
		return nil, errors.ErrInvalidRequest.WithCause(
			&errors.StandardError{Type: errors.CodeInvalidRequest, Message: "unknown decision " + req.Decision})
	}
	if decision == models.DecisionModified && strings.TrimSpace(req.ModifiedContent) == "" {
		return nil, errors.ErrInvalidRequest.WithCause(
			&errors.StandardError{Type: errors.CodeInvalidRequest, Message: "modified decision requires modified content"})
	}

	entry, err := a.sink.Get(ctx, suggestionID)
	if err == audit.ErrEntryNotFound {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.ErrSystemError.WithCause(err)
	}
	// Do not reveal other users' suggestion ids.
	if entry.UserID != identity.UserID {
		return nil, errors.ErrNotFound
	}

	decidedAt := a.now()
	err = a.sink.UpdateDecision(ctx, suggestionID, decision, req.ModifiedContent, req.RejectionReason, decidedAt)
	switch err {
	case nil:
	case audit.ErrEntryNotFound:
		return nil, errors.ErrNotFound
	case audit.ErrAlreadyDecided:
		return nil, errors.ErrAlreadyDecided
	default:
		return nil, errors.ErrSystemError.WithCause(err)
	}

	return &models.DecisionResponse{
		SuggestionID: suggestionID,
		Decision:     decision,
		DecidedAt:    decidedAt,
	}, nil
}

// History returns the caller's own suggestion log, newest first.
func (a *Assistant) History(ctx context.Context, identity auth.Identity, filter models.HistoryFilter) ([]models.SuggestionLogEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = a.cfg.HistoryPageSize
	}
	entries, err := a.sink.History(ctx, identity.UserID, filter)
	if err != nil {
		return nil, errors.ErrSystemError.WithCause(err)
	}
	return entries, nil
}

// retrieve runs retrieval under its own deadline, retrying once on a
// transient failure. Retrieval is read-only, so the retry is safe.
func (a *Assistant) retrieve(ctx context.Context, req models.SuggestionRequest) ([]models.RetrievalResult, error) {
	retrieveOnce := func() ([]models.RetrievalResult, error) {
		rctx, cancel := context.WithTimeout(ctx, a.cfg.RetrievalTimeout())
		defer cancel()
		return a.retriever.Retrieve(rctx, req.Prompt, req.Jurisdictions, req.Standards, a.cfg.MaxResults)
	}

	results, err := retrieveOnce()
	if err != nil && ctx.Err() == nil {
		log.Printf("assistant: retrying retrieval after error: %v", err)
		results, err = retrieveOnce()
	}
	return results, err
}

func (a *Assistant) validate(ctx context.Context, response *models.SynthesizedResponse) (safety.Result, error) {
	vctx, cancel := context.WithTimeout(ctx, a.cfg.SafetyTimeout())
	defer cancel()
	return a.validator.Validate(vctx, response)
}

// recordUsage bumps usage counters for cited documents. Best effort; a
// failure here never fails the request.
func (a *Assistant) recordUsage(ctx context.Context, sources []models.SourceReference) {
	ids := make([]uuid.UUID, 0, len(sources))
	for _, source := range sources {
		ids = append(ids, source.DocumentID)
	}
	if err := a.store.RecordUsage(ctx, ids); err != nil {
		log.Printf("assistant: recording document usage: %v", err)
	}
}

func (a *Assistant) finishFallback(ctx context.Context, entry *models.SuggestionLogEntry, start time.Time, fb *models.FallbackResponse) (*models.SuggestionResponse, error) {
	entry.Fallback = fb
	entry.Status = models.RequestFallback
	entry.ProcessingMs = a.elapsed(start)
	if err := a.appendAudit(ctx, entry); err != nil {
		return nil, errors.ErrSystemError.WithCause(err)
	}

	return &models.SuggestionResponse{
		SuggestionID: entry.ID,
		Status:       models.RequestFallback,
		Fallback:     fb,
		ProcessingMs: entry.ProcessingMs,
	}, nil
}

// finishSystemError logs an error-status entry but still hands the caller a
// usable fallback rather than a bare failure.
func (a *Assistant) finishSystemError(ctx context.Context, entry *models.SuggestionLogEntry, start time.Time, intent models.Intent, jurisdictions []string) (*models.SuggestionResponse, error) {
	fb := a.fallbacks.Build(models.ReasonSystemError, intent, jurisdictions)
	entry.Fallback = fb
	entry.Status = models.RequestError
	entry.ErrorCode = errors.CodeSystemError
	entry.ProcessingMs = a.elapsed(start)
	if err := a.appendAudit(ctx, entry); err != nil {
		return nil, errors.ErrSystemError.WithCause(err)
	}

	return &models.SuggestionResponse{
		SuggestionID: entry.ID,
		Status:       models.RequestError,
		Fallback:     fb,
		ErrorCode:    errors.CodeSystemError,
		ProcessingMs: entry.ProcessingMs,
	}, nil
}

func (a *Assistant) finishError(ctx context.Context, entry *models.SuggestionLogEntry, start time.Time, cause error) (*models.SuggestionResponse, error) {
	code := errors.Code(cause)
	entry.Status = models.RequestError
	entry.ErrorCode = code
	entry.ProcessingMs = a.elapsed(start)
	if err := a.appendAudit(ctx, entry); err != nil {
		return nil, errors.ErrSystemError.WithCause(err)
	}

	return &models.SuggestionResponse{
		SuggestionID: entry.ID,
		Status:       models.RequestError,
		ErrorCode:    code,
		ProcessingMs: entry.ProcessingMs,
	}, cause
}

// appendAudit writes the entry even when the request context was cancelled:
// losing audit coverage is a correctness bug, not an optimization.
func (a *Assistant) appendAudit(ctx context.Context, entry *models.SuggestionLogEntry) error {
	if err := a.sink.Append(context.WithoutCancel(ctx), entry); err != nil {
		log.Printf("assistant: FAILED to write audit entry %s: %v", entry.ID, err)
		return err
	}
	return nil
}

func (a *Assistant) elapsed(start time.Time) int64 {
	return a.now().Sub(start).Milliseconds()
}

// validateRequest checks the request shape before anything else runs.
func validateRequest(req models.SuggestionRequest) (models.Intent, error) {
	intent, err := models.ParseIntent(req.Intent)
	if err != nil {
		return "", errors.ErrInvalidRequest.WithCause(err)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return intent, errors.ErrInvalidRequest.WithCause(
			&errors.StandardError{Type: errors.CodeInvalidRequest, Message: "prompt must not be empty"})
	}
	if len(req.Jurisdictions) == 0 {
		return intent, errors.ErrInvalidRequest.WithCause(
			&errors.StandardError{Type: errors.CodeInvalidRequest, Message: "jurisdictions must not be empty"})
	}
	for _, jurisdiction := range req.Jurisdictions {
		if !models.ValidJurisdiction(jurisdiction) {
			return intent, errors.ErrInvalidRequest.WithCause(
				&errors.StandardError{Type: errors.CodeInvalidRequest, Message: "unknown jurisdiction " + jurisdiction})
		}
	}
	if strings.TrimSpace(req.OrganizationID) == "" {
		return intent, errors.ErrInvalidRequest.WithCause(
			&errors.StandardError{Type: errors.CodeInvalidRequest, Message: "organization_id must not be empty"})
	}
	return intent, nil
}
