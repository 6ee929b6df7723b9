// Package api exposes the assistant over JSON-over-HTTP.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/ory/herodot"

	"policy-rag-assistant/internal/auth"
	"policy-rag-assistant/internal/errors"
	"policy-rag-assistant/internal/knowledge"
	"policy-rag-assistant/internal/models"
	"policy-rag-assistant/internal/permissions"
)

// Orchestrator is the assistant surface the server depends on.
type Orchestrator interface {
	Submit(ctx context.Context, identity auth.Identity, req models.SuggestionRequest) (*models.SuggestionResponse, error)
	RecordDecision(ctx context.Context, identity auth.Identity, suggestionID uuid.UUID, req models.DecisionRequest) (*models.DecisionResponse, error)
	History(ctx context.Context, identity auth.Identity, filter models.HistoryFilter) ([]models.SuggestionLogEntry, error)
}

type Server struct {
	mux        *http.ServeMux
	orch       Orchestrator
	store      knowledge.Store
	guard      permissions.Checker
	writer     *herodot.JSONWriter
	errHandler *errors.ErrorHandler
}

func NewServer(orch Orchestrator, store knowledge.Store, guard permissions.Checker, errHandler *errors.ErrorHandler) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		orch:       orch,
		store:      store,
		guard:      guard,
		writer:     herodot.NewJSONWriter(nil),
		errHandler: errHandler,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/suggestions", auth.Middleware(http.HandlerFunc(s.handleSuggestions)))
	s.mux.Handle("/suggestions/", auth.Middleware(http.HandlerFunc(s.handleDecision)))
	s.mux.Handle("/history", auth.Middleware(http.HandlerFunc(s.handleHistory)))
	s.mux.Handle("/documents", auth.Middleware(http.HandlerFunc(s.handleDocuments)))
	s.mux.Handle("/documents/status", auth.Middleware(http.HandlerFunc(s.handleDocumentStatus)))
	s.mux.Handle("/permissions", auth.Middleware(http.HandlerFunc(s.handlePermissions)))
	s.mux.HandleFunc("/health", s.healthCheck)
}

func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.mux)
}

func (s *Server) Run(addr string) error {
	log.Printf("Server starting on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req models.SuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	response, err := s.orch.Submit(r.Context(), identity, req)
	if err != nil {
		s.writeAssistantError(w, r, err)
		return
	}
	s.writer.Write(w, r, response)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	// Path shape: /suggestions/{id}/decision
	rest := strings.TrimPrefix(r.URL.Path, "/suggestions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "decision" {
		s.errHandler.HandleNotFoundError(w, r, r.URL.Path, requestID())
		return
	}
	suggestionID, err := uuid.Parse(parts[0])
	if err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid suggestion id"))
		return
	}

	var req models.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	response, err := s.orch.RecordDecision(r.Context(), identity, suggestionID, req)
	if err != nil {
		s.writeAssistantError(w, r, err)
		return
	}
	s.writer.Write(w, r, response)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	filter := models.HistoryFilter{
		Intent: models.Intent(query.Get("intent")),
		Status: models.RequestStatus(query.Get("status")),
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	identity := auth.IdentityFromContext(r.Context())
	entries, err := s.orch.History(r.Context(), identity, filter)
	if err != nil {
		s.writeAssistantError(w, r, err)
		return
	}

	s.writer.Write(w, r, &models.HistoryResponse{
		Entries: entries,
		Count:   len(entries),
		Offset:  filter.Offset,
	})
}

// documentRequest is the ingestion payload for knowledge-base content.
type documentRequest struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Category      string   `json:"category"`
	Jurisdictions []string `json:"jurisdictions"`
	Standards     []string `json:"standards"`
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	if !s.guard.CanPublish(identity.Roles) {
		s.errHandler.HandleAuthorizationError(w, r, errors.ErrRoleNotAuthorized, requestID())
		return
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return
	}
	if req.Title == "" || req.Content == "" || len(req.Jurisdictions) == 0 {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("title, content, and jurisdictions are required"))
		return
	}
	for _, jurisdiction := range req.Jurisdictions {
		if !models.ValidJurisdiction(jurisdiction) {
			s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Unknown jurisdiction "+jurisdiction))
			return
		}
	}

	doc := models.NewKnowledgeDocument(req.Title, req.Content,
		models.DocumentCategory(req.Category), req.Jurisdictions, req.Standards)
	if err := s.store.Add(r.Context(), doc); err != nil {
		s.errHandler.HandleInternalError(w, r, err, requestID())
		return
	}

	s.writer.WriteCreated(w, r, "/documents/"+doc.ID.String(), &models.DocumentResponse{
		ID:      doc.ID.String(),
		Version: doc.Version,
		Message: "Document added successfully",
	})
}

// documentStatusRequest moves a document's current version to a new
// verification status.
type documentStatusRequest struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	if !s.guard.CanPublish(identity.Roles) {
		s.errHandler.HandleAuthorizationError(w, r, errors.ErrRoleNotAuthorized, requestID())
		return
	}

	var req documentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid document id"))
		return
	}
	status := models.VerificationStatus(req.Status)
	switch status {
	case models.StatusVerified, models.StatusPending, models.StatusDeprecated:
	default:
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Unknown status "+req.Status))
		return
	}

	var supersededBy *uuid.UUID
	if req.SupersededBy != "" {
		ref, err := uuid.Parse(req.SupersededBy)
		if err != nil {
			s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid superseding document id"))
			return
		}
		supersededBy = &ref
	}

	switch err := s.store.SetStatus(r.Context(), id, status, req.Reason, supersededBy); err {
	case nil:
	case knowledge.ErrDocumentNotFound:
		s.errHandler.HandleNotFoundError(w, r, req.ID, requestID())
		return
	case knowledge.ErrDeprecationUnjustified:
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason(err.Error()))
		return
	default:
		s.errHandler.HandleInternalError(w, r, err, requestID())
		return
	}

	s.writer.Write(w, r, &models.DocumentResponse{
		ID:      req.ID,
		Message: "Document status updated",
	})
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	s.writer.Write(w, r, &models.PermissionsResponse{
		User:       identity.UserID,
		Intents:    s.guard.IntentsFor(identity.Roles),
		CanPublish: s.guard.CanPublish(identity.Roles),
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error": "Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	s.writer.Write(w, r, &models.HealthResponse{Status: "healthy"})
}

// writeAssistantError maps the assistant's error taxonomy onto HTTP.
func (s *Server) writeAssistantError(w http.ResponseWriter, r *http.Request, err error) {
	id := requestID()
	switch errors.Code(err) {
	case errors.CodeInvalidRequest:
		s.errHandler.HandleValidationError(w, r, err, id)
	case errors.CodeOrganizationMismatch, errors.CodeRoleNotAuthorized:
		s.errHandler.HandleAuthorizationError(w, r, err, id)
	case errors.CodeNotFound:
		s.errHandler.HandleNotFoundError(w, r, "suggestion", id)
	case errors.CodeAlreadyDecided:
		s.errHandler.HandleConflictError(w, r, err, id)
	default:
		s.errHandler.HandleInternalError(w, r, err, id)
	}
}

func requestID() string {
	return uuid.New().String()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s %s", r.Method, r.RequestURI, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
