package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"policy-rag-assistant/internal/auth"
	"policy-rag-assistant/internal/config"
	apperrors "policy-rag-assistant/internal/errors"
	"policy-rag-assistant/internal/knowledge"
	"policy-rag-assistant/internal/models"
	"policy-rag-assistant/internal/permissions"
)

// mockOrchestrator lets handler tests script the assistant's behavior.
type mockOrchestrator struct {
	submitResponse   *models.SuggestionResponse
	submitErr        error
	decisionResponse *models.DecisionResponse
	decisionErr      error
	historyEntries   []models.SuggestionLogEntry
	historyErr       error

	lastIdentity auth.Identity
	lastFilter   models.HistoryFilter
}

func (m *mockOrchestrator) Submit(_ context.Context, identity auth.Identity, _ models.SuggestionRequest) (*models.SuggestionResponse, error) {
	m.lastIdentity = identity
	return m.submitResponse, m.submitErr
}

func (m *mockOrchestrator) RecordDecision(_ context.Context, identity auth.Identity, _ uuid.UUID, _ models.DecisionRequest) (*models.DecisionResponse, error) {
	m.lastIdentity = identity
	return m.decisionResponse, m.decisionErr
}

func (m *mockOrchestrator) History(_ context.Context, identity auth.Identity, filter models.HistoryFilter) ([]models.SuggestionLogEntry, error) {
	m.lastIdentity = identity
	m.lastFilter = filter
	return m.historyEntries, m.historyErr
}

func createTestServer(orch *mockOrchestrator) (*Server, *knowledge.MemoryStore) {
	cfg := config.Default()
	store := knowledge.NewMemoryStore()
	guard := permissions.NewGuard(cfg.Permissions)
	return NewServer(orch, store, guard, apperrors.NewErrorHandler(cfg)), store
}

// createAuthenticatedRequest builds a request carrying the mock bearer token
// "user|organization|roles".
func createAuthenticatedRequest(method, path, token string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

const officerToken = "user-1|org-1|compliance_officer"

func TestSuggestionsRequiresAuth(t *testing.T) {
	server, _ := createTestServer(&mockOrchestrator{})

	tests := []struct {
		name  string
		token string
	}{
		{"missing header", ""},
		{"malformed token", "not-a-token"},
		{"empty roles", "user-1|org-1|"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := createAuthenticatedRequest(http.MethodPost, "/suggestions", tc.token, models.SuggestionRequest{})
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestSuggestionsSuccess(t *testing.T) {
	suggestionID := uuid.New()
	orch := &mockOrchestrator{
		submitResponse: &models.SuggestionResponse{
			SuggestionID: suggestionID,
			Status:       models.RequestSuccess,
			Synthesized: &models.SynthesizedResponse{
				Intent:     models.IntentSuggestClause,
				Confidence: 0.81,
				Method:     models.MethodTemplateAssembly,
			},
		},
	}
	server, _ := createTestServer(orch)

	req := createAuthenticatedRequest(http.MethodPost, "/suggestions", officerToken, models.SuggestionRequest{
		Intent:         "suggest_clause",
		Prompt:         "medication storage",
		Jurisdictions:  []string{"england"},
		OrganizationID: "org-1",
	})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if orch.lastIdentity.UserID != "user-1" || orch.lastIdentity.OrganizationID != "org-1" {
		t.Errorf("Identity not passed through: %+v", orch.lastIdentity)
	}

	var got models.SuggestionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}
	if got.SuggestionID != suggestionID || got.Status != models.RequestSuccess {
		t.Errorf("Unexpected response: %+v", got)
	}
}

func TestSuggestionsMethodNotAllowed(t *testing.T) {
	server, _ := createTestServer(&mockOrchestrator{})

	req := createAuthenticatedRequest(http.MethodGet, "/suggestions", officerToken, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestSuggestionsInvalidBody(t *testing.T) {
	server, _ := createTestServer(&mockOrchestrator{})

	req := httptest.NewRequest(http.MethodPost, "/suggestions", bytes.NewBufferString("{nope"))
	req.Header.Set("Authorization", "Bearer "+officerToken)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestAssistantErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid request", apperrors.ErrInvalidRequest, http.StatusBadRequest},
		{"organization mismatch", apperrors.ErrOrganizationMismatch, http.StatusForbidden},
		{"role not authorized", apperrors.ErrRoleNotAuthorized, http.StatusForbidden},
		{"system error", apperrors.ErrSystemError, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := createTestServer(&mockOrchestrator{submitErr: tc.err})

			req := createAuthenticatedRequest(http.MethodPost, "/suggestions", officerToken, models.SuggestionRequest{})
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Errorf("Expected %d, got %d", tc.wantCode, rec.Code)
			}
		})
	}
}

func TestDecisionRoutes(t *testing.T) {
	suggestionID := uuid.New()
	orch := &mockOrchestrator{
		decisionResponse: &models.DecisionResponse{
			SuggestionID: suggestionID,
			Decision:     models.DecisionAccepted,
		},
	}
	server, _ := createTestServer(orch)

	req := createAuthenticatedRequest(http.MethodPost, "/suggestions/"+suggestionID.String()+"/decision",
		officerToken, models.DecisionRequest{Decision: "accepted"})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = createAuthenticatedRequest(http.MethodPost, "/suggestions/not-a-uuid/decision",
		officerToken, models.DecisionRequest{Decision: "accepted"})
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad id, got %d", rec.Code)
	}

	req = createAuthenticatedRequest(http.MethodPost, "/suggestions/"+suggestionID.String()+"/nonsense",
		officerToken, models.DecisionRequest{Decision: "accepted"})
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown subpath, got %d", rec.Code)
	}
}

func TestDecisionConflict(t *testing.T) {
	server, _ := createTestServer(&mockOrchestrator{decisionErr: apperrors.ErrAlreadyDecided})

	req := createAuthenticatedRequest(http.MethodPost, "/suggestions/"+uuid.NewString()+"/decision",
		officerToken, models.DecisionRequest{Decision: "rejected", RejectionReason: "late"})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("Repeat decisions must answer 409, got %d", rec.Code)
	}
}

func TestDecisionNotFound(t *testing.T) {
	server, _ := createTestServer(&mockOrchestrator{decisionErr: apperrors.ErrNotFound})

	req := createAuthenticatedRequest(http.MethodPost, "/suggestions/"+uuid.NewString()+"/decision",
		officerToken, models.DecisionRequest{Decision: "accepted"})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestHistoryParsesQuery(t *testing.T) {
	orch := &mockOrchestrator{
		historyEntries: []models.SuggestionLogEntry{
			{ID: uuid.New(), UserID: "user-1", Intent: models.IntentSuggestClause, Status: models.RequestSuccess},
		},
	}
	server, _ := createTestServer(orch)

	req := createAuthenticatedRequest(http.MethodGet,
		"/history?intent=suggest_clause&status=success&limit=5&offset=10", officerToken, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if orch.lastFilter.Intent != models.IntentSuggestClause || orch.lastFilter.Status != models.RequestSuccess {
		t.Errorf("Filter not passed through: %+v", orch.lastFilter)
	}
	if orch.lastFilter.Limit != 5 || orch.lastFilter.Offset != 10 {
		t.Errorf("Pagination not passed through: %+v", orch.lastFilter)
	}

	var got models.HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}
	if got.Count != 1 || got.Offset != 10 {
		t.Errorf("Unexpected history response: %+v", got)
	}
}

func TestDocumentsRequiresPublishRole(t *testing.T) {
	server, store := createTestServer(&mockOrchestrator{})

	body := map[string]any{
		"title":         "Medication Policy",
		"content":       "Medication must be stored securely.",
		"category":      "policy_template",
		"jurisdictions": []string{"england"},
	}

	req := createAuthenticatedRequest(http.MethodPost, "/documents", "author|org-1|policy_author", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Non-publishing roles must get 403, got %d", rec.Code)
	}

	req = createAuthenticatedRequest(http.MethodPost, "/documents", "mgr|org-1|manager", body)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created models.DocumentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}
	id, err := uuid.Parse(created.ID)
	if err != nil {
		t.Fatalf("Response id is not a uuid: %v", err)
	}
	if _, err := store.Get(context.Background(), id); err != nil {
		t.Errorf("Document not stored: %v", err)
	}
}

func TestDocumentsValidation(t *testing.T) {
	server, _ := createTestServer(&mockOrchestrator{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing title", map[string]any{"content": "x", "jurisdictions": []string{"england"}}},
		{"missing content", map[string]any{"title": "x", "jurisdictions": []string{"england"}}},
		{"no jurisdictions", map[string]any{"title": "x", "content": "y"}},
		{"unknown jurisdiction", map[string]any{"title": "x", "content": "y", "jurisdictions": []string{"atlantis"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := createAuthenticatedRequest(http.MethodPost, "/documents", "mgr|org-1|manager", tc.body)
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestDocumentStatusUpdate(t *testing.T) {
	server, store := createTestServer(&mockOrchestrator{})

	doc := models.NewKnowledgeDocument("Policy", "Content.", models.CategoryPolicyTemplate,
		[]string{"england"}, nil)
	if err := store.Add(context.Background(), doc); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	req := createAuthenticatedRequest(http.MethodPost, "/documents/status", "mgr|org-1|manager",
		map[string]string{"id": doc.ID.String(), "status": "deprecated", "reason": "superseded by 2026 edition"})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := store.Get(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.StatusDeprecated {
		t.Errorf("Status not updated, got %s", got.Status)
	}

	// Deprecation without a reason is refused.
	other := models.NewKnowledgeDocument("Other", "Content.", models.CategoryPolicyTemplate,
		[]string{"england"}, nil)
	if err := store.Add(context.Background(), other); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	req = createAuthenticatedRequest(http.MethodPost, "/documents/status", "mgr|org-1|manager",
		map[string]string{"id": other.ID.String(), "status": "deprecated"})
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Unjustified deprecation must get 400, got %d", rec.Code)
	}

	// Unknown document.
	req = createAuthenticatedRequest(http.MethodPost, "/documents/status", "mgr|org-1|manager",
		map[string]string{"id": uuid.NewString(), "status": "verified"})
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Unknown documents must get 404, got %d", rec.Code)
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	server, _ := createTestServer(&mockOrchestrator{})

	req := createAuthenticatedRequest(http.MethodGet, "/permissions", "lead|org-1|quality_lead", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var got models.PermissionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}
	if got.User != "lead" || got.CanPublish {
		t.Errorf("Unexpected permissions: %+v", got)
	}
	if len(got.Intents) != 2 {
		t.Errorf("Quality leads hold 2 intents, got %v", got.Intents)
	}
}

func TestHealthCheck(t *testing.T) {
	server, _ := createTestServer(&mockOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var got models.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}
	if got.Status != "healthy" {
		t.Errorf("Unexpected health payload: %+v", got)
	}
}
