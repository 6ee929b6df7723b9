package retrieval

import (
	"context"
	"reflect"
	"testing"
	"time"

	"policy-rag-assistant/internal/cache"
	"policy-rag-assistant/internal/knowledge"
	"policy-rag-assistant/internal/models"
)

func addDoc(t *testing.T, store *knowledge.MemoryStore, title, content string, jurisdictions []string, effective time.Time) *models.KnowledgeDocument {
	t.Helper()
	doc := models.NewKnowledgeDocument(title, content, models.CategoryPolicyTemplate, jurisdictions, []string{"CQC-R12"})
	doc.Status = models.StatusVerified
	doc.EffectiveDate = effective
	if err := store.Add(context.Background(), doc); err != nil {
		t.Fatalf("Failed to add document: %v", err)
	}
	return doc
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"normalises and dedupes", "Medication MEDICATION policy", []string{"medication", "policy"}},
		{"drops stopwords and short tokens", "what should the plan for a UK home be", []string{"plan", "home"}},
		{"splits on punctuation", "infection-control; audits/reviews", []string{"infection", "control", "audits", "reviews"}},
		{"empty query", "   ", nil},
		{"only noise", "to a an of", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Tokenize(tc.query); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tc.query, got, tc.want)
			}
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	terms := Tokenize("medication administration policy")
	text := "medication must be administered by trained staff under the medication policy"

	first, matchedFirst := Score(terms, text)
	for i := 0; i < 10; i++ {
		again, matchedAgain := Score(terms, text)
		if again != first || !reflect.DeepEqual(matchedAgain, matchedFirst) {
			t.Fatalf("Score is not deterministic: %v/%v vs %v/%v", first, matchedFirst, again, matchedAgain)
		}
	}
	if first <= 0 || first > 1 {
		t.Errorf("Score %v out of (0,1]", first)
	}
}

func TestScoreMonotonicInCoverage(t *testing.T) {
	terms := Tokenize("medication storage disposal records")

	oneTerm, _ := Score(terms, "medication handling guidance")
	twoTerms, _ := Score(terms, "medication storage guidance")
	allTerms, _ := Score(terms, "medication storage disposal records guidance")

	if !(oneTerm < twoTerms && twoTerms < allTerms) {
		t.Errorf("Coverage must dominate: %v < %v < %v expected", oneTerm, twoTerms, allTerms)
	}
}

func TestScoreNoMatch(t *testing.T) {
	score, matched := Score(Tokenize("fire evacuation"), "medication storage guidance")
	if score != 0 || matched != nil {
		t.Errorf("Expected zero score for no match, got %v / %v", score, matched)
	}
}

func TestRetrieveFiltersAndOrders(t *testing.T) {
	store := knowledge.NewMemoryStore()
	now := time.Now().UTC()

	strong := addDoc(t, store, "Medication Policy",
		"medication storage and medication disposal for care homes", []string{"england"}, now)
	weak := addDoc(t, store, "General Guidance",
		"storage of equipment", []string{"england"}, now)
	addDoc(t, store, "Scottish Medication Rules",
		"medication storage and disposal", []string{"scotland"}, now)

	retriever := New(store, nil, 0)
	results, err := retriever.Retrieve(context.Background(), "medication storage disposal", []string{"england"}, nil, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 england results, got %d", len(results))
	}
	if results[0].Document.ID != strong.ID {
		t.Errorf("Expected the stronger match first, got %s", results[0].Document.Title)
	}
	if results[1].Document.ID != weak.ID {
		t.Errorf("Expected the weaker match second, got %s", results[1].Document.Title)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("Scores must be descending: %v then %v", results[0].Score, results[1].Score)
	}
}

func TestRetrieveExcludesDeprecated(t *testing.T) {
	store := knowledge.NewMemoryStore()
	now := time.Now().UTC()

	doc := addDoc(t, store, "Old Medication Policy", "medication storage guidance", []string{"england"}, now)
	if err := store.SetStatus(context.Background(), doc.ID, models.StatusDeprecated, "superseded by 2026 edition", nil); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	retriever := New(store, nil, 0)
	results, err := retriever.Retrieve(context.Background(), "medication storage", []string{"england"}, nil, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Deprecated documents must never be retrieved, got %d results", len(results))
	}
}

func TestRetrieveTieBreaksByEffectiveDateThenID(t *testing.T) {
	store := knowledge.NewMemoryStore()
	now := time.Now().UTC()

	older := addDoc(t, store, "Policy A", "medication storage rules", []string{"england"}, now.Add(-48*time.Hour))
	newer := addDoc(t, store, "Policy B", "medication storage rules", []string{"england"}, now)

	retriever := New(store, nil, 0)
	results, err := retriever.Retrieve(context.Background(), "medication storage", []string{"england"}, nil, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Document.ID != newer.ID || results[1].Document.ID != older.ID {
		t.Errorf("Equal scores must order by most recent effective date first")
	}
	if results[0].Score != results[1].Score {
		t.Fatalf("Test setup expected equal scores, got %v and %v", results[0].Score, results[1].Score)
	}
}

func TestRetrieveHonoursMaxResults(t *testing.T) {
	store := knowledge.NewMemoryStore()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		addDoc(t, store, "Policy", "medication storage rules", []string{"england"}, now.Add(-time.Duration(i)*time.Hour))
	}

	retriever := New(store, nil, 0)
	results, err := retriever.Retrieve(context.Background(), "medication storage", []string{"england"}, nil, 3)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Expected maxResults to cap at 3, got %d", len(results))
	}
}

func TestRetrieveStandardsFilter(t *testing.T) {
	store := knowledge.NewMemoryStore()
	now := time.Now().UTC()

	tagged := models.NewKnowledgeDocument("Tagged", "medication storage rules",
		models.CategoryComplianceStandard, []string{"england"}, []string{"ISO-9001"})
	tagged.Status = models.StatusVerified
	tagged.EffectiveDate = now
	agnostic := models.NewKnowledgeDocument("Agnostic", "medication storage rules",
		models.CategoryBestPractice, []string{"england"}, nil)
	agnostic.Status = models.StatusVerified
	agnostic.EffectiveDate = now
	for _, doc := range []*models.KnowledgeDocument{tagged, agnostic} {
		if err := store.Add(context.Background(), doc); err != nil {
			t.Fatalf("Failed to add document: %v", err)
		}
	}

	retriever := New(store, nil, 0)
	results, err := retriever.Retrieve(context.Background(), "medication storage", []string{"england"}, []string{"CQC-R12"}, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}

	// The tagged document covers a different standard and drops out; the
	// untagged one is standard-agnostic and stays.
	if len(results) != 1 || results[0].Document.ID != agnostic.ID {
		t.Fatalf("Expected only the standard-agnostic document, got %d results", len(results))
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	store := knowledge.NewMemoryStore()
	retriever := New(store, nil, 0)

	results, err := retriever.Retrieve(context.Background(), "the and for", []string{"england"}, nil, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("A query with no usable terms must return no results, got %d", len(results))
	}
}

func TestRetrieveCacheInvalidatedByWrites(t *testing.T) {
	store := knowledge.NewMemoryStore()
	resultCache := cache.NewMemory()
	now := time.Now().UTC()

	addDoc(t, store, "Policy A", "medication storage rules", []string{"england"}, now)

	retriever := New(store, resultCache, time.Minute)
	first, err := retriever.Retrieve(context.Background(), "medication storage", []string{"england"}, nil, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(first))
	}
	if resultCache.Len() != 1 {
		t.Fatalf("Expected a cached result set, got %d entries", resultCache.Len())
	}

	// A corpus write bumps the generation; the stale entry must not be served.
	addDoc(t, store, "Policy B", "medication storage rules", []string{"england"}, now)

	second, err := retriever.Retrieve(context.Background(), "medication storage", []string{"england"}, nil, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("Expected the fresh corpus (2 results), got %d", len(second))
	}
}

func TestRetrieveCacheHitIsStable(t *testing.T) {
	store := knowledge.NewMemoryStore()
	resultCache := cache.NewMemory()
	now := time.Now().UTC()
	addDoc(t, store, "Policy A", "medication storage rules", []string{"england"}, now)

	retriever := New(store, resultCache, time.Minute)
	first, err := retriever.Retrieve(context.Background(), "medication storage", []string{"england"}, nil, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	second, err := retriever.Retrieve(context.Background(), "medication storage", []string{"england"}, nil, 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Cached result differs in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Document.ID != second[i].Document.ID || first[i].Score != second[i].Score {
			t.Errorf("Cached result %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
