// Package retrieval implements the verified retriever: deterministic
// keyword scoring over the knowledge base, filtered by jurisdiction and
// standard, with a bounded-TTL result cache.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"policy-rag-assistant/internal/cache"
	"policy-rag-assistant/internal/knowledge"
	"policy-rag-assistant/internal/models"
)

// Relevance combines keyword coverage and match frequency. Coverage
// dominates so matching more distinct query terms never scores lower.
const (
	coverageWeight  = 0.6
	frequencyWeight = 0.4

	// Occurrences per matched term at which the frequency factor saturates.
	frequencySaturation = 5.0

	defaultMaxResults = 10
)

// Retriever is the retrieval contract the orchestrator depends on.
type Retriever interface {
	// Retrieve returns scored results ordered by relevance. An empty list
	// is the normal no-match signal, not an error.
	Retrieve(ctx context.Context, query string, jurisdictions, standards []string, maxResults int) ([]models.RetrievalResult, error)
}

// VerifiedRetriever retrieves from a knowledge.Store and caches results
// keyed by (corpus generation, query, jurisdictions, standards), so any
// store write invalidates previously cached result sets.
type VerifiedRetriever struct {
	store knowledge.Store
	cache cache.Cache
	ttl   time.Duration
}

// New creates a retriever. cache may be nil to disable caching.
func New(store knowledge.Store, resultCache cache.Cache, ttl time.Duration) *VerifiedRetriever {
	return &VerifiedRetriever{store: store, cache: resultCache, ttl: ttl}
}

// Retrieve implements Retriever.
func (r *VerifiedRetriever) Retrieve(ctx context.Context, query string, jurisdictions, standards []string, maxResults int) ([]models.RetrievalResult, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	generation, err := r.store.Generation(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieval: reading corpus generation: %w", err)
	}

	key := cacheKey(generation, query, jurisdictions, standards, maxResults)
	if r.cache != nil {
		if data, ok := r.cache.Get(ctx, key); ok {
			var cached []models.RetrievalResult
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
			log.Printf("retrieval: discarding undecodable cache entry %s", key)
		}
	}

	candidates, err := r.store.Candidates(ctx, terms, jurisdictions)
	if err != nil {
		return nil, fmt.Errorf("retrieval: querying candidates: %w", err)
	}

	var results []models.RetrievalResult
	for _, doc := range candidates {
		if doc.Deprecated() {
			// Candidates already exclude deprecated versions; this guards
			// alternative store implementations.
			continue
		}
		if !matchesStandards(doc, standards) {
			continue
		}
		score, matched := Score(terms, doc.SearchText)
		if score <= 0 {
			continue
		}
		results = append(results, models.RetrievalResult{
			Document:     doc,
			Score:        score,
			MatchedTerms: matched,
		})
	}

	sortResults(results)
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	if r.cache != nil {
		if data, err := json.Marshal(results); err == nil {
			r.cache.Set(ctx, key, data, r.ttl)
		}
	}

	return results, nil
}

// Tokenize normalises a query into distinct lowercase terms. Very short
// tokens and common filler words carry no signal and are dropped.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	seen := make(map[string]struct{}, len(fields))
	var terms []string
	for _, field := range fields {
		if len(field) < 3 {
			continue
		}
		if _, stop := stopwords[field]; stop {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		terms = append(terms, field)
	}
	return terms
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "have": {}, "this": {}, "that": {},
	"with": {}, "from": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"should": {}, "about": {}, "please": {},
}

// Score computes the relevance of a document's search text against the
// query terms: keyword-coverage ratio weighted 0.6 plus a saturating
// normalized match frequency weighted 0.4. Deterministic for a fixed
// (terms, text) pair.
func Score(terms []string, searchText string) (float64, []string) {
	if len(terms) == 0 {
		return 0, nil
	}

	var matched []string
	var occurrences int
	for _, term := range terms {
		count := strings.Count(searchText, term)
		if count > 0 {
			matched = append(matched, term)
			occurrences += count
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	coverage := float64(len(matched)) / float64(len(terms))
	frequency := float64(occurrences) / (frequencySaturation * float64(len(terms)))
	if frequency > 1 {
		frequency = 1
	}

	return coverageWeight*coverage + frequencyWeight*frequency, matched
}

// matchesStandards keeps documents that cover at least one requested
// standard. Documents listing no standards are standard-agnostic and always
// pass, mirroring jurisdiction handling.
func matchesStandards(doc *models.KnowledgeDocument, standards []string) bool {
	if len(standards) == 0 || len(doc.Standards) == 0 {
		return true
	}
	for _, standard := range standards {
		if doc.CoversStandard(standard) {
			return true
		}
	}
	return false
}

// sortResults orders by score descending, then most-recent effective date,
// then document id, so equal inputs always produce the same order.
func sortResults(results []models.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Document.EffectiveDate.Equal(b.Document.EffectiveDate) {
			return a.Document.EffectiveDate.After(b.Document.EffectiveDate)
		}
		return a.Document.ID.String() < b.Document.ID.String()
	})
}

func cacheKey(generation int64, query string, jurisdictions, standards []string, maxResults int) string {
	j := append([]string(nil), jurisdictions...)
	s := append([]string(nil), standards...)
	sort.Strings(j)
	sort.Strings(s)

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		strings.ToLower(query), strings.Join(j, ","), strings.Join(s, ","), maxResults)))
	return fmt.Sprintf("retrieval:%d:%x", generation, sum[:16])
}
