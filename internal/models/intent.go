package models

import "fmt"

// Intent identifies what kind of policy-authoring output a request asks for.
type Intent string

const (
	IntentSuggestClause      Intent = "suggest_clause"
	IntentMapPolicy          Intent = "map_policy"
	IntentReviewPolicy       Intent = "review_policy"
	IntentSuggestImprovement Intent = "suggest_improvement"
	IntentValidateCompliance Intent = "validate_compliance"
)

// Intents lists every known intent, in a stable order.
var Intents = []Intent{
	IntentSuggestClause,
	IntentMapPolicy,
	IntentReviewPolicy,
	IntentSuggestImprovement,
	IntentValidateCompliance,
}

// ParseIntent converts a raw string into an Intent or reports an error.
func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentSuggestClause, IntentMapPolicy, IntentReviewPolicy,
		IntentSuggestImprovement, IntentValidateCompliance:
		return Intent(s), nil
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// Valid reports whether the intent is one of the known values.
func (i Intent) Valid() bool {
	_, err := ParseIntent(string(i))
	return err == nil
}
