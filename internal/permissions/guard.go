// Package permissions implements the role guard consulted before any
// retrieval or synthesis work happens.
package permissions

import (
	"strings"

	"policy-rag-assistant/internal/config"
	"policy-rag-assistant/internal/errors"
	"policy-rag-assistant/internal/models"
)

// Checker is the authorization interface the orchestrator depends on.
type Checker interface {
	// Authorize returns nil, or a StandardError with type
	// ORGANIZATION_MISMATCH or ROLE_NOT_AUTHORIZED. Pure check; the caller
	// audits denials.
	Authorize(userRoles []string, organizationID, requestedOrganizationID string, intent models.Intent) error

	// CanPublish reports whether any of the roles may publish or approve
	// assistant output. Consulted by publishing workflows, not by the
	// suggestion path itself.
	CanPublish(userRoles []string) bool

	// IntentsFor lists the intents the given roles may invoke.
	IntentsFor(userRoles []string) []models.Intent
}

// Guard authorizes requests against a static permission matrix loaded at
// process start. Read-only after construction, safe for concurrent use.
type Guard struct {
	matrix       map[models.Intent]map[string]struct{}
	publishRoles map[string]struct{}
}

// NewGuard builds a Guard from the configured permission matrix.
func NewGuard(cfg config.PermissionsConfig) *Guard {
	g := &Guard{
		matrix:       make(map[models.Intent]map[string]struct{}),
		publishRoles: make(map[string]struct{}),
	}

	for rawIntent, roles := range cfg.Matrix {
		intent, err := models.ParseIntent(rawIntent)
		if err != nil {
			// Unknown intents in config are ignored rather than fatal; the
			// orchestrator validates intents independently.
			continue
		}
		set := make(map[string]struct{}, len(roles))
		for _, role := range roles {
			set[normalizeRole(role)] = struct{}{}
		}
		g.matrix[intent] = set
	}

	for _, role := range cfg.PublishRoles {
		g.publishRoles[normalizeRole(role)] = struct{}{}
	}

	return g
}

// Authorize implements Checker.
func (g *Guard) Authorize(userRoles []string, organizationID, requestedOrganizationID string, intent models.Intent) error {
	if requestedOrganizationID != organizationID {
		return errors.ErrOrganizationMismatch
	}

	allowed, ok := g.matrix[intent]
	if !ok {
		return errors.ErrRoleNotAuthorized
	}
	for _, role := range userRoles {
		if _, ok := allowed[normalizeRole(role)]; ok {
			return nil
		}
	}
	return errors.ErrRoleNotAuthorized
}

// CanPublish implements Checker.
func (g *Guard) CanPublish(userRoles []string) bool {
	for _, role := range userRoles {
		if _, ok := g.publishRoles[normalizeRole(role)]; ok {
			return true
		}
	}
	return false
}

// IntentsFor implements Checker. Order follows models.Intents for stability.
func (g *Guard) IntentsFor(userRoles []string) []models.Intent {
	var intents []models.Intent
	for _, intent := range models.Intents {
		allowed, ok := g.matrix[intent]
		if !ok {
			continue
		}
		for _, role := range userRoles {
			if _, match := allowed[normalizeRole(role)]; match {
				intents = append(intents, intent)
				break
			}
		}
	}
	return intents
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
