// Package models defines the domain types shared across the assistant.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentCategory distinguishes the kinds of knowledge-base content.
type DocumentCategory string

const (
	CategoryPolicyTemplate     DocumentCategory = "policy_template"
	CategoryComplianceStandard DocumentCategory = "compliance_standard"
	CategoryJurisdictionalRule DocumentCategory = "jurisdictional_rule"
	CategoryBestPractice       DocumentCategory = "best_practice"
)

// VerificationStatus tracks whether a document has been reviewed for accuracy.
type VerificationStatus string

const (
	StatusVerified   VerificationStatus = "verified"
	StatusPending    VerificationStatus = "pending"
	StatusDeprecated VerificationStatus = "deprecated"
)

// JurisdictionAll marks a document as applicable to every regulatory region.
const JurisdictionAll = "all"

// KnownJurisdictions lists the regulatory regions recognised by the knowledge base.
var KnownJurisdictions = []string{
	"england", "scotland", "wales", "northern_ireland",
	"isle_of_man", "jersey", "guernsey",
}

// KnowledgeDocument is a versioned entry in the verified knowledge base.
// Documents are never hard-deleted; superseded versions are marked deprecated
// with a reference to their replacement so audit links stay resolvable.
type KnowledgeDocument struct {
	ID                uuid.UUID          `json:"id"`
	Title             string             `json:"title"`
	Content           string             `json:"content"`
	Category          DocumentCategory   `json:"category"`
	Version           int                `json:"version"`
	Jurisdictions     []string           `json:"jurisdictions"`
	Standards         []string           `json:"standards"`
	Status            VerificationStatus `json:"status"`
	EffectiveDate     time.Time          `json:"effective_date"`
	ExpiryDate        *time.Time         `json:"expiry_date,omitempty"`
	SupersededBy      *uuid.UUID         `json:"superseded_by,omitempty"`
	DeprecationReason string             `json:"deprecation_reason,omitempty"`
	SearchText        string             `json:"-"`
	UsageCount        int64              `json:"usage_count"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewKnowledgeDocument builds a version-1 document with a fresh id and a
// normalised search representation.
func NewKnowledgeDocument(title, content string, category DocumentCategory, jurisdictions, standards []string) *KnowledgeDocument {
	now := time.Now().UTC()
	return &KnowledgeDocument{
		ID:            uuid.New(),
		Title:         title,
		Content:       content,
		Category:      category,
		Version:       1,
		Jurisdictions: jurisdictions,
		Standards:     standards,
		Status:        StatusPending,
		EffectiveDate: now,
		SearchText:    BuildSearchText(title, content),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// BuildSearchText builds the lowercase full-text representation stored
// alongside a document and used for keyword matching.
func BuildSearchText(title, content string) string {
	return strings.ToLower(title + "\n" + content)
}

// AppliesTo reports whether the document covers at least one of the requested
// jurisdictions. A document tagged with JurisdictionAll is region-agnostic
// and applies everywhere.
func (d *KnowledgeDocument) AppliesTo(jurisdictions []string) bool {
	for _, docJ := range d.Jurisdictions {
		if docJ == JurisdictionAll {
			return true
		}
		for _, reqJ := range jurisdictions {
			if strings.EqualFold(docJ, reqJ) {
				return true
			}
		}
	}
	return false
}

// CoversStandard reports whether the document addresses the given standard.
func (d *KnowledgeDocument) CoversStandard(standard string) bool {
	for _, s := range d.Standards {
		if strings.EqualFold(s, standard) {
			return true
		}
	}
	return false
}

// Deprecated reports whether the document must be excluded from retrieval.
func (d *KnowledgeDocument) Deprecated() bool {
	return d.Status == StatusDeprecated
}

// ValidJurisdiction reports whether the given region is a known jurisdiction
// or the agnostic marker.
func ValidJurisdiction(j string) bool {
	if j == JurisdictionAll {
		return true
	}
	for _, known := range KnownJurisdictions {
		if strings.EqualFold(known, j) {
			return true
		}
	}
	return false
}
