// Package model defines the shared domain types of the DA ingestion pipeline.
package model

import (
	"github.com/shopspring/decimal"
)

// Decision is the assessment state of a development application.
type Decision string

const (
	DecisionUnderAssessment Decision = "Under Assessment"
	DecisionPending         Decision = "Pending"
	DecisionReferred        Decision = "Referred"
	DecisionApproved        Decision = "Approved"
	DecisionRefused         Decision = "Refused"
	DecisionWithdrawn       Decision = "Withdrawn"
	DecisionUnknown         Decision = "Unknown"
)

// AllDecisions returns every decision value in display order.
func AllDecisions() []Decision {
	return []Decision{
		DecisionUnderAssessment,
		DecisionPending,
		DecisionReferred,
		DecisionApproved,
		DecisionRefused,
		DecisionWithdrawn,
		DecisionUnknown,
	}
}

// Valid reports whether d is one of the enumerated decisions.
func (d Decision) Valid() bool {
	for _, v := range AllDecisions() {
		if d == v {
			return true
		}
	}
	return false
}

// Category is the development category of an application.
type Category string

const (
	CategoryResidential Category = "Residential"
	CategoryCommercial  Category = "Commercial"
	CategoryIndustrial  Category = "Industrial"
	CategoryOther       Category = "Other"
	CategoryUnknown     Category = "Unknown"
)

// AllCategories returns every category value in display order.
func AllCategories() []Category {
	return []Category{
		CategoryResidential,
		CategoryCommercial,
		CategoryIndustrial,
		CategoryOther,
		CategoryUnknown,
	}
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, v := range AllCategories() {
		if c == v {
			return true
		}
	}
	return false
}

// Defaults applied when a source page omits a field.
const (
	UnknownApplicant = "Unknown"
	NotRequired      = "Not required"
)

// ApplicationRecord is one normalized development application.
type ApplicationRecord struct {
	DANumber        string              `json:"da_number"`
	DetailURL       string              `json:"detail_url"`
	Description     string              `json:"description"`
	SubmittedDate   Date                `json:"submitted_date"`
	Decision        Decision            `json:"decision"`
	Category        Category            `json:"category"`
	PropertyAddress string              `json:"property_address"`
	Applicant       string              `json:"applicant"`
	Progress        string              `json:"progress"`
	Fees            string              `json:"fees"`
	FeesAmount      decimal.NullDecimal `json:"fees_amount"`
	Documents       []string            `json:"documents"`
	ContactCouncil  string              `json:"contact_council"`

	// Audit fields: the source text the enums were derived from.
	RawDecision string `json:"raw_decision"`
	RawCategory string `json:"raw_category"`

	// SourcePage and SourcePosition locate where the record was first seen
	// within the page batch that stored it.
	SourcePage     int `json:"source_page"`
	SourcePosition int `json:"source_position"`
}

// Equal reports whether two records carry identical field values.
func (r ApplicationRecord) Equal(o ApplicationRecord) bool {
	if len(r.Documents) != len(o.Documents) {
		return false
	}
	for i := range r.Documents {
		if r.Documents[i] != o.Documents[i] {
			return false
		}
	}
	if r.FeesAmount.Valid != o.FeesAmount.Valid {
		return false
	}
	if r.FeesAmount.Valid && !r.FeesAmount.Decimal.Equal(o.FeesAmount.Decimal) {
		return false
	}
	return r.DANumber == o.DANumber &&
		r.DetailURL == o.DetailURL &&
		r.Description == o.Description &&
		r.SubmittedDate == o.SubmittedDate &&
		r.Decision == o.Decision &&
		r.Category == o.Category &&
		r.PropertyAddress == o.PropertyAddress &&
		r.Applicant == o.Applicant &&
		r.Progress == o.Progress &&
		r.Fees == o.Fees &&
		r.ContactCouncil == o.ContactCouncil &&
		r.RawDecision == o.RawDecision &&
		r.RawCategory == o.RawCategory &&
		r.SourcePage == o.SourcePage &&
		r.SourcePosition == o.SourcePosition
}
