package domain

import (
	"fmt"
	"strings"
	"time"
)

// RawRecord is one listing as extracted from a page, keyed by canonical field name.
type RawRecord map[string]any

type Package struct {
	ID             string     `json:"id"`
	AgencyID       string     `json:"agency_id"`
	SourceURL      string     `json:"source_url"`
	Title          string     `json:"title,omitempty"`
	Destination    string     `json:"destination"`
	DurationDays   int        `json:"duration_days"`
	Price          float64    `json:"price"`
	Currency       string     `json:"currency"`
	Inclusions     []string   `json:"inclusions,omitempty"`
	Rating         *float64   `json:"rating,omitempty"`
	ReviewCount    int        `json:"review_count"`
	AvailableFrom  *time.Time `json:"available_from,omitempty"`
	AvailableTo    *time.Time `json:"available_to,omitempty"`
	RawFingerprint string     `json:"raw_fingerprint"`
	ScrapedAt      time.Time  `json:"scraped_at"`
}

// Validate checks the invariants every stored package must hold.
func (p Package) Validate() error {
	switch {
	case strings.TrimSpace(p.Destination) == "":
		return &ValidationError{Field: "destination", Reason: "empty"}
	case p.Price < 0:
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("negative (%g)", p.Price)}
	case p.DurationDays < 1:
		return &ValidationError{Field: "duration_days", Reason: fmt.Sprintf("below 1 (%d)", p.DurationDays)}
	case p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5):
		return &ValidationError{Field: "rating", Reason: fmt.Sprintf("out of range (%g)", *p.Rating)}
	case p.ReviewCount < 0:
		return &ValidationError{Field: "review_count", Reason: "negative"}
	}
	return nil
}

// HasInclusion reports whether the folded inclusion set contains name.
func (p Package) HasInclusion(name string) bool {
	for _, in := range p.Inclusions {
		if strings.EqualFold(in, name) {
			return true
		}
	}
	return false
}

// StoredPackage is the read model served to filter and ranking.
type StoredPackage struct {
	Package
	AgencyName  string  `json:"agency_name"`
	AgencyTrust float64 `json:"agency_trust"`
}
