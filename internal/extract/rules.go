package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"tripscout/internal/domain"
)

// Canonical raw field names produced by extraction and read by the normalizer.
const (
	FieldTitle         = "title"
	FieldDestination   = "destination"
	FieldDuration      = "duration"
	FieldPrice         = "price"
	FieldCurrency      = "currency"
	FieldInclusions    = "inclusions"
	FieldRating        = "rating"
	FieldReviewCount   = "review_count"
	FieldAvailableFrom = "available_from"
	FieldAvailableTo   = "available_to"
	FieldURL           = "url"
)

// FieldRule locates one field inside a listing item.
type FieldRule struct {
	// Selector is relative to the item; empty means the item itself.
	Selector string `yaml:"selector"`
	// Attr reads an attribute instead of the element text.
	Attr string `yaml:"attr"`
	// Regex keeps the first capture group (or the whole match) of the value.
	Regex string `yaml:"regex"`
	// Multi collects every match as a list.
	Multi bool `yaml:"multi"`
	// Const is used verbatim when set, for single-destination pages and similar.
	Const string `yaml:"const"`

	re *regexp.Regexp
}

// RuleSet is the declarative description of how to read one agency's listing pages.
type RuleSet struct {
	Agency       string               `yaml:"agency"`
	ListingPaths []string             `yaml:"listing_paths"`
	Marker       string               `yaml:"marker"`
	Item         string               `yaml:"item"`
	Fields       map[string]FieldRule `yaml:"fields"`
	Required     []string             `yaml:"required"`
	JSONLD       bool                 `yaml:"json_ld"`
	Units        domain.Units         `yaml:"units"`
	Render       domain.RenderHints   `yaml:"render"`
}

var defaultRequired = []string{FieldDestination, FieldPrice, FieldDuration}

// Validate compiles regexes and checks the rule set is usable.
func (r *RuleSet) Validate() error {
	if len(r.Fields) == 0 && !r.JSONLD {
		return fmt.Errorf("%w: %q has no fields and no json_ld", domain.ErrBadRuleSet, r.Agency)
	}
	if len(r.Required) == 0 {
		r.Required = append([]string(nil), defaultRequired...)
	}
	for name, f := range r.Fields {
		if f.Regex != "" {
			re, err := regexp.Compile(f.Regex)
			if err != nil {
				return fmt.Errorf("%w: %q field %s: %v", domain.ErrBadRuleSet, r.Agency, name, err)
			}
			f.re = re
			r.Fields[name] = f
		}
		if f.Selector == "" && f.Attr == "" && f.Const == "" && r.Item == "" {
			return fmt.Errorf("%w: %q field %s has nothing to read", domain.ErrBadRuleSet, r.Agency, name)
		}
	}
	if !r.JSONLD {
		for _, req := range r.Required {
			if _, ok := r.Fields[req]; !ok {
				return fmt.Errorf("%w: %q requires %s but defines no rule for it", domain.ErrBadRuleSet, r.Agency, req)
			}
		}
	}
	return nil
}

// ParseRuleSet decodes and validates one YAML rule set.
func ParseRuleSet(b []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadRuleSet, err)
	}
	rs.Agency = normalizeAgencyKey(rs.Agency)
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Book maps agency domains to rule sets, falling back to a generic JSON-LD rule set.
type Book struct {
	mu       sync.RWMutex
	rules    map[string]*RuleSet
	fallback *RuleSet
}

func NewBook(sets ...*RuleSet) *Book {
	b := &Book{rules: make(map[string]*RuleSet), fallback: Generic()}
	for _, s := range sets {
		b.Add(s)
	}
	return b
}

func (b *Book) Add(rs *RuleSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rs.Agency == "" || rs.Agency == "*" {
		b.fallback = rs
		return
	}
	b.rules[rs.Agency] = rs
}

// For returns the rule set for an agency domain and whether it is agency-specific.
func (b *Book) For(agencyDomain string) (*RuleSet, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if rs, ok := b.rules[normalizeAgencyKey(agencyDomain)]; ok {
		return rs, true
	}
	return b.fallback, false
}

func (b *Book) Agencies() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.rules))
	for k := range b.rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadDir reads every *.yaml / *.yml file in dir into a Book.
func LoadDir(dir string) (*Book, error) {
	b := NewBook()
	if dir == "" {
		return b, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}
	for _, e := range ents {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		rs, err := ParseRuleSet(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		b.Add(rs)
	}
	return b, nil
}

// Generic reads schema.org offers embedded as JSON-LD, which many agency sites publish.
func Generic() *RuleSet {
	rs := &RuleSet{
		Agency:   "*",
		JSONLD:   true,
		Required: append([]string(nil), defaultRequired...),
	}
	return rs
}

func normalizeAgencyKey(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "www.")
}
