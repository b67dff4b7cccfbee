package domain

import "time"

// Units carries the agency-specific conventions needed to read its raw records.
// It is data from the agency's rule set, never per-agency code.
type Units struct {
	Currency     string   `yaml:"currency" json:"currency"`
	DecimalComma bool     `yaml:"decimal_comma" json:"decimal_comma"`
	DateLayouts  []string `yaml:"date_layouts" json:"date_layouts"`
	// Inclusions maps a canonical inclusion to the phrases agencies use for it.
	Inclusions map[string][]string `yaml:"inclusions" json:"inclusions"`
}

// RenderHints tune the rendered fetch for pages that build listings client-side.
type RenderHints struct {
	WaitSelector string        `yaml:"wait_selector" json:"wait_selector"`
	ScrollSteps  int           `yaml:"scroll_steps" json:"scroll_steps"`
	LoadMore     string        `yaml:"load_more" json:"load_more"` // selector clicked once per step when present
	Settle       time.Duration `yaml:"settle" json:"settle"`
}

// Page is raw fetched content.
type Page struct {
	URL       string
	Status    int
	Body      []byte
	Strategy  Strategy
	FetchedAt time.Time
}
