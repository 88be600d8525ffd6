package boq

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// MinDescriptionLength is the shortest description treated as a line item.
const MinDescriptionLength = 3

// FilterRules configures the non-material filter.
type FilterRules struct {
	MinLength int      `yaml:"min_length" json:"min_length"`
	Patterns  []string `yaml:"patterns" json:"patterns"`
	CodeShape string   `yaml:"code_shape" json:"code_shape"`
}

// DefaultFilterRules returns the built-in non-material patterns.
func DefaultFilterRules() FilterRules {
	return FilterRules{
		MinLength: MinDescriptionLength,
		CodeShape: `^[A-Z]\d+`,
		Patterns: []string{
			// tenderer notes
			`(?i)notes?\s+to\s+tenderers?`,
			`(?i)^tenderers?'?s?\s+(notes?|to\s+note|attention|shall|must|are\s+to)`,
			`(?i)^(please\s+)?note\s*:`,
			// compliance boilerplate
			`(?i)^(the\s+)?(contractor|tenderer|supplier)\s+(shall|must|is\s+to|will\s+be\s+required)`,
			`(?i)^all\s+(work|works|materials|rates|prices|equipment)\s+(shall|to|must|are)`,
			`(?i)^rates?\s+(shall\s+|are\s+to\s+|to\s+)?include`,
			`(?i)^prices?\s+(shall|to|must)\s`,
			`(?i)^(in\s+)?accordance\s+with`,
			`(?i)^refer\s+to\s+(drawing|specification|spec)`,
			// ditto references
			`(?i)^(ditto|do|as\s+above|as\s+per\s+above|as\s+before|idem)\.?$`,
			// bare section / bill labels
			`(?i)^(section|bill|part|schedule)(\s+no\.?\s*|\s+)[\w.]{0,6}\s*:?$`,
			// totals and carry-forward lines
			`(?i)^(sub[\s-]?total|total|grand\s+total|page\s+total)(\s*$|\s*[:.=(\-–]|\s+(carried|brought|for|of|to|c/f|b/f|excl|incl|amount|value|cost|price)\b)`,
			`(?i)^(carried|brought)\s+(forward|to\s+collection|to\s+summary)`,
			`(?i)^(c/f|b/f|to\s+collection|to\s+summary)\b`,
			// column header echoes
			`(?i)^(item|items|description|descr\.?|particulars|qty|quantity|unit|units|rate|rates|amount|no\.?|ref\.?)$`,
			// single letters
			`(?i)^\(?[a-z]\)?\.?$`,
		},
	}
}

// Filter removes rows that are not genuine line items.
type Filter struct {
	minLength int
	patterns  []*regexp.Regexp
	codeShape *regexp.Regexp
}

// NewFilter compiles rules into a Filter.
func NewFilter(rules FilterRules) (*Filter, error) {
	f := &Filter{minLength: rules.MinLength}
	if f.minLength <= 0 {
		f.minLength = MinDescriptionLength
	}
	for _, p := range rules.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "filter: compile pattern %q", p)
		}
		f.patterns = append(f.patterns, re)
	}
	shape := rules.CodeShape
	if shape == "" {
		shape = DefaultFilterRules().CodeShape
	}
	re, err := regexp.Compile(shape)
	if err != nil {
		return nil, eris.Wrapf(err, "filter: compile code shape %q", shape)
	}
	f.codeShape = re
	return f, nil
}

// MustNewFilter is NewFilter for known-good rules.
func MustNewFilter(rules FilterRules) *Filter {
	f, err := NewFilter(rules)
	if err != nil {
		panic(err)
	}
	return f
}

// IsNonMaterialText reports whether a description is noise: too short,
// purely numeric, or matching a non-material pattern.
func (f *Filter) IsNonMaterialText(desc string) bool {
	d := strings.TrimSpace(desc)
	if len([]rune(d)) < f.minLength {
		return true
	}
	if isPurelyNumeric(d) {
		return true
	}
	for _, re := range f.patterns {
		if re.MatchString(d) {
			return true
		}
	}
	return false
}

// Keep reports whether an item survives the filter.
func (f *Filter) Keep(it model.ExtractedItem) bool {
	if f.IsNonMaterialText(it.Description) {
		return false
	}
	if !it.HasRate() && it.Quantity == nil && !it.IsRateOnly {
		return f.codeShape.MatchString(strings.TrimSpace(it.ItemCode))
	}
	return true
}

// Apply returns the kept items in order and the number removed.
func (f *Filter) Apply(items []model.ExtractedItem) ([]model.ExtractedItem, int) {
	kept := make([]model.ExtractedItem, 0, len(items))
	for _, it := range items {
		if f.Keep(it) {
			kept = append(kept, it)
		}
	}
	return kept, len(items) - len(kept)
}
