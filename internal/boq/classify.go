package boq

import (
	"strings"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// KeywordRule maps a category code to description keywords. Rules are
// evaluated in order and the first rule with a matching keyword wins.
type KeywordRule struct {
	Code     string   `yaml:"code" json:"code"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// DefaultKeywordRules is the built-in keyword table for electrical
// installation bills of quantities. More specific categories come first.
func DefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{Code: "GEN", Keywords: []string{"generator", "genset", "diesel gen", "ats ", "changeover"}},
		{Code: "TRF", Keywords: []string{"transformer", "mini-sub", "minisub", "mini sub", "substation"}},
		{Code: "SWG", Keywords: []string{"switchgear", "distribution board", " db ", "panel", "mcb", "mccb", "breaker", "isolator", "rmu", "ring main"}},
		{Code: "CAB", Keywords: []string{"cable", "xlpe", "pvc/swa", "swa", "conductor", "wiring", "wire", "flex", "core"}},
		{Code: "CON", Keywords: []string{"conduit", "trunking", "cable tray", "cable ladder", "sleeve", "duct", "wireway"}},
		{Code: "TRM", Keywords: []string{"termination", "gland", "lug", "joint", "end box"}},
		{Code: "LUM", Keywords: []string{"luminaire", "light fitting", "downlight", "floodlight", "lamp", " led", "bulkhead", "batten", "street light", "pole"}},
		{Code: "ACC", Keywords: []string{"socket", "switch", "plug", "outlet", "isolator switch", "wall box"}},
		{Code: "EAR", Keywords: []string{"earth", "lightning", "surge", "bonding"}},
		{Code: "CIV", Keywords: []string{"trench", "excavat", "backfill", "concrete", "manhole", "plinth", "sleeve pipe"}},
		{Code: "LAB", Keywords: []string{"labour", "install only", "commission", "testing", "test and", "p&g", "preliminar"}},
	}
}

// Classifier infers a category from item text.
type Classifier struct {
	rules  []KeywordRule
	byCode map[string]model.CategoryEntry
}

// NewClassifier builds a classifier over an ordered keyword table and the
// category registry. Rules whose code is not in the registry are ignored.
func NewClassifier(rules []KeywordRule, categories []model.CategoryEntry) *Classifier {
	c := &Classifier{byCode: make(map[string]model.CategoryEntry, len(categories))}
	for _, cat := range categories {
		c.byCode[strings.ToUpper(strings.TrimSpace(cat.Code))] = cat
	}
	for _, r := range rules {
		code := strings.ToUpper(strings.TrimSpace(r.Code))
		if _, ok := c.byCode[code]; !ok {
			continue
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(k); strings.TrimSpace(k) != "" {
				kws = append(kws, k)
			}
		}
		c.rules = append(c.rules, KeywordRule{Code: code, Keywords: kws})
	}
	return c
}

// Classify returns the first category whose keywords occur in the
// description, or false when none does.
func (c *Classifier) Classify(description string) (model.CategoryEntry, bool) {
	// Pad so keywords with surrounding spaces (" db ") match at the edges.
	text := " " + strings.ToLower(description) + " "
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return c.byCode[r.Code], true
			}
		}
	}
	return model.CategoryEntry{}, false
}

// Apply sets the suggested category on an item unless the extractor already
// supplied one.
func (c *Classifier) Apply(it *model.ExtractedItem) {
	if it.CategoryID != "" {
		return
	}
	if cat, ok := c.Classify(it.Description); ok {
		it.CategoryID = cat.ID
		it.CategoryName = cat.Name
	}
}
