package boq

import (
	"strings"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// Match confidences by tier.
const (
	ConfidenceCodeMatch    = 0.95
	ConfidenceExactName    = 0.9
	ConfidencePartialFloor = 0.7
	partialSpan            = 0.15
	maxPartialLength       = 200
)

// MatchResult identifies the catalog entry an item resolved to.
type MatchResult struct {
	Entry      model.CatalogEntry
	Confidence float64
	Tier       string
}

// Matcher resolves items against a catalog snapshot.
type Matcher struct {
	catalog []catalogKey
}

type catalogKey struct {
	entry model.CatalogEntry
	code  string
	name  string
}

// NewMatcher indexes the catalog. Catalog order is preserved and decides
// ties in the partial tier.
func NewMatcher(catalog []model.CatalogEntry) *Matcher {
	m := &Matcher{catalog: make([]catalogKey, 0, len(catalog))}
	for _, e := range catalog {
		m.catalog = append(m.catalog, catalogKey{
			entry: e,
			code:  strings.ToLower(strings.TrimSpace(e.Code)),
			name:  strings.ToLower(strings.TrimSpace(e.Name)),
		})
	}
	return m
}

// Match runs the tiers in precedence order: item code, exact name, then
// substring containment. Within the partial tier the first entry reaching
// the confidence floor wins.
func (m *Matcher) Match(itemCode, description string) (MatchResult, bool) {
	code := strings.ToLower(strings.TrimSpace(itemCode))
	desc := strings.ToLower(strings.TrimSpace(description))

	if code != "" {
		for _, c := range m.catalog {
			if c.code != "" && c.code == code {
				return MatchResult{Entry: c.entry, Confidence: ConfidenceCodeMatch, Tier: "code"}, true
			}
		}
	}
	if desc == "" {
		return MatchResult{}, false
	}
	for _, c := range m.catalog {
		if c.name != "" && c.name == desc {
			return MatchResult{Entry: c.entry, Confidence: ConfidenceExactName, Tier: "name"}, true
		}
	}

	if len(desc) >= maxPartialLength {
		return MatchResult{}, false
	}
	var confidence float64
	var best MatchResult
	for _, c := range m.catalog {
		if confidence >= ConfidencePartialFloor {
			break
		}
		if c.name == "" || len(c.name) >= maxPartialLength {
			continue
		}
		if !strings.Contains(desc, c.name) && !strings.Contains(c.name, desc) {
			continue
		}
		confidence = partialConfidence(desc, c.name)
		best = MatchResult{Entry: c.entry, Confidence: confidence, Tier: "partial"}
	}
	if confidence < ConfidencePartialFloor {
		return MatchResult{}, false
	}
	return best, true
}

// partialConfidence scales with how much of the longer string the shorter
// one covers, staying below the exact-name tier.
func partialConfidence(a, b string) float64 {
	shorter, longer := len(a), len(b)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	if longer == 0 {
		return ConfidencePartialFloor
	}
	return ConfidencePartialFloor + partialSpan*float64(shorter)/float64(longer)
}

// Apply records the match on the item. Without a match the extraction-stage
// confidence, if any, is left untouched.
func (m *Matcher) Apply(it *model.ExtractedItem) bool {
	res, ok := m.Match(it.ItemCode, it.Description)
	if !ok {
		return false
	}
	id := res.Entry.ID
	conf := res.Confidence
	it.CatalogID = &id
	it.MatchConfidence = &conf
	setRaw(it, "match_tier", res.Tier)
	return true
}
