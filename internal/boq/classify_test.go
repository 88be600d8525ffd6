package boq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

func testCategories() []model.CategoryEntry {
	return []model.CategoryEntry{
		{ID: "cat-swg", Code: "SWG", Name: "Switchgear"},
		{ID: "cat-cab", Code: "CAB", Name: "Cables"},
		{ID: "cat-lum", Code: "LUM", Name: "Luminaires"},
		{ID: "cat-ear", Code: "EAR", Name: "Earthing"},
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(DefaultKeywordRules(), testCategories())

	tests := []struct {
		desc string
		want string
	}{
		{"Supply XLPE cable", "CAB"},
		{"400A Distribution Board", "SWG"},
		{"LED downlight 12W", "LUM"},
		{"Earth spike 1.2m", "EAR"},
		{"Main DB", "SWG"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cat, ok := c.Classify(tt.desc)
			require.True(t, ok)
			assert.Equal(t, tt.want, cat.Code)
		})
	}
}

func TestClassifier_NoMatch(t *testing.T) {
	c := NewClassifier(DefaultKeywordRules(), testCategories())
	_, ok := c.Classify("Sealed enclosure")
	assert.False(t, ok)
}

func TestClassifier_OrderDecidesTies(t *testing.T) {
	rules := []KeywordRule{
		{Code: "SWG", Keywords: []string{"panel"}},
		{Code: "LUM", Keywords: []string{"panel"}},
	}
	c := NewClassifier(rules, testCategories())
	cat, ok := c.Classify("LED panel light")
	require.True(t, ok)
	assert.Equal(t, "SWG", cat.Code)
}

func TestClassifier_SkipsCodesMissingFromRegistry(t *testing.T) {
	rules := []KeywordRule{
		{Code: "GEN", Keywords: []string{"cable"}},
		{Code: "cab", Keywords: []string{"CABLE"}},
	}
	c := NewClassifier(rules, testCategories())
	cat, ok := c.Classify("Supply XLPE cable")
	require.True(t, ok)
	assert.Equal(t, "cat-cab", cat.ID)
}

func TestClassifier_Apply(t *testing.T) {
	c := NewClassifier(DefaultKeywordRules(), testCategories())

	it := model.ExtractedItem{Description: "Supply XLPE cable"}
	c.Apply(&it)
	assert.Equal(t, "cat-cab", it.CategoryID)
	assert.Equal(t, "Cables", it.CategoryName)

	proposed := model.ExtractedItem{Description: "Supply XLPE cable", CategoryID: "cat-swg", CategoryName: "Switchgear"}
	c.Apply(&proposed)
	assert.Equal(t, "cat-swg", proposed.CategoryID)

	none := model.ExtractedItem{Description: "Builder's work"}
	c.Apply(&none)
	assert.Empty(t, none.CategoryID)
}
