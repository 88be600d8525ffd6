package boq

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sheetDoc(sheets ...[2]string) string {
	var b strings.Builder
	for _, s := range sheets {
		fmt.Fprintf(&b, SheetMarker+"\n%s\n", s[0], s[1])
	}
	return b.String()
}

func TestSegment_DropsNonBillableSheets(t *testing.T) {
	doc := sheetDoc(
		[2]string{"Notes", "NOTES TO TENDERER\nAll rates to include delivery"},
		[2]string{"Bill 1 - Electrical", "A1\tSupply XLPE cable\t10\tm\t250\t2500"},
		[2]string{"Qualifications", "Excludes builder's work"},
		[2]string{"Main Summary", "Bill 1\t2500"},
		[2]string{"Bill 2 - Lighting", "B1\tLED downlight\t4\tno\t300\t1200"},
	)

	segs := Segment(doc)
	require.Len(t, segs, 2)
	assert.Equal(t, "Bill 1 - Electrical", segs[0].Name)
	assert.Equal(t, 1, segs[0].Index)
	assert.Equal(t, "A1\tSupply XLPE cable\t10\tm\t250\t2500", segs[0].Content)
	assert.Equal(t, "Bill 2 - Lighting", segs[1].Name)
	assert.Equal(t, 4, segs[1].Index)
}

func TestSegment_MarkerVariants(t *testing.T) {
	doc := "preamble ignored\n==== SHEET:  Cabling  ====\r\nrow one\n=== sheet: Lighting ===\nrow two\n"
	segs := Segment(doc)
	require.Len(t, segs, 2)
	assert.Equal(t, "Cabling", segs[0].Name)
	assert.Equal(t, "row one", segs[0].Content)
	assert.Equal(t, "Lighting", segs[1].Name)
	assert.Equal(t, "row two", segs[1].Content)
}

func TestSegment_NoMarkers(t *testing.T) {
	segs := Segment("  A1\tCable\t10\tm\n")
	require.Len(t, segs, 1)
	assert.Equal(t, "", segs[0].Name)
	assert.Equal(t, "A1\tCable\t10\tm", segs[0].Content)
}

func TestSegment_Empty(t *testing.T) {
	assert.Empty(t, Segment(""))
	assert.Empty(t, Segment(" \n\t\n"))
}

func TestSegment_AllSheetsDropped(t *testing.T) {
	assert.Empty(t, Segment(sheetDoc([2]string{"Notes", "x"}, [2]string{"Summary", "y"})))
}

func TestHasSheetMarkers(t *testing.T) {
	assert.True(t, HasSheetMarkers(sheetDoc([2]string{"Notes", "x"})))
	assert.True(t, HasSheetMarkers("preamble\n  == Sheet: Bill 1 ==\nrow"))
	assert.False(t, HasSheetMarkers("A1\tSupply XLPE cable\t10\tm\t250\t2500"))
	assert.False(t, HasSheetMarkers("see sheet: Bill 1"))
	assert.False(t, HasSheetMarkers(""))
}

func TestIsBillableSheet(t *testing.T) {
	assert.False(t, IsBillableSheet("NOTES"))
	assert.False(t, IsBillableSheet("General Notes"))
	assert.False(t, IsBillableSheet("qualifications"))
	assert.False(t, IsBillableSheet("Bill Summary"))
	assert.True(t, IsBillableSheet("Bill 3 - Earthing"))
	assert.True(t, IsBillableSheet(""))
}
