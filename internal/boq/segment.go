package boq

import (
	"regexp"
	"strings"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// SheetMarker is the line format separating sheets in a document.
// Fetchers write it; Segment reads it.
const SheetMarker = "=== Sheet: %s ==="

var sheetMarkerPattern = regexp.MustCompile(`(?im)^[ \t]*=+[ \t]*sheet[ \t]*:[ \t]*(.*?)[ \t]*=+[ \t]*\r?$`)

// nonBillableSheets lists name fragments of sheets that never hold priced items.
var nonBillableSheets = []string{"notes", "qualifications", "summary"}

// Segment splits a document into named sheets and drops non-billable ones.
// A document with no markers yields one unnamed segment holding the whole
// text; an empty document yields none.
func Segment(doc string) []model.SheetSegment {
	locs := sheetMarkerPattern.FindAllStringSubmatchIndex(doc, -1)
	if len(locs) == 0 {
		body := strings.TrimSpace(doc)
		if body == "" {
			return nil
		}
		return []model.SheetSegment{{Index: 0, Content: body}}
	}

	var segments []model.SheetSegment
	for i, loc := range locs {
		name := strings.TrimSpace(doc[loc[2]:loc[3]])
		end := len(doc)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if !IsBillableSheet(name) {
			continue
		}
		segments = append(segments, model.SheetSegment{
			Index:   i,
			Name:    name,
			Content: strings.Trim(doc[loc[1]:end], "\r\n"),
		})
	}
	return segments
}

// HasSheetMarkers reports whether doc carries at least one sheet marker line.
func HasSheetMarkers(doc string) bool {
	return sheetMarkerPattern.MatchString(doc)
}

// IsBillableSheet reports whether a sheet name is not a notes, qualifications
// or summary sheet.
func IsBillableSheet(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range nonBillableSheets {
		if strings.Contains(lower, frag) {
			return false
		}
	}
	return true
}
