package fetcher

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/boq"
)

// ReadWorkbook opens an .xlsx file and renders every sheet as text.
func ReadWorkbook(path string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", eris.Wrap(err, "xlsx: open file")
	}
	return WorkbookText(f), nil
}

// ParseWorkbook renders an in-memory .xlsx workbook as text.
func ParseWorkbook(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", eris.Wrap(err, "xlsx: open binary")
	}
	return WorkbookText(f), nil
}

// WorkbookText writes each sheet in workbook order as a marker line followed
// by its non-empty rows, cells separated by tabs. Tabs and line breaks inside
// a cell are flattened to spaces so every row stays on one line.
func WorkbookText(f *xlsx.File) string {
	var b strings.Builder
	for _, sheet := range f.Sheets {
		fmt.Fprintf(&b, boq.SheetMarker+"\n", sheet.Name)
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := rowToStrings(row)
			if len(cells) == 0 {
				continue
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

var cellFlattener = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// rowToStrings returns the row's cell text with trailing empty cells dropped.
func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	last := -1
	for j, cell := range row.Cells {
		if cell == nil {
			continue
		}
		cells[j] = strings.TrimSpace(cellFlattener.Replace(cell.String()))
		if cells[j] != "" {
			last = j
		}
	}
	return cells[:last+1]
}
