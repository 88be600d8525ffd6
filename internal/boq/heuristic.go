package boq

import (
	"context"
	"encoding/csv"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// headerScanLines bounds how far into a sheet the header row is searched.
const headerScanLines = 20

var (
	leadingCode   = regexp.MustCompile(`^([A-Z]{1,3}\d+(?:\.\d+)*[a-z]?)[\s.:)\-]+(.+)$`)
	codeCell      = regexp.MustCompile(`^[A-Za-z]{0,3}\d+(?:\.\d+)*[a-z]?\.?$|^[A-Z]{1,3}\d*(?:\.\d+)+$`)
	keywordHead   = regexp.MustCompile(`(?i)^(bill|section)\s+(?:no\.?\s*)?([A-Z]?\d[\w.]*|[A-Z])\b\s*[:\-–.]?\s*(.*)$`)
	markdownHead  = regexp.MustCompile(`^#+\s*`)
	codedHeading  = regexp.MustCompile(`^([A-Z0-9][\w.]{0,5})\s*[:\-–.]\s+(.+)$`)
	pipeSeparator = regexp.MustCompile(`^[\s|:\-+]+$`)
)

// columnMap records the column index of each recognised field; -1 when absent.
type columnMap struct {
	code, desc, qty, unit, supply, install, rate, amount int
}

func emptyColumnMap() columnMap {
	return columnMap{-1, -1, -1, -1, -1, -1, -1, -1}
}

func (m columnMap) hasRateColumns() bool {
	return m.supply >= 0 || m.install >= 0 || m.rate >= 0
}

func (m columnMap) lastMapped() int {
	last := -1
	for _, c := range []int{m.code, m.desc, m.qty, m.unit, m.supply, m.install, m.rate, m.amount} {
		if c > last {
			last = c
		}
	}
	return last
}

// detectHeader maps header cells to fields by name fragment. A header needs
// a description column and at least one quantity, unit or money column.
func detectHeader(cells []string) (columnMap, bool) {
	m := emptyColumnMap()
	set := func(dst *int, i int) {
		if *dst < 0 {
			*dst = i
		}
	}
	for i, raw := range cells {
		c := strings.ToLower(strings.TrimSpace(raw))
		if c == "" {
			continue
		}
		switch {
		case strings.Contains(c, "descr") || strings.Contains(c, "particular"):
			set(&m.desc, i)
		case strings.Contains(c, "qty") || strings.Contains(c, "quantit"):
			set(&m.qty, i)
		case strings.Contains(c, "supply"):
			set(&m.supply, i)
		case strings.Contains(c, "install") || strings.Contains(c, "labour") || strings.Contains(c, "labor") || strings.Contains(c, "fix"):
			set(&m.install, i)
		case strings.Contains(c, "rate") || strings.Contains(c, "price"):
			set(&m.rate, i)
		case strings.Contains(c, "amount") || strings.Contains(c, "total") || strings.Contains(c, "value"):
			set(&m.amount, i)
		case strings.Contains(c, "unit") || c == "uom":
			set(&m.unit, i)
		case strings.Contains(c, "item") || strings.Contains(c, "ref") || strings.Contains(c, "code") || c == "no" || c == "no.":
			set(&m.code, i)
		}
	}
	ok := m.desc >= 0 && (m.qty >= 0 || m.unit >= 0 || m.hasRateColumns() || m.amount >= 0)
	return m, ok
}

// HeuristicParser parses delimited sheet text without a language model.
type HeuristicParser struct {
	filter *Filter
}

// NewHeuristicParser creates a parser that skips rows the filter considers
// instructions or header echoes.
func NewHeuristicParser(filter *Filter) *HeuristicParser {
	return &HeuristicParser{filter: filter}
}

// Name implements Strategy.
func (p *HeuristicParser) Name() string { return model.MethodHeuristic }

// Extract implements Strategy. The heuristic parser never defers.
func (p *HeuristicParser) Extract(_ context.Context, sheet model.SheetSegment) ([]model.ExtractedItem, error) {
	return p.Parse(sheet), nil
}

type heuristicState struct {
	billNumber, billName     string
	sectionCode, sectionName string
}

// Parse extracts items from one sheet.
func (p *HeuristicParser) Parse(sheet model.SheetSegment) []model.ExtractedItem {
	lines := strings.Split(strings.ReplaceAll(sheet.Content, "\r\n", "\n"), "\n")
	split := splitterFor(lines)

	cols := emptyColumnMap()
	hasHeader := false
	headerLine := -1
	scanned := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if scanned >= headerScanLines {
			break
		}
		scanned++
		if m, ok := detectHeader(split(line)); ok {
			cols, hasHeader, headerLine = m, true, i
			break
		}
	}

	var st heuristicState
	var items []model.ExtractedItem
	for i, line := range lines {
		if i == headerLine || strings.TrimSpace(line) == "" {
			continue
		}
		if pipeSeparator.MatchString(line) && strings.Contains(line, "-") {
			continue
		}
		cells := split(line)
		if st.applyHeading(line, cells) {
			continue
		}

		item, ok := p.parseRow(cells, cols, hasHeader)
		if !ok {
			continue
		}
		item.BillNumber = st.billNumber
		item.BillName = st.billName
		if item.BillName == "" {
			item.BillName = sheet.Name
		}
		item.SectionCode = st.sectionCode
		item.SectionName = st.sectionName
		setRaw(&item, "method", model.MethodHeuristic)
		setRaw(&item, "sheet", sheet.Name)
		setRaw(&item, "line", i+1)
		setRaw(&item, "cells", cells)
		FinalizeItem(&item)
		items = append(items, item)
	}

	zap.L().Debug("boq: heuristic parse complete",
		zap.String("sheet", sheet.Name),
		zap.Bool("header_detected", hasHeader),
		zap.Int("items", len(items)),
	)
	return items
}

// applyHeading updates the active bill/section when the line is a heading.
func (st *heuristicState) applyHeading(line string, cells []string) bool {
	text := strings.TrimSpace(line)
	if markdownHead.MatchString(text) {
		text = strings.TrimSpace(markdownHead.ReplaceAllString(text, ""))
		if m := keywordHead.FindStringSubmatch(text); m != nil {
			st.setHeading(m[1], m[2], m[3])
			return true
		}
		if m := codedHeading.FindStringSubmatch(text); m != nil {
			st.sectionCode, st.sectionName = m[1], strings.TrimSpace(m[2])
			return true
		}
		st.sectionCode, st.sectionName = "", text
		return true
	}

	nonEmpty := nonEmptyCells(cells)
	if len(nonEmpty) == 0 || len(nonEmpty) > 2 {
		return false
	}
	joined := strings.Join(nonEmpty, " ")
	m := keywordHead.FindStringSubmatch(joined)
	if m == nil {
		return false
	}
	st.setHeading(m[1], m[2], m[3])
	return true
}

func (st *heuristicState) setHeading(keyword, code, name string) {
	name = strings.TrimSpace(strings.TrimLeft(name, ":-–. "))
	if strings.EqualFold(keyword, "bill") {
		st.billNumber, st.billName = code, name
		st.sectionCode, st.sectionName = "", ""
		return
	}
	st.sectionCode, st.sectionName = code, name
}

func (p *HeuristicParser) parseRow(cells []string, cols columnMap, hasHeader bool) (model.ExtractedItem, bool) {
	var it model.ExtractedItem
	var qtyCell string
	var rest []string

	if hasHeader {
		it.Description = cellAt(cells, cols.desc)
		it.ItemCode = cellAt(cells, cols.code)
		qtyCell = cellAt(cells, cols.qty)
		if u := cellAt(cells, cols.unit); u != "" {
			it.Unit = &u
		}
		it.SupplyRate = positive(parseNumberPtr(cellAt(cells, cols.supply)))
		it.InstallRate = positive(parseNumberPtr(cellAt(cells, cols.install)))
		it.TotalRate = positive(parseNumberPtr(cellAt(cells, cols.rate)))
		it.Amount = parseNumberPtr(cellAt(cells, cols.amount))
		if isRateOnlyCell(cellAt(cells, cols.amount)) || isRateOnlyCell(cellAt(cells, cols.rate)) {
			it.IsRateOnly = true
		}
		if !cols.hasRateColumns() && cols.lastMapped()+1 < len(cells) {
			rest = cells[cols.lastMapped()+1:]
		}
	} else {
		c0, c1 := cellAt(cells, 0), cellAt(cells, 1)
		start := 1
		if codeCell.MatchString(c0) && c1 != "" && !isPurelyNumeric(c1) && !isRateOnlyCell(c1) {
			it.ItemCode = c0
			it.Description = c1
			start = 2
		} else {
			it.Description = c0
		}
		qtyCell = cellAt(cells, start)
		idx := start + 1
		if u := cellAt(cells, idx); u != "" && !isPurelyNumeric(u) && len(u) <= 12 && !isRateOnlyCell(u) {
			it.Unit = &u
			idx++
		}
		if idx < len(cells) {
			rest = cells[idx:]
		}
	}

	if isRateOnlyCell(qtyCell) {
		it.IsRateOnly = true
	} else {
		it.Quantity = parseNumberPtr(qtyCell)
	}

	// Without mapped rate columns the first positive number is the rate and
	// the next one the amount.
	if rest != nil && !it.HasRate() {
		for _, c := range rest {
			if isRateOnlyCell(c) {
				it.IsRateOnly = true
				continue
			}
			v, ok := parseNumber(c)
			if !ok || v <= 0 {
				continue
			}
			if it.TotalRate == nil {
				it.TotalRate = &v
				continue
			}
			if it.Amount == nil {
				it.Amount = &v
			}
			break
		}
	}

	it.Description = strings.TrimSpace(it.Description)
	it.ItemCode = strings.TrimSpace(it.ItemCode)
	if it.ItemCode == "" {
		if m := leadingCode.FindStringSubmatch(it.Description); m != nil {
			it.ItemCode, it.Description = m[1], strings.TrimSpace(m[2])
		}
	}

	if it.Description == "" || len([]rune(it.Description)) < MinDescriptionLength || isPurelyNumeric(it.Description) {
		return it, false
	}
	if p.filter != nil && p.filter.IsNonMaterialText(it.Description) {
		return it, false
	}
	if !it.HasRate() && it.Quantity == nil && !it.IsRateOnly {
		return it, false
	}
	return it, true
}

// splitterFor picks the cell delimiter for a sheet: tab, then pipe, then CSV.
func splitterFor(lines []string) func(string) []string {
	var hasTab, hasPipe bool
	for _, l := range lines {
		if strings.Contains(l, "\t") {
			hasTab = true
			break
		}
		if strings.Contains(l, "|") {
			hasPipe = true
		}
	}
	switch {
	case hasTab:
		return func(l string) []string { return trimCells(strings.Split(l, "\t")) }
	case hasPipe:
		return func(l string) []string {
			l = strings.TrimSpace(l)
			l = strings.TrimSuffix(strings.TrimPrefix(l, "|"), "|")
			return trimCells(strings.Split(l, "|"))
		}
	default:
		return splitCSV
	}
}

func splitCSV(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	rec, err := r.Read()
	if err != nil {
		return trimCells(strings.Split(line, ","))
	}
	return trimCells(rec)
}

func trimCells(cells []string) []string {
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func nonEmptyCells(cells []string) []string {
	var out []string
	for _, c := range cells {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func cellAt(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}
