package boq

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Recovery stages, recorded on AI-extracted items for audit.
const (
	StageStrict   = "strict"
	StageRepaired = "repaired"
	StageSalvaged = "salvaged"
)

// ErrNoRecoverableItems is returned when no item could be recovered from a
// model response.
var ErrNoRecoverableItems = eris.New("no recoverable items in response")

// RawItem is one item as proposed by the model, after key aliasing.
type RawItem struct {
	ItemCode     string
	Description  string
	Quantity     *float64
	Unit         string
	SupplyRate   *float64
	InstallRate  *float64
	TotalRate    *float64
	Amount       *float64
	IsRateOnly   bool
	CategoryCode string
	Confidence   *float64
	BillNumber   string
	BillName     string
	SectionCode  string
	SectionName  string

	// Fields holds the canonicalised object as received.
	Fields map[string]any
}

// RecoveryResult is the outcome of Recover.
type RecoveryResult struct {
	Items     []RawItem
	Stage     string
	Discarded int
}

const itemSchema = `{
	"type": "object",
	"required": ["description"],
	"properties": {
		"item_code":     {"type": ["string", "number", "null"]},
		"description":   {"type": "string", "minLength": 1},
		"quantity":      {"type": ["number", "string", "null"]},
		"unit":          {"type": ["string", "null"]},
		"supply_rate":   {"type": ["number", "string", "null"]},
		"install_rate":  {"type": ["number", "string", "null"]},
		"total_rate":    {"type": ["number", "string", "null"]},
		"amount":        {"type": ["number", "string", "null"]},
		"is_rate_only":  {"type": ["boolean", "string", "null"]},
		"category_code": {"type": ["string", "null"]},
		"confidence":    {"type": ["number", "null"], "minimum": 0, "maximum": 1}
	}
}`

var compiledItemSchema = mustCompileSchema("item.json", itemSchema)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(eris.Wrap(err, "recovery: add schema"))
	}
	s, err := compiler.Compile(name)
	if err != nil {
		panic(eris.Wrap(err, "recovery: compile schema"))
	}
	return s
}

// keyAliases maps a folded key (lower-case, no separators) to its
// canonical name.
var keyAliases = map[string]string{
	"itemcode":   "item_code",
	"code":       "item_code",
	"itemno":     "item_code",
	"item":       "item_code",
	"itemref":    "item_code",
	"ref":        "item_code",
	"itemnumber": "item_code",

	"description":     "description",
	"desc":            "description",
	"itemdescription": "description",

	"quantity": "quantity",
	"qty":      "quantity",
	"unit":     "unit",
	"uom":      "unit",
	"units":    "unit",

	"supplyrate":  "supply_rate",
	"supply":      "supply_rate",
	"installrate": "install_rate",
	"install":     "install_rate",
	"labourrate":  "install_rate",
	"totalrate":   "total_rate",
	"rate":        "total_rate",
	"unitrate":    "total_rate",
	"amount":      "amount",
	"total":       "amount",
	"totalamount": "amount",

	"israteonly":   "is_rate_only",
	"rateonly":     "is_rate_only",
	"categorycode": "category_code",
	"category":     "category_code",
	"confidence":   "confidence",

	"billnumber":  "bill_number",
	"billno":      "bill_number",
	"billname":    "bill_name",
	"sectioncode": "section_code",
	"sectionname": "section_name",
	"section":     "section_name",
}

var (
	fencePattern = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*\\n?(.*?)\\s*(```\\s*)?$")
	flatObject   = regexp.MustCompile(`\{[^{}]*\}`)
	keyFoldNoise = strings.NewReplacer("_", "", "-", "", " ", "")
)

// Recover extracts items from a model response that may be well-formed,
// truncated, or malformed. Stages run in order: strict parse, bracket
// repair, then object-level salvage.
func Recover(text string) (RecoveryResult, error) {
	body := stripFences(text)

	if start := strings.Index(body, "["); start >= 0 {
		span := body[start:]
		if end := strings.LastIndex(span, "]"); end >= 0 {
			span = span[:end+1]
		}
		if items, discarded, err := decodeArray(span); err == nil {
			if len(items) > 0 {
				return RecoveryResult{Items: items, Stage: StageStrict, Discarded: discarded}, nil
			}
		} else if items, discarded, err := decodeArray(repairJSON(body[start:])); err == nil && len(items) > 0 {
			return RecoveryResult{Items: items, Stage: StageRepaired, Discarded: discarded}, nil
		}
	}

	items, discarded := salvage(body)
	if len(items) == 0 {
		return RecoveryResult{Stage: StageSalvaged, Discarded: discarded}, ErrNoRecoverableItems
	}
	return RecoveryResult{Items: items, Stage: StageSalvaged, Discarded: discarded}, nil
}

func stripFences(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}

// decodeArray parses a JSON array of objects. Elements that are not objects
// or fail the item schema are discarded and counted.
func decodeArray(s string) ([]RawItem, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, 0, eris.Wrap(err, "recovery: decode array")
	}
	var items []RawItem
	discarded := 0
	for _, r := range raw {
		it, ok := decodeObject(r, false)
		if !ok {
			discarded++
			continue
		}
		items = append(items, it)
	}
	return items, discarded, nil
}

// repairJSON closes unterminated strings, drops a dangling comma and
// appends the closing brackets for every unmatched opener.
func repairJSON(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	out := strings.TrimRight(b.String(), " \t\r\n")
	out = strings.TrimSuffix(out, ",")
	var closers bytes.Buffer
	for i := len(stack) - 1; i >= 0; i-- {
		closers.WriteByte(stack[i])
	}
	return out + closers.String()
}

// salvage parses every flat object in the text independently. Only objects
// carrying both an item code and a description are kept.
func salvage(text string) ([]RawItem, int) {
	var items []RawItem
	discarded := 0
	for _, candidate := range flatObject.FindAllString(text, -1) {
		it, ok := decodeObject([]byte(candidate), true)
		if !ok {
			discarded++
			continue
		}
		items = append(items, it)
	}
	return items, discarded
}

func decodeObject(b []byte, requireCode bool) (RawItem, bool) {
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return RawItem{}, false
	}
	fields := canonicalFields(obj)
	if requireCode {
		if _, ok := fields["item_code"]; !ok {
			return RawItem{}, false
		}
		if _, ok := fields["description"]; !ok {
			return RawItem{}, false
		}
	}
	if err := compiledItemSchema.Validate(fields); err != nil {
		return RawItem{}, false
	}
	return rawItemFromFields(fields), true
}

func canonicalFields(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		folded := keyFoldNoise.Replace(strings.ToLower(strings.TrimSpace(k)))
		name, ok := keyAliases[folded]
		if !ok {
			name = k
		}
		if _, seen := out[name]; seen {
			continue
		}
		out[name] = v
	}
	return out
}

func rawItemFromFields(f map[string]any) RawItem {
	it := RawItem{
		ItemCode:     anyString(f["item_code"]),
		Description:  anyString(f["description"]),
		Unit:         anyString(f["unit"]),
		SupplyRate:   anyFloat(f["supply_rate"]),
		InstallRate:  anyFloat(f["install_rate"]),
		TotalRate:    anyFloat(f["total_rate"]),
		Amount:       anyFloat(f["amount"]),
		IsRateOnly:   anyBool(f["is_rate_only"]),
		CategoryCode: anyString(f["category_code"]),
		Confidence:   anyFloat(f["confidence"]),
		BillNumber:   anyString(f["bill_number"]),
		BillName:     anyString(f["bill_name"]),
		SectionCode:  anyString(f["section_code"]),
		SectionName:  anyString(f["section_name"]),
		Fields:       f,
	}
	if s, ok := f["quantity"].(string); ok && isRateOnlyCell(s) {
		it.IsRateOnly = true
	} else {
		it.Quantity = anyFloat(f["quantity"])
	}
	return it
}

func anyString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func anyFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		return parseNumberPtr(t)
	default:
		return nil
	}
}

func anyBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true
		}
	}
	return false
}
