package boq

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// unitSynonyms maps lower-cased unit spellings to canonical symbols.
// Canonical symbols map to themselves so normalization is idempotent.
var unitSynonyms = map[string]string{
	// length
	"m":        "M",
	"lm":       "M",
	"l/m":      "M",
	"lin m":    "M",
	"linear m": "M",
	"metre":    "M",
	"metres":   "M",
	"meter":    "M",
	"meters":   "M",
	"m run":    "M",
	"mrun":     "M",
	"rm":       "M",
	"km":       "KM",

	// area
	"m2":            "M2",
	"sqm":           "M2",
	"sq m":          "M2",
	"sq.m":          "M2",
	"sq. m":         "M2",
	"square metre":  "M2",
	"square metres": "M2",
	"square meter":  "M2",
	"m^2":           "M2",

	// volume
	"m3":          "M3",
	"cum":         "M3",
	"cu m":        "M3",
	"cu.m":        "M3",
	"cubic metre": "M3",
	"m^3":         "M3",

	// count
	"no":     "NO",
	"no.":    "NO",
	"nr":     "NO",
	"nr.":    "NO",
	"nos":    "NO",
	"number": "NO",
	"each":   "NO",
	"ea":     "NO",
	"ea.":    "NO",
	"pc":     "NO",
	"pcs":    "NO",
	"piece":  "NO",
	"pieces": "NO",
	"item":   "NO",
	"unit":   "NO",
	"units":  "NO",

	// provisional sum
	"ps":              "PS",
	"p.s.":            "PS",
	"p.s":             "PS",
	"prov sum":        "PS",
	"prov. sum":       "PS",
	"provisional sum": "PS",
	"prov":            "PS",

	// lump sum
	"sum":      "SUM",
	"ls":       "SUM",
	"l.s.":     "SUM",
	"l/s":      "SUM",
	"lump sum": "SUM",
	"lumpsum":  "SUM",

	// mass
	"kg":       "KG",
	"kgs":      "KG",
	"kilogram": "KG",
	"t":        "T",
	"ton":      "T",
	"tons":     "T",
	"tonne":    "T",
	"tonnes":   "T",

	// liquid
	"l":      "L",
	"lt":     "L",
	"ltr":    "L",
	"litre":  "L",
	"litres": "L",
	"liter":  "L",

	// time
	"hr":     "HR",
	"hrs":    "HR",
	"hour":   "HR",
	"hours":  "HR",
	"h":      "HR",
	"day":    "DAY",
	"days":   "DAY",
	"wk":     "WK",
	"week":   "WK",
	"weeks":  "WK",
	"month":  "MONTH",
	"months": "MONTH",
	"mth":    "MONTH",

	// groups
	"set":   "SET",
	"sets":  "SET",
	"lot":   "LOT",
	"lots":  "LOT",
	"pr":    "PAIR",
	"pair":  "PAIR",
	"pairs": "PAIR",

	// electrical
	"kw":  "KW",
	"kva": "KVA",
}

// NormalizeUnit maps a free-text unit to its canonical symbol. Unknown units
// are upper-cased and passed through; nil or blank input yields nil.
func NormalizeUnit(unit *string) *string {
	if unit == nil {
		return nil
	}
	folded := strings.TrimSpace(norm.NFKC.String(*unit))
	if folded == "" {
		return nil
	}
	key := strings.ToLower(strings.Join(strings.Fields(folded), " "))
	if canon, ok := unitSynonyms[key]; ok {
		return &canon
	}
	up := strings.ToUpper(folded)
	return &up
}
