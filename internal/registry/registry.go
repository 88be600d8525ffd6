// Package registry loads reference data and rule tables from JSON or YAML
// files: material categories, the master catalog, classifier keyword rules
// and non-material filter rules.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/boq"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// decodeFile reads path as YAML when its extension is .yaml or .yml and as
// JSON otherwise.
func decodeFile[T any](path, what string) (T, error) {
	var out T
	data, err := os.ReadFile(path)
	if err != nil {
		return out, eris.Wrapf(err, "registry: read %s file", what)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &out)
	default:
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		return out, eris.Wrapf(err, "registry: decode %s file %s", what, filepath.Base(path))
	}
	return out, nil
}

// LoadCategories reads the category registry. Codes are upper-cased and must
// be unique.
func LoadCategories(path string) ([]model.CategoryEntry, error) {
	cats, err := decodeFile[[]model.CategoryEntry](path, "categories")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(cats))
	for i := range cats {
		c := &cats[i]
		c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
		c.Name = strings.TrimSpace(c.Name)
		if c.ID == "" || c.Code == "" || c.Name == "" {
			return nil, eris.Errorf("registry: category %d: id, code and name are required", i+1)
		}
		if seen[c.Code] {
			return nil, eris.Errorf("registry: duplicate category code %s", c.Code)
		}
		seen[c.Code] = true
	}
	return cats, nil
}

// LoadCatalog reads master catalog entries. IDs must be unique; codes may
// repeat across suppliers.
func LoadCatalog(path string) ([]model.CatalogEntry, error) {
	entries, err := decodeFile[[]model.CatalogEntry](path, "catalog")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		e.Code = strings.TrimSpace(e.Code)
		e.Name = strings.TrimSpace(e.Name)
		if e.ID == "" || e.Code == "" || e.Name == "" {
			return nil, eris.Errorf("registry: catalog entry %d: id, code and name are required", i+1)
		}
		if seen[e.ID] {
			return nil, eris.Errorf("registry: duplicate catalog id %s", e.ID)
		}
		seen[e.ID] = true
		if e.Unit != "" {
			if u := boq.NormalizeUnit(&e.Unit); u != nil {
				e.Unit = *u
			}
		}
	}
	return entries, nil
}

// LoadKeywordRules reads an ordered classifier keyword table. An empty path
// returns the built-in table.
func LoadKeywordRules(path string) ([]boq.KeywordRule, error) {
	if path == "" {
		return boq.DefaultKeywordRules(), nil
	}
	rules, err := decodeFile[[]boq.KeywordRule](path, "keyword rules")
	if err != nil {
		return nil, err
	}
	for i, r := range rules {
		if strings.TrimSpace(r.Code) == "" || len(r.Keywords) == 0 {
			return nil, eris.Errorf("registry: keyword rule %d: code and keywords are required", i+1)
		}
	}
	return rules, nil
}

// LoadFilter reads non-material filter rules and compiles them. Fields left
// unset in the file keep their built-in values; an empty path returns the
// built-in filter.
func LoadFilter(path string) (*boq.Filter, error) {
	rules := boq.DefaultFilterRules()
	if path != "" {
		override, err := decodeFile[boq.FilterRules](path, "filter rules")
		if err != nil {
			return nil, err
		}
		if override.MinLength > 0 {
			rules.MinLength = override.MinLength
		}
		if len(override.Patterns) > 0 {
			rules.Patterns = override.Patterns
		}
		if override.CodeShape != "" {
			rules.CodeShape = override.CodeShape
		}
	}
	f, err := boq.NewFilter(rules)
	if err != nil {
		return nil, eris.Wrap(err, "registry: compile filter rules")
	}
	return f, nil
}
