package model

// CategoryEntry is a material category from the reference registry.
type CategoryEntry struct {
	ID          string `json:"id" yaml:"id"`
	Code        string `json:"code" yaml:"code"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CatalogEntry is a reference material with standard costs.
type CatalogEntry struct {
	ID          string   `json:"id" yaml:"id"`
	Code        string   `json:"code" yaml:"code"`
	Name        string   `json:"name" yaml:"name"`
	CategoryID  string   `json:"category_id,omitempty" yaml:"category_id,omitempty"`
	Unit        string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	SupplyCost  *float64 `json:"supply_cost,omitempty" yaml:"supply_cost,omitempty"`
	InstallCost *float64 `json:"install_cost,omitempty" yaml:"install_cost,omitempty"`
}

// ReferenceData is the read-only snapshot taken once at the start of a run.
type ReferenceData struct {
	Categories []CategoryEntry
	Catalog    []CatalogEntry
}
