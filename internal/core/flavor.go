package core

import (
	"fmt"
	"strings"
)

// FieldType defines how a canonical field is validated.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldPositiveInt
)

// ParseFieldType converts a definition-file type name to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FieldText, nil
	case "enum":
		return FieldEnum, nil
	case "int", "positive_int":
		return FieldPositiveInt, nil
	default:
		return FieldText, fmt.Errorf("unknown field type %q", s)
	}
}

// FieldSpec defines one canonical field of a flavor.
type FieldSpec struct {
	Name        string    // Canonical field name (snake_case)
	Type        FieldType // Validation type
	Required    bool      // Column must exist and cell must be non-empty
	Aliases     []string  // Alternate header spellings
	EnumValues  []string  // Allowed values for FieldEnum (canonical spelling)
	Default     string    // Value used when an enum cell is blank
	MaxLen      int       // Rune cap for text fields after cleanup (0 = none)
	Descriptive bool      // Checked for the template sentinel
	IDPrefix    string    // External-id namespace: "igdb" builds "igdb:<n>"
}

// Flavor is the per-importer strategy: field schema, matcher query and group
// key extraction. One generic engine runs every flavor.
type Flavor struct {
	Key         string
	Label       string
	Description string
	Fields      []FieldSpec

	// SubjectField holds the free text handed to the matcher.
	SubjectField string

	// ExclusiveIDs lists identifier fields of which at most one may be set.
	// The one that is set becomes the item's pre-supplied catalog id.
	ExclusiveIDs []string

	// SharedField must be identical across a group (e.g. a round label).
	SharedField string

	// PositionField orders members inside a committed entity. Empty means
	// row order.
	PositionField string

	// MemberFields are copied onto entity members and filled by link-repair.
	MemberFields []string

	// Sentinel marks template example rows to skip.
	Sentinel string

	// GroupKey extracts the group key from a validated record. Nil means the
	// group key is derived from the resolved catalog id (ResolvedGroupKey).
	GroupKey func(rec Record) string
}

// Field returns the spec for a canonical field name.
func (f *Flavor) Field(name string) (FieldSpec, bool) {
	for _, spec := range f.Fields {
		if spec.Name == name {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// RequiredFields returns the canonical names of required fields in definition order.
func (f *Flavor) RequiredFields() []string {
	var out []string
	for _, spec := range f.Fields {
		if spec.Required {
			out = append(out, spec.Name)
		}
	}
	return out
}

// GroupsByResolution reports whether group keys are assigned after matching.
func (f *Flavor) GroupsByResolution() bool {
	return f.GroupKey == nil
}

// ResolvedGroupKey is the group key used for flavors grouped by catalog id.
func ResolvedGroupKey(catalogID string) string {
	return "catalog:" + catalogID
}

// Validate checks a flavor definition for internal consistency.
func (f *Flavor) Validate() error {
	var errs []string
	if f.Key == "" {
		errs = append(errs, "key is required")
	}
	if _, ok := f.Field(f.SubjectField); !ok {
		errs = append(errs, fmt.Sprintf("subject field %q is not defined", f.SubjectField))
	}
	for _, name := range f.ExclusiveIDs {
		if _, ok := f.Field(name); !ok {
			errs = append(errs, fmt.Sprintf("id field %q is not defined", name))
		}
	}
	if f.SharedField != "" {
		if _, ok := f.Field(f.SharedField); !ok {
			errs = append(errs, fmt.Sprintf("shared field %q is not defined", f.SharedField))
		}
	}
	if f.PositionField != "" {
		if spec, ok := f.Field(f.PositionField); !ok || spec.Type != FieldPositiveInt {
			errs = append(errs, fmt.Sprintf("position field %q must be a defined int field", f.PositionField))
		}
	}
	for _, spec := range f.Fields {
		if spec.Type == FieldEnum && len(spec.EnumValues) == 0 {
			errs = append(errs, fmt.Sprintf("enum field %q has no values", spec.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("flavor %q: %s", f.Key, strings.Join(errs, "; "))
	}
	return nil
}

// TemplateRows returns a header row and a sentinel example row for download.
func (f *Flavor) TemplateRows() [][]string {
	header := make([]string, len(f.Fields))
	example := make([]string, len(f.Fields))
	for i, spec := range f.Fields {
		header[i] = spec.Name
		switch {
		case spec.Descriptive && f.Sentinel != "":
			example[i] = f.Sentinel
		case spec.Type == FieldEnum:
			example[i] = spec.Default
		case spec.Type == FieldPositiveInt:
			example[i] = "1"
		}
	}
	return [][]string{header, example}
}

// PreSuppliedID returns the catalog reference of the id field that is set
// ("igdb:1234", or the bare value for native ids), or "".
func (f *Flavor) PreSuppliedID(rec Record) string {
	for _, name := range f.ExclusiveIDs {
		v := rec.Get(name)
		if v == "" {
			continue
		}
		if spec, _ := f.Field(name); spec.IDPrefix != "" {
			return spec.IDPrefix + ":" + v
		}
		return v
	}
	return ""
}

// NewItem builds the PENDING item for a validated record.
func (f *Flavor) NewItem(rec Record) *Item {
	it := &Item{
		RowIndex:      rec.RowIndex,
		Subject:       rec.Get(f.SubjectField),
		PreSuppliedID: f.PreSuppliedID(rec),
		Fields:        rec.Values,
		Status:        ItemPending,
	}
	if f.GroupKey != nil {
		it.GroupKey = f.GroupKey(rec)
	}
	if f.SharedField != "" {
		it.SharedLabel = rec.Get(f.SharedField)
	}
	return it
}
