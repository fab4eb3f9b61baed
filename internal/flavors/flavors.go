// Package flavors defines the importer flavors and registers them with the
// core registry. Import this package for its side effect.
//
// Each flavor is described by a YAML file under definitions/. The file holds
// the field schema and names a group key strategy; the strategy itself is Go
// code in this package.
package flavors

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

//go:embed definitions/*.yaml
var definitions embed.FS

func init() {
	flavors, err := LoadAll()
	if err != nil {
		panic(err)
	}
	for _, f := range flavors {
		core.Register(f)
	}
}

// definition is the YAML form of a flavor.
type definition struct {
	Key           string            `yaml:"key"`
	Label         string            `yaml:"label"`
	Description   string            `yaml:"description"`
	SubjectField  string            `yaml:"subject_field"`
	Sentinel      string            `yaml:"sentinel"`
	ExclusiveIDs  []string          `yaml:"exclusive_ids"`
	SharedField   string            `yaml:"shared_field"`
	PositionField string            `yaml:"position_field"`
	MemberFields  []string          `yaml:"member_fields"`
	GroupKey      groupKeyStrategy  `yaml:"group_key"`
	Fields        []fieldDefinition `yaml:"fields"`
}

type fieldDefinition struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required"`
	Aliases     []string `yaml:"aliases"`
	Values      []string `yaml:"values"`
	Default     string   `yaml:"default"`
	MaxLen      int      `yaml:"max_len"`
	Descriptive bool     `yaml:"descriptive"`
	IDPrefix    string   `yaml:"id_prefix"`
}

type groupKeyStrategy struct {
	Strategy  string   `yaml:"strategy"`
	Fields    []string `yaml:"fields"`
	Normalize bool     `yaml:"normalize"`
}

// LoadAll parses every embedded definition.
func LoadAll() ([]*core.Flavor, error) {
	files, err := fs.Glob(definitions, "definitions/*.yaml")
	if err != nil {
		return nil, err
	}
	out := make([]*core.Flavor, 0, len(files))
	for _, name := range files {
		data, err := definitions.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		f, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Parse builds a flavor from its YAML definition and validates it.
func Parse(data []byte) (*core.Flavor, error) {
	var def definition
	if err := yaml.UnmarshalWithOptions(data, &def, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("decode flavor: %w", err)
	}

	f := &core.Flavor{
		Key:           def.Key,
		Label:         def.Label,
		Description:   strings.TrimSpace(def.Description),
		SubjectField:  def.SubjectField,
		Sentinel:      def.Sentinel,
		ExclusiveIDs:  def.ExclusiveIDs,
		SharedField:   def.SharedField,
		PositionField: def.PositionField,
		MemberFields:  def.MemberFields,
	}

	for _, fd := range def.Fields {
		ft, err := core.ParseFieldType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fd.Name, err)
		}
		f.Fields = append(f.Fields, core.FieldSpec{
			Name:        fd.Name,
			Type:        ft,
			Required:    fd.Required,
			Aliases:     fd.Aliases,
			EnumValues:  fd.Values,
			Default:     fd.Default,
			MaxLen:      fd.MaxLen,
			Descriptive: fd.Descriptive,
			IDPrefix:    fd.IDPrefix,
		})
	}

	keyFn, err := def.GroupKey.build(f)
	if err != nil {
		return nil, fmt.Errorf("flavor %q: %w", def.Key, err)
	}
	f.GroupKey = keyFn

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// build returns the group key extractor for a strategy. A nil extractor
// means members are grouped by resolved catalog id.
func (g groupKeyStrategy) build(f *core.Flavor) (func(core.Record) string, error) {
	switch g.Strategy {
	case "", "resolved":
		return nil, nil

	case "fields":
		if len(g.Fields) == 0 {
			return nil, fmt.Errorf("group key strategy %q needs fields", g.Strategy)
		}
		for _, name := range g.Fields {
			if _, ok := f.Field(name); !ok {
				return nil, fmt.Errorf("group key field %q is not defined", name)
			}
		}
		return fieldsKey(g.Fields, g.Normalize), nil

	default:
		return nil, fmt.Errorf("unknown group key strategy %q", g.Strategy)
	}
}

// fieldsKey joins the named values with ':'. Normalized keys fold case and
// punctuation, so "Top 10!" and "top 10" land in one group where the shared
// field check flags the differing spelling.
func fieldsKey(fields []string, normalize bool) func(core.Record) string {
	return func(rec core.Record) string {
		parts := make([]string, len(fields))
		for i, name := range fields {
			v := rec.Get(name)
			if normalize {
				v = core.NormalizeTitle(v)
			}
			parts[i] = v
		}
		return strings.Join(parts, ":")
	}
}
