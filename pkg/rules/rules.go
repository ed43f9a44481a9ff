// pkg/rules/rules.go

// Package rules loads the rule catalog that drives classification and
// redaction.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// Supported catalog formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Expression dialects a catalog may be written in
const (
	DialectSQL      = "sql"
	DialectStarlark = "starlark"
)

// Catalog is the ordered, immutable set of rule templates loaded from a file
type Catalog struct {
	Dialect   string
	Templates []model.RuleTemplate
}

// catalogFile is the on-disk layout. Rules live under "expectations".
type catalogFile struct {
	Dialect      string         `json:"dialect" yaml:"dialect"`
	Expectations []templateFile `json:"expectations" yaml:"expectations"`
}

// templateFile keeps pointer fields so a missing key can be told apart from
// an empty pattern.
type templateFile struct {
	Name       *string  `json:"name" yaml:"name"`
	Constraint *string  `json:"constraint" yaml:"constraint"`
	Action     *string  `json:"action" yaml:"action"`
	Columns    []string `json:"columns" yaml:"columns"`
}

// Load reads and validates a rule catalog. The format is chosen by the
// file extension; anything other than .yaml/.yml is read as JSON.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewConfigError(path, "cannot read rule catalog", err)
	}

	catalog, err := Parse(data, FormatFromPath(path))
	if err != nil {
		var cfgErr *model.ConfigError
		if errors.As(err, &cfgErr) && cfgErr.Source == "" {
			cfgErr.Source = path
		}
		return nil, err
	}
	return catalog, nil
}

// FormatFromPath picks the catalog format for a file name
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes a catalog held in memory
func Parse(data []byte, format string) (*Catalog, error) {
	var file catalogFile

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, model.NewConfigError("", "malformed JSON catalog", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, model.NewConfigError("", "malformed YAML catalog", err)
		}
	default:
		return nil, model.NewConfigError("", fmt.Sprintf("unsupported catalog format %q", format), nil)
	}

	dialect := strings.ToLower(strings.TrimSpace(file.Dialect))
	if dialect == "" {
		dialect = DialectSQL
	}
	if dialect != DialectSQL && dialect != DialectStarlark {
		return nil, model.NewConfigError("", fmt.Sprintf("unknown dialect %q", file.Dialect), nil)
	}

	if len(file.Expectations) == 0 {
		return nil, model.NewConfigError("", "catalog defines no expectations", nil)
	}

	catalog := &Catalog{
		Dialect:   dialect,
		Templates: make([]model.RuleTemplate, 0, len(file.Expectations)),
	}

	for i, entry := range file.Expectations {
		tmpl, err := entry.toTemplate(i)
		if err != nil {
			return nil, err
		}
		catalog.Templates = append(catalog.Templates, tmpl)
	}

	return catalog, nil
}

// toTemplate validates the required keys of one catalog entry
func (t templateFile) toTemplate(index int) (model.RuleTemplate, error) {
	var missing []string
	if t.Name == nil || strings.TrimSpace(*t.Name) == "" {
		missing = append(missing, "name")
	}
	if t.Constraint == nil || strings.TrimSpace(*t.Constraint) == "" {
		missing = append(missing, "constraint")
	}
	if t.Action == nil || strings.TrimSpace(*t.Action) == "" {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return model.RuleTemplate{}, model.NewConfigError("",
			fmt.Sprintf("expectation %d is missing required keys: %s", index, strings.Join(missing, ", ")), nil)
	}

	return model.RuleTemplate{
		Name:       *t.Name,
		Constraint: *t.Constraint,
		Action:     *t.Action,
		Columns:    t.Columns,
	}, nil
}

// Names returns the template name patterns in catalog order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Templates))
	for _, t := range c.Templates {
		names = append(names, t.Name)
	}
	return names
}
