// pkg/rules/rules_test.go
package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/pii-redact/pkg/model"
)

const jsonCatalog = `{
  "expectations": [
    {"name": "{}_not_ssn", "constraint": "{} IS NULL", "action": "'REDACTED'", "columns": ["ssn"]},
    {"name": "{}_no_email", "constraint": "NOT ({} LIKE '%@%')", "action": "mask({})"}
  ]
}`

const yamlCatalog = `
dialect: starlark
expectations:
  - name: "{}_no_email"
    constraint: "not re_match('@', {})"
    action: "mask({})"
`

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		format  string
		dialect string
		names   []string
		wantErr bool
	}{
		{
			name:    "json catalog keeps order",
			data:    jsonCatalog,
			format:  FormatJSON,
			dialect: DialectSQL,
			names:   []string{"{}_not_ssn", "{}_no_email"},
		},
		{
			name:    "yaml catalog",
			data:    yamlCatalog,
			format:  FormatYAML,
			dialect: DialectStarlark,
			names:   []string{"{}_no_email"},
		},
		{
			name:    "missing action",
			data:    `{"expectations": [{"name": "a", "constraint": "{} IS NULL"}]}`,
			format:  FormatJSON,
			wantErr: true,
		},
		{
			name:    "empty constraint",
			data:    `{"expectations": [{"name": "a", "constraint": " ", "action": "NULL"}]}`,
			format:  FormatJSON,
			wantErr: true,
		},
		{
			name:    "no expectations",
			data:    `{"expectations": []}`,
			format:  FormatJSON,
			wantErr: true,
		},
		{
			name:    "malformed json",
			data:    `{"expectations": [`,
			format:  FormatJSON,
			wantErr: true,
		},
		{
			name:    "unknown dialect",
			data:    `{"dialect": "python", "expectations": [{"name": "a", "constraint": "b", "action": "c"}]}`,
			format:  FormatJSON,
			wantErr: true,
		},
		{
			name:    "unknown format",
			data:    jsonCatalog,
			format:  "toml",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, err := Parse([]byte(tt.data), tt.format)
			if tt.wantErr {
				require.Error(t, err)
				var cfgErr *model.ConfigError
				assert.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.dialect, catalog.Dialect)
			assert.Equal(t, tt.names, catalog.Names())
		})
	}
}

func TestParseKeepsColumnRestriction(t *testing.T) {
	catalog, err := Parse([]byte(jsonCatalog), FormatJSON)
	require.NoError(t, err)

	ssn := catalog.Templates[0]
	assert.Equal(t, []string{"ssn"}, ssn.Columns)
	assert.True(t, ssn.AppliesTo("ssn"))
	assert.False(t, ssn.AppliesTo("email"))
	assert.True(t, catalog.Templates[1].AppliesTo("email"))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "expectations.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(jsonCatalog), 0o600))
	catalog, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Len(t, catalog.Templates, 2)

	yamlPath := filepath.Join(dir, "expectations.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlCatalog), 0o600))
	catalog, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, DialectStarlark, catalog.Dialect)

	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"expectations": [{"name": "x"}]}`), 0o600))
	_, err = Load(badPath)
	var cfgErr *model.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, badPath, cfgErr.Source)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.True(t, errors.As(err, &cfgErr))
}
