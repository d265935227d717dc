package surveyeda

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// ProvenanceColumn names the column holding each row's source file.
const ProvenanceColumn = "ARCHIVO_ORIGEN"

// A Role declares what a column means for reporting.
type Role string

const (
	// RoleMeasure marks a numeric magnitude that is summarised.
	RoleMeasure Role = "measure"

	// RoleCode marks a categorical code stored as a number.
	RoleCode Role = "code"

	// RoleIdentifier marks a record or file identifier.
	RoleIdentifier Role = "identifier"
)

// ParseRole converts a role name, ignoring case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleMeasure, RoleCode, RoleIdentifier:
		return r, nil
	default:
		return "", fmt.Errorf("unknown column role %q", s)
	}
}

// A Schema describes how the yearly files of a domain are read and
// harmonised.
type Schema struct {

	// The file extension of the yearly files, including the dot.
	Extension string `yaml:"extension"`

	// Legacy column names mapped to canonical names.
	Renames map[string]string `yaml:"renames"`

	// Declared column roles, keyed by canonical name.  Columns
	// without a role are classified by name.
	Roles map[string]Role `yaml:"roles"`

	// Codes meaning "ignored" or "unknown".
	Sentinels []float64 `yaml:"sentinels"`

	// If not empty, sentinel codes are only replaced in these
	// columns.
	SentinelColumns []string `yaml:"sentinel_columns"`
}

// DefaultSchema returns the schema used for the marriage and divorce
// survey exports.
func DefaultSchema() Schema {
	return Schema{
		Extension: ".sav",
		Renames: map[string]string{
			"A_OCUR":   "ANIO_OCURRENCIA",
			"MES_OCUR": "MES_OCURRENCIA",
			"DEPTO":    "DEPARTAMENTO",
			"MUN":      "MUNICIPIO",
		},
		Sentinels: []float64{99, 999, 9999},
	}
}

// Validate checks that the schema can be applied.  A rename target
// may not itself be renamed, so that renaming twice gives the same
// result as renaming once.
func (s Schema) Validate() error {

	var errs []error

	if !strings.HasPrefix(s.Extension, ".") || len(s.Extension) < 2 {
		errs = append(errs, fmt.Errorf("extension %q must start with a dot", s.Extension))
	}

	var keys []string
	for k := range s.Renames {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	targets := make(map[string]string)
	for _, k := range keys {
		v := s.Renames[k]
		if v == "" {
			errs = append(errs, fmt.Errorf("rename of %s has an empty target", k))
			continue
		}
		if _, ok := s.Renames[v]; ok {
			errs = append(errs, fmt.Errorf("rename chain %s -> %s -> %s", k, v, s.Renames[v]))
		}
		if other, ok := targets[v]; ok {
			errs = append(errs, fmt.Errorf("%s and %s are both renamed to %s", other, k, v))
		}
		targets[v] = k
	}

	for name, r := range s.Roles {
		if _, err := ParseRole(string(r)); err != nil {
			errs = append(errs, fmt.Errorf("column %s: %w", name, err))
		}
	}

	return multierr.Combine(errs...)
}

// A Domain is one family of yearly survey files, such as marriages.
type Domain struct {
	Name   string `yaml:"name"`
	Folder string `yaml:"folder"`
	Schema Schema `yaml:"schema"`
}
