package surveyeda

import "strings"

// MaxCategories is the exclusive upper bound on distinct values for a
// column to be treated as categorical.
const MaxCategories = 50

// Substrings marking numeric columns that hold codes or provenance
// rather than magnitudes.
var nonMeasureMarkers = []string{"ARCHIVO", "OCUR"}

// NumericColumns returns the names of the numeric columns of t that
// should be summarised.  A column with a declared role is kept only
// if the role is RoleMeasure; other numeric columns are kept unless
// their name contains ARCHIVO or OCUR.
func NumericColumns(t *Table, roles map[string]Role) []string {

	var names []string
	for _, c := range t.Columns() {
		if !c.IsNumeric() {
			continue
		}
		if r, ok := roles[c.Name()]; ok {
			if r == RoleMeasure {
				names = append(names, c.Name())
			}
			continue
		}
		if hasMarker(c.Name()) {
			continue
		}
		names = append(names, c.Name())
	}

	return names
}

func hasMarker(name string) bool {
	for _, m := range nonMeasureMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// CategoricalColumns returns, in table order, the columns not listed
// in numeric that have fewer than MaxCategories distinct non-missing
// values.
func CategoricalColumns(t *Table, numeric []string) []string {

	skip := make(map[string]bool, len(numeric))
	for _, na := range numeric {
		skip[na] = true
	}

	var names []string
	for _, c := range t.Columns() {
		if skip[c.Name()] {
			continue
		}
		if c.NUnique() < MaxCategories {
			names = append(names, c.Name())
		}
	}

	return names
}
