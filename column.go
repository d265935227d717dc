package surveyeda

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// A Column is a fixed-type one-dimensional sequence of data values,
// with an optional mask for missing values.
type Column struct {

	// A name describing what is in this column.
	name string

	// The length of the column.
	length int

	// The data, must be a slice of primitives, e.g. []float64.
	data interface{}

	// Indicators that data values are missing.  If nil, there are
	// no missing values.
	missing []bool
}

// ilen returns the length of a slice, held in an interface value.
// If the interface does not hold a slice of a known type, an error
// is returned.
func ilen(data interface{}) (int, error) {

	switch v := data.(type) {
	case []float64:
		return len(v), nil
	case []float32:
		return len(v), nil
	case []int64:
		return len(v), nil
	case []int32:
		return len(v), nil
	case []int16:
		return len(v), nil
	case []int8:
		return len(v), nil
	case []string:
		return len(v), nil
	case []time.Time:
		return len(v), nil
	default:
		return 0, fmt.Errorf("unknown data type %T", data)
	}
}

// NewColumn returns a new Column with the given name and data
// contents.  The data slice parameter is not copied.  A nil missing
// slice means that no values are missing.
func NewColumn(name string, data interface{}, missing []bool) (*Column, error) {

	length, err := ilen(data)
	if err != nil {
		return nil, err
	}

	if missing != nil && len(missing) != length {
		return nil, fmt.Errorf("column %s: %d missing indicators for %d values", name, len(missing), length)
	}

	return &Column{
		name:    name,
		length:  length,
		data:    data,
		missing: missing,
	}, nil
}

// Name returns the column name.
func (col *Column) Name() string {
	return col.name
}

// Data returns the data component of the Column.
func (col *Column) Data() interface{} {
	return col.data
}

// Missing returns the array of missing value indicators, which may
// be nil.
func (col *Column) Missing() []bool {
	return col.missing
}

// Len returns the number of elements in a Column.
func (col *Column) Len() int {
	return col.length
}

// IsMissing reports whether the i'th value is missing.
func (col *Column) IsMissing(i int) bool {
	return col.missing != nil && col.missing[i]
}

// IsNumeric reports whether the column holds numbers.
func (col *Column) IsNumeric() bool {
	switch col.data.(type) {
	case []float64, []float32, []int64, []int32, []int16, []int8:
		return true
	}
	return false
}

// DType returns the declared type of the column, using the names
// that appear in the report.
func (col *Column) DType() string {
	switch col.data.(type) {
	case []string:
		return "object"
	case []time.Time:
		return "datetime64[ns]"
	default:
		ty := fmt.Sprintf("%T", col.data)
		return ty[2:]
	}
}

// CountMissing returns the number of missing values in the Column.
func (col *Column) CountMissing() int {

	if col.missing == nil {
		return 0
	}

	m := 0
	for _, v := range col.missing {
		if v {
			m++
		}
	}

	return m
}

// SetMissing marks the i'th value as missing.  Numeric float
// values are also overwritten with NaN.
func (col *Column) SetMissing(i int) {

	if col.missing == nil {
		col.missing = make([]bool, col.length)
	}
	col.missing[i] = true

	if x, ok := col.data.([]float64); ok {
		x[i] = math.NaN()
	}
}

// UpcastNumeric returns a float64 version of a numeric column.
// Non-numeric data is returned unchanged.
func (col *Column) UpcastNumeric() *Column {

	var cmiss []bool
	if col.missing != nil {
		cmiss = make([]bool, col.length)
		copy(cmiss, col.missing)
	}

	switch col.data.(type) {
	case []float64, []string, []time.Time:
		return col
	}

	a, err := upcastNumeric(col.data)
	if err != nil {
		panic(err)
	}
	c, _ := NewColumn(col.name, a, cmiss)
	return c
}

// upcastNumeric copies any supported numeric slice into a []float64.
func upcastNumeric(data interface{}) ([]float64, error) {

	switch d := data.(type) {
	case []float64:
		a := make([]float64, len(d))
		copy(a, d)
		return a, nil
	case []float32:
		a := make([]float64, len(d))
		for i, v := range d {
			a[i] = float64(v)
		}
		return a, nil
	case []int64:
		a := make([]float64, len(d))
		for i, v := range d {
			a[i] = float64(v)
		}
		return a, nil
	case []int32:
		a := make([]float64, len(d))
		for i, v := range d {
			a[i] = float64(v)
		}
		return a, nil
	case []int16:
		a := make([]float64, len(d))
		for i, v := range d {
			a[i] = float64(v)
		}
		return a, nil
	case []int8:
		a := make([]float64, len(d))
		for i, v := range d {
			a[i] = float64(v)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("cannot upcast %T to []float64", data)
	}
}

// ForceNumeric converts string values to float64 values, creating
// missing values where the conversion is not possible.  If the data
// is not string type, it is unaffected.
func (col *Column) ForceNumeric() *Column {

	y, ok := col.data.([]string)
	if !ok {
		return col
	}

	cmiss := make([]bool, col.length)
	if col.missing != nil {
		copy(cmiss, col.missing)
	}

	x := make([]float64, col.length)
	for i := range y {
		if cmiss[i] {
			continue
		}
		v, err := strconv.ParseFloat(y[i], 64)
		if err != nil {
			cmiss[i] = true
		} else {
			x[i] = v
		}
	}

	c, _ := NewColumn(col.name, x, cmiss)
	return c
}

// ToString returns a Column with string values derived from the
// given column.  Missing values stay missing.
func (col *Column) ToString() *Column {

	if _, ok := col.data.([]string); ok {
		return col
	}

	cmiss := make([]bool, col.length)
	if col.missing != nil {
		copy(cmiss, col.missing)
	}

	x := make([]string, col.length)
	for i := 0; i < col.length; i++ {
		if !cmiss[i] {
			x[i] = col.ValueString(i)
		}
	}

	c, _ := NewColumn(col.name, x, cmiss)
	return c
}

// NullStringMissing returns a copy of a string column in which
// zero-length strings are treated as missing values.  If the method
// is applied to a column that is not of string type, the column is
// returned unchanged.
func (col *Column) NullStringMissing() *Column {

	y, ok := col.data.([]string)
	if !ok {
		return col
	}

	cmiss := make([]bool, col.length)
	if col.missing != nil {
		copy(cmiss, col.missing)
	}

	x := make([]string, col.length)
	copy(x, y)
	for i := range x {
		if len(x[i]) == 0 {
			cmiss[i] = true
		}
	}

	c, _ := NewColumn(col.name, x, cmiss)
	return c
}

// ValueString formats the i'th value.  Missing values format as
// the empty string.
func (col *Column) ValueString(i int) string {

	if col.IsMissing(i) {
		return ""
	}

	switch x := col.data.(type) {
	case []float64:
		return strconv.FormatFloat(x[i], 'f', -1, 64)
	case []float32:
		return strconv.FormatFloat(float64(x[i]), 'f', -1, 32)
	case []int64:
		return strconv.FormatInt(x[i], 10)
	case []int32:
		return strconv.FormatInt(int64(x[i]), 10)
	case []int16:
		return strconv.FormatInt(int64(x[i]), 10)
	case []int8:
		return strconv.FormatInt(int64(x[i]), 10)
	case []string:
		return x[i]
	case []time.Time:
		return x[i].UTC().Format("2006-01-02 15:04:05")
	default:
		panic(fmt.Sprintf("unknown data type %T in ValueString", col.data))
	}
}

// NUnique returns the number of distinct non-missing values.
func (col *Column) NUnique() int {

	switch x := col.data.(type) {
	case []float64:
		seen := make(map[float64]struct{})
		for i, v := range x {
			if !col.IsMissing(i) {
				seen[v] = struct{}{}
			}
		}
		return len(seen)
	default:
		seen := make(map[string]struct{})
		for i := 0; i < col.length; i++ {
			if !col.IsMissing(i) {
				seen[col.ValueString(i)] = struct{}{}
			}
		}
		return len(seen)
	}
}

// AsFloat64Slice returns the data of the column as a float64 slice,
// and a boolean slice for the missing value indicators.
func (col *Column) AsFloat64Slice() ([]float64, []bool, error) {

	v, ok := col.data.([]float64)
	if !ok {
		return nil, nil, fmt.Errorf("can't convert %T to []float64", col.data)
	}

	return v, col.missing, nil
}

// AsStringSlice returns the column data as slices for the values,
// and the missing data indicators.
func (col *Column) AsStringSlice() ([]string, []bool, error) {

	v, ok := col.data.([]string)
	if !ok {
		return nil, nil, fmt.Errorf("can't convert %T to []string", col.data)
	}

	return v, col.missing, nil
}

// Observed returns the non-missing values of a float64 column.
func (col *Column) Observed() []float64 {

	x, ok := col.data.([]float64)
	if !ok {
		return nil
	}

	obs := make([]float64, 0, len(x))
	for i, v := range x {
		if !col.IsMissing(i) {
			obs = append(obs, v)
		}
	}
	return obs
}

// AllClose returns true, 0 if the Column is within tol of the other
// column.  If the columns have different lengths, AllClose returns
// false, -1.  If the columns have different types, AllClose returns
// false, -2.  If the columns have the same type and the same length
// but are not equal, AllClose returns false, j, where j is the index
// of the first position where the two columns differ.
func (col *Column) AllClose(other *Column, tol float64) (bool, int) {

	if col.length != other.length {
		return false, -1
	}

	if fmt.Sprintf("%T", col.data) != fmt.Sprintf("%T", other.data) {
		return false, -2
	}

	for i := 0; i < col.length; i++ {
		m1, m2 := col.IsMissing(i), other.IsMissing(i)
		if m1 != m2 {
			return false, i
		}
		if m1 {
			continue
		}
		switch u := col.data.(type) {
		case []float64:
			v := other.data.([]float64)
			if math.Abs(u[i]-v[i]) > tol {
				return false, i
			}
		case []time.Time:
			v := other.data.([]time.Time)
			if !u[i].Equal(v[i]) {
				return false, i
			}
		default:
			if col.ValueString(i) != other.ValueString(i) {
				return false, i
			}
		}
	}

	return true, 0
}

// AllEqual is equivalent to AllClose with tol=0.
func (col *Column) AllEqual(other *Column) (bool, int) {
	return col.AllClose(other, 0.0)
}
