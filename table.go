package surveyeda

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrDuplicateColumn is returned when a table would end up with two
// columns of the same name.
var ErrDuplicateColumn = errors.New("duplicate column name")

// A Table is an ordered collection of equal-length columns with
// unique names.
type Table struct {
	cols  []*Column
	index map[string]int
	nrow  int
}

// NewTable returns a Table holding the given columns.  The columns
// are not copied.
func NewTable(cols []*Column) (*Table, error) {

	t := &Table{
		cols:  cols,
		index: make(map[string]int, len(cols)),
	}

	for j, c := range cols {
		if j == 0 {
			t.nrow = c.Len()
		} else if c.Len() != t.nrow {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", c.Name(), c.Len(), t.nrow)
		}
		if _, ok := t.index[c.Name()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, c.Name())
		}
		t.index[c.Name()] = j
	}

	return t, nil
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return t.nrow
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int {
	return len(t.cols)
}

// Columns returns the columns in declaration order.
func (t *Table) Columns() []*Column {
	return t.cols
}

// Names returns the column names in declaration order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for j, c := range t.cols {
		names[j] = c.Name()
	}
	return names
}

// Column returns the named column, or nil if there is none.
func (t *Table) Column(name string) *Column {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.cols[j]
}

// RenameColumns renames every column found among the keys of m.
// Columns not in m keep their names.  An error is returned, and the
// table left unchanged, if renaming would produce duplicate names.
func (t *Table) RenameColumns(m map[string]string) error {

	newnames := make([]string, len(t.cols))
	index := make(map[string]int, len(t.cols))
	for j, c := range t.cols {
		na := c.Name()
		if nn, ok := m[na]; ok {
			na = nn
		}
		if _, ok := index[na]; ok {
			return fmt.Errorf("%w: renaming %s gives %s", ErrDuplicateColumn, c.Name(), na)
		}
		index[na] = j
		newnames[j] = na
	}

	for j, c := range t.cols {
		c.name = newnames[j]
	}
	t.index = index

	return nil
}

// AddConstant appends a string column holding value on every row.
func (t *Table) AddConstant(name, value string) error {

	if _, ok := t.index[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
	}

	x := make([]string, t.nrow)
	for i := range x {
		x[i] = value
	}
	c, err := NewColumn(name, x, nil)
	if err != nil {
		return err
	}

	t.index[name] = len(t.cols)
	t.cols = append(t.cols, c)

	return nil
}

// Concat stacks tables row-wise.  The result holds the union of the
// input columns, in order of first appearance; a column missing from
// one input is missing on that input's rows.  A column that is
// numeric in one input and text in another is converted to text.
func Concat(tables []*Table) (*Table, error) {

	if len(tables) == 0 {
		return nil, errors.New("no tables to concatenate")
	}

	var names []string
	kinds := make(map[string]string)
	for _, t := range tables {
		for _, c := range t.cols {
			k := columnKind(c)
			old, ok := kinds[c.Name()]
			if !ok {
				names = append(names, c.Name())
				kinds[c.Name()] = k
			} else if old != k {
				kinds[c.Name()] = "string"
			}
		}
	}

	n := 0
	for _, t := range tables {
		n += t.nrow
	}

	cols := make([]*Column, len(names))
	for j, na := range names {
		var err error
		cols[j], err = stackColumn(na, kinds[na], tables, n)
		if err != nil {
			return nil, err
		}
	}

	return NewTable(cols)
}

// columnKind classifies a column for concatenation.
func columnKind(c *Column) string {
	switch {
	case c.IsNumeric():
		return "float64"
	case c.DType() == "datetime64[ns]":
		return "time"
	default:
		return "string"
	}
}

func stackColumn(name, kind string, tables []*Table, n int) (*Column, error) {

	miss := make([]bool, n)
	var data interface{}
	switch kind {
	case "float64":
		data = make([]float64, n)
	case "time":
		data = make([]time.Time, n)
	default:
		data = make([]string, n)
	}

	pos := 0
	for _, t := range tables {
		c := t.Column(name)
		if c == nil {
			for i := pos; i < pos+t.nrow; i++ {
				miss[i] = true
				if x, ok := data.([]float64); ok {
					x[i] = math.NaN()
				}
			}
			pos += t.nrow
			continue
		}

		switch x := data.(type) {
		case []float64:
			src, _, err := c.UpcastNumeric().AsFloat64Slice()
			if err != nil {
				return nil, err
			}
			copy(x[pos:], src)
		case []time.Time:
			copy(x[pos:], c.Data().([]time.Time))
		case []string:
			src, _, err := c.ToString().AsStringSlice()
			if err != nil {
				return nil, err
			}
			copy(x[pos:], src)
		}

		if m := c.Missing(); m != nil {
			copy(miss[pos:], m)
		}
		pos += t.nrow
	}

	return NewColumn(name, data, miss)
}
