package surveyeda

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrUnsupportedFormat is returned when no reader is registered for
// a file extension, or a file uses a variant the reader cannot handle.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// A StatfileReader reads a rectangular data file column by column.
// Read returns at most the given number of rows (all remaining rows
// if rows is negative), and io.EOF once the file is exhausted.
type StatfileReader interface {
	ColumnNames() []string
	Read(rows int) ([]*Column, error)
}

// An OpenFunc prepares a StatfileReader for the given input.
type OpenFunc func(r io.ReadSeeker) (StatfileReader, error)

var readers = map[string]OpenFunc{
	".sav": func(r io.ReadSeeker) (StatfileReader, error) {
		return NewSPSSReader(r)
	},
	".dta": func(r io.ReadSeeker) (StatfileReader, error) {
		stata, err := NewStataReader(r)
		if err != nil {
			return nil, err
		}
		stata.InsertCategoryLabels = false
		return stata, nil
	},
	".csv": func(r io.ReadSeeker) (StatfileReader, error) {
		return NewCSVReader(r), nil
	},
}

// SupportedExtensions lists the file extensions that OpenStatfile
// understands, sorted.
func SupportedExtensions() []string {
	var ext []string
	for k := range readers {
		ext = append(ext, k)
	}
	sort.Strings(ext)
	return ext
}

// OpenStatfile returns a reader for a file with the given extension.
// Categorical columns are read as their numeric codes.
func OpenStatfile(ext string, r io.ReadSeeker) (StatfileReader, error) {

	open, ok := readers[strings.ToLower(ext)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	return open(r)
}

// ReadTable reads every remaining row from rdr into a Table.  Numeric
// columns are upcast to float64.
func ReadTable(rdr StatfileReader) (*Table, error) {

	names := rdr.ColumnNames()
	var parts []*Table

	for {
		chunk, err := rdr.Read(-1)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		for j := range chunk {
			chunk[j] = chunk[j].UpcastNumeric()
		}
		t, err := NewTable(chunk)
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}

	if len(parts) == 0 {
		// No rows, but keep the columns.
		cols := make([]*Column, len(names))
		for j, na := range names {
			cols[j], _ = NewColumn(na, []float64{}, nil)
		}
		return NewTable(cols)
	}

	return Concat(parts)
}
