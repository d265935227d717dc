package surveyeda

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// sniffRows is the number of leading records used to infer column types.
const sniffRows = 100

// A CSVReader specifies how a data set in CSV format can be read from
// a text file.
type CSVReader struct {

	// Skip this number of rows before reading the header.
	SkipRows int

	// If true, there is a header to read, otherwise default column names are used
	HasHeader bool

	// The column names, in the order that they appear in the
	// file.  Can be set by caller.
	Header []string

	// User-specified data types (maps column name to type name).
	TypeHintsName map[string]string

	// User-specified data types (indexed by column number).
	TypeHintsPos []string

	// The data type for each column, "float64" or "string".
	DataTypes []string

	initRun bool
	initErr error

	// Cached lines
	lines [][]string

	// The underlying csv Reader object
	csvreader *csv.Reader

	done bool
}

// NewCSVReader returns a CSVReader that reads CSV data from the given io.reader,
// with type inference and chunking.
func NewCSVReader(r io.Reader) *CSVReader {

	rdr := new(CSVReader)
	rdr.HasHeader = true

	rdr.csvreader = csv.NewReader(r)
	rdr.csvreader.FieldsPerRecord = -1

	return rdr
}

// ColumnNames returns the column names, reading the header if
// necessary.  A header that cannot be read gives no names; the error
// is reported by Read.
func (rdr *CSVReader) ColumnNames() []string {
	if !rdr.initRun {
		rdr.initErr = rdr.init()
	}
	return rdr.Header
}

func (rdr *CSVReader) getColumnNames() {

	if rdr.HasHeader {
		rdr.Header = rdr.lines[0]
		rdr.lines = rdr.lines[1:]
		return
	}

	// Default names
	m := len(rdr.lines[0])
	rdr.Header = make([]string, m)
	for k := 0; k < m; k++ {
		rdr.Header[k] = fmt.Sprintf("Column %d", k+1)
	}
}

func (rdr *CSVReader) sniffTypes() {

	nFloats, nObs := rdr.countFloats()

	rdr.DataTypes = make([]string, len(rdr.Header))
	for j, col := range rdr.Header {

		// Check for a type hint
		t := "infer"
		if tm, ok := rdr.TypeHintsName[col]; ok {
			t = tm
		} else if len(rdr.TypeHintsPos) > j && rdr.TypeHintsPos[j] != "" {
			t = rdr.TypeHintsPos[j]
		}

		switch {
		case t != "infer":
			rdr.DataTypes[j] = t
		case j < len(nObs) && nObs[j] > 0 && nFloats[j] == nObs[j]:
			rdr.DataTypes[j] = "float64"
		default:
			rdr.DataTypes[j] = "string"
		}
	}
}

// init performs some initializations before reading data.
func (rdr *CSVReader) init() error {

	rdr.initRun = true

	rdr.lines = make([][]string, 0, sniffRows)
	for k := 0; k < sniffRows+rdr.SkipRows; k++ {
		v, err := rdr.csvreader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		if k >= rdr.SkipRows {
			rdr.lines = append(rdr.lines, v)
		}
	}

	if len(rdr.lines) == 0 {
		return errors.New("csv file appears to be empty")
	}

	if rdr.Header == nil {
		rdr.getColumnNames()
	}

	if rdr.DataTypes == nil {
		rdr.sniffTypes()
	}

	if len(rdr.DataTypes) != len(rdr.Header) {
		return fmt.Errorf("%d csv column types for %d columns", len(rdr.DataTypes), len(rdr.Header))
	}
	for _, t := range rdr.DataTypes {
		if t != "float64" && t != "string" {
			return fmt.Errorf("unsupported csv column type %q", t)
		}
	}

	return nil
}

// Read reads up to lines rows of data and returns the results as an
// array of Column objects.  If lines is negative the whole file is
// read.  Data types of the Column objects are inferred from the file.
// Use type hints in the CSVReader struct to control the types
// directly.  Blank cells are missing.  io.EOF is returned when no
// rows remain.
func (rdr *CSVReader) Read(lines int) ([]*Column, error) {

	if !rdr.initRun {
		rdr.initErr = rdr.init()
	}
	if rdr.initErr != nil {
		return nil, rdr.initErr
	}
	if rdr.done {
		return nil, io.EOF
	}

	ncol := len(rdr.Header)
	dataArray := make([]interface{}, ncol)
	miss := make([][]bool, ncol)
	for j := 0; j < ncol; j++ {
		switch rdr.DataTypes[j] {
		case "float64":
			dataArray[j] = make([]float64, 0, sniffRows)
		case "string":
			dataArray[j] = make([]string, 0, sniffRows)
		}
		miss[j] = make([]bool, 0, sniffRows)
	}

	nrow := 0
	for lines < 0 || nrow < lines {

		var line []string
		if len(rdr.lines) > 0 {
			line = rdr.lines[0]
			rdr.lines = rdr.lines[1:]
		} else {
			var err error
			line, err = rdr.csvreader.Read()
			if err == io.EOF {
				rdr.done = true
				break
			} else if err != nil {
				return nil, err
			}
		}

		// Cells beyond the header are dropped.
		for j := 0; j < ncol; j++ {
			var cell string
			if j < len(line) {
				cell = line[j]
			}
			switch rdr.DataTypes[j] {
			case "float64":
				x, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
				dataArray[j] = append(dataArray[j].([]float64), x)
				miss[j] = append(miss[j], err != nil)
			case "string":
				dataArray[j] = append(dataArray[j].([]string), cell)
				miss[j] = append(miss[j], cell == "")
			}
		}

		nrow++
	}

	if nrow == 0 {
		return nil, io.EOF
	}

	cols := make([]*Column, ncol)
	for j := 0; j < ncol; j++ {
		var err error
		cols[j], err = NewColumn(rdr.Header[j], dataArray[j], miss[j])
		if err != nil {
			return nil, err
		}
	}
	return cols, nil
}

// countFloats returns the number of elements of each column of array
// that can be converted to float64 type.
func (rdr *CSVReader) countFloats() ([]int, []int) {

	// Find the longest record in the cache
	m := 0
	for _, v := range rdr.lines {
		if len(v) > m {
			m = len(v)
		}
	}

	numFloats := make([]int, m)
	numObs := make([]int, m)

	for _, x := range rdr.lines {
		for j, y := range x {
			y = strings.TrimSpace(y)
			// Skip blanks
			if len(y) == 0 {
				continue
			}
			numObs[j]++
			if _, err := strconv.ParseFloat(y, 64); err == nil {
				numFloats[j]++
			}
		}
	}

	return numFloats, numObs
}
