package surveyeda

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var supportedDtaVersions = []int{114, 115, 117, 118}
var rowCountLength = map[int]int{114: 4, 115: 4, 117: 4, 118: 8}
var datasetLabelLength = map[int]int{117: 1, 118: 2}
var valueLabelLength = map[int]int{117: 33, 118: 129}
var voLength = map[int]int{117: 8, 118: 12}

// Stata storage types, in the numbering of dta 117 and later.
const (
	stataStrL   = 32768
	stataDouble = 65526
	stataFloat  = 65527
	stataLong   = 65528
	stataInt    = 65529
	stataByte   = 65530
)

var errStataTruncated = errors.New("stata file appears to be truncated")

// A StataReader reads Stata dta data files.  Currently dta format
// versions 114, 115, 117, and 118 can be read.
//
// The Read method reads and returns the data.  Several fields of the
// StataReader struct may also be of interest.
//
// Technical information about the file format can be found here:
// http://www.stata.com/help.cgi?dta
type StataReader struct {

	// If true, the strl numerical codes are replaced with their
	// string values when available.
	InsertStrls bool

	// If true, the categorial numerical codes are replaced with
	// their string labels when available.
	InsertCategoryLabels bool

	// If true, dates are converted to Go date format.
	ConvertDates bool

	// A short text label for the data set.
	DatasetLabel string

	// The time stamp for the data set
	TimeStamp string

	// Number of variables
	Nvar int

	// An additional text entry describing each variable
	ColumnNamesLong []string

	// String labels for categorical variables
	ValueLabels     map[string]map[int32]string
	ValueLabelNames []string

	// Format codes for each variable
	Formats []string

	// Maps from strl keys to values
	Strls map[uint64]string

	// The format version of the dta file
	FormatVersion int

	// The endian-ness of the file
	ByteOrder binary.ByteOrder

	rowCount    int
	rowsRead    int
	varTypes    []int
	columnNames []string
	isDate      []bool

	// Offsets from the map of dta 117+ files
	seekVartypes        int64
	seekVarnames        int64
	seekFormats         int64
	seekValueLabelNames int64
	seekVariableLabels  int64
	seekData            int64
	seekStrls           int64
	seekValueLabels     int64

	// Offset of the first data row, for all versions
	dataStart  int64
	dataSeeked bool

	reader io.ReadSeeker
}

// NewStataReader returns a StataReader for reading from the given io channel.
func NewStataReader(r io.ReadSeeker) (*StataReader, error) {
	rdr := new(StataReader)
	rdr.reader = r

	// Defaults
	rdr.InsertStrls = true
	rdr.InsertCategoryLabels = true
	rdr.ConvertDates = true

	if err := rdr.init(); err != nil {
		return nil, err
	}
	return rdr, nil
}

// RowCount returns the number of rows in the data set.
func (rdr *StataReader) RowCount() int {
	return rdr.rowCount
}

// ColumnNames returns the names of the columns in the data file.
func (rdr *StataReader) ColumnNames() []string {
	return rdr.columnNames
}

// ColumnTypes returns integer codes corresponding to the data types
// in the Stata file, using the dta 117 numbering.
func (rdr *StataReader) ColumnTypes() []int {
	return rdr.varTypes
}

func (rdr *StataReader) init() error {

	// Determine if we have <117 or >=117 dta version.
	c := make([]byte, 1)
	if _, err := io.ReadFull(rdr.reader, c); err != nil {
		return errStataTruncated
	}
	if _, err := rdr.reader.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var err error
	if string(c) == "<" {
		err = rdr.readNewHeader()
	} else {
		err = rdr.readOldHeader()
	}
	if err != nil {
		return err
	}

	if err := rdr.readVartypes(); err != nil {
		return err
	}

	if err := rdr.readVarnames(); err != nil {
		return err
	}

	// Skip over the sort list
	if rdr.FormatVersion < 117 {
		if err := rdr.skip(int64(2 * (rdr.Nvar + 1))); err != nil {
			return err
		}
	}

	if err := rdr.readFormats(); err != nil {
		return err
	}
	if err := rdr.readValueLabelNames(); err != nil {
		return err
	}
	if err := rdr.readVariableLabels(); err != nil {
		return err
	}

	if rdr.FormatVersion < 117 {
		if err := rdr.readExpansionFields(); err != nil {
			return err
		}
		pos, err := rdr.reader.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		rdr.dataStart = pos
		return nil
	}

	rdr.dataStart = rdr.seekData + 6
	if err := rdr.readStrls(); err != nil {
		return err
	}
	return rdr.readValueLabels()
}

func (rdr *StataReader) skip(n int64) error {
	_, err := rdr.reader.Seek(n, io.SeekCurrent)
	return err
}

func (rdr *StataReader) readFull(buf []byte) error {
	if _, err := io.ReadFull(rdr.reader, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errStataTruncated
		}
		return err
	}
	return nil
}

func (rdr *StataReader) readExpansionFields() error {
	var b byte
	var i int32

	for {
		if err := binary.Read(rdr.reader, rdr.ByteOrder, &b); err != nil {
			return errStataTruncated
		}
		if err := binary.Read(rdr.reader, rdr.ByteOrder, &i); err != nil {
			return errStataTruncated
		}
		if b == 0 && i == 0 {
			break
		}
		if err := rdr.skip(int64(i)); err != nil {
			return err
		}
	}

	return nil
}

func (rdr *StataReader) readInt(width int) (int, error) {

	var err error
	var v int
	switch width {
	default:
		return 0, fmt.Errorf("unsupported width %d in readInt", width)
	case 1:
		var x int8
		err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
		v = int(x)
	case 2:
		var x int16
		err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
		v = int(x)
	case 4:
		var x int32
		err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
		v = int(x)
	case 8:
		var x int64
		err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
		v = int(x)
	}
	if err != nil {
		return 0, errStataTruncated
	}
	return v, nil
}

func (rdr *StataReader) readUint(width int) (int, error) {

	var err error
	var v int
	switch width {
	default:
		return 0, fmt.Errorf("unsupported width %d in readUint", width)
	case 1:
		var x uint8
		err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
		v = int(x)
	case 2:
		var x uint16
		err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
		v = int(x)
	case 4:
		var x uint32
		err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
		v = int(x)
	}
	if err != nil {
		return 0, errStataTruncated
	}
	return v, nil
}

// readOldHeader reads the pre version 117 header
func (rdr *StataReader) readOldHeader() error {

	buf := make([]byte, 81)

	if err := rdr.readFull(buf[0:2]); err != nil {
		return err
	}
	rdr.FormatVersion = int(buf[0])
	if !rdr.supportedVersion() {
		return fmt.Errorf("%w: stata dta format version %d", ErrUnsupportedFormat, rdr.FormatVersion)
	}
	if buf[1] == 1 {
		rdr.ByteOrder = binary.BigEndian
	} else {
		rdr.ByteOrder = binary.LittleEndian
	}

	// File type and an unused byte
	if err := rdr.skip(2); err != nil {
		return err
	}

	var err error
	if rdr.Nvar, err = rdr.readInt(2); err != nil {
		return err
	}
	if rdr.rowCount, err = rdr.readInt(rowCountLength[rdr.FormatVersion]); err != nil {
		return err
	}

	if err := rdr.readFull(buf[0:81]); err != nil {
		return err
	}
	rdr.DatasetLabel = string(partition(buf[0:81]))

	if err := rdr.readFull(buf[0:18]); err != nil {
		return err
	}
	rdr.TimeStamp = string(partition(buf[0:18]))

	return nil
}

func (rdr *StataReader) supportedVersion() bool {
	for _, v := range supportedDtaVersions {
		if rdr.FormatVersion == v {
			return true
		}
	}
	return false
}

// readNewHeader reads a new-style xml header (versions 117+).
func (rdr *StataReader) readNewHeader() error {

	buf := make([]byte, 500)

	// <stata_dta><header><release>
	if err := rdr.readFull(buf[0:28]); err != nil {
		return err
	}
	if string(buf[0:11]) != "<stata_dta>" {
		return errors.New("invalid stata file")
	}

	if err := rdr.readFull(buf[0:3]); err != nil {
		return err
	}
	x, err := strconv.ParseUint(string(buf[0:3]), 10, 64)
	if err != nil {
		return err
	}
	rdr.FormatVersion = int(x)
	if !rdr.supportedVersion() {
		return fmt.Errorf("%w: stata dta format version %d", ErrUnsupportedFormat, rdr.FormatVersion)
	}

	// </release><byteorder>
	if err := rdr.skip(21); err != nil {
		return err
	}

	if err := rdr.readFull(buf[0:3]); err != nil {
		return err
	}
	if string(buf[0:3]) == "MSF" {
		rdr.ByteOrder = binary.BigEndian
	} else {
		rdr.ByteOrder = binary.LittleEndian
	}

	// </byteorder><K>
	if err := rdr.skip(15); err != nil {
		return err
	}
	if rdr.Nvar, err = rdr.readInt(2); err != nil {
		return err
	}

	// </K><N>
	if err := rdr.skip(7); err != nil {
		return err
	}
	if rdr.rowCount, err = rdr.readInt(rowCountLength[rdr.FormatVersion]); err != nil {
		return err
	}

	// </N><label>
	if err := rdr.skip(11); err != nil {
		return err
	}
	w, err := rdr.readUint(datasetLabelLength[rdr.FormatVersion])
	if err != nil {
		return err
	}
	if w > len(buf) {
		buf = make([]byte, w)
	}
	if err := rdr.readFull(buf[0:w]); err != nil {
		return err
	}
	rdr.DatasetLabel = string(buf[0:w])

	// </label><timestamp>
	if err := rdr.skip(19); err != nil {
		return err
	}
	n8, err := rdr.readUint(1)
	if err != nil {
		return err
	}
	if err := rdr.readFull(buf[0:n8]); err != nil {
		return err
	}
	rdr.TimeStamp = string(buf[0:n8])

	// </timestamp></header><map> + 16 bytes
	if err := rdr.skip(42); err != nil {
		return err
	}

	var sortlist, characteristics int64
	for _, p := range []*int64{&rdr.seekVartypes, &rdr.seekVarnames, &sortlist,
		&rdr.seekFormats, &rdr.seekValueLabelNames, &rdr.seekVariableLabels,
		&characteristics, &rdr.seekData, &rdr.seekStrls, &rdr.seekValueLabels} {
		if err := binary.Read(rdr.reader, rdr.ByteOrder, p); err != nil {
			return errStataTruncated
		}
	}

	return nil
}

func (rdr *StataReader) readVartypes() error {

	width := 1
	if rdr.FormatVersion >= 117 {
		width = 2
		if _, err := rdr.reader.Seek(rdr.seekVartypes+16, io.SeekStart); err != nil {
			return err
		}
	}

	rdr.varTypes = make([]int, rdr.Nvar)
	for k := range rdr.varTypes {
		t, err := rdr.readUint(width)
		if err != nil {
			return err
		}
		if rdr.FormatVersion < 117 {
			t, err = translateVartype(t)
			if err != nil {
				return err
			}
		}
		rdr.varTypes[k] = t
	}
	return nil
}

// translateVartype maps a pre-117 type byte to the 117 numbering.
func translateVartype(t int) (int, error) {
	switch {
	case t <= 244:
		// strf
		return t, nil
	case t == 251:
		return stataByte, nil
	case t == 252:
		return stataInt, nil
	case t == 253:
		return stataLong, nil
	case t == 254:
		return stataFloat, nil
	case t == 255:
		return stataDouble, nil
	default:
		return 0, fmt.Errorf("unknown stata variable type %d", t)
	}
}

// readFixedStrings reads Nvar null-padded fields of the given width,
// seeking first for dta 117+ files.
func (rdr *StataReader) readFixedStrings(width int, seek int64) ([]string, error) {

	if rdr.FormatVersion >= 117 {
		if _, err := rdr.reader.Seek(seek, io.SeekStart); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, width)
	out := make([]string, rdr.Nvar)
	for k := range out {
		if err := rdr.readFull(buf); err != nil {
			return nil, err
		}
		out[k] = string(partition(buf))
	}
	return out, nil
}

func (rdr *StataReader) readVarnames() error {
	width := 33
	if rdr.FormatVersion == 118 {
		width = 129
	}
	var err error
	rdr.columnNames, err = rdr.readFixedStrings(width, rdr.seekVarnames+10)
	return err
}

func (rdr *StataReader) readFormats() error {
	width := 49
	if rdr.FormatVersion == 118 {
		width = 57
	}
	var err error
	rdr.Formats, err = rdr.readFixedStrings(width, rdr.seekFormats+9)
	if err != nil {
		return err
	}

	rdr.isDate = make([]bool, rdr.Nvar)
	for k, f := range rdr.Formats {
		if strings.HasPrefix(f, "%td") || strings.HasPrefix(f, "%tc") {
			rdr.isDate[k] = true
		}
	}
	return nil
}

func (rdr *StataReader) readValueLabelNames() error {
	width := 33
	if rdr.FormatVersion == 118 {
		width = 129
	}
	var err error
	rdr.ValueLabelNames, err = rdr.readFixedStrings(width, rdr.seekValueLabelNames+19)
	return err
}

func (rdr *StataReader) readVariableLabels() error {
	width := 81
	if rdr.FormatVersion >= 117 {
		width = 321
	}
	var err error
	rdr.ColumnNamesLong, err = rdr.readFixedStrings(width, rdr.seekVariableLabels+17)
	return err
}

// Returns everything before the first null byte.
func partition(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[0:i]
	}
	return b
}

func (rdr *StataReader) readValueLabels() error {

	rdr.ValueLabels = make(map[string]map[int32]string)

	if _, err := rdr.reader.Seek(rdr.seekValueLabels+14, io.SeekStart); err != nil {
		return err
	}

	vlw := valueLabelLength[rdr.FormatVersion]
	buf := make([]byte, 321)
	var n, textlen int32

	for {
		if _, err := io.ReadFull(rdr.reader, buf[0:5]); err != nil || string(buf[0:5]) != "<lbl>" {
			break
		}

		if err := rdr.skip(4); err != nil {
			return err
		}
		if err := rdr.readFull(buf[0:vlw]); err != nil {
			return err
		}
		labname := string(partition(buf[0:vlw]))
		if err := rdr.skip(3); err != nil {
			return err
		}

		if err := binary.Read(rdr.reader, rdr.ByteOrder, &n); err != nil {
			return errStataTruncated
		}
		if err := binary.Read(rdr.reader, rdr.ByteOrder, &textlen); err != nil {
			return errStataTruncated
		}
		if n < 0 || textlen < 0 {
			return errors.New("invalid stata value label table")
		}

		off := make([]int32, n)
		val := make([]int32, n)
		if err := binary.Read(rdr.reader, rdr.ByteOrder, off); err != nil {
			return errStataTruncated
		}
		if err := binary.Read(rdr.reader, rdr.ByteOrder, val); err != nil {
			return errStataTruncated
		}

		text := make([]byte, textlen)
		if err := rdr.readFull(text); err != nil {
			return err
		}

		vk := make(map[int32]string)
		for j := int32(0); j < n; j++ {
			if off[j] < 0 || off[j] >= textlen {
				return errors.New("invalid stata value label offset")
			}
			vk[val[j]] = string(partition(text[off[j]:]))
		}
		rdr.ValueLabels[labname] = vk

		// </lbl>
		if err := rdr.skip(6); err != nil {
			return err
		}
	}

	return nil
}

func (rdr *StataReader) readStrls() error {

	if _, err := rdr.reader.Seek(rdr.seekStrls+7, io.SeekStart); err != nil {
		return err
	}

	vo := make([]byte, voLength[rdr.FormatVersion])
	vo8 := make([]byte, 8)
	var t uint8
	var length uint32

	rdr.Strls = map[uint64]string{0: ""}

	buf3 := make([]byte, 3)
	for {
		if _, err := io.ReadFull(rdr.reader, buf3); err != nil || string(buf3) != "GSO" {
			break
		}

		if err := rdr.readFull(vo); err != nil {
			return err
		}
		if err := binary.Read(rdr.reader, rdr.ByteOrder, &t); err != nil {
			return errStataTruncated
		}
		if err := binary.Read(rdr.reader, rdr.ByteOrder, &length); err != nil {
			return errStataTruncated
		}

		if len(vo) == 12 {
			copy(vo8[0:2], vo[0:2])
			copy(vo8[2:8], vo[4:10])
		} else {
			copy(vo8, vo)
		}
		ptr := rdr.ByteOrder.Uint64(vo8)

		buf := make([]byte, length)
		if err := rdr.readFull(buf); err != nil {
			return err
		}

		switch t {
		case 130:
			rdr.Strls[ptr] = string(partition(buf))
		case 129:
			rdr.Strls[ptr] = string(buf)
		default:
			return fmt.Errorf("unknown stata strl type %d", t)
		}
	}
	return nil
}

// Read returns the given number of rows of data from the Stata data
// file.  The data are returned as an array of Column objects.  If
// rows is negative, the remainder of the file is read.  io.EOF is
// returned when there are no more rows.
func (rdr *StataReader) Read(rows int) ([]*Column, error) {

	nval := rdr.rowCount - rdr.rowsRead
	if nval <= 0 {
		return nil, io.EOF
	}
	if rows >= 0 && nval > rows {
		nval = rows
	}

	if !rdr.dataSeeked {
		if _, err := rdr.reader.Seek(rdr.dataStart, io.SeekStart); err != nil {
			return nil, err
		}
		rdr.dataSeeked = true
	}

	data := make([]interface{}, rdr.Nvar)
	missing := make([][]bool, rdr.Nvar)
	for j, t := range rdr.varTypes {
		missing[j] = make([]bool, nval)
		switch {
		default:
			return nil, fmt.Errorf("unknown stata variable type: %v", t)
		case t <= 2045:
			data[j] = make([]string, nval)
		case t == stataStrL:
			data[j] = make([]string, nval)
		case t == stataDouble:
			data[j] = make([]float64, nval)
		case t == stataFloat:
			data[j] = make([]float32, nval)
		case t == stataLong:
			data[j] = make([]int32, nval)
		case t == stataInt:
			data[j] = make([]int16, nval)
		case t == stataByte:
			data[j] = make([]int8, nval)
		}
	}

	buf := make([]byte, 2045)
	buf8 := make([]byte, 8)
	for i := 0; i < nval; i++ {
		for j, t := range rdr.varTypes {
			var err error
			switch {
			case t <= 2045:
				err = rdr.readFull(buf[0:t])
				data[j].([]string)[i] = string(partition(buf[0:t]))
			case t == stataStrL:
				// The strl pointer is a 2 byte integer followed by a 6 byte
				// integer, or 4 + 4, depending on the version.
				err = rdr.readFull(buf8)
				if rdr.InsertStrls {
					data[j].([]string)[i] = rdr.Strls[rdr.ByteOrder.Uint64(buf8)]
				} else {
					data[j].([]string)[i] = strconv.FormatUint(rdr.ByteOrder.Uint64(buf8), 10)
				}
			case t == stataDouble:
				var x float64
				err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
				data[j].([]float64)[i] = x
				// The documented dta lower bound is out of range.
				missing[j][i] = x > 8.988e307 || x < -8.988e307
			case t == stataFloat:
				var x float32
				err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
				data[j].([]float32)[i] = x
				missing[j][i] = x > 1.701e38 || x < -1.701e38
			case t == stataLong:
				var x int32
				err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
				data[j].([]int32)[i] = x
				missing[j][i] = x > 2147483620 || x < -2147483647
			case t == stataInt:
				var x int16
				err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
				data[j].([]int16)[i] = x
				missing[j][i] = x > 32740 || x < -32767
			case t == stataByte:
				var x int8
				err = binary.Read(rdr.reader, rdr.ByteOrder, &x)
				data[j].([]int8)[i] = x
				missing[j][i] = x < -127 || x > 100
			}
			if err != nil {
				return nil, errStataTruncated
			}
		}
		rdr.rowsRead++
	}

	if rdr.InsertCategoryLabels {
		for j := 0; j < rdr.Nvar; j++ {
			mp, ok := rdr.ValueLabels[rdr.ValueLabelNames[j]]
			if !ok {
				continue
			}
			idat, err := upcastNumeric(data[j])
			if err != nil {
				return nil, fmt.Errorf("non-integer value label indices: %w", err)
			}
			newdata := make([]string, nval)
			for i := 0; i < nval; i++ {
				if missing[j][i] {
					continue
				}
				if v, ok := mp[int32(idat[i])]; ok {
					newdata[i] = v
				} else {
					newdata[i] = strconv.FormatFloat(idat[i], 'f', -1, 64)
				}
			}
			data[j] = newdata
		}
	}

	if rdr.ConvertDates {
		for j := range data {
			if !rdr.isDate[j] {
				continue
			}
			if _, ok := data[j].([]string); ok {
				continue
			}
			dates, err := convertStataDates(data[j], rdr.Formats[j])
			if err != nil {
				return nil, err
			}
			data[j] = dates
		}
	}

	rdata := make([]*Column, len(data))
	for j, v := range data {
		var err error
		rdata[j], err = NewColumn(rdr.columnNames[j], v, missing[j])
		if err != nil {
			return nil, err
		}
	}

	return rdata, nil
}

func convertStataDates(v interface{}, format string) ([]time.Time, error) {

	vec, err := upcastNumeric(v)
	if err != nil {
		return nil, fmt.Errorf("unable to handle type %T in date vector", v)
	}

	var tq time.Duration
	switch {
	case strings.HasPrefix(format, "%td"):
		tq = time.Hour * 24
	case strings.HasPrefix(format, "%tc"):
		tq = time.Millisecond
	default:
		return nil, fmt.Errorf("unable to handle date format %s", format)
	}

	bt := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	rvec := make([]time.Time, len(vec))
	for j, x := range vec {
		rvec[j] = bt.Add(time.Duration(x) * tq)
	}

	return rvec, nil
}
