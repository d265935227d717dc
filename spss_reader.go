package surveyeda

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Dictionary record types.
const (
	spssVariableRecord   = 2
	spssValueLabelRecord = 3
	spssLabelIndexRecord = 4
	spssDocumentRecord   = 6
	spssExtensionRecord  = 7
	spssEndRecord        = 999
)

// Extension record subtypes that are interpreted.
const (
	spssIntegerInfo       = 3
	spssFloatInfo         = 4
	spssLongNames         = 13
	spssVeryLongStrings   = 14
	spssCharacterEncoding = 20
)

// Compression codes found in the file header.
const (
	spssUncompressed = 0
	spssBytecode     = 1
	spssZlib         = 2
)

const (
	spssHeaderLength = 176

	// Largest dictionary record accepted, to protect against
	// corrupt length fields.
	spssMaxRecordBytes = 1 << 26

	// Bytes of a very long string carried by each full segment.
	spssSegmentBytes = 252
)

var errSPSSTruncated = errors.New("spss file appears to be truncated")

// An SPSSReader reads SPSS system (sav) files.  Uncompressed and
// bytecode-compressed files in either byte order can be read.
//
// The Read method reads and returns the data.  Several fields of the
// SPSSReader struct may also be of interest.
//
// The record layout follows the PSPP description of the system file
// format: https://www.gnu.org/software/pspp/pspp-dev/html_node/System-File-Format.html
type SPSSReader struct {

	// If true, coded numeric values are replaced with their value
	// labels when available.  The default keeps the numeric codes.
	InsertCategoryLabels bool

	// If true, values declared as user-missing in the dictionary
	// are returned as missing, in addition to system-missing values.
	MarkUserMissing bool

	// The product that wrote the file.
	ProductName string

	// A short text label for the data set.
	FileLabel string

	// Creation date and time, as recorded in the header.
	CreationDate string
	CreationTime string

	// Compression code from the header.
	Compression int

	// The character encoding used for text in the file, empty if
	// the file does not declare one.
	Encoding string

	// The endian-ness of the file
	ByteOrder binary.ByteOrder

	// Variable labels, parallel to ColumnNames.
	ColumnLabels []string

	// Value labels of numeric variables, by column name.
	ValueLabels map[string]map[float64]string

	// Lines of the document record.
	Documents []string

	// Number of cases, -1 if the header does not say.
	rowCount int

	// The number of rows of data that have been read.
	rowsRead int

	// Number of 8-byte elements per case.
	caseSize int

	bias    float64
	sysmis  float64
	highest float64
	lowest  float64

	characterCode int

	// Raw dictionary entries, one per variable record that is not
	// a string continuation.
	vars []*spssVar

	// Logical columns, after very long string segments are merged.
	columns []*spssColumn

	// Value label sets and the dictionary indices they apply to.
	labelSets []spssLabelSet

	longNames map[string]string
	vlsWidths map[string]int

	rawProduct []byte
	rawLabel   []byte

	decoder *encoding.Decoder

	// Bytecode state
	cmd      [8]byte
	cmdPos   int
	finished bool

	reader *bufio.Reader
}

type spssVar struct {
	shortName string
	rawName   []byte
	rawLabel  []byte
	width     int
	slots     int
	index     int
	nMissing  int
	missing   []float64
	missRaw   [][]byte
}

type spssColumn struct {
	name     string
	width    int
	label    string
	segments []*spssVar
	labels   map[float64]string
}

type spssLabelSet struct {
	values  [][]byte
	labels  [][]byte
	indices []int
}

// NewSPSSReader returns an SPSSReader for reading from the given io
// channel.  The dictionary is read immediately.
func NewSPSSReader(r io.Reader) (*SPSSReader, error) {

	rdr := new(SPSSReader)
	rdr.reader = bufio.NewReader(r)
	rdr.MarkUserMissing = true
	rdr.rowCount = -1
	rdr.sysmis = -math.MaxFloat64
	rdr.highest = math.MaxFloat64
	rdr.lowest = math.Nextafter(-math.MaxFloat64, 0)
	rdr.cmdPos = 8

	if err := rdr.init(); err != nil {
		return nil, err
	}
	return rdr, nil
}

// RowCount returns the number of rows in the data set, or -1 if the
// file header does not record it.
func (rdr *SPSSReader) RowCount() int {
	return rdr.rowCount
}

// ColumnNames returns the names of the columns in the data file.
func (rdr *SPSSReader) ColumnNames() []string {
	names := make([]string, len(rdr.columns))
	for j, c := range rdr.columns {
		names[j] = c.name
	}
	return names
}

// ColumnTypes returns the width of each column: 0 for numeric
// columns, the string width in bytes otherwise.
func (rdr *SPSSReader) ColumnTypes() []int {
	types := make([]int, len(rdr.columns))
	for j, c := range rdr.columns {
		types[j] = c.width
	}
	return types
}

func (rdr *SPSSReader) init() error {

	if err := rdr.readHeader(); err != nil {
		return err
	}

	if err := rdr.readDictionary(); err != nil {
		return err
	}

	rdr.setDecoder()

	return rdr.buildColumns()
}

func (rdr *SPSSReader) readHeader() error {

	buf := make([]byte, spssHeaderLength)
	if _, err := io.ReadFull(rdr.reader, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errSPSSTruncated
		}
		return err
	}

	switch string(buf[0:4]) {
	case "$FL2":
	case "$FL3":
		return fmt.Errorf("%w: zlib compressed spss file", ErrUnsupportedFormat)
	default:
		return errors.New("not an spss system file")
	}

	// The layout code is 2 or 3, and tells us the byte order.
	rdr.ByteOrder = binary.LittleEndian
	if lc := binary.LittleEndian.Uint32(buf[64:68]); lc != 2 && lc != 3 {
		rdr.ByteOrder = binary.BigEndian
		if lc := binary.BigEndian.Uint32(buf[64:68]); lc != 2 && lc != 3 {
			return fmt.Errorf("invalid spss layout code %d", lc)
		}
	}

	bo := rdr.ByteOrder
	rdr.rawProduct = buf[4:64]
	rdr.caseSize = int(int32(bo.Uint32(buf[68:72])))
	rdr.Compression = int(int32(bo.Uint32(buf[72:76])))
	rdr.rowCount = int(int32(bo.Uint32(buf[80:84])))
	rdr.bias = math.Float64frombits(bo.Uint64(buf[84:92]))
	rdr.CreationDate = string(buf[92:101])
	rdr.CreationTime = string(buf[101:109])
	rdr.rawLabel = buf[109:173]

	switch rdr.Compression {
	case spssUncompressed, spssBytecode:
	case spssZlib:
		return fmt.Errorf("%w: zlib compressed spss file", ErrUnsupportedFormat)
	default:
		return fmt.Errorf("%w: spss compression code %d", ErrUnsupportedFormat, rdr.Compression)
	}

	if rdr.rowCount < 0 {
		rdr.rowCount = -1
	}

	return nil
}

func (rdr *SPSSReader) readInt32() (int, error) {
	var x int32
	if err := binary.Read(rdr.reader, rdr.ByteOrder, &x); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, errSPSSTruncated
		}
		return 0, err
	}
	return int(x), nil
}

func (rdr *SPSSReader) readBytes(n int) ([]byte, error) {
	if n < 0 || n > spssMaxRecordBytes {
		return nil, fmt.Errorf("invalid spss record length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rdr.reader, b); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errSPSSTruncated
		}
		return nil, err
	}
	return b, nil
}

func (rdr *SPSSReader) readDictionary() error {

	nslots := 0
	for {
		rt, err := rdr.readInt32()
		if err != nil {
			return err
		}

		switch rt {
		default:
			return fmt.Errorf("unknown spss record type %d", rt)
		case spssVariableRecord:
			nslots++
			if err := rdr.readVariable(nslots); err != nil {
				return err
			}
		case spssValueLabelRecord:
			if err := rdr.readValueLabels(); err != nil {
				return err
			}
		case spssDocumentRecord:
			if err := rdr.readDocument(); err != nil {
				return err
			}
		case spssExtensionRecord:
			if err := rdr.readExtension(); err != nil {
				return err
			}
		case spssEndRecord:
			// Filler
			_, err := rdr.readInt32()
			return err
		}
	}
}

func (rdr *SPSSReader) readVariable(index int) error {

	var hdr [5]int32
	if err := binary.Read(rdr.reader, rdr.ByteOrder, &hdr); err != nil {
		return errSPSSTruncated
	}
	name, err := rdr.readBytes(8)
	if err != nil {
		return err
	}

	width := int(hdr[0])
	hasLabel := hdr[1]
	nMissing := int(hdr[2])

	v := &spssVar{
		rawName:  name,
		width:    width,
		slots:    1,
		index:    index,
		nMissing: nMissing,
	}

	if hasLabel == 1 {
		n, err := rdr.readInt32()
		if err != nil {
			return err
		}
		b, err := rdr.readBytes((n + 3) / 4 * 4)
		if err != nil {
			return err
		}
		v.rawLabel = b[0:n]
	}

	if nMissing != 0 {
		k := nMissing
		if k < 0 {
			k = -k
		}
		if k > 3 {
			return fmt.Errorf("invalid spss missing value count %d", nMissing)
		}
		for i := 0; i < k; i++ {
			b, err := rdr.readBytes(8)
			if err != nil {
				return err
			}
			v.missing = append(v.missing, math.Float64frombits(rdr.ByteOrder.Uint64(b)))
			v.missRaw = append(v.missRaw, b)
		}
	}

	if width == -1 {
		// Continuation of the previous string variable.
		if len(rdr.vars) == 0 {
			return errors.New("spss string continuation without a variable")
		}
		rdr.vars[len(rdr.vars)-1].slots++
		return nil
	}

	if width < 0 || width > 255 {
		return fmt.Errorf("invalid spss variable width %d", width)
	}

	rdr.vars = append(rdr.vars, v)
	return nil
}

func (rdr *SPSSReader) readValueLabels() error {

	n, err := rdr.readInt32()
	if err != nil {
		return err
	}
	if n < 0 || n > spssMaxRecordBytes/8 {
		return fmt.Errorf("invalid spss value label count %d", n)
	}

	var ls spssLabelSet
	for k := 0; k < n; k++ {
		val, err := rdr.readBytes(8)
		if err != nil {
			return err
		}
		lb, err := rdr.readBytes(1)
		if err != nil {
			return err
		}
		m := int(lb[0])
		// Label length byte plus text is padded to a multiple of 8.
		text, err := rdr.readBytes((m+8)/8*8 - 1)
		if err != nil {
			return err
		}
		ls.values = append(ls.values, val)
		ls.labels = append(ls.labels, text[0:m])
	}

	rt, err := rdr.readInt32()
	if err != nil {
		return err
	}
	if rt != spssLabelIndexRecord {
		return fmt.Errorf("spss value labels followed by record type %d", rt)
	}

	nv, err := rdr.readInt32()
	if err != nil {
		return err
	}
	if nv < 0 || nv > spssMaxRecordBytes/4 {
		return fmt.Errorf("invalid spss label variable count %d", nv)
	}
	for k := 0; k < nv; k++ {
		ix, err := rdr.readInt32()
		if err != nil {
			return err
		}
		ls.indices = append(ls.indices, ix)
	}

	rdr.labelSets = append(rdr.labelSets, ls)
	return nil
}

func (rdr *SPSSReader) readDocument() error {

	n, err := rdr.readInt32()
	if err != nil {
		return err
	}
	b, err := rdr.readBytes(80 * n)
	if err != nil {
		return err
	}
	for k := 0; k < n; k++ {
		rdr.Documents = append(rdr.Documents, strings.TrimRight(string(b[80*k:80*(k+1)]), " "))
	}
	return nil
}

func (rdr *SPSSReader) readExtension() error {

	subtype, err := rdr.readInt32()
	if err != nil {
		return err
	}
	size, err := rdr.readInt32()
	if err != nil {
		return err
	}
	count, err := rdr.readInt32()
	if err != nil {
		return err
	}
	if size < 0 || count < 0 || (size > 0 && count > spssMaxRecordBytes/size) {
		return fmt.Errorf("invalid spss extension record size %d x %d", size, count)
	}
	data, err := rdr.readBytes(size * count)
	if err != nil {
		return err
	}

	bo := rdr.ByteOrder
	switch subtype {
	case spssIntegerInfo:
		if size == 4 && count >= 8 {
			rdr.characterCode = int(int32(bo.Uint32(data[28:32])))
		}
	case spssFloatInfo:
		if size == 8 && count >= 3 {
			rdr.sysmis = math.Float64frombits(bo.Uint64(data[0:8]))
			rdr.highest = math.Float64frombits(bo.Uint64(data[8:16]))
			rdr.lowest = math.Float64frombits(bo.Uint64(data[16:24]))
		}
	case spssLongNames:
		rdr.longNames = parseSPSSPairs(data)
	case spssVeryLongStrings:
		rdr.vlsWidths = make(map[string]int)
		for k, v := range parseSPSSPairs(data) {
			w, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid spss very long string width %q", v)
			}
			rdr.vlsWidths[k] = w
		}
	case spssCharacterEncoding:
		rdr.Encoding = strings.TrimRight(string(data), "\x00 ")
	}

	return nil
}

// parseSPSSPairs splits the KEY=VALUE<tab>... text of an extension
// record.
func parseSPSSPairs(data []byte) map[string]string {

	pairs := make(map[string]string)
	for _, tok := range strings.Split(string(data), "\t") {
		tok = strings.Trim(tok, "\x00")
		i := strings.Index(tok, "=")
		if i <= 0 {
			continue
		}
		pairs[strings.TrimSpace(tok[0:i])] = tok[i+1:]
	}
	return pairs
}

// setDecoder chooses how text in the file is converted to UTF-8.
func (rdr *SPSSReader) setDecoder() {

	name := rdr.Encoding
	if name == "" {
		name = spssCodePage(rdr.characterCode)
	}
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return
	}
	rdr.decoder = enc.NewDecoder()
}

// spssCodePage maps the character code of the integer info record
// to an encoding name.  An empty name means no conversion.
func spssCodePage(code int) string {
	switch {
	case code >= 1250 && code <= 1258:
		return fmt.Sprintf("windows-%d", code)
	case code >= 28591 && code <= 28605:
		return fmt.Sprintf("iso-8859-%d", code-28590)
	default:
		return ""
	}
}

// decode converts raw file text to a Go string.
func (rdr *SPSSReader) decode(b []byte) string {
	if rdr.decoder != nil {
		if u, err := rdr.decoder.Bytes(b); err == nil {
			return string(u)
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

func (rdr *SPSSReader) buildColumns() error {

	rdr.ProductName = strings.TrimSpace(rdr.decode(rdr.rawProduct))
	rdr.FileLabel = strings.TrimSpace(rdr.decode(rdr.rawLabel))

	for _, v := range rdr.vars {
		v.shortName = strings.TrimRight(rdr.decode(v.rawName), " ")
	}

	byIndex := make(map[int]*spssColumn)
	for i := 0; i < len(rdr.vars); i++ {
		v := rdr.vars[i]
		col := &spssColumn{
			name:     v.shortName,
			width:    v.width,
			label:    rdr.decode(v.rawLabel),
			segments: []*spssVar{v},
		}

		if w, ok := rdr.vlsWidths[v.shortName]; ok && w > 255 {
			nseg := (w + spssSegmentBytes - 1) / spssSegmentBytes
			if i+nseg > len(rdr.vars) {
				return fmt.Errorf("spss very long string %s has too few segments", v.shortName)
			}
			col.segments = rdr.vars[i : i+nseg]
			col.width = w
			i += nseg - 1
		}

		if ln, ok := rdr.longNames[v.shortName]; ok && ln != "" {
			col.name = rdr.decode([]byte(ln))
		}

		byIndex[v.index] = col
		rdr.columns = append(rdr.columns, col)
	}

	rdr.ColumnLabels = make([]string, len(rdr.columns))
	for j, c := range rdr.columns {
		rdr.ColumnLabels[j] = c.label
	}

	rdr.ValueLabels = make(map[string]map[float64]string)
	for _, ls := range rdr.labelSets {
		for _, ix := range ls.indices {
			col, ok := byIndex[ix]
			if !ok || col.width != 0 {
				continue
			}
			if col.labels == nil {
				col.labels = make(map[float64]string)
			}
			for k, raw := range ls.values {
				x := math.Float64frombits(rdr.ByteOrder.Uint64(raw))
				col.labels[x] = strings.TrimRight(rdr.decode(ls.labels[k]), " ")
			}
			rdr.ValueLabels[col.name] = col.labels
		}
	}

	return nil
}

// nextElement places the next 8-byte data element in elem.  It
// returns io.EOF when the data are exhausted.
func (rdr *SPSSReader) nextElement(elem []byte) error {

	if rdr.finished {
		return io.EOF
	}

	if rdr.Compression == spssUncompressed {
		_, err := io.ReadFull(rdr.reader, elem)
		if err == io.ErrUnexpectedEOF {
			return errSPSSTruncated
		}
		return err
	}

	for {
		if rdr.cmdPos >= 8 {
			_, err := io.ReadFull(rdr.reader, rdr.cmd[:])
			if err == io.ErrUnexpectedEOF {
				return errSPSSTruncated
			} else if err != nil {
				return err
			}
			rdr.cmdPos = 0
		}

		code := rdr.cmd[rdr.cmdPos]
		rdr.cmdPos++

		switch code {
		case 0:
			continue
		case 252:
			rdr.finished = true
			return io.EOF
		case 253:
			_, err := io.ReadFull(rdr.reader, elem)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return errSPSSTruncated
			}
			return err
		case 254:
			copy(elem, "        ")
		case 255:
			rdr.ByteOrder.PutUint64(elem, math.Float64bits(rdr.sysmis))
		default:
			rdr.ByteOrder.PutUint64(elem, math.Float64bits(float64(code)-rdr.bias))
		}
		return nil
	}
}

// isMissing reports whether numeric value x of the given column is
// system- or user-missing.
func (rdr *SPSSReader) isMissing(col *spssColumn, x float64) bool {

	if x == rdr.sysmis || math.IsNaN(x) {
		return true
	}

	if !rdr.MarkUserMissing {
		return false
	}

	v := col.segments[0]
	switch {
	case v.nMissing > 0:
		for _, m := range v.missing {
			if x == m {
				return true
			}
		}
	case v.nMissing == -2 || v.nMissing == -3:
		lo, hi := v.missing[0], v.missing[1]
		if lo <= rdr.lowest {
			lo = math.Inf(-1)
		}
		if hi >= rdr.highest {
			hi = math.Inf(1)
		}
		if x >= lo && x <= hi {
			return true
		}
		if v.nMissing == -3 && x == v.missing[2] {
			return true
		}
	}

	return false
}

func (rdr *SPSSReader) isMissingString(col *spssColumn, s string) bool {

	if !rdr.MarkUserMissing || col.width > 8 {
		return false
	}
	for _, raw := range col.segments[0].missRaw {
		if strings.TrimRight(rdr.decode(raw), " ") == s {
			return true
		}
	}
	return false
}

// readRow appends one case to data and missing.  It returns io.EOF if
// there are no more cases.
func (rdr *SPSSReader) readRow(data []interface{}, missing [][]bool, elem, buf []byte) ([]byte, error) {

	first := true
	next := func() error {
		err := rdr.nextElement(elem)
		if err == io.EOF && !first {
			return errSPSSTruncated
		}
		first = false
		return err
	}

	for j, col := range rdr.columns {
		if col.width == 0 {
			if err := next(); err != nil {
				return buf, err
			}
			x := math.Float64frombits(rdr.ByteOrder.Uint64(elem))
			miss := rdr.isMissing(col, x)
			if miss {
				x = math.NaN()
			}
			data[j] = append(data[j].([]float64), x)
			missing[j] = append(missing[j], miss)
			continue
		}

		buf = buf[:0]
		for k, seg := range col.segments {
			take := seg.width
			if k < len(col.segments)-1 {
				take = spssSegmentBytes
			}
			start := len(buf)
			for s := 0; s < seg.slots; s++ {
				if err := next(); err != nil {
					return buf, err
				}
				buf = append(buf, elem...)
			}
			if start+take < len(buf) {
				buf = buf[:start+take]
			}
		}
		str := strings.TrimRight(rdr.decode(buf), " ")
		data[j] = append(data[j].([]string), str)
		missing[j] = append(missing[j], rdr.isMissingString(col, str))
	}

	return buf, nil
}

// Read returns up to the given number of rows of data from the SPSS
// file as an array of Column objects.  If rows is negative, the
// remainder of the file is read.  io.EOF is returned when there are
// no more rows.
func (rdr *SPSSReader) Read(rows int) ([]*Column, error) {

	nval := rows
	if rdr.rowCount >= 0 {
		remain := rdr.rowCount - rdr.rowsRead
		if remain <= 0 {
			return nil, io.EOF
		}
		if nval < 0 || nval > remain {
			nval = remain
		}
	}

	ncol := len(rdr.columns)
	data := make([]interface{}, ncol)
	missing := make([][]bool, ncol)
	capacity := nval
	if capacity < 0 || capacity > 1<<16 {
		capacity = 1 << 10
	}
	for j, col := range rdr.columns {
		if col.width == 0 {
			data[j] = make([]float64, 0, capacity)
		} else {
			data[j] = make([]string, 0, capacity)
		}
		missing[j] = make([]bool, 0, capacity)
	}

	elem := make([]byte, 8)
	buf := make([]byte, 0, 256)
	nread := 0
	for nval < 0 || nread < nval {
		var err error
		buf, err = rdr.readRow(data, missing, elem, buf)
		if err == io.EOF {
			if rdr.rowCount >= 0 {
				return nil, errSPSSTruncated
			}
			break
		} else if err != nil {
			return nil, err
		}
		nread++
		rdr.rowsRead++
	}

	if nread == 0 {
		return nil, io.EOF
	}

	if rdr.InsertCategoryLabels {
		for j, col := range rdr.columns {
			if col.labels != nil {
				data[j] = applyValueLabels(data[j].([]float64), missing[j], col.labels)
			}
		}
	}

	rdata := make([]*Column, ncol)
	for j, col := range rdr.columns {
		var err error
		rdata[j], err = NewColumn(col.name, data[j], missing[j])
		if err != nil {
			return nil, err
		}
	}

	return rdata, nil
}

// applyValueLabels replaces codes with their labels.  Codes without
// a label are formatted as numbers.
func applyValueLabels(x []float64, missing []bool, labels map[float64]string) []string {

	s := make([]string, len(x))
	for i, v := range x {
		if missing[i] {
			continue
		}
		if lab, ok := labels[v]; ok {
			s[i] = lab
		} else {
			s[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return s
}

// SortedValueLabels returns the labelled codes of a column in
// increasing order, for display.
func (rdr *SPSSReader) SortedValueLabels(name string) []float64 {
	var codes []float64
	for k := range rdr.ValueLabels[name] {
		codes = append(codes, k)
	}
	sort.Float64s(codes)
	return codes
}
