package surveyeda

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dtaVar struct {
	name   string
	typ    int
	format string
	label  string
	vlname string
}

type dtaLabelTable struct {
	name   string
	values []int32
	labels []string
}

type dtaStrl struct {
	v, o  uint32
	value string
}

// dtaFile builds little-endian Stata files for tests.  Values are
// float64, int32, int16, int8, string, or a dtaStrl pointer.
type dtaFile struct {
	version int
	label   string
	vars    []dtaVar
	rows    [][]interface{}
	tables  []dtaLabelTable
	strls   []dtaStrl
}

func fixed(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func (f *dtaFile) writeValue(b *bytes.Buffer, v dtaVar, x interface{}) {
	le := binary.LittleEndian
	switch {
	case v.typ == stataStrL:
		p := x.(dtaStrl)
		_ = binary.Write(b, le, p.v)
		_ = binary.Write(b, le, p.o)
	case v.typ <= 2045:
		b.Write(fixed(x.(string), v.typ))
	default:
		_ = binary.Write(b, le, x)
	}
}

// oldType converts a type code to the pre-117 numbering.
func oldType(t int) byte {
	switch t {
	case stataDouble:
		return 255
	case stataFloat:
		return 254
	case stataLong:
		return 253
	case stataInt:
		return 252
	case stataByte:
		return 251
	default:
		return byte(t)
	}
}

func (f *dtaFile) bytes115() []byte {

	var b bytes.Buffer
	le := binary.LittleEndian
	nvar := len(f.vars)

	b.Write([]byte{byte(f.version), 2, 1, 0})
	_ = binary.Write(&b, le, int16(nvar))
	_ = binary.Write(&b, le, int32(len(f.rows)))
	b.Write(fixed(f.label, 81))
	b.Write(fixed("01 Jan 2024 10:00", 18))

	for _, v := range f.vars {
		b.WriteByte(oldType(v.typ))
	}
	for _, v := range f.vars {
		b.Write(fixed(v.name, 33))
	}
	b.Write(make([]byte, 2*(nvar+1)))
	for _, v := range f.vars {
		b.Write(fixed(v.format, 49))
	}
	for _, v := range f.vars {
		b.Write(fixed(v.vlname, 33))
	}
	for _, v := range f.vars {
		b.Write(fixed(v.label, 81))
	}
	b.Write([]byte{0, 0, 0, 0, 0})

	for _, row := range f.rows {
		for j, v := range f.vars {
			f.writeValue(&b, v, row[j])
		}
	}

	return b.Bytes()
}

func (f *dtaFile) bytes117() []byte {

	var b bytes.Buffer
	le := binary.LittleEndian
	nvar := len(f.vars)

	b.WriteString("<stata_dta><header><release>117</release><byteorder>LSF</byteorder><K>")
	_ = binary.Write(&b, le, int16(nvar))
	b.WriteString("</K><N>")
	_ = binary.Write(&b, le, int32(len(f.rows)))
	b.WriteString("</N><label>")
	b.WriteByte(byte(len(f.label)))
	b.WriteString(f.label)
	b.WriteString("</label><timestamp>")
	b.WriteByte(17)
	b.WriteString("01 Jan 2024 10:00")
	b.WriteString("</timestamp></header>")

	mapPos := b.Len()
	b.WriteString("<map>")
	offsets := make([]int64, 14)
	b.Write(make([]byte, 8*14))
	b.WriteString("</map>")

	offsets[2] = int64(b.Len())
	b.WriteString("<variable_types>")
	for _, v := range f.vars {
		_ = binary.Write(&b, le, uint16(v.typ))
	}
	b.WriteString("</variable_types>")

	offsets[3] = int64(b.Len())
	b.WriteString("<varnames>")
	for _, v := range f.vars {
		b.Write(fixed(v.name, 33))
	}
	b.WriteString("</varnames>")

	offsets[4] = int64(b.Len())
	b.WriteString("<sortlist>")
	b.Write(make([]byte, 2*(nvar+1)))
	b.WriteString("</sortlist>")

	offsets[5] = int64(b.Len())
	b.WriteString("<formats>")
	for _, v := range f.vars {
		b.Write(fixed(v.format, 49))
	}
	b.WriteString("</formats>")

	offsets[6] = int64(b.Len())
	b.WriteString("<value_label_names>")
	for _, v := range f.vars {
		b.Write(fixed(v.vlname, 33))
	}
	b.WriteString("</value_label_names>")

	offsets[7] = int64(b.Len())
	b.WriteString("<variable_labels>")
	for _, v := range f.vars {
		b.Write(fixed(v.label, 321))
	}
	b.WriteString("</variable_labels>")

	offsets[8] = int64(b.Len())
	b.WriteString("<characteristics></characteristics>")

	offsets[9] = int64(b.Len())
	b.WriteString("<data>")
	for _, row := range f.rows {
		for j, v := range f.vars {
			f.writeValue(&b, v, row[j])
		}
	}
	b.WriteString("</data>")

	offsets[10] = int64(b.Len())
	b.WriteString("<strls>")
	for _, s := range f.strls {
		b.WriteString("GSO")
		_ = binary.Write(&b, le, s.v)
		_ = binary.Write(&b, le, s.o)
		b.WriteByte(130)
		_ = binary.Write(&b, le, uint32(len(s.value)+1))
		b.WriteString(s.value)
		b.WriteByte(0)
	}
	b.WriteString("</strls>")

	offsets[11] = int64(b.Len())
	b.WriteString("<value_labels>")
	for _, tb := range f.tables {
		var text bytes.Buffer
		off := make([]int32, len(tb.values))
		for k, lab := range tb.labels {
			off[k] = int32(text.Len())
			text.WriteString(lab)
			text.WriteByte(0)
		}
		b.WriteString("<lbl>")
		_ = binary.Write(&b, le, int32(8+8*len(tb.values)+text.Len()))
		b.Write(fixed(tb.name, 33))
		b.Write([]byte{0, 0, 0})
		_ = binary.Write(&b, le, int32(len(tb.values)))
		_ = binary.Write(&b, le, int32(text.Len()))
		_ = binary.Write(&b, le, off)
		_ = binary.Write(&b, le, tb.values)
		b.Write(text.Bytes())
		b.WriteString("</lbl>")
	}
	b.WriteString("</value_labels>")

	offsets[12] = int64(b.Len())
	b.WriteString("</stata_dta>")
	offsets[13] = int64(b.Len())
	offsets[1] = int64(mapPos)

	out := b.Bytes()
	for k, o := range offsets {
		le.PutUint64(out[mapPos+5+8*k:], uint64(o))
	}
	return out
}

func TestStata115(t *testing.T) {
	f := &dtaFile{
		version: 115,
		label:   "Divorcios",
		vars: []dtaVar{
			{name: "edad", typ: stataDouble, format: "%9.0g", label: "Edad"},
			{name: "hijos", typ: stataLong, format: "%8.0g"},
			{name: "sexo", typ: stataByte, format: "%8.0g"},
			{name: "nombre", typ: 8, format: "%8s"},
			{name: "fecha", typ: stataLong, format: "%td"},
		},
		rows: [][]interface{}{
			{30.5, int32(2), int8(1), "Ana", int32(21915)},
			{math.MaxFloat64, int32(2147483621), int8(101), "Luis", int32(0)},
		},
	}

	rdr, err := NewStataReader(bytes.NewReader(f.bytes115()))
	require.NoError(t, err)
	assert.Equal(t, 115, rdr.FormatVersion)
	assert.Equal(t, "Divorcios", rdr.DatasetLabel)
	assert.Equal(t, 2, rdr.RowCount())
	assert.Equal(t, []string{"edad", "hijos", "sexo", "nombre", "fecha"}, rdr.ColumnNames())
	assert.Equal(t, []int{stataDouble, stataLong, stataByte, 8, stataLong}, rdr.ColumnTypes())
	assert.Equal(t, "Edad", rdr.ColumnNamesLong[0])

	cols, err := rdr.Read(-1)
	require.NoError(t, err)
	require.Len(t, cols, 5)

	assert.Equal(t, 30.5, cols[0].Data().([]float64)[0])
	assert.Equal(t, []bool{false, true}, cols[0].Missing())
	assert.Equal(t, []int32{2, 2147483621}, cols[1].Data())
	assert.Equal(t, []bool{false, true}, cols[1].Missing())
	assert.Equal(t, []bool{false, true}, cols[2].Missing())
	assert.Equal(t, []string{"Ana", "Luis"}, cols[3].Data())

	dates := cols[4].Data().([]time.Time)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), dates[0])
	assert.Equal(t, time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), dates[1])

	_, err = rdr.Read(-1)
	require.ErrorIs(t, err, io.EOF)
}

func TestStataChunks(t *testing.T) {
	f := &dtaFile{
		version: 114,
		vars:    []dtaVar{{name: "x", typ: stataInt, format: "%8.0g"}},
	}
	for i := 0; i < 7; i++ {
		f.rows = append(f.rows, []interface{}{int16(i)})
	}

	rdr, err := NewStataReader(bytes.NewReader(f.bytes115()))
	require.NoError(t, err)

	var sizes []int
	for {
		cols, err := rdr.Read(3)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, cols[0].Len())
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func stata117() *dtaFile {
	return &dtaFile{
		version: 117,
		label:   "Matrimonios",
		vars: []dtaVar{
			{name: "depto", typ: stataByte, format: "%8.0g", vlname: "deptolbl"},
			{name: "obs", typ: stataStrL, format: "%9s"},
			{name: "peso", typ: stataFloat, format: "%9.0g"},
		},
		rows: [][]interface{}{
			{int8(1), dtaStrl{v: 2, o: 1}, float32(60.5)},
			{int8(2), dtaStrl{v: 2, o: 2}, float32(72)},
			{int8(3), dtaStrl{}, float32(55)},
		},
		tables: []dtaLabelTable{
			{name: "deptolbl", values: []int32{1, 2}, labels: []string{"Guatemala", "El Progreso"}},
		},
		strls: []dtaStrl{
			{v: 2, o: 1, value: "primera"},
			{v: 2, o: 2, value: "segunda observación"},
		},
	}
}

func TestStata117(t *testing.T) {
	rdr, err := NewStataReader(bytes.NewReader(stata117().bytes117()))
	require.NoError(t, err)

	assert.Equal(t, 117, rdr.FormatVersion)
	assert.Equal(t, "Matrimonios", rdr.DatasetLabel)
	assert.Equal(t, "01 Jan 2024 10:00", rdr.TimeStamp)
	assert.Equal(t, []string{"depto", "obs", "peso"}, rdr.ColumnNames())
	assert.Equal(t, map[int32]string{1: "Guatemala", 2: "El Progreso"}, rdr.ValueLabels["deptolbl"])

	cols, err := rdr.Read(-1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Guatemala", "El Progreso", "3"}, cols[0].Data())
	assert.Equal(t, []string{"primera", "segunda observación", ""}, cols[1].Data())
	assert.Equal(t, []float32{60.5, 72, 55}, cols[2].Data())
}

func TestStataCodesThroughRegistry(t *testing.T) {
	rdr, err := OpenStatfile(".dta", bytes.NewReader(stata117().bytes117()))
	require.NoError(t, err)

	tbl, err := ReadTable(rdr)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, tbl.Column("depto").Data())
	assert.Equal(t, "float64", tbl.Column("peso").DType())
	assert.Equal(t, "object", tbl.Column("obs").DType())
}

func TestStataErrors(t *testing.T) {
	t.Run("unsupported version", func(t *testing.T) {
		f := &dtaFile{version: 113, vars: []dtaVar{{name: "x", typ: stataByte}}}
		_, err := NewStataReader(bytes.NewReader(f.bytes115()))
		require.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("not a stata file", func(t *testing.T) {
		_, err := NewStataReader(strings.NewReader("<html><body></body></html>"))
		require.Error(t, err)
	})

	t.Run("truncated data", func(t *testing.T) {
		f := &dtaFile{
			version: 115,
			vars:    []dtaVar{{name: "x", typ: stataDouble, format: "%9.0g"}},
			rows:    [][]interface{}{{1.0}, {2.0}},
		}
		b := f.bytes115()
		rdr, err := NewStataReader(bytes.NewReader(b[0 : len(b)-3]))
		require.NoError(t, err)
		_, err = rdr.Read(-1)
		require.ErrorIs(t, err, errStataTruncated)
	})
}
