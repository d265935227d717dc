package surveyeda

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
)

// savVar describes one dictionary variable of a test system file.
// Very long strings are written as their separate segments.
type savVar struct {
	name    string
	width   int
	label   string
	missing []float64

	// If set, missing holds a low, high range and an optional
	// discrete value.
	missingRange bool
}

func (v savVar) slots() int {
	if v.width == 0 {
		return 1
	}
	return (v.width + 7) / 8
}

type savLabelSet struct {
	values []float64
	labels []string
	vars   []string
}

// savFile builds SPSS system files for tests.
type savFile struct {
	order        binary.ByteOrder
	compressed   bool
	unknownCount bool
	product      string
	fileLabel    string
	vars         []savVar
	labelSets    []savLabelSet
	longNames    string
	veryLong     string
	encoding     string
	charCode     int
	documents    []string

	// One value per variable: float64, nil for system-missing, or
	// string.
	rows [][]interface{}
}

func (f *savFile) bo() binary.ByteOrder {
	if f.order == nil {
		return binary.LittleEndian
	}
	return f.order
}

func (f *savFile) bytes() []byte {

	var b bytes.Buffer
	bo := f.bo()
	i32 := func(x int) {
		var buf [4]byte
		bo.PutUint32(buf[:], uint32(int32(x)))
		b.Write(buf[:])
	}
	f64 := func(x float64) {
		var buf [8]byte
		bo.PutUint64(buf[:], math.Float64bits(x))
		b.Write(buf[:])
	}
	padded := func(s string, n int) {
		b.WriteString((s + strings.Repeat(" ", n))[0:n])
	}

	nslots := 0
	for _, v := range f.vars {
		nslots += v.slots()
	}

	// Header
	b.WriteString("$FL2")
	padded("@(#) SPSS DATA FILE "+f.product, 60)
	i32(2)
	i32(nslots)
	if f.compressed {
		i32(1)
	} else {
		i32(0)
	}
	i32(0)
	if f.unknownCount {
		i32(-1)
	} else {
		i32(len(f.rows))
	}
	f64(100)
	padded("01 Jan 24", 9)
	padded("10:00:00", 8)
	padded(f.fileLabel, 64)
	b.Write([]byte{0, 0, 0})

	// Variables
	for _, v := range f.vars {
		i32(2)
		i32(v.width)
		if v.label != "" {
			i32(1)
		} else {
			i32(0)
		}
		switch {
		case v.missingRange:
			i32(-len(v.missing))
		default:
			i32(len(v.missing))
		}
		i32(0x050800)
		i32(0x050800)
		padded(v.name, 8)
		if v.label != "" {
			i32(len(v.label))
			n := (len(v.label) + 3) / 4 * 4
			b.WriteString(v.label + strings.Repeat(" ", n-len(v.label)))
		}
		for _, m := range v.missing {
			f64(m)
		}
		for k := 1; k < v.slots(); k++ {
			i32(2)
			i32(-1)
			i32(0)
			i32(0)
			i32(0)
			i32(0)
			padded("", 8)
		}
	}

	// Value labels
	for _, ls := range f.labelSets {
		i32(3)
		i32(len(ls.values))
		for k, x := range ls.values {
			f64(x)
			lab := ls.labels[k]
			b.WriteByte(byte(len(lab)))
			n := (len(lab)+8)/8*8 - 1
			b.WriteString(lab + strings.Repeat(" ", n-len(lab)))
		}
		i32(4)
		i32(len(ls.vars))
		for _, na := range ls.vars {
			i32(f.slotIndex(na))
		}
	}

	if len(f.documents) > 0 {
		i32(6)
		i32(len(f.documents))
		for _, d := range f.documents {
			padded(d, 80)
		}
	}

	extension := func(subtype, size int, data []byte) {
		i32(7)
		i32(subtype)
		i32(size)
		i32(len(data) / size)
		b.Write(data)
	}

	if f.charCode != 0 {
		data := make([]byte, 32)
		bo.PutUint32(data[28:32], uint32(f.charCode))
		extension(3, 4, data)
	}
	if f.longNames != "" {
		extension(13, 1, []byte(f.longNames))
	}
	if f.veryLong != "" {
		extension(14, 1, []byte(f.veryLong))
	}
	if f.encoding != "" {
		extension(20, 1, []byte(f.encoding))
	}

	i32(999)
	i32(0)

	// Data
	if f.compressed {
		f.writeCompressed(&b)
	} else {
		for _, row := range f.rows {
			for j, v := range f.vars {
				b.Write(f.element(v, row[j]))
			}
		}
	}

	return b.Bytes()
}

// slotIndex returns the 1-based dictionary index of a variable.
func (f *savFile) slotIndex(name string) int {
	ix := 1
	for _, v := range f.vars {
		if v.name == name {
			return ix
		}
		ix += v.slots()
	}
	panic("unknown variable " + name)
}

// element returns the uncompressed bytes of one value.
func (f *savFile) element(v savVar, x interface{}) []byte {
	if v.width == 0 {
		val := -math.MaxFloat64
		if x != nil {
			val = x.(float64)
		}
		buf := make([]byte, 8)
		f.bo().PutUint64(buf, math.Float64bits(val))
		return buf
	}
	n := v.slots() * 8
	s := x.(string)
	return []byte(s + strings.Repeat(" ", n-len(s)))
}

func (f *savFile) writeCompressed(b *bytes.Buffer) {

	var cmds []byte
	var raws [][]byte
	flush := func() {
		for len(cmds) < 8 {
			cmds = append(cmds, 0)
		}
		b.Write(cmds)
		for _, r := range raws {
			b.Write(r)
		}
		cmds, raws = cmds[:0], raws[:0]
	}
	emit := func(code byte, raw []byte) {
		cmds = append(cmds, code)
		if raw != nil {
			raws = append(raws, raw)
		}
		if len(cmds) == 8 {
			flush()
		}
	}

	for _, row := range f.rows {
		for j, v := range f.vars {
			if v.width == 0 {
				switch {
				case row[j] == nil:
					emit(255, nil)
				case isBiasable(row[j].(float64)):
					emit(byte(row[j].(float64)+100), nil)
				default:
					emit(253, f.element(v, row[j]))
				}
				continue
			}
			el := f.element(v, row[j])
			for k := 0; k < len(el); k += 8 {
				chunk := el[k : k+8]
				if string(chunk) == "        " {
					emit(254, nil)
				} else {
					emit(253, chunk)
				}
			}
		}
	}

	emit(252, nil)
	if len(cmds) > 0 {
		flush()
	}
}

func isBiasable(x float64) bool {
	return x == math.Trunc(x) && x >= -99 && x <= 151
}
