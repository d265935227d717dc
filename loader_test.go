package surveyeda

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeSav(t *testing.T, dir, name string, f *savFile) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), f.bytes(), 0o644))
}

// numericSav returns a file with one numeric column per name, filled
// with the given values.
func numericSav(names []string, rows int, value func(i, j int) interface{}) *savFile {
	f := &savFile{compressed: true}
	for _, na := range names {
		f.vars = append(f.vars, savVar{name: na})
	}
	for i := 0; i < rows; i++ {
		row := make([]interface{}, len(names))
		for j := range names {
			row[j] = value(i, j)
		}
		f.rows = append(f.rows, row)
	}
	return f
}

func TestLoadRenameScenario(t *testing.T) {

	dir := t.TempDir()
	writeSav(t, dir, "datos_2019.sav", numericSav([]string{"X", "Y"}, 10, func(i, j int) interface{} {
		return float64(i + 10*j)
	}))
	writeSav(t, dir, "datos_2020.sav", numericSav([]string{"Y", "Z"}, 5, func(i, j int) interface{} {
		return float64(i + 1)
	}))

	ld := NewLoader(Schema{Extension: ".sav", Renames: map[string]string{"X": "X2"}}, nil)
	res, err := ld.Load(dir, "TEST")
	require.NoError(t, err)
	require.False(t, res.Absent())

	tbl := res.Table
	assert.Equal(t, 15, tbl.NumRows())
	assert.Equal(t, []string{"X2", "Y", ProvenanceColumn, "Z"}, tbl.Names())

	x2 := tbl.Column("X2")
	z := tbl.Column("Z")
	for i := 0; i < 15; i++ {
		assert.Equal(t, i >= 10, x2.IsMissing(i), "X2 row %d", i)
		assert.Equal(t, i < 10, z.IsMissing(i), "Z row %d", i)
	}

	src := tbl.Column(ProvenanceColumn).Data().([]string)
	assert.Equal(t, "datos_2019.sav", src[0])
	assert.Equal(t, "datos_2020.sav", src[14])

	assert.Equal(t, []FileResult{
		{Name: "datos_2019.sav", Rows: 10},
		{Name: "datos_2020.sav", Rows: 5},
	}, res.Files)
}

func TestLoadSentinels(t *testing.T) {

	values := []float64{1, 2, 99, 3, 999}
	dir := t.TempDir()
	writeSav(t, dir, "a2020.sav", numericSav([]string{"EDAD", "HIJOS"}, len(values), func(i, j int) interface{} {
		return values[i]
	}))

	res, err := NewLoader(DefaultSchema(), nil).Load(dir, "TEST")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Replaced)

	edad := res.Table.Column("EDAD")
	assert.Equal(t, []bool{false, false, true, false, true}, edad.Missing())
	x := edad.Data().([]float64)
	assert.Equal(t, []float64{1, 2, 3}, []float64{x[0], x[1], x[3]})
	assert.True(t, math.IsNaN(x[2]))

	// Scoped to one column.
	schema := DefaultSchema()
	schema.SentinelColumns = []string{"HIJOS"}
	res, err = NewLoader(schema, nil).Load(dir, "TEST")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Replaced)
	assert.Equal(t, 0, res.Table.Column("EDAD").CountMissing())
	assert.Equal(t, 2, res.Table.Column("HIJOS").CountMissing())
}

func TestLoadDiscovery(t *testing.T) {

	dir := t.TempDir()
	one := func(i, j int) interface{} { return 1.0 }
	writeSav(t, dir, "MATRIMONIOS_2021.SAV", numericSav([]string{"A"}, 2, one))
	writeSav(t, dir, "matrimonios_2019.sav", numericSav([]string{"A"}, 3, one))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notas.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "viejos.sav"), 0o755))

	res, err := NewLoader(DefaultSchema(), nil).Load(dir, "MATRIMONIOS")
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "matrimonios_2019.sav", res.Files[0].Name)
	assert.Equal(t, "MATRIMONIOS_2021.SAV", res.Files[1].Name)
	assert.Equal(t, 5, res.Table.NumRows())
}

func TestSortByYear(t *testing.T) {
	names := []string{"divorcios_2021.sav", "b.sav", "divorcios_2019.sav", "a.sav", "x1999.sav", "divorcios_2019b.sav"}
	SortByYear(names)
	assert.Equal(t, []string{"x1999.sav", "divorcios_2019.sav", "divorcios_2019b.sav", "divorcios_2021.sav", "a.sav", "b.sav"}, names)
}

func TestLoadNoFiles(t *testing.T) {

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leeme.txt"), []byte("x"), 0o644))

	res, err := NewLoader(DefaultSchema(), nil).Load(dir, "DIVORCIOS")
	require.ErrorIs(t, err, ErrNoFiles)
	require.NotNil(t, res)
	assert.True(t, res.Absent())
	assert.Empty(t, res.Files)
}

func TestLoadMissingFolder(t *testing.T) {
	res, err := NewLoader(DefaultSchema(), nil).Load(filepath.Join(t.TempDir(), "nada"), "DIVORCIOS")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoFiles))
	assert.Nil(t, res)
	assert.True(t, res.Absent())
}

func TestLoadAllFilesFail(t *testing.T) {

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roto_2019.sav"), []byte("not a survey file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roto_2020.sav"), []byte("$FL3"), 0o644))

	core, logs := observer.New(zapcore.InfoLevel)
	res, err := NewLoader(DefaultSchema(), zap.New(core)).Load(dir, "DIVORCIOS")

	require.ErrorIs(t, err, ErrNoFilesLoaded)
	require.NotNil(t, res)
	assert.True(t, res.Absent())
	require.Len(t, res.Files, 2)
	for _, fr := range res.Files {
		assert.False(t, fr.OK())
	}
	assert.Equal(t, 2, logs.FilterMessage("skipping survey file").Len())
}

func TestLoadPartialFailure(t *testing.T) {

	dir := t.TempDir()
	writeSav(t, dir, "bueno_2019.sav", numericSav([]string{"EDAD"}, 4, func(i, j int) interface{} { return 30.0 }))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roto_2020.sav"), []byte("garbage"), 0o644))

	// Renaming DEPTO onto an existing column fails for that file only.
	choque := numericSav([]string{"DEPTO", "DEPARTAM"}, 1, func(i, j int) interface{} { return 1.0 })
	choque.longNames = "DEPTO=DEPTO\tDEPARTAM=DEPARTAMENTO"
	writeSav(t, dir, "choque_2021.sav", choque)

	res, err := NewLoader(DefaultSchema(), nil).Load(dir, "MATRIMONIOS")
	require.NoError(t, err)
	require.Len(t, res.Files, 3)
	assert.True(t, res.Files[0].OK())
	assert.False(t, res.Files[1].OK())
	assert.False(t, res.Files[2].OK())
	assert.ErrorIs(t, res.Files[2].Err, ErrDuplicateColumn)
	assert.Equal(t, 4, res.Table.NumRows())
}

func TestLoadSentinelsMixedTypes(t *testing.T) {

	dir := t.TempDir()
	writeSav(t, dir, "a_2019.sav", numericSav([]string{"EDAD"}, 2, func(i, j int) interface{} {
		return []float64{99, 30}[i]
	}))
	writeSav(t, dir, "b_2020.sav", &savFile{
		compressed: true,
		vars:       []savVar{{name: "EDAD", width: 8}},
		rows:       [][]interface{}{{"x"}, {"y"}},
	})

	res, err := NewLoader(DefaultSchema(), nil).Load(dir, "TEST")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replaced)

	edad := res.Table.Column("EDAD")
	assert.Equal(t, "object", edad.DType())
	assert.True(t, edad.IsMissing(0))
	assert.False(t, edad.IsMissing(1))
	assert.Equal(t, "30", edad.ValueString(1))
	assert.Equal(t, 1, edad.CountMissing())
}

func TestLoadInvalidSchema(t *testing.T) {

	dir := t.TempDir()
	writeSav(t, dir, "a_2019.sav", numericSav([]string{"A"}, 1, func(i, j int) interface{} { return 1.0 }))

	schema := Schema{Extension: ".sav", Renames: map[string]string{"A": "B", "B": "C"}}
	res, err := NewLoader(schema, nil).Load(dir, "TEST")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rename chain A -> B -> C")
	assert.Nil(t, res)
}
