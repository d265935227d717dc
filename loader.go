package surveyeda

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrNoFiles is returned when a domain folder holds no files
	// with the expected extension.
	ErrNoFiles = errors.New("no survey files found")

	// ErrNoFilesLoaded is returned when files were found but none
	// of them could be read.
	ErrNoFilesLoaded = errors.New("no survey files could be loaded")
)

var yearToken = regexp.MustCompile(`(19|20)\d{2}`)

// A FileResult records the outcome of loading one yearly file.
type FileResult struct {
	Name string
	Rows int
	Err  error
}

// OK reports whether the file was loaded.
func (fr FileResult) OK() bool {
	return fr.Err == nil
}

// A Result is the outcome of loading a domain.  Table is nil when the
// domain is absent, that is when no file was found or none could be
// loaded.
type Result struct {
	Table    *Table
	Files    []FileResult
	Replaced int
}

// Absent reports whether the domain produced no table.
func (r *Result) Absent() bool {
	return r == nil || r.Table == nil
}

// A Loader reads the yearly files of a domain folder into one table.
type Loader struct {
	Schema Schema
	Logger *zap.Logger
}

// NewLoader returns a Loader for the given schema.  A nil logger
// discards log output.
func NewLoader(schema Schema, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{Schema: schema, Logger: logger.Named("loader")}
}

func (ld *Loader) logger() *zap.Logger {
	if ld.Logger == nil {
		return zap.NewNop()
	}
	return ld.Logger
}

// Load discovers, reads, harmonises, cleans and concatenates the
// yearly files in folder.  label is used for logging only.
//
// An error is returned if the schema is invalid or the folder cannot
// be listed, in which case the Result is nil.  ErrNoFiles and
// ErrNoFilesLoaded come with a Result that has no table but lists the
// per-file outcomes.
func (ld *Loader) Load(folder, label string) (*Result, error) {

	log := ld.logger().With(zap.String("domain", label), zap.String("folder", folder))

	if err := ld.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema for %s: %w", label, err)
	}

	names, err := ld.discover(folder)
	if err != nil {
		return nil, err
	}

	res := new(Result)
	if len(names) == 0 {
		log.Warn("no survey files found", zap.String("extension", ld.Schema.Extension))
		return res, fmt.Errorf("%s: %w", folder, ErrNoFiles)
	}

	var tables []*Table
	var errs []error
	for _, na := range names {
		t, replaced, err := ld.loadFile(filepath.Join(folder, na), na)
		if err != nil {
			log.Error("skipping survey file", zap.String("file", na), zap.Error(err))
			res.Files = append(res.Files, FileResult{Name: na, Err: err})
			errs = append(errs, fmt.Errorf("%s: %w", na, err))
			continue
		}
		log.Info("loaded survey file", zap.String("file", na), zap.Int("rows", t.NumRows()))
		res.Replaced += replaced
		res.Files = append(res.Files, FileResult{Name: na, Rows: t.NumRows()})
		tables = append(tables, t)
	}

	if len(tables) == 0 {
		return res, multierr.Combine(append([]error{ErrNoFilesLoaded}, errs...)...)
	}

	res.Table, err = Concat(tables)
	if err != nil {
		return nil, fmt.Errorf("concatenating %s: %w", label, err)
	}

	log.Info("unified table built",
		zap.Int("files", len(tables)),
		zap.Int("rows", res.Table.NumRows()),
		zap.Int("columns", res.Table.NumCols()),
		zap.Int("sentinels_replaced", res.Replaced))

	return res, nil
}

// discover lists the regular files of folder that carry the schema
// extension, in load order.
func (ld *Loader) discover(folder string) ([]string, error) {

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}

	ext := strings.ToLower(ld.Schema.Extension)
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			names = append(names, e.Name())
		}
	}

	SortByYear(names)
	return names, nil
}

// SortByYear orders file names by the first four-digit year they
// contain, then by name.  Names without a year sort last.
func SortByYear(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		yi, yj := yearToken.FindString(names[i]), yearToken.FindString(names[j])
		switch {
		case yi == "" && yj != "":
			return false
		case yi != "" && yj == "":
			return true
		case yi != yj:
			return yi < yj
		}
		return names[i] < names[j]
	})
}

// loadFile reads one file, renames its columns, blanks sentinel codes
// and adds the provenance column.  Sentinels must be replaced before
// concatenation: a column that is text in any year is text in the
// unified table.  The number of replaced cells is also returned.
func (ld *Loader) loadFile(path, name string) (*Table, int, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	rdr, err := OpenStatfile(filepath.Ext(name), f)
	if err != nil {
		return nil, 0, err
	}

	t, err := ReadTable(rdr)
	if err != nil {
		return nil, 0, err
	}

	if err := t.RenameColumns(ld.Schema.Renames); err != nil {
		return nil, 0, err
	}

	replaced := ReplaceSentinels(t, ld.Schema.Sentinels, ld.Schema.SentinelColumns)

	if err := t.AddConstant(ProvenanceColumn, name); err != nil {
		return nil, 0, err
	}

	return t, replaced, nil
}
