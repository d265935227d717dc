package surveyeda

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"
)

// Fixed bounds of the report.
const (
	TypeSampleSize    = 10
	MaxHistograms     = 3
	MaxCategorical    = 5
	TopFrequencyCount = 5
)

const bannerWidth = 60

// A Reporter writes the exploratory report of a unified table.
type Reporter struct {

	// Destination of the report.
	Out io.Writer

	// If set, histograms are also saved as PNG files in this
	// directory.
	PlotDir string

	// Declared column roles, see NumericColumns.
	Roles map[string]Role

	Logger *zap.Logger
}

// reportWriter remembers the first write error so that the report
// sections can be written without checking every call.
type reportWriter struct {
	w   io.Writer
	err error
}

func (rw *reportWriter) printf(format string, args ...interface{}) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}

// Report writes the report of t under the given title.  A nil table
// produces no output.
func (rp *Reporter) Report(t *Table, title string) error {

	if t == nil {
		return nil
	}

	log := rp.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("domain", title))

	rw := &reportWriter{w: rp.Out}

	rw.printf("\n%s\n", strings.Repeat("#", bannerWidth))
	rw.printf(" PROGRESS REPORT: %s\n", title)
	rw.printf("%s\n", strings.Repeat("#", bannerWidth))

	rp.dimensions(rw, t)
	rp.types(rw, t)
	numeric := NumericColumns(t, rp.Roles)
	if err := rp.numeric(rw, t, numeric, title, log); err != nil {
		return err
	}
	rp.categorical(rw, t, numeric)

	if rw.err != nil {
		return rw.err
	}

	log.Debug("report written", zap.Int("numeric_columns", len(numeric)))
	return nil
}

func (rp *Reporter) dimensions(rw *reportWriter, t *Table) {
	rw.printf("\n1. DIMENSIONS:\n")
	rw.printf("   - Total observations (rows): %d\n", t.NumRows())
	rw.printf("   - Total variables (columns): %d\n", t.NumCols())
}

func (rp *Reporter) types(rw *reportWriter, t *Table) {

	rw.printf("\n2. VARIABLE TYPES (sample):\n")

	cols := t.Columns()
	if len(cols) > TypeSampleSize {
		cols = cols[:TypeSampleSize]
	}

	tw := tabwriter.NewWriter(rw.w, 0, 8, 2, ' ', 0)
	for _, c := range cols {
		if rw.err == nil {
			_, rw.err = fmt.Fprintf(tw, "   %s\t%s\n", c.Name(), c.DType())
		}
	}
	if rw.err == nil {
		rw.err = tw.Flush()
	}
}

func (rp *Reporter) numeric(rw *reportWriter, t *Table, names []string, title string, log *zap.Logger) error {

	rw.printf("\n3. NUMERIC EXPLORATION (central tendency and dispersion):\n")

	if len(names) == 0 {
		rw.printf("   No obvious numeric variables detected for analysis.\n")
		return nil
	}

	tw := tabwriter.NewWriter(rw.w, 0, 8, 2, ' ', tabwriter.AlignRight)
	if rw.err == nil {
		_, rw.err = fmt.Fprintf(tw, "\tmean\tstd\tmin\t50%%\tmax\tmode\t\n")
	}
	for _, na := range names {
		s, err := Summarize(t.Column(na))
		if err != nil {
			return err
		}
		if rw.err == nil {
			_, rw.err = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", s.Name,
				formatStat(s.Mean), formatStat(s.Std), formatStat(s.Min),
				formatStat(s.Median), formatStat(s.Max), formatStat(s.Mode))
		}
	}
	if rw.err == nil {
		rw.err = tw.Flush()
	}

	if len(names) > MaxHistograms {
		names = names[:MaxHistograms]
	}
	for _, na := range names {
		h, err := NewHistogram(t.Column(na), title)
		if err != nil {
			rw.printf("\n   No values to plot for %s.\n", na)
			continue
		}
		rw.printf("\n")
		if rw.err == nil {
			rw.err = h.Render(rw.w)
		}
		if rp.PlotDir != "" {
			path, err := h.SavePNG(rp.PlotDir)
			if err != nil {
				log.Error("histogram not saved", zap.String("column", na), zap.Error(err))
				continue
			}
			log.Info("histogram saved", zap.String("column", na), zap.String("path", path))
		}
	}

	return nil
}

func (rp *Reporter) categorical(rw *reportWriter, t *Table, numeric []string) {

	rw.printf("\n4. CATEGORICAL EXPLORATION (top %d frequencies):\n", TopFrequencyCount)

	names := CategoricalColumns(t, numeric)
	if len(names) == 0 {
		rw.printf("   No categorical variables detected.\n")
		return
	}
	if len(names) > MaxCategorical {
		names = names[:MaxCategorical]
	}

	for _, na := range names {
		rw.printf("\n   -> Variable: %s\n", na)
		tw := tabwriter.NewWriter(rw.w, 0, 8, 2, ' ', 0)
		for _, f := range TopFrequencies(t.Column(na), TopFrequencyCount) {
			if rw.err == nil {
				_, rw.err = fmt.Fprintf(tw, "   %s\t%.6f\n", f.Value, f.Percent)
			}
		}
		if rw.err == nil {
			rw.err = tw.Flush()
		}
	}
}

func formatStat(x float64) string {
	if math.IsNaN(x) {
		return "NaN"
	}
	return fmt.Sprintf("%.6f", x)
}
