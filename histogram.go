package surveyeda

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Bounds on the number of histogram bins.
const (
	minBins = 1
	maxBins = 100
)

// Number of points at which the density curve is evaluated.
const densityGridSize = 200

// Width, in characters, of the longest bar of a text histogram.
const barWidth = 40

// A Histogram holds the binned counts of a numeric column together
// with a Gaussian kernel density estimate scaled to counts.
type Histogram struct {
	Column string
	Title  string

	// Bin edges, one more than the number of bins.  The last bin
	// includes its upper edge.
	Edges  []float64
	Counts []float64

	// The number of observed values.
	N int

	// The kernel bandwidth, zero when there is no density curve.
	Bandwidth float64

	// The density curve evaluated on an even grid spanning the data.
	GridX []float64
	GridY []float64

	data []float64
}

// NewHistogram bins the non-missing values of a numeric column.  The
// number of bins is the larger of the Sturges and Freedman-Diaconis
// choices.  The density curve uses Scott's bandwidth and is omitted
// when the values do not vary.
func NewHistogram(c *Column, title string) (*Histogram, error) {

	if !c.IsNumeric() {
		return nil, fmt.Errorf("column %s is not numeric", c.Name())
	}

	x := c.UpcastNumeric().Observed()
	if len(x) == 0 {
		return nil, errors.New("no observed values")
	}
	sort.Float64s(x)

	h := &Histogram{
		Column: c.Name(),
		Title:  title,
		N:      len(x),
		data:   x,
	}

	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	nbins := autoBins(x)
	h.Edges = make([]float64, nbins+1)
	floats.Span(h.Edges, lo, hi)

	// stat.Histogram uses half-open bins, so widen the last divider
	// to take in the maximum.
	dividers := make([]float64, len(h.Edges))
	copy(dividers, h.Edges)
	dividers[nbins] = math.Nextafter(hi, math.Inf(1))
	h.Counts = stat.Histogram(nil, dividers, x, nil)

	if len(x) > 1 {
		sd := stat.StdDev(x, nil)
		if sd > 0 {
			h.Bandwidth = sd * math.Pow(float64(len(x)), -0.2)
			h.GridX = make([]float64, densityGridSize)
			floats.Span(h.GridX, x[0], x[len(x)-1])
			h.GridY = make([]float64, densityGridSize)
			for i, g := range h.GridX {
				h.GridY[i] = h.Density(g)
			}
		}
	}

	return h, nil
}

// autoBins returns the number of bins for sorted data.
func autoBins(sorted []float64) int {

	n := float64(len(sorted))
	span := sorted[len(sorted)-1] - sorted[0]
	if span == 0 {
		return minBins
	}

	bins := math.Ceil(math.Log2(n)) + 1

	iqr := percentile(sorted, 0.75) - percentile(sorted, 0.25)
	if iqr > 0 {
		width := 2 * iqr * math.Pow(n, -1.0/3)
		if fd := math.Ceil(span / width); fd > bins {
			bins = fd
		}
	}

	switch {
	case bins < minBins:
		return minBins
	case bins > maxBins:
		return maxBins
	}
	return int(bins)
}

// BinWidth returns the common width of the bins.
func (h *Histogram) BinWidth() float64 {
	return h.Edges[1] - h.Edges[0]
}

// Density returns the kernel density estimate at v, scaled so that it
// is comparable to the bin counts.  It is zero when there is no
// density curve.
func (h *Histogram) Density(v float64) float64 {

	if h.Bandwidth == 0 {
		return 0
	}

	var d float64
	for _, x := range h.data {
		d += distuv.Normal{Mu: x, Sigma: h.Bandwidth}.Prob(v)
	}

	// Mean of the kernels, times n * width.
	return d * h.BinWidth()
}

// Render writes the histogram as a text chart, one line per bin.  A
// '*' marks the density curve at the bin centre.
func (h *Histogram) Render(w io.Writer) error {

	top := floats.Max(h.Counts)
	for _, y := range h.GridY {
		top = math.Max(top, y)
	}
	if top == 0 {
		top = 1
	}

	if _, err := fmt.Fprintf(w, "   Distribution of %s (%s)\n", h.Column, h.Title); err != nil {
		return err
	}

	for j, n := range h.Counts {
		bar := []rune(strings.Repeat("#", int(math.Round(barWidth*n/top))) +
			strings.Repeat(" ", barWidth+1))[:barWidth+1]
		if h.Bandwidth > 0 {
			mid := (h.Edges[j] + h.Edges[j+1]) / 2
			p := int(math.Round(barWidth * h.Density(mid) / top))
			if p > barWidth {
				p = barWidth
			}
			bar[p] = '*'
		}
		label := fmt.Sprintf("[%.4g, %.4g)", h.Edges[j], h.Edges[j+1])
		if j == len(h.Counts)-1 {
			label = fmt.Sprintf("[%.4g, %.4g]", h.Edges[j], h.Edges[j+1])
		}
		if _, err := fmt.Fprintf(w, "   %-22s %8.0f |%s\n", label, n, strings.TrimRight(string(bar), " ")); err != nil {
			return err
		}
	}

	return nil
}
