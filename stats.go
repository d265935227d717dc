package surveyeda

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// A Summary holds the descriptive statistics of one numeric column.
// Statistics that are undefined for the observed values are NaN.
type Summary struct {
	Name   string
	Count  int
	Mean   float64
	Std    float64
	Min    float64
	Median float64
	Max    float64
	Mode   float64
}

// Summarize computes the summary statistics of the non-missing values
// of a numeric column.  The standard deviation uses n-1 in the
// denominator.  The median interpolates linearly between the two
// middle values.  When several values are equally frequent the
// smallest of them is the mode.
func Summarize(c *Column) (Summary, error) {

	if !c.IsNumeric() {
		return Summary{}, fmt.Errorf("column %s is not numeric", c.Name())
	}

	x := c.UpcastNumeric().Observed()
	s := Summary{
		Name:   c.Name(),
		Count:  len(x),
		Mean:   math.NaN(),
		Std:    math.NaN(),
		Min:    math.NaN(),
		Median: math.NaN(),
		Max:    math.NaN(),
		Mode:   math.NaN(),
	}
	if len(x) == 0 {
		return s, nil
	}

	sort.Float64s(x)

	if len(x) == 1 {
		s.Mean = x[0]
	} else {
		s.Mean, s.Std = stat.MeanStdDev(x, nil)
	}
	s.Min = floats.Min(x)
	s.Max = floats.Max(x)
	s.Median = percentile(x, 0.5)
	s.Mode = sortedMode(x)

	return s, nil
}

// percentile returns the p'th quantile of sorted data, interpolating
// linearly between order statistics.
func percentile(sorted []float64, p float64) float64 {

	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}

	h := p * float64(n-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}

	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// sortedMode returns the most frequent value of sorted data, the
// smallest one on ties.
func sortedMode(sorted []float64) float64 {

	mode, best := math.NaN(), 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > best {
			mode, best = sorted[i], j-i
		}
		i = j
	}

	return mode
}

// A Frequency is the share of one value among the non-missing values
// of a column.
type Frequency struct {
	Value   string
	Count   int
	Percent float64
}

// Frequencies tabulates the non-missing values of a column, most
// frequent first.  Equally frequent values keep the order in which
// they first appear.
func Frequencies(c *Column) []Frequency {

	counts := make(map[string]int)
	var order []string
	total := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			continue
		}
		v := c.ValueString(i)
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v]++
		total++
	}

	freqs := make([]Frequency, len(order))
	for j, v := range order {
		freqs[j] = Frequency{
			Value:   v,
			Count:   counts[v],
			Percent: 100 * float64(counts[v]) / float64(total),
		}
	}

	sort.SliceStable(freqs, func(i, j int) bool {
		return freqs[i].Count > freqs[j].Count
	})

	return freqs
}

// TopFrequencies returns at most n of the most frequent values.
func TopFrequencies(c *Column, n int) []Frequency {
	f := Frequencies(c)
	if len(f) > n {
		f = f[:n]
	}
	return f
}
