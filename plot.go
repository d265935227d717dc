package surveyeda

import (
	"fmt"
	"image/color"
	"path/filepath"
	"strings"
	"unicode"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "gonum.org/v1/plot/vg/vgimg"
)

// Figure size of saved histograms.
const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 3 * vg.Inch
)

// SavePNG draws the histogram and its density curve, and writes the
// figure to a PNG file in dir.  The path of the file is returned.
func (h *Histogram) SavePNG(dir string) (string, error) {

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Distribution of %s (%s)", h.Column, h.Title)
	p.X.Label.Text = h.Column
	p.Y.Label.Text = "Count"

	bins := make([]plotter.HistogramBin, len(h.Counts))
	for j, n := range h.Counts {
		bins[j] = plotter.HistogramBin{Min: h.Edges[j], Max: h.Edges[j+1], Weight: n}
	}
	hist := &plotter.Histogram{
		Bins:      bins,
		Width:     h.BinWidth(),
		FillColor: color.RGBA{R: 100, G: 149, B: 237, A: 255},
		LineStyle: plotter.DefaultLineStyle,
	}
	p.Add(hist)

	if h.Bandwidth > 0 {
		pts := make(plotter.XYs, len(h.GridX))
		for i := range h.GridX {
			pts[i].X = h.GridX[i]
			pts[i].Y = h.GridY[i]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", err
		}
		line.Width = vg.Points(1.5)
		p.Add(line)
	}

	path := filepath.Join(dir, plotFileName(h.Title, h.Column))
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return "", fmt.Errorf("saving histogram of %s: %w", h.Column, err)
	}

	return path, nil
}

// plotFileName builds a file name from the domain title and column,
// keeping only letters, digits and underscores.
func plotFileName(title, column string) string {
	clean := func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return '_'
	}
	return strings.Map(clean, title) + "_" + strings.Map(clean, column) + ".png"
}
