// Package web renders the training history charts and serves them over HTTP.
package web

import (
	"io"

	"github.com/jnb666/cifarnet/nnet"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// svgDPI is the nominal SVG resolution; gonum.org/v1/plot no longer exports vgsvg.DPI (was 72).
const svgDPI = 72

var legend = []string{"Train", "Val"}

// AccuracyPlot charts the train and validation accuracy for each epoch.
func AccuracyPlot(h nnet.History) (*plot.Plot, error) {
	return historyPlot(h, "Model accuracy", "Accuracy", "accuracy", "val_accuracy")
}

// LossPlot charts the train and validation loss for each epoch.
func LossPlot(h nnet.History) (*plot.Plot, error) {
	return historyPlot(h, "Model loss", "Loss", "loss", "val_loss")
}

func historyPlot(h nnet.History, title, ylabel string, metrics ...string) (*plot.Plot, error) {
	p, err := newPlot()
	if err != nil {
		return nil, err
	}
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = ylabel
	for i, name := range metrics {
		line, err := newLinePlot(h, h.Series(name), i)
		if err != nil {
			return nil, err
		}
		p.Add(line)
		p.Legend.Add(legend[i], line)
	}
	return p, nil
}

// WriteSVG renders the plot in SVG format with the given size in pixels.
func WriteSVG(w io.Writer, p *plot.Plot, width, height int) error {
	writer, err := p.WriterTo(vg.Inch*vg.Length(width)/svgDPI, vg.Inch*vg.Length(height)/svgDPI, "svg")
	if err != nil {
		return errors.Wrap(err, "error rendering plot")
	}
	_, err = writer.WriteTo(w)
	return errors.Wrap(err, "error writing plot")
}

func newPlot() (*plot.Plot, error) {
	p, err := plot.New()
	if err != nil {
		return nil, errors.Wrap(err, "plot error")
	}
	fontSmall, err := vg.MakeFont("Helvetica", 10)
	if err != nil {
		return nil, errors.Wrap(err, "plot: failed loading font")
	}
	fontMedium, err := vg.MakeFont("Helvetica", 12)
	if err != nil {
		return nil, errors.Wrap(err, "plot: failed loading font")
	}
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font = fontSmall
	p.Y.Tick.Label.Font = fontSmall
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.Font = fontMedium
	p.Add(plotter.NewGrid())
	return p, nil
}

func newLinePlot(h nnet.History, vals []float64, ix int) (linePlot, error) {
	pts := make(plotter.XYs, len(vals))
	xmax, ymax := 1.0, 0.0
	for i, v := range vals {
		pts[i].X, pts[i].Y = float64(h[i].Epoch), v
		if pts[i].X > xmax {
			xmax = pts[i].X
		}
		if v > ymax {
			ymax = v
		}
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return linePlot{}, errors.Wrap(err, "plot error")
	}
	l.Width = 2
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 1, xmax: xmax, ymin: 0, ymax: ymax}, nil
}

// plotter.Line with the y axis starting from zero
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
