// Package scope records intermediate receiver output and renders it as PNG
// plots: IQ scatter per stage, the matched filter kernel, loop traces and the
// 4th-power spectrum used by coarse frequency sync.
package scope

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/jeongseonghan/qpsk-receiver/internal/modem"
)

const (
	// IQDecimation keeps every n-th sample in scatter plots.
	IQDecimation = 5
	// maxLinePoints bounds the points drawn per line plot.
	maxLinePoints = 20000
)

var (
	scatterColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	lineColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Recorder is a modem.Observer that keeps copies of everything it is shown.
type Recorder struct {
	mu         sync.Mutex
	sampleRate float64
	kernel     *modem.Kernel
	samples    map[modem.Stage][]complex128
	traces     map[string][]float64
}

// NewRecorder creates a recorder. sampleRate labels the spectrum axis.
func NewRecorder(sampleRate float64, kernel *modem.Kernel) *Recorder {
	return &Recorder{
		sampleRate: sampleRate,
		kernel:     kernel,
		samples:    make(map[modem.Stage][]complex128),
		traces:     make(map[string][]float64),
	}
}

// OnSamples implements modem.Observer.
func (r *Recorder) OnSamples(stage modem.Stage, samples []complex128) {
	cp := make([]complex128, len(samples))
	copy(cp, samples)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[stage] = cp
}

// OnTrace implements modem.Observer.
func (r *Recorder) OnTrace(name string, trace []float64) {
	cp := make([]float64, len(trace))
	copy(cp, trace)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[name] = cp
}

// Samples returns the recorded samples for stage.
func (r *Recorder) Samples(stage modem.Stage) ([]complex128, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.samples[stage]
	return s, ok
}

// Trace returns the recorded trace with the given name.
func (r *Recorder) Trace(name string) ([]float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.traces[name]
	return t, ok
}

// SaveAll renders every recorded stage and trace into dir and returns the
// files written.
func (r *Recorder) SaveAll(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var files []string
	save := func(p *plot.Plot, name string) error {
		path := filepath.Join(dir, name)
		if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}
		files = append(files, path)
		return nil
	}

	stages := make([]string, 0, len(r.samples))
	for s := range r.samples {
		stages = append(stages, string(s))
	}
	sort.Strings(stages)
	for _, s := range stages {
		p, err := IQPlot(r.samples[modem.Stage(s)], fmt.Sprintf("I-Q graph, %s", s))
		if err != nil {
			return files, err
		}
		if err := save(p, "iq_"+s+".png"); err != nil {
			return files, err
		}
	}

	if in, ok := r.samples[modem.StageMatchedFilter]; ok && len(in) > 0 {
		p, err := SpectrumPlot(in, r.sampleRate)
		if err != nil {
			return files, err
		}
		if err := save(p, "spectrum_4th_power.png"); err != nil {
			return files, err
		}
	}

	if r.kernel != nil {
		p, err := KernelPlot(r.kernel)
		if err != nil {
			return files, err
		}
		if err := save(p, "rrc_kernel.png"); err != nil {
			return files, err
		}
	}

	names := make([]string, 0, len(r.traces))
	for n := range r.traces {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		p, err := TracePlot(r.traces[n], n, traceUnit(n))
		if err != nil {
			return files, err
		}
		if err := save(p, "trace_"+n+".png"); err != nil {
			return files, err
		}
	}
	return files, nil
}

func traceUnit(name string) string {
	switch name {
	case modem.TraceFrequency:
		return "Frequency (Hz)"
	case modem.TraceTimingMu:
		return "Fractional offset (samples)"
	default:
		return name
	}
}

// IQPlot draws a scatter of every IQDecimation-th sample.
func IQPlot(samples []complex128, title string) (*plot.Plot, error) {
	pts := make(plotter.XYs, 0, len(samples)/IQDecimation+1)
	for i := 0; i < len(samples); i += IQDecimation {
		pts = append(pts, plotter.XY{X: real(samples[i]), Y: imag(samples[i])})
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "I"
	p.Y.Label.Text = "Q"
	p.Add(plotter.NewGrid())

	if len(pts) == 0 {
		return p, nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("iq scatter: %w", err)
	}
	sc.GlyphStyle.Color = scatterColor
	sc.GlyphStyle.Radius = vg.Points(1)
	p.Add(sc)
	return p, nil
}

// KernelPlot draws the filter taps against time in microseconds.
func KernelPlot(k *modem.Kernel) (*plot.Plot, error) {
	taps, tm := k.Taps(), k.Time()
	pts := make(plotter.XYs, len(taps))
	for i := range taps {
		pts[i] = plotter.XY{X: tm[i] * 1e6, Y: taps[i]}
	}

	p := plot.New()
	p.Title.Text = "Root-raised-cosine impulse response"
	p.X.Label.Text = "Time (µs)"
	p.Y.Label.Text = "Amplitude"
	p.Add(plotter.NewGrid())

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, fmt.Errorf("kernel line: %w", err)
	}
	line.Color = lineColor
	line.Width = vg.Points(1)
	points.Radius = vg.Points(1.5)
	p.Add(line, points)
	return p, nil
}

// TracePlot draws a per-symbol trace.
func TracePlot(trace []float64, title, unit string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Symbol"
	p.Y.Label.Text = unit
	p.Add(plotter.NewGrid())

	if len(trace) == 0 {
		return p, nil
	}
	xs := make([]float64, len(trace))
	if len(xs) > 1 {
		floats.Span(xs, 0, float64(len(xs)-1))
	}
	line, err := plotter.NewLine(decimate(xs, trace))
	if err != nil {
		return nil, fmt.Errorf("trace line: %w", err)
	}
	line.Color = lineColor
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}

// SpectrumPlot draws the magnitude spectrum of the 4th power of samples.
func SpectrumPlot(samples []complex128, sampleRate float64) (*plot.Plot, error) {
	power4 := make([]complex128, len(samples))
	for i, s := range samples {
		s2 := s * s
		power4[i] = s2 * s2
	}
	mag := modem.MagnitudeSpectrum(power4)
	freqs := make([]float64, len(mag))
	for k := range freqs {
		freqs[k] = modem.BinFrequency(k, len(mag), sampleRate)
	}

	p := plot.New()
	p.Title.Text = "FFT of the signal raised to the 4th power"
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Magnitude"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(decimate(freqs, mag))
	if err != nil {
		return nil, fmt.Errorf("spectrum line: %w", err)
	}
	line.Color = lineColor
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}

// decimate keeps the largest |y| of each block so narrow peaks survive.
func decimate(xs, ys []float64) plotter.XYs {
	step := (len(ys) + maxLinePoints - 1) / maxLinePoints
	if step < 1 {
		step = 1
	}
	pts := make(plotter.XYs, 0, len(ys)/step+1)
	for lo := 0; lo < len(ys); lo += step {
		hi := min(lo+step, len(ys))
		best := lo
		for i := lo + 1; i < hi; i++ {
			if math.Abs(ys[i]) > math.Abs(ys[best]) {
				best = i
			}
		}
		pts = append(pts, plotter.XY{X: xs[best], Y: ys[best]})
	}
	return pts
}
