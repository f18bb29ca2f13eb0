package modem

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Stage names a point in the receive chain.
type Stage string

const (
	StageRaw           Stage = "raw"
	StageMatchedFilter Stage = "matched-filter"
	StageCoarseSync    Stage = "coarse-sync"
	StageTiming        Stage = "timing"
	StageCarrier       Stage = "carrier"
)

// Trace names.
const (
	TraceFrequency   = "frequency"
	TraceTimingMu    = "timing-mu"
	TraceTimingError = "timing-error"
)

// Observer receives intermediate results as the chain runs. Slices handed
// to an observer belong to the receiver and must not be modified.
type Observer interface {
	OnSamples(stage Stage, samples []complex128)
	OnTrace(name string, trace []float64)
}

type nopObserver struct{}

func (nopObserver) OnSamples(Stage, []complex128) {}
func (nopObserver) OnTrace(string, []float64)     {}

// Result is the output of one receive pass.
type Result struct {
	Estimate FrequencyEstimate
	Symbols  []complex128 // carrier-corrected, one per symbol
	Bits     []byte       // every demodulated bit
	Frame    FrameMatch
	Payload  []byte // exactly Params.PayloadBits() bits

	FrequencyTrace   []float64 // Hz per symbol
	TimingTrace      []float64 // fractional offset per symbol
	TimingErrorTrace []float64
}

// Receiver runs the synchronisation and demodulation chain over a captured
// block of samples.
type Receiver struct {
	params        Params
	kernel        *Kernel
	constellation *Constellation
	framer        *FrameSynchronizer
	logger        *log.Logger
	observer      Observer
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(r *Receiver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers an observer for intermediate results.
func WithObserver(o Observer) Option {
	return func(r *Receiver) {
		if o != nil {
			r.observer = o
		}
	}
}

// NewReceiver validates p and builds the fixed parts of the chain.
func NewReceiver(p Params, opts ...Option) (*Receiver, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	kernel, err := NewRRCKernel(p.RRCOrder, p.RRCRolloff, p.SymbolPeriod(), p.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("matched filter: %w", err)
	}
	framer, err := NewFrameSynchronizer(p.Preamble)
	if err != nil {
		return nil, fmt.Errorf("frame sync: %w", err)
	}

	r := &Receiver{
		params:        p,
		kernel:        kernel,
		constellation: NewConstellation(p.Labeling),
		framer:        framer,
		logger:        log.Default(),
		observer:      nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Params returns the receiver configuration.
func (r *Receiver) Params() Params {
	return r.params
}

// Kernel returns the matched filter kernel.
func (r *Receiver) Kernel() *Kernel {
	return r.kernel
}

// Demodulate runs every stage up to and including the hard-decision
// demodulator. The returned Result has no Frame or Payload.
func (r *Receiver) Demodulate(samples []complex128) (*Result, error) {
	p := r.params
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty capture", ErrInvalidInput)
	}
	r.observer.OnSamples(StageRaw, samples)

	filtered, err := MatchedFilter(samples, r.kernel, p.FilterGain)
	if err != nil {
		return nil, fmt.Errorf("matched filter: %w", err)
	}
	r.logger.Debug("matched filter", "in", len(samples), "out", len(filtered), "taps", r.kernel.Len())
	r.observer.OnSamples(StageMatchedFilter, filtered)

	synced, est, err := CoarseFrequencySync(filtered, p.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("coarse frequency sync: %w", err)
	}
	r.logger.Info("coarse frequency", "offset_hz", est.OffsetHz, "peak_hz", est.PeakHz, "resolution_hz", est.ResolutionHz)
	r.observer.OnSamples(StageCoarseSync, synced)

	timing := SymbolTimingRecovery(synced, p.SamplesPerSymbol, p.TimingGain, p.TimingLookahead)
	if len(timing.Symbols) == 0 {
		return nil, fmt.Errorf("%w: %d samples leave no symbols after a %d sample lookahead",
			ErrInsufficientSamples, len(synced), p.TimingLookahead)
	}
	r.logger.Debug("timing recovery", "symbols", len(timing.Symbols))
	r.observer.OnSamples(StageTiming, timing.Symbols)
	r.observer.OnTrace(TraceTimingMu, timing.MuTrace)
	r.observer.OnTrace(TraceTimingError, timing.ErrorTrace)

	tracked := FineFrequencyPhaseTracker(timing.Symbols, p.SampleRate, p.CostasAlpha, p.CostasBeta)
	if n := len(tracked.FrequencyTrace); n > 0 {
		r.logger.Debug("carrier tracking", "final_hz", tracked.FrequencyTrace[n-1])
	}
	r.observer.OnSamples(StageCarrier, tracked.Symbols)
	r.observer.OnTrace(TraceFrequency, tracked.FrequencyTrace)

	bits := r.constellation.DemapSymbols(tracked.Symbols)
	r.logger.Debug("demodulated", "bits", len(bits), "labeling", p.Labeling)

	return &Result{
		Estimate:         est,
		Symbols:          tracked.Symbols,
		Bits:             bits,
		FrequencyTrace:   tracked.FrequencyTrace,
		TimingTrace:      timing.MuTrace,
		TimingErrorTrace: timing.ErrorTrace,
	}, nil
}

// Receive runs the full chain and extracts the image payload.
func (r *Receiver) Receive(samples []complex128) (*Result, error) {
	res, err := r.Demodulate(samples)
	if err != nil {
		return nil, err
	}

	payload, match, err := r.framer.Extract(res.Bits, r.params.PayloadBits())
	if err != nil {
		return nil, fmt.Errorf("frame sync: %w", err)
	}
	res.Frame = match
	res.Payload = payload

	r.logger.Info("frame located", "preamble_start", match.Start, "payload_start", match.PayloadStart,
		"score", match.Score, "inverted", match.Inverted)
	if match.Inverted {
		r.logger.Warn("preamble matched with inverted polarity; payload bits are returned as received")
	}
	return res, nil
}
