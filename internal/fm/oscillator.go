package fm

import (
	"errors"
	"log/slog"
	"math"

	"github.com/cbegin/corroza-go/internal/envelope"
	"github.com/cbegin/corroza-go/internal/generator"
)

const twoPi = math.Pi * 2

var _ generator.Generator = (*Oscillator)(nil)

var (
	ErrHarmonicsMismatch = errors.New("fm: harmonics and weights differ in length")
	ErrHarmonic          = errors.New("fm: harmonic multipliers must be positive")
	ErrPhaseIncrement    = errors.New("fm: phase increment must lie in (0, pi)")
)

// Params configures one FM carrier and its additive modulator bank.
// PhaseIncrement is the carrier's base step in radians per sample.
type Params struct {
	Harmonics      []int
	Weights        []float64
	PhaseIncrement float64
	ModDepth       float64
}

func DefaultParams() Params {
	return Params{
		Harmonics:      []int{2, 5, 9},
		Weights:        []float64{1, 2, 1},
		PhaseIncrement: 0.1,
		ModDepth:       1,
	}
}

// Validate checks the structural invariants that cannot be clamped.
func (p Params) Validate() error {
	if len(p.Harmonics) != len(p.Weights) {
		return ErrHarmonicsMismatch
	}
	for _, h := range p.Harmonics {
		if h <= 0 {
			return ErrHarmonic
		}
	}
	if !(p.PhaseIncrement > 0 && p.PhaseIncrement < math.Pi) {
		return ErrPhaseIncrement
	}
	return nil
}

// WithPhaseIncrement returns a copy of p tuned to a different pitch. The
// harmonic table is shared; it is never mutated after construction.
func (p Params) WithPhaseIncrement(inc float64) Params {
	p.PhaseIncrement = inc
	return p
}

type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for construction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Oscillator is a sine carrier whose instantaneous frequency is driven by
// a bank of harmonic modulators. It owns two envelopes: one scales the
// modulation depth, the other the output amplitude.
type Oscillator struct {
	params Params
	modEnv *envelope.Envelope
	ampEnv *envelope.Envelope

	phase  float64
	n      int
	modBuf []float32
	ampBuf []float32
}

func New(p Params, modEnv, ampEnv *envelope.Envelope, opts ...Option) (*Oscillator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if p.ModDepth < 0 || math.IsNaN(p.ModDepth) {
		p.ModDepth = 0
	}
	modTotal, ampTotal := modEnv.TotalSamples(), ampEnv.TotalSamples()
	if modTotal != ampTotal {
		truncated := "modulation"
		if ampTotal < modTotal {
			truncated = "amplitude"
		}
		cfg.logger.Warn("fm envelope lengths differ",
			"mod_samples", modTotal,
			"amp_samples", ampTotal,
			"truncated", truncated,
			"by", absInt(modTotal-ampTotal))
	}
	return &Oscillator{params: p, modEnv: modEnv, ampEnv: ampEnv}, nil
}

func (o *Oscillator) Params() Params { return o.params }

// Phase is the carrier phase accumulator in [0, 2π).
func (o *Oscillator) Phase() float64 { return o.phase }

func (o *Oscillator) SampleCount() int { return o.n }

// Modulation evaluates the modulator bank at the current sample counter.
func (o *Oscillator) Modulation() float64 {
	var m float64
	base := o.params.PhaseIncrement * float64(o.n)
	for i, h := range o.params.Harmonics {
		m += o.params.Weights[i] * math.Sin(float64(h)*base)
	}
	return m
}

// NoteOff releases both envelopes at the next buffer boundary.
func (o *Oscillator) NoteOff() {
	o.modEnv.NoteOff()
	o.ampEnv.NoteOff()
}

func (o *Oscillator) Process(buf []float32) generator.State {
	o.modBuf = grow(o.modBuf, len(buf))
	o.ampBuf = grow(o.ampBuf, len(buf))
	modState := o.modEnv.Process(o.modBuf)
	ampState := o.ampEnv.Process(o.ampBuf)

	inc := o.params.PhaseIncrement
	depth := o.params.ModDepth
	for i := range buf {
		inst := inc * (1 + o.Modulation()*depth*float64(o.modBuf[i]))
		o.phase = wrapPhase(o.phase + twoPi*inst)
		buf[i] = float32(math.Sin(o.phase) * float64(o.ampBuf[i]))
		o.n++
	}
	if modState == generator.Complete && ampState == generator.Complete {
		return generator.Complete
	}
	return generator.Running
}

func (o *Oscillator) Complete() bool {
	return o.modEnv.Complete() && o.ampEnv.Complete()
}

func (o *Oscillator) Reset() {
	o.modEnv.Reset()
	o.ampEnv.Reset()
	o.phase = 0
	o.n = 0
}

func wrapPhase(p float64) float64 {
	p = math.Mod(p, twoPi)
	if p < 0 {
		p += twoPi
	}
	if p >= twoPi {
		p = 0
	}
	return p
}

func grow(b []float32, n int) []float32 {
	if cap(b) < n {
		return make([]float32, n)
	}
	return b[:n]
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
