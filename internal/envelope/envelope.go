package envelope

import (
	"math"

	"github.com/cbegin/corroza-go/internal/generator"
)

var _ generator.Generator = (*Envelope)(nil)

type Phase int

const (
	Attack Phase = iota
	Decay
	Sustain
	Release
	Complete
)

func (p Phase) String() string {
	switch p {
	case Attack:
		return "attack"
	case Decay:
		return "decay"
	case Sustain:
		return "sustain"
	case Release:
		return "release"
	default:
		return "complete"
	}
}

// Params describes an ADSR shape. Durations are in samples.
type Params struct {
	Initial    float64
	Attack     int
	Decay      int
	Sustain    float64
	SustainMax int
	Release    int
}

// Normalize floors every duration at one sample and clamps levels to [0,1].
func (p Params) Normalize() Params {
	p.Initial = clamp(p.Initial, 0, 1)
	p.Sustain = clamp(p.Sustain, 0, 1)
	p.Attack = atLeastOne(p.Attack)
	p.Decay = atLeastOne(p.Decay)
	p.SustainMax = atLeastOne(p.SustainMax)
	p.Release = atLeastOne(p.Release)
	return p
}

// TotalSamples is the longest run of the shape: attack, decay, the full
// sustain allowance and release.
func (p Params) TotalSamples() int {
	n := p.Normalize()
	return n.Attack + n.Decay + n.SustainMax + n.Release
}

// FromMillis converts millisecond timings to a sample-based Params.
func FromMillis(initial, attackMs, decayMs, sustain, sustainMaxMs, releaseMs float64, sampleRate int) Params {
	toSamples := func(ms float64) int {
		return int(ms / 1000 * float64(sampleRate))
	}
	return Params{
		Initial:    initial,
		Attack:     toSamples(attackMs),
		Decay:      toSamples(decayMs),
		Sustain:    sustain,
		SustainMax: toSamples(sustainMaxMs),
		Release:    toSamples(releaseMs),
	}.Normalize()
}

// Envelope is an attack/decay/sustain/release amplitude generator.
// Release requests are latched and only applied at the start of the next
// Process call, so a single buffer is never split by an external event.
type Envelope struct {
	params Params

	phase        Phase
	position     int
	sustainCount int
	level        float64
	releaseFrom  float64
	pendingOff   bool
}

func New(p Params) *Envelope {
	p = p.Normalize()
	return &Envelope{
		params: p,
		phase:  Attack,
		level:  p.Initial,
	}
}

func (e *Envelope) Params() Params { return e.params }
func (e *Envelope) Phase() Phase   { return e.phase }

// Level is the last amplitude rendered (the initial amplitude before the
// first Process call).
func (e *Envelope) Level() float64 { return e.level }

func (e *Envelope) TotalSamples() int { return e.params.TotalSamples() }

// NoteOff queues a release for the next buffer boundary.
func (e *Envelope) NoteOff() { e.pendingOff = true }

func (e *Envelope) Complete() bool { return e.phase == Complete }

func (e *Envelope) Reset() {
	e.phase = Attack
	e.position = 0
	e.sustainCount = 0
	e.level = e.params.Initial
	e.releaseFrom = 0
	e.pendingOff = false
}

func (e *Envelope) Process(buf []float32) generator.State {
	if e.pendingOff {
		e.pendingOff = false
		switch e.phase {
		case Attack, Decay, Sustain:
			e.beginRelease()
		}
	}
	for len(buf) > 0 {
		var n int
		switch e.phase {
		case Attack:
			n = e.ramp(buf, e.params.Initial, 1, e.params.Attack)
			if e.position >= e.params.Attack {
				e.enter(Decay)
			}
		case Decay:
			n = e.ramp(buf, 1, e.params.Sustain, e.params.Decay)
			if e.position >= e.params.Decay {
				e.enter(Sustain)
				e.sustainCount = 0
			}
		case Sustain:
			n = min(len(buf), e.params.SustainMax-e.sustainCount)
			e.level = e.params.Sustain
			for i := 0; i < n; i++ {
				buf[i] = float32(e.level)
			}
			e.sustainCount += n
			if e.sustainCount >= e.params.SustainMax {
				e.beginRelease()
			}
		case Release:
			n = e.ramp(buf, e.releaseFrom, 0, e.params.Release)
			if e.position >= e.params.Release {
				e.enter(Complete)
				e.level = 0
			}
		default:
			e.level = 0
			for i := range buf {
				buf[i] = 0
			}
			n = len(buf)
		}
		buf = buf[n:]
	}
	if e.phase == Complete {
		return generator.Complete
	}
	return generator.Running
}

// ramp renders as much of the current ramp phase as fits in buf and returns
// the number of samples written.
func (e *Envelope) ramp(buf []float32, from, to float64, length int) int {
	n := min(len(buf), length-e.position)
	for i := 0; i < n; i++ {
		e.level = generator.Interpolate(from, to, e.position+i, length)
		buf[i] = float32(e.level)
	}
	e.position += n
	return n
}

func (e *Envelope) enter(p Phase) {
	e.phase = p
	e.position = 0
}

func (e *Envelope) beginRelease() {
	e.releaseFrom = e.level
	e.enter(Release)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo || math.IsNaN(v) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
