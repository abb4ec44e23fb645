package generator

// State reports whether a generator still has output to produce.
type State int

const (
	Running State = iota
	Complete
)

func (s State) String() string {
	if s == Complete {
		return "complete"
	}
	return "running"
}

// Generator is anything that renders fixed-size buffers of samples:
// envelopes, oscillators and ramps.
type Generator interface {
	// Process fills buf with the next len(buf) samples.
	Process(buf []float32) State
	Complete() bool
	// Reset returns the generator to its initial state.
	Reset()
}

// Interpolate returns the value of a linear ramp of the given length at pos.
// pos 0 yields from, pos length-1 yields to. A ramp of length 1 resolves to
// its end value.
func Interpolate(from, to float64, pos, length int) float64 {
	if length <= 1 {
		return to
	}
	t := float64(pos) / float64(length-1)
	return from + (to-from)*t
}
