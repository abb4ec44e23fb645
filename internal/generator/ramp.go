package generator

var _ Generator = (*Ramp)(nil)

// Ramp rises linearly from 0 to 1 over a fixed number of samples and then
// holds 1.
type Ramp struct {
	duration int
	position int
	done     bool
}

func NewRamp(durationSamples int) *Ramp {
	if durationSamples < 1 {
		durationSamples = 1
	}
	return &Ramp{duration: durationSamples}
}

// NewRampMillis builds a ramp from a duration in milliseconds.
func NewRampMillis(ms float64, sampleRate int) *Ramp {
	return NewRamp(int(ms / 1000 * float64(sampleRate)))
}

func (r *Ramp) Duration() int { return r.duration }
func (r *Ramp) Position() int { return r.position }

func (r *Ramp) Process(buf []float32) State {
	if r.done {
		for i := range buf {
			buf[i] = 1
		}
		return Complete
	}
	for i := range buf {
		pos := r.position + i
		if pos < r.duration {
			buf[i] = float32(Interpolate(0, 1, pos, r.duration))
		} else {
			buf[i] = 1
		}
	}
	r.position += len(buf)
	if r.position >= r.duration {
		r.done = true
		return Complete
	}
	return Running
}

func (r *Ramp) Complete() bool { return r.done }

func (r *Ramp) Reset() {
	r.position = 0
	r.done = false
}
