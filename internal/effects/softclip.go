package effects

import "math"

// SoftClip passes |x| <= 1 through unchanged and bends anything louder
// towards ±1.5 with a tanh knee.
func SoftClip(x float64) float64 {
	a := math.Abs(x)
	if a <= 1 {
		return x
	}
	return math.Copysign(1+math.Tanh(a-1)*0.5, x)
}

// SoftClipper is the Effector form of SoftClip.
type SoftClipper struct{}

func (SoftClipper) Process(x float32) float32 {
	return float32(SoftClip(float64(x)))
}

func (SoftClipper) Reset() {}

// Gain scales samples by a fixed factor.
type Gain struct {
	gain float32
}

func NewGain(gain float64) *Gain {
	if gain < 0 || math.IsNaN(gain) {
		gain = 0
	}
	return &Gain{gain: float32(gain)}
}

func (g *Gain) Process(x float32) float32 { return x * g.gain }
func (g *Gain) Reset()                    {}
