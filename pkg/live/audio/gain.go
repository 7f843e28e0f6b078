package audio

import (
	"math"
	"time"
)

const (
	DefaultGainRamp = 50 * time.Millisecond
	MaxGain         = 2.0
)

// GainRamp applies a gain that approaches its target exponentially, one sample
// at a time, so level changes never jump.
type GainRamp struct {
	current float64
	target  float64
	coeff   float64
}

func NewGainRamp(sampleRate int, timeConstant time.Duration, initial float64) *GainRamp {
	if sampleRate <= 0 {
		sampleRate = CaptureSampleRate
	}
	if timeConstant <= 0 {
		timeConstant = DefaultGainRamp
	}
	initial = ClampGain(initial)
	return &GainRamp{
		current: initial,
		target:  initial,
		coeff:   1 - math.Exp(-1/(timeConstant.Seconds()*float64(sampleRate))),
	}
}

func (g *GainRamp) SetTarget(v float64) {
	g.target = ClampGain(v)
}

func (g *GainRamp) Target() float64 { return g.target }

func (g *GainRamp) Current() float64 { return g.current }

// Apply scales samples in place while moving the gain toward its target.
func (g *GainRamp) Apply(samples []float32) {
	for i, s := range samples {
		g.current += (g.target - g.current) * g.coeff
		samples[i] = s * float32(g.current)
	}
	if math.Abs(g.target-g.current) < 1e-6 {
		g.current = g.target
	}
}

// ClampGain bounds a user gain to [0, MaxGain].
func ClampGain(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > MaxGain {
		return MaxGain
	}
	return v
}
