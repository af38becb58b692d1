// Package tamper wraps a host environment with the countermeasures real
// automation stacks apply: spoofed navigator fields, per-read geometry
// noise, randomized rendering output, and jittered clocks. The engine's job
// is to catch these; this package exists so tests and demos can hand it
// environments that are lying in controlled, realistic ways.
package tamper

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/xkilldash9x/realmprobe/internal/hostenv"
)

// Environment decorates a base environment with configured tampering.
type Environment struct {
	base hostenv.Environment

	// Perlin noise gives smooth, plausible-looking perturbations the way
	// anti-fingerprinting extensions do, rather than white noise that is
	// trivially visible in a histogram.
	noise *perlin.Perlin
	step  atomic.Int64

	snapshotFn  func(hostenv.Snapshot) hostenv.Snapshot
	clockJitter float64 // ms amplitude
	rectSkew    float64 // px added to Right only, breaking right-left==width
	rectNoise   float64 // px amplitude re-rolled per read
	noisyRender bool
}

// Option configures one tampering behavior.
type Option func(*Environment)

// WithSnapshot rewrites the static fields a realm sees. Spoofing only some
// realms is what produces cross-realm mismatches.
func WithSnapshot(fn func(hostenv.Snapshot) hostenv.Snapshot) Option {
	return func(e *Environment) { e.snapshotFn = fn }
}

// WithClockJitter perturbs the monotonic clock by up to amplitudeMs.
func WithClockJitter(amplitudeMs float64) Option {
	return func(e *Environment) { e.clockJitter = amplitudeMs }
}

// WithRectSkew shifts the probe element's Right edge without adjusting
// Width, violating the geometry arithmetic invariant.
func WithRectSkew(px float64) Option {
	return func(e *Environment) { e.rectSkew = px }
}

// WithRectNoise re-rolls the probe rect on every read, the
// anti-fingerprinting trick the unshift re-derivation check catches.
func WithRectNoise(amplitudePx float64) Option {
	return func(e *Environment) { e.rectNoise = amplitudePx }
}

// WithNoisyRenderer salts every rendering hash, simulating canvas noise
// injection. Breaks both stability and render determinism.
func WithNoisyRenderer() Option {
	return func(e *Environment) { e.noisyRender = true }
}

// Wrap builds a tampered view over base.
func Wrap(base hostenv.Environment, opts ...Option) *Environment {
	e := &Environment{
		base:  base,
		noise: perlin.NewPerlin(2, 2, 3, 1337),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Environment) nextNoise(scale float64) float64 {
	step := e.step.Add(1)
	return e.noise.Noise1D(float64(step)*0.01) * scale
}

func (e *Environment) NowMillis() float64 {
	now := e.base.NowMillis()
	if e.clockJitter > 0 {
		now += e.nextNoise(e.clockJitter)
		if now < 0 {
			now = 0
		}
	}
	return now
}

func (e *Environment) Snapshot() hostenv.Snapshot {
	snap := e.base.Snapshot()
	if e.snapshotFn != nil {
		snap = e.snapshotFn(snap)
	}
	return snap
}

func (e *Environment) RenderHash(commands string) string {
	if e.noisyRender {
		salt := fmt.Sprintf("|noise:%.9f", e.nextNoise(1))
		return e.base.RenderHash(commands + salt)
	}
	return e.base.RenderHash(commands)
}

func (e *Environment) ElementRect() hostenv.Rect {
	rect := e.base.ElementRect()
	if e.rectNoise > 0 {
		// Each read is internally consistent (right-left still equals
		// width) but consecutive reads disagree, which the re-derivation
		// check catches.
		d := e.nextNoise(e.rectNoise)
		rect.Width += d
		rect.Right = rect.Left + rect.Width
	}
	if e.rectSkew != 0 {
		rect.Right += e.rectSkew
	}
	return rect
}

func (e *Environment) FrameInterval() time.Duration {
	return e.base.FrameInterval()
}
