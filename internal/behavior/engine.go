package behavior

import (
	"math"
	"math/rand"

	"github.com/aquilax/go-perlin"
)

// Engine generates action plans from a config and a seed. The same
// (config, seed) pair always yields the same plan sequence, which is what
// makes recorded runs replayable. Engines are not safe for concurrent use;
// each session owns exactly one.
type Engine struct {
	cfg    Config
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
}

// NewEngine builds an engine for one session or attempt. The perlin fields
// drive low-frequency cursor drift and are derived from the same seed so a
// plan sequence stays fully determined by (cfg, seed).
func NewEngine(cfg Config, seed uint64) *Engine {
	// Standard perlin parameters, matching the cursor drift tuning.
	const alpha, beta, n = 2.0, 2.0, 3
	s := int64(seed)
	return &Engine{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(s)),
		noiseX: perlin.NewPerlin(alpha, beta, n, s),
		noiseY: perlin.NewPerlin(alpha, beta, n, s+1),
	}
}

// Config returns the engine's motor model.
func (e *Engine) Config() Config { return e.cfg }

// DeriveSeed maps a profile seed and an attempt index to an independent
// per-attempt seed using the splitmix64 finalizer, so consecutive attempts
// do not produce correlated plans.
func DeriveSeed(base, index uint64) uint64 {
	z := base + (index+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// uniformMs draws a duration in milliseconds from [min, max]. A degenerate
// range collapses to min.
func (e *Engine) uniformMs(min, max int) float64 {
	if max <= min {
		return float64(min)
	}
	return float64(min) + e.rng.Float64()*float64(max-min)
}

// jitterFactor returns a multiplier in [1-j/2, 1+j/2]. With j in [0, 1]
// the factor never halves or doubles a base value.
func (e *Engine) jitterFactor(j float64) float64 {
	if j <= 0 {
		return 1
	}
	return 1 + (e.rng.Float64()-0.5)*j
}

// chance reports a Bernoulli trial with probability p.
func (e *Engine) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	return e.rng.Float64() < p
}

// intBetween draws uniformly from [min, max] inclusive.
func (e *Engine) intBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + e.rng.Intn(max-min+1)
}

// gaussClamp samples a normal distribution and clamps to [lo, hi].
func (e *Engine) gaussClamp(mean, stdDev, lo, hi float64) float64 {
	v := e.rng.NormFloat64()*stdDev + mean
	return math.Min(hi, math.Max(lo, v))
}

// Point is a page coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an element's bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the rect's midpoint.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

func (p Point) add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

func (p Point) sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

func (p Point) scale(f float64) Point { return Point{X: p.X * f, Y: p.Y * f} }

func (p Point) mag() float64 { return math.Hypot(p.X, p.Y) }

func (p Point) normalize() Point {
	m := p.mag()
	if m < 1e-9 {
		return Point{}
	}
	return p.scale(1 / m)
}

// perp returns the unit vector rotated 90 degrees counter-clockwise.
func (p Point) perp() Point { return Point{X: -p.Y, Y: p.X} }
