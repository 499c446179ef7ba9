package behavior

import "math"

// Events along a cursor path are spaced at roughly this rate; real pointers
// report around 60-125 Hz.
const (
	mouseEventsPerSec = 60.0
	minPathSteps      = 4
	maxPathSteps      = 240

	// Hold window between press and release, in ms.
	clickHoldMinMs = 55
	clickHoldMaxMs = 140
)

// MouseStep is one pointer position with the pause that precedes it.
type MouseStep struct {
	Pos     Point   `json:"pos"`
	DelayMs float64 `json:"delay_ms"`
}

// MousePlan is a complete move-and-click gesture. Steps trace the cursor
// from its current position to Target; the player dispatches a move event
// per step, sleeps PreClickMs, presses, holds HoldMs, and releases.
type MousePlan struct {
	Steps      []MouseStep `json:"steps"`
	Target     Point       `json:"target"`
	PreClickMs float64     `json:"pre_click_ms"`
	HoldMs     float64     `json:"hold_ms"`
	Overshot   bool        `json:"overshot"`
}

// TotalMs returns the gesture's wall-clock cost: travel, dwell, and hold.
func (p *MousePlan) TotalMs() float64 {
	total := p.PreClickMs + p.HoldMs
	for _, s := range p.Steps {
		total += s.DelayMs
	}
	return total
}

// PlanMouse plots a cursor gesture from the current position into the
// target rect. The aim point is drawn near the rect's center rather than
// dead on it, the path follows a scattered Bezier with perlin drift, and a
// fraction of gestures overshoot and correct.
func (e *Engine) PlanMouse(from Point, target Rect) *MousePlan {
	aim := e.aimPoint(target)

	plan := &MousePlan{
		Target:     aim,
		PreClickMs: e.uniformMs(0, e.cfg.Mouse.PreClickPauseMaxMs),
		HoldMs:     e.uniformMs(clickHoldMinMs, clickHoldMaxMs),
	}

	dist := aim.sub(from).mag()
	if dist < 1 {
		plan.Steps = []MouseStep{{Pos: aim, DelayMs: e.uniformMs(4, 12)}}
		return plan
	}

	// Overshoot extends the first leg past the aim point along the travel
	// direction, with a short corrective leg back.
	first := aim
	if e.cfg.Mouse.OvershootProb > 0 && e.chance(e.cfg.Mouse.OvershootProb) {
		plan.Overshot = true
		dir := aim.sub(from).normalize()
		over := 2 + e.rng.Float64()*math.Max(1, e.cfg.Mouse.OvershootMaxPx-2)
		first = aim.add(dir.scale(over))
	}

	plan.Steps = e.traceSegment(from, first, dist)
	if plan.Overshot {
		// Settle, then correct at a fraction of travel speed.
		plan.Steps = append(plan.Steps, MouseStep{Pos: first, DelayMs: e.uniformMs(40, 110)})
		plan.Steps = append(plan.Steps, e.traceSegment(first, aim, first.sub(aim).mag())...)
	}

	e.injectMicroJitter(plan)
	return plan
}

// aimPoint picks where inside the rect the cursor lands. Gaussian around
// the center with the spread tied to the rect size, clamped a couple of
// pixels inside the edges so the hit always registers.
func (e *Engine) aimPoint(r Rect) Point {
	c := r.Center()
	if r.Width <= 4 || r.Height <= 4 {
		return c
	}
	x := e.gaussClamp(c.X, r.Width/6, r.X+2, r.X+r.Width-2)
	y := e.gaussClamp(c.Y, r.Height/6, r.Y+2, r.Y+r.Height-2)
	return Point{X: x, Y: y}
}

// traceSegment renders one Bezier leg from a to b as timed steps.
func (e *Engine) traceSegment(a, b Point, refDist float64) []MouseStep {
	dist := b.sub(a).mag()
	if dist < 1 {
		return nil
	}

	speed := e.cfg.Mouse.BaseSpeedPxPerSec * e.jitterFactor(e.cfg.Mouse.SpeedJitter)
	if speed < 1 {
		speed = 1
	}
	durMs := dist / speed * 1000

	steps := int(durMs / 1000 * mouseEventsPerSec)
	if steps < minPathSteps {
		steps = minPathSteps
	}
	if steps > maxPathSteps {
		steps = maxPathSteps
	}

	// Control points at thirds of the chord, pushed sideways by the scatter
	// fraction of the reference distance. Opposite signs bow the path into
	// a gentle S rather than a single arc half the time.
	dir := b.sub(a).normalize()
	perp := dir.perp()
	spread := e.cfg.Mouse.CurveScatter * refDist * 0.5
	o1 := (e.rng.Float64()*2 - 1) * spread
	o2 := (e.rng.Float64()*2 - 1) * spread
	p1 := a.add(dir.scale(dist / 3)).add(perp.scale(o1))
	p2 := a.add(dir.scale(dist * 2 / 3)).add(perp.scale(o2))

	// Drift amplitude scales with scatter; zero scatter means a clean line.
	driftAmp := e.cfg.Mouse.CurveScatter * 6
	const driftFreq = 0.8
	tremor := e.cfg.Mouse.CurveScatter * 0.8

	out := make([]MouseStep, 0, steps)
	prevT := 0.0
	for i := 1; i <= steps; i++ {
		t := easeInOutCubic(float64(i) / float64(steps))
		pos := cubicBezier(a, p1, p2, b, t)

		if i < steps {
			if driftAmp > 0 {
				pos.X += e.noiseX.Noise1D(t*driftFreq) * driftAmp
				pos.Y += e.noiseY.Noise1D(t*driftFreq) * driftAmp
			}
			if tremor > 0 {
				pos.X += e.rng.NormFloat64() * tremor
				pos.Y += e.rng.NormFloat64() * tremor
			}
		} else {
			pos = b
		}

		out = append(out, MouseStep{Pos: pos, DelayMs: durMs * (t - prevT)})
		prevT = t
	}
	return out
}

// injectMicroJitter occasionally stalls the cursor mid-path with a tiny
// displaced step, like a hand settling.
func (e *Engine) injectMicroJitter(p *MousePlan) {
	if len(p.Steps) < 6 || !e.chance(e.cfg.Mouse.MicroJitterProb) {
		return
	}
	at := 1 + e.rng.Intn(len(p.Steps)-2)
	base := p.Steps[at].Pos
	jit := MouseStep{
		Pos: Point{
			X: base.X + (e.rng.Float64()-0.5)*4,
			Y: base.Y + (e.rng.Float64()-0.5)*4,
		},
		DelayMs: e.uniformMs(15, 45),
	}
	p.Steps = append(p.Steps[:at+1], append([]MouseStep{jit}, p.Steps[at+1:]...)...)
}

func cubicBezier(p0, p1, p2, p3 Point, t float64) Point {
	omt := 1 - t
	omt2 := omt * omt
	t2 := t * t
	return p0.scale(omt2 * omt).
		add(p1.scale(3 * omt2 * t)).
		add(p2.scale(3 * omt * t2)).
		add(p3.scale(t2 * t))
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
