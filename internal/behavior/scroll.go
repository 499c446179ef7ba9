package behavior

import "math"

// scroll plans are bounded regardless of config so a pathological decay
// value cannot produce an endless gesture.
const maxScrollTicks = 2000

// ScrollTick is one wheel event with the pause that precedes it.
type ScrollTick struct {
	DeltaY  float64 `json:"delta_y"`
	DelayMs float64 `json:"delay_ms"`
}

// ScrollPlan is a sequence of wheel ticks. Ticks within a flick shrink by
// the momentum decay factor; long distances take several flicks. Net
// distance always equals the requested delta, overshoot included.
type ScrollPlan struct {
	Ticks []ScrollTick `json:"ticks"`
}

// TotalMs returns the gesture's wall-clock cost.
func (p *ScrollPlan) TotalMs() float64 {
	var total float64
	for _, t := range p.Ticks {
		total += t.DelayMs
	}
	return total
}

// NetDeltaY sums the ticks; after an overshoot the corrective tick brings
// this back to the requested distance.
func (p *ScrollPlan) NetDeltaY() float64 {
	var net float64
	for _, t := range p.Ticks {
		net += t.DeltaY
	}
	return net
}

// PlanScroll decomposes a signed vertical distance into momentum flicks.
// Each flick starts near the configured initial velocity and decays per
// tick until it falls under the velocity floor; remaining distance starts
// another flick after a beat.
func (e *Engine) PlanScroll(deltaY float64) *ScrollPlan {
	s := e.cfg.Scroll
	plan := &ScrollPlan{}

	remaining := math.Abs(deltaY)
	if remaining < 1 {
		return plan
	}
	sign := 1.0
	if deltaY < 0 {
		sign = -1
	}

	for remaining >= 1 && len(plan.Ticks) < maxScrollTicks {
		// Flick strength varies a little around the configured velocity.
		v := s.InitialVelocityPx * (0.85 + e.rng.Float64()*0.3)
		if v < s.MinVelocityPx {
			// A floor above the flick velocity would stall the outer
			// loop; clamp so every flick emits at least one tick.
			v = s.MinVelocityPx
		}
		first := true
		for v >= s.MinVelocityPx && remaining >= 1 && len(plan.Ticks) < maxScrollTicks {
			step := math.Min(v, remaining)
			delay := e.uniformMs(s.TickMinMs, s.TickMaxMs)
			if first && len(plan.Ticks) > 0 {
				// Pause between flicks while the finger repositions.
				delay += e.uniformMs(s.TickMaxMs*2, s.TickMaxMs*5)
			}
			first = false
			plan.Ticks = append(plan.Ticks, ScrollTick{DeltaY: sign * step, DelayMs: delay})
			remaining -= step
			v *= s.MomentumDecay
		}
	}

	if remaining < 1 && e.chance(s.OvershootProb) && s.OvershootMaxPx > 1 {
		over := 1 + e.rng.Float64()*(s.OvershootMaxPx-1)
		plan.Ticks = append(plan.Ticks,
			ScrollTick{DeltaY: sign * over, DelayMs: e.uniformMs(s.TickMinMs, s.TickMaxMs)},
			ScrollTick{DeltaY: -sign * over, DelayMs: e.uniformMs(120, 320)},
		)
	}

	return plan
}
