package behavior

// MacroGap is the sampled pacing between two page interactions.
type MacroGap struct {
	// PauseMs is the mandatory gap.
	PauseMs float64 `json:"pause_ms"`
	// IdleMs extends the gap when an idle stretch was sampled; zero
	// otherwise.
	IdleMs float64 `json:"idle_ms"`
	// Premove asks the player to wander the cursor somewhere irrelevant
	// before the next real move.
	Premove bool `json:"premove"`
}

// TotalMs returns the gap's full duration.
func (g MacroGap) TotalMs() float64 { return g.PauseMs + g.IdleMs }

// PlanPageLoadPause samples the settling time after a navigation commits,
// before the first interaction with the new page.
func (e *Engine) PlanPageLoadPause() float64 {
	return e.uniformMs(e.cfg.Macro.PageLoadPauseMinMs, e.cfg.Macro.PageLoadPauseMaxMs)
}

// PlanInterAction samples the gap before the next interaction, including
// the occasional long idle and decoy cursor move.
func (e *Engine) PlanInterAction() MacroGap {
	m := e.cfg.Macro
	gap := MacroGap{
		PauseMs: e.uniformMs(m.InterActionMinMs, m.InterActionMaxMs),
		Premove: e.chance(m.RandomPremoveProb),
	}
	if e.chance(m.IdlePauseProb) {
		gap.IdleMs = e.uniformMs(m.IdlePauseMinMs, m.IdlePauseMaxMs)
	}
	return gap
}

// PremoveTarget picks an uninteresting viewport point for a decoy wander,
// biased away from the edges.
func (e *Engine) PremoveTarget(viewportW, viewportH int) Point {
	w := float64(viewportW)
	h := float64(viewportH)
	return Point{
		X: w*0.15 + e.rng.Float64()*w*0.7,
		Y: h*0.15 + e.rng.Float64()*h*0.7,
	}
}
