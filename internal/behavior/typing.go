package behavior

// KeyAction distinguishes character insertion from correction.
type KeyAction int

const (
	KeyInsert KeyAction = iota
	KeyBackspace
)

// Keystroke is one key event with the pause that precedes it. For
// KeyBackspace the Rune field is zero.
type Keystroke struct {
	Action  KeyAction `json:"action"`
	Rune    rune      `json:"rune,omitempty"`
	DelayMs float64   `json:"delay_ms"`
}

// TypingPlan is a full keystroke sequence for one field. Played in order,
// the inserted and deleted characters net out to exactly the input text.
type TypingPlan struct {
	// ThinkMs is an up-front pause before the first key, sampled only for
	// long fields when the config asks for it.
	ThinkMs    float64     `json:"think_ms"`
	Keystrokes []Keystroke `json:"keystrokes"`
}

// TotalMs returns the plan's wall-clock cost.
func (p *TypingPlan) TotalMs() float64 {
	total := p.ThinkMs
	for _, k := range p.Keystrokes {
		total += k.DelayMs
	}
	return total
}

// NetText replays the plan against an empty buffer and returns the
// resulting string. Used to assert that error injection always corrects
// itself.
func (p *TypingPlan) NetText() string {
	var buf []rune
	for _, k := range p.Keystrokes {
		switch k.Action {
		case KeyInsert:
			buf = append(buf, k.Rune)
		case KeyBackspace:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
			}
		}
	}
	return string(buf)
}

// Long fields get an up-front composition pause; threshold in characters.
const thinkFieldThreshold = 20

// PlanTyping converts text into a keystroke sequence. The base inter-key
// delay is 30000/BaseWPM milliseconds, perturbed per key by WPMJitter;
// bursts of a few characters are separated by longer pauses, and a small
// fraction of characters come out wrong and get backspaced into shape.
func (e *Engine) PlanTyping(text string) *TypingPlan {
	t := e.cfg.Typing
	plan := &TypingPlan{}

	runes := []rune(text)
	if len(runes) == 0 {
		return plan
	}

	if t.ThinkBeforeLongFields && len(runes) > thinkFieldThreshold {
		plan.ThinkMs = e.uniformMs(t.ThinkPauseMinMs, t.ThinkPauseMaxMs)
	}

	burstLeft := e.intBetween(t.BurstMinChars, t.BurstMaxChars)
	for _, r := range runes {
		delay := e.keyDelay()

		if burstLeft <= 0 {
			delay += e.uniformMs(t.PauseMinMs, t.PauseMaxMs)
			burstLeft = e.intBetween(t.BurstMinChars, t.BurstMaxChars)
		}
		burstLeft--

		switch {
		case e.chance(t.TypoRate):
			if wrong, ok := e.neighborKey(r); ok {
				e.appendTypo(plan, wrong, r, delay)
				continue
			}
			// No neighbor on this key; type it cleanly.
			plan.Keystrokes = append(plan.Keystrokes, Keystroke{Action: KeyInsert, Rune: r, DelayMs: delay})
		case e.chance(t.DoubleTapRate):
			e.appendDoubleTap(plan, r, delay)
		default:
			plan.Keystrokes = append(plan.Keystrokes, Keystroke{Action: KeyInsert, Rune: r, DelayMs: delay})
		}
	}

	return plan
}

// keyDelay samples one inter-key interval.
func (e *Engine) keyDelay() float64 {
	return 30000 / e.cfg.Typing.BaseWPM * e.jitterFactor(e.cfg.Typing.WPMJitter)
}

// appendTypo emits the wrong key, a recognition pause, a backspace, and
// the intended key.
func (e *Engine) appendTypo(plan *TypingPlan, wrong, intended rune, delay float64) {
	t := e.cfg.Typing
	plan.Keystrokes = append(plan.Keystrokes,
		Keystroke{Action: KeyInsert, Rune: wrong, DelayMs: delay},
		Keystroke{Action: KeyBackspace, DelayMs: e.uniformMs(t.TypoCorrectMinMs, t.TypoCorrectMaxMs)},
		Keystroke{Action: KeyInsert, Rune: intended, DelayMs: e.keyDelay()},
	)
}

// appendDoubleTap emits the key twice in quick succession, then deletes
// the duplicate after a recognition pause.
func (e *Engine) appendDoubleTap(plan *TypingPlan, r rune, delay float64) {
	t := e.cfg.Typing
	dup := delay * (0.3 + e.rng.Float64()*0.3)
	plan.Keystrokes = append(plan.Keystrokes,
		Keystroke{Action: KeyInsert, Rune: r, DelayMs: delay},
		Keystroke{Action: KeyInsert, Rune: r, DelayMs: dup},
		Keystroke{Action: KeyBackspace, DelayMs: e.uniformMs(t.TypoCorrectMinMs, t.TypoCorrectMaxMs)},
	)
}
