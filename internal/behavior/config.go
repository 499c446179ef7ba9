// Package behavior turns high-level interaction intents into seeded,
// reproducible low-level action plans: cursor paths with per-step delays,
// keystroke sequences with bursts and typos, momentum scroll ticks, and the
// macro pacing between actions. Plans are pure data; playing them against a
// page is the session layer's job.
package behavior

import (
	"fmt"
	"strings"
)

// Preset names accepted wherever a profile references a behavior tier.
const (
	PresetBot      = "bot"
	PresetFast     = "fast"
	PresetNormal   = "normal"
	PresetCautious = "cautious"
)

// Config is the complete motor model for one session. Immutable once a
// session is launched; per-attempt variation comes from the seed, not from
// mutating the config.
type Config struct {
	Mouse  MouseConfig  `json:"mouse" mapstructure:"mouse"`
	Typing TypingConfig `json:"typing" mapstructure:"typing"`
	Scroll ScrollConfig `json:"scroll" mapstructure:"scroll"`
	Macro  MacroConfig  `json:"macro" mapstructure:"macro"`
}

// MouseConfig governs pointer travel and clicking.
type MouseConfig struct {
	// BaseSpeedPxPerSec is the nominal cursor speed; each move perturbs it
	// by up to ±SpeedJitter/2 fractionally.
	BaseSpeedPxPerSec float64 `json:"base_speed_px_per_sec" mapstructure:"base_speed_px_per_sec"`
	SpeedJitter       float64 `json:"speed_jitter" mapstructure:"speed_jitter"`
	// CurveScatter displaces the path's control point by this fraction of
	// the move distance, perpendicular to the straight line.
	CurveScatter       float64 `json:"curve_scatter" mapstructure:"curve_scatter"`
	OvershootProb      float64 `json:"overshoot_prob" mapstructure:"overshoot_prob"`
	OvershootMaxPx     float64 `json:"overshoot_max_px" mapstructure:"overshoot_max_px"`
	PreClickPauseMaxMs int     `json:"pre_click_pause_max_ms" mapstructure:"pre_click_pause_max_ms"`
	MicroJitterProb    float64 `json:"micro_jitter_prob" mapstructure:"micro_jitter_prob"`
}

// TypingConfig governs keystroke cadence, burst/pause rhythm, and error
// injection.
type TypingConfig struct {
	BaseWPM   float64 `json:"base_wpm" mapstructure:"base_wpm"`
	WPMJitter float64 `json:"wpm_jitter" mapstructure:"wpm_jitter"`
	// Characters typed between burst pauses, drawn uniformly from
	// [BurstMinChars, BurstMaxChars].
	BurstMinChars int `json:"burst_min_chars" mapstructure:"burst_min_chars"`
	BurstMaxChars int `json:"burst_max_chars" mapstructure:"burst_max_chars"`
	PauseMinMs    int `json:"pause_min_ms" mapstructure:"pause_min_ms"`
	PauseMaxMs    int `json:"pause_max_ms" mapstructure:"pause_max_ms"`
	// TypoRate is the per-character chance of typing an adjacent key,
	// pausing, and correcting it with a backspace.
	TypoRate         float64 `json:"typo_rate" mapstructure:"typo_rate"`
	TypoCorrectMinMs int     `json:"typo_correct_min_ms" mapstructure:"typo_correct_min_ms"`
	TypoCorrectMaxMs int     `json:"typo_correct_max_ms" mapstructure:"typo_correct_max_ms"`
	// DoubleTapRate duplicates the intended key instead of hitting a
	// neighbor; corrected the same way.
	DoubleTapRate         float64 `json:"double_tap_rate" mapstructure:"double_tap_rate"`
	ThinkBeforeLongFields bool    `json:"think_before_long_fields" mapstructure:"think_before_long_fields"`
	ThinkPauseMinMs       int     `json:"think_pause_min_ms" mapstructure:"think_pause_min_ms"`
	ThinkPauseMaxMs       int     `json:"think_pause_max_ms" mapstructure:"think_pause_max_ms"`
}

// ScrollConfig governs the momentum model for wheel gestures.
type ScrollConfig struct {
	InitialVelocityPx float64 `json:"initial_velocity_px" mapstructure:"initial_velocity_px"`
	// MomentumDecay multiplies the velocity each tick; must stay below 1.
	MomentumDecay  float64 `json:"momentum_decay" mapstructure:"momentum_decay"`
	MinVelocityPx  float64 `json:"min_velocity_px" mapstructure:"min_velocity_px"`
	TickMinMs      int     `json:"tick_min_ms" mapstructure:"tick_min_ms"`
	TickMaxMs      int     `json:"tick_max_ms" mapstructure:"tick_max_ms"`
	OvershootProb  float64 `json:"overshoot_prob" mapstructure:"overshoot_prob"`
	OvershootMaxPx float64 `json:"overshoot_max_px" mapstructure:"overshoot_max_px"`
}

// MacroConfig paces the session between interactions, above the fine-motor
// level: settling after page loads, gaps between actions, occasional idle
// stretches, and decoy cursor movement.
type MacroConfig struct {
	PageLoadPauseMinMs int     `json:"page_load_pause_min_ms" mapstructure:"page_load_pause_min_ms"`
	PageLoadPauseMaxMs int     `json:"page_load_pause_max_ms" mapstructure:"page_load_pause_max_ms"`
	InterActionMinMs   int     `json:"inter_action_min_ms" mapstructure:"inter_action_min_ms"`
	InterActionMaxMs   int     `json:"inter_action_max_ms" mapstructure:"inter_action_max_ms"`
	IdlePauseProb      float64 `json:"idle_pause_prob" mapstructure:"idle_pause_prob"`
	IdlePauseMinMs     int     `json:"idle_pause_min_ms" mapstructure:"idle_pause_min_ms"`
	IdlePauseMaxMs     int     `json:"idle_pause_max_ms" mapstructure:"idle_pause_max_ms"`
	RandomPremoveProb  float64 `json:"random_premove_prob" mapstructure:"random_premove_prob"`
}

// ForPreset returns the tuned config for a named tier. The bot tier is
// deliberately mechanical and exists for calibration runs.
func ForPreset(name string) (Config, error) {
	switch strings.ToLower(name) {
	case PresetBot:
		return Config{
			Mouse: MouseConfig{
				BaseSpeedPxPerSec: 4000,
			},
			Typing: TypingConfig{
				BaseWPM:       800,
				BurstMinChars: 999,
				BurstMaxChars: 999,
			},
			Scroll: ScrollConfig{
				InitialVelocityPx: 500,
				MomentumDecay:     0.5,
				MinVelocityPx:     1,
				TickMinMs:         8,
				TickMaxMs:         8,
			},
			Macro: MacroConfig{
				InterActionMaxMs: 10,
			},
		}, nil
	case PresetFast:
		return Config{
			Mouse: MouseConfig{
				BaseSpeedPxPerSec:  1400,
				SpeedJitter:        0.15,
				CurveScatter:       0.15,
				OvershootProb:      0.05,
				OvershootMaxPx:     8,
				PreClickPauseMaxMs: 40,
				MicroJitterProb:    0.05,
			},
			Typing: TypingConfig{
				BaseWPM:          90,
				WPMJitter:        0.15,
				BurstMinChars:    6,
				BurstMaxChars:    14,
				PauseMinMs:       80,
				PauseMaxMs:       200,
				TypoRate:         0.008,
				TypoCorrectMinMs: 120,
				TypoCorrectMaxMs: 280,
				DoubleTapRate:    0.002,
			},
			Scroll: ScrollConfig{
				InitialVelocityPx: 120,
				MomentumDecay:     0.82,
				MinVelocityPx:     2,
				TickMinMs:         12,
				TickMaxMs:         20,
				OvershootProb:     0.05,
				OvershootMaxPx:    30,
			},
			Macro: MacroConfig{
				PageLoadPauseMinMs: 200,
				PageLoadPauseMaxMs: 600,
				InterActionMinMs:   80,
				InterActionMaxMs:   300,
				IdlePauseProb:      0.03,
				IdlePauseMinMs:     500,
				IdlePauseMaxMs:     2000,
				RandomPremoveProb:  0.05,
			},
		}, nil
	case PresetNormal:
		return Config{
			Mouse: MouseConfig{
				BaseSpeedPxPerSec:  800,
				SpeedJitter:        0.30,
				CurveScatter:       0.30,
				OvershootProb:      0.15,
				OvershootMaxPx:     18,
				PreClickPauseMaxMs: 120,
				MicroJitterProb:    0.10,
			},
			Typing: TypingConfig{
				BaseWPM:               65,
				WPMJitter:             0.25,
				BurstMinChars:         4,
				BurstMaxChars:         10,
				PauseMinMs:            150,
				PauseMaxMs:            600,
				TypoRate:              0.02,
				TypoCorrectMinMs:      200,
				TypoCorrectMaxMs:      500,
				DoubleTapRate:         0.005,
				ThinkBeforeLongFields: true,
				ThinkPauseMinMs:       400,
				ThinkPauseMaxMs:       1200,
			},
			Scroll: ScrollConfig{
				InitialVelocityPx: 80,
				MomentumDecay:     0.88,
				MinVelocityPx:     2,
				TickMinMs:         14,
				TickMaxMs:         28,
				OvershootProb:     0.10,
				OvershootMaxPx:    60,
			},
			Macro: MacroConfig{
				PageLoadPauseMinMs: 500,
				PageLoadPauseMaxMs: 1800,
				InterActionMinMs:   200,
				InterActionMaxMs:   800,
				IdlePauseProb:      0.08,
				IdlePauseMinMs:     1000,
				IdlePauseMaxMs:     5000,
				RandomPremoveProb:  0.12,
			},
		}, nil
	case PresetCautious:
		return Config{
			Mouse: MouseConfig{
				BaseSpeedPxPerSec:  400,
				SpeedJitter:        0.45,
				CurveScatter:       0.45,
				OvershootProb:      0.25,
				OvershootMaxPx:     30,
				PreClickPauseMaxMs: 300,
				MicroJitterProb:    0.20,
			},
			Typing: TypingConfig{
				BaseWPM:               38,
				WPMJitter:             0.35,
				BurstMinChars:         2,
				BurstMaxChars:         6,
				PauseMinMs:            400,
				PauseMaxMs:            1400,
				TypoRate:              0.04,
				TypoCorrectMinMs:      400,
				TypoCorrectMaxMs:      900,
				DoubleTapRate:         0.01,
				ThinkBeforeLongFields: true,
				ThinkPauseMinMs:       800,
				ThinkPauseMaxMs:       2500,
			},
			Scroll: ScrollConfig{
				InitialVelocityPx: 50,
				MomentumDecay:     0.92,
				MinVelocityPx:     1.5,
				TickMinMs:         18,
				TickMaxMs:         40,
				OvershootProb:     0.15,
				OvershootMaxPx:    80,
			},
			Macro: MacroConfig{
				PageLoadPauseMinMs: 1200,
				PageLoadPauseMaxMs: 4000,
				InterActionMinMs:   600,
				InterActionMaxMs:   2000,
				IdlePauseProb:      0.15,
				IdlePauseMinMs:     2000,
				IdlePauseMaxMs:     12000,
				RandomPremoveProb:  0.25,
			},
		}, nil
	}
	return Config{}, fmt.Errorf("unknown behavior preset %q", name)
}

// DefaultConfig is the normal preset.
func DefaultConfig() Config {
	cfg, _ := ForPreset(PresetNormal)
	return cfg
}

// Validate returns every field that is out of range; an empty slice means
// the config is usable.
func (c *Config) Validate() []string {
	var errs []string

	if c.Mouse.BaseSpeedPxPerSec <= 0 {
		errs = append(errs, "mouse.base_speed_px_per_sec must be > 0")
	}
	if c.Mouse.SpeedJitter < 0 || c.Mouse.SpeedJitter > 1 {
		errs = append(errs, "mouse.speed_jitter must be in [0, 1]")
	}
	if c.Mouse.CurveScatter < 0 || c.Mouse.CurveScatter > 1 {
		errs = append(errs, "mouse.curve_scatter must be in [0, 1]")
	}
	if c.Mouse.OvershootProb < 0 || c.Mouse.OvershootProb > 1 {
		errs = append(errs, "mouse.overshoot_prob must be in [0, 1]")
	}
	if c.Mouse.MicroJitterProb < 0 || c.Mouse.MicroJitterProb > 1 {
		errs = append(errs, "mouse.micro_jitter_prob must be in [0, 1]")
	}

	if c.Typing.BaseWPM <= 0 {
		errs = append(errs, "typing.base_wpm must be > 0")
	}
	if c.Typing.BurstMinChars > c.Typing.BurstMaxChars {
		errs = append(errs, "typing.burst_min_chars must be <= burst_max_chars")
	}
	if c.Typing.PauseMinMs > c.Typing.PauseMaxMs {
		errs = append(errs, "typing.pause_min_ms must be <= pause_max_ms")
	}
	if c.Typing.TypoRate < 0 || c.Typing.TypoRate > 1 {
		errs = append(errs, "typing.typo_rate must be in [0, 1]")
	}
	if c.Typing.DoubleTapRate < 0 || c.Typing.DoubleTapRate > 1 {
		errs = append(errs, "typing.double_tap_rate must be in [0, 1]")
	}
	if c.Typing.ThinkPauseMinMs > c.Typing.ThinkPauseMaxMs {
		errs = append(errs, "typing.think_pause_min_ms must be <= think_pause_max_ms")
	}

	if c.Scroll.InitialVelocityPx <= 0 {
		errs = append(errs, "scroll.initial_velocity_px must be > 0")
	}
	if c.Scroll.MomentumDecay < 0 || c.Scroll.MomentumDecay >= 1 {
		errs = append(errs, "scroll.momentum_decay must be in [0, 1)")
	}
	if c.Scroll.TickMinMs > c.Scroll.TickMaxMs {
		errs = append(errs, "scroll.tick_min_ms must be <= tick_max_ms")
	}
	if c.Scroll.OvershootProb < 0 || c.Scroll.OvershootProb > 1 {
		errs = append(errs, "scroll.overshoot_prob must be in [0, 1]")
	}

	if c.Macro.PageLoadPauseMinMs > c.Macro.PageLoadPauseMaxMs {
		errs = append(errs, "macro.page_load_pause_min_ms must be <= max")
	}
	if c.Macro.IdlePauseProb < 0 || c.Macro.IdlePauseProb > 1 {
		errs = append(errs, "macro.idle_pause_prob must be in [0, 1]")
	}
	if c.Macro.RandomPremoveProb < 0 || c.Macro.RandomPremoveProb > 1 {
		errs = append(errs, "macro.random_premove_prob must be in [0, 1]")
	}

	return errs
}

// ValidateStrict folds Validate into a single error.
func (c *Config) ValidateStrict() error {
	if errs := c.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid behavior config: %s", strings.Join(errs, "; "))
	}
	return nil
}
