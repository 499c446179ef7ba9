package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/input"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/behavior"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	entropyInterval        = 30 * time.Second
	entropyFirstProbeDelay = 2 * time.Second
	entropyProbeTimeout    = 10 * time.Second

	executeTimeout    = 30 * time.Second
	screenshotTimeout = 15 * time.Second
	extractTimeout    = 15 * time.Second
)

// Fresh windows park the pointer near the top-left corner until the
// first gesture moves it.
var sessionStartCursor = behavior.Point{X: 12, Y: 12}

// EventKind tags an unsolicited session event.
type EventKind string

const (
	// EventEntropy carries a fresh fingerprint-surface sample.
	EventEntropy EventKind = "entropy"
	// EventLog carries a notable session occurrence for observers.
	EventLog EventKind = "log"
	// EventFatal reports that the tab died underneath the session. It is
	// always followed by the event stream closing.
	EventFatal EventKind = "fatal"
)

// Event is one unsolicited item on the session's event stream. The
// stream closing is the terminal signal: once it closes the session has
// fully stopped and no further state changes happen.
type Event struct {
	Kind    EventKind
	Entropy *schemas.EntropySnapshot
	Level   string
	Message string
	Err     error
}

// NavigateResult reports where a navigation settled.
type NavigateResult struct {
	URL    string
	Status int
}

type opLockMarker struct{}

var opLockKey = opLockMarker{}

// Session drives one live tab wearing one identity. Gesture operations
// (navigate, click, type, scroll, execute) serialize on an internal lock;
// observation operations run alongside them.
type Session struct {
	id     string
	logger *zap.Logger

	fp     *schemas.Fingerprint
	engine *behavior.Engine
	exec   Executor

	traffic *TrafficCollector
	entropy *entropyLog

	// ctx is the tab's lifetime; cancel closes the tab, allocCancel tears
	// down the browser process afterwards.
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	navTimeout time.Duration

	opMu   sync.Mutex
	cursor behavior.Point

	lastNav atomic.Pointer[NavigateResult]

	events   chan Event
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	entropyEvery     time.Duration
	entropyKickDelay time.Duration
	kick             chan struct{}
	kickOnce         sync.Once

	startedAt time.Time
}

// sessionParams collects everything newSession needs. Zero timing fields
// fall back to the package defaults.
type sessionParams struct {
	id               string
	exec             Executor
	fp               *schemas.Fingerprint
	engine           *behavior.Engine
	logger           *zap.Logger
	navTimeout       time.Duration
	entropyEvery     time.Duration
	entropyKickDelay time.Duration
}

// newSession wires a session around an executor and starts its background
// goroutines. ctx and cancel own the tab's lifetime; Launch hands in the
// chromedp pair, tests hand in a plain cancelable context.
func newSession(ctx context.Context, cancel context.CancelFunc, p sessionParams) *Session {
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.navTimeout <= 0 {
		p.navTimeout = 45 * time.Second
	}
	if p.entropyEvery <= 0 {
		p.entropyEvery = entropyInterval
	}
	if p.entropyKickDelay <= 0 {
		p.entropyKickDelay = entropyFirstProbeDelay
	}
	s := &Session{
		id:               p.id,
		logger:           p.logger,
		fp:               p.fp,
		engine:           p.engine,
		exec:             p.exec,
		traffic:          NewTrafficCollector(),
		entropy:          &entropyLog{},
		ctx:              ctx,
		cancel:           cancel,
		allocCancel:      func() {},
		navTimeout:       p.navTimeout,
		cursor:           sessionStartCursor,
		events:           make(chan Event, 32),
		entropyEvery:     p.entropyEvery,
		entropyKickDelay: p.entropyKickDelay,
		kick:             make(chan struct{}, 1),
		startedAt:        time.Now().UTC(),
	}
	s.wg.Add(2)
	go s.watchTab()
	go s.entropyLoop()
	return s
}

func (s *Session) ID() string { return s.id }

// Fingerprint returns the identity the session launched with.
func (s *Session) Fingerprint() *schemas.Fingerprint { return s.fp }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Events is the session's unsolicited stream. It closes exactly once,
// when the session has fully stopped.
func (s *Session) Events() <-chan Event { return s.events }

// Stopped reports whether the terminal state has been reached or begun.
func (s *Session) Stopped() bool { return s.stopped.Load() }

// Traffic exposes the collector for launch-time listener wiring.
func (s *Session) Traffic() *TrafficCollector { return s.traffic }

// emit never blocks; when the buffer is full the event is dropped.
// Observers needing lossless delivery read promptly.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("event buffer full, dropping", zap.String("kind", string(ev.Kind)))
	}
}

// watchTab turns an unexpected tab death into a fatal event followed by a
// normal stop.
func (s *Session) watchTab() {
	defer s.wg.Done()
	<-s.ctx.Done()
	if s.stopped.Load() {
		return
	}
	s.emit(Event{Kind: EventFatal, Err: fmt.Errorf("tab terminated: %w", s.ctx.Err())})
	go s.Stop()
}

func (s *Session) entropyLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.entropyEvery)
	defer ticker.Stop()
	var first <-chan time.Time
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			first = time.After(s.entropyKickDelay)
		case <-first:
			first = nil
			s.sampleEntropy()
		case <-ticker.C:
			s.sampleEntropy()
		}
	}
}

// kickEntropy schedules the one early probe that follows the first
// navigation. Later navigations leave the steady cadence alone.
func (s *Session) kickEntropy() {
	s.kickOnce.Do(func() {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	})
}

// sampleEntropy runs the probe off the gesture lock on purpose: telemetry
// keeps its cadence even while a slow gesture plays, and the probe only
// reads. A failed probe is logged and skipped, never fatal.
func (s *Session) sampleEntropy() {
	ctx, cancel := context.WithTimeout(s.ctx, entropyProbeTimeout)
	defer cancel()

	raw, err := s.exec.Evaluate(ctx, probeJS)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("entropy probe failed", zap.Error(err))
		}
		return
	}
	var snap schemas.EntropySnapshot
	if err := jsonAPI.Unmarshal(raw, &snap); err != nil {
		s.logger.Warn("entropy probe returned malformed payload", zap.Error(err))
		return
	}
	snap.Timestamp = time.Now().UTC()
	s.entropy.add(snap)
	s.emit(Event{Kind: EventEntropy, Entropy: &snap})
}

// acquireOpLock serializes gesture operations. A context already carrying
// the lock marker re-enters without blocking, which lets Type click to
// focus through the lock it already holds.
func (s *Session) acquireOpLock(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(opLockKey) != nil {
		return ctx, func() {}, nil
	}
	if s.stopped.Load() {
		return ctx, func() {}, ErrSessionStopped
	}
	s.opMu.Lock()
	// Re-check after the wait; the session may have stopped meanwhile.
	if s.ctx.Err() != nil || s.stopped.Load() {
		s.opMu.Unlock()
		return ctx, func() {}, ErrSessionStopped
	}
	combined, cancel := CombineContext(s.ctx, ctx)
	locked := context.WithValue(combined, opLockKey, true)
	return locked, func() {
		cancel()
		s.opMu.Unlock()
	}, nil
}

// Navigate drives the tab to url, waits for the load event plus a seeded
// settling pause, and reports where the navigation actually ended up.
func (s *Session) Navigate(ctx context.Context, url string) (*NavigateResult, error) {
	lockedCtx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	navCtx, cancel := context.WithTimeout(lockedCtx, s.navTimeout)
	defer cancel()

	if err := s.exec.Navigate(navCtx, url); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	if pause := s.engine.PlanPageLoadPause(); pause > 0 {
		if err := s.exec.Sleep(lockedCtx, msToDuration(pause)); err != nil {
			return nil, err
		}
	}

	finalURL, err := s.exec.Location(lockedCtx)
	if err != nil || finalURL == "" {
		finalURL = url
	}
	_, status := s.traffic.Document()
	s.kickEntropy()
	s.logger.Info("navigation settled",
		zap.String("url", finalURL),
		zap.Int("status", status))
	res := &NavigateResult{URL: finalURL, Status: status}
	s.lastNav.Store(res)
	return res, nil
}

// LastNavigation reports where the most recent successful navigation
// settled. ok is false before the first one.
func (s *Session) LastNavigation() (NavigateResult, bool) {
	if res := s.lastNav.Load(); res != nil {
		return *res, true
	}
	return NavigateResult{}, false
}

// Click locates the element, plots a cursor path from wherever the
// pointer last rested, and plays the gesture through the executor.
func (s *Session) Click(ctx context.Context, selector string) error {
	lockedCtx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.clickLocked(lockedCtx, selector)
}

func (s *Session) clickLocked(ctx context.Context, selector string) error {
	rect, err := s.exec.ElementRect(ctx, selector)
	if err != nil {
		return err
	}
	plan := s.engine.PlanMouse(s.cursor, rect)
	if err := s.playMousePlan(ctx, plan); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// playMouseTravel walks the cursor along the plan's path without
// touching a button.
func (s *Session) playMouseTravel(ctx context.Context, plan *behavior.MousePlan) error {
	for _, step := range plan.Steps {
		if err := s.exec.Sleep(ctx, msToDuration(step.DelayMs)); err != nil {
			return err
		}
		ev := MouseEvent{Type: input.MouseMoved, X: step.Pos.X, Y: step.Pos.Y, Button: input.None}
		if err := s.exec.DispatchMouse(ctx, ev); err != nil {
			return err
		}
		s.cursor = step.Pos
	}
	return nil
}

func (s *Session) playMousePlan(ctx context.Context, plan *behavior.MousePlan) error {
	if err := s.playMouseTravel(ctx, plan); err != nil {
		return err
	}
	if err := s.exec.Sleep(ctx, msToDuration(plan.PreClickMs)); err != nil {
		return err
	}
	t := plan.Target
	press := MouseEvent{Type: input.MousePressed, X: t.X, Y: t.Y, Button: input.Left, ClickCount: 1}
	if err := s.exec.DispatchMouse(ctx, press); err != nil {
		return err
	}
	if err := s.exec.Sleep(ctx, msToDuration(plan.HoldMs)); err != nil {
		return err
	}
	release := MouseEvent{Type: input.MouseReleased, X: t.X, Y: t.Y, Button: input.Left, ClickCount: 1}
	if err := s.exec.DispatchMouse(ctx, release); err != nil {
		return err
	}
	s.cursor = t
	return nil
}

// Type focuses the field with a real click, then plays the keystroke
// plan. Inserted characters and corrections net out to exactly text.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	lockedCtx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.clickLocked(lockedCtx, selector); err != nil {
		return err
	}
	plan := s.engine.PlanTyping(text)
	if plan.ThinkMs > 0 {
		if err := s.exec.Sleep(lockedCtx, msToDuration(plan.ThinkMs)); err != nil {
			return err
		}
	}
	for _, ks := range plan.Keystrokes {
		if err := s.exec.Sleep(lockedCtx, msToDuration(ks.DelayMs)); err != nil {
			return err
		}
		keys := string(ks.Rune)
		if ks.Action == behavior.KeyBackspace {
			keys = "\b"
		}
		if err := s.exec.SendKeys(lockedCtx, keys); err != nil {
			return fmt.Errorf("type into %q: %w", selector, err)
		}
	}
	return nil
}

// Scroll plays a momentum wheel gesture. With a selector the pointer
// first travels over the element and the wheel spins there; with none it
// spins wherever the pointer last rested.
func (s *Session) Scroll(ctx context.Context, selector string, deltaY float64) error {
	lockedCtx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if selector != "" {
		rect, err := s.exec.ElementRect(lockedCtx, selector)
		if err != nil {
			return err
		}
		hover := s.engine.PlanMouse(s.cursor, rect)
		if err := s.playMouseTravel(lockedCtx, hover); err != nil {
			return fmt.Errorf("scroll to %q: %w", selector, err)
		}
	}

	plan := s.engine.PlanScroll(deltaY)
	for _, tick := range plan.Ticks {
		if err := s.exec.Sleep(lockedCtx, msToDuration(tick.DelayMs)); err != nil {
			return err
		}
		ev := MouseEvent{Type: input.MouseWheel, X: s.cursor.X, Y: s.cursor.Y, Button: input.None, DeltaY: tick.DeltaY}
		if err := s.exec.DispatchMouse(lockedCtx, ev); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
	}
	return nil
}

// Execute evaluates script in the page and returns its JSON value.
// Execution shares the gesture lock so an injected script cannot
// interleave with a gesture in flight.
func (s *Session) Execute(ctx context.Context, script string) (json.RawMessage, error) {
	lockedCtx, unlock, err := s.acquireOpLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	execCtx, cancel := context.WithTimeout(lockedCtx, executeTimeout)
	defer cancel()
	raw, err := s.exec.Evaluate(execCtx, script)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return raw, nil
}

// Screenshot captures the viewport. It skips the gesture lock so
// observers can watch a long gesture mid-flight.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if s.stopped.Load() {
		return nil, ErrSessionStopped
	}
	combined, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	shotCtx, cancelShot := context.WithTimeout(combined, screenshotTimeout)
	defer cancelShot()
	return s.exec.CaptureScreenshot(shotCtx)
}

const extractJS = `(sel =>
	Array.from(document.querySelectorAll(sel)).map(el => el.innerText)
)(%s)`

const pageHTMLJS = `document.documentElement ? document.documentElement.outerHTML : ""`

// Extract returns the visible text of every element matching selector.
// No match is ErrNoElement, not an empty list. Read-only, so it skips
// the gesture lock.
func (s *Session) Extract(ctx context.Context, selector string) ([]string, error) {
	if s.stopped.Load() {
		return nil, ErrSessionStopped
	}
	combined, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	exCtx, cancelEx := context.WithTimeout(combined, extractTimeout)
	defer cancelEx()

	raw, err := s.exec.Evaluate(exCtx, fmt.Sprintf(extractJS, strconv.Quote(selector)))
	if err != nil {
		return nil, fmt.Errorf("extract %q: %w", selector, err)
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("extract %q: %w", selector, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoElement, selector)
	}
	return items, nil
}

// PageHTML returns the rendered document's outer HTML, the input for
// static form analysis.
func (s *Session) PageHTML(ctx context.Context) (string, error) {
	if s.stopped.Load() {
		return "", ErrSessionStopped
	}
	combined, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	exCtx, cancelEx := context.WithTimeout(combined, extractTimeout)
	defer cancelEx()

	raw, err := s.exec.Evaluate(exCtx, pageHTMLJS)
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	var html string
	if err := json.Unmarshal(raw, &html); err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

// ExportTraffic snapshots the traffic ring as an archive.
func (s *Session) ExportTraffic() *schemas.TrafficArchive {
	return s.traffic.Archive()
}

// EntropySamples returns every snapshot collected so far.
func (s *Session) EntropySamples() []schemas.EntropySnapshot {
	return s.entropy.snapshot()
}

// Stop tears the tab down, drains any in-flight gesture, and closes the
// event stream. Safe to call any number of times from any goroutine; the
// first call does the work and later calls wait for it.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.logger.Info("stopping session")
		s.cancel()

		// Taking the gesture lock blocks until the canceled context has
		// unwound whatever operation was in flight.
		s.opMu.Lock()
		defer s.opMu.Unlock()

		s.allocCancel()
		s.wg.Wait()
		close(s.events)
		s.logger.Info("session stopped",
			zap.Int("traffic_entries", s.traffic.Len()),
			zap.Int("entropy_samples", s.entropy.len()))
	})
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
