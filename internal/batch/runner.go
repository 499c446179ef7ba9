// Package batch executes login runs: an ordered queue of credential
// attempts driven against one target form, each attempt wearing its own
// profile, proxy, and derived behavior seed inside a short-lived
// browser session.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/behavior"
	"github.com/flak3dd/manifold/internal/browser"
)

const (
	// defaultSettle is how long the page gets to react after submit
	// before the outcome selectors are probed.
	defaultSettle = 2500 * time.Millisecond

	eventBuffer = 32
)

// AttemptSession is the slice of a live session the runner drives during
// one attempt. *browser.Session satisfies it.
type AttemptSession interface {
	Navigate(ctx context.Context, url string) (*browser.NavigateResult, error)
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Extract(ctx context.Context, selector string) ([]string, error)
	Stop()
}

// Launcher provisions a session wearing one attempt's identity.
// Implementations own browser startup; the runner owns teardown through
// the returned session's Stop.
type Launcher interface {
	Launch(ctx context.Context, profile schemas.Profile, proxy *schemas.Proxy) (AttemptSession, error)
}

// EventKind tags a runner progress event.
type EventKind string

const (
	// EventState reports a lifecycle transition.
	EventState EventKind = "state"
	// EventAttempt carries one finished attempt's result.
	EventAttempt EventKind = "attempt"
)

// Event is one item on the runner's progress stream. The stream closing
// is the terminal signal: the run has reached a terminal status and no
// further results will arrive.
type Event struct {
	Kind    EventKind
	RunID   string
	Status  schemas.RunStatus
	Result  *schemas.AttemptResult
	Message string
}

// Config tunes a Runner. Zero values fall back to package defaults.
type Config struct {
	Settle time.Duration
}

// Runner executes one login run. Pause, Resume, and Abort are
// cooperative: they flip the state immediately but take effect at
// attempt boundaries, never mid-attempt, so no attempt is left with a
// half-filled form.
type Runner struct {
	logger   *zap.Logger
	launcher Launcher
	settle   time.Duration

	mu            sync.Mutex
	status        schemas.RunStatus
	run           *schemas.LoginRun
	profiles      map[string]schemas.Profile
	proxies       map[string]schemas.Proxy
	cursor        int
	results       []schemas.AttemptResult
	resumeCh      chan struct{}
	abortCh       chan struct{}
	cancelAttempt context.CancelFunc

	events chan Event
}

// NewRunner builds an idle runner. Call Start to begin the run.
func NewRunner(launcher Launcher, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	settle := cfg.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	return &Runner{
		logger:   logger.Named("batch"),
		launcher: launcher,
		settle:   settle,
		status:   schemas.RunIdle,
		resumeCh: make(chan struct{}),
		abortCh:  make(chan struct{}),
		events:   make(chan Event, eventBuffer),
	}
}

func validateRun(run *schemas.LoginRun) error {
	if run == nil {
		return errors.New("login run is required")
	}
	var errs []error
	if !strings.HasPrefix(run.TargetURL, "http://") && !strings.HasPrefix(run.TargetURL, "https://") {
		errs = append(errs, errors.New("targetUrl must start with http:// or https://"))
	}
	if len(run.Attempts) == 0 {
		errs = append(errs, errors.New("at least one attempt is required"))
	}
	if run.Form.UsernameSelector == "" || run.Form.PasswordSelector == "" || run.Form.SubmitSelector == "" {
		errs = append(errs, errors.New("form needs username, password, and submit selectors"))
	}
	return errors.Join(errs...)
}

// Start validates the run and begins executing it on a background
// goroutine. The run, profiles, and proxies must not be mutated by the
// caller afterwards. Starting is legal exactly once, from idle.
func (r *Runner) Start(ctx context.Context, run *schemas.LoginRun, profiles []schemas.Profile, proxies []schemas.Proxy) error {
	if err := validateRun(run); err != nil {
		return fmt.Errorf("invalid login run: %w", err)
	}

	r.mu.Lock()
	if r.status != schemas.RunIdle {
		st := r.status
		r.mu.Unlock()
		return fmt.Errorf("run is %s, not idle", st)
	}
	rc := *run
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	r.run = &rc
	r.profiles = make(map[string]schemas.Profile, len(profiles))
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	r.proxies = make(map[string]schemas.Proxy, len(proxies))
	for _, p := range proxies {
		r.proxies[p.ID] = p
	}
	r.status = schemas.RunRunning
	r.mu.Unlock()

	r.logger.Info("login run started",
		zap.String("run_id", rc.ID),
		zap.String("target", rc.TargetURL),
		zap.Int("attempts", len(rc.Attempts)))
	r.emitState(schemas.RunRunning, fmt.Sprintf("run started with %d attempts", len(rc.Attempts)))
	go r.loop(ctx)
	return nil
}

func (r *Runner) loop(ctx context.Context) {
	for {
		index, cred, ok := r.gate(ctx)
		if !ok {
			break
		}
		res := r.attempt(ctx, index, cred)

		r.mu.Lock()
		r.results = append(r.results, res)
		r.cursor = index + 1
		r.mu.Unlock()

		r.logger.Info("attempt finished",
			zap.Int("index", index),
			zap.String("username", cred.Username),
			zap.String("outcome", string(res.Outcome)))
		r.emit(Event{Kind: EventAttempt, RunID: r.run.ID, Result: &res})
	}
	r.finish(ctx)
}

// gate is the attempt boundary: it blocks while the run is paused and
// hands out the next work item. ok=false means the loop should finish.
func (r *Runner) gate(ctx context.Context) (int, schemas.LoginCredential, bool) {
	var zero schemas.LoginCredential
	for {
		if ctx.Err() != nil {
			return 0, zero, false
		}
		r.mu.Lock()
		st := r.status
		index := r.cursor
		resume, abort := r.resumeCh, r.abortCh
		var cred schemas.LoginCredential
		more := index < len(r.run.Attempts)
		if more {
			cred = r.run.Attempts[index]
		}
		r.mu.Unlock()

		switch st {
		case schemas.RunRunning:
			if !more {
				return 0, zero, false
			}
			return index, cred, true
		case schemas.RunPaused:
			r.emitState(schemas.RunPaused, fmt.Sprintf("run paused before attempt %d", index))
			select {
			case <-resume:
				r.emitState(schemas.RunRunning, fmt.Sprintf("run resumed at attempt %d", index))
			case <-abort:
			case <-ctx.Done():
			}
		default:
			return 0, zero, false
		}
	}
}

func (r *Runner) finish(ctx context.Context) {
	r.mu.Lock()
	if !r.status.Terminal() {
		if ctx.Err() != nil {
			r.status = schemas.RunFailed
		} else {
			r.status = schemas.RunCompleted
		}
	}
	st := r.status
	done := len(r.results)
	total := len(r.run.Attempts)
	r.mu.Unlock()

	r.logger.Info("login run finished",
		zap.String("run_id", r.run.ID),
		zap.String("status", string(st)),
		zap.Int("attempts_done", done))
	if st == schemas.RunFailed {
		r.emitState(st, "run failed: context canceled before the queue drained")
	} else {
		r.emitState(st, fmt.Sprintf("run %s, %d of %d attempts finished", st, done, total))
	}
	close(r.events)
}

// attempt drives one credential through the full pipeline: launch a
// session wearing the tuple's identity, fill and submit the form, then
// classify what the page shows. Failures and panics never escape; they
// become the attempt's outcome.
func (r *Runner) attempt(ctx context.Context, index int, cred schemas.LoginCredential) (res schemas.AttemptResult) {
	start := time.Now()
	res = schemas.AttemptResult{Index: index, Username: cred.Username, Outcome: schemas.OutcomeError}
	defer func() {
		if rec := recover(); rec != nil {
			res.Outcome = schemas.OutcomeError
			res.Detail = fmt.Sprintf("attempt panic: %v", rec)
			r.logger.Error("attempt panicked",
				zap.Int("index", index),
				zap.Any("panic_value", rec),
				zap.String("stack", string(debug.Stack())))
		}
		res.Elapsed = float64(time.Since(start)) / float64(time.Millisecond)
	}()

	prof, ok := r.profiles[cred.ProfileID]
	if !ok {
		res.Detail = fmt.Sprintf("unknown profile %q", cred.ProfileID)
		return res
	}
	var proxy *schemas.Proxy
	if cred.ProxyID != "" {
		px, ok := r.proxies[cred.ProxyID]
		if !ok {
			res.Detail = fmt.Sprintf("unknown proxy %q", cred.ProxyID)
			return res
		}
		proxy = &px
	}

	// Each attempt gets its own motor noise; the fingerprint stays
	// whatever the profile pins.
	prof.Seed = behavior.DeriveSeed(prof.Seed, uint64(index))

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancelAttempt = cancel
	aborted := r.status == schemas.RunAborted
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancelAttempt = nil
		r.mu.Unlock()
	}()
	if aborted {
		// Abort landed between the boundary and registration.
		cancel()
	}

	sess, err := r.launcher.Launch(attemptCtx, prof, proxy)
	if err != nil {
		res.Detail = fmt.Sprintf("launch: %v", err)
		return res
	}
	defer sess.Stop()

	if _, err := sess.Navigate(attemptCtx, r.run.TargetURL); err != nil {
		res.Detail = fmt.Sprintf("navigate: %v", err)
		return res
	}
	form := r.run.Form
	if err := sess.Type(attemptCtx, form.UsernameSelector, cred.Username); err != nil {
		res.Detail = fmt.Sprintf("fill username: %v", err)
		return res
	}
	if err := sess.Type(attemptCtx, form.PasswordSelector, cred.Password); err != nil {
		res.Detail = fmt.Sprintf("fill password: %v", err)
		return res
	}
	if err := sess.Click(attemptCtx, form.SubmitSelector); err != nil {
		res.Detail = fmt.Sprintf("submit: %v", err)
		return res
	}
	if err := sleep(attemptCtx, r.settle); err != nil {
		res.Detail = fmt.Sprintf("settle: %v", err)
		return res
	}

	res.Outcome, res.Detail = r.classify(attemptCtx, sess)
	return res
}

// classify probes the descriptor's selector lists in precedence order:
// success beats CAPTCHA beats failure. A page matching none of them is
// an error outcome, not a guess.
func (r *Runner) classify(ctx context.Context, sess AttemptSession) (schemas.AttemptOutcome, string) {
	form := r.run.Form
	checks := []struct {
		outcome   schemas.AttemptOutcome
		selectors []string
	}{
		{schemas.OutcomeSuccess, form.SuccessSelectors},
		{schemas.OutcomeChallenge, form.CaptchaSelectors},
		{schemas.OutcomeDeclined, form.FailureSelectors},
	}
	for _, c := range checks {
		for _, sel := range c.selectors {
			if sel == "" {
				continue
			}
			if _, err := sess.Extract(ctx, sel); err == nil {
				return c.outcome, fmt.Sprintf("matched %q", sel)
			}
			if ctx.Err() != nil {
				return schemas.OutcomeError, fmt.Sprintf("classification interrupted: %v", ctx.Err())
			}
		}
	}
	return schemas.OutcomeError, "no success, captcha, or failure selector matched"
}

// Pause holds the run at the next attempt boundary. Any state other
// than running is returned unchanged.
func (r *Runner) Pause() schemas.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != schemas.RunRunning {
		return r.status
	}
	r.status = schemas.RunPaused
	r.resumeCh = make(chan struct{})
	r.logger.Info("pause requested", zap.Int("cursor", r.cursor))
	return r.status
}

// Resume releases a paused run from its stored cursor.
func (r *Runner) Resume() schemas.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != schemas.RunPaused {
		return r.status
	}
	r.status = schemas.RunRunning
	close(r.resumeCh)
	r.logger.Info("resume requested", zap.Int("cursor", r.cursor))
	return r.status
}

// Abort cancels the run: the in-flight attempt's context is torn down
// and the loop stops at its next boundary. Terminal states are returned
// unchanged. Aborting a runner that never started just closes the event
// stream.
func (r *Runner) Abort() schemas.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return r.status
	}
	prev := r.status
	r.status = schemas.RunAborted
	close(r.abortCh)
	if r.cancelAttempt != nil {
		r.cancelAttempt()
	}
	if prev == schemas.RunIdle {
		close(r.events)
	}
	r.logger.Info("abort requested", zap.Int("cursor", r.cursor))
	return r.status
}

// Status returns the current lifecycle state.
func (r *Runner) Status() schemas.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Results returns a snapshot of the outcomes recorded so far, in
// attempt order.
func (r *Runner) Results() []schemas.AttemptResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schemas.AttemptResult, len(r.results))
	copy(out, r.results)
	return out
}

// Events returns the progress stream. It closes once the run reaches a
// terminal state and the run goroutine has exited.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// RunID returns the run's identifier, generated at Start when the input
// carried none. Empty before Start.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return ""
	}
	return r.run.ID
}

func (r *Runner) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Debug("progress buffer full, dropping", zap.String("kind", string(ev.Kind)))
	}
}

func (r *Runner) emitState(st schemas.RunStatus, msg string) {
	r.emit(Event{Kind: EventState, RunID: r.run.ID, Status: st, Message: msg})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
