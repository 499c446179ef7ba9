package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/flak3dd/manifold/internal/behavior"
	"github.com/flak3dd/manifold/internal/fingerprint"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testSeed is shared by newTestSession and testEngine so a test can
// re-derive the exact plans a session played.
const testSeed = 1

// fakeExecutor records every dispatch instead of performing it. Sleeps
// return immediately so plans play at test speed; sleepHook lets a test
// hold an operation mid-gesture.
type fakeExecutor struct {
	mu     sync.Mutex
	mouse  []MouseEvent
	keys   []string
	sleeps []time.Duration
	navs   []string

	rects     map[string]behavior.Rect
	loc       string
	navErr    error
	evalFn    func(expr string) (json.RawMessage, error)
	sleepHook func(ctx context.Context) error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{rects: make(map[string]behavior.Rect)}
}

func (f *fakeExecutor) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	hook := f.sleepHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (f *fakeExecutor) DispatchMouse(ctx context.Context, ev MouseEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mouse = append(f.mouse, ev)
	return nil
}

func (f *fakeExecutor) SendKeys(ctx context.Context, keys string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys)
	return nil
}

func (f *fakeExecutor) ElementRect(ctx context.Context, selector string) (behavior.Rect, error) {
	if err := ctx.Err(); err != nil {
		return behavior.Rect{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rects[selector]
	if !ok {
		return behavior.Rect{}, fmt.Errorf("%w: %q", ErrNoElement, selector)
	}
	return r, nil
}

func (f *fakeExecutor) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	fn := f.evalFn
	f.mu.Unlock()
	if fn != nil {
		return fn(expr)
	}
	return json.RawMessage("null"), nil
}

func (f *fakeExecutor) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navs = append(f.navs, url)
	return nil
}

func (f *fakeExecutor) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("png-bytes"), nil
}

func (f *fakeExecutor) Location(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loc, nil
}

func (f *fakeExecutor) mouseEvents() []MouseEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MouseEvent, len(f.mouse))
	copy(out, f.mouse)
	return out
}

func (f *fakeExecutor) wheelEvents() []MouseEvent {
	var out []MouseEvent
	for _, ev := range f.mouseEvents() {
		if ev.Type == input.MouseWheel {
			out = append(out, ev)
		}
	}
	return out
}

// typedText folds the recorded key stream, applying backspaces, into the
// text a page would have ended up with.
func (f *fakeExecutor) typedText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var runes []rune
	for _, k := range f.keys {
		if k == "\b" {
			if len(runes) > 0 {
				runes = runes[:len(runes)-1]
			}
			continue
		}
		runes = append(runes, []rune(k)...)
	}
	return string(runes)
}

// newTestSession builds a session over exec with a fixed seed and the
// bot behavior tier. The session is stopped at cleanup.
func newTestSession(t *testing.T, exec Executor, opts ...func(*sessionParams)) *Session {
	t.Helper()
	cfg, err := behavior.ForPreset(behavior.PresetBot)
	require.NoError(t, err)
	p := sessionParams{
		id:               "sess-under-test",
		exec:             exec,
		fp:               fingerprint.Generate(testSeed),
		engine:           behavior.NewEngine(cfg, testSeed),
		logger:           zaptest.NewLogger(t),
		entropyKickDelay: time.Millisecond,
	}
	for _, opt := range opts {
		opt(&p)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(ctx, cancel, p)
	t.Cleanup(s.Stop)
	return s
}

// testEngine starts at the same point of the same random stream as the
// engine inside newTestSession.
func testEngine(t *testing.T) *behavior.Engine {
	t.Helper()
	cfg, err := behavior.ForPreset(behavior.PresetBot)
	require.NoError(t, err)
	return behavior.NewEngine(cfg, testSeed)
}
