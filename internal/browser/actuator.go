package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/flak3dd/manifold/internal/behavior"
)

// MouseEvent is one low-level pointer event ready for dispatch.
type MouseEvent struct {
	Type       input.MouseType
	X, Y       float64
	Button     input.MouseButton
	ClickCount int64
	DeltaY     float64
}

// Executor is the seam between gesture playback and the browser. The
// production implementation talks CDP through the session's tab context;
// tests substitute a fake that records dispatches instead of performing
// them.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouse(ctx context.Context, ev MouseEvent) error
	SendKeys(ctx context.Context, keys string) error
	ElementRect(ctx context.Context, selector string) (behavior.Rect, error)
	Evaluate(ctx context.Context, expr string) (json.RawMessage, error)
	Navigate(ctx context.Context, url string) error
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	Location(ctx context.Context) (string, error)
}

// cdpExecutor performs events against whatever chromedp context it is
// handed. Every method expects ctx to descend from the session's tab
// context.
type cdpExecutor struct{}

func (cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
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

func (cdpExecutor) DispatchMouse(ctx context.Context, ev MouseEvent) error {
	if ev.Button == "" {
		ev.Button = input.None
	}
	p := input.DispatchMouseEvent(ev.Type, ev.X, ev.Y).WithButton(ev.Button)
	if ev.ClickCount > 0 {
		p = p.WithClickCount(ev.ClickCount)
	}
	if ev.Type == input.MouseWheel {
		p = p.WithDeltaX(0).WithDeltaY(ev.DeltaY)
	}
	return chromedp.Run(ctx, p)
}

// SendKeys synthesizes key events against the focused element. Control
// runes such as \b map to their special keys.
func (cdpExecutor) SendKeys(ctx context.Context, keys string) error {
	return chromedp.Run(ctx, chromedp.KeyEvent(keys))
}

const elementRectJS = `(sel => {
	const el = document.querySelector(sel);
	if (!el) return null;
	el.scrollIntoView({block: "center", inline: "center", behavior: "instant"});
	const r = el.getBoundingClientRect();
	return {x: r.x, y: r.y, width: r.width, height: r.height};
})(%s)`

// ElementRect scrolls the first match into view and returns its bounding
// box in viewport coordinates, the frame gesture plans are plotted in.
func (cdpExecutor) ElementRect(ctx context.Context, selector string) (behavior.Rect, error) {
	var rect *behavior.Rect
	expr := fmt.Sprintf(elementRectJS, strconv.Quote(selector))
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &rect)); err != nil {
		return behavior.Rect{}, fmt.Errorf("element rect for %q: %w", selector, err)
	}
	if rect == nil {
		return behavior.Rect{}, fmt.Errorf("%w: %q", ErrNoElement, selector)
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return behavior.Rect{}, fmt.Errorf("element %q has no visible box", selector)
	}
	return *rect, nil
}

// Evaluate runs an expression in the page, awaiting promises, and returns
// the JSON value. An undefined result comes back as JSON null.
func (cdpExecutor) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := chromedp.Run(ctx, chromedp.Evaluate(expr, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true).WithReturnByValue(true)
		}))
	if err != nil {
		if errors.Is(err, chromedp.ErrJSUndefined) || errors.Is(err, chromedp.ErrJSNull) {
			return json.RawMessage("null"), nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return raw, nil
}

func (cdpExecutor) Navigate(ctx context.Context, url string) error {
	return chromedp.Run(ctx, chromedp.Navigate(url))
}

func (cdpExecutor) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (cdpExecutor) Location(ctx context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}
