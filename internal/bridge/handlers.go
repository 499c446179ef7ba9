package bridge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/batch"
	"github.com/flak3dd/manifold/internal/browser"
	"github.com/flak3dd/manifold/internal/formscan"
)

// dispatch routes one decoded frame to its handler. An unknown kind
// costs the sender one error reply naming the kind. Handlers run on the
// sender's read goroutine, so one observer's commands execute in
// arrival order while other observers proceed independently.
func (s *Server) dispatch(o *observer, msg *schemas.ClientMessage) {
	switch msg.Type {
	case schemas.KindPing:
		s.unicast(o, &schemas.ServerMessage{Type: schemas.KindPong})
	case schemas.KindNavigate:
		s.handleNavigate(o, msg)
	case schemas.KindScreenshot:
		s.handleScreenshot(o)
	case schemas.KindExecute:
		s.handleExecute(o, msg)
	case schemas.KindClick:
		s.handleClick(o, msg)
	case schemas.KindType:
		s.handleType(o, msg)
	case schemas.KindScroll:
		s.handleScroll(msg)
	case schemas.KindExtract:
		s.handleExtract(o, msg)
	case schemas.KindTrafficExport:
		s.handleTrafficExport(o)
	case schemas.KindStop:
		s.session.Stop()
	case schemas.KindScrapeForm:
		s.handleScrapeForm(o, msg)
	case schemas.KindLoginStart:
		s.handleLoginStart(msg)
	case schemas.KindLoginPause, schemas.KindLoginResume, schemas.KindLoginAbort:
		s.handleLoginControl(msg.Type)
	default:
		s.unicast(o, schemas.ErrorFrame(s.session.ID(),
			fmt.Errorf("unknown command kind %q", msg.Type)))
	}
}

// badRequest reports a frame that decoded fine but is missing what its
// kind needs. Only the sender hears about it.
func (s *Server) badRequest(o *observer, msg string) {
	s.unicast(o, schemas.ErrorFrame(s.session.ID(), errors.New(msg)))
}

// operationError reports a failed page operation to every observer. The
// session stays usable; only session-fatal events tear it down.
func (s *Server) operationError(op string, err error) {
	s.logger.Warn("session operation failed", zap.String("op", op), zap.Error(err))
	s.broadcast(schemas.ErrorFrame(s.session.ID(), fmt.Errorf("%s: %w", op, err)))
}

func (s *Server) handleNavigate(o *observer, msg *schemas.ClientMessage) {
	if msg.URL == "" {
		s.badRequest(o, "navigate needs a url")
		return
	}
	res, err := s.session.Navigate(s.baseCtx, msg.URL)
	if err != nil {
		s.operationError("navigate", err)
		return
	}
	s.broadcast(&schemas.ServerMessage{
		Type:      schemas.KindNavigateDone,
		SessionID: s.session.ID(),
		URL:       res.URL,
		Status:    res.Status,
	})
}

func (s *Server) handleScreenshot(o *observer) {
	png, err := s.session.Screenshot(s.baseCtx)
	if err != nil {
		s.operationError("screenshot", err)
		return
	}
	data, err := schemas.MarshalJSONValue(png)
	if err != nil {
		s.operationError("screenshot", err)
		return
	}
	s.unicast(o, &schemas.ServerMessage{
		Type:      schemas.KindScreenshot,
		SessionID: s.session.ID(),
		Data:      data,
	})
}

func (s *Server) handleExecute(o *observer, msg *schemas.ClientMessage) {
	if msg.Script == "" {
		s.badRequest(o, "execute needs a script")
		return
	}
	value, err := s.session.Execute(s.baseCtx, msg.Script)
	if err != nil {
		s.operationError("execute", err)
		return
	}
	s.broadcast(&schemas.ServerMessage{
		Type:      schemas.KindExecuteResult,
		SessionID: s.session.ID(),
		Value:     value,
	})
}

// Click, type, and scroll have no result frame of their own; success is
// silent and observers follow the session through logs and navigation.

func (s *Server) handleClick(o *observer, msg *schemas.ClientMessage) {
	if msg.Selector == "" {
		s.badRequest(o, "click needs a selector")
		return
	}
	if err := s.session.Click(s.baseCtx, msg.Selector); err != nil {
		s.operationError("click", err)
	}
}

func (s *Server) handleType(o *observer, msg *schemas.ClientMessage) {
	if msg.Selector == "" {
		s.badRequest(o, "type needs a selector")
		return
	}
	if err := s.session.Type(s.baseCtx, msg.Selector, msg.Text); err != nil {
		s.operationError("type", err)
	}
}

func (s *Server) handleScroll(msg *schemas.ClientMessage) {
	if err := s.session.Scroll(s.baseCtx, msg.Selector, msg.DeltaY); err != nil {
		s.operationError("scroll", err)
	}
}

func (s *Server) handleExtract(o *observer, msg *schemas.ClientMessage) {
	if msg.Selector == "" {
		s.badRequest(o, "extract needs a selector")
		return
	}
	reply := &schemas.ServerMessage{
		Type:      schemas.KindExtractResult,
		SessionID: s.session.ID(),
	}
	items, err := s.session.Extract(s.baseCtx, msg.Selector)
	switch {
	case err == nil:
		reply.Items = items
	case errors.Is(err, browser.ErrNoElement):
		// Nothing matched: an empty result, not a failure.
	default:
		s.operationError("extract", err)
		return
	}
	s.unicast(o, reply)
}

func (s *Server) handleTrafficExport(o *observer) {
	data, err := schemas.MarshalJSONValue(s.session.ExportTraffic())
	if err != nil {
		s.operationError("traffic_export", err)
		return
	}
	s.unicast(o, &schemas.ServerMessage{
		Type:      schemas.KindTrafficExport,
		SessionID: s.session.ID(),
		Data:      data,
	})
}

// handleScrapeForm drives the live session to the target page and runs
// the selector heuristics over what rendered. The session really does
// navigate away; observers see that through the usual telemetry.
func (s *Server) handleScrapeForm(o *observer, msg *schemas.ClientMessage) {
	if msg.URL == "" {
		s.badRequest(o, "scrape_form needs a url")
		return
	}
	res, err := formscan.Scan(s.baseCtx, s.session, msg.URL, msg.Timeout)
	if err != nil {
		s.operationError("scrape_form", err)
		return
	}
	s.unicast(o, &schemas.ServerMessage{
		Type:   schemas.KindScrapeFormResult,
		Result: res,
	})
}

// handleLoginStart spins up a fresh runner for the supplied run. Only
// one run may be in flight; a second request is answered with a
// login_error naming the active run.
func (s *Server) handleLoginStart(msg *schemas.ClientMessage) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runner != nil && !s.runner.Status().Terminal() {
		s.broadcast(&schemas.ServerMessage{
			Type:    schemas.KindLoginError,
			RunID:   s.runner.RunID(),
			Message: "a login run is already active",
		})
		return
	}
	r := batch.NewRunner(s.launcher, s.batchCfg, s.logger)
	if err := r.Start(s.baseCtx, msg.Run, msg.Profiles, msg.Proxies); err != nil {
		s.broadcast(&schemas.ServerMessage{
			Type:    schemas.KindLoginError,
			Message: schemas.TruncateError(err),
		})
		return
	}
	s.runner = r
	s.wg.Add(1)
	go s.pumpRun(r)
}

// handleLoginControl applies pause, resume, or abort to the current
// run. Transition legality lives in the runner; an illegal request is a
// no-op there and stays silent here, matching the state machine.
func (s *Server) handleLoginControl(kind string) {
	s.runMu.Lock()
	r := s.runner
	s.runMu.Unlock()
	if r == nil {
		s.broadcast(&schemas.ServerMessage{
			Type:    schemas.KindLoginError,
			Message: "no login run to control",
		})
		return
	}
	var st schemas.RunStatus
	switch kind {
	case schemas.KindLoginPause:
		st = r.Pause()
	case schemas.KindLoginResume:
		st = r.Resume()
	case schemas.KindLoginAbort:
		st = r.Abort()
	}
	s.logger.Info("login control applied",
		zap.String("kind", kind),
		zap.String("run_id", r.RunID()),
		zap.String("status", string(st)))
}

// sessionEventFrame maps one session event to its outbound frame. A nil
// frame means the event carries nothing for the wire.
func sessionEventFrame(sid string, ev browser.Event) (*schemas.ServerMessage, error) {
	switch ev.Kind {
	case browser.EventEntropy:
		raw, err := schemas.MarshalJSONValue(ev.Entropy)
		if err != nil {
			return nil, err
		}
		return &schemas.ServerMessage{
			Type:      schemas.KindEntropy,
			SessionID: sid,
			Log:       raw,
		}, nil
	case browser.EventLog:
		return &schemas.ServerMessage{
			Type:      schemas.KindLog,
			SessionID: sid,
			Level:     ev.Level,
			Message:   ev.Message,
		}, nil
	case browser.EventFatal:
		return schemas.ErrorFrame(sid, ev.Err), nil
	}
	return nil, nil
}

// runEventFrame maps one login-run event to its outbound frame. A
// failed run surfaces as login_error; everything else is progress on
// the shared log channel.
func runEventFrame(sid string, ev batch.Event) *schemas.ServerMessage {
	if ev.Kind == batch.EventState && ev.Status == schemas.RunFailed {
		return &schemas.ServerMessage{
			Type:    schemas.KindLoginError,
			RunID:   ev.RunID,
			Message: ev.Message,
		}
	}
	msg := ev.Message
	level := "info"
	if ev.Kind == batch.EventAttempt {
		res := ev.Result
		msg = fmt.Sprintf("attempt %d (%s): %s", res.Index, res.Username, res.Outcome)
		if res.Detail != "" {
			msg = fmt.Sprintf("%s (%s)", msg, res.Detail)
		}
		if res.Outcome == schemas.OutcomeError {
			level = "warn"
		}
	}
	return &schemas.ServerMessage{
		Type:      schemas.KindLog,
		SessionID: sid,
		Level:     level,
		Message:   msg,
	}
}
