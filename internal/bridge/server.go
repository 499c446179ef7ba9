// Package bridge exposes one live browser session to many WebSocket
// observers. Inbound frames are commands against the session; outbound
// frames carry results and telemetry, unicast to the requester or
// broadcast to everyone depending on the kind. The bridge lives exactly
// as long as its session: when the session stops, every observer gets a
// terminal stopped frame and the server drains and returns.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/batch"
	"github.com/flak3dd/manifold/internal/browser"
	"github.com/flak3dd/manifold/internal/config"
)

// Session is the slice of the live browser session the bridge drives.
// *browser.Session satisfies it.
type Session interface {
	ID() string
	Navigate(ctx context.Context, url string) (*browser.NavigateResult, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Scroll(ctx context.Context, selector string, deltaY float64) error
	Execute(ctx context.Context, script string) (json.RawMessage, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Extract(ctx context.Context, selector string) ([]string, error)
	PageHTML(ctx context.Context) (string, error)
	ExportTraffic() *schemas.TrafficArchive
	LastNavigation() (browser.NavigateResult, bool)
	Events() <-chan browser.Event
	Stop()
}

var _ Session = (*browser.Session)(nil)

// Server multiplexes observers onto one session.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	session  Session
	launcher batch.Launcher
	batchCfg batch.Config

	upgrader websocket.Upgrader

	ln      net.Listener
	port    int
	httpSrv *http.Server

	// baseCtx is the context handed to Serve. Commands bind to it, not
	// to the requesting connection: a command outlives its requester
	// because its result is broadcast to everyone still attached.
	baseCtx context.Context

	mu        sync.Mutex
	observers map[*observer]struct{}
	closing   bool

	runMu  sync.Mutex
	runner *batch.Runner

	closed       chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New builds a bridge server around a live session. launcher provisions
// the short-lived sessions that login runs burn through.
func New(cfg config.ServerConfig, sess Session, launcher batch.Launcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		logger:    logger.Named("bridge"),
		session:   sess,
		launcher:  launcher,
		observers: make(map[*observer]struct{}),
		closed:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Operator tooling connects from CLIs and local consoles;
			// there is no browser origin to trust here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Listen binds the configured address and reports the port actually
// bound, so the caller can announce readiness before serving begins.
func (s *Server) Listen() (int, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("bind %s: %w", addr, err)
	}
	s.ln = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	return s.port, nil
}

// Serve accepts observers until the session stops or ctx is canceled,
// then flushes every observer and returns. A nil return means the
// bridge went down with its session, the normal end of life.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("serve before listen")
	}
	s.baseCtx = ctx
	s.httpSrv = &http.Server{Handler: http.HandlerFunc(s.handleWS)}

	s.wg.Add(2)
	go s.watchContext(ctx)
	go s.pumpSession()

	s.logger.Info("bridge listening",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.port),
		zap.String("session_id", s.session.ID()))

	err := s.httpSrv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	} else {
		s.logger.Error("bridge listener failed", zap.Error(err))
		s.session.Stop()
	}
	s.wg.Wait()
	return err
}

// watchContext turns cancellation of the serve context into a session
// stop, which in turn winds the whole bridge down.
func (s *Server) watchContext(ctx context.Context) {
	defer s.wg.Done()
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested, stopping session")
		s.session.Stop()
	case <-s.closed:
	}
}

// pumpSession relays the session's event stream to every observer. The
// stream closing means the session has fully stopped: one terminal
// stopped frame goes out, then the bridge tears down.
func (s *Server) pumpSession() {
	defer s.wg.Done()
	sid := s.session.ID()
	for ev := range s.session.Events() {
		frame, err := sessionEventFrame(sid, ev)
		if err != nil {
			s.logger.Error("session event encode failed", zap.Error(err))
			continue
		}
		if frame != nil {
			s.broadcast(frame)
		}
	}
	s.broadcast(&schemas.ServerMessage{Type: schemas.KindStopped, SessionID: sid})
	s.shutdown()
}

// pumpRun relays one login run's progress until its event stream closes.
func (s *Server) pumpRun(r *batch.Runner) {
	defer s.wg.Done()
	sid := s.session.ID()
	for ev := range r.Events() {
		s.broadcast(runEventFrame(sid, ev))
	}
}

// shutdown tears the bridge down exactly once: release the context
// watcher, abort any login run still going, flush and close every
// observer, then close the listener. Closing an observer's channel
// after the stopped frame is queued lets the write pump drain it before
// the close handshake.
func (s *Server) shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.closed)

		s.runMu.Lock()
		r := s.runner
		s.runMu.Unlock()
		if r != nil {
			r.Abort()
		}

		s.mu.Lock()
		s.closing = true
		for o := range s.observers {
			delete(s.observers, o)
			close(o.out)
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("listener shutdown", zap.Error(err))
		}
	})
}

// handleWS upgrades one connection and runs its read side until the
// observer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade rejected", zap.Error(err))
		return
	}
	o := newObserver(conn, s.cfg.ObserverBuffer, s.cfg.WriteTimeout, s.logger)
	if !s.register(o) {
		_ = conn.Close()
		return
	}
	s.logger.Info("observer attached", zap.String("remote", conn.RemoteAddr().String()))
	s.sendAttachFrames(o)
	s.readPump(o)
}

// register adds a freshly upgraded observer and starts its write pump.
// false means the bridge is already shutting down.
func (s *Server) register(o *observer) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.observers[o] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		o.writePump()
	}()
	return true
}

// detach removes an observer if it is still attached and closes its
// channel so the write pump finishes.
func (s *Server) detach(o *observer, reason string) {
	s.mu.Lock()
	_, attached := s.observers[o]
	if attached {
		delete(s.observers, o)
		close(o.out)
	}
	remaining := len(s.observers)
	s.mu.Unlock()
	if attached {
		s.logger.Info("observer detached",
			zap.String("reason", reason),
			zap.Int("remaining", remaining))
	}
}

// sendAttachFrames replays the minimum a late joiner needs: the session
// identity, and where the session currently is so the joiner converges
// on the live page without history replay. A session that has not
// navigated yet has nowhere to report.
func (s *Server) sendAttachFrames(o *observer) {
	s.unicast(o, &schemas.ServerMessage{
		Type:      schemas.KindReady,
		SessionID: s.session.ID(),
		Port:      s.port,
	})
	if nav, ok := s.session.LastNavigation(); ok {
		s.unicast(o, &schemas.ServerMessage{
			Type:      schemas.KindNavigateDone,
			SessionID: s.session.ID(),
			URL:       nav.URL,
			Status:    nav.Status,
		})
	}
}

// readPump owns the connection's inbound side. Frames dispatch in
// arrival order; a malformed frame costs the sender one error reply,
// never the connection.
func (s *Server) readPump(o *observer) {
	defer o.conn.Close()
	defer s.detach(o, "connection closed")
	o.conn.SetReadLimit(s.cfg.MaxFrameBytes)
	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("observer read failed", zap.Error(err))
			}
			return
		}
		msg, err := schemas.DecodeClientMessage(data)
		if err != nil {
			s.unicast(o, schemas.ErrorFrame(s.session.ID(), err))
			continue
		}
		s.dispatch(o, msg)
	}
}

// broadcast fans a frame out to every observer. An observer whose
// buffer is full has stopped keeping up and is dropped rather than
// allowed to stall the rest.
func (s *Server) broadcast(msg *schemas.ServerMessage) {
	frame, err := schemas.EncodeServerMessage(msg)
	if err != nil {
		s.logger.Error("outbound frame encode failed",
			zap.String("kind", msg.Type), zap.Error(err))
		return
	}
	s.mu.Lock()
	for o := range s.observers {
		if !o.enqueue(frame) {
			delete(s.observers, o)
			close(o.out)
			s.logger.Warn("observer too slow, dropping",
				zap.String("kind", msg.Type))
		}
	}
	s.mu.Unlock()
}

// unicast sends a frame to one observer, under the same slow-consumer
// policy as broadcast. Nothing is sent if the observer already
// detached.
func (s *Server) unicast(o *observer, msg *schemas.ServerMessage) {
	frame, err := schemas.EncodeServerMessage(msg)
	if err != nil {
		s.logger.Error("outbound frame encode failed",
			zap.String("kind", msg.Type), zap.Error(err))
		return
	}
	s.mu.Lock()
	if _, attached := s.observers[o]; attached && !o.enqueue(frame) {
		delete(s.observers, o)
		close(o.out)
		s.logger.Warn("observer too slow, dropping",
			zap.String("kind", msg.Type))
	}
	s.mu.Unlock()
}
