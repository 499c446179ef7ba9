package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/behavior"
	"github.com/flak3dd/manifold/internal/browser/stealth"
	"github.com/flak3dd/manifold/internal/config"
	"github.com/flak3dd/manifold/internal/fingerprint"
)

// ValidateLaunch rejects structurally unusable launch input before any
// browser process starts. All violations are reported together.
func ValidateLaunch(lc *schemas.LaunchConfig) error {
	if lc == nil {
		return errors.New("launch config is required")
	}
	var errs []error
	if strings.TrimSpace(lc.Profile.ID) == "" {
		errs = append(errs, errors.New("profile.id must be set"))
	}
	if err := config.ValidatePort(lc.WSPort); err != nil {
		errs = append(errs, fmt.Errorf("wsPort: %w", err))
	}
	if lc.Proxy != nil && strings.TrimSpace(lc.Proxy.Server) == "" {
		errs = append(errs, errors.New("proxy.server must be set when a proxy is given"))
	}
	if lc.Profile.Behavior != nil {
		if err := lc.Profile.Behavior.ValidateStrict(); err != nil {
			errs = append(errs, fmt.Errorf("profile.behavior: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Launch starts Chrome wearing the profile's identity and returns the
// live session. A profile without a pinned fingerprint gets one derived
// from its seed, and the result is reconciled against the proxy country
// before the first byte leaves the machine.
func Launch(ctx context.Context, cfg config.BrowserConfig, lc *schemas.LaunchConfig, logger *zap.Logger) (*Session, error) {
	if err := ValidateLaunch(lc); err != nil {
		return nil, fmt.Errorf("invalid launch config: %w", err)
	}
	log := logger.Named("browser")

	fp := lc.Profile.Fingerprint
	if fp == nil {
		fp = fingerprint.Generate(lc.Profile.Seed)
		log.Debug("fingerprint derived from seed", zap.Uint64("seed", lc.Profile.Seed))
	}
	if lc.Proxy != nil && lc.Proxy.Country != "" {
		res := fingerprint.AutoCorrect(fp, lc.Proxy.Country)
		if len(res.Fixed) > 0 {
			log.Info("fingerprint aligned with proxy country",
				zap.String("country", lc.Proxy.Country),
				zap.Int("corrections", len(res.Fixed)))
		}
		if !res.Clean() {
			log.Warn("fingerprint keeps geo inconsistencies",
				zap.String("country", lc.Proxy.Country),
				zap.Int("residual", len(res.Residual)),
				zap.Int("hard", res.HardCount()))
		}
	}

	bcfg := behavior.Config{}
	if lc.Profile.Behavior != nil {
		bcfg = *lc.Profile.Behavior
	} else {
		var err error
		if bcfg, err = cfg.BehaviorDefaults(); err != nil {
			return nil, fmt.Errorf("resolving behavior preset: %w", err)
		}
	}
	engine := behavior.NewEngine(bcfg, lc.Profile.Seed)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg, lc, fp)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Errorf),
	)

	// Starting the browser eagerly surfaces a bad binary or flag set
	// here instead of on the first operation.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	sid := uuid.NewString()
	s := newSession(tabCtx, tabCancel, sessionParams{
		id:         sid,
		exec:       cdpExecutor{},
		fp:         fp,
		engine:     engine,
		logger:     log.With(zap.String("session_id", sid)),
		navTimeout: cfg.NavigationTimeout,
	})
	s.allocCancel = allocCancel

	// The listener must be in place before the network domain starts
	// producing events.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		s.traffic.HandleEvent(ev)
	})
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		s.Stop()
		return nil, fmt.Errorf("enabling network domain: %w", err)
	}
	if lc.Proxy != nil && lc.Proxy.Username != "" {
		if err := enableProxyAuth(tabCtx, lc.Proxy, s.logger); err != nil {
			s.Stop()
			return nil, fmt.Errorf("wiring proxy auth: %w", err)
		}
	}
	if err := chromedp.Run(tabCtx, stealth.Apply(fp, s.logger)); err != nil {
		s.Stop()
		return nil, fmt.Errorf("applying stealth overrides: %w", err)
	}

	s.logger.Info("session launched",
		zap.String("profile_id", lc.Profile.ID),
		zap.String("os", fp.OS),
		zap.String("user_agent", fp.UserAgent),
		zap.Bool("proxied", lc.Proxy != nil))

	if lc.URL != "" {
		if _, err := s.Navigate(ctx, lc.URL); err != nil {
			// The session stays useful; observers decide what to do
			// about a dead first page.
			s.logger.Warn("initial navigation failed", zap.String("url", lc.URL), zap.Error(err))
			s.emit(Event{Kind: EventLog, Level: "warn",
				Message: fmt.Sprintf("initial navigation failed: %v", err)})
		}
	}
	return s, nil
}

// allocatorOptions builds the Chrome command line: automation tells
// disabled, background chatter suppressed, and the window and language
// matched to the fingerprint.
func allocatorOptions(cfg config.BrowserConfig, lc *schemas.LaunchConfig, fp *schemas.Fingerprint) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(fp.ViewportWidth, fp.ViewportHeight),
		chromedp.UserAgent(fp.UserAgent),
		chromedp.Flag("lang", fp.Locale),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	opts = append(opts, chromedp.Flag("disable-gpu", cfg.Headless))
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if lc.Proxy != nil {
		opts = append(opts, chromedp.ProxyServer(normalizeProxyServer(lc.Proxy.Server)))
	}
	for _, arg := range cfg.Args {
		name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// normalizeProxyServer treats a bare host:port as plain HTTP.
func normalizeProxyServer(server string) string {
	if strings.Contains(server, "://") {
		return server
	}
	return "http://" + server
}

// enableProxyAuth answers the proxy's auth challenges with the configured
// credentials through the fetch domain. Continue commands must run off
// the listener goroutine or the event loop deadlocks.
func enableProxyAuth(ctx context.Context, proxy *schemas.Proxy, log *zap.Logger) error {
	if err := chromedp.Run(ctx, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
		return err
	}
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}
				if err := chromedp.Run(ctx, fetch.ContinueWithAuth(e.RequestID, resp)); err != nil && ctx.Err() == nil {
					log.Warn("proxy auth continue failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				if err := chromedp.Run(ctx, fetch.ContinueRequest(e.RequestID)); err != nil && ctx.Err() == nil {
					log.Debug("continue request failed", zap.Error(err))
				}
			}()
		}
	})
	return nil
}
