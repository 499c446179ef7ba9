package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/batch"
	"github.com/flak3dd/manifold/internal/bridge"
	"github.com/flak3dd/manifold/internal/browser"
	"github.com/flak3dd/manifold/internal/bundle"
	"github.com/flak3dd/manifold/internal/config"
	"github.com/flak3dd/manifold/internal/observability"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func newServeCmd() *cobra.Command {
	var launchPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Launch the browser session and serve the WebSocket bridge",
		Long: `Serve reads a launch config, starts one Chrome session wearing the
profile it names, and exposes that session over a WebSocket bridge until
the session stops or the process is signaled. On exit the session's
traffic and entropy are written as a bundle under the data dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			lc, err := readLaunchConfig(launchPath)
			if err != nil {
				return err
			}
			if lc.WSPort == 0 {
				lc.WSPort = cfg.Server.Port
			}

			sess, err := browser.Launch(ctx, cfg.Browser, lc, logger)
			if err != nil {
				return fmt.Errorf("launch browser: %w", err)
			}

			srvCfg := cfg.Server
			srvCfg.Port = lc.WSPort
			launcher := &attemptLauncher{cfg: cfg.Browser, wsPort: lc.WSPort, logger: logger}
			srv := bridge.New(srvCfg, sess, launcher, logger)

			port, err := srv.Listen()
			if err != nil {
				sess.Stop()
				return err
			}

			// The one line orchestrators scrape for the bound port.
			fmt.Printf("MANIFOLD_READY port=%d\n", port)

			serveErr := srv.Serve(ctx)
			exportBundle(cfg, &lc.Profile, sess, logger)
			return serveErr
		},
	}

	cmd.Flags().StringVarP(&launchPath, "launch", "l", "", `launch config JSON file (reads stdin when omitted or "-")`)
	return cmd
}

// readLaunchConfig loads the launch input from path, or stdin when path
// is empty or "-". Malformed input is fatal before anything serves.
func readLaunchConfig(path string) (*schemas.LaunchConfig, error) {
	var (
		raw []byte
		err error
		src = path
	)
	if path == "" || path == "-" {
		raw, err = io.ReadAll(os.Stdin)
		src = "stdin"
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read launch config from %s: %w", src, err)
	}

	var lc schemas.LaunchConfig
	if err := jsonAPI.Unmarshal(raw, &lc); err != nil {
		return nil, fmt.Errorf("malformed launch config: %w", err)
	}
	return &lc, nil
}

// attemptLauncher starts one throwaway Chrome per login attempt. Each
// attempt wears its own profile and proxy, never the bridge session's.
type attemptLauncher struct {
	cfg    config.BrowserConfig
	wsPort int
	logger *zap.Logger
}

func (l *attemptLauncher) Launch(ctx context.Context, profile schemas.Profile, proxy *schemas.Proxy) (batch.AttemptSession, error) {
	lc := &schemas.LaunchConfig{Profile: profile, Proxy: proxy, WSPort: l.wsPort}
	return browser.Launch(ctx, l.cfg, lc, l.logger)
}

// exportBundle persists the session's traffic and entropy after the
// bridge drains. Failure is logged, not returned; the serve itself
// already finished.
func exportBundle(cfg *config.Config, profile *schemas.Profile, sess *browser.Session, logger *zap.Logger) {
	dataDir, err := cfg.Storage.ResolveDataDir()
	if err != nil {
		logger.Error("session bundle not written", zap.Error(err))
		return
	}
	if profile.Fingerprint == nil {
		// Record the identity the session actually wore, not just the seed
		// it was derived from.
		profile.Fingerprint = sess.Fingerprint()
	}
	path, err := bundle.NewStore(dataDir, logger).WriteSession(profile, sess.ExportTraffic(), sess.EntropySamples())
	if err != nil {
		logger.Error("session bundle not written", zap.Error(err))
		return
	}
	logger.Info("session bundle written", zap.String("path", path))
}
