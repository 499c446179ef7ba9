package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/config"
	"github.com/flak3dd/manifold/internal/observability"
	"github.com/flak3dd/manifold/internal/proxycheck"
)

func newCheckProxyCmd() *cobra.Command {
	var (
		server   string
		username string
		password string
		country  string
	)

	cmd := &cobra.Command{
		Use:   "checkproxy",
		Short: "Probe a proxy for reachability, latency and exit geography",
		Long: `Checkproxy sends an HTTP probe through the proxy and prints the
verdict: latency, exit IP and exit country. The command exits non-zero
when the proxy is unreachable, and also when --country is given and the
observed exit country differs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			logger := observability.GetLogger()

			checker := proxycheck.New(cfg.ProxyCheck, logger)
			health := checker.Check(cmd.Context(), &schemas.Proxy{
				Server:   server,
				Username: username,
				Password: password,
				Country:  country,
			})

			out, err := jsonAPI.MarshalIndent(health, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Println(string(out))

			if !health.Healthy {
				return fmt.Errorf("proxy unhealthy: %s", health.Error)
			}
			if country != "" && health.Country != "" && !strings.EqualFold(health.Country, country) {
				return fmt.Errorf("exit country mismatch: proxy exits in %s, profile expects %s", health.Country, country)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "proxy URL, scheme://host:port")
	cmd.Flags().StringVar(&username, "username", "", "proxy auth username")
	cmd.Flags().StringVar(&password, "password", "", "proxy auth password")
	cmd.Flags().StringVar(&country, "country", "", "expected exit country (ISO 3166-1 alpha-2)")
	_ = cmd.MarkFlagRequired("server")
	return cmd
}
