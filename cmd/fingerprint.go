package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/internal/fingerprint"
	"github.com/flak3dd/manifold/internal/observability"
)

func newFingerprintCmd() *cobra.Command {
	var (
		seed    uint64
		country string
	)

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the browser fingerprint a seed derives",
		Long: `Fingerprint prints the deterministic identity a profile seed expands
into: user agent, client hints, screen, WebGL, fonts, locale and
timezone. The same seed always prints the same fingerprint. With
--country the fingerprint is first aligned to that proxy exit country,
the same correction a launch applies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			fp := fingerprint.Generate(seed)
			if country != "" {
				res := fingerprint.AutoCorrect(fp, country)
				if len(res.Fixed) > 0 {
					logger.Info("fingerprint aligned with proxy country",
						zap.String("country", country),
						zap.Int("corrections", len(res.Fixed)))
				}
				for _, v := range res.Residual {
					logger.Warn("geo inconsistency needs manual action",
						zap.String("code", v.Code),
						zap.String("description", v.Description))
				}
			}

			out, err := jsonAPI.MarshalIndent(fp, "", "  ")
			if err != nil {
				return fmt.Errorf("encode fingerprint: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 0, "profile seed the fingerprint derives from")
	cmd.Flags().StringVar(&country, "country", "", "proxy exit country to align the fingerprint with (ISO 3166-1 alpha-2)")
	_ = cmd.MarkFlagRequired("seed")
	return cmd
}
