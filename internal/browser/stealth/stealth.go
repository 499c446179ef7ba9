// Package stealth pins a spoofed device identity onto a tab before any
// page script gets a chance to look. The JS-reachable surface is patched
// by a bootstrap installed on every new document; values Chrome refuses
// to let scripts change go through CDP emulation overrides.
package stealth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// fingerprintGlobal is where the bootstrap finds its parameters.
const fingerprintGlobal = "window.__MANIFOLD_FP"

//go:embed evasions.js
var evasionsJS string

// seedScript renders the bootstrap: the fingerprint as a global, then
// the evasion body that reads it.
func seedScript(fp *schemas.Fingerprint) (string, error) {
	payload, err := jsonAPI.MarshalToString(fp)
	if err != nil {
		return "", fmt.Errorf("marshaling fingerprint: %w", err)
	}
	return fingerprintGlobal + " = " + payload + ";\n" + evasionsJS, nil
}

// Apply installs the full identity override set on the tab. Must run
// before the first navigation; the bootstrap only reaches documents
// created after it is registered.
func Apply(fp *schemas.Fingerprint, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if fp == nil {
			return errors.New("stealth: fingerprint is required")
		}
		script, err := seedScript(fp)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("installing bootstrap script: %w", err)
		}

		meta := &emulation.UserAgentMetadata{
			Platform:        fp.UAPlatform,
			PlatformVersion: fp.UAPlatformVersion,
			Architecture:    fp.UAArchitecture,
			Bitness:         fp.UABitness,
			Mobile:          fp.UAMobile,
		}
		for _, b := range fp.UABrands {
			meta.Brands = append(meta.Brands, &emulation.UserAgentBrandVersion{
				Brand:   b.Brand,
				Version: b.Version,
			})
		}
		if err := emulation.SetUserAgentOverride(fp.UserAgent).
			WithAcceptLanguage(fp.AcceptLanguage).
			WithPlatform(fp.Platform).
			WithUserAgentMetadata(meta).Do(ctx); err != nil {
			return fmt.Errorf("user agent override: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(
			int64(fp.ViewportWidth), int64(fp.ViewportHeight),
			fp.DevicePixelRatio, false).Do(ctx); err != nil {
			return fmt.Errorf("device metrics override: %w", err)
		}
		if err := emulation.SetTimezoneOverride(fp.Timezone).Do(ctx); err != nil {
			return fmt.Errorf("timezone override: %w", err)
		}
		if err := emulation.SetLocaleOverride().WithLocale(fp.Locale).Do(ctx); err != nil {
			return fmt.Errorf("locale override: %w", err)
		}
		if fp.HardwareConcurrency > 0 {
			if err := emulation.SetHardwareConcurrencyOverride(int64(fp.HardwareConcurrency)).Do(ctx); err != nil {
				// Older builds lack the command; the bootstrap covers the
				// JS-visible value regardless.
				logger.Debug("hardware concurrency override unsupported", zap.Error(err))
			}
		}
		logger.Debug("stealth overrides applied",
			zap.String("platform", fp.Platform),
			zap.String("timezone", fp.Timezone),
			zap.String("webrtc_mode", fp.WebRTCMode))
		return nil
	})
}
