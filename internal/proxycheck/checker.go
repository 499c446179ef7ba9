// Package proxycheck probes proxies for reachability, latency and exit
// geography before a profile is committed to them.
package proxycheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/config"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Probes avoid the default Go user agent; residential gateways shape
// traffic on it.
const probeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// The probe endpoints answer with a handful of bytes; anything larger
// is a captive portal or an interception page.
const maxProbeBody = 64 << 10

const defaultTimeout = 10 * time.Second

// Health is one probe verdict for one proxy. A failed check is a
// result, not an error: Healthy is false and Error says why.
type Health struct {
	Server    string    `json:"server"`
	Healthy   bool      `json:"healthy"`
	LatencyMs int       `json:"latency_ms,omitempty"`
	ExitIP    string    `json:"exit_ip,omitempty"`
	Country   string    `json:"country,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs HTTP probes through candidate proxies.
type Checker struct {
	cfg    config.ProxyCheckConfig
	logger *zap.Logger
}

func New(cfg config.ProxyCheckConfig, logger *zap.Logger) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Checker{cfg: cfg, logger: logger.Named("proxycheck")}
}

// Check probes one proxy: a latency measurement against the probe
// endpoint, whose body is the exit IP, then an optional geo lookup for
// the exit country. The geo leg failing does not mark the proxy
// unhealthy.
func (c *Checker) Check(ctx context.Context, p *schemas.Proxy) *Health {
	h := &Health{CheckedAt: time.Now().UTC()}
	if p == nil || p.Server == "" {
		h.Error = "proxy server must be set"
		return h
	}
	h.Server = p.Server

	proxyURL, err := parseServer(p)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	client := c.newClient(proxyURL)

	start := time.Now()
	body, err := c.fetch(ctx, client, c.cfg.ProbeURL)
	if err != nil {
		h.Error = err.Error()
		c.logger.Debug("proxy probe failed",
			zap.String("server", p.Server), zap.Error(err))
		return h
	}
	h.Healthy = true
	h.LatencyMs = int(time.Since(start).Milliseconds())
	h.ExitIP = strings.TrimSpace(string(body))

	if c.cfg.GeoURL != "" {
		country, ip := c.geo(ctx, client)
		h.Country = country
		if h.ExitIP == "" {
			h.ExitIP = ip
		}
	}

	c.logger.Debug("proxy checked",
		zap.String("server", p.Server),
		zap.Int("latency_ms", h.LatencyMs),
		zap.String("exit_ip", h.ExitIP),
		zap.String("country", h.Country))
	return h
}

// CheckAll probes proxies in sequence and never stops early; dead
// entries just come back unhealthy.
func (c *Checker) CheckAll(ctx context.Context, proxies []*schemas.Proxy) []*Health {
	results := make([]*Health, 0, len(proxies))
	for _, p := range proxies {
		results = append(results, c.Check(ctx, p))
	}
	return results
}

func (c *Checker) newClient(proxyURL *url.URL) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyURL(proxyURL),
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   true,
	}
	return &http.Client{
		Transport: &decodingTransport{base: transport},
		Timeout:   c.cfg.Timeout,
		// A 3xx answer already proves the proxy forwards traffic;
		// following it would just measure the redirect target.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (c *Checker) fetch(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", probeUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusProxyAuthRequired:
		return nil, errors.New("proxy authentication failed (407)")
	case resp.StatusCode == http.StatusForbidden:
		return nil, errors.New("proxy access forbidden (403)")
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("probe returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return nil, fmt.Errorf("read probe body: %w", err)
	}
	return body, nil
}

// geo resolves the exit country (ip-api.com reply shape). Best effort:
// failures are logged and reported as empty.
func (c *Checker) geo(ctx context.Context, client *http.Client) (country, ip string) {
	body, err := c.fetch(ctx, client, c.cfg.GeoURL)
	if err != nil {
		c.logger.Warn("geo lookup through proxy failed", zap.Error(err))
		return "", ""
	}
	var reply struct {
		Status      string `json:"status"`
		CountryCode string `json:"countryCode"`
		Query       string `json:"query"`
	}
	if err := jsonAPI.Unmarshal(body, &reply); err != nil {
		c.logger.Warn("geo reply malformed", zap.Error(err))
		return "", ""
	}
	if reply.Status != "" && reply.Status != "success" {
		c.logger.Warn("geo lookup rejected", zap.String("status", reply.Status))
		return "", ""
	}
	return reply.CountryCode, reply.Query
}

// parseServer turns the configured server string into a proxy URL with
// credentials attached. Bare host:port is assumed to be an HTTP proxy,
// matching how the browser launcher treats it.
func parseServer(p *schemas.Proxy) (*url.URL, error) {
	server := p.Server
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("proxy server %q: %w", p.Server, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}
