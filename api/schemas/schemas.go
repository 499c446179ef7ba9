package schemas

import (
	"time"

	"github.com/flak3dd/manifold/internal/behavior"
)

// -- Launch Configuration --

// LaunchConfig is the external input that describes one bridge session:
// which identity to present, how to reach the network, where to go first,
// and where to listen for observers.
type LaunchConfig struct {
	Profile Profile `json:"profile"`
	Proxy   *Proxy  `json:"proxy,omitempty"`
	URL     string  `json:"url,omitempty"`
	WSPort  int     `json:"wsPort"`
}

// Profile bundles a browser identity: the fingerprint surface presented to
// the page and the motor model used for interactions. If Fingerprint is nil
// it is derived from Seed at launch.
type Profile struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	Seed        uint64           `json:"seed"`
	Fingerprint *Fingerprint     `json:"fingerprint,omitempty"`
	Behavior    *behavior.Config `json:"behavior,omitempty"`
}

// Proxy holds upstream proxy coordinates. Server is scheme://host:port;
// a bare host:port is treated as http.
type Proxy struct {
	ID       string `json:"id,omitempty"`
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Country  string `json:"country,omitempty"`
}

// -- Fingerprint --

// WebRTC candidate handling modes.
const (
	WebRTCBlock       = "block"
	WebRTCFakeMDNS    = "fake_mdns"
	WebRTCPassthrough = "passthrough"
)

// UABrand is one entry of the User-Agent Client Hints brand list.
type UABrand struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// Fingerprint is the spoofed device surface a session presents. Generated
// deterministically from a seed (see internal/fingerprint); every field a
// page can probe is pinned here so repeat launches are byte-identical.
type Fingerprint struct {
	Seed                uint64            `json:"seed"`
	OS                  string            `json:"os"`
	UserAgent           string            `json:"user_agent"`
	Platform            string            `json:"platform"`
	BrowserVersion      string            `json:"browser_version"`
	ScreenWidth         int               `json:"screen_width"`
	ScreenHeight        int               `json:"screen_height"`
	ViewportWidth       int               `json:"viewport_width"`
	ViewportHeight      int               `json:"viewport_height"`
	ColorDepth          int               `json:"color_depth"`
	DevicePixelRatio    float64           `json:"device_pixel_ratio"`
	HardwareConcurrency int               `json:"hardware_concurrency"`
	DeviceMemory        float64           `json:"device_memory"`
	WebGLVendor         string            `json:"webgl_vendor"`
	WebGLRenderer       string            `json:"webgl_renderer"`
	Fonts               []string          `json:"fonts"`
	Locale              string            `json:"locale"`
	AcceptLanguage      string            `json:"accept_language"`
	Timezone            string            `json:"timezone"`
	UABrands            []UABrand         `json:"ua_brands"`
	UAMobile            bool              `json:"ua_mobile"`
	UAPlatform          string            `json:"ua_platform"`
	UAPlatformVersion   string            `json:"ua_platform_version"`
	UAArchitecture      string            `json:"ua_architecture"`
	UABitness           string            `json:"ua_bitness"`
	WebRTCMode          string            `json:"webrtc_mode"`
	Hostname            string            `json:"hostname"`
	LocalIP             string            `json:"local_ip"`
	Permissions         map[string]string `json:"permissions"`
	CanvasNoise         float64           `json:"canvas_noise"`
	WebGLNoise          float64           `json:"webgl_noise"`
	AudioNoise          float64           `json:"audio_noise"`
}

// -- Traffic telemetry --

// TrafficEntry records one completed request/response exchange observed on
// the session's page.
type TrafficEntry struct {
	Timestamp       time.Time         `json:"ts"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Status          int               `json:"status"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	MimeType        string            `json:"mime_type,omitempty"`
	BodySize        int64             `json:"body_size"`
	ElapsedMs       float64           `json:"elapsed_ms"`
}

// TrafficArchive is the exported form of a session's traffic log.
type TrafficArchive struct {
	Version   string         `json:"version"`
	Creator   Creator        `json:"creator"`
	StartedAt time.Time      `json:"started_at"`
	Entries   []TrafficEntry `json:"entries"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// -- Entropy telemetry --

// EntropySnapshot is a point-in-time sample of the fingerprintable surface
// actually rendered by the live page, used to verify that the spoofed
// identity holds up.
type EntropySnapshot struct {
	Timestamp         time.Time      `json:"ts"`
	CanvasHash        string         `json:"canvas_hash,omitempty"`
	AudioHash         string         `json:"audio_hash,omitempty"`
	WebGLHash         string         `json:"webgl_hash,omitempty"`
	Navigator         NavigatorProbe `json:"navigator"`
	Screen            ScreenProbe    `json:"screen"`
	AutomationMarkers []string       `json:"automation_markers,omitempty"`
	Timezone          string         `json:"timezone,omitempty"`
}

type NavigatorProbe struct {
	UserAgent           string   `json:"user_agent,omitempty"`
	Platform            string   `json:"platform,omitempty"`
	Languages           []string `json:"languages,omitempty"`
	HardwareConcurrency int      `json:"hardware_concurrency,omitempty"`
	DeviceMemory        float64  `json:"device_memory,omitempty"`
	Webdriver           bool     `json:"webdriver"`
	PluginCount         int      `json:"plugin_count"`
}

type ScreenProbe struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"avail_width"`
	AvailHeight int     `json:"avail_height"`
	ColorDepth  int     `json:"color_depth"`
	PixelRatio  float64 `json:"pixel_ratio"`
	InnerWidth  int     `json:"inner_width"`
	InnerHeight int     `json:"inner_height"`
}

// -- Batch login --

// RunStatus is the batch orchestrator's lifecycle state.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunAborted   RunStatus = "aborted"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunAborted, RunCompleted, RunFailed:
		return true
	}
	return false
}

// AttemptOutcome classifies one login attempt.
type AttemptOutcome string

const (
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeDeclined  AttemptOutcome = "declined"
	OutcomeError     AttemptOutcome = "error"
	OutcomeChallenge AttemptOutcome = "challenge_detected"
)

// LoginRun describes a batch: where to log in, which selectors drive and
// verify the form, and the ordered credential attempts.
type LoginRun struct {
	ID        string            `json:"id,omitempty"`
	TargetURL string            `json:"targetUrl"`
	Form      FormDescriptor    `json:"form"`
	Attempts  []LoginCredential `json:"attempts"`
}

// FormDescriptor names the selectors the orchestrator uses to fill and
// classify a login form. Success/failure/CAPTCHA lists are probed in the
// precedence order success, CAPTCHA, failure.
type FormDescriptor struct {
	UsernameSelector string   `json:"usernameSelector"`
	PasswordSelector string   `json:"passwordSelector"`
	SubmitSelector   string   `json:"submitSelector"`
	SuccessSelectors []string `json:"successSelectors,omitempty"`
	FailureSelectors []string `json:"failureSelectors,omitempty"`
	CaptchaSelectors []string `json:"captchaSelectors,omitempty"`
}

// LoginCredential is one work item: which profile and proxy to wear while
// trying one username/password pair.
type LoginCredential struct {
	ProfileID string `json:"profileId"`
	ProxyID   string `json:"proxyId,omitempty"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// AttemptResult is the recorded outcome of one attempt, surfaced through
// progress events and the final run summary.
type AttemptResult struct {
	Index    int            `json:"index"`
	Username string         `json:"username"`
	Outcome  AttemptOutcome `json:"outcome"`
	Detail   string         `json:"detail,omitempty"`
	Elapsed  float64        `json:"elapsed_ms"`
}

// -- Form scraping --

// FormScrapeResult is the heuristic analysis of a login page: best-guess
// selectors plus signals that affect how an automated login should pace
// itself. Field names mirror the export format consumed downstream.
type FormScrapeResult struct {
	URL                string   `json:"url"`
	UsernameSelector   string   `json:"username_selector,omitempty"`
	PasswordSelector   string   `json:"password_selector,omitempty"`
	SubmitSelector     string   `json:"submit_selector,omitempty"`
	SuccessSelectors   []string `json:"success_selectors,omitempty"`
	FailureSelectors   []string `json:"failure_selectors,omitempty"`
	CaptchaPresent     bool     `json:"captcha_present"`
	CaptchaType        string   `json:"captcha_type,omitempty"`
	TOTPFieldSelector  string   `json:"totp_field_selector,omitempty"`
	SPADetected        bool     `json:"spa_detected"`
	MFALikely          bool     `json:"mfa_likely"`
	Confidence         int      `json:"confidence"`
	SuggestedWaitMs    int      `json:"suggested_wait_time_ms"`
	SuggestedTimeoutMs int      `json:"suggested_timeout_ms"`
	Notes              []string `json:"notes,omitempty"`
}
