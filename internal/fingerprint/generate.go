// Package fingerprint derives complete, internally consistent browser
// identities from a 64-bit seed. The same seed always yields the same
// identity; different seeds yield statistically uncorrelated ones. Every
// probeable surface is pinned at generation time so that a relaunched
// profile presents byte-identical values.
package fingerprint

import (
	"fmt"
	"math/rand"

	"github.com/flak3dd/manifold/api/schemas"
)

type osName string

const (
	osWindows osName = "windows"
	osMacOS   osName = "macos"
	osLinux   osName = "linux"
)

// Generate builds a fingerprint from a seed. Field derivation order is
// fixed; changing it silently reshuffles every existing profile, so treat
// this function as format-frozen.
func Generate(seed uint64) *schemas.Fingerprint {
	rng := rand.New(rand.NewSource(int64(seed)))

	os := pickOS(rng)
	ua := buildUA(rng, os)
	brands := buildUABrands(rng, ua.major)
	vendor, renderer := pickWebGL(rng, os)
	screen := pickScreen(rng)
	fonts := buildFontSubset(rng, os)
	locale, acceptLang, timezone := pickLocale(rng)
	hostname := mdnsHostname(rng)
	localIP := fakeLocalIP(rng)

	concurrency := []int{2, 4, 4, 8, 8, 8, 16}[rng.Intn(7)]
	memory := []float64{0.5, 1, 2, 4, 4, 8}[rng.Intn(6)]

	// Noise stays subtle; past ~0.3 canvas noise starts breaking CAPTCHA
	// widgets instead of just defeating hashes.
	canvasNoise := 0.01 + rng.Float64()*0.14
	webglNoise := 0.01 + rng.Float64()*0.09
	audioNoise := 0.001 + rng.Float64()*0.009

	return &schemas.Fingerprint{
		Seed:                seed,
		OS:                  string(os),
		UserAgent:           ua.full,
		Platform:            ua.platform,
		BrowserVersion:      ua.version,
		ScreenWidth:         screen.w,
		ScreenHeight:        screen.h,
		ViewportWidth:       screen.vw,
		ViewportHeight:      screen.vh,
		ColorDepth:          24,
		DevicePixelRatio:    screen.dpr,
		HardwareConcurrency: concurrency,
		DeviceMemory:        memory,
		WebGLVendor:         vendor,
		WebGLRenderer:       renderer,
		Fonts:               fonts,
		Locale:              locale,
		AcceptLanguage:      acceptLang,
		Timezone:            timezone,
		UABrands:            brands,
		UAMobile:            false,
		UAPlatform:          ua.chPlatform,
		UAPlatformVersion:   ua.chPlatformVersion,
		UAArchitecture:      "x86",
		UABitness:           "64",
		WebRTCMode:          schemas.WebRTCFakeMDNS,
		Hostname:            hostname,
		LocalIP:             localIP,
		Permissions:         defaultPermissions(rng),
		CanvasNoise:         canvasNoise,
		WebGLNoise:          webglNoise,
		AudioNoise:          audioNoise,
	}
}

// Mutate nudges the noise fields without changing the seed, for refresh
// operations that want a slightly different render hash on the same
// identity. Deltas are themselves seed-derived, so a mutate is replayable.
func Mutate(fp *schemas.Fingerprint) {
	rng := rand.New(rand.NewSource(int64(fp.Seed + 1)))
	fp.CanvasNoise = clamp(fp.CanvasNoise+rng.Float64()*0.02-0.01, 0.005, 0.30)
	fp.AudioNoise = clamp(fp.AudioNoise+rng.Float64()*0.002, 0.001, 0.05)
	fp.WebGLNoise = clamp(fp.WebGLNoise+rng.Float64()*0.01-0.005, 0.005, 0.15)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// pickOS weights toward the desktop population: Windows ~70%, macOS ~25%,
// Linux ~5%.
func pickOS(rng *rand.Rand) osName {
	switch n := rng.Intn(20); {
	case n <= 13:
		return osWindows
	case n <= 18:
		return osMacOS
	default:
		return osLinux
	}
}

type uaParts struct {
	full              string
	version           string
	major             int
	platform          string
	chPlatform        string
	chPlatformVersion string
}

// buildUA assembles the UA string plus the navigator.platform and UA-CH
// values that must agree with it.
func buildUA(rng *rand.Rand, os osName) uaParts {
	major := 120 + rng.Intn(12)
	minor := rng.Intn(10000)
	build := rng.Intn(1000)
	version := fmt.Sprintf("%d.0.%d.%d", major, minor, build)

	switch os {
	case osMacOS:
		macMajor := 14 + rng.Intn(2)
		macMinor := rng.Intn(7)
		ua := fmt.Sprintf(
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_%d_%d) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
			macMajor, macMinor, version)
		return uaParts{
			full:              ua,
			version:           version,
			major:             major,
			platform:          "MacIntel",
			chPlatform:        "macOS",
			chPlatformVersion: fmt.Sprintf("%d.%d.0", macMajor, macMinor),
		}
	case osLinux:
		ua := fmt.Sprintf(
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
			version)
		return uaParts{
			full:              ua,
			version:           version,
			major:             major,
			platform:          "Linux x86_64",
			chPlatform:        "Linux",
			chPlatformVersion: "6.1.0",
		}
	default:
		winBuild := 19041 + rng.Intn(22631-19041+1)
		ua := fmt.Sprintf(
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
			version)
		return uaParts{
			full:              ua,
			version:           version,
			major:             major,
			platform:          "Win32",
			chPlatform:        "Windows",
			chPlatformVersion: fmt.Sprintf("0.0.%d", winBuild),
		}
	}
}

// buildUABrands produces the Chromium GREASE brand triple.
func buildUABrands(rng *rand.Rand, major int) []schemas.UABrand {
	greaseChars := []rune{' ', '(', ')', '-', '.', '/'}
	gc := greaseChars[rng.Intn(len(greaseChars))]
	gv := 1 + rng.Intn(99)

	return []schemas.UABrand{
		{Brand: fmt.Sprintf("Not%cA)Brand", gc), Version: fmt.Sprintf("%d", gv)},
		{Brand: "Chromium", Version: fmt.Sprintf("%d", major)},
		{Brand: "Google Chrome", Version: fmt.Sprintf("%d", major)},
	}
}

type webglPair struct{ vendor, renderer string }

var webglByOS = map[osName][]webglPair{
	osMacOS: {
		{"Apple", "Apple M1"},
		{"Apple", "Apple M2"},
		{"Apple", "Apple M3"},
		{"Intel Inc.", "Intel(R) Iris(TM) Plus Graphics 640"},
		{"Intel Inc.", "Intel(R) UHD Graphics 630"},
	},
	osLinux: {
		{"Mesa/X.org", "Mesa Intel(R) UHD Graphics 620 (KBL GT2)"},
		{"Mesa/X.org", "Mesa Intel(R) HD Graphics 630 (KBL GT2)"},
		{"Intel Open Source Technology Center", "Mesa DRI Intel(R) HD Graphics 620 (Kaby Lake GT2)"},
	},
	osWindows: {
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 SUPER Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 4070 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6700 XT Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 770 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	},
}

// pickWebGL keeps the GPU story coherent with the OS: ANGLE strings on
// Windows, Apple silicon or Intel on macOS, Mesa on Linux.
func pickWebGL(rng *rand.Rand, os osName) (string, string) {
	options := webglByOS[os]
	p := options[rng.Intn(len(options))]
	return p.vendor, p.renderer
}

type screenPick struct {
	w, h, vw, vh int
	dpr          float64
}

var commonScreens = [][2]int{
	{1920, 1080},
	{1920, 1080},
	{2560, 1440},
	{1366, 768},
	{1440, 900},
	{1280, 800},
	{3840, 2160},
	{2560, 1600},
}

var pixelRatios = []float64{1.0, 1.0, 1.25, 1.5, 2.0}

// pickScreen selects a resolution and derives the viewport by subtracting
// plausible browser chrome and taskbar heights.
func pickScreen(rng *rand.Rand) screenPick {
	s := commonScreens[rng.Intn(len(commonScreens))]
	dpr := pixelRatios[rng.Intn(len(pixelRatios))]

	chromeH := 88 + rng.Intn(20)
	taskbarH := 40 + rng.Intn(8)
	vh := s[1] - chromeH - taskbarH
	if vh < 0 {
		vh = 0
	}

	return screenPick{w: s[0], h: s[1], vw: s[0], vh: vh, dpr: dpr}
}

var baselineFonts = []string{
	"Arial", "Arial Black", "Comic Sans MS", "Courier New", "Georgia",
	"Impact", "Times New Roman", "Trebuchet MS", "Verdana", "Webdings",
}

var extraFontsByOS = map[osName][]string{
	osMacOS: {
		"Helvetica", "Helvetica Neue", "Gill Sans", "Optima", "Palatino",
		"Futura", "Menlo", "Monaco", "Apple Chancery",
	},
	osLinux: {
		"Liberation Sans", "Liberation Serif", "Liberation Mono",
		"DejaVu Sans", "DejaVu Serif", "Ubuntu", "Cantarell", "Noto Sans",
	},
	osWindows: {
		"Calibri", "Cambria", "Candara", "Consolas", "Constantia", "Corbel",
		"Franklin Gothic Medium", "Gabriola", "Segoe UI", "Tahoma",
		"Microsoft Sans Serif", "Palatino Linotype",
	},
}

// buildFontSubset returns the families document.fonts.has() will admit to:
// the cross-platform baseline plus ~75% of the OS set, shuffled so the
// ordering does not betray the generator.
func buildFontSubset(rng *rand.Rand, os osName) []string {
	subset := make([]string, len(baselineFonts))
	copy(subset, baselineFonts)

	for _, f := range extraFontsByOS[os] {
		if rng.Float64() < 0.75 {
			subset = append(subset, f)
		}
	}

	rng.Shuffle(len(subset), func(i, j int) {
		subset[i], subset[j] = subset[j], subset[i]
	})
	return subset
}

type localeTriple struct{ locale, acceptLanguage, timezone string }

var localePool = []localeTriple{
	{"en-US", "en-US,en;q=0.9", "America/New_York"},
	{"en-US", "en-US,en;q=0.9", "America/Chicago"},
	{"en-US", "en-US,en;q=0.9", "America/Los_Angeles"},
	{"en-US", "en-US,en;q=0.9", "America/Denver"},
	{"en-GB", "en-GB,en;q=0.9", "Europe/London"},
	{"en-AU", "en-AU,en;q=0.9", "Australia/Sydney"},
	{"en-CA", "en-CA,en;q=0.9,fr-CA;q=0.8", "America/Toronto"},
	{"de-DE", "de-DE,de;q=0.9,en;q=0.8", "Europe/Berlin"},
	{"fr-FR", "fr-FR,fr;q=0.9,en;q=0.8", "Europe/Paris"},
	{"es-ES", "es-ES,es;q=0.9,en;q=0.8", "Europe/Madrid"},
	{"nl-NL", "nl-NL,nl;q=0.9,en;q=0.8", "Europe/Amsterdam"},
	{"pl-PL", "pl-PL,pl;q=0.9,en;q=0.8", "Europe/Warsaw"},
	{"pt-BR", "pt-BR,pt;q=0.9,en;q=0.8", "America/Sao_Paulo"},
	{"ja-JP", "ja-JP,ja;q=0.9,en;q=0.8", "Asia/Tokyo"},
	{"ko-KR", "ko-KR,ko;q=0.9,en;q=0.8", "Asia/Seoul"},
}

func pickLocale(rng *rand.Rand) (string, string, string) {
	t := localePool[rng.Intn(len(localePool))]
	return t.locale, t.acceptLanguage, t.timezone
}

// mdnsHostname builds an RFC 7675 style candidate name: 16 hex chars plus
// ".local".
func mdnsHostname(rng *rand.Rand) string {
	return fmt.Sprintf("%08x%08x.local", rng.Uint32(), rng.Uint32())
}

// fakeLocalIP picks an RFC 1918 address for the spoofed host candidate.
func fakeLocalIP(rng *rand.Rand) string {
	return fmt.Sprintf("192.168.%d.%d", 1+rng.Intn(254), 2+rng.Intn(253))
}

// defaultPermissions models a lived-in browser: most things prompt, the
// motion sensors and clipboard writes are granted.
func defaultPermissions(rng *rand.Rand) map[string]string {
	clipboardRead := "prompt"
	if rng.Float64() >= 0.6 {
		clipboardRead = "granted"
	}
	return map[string]string{
		"geolocation":     "prompt",
		"notifications":   "prompt",
		"camera":          "prompt",
		"microphone":      "prompt",
		"clipboard-read":  clipboardRead,
		"clipboard-write": "granted",
		"payment-handler": "prompt",
		"accelerometer":   "granted",
		"gyroscope":       "granted",
		"magnetometer":    "granted",
		"push":            "prompt",
		"midi":            "prompt",
		"storage-access":  "prompt",
	}
}
