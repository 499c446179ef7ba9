package fingerprint

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	t.Parallel()

	for seed := uint64(0); seed < 25; seed++ {
		a := Generate(seed)
		b := Generate(seed)
		require.Empty(t, cmp.Diff(a, b), "seed %d must reproduce the identical fingerprint", seed)
		assert.Equal(t, seed, a.Seed, "the seed field echoes the input")
	}
}

func TestGenerateSeedsDiverge(t *testing.T) {
	t.Parallel()

	a := Generate(1)
	b := Generate(2)
	assert.NotEmpty(t, cmp.Diff(a, b), "different seeds should not collide on every field")

	// The noise channels specifically must never collide between profiles;
	// matching values would link identities.
	for seed := uint64(0); seed < 100; seed++ {
		x := Generate(seed)
		y := Generate(seed + 50)
		assert.NotEqual(t, x.CanvasNoise, y.CanvasNoise, "canvas noise collision at seed %d", seed)
		assert.NotEqual(t, x.WebGLNoise, y.WebGLNoise, "webgl noise collision at seed %d", seed)
		assert.NotEqual(t, x.AudioNoise, y.AudioNoise, "audio noise collision at seed %d", seed)
	}
}

func TestGeneratePlatformConsistency(t *testing.T) {
	t.Parallel()

	for seed := uint64(0); seed < 60; seed++ {
		fp := Generate(seed)
		switch {
		case strings.Contains(fp.UserAgent, "Windows"):
			assert.Equal(t, "Win32", fp.Platform, "seed %d", seed)
			assert.Equal(t, "Windows", fp.UAPlatform, "seed %d", seed)
			assert.Equal(t, "windows", fp.OS, "seed %d", seed)
		case strings.Contains(fp.UserAgent, "Macintosh"):
			assert.Equal(t, "MacIntel", fp.Platform, "seed %d", seed)
			assert.Equal(t, "macOS", fp.UAPlatform, "seed %d", seed)
			assert.Equal(t, "macos", fp.OS, "seed %d", seed)
		default:
			assert.Equal(t, "Linux x86_64", fp.Platform, "seed %d", seed)
			assert.Equal(t, "Linux", fp.UAPlatform, "seed %d", seed)
			assert.Equal(t, "linux", fp.OS, "seed %d", seed)
		}

		assert.Contains(t, fp.UserAgent, "Chrome/"+fp.BrowserVersion, "seed %d: UA embeds the full version", seed)
		assert.Equal(t, "x86", fp.UAArchitecture)
		assert.Equal(t, "64", fp.UABitness)
		assert.False(t, fp.UAMobile)
	}
}

func TestGenerateCoversAllPlatforms(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for seed := uint64(0); seed < 200; seed++ {
		seen[Generate(seed).OS] = true
	}
	assert.True(t, seen["windows"], "no Windows profile in 200 seeds")
	assert.True(t, seen["macos"], "no macOS profile in 200 seeds")
	assert.True(t, seen["linux"], "no Linux profile in 200 seeds")
}

func TestGenerateWebGLMatchesOS(t *testing.T) {
	t.Parallel()

	for seed := uint64(0); seed < 100; seed++ {
		fp := Generate(seed)
		switch fp.OS {
		case "windows":
			assert.Contains(t, fp.WebGLRenderer, "ANGLE", "seed %d: Windows renders through ANGLE", seed)
		case "macos":
			ok := strings.HasPrefix(fp.WebGLVendor, "Apple") || strings.HasPrefix(fp.WebGLVendor, "Intel")
			assert.True(t, ok, "seed %d: unexpected macOS GPU vendor %q", seed, fp.WebGLVendor)
		case "linux":
			assert.Contains(t, fp.WebGLRenderer, "Mesa", "seed %d: Linux renders through Mesa", seed)
		}
	}
}

func TestGenerateHardwareBuckets(t *testing.T) {
	t.Parallel()

	validCores := map[int]bool{2: true, 4: true, 8: true, 16: true}
	validMem := map[float64]bool{0.5: true, 1: true, 2: true, 4: true, 8: true}

	for seed := uint64(0); seed < 100; seed++ {
		fp := Generate(seed)
		assert.True(t, validCores[fp.HardwareConcurrency],
			"seed %d: hardware_concurrency %d outside real buckets", seed, fp.HardwareConcurrency)
		assert.True(t, validMem[fp.DeviceMemory],
			"seed %d: device_memory %v outside real buckets", seed, fp.DeviceMemory)
		assert.Equal(t, 24, fp.ColorDepth, "seed %d", seed)
	}
}

func TestGenerateNoiseRanges(t *testing.T) {
	t.Parallel()

	for seed := uint64(0); seed < 200; seed++ {
		fp := Generate(seed)
		assert.GreaterOrEqual(t, fp.CanvasNoise, 0.01, "seed %d", seed)
		assert.Less(t, fp.CanvasNoise, 0.15, "seed %d: canvas noise above the CAPTCHA-safe band", seed)
		assert.GreaterOrEqual(t, fp.WebGLNoise, 0.01, "seed %d", seed)
		assert.Less(t, fp.WebGLNoise, 0.10, "seed %d", seed)
		assert.GreaterOrEqual(t, fp.AudioNoise, 0.001, "seed %d", seed)
		assert.Less(t, fp.AudioNoise, 0.01, "seed %d", seed)
	}
}

func TestGenerateViewportFitsScreen(t *testing.T) {
	t.Parallel()

	for seed := uint64(0); seed < 100; seed++ {
		fp := Generate(seed)
		assert.LessOrEqual(t, fp.ViewportWidth, fp.ScreenWidth, "seed %d", seed)
		assert.Less(t, fp.ViewportHeight, fp.ScreenHeight, "seed %d: chrome and taskbar take height", seed)
		assert.GreaterOrEqual(t, fp.ViewportHeight, 400, "seed %d: viewport too small to browse", seed)
		assert.GreaterOrEqual(t, fp.ScreenWidth, 1280, "seed %d", seed)
		assert.LessOrEqual(t, fp.ScreenWidth, 3840, "seed %d", seed)
	}
}

func TestGenerateNetworkIdentities(t *testing.T) {
	t.Parallel()

	hostnames := map[string]bool{}
	ips := map[string]bool{}
	for seed := uint64(0); seed < 100; seed++ {
		fp := Generate(seed)

		require.True(t, strings.HasSuffix(fp.Hostname, ".local"), "seed %d: %q", seed, fp.Hostname)
		require.Len(t, fp.Hostname, 22, "seed %d: 16 hex chars plus .local", seed)
		for _, c := range fp.Hostname[:16] {
			assert.Contains(t, "0123456789abcdef", string(c), "seed %d: hostname must be lowercase hex", seed)
		}

		var a, b int
		_, err := fmt.Sscanf(fp.LocalIP, "192.168.%d.%d", &a, &b)
		require.NoError(t, err, "seed %d: %q is not an RFC 1918 address", seed, fp.LocalIP)
		assert.GreaterOrEqual(t, a, 1, "seed %d", seed)
		assert.LessOrEqual(t, a, 254, "seed %d", seed)
		assert.GreaterOrEqual(t, b, 2, "seed %d", seed)
		assert.LessOrEqual(t, b, 254, "seed %d", seed)

		hostnames[fp.Hostname] = true
		ips[fp.LocalIP] = true
	}
	assert.GreaterOrEqual(t, len(hostnames), 90, "hostnames should rarely collide")
	assert.GreaterOrEqual(t, len(ips), 80, "local IPs should rarely collide")
}

func TestGenerateLocaleCoherent(t *testing.T) {
	t.Parallel()

	for seed := uint64(0); seed < 60; seed++ {
		fp := Generate(seed)
		assert.Contains(t, fp.Locale, "-", "seed %d: locale must be BCP-47", seed)
		assert.True(t, strings.HasPrefix(fp.AcceptLanguage, fp.Locale),
			"seed %d: accept_language %q must lead with locale %q", seed, fp.AcceptLanguage, fp.Locale)
		assert.Contains(t, fp.Timezone, "/", "seed %d: timezone must be IANA-style", seed)
	}
}

func TestGenerateUABrands(t *testing.T) {
	t.Parallel()

	for seed := uint64(0); seed < 50; seed++ {
		fp := Generate(seed)
		require.Len(t, fp.UABrands, 3, "seed %d", seed)

		hasChromium := false
		for _, b := range fp.UABrands {
			if b.Brand == "Chromium" || b.Brand == "Google Chrome" {
				hasChromium = true
				major := strings.SplitN(fp.BrowserVersion, ".", 2)[0]
				assert.Equal(t, major, b.Version, "seed %d: brand version tracks the UA major", seed)
			}
		}
		assert.True(t, hasChromium, "seed %d: GREASE list must include the real brands", seed)
	}
}

func TestGenerateFontsIncludeBaseline(t *testing.T) {
	t.Parallel()

	fp := Generate(77)
	for _, base := range baselineFonts {
		assert.Contains(t, fp.Fonts, base, "the cross-platform baseline is always exposed")
	}

	// Orderings should differ across seeds; a stable order would betray
	// the generator.
	other := Generate(78)
	if len(fp.Fonts) == len(other.Fonts) {
		same := true
		for i := range fp.Fonts {
			if fp.Fonts[i] != other.Fonts[i] {
				same = false
				break
			}
		}
		assert.False(t, same, "font ordering should not repeat across seeds")
	}
}

func TestGeneratePermissions(t *testing.T) {
	t.Parallel()

	valid := map[string]bool{"granted": true, "denied": true, "prompt": true}
	for seed := uint64(0); seed < 20; seed++ {
		fp := Generate(seed)
		require.NotEmpty(t, fp.Permissions, "seed %d", seed)
		assert.Contains(t, fp.Permissions, "geolocation", "seed %d", seed)
		for name, state := range fp.Permissions {
			assert.True(t, valid[state], "seed %d: permission %q has invalid state %q", seed, name, state)
		}
	}
}

func TestMutate(t *testing.T) {
	t.Parallel()

	t.Run("ChangesNoiseOnly", func(t *testing.T) {
		t.Parallel()
		fp := Generate(100)
		orig := *fp
		Mutate(fp)

		changed := fp.CanvasNoise != orig.CanvasNoise ||
			fp.AudioNoise != orig.AudioNoise ||
			fp.WebGLNoise != orig.WebGLNoise
		assert.True(t, changed, "mutate must move at least one noise channel")
		assert.Equal(t, orig.Seed, fp.Seed)
		assert.Equal(t, orig.UserAgent, fp.UserAgent)
		assert.Equal(t, orig.ScreenWidth, fp.ScreenWidth)
	})

	t.Run("KeepsRanges", func(t *testing.T) {
		t.Parallel()
		for seed := uint64(0); seed < 30; seed++ {
			fp := Generate(seed)
			Mutate(fp)
			assert.Greater(t, fp.CanvasNoise, 0.0)
			assert.Less(t, fp.CanvasNoise, 1.0)
			assert.Greater(t, fp.AudioNoise, 0.0)
			assert.Less(t, fp.AudioNoise, 1.0)
			assert.Greater(t, fp.WebGLNoise, 0.0)
			assert.Less(t, fp.WebGLNoise, 1.0)
		}
	})

	t.Run("Replayable", func(t *testing.T) {
		t.Parallel()
		a := Generate(55)
		b := Generate(55)
		Mutate(a)
		Mutate(b)
		require.Empty(t, cmp.Diff(a, b), "mutation deltas derive from the seed")
	})
}
