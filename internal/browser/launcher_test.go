package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/behavior"
)

func validLaunchConfig() *schemas.LaunchConfig {
	return &schemas.LaunchConfig{
		Profile: schemas.Profile{ID: "profile-1", Seed: 42},
		WSPort:  9222,
	}
}

func TestValidateLaunch(t *testing.T) {
	t.Parallel()

	t.Run("Nil", func(t *testing.T) {
		t.Parallel()
		require.EqualError(t, ValidateLaunch(nil), "launch config is required")
	})

	t.Run("Valid", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, ValidateLaunch(validLaunchConfig()))
	})

	t.Run("ValidWithProxyAndBehavior", func(t *testing.T) {
		t.Parallel()
		lc := validLaunchConfig()
		lc.Proxy = &schemas.Proxy{Server: "10.0.0.1:3128", Username: "u", Password: "p"}
		cfg, err := behavior.ForPreset(behavior.PresetCautious)
		require.NoError(t, err)
		lc.Profile.Behavior = &cfg
		require.NoError(t, ValidateLaunch(lc))
	})

	t.Run("BlankProfileID", func(t *testing.T) {
		t.Parallel()
		lc := validLaunchConfig()
		lc.Profile.ID = "   "
		err := ValidateLaunch(lc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "profile.id")
	})

	t.Run("PrivilegedPort", func(t *testing.T) {
		t.Parallel()
		lc := validLaunchConfig()
		lc.WSPort = 80
		err := ValidateLaunch(lc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wsPort")
	})

	t.Run("ProxyWithoutServer", func(t *testing.T) {
		t.Parallel()
		lc := validLaunchConfig()
		lc.Proxy = &schemas.Proxy{Username: "u"}
		err := ValidateLaunch(lc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "proxy.server")
	})

	t.Run("UnusableBehaviorConfig", func(t *testing.T) {
		t.Parallel()
		lc := validLaunchConfig()
		lc.Profile.Behavior = &behavior.Config{}
		err := ValidateLaunch(lc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "profile.behavior")
	})

	t.Run("ViolationsReportedTogether", func(t *testing.T) {
		t.Parallel()
		err := ValidateLaunch(&schemas.LaunchConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "profile.id")
		assert.Contains(t, err.Error(), "wsPort")
	})
}

func TestNormalizeProxyServer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"BareHostPort", "10.0.0.1:3128", "http://10.0.0.1:3128"},
		{"ExplicitHTTP", "http://proxy.test:8080", "http://proxy.test:8080"},
		{"Socks5Kept", "socks5://10.0.0.1:1080", "socks5://10.0.0.1:1080"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, normalizeProxyServer(tc.in))
		})
	}
}
