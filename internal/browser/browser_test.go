package browser

import (
	"math/rand/v2"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileText(t *testing.T) {
	tests := []struct {
		name    string
		matcher string
		input   string
		want    bool
	}{
		{"case insensitive", "/^connect$/i", "Connect", true},
		{"anchored", "/^connect$/i", "Connections", false},
		{"bare substring", "Pending", "Pending invitation", true},
		{"bare is literal", "a.b", "axb", false},
		{"unknown flags ignored", "/more/gu", "More actions", false},
		{"unknown flags keep pattern", "/More/gu", "More actions", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchText(tt.matcher, tt.input))
		})
	}

	_, err := CompileText("/([/")
	assert.Error(t, err)
	assert.False(t, MatchText("/([/", "anything"))
}

func TestProxyValidate(t *testing.T) {
	assert.NoError(t, Proxy{Host: "proxy.local", Port: 8080}.Validate())
	assert.NoError(t, Proxy{Host: "proxy.local", Port: 8080, Username: "u", Password: "p"}.Validate())
	assert.Error(t, Proxy{Port: 8080}.Validate())
	assert.Error(t, Proxy{Host: "proxy.local", Port: 70000}.Validate())
	assert.Error(t, Proxy{Host: "proxy.local", Port: 8080, Password: "p"}.Validate())

	p := Proxy{Host: "::1", Port: 3128, Username: "u"}
	assert.Equal(t, "[::1]:3128", p.Address())
	assert.True(t, p.HasCredentials())
}

func TestRandomFingerprintIsConsistent(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		fp := RandomFingerprint(rng)
		assert.NotEmpty(t, fp.UserAgent)
		assert.Greater(t, fp.Width, 0)
		assert.Greater(t, fp.Height, 0)
		assert.Contains(t, fp.Locale, "en-")
		assert.NotEmpty(t, fp.Timezone)
		switch fp.Platform {
		case "Win32":
			assert.Contains(t, fp.UserAgent, "Windows")
		case "MacIntel":
			assert.Contains(t, fp.UserAgent, "Macintosh")
		default:
			assert.Contains(t, fp.UserAgent, "Linux")
		}
	}
	assert.NotEmpty(t, RandomFingerprint(nil).UserAgent)
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "en-GB,en;q=0.9", Fingerprint{Locale: "en-GB"}.AcceptLanguage())
	assert.Equal(t, "fr", Fingerprint{Locale: "fr"}.AcceptLanguage())
}

func TestDetectHeadless(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"no display", map[string]string{}, true},
		{"x11 display", map[string]string{"DISPLAY": ":0"}, false},
		{"wayland display", map[string]string{"WAYLAND_DISPLAY": "wayland-0"}, false},
		{"production with display", map[string]string{"DISPLAY": ":0", "APP_ENV": "production"}, true},
		{"production flag", map[string]string{"DISPLAY": ":0", "PRODUCTION": "true"}, true},
		{"explicit headful", map[string]string{"HEADLESS": "false", "APP_ENV": "production"}, false},
		{"explicit headless", map[string]string{"HEADLESS": "1", "DISPLAY": ":0"}, true},
		{"garbage override ignored", map[string]string{"HEADLESS": "maybe", "DISPLAY": ":0"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectHeadless(func(k string) string { return tt.env[k] })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStealthScript(t *testing.T) {
	js := StealthScript(Fingerprint{Locale: "en-GB"})
	assert.Contains(t, js, `["en-GB", "en"]`)
	assert.Contains(t, js, "webdriver")
	assert.Contains(t, js, "permissions")
	assert.NotContains(t, js, "%!")
}

func TestControlURLCarriesFlags(t *testing.T) {
	raw := controlURL("9222", LaunchOptions{
		Headless:    true,
		Proxy:       &Proxy{Host: "proxy.local", Port: 8080},
		Fingerprint: Fingerprint{Width: 1440, Height: 900},
	})
	require.True(t, strings.HasPrefix(raw, "ws://127.0.0.1:9222?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "AutomationControlled", q.Get("--disable-blink-features"))
	assert.Equal(t, "proxy.local:8080", q.Get("--proxy-server"))
	assert.Equal(t, "1440,900", q.Get("--window-size"))
	assert.Equal(t, "true", q.Get("headless"))
}

func TestClassifyNavigation(t *testing.T) {
	assert.ErrorIs(t, classifyNavigation("net::ERR_TOO_MANY_REDIRECTS", nil), ErrRedirectLoop)
	assert.ErrorIs(t, classifyNavigation("net::ERR_PROXY_CONNECTION_FAILED", nil), ErrProxy)
	assert.ErrorIs(t, classifyNavigation("net::ERR_TUNNEL_CONNECTION_FAILED", nil), ErrProxy)
	err := classifyNavigation("net::ERR_NAME_NOT_RESOLVED", nil)
	assert.NotErrorIs(t, err, ErrProxy)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
}
