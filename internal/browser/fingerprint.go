package browser

import (
	"math/rand/v2"
	"strings"
)

// Fingerprint is the identity a browser presents: user agent, window size,
// locale and timezone.
type Fingerprint struct {
	UserAgent string
	Platform  string
	Width     int
	Height    int
	Locale    string
	Timezone  string
}

// AcceptLanguage renders the locale as an Accept-Language header value.
func (f Fingerprint) AcceptLanguage() string {
	lang, _, _ := strings.Cut(f.Locale, "-")
	if lang == f.Locale {
		return f.Locale
	}
	return f.Locale + "," + lang + ";q=0.9"
}

type agent struct {
	ua       string
	platform string
}

var agents = []agent{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36", "Linux x86_64"},
}

var viewports = [][2]int{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

// locale and timezone are chosen together so they stay consistent.
var regions = [][2]string{
	{"en-US", "America/New_York"},
	{"en-US", "America/Chicago"},
	{"en-US", "America/Los_Angeles"},
	{"en-GB", "Europe/London"},
	{"en-CA", "America/Toronto"},
}

// RandomFingerprint picks a plausible fingerprint.
func RandomFingerprint(rng *rand.Rand) Fingerprint {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	a := agents[rng.IntN(len(agents))]
	v := viewports[rng.IntN(len(viewports))]
	r := regions[rng.IntN(len(regions))]
	return Fingerprint{
		UserAgent: a.ua,
		Platform:  a.platform,
		Width:     v[0],
		Height:    v[1],
		Locale:    r[0],
		Timezone:  r[1],
	}
}

// DetectHeadless picks the runtime mode from the environment: interactive
// only when a display is attached and the process is not in production.
// HEADLESS, when set to a boolean, wins over both signals.
func DetectHeadless(getenv func(string) string) bool {
	switch strings.ToLower(strings.TrimSpace(getenv("HEADLESS"))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	if isTrue(getenv("PRODUCTION")) || strings.EqualFold(getenv("APP_ENV"), "production") {
		return true
	}
	return getenv("DISPLAY") == "" && getenv("WAYLAND_DISPLAY") == ""
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
