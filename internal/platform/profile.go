// Package platform describes the web platform the engine operates on: where
// its surfaces live, what its session cookies are called, which paths mean
// trouble, and how to find each control on the page.
package platform

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/invite-runner/internal/locate"
)

// PathClass is what a URL path says about the session.
type PathClass int

const (
	PathNormal PathClass = iota
	PathLogin
	PathAuthwall
	PathChallenge
)

func (c PathClass) String() string {
	switch c {
	case PathLogin:
		return "login"
	case PathAuthwall:
		return "authwall"
	case PathChallenge:
		return "challenge"
	}
	return "normal"
}

// Controls lists every control the resolver and classifier look for.
type Controls struct {
	Action       locate.Control `yaml:"action"`
	More         locate.Control `yaml:"more"`
	Menu         locate.Control `yaml:"menu"`
	MenuAction   locate.Control `yaml:"menu_action"`
	Related      locate.Control `yaml:"related"`
	AddNote      locate.Control `yaml:"add_note"`
	NoteInput    locate.Control `yaml:"note_input"`
	Submit       locate.Control `yaml:"submit"`
	Confirmation locate.Control `yaml:"confirmation"`
	Error        locate.Control `yaml:"error"`
}

func (c Controls) all() []locate.Control {
	return []locate.Control{
		c.Action, c.More, c.Menu, c.MenuAction, c.Related,
		c.AddNote, c.NoteInput, c.Submit, c.Confirmation, c.Error,
	}
}

// Profile is everything platform-specific the engine needs.
type Profile struct {
	Name           string   `yaml:"name"`
	BaseURL        string   `yaml:"base_url"`
	CookieDomain   string   `yaml:"cookie_domain"`
	LandingPath    string   `yaml:"landing_path"`
	CriticalTokens []string `yaml:"critical_tokens"`
	LoginPaths     []string `yaml:"login_paths"`
	AuthwallPaths  []string `yaml:"authwall_paths"`
	ChallengePaths []string `yaml:"challenge_paths"`
	// BlockStatuses are HTTP statuses that mean the platform refused a bot.
	BlockStatuses []int    `yaml:"block_statuses"`
	MaxNoteLength int      `yaml:"max_note_length"`
	Controls      Controls `yaml:"controls"`
}

// LandingURL is the neutral authenticated surface visited before the target.
func (p *Profile) LandingURL() string {
	return strings.TrimRight(p.BaseURL, "/") + p.LandingPath
}

// Classify maps a URL to what its path says. Challenge wins over the others.
func (p *Profile) Classify(rawURL string) PathClass {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PathNormal
	}
	path := strings.ToLower(u.Path)
	switch {
	case containsAny(path, p.ChallengePaths):
		return PathChallenge
	case containsAny(path, p.AuthwallPaths):
		return PathAuthwall
	case containsAny(path, p.LoginPaths):
		return PathLogin
	}
	return PathNormal
}

// IsBlockStatus reports whether an HTTP status is a bot refusal.
func (p *Profile) IsBlockStatus(status int) bool {
	for _, s := range p.BlockStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsCritical reports whether a cookie name is one of the critical tokens.
func (p *Profile) IsCritical(name string) bool {
	for _, t := range p.CriticalTokens {
		if t == name {
			return true
		}
	}
	return false
}

// OnPlatform reports whether rawURL belongs to the platform's host.
func (p *Profile) OnPlatform(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return false
	}
	domain := strings.TrimPrefix(p.CookieDomain, ".")
	host := strings.ToLower(u.Hostname())
	return host == base.Hostname() || host == domain || strings.HasSuffix(host, "."+domain)
}

func containsAny(path string, patterns []string) bool {
	for _, pat := range patterns {
		if pat != "" && strings.Contains(path, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

// Validate checks the profile is usable.
func (p *Profile) Validate() error {
	var errs []error
	base, err := url.Parse(p.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q is not an absolute URL", p.BaseURL))
	}
	if p.CookieDomain == "" {
		errs = append(errs, errors.New("cookie_domain is empty"))
	}
	if !strings.HasPrefix(p.LandingPath, "/") {
		errs = append(errs, fmt.Errorf("landing_path %q must start with /", p.LandingPath))
	}
	if len(p.CriticalTokens) == 0 {
		errs = append(errs, errors.New("critical_tokens is empty"))
	}
	if p.MaxNoteLength <= 0 {
		errs = append(errs, fmt.Errorf("max_note_length %d must be positive", p.MaxNoteLength))
	}
	for _, c := range p.Controls.all() {
		if len(c.Strategies) == 0 {
			errs = append(errs, fmt.Errorf("control %q has no strategies", c.Name))
		}
		for i, s := range c.Strategies {
			if s.Selector == "" {
				errs = append(errs, fmt.Errorf("control %q strategy %d has no selector", c.Name, i+1))
			}
			if s.Timeout > 10*time.Second {
				errs = append(errs, fmt.Errorf("control %q strategy %d timeout %s exceeds 10s", c.Name, i+1, s.Timeout))
			}
		}
	}
	return errors.Join(errs...)
}

// Load reads a YAML profile from path on top of the default profile. Fields
// the file leaves out keep their default values.
func Load(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform profile: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("parse platform profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid platform profile %s: %w", path, err)
	}
	return p, nil
}
