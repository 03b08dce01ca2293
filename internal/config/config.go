// Package config reads the runner's settings from .env files and the
// environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/engine"
	"github.com/shehryarbajwa/invite-runner/internal/platform"
)

// Browser backends.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Error reports one invalid setting.
type Error struct {
	Var   string
	Value string
	Err   error
}

func (e *Error) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %v", e.Var, e.Err)
	}
	return fmt.Sprintf("config %s=%q: %v", e.Var, e.Value, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds every setting of the server and the CLI.
type Config struct {
	Production bool
	Headless   bool

	SessionKey         string
	Proxy              *browser.Proxy
	StrictConfirmation bool
	TrailMaxLines      int
	RunTimeout         time.Duration
	Profile            *platform.Profile

	Backend     string
	ChromeBin   string
	DockerImage string

	ListenAddr        string
	MaxConcurrentRuns int64
	RateLimitPerHour  int
	RateLimitBurst    int

	LogLevel    zapcore.Level
	TraceStdout bool
}

// Load reads .env files (a missing file is not an error) and then the
// process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Var: "dotenv", Err: err}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Every invalid variable is reported;
// the returned error joins one *Error per problem.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	cfg := &Config{
		Production:         p.boolean("PRODUCTION", false) || strings.EqualFold(getenv("APP_ENV"), "production"),
		Headless:           browser.DetectHeadless(getenv),
		SessionKey:         getenv("SESSION_ENCRYPTION_KEY"),
		StrictConfirmation: p.boolean("STRICT_CONFIRMATION", false),
		TrailMaxLines:      p.integer("TRAIL_MAX_LINES", 500),
		RunTimeout:         p.duration("RUN_TIMEOUT", 3*time.Minute),
		Backend:            p.str("BROWSER_BACKEND", BackendLocal),
		ChromeBin:          getenv("CHROME_BIN"),
		DockerImage:        p.str("DOCKER_IMAGE", browser.DefaultImage),
		ListenAddr:         p.str("LISTEN_ADDR", ":8080"),
		MaxConcurrentRuns:  int64(p.integer("MAX_CONCURRENT_RUNS", 4)),
		RateLimitPerHour:   p.integer("RATE_LIMIT_PER_HOUR", 100),
		RateLimitBurst:     p.integer("RATE_LIMIT_BURST", 10),
		TraceStdout:        p.boolean("TRACE_STDOUT", false),
	}

	switch cfg.Backend {
	case BackendLocal, BackendDocker:
	default:
		p.fail("BROWSER_BACKEND", cfg.Backend, errors.New("want local or docker"))
	}
	if cfg.TrailMaxLines < 10 {
		p.fail("TRAIL_MAX_LINES", getenv("TRAIL_MAX_LINES"), errors.New("must be at least 10"))
	}
	if cfg.MaxConcurrentRuns < 1 {
		p.fail("MAX_CONCURRENT_RUNS", getenv("MAX_CONCURRENT_RUNS"), errors.New("must be positive"))
	}
	if cfg.RateLimitPerHour < 1 || cfg.RateLimitBurst < 1 {
		p.fail("RATE_LIMIT_PER_HOUR", getenv("RATE_LIMIT_PER_HOUR"), errors.New("rate and burst must be positive"))
	}

	level := p.str("LOG_LEVEL", "info")
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		p.fail("LOG_LEVEL", level, err)
	}

	cfg.Proxy = p.proxy()

	cfg.Profile = platform.Default()
	if path := getenv("PLATFORM_PROFILE"); path != "" {
		profile, err := platform.Load(path)
		if err != nil {
			p.fail("PLATFORM_PROFILE", path, err)
		} else {
			cfg.Profile = profile
		}
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

// Engine returns the engine settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		Profile:            c.Profile,
		SessionKey:         c.SessionKey,
		Proxy:              c.Proxy,
		Headless:           c.Headless,
		StrictConfirmation: c.StrictConfirmation,
		TrailMaxLines:      c.TrailMaxLines,
		RunTimeout:         c.RunTimeout,
	}
}

// Logger builds the process logger: JSON in production, console otherwise.
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if c.Production {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	return zc.Build()
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(name, value string, err error) {
	p.errs = append(p.errs, &Error{Var: name, Value: value, Err: err})
}

func (p *parser) str(name, def string) string {
	if v := strings.TrimSpace(p.getenv(name)); v != "" {
		return v
	}
	return def
}

func (p *parser) boolean(name string, def bool) bool {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "yes":
		return true
	case "no":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(name, v, errors.New("not a boolean"))
		return def
	}
	return b
}

func (p *parser) integer(name string, def int) int {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(name, v, errors.New("not an integer"))
		return def
	}
	return n
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail(name, v, errors.New("not a non-negative duration"))
		return def
	}
	return d
}

func (p *parser) proxy() *browser.Proxy {
	host := strings.TrimSpace(p.getenv("PROXY_HOST"))
	if host == "" {
		if p.getenv("PROXY_PORT") != "" || p.getenv("PROXY_USERNAME") != "" {
			p.fail("PROXY_HOST", "", errors.New("required when other proxy settings are present"))
		}
		return nil
	}
	px := &browser.Proxy{
		Host:     host,
		Port:     p.integer("PROXY_PORT", 0),
		Username: p.getenv("PROXY_USERNAME"),
		Password: p.getenv("PROXY_PASSWORD"),
	}
	if err := px.Validate(); err != nil {
		p.fail("PROXY_HOST", host, err)
		return nil
	}
	return px
}

// Launcher builds the configured browser backend. The returned func
// releases the backend's own resources.
func (c *Config) Launcher(ctx context.Context, log *zap.Logger) (browser.Launcher, func() error, error) {
	if c.Backend == BackendDocker {
		d, err := browser.NewDockerLauncher(c.DockerImage, log.Named("docker"))
		if err != nil {
			return nil, nil, fmt.Errorf("docker backend: %w", err)
		}
		if err := d.EnsureImage(ctx); err != nil {
			d.Close()
			return nil, nil, fmt.Errorf("docker backend: %w", err)
		}
		return d, d.Close, nil
	}
	return &browser.LocalLauncher{Bin: c.ChromeBin, Log: log.Named("chrome")}, func() error { return nil }, nil
}
