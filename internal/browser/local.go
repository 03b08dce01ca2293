package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"go.uber.org/zap"
)

// LocalLauncher starts Chrome as a child process of this one.
type LocalLauncher struct {
	// Bin is the Chrome binary. Empty means rod's lookup and download logic.
	Bin string
	Log *zap.Logger
}

func (l *LocalLauncher) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}

	lc := launcher.New().
		Headless(opts.Headless).
		Leakless(true).
		Delete(flags.Flag("enable-automation")).
		Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", opts.Fingerprint.Width, opts.Fingerprint.Height))
	for name, value := range automationFlags {
		if value == "" {
			lc = lc.Set(flags.Flag(name))
			continue
		}
		lc = lc.Set(flags.Flag(name), value)
	}
	if l.Bin != "" {
		lc = lc.Bin(l.Bin)
	}
	if opts.Proxy != nil {
		lc = lc.Proxy(opts.Proxy.Address())
	}

	u, err := lc.Launch()
	if err != nil {
		lc.Kill()
		lc.Cleanup()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	log.Debug("chrome launched",
		zap.String("correlation_id", opts.CorrelationID),
		zap.Bool("headless", opts.Headless))

	release := func() {
		lc.Kill()
		lc.Cleanup()
	}
	return connect(ctx, u, opts, release, log)
}
