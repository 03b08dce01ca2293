package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/invite-runner/internal/config"
	"github.com/shehryarbajwa/invite-runner/internal/engine"
	"github.com/shehryarbajwa/invite-runner/pkg/models"
)

// errNotSent makes the process exit non-zero after the result is printed.
var errNotSent = errors.New("invitation not sent")

var (
	targetURL   string
	sessionFile string
	note        string
	timeout     time.Duration
	outDir      string
	envFile     string
)

var rootCmd = &cobra.Command{
	Use:   "invite",
	Short: "Send one connection invitation with a stored session",
	Long: `Send one connection invitation to a profile using a stored session bundle.

The result is printed as JSON on stdout. Checkpoint screenshots are written
to --out when it is set. The exit status is 0 when the invitation was sent or
the profile was already connected.`,
	SilenceUsage: true,
	RunE:         runInvite,
}

func init() {
	rootCmd.Flags().StringVar(&targetURL, "target", "", "profile URL to invite (required)")
	rootCmd.Flags().StringVar(&sessionFile, "session-file", "", "file holding the session bundle (required)")
	rootCmd.Flags().StringVar(&note, "note", "", "optional invitation note")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "bound the whole run (default RUN_TIMEOUT)")
	rootCmd.Flags().StringVar(&outDir, "out", "", "directory for checkpoint screenshots")
	rootCmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before the environment")
	rootCmd.MarkFlagRequired("target")
	rootCmd.MarkFlagRequired("session-file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errNotSent) {
			fmt.Fprintln(os.Stderr, "invite:", err)
		}
		os.Exit(1)
	}
}

func runInvite(cmd *cobra.Command, args []string) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if timeout > 0 {
		cfg.RunTimeout = timeout
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	bundle, err := os.ReadFile(sessionFile)
	if err != nil {
		return fmt.Errorf("read session bundle: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher, closeLauncher, err := cfg.Launcher(ctx, log)
	if err != nil {
		return err
	}
	defer closeLauncher()

	eng, err := engine.New(cfg.Engine(), launcher, engine.WithLogger(log.Named("engine")))
	if err != nil {
		return err
	}

	res := eng.Submit(ctx, models.AutomationRequest{
		TargetURL:     targetURL,
		Note:          note,
		SessionBundle: strings.TrimSpace(string(bundle)),
	})

	if outDir != "" {
		paths, err := writeScreenshots(outDir, res)
		if err != nil {
			log.Warn("screenshots not written", zap.Error(err))
		}
		for _, p := range paths {
			log.Info("screenshot written", zap.String("path", p))
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary(res)); err != nil {
		return err
	}
	if !res.Success {
		return errNotSent
	}
	return nil
}

// summary drops the image bytes so the printed result stays readable.
func summary(res models.AutomationResult) models.AutomationResult {
	out := res
	out.Screenshots = make([]models.Screenshot, len(res.Screenshots))
	for i, s := range res.Screenshots {
		out.Screenshots[i] = models.Screenshot{Checkpoint: s.Checkpoint, TakenAt: s.TakenAt}
	}
	return out
}

// writeScreenshots stores each checkpoint as <correlation>-<n>-<checkpoint>.png.
func writeScreenshots(dir string, res models.AutomationResult) ([]string, error) {
	if len(res.Screenshots) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for i, s := range res.Screenshots {
		p := filepath.Join(dir, fmt.Sprintf("%s-%d-%s.png", res.CorrelationID, i+1, s.Checkpoint))
		if err := os.WriteFile(p, s.PNG, 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
