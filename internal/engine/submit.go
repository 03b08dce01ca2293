package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/invite-runner/internal/artifact"
	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/locate"
	"github.com/shehryarbajwa/invite-runner/internal/navigate"
	"github.com/shehryarbajwa/invite-runner/internal/outcome"
	"github.com/shehryarbajwa/invite-runner/internal/resolver"
	"github.com/shehryarbajwa/invite-runner/internal/session"
	"github.com/shehryarbajwa/invite-runner/internal/telemetry"
	"github.com/shehryarbajwa/invite-runner/pkg/models"
)

// Pipeline stages, as reported on outcomes and spans.
const (
	stageRequest  = "request"
	stageHydrate  = "hydrate"
	stageLaunch   = "launch"
	stageCookies  = "cookies"
	stageWarmUp   = "warm-up"
	stageNavigate = "navigate"
	stageResolve  = "resolve"
	stageClassify = "classify"
)

// run is the state one Submit call owns.
type run struct {
	id        string
	req       models.AutomationRequest
	trail     *artifact.Trail
	log       *zap.Logger
	latch     *outcome.Latch
	inst      browser.Instance
	navigated bool
	stopWatch context.CancelFunc
}

// Submit executes req and returns its result. It never panics and never
// returns without releasing the browser it launched.
func (e *Engine) Submit(ctx context.Context, req models.AutomationRequest) (res models.AutomationResult) {
	started := e.now()
	r := &run{
		id:    req.CorrelationID,
		req:   req,
		trail: artifact.NewTrail(e.cfg.TrailMaxLines),
		latch: outcome.NewLatch(e.cfg.Profile),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.log = e.log.With(zap.String("correlation_id", r.id))
	r.latch.OnRaise = func(indicator string) {
		r.trail.Logf("block", "challenge observed: %s", indicator)
		r.log.Warn("challenge observed", zap.String("indicator", indicator))
	}

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}
	ctx, span := telemetry.Tracer().Start(ctx, "invite.submit",
		trace.WithAttributes(telemetry.AttrCorrelationID.String(r.id)))
	finished := e.metrics.RunStarted()

	r.trail.Logf("engine", "run %s started for %s", r.id, req.TargetURL)
	r.log.Info("run started", zap.Object("request", req))

	var out outcome.Outcome
	defer func() {
		if p := recover(); p != nil {
			out = outcome.Unexpected("panic", fmt.Errorf("panic: %v", p))
			r.trail.Logf("engine", "panic: %v", p)
			r.log.Error("run panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}
		if indicator, ok := r.latch.Raised(); ok && out.Kind != outcome.Blocked {
			out = outcome.BlockedBy(indicator)
		}
		e.teardown(r, out)

		r.trail.Logf("engine", "outcome: %s", out)
		res = e.result(r, out, started)

		finished(string(out.Kind))
		span.SetAttributes(telemetry.AttrOutcome.String(string(out.Kind)))
		span.End()
		r.log.Info("run finished",
			zap.String("outcome", string(out.Kind)),
			zap.String("message", out.Message),
			zap.Duration("elapsed", res.FinishedAt.Sub(started)),
			zap.Int("screenshots", len(res.Screenshots)))
	}()

	out = e.execute(ctx, r)
	return res
}

func (e *Engine) execute(ctx context.Context, r *run) outcome.Outcome {
	if err := e.validateTarget(r.req.TargetURL); err != nil {
		r.trail.Logf("engine", "rejected request: %v", err)
		return outcome.Unexpected(stageRequest, err)
	}

	bundle, err := e.hydrate(ctx, r)
	if err != nil {
		return outcome.InvalidSession(err.Error())
	}

	if o, ok := e.launch(ctx, r); !ok {
		return o
	}
	if o, ok := e.injectCookies(ctx, r, bundle); !ok {
		return o
	}

	pacer := e.newPacer()
	finder := &locate.Finder{
		Recorder: r.trail,
		Observe: func(control, kind, result string) {
			e.metrics.LocateAttempt(control, kind, result)
		},
	}
	page := r.inst.Page()
	nav := &navigate.Controller{
		Profile:  e.cfg.Profile,
		Pacer:    pacer,
		Latch:    r.latch,
		Recorder: r.trail,
		Log:      r.log,
		Timings:  e.navTimings,
	}

	r.navigated = true
	sctx, span := telemetry.StartStage(ctx, stageWarmUp)
	err = nav.WarmUp(sctx, page)
	telemetry.EndStage(span, err)
	e.capture(ctx, r, artifact.CheckpointLanding)
	if err != nil {
		return e.failure(ctx, r, stageWarmUp, err)
	}

	sctx, span = telemetry.StartStage(ctx, stageNavigate)
	err = nav.Open(sctx, page, r.req.TargetURL)
	telemetry.EndStage(span, err)
	e.capture(ctx, r, artifact.CheckpointTarget)
	if err != nil {
		return e.failure(ctx, r, stageNavigate, err)
	}

	res := &resolver.Resolver{
		Controls:      e.cfg.Profile.Controls,
		MaxNoteLength: e.cfg.Profile.MaxNoteLength,
		Finder:        finder,
		Pacer:         pacer,
		Latch:         r.latch,
		Recorder:      r.trail,
		Log:           r.log,
		Timings:       e.resolveTimings,
	}
	sctx, span = telemetry.StartStage(ctx, stageResolve)
	result, err := res.Run(sctx, page, r.req.Note)
	telemetry.EndStage(span, err)
	if err != nil {
		return e.failure(ctx, r, stageResolve, err)
	}
	if result.Note != "" {
		r.log.Debug("note submitted", zap.Int("length", len([]rune(result.Note))))
	}

	cls := &outcome.Classifier{
		Finder:       finder,
		Confirmation: e.cfg.Profile.Controls.Confirmation,
		Error:        e.cfg.Profile.Controls.Error,
		Pacer:        pacer,
		Recorder:     r.trail,
		Settle:       e.settle,
		Window:       e.window,
		Strict:       e.cfg.StrictConfirmation,
	}
	sctx, span = telemetry.StartStage(ctx, stageClassify)
	o, err := cls.Classify(sctx, page, r.latch)
	telemetry.EndStage(span, err)
	if err != nil {
		return e.failure(ctx, r, stageClassify, err)
	}
	return o
}

func (e *Engine) hydrate(ctx context.Context, r *run) (session.Bundle, error) {
	_, span := telemetry.StartStage(ctx, stageHydrate)
	bundle, err := e.hydrator.Hydrate(r.req.SessionBundle)
	telemetry.EndStage(span, err)
	if err != nil {
		r.trail.Logf("session", "rejected: %v", err)
		r.log.Info("session bundle rejected", zap.Object("bundle", bundle))
		return bundle, err
	}
	r.trail.Logf("session", "decoded %s", bundle)
	return bundle, nil
}

func (e *Engine) launch(ctx context.Context, r *run) (outcome.Outcome, bool) {
	sctx, span := telemetry.StartStage(ctx, stageLaunch)
	opts := browser.LaunchOptions{
		CorrelationID: r.id,
		Headless:      e.cfg.Headless,
		Proxy:         e.cfg.Proxy,
		Fingerprint:   e.fingerprint(),
	}
	inst, err := e.launcher.Launch(sctx, opts)
	telemetry.EndStage(span, err)
	if err != nil {
		r.trail.Logf("browser", "launch failed: %v", err)
		return e.failure(ctx, r, stageLaunch, err), false
	}
	r.inst = inst
	r.trail.Logf("browser", "launched (headless=%t, proxy=%t, %dx%d %s %s)",
		opts.Headless, opts.Proxy != nil, opts.Fingerprint.Width, opts.Fingerprint.Height,
		opts.Fingerprint.Locale, opts.Fingerprint.Timezone)

	watch, stop := context.WithCancel(context.Background())
	r.stopWatch = stop
	if err := inst.Page().OnResponse(watch, r.latch.Observe); err != nil {
		r.trail.Logf("browser", "response observer not armed: %v", err)
		return e.failure(ctx, r, stageLaunch, err), false
	}

	if e.observer != nil {
		e.observer.RunStarted(r.id, inst)
	}
	return outcome.Outcome{}, true
}

func (e *Engine) injectCookies(ctx context.Context, r *run, bundle session.Bundle) (outcome.Outcome, bool) {
	sctx, span := telemetry.StartStage(ctx, stageCookies)
	defer span.End()

	secure := strings.HasPrefix(e.cfg.Profile.BaseURL, "https://")
	cookies := make([]browser.Cookie, 0, len(bundle.Tokens))
	for _, t := range bundle.Tokens {
		c := browser.Cookie{
			Name:     t.Name,
			Value:    t.Value,
			Domain:   e.cfg.Profile.CookieDomain,
			Path:     t.Path,
			Secure:   t.Secure || secure,
			HTTPOnly: t.HTTPOnly,
			Expires:  t.Expires,
		}
		if c.Path == "" {
			c.Path = "/"
		}
		cookies = append(cookies, c)
	}
	if err := r.inst.SetCookies(sctx, cookies); err != nil {
		r.trail.Logf("cookies", "injection failed: %v", err)
		return e.failure(ctx, r, stageCookies, err), false
	}

	stored, err := r.inst.Cookies(sctx)
	if err != nil {
		r.trail.Logf("cookies", "read-back failed: %v", err)
		return e.failure(ctx, r, stageCookies, err), false
	}
	persisted := 0
	for _, c := range stored {
		if e.cfg.Profile.IsCritical(c.Name) && c.Value != "" {
			persisted++
		}
	}
	r.trail.Logf("cookies", "injected %d cookies, %d critical persisted", len(cookies), persisted)
	if persisted == 0 {
		return outcome.InvalidSession("no critical cookie persisted in the browser"), false
	}
	return outcome.Outcome{}, true
}

// failure converts a stage error into exactly one outcome.
func (e *Engine) failure(ctx context.Context, r *run, stage string, err error) outcome.Outcome {
	var (
		blocked  *outcome.BlockedError
		notFound *resolver.NotFoundError
		navErr   *navigate.Error
	)
	switch {
	case errors.As(err, &blocked):
		return outcome.BlockedBy(blocked.Indicator)
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.trail.Logf("engine", "%s: run cancelled: %v", stage, err)
		return outcome.Outcome{
			Kind:    outcome.TransientError,
			Message: "Run timed out or was cancelled",
			Stage:   stage,
			Detail:  err.Error(),
		}
	case errors.Is(err, resolver.ErrAlreadyRelated):
		return outcome.Already()
	case errors.As(err, &notFound):
		return outcome.Missing(notFound.Stage)
	case errors.Is(err, navigate.ErrSessionRejected):
		return outcome.InvalidSession(err.Error())
	case errors.Is(err, browser.ErrProxy):
		return outcome.Misconfigured(err.Error())
	case errors.As(err, &navErr):
		return outcome.Unexpected(stage, err)
	}
	r.log.Warn("stage failed", zap.String("stage", stage), zap.Error(err))
	return outcome.Unexpected(stage, err)
}

// capture takes a checkpoint screenshot on a context that survives the
// run's cancellation.
func (e *Engine) capture(ctx context.Context, r *run, cp artifact.Checkpoint) {
	if r.inst == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.closeTimeout)
	defer cancel()
	r.trail.Capture(cctx, r.inst.Page(), cp)
}

// teardown takes the terminal screenshot and releases the browser.
func (e *Engine) teardown(r *run, out outcome.Outcome) {
	if r.inst == nil {
		return
	}
	if r.navigated {
		cp := artifact.CheckpointFailure
		if out.Succeeded() {
			cp = artifact.CheckpointSuccess
		}
		e.capture(context.Background(), r, cp)
	}
	if r.stopWatch != nil {
		r.stopWatch()
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.closeTimeout)
	defer cancel()
	if err := r.inst.Close(ctx); err != nil {
		r.log.Warn("browser close failed", zap.Error(err))
		r.trail.Logf("browser", "close failed: %v", err)
	} else {
		r.trail.Logf("browser", "closed")
	}
	if e.observer != nil {
		e.observer.RunFinished(r.id)
	}
}

func (e *Engine) result(r *run, out outcome.Outcome, started time.Time) models.AutomationResult {
	shots := r.trail.Screenshots()
	res := models.AutomationResult{
		Success:       out.Succeeded(),
		Message:       out.Message,
		OutcomeKind:   string(out.Kind),
		Stage:         out.Stage,
		Indicator:     out.Indicator,
		Error:         out.Detail,
		CorrelationID: r.id,
		StartedAt:     started,
		FinishedAt:    e.now(),
		Logs:          r.trail.Lines(),
		LogsDropped:   r.trail.Dropped(),
		Screenshots:   make([]models.Screenshot, 0, len(shots)),
	}
	for _, s := range shots {
		res.Screenshots = append(res.Screenshots, models.Screenshot{
			Checkpoint: string(s.Checkpoint),
			TakenAt:    s.TakenAt,
			PNG:        s.PNG,
		})
	}
	return res
}
