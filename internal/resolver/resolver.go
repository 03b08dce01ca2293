// Package resolver finds and operates the invitation controls on a target
// page. It is a small state machine over locate cascades:
//
//	SearchingDirectAction -> OpeningOverflowMenu -> SearchingMenuAction
//	  -> ActionFound -> FillingNote -> Submitting -> AwaitingResult
//
// with AlreadyRelated and Failed as the other terminal states.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/humanize"
	"github.com/shehryarbajwa/invite-runner/internal/locate"
	"github.com/shehryarbajwa/invite-runner/internal/outcome"
	"github.com/shehryarbajwa/invite-runner/internal/platform"
)

// State is a resolver step.
type State int

const (
	SearchingDirectAction State = iota
	OpeningOverflowMenu
	SearchingMenuAction
	ActionFound
	FillingNote
	Submitting
	AwaitingResult
	AlreadyRelated
	Failed
)

var stateNames = [...]string{
	"SearchingDirectAction",
	"OpeningOverflowMenu",
	"SearchingMenuAction",
	"ActionFound",
	"FillingNote",
	"Submitting",
	"AwaitingResult",
	"AlreadyRelated",
	"Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ErrAlreadyRelated means the page shows the relationship already exists.
var ErrAlreadyRelated = errors.New("relationship already exists")

// NotFoundError is a control that no strategy could resolve.
type NotFoundError struct {
	Stage string
	Err   error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s control not found: %v", e.Stage, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Timings are the human-paced pauses around each interaction.
type Timings struct {
	MenuHoverMin   time.Duration
	MenuHoverMax   time.Duration
	MenuSettleMin  time.Duration
	MenuSettleMax  time.Duration
	ActionHoverMin time.Duration
	ActionHoverMax time.Duration
	ActionSettle   time.Duration
	NoteWindow     time.Duration
	NoteSettleMin  time.Duration
	NoteSettleMax  time.Duration
}

// DefaultTimings are the production pauses.
var DefaultTimings = Timings{
	MenuHoverMin:   300 * time.Millisecond,
	MenuHoverMax:   700 * time.Millisecond,
	MenuSettleMin:  800 * time.Millisecond,
	MenuSettleMax:  1200 * time.Millisecond,
	ActionHoverMin: 400 * time.Millisecond,
	ActionHoverMax: 700 * time.Millisecond,
	ActionSettle:   2 * time.Second,
	NoteWindow:     3 * time.Second,
	NoteSettleMin:  500 * time.Millisecond,
	NoteSettleMax:  900 * time.Millisecond,
}

// Result describes a run that reached AwaitingResult.
type Result struct {
	// Path is every state visited, in order.
	Path []State
	// Note is the text actually filled, empty when no note was entered.
	Note string
	// ViaMenu reports whether the action was found in the overflow menu.
	ViaMenu bool
}

// Resolver operates the invitation flow on one page. It is used for a
// single run and is not safe for concurrent use.
type Resolver struct {
	Controls      platform.Controls
	MaxNoteLength int
	Finder        *locate.Finder
	Pacer         humanize.Pacer
	Latch         *outcome.Latch
	Recorder      locate.Recorder
	Log           *zap.Logger
	Timings       Timings
}

type run struct {
	*Resolver
	page   browser.Page
	note   string
	state  State
	action browser.Element
	menu   browser.Element
	result Result
}

// Run drives the page from the first search to a clicked submit control.
// It returns ErrAlreadyRelated, a *NotFoundError, the latch's
// *outcome.BlockedError, or ctx's error; nil means AwaitingResult.
func (r *Resolver) Run(ctx context.Context, page browser.Page, note string) (Result, error) {
	x := &run{Resolver: r, page: page, note: note, state: SearchingDirectAction}
	x.result.Path = []State{SearchingDirectAction}

	for x.state != AwaitingResult {
		if err := r.Latch.Check(); err != nil {
			x.move(Failed)
			return x.result, err
		}
		var (
			next State
			err  error
		)
		switch x.state {
		case SearchingDirectAction:
			next, err = x.searchDirect(ctx)
		case OpeningOverflowMenu:
			next, err = x.openMenu(ctx)
		case SearchingMenuAction:
			next, err = x.searchMenu(ctx)
		case ActionFound:
			next, err = x.clickAction(ctx)
		case FillingNote:
			next, err = x.fillNote(ctx)
		case Submitting:
			next, err = x.submit(ctx)
		default:
			err = fmt.Errorf("resolver stuck in %s", x.state)
		}
		if err != nil {
			if errors.Is(err, ErrAlreadyRelated) {
				x.move(AlreadyRelated)
			} else {
				x.move(Failed)
			}
			if r.Log != nil {
				r.Log.Debug("resolver stopped", zap.Stringer("state", x.state), zap.Error(err))
			}
			return x.result, err
		}
		x.move(next)
	}
	return x.result, nil
}

func (x *run) move(next State) {
	x.logf("state: %s -> %s", x.state, next)
	x.state = next
	x.result.Path = append(x.result.Path, next)
}

func (x *run) logf(format string, args ...any) {
	if x.Recorder != nil {
		x.Recorder.Logf("resolve", format, args...)
	}
}

func (x *run) timings() Timings {
	if x.Timings == (Timings{}) {
		return DefaultTimings
	}
	return x.Timings
}

// find runs a cascade, turning a miss into (nil, nil) and passing through
// only caller cancellation and unexpected failures.
func (x *run) find(ctx context.Context, scope browser.Scope, c locate.Control) (browser.Element, error) {
	hit, err := x.Finder.First(ctx, scope, c)
	switch {
	case err == nil:
		return hit.Element, nil
	case errors.Is(err, locate.ErrNoMatch):
		return nil, nil
	}
	return nil, err
}

func (x *run) searchDirect(ctx context.Context) (State, error) {
	el, err := x.find(ctx, x.page, x.Controls.Action)
	if err != nil {
		return Failed, err
	}
	if el == nil {
		return OpeningOverflowMenu, nil
	}
	x.action = el
	return ActionFound, nil
}

func (x *run) openMenu(ctx context.Context) (State, error) {
	more, err := x.find(ctx, x.page, x.Controls.More)
	if err != nil {
		return Failed, err
	}
	if more == nil {
		return Failed, x.related(ctx)
	}

	t := x.timings()
	if err := more.Hover(ctx); err != nil {
		return Failed, interaction("hover overflow control", err)
	}
	if err := x.Pacer.Between(ctx, t.MenuHoverMin, t.MenuHoverMax); err != nil {
		return Failed, err
	}
	if err := x.Latch.Check(); err != nil {
		return Failed, err
	}
	if err := more.Click(ctx); err != nil {
		return Failed, interaction("open overflow menu", err)
	}
	if err := x.Pacer.Between(ctx, t.MenuSettleMin, t.MenuSettleMax); err != nil {
		return Failed, err
	}

	menu, err := x.find(ctx, x.page, x.Controls.Menu)
	if err != nil {
		return Failed, err
	}
	if menu == nil {
		x.logf("overflow menu did not open")
		return Failed, x.related(ctx)
	}
	x.menu = menu
	return SearchingMenuAction, nil
}

func (x *run) searchMenu(ctx context.Context) (State, error) {
	el, err := x.find(ctx, x.menu, x.Controls.MenuAction)
	if err != nil {
		return Failed, err
	}
	if el == nil {
		return Failed, x.related(ctx)
	}
	x.action = el
	x.result.ViaMenu = true
	return ActionFound, nil
}

// related is consulted once no action control exists anywhere. It returns
// ErrAlreadyRelated or the action-stage *NotFoundError.
func (x *run) related(ctx context.Context) error {
	el, err := x.find(ctx, x.page, x.Controls.Related)
	if err != nil {
		return err
	}
	if el != nil {
		text, _ := el.Text(ctx)
		x.logf("relationship already exists (%q)", text)
		return ErrAlreadyRelated
	}
	return &NotFoundError{Stage: outcome.StageAction, Err: locate.ErrNoMatch}
}

func (x *run) clickAction(ctx context.Context) (State, error) {
	t := x.timings()
	if err := x.action.Hover(ctx); err != nil {
		return Failed, interaction("hover action control", err)
	}
	if err := x.Pacer.Between(ctx, t.ActionHoverMin, t.ActionHoverMax); err != nil {
		return Failed, err
	}
	if err := x.Latch.Check(); err != nil {
		return Failed, err
	}
	if err := x.action.Click(ctx); err != nil {
		return Failed, interaction("click action control", err)
	}
	x.logf("action control clicked")
	if err := x.Pacer.Fixed(ctx, t.ActionSettle); err != nil {
		return Failed, err
	}
	if x.note == "" {
		return Submitting, nil
	}
	return FillingNote, nil
}

// fillNote never fails on a missing control: the invitation is then sent
// without a note.
func (x *run) fillNote(ctx context.Context) (State, error) {
	t := x.timings()

	// the add-note and note-input searches are bounded separately
	actx, cancel := context.WithTimeout(ctx, t.NoteWindow)
	addNote, err := x.find(actx, x.page, x.Controls.AddNote)
	if err == nil && addNote != nil && ctx.Err() == nil {
		if err := addNote.Click(actx); err != nil {
			x.logf("add-note control not clickable: %v", err)
		} else if err := x.Pacer.Between(ctx, t.NoteSettleMin, t.NoteSettleMax); err != nil {
			cancel()
			return Failed, err
		}
	}
	cancel()
	if ctx.Err() != nil {
		return Failed, ctx.Err()
	}

	ictx, cancel := context.WithTimeout(ctx, t.NoteWindow)
	defer cancel()
	input, err := x.find(ictx, x.page, x.Controls.NoteInput)
	if ctx.Err() != nil {
		return Failed, ctx.Err()
	}
	if err != nil || input == nil {
		x.logf("note input not present, sending without a note")
		return Submitting, nil
	}
	if err := x.Latch.Check(); err != nil {
		return Failed, err
	}

	note := TruncateNote(x.note, x.MaxNoteLength)
	if err := input.Fill(ctx, note); err != nil {
		if ctx.Err() != nil {
			return Failed, ctx.Err()
		}
		x.logf("note fill failed, sending without a note: %v", err)
		return Submitting, nil
	}
	x.result.Note = note
	x.logf("note filled (%d characters)", len([]rune(note)))
	return Submitting, nil
}

func (x *run) submit(ctx context.Context) (State, error) {
	send, err := x.find(ctx, x.page, x.Controls.Submit)
	if err != nil {
		return Failed, err
	}
	if send == nil {
		return Failed, &NotFoundError{Stage: outcome.StageSubmit, Err: locate.ErrNoMatch}
	}
	if err := x.Latch.Check(); err != nil {
		return Failed, err
	}
	if err := send.Click(ctx); err != nil {
		return Failed, interaction("click submit control", err)
	}
	x.logf("submit control clicked")
	return AwaitingResult, nil
}

func interaction(what string, err error) error {
	return fmt.Errorf("%s: %w", what, err)
}

// TruncateNote cuts note to at most max runes. It is idempotent. A
// non-positive max leaves the note unchanged.
func TruncateNote(note string, max int) string {
	if max <= 0 {
		return note
	}
	n := 0
	for i := range note {
		if n == max {
			return note[:i]
		}
		n++
	}
	return note
}
