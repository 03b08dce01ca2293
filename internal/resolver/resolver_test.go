package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/invite-runner/internal/artifact"
	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/browser/browsertest"
	"github.com/shehryarbajwa/invite-runner/internal/humanize"
	"github.com/shehryarbajwa/invite-runner/internal/locate"
	"github.com/shehryarbajwa/invite-runner/internal/outcome"
	"github.com/shehryarbajwa/invite-runner/internal/platform"
)

// invitePage scripts the profile page: clicking the action opens a dialog
// with an add-note button, a note input revealed by it, and a send button.
type invitePage struct {
	page     *browsertest.Page
	action   *browsertest.Node
	more     *browsertest.Node
	addNote  *browsertest.Node
	textarea *browsertest.Node
	send     *browsertest.Node
}

func newInvitePage(viaMenu bool) *invitePage {
	ip := &invitePage{page: browsertest.NewPage()}
	ip.textarea = &browsertest.Node{Selector: "textarea[name='message']"}
	ip.addNote = &browsertest.Node{
		Selector: "div[role='dialog'] button[aria-label='Add a note']",
		OnClick:  func(p *browsertest.Page) { p.AddNodes(ip.textarea) },
	}
	ip.send = &browsertest.Node{Selector: "button[aria-label='Send invitation']"}
	openDialog := func(p *browsertest.Page) { p.AddNodes(ip.addNote, ip.send) }

	if !viaMenu {
		ip.action = &browsertest.Node{
			Selector: "main button[aria-label*='Invite'][aria-label*='connect']",
			OnClick:  openDialog,
		}
		ip.page.SetNodes(ip.action)
		return ip
	}
	ip.action = &browsertest.Node{
		Selector: "div[role='button'][aria-label*='Invite'][aria-label*='connect']",
		OnClick:  openDialog,
	}
	ip.more = &browsertest.Node{
		Selector: "main button[aria-label='More actions']",
		OnClick: func(p *browsertest.Page) {
			p.AddNodes(&browsertest.Node{Selector: "div[role='menu']", Children: []*browsertest.Node{ip.action}})
		},
	}
	ip.page.SetNodes(ip.more)
	return ip
}

func newResolver() (*Resolver, *humanize.Instant, *artifact.Trail) {
	profile := platform.Default()
	trail := artifact.NewTrail(0)
	pacer := &humanize.Instant{}
	return &Resolver{
		Controls:      profile.Controls,
		MaxNoteLength: profile.MaxNoteLength,
		Finder:        &locate.Finder{Recorder: trail},
		Pacer:         pacer,
		Latch:         outcome.NewLatch(profile),
		Recorder:      trail,
	}, pacer, trail
}

func TestDirectActionWithoutNote(t *testing.T) {
	ip := newInvitePage(false)
	r, pacer, _ := newResolver()

	res, err := r.Run(context.Background(), ip.page, "")
	require.NoError(t, err)
	assert.Equal(t, []State{SearchingDirectAction, ActionFound, Submitting, AwaitingResult}, res.Path)
	assert.False(t, res.ViaMenu)
	assert.Empty(t, res.Note)
	assert.Equal(t, 1, ip.action.Hovers())
	assert.Equal(t, 1, ip.action.Clicks())
	assert.Equal(t, 1, ip.send.Clicks())
	assert.Zero(t, ip.addNote.Clicks())
	assert.Contains(t, pacer.Requests, DefaultTimings.ActionSettle)
	assert.Contains(t, pacer.Requests, DefaultTimings.ActionHoverMin)
}

func TestLongNoteIsTruncatedToPlatformMaximum(t *testing.T) {
	ip := newInvitePage(false)
	r, _, trail := newResolver()
	note := strings.Repeat("a", 500)

	res, err := r.Run(context.Background(), ip.page, note)
	require.NoError(t, err)
	assert.Equal(t, []State{SearchingDirectAction, ActionFound, FillingNote, Submitting, AwaitingResult}, res.Path)
	assert.Equal(t, 1, ip.addNote.Clicks())
	assert.Len(t, ip.textarea.Value(), 300)
	assert.Len(t, res.Note, 300)
	assert.Equal(t, 1, ip.send.Clicks())
	assert.Contains(t, strings.Join(trail.Lines(), "\n"), "note filled (300 characters)")
}

func TestOverflowMenuFlow(t *testing.T) {
	ip := newInvitePage(true)
	r, pacer, _ := newResolver()

	res, err := r.Run(context.Background(), ip.page, "Hi Jane")
	require.NoError(t, err)
	assert.True(t, res.ViaMenu)
	assert.Equal(t, []State{
		SearchingDirectAction, OpeningOverflowMenu, SearchingMenuAction,
		ActionFound, FillingNote, Submitting, AwaitingResult,
	}, res.Path)
	assert.Equal(t, 1, ip.more.Hovers())
	assert.Equal(t, 1, ip.more.Clicks())
	assert.Equal(t, 1, ip.action.Clicks())
	assert.Equal(t, "Hi Jane", ip.textarea.Value())
	assert.Contains(t, pacer.Requests, DefaultTimings.MenuHoverMin)
	assert.Contains(t, pacer.Requests, DefaultTimings.MenuSettleMin)
}

func TestAlreadyConnected(t *testing.T) {
	pending := &browsertest.Node{Selector: "main button[aria-label*='Pending']", Text: "Pending"}
	page := browsertest.NewPage(pending)
	r, _, _ := newResolver()

	for i := 0; i < 2; i++ {
		res, err := r.Run(context.Background(), page, "")
		require.ErrorIs(t, err, ErrAlreadyRelated)
		assert.Equal(t, AlreadyRelated, res.Path[len(res.Path)-1])
	}
	assert.Zero(t, pending.Clicks())
}

func TestActionNotFound(t *testing.T) {
	r, _, trail := newResolver()
	_, err := r.Run(context.Background(), browsertest.NewPage(), "")

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, outcome.StageAction, nf.Stage)
	// every strategy attempt is on the trail
	controls := platform.Default().Controls
	attempts := len(controls.Action.Strategies) + len(controls.More.Strategies) + len(controls.Related.Strategies)
	n := 0
	for _, l := range trail.Lines() {
		if strings.Contains(l, "[locate]") {
			n++
		}
	}
	assert.Equal(t, attempts, n)
}

func TestMenuWithoutActionFallsBackToRelatedCheck(t *testing.T) {
	more := &browsertest.Node{
		Selector: "main button[aria-label='More actions']",
		OnClick: func(p *browsertest.Page) {
			p.AddNodes(&browsertest.Node{Selector: "div[role='menu']", Children: []*browsertest.Node{
				{Selector: "[role='menuitem']", Text: "Report / Block"},
			}})
		},
	}
	page := browsertest.NewPage(more, &browsertest.Node{Selector: "main span.dist-value", Text: "1st"})
	r, _, _ := newResolver()

	res, err := r.Run(context.Background(), page, "")
	assert.ErrorIs(t, err, ErrAlreadyRelated)
	assert.Contains(t, res.Path, SearchingMenuAction)
}

func TestSubmitNotFound(t *testing.T) {
	tests := []struct {
		name string
		send *browsertest.Node
	}{
		{"missing", nil},
		{"disabled", &browsertest.Node{Selector: "button[aria-label='Send invitation']", Disabled: true}},
		{"hidden", &browsertest.Node{Selector: "button[aria-label='Send now']", Hidden: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := &browsertest.Node{Selector: "main button[aria-label*='Invite'][aria-label*='connect']"}
			if tt.send != nil {
				send := tt.send
				action.OnClick = func(p *browsertest.Page) { p.AddNodes(send) }
			}
			r, _, _ := newResolver()

			res, err := r.Run(context.Background(), browsertest.NewPage(action), "")
			var nf *NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, outcome.StageSubmit, nf.Stage)
			assert.Equal(t, Failed, res.Path[len(res.Path)-1])
			if tt.send != nil {
				assert.Zero(t, tt.send.Clicks())
			}
		})
	}
}

func TestMissingNoteInputIsNotAnError(t *testing.T) {
	send := &browsertest.Node{Selector: "button[aria-label='Send invitation']"}
	action := &browsertest.Node{
		Selector: "main button[aria-label*='Invite'][aria-label*='connect']",
		OnClick:  func(p *browsertest.Page) { p.AddNodes(send) },
	}
	r, _, _ := newResolver()

	res, err := r.Run(context.Background(), browsertest.NewPage(action), "hello")
	require.NoError(t, err)
	assert.Empty(t, res.Note)
	assert.Equal(t, 1, send.Clicks())
}

func TestBlockHaltsInteraction(t *testing.T) {
	ip := newInvitePage(false)
	r, _, _ := newResolver()
	ip.action.OnClick = func(p *browsertest.Page) {
		r.Latch.Raise("https://www.linkedin.com/checkpoint/challenge/x")
		p.AddNodes(ip.send)
	}

	res, err := r.Run(context.Background(), ip.page, "")
	assert.ErrorIs(t, err, outcome.ErrBlocked)
	assert.Zero(t, ip.send.Clicks())
	assert.Equal(t, Failed, res.Path[len(res.Path)-1])
}

func TestCancelledRunStops(t *testing.T) {
	ip := newInvitePage(false)
	r, _, _ := newResolver()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, ip.page, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ip.action.Clicks())
}

func TestTruncateNote(t *testing.T) {
	long := strings.Repeat("x", 500)
	once := TruncateNote(long, 300)
	assert.Len(t, once, 300)
	assert.Equal(t, once, TruncateNote(once, 300))

	emoji := strings.Repeat("👋", 301)
	cut := TruncateNote(emoji, 300)
	assert.Equal(t, 300, utf8.RuneCountInString(cut))
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, cut, TruncateNote(cut, 300))

	assert.Equal(t, "short", TruncateNote("short", 300))
	assert.Equal(t, "", TruncateNote("", 300))
	assert.Equal(t, long, TruncateNote(long, 0))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "OpeningOverflowMenu", OpeningOverflowMenu.String())
	assert.Equal(t, "State(42)", State(42).String())
}

// waitingPage holds a missed lookup until its deadline, like a real browser
// polling for an element that never appears.
type waitingPage struct {
	*browsertest.Page
}

func (p waitingPage) Find(ctx context.Context, q browser.Query) (browser.Element, error) {
	el, err := p.Page.Find(context.WithoutCancel(ctx), q)
	if errors.Is(err, browser.ErrNotFound) {
		<-ctx.Done()
		return nil, err
	}
	return el, err
}

func withStrategyTimeout(c locate.Control, d time.Duration) locate.Control {
	c.Strategies = append([]locate.Strategy(nil), c.Strategies...)
	for i := range c.Strategies {
		c.Strategies[i].Timeout = d
	}
	return c
}

func TestNoteInputFoundAfterSlowAddNoteMisses(t *testing.T) {
	ip := newInvitePage(false)
	labelled := &browsertest.Node{Selector: "textarea[aria-label*='note']"}
	ip.action.OnClick = func(p *browsertest.Page) { p.AddNodes(labelled, ip.send) }

	r, _, trail := newResolver()
	r.Controls.AddNote = withStrategyTimeout(r.Controls.AddNote, 100*time.Millisecond)
	r.Controls.NoteInput = withStrategyTimeout(r.Controls.NoteInput, 100*time.Millisecond)
	r.Timings = DefaultTimings
	r.Timings.NoteWindow = 250 * time.Millisecond

	res, err := r.Run(context.Background(), waitingPage{ip.page}, "Hi Jane")
	require.NoError(t, err)

	assert.Equal(t, "Hi Jane", res.Note)
	assert.Equal(t, "Hi Jane", labelled.Value())
	lines := strings.Join(trail.Lines(), "\n")
	assert.Contains(t, lines, "add_note #2")
	assert.Contains(t, lines, "note_input #2")
	assert.NotContains(t, lines, "sending without a note")
}
