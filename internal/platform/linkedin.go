package platform

import (
	"time"

	"github.com/shehryarbajwa/invite-runner/internal/locate"
)

// Default returns a fresh copy of the LinkedIn profile.
func Default() *Profile {
	return &Profile{
		Name:           "linkedin",
		BaseURL:        "https://www.linkedin.com",
		CookieDomain:   ".linkedin.com",
		LandingPath:    "/feed/",
		CriticalTokens: []string{"li_at", "JSESSIONID"},
		LoginPaths:     []string{"/login", "/uas/login", "/signup"},
		AuthwallPaths:  []string{"/authwall"},
		ChallengePaths: []string{"/checkpoint/", "/challenge", "/captcha"},
		BlockStatuses:  []int{999},
		MaxNoteLength:  300,
		Controls:       defaultControls(),
	}
}

func defaultControls() Controls {
	return Controls{
		Action: locate.Control{Name: "action", Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "main button[aria-label*='Invite'][aria-label*='connect']"},
			{Kind: locate.KindAttribute, Selector: "button[data-control-name='connect']"},
			{Kind: locate.KindText, Selector: "main button", Text: "/^\\s*connect\\s*$/i"},
			{Kind: locate.KindClass, Selector: "div.pv-top-card-v2-ctas button.artdeco-button--primary", Text: "/connect/i"},
		}},
		More: locate.Control{Name: "more", Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "main button[aria-label='More actions']"},
			{Kind: locate.KindAttribute, Selector: "main button[data-control-name='overflow']"},
			{Kind: locate.KindText, Selector: "main button", Text: "/^\\s*more\\s*$/i"},
			{Kind: locate.KindClass, Selector: "main button.artdeco-dropdown__trigger"},
		}},
		Menu: locate.Control{Name: "menu", Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "div[role='menu']"},
			{Kind: locate.KindClass, Selector: "div.artdeco-dropdown__content--is-open"},
		}},
		MenuAction: locate.Control{Name: "menu_action", Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "div[role='button'][aria-label*='Invite'][aria-label*='connect']"},
			{Kind: locate.KindAttribute, Selector: "[role='menuitem'][data-control-name='connect']"},
			{Kind: locate.KindText, Selector: "[role='menuitem'], div[role='button']", Text: "/^\\s*connect\\s*$/i"},
			{Kind: locate.KindClass, Selector: "div.artdeco-dropdown__item", Text: "/connect/i"},
		}},
		Related: locate.Control{Name: "related", Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "main button[aria-label*='Pending']"},
			{Kind: locate.KindText, Selector: "main button", Text: "/^\\s*pending\\s*$/i"},
			{Kind: locate.KindClass, Selector: "main span.dist-value", Text: "/1st/"},
			{Kind: locate.KindLabel, Selector: "main button[aria-label^='Message']"},
		}},
		AddNote: locate.Control{Name: "add_note", Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "div[role='dialog'] button[aria-label='Add a note']", Timeout: time.Second},
			{Kind: locate.KindText, Selector: "div[role='dialog'] button", Text: "/add a note/i", Timeout: time.Second},
		}},
		NoteInput: locate.Control{Name: "note_input", Strategies: []locate.Strategy{
			{Kind: locate.KindAttribute, Selector: "textarea[name='message']", Timeout: time.Second},
			{Kind: locate.KindLabel, Selector: "textarea[aria-label*='note']", Timeout: time.Second},
			{Kind: locate.KindClass, Selector: "textarea#custom-message", Timeout: time.Second},
		}},
		Submit: locate.Control{Name: "submit", RequireEnabled: true, Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "button[aria-label='Send invitation']"},
			{Kind: locate.KindLabel, Selector: "button[aria-label='Send now']"},
			{Kind: locate.KindText, Selector: "div[role='dialog'] button", Text: "/^\\s*send( without a note)?\\s*$/i"},
			{Kind: locate.KindClass, Selector: "div[role='dialog'] button.artdeco-button--primary"},
		}},
		Confirmation: locate.Control{Name: "confirmation", Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "div[role='alert']", Text: "/invitation (is )?sent|request sent/i", Timeout: 4 * time.Second},
			{Kind: locate.KindClass, Selector: "div.artdeco-toast-item", Text: "/invitation (is )?sent|request sent/i", Timeout: 2 * time.Second},
			{Kind: locate.KindText, Selector: "main button", Text: "/^\\s*pending\\s*$/i", Timeout: 2 * time.Second},
		}},
		Error: locate.Control{Name: "error", Strategies: []locate.Strategy{
			{Kind: locate.KindLabel, Selector: "div[role='alert']", Text: "/couldn.t|could not|unable to|limit|try again/i", Timeout: 4 * time.Second},
			{Kind: locate.KindClass, Selector: "div.artdeco-inline-feedback--error", Timeout: 2 * time.Second},
			{Kind: locate.KindClass, Selector: "div.artdeco-toast-item--error", Timeout: 2 * time.Second},
		}},
	}
}
