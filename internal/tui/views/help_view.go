package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/matchchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

type helpEntry struct {
	key, desc string
}

var helpSections = []struct {
	title   string
	entries []helpEntry
}{
	{"Global Keys", []helpEntry{
		{":", "Command mode"},
		{"Esc", "Cancel / Go back"},
		{"/", "Filter mode"},
		{"?", "Help"},
		{"q", "Quit / Back"},
		{"Ctrl-C", "Quit immediately"},
	}},
	{"Inbox", []helpEntry{
		{"Enter", "Open conversation"},
		{"1-9", "Jump to Nth conversation"},
		{"Tab", "Next section (chats, intros, archive)"},
		{"s", "Toggle latest / best match order"},
		{"r", "Refresh from server"},
		{"m", "Load older conversations"},
		{"0", "Clear filter"},
	}},
	{"Conversation", []helpEntry{
		{"i", "Focus composer (drafts are kept)"},
		{"Enter", "Send message (in composer)"},
		{"h", "Fetch history from server"},
		{"d", "Show profile details"},
		{"Esc", "Exit composer / back"},
	}},
	{"Commands (: mode)", []helpEntry{
		{":search <query>", "Search stored messages"},
		{":chat <name>", "Open conversation by name"},
		{":section <name>", "Show chats, intros or archive"},
		{":refresh", "Refresh the inbox"},
		{":more", "Load older conversations"},
		{":skip [reason]", "Skip (and report) the open conversation"},
		{":unskip", "Restore the open conversation"},
		{":logout", "Sign the session out"},
		{":help / :h", "Show this help"},
		{":quit / :q", "Quit application"},
	}},
}

func (hv *HelpView) render() {
	kc := ui.ColorName(hv.theme.MenuKeyColor)

	var b strings.Builder
	for _, sec := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", sec.title)
		for _, e := range sec.entries {
			fmt.Fprintf(&b, "  [%s]%-18s[-:-:-] %s\n", kc, tview.Escape(e.key), e.desc)
		}
	}

	_, _ = fmt.Fprint(hv, b.String())
}
