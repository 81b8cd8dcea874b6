package views

import (
	"fmt"

	"github.com/matheus3301/matchchat/internal/tui/model"
	"github.com/matheus3301/matchchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays the profile summary behind a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(c model.Conversation, online bool) {
	ci.Clear()

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)

	lastActive := formatTimestamp(c.LastMessageAtMs)
	if lastActive == "" {
		lastActive = "-"
	}

	text := fmt.Sprintf(
		"\n [%s::b]Name:[-:-:-]         [%s]%s[-]\n"+
			" [%s::b]Person:[-:-:-]       [%s]%s[-]\n"+
			" [%s::b]Match:[-:-:-]        [%s]%d%%[-]\n"+
			" [%s::b]Section:[-:-:-]      [%s]%s[-]\n"+
			" [%s::b]Verified:[-:-:-]     [%s]%s[-]\n"+
			" [%s::b]Available:[-:-:-]    [%s]%s[-]\n"+
			" [%s::b]Online:[-:-:-]       [%s]%s[-]\n"+
			" [%s::b]Last Active:[-:-:-]  [%s]%s[-]\n"+
			" [%s::b]Last Message:[-:-:-] [%s]%s[-]",
		fg, ct, tview.Escape(sanitizeForTerminal(c.Name)),
		fg, ct, c.PersonUUID,
		fg, ct, c.MatchPercentage,
		fg, ct, c.Location,
		fg, ct, yesNo(c.Verified),
		fg, ct, yesNo(c.Available),
		fg, ct, yesNo(online),
		fg, ct, lastActive,
		fg, ct, tview.Escape(sanitizeForTerminal(c.LastMessage)),
	)

	_, _ = fmt.Fprint(ci, text)
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(sanitizeForTerminal(c.Name))))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
