package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/matchchat/internal/tui/model"
	"github.com/matheus3301/matchchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the inbox table for one section.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []model.Conversation
	visible []model.Conversation
	section string
	order   string
	filter  string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table:   table,
		theme:   theme,
		section: "chats",
		order:   "latest",
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Inbox" }

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "Tab", Description: "Section"},
		{Key: "s", Description: "Sort"},
		{Key: "r", Description: "Refresh"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update refreshes the list with one section's conversations.
func (cl *ConversationList) Update(section, order string, convs []model.Conversation) {
	cl.section = section
	cl.order = order
	cl.convs = convs
	cl.render()
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

func (cl *ConversationList) matches(c model.Conversation) bool {
	if cl.filter == "" {
		return true
	}
	f := strings.ToLower(cl.filter)
	return strings.Contains(strings.ToLower(c.Name), f) ||
		strings.Contains(strings.ToLower(c.LastMessage), f)
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" MATCH", 0},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	cl.visible = cl.visible[:0]
	for _, c := range cl.convs {
		if !cl.matches(c) {
			continue
		}
		cl.visible = append(cl.visible, c)
		row := len(cl.visible)

		name := c.Name
		if !c.LastMessageRead {
			name = "● " + name
		}
		if c.Verified {
			name += " ✓"
		}
		fg := cl.theme.FgColor
		switch {
		case !c.Available:
			fg = cl.theme.MutedColor
		case !c.LastMessageRead:
			fg = cl.theme.UnreadColor
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 1, tview.NewTableCell(fmt.Sprintf("%d%%", c.MatchPercentage)).SetAlign(tview.AlignRight).SetTextColor(fg))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.LastMessage))).SetExpansion(2).SetTextColor(fg))
		cl.SetCell(row, 3, tview.NewTableCell(formatTimestamp(c.LastMessageAtMs)).SetAlign(tview.AlignRight).SetTextColor(fg))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" %s by %s (%d/%d) filter: %s ", sectionTitle(cl.section), cl.order, len(cl.visible), len(cl.convs), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" %s by %s (%d) ", sectionTitle(cl.section), cl.order, len(cl.convs)))
	}
}

// SelectedPerson returns the person of the highlighted row.
func (cl *ConversationList) SelectedPerson() string {
	row, _ := cl.GetSelection()
	return cl.PersonByIndex(row)
}

// PersonByIndex returns the person of the Nth visible conversation (1-based).
func (cl *ConversationList) PersonByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].PersonUUID
}

// PersonByName returns the first listed conversation whose name contains
// name, ignoring case.
func (cl *ConversationList) PersonByName(name string) string {
	name = strings.ToLower(name)
	for _, c := range cl.convs {
		if strings.Contains(strings.ToLower(c.Name), name) {
			return c.PersonUUID
		}
	}
	return ""
}

func sectionTitle(s string) string {
	if s == "" {
		return "Chats"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatTimestamp(ms int64) string {
	if ms <= 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
