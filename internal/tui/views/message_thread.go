package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/matchchat/internal/tui/model"
	"github.com/matheus3301/matchchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays messages and a composer for a single conversation.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	name     string
	person   string
	onSend   func(text string)
	onChange func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})
	composer.SetChangedFunc(func(text string) {
		if mt.onChange != nil {
			mt.onChange(text)
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.name != "" {
		return mt.name
	}
	return "Messages"
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "d", Description: "Details"},
		{Key: "h", Description: "History"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Open points the thread at a person and fills the composer with their
// saved draft. Composer change callbacks do not fire for the draft.
func (mt *MessageThread) Open(person, name, draft string) {
	mt.person = person
	mt.name = name
	onChange := mt.onChange
	mt.onChange = nil
	mt.composer.SetText(draft)
	mt.onChange = onChange
	mt.SetHeader(false, false)
}

// Person returns the open conversation's person.
func (mt *MessageThread) Person() string {
	return mt.person
}

// SetHeader updates the title with the peer's presence and typing state.
func (mt *MessageThread) SetHeader(online, typing bool) {
	title := fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(mt.name)))
	if online {
		title = fmt.Sprintf(" %s (online) ", tview.Escape(sanitizeForTerminal(mt.name)))
	}
	if typing {
		title += "typing… "
	}
	mt.messages.SetTitle(title)
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnChange sets the callback fired on every composer edit.
func (mt *MessageThread) SetOnChange(fn func(text string)) {
	mt.onChange = fn
}

// Update refreshes the message view. msgs are oldest first.
func (mt *MessageThread) Update(msgs []model.Message) {
	mt.messages.Clear()

	for _, m := range msgs {
		sender := mt.name
		if m.FromMe {
			sender = "You"
		}

		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s%s[-:-:-]\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)), formatTimestamp(m.TimestampMs), statusMark(m),
			tview.Escape(sanitizeForTerminal(m.Body)))
		_, _ = fmt.Fprint(mt.messages, line)
	}

	mt.messages.ScrollToEnd()
}

func statusMark(m model.Message) string {
	if !m.FromMe {
		return ""
	}
	switch m.Status {
	case "", "sent":
		return " ✓"
	case "queued", "sending":
		return " …"
	default:
		return " ✗ " + m.Status
	}
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
