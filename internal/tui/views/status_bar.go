package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/matchchat/internal/tui/model"
	"github.com/rivo/tview"
)

// StatusBar displays persistent connection and outbox status.
type StatusBar struct {
	*tview.TextView
	session model.Session
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// Update renders the session snapshot.
func (sb *StatusBar) Update(s model.Session) {
	sb.session = s
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	online := "[red]offline[-]"
	switch {
	case sb.session.Online:
		online = "[green]online[-]"
	case !sb.session.LoggedIn:
		online = "[yellow]signed out[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.session.Name, sb.session.State, online)
	if sb.session.OutboxPending > 0 {
		line += fmt.Sprintf(" | outbox %d", sb.session.OutboxPending)
	}
	line += " | " + time.Now().Format("15:04")

	_, _ = fmt.Fprint(sb, line)
}
