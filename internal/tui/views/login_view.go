package views

import (
	"strings"

	"github.com/matheus3301/matchchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// LoginView asks for the credentials of a signed out session.
type LoginView struct {
	*tview.Form
	theme    *ui.Theme
	onSubmit func(personUUID, token string)
}

// NewLoginView creates a new login form.
func NewLoginView(theme *ui.Theme) *LoginView {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetBorderColor(theme.BorderColor)
	form.SetBackgroundColor(theme.BgColor)
	form.SetFieldBackgroundColor(theme.BgColor)
	form.SetFieldTextColor(theme.FgColor)
	form.SetLabelColor(theme.MenuKeyColor)
	form.SetButtonBackgroundColor(theme.TableCursorBg)
	form.SetButtonTextColor(theme.TableCursorFg)
	form.SetTitle(" Sign In Required ")
	form.SetTitleColor(theme.TitleColor)

	lv := &LoginView{Form: form, theme: theme}

	form.AddInputField("Person UUID", "", 40, nil, nil)
	form.AddPasswordField("Session token", "", 40, '*', nil)
	form.AddButton("Sign in", func() {
		if lv.onSubmit == nil {
			return
		}
		person := strings.TrimSpace(form.GetFormItemByLabel("Person UUID").(*tview.InputField).GetText())
		token := strings.TrimSpace(form.GetFormItemByLabel("Session token").(*tview.InputField).GetText())
		lv.onSubmit(person, token)
	})

	return lv
}

// Name implements Component.
func (lv *LoginView) Name() string { return "Login" }

// Hints implements Component.
func (lv *LoginView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Sign in"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnSubmit sets the callback when the form is submitted.
func (lv *LoginView) SetOnSubmit(fn func(personUUID, token string)) {
	lv.onSubmit = fn
}

// ShowMessage puts a status line in the title.
func (lv *LoginView) ShowMessage(msg string) {
	if msg == "" {
		lv.SetTitle(" Sign In Required ")
		return
	}
	lv.SetTitle(" " + tview.Escape(msg) + " ")
}
