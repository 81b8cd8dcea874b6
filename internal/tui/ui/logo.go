package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

var logoArt = []string{
	"┏┳┓┏━┓╺┳╸┏━╸╻ ╻",
	"┃┃┃┣━┫ ┃ ┃  ┣━┫",
	"╹ ╹╹ ╹ ╹ ┗━╸╹ ╹",
}

// Logo is the wordmark in the header's right corner.
type Logo struct {
	*tview.TextView
}

func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	title := ColorName(theme.TitleColor)
	for _, line := range logoArt {
		_, _ = fmt.Fprintf(tv, "[%s::b] %s[-:-:-]\n", title, line)
	}
	_, _ = fmt.Fprintf(tv, "[%s]%15s[-:-:-]", ColorName(theme.FgColor), "chat")
	return &Logo{TextView: tv}
}
