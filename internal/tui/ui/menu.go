package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Menu displays keyboard shortcut hints in a vertical list.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint bar.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
	}
}

// menuRows is how many hints fit in one column of the header.
const menuRows = 6

// Update renders menu hints in columns of menuRows lines.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()

	keyColor := ColorName(m.theme.MenuKeyColor)
	numColor := ColorName(m.theme.NumericKeyColor)

	cells := make([]string, len(hints))
	width := 0
	for i, h := range hints {
		kc := keyColor
		if h.Numeric {
			kc = numColor
		}
		cells[i] = fmt.Sprintf("[%s::b]<%s>[-:-:-] %s", kc, h.Key, h.Description)
		width = max(width, len(h.Key)+len(h.Description)+3)
	}

	for row := 0; row < menuRows && row < len(cells); row++ {
		var line strings.Builder
		for col := row; col < len(cells); col += menuRows {
			h := hints[col]
			line.WriteString(cells[col])
			if col+menuRows < len(cells) {
				line.WriteString(strings.Repeat(" ", width-len(h.Key)-len(h.Description)-3+2))
			}
		}
		_, _ = fmt.Fprintln(m, line.String())
	}
}
