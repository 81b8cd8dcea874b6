package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func runeEvent(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestViewBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "global" }})
	r.AddView("inbox", "quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "view" }})

	if !r.HandleEvent("inbox", runeEvent('q')) || got != "view" {
		t.Errorf("inbox q ran %q, want view", got)
	}
	if !r.HandleEvent("search", runeEvent('q')) || got != "global" {
		t.Errorf("search q ran %q, want global", got)
	}
	if r.HandleEvent("inbox", runeEvent('x')) {
		t.Error("unbound key reported handled")
	}
}

func TestSpecialKeyMatches(t *testing.T) {
	r := NewRegistry()
	ran := false
	r.AddView("inbox", "section", &Action{Key: tcell.KeyTab, Handler: func() { ran = true }})
	if !r.HandleEvent("inbox", tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone)) || !ran {
		t.Error("Tab binding did not run")
	}
}

func TestHintsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("help", &Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Visible: true})
	r.AddView("inbox", "sort", &Action{Key: tcell.KeyRune, Rune: 's', Description: "Sort", Visible: true})
	r.AddView("inbox", "section", &Action{Key: tcell.KeyTab, Description: "Section", Visible: true})
	r.AddView("inbox", "jump1", &Action{Key: tcell.KeyRune, Rune: '1'})
	// Re-registering keeps the original slot.
	r.AddView("inbox", "sort", &Action{Key: tcell.KeyRune, Rune: 's', Label: "s", Description: "Order", Visible: true})

	hints := r.Hints("inbox")
	want := []struct{ key, desc string }{{"s", "Order"}, {"Tab", "Section"}, {"?", "Help"}}
	if len(hints) != len(want) {
		t.Fatalf("Hints = %+v, want %d entries", hints, len(want))
	}
	for i, w := range want {
		if hints[i].Key != w.key || hints[i].Description != w.desc {
			t.Errorf("hint %d = %+v, want %s %s", i, hints[i], w.key, w.desc)
		}
	}
}
