package ui

import (
	"reflect"
	"testing"

	"github.com/rivo/tview"
)

func TestPagesStack(t *testing.T) {
	p := NewPages()
	for _, name := range []string{"inbox", "conversation", "details"} {
		p.AddPage(name, tview.NewBox(), true, false)
	}
	var seen [][]string
	p.SetOnChange(func(stack []string) { seen = append(seen, stack) })

	p.Reset("inbox")
	p.Push("conversation")
	p.Push("conversation")
	p.Push("details")

	if got := p.Stack(); !reflect.DeepEqual(got, []string{"inbox", "conversation", "details"}) {
		t.Fatalf("Stack() = %v", got)
	}
	if len(seen) != 3 {
		t.Errorf("onChange fired %d times, want 3", len(seen))
	}

	if got := p.Pop(); got != "details" {
		t.Errorf("Pop() = %q, want details", got)
	}
	p.Pop()
	if got := p.Pop(); got != "" {
		t.Errorf("Pop() on root = %q, want nothing", got)
	}
	if p.Current() != "inbox" || p.Depth() != 1 {
		t.Errorf("current = %q depth %d, want inbox at depth 1", p.Current(), p.Depth())
	}
}

func TestPromptHistory(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	p.Activate(PromptCommand)
	p.remember("refresh")
	p.remember("refresh")
	p.remember("section intros")

	if got := p.History(); !reflect.DeepEqual(got, []string{"refresh", "section intros"}) {
		t.Fatalf("History() = %v", got)
	}
	p.recall(-1)
	if got := p.GetText(); got != "section intros" {
		t.Errorf("first recall = %q", got)
	}
	p.recall(-1)
	p.recall(-1)
	if got := p.GetText(); got != "refresh" {
		t.Errorf("recall past oldest = %q, want refresh", got)
	}
	p.recall(1)
	p.recall(1)
	if got := p.GetText(); got != "" {
		t.Errorf("recall past newest = %q, want empty", got)
	}
}
