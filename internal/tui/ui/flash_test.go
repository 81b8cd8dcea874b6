package ui

import (
	"errors"
	"testing"
)

func TestFlashRepeatsCollapse(t *testing.T) {
	f := NewFlashModel()
	f.Warn("offline")
	f.Warn("offline")
	m := f.Current()
	if m == nil || m.Repeats != 2 || m.Level != FlashWarn {
		t.Fatalf("Current() = %+v, want warn x2", m)
	}
	f.Info("back online")
	if m := f.Current(); m.Repeats != 1 || m.Text != "back online" {
		t.Errorf("Current() = %+v", m)
	}
	if got := len(f.Watch()); got != 3 {
		t.Errorf("watch backlog = %d, want 3", got)
	}
}

func TestFlashNilErrIgnored(t *testing.T) {
	f := NewFlashModel()
	f.Err(nil)
	if m := f.Current(); m != nil {
		t.Errorf("Current() = %+v, want nil", m)
	}
	f.Err(errors.New("boom"))
	if m := f.Current(); m == nil || m.Level != FlashErr {
		t.Errorf("Current() = %+v", m)
	}
}
