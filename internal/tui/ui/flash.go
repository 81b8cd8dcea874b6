package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel is the severity of a flash notification.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo: 4 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  12 * time.Second,
}

// FlashMessage is one notification. Repeats counts identical notifications
// raised back to back, which render once with a counter.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Repeats int
	Expires time.Time
}

// FlashModel holds the notification currently on screen.
type FlashModel struct {
	mu      sync.Mutex
	current FlashMessage
	ch      chan FlashMessage
}

// NewFlashModel creates an empty flash model.
func NewFlashModel() *FlashModel {
	return &FlashModel{ch: make(chan FlashMessage, 8)}
}

func (f *FlashModel) Info(msg string) { f.push(msg, FlashInfo) }
func (f *FlashModel) Warn(msg string) { f.push(msg, FlashWarn) }

// Err shows err at error level. A nil error is ignored.
func (f *FlashModel) Err(err error) {
	if err == nil {
		return
	}
	f.push(err.Error(), FlashErr)
}

func (f *FlashModel) push(msg string, level FlashLevel) {
	now := time.Now()
	f.mu.Lock()
	fm := FlashMessage{Text: msg, Level: level, Repeats: 1}
	if f.current.Text == msg && f.current.Level == level && now.Before(f.current.Expires) {
		fm.Repeats = f.current.Repeats + 1
	}
	fm.Expires = now.Add(flashTTL[level])
	f.current = fm
	f.mu.Unlock()

	select {
	case f.ch <- fm:
	default:
	}
}

// Current returns the live notification, or nil once it has expired.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current.Text == "" || time.Now().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch delivers every notification as it is raised.
func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.ch
}

// FlashBar renders the current notification on one line.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

// Update renders msg, or clears the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}

	color, icon := fb.theme.FlashInfoColor, "i"
	switch msg.Level {
	case FlashWarn:
		color, icon = fb.theme.FlashWarnColor, "!"
	case FlashErr:
		color, icon = fb.theme.FlashErrColor, "x"
	}
	text := tview.Escape(msg.Text)
	if msg.Repeats > 1 {
		text = fmt.Sprintf("%s (x%d)", text, msg.Repeats)
	}
	_, _ = fmt.Fprintf(fb, " [%s::b]%s[-::-] [%s]%s[-]", ColorName(color), icon, ColorName(color), text)
}
