package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/matchchat/internal/api"
	"github.com/matheus3301/matchchat/internal/tui/keys"
	"github.com/matheus3301/matchchat/internal/tui/model"
	"github.com/matheus3301/matchchat/internal/tui/ui"
	"github.com/matheus3301/matchchat/internal/tui/views"
	"github.com/rivo/tview"
	"google.golang.org/protobuf/types/known/structpb"
)

// Page names.
const (
	pageInbox        = "inbox"
	pageConversation = "conversation"
	pageDetails      = "details"
	pageSearch       = "search"
	pageHelp         = "help"
	pageLogin        = "login"
)

const typingInterval = 3 * time.Second

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	root     *tview.Flex
	pages    *ui.Pages
	theme    *ui.Theme
	vm       *model.ViewModel
	client   *api.Client
	registry *keys.Registry
	flash    *ui.FlashModel

	sessionInfo *ui.SessionInfo
	menu        *ui.Menu
	crumbs      *ui.Crumbs
	prompt      *ui.Prompt
	flashBar    *ui.FlashBar
	statusBar   *views.StatusBar

	inbox   *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	search  *views.SearchView
	help    *views.HelpView
	login   *views.LoginView

	components map[string]ui.Component

	ctx    context.Context
	cancel context.CancelFunc

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	lastTyping  time.Time
}

// NewApp creates the TUI application.
func NewApp(c *api.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	vm := model.NewViewModel(c)

	a := &App{
		app:         tview.NewApplication(),
		pages:       ui.NewPages(),
		theme:       theme,
		vm:          vm,
		client:      c,
		registry:    keys.NewRegistry(),
		flash:       ui.NewFlashModel(),
		sessionInfo: ui.NewSessionInfo(theme),
		menu:        ui.NewMenu(theme),
		crumbs:      ui.NewCrumbs(theme),
		prompt:      ui.NewPrompt(theme),
		flashBar:    ui.NewFlashBar(theme),
		statusBar:   views.NewStatusBar(),
		inbox:       views.NewConversationList(theme),
		thread:      views.NewMessageThread(theme),
		details:     views.NewConversationInfo(theme),
		help:        views.NewHelpView(theme),
		login:       views.NewLoginView(theme),
		ctx:         ctx,
		cancel:      cancel,
	}
	a.search = views.NewSearchView(theme, func(person string) string {
		if c, ok := vm.FindConversation(person); ok {
			return c.Name
		}
		return ""
	})
	a.components = map[string]ui.Component{
		pageInbox:        a.inbox,
		pageConversation: a.thread,
		pageDetails:      a.details,
		pageSearch:       a.search,
		pageHelp:         a.help,
		pageLogin:        a.login,
	}

	a.statusBar.Update(model.Session{Name: sessionName, State: "CONNECTING"})
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune, Description: "Command", Visible: true,
		Handler: func() { a.activatePrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune, Description: "Help", Visible: true,
		Handler: func() { a.push(pageHelp) },
	})
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune, Description: "Quit / Back", Visible: true,
		Handler: func() {
			if a.pages.Depth() <= 1 {
				a.Stop()
				return
			}
			a.back()
		},
	})

	a.registry.AddView(pageInbox, "filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune, Description: "Filter", Visible: true,
		Handler: func() { a.activatePrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageInbox, "section", &keys.Action{
		Key: tcell.KeyTab, Description: "Section", Visible: true,
		Handler: func() {
			a.vm.NextSection()
			a.reloadInbox()
		},
	})
	a.registry.AddView(pageInbox, "sort", &keys.Action{
		Rune: 's', Key: tcell.KeyRune, Description: "Sort", Visible: true,
		Handler: func() {
			a.vm.ToggleOrder()
			a.reloadInbox()
		},
	})
	a.registry.AddView(pageInbox, "refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune, Description: "Refresh", Visible: true,
		Handler: a.refreshInbox,
	})
	a.registry.AddView(pageInbox, "more", &keys.Action{
		Rune: 'm', Key: tcell.KeyRune, Description: "More", Visible: true,
		Handler: a.loadMore,
	})
	a.registry.AddView(pageInbox, "clear", &keys.Action{
		Rune: '0', Key: tcell.KeyRune,
		Handler: func() { a.inbox.ClearFilter() },
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageInbox, "jump"+strconv.Itoa(n), &keys.Action{
			Rune: rune('0' + n), Key: tcell.KeyRune,
			Handler: func() {
				if p := a.inbox.PersonByIndex(n); p != "" {
					a.openConversation(p)
				}
			},
		})
	}

	a.registry.AddView(pageConversation, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune, Description: "Compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageConversation, "details", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune, Description: "Details", Visible: true,
		Handler: a.showDetails,
	})
	a.registry.AddView(pageConversation, "history", &keys.Action{
		Rune: 'h', Key: tcell.KeyRune, Description: "History", Visible: true,
		Handler: a.fetchHistory,
	})
}

func (a *App) setupCallbacks() {
	a.inbox.SetSelectedFunc(func(row, _ int) {
		if p := a.inbox.PersonByIndex(row); p != "" {
			a.openConversation(p)
		}
	})

	a.thread.SetOnSend(func(text string) {
		go func() {
			st, err := a.vm.SendText(a.ctx, text)
			switch {
			case err != nil:
				a.flash.Err(fmt.Errorf("send failed: %w", err))
			case st != "sent":
				a.flash.Warn("Message " + st)
			}
			a.reloadThread()
		}()
	})
	a.thread.SetOnChange(func(string) {
		if time.Since(a.lastTyping) < typingInterval {
			return
		}
		a.lastTyping = time.Now()
		go func() { _ = a.vm.SendTyping(a.ctx) }()
	})

	a.search.SetOnQuery(func(query string) {
		go func() {
			results, err := a.vm.SearchMessages(a.ctx, query)
			if err != nil {
				a.flash.Err(fmt.Errorf("search failed: %w", err))
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.search.Update(results)
				a.app.SetFocus(a.search.Results())
			})
		}()
	})
	a.search.Results().SetSelectedFunc(func(_, _ int) {
		if person, _ := a.search.SelectedResult(); person != "" {
			a.openConversation(person)
		}
	})

	a.login.SetOnSubmit(func(person, token string) {
		a.login.ShowMessage("Signing in...")
		go func() {
			if err := a.vm.Login(a.ctx, person, token); err != nil {
				a.app.QueueUpdateDraw(func() { a.login.ShowMessage("Sign in failed: " + err.Error()) })
				return
			}
			_ = a.vm.LoadSessionStatus(a.ctx)
			a.app.QueueUpdateDraw(func() {
				a.pages.Reset(pageInbox)
				a.app.SetFocus(a.inbox)
			})
			a.refreshInbox()
		}()
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.deactivatePrompt()
		switch mode {
		case ui.PromptFilter:
			a.inbox.SetFilter(text)
		case ui.PromptCommand:
			a.execute(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.deactivatePrompt)

	a.pages.SetOnChange(func(stack []string) {
		names := make([]string, 0, len(stack))
		for _, p := range stack {
			names = append(names, a.components[p].Name())
		}
		a.crumbs.Update(names)
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			hints := a.components[top].Hints()
			if len(hints) == 0 {
				hints = a.registry.Hints(top)
			}
			a.menu.Update(hints)
		}
	})
}

func (a *App) setupLayout() {
	for name, c := range a.components {
		p, ok := c.(tview.Primitive)
		if !ok {
			continue
		}
		a.pages.AddPage(name, p, true, false)
	}

	header := tview.NewFlex().
		AddItem(a.sessionInfo, 0, 2, false).
		AddItem(a.menu, 0, 3, false).
		AddItem(ui.NewLogo(a.theme), 18, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.pages.Reset(pageInbox)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()
		if focused == a.prompt.InputField {
			return event
		}

		if event.Key() == tcell.KeyEscape {
			if focused == a.thread.Composer() {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			if a.pages.Depth() > 1 && a.pages.Current() != pageLogin {
				a.back()
				return nil
			}
			return event
		}

		// Text inputs get every other key.
		switch focused.(type) {
		case *tview.InputField, *tview.Button:
			return event
		}

		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

func (a *App) activatePrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) deactivatePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

func (a *App) push(page string) {
	if a.pages.Current() == page {
		return
	}
	a.pages.Push(page)
	a.focusCurrent()
}

func (a *App) back() {
	if a.pages.Current() == pageConversation {
		a.closeConversation()
	}
	a.pages.Pop()
	a.focusCurrent()
}

func (a *App) focusCurrent() {
	switch a.pages.Current() {
	case pageInbox:
		a.app.SetFocus(a.inbox)
	case pageConversation:
		a.app.SetFocus(a.thread.Messages())
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	case pageLogin:
		a.app.SetFocus(a.login)
	case pageDetails:
		a.app.SetFocus(a.details)
	case pageHelp:
		a.app.SetFocus(a.help)
	}
}

// execute runs a ':' command.
func (a *App) execute(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.push(pageHelp)
	case "search":
		a.push(pageSearch)
		if cmd.Args != "" {
			a.search.SetQuery(cmd.Args)
			a.search.Submit()
		}
	case "chat":
		if p := a.inbox.PersonByName(cmd.Args); p != "" {
			a.openConversation(p)
			return
		}
		a.flash.Warn(fmt.Sprintf("No conversation matching %q", cmd.Args))
	case "section":
		if !a.vm.SetSection(cmd.Args) {
			a.flash.Warn("Sections are chats, intros and archive")
			return
		}
		a.pages.Reset(pageInbox)
		a.focusCurrent()
		a.reloadInbox()
	case "refresh":
		a.refreshInbox()
	case "more":
		a.loadMore()
	case "skip", "unskip":
		a.skip(cmd)
	case "logout":
		go func() {
			if err := a.vm.Logout(a.ctx); err != nil {
				a.flash.Err(fmt.Errorf("logout failed: %w", err))
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.pages.Reset(pageLogin)
				a.focusCurrent()
			})
		}()
	case "":
	default:
		a.flash.Warn(fmt.Sprintf("Unknown command %q", cmd.Name))
	}
}

func (a *App) skip(cmd Command) {
	person := a.vm.ActivePerson()
	if person == "" {
		person = a.inbox.SelectedPerson()
	}
	if person == "" {
		a.flash.Warn("No conversation selected")
		return
	}
	go func() {
		var err error
		if cmd.Name == "skip" {
			err = a.vm.Skip(a.ctx, person, cmd.Args)
		} else {
			err = a.vm.Unskip(a.ctx, person)
		}
		if err != nil {
			a.flash.Err(fmt.Errorf("%s failed: %w", cmd.Name, err))
			return
		}
		a.flash.Info(cmd.Name + " done")
		a.reloadInbox()
	}()
}

func (a *App) openConversation(person string) {
	name := person
	if c, ok := a.vm.FindConversation(person); ok {
		name = c.Name
	}
	go func() {
		if err := a.vm.LoadMessages(a.ctx, person); err != nil {
			a.flash.Err(fmt.Errorf("load failed: %w", err))
			return
		}
		draft, _ := a.vm.Draft(a.ctx)
		a.app.QueueUpdateDraw(func() {
			a.thread.Open(person, name, draft)
			a.thread.Update(a.vm.GetMessages())
			a.thread.SetHeader(a.vm.PeerOnline(person), false)
			if a.pages.Current() != pageConversation {
				a.pages.Push(pageConversation)
			}
			a.focusCurrent()
		})
		a.restartWatch([]string{person})
	}()
}

func (a *App) closeConversation() {
	draft := a.thread.Composer().GetText()
	go func() {
		if err := a.vm.SaveDraft(a.ctx, draft); err != nil {
			a.flash.Warn("Draft not saved: " + err.Error())
		}
		a.vm.CloseConversation()
		a.restartWatch(nil)
	}()
}

func (a *App) showDetails() {
	c, ok := a.vm.FindConversation(a.vm.ActivePerson())
	if !ok {
		a.flash.Warn("Conversation is not in the listed section")
		return
	}
	a.details.Update(c, a.vm.PeerOnline(c.PersonUUID))
	a.push(pageDetails)
}

func (a *App) fetchHistory() {
	go func() {
		if err := a.vm.FetchHistory(a.ctx); err != nil {
			a.flash.Err(fmt.Errorf("history failed: %w", err))
			return
		}
		a.redrawThread()
	}()
}

func (a *App) refreshInbox() {
	go func() {
		if err := a.vm.Refresh(a.ctx); err != nil {
			a.flash.Err(fmt.Errorf("refresh failed: %w", err))
		}
		a.redrawInbox()
	}()
}

func (a *App) loadMore() {
	go func() {
		n, err := a.vm.LoadMore(a.ctx)
		if err != nil {
			a.flash.Err(fmt.Errorf("load more failed: %w", err))
			return
		}
		if n == 0 {
			a.flash.Info("No older conversations")
		}
		a.redrawInbox()
	}()
}

// reloadInbox fetches the listed section and redraws it. Safe to call from
// any goroutine.
func (a *App) reloadInbox() {
	go func() {
		if err := a.vm.LoadInbox(a.ctx); err != nil {
			a.flash.Err(err)
		}
		a.redrawInbox()
	}()
}

func (a *App) redrawInbox() {
	a.app.QueueUpdateDraw(func() {
		a.inbox.Update(a.vm.Section(), a.vm.Order(), a.vm.GetConversations())
		a.renderSession()
	})
}

func (a *App) reloadThread() {
	person := a.vm.ActivePerson()
	if person == "" {
		return
	}
	if err := a.vm.LoadMessages(a.ctx, person); err != nil {
		a.flash.Err(err)
		return
	}
	a.redrawThread()
}

func (a *App) redrawThread() {
	a.app.QueueUpdateDraw(func() {
		person := a.vm.ActivePerson()
		if person == "" || person != a.thread.Person() {
			return
		}
		a.thread.Update(a.vm.GetMessages())
		a.thread.SetHeader(a.vm.PeerOnline(person), a.vm.Typing(person))
	})
}

func (a *App) renderSession() {
	s := a.vm.GetSession()
	st := a.vm.GetStats()
	a.statusBar.Update(s)
	a.sessionInfo.Update(&ui.SessionData{
		Session:      s.Name,
		PersonUUID:   s.PersonUUID,
		State:        s.State,
		Online:       s.Online,
		Unread:       st.UnreadChats + st.UnreadIntros,
		MessageCount: s.Messages,
		Outbox:       s.OutboxPending,
		Uptime:       time.Duration(s.UptimeMs) * time.Millisecond,
	})
}

// restartWatch reopens the event stream following the given people's
// presence.
func (a *App) restartWatch(presence []string) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.watchCancel != nil {
		a.watchCancel()
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.watchCancel = cancel
	go a.watch(ctx, presence)
}

// watch streams daemon events until ctx ends, reconnecting with backoff
// when the stream drops.
func (a *App) watch(ctx context.Context, presence []string) {
	b := backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(0)), ctx)
	_ = backoff.Retry(func() error {
		err := a.client.Watch(ctx, "", presence, func(evt *structpb.Struct) error {
			b.Reset()
			a.handleEvent(evt)
			return nil
		})
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errors.New("event stream closed")
		}
		return err
	}, b)
}

func (a *App) handleEvent(evt *structpb.Struct) {
	reloadInbox, reloadThread := a.vm.ApplyEvent(evt)
	if reloadInbox {
		a.reloadInbox()
	}
	if reloadThread {
		go a.reloadThread()
	}
	switch evt.GetFields()["kind"].GetStringValue() {
	case "message.typing":
		a.redrawThread()
		time.AfterFunc(5*time.Second, a.redrawThread)
	case "chat.online", "conn.state_changed":
		a.app.QueueUpdateDraw(a.renderSession)
	default:
		a.redrawThread()
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		if err := a.vm.LoadSessionStatus(a.ctx); err != nil {
			a.flash.Err(err)
		}
		if !a.vm.GetSession().LoggedIn {
			a.app.QueueUpdateDraw(func() {
				a.pages.Reset(pageLogin)
				a.focusCurrent()
				a.renderSession()
			})
		} else {
			a.reloadInbox()
		}
		a.restartWatch(nil)
		a.startRefreshLoop()
	}()
	go a.showFlashes()

	return a.app.Run()
}

// startRefreshLoop polls session counters the event stream does not carry.
func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = a.vm.LoadSessionStatus(a.ctx)
				a.app.QueueUpdateDraw(a.renderSession)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) showFlashes() {
	for {
		select {
		case msg := <-a.flash.Watch():
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(&msg) })
			expires := time.Until(msg.Expires)
			time.AfterFunc(expires, func() {
				a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.Current()) })
			})
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	if a.vm.ActivePerson() != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = a.vm.SaveDraft(ctx, a.thread.Composer().GetText())
		cancel()
	}
	a.cancel()
	a.app.Stop()
}
