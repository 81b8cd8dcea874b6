package model

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/matchchat/internal/api"
	"google.golang.org/protobuf/types/known/structpb"
)

// Backend is the subset of the daemon client the view model needs.
type Backend interface {
	Call(ctx context.Context, service, method string, args map[string]any) (*structpb.Struct, error)
	Do(ctx context.Context, service, method string, args map[string]any) error
}

var _ Backend = (*api.Client)(nil)

// Sections in the order the list cycles through them.
var Sections = []string{"chats", "intros", "archive"}

// Session is a snapshot of the daemon's session status.
type Session struct {
	Name          string
	PersonUUID    string
	State         string
	LoggedIn      bool
	Online        bool
	Conversations int
	Messages      int
	OutboxPending int
	UptimeMs      int64
}

// Conversation is one inbox row.
type Conversation struct {
	PersonUUID      string
	Name            string
	MatchPercentage int
	LastMessage     string
	LastMessageRead bool
	LastMessageAtMs int64
	Available       bool
	Verified        bool
	Location        string
}

// Message is one line of a conversation thread.
type Message struct {
	ID          string
	PeerUUID    string
	FromMe      bool
	Body        string
	Status      string
	TimestampMs int64
}

// SearchResult is a stored message matching a query.
type SearchResult struct {
	Message Message
	Snippet string
}

// Stats mirrors the inbox counters.
type Stats struct {
	Chats, UnreadChats     int
	Intros, UnreadIntros   int
	Archive, UnreadArchive int
}

// ViewModel caches daemon state for the views.
type ViewModel struct {
	mu sync.RWMutex

	backend Backend
	session Session
	stats   Stats

	section       string
	order         string
	conversations []Conversation
	messages      []Message
	active        string
	typing        map[string]time.Time
	online        map[string]bool

	refreshCh chan struct{}
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(b Backend) *ViewModel {
	return &ViewModel{
		backend:   b,
		section:   Sections[0],
		order:     "latest",
		typing:    make(map[string]time.Time),
		online:    make(map[string]bool),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadSessionStatus fetches current session status.
func (vm *ViewModel) LoadSessionStatus(ctx context.Context) error {
	resp, err := vm.backend.Call(ctx, api.SessionServiceName, "GetSessionStatus", nil)
	if err != nil {
		return err
	}
	f := resp.GetFields()
	s := Session{
		Name:          f["session"].GetStringValue(),
		PersonUUID:    f["person_uuid"].GetStringValue(),
		State:         f["state"].GetStringValue(),
		LoggedIn:      f["logged_in"].GetBoolValue(),
		Online:        f["online"].GetBoolValue(),
		Conversations: int(f["conversation_count"].GetNumberValue()),
		Messages:      int(f["message_count"].GetNumberValue()),
		OutboxPending: int(f["outbox_pending"].GetNumberValue()),
		UptimeMs:      int64(f["uptime_ms"].GetNumberValue()),
	}
	vm.mu.Lock()
	vm.session = s
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadInbox fetches the current section of the inbox.
func (vm *ViewModel) LoadInbox(ctx context.Context) error {
	vm.mu.RLock()
	section, order := vm.section, vm.order
	vm.mu.RUnlock()

	resp, err := vm.backend.Call(ctx, api.ChatServiceName, "ListInbox", map[string]any{
		"section": section,
		"order":   order,
	})
	if err != nil {
		return err
	}
	var convs []Conversation
	for _, v := range resp.GetFields()["conversations"].GetListValue().GetValues() {
		convs = append(convs, conversationFrom(v.GetStructValue()))
	}
	vm.mu.Lock()
	vm.conversations = convs
	vm.stats = statsFrom(resp.GetFields()["stats"].GetStructValue())
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Refresh asks the daemon to re-query the inbox from the server.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	if _, err := vm.backend.Call(ctx, api.SyncServiceName, "RefreshInbox", nil); err != nil {
		return err
	}
	return vm.LoadInbox(ctx)
}

// LoadMore fetches the next page of older conversations and returns how
// many were added.
func (vm *ViewModel) LoadMore(ctx context.Context) (int, error) {
	resp, err := vm.backend.Call(ctx, api.SyncServiceName, "LoadMoreInbox", nil)
	if err != nil {
		return 0, err
	}
	if err := vm.LoadInbox(ctx); err != nil {
		return 0, err
	}
	return int(resp.GetFields()["added"].GetNumberValue()), nil
}

// LoadMessages opens a conversation and fetches its stored messages,
// oldest first.
func (vm *ViewModel) LoadMessages(ctx context.Context, personUUID string) error {
	resp, err := vm.backend.Call(ctx, api.MessageServiceName, "ListMessages", map[string]any{
		"person_uuid": personUUID,
		"limit":       100,
	})
	if err != nil {
		return err
	}
	values := resp.GetFields()["messages"].GetListValue().GetValues()
	msgs := make([]Message, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFrom(values[i].GetStructValue()))
	}
	vm.mu.Lock()
	vm.active = personUUID
	vm.messages = msgs
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// FetchHistory pulls the latest page of the active conversation from the
// server, then reloads the stored thread.
func (vm *ViewModel) FetchHistory(ctx context.Context) error {
	peer := vm.ActivePerson()
	if peer == "" {
		return nil
	}
	if _, err := vm.backend.Call(ctx, api.MessageServiceName, "FetchHistory", map[string]any{"person_uuid": peer}); err != nil {
		return err
	}
	return vm.LoadMessages(ctx, peer)
}

// CloseConversation clears the active conversation.
func (vm *ViewModel) CloseConversation() {
	vm.mu.Lock()
	vm.active = ""
	vm.messages = nil
	vm.mu.Unlock()
}

// SearchMessages performs a search query.
func (vm *ViewModel) SearchMessages(ctx context.Context, query string) ([]SearchResult, error) {
	resp, err := vm.backend.Call(ctx, api.MessageServiceName, "SearchMessages", map[string]any{
		"query": query,
		"limit": 50,
	})
	if err != nil {
		return nil, err
	}
	var out []SearchResult
	for _, v := range resp.GetFields()["results"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		out = append(out, SearchResult{
			Message: messageFrom(f["message"].GetStructValue()),
			Snippet: f["snippet"].GetStringValue(),
		})
	}
	return out, nil
}

// SendText sends a message to the active conversation and returns the
// delivery status the daemon reported.
func (vm *ViewModel) SendText(ctx context.Context, text string) (string, error) {
	peer := vm.ActivePerson()
	resp, err := vm.backend.Call(ctx, api.MessageServiceName, "SendText", map[string]any{
		"person_uuid": peer,
		"text":        text,
	})
	if err != nil {
		return "", err
	}
	_ = vm.SaveDraft(ctx, "")
	vm.signalRefresh()
	return resp.GetFields()["status"].GetStringValue(), nil
}

// SendTyping tells the active peer that we are typing.
func (vm *ViewModel) SendTyping(ctx context.Context) error {
	peer := vm.ActivePerson()
	if peer == "" {
		return nil
	}
	return vm.backend.Do(ctx, api.MessageServiceName, "SendTyping", map[string]any{"person_uuid": peer})
}

// Draft returns the saved composer text for the active conversation.
func (vm *ViewModel) Draft(ctx context.Context) (string, error) {
	peer := vm.ActivePerson()
	if peer == "" {
		return "", nil
	}
	resp, err := vm.backend.Call(ctx, api.ChatServiceName, "GetDraft", map[string]any{"person_uuid": peer})
	if err != nil {
		return "", err
	}
	return resp.GetFields()["body"].GetStringValue(), nil
}

// SaveDraft stores composer text for the active conversation.
func (vm *ViewModel) SaveDraft(ctx context.Context, body string) error {
	peer := vm.ActivePerson()
	if peer == "" {
		return nil
	}
	return vm.backend.Do(ctx, api.ChatServiceName, "SaveDraft", map[string]any{"person_uuid": peer, "body": body})
}

// Skip hides a person, optionally reporting them.
func (vm *ViewModel) Skip(ctx context.Context, personUUID, reason string) error {
	return vm.backend.Do(ctx, api.ChatServiceName, "Skip", map[string]any{
		"person_uuid":   personUUID,
		"report_reason": reason,
	})
}

// Unskip restores a previously skipped person.
func (vm *ViewModel) Unskip(ctx context.Context, personUUID string) error {
	return vm.backend.Do(ctx, api.ChatServiceName, "Unskip", map[string]any{"person_uuid": personUUID})
}

// Logout signs the daemon out.
func (vm *ViewModel) Logout(ctx context.Context) error {
	return vm.backend.Do(ctx, api.SessionServiceName, "Logout", nil)
}

// Login signs the daemon in.
func (vm *ViewModel) Login(ctx context.Context, personUUID, token string) error {
	return vm.backend.Do(ctx, api.SessionServiceName, "Login", map[string]any{
		"person_uuid":   personUUID,
		"session_token": token,
	})
}

// SetSection switches the listed inbox section. Unknown names are ignored.
func (vm *ViewModel) SetSection(section string) bool {
	for _, s := range Sections {
		if s == section {
			vm.mu.Lock()
			vm.section = s
			vm.mu.Unlock()
			return true
		}
	}
	return false
}

// NextSection cycles to the following section and returns it.
func (vm *ViewModel) NextSection() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i, s := range Sections {
		if s == vm.section {
			vm.section = Sections[(i+1)%len(Sections)]
			break
		}
	}
	return vm.section
}

// ToggleOrder flips between latest-first and best-match-first.
func (vm *ViewModel) ToggleOrder() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.order == "match" {
		vm.order = "latest"
	} else {
		vm.order = "match"
	}
	return vm.order
}

// typingFor is how long a typing notification stays visible.
const typingFor = 5 * time.Second

// ApplyEvent folds one watched event into the cache and reports whether the
// inbox or the open thread should be reloaded.
func (vm *ViewModel) ApplyEvent(evt *structpb.Struct) (reloadInbox, reloadThread bool) {
	f := evt.GetFields()
	kind := f["kind"].GetStringValue()
	payload := f["payload"].GetStructValue().GetFields()
	person := payload["person_uuid"].GetStringValue()

	switch {
	case kind == "inbox.changed":
		return true, false
	case kind == "message.received":
		return true, payload["peer_uuid"].GetStringValue() == vm.ActivePerson()
	case kind == "message.status":
		return false, payload["recipient_uuid"].GetStringValue() == vm.ActivePerson()
	case kind == "message.typing":
		vm.mu.Lock()
		vm.typing[person] = time.Now()
		vm.mu.Unlock()
		vm.signalRefresh()
	case strings.HasPrefix(kind, "presence."):
		vm.mu.Lock()
		vm.online[person] = payload["status"].GetStringValue() == "online"
		vm.mu.Unlock()
		vm.signalRefresh()
	case kind == "chat.online", kind == "conn.state_changed":
		vm.mu.Lock()
		if kind == "chat.online" {
			vm.session.Online = payload["value"].GetBoolValue()
		} else {
			vm.session.State = payload["to"].GetStringValue()
		}
		vm.mu.Unlock()
		vm.signalRefresh()
	}
	return false, false
}

// Typing reports whether the person typed within the last few seconds.
func (vm *ViewModel) Typing(personUUID string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	at, ok := vm.typing[personUUID]
	return ok && time.Since(at) < typingFor
}

// PeerOnline reports the last known presence of the person.
func (vm *ViewModel) PeerOnline(personUUID string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.online[personUUID]
}

// Section returns the listed inbox section.
func (vm *ViewModel) Section() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.section
}

// Order returns the listing order.
func (vm *ViewModel) Order() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.order
}

// ActivePerson returns the open conversation's person, if any.
func (vm *ViewModel) ActivePerson() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// GetConversations returns a snapshot of the listed conversations.
func (vm *ViewModel) GetConversations() []Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// FindConversation looks a person up in the listed section.
func (vm *ViewModel) FindConversation(personUUID string) (Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.PersonUUID == personUUID {
			return c, true
		}
	}
	return Conversation{}, false
}

// GetMessages returns a snapshot of the current messages.
func (vm *ViewModel) GetMessages() []Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// GetSession returns a snapshot of session status.
func (vm *ViewModel) GetSession() Session {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.session
}

// GetStats returns the inbox counters from the last load.
func (vm *ViewModel) GetStats() Stats {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.stats
}

func conversationFrom(s *structpb.Struct) Conversation {
	f := s.GetFields()
	return Conversation{
		PersonUUID:      f["person_uuid"].GetStringValue(),
		Name:            f["name"].GetStringValue(),
		MatchPercentage: int(f["match_percentage"].GetNumberValue()),
		LastMessage:     f["last_message"].GetStringValue(),
		LastMessageRead: f["last_message_read"].GetBoolValue(),
		LastMessageAtMs: int64(f["last_message_at_ms"].GetNumberValue()),
		Available:       f["is_available_user"].GetBoolValue(),
		Verified:        f["is_verified"].GetBoolValue(),
		Location:        f["location"].GetStringValue(),
	}
}

func messageFrom(s *structpb.Struct) Message {
	f := s.GetFields()
	return Message{
		ID:          f["id"].GetStringValue(),
		PeerUUID:    f["peer_uuid"].GetStringValue(),
		FromMe:      f["from_me"].GetBoolValue(),
		Body:        f["body"].GetStringValue(),
		Status:      f["status"].GetStringValue(),
		TimestampMs: int64(f["timestamp_ms"].GetNumberValue()),
	}
}

func statsFrom(s *structpb.Struct) Stats {
	f := s.GetFields()
	n := func(k string) int { return int(f[k].GetNumberValue()) }
	return Stats{
		Chats: n("chats"), UnreadChats: n("unread_chats"),
		Intros: n("intros"), UnreadIntros: n("unread_intros"),
		Archive: n("archive"), UnreadArchive: n("unread_archive"),
	}
}
