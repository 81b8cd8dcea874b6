package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/chat"
	"github.com/matheus3301/matchchat/internal/restapi"
	"github.com/matheus3301/matchchat/internal/store"
	"go.uber.org/zap"
)

// Enrichment settle defaults.
const (
	DefaultSettleDelay    = time.Second
	DefaultSettleAttempts = 3
)

// UnavailableName is shown for people the REST API does not know.
const UnavailableName = "Unavailable Person"

// ErrNoSkipper is returned by Skip and Unskip when no REST client is wired.
var ErrNoSkipper = errors.New("skip persistence unavailable")

// Querier streams inbox summaries from the chat server.
type Querier interface {
	QueryInbox(ctx context.Context, end time.Time, pageSize int) ([]chat.InboxEntry, error)
}

// Enricher looks up profile data for conversation partners.
type Enricher interface {
	InboxInfo(ctx context.Context, personUUIDs []string) ([]restapi.PersonInfo, error)
}

// Skipper persists skip decisions.
type Skipper interface {
	Skip(ctx context.Context, personUUID, reportReason string) error
	Unskip(ctx context.Context, personUUID string) error
}

// Persister saves and restores inbox snapshots.
type Persister interface {
	ReplaceConversations(convs []store.Conversation) error
	ListConversations() ([]store.Conversation, error)
}

// Options configures a Store. Only Querier and Enricher are required for
// refreshes; the rest are optional.
type Options struct {
	Querier   Querier
	Enricher  Enricher
	Skipper   Skipper
	Persister Persister
	Bus       *bus.Bus
	Logger    *zap.Logger

	// SettleDelay is the base wait between enrichment lookups for a new
	// conversation the REST API does not know yet. Attempt n waits n times it.
	SettleDelay    time.Duration
	SettleAttempts int

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Store owns the conversation map and publishes snapshots of it.
type Store struct {
	querier   Querier
	enricher  Enricher
	skipper   Skipper
	persister Persister
	bus       *bus.Bus
	logger    *zap.Logger
	settle    time.Duration
	attempts  int
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	convs   map[string]Conversation
	current atomic.Pointer[Inbox]
}

// New creates an empty store.
func New(opts Options) *Store {
	s := &Store{
		querier:   opts.Querier,
		enricher:  opts.Enricher,
		skipper:   opts.Skipper,
		persister: opts.Persister,
		bus:       opts.Bus,
		logger:    opts.Logger,
		settle:    opts.SettleDelay,
		attempts:  opts.SettleAttempts,
		now:       opts.Now,
		sleep:     opts.Sleep,
		convs:     make(map[string]Conversation),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.settle <= 0 {
		s.settle = DefaultSettleDelay
	}
	if s.attempts <= 0 {
		s.attempts = DefaultSettleAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	s.current.Store(Empty())
	return s
}

// Inbox returns the current snapshot.
func (s *Store) Inbox() *Inbox {
	return s.current.Load()
}

// Load restores the last persisted snapshot.
func (s *Store) Load() error {
	if s.persister == nil {
		return nil
	}
	rows, err := s.persister.ListConversations()
	if err != nil {
		return fmt.Errorf("load inbox: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[string]Conversation, len(rows))
	for _, r := range rows {
		c := fromRow(r)
		s.convs[c.PersonUUID] = c
	}
	s.publish(false)
	return nil
}

// Reset drops every conversation.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[string]Conversation)
	s.publish(true)
}

// ApplySent records a message delivered to personUUID. An unknown
// conversation is kept hidden until the peer replies; an intro becomes a
// chat; anything else is updated in place.
func (s *Store) ApplySent(personUUID, preview string) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[personUUID]
	switch {
	case !ok:
		c = Conversation{PersonUUID: personUUID, IsAvailableUser: true, Location: Nowhere}
	case c.Location == Intros:
		c.Location = Chats
	}
	c.LastMessage = preview
	c.LastMessageRead = true
	c.LastMessageTimestamp = now
	s.convs[personUUID] = c
	s.publish(true)
}

// ApplyReceived records a message from personUUID. A visible conversation
// is updated in place. Otherwise the person is looked up in the REST API,
// waiting for it to catch up with the chat server if needed, and the
// conversation is inserted where the API places it. The message is never
// dropped: if the person stays unknown it lands in the archive as
// unavailable.
func (s *Store) ApplyReceived(ctx context.Context, personUUID, preview string) {
	now := s.now()

	s.mu.Lock()
	if s.updateVisible(personUUID, preview, now) {
		s.publish(true)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	info, found := s.lookup(ctx, personUUID)

	s.mu.Lock()
	defer s.mu.Unlock()
	// A refresh may have placed it while we were looking it up.
	if s.updateVisible(personUUID, preview, now) {
		s.publish(true)
		return
	}
	c, ok := s.convs[personUUID]
	if !ok {
		c = Conversation{PersonUUID: personUUID}
	}
	c = overlay(c, info, found)
	c.LastMessage = preview
	c.LastMessageRead = false
	c.LastMessageTimestamp = now
	s.convs[personUUID] = c
	s.publish(true)
}

// updateVisible applies a received message to a visible conversation.
// Must hold s.mu.
func (s *Store) updateVisible(personUUID, preview string, at time.Time) bool {
	c, ok := s.convs[personUUID]
	if !ok || !c.Location.Visible() {
		return false
	}
	c.LastMessage = preview
	c.LastMessageRead = false
	c.LastMessageTimestamp = at
	s.convs[personUUID] = c
	return true
}

// ApplyDisplayed marks a conversation read without moving it.
func (s *Store) ApplyDisplayed(personUUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[personUUID]
	if !ok || c.LastMessageRead {
		return
	}
	c.LastMessageRead = true
	s.convs[personUUID] = c
	s.publish(true)
}

// Refresh replaces the inbox with the server's newest page, enriched in one
// REST call. Local state survives where it is newer than the server's view:
// hidden conversations, and entries touched after the refresh started.
func (s *Store) Refresh(ctx context.Context) error {
	started := s.now()
	fresh, err := s.fetch(ctx, time.Time{}, 0)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, old := range s.convs {
		f, ok := fresh[id]
		switch {
		case ok:
			if old.LastMessageTimestamp.After(f.LastMessageTimestamp) {
				f.LastMessage = old.LastMessage
				f.LastMessageRead = old.LastMessageRead
				f.LastMessageTimestamp = old.LastMessageTimestamp
				fresh[id] = f
			}
		case old.Location == Nowhere, !old.LastMessageTimestamp.Before(started):
			fresh[id] = old
		}
	}
	s.convs = fresh
	s.publish(true)
	s.logger.Info("inbox refreshed", zap.Int("conversations", len(fresh)))
	return nil
}

// LoadMore fetches the page of conversations older than the current
// watermark and merges it. Conversations already held are left alone.
// It returns the number of conversations added.
func (s *Store) LoadMore(ctx context.Context, pageSize int) (int, error) {
	end := s.Inbox().EndTimestamp
	if end.IsZero() {
		if err := s.Refresh(ctx); err != nil {
			return 0, err
		}
		return s.Inbox().Chats.Len() + s.Inbox().Intros.Len() + s.Inbox().Archive.Len(), nil
	}
	older, err := s.fetch(ctx, end, pageSize)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for id, c := range older {
		if _, ok := s.convs[id]; ok {
			continue
		}
		s.convs[id] = c
		added++
	}
	if added > 0 {
		s.publish(true)
	}
	return added, nil
}

// Skip archives a conversation once the REST API has recorded the skip.
func (s *Store) Skip(ctx context.Context, personUUID, reportReason string) error {
	if s.skipper == nil {
		return ErrNoSkipper
	}
	if err := s.skipper.Skip(ctx, personUUID, reportReason); err != nil {
		return fmt.Errorf("skip %s: %w", personUUID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[personUUID]
	if !ok || c.Location == Archive {
		return nil
	}
	c.Location = Archive
	s.convs[personUUID] = c
	s.publish(true)
	return nil
}

// Unskip reverses a skip. The destination partition is only known to the
// server, so a full refresh follows.
func (s *Store) Unskip(ctx context.Context, personUUID string) error {
	if s.skipper == nil {
		return ErrNoSkipper
	}
	if err := s.skipper.Unskip(ctx, personUUID); err != nil {
		return fmt.Errorf("unskip %s: %w", personUUID, err)
	}
	return s.Refresh(ctx)
}

// fetch runs one inbox query and enriches the result.
func (s *Store) fetch(ctx context.Context, end time.Time, pageSize int) (map[string]Conversation, error) {
	if s.querier == nil || s.enricher == nil {
		return nil, errors.New("inbox: querier and enricher are required")
	}
	entries, err := s.querier.QueryInbox(ctx, end, pageSize)
	if err != nil {
		return nil, err
	}

	convs := make(map[string]Conversation, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if prev, ok := convs[e.PersonUUID]; ok && !e.LastMessageTimestamp.After(prev.LastMessageTimestamp) {
			continue
		} else if !ok {
			ids = append(ids, e.PersonUUID)
		}
		convs[e.PersonUUID] = Conversation{
			PersonUUID:           e.PersonUUID,
			LastMessage:          e.LastMessage,
			LastMessageRead:      e.LastMessageRead,
			LastMessageTimestamp: e.LastMessageTimestamp,
			IsAvailableUser:      true,
			Location:             Archive,
		}
	}

	infos, err := s.enricher.InboxInfo(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("enrich inbox: %w", err)
	}
	byID := indexInfo(infos)
	for id, c := range convs {
		info, ok := byID[id]
		convs[id] = overlay(c, info, ok)
	}
	return convs, nil
}

// lookup enriches one identity, retrying with a growing delay while the
// REST API does not know it.
func (s *Store) lookup(ctx context.Context, personUUID string) (restapi.PersonInfo, bool) {
	if s.enricher == nil {
		return restapi.PersonInfo{}, false
	}
	for attempt := 0; attempt <= s.attempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, time.Duration(attempt)*s.settle); err != nil {
				break
			}
		}
		infos, err := s.enricher.InboxInfo(ctx, []string{personUUID})
		if err != nil {
			s.logger.Warn("enrichment lookup failed", zap.String("person", personUUID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if info, ok := indexInfo(infos)[personUUID]; ok && info.Name != "" {
			return info, true
		}
	}
	s.logger.Warn("person unknown to enrichment, inserting placeholder", zap.String("person", personUUID))
	return restapi.PersonInfo{}, false
}

// publish rebuilds and stores the snapshot. Must hold s.mu.
func (s *Store) publish(persist bool) {
	in := build(s.convs)
	s.current.Store(in)
	if s.bus != nil {
		s.bus.Emit(bus.KindInboxChanged, in)
	}
	if !persist || s.persister == nil {
		return
	}
	rows := make([]store.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		rows = append(rows, toRow(c))
	}
	if err := s.persister.ReplaceConversations(rows); err != nil {
		s.logger.Warn("persist inbox failed", zap.Error(err))
	}
}

func indexInfo(infos []restapi.PersonInfo) map[string]restapi.PersonInfo {
	m := make(map[string]restapi.PersonInfo, len(infos))
	for _, info := range infos {
		m[info.PersonUUID] = info
	}
	return m
}

// overlay applies enrichment to a conversation. Missing data yields the
// unavailable placeholder in the archive.
func overlay(c Conversation, info restapi.PersonInfo, found bool) Conversation {
	if !found || info.Name == "" {
		c.Name = UnavailableName
		c.IsAvailableUser = false
		if found {
			c.Location = ParseLocation(info.ConversationLocation)
		} else {
			c.Location = Archive
		}
		return c
	}
	c.Name = info.Name
	c.MatchPercentage = info.MatchPercentage
	c.ImageUUID = info.ImageUUID
	c.ImageBlurhash = info.ImageBlurhash
	c.IsVerified = info.Verified
	c.IsAvailableUser = true
	c.Location = ParseLocation(info.ConversationLocation)
	return c
}

func toRow(c Conversation) store.Conversation {
	return store.Conversation{
		PersonUUID:           c.PersonUUID,
		Name:                 c.Name,
		MatchPercentage:      c.MatchPercentage,
		ImageUUID:            c.ImageUUID,
		ImageBlurhash:        c.ImageBlurhash,
		LastMessage:          c.LastMessage,
		LastMessageRead:      c.LastMessageRead,
		LastMessageTimestamp: c.LastMessageTimestamp.UnixMilli(),
		IsAvailableUser:      c.IsAvailableUser,
		IsVerified:           c.IsVerified,
		Location:             string(c.Location),
	}
}

func fromRow(r store.Conversation) Conversation {
	return Conversation{
		PersonUUID:           r.PersonUUID,
		Name:                 r.Name,
		MatchPercentage:      r.MatchPercentage,
		ImageUUID:            r.ImageUUID,
		ImageBlurhash:        r.ImageBlurhash,
		LastMessage:          r.LastMessage,
		LastMessageRead:      r.LastMessageRead,
		LastMessageTimestamp: time.UnixMilli(r.LastMessageTimestamp),
		IsAvailableUser:      r.IsAvailableUser,
		IsVerified:           r.IsVerified,
		Location:             storedLocation(r.Location),
	}
}

// storedLocation reads a persisted location. Unlike server replies, a
// snapshot may hold Nowhere.
func storedLocation(s string) Location {
	if Location(s) == Nowhere {
		return Nowhere
	}
	return ParseLocation(s)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
