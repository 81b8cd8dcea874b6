package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/chat"
	"github.com/matheus3301/matchchat/internal/restapi"
	"github.com/matheus3301/matchchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	u1 = "11111111-1111-4111-8111-111111111111"
	u2 = "22222222-2222-4222-8222-222222222222"
	u3 = "33333333-3333-4333-8333-333333333333"
	u4 = "44444444-4444-4444-8444-444444444444"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// clock advances one second per reading.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fakeQuerier struct {
	mu      sync.Mutex
	pages   map[time.Time][]chat.InboxEntry
	err     error
	queries []time.Time
}

func (q *fakeQuerier) QueryInbox(_ context.Context, end time.Time, _ int) ([]chat.InboxEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, end)
	if q.err != nil {
		return nil, q.err
	}
	return q.pages[end], nil
}

type fakeEnricher struct {
	mu      sync.Mutex
	people  map[string]restapi.PersonInfo
	unknown map[string]int // lookups to answer "unknown" before revealing
	calls   [][]string
}

func (e *fakeEnricher) InboxInfo(_ context.Context, ids []string) ([]restapi.PersonInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, append([]string(nil), ids...))
	var out []restapi.PersonInfo
	for _, id := range ids {
		if e.unknown[id] > 0 {
			e.unknown[id]--
			continue
		}
		if p, ok := e.people[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (e *fakeEnricher) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeSkipper struct {
	err     error
	skipped []string
	unskip  []string
}

func (s *fakeSkipper) Skip(_ context.Context, id, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.skipped = append(s.skipped, id)
	return nil
}

func (s *fakeSkipper) Unskip(_ context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	s.unskip = append(s.unskip, id)
	return nil
}

type memPersister struct {
	mu   sync.Mutex
	rows []store.Conversation
}

func (m *memPersister) ReplaceConversations(rows []store.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append([]store.Conversation(nil), rows...)
	return nil
}

func (m *memPersister) ListConversations() ([]store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Conversation(nil), m.rows...), nil
}

type harness struct {
	store    *Store
	querier  *fakeQuerier
	enricher *fakeEnricher
	skipper  *fakeSkipper
	sleeps   []time.Duration
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		querier:  &fakeQuerier{pages: map[time.Time][]chat.InboxEntry{}},
		enricher: &fakeEnricher{people: map[string]restapi.PersonInfo{}, unknown: map[string]int{}},
		skipper:  &fakeSkipper{},
	}
	clk := &clock{t: epoch}
	opts.Querier = h.querier
	opts.Enricher = h.enricher
	opts.Skipper = h.skipper
	opts.Now = clk.Now
	opts.Sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	h.store = New(opts)
	return h
}

func (h *harness) person(id, name string, loc Location, match int) {
	h.enricher.people[id] = restapi.PersonInfo{
		PersonUUID:           id,
		Name:                 name,
		MatchPercentage:      match,
		ConversationLocation: string(loc),
	}
}

// assertSingleMembership checks that no identity sits in two partitions.
func assertSingleMembership(t *testing.T, in *Inbox) {
	t.Helper()
	seen := map[string]Location{}
	for _, l := range []Location{Chats, Intros, Archive, Nowhere} {
		p := in.Partition(l)
		require.Equal(t, p.Len(), len(p.index), "list and index disagree in %s", l)
		for _, c := range p.Conversations() {
			prev, dup := seen[c.PersonUUID]
			assert.False(t, dup, "%s in both %s and %s", c.PersonUUID, prev, l)
			seen[c.PersonUUID] = l
			assert.Equal(t, l, c.Location)
			assert.True(t, p.Contains(c.PersonUUID))
		}
	}
}

func TestSendToUnknownStaysHidden(t *testing.T) {
	h := newHarness(t, Options{})

	h.store.ApplySent(u2, "hi")

	in := h.store.Inbox()
	c, ok := in.Hidden.Get(u2)
	require.True(t, ok)
	assert.Equal(t, Nowhere, c.Location)
	assert.Equal(t, "hi", c.LastMessage)
	assert.True(t, c.LastMessageRead)
	assert.Zero(t, in.Chats.Len()+in.Intros.Len()+in.Archive.Len())
	assertSingleMembership(t, in)
}

func TestReceivedNeverHiddenByEnrichment(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u1, "Ann", Nowhere, 50)

	h.store.ApplyReceived(context.Background(), u1, "are you there?")

	in := h.store.Inbox()
	c, ok := in.Archive.Get(u1)
	require.True(t, ok, "received message must stay visible")
	assert.Equal(t, "are you there?", c.LastMessage)
	assert.False(t, in.Hidden.Contains(u1))
	assertSingleMembership(t, in)
}

func TestSendMovesIntroToChats(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u1, "Ann", Intros, 90)
	h.person(u3, "Cat", Archive, 10)
	h.store.ApplyReceived(context.Background(), u1, "hello")
	h.store.ApplyReceived(context.Background(), u3, "yo")
	require.True(t, h.store.Inbox().Intros.Contains(u1))

	h.store.ApplySent(u1, "hey back")
	h.store.ApplySent(u1, "again")
	h.store.ApplySent(u3, "archived reply")

	in := h.store.Inbox()
	assert.False(t, in.Intros.Contains(u1))
	c, ok := in.Chats.Get(u1)
	require.True(t, ok)
	assert.Equal(t, "again", c.LastMessage)
	assert.True(t, c.LastMessageRead)
	assert.Equal(t, "Ann", c.Name)

	a, ok := in.Archive.Get(u3)
	require.True(t, ok, "archive entries are updated in place")
	assert.Equal(t, "archived reply", a.LastMessage)
	assertSingleMembership(t, in)
}

func TestReceiveFromUnknownUsesEnrichment(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u3, "Cat", Intros, 77)

	h.store.ApplyReceived(context.Background(), u3, "hey")

	in := h.store.Inbox()
	c, ok := in.Intros.Get(u3)
	require.True(t, ok)
	assert.False(t, c.LastMessageRead)
	assert.Equal(t, "hey", c.LastMessage)
	assert.Equal(t, "Cat", c.Name)
	assert.Equal(t, 77, c.MatchPercentage)
	assert.True(t, c.IsAvailableUser)
	assert.Equal(t, 1, in.Stats().ChatsAndIntros)
	assertSingleMembership(t, in)
	assert.Equal(t, [][]string{{u3}}, h.enricher.Calls())
}

func TestReceiveUpdatesVisibleInPlace(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u1, "Ann", Archive, 0)
	h.store.ApplyReceived(context.Background(), u1, "first")
	h.store.ApplyDisplayed(u1)

	h.store.ApplyReceived(context.Background(), u1, "second")

	in := h.store.Inbox()
	c, ok := in.Archive.Get(u1)
	require.True(t, ok, "archived conversations stay archived")
	assert.Equal(t, "second", c.LastMessage)
	assert.False(t, c.LastMessageRead)
	assert.Len(t, h.enricher.Calls(), 1, "known conversations are not re-enriched")
}

func TestReceiveWaitsForEnrichmentToSettle(t *testing.T) {
	h := newHarness(t, Options{SettleDelay: 100 * time.Millisecond})
	h.person(u3, "Cat", Chats, 50)
	h.enricher.unknown[u3] = 2

	h.store.ApplyReceived(context.Background(), u3, "hey")

	c, ok := h.store.Inbox().Chats.Get(u3)
	require.True(t, ok)
	assert.Equal(t, "Cat", c.Name)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, h.sleeps)
	assert.Len(t, h.enricher.Calls(), 3)
}

func TestReceiveFromPersistentlyUnknownKeepsMessage(t *testing.T) {
	h := newHarness(t, Options{SettleAttempts: 2})

	h.store.ApplyReceived(context.Background(), u4, "who am i")

	c, ok := h.store.Inbox().Archive.Get(u4)
	require.True(t, ok)
	assert.Equal(t, UnavailableName, c.Name)
	assert.False(t, c.IsAvailableUser)
	assert.Equal(t, "who am i", c.LastMessage)
	assert.False(t, c.LastMessageRead)
	assert.Len(t, h.enricher.Calls(), 3, "initial lookup plus two retries")
}

func TestReceiveAfterCancelledSettleKeepsMessage(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	h.store.ApplyReceived(context.Background(), u4, "still here")

	c, ok := h.store.Inbox().Archive.Get(u4)
	require.True(t, ok)
	assert.Equal(t, "still here", c.LastMessage)
	assert.Len(t, h.enricher.Calls(), 1)
}

func TestReplyToHiddenConversationIsClassified(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u2, "Bo", Chats, 60)

	h.store.ApplySent(u2, "hi")
	require.True(t, h.store.Inbox().Hidden.Contains(u2))

	h.store.ApplyReceived(context.Background(), u2, "hi yourself")

	in := h.store.Inbox()
	assert.False(t, in.Hidden.Contains(u2))
	c, ok := in.Chats.Get(u2)
	require.True(t, ok)
	assert.Equal(t, "hi yourself", c.LastMessage)
	assertSingleMembership(t, in)
}

func TestDisplayedOnlyChangesReadFlag(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u1, "Ann", Intros, 0)
	h.store.ApplyReceived(context.Background(), u1, "hello")
	before := h.store.Inbox()

	h.store.ApplyDisplayed(u1)
	after := h.store.Inbox()
	require.NotSame(t, before, after)
	c, ok := after.Intros.Get(u1)
	require.True(t, ok)
	assert.True(t, c.LastMessageRead)
	assert.Equal(t, "hello", c.LastMessage)

	h.store.ApplyDisplayed(u1)
	h.store.ApplyDisplayed(u4)
	assert.Same(t, after, h.store.Inbox(), "no-op marks publish nothing")
}

func refreshPage(h *harness) {
	h.querier.pages[time.Time{}] = []chat.InboxEntry{
		{PersonUUID: u1, LastMessage: "a", LastMessageRead: true, LastMessageTimestamp: epoch.Add(-3 * time.Hour)},
		{PersonUUID: u2, LastMessage: "b", LastMessageRead: false, LastMessageTimestamp: epoch.Add(-2 * time.Hour)},
		{PersonUUID: u3, LastMessage: "c", LastMessageRead: false, LastMessageTimestamp: epoch.Add(-1 * time.Hour)},
	}
	h.person(u1, "Ann", Chats, 10)
	h.person(u2, "Bo", Intros, 20)
	// u3 has no REST record.
}

func TestRefreshPartitionsAndWatermark(t *testing.T) {
	h := newHarness(t, Options{})
	refreshPage(h)

	require.NoError(t, h.store.Refresh(context.Background()))

	in := h.store.Inbox()
	assert.True(t, in.Chats.Contains(u1))
	assert.True(t, in.Intros.Contains(u2))
	c, ok := in.Archive.Get(u3)
	require.True(t, ok)
	assert.Equal(t, UnavailableName, c.Name)
	assert.False(t, c.IsAvailableUser)
	assert.Equal(t, epoch.Add(-3*time.Hour), in.EndTimestamp)

	calls := h.enricher.Calls()
	require.Len(t, calls, 1, "one batched enrichment call")
	assert.ElementsMatch(t, []string{u1, u2, u3}, calls[0])
	assertSingleMembership(t, in)
}

func TestRefreshThenReceiveUpdatesInPlace(t *testing.T) {
	h := newHarness(t, Options{})
	refreshPage(h)
	require.NoError(t, h.store.Refresh(context.Background()))

	h.store.ApplyReceived(context.Background(), u2, "fresh")

	in := h.store.Inbox()
	assert.Equal(t, 1, in.Intros.Len())
	c, _ := in.Intros.Get(u2)
	assert.Equal(t, "fresh", c.LastMessage)
	assert.Len(t, h.enricher.Calls(), 1)
	assertSingleMembership(t, in)
}

func TestRefreshKeepsNewerLocalState(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u1, "Ann", Chats, 10)
	h.person(u4, "Dee", Archive, 0)
	h.store.ApplySent(u4, "hidden hello")
	h.store.ApplyReceived(context.Background(), u1, "newer than server")

	refreshPage(h)
	require.NoError(t, h.store.Refresh(context.Background()))

	in := h.store.Inbox()
	c, ok := in.Chats.Get(u1)
	require.True(t, ok)
	assert.Equal(t, "newer than server", c.LastMessage)
	assert.False(t, c.LastMessageRead)
	assert.True(t, in.Hidden.Contains(u4), "hidden conversations survive a refresh")
	assertSingleMembership(t, in)
}

func TestRefreshDropsStaleVisibleEntries(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u4, "Dee", Chats, 0)
	h.store.ApplyReceived(context.Background(), u4, "old")
	require.True(t, h.store.Inbox().Chats.Contains(u4))

	refreshPage(h)
	require.NoError(t, h.store.Refresh(context.Background()))

	_, ok := h.store.Inbox().Find(u4)
	assert.False(t, ok)
}

func TestRefreshErrorLeavesInbox(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.ApplySent(u1, "x")
	before := h.store.Inbox()
	h.querier.err = errors.New("offline")

	assert.Error(t, h.store.Refresh(context.Background()))
	assert.Same(t, before, h.store.Inbox())
}

func TestLoadMoreMergesOlderPage(t *testing.T) {
	h := newHarness(t, Options{})
	refreshPage(h)
	require.NoError(t, h.store.Refresh(context.Background()))
	end := h.store.Inbox().EndTimestamp

	h.querier.pages[end] = []chat.InboxEntry{
		{PersonUUID: u1, LastMessage: "ancient", LastMessageTimestamp: end.Add(-time.Hour)},
		{PersonUUID: u4, LastMessage: "older", LastMessageRead: true, LastMessageTimestamp: end.Add(-2 * time.Hour)},
	}
	h.person(u4, "Dee", Chats, 0)

	added, err := h.store.LoadMore(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	in := h.store.Inbox()
	c, _ := in.Chats.Get(u1)
	assert.Equal(t, "a", c.LastMessage, "existing entries win")
	assert.True(t, in.Chats.Contains(u4))
	assert.Equal(t, end.Add(-2*time.Hour), in.EndTimestamp)
}

func TestSkipGatedOnPersistence(t *testing.T) {
	h := newHarness(t, Options{})
	h.person(u1, "Ann", Chats, 0)
	h.store.ApplyReceived(context.Background(), u1, "hi")

	h.skipper.err = errors.New("503")
	require.Error(t, h.store.Skip(context.Background(), u1, "rude"))
	assert.True(t, h.store.Inbox().Chats.Contains(u1))

	h.skipper.err = nil
	require.NoError(t, h.store.Skip(context.Background(), u1, "rude"))
	in := h.store.Inbox()
	assert.False(t, in.Chats.Contains(u1))
	assert.True(t, in.Archive.Contains(u1))
	assert.Equal(t, []string{u1}, h.skipper.skipped)
}

func TestUnskipRefreshes(t *testing.T) {
	h := newHarness(t, Options{})
	refreshPage(h)

	require.NoError(t, h.store.Unskip(context.Background(), u2))

	assert.Equal(t, []string{u2}, h.skipper.unskip)
	assert.Len(t, h.querier.queries, 1)
	assert.True(t, h.store.Inbox().Intros.Contains(u2))
}

func TestSkipWithoutSkipper(t *testing.T) {
	s := New(Options{})
	assert.ErrorIs(t, s.Skip(context.Background(), u1, ""), ErrNoSkipper)
	assert.ErrorIs(t, s.Unskip(context.Background(), u1), ErrNoSkipper)
}

// Starting from an intro, reordering operations must never duplicate an
// identity and must land every conversation in the same partition.
func TestOperationOrderIndependence(t *testing.T) {
	type op struct {
		name string
		fn   func(h *harness)
	}
	ops := []op{
		{"sent u1", func(h *harness) { h.store.ApplySent(u1, "s1") }},
		{"recv u1", func(h *harness) { h.store.ApplyReceived(context.Background(), u1, "r1") }},
		{"recv u3", func(h *harness) { h.store.ApplyReceived(context.Background(), u3, "r3") }},
		{"sent u2", func(h *harness) { h.store.ApplySent(u2, "s2") }},
		{"seen u3", func(h *harness) { h.store.ApplyDisplayed(u3) }},
		{"recv u1 again", func(h *harness) { h.store.ApplyReceived(context.Background(), u1, "r1") }},
	}

	var permute func(prefix []int, rest []int, yield func([]int))
	permute = func(prefix, rest []int, yield func([]int)) {
		if len(rest) == 0 {
			yield(prefix)
			return
		}
		for i := range rest {
			next := append(append([]int(nil), rest[:i]...), rest[i+1:]...)
			permute(append(append([]int(nil), prefix...), rest[i]), next, yield)
		}
	}

	var want map[string]Location
	permute(nil, []int{0, 1, 2, 3, 4, 5}, func(order []int) {
		h := newHarness(t, Options{})
		h.person(u1, "Ann", Intros, 0)
		h.person(u3, "Cat", Intros, 0)
		h.store.ApplyReceived(context.Background(), u1, "seed")
		for _, i := range order {
			ops[i].fn(h)
		}
		in := h.store.Inbox()
		assertSingleMembership(t, in)

		got := map[string]Location{}
		for _, id := range []string{u1, u2, u3} {
			c, ok := in.Find(id)
			require.True(t, ok, "%s missing", id)
			got[id] = c.Location
		}
		if want == nil {
			want = got
			return
		}
		assert.Equal(t, want, got, "order %v", order)
	})
	assert.Equal(t, Chats, want[u1])
	assert.Equal(t, Nowhere, want[u2])
	assert.Equal(t, Intros, want[u3])
}

func TestPublishesEverySnapshot(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("inbox.", 10)
	defer unsub()
	h := newHarness(t, Options{Bus: b})

	h.store.ApplySent(u1, "one")
	first := <-ch
	h.store.ApplySent(u1, "two")
	second := <-ch

	assert.Equal(t, bus.KindInboxChanged, first.Kind)
	p1, p2 := first.Payload.(*Inbox), second.Payload.(*Inbox)
	assert.NotSame(t, p1, p2)
	c, _ := p1.Hidden.Get(u1)
	assert.Equal(t, "one", c.LastMessage, "published snapshots are immutable")
	last, ok := b.Last(bus.KindInboxChanged)
	require.True(t, ok)
	assert.Same(t, p2, last.Payload)
}

func TestPersistAndLoad(t *testing.T) {
	p := &memPersister{}
	h := newHarness(t, Options{Persister: p})
	h.person(u1, "Ann", Chats, 42)
	h.store.ApplyReceived(context.Background(), u1, "kept")
	h.store.ApplySent(u2, "hidden")
	require.Len(t, p.rows, 2)

	restored := New(Options{Persister: p})
	require.NoError(t, restored.Load())
	in := restored.Inbox()
	c, ok := in.Chats.Get(u1)
	require.True(t, ok)
	assert.Equal(t, "Ann", c.Name)
	assert.Equal(t, 42, c.MatchPercentage)
	assert.Equal(t, "kept", c.LastMessage)
	assert.True(t, in.Hidden.Contains(u2))

	restored.Reset()
	assert.Zero(t, restored.Inbox().Chats.Len())
	assert.Empty(t, p.rows)
}
