// Package inbox holds the authoritative conversation list. It merges
// optimistic local writes, live chat events and bulk refreshes enriched by
// the REST API, and publishes an immutable Inbox on every change.
package inbox

import (
	"slices"
	"strings"
	"time"
)

// Location is the partition a conversation belongs to.
type Location string

const (
	Chats   Location = "chats"
	Intros  Location = "intros"
	Archive Location = "archive"
	// Nowhere conversations are kept but not shown until the peer replies.
	Nowhere Location = "nowhere"
)

// ParseLocation maps a server location to a Location. The server only
// knows the three visible partitions; anything else, "nowhere" included,
// falls back to Archive so a received message is never hidden.
func ParseLocation(s string) Location {
	switch l := Location(strings.ToLower(s)); l {
	case Chats, Intros, Archive:
		return l
	}
	return Archive
}

// Visible reports whether conversations in l are shown in the inbox.
func (l Location) Visible() bool { return l == Chats || l == Intros || l == Archive }

// Conversation is one inbox entry.
type Conversation struct {
	PersonUUID           string
	Name                 string
	MatchPercentage      int
	ImageUUID            string
	ImageBlurhash        string
	LastMessage          string
	LastMessageRead      bool
	LastMessageTimestamp time.Time
	IsAvailableUser      bool
	IsVerified           bool
	Location             Location
}

// Partition is an ordered, identity-indexed set of conversations, newest
// first. Its list and index always hold the same identities.
type Partition struct {
	list  []Conversation
	index map[string]int
}

func newPartition(convs []Conversation) Partition {
	slices.SortFunc(convs, byLatest)
	p := Partition{list: convs, index: make(map[string]int, len(convs))}
	for i, c := range convs {
		p.index[c.PersonUUID] = i
	}
	return p
}

// Len returns the number of conversations.
func (p Partition) Len() int { return len(p.list) }

// Get looks up a conversation by identity.
func (p Partition) Get(personUUID string) (Conversation, bool) {
	i, ok := p.index[personUUID]
	if !ok {
		return Conversation{}, false
	}
	return p.list[i], true
}

// Contains reports whether the identity is in the partition.
func (p Partition) Contains(personUUID string) bool {
	_, ok := p.index[personUUID]
	return ok
}

// Conversations returns a copy of the ordered list.
func (p Partition) Conversations() []Conversation {
	return slices.Clone(p.list)
}

// Unread counts conversations whose last message is unread.
func (p Partition) Unread() int {
	n := 0
	for _, c := range p.list {
		if !c.LastMessageRead {
			n++
		}
	}
	return n
}

// Inbox is one published snapshot. It is never mutated after publication,
// so observers can detect change by comparing pointers.
type Inbox struct {
	Chats   Partition
	Intros  Partition
	Archive Partition
	// Hidden holds conversations located nowhere.
	Hidden Partition
	// EndTimestamp is the oldest visible last-message time, the cursor for
	// loading older pages. Zero when the inbox is empty.
	EndTimestamp time.Time
}

// Empty returns an inbox with no conversations.
func Empty() *Inbox {
	return build(nil)
}

func build(convs map[string]Conversation) *Inbox {
	parts := map[Location][]Conversation{}
	var end time.Time
	for _, c := range convs {
		parts[c.Location] = append(parts[c.Location], c)
		if c.Location.Visible() && (end.IsZero() || c.LastMessageTimestamp.Before(end)) {
			end = c.LastMessageTimestamp
		}
	}
	return &Inbox{
		Chats:        newPartition(parts[Chats]),
		Intros:       newPartition(parts[Intros]),
		Archive:      newPartition(parts[Archive]),
		Hidden:       newPartition(parts[Nowhere]),
		EndTimestamp: end,
	}
}

// Partition returns the partition for a location.
func (in *Inbox) Partition(l Location) Partition {
	switch l {
	case Chats:
		return in.Chats
	case Intros:
		return in.Intros
	case Archive:
		return in.Archive
	}
	return in.Hidden
}

// Find locates a conversation in any partition, hidden included.
func (in *Inbox) Find(personUUID string) (Conversation, bool) {
	for _, l := range []Location{Chats, Intros, Archive, Nowhere} {
		if c, ok := in.Partition(l).Get(personUUID); ok {
			return c, true
		}
	}
	return Conversation{}, false
}

// Stats are conversation and unread counts per partition.
type Stats struct {
	Chats                int
	UnreadChats          int
	Intros               int
	UnreadIntros         int
	Archive              int
	UnreadArchive        int
	ChatsAndIntros       int
	UnreadChatsAndIntros int
}

// Stats computes the per-partition counts.
func (in *Inbox) Stats() Stats {
	s := Stats{
		Chats:         in.Chats.Len(),
		UnreadChats:   in.Chats.Unread(),
		Intros:        in.Intros.Len(),
		UnreadIntros:  in.Intros.Unread(),
		Archive:       in.Archive.Len(),
		UnreadArchive: in.Archive.Unread(),
	}
	s.ChatsAndIntros = s.Chats + s.Intros
	s.UnreadChatsAndIntros = s.UnreadChats + s.UnreadIntros
	return s
}

// Order selects how a section is sorted.
type Order int

const (
	SortLatest Order = iota
	SortMatch
)

// ParseOrder maps "match" to SortMatch and anything else to SortLatest.
func ParseOrder(s string) Order {
	if strings.EqualFold(s, "match") {
		return SortMatch
	}
	return SortLatest
}

// Section returns a location's conversations in the requested order.
func (in *Inbox) Section(l Location, order Order) []Conversation {
	convs := in.Partition(l).Conversations()
	if order == SortMatch {
		slices.SortStableFunc(convs, func(a, b Conversation) int {
			return b.MatchPercentage - a.MatchPercentage
		})
	}
	return convs
}

func byLatest(a, b Conversation) int {
	if c := b.LastMessageTimestamp.Compare(a.LastMessageTimestamp); c != 0 {
		return c
	}
	return strings.Compare(a.PersonUUID, b.PersonUUID)
}
