package store

// Conversation is the persisted snapshot of one inbox entry.
type Conversation struct {
	PersonUUID           string
	Name                 string
	MatchPercentage      int
	ImageUUID            string
	ImageBlurhash        string
	LastMessage          string
	LastMessageRead      bool
	LastMessageTimestamp int64
	IsAvailableUser      bool
	IsVerified           bool
	Location             string
}

// Message represents a chat message exchanged with a peer.
type Message struct {
	ID        int64
	PeerUUID  string
	MsgID     string
	MamID     string
	FromMe    bool
	Body      string
	AudioUUID string
	Status    string
	Timestamp int64
}

// OutboxEntry represents a queued outgoing message.
type OutboxEntry struct {
	ID            int64
	ClientMsgID   string
	RecipientUUID string
	Kind          string
	Body          string
	Status        string // queued, sending, or a final delivery status
	Attempts      int
	AudioUUID     string
	CreatedAt     int64
}

// Draft is unsent composer text for one conversation.
type Draft struct {
	SenderUUID    string
	RecipientUUID string
	Body          string
	UpdatedAt     int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
