package bus

import "time"

// Event is a signal published on the bus. Kind is dot-namespaced, for example
// "inbox.changed" or "presence.<uuid>".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Well-known event kinds.
const (
	KindConnOpened       = "conn.opened"
	KindConnClosed       = "conn.closed"
	KindConnState        = "conn.state_changed"
	KindChatOnline       = "chat.online"
	KindInboxChanged     = "inbox.changed"
	KindMessageStatus    = "message.status"
	KindMessageReceived  = "message.received"
	KindTyping           = "message.typing"
	KindPresencePrefix   = "presence."
	KindPushRegistration = "push.registration"
)
