package outbox

import "github.com/matheus3301/matchchat/internal/wire"

// Status is the delivery state of one outbound message.
type Status string

const (
	Sending                         Status = "sending"
	Sent                            Status = "sent"
	Offensive                       Status = "offensive"
	RateLimited1Day                 Status = "rate-limited-1day"
	RateLimited1DayUnverifiedBasics Status = "rate-limited-1day-unverified-basics"
	RateLimited1DayUnverifiedPhotos Status = "rate-limited-1day-unverified-photos"
	VoiceIntro                      Status = "voice-intro"
	Spam                            Status = "spam"
	Blocked                         Status = "blocked"
	NotUnique                       Status = "not unique"
	TooLong                         Status = "too long"
	ServerError                     Status = "server-error"
	Timeout                         Status = "timeout"
)

// IsTerminal reports whether no further transition will happen.
func (s Status) IsTerminal() bool { return s != Sending && s != "" }

// IsRejection reports whether the server refused the message.
func (s Status) IsRejection() bool {
	return s.IsTerminal() && s != Sent && s != Timeout
}

// IsDuplicate reports whether the server refused the message as a repeat.
// The content has almost certainly arrived already, so callers usually
// stay quiet about it.
func (s Status) IsDuplicate() bool { return s == NotUnique }

// classify maps an ack frame to a status.
func classify(f wire.Frame) Status {
	switch f.Kind {
	case wire.KindDelivered:
		return Sent
	case wire.KindNotUnique:
		return NotUnique
	case wire.KindTooLong:
		return TooLong
	case wire.KindServerError:
		return ServerError
	case wire.KindBlocked:
		return classifyBlocked(f.Ack.Reason, f.Ack.Subreason)
	}
	return ""
}

func classifyBlocked(reason, subreason string) Status {
	switch reason {
	case "offensive":
		return Offensive
	case "voice-intro":
		return VoiceIntro
	case "spam":
		return Spam
	case "rate-limited-1day":
		switch subreason {
		case "":
			return RateLimited1Day
		case "unverified-basics":
			return RateLimited1DayUnverifiedBasics
		case "unverified-photos":
			return RateLimited1DayUnverifiedPhotos
		}
	}
	return Blocked
}
