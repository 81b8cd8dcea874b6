package wire

import (
	"encoding/json"
	"time"
)

// Kind identifies the variant carried by an inbound frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindChat
	KindTyping
	KindArchived
	KindQueryFin
	KindDelivered
	KindBlocked
	KindNotUnique
	KindTooLong
	KindServerError
	KindPresence
	KindPushRegistered
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindChat:           "chat",
	KindTyping:         "typing",
	KindArchived:       "archived",
	KindQueryFin:       "query_fin",
	KindDelivered:      "delivered",
	KindBlocked:        "blocked",
	KindNotUnique:      "not_unique",
	KindTooLong:        "too_long",
	KindServerError:    "server_error",
	KindPresence:       "presence",
	KindPushRegistered: "push_registered",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsAck reports whether the frame kind is a response to a submitted message.
func (k Kind) IsAck() bool {
	switch k {
	case KindDelivered, KindBlocked, KindNotUnique, KindTooLong, KindServerError:
		return true
	}
	return false
}

// Chat is a live chat or typing stanza.
type Chat struct {
	ID        string
	From      string
	To        string
	Body      string
	AudioUUID string
}

// IsAudio reports whether the message carries an audio attachment.
func (c *Chat) IsAudio() bool { return c.AudioUUID != "" }

// Archived is one streamed result of a history or inbox query.
type Archived struct {
	QueryID  string
	ResultID string
	Unread   bool
	Stamp    time.Time
	Message  Chat
}

// Ack is a server verdict on a submitted message.
type Ack struct {
	ID        string
	AudioUUID string
	Reason    string
	Subreason string
}

// Fin terminates a streamed query.
type Fin struct {
	ID string
}

// Presence is an online status update for one person.
type Presence struct {
	UUID   string
	Status string
}

// Frame is a decoded inbound envelope. Exactly one of the variant pointers is
// set, according to Kind. Unknown frames carry only Raw.
type Frame struct {
	Kind     Kind
	Chat     *Chat
	Archived *Archived
	Ack      *Ack
	Fin      *Fin
	Presence *Presence
	Raw      []byte
}

type inboundMessage struct {
	Type      string         `json:"@type"`
	ID        string         `json:"@id"`
	From      string         `json:"@from"`
	To        string         `json:"@to"`
	AudioUUID string         `json:"@audioUuid"`
	Body      string         `json:"body"`
	Result    *inboundResult `json:"result"`
}

type inboundResult struct {
	QueryID   string `json:"@queryid"`
	ID        string `json:"@id"`
	Unread    string `json:"@unread"`
	Forwarded struct {
		Delay struct {
			Stamp string `json:"@stamp"`
		} `json:"delay"`
		Message inboundMessage `json:"message"`
	} `json:"forwarded"`
}

type inboundAck struct {
	ID        string `json:"@id"`
	AudioUUID string `json:"@audioUuid"`
	Reason    string `json:"@reason"`
	Subreason string `json:"@subreason"`
}

type inboundPresence struct {
	UUID   string `json:"@uuid"`
	Status string `json:"@status"`
}

var ackKinds = map[string]Kind{
	"duo_message_delivered":  KindDelivered,
	"duo_message_blocked":    KindBlocked,
	"duo_message_not_unique": KindNotUnique,
	"duo_message_too_long":   KindTooLong,
	"duo_server_error":       KindServerError,
}

// Decode parses one inbound envelope. It never fails: anything that does not
// match a known shape is returned as KindUnknown.
func Decode(raw []byte) Frame {
	unknown := Frame{Kind: KindUnknown, Raw: raw}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return unknown
	}

	if body, ok := top["message"]; ok {
		return decodeMessage(body, raw)
	}
	if body, ok := top["iq"]; ok {
		return decodeIQ(body, raw)
	}
	for key, kind := range ackKinds {
		body, ok := top[key]
		if !ok {
			continue
		}
		var a inboundAck
		if !isNull(body) {
			if err := json.Unmarshal(body, &a); err != nil {
				return unknown
			}
		}
		return Frame{Kind: kind, Ack: &Ack{ID: a.ID, AudioUUID: a.AudioUUID, Reason: a.Reason, Subreason: a.Subreason}, Raw: raw}
	}
	if body, ok := top["duo_online_event"]; ok {
		var p inboundPresence
		if err := json.Unmarshal(body, &p); err != nil || p.UUID == "" {
			return unknown
		}
		return Frame{Kind: KindPresence, Presence: &Presence{UUID: p.UUID, Status: p.Status}, Raw: raw}
	}
	if _, ok := top["duo_registration_successful"]; ok {
		return Frame{Kind: KindPushRegistered, Raw: raw}
	}
	return unknown
}

func decodeMessage(body, raw []byte) Frame {
	unknown := Frame{Kind: KindUnknown, Raw: raw}

	var m inboundMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return unknown
	}

	if m.Result != nil {
		r := m.Result
		fwd := r.Forwarded.Message
		stamp, _ := time.Parse(time.RFC3339Nano, r.Forwarded.Delay.Stamp)
		return Frame{
			Kind: KindArchived,
			Archived: &Archived{
				QueryID:  r.QueryID,
				ResultID: r.ID,
				Unread:   r.Unread != "" && r.Unread != "0",
				Stamp:    stamp,
				Message: Chat{
					ID:        fwd.ID,
					From:      fwd.From,
					To:        fwd.To,
					Body:      fwd.Body,
					AudioUUID: fwd.AudioUUID,
				},
			},
			Raw: raw,
		}
	}

	c := &Chat{ID: m.ID, From: m.From, To: m.To, Body: m.Body, AudioUUID: m.AudioUUID}
	switch {
	case m.Type == "chat" && (m.AudioUUID != "" || m.Body != ""):
		return Frame{Kind: KindChat, Chat: c, Raw: raw}
	case m.Type == "typing":
		return Frame{Kind: KindTyping, Chat: c, Raw: raw}
	}
	return unknown
}

func decodeIQ(body, raw []byte) Frame {
	unknown := Frame{Kind: KindUnknown, Raw: raw}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return unknown
	}
	if _, ok := fields["fin"]; !ok {
		return unknown
	}
	var typ, id string
	if err := unmarshalString(fields["@type"], &typ); err != nil || typ != "result" {
		return unknown
	}
	if err := unmarshalString(fields["@id"], &id); err != nil || id == "" {
		return unknown
	}
	return Frame{Kind: KindQueryFin, Fin: &Fin{ID: id}, Raw: raw}
}

func unmarshalString(raw json.RawMessage, dst *string) error {
	if raw == nil {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
