package wire

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"
)

const (
	nsClient      = "jabber:client"
	nsSASL        = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsArchive     = "urn:xmpp:mam:2"
	nsDataForm    = "jabber:x:data"
	nsResultSet   = "http://jabber.org/protocol/rsm"
	nsInbox       = "erlang-solutions.com:xmpp:inbox:0"
	nsChatMarkers = "urn:xmpp:chat-markers:0"
)

// HistoryPageSize is the number of archived messages requested per history page.
const HistoryPageSize = 50

type outboundMessage struct {
	XMLNS       string     `json:"@xmlns,omitempty"`
	Type        string     `json:"@type,omitempty"`
	From        string     `json:"@from"`
	To          string     `json:"@to"`
	ID          string     `json:"@id,omitempty"`
	Body        string     `json:"body,omitempty"`
	AudioBase64 string     `json:"@audioBase64,omitempty"`
	Displayed   *displayed `json:"displayed,omitempty"`
}

type displayed struct {
	XMLNS string `json:"@xmlns"`
	ID    string `json:"@id"`
}

type formField struct {
	Type  string `json:"@type,omitempty"`
	Var   string `json:"@var"`
	Value any    `json:"value"`
}

type textValue struct {
	Text string `json:"#text"`
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only fixed, marshalable shapes reach here.
		panic(err)
	}
	return b
}

func message(m outboundMessage) []byte {
	return mustMarshal(map[string]outboundMessage{"message": m})
}

// TextMessage builds a chat stanza carrying a text body.
func TextMessage(from, to, id, body string) []byte {
	return message(outboundMessage{XMLNS: nsClient, Type: "chat", From: from, To: to, ID: id, Body: body})
}

// AudioMessage builds a chat stanza carrying base64 encoded audio.
func AudioMessage(from, to, id, audioBase64 string) []byte {
	return message(outboundMessage{XMLNS: nsClient, Type: "chat", From: from, To: to, ID: id, AudioBase64: audioBase64})
}

// TypingMessage builds a typing indicator stanza.
func TypingMessage(from, to, id string) []byte {
	return message(outboundMessage{XMLNS: nsClient, Type: "typing", From: from, To: to, ID: id})
}

// DisplayedReceipt acknowledges that the message with the given id, sent by
// peer to self, has been shown.
func DisplayedReceipt(self, peer, id string) []byte {
	return message(outboundMessage{
		From:      self,
		To:        peer,
		Displayed: &displayed{XMLNS: nsChatMarkers, ID: id},
	})
}

// Auth builds a SASL PLAIN authentication stanza.
func Auth(username, password string) []byte {
	token := base64.StdEncoding.EncodeToString([]byte("\x00" + username + "\x00" + password))
	return mustMarshal(map[string]any{
		"auth": map[string]string{
			"@xmlns":     nsSASL,
			"@mechanism": "PLAIN",
			"#text":      token,
		},
	})
}

// HistoryQuery requests the newest archived messages exchanged with withJID,
// optionally older than the archived message id before.
func HistoryQuery(queryID, withJID, before string) []byte {
	return mustMarshal(map[string]any{
		"iq": map[string]any{
			"@type": "set",
			"@id":   queryID,
			"query": map[string]any{
				"@xmlns":   nsArchive,
				"@queryid": queryID,
				"x": map[string]any{
					"@xmlns": nsDataForm,
					"@type":  "submit",
					"field": []formField{
						{Var: "FORM_TYPE", Value: nsArchive},
						{Var: "with", Value: withJID},
					},
				},
				"set": map[string]string{
					"@xmlns": nsResultSet,
					"max":    strconv.Itoa(HistoryPageSize),
					"before": before,
				},
			},
		},
	})
}

// InboxQuery requests the conversation inbox. A zero end returns the newest
// page; pageSize <= 0 leaves the page size to the server.
func InboxQuery(queryID string, end time.Time, pageSize int) []byte {
	inbox := map[string]any{
		"@xmlns":   nsInbox,
		"@queryid": queryID,
	}
	if !end.IsZero() {
		inbox["x"] = map[string]any{
			"@xmlns": nsDataForm,
			"@type":  "form",
			"field": formField{
				Type:  "text-single",
				Var:   "end",
				Value: textValue{Text: end.UTC().Format("2006-01-02T15:04:05.000Z")},
			},
		}
	}
	if pageSize > 0 {
		inbox["set"] = map[string]any{
			"@xmlns": nsResultSet,
			"max":    map[string]int{"#text": pageSize},
		}
	}
	return mustMarshal(map[string]any{
		"iq": map[string]any{
			"@type": "set",
			"@id":   queryID,
			"inbox": inbox,
		},
	})
}

// SubscribeOnline asks the server to stream presence for a person.
func SubscribeOnline(personUUID string) []byte {
	return mustMarshal(map[string]any{"duo_subscribe_online": map[string]string{"@uuid": personUUID}})
}

// UnsubscribeOnline stops the presence stream for a person.
func UnsubscribeOnline(personUUID string) []byte {
	return mustMarshal(map[string]any{"duo_unsubscribe_online": map[string]string{"@uuid": personUUID}})
}

// RegisterPushToken registers a push token, or clears it when token is empty.
func RegisterPushToken(token string) []byte {
	if token == "" {
		return []byte(`{"duo_register_push_token":null}`)
	}
	return mustMarshal(map[string]any{"duo_register_push_token": map[string]string{"@token": token}})
}
