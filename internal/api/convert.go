package api

import (
	"context"
	"errors"

	"github.com/matheus3301/matchchat/internal/bus"
	"github.com/matheus3301/matchchat/internal/chat"
	"github.com/matheus3301/matchchat/internal/correlator"
	"github.com/matheus3301/matchchat/internal/inbox"
	"github.com/matheus3301/matchchat/internal/outbox"
	"github.com/matheus3301/matchchat/internal/presence"
	"github.com/matheus3301/matchchat/internal/status"
	"github.com/matheus3301/matchchat/internal/store"
	intsync "github.com/matheus3301/matchchat/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request field accessors. Missing fields read as zero values.

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func num(req *structpb.Struct, key string) int64 {
	return int64(req.GetFields()[key].GetNumberValue())
}

func flag(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

func strs(req *structpb.Struct, key string) []string {
	var out []string
	for _, v := range req.GetFields()[key].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func required(req *structpb.Struct, key string) (string, error) {
	v := str(req, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

// callError maps a failed server exchange to a status code. Anything not
// recognised is treated as a transport problem.
func callError(op string, err error) error {
	code := codes.Unavailable
	switch {
	case errors.Is(err, chat.ErrSignedOut):
		code = codes.FailedPrecondition
	case errors.Is(err, correlator.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func list[T any](items []T, fn func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}

func conversationMap(c inbox.Conversation) map[string]any {
	return map[string]any{
		"person_uuid":        c.PersonUUID,
		"name":               c.Name,
		"match_percentage":   c.MatchPercentage,
		"image_uuid":         c.ImageUUID,
		"image_blurhash":     c.ImageBlurhash,
		"last_message":       c.LastMessage,
		"last_message_read":  c.LastMessageRead,
		"last_message_at_ms": c.LastMessageTimestamp.UnixMilli(),
		"is_available_user":  c.IsAvailableUser,
		"is_verified":        c.IsVerified,
		"location":           string(c.Location),
	}
}

func statsMap(s inbox.Stats) map[string]any {
	return map[string]any{
		"chats":                   s.Chats,
		"unread_chats":            s.UnreadChats,
		"intros":                  s.Intros,
		"unread_intros":           s.UnreadIntros,
		"archive":                 s.Archive,
		"unread_archive":          s.UnreadArchive,
		"chats_and_intros":        s.ChatsAndIntros,
		"unread_chats_and_intros": s.UnreadChatsAndIntros,
	}
}

func chatMessageMap(m chat.Message) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"mam_id":       m.MamID,
		"peer_uuid":    m.PeerUUID(),
		"from_me":      m.FromCurrentUser,
		"body":         m.Text,
		"audio_uuid":   m.AudioUUID,
		"timestamp_ms": m.Timestamp.UnixMilli(),
	}
}

func storedMessageMap(m store.Message) map[string]any {
	return map[string]any{
		"id":           m.MsgID,
		"mam_id":       m.MamID,
		"peer_uuid":    m.PeerUUID,
		"from_me":      m.FromMe,
		"body":         m.Body,
		"audio_uuid":   m.AudioUUID,
		"status":       m.Status,
		"timestamp_ms": m.Timestamp,
	}
}

// eventPayload flattens a bus payload into Struct-compatible values.
// Unknown payload types are sent without a payload.
func eventPayload(evt bus.Event) map[string]any {
	switch p := evt.Payload.(type) {
	case *inbox.Inbox:
		return map[string]any{"stats": statsMap(p.Stats())}
	case outbox.StatusChange:
		return map[string]any{
			"client_msg_id":  p.ClientMsgID,
			"recipient_uuid": p.RecipientUUID,
			"status":         string(p.Status),
		}
	case chat.Message:
		return chatMessageMap(p)
	case presence.Change:
		return map[string]any{"person_uuid": p.PersonUUID, "status": string(p.Status)}
	case status.StatusChange:
		return map[string]any{"from": string(p.From), "to": string(p.To)}
	case intsync.Typing:
		return map[string]any{"person_uuid": p.PersonUUID, "id": p.ID}
	case map[string]int:
		out := make(map[string]any, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	case bool:
		return map[string]any{"value": p}
	case string:
		return map[string]any{"value": p}
	default:
		return nil
	}
}
