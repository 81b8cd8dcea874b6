package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/matheus3301/matchchat/internal/chat"
	"github.com/matheus3301/matchchat/internal/outbox"
	"github.com/matheus3301/matchchat/internal/store"
	intsync "github.com/matheus3301/matchchat/internal/sync"
	"github.com/matheus3301/matchchat/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultPageLimit = 50

// MessageService fetches history, searches stored messages and sends.
type MessageService struct {
	chat    *chat.Client
	sender  *outbox.Sender
	engine  *intsync.Engine
	db      *store.DB
	sendOpt outbox.SendOptions
	logger  *zap.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(c *chat.Client, sender *outbox.Sender, engine *intsync.Engine, db *store.DB, opts outbox.SendOptions, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{chat: c, sender: sender, engine: engine, db: db, sendOpt: opts, logger: logger}
}

// FetchHistory loads one page of a conversation from the server, stores it
// and marks its newest received message displayed.
func (s *MessageService) FetchHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	peer, err := personArg(req)
	if err != nil {
		return nil, err
	}
	if s.chat == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "chat client not initialized")
	}
	msgs, err := s.chat.FetchConversation(ctx, peer, str(req, "before"))
	if err != nil {
		return nil, callError("fetch history", err)
	}
	if s.engine != nil {
		if err := s.engine.IngestHistoryBatch(msgs); err != nil {
			s.logger.Warn("failed to store history page", zap.Error(err))
		}
	}
	return toStruct(map[string]any{
		"messages": list(msgs, chatMessageMap),
		"has_more": len(msgs) == wire.HistoryPageSize,
	})
}

func (s *MessageService) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	peer, err := personArg(req)
	if err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "store not initialized")
	}
	limit := pageLimit(req)
	msgs, err := s.db.ListMessages(peer, num(req, "before_ms"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return toStruct(map[string]any{
		"messages": list(msgs, storedMessageMap),
		"has_more": len(msgs) == limit,
	})
}

func (s *MessageService) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query, err := required(req, "query")
	if err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "store not initialized")
	}
	limit := pageLimit(req)
	results, err := s.db.SearchMessages(query, str(req, "person_uuid"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return toStruct(map[string]any{
		"results": list(results, func(r store.SearchResult) map[string]any {
			return map[string]any{"message": storedMessageMap(r.Message), "snippet": r.Snippet}
		}),
		"has_more": len(results) == limit,
	})
}

// SendText delivers a text message. With "queue" set it is stored for the
// outbox drain and the call returns at once with status "queued"; otherwise
// the call waits for the delivery verdict.
func (s *MessageService) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	peer, err := personArg(req)
	if err != nil {
		return nil, err
	}
	text, err := required(req, "text")
	if err != nil {
		return nil, err
	}
	if s.sender == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "sender not initialized")
	}

	if flag(req, "queue") {
		id, err := s.sender.Queue(peer, outbox.Text(text))
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "queue outbox: %v", err)
		}
		return toStruct(map[string]any{"client_msg_id": id, "status": "queued"})
	}

	id := str(req, "client_msg_id")
	if id == "" {
		id = uuid.NewString()
	}
	out := s.sender.Send(ctx, peer, outbox.Text(text), id, s.sendOpt)
	resp := map[string]any{
		"client_msg_id": id,
		"status":        string(out.Status),
		"rejected":      out.Status.IsRejection(),
		"duplicate":     out.Status.IsDuplicate(),
	}
	if out.Message != nil {
		resp["message"] = chatMessageMap(*out.Message)
	}
	return toStruct(resp)
}

func (s *MessageService) SendTyping(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	peer, err := personArg(req)
	if err != nil {
		return nil, err
	}
	if s.sender == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "sender not initialized")
	}
	s.sender.Send(ctx, peer, outbox.Typing(), uuid.NewString(), s.sendOpt)
	return &emptypb.Empty{}, nil
}

func (s *MessageService) GetMessageStatus(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "client_msg_id")
	if err != nil {
		return nil, err
	}
	if s.sender != nil {
		if st, ok := s.sender.Status(id); ok {
			return toStruct(map[string]any{"client_msg_id": id, "status": string(st)})
		}
	}
	if s.db != nil {
		e, err := s.db.GetOutbox(id)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "get outbox: %v", err)
		}
		if e != nil {
			return toStruct(map[string]any{"client_msg_id": id, "status": e.Status, "attempts": e.Attempts})
		}
	}
	return nil, grpcstatus.Errorf(codes.NotFound, "message %q not found", id)
}

func personArg(req *structpb.Struct) (string, error) {
	id, err := required(req, "person_uuid")
	if err != nil {
		return "", err
	}
	if !wire.IsPersonUUID(id) {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "person_uuid %q is not a uuid", id)
	}
	return id, nil
}

func pageLimit(req *structpb.Struct) int {
	if l := int(num(req, "limit")); l > 0 {
		return l
	}
	return defaultPageLimit
}
