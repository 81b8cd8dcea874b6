package api

import (
	"context"
	"errors"

	"github.com/matheus3301/matchchat/internal/account"
	"github.com/matheus3301/matchchat/internal/inbox"
	"github.com/matheus3301/matchchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatService serves the inbox, skip decisions and drafts.
type ChatService struct {
	inbox   *inbox.Store
	db      *store.DB
	account *account.Account
}

// NewChatService creates a new chat service backed by the inbox store.
func NewChatService(in *inbox.Store, db *store.DB, acct *account.Account) *ChatService {
	return &ChatService{inbox: in, db: db, account: acct}
}

// ListInbox returns one section of the inbox. An empty section means chats.
func (s *ChatService) ListInbox(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	section := inbox.Chats
	if v := str(req, "section"); v != "" {
		section = inbox.ParseLocation(v)
	}
	in := s.inbox.Inbox()
	convs := in.Section(section, inbox.ParseOrder(str(req, "order")))
	if limit := int(num(req, "limit")); limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return toStruct(map[string]any{
		"section":       string(section),
		"conversations": list(convs, conversationMap),
		"stats":         statsMap(in.Stats()),
		"end_ms":        in.EndTimestamp.UnixMilli(),
	})
}

func (s *ChatService) GetConversation(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "person_uuid")
	if err != nil {
		return nil, err
	}
	c, ok := s.inbox.Inbox().Find(id)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", id)
	}
	return toStruct(map[string]any{"conversation": conversationMap(c)})
}

func (s *ChatService) Skip(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, err := required(req, "person_uuid")
	if err != nil {
		return nil, err
	}
	if err := s.inbox.Skip(ctx, id, str(req, "report_reason")); err != nil {
		return nil, skipError("skip", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ChatService) Unskip(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, err := required(req, "person_uuid")
	if err != nil {
		return nil, err
	}
	if err := s.inbox.Unskip(ctx, id); err != nil {
		return nil, skipError("unskip", err)
	}
	return &emptypb.Empty{}, nil
}

func skipError(op string, err error) error {
	if errors.Is(err, inbox.ErrNoSkipper) {
		return grpcstatus.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	}
	return callError(op, err)
}

// SaveDraft stores composer text for a conversation; an empty body clears it.
func (s *ChatService) SaveDraft(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	self, peer, err := s.draftKey(req)
	if err != nil {
		return nil, err
	}
	if err := s.db.SaveDraft(self, peer, str(req, "body")); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "save draft: %v", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ChatService) GetDraft(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	self, peer, err := s.draftKey(req)
	if err != nil {
		return nil, err
	}
	body, err := s.db.GetDraft(self, peer)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get draft: %v", err)
	}
	return toStruct(map[string]any{"person_uuid": peer, "body": body})
}

func (s *ChatService) draftKey(req *structpb.Struct) (self, peer string, err error) {
	peer, err = required(req, "person_uuid")
	if err != nil {
		return "", "", err
	}
	if s.db == nil {
		return "", "", grpcstatus.Errorf(codes.Unavailable, "store not initialized")
	}
	if s.account != nil {
		self = s.account.PersonUUID()
	}
	if self == "" {
		return "", "", grpcstatus.Errorf(codes.FailedPrecondition, "not logged in")
	}
	return self, peer, nil
}
