package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/matchchat/internal/account"
	"github.com/matheus3301/matchchat/internal/session"
	"github.com/matheus3301/matchchat/internal/status"
	"github.com/matheus3301/matchchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionService reports daemon status and manages the signed in account.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	account     *account.Account
	db          *store.DB
}

// NewSessionService creates a new session service. account and db may be nil.
func NewSessionService(sessionName string, machine *status.Machine, acct *account.Account, db *store.DB) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		account:     acct,
		db:          db,
	}
}

func (s *SessionService) GetSessionStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	current := s.machine.Current()
	resp := map[string]any{
		"session":        s.sessionName,
		"state":          string(current),
		"state_since_ms": s.machine.Since().UnixMilli(),
		"uptime_ms":      time.Since(s.startedAt).Milliseconds(),
		"logged_in":      false,
		"online":         false,
	}

	if s.account != nil {
		resp["person_uuid"] = s.account.PersonUUID()
		resp["logged_in"] = s.account.LoggedIn()
		resp["online"] = s.account.Online()
	}

	if s.db != nil {
		if convs, err := s.db.ListConversations(); err == nil {
			resp["conversation_count"] = len(convs)
		}
		if n, err := s.db.MessageCount(); err == nil {
			resp["message_count"] = n
		}
		if pending, err := s.db.PendingOutbox(); err == nil {
			resp["outbox_pending"] = len(pending)
		}
	}

	return toStruct(resp)
}

func (s *SessionService) Login(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if s.account == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "account not initialized")
	}
	err := s.account.Login(account.Credentials{
		PersonUUID:   str(req, "person_uuid"),
		SessionToken: str(req, "session_token"),
	})
	if errors.Is(err, account.ErrInvalidCredentials) {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "login: %v", err)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "login: %v", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *SessionService) Logout(ctx context.Context, _ *structpb.Struct) (*emptypb.Empty, error) {
	if s.account == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "account not initialized")
	}
	s.account.Logout(ctx)
	return &emptypb.Empty{}, nil
}

func (s *SessionService) SetPushToken(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if s.account == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "account not initialized")
	}
	if err := s.account.SetPushToken(ctx, str(req, "token")); err != nil {
		return nil, callError("register push token", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *SessionService) ListSessions(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	names, err := session.List()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list sessions: %v", err)
	}
	out := make([]any, 0, len(names))
	for _, n := range names {
		out = append(out, n)
	}
	return toStruct(map[string]any{"sessions": out, "current": s.sessionName})
}
