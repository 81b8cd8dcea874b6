// Package api exposes the daemon over gRPC. Requests and responses are
// google.protobuf.Struct values, so the services are described by hand
// instead of from generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service names.
const (
	SessionServiceName = "matchchat.v1.SessionService"
	ChatServiceName    = "matchchat.v1.ChatService"
	MessageServiceName = "matchchat.v1.MessageService"
	SyncServiceName    = "matchchat.v1.SyncService"
)

const metadata = "matchchat/v1/matchchat.proto"

// SessionServer is implemented by SessionService.
type SessionServer interface {
	GetSessionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Logout(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetPushToken(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ChatServer is implemented by ChatService.
type ChatServer interface {
	ListInbox(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Skip(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Unskip(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SaveDraft(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetDraft(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// MessageServer is implemented by MessageService.
type MessageServer interface {
	FetchHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendTyping(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetMessageStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// SyncServer is implemented by SyncService.
type SyncServer interface {
	GetSyncStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshInbox(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadMoreInbox(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPresence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// unary adapts a method expression such as SessionServer.GetSessionStatus to a
// grpc.MethodDesc.
func unary[S any, R proto.Message](service, name string, fn func(S, context.Context, *structpb.Struct) (R, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*structpb.Struct))
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + service + "/" + name}
			return interceptor(ctx, in, info, call)
		},
	}
}

// serverStream adapts a server streaming method that takes one request.
func serverStream[S any](name string, fn func(S, *structpb.Struct, grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return fn(srv.(S), in, stream)
		},
	}
}

// SessionServiceDesc describes SessionService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetSessionStatus", SessionServer.GetSessionStatus),
		unary(SessionServiceName, "Login", SessionServer.Login),
		unary(SessionServiceName, "Logout", SessionServer.Logout),
		unary(SessionServiceName, "SetPushToken", SessionServer.SetPushToken),
		unary(SessionServiceName, "ListSessions", SessionServer.ListSessions),
	},
	Metadata: metadata,
}

// ChatServiceDesc describes ChatService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "ListInbox", ChatServer.ListInbox),
		unary(ChatServiceName, "GetConversation", ChatServer.GetConversation),
		unary(ChatServiceName, "Skip", ChatServer.Skip),
		unary(ChatServiceName, "Unskip", ChatServer.Unskip),
		unary(ChatServiceName, "SaveDraft", ChatServer.SaveDraft),
		unary(ChatServiceName, "GetDraft", ChatServer.GetDraft),
	},
	Metadata: metadata,
}

// MessageServiceDesc describes MessageService.
var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "FetchHistory", MessageServer.FetchHistory),
		unary(MessageServiceName, "ListMessages", MessageServer.ListMessages),
		unary(MessageServiceName, "SearchMessages", MessageServer.SearchMessages),
		unary(MessageServiceName, "SendText", MessageServer.SendText),
		unary(MessageServiceName, "SendTyping", MessageServer.SendTyping),
		unary(MessageServiceName, "GetMessageStatus", MessageServer.GetMessageStatus),
	},
	Metadata: metadata,
}

// SyncServiceDesc describes SyncService.
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SyncServiceName, "GetSyncStatus", SyncServer.GetSyncStatus),
		unary(SyncServiceName, "RefreshInbox", SyncServer.RefreshInbox),
		unary(SyncServiceName, "LoadMoreInbox", SyncServer.LoadMoreInbox),
		unary(SyncServiceName, "GetPresence", SyncServer.GetPresence),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchEvents", SyncServer.WatchEvents),
	},
	Metadata: metadata,
}

// Register attaches every service to srv. Nil services are skipped.
func Register(srv grpc.ServiceRegistrar, session SessionServer, chat ChatServer, message MessageServer, sync SyncServer) {
	if session != nil {
		srv.RegisterService(&SessionServiceDesc, session)
	}
	if chat != nil {
		srv.RegisterService(&ChatServiceDesc, chat)
	}
	if message != nil {
		srv.RegisterService(&MessageServiceDesc, message)
	}
	if sync != nil {
		srv.RegisterService(&SyncServiceDesc, sync)
	}
}
