package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/matheus3301/matchchat/internal/api"
	"github.com/matheus3301/matchchat/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server serves the local API on the session's unix socket.
type Server struct {
	grpc       *grpc.Server
	lis        net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the socket and registers every service. A socket file left
// behind by a crashed daemon is replaced; the session lock already proved
// nobody else serves it.
func NewServer(
	p Params,
	logger *zap.Logger,
	sessionSvc *api.SessionService,
	chatSvc *api.ChatService,
	messageSvc *api.MessageService,
	syncSvc *api.SyncService,
) (*Server, error) {
	path := p.SocketPath
	if path == "" {
		path = session.SocketPath(p.SessionName)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = lis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{lis: lis, socketPath: path, logger: logger}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.logUnary),
		grpc.ChainStreamInterceptor(s.logStream),
	)
	api.Register(s.grpc, sessionSvc, chatSvc, messageSvc, syncSvc)
	return s, nil
}

func (s *Server) SocketPath() string { return s.socketPath }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("socket", s.socketPath))
	err := s.grpc.Serve(s.lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop drains in-flight calls. Watch streams never finish on their own, so
// anything still open when ctx expires is cut.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("api shutdown deadline reached, closing streams")
		s.grpc.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered(info.FullMethod, r)
		}
		s.logCall(info.FullMethod, start, err)
	}()
	return handler(ctx, req)
}

func (s *Server) logStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered(info.FullMethod, r)
		}
		s.logCall(info.FullMethod, start, err)
	}()
	return handler(srv, ss)
}

// recovered turns a handler panic into an Internal error so one bad request
// cannot take the daemon down.
func (s *Server) recovered(method string, r any) error {
	s.logger.Error("api handler panicked", zap.String("method", method), zap.Any("panic", r), zap.Stack("stack"))
	return status.Errorf(codes.Internal, "internal error")
}

func (s *Server) logCall(method string, start time.Time, err error) {
	fields := []zap.Field{zap.String("method", method), zap.Duration("took", time.Since(start))}
	if err != nil {
		s.logger.Debug("api call failed", append(fields, zap.String("code", status.Code(err).String()), zap.Error(err))...)
		return
	}
	s.logger.Debug("api call", fields...)
}
