package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/session"
)

// Server serves the history API on the session's unix socket.
type Server struct {
	grpc       *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the socket. The session lock is already held here, so a
// socket left at the path belongs to a daemon that is gone.
func NewServer(p Params, logger *zap.Logger, history *api.HistoryService) (*Server, error) {
	path := p.SocketPath
	if path == "" {
		path = session.SocketPath(p.SessionName)
	}
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("restrict socket: %w", err)
	}

	logger = logger.Named("rpc")
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(recoverUnary(logger), logUnary(logger)),
		grpc.ChainStreamInterceptor(recoverStream(logger), logStream(logger)),
	)
	api.RegisterHistoryServer(srv, history)

	return &Server{grpc: srv, listener: ln, socketPath: path, logger: logger}, nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat socket: %w", err)
	case info.Mode()&fs.ModeSocket == 0:
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

func (s *Server) SocketPath() string { return s.socketPath }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("serving", zap.String("socket", s.socketPath))
	err := s.grpc.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop lets in-flight calls finish unless ctx ends first, in which case
// open streams are cut. The socket file is removed either way.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("stopping")
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
}

func logUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func logStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(logger *zap.Logger, method string, start time.Time, err error) {
	code := grpcstatus.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.Duration("took", time.Since(start)),
		zap.Stringer("code", code),
	}
	switch code {
	case codes.OK, codes.Canceled:
		logger.Debug("call", fields...)
	case codes.Internal, codes.Unknown:
		logger.Error("call failed", append(fields, zap.Error(err))...)
	default:
		logger.Info("call rejected", append(fields, zap.Error(err))...)
	}
}

// recoverUnary turns a handler panic into an Internal error so one bad
// request does not take the daemon down.
func recoverUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.Stack("stack"))
				err = grpcstatus.Errorf(codes.Internal, "internal error in %s", info.FullMethod)
			}
		}()
		return handler(ctx, req)
	}
}

func recoverStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("stream panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.Stack("stack"))
				err = grpcstatus.Errorf(codes.Internal, "internal error in %s", info.FullMethod)
			}
		}()
		return handler(srv, ss)
	}
}
