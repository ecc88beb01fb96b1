package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/logging"
	"github.com/frobware/go-one/monitor"
)

// Server implements the admin service over a Backend.
type Server struct {
	backend Backend
	logger  *slog.Logger
}

var _ service = (*Server)(nil)

// NewServer returns a server for backend.
func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	// op_id is attached to the request context by the interceptor.
	logger = logging.WithOpIDHandler(logger)
	return &Server{
		backend: backend,
		logger:  logger.With("component", "admin"),
	}
}

// Register adds the admin service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// Serve listens on the unix socket at socketPath and serves until ctx
// is cancelled, then stops gracefully. A stale socket file is replaced.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	defer lis.Close()
	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(s.loggingInterceptor()))
	s.Register(grpcServer)

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "admin server listening", "socket", socketPath)
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.logger.InfoContext(ctx, "shutting down admin server")
		grpcServer.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	}
}

// loggingInterceptor assigns an operation ID to each request and logs
// failures.
func (s *Server) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = logging.ContextWithOpID(ctx, logging.NewOpID())
		s.logger.DebugContext(ctx, "request", "method", info.FullMethod)
		resp, err := handler(ctx, req)
		if err != nil {
			s.logger.ErrorContext(ctx, "grpc error", "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}

func (s *Server) stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.backend.Stats()
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := statsToProto(st)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	return resp, nil
}

func (s *Server) subscribe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	spec, err := protoToSpec(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	qid, err := s.backend.Subscribe(ctx, spec)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.InfoContext(ctx, "subscribed", "qid", qid, "name", spec.Name)
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"qid": structpb.NewNumberValue(float64(qid)),
	}}, nil
}

func (s *Server) unsubscribe(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	qid, err := qidFromProto(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.backend.Unsubscribe(ctx, qid); err != nil {
		return nil, toStatus(err)
	}
	s.logger.InfoContext(ctx, "unsubscribed", "qid", qid)
	return &emptypb.Empty{}, nil
}

// toStatus maps a backend error to a gRPC status.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.As(err, new(one.ErrQueueNotFound)), errors.Is(err, unix.ENOENT):
		code = codes.NotFound
	case errors.As(err, new(one.ErrQueueBusy)), errors.Is(err, unix.EEXIST):
		code = codes.AlreadyExists
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENAMETOOLONG):
		code = codes.InvalidArgument
	case errors.Is(err, monitor.ErrNotRunning):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}
