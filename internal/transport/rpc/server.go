package rpc

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/worker"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server serves worker handlers over the Invoke stream.
type Server struct {
	Server   *grpc.Server
	Listener net.Listener
	mux      *worker.Mux
	stopOnce sync.Once
}

// NewServer creates a gRPC server with the dealer service registered.
func NewServer(mux *worker.Mux, opts ...grpc.ServerOption) *Server {
	s := &Server{
		Server: grpc.NewServer(opts...),
		mux:    mux,
	}
	s.Server.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks serving lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.Listener = lis
	logrus.Infof("Dealer gRPC server listening on %s", lis.Addr())
	if err := s.Server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) GracefulStop() {
	s.stopOnce.Do(func() {
		s.Server.GracefulStop()
		logrus.Info("Dealer gRPC server stopped")
	})
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.Server.Stop()
		logrus.Info("Dealer gRPC server stopped")
	})
}

// Shutdown 优雅停止，超时后强制停止
func (s *Server) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logrus.Warn("grpc server graceful stop timed out, forcing stop")
		s.Server.Stop()
	}
}

func (s *Server) invoke(stream grpc.ServerStream) error {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	app, handle, policy, err := decodeMetadata(md)
	if err != nil {
		return err
	}

	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return status.Errorf(codes.InvalidArgument, "failed to read payload: %v", err)
	}

	logrus.Debugf("Invoke %s/%s (%d bytes)", app, handle, len(in.GetValue()))
	req := worker.Request{App: app, Handle: handle, Policy: policy, Payload: in.GetValue()}
	err = s.mux.Serve(ctx, req, func(chunk []byte) error {
		return stream.SendMsg(wrapperspb.Bytes(chunk))
	})
	if err != nil {
		logrus.Warnf("Invoke %s/%s failed: %v", app, handle, err)
		return toStatus(err)
	}
	return nil
}

func asClientError(err error) *dealer.ClientError {
	var ce *dealer.ClientError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
