package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cocaine/cocaine-framework-go/internal/config"
	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/transport/mailbox"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Backend sends requests over gRPC, rotating across the configured endpoints.
type Backend struct {
	conns []*grpc.ClientConn
	next  atomic.Uint64
	limit int
}

// NewBackend creates one client connection per endpoint.
func NewBackend(endpoints []string, cfg config.GRPCConfig, opts ...grpc.DialOption) (*Backend, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no grpc endpoints")
	}
	maxSize := cfg.MaxMessageSizeMB << 20
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxSize), grpc.MaxCallSendMsgSize(maxSize)),
	}
	dialOpts = append(dialOpts, opts...)

	b := &Backend{limit: cfg.MailboxLimit}
	for _, ep := range endpoints {
		conn, err := grpc.NewClient(ep, dialOpts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create grpc client for %s: %w", ep, err)
		}
		b.conns = append(b.conns, conn)
	}
	logrus.Infof("gRPC dealer configured for %v", endpoints)
	return b, nil
}

func (b *Backend) pick() *grpc.ClientConn {
	n := b.next.Add(1) - 1
	return b.conns[n%uint64(len(b.conns))]
}

// Send opens an Invoke stream and returns a channel fed by a receive pump.
// The stream outlives ctx.
func (b *Backend) Send(ctx context.Context, app, handle string, payload []byte, policy dealer.Policy) (dealer.ChannelHandle, error) {
	var (
		streamCtx context.Context
		cancel    context.CancelFunc
	)
	if policy.Timeout > 0 {
		streamCtx, cancel = context.WithTimeout(context.Background(), policy.Timeout)
	} else {
		streamCtx, cancel = context.WithCancel(context.Background())
	}
	streamCtx = metadata.NewOutgoingContext(streamCtx, encodeMetadata(app, handle, policy))

	// ctx 只约束建立阶段
	stop := context.AfterFunc(ctx, cancel)
	stream, err := b.open(streamCtx, payload)
	if !stop() {
		cancel()
		return nil, fmt.Errorf("send to %s/%s: %w", app, handle, ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	mb := mailbox.New(b.limit, cancel)
	go pump(stream, mb, cancel)
	return mb, nil
}

func (b *Backend) open(ctx context.Context, payload []byte) (grpc.ClientStream, error) {
	stream, err := b.pick().NewStream(ctx, &serviceDesc.Streams[0], invokeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.Bytes(payload)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}

func pump(stream grpc.ClientStream, mb *mailbox.Mailbox, cancel context.CancelFunc) {
	defer cancel()
	for {
		msg := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			mb.Close()
			return
		}
		if err != nil {
			mb.Fail(fromStatus(err))
			return
		}
		mb.Push(msg.GetValue())
	}
}

// Close closes every client connection.
func (b *Backend) Close() error {
	var errs []error
	for _, conn := range b.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
