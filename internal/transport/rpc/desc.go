package rpc

import (
	"strconv"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	serviceName  = "cocaine.dealer.v1.Dealer"
	invokeMethod = "/" + serviceName + "/Invoke"
)

// 路由与策略通过请求元数据传递，消息体为 wrapperspb.BytesValue
const (
	mdApp        = "x-cocaine-app"
	mdHandle     = "x-cocaine-handle"
	mdUrgent     = "x-cocaine-urgent"
	mdDeadline   = "x-cocaine-deadline"
	mdTimeout    = "x-cocaine-timeout"
	mdMaxRetries = "x-cocaine-max-retries"
)

// invoker 由 Server 实现
type invoker interface {
	invoke(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*invoker)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Invoke",
			Handler:       invokeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "cocaine/dealer/v1/dealer.proto",
}

func invokeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(invoker).invoke(stream)
}

func encodeMetadata(app, handle string, policy dealer.Policy) metadata.MD {
	return metadata.Pairs(
		mdApp, app,
		mdHandle, handle,
		mdUrgent, strconv.FormatBool(policy.Urgent),
		mdDeadline, strconv.FormatFloat(policy.Deadline.Seconds(), 'f', -1, 64),
		mdTimeout, strconv.FormatFloat(policy.Timeout.Seconds(), 'f', -1, 64),
		mdMaxRetries, strconv.Itoa(policy.MaxRetries),
	)
}

func decodeMetadata(md metadata.MD) (app, handle string, policy dealer.Policy, err error) {
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	app, handle = first(mdApp), first(mdHandle)
	if app == "" || handle == "" {
		return "", "", policy, status.Error(codes.InvalidArgument, "app and handle metadata are required")
	}

	if v := first(mdUrgent); v != "" {
		if policy.Urgent, err = strconv.ParseBool(v); err != nil {
			return "", "", policy, status.Errorf(codes.InvalidArgument, "bad %s: %v", mdUrgent, err)
		}
	}
	if policy.Deadline, err = parseSeconds(first(mdDeadline)); err != nil {
		return "", "", policy, status.Errorf(codes.InvalidArgument, "bad %s: %v", mdDeadline, err)
	}
	if policy.Timeout, err = parseSeconds(first(mdTimeout)); err != nil {
		return "", "", policy, status.Errorf(codes.InvalidArgument, "bad %s: %v", mdTimeout, err)
	}
	if v := first(mdMaxRetries); v != "" {
		if policy.MaxRetries, err = strconv.Atoi(v); err != nil {
			return "", "", policy, status.Errorf(codes.InvalidArgument, "bad %s: %v", mdMaxRetries, err)
		}
	}
	return app, handle, policy, nil
}

func parseSeconds(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// toStatus 将应用错误映射为 gRPC 状态
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if st := status.FromContextError(err); st.Code() != codes.Unknown {
		return st.Err()
	}
	code := codes.Internal
	if ce := asClientError(err); ce != nil {
		switch ce.Code {
		case dealer.CodeRequest:
			code = codes.InvalidArgument
		case dealer.CodeLocation:
			code = codes.NotFound
		}
	}
	return status.Error(code, err.Error())
}

// fromStatus 将 gRPC 状态映射回带类别的客户端错误
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return &dealer.ClientError{Code: dealer.CodeRequest, Message: st.Message()}
	case codes.NotFound, codes.Unimplemented:
		return &dealer.ClientError{Code: dealer.CodeLocation, Message: st.Message()}
	default:
		return &dealer.ClientError{Code: dealer.CodeInternal, Message: st.Code().String() + ": " + st.Message()}
	}
}
