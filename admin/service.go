// Package admin exposes a running monitor over a local gRPC socket.
//
// The service has no generated stubs. Requests and responses are
// protobuf well-known types (Empty and Struct) and the service is
// registered through a hand-written grpc.ServiceDesc.
package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/monitor"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "one.admin.v1.Admin"

const (
	methodStats       = "/" + ServiceName + "/Stats"
	methodSubscribe   = "/" + ServiceName + "/Subscribe"
	methodUnsubscribe = "/" + ServiceName + "/Unsubscribe"
)

// Backend is what the service exposes. *monitor.Monitor implements it.
type Backend interface {
	Stats() (monitor.Stats, error)
	Subscribe(ctx context.Context, spec monitor.QueueSpec) (one.QID, error)
	Unsubscribe(ctx context.Context, qid one.QID) error
}

var _ Backend = (*monitor.Monitor)(nil)

// service is the handler type named in serviceDesc.
type service interface {
	stats(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	subscribe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	unsubscribe(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: unary(methodStats, service.stats)},
		{MethodName: "Subscribe", Handler: unary(methodSubscribe, service.subscribe)},
		{MethodName: "Unsubscribe", Handler: unary(methodUnsubscribe, service.unsubscribe)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "one/admin/v1/admin.proto",
}

// unary adapts a typed method to grpc.MethodHandler, the shape
// protoc-gen-go-grpc emits for each unary method.
func unary[Req, Resp any](fullMethod string, call func(service, context.Context, *Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(service), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(service), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
