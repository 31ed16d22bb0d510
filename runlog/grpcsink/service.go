package grpcsink

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName  = "agentrun.runlog.v1.RunLogSink"
	methodAppend = "Append"
	methodList   = "List"
)

// Sink is the server-side contract exposed over gRPC: a remote run log
// collector that accepts Append/List calls forwarded from agentloop
// workflows running in a different process than the one holding the
// canonical Store.
type Sink interface {
	Append(ctx context.Context, req *AppendRequest) (*AppendResponse, error)
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)
}

// RegisterSinkServer registers srv's methods on s, mirroring the pattern
// protoc-gen-go-grpc would generate for a RunLogSink service definition.
func RegisterSinkServer(s grpc.ServiceRegistrar, srv Sink) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Sink)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodAppend,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(AppendRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Sink).Append(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodAppend)}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(Sink).Append(ctx, req.(*AppendRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: methodList,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(ListRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Sink).List(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodList)}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(Sink).List(ctx, req.(*ListRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "runlog/grpcsink/service.go",
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}
