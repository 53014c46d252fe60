package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "healthreport.v1.ReportParser"

const (
	ParseMethod      = "/" + ServiceName + "/Parse"
	ParseBatchMethod = "/" + ServiceName + "/ParseBatch"
	GetRunMethod     = "/" + ServiceName + "/GetRun"
)

// ReportParserServer is the server API. Payloads are google.protobuf.Struct
// so clients need no generated stubs.
type ReportParserServer interface {
	Parse(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ParseBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterReportParserServer(s grpc.ServiceRegistrar, srv ReportParserServer) {
	s.RegisterService(&ReportParserServiceDesc, srv)
}

func unaryHandler(method string, call func(ReportParserServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReportParserServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReportParserServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ReportParserServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReportParserServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Parse", Handler: unaryHandler(ParseMethod, ReportParserServer.Parse)},
		{MethodName: "ParseBatch", Handler: unaryHandler(ParseBatchMethod, ReportParserServer.ParseBatch)},
		{MethodName: "GetRun", Handler: unaryHandler(GetRunMethod, ReportParserServer.GetRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "healthreport/v1/report_parser.proto",
}

// ReportParserClient calls the service over any connection.
type ReportParserClient struct {
	cc grpc.ClientConnInterface
}

func NewReportParserClient(cc grpc.ClientConnInterface) *ReportParserClient {
	return &ReportParserClient{cc: cc}
}

func (c *ReportParserClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ReportParserClient) Parse(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ParseMethod, in, opts...)
}

func (c *ReportParserClient) ParseBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ParseBatchMethod, in, opts...)
}

func (c *ReportParserClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetRunMethod, in, opts...)
}
