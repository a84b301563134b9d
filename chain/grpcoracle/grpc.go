// Package grpcoracle exposes a chain.ConfirmationOracle over gRPC.
//
// The service uses protobuf well-known wrapper types so this package does
// not require a protoc/codegen toolchain. A txid goes over the wire as a
// StringValue and the status comes back as a StringValue in the compact
// text form produced by EncodeStatus.
package grpcoracle

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// OracleServer is the server API for the Oracle gRPC service.
type OracleServer interface {
	Confirmation(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// UnimplementedOracleServer can be embedded to have forward compatible implementations.
type UnimplementedOracleServer struct{}

func (UnimplementedOracleServer) Confirmation(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Confirmation not implemented")
}

// RegisterOracleServer registers the Oracle service on a gRPC server.
func RegisterOracleServer(s grpc.ServiceRegistrar, srv OracleServer) {
	s.RegisterService(&Oracle_ServiceDesc, srv)
}

// OracleClient is the client API for the Oracle gRPC service.
type OracleClient interface {
	Confirmation(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type oracleClient struct{ cc grpc.ClientConnInterface }

func NewOracleClient(cc grpc.ClientConnInterface) OracleClient { return &oracleClient{cc: cc} }

func (c *oracleClient) Confirmation(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	err := c.cc.Invoke(ctx, "/xdao.sealvault.chain.grpcoracle.v1.Oracle/Confirmation", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func _Oracle_Confirmation_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OracleServer).Confirmation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/xdao.sealvault.chain.grpcoracle.v1.Oracle/Confirmation"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OracleServer).Confirmation(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Oracle_ServiceDesc is the grpc.ServiceDesc for the Oracle service.
var Oracle_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "xdao.sealvault.chain.grpcoracle.v1.Oracle",
	HandlerType: (*OracleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Confirmation", Handler: _Oracle_Confirmation_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oracle.proto",
}
