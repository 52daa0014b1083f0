package salesrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	SalesService_Commit_FullMethodName = "/sales.v1.SalesService/Commit"
	SalesService_Cancel_FullMethodName = "/sales.v1.SalesService/Cancel"
)

type SalesServiceServer interface {
	Commit(context.Context, *CommitRequest) (*SaleResponse, error)
	Cancel(context.Context, *CancelRequest) (*SaleResponse, error)
}

// UnimplementedSalesServiceServer can be embedded for forward compatibility.
type UnimplementedSalesServiceServer struct{}

func (UnimplementedSalesServiceServer) Commit(context.Context, *CommitRequest) (*SaleResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Commit not implemented")
}

func (UnimplementedSalesServiceServer) Cancel(context.Context, *CancelRequest) (*SaleResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Cancel not implemented")
}

func RegisterSalesServiceServer(s grpc.ServiceRegistrar, srv SalesServiceServer) {
	s.RegisterService(&SalesService_ServiceDesc, srv)
}

func _SalesService_Commit_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CommitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SalesServiceServer).Commit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SalesService_Commit_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SalesServiceServer).Commit(ctx, req.(*CommitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SalesService_Cancel_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SalesServiceServer).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SalesService_Cancel_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SalesServiceServer).Cancel(ctx, req.(*CancelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var SalesService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "sales.v1.SalesService",
	HandlerType: (*SalesServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Commit",
			Handler:    _SalesService_Commit_Handler,
		},
		{
			MethodName: "Cancel",
			Handler:    _SalesService_Cancel_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sales/v1/sales.proto",
}

type SalesServiceClient interface {
	Commit(ctx context.Context, in *CommitRequest, opts ...grpc.CallOption) (*SaleResponse, error)
	Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*SaleResponse, error)
}

type salesServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSalesServiceClient returns a client that always selects the JSON codec.
func NewSalesServiceClient(cc grpc.ClientConnInterface) SalesServiceClient {
	return &salesServiceClient{cc: cc}
}

func (c *salesServiceClient) Commit(ctx context.Context, in *CommitRequest, opts ...grpc.CallOption) (*SaleResponse, error) {
	out := new(SaleResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, SalesService_Commit_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *salesServiceClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*SaleResponse, error) {
	out := new(SaleResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, SalesService_Cancel_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
