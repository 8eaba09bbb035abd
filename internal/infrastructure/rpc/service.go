package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "docrepo.v1.DocumentService"

// Method names of the document service.
const (
	MethodCreate     = "Create"
	MethodGet        = "Get"
	MethodList       = "List"
	MethodFindOne    = "FindOne"
	MethodExists     = "Exists"
	MethodUpdate     = "Update"
	MethodUpsert     = "Upsert"
	MethodDelete     = "Delete"
	MethodBulkCreate = "BulkCreate"
)

// FullMethod returns the path a method is invoked on.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// DocumentServer is the server API of the document service. Requests and
// responses are untyped structs whose keys are camelCase inside the server.
type DocumentServer interface {
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindOne(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Exists(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Upsert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BulkCreate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(DocumentServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DocumentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DocumentServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// DocumentServiceDesc describes the service for grpc.Server.RegisterService.
var DocumentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc(MethodCreate, DocumentServer.Create),
		methodDesc(MethodGet, DocumentServer.Get),
		methodDesc(MethodList, DocumentServer.List),
		methodDesc(MethodFindOne, DocumentServer.FindOne),
		methodDesc(MethodExists, DocumentServer.Exists),
		methodDesc(MethodUpdate, DocumentServer.Update),
		methodDesc(MethodUpsert, DocumentServer.Upsert),
		methodDesc(MethodDelete, DocumentServer.Delete),
		methodDesc(MethodBulkCreate, DocumentServer.BulkCreate),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docrepo/v1/documents",
}

// RegisterDocumentServer registers srv on s.
func RegisterDocumentServer(s grpc.ServiceRegistrar, srv DocumentServer) {
	s.RegisterService(&DocumentServiceDesc, srv)
}

// Client calls the document service. Keys on the wire are snake_case.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodCreate, in, opts...)
}

func (c *Client) Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodGet, in, opts...)
}

func (c *Client) List(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodList, in, opts...)
}

func (c *Client) FindOne(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodFindOne, in, opts...)
}

func (c *Client) Exists(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodExists, in, opts...)
}

func (c *Client) Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodUpdate, in, opts...)
}

func (c *Client) Upsert(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodUpsert, in, opts...)
}

func (c *Client) Delete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodDelete, in, opts...)
}

func (c *Client) BulkCreate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodBulkCreate, in, opts...)
}
