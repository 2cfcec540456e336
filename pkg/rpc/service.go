// Package rpc exposes the turn handler as the mediaref.v1.Resolver gRPC
// service. Messages are the Go types of pkg/turn and pkg/media carried by a
// JSON codec, so the service needs no generated code.
package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/otherjamesbrown/mediaref/pkg/media"
	"github.com/otherjamesbrown/mediaref/pkg/turn"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mediaref.v1.Resolver"

const (
	methodResolveTurn = "/" + ServiceName + "/ResolveTurn"
	methodListMedia   = "/" + ServiceName + "/ListMedia"
)

// ListMediaRequest asks for a conversation's registry.
type ListMediaRequest struct {
	ConversationID string `json:"conversationId"`
}

// ListMediaResponse carries the registry in display order.
type ListMediaResponse struct {
	ConversationID string                `json:"conversationId"`
	Version        int64                 `json:"version"`
	Media          []media.EnhancedMedia `json:"media"`
	// Listing is the numbered list as shown to the user.
	Listing string `json:"listing"`
}

// ResolverServer is the server API for the resolver service.
type ResolverServer interface {
	ResolveTurn(context.Context, *turn.Request) (*turn.Result, error)
	ListMedia(context.Context, *ListMediaRequest) (*ListMediaResponse, error)
}

// RegisterResolverServer registers srv on s.
func RegisterResolverServer(s grpc.ServiceRegistrar, srv ResolverServer) {
	s.RegisterService(&ResolverServiceDesc, srv)
}

// ResolverServiceDesc describes the resolver service to grpc.
var ResolverServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ResolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ResolveTurn", Handler: resolveTurnHandler},
		{MethodName: "ListMedia", Handler: listMediaHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mediaref/v1/resolver",
}

func resolveTurnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(turn.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResolverServer).ResolveTurn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodResolveTurn}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResolverServer).ResolveTurn(ctx, req.(*turn.Request))
	}
	return interceptor(ctx, in, info, handler)
}

func listMediaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListMediaRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResolverServer).ListMedia(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListMedia}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResolverServer).ListMedia(ctx, req.(*ListMediaRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ResolverClient is the client API for the resolver service.
type ResolverClient interface {
	ResolveTurn(ctx context.Context, in *turn.Request, opts ...grpc.CallOption) (*turn.Result, error)
	ListMedia(ctx context.Context, in *ListMediaRequest, opts ...grpc.CallOption) (*ListMediaResponse, error)
}

type resolverClient struct {
	cc grpc.ClientConnInterface
}

// NewResolverClient returns a client that calls the service over cc.
func NewResolverClient(cc grpc.ClientConnInterface) ResolverClient {
	return &resolverClient{cc: cc}
}

func (c *resolverClient) ResolveTurn(ctx context.Context, in *turn.Request, opts ...grpc.CallOption) (*turn.Result, error) {
	out := new(turn.Result)
	if err := c.cc.Invoke(ctx, methodResolveTurn, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *resolverClient) ListMedia(ctx context.Context, in *ListMediaRequest, opts ...grpc.CallOption) (*ListMediaResponse, error) {
	out := new(ListMediaResponse)
	if err := c.cc.Invoke(ctx, methodListMedia, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
