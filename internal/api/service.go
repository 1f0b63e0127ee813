package api

import (
	"context"

	"google.golang.org/grpc"

	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/wa"
)

// ServiceName is the fully qualified name of the History service.
const ServiceName = "threadline.v1.History"

// HistoryServer is the server side of the History service.
type HistoryServer interface {
	FetchPage(context.Context, *FetchPageRequest) (*FetchPageResponse, error)
	Conversation(context.Context, *ConversationRequest) (*ConversationResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	Send(context.Context, *chatsdk.SendRequest) (*Ack, error)
	Edit(context.Context, *chatsdk.EditRequest) (*Ack, error)
	Delete(context.Context, *chatsdk.RefRequest) (*Ack, error)
	Pin(context.Context, *chatsdk.RefRequest) (*Ack, error)
	Unpin(context.Context, *chatsdk.RefRequest) (*Ack, error)
	MarkSeen(context.Context, *chatsdk.RefRequest) (*Ack, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Watch(*WatchRequest, grpc.ServerStreamingServer[chatsdk.Envelope]) error
	Auth(*AuthRequest, grpc.ServerStreamingServer[wa.AuthEvent]) error
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(HistoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HistoryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HistoryServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[Req, Resp any](name string, call func(HistoryServer, *Req, grpc.ServerStreamingServer[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(HistoryServer), in, &grpc.GenericServerStream[Req, Resp]{ServerStream: stream})
		},
	}
}

// HistoryServiceDesc describes the History service for grpc.Server.
var HistoryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HistoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("FetchPage", HistoryServer.FetchPage),
		unary("Conversation", HistoryServer.Conversation),
		unary("ListConversations", HistoryServer.ListConversations),
		unary("Send", HistoryServer.Send),
		unary("Edit", HistoryServer.Edit),
		unary("Delete", HistoryServer.Delete),
		unary("Pin", HistoryServer.Pin),
		unary("Unpin", HistoryServer.Unpin),
		unary("MarkSeen", HistoryServer.MarkSeen),
		unary("Status", HistoryServer.Status),
	},
	Streams: []grpc.StreamDesc{
		serverStream("Watch", HistoryServer.Watch),
		serverStream("Auth", HistoryServer.Auth),
	},
	Metadata: "threadline/v1/history",
}

// RegisterHistoryServer registers srv on s.
func RegisterHistoryServer(s grpc.ServiceRegistrar, srv HistoryServer) {
	s.RegisterService(&HistoryServiceDesc, srv)
}

// HistoryClient is the client side of the History service.
type HistoryClient struct {
	cc grpc.ClientConnInterface
}

// NewHistoryClient wraps a connection. The connection must use CallOptions.
func NewHistoryClient(cc grpc.ClientConnInterface) *HistoryClient {
	return &HistoryClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HistoryClient) FetchPage(ctx context.Context, in *FetchPageRequest, opts ...grpc.CallOption) (*FetchPageResponse, error) {
	return invoke[FetchPageResponse](ctx, c.cc, "FetchPage", in, opts)
}

func (c *HistoryClient) Conversation(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "Conversation", in, opts)
}

func (c *HistoryClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, "ListConversations", in, opts)
}

func (c *HistoryClient) Send(ctx context.Context, in *chatsdk.SendRequest, opts ...grpc.CallOption) (*Ack, error) {
	return invoke[Ack](ctx, c.cc, "Send", in, opts)
}

func (c *HistoryClient) Edit(ctx context.Context, in *chatsdk.EditRequest, opts ...grpc.CallOption) (*Ack, error) {
	return invoke[Ack](ctx, c.cc, "Edit", in, opts)
}

func (c *HistoryClient) Delete(ctx context.Context, in *chatsdk.RefRequest, opts ...grpc.CallOption) (*Ack, error) {
	return invoke[Ack](ctx, c.cc, "Delete", in, opts)
}

func (c *HistoryClient) Pin(ctx context.Context, in *chatsdk.RefRequest, opts ...grpc.CallOption) (*Ack, error) {
	return invoke[Ack](ctx, c.cc, "Pin", in, opts)
}

func (c *HistoryClient) Unpin(ctx context.Context, in *chatsdk.RefRequest, opts ...grpc.CallOption) (*Ack, error) {
	return invoke[Ack](ctx, c.cc, "Unpin", in, opts)
}

func (c *HistoryClient) MarkSeen(ctx context.Context, in *chatsdk.RefRequest, opts ...grpc.CallOption) (*Ack, error) {
	return invoke[Ack](ctx, c.cc, "MarkSeen", in, opts)
}

func (c *HistoryClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "Status", in, opts)
}

func openStream[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[Resp], error) {
	stream, err := cc.NewStream(ctx, desc, fullMethod(desc.StreamName), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Resp]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Watch streams conversation events as envelopes.
func (c *HistoryClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[chatsdk.Envelope], error) {
	return openStream[WatchRequest, chatsdk.Envelope](ctx, c.cc, &HistoryServiceDesc.Streams[0], in, opts)
}

// Auth streams QR pairing events until pairing ends.
func (c *HistoryClient) Auth(ctx context.Context, in *AuthRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wa.AuthEvent], error) {
	return openStream[AuthRequest, wa.AuthEvent](ctx, c.cc, &HistoryServiceDesc.Streams[1], in, opts)
}
