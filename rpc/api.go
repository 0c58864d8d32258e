package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/spacemeshos/poe/cert"
	"github.com/spacemeshos/poe/events"
	"github.com/spacemeshos/poe/node"
	"github.com/spacemeshos/poe/registry"
)

const ServiceName = "poe.v1.RegistryService"

const (
	submitMethod       = "/" + ServiceName + "/Submit"
	getClaimMethod     = "/" + ServiceName + "/GetClaim"
	getNonceMethod     = "/" + ServiceName + "/GetNonce"
	infoMethod         = "/" + ServiceName + "/Info"
	listEventsMethod   = "/" + ServiceName + "/ListEvents"
	streamEventsMethod = "/" + ServiceName + "/StreamEvents"
)

type SubmitRequest struct {
	Tx        node.Tx `json:"tx"`
	PubKey    []byte  `json:"pubkey"`
	Signature []byte  `json:"signature"`
}

func (r *SubmitRequest) String() string {
	return fmt.Sprintf("%s %s nonce=%d", r.Tx.Call, r.Tx.Fingerprint, r.Tx.Nonce)
}

type SubmitResponse struct {
	Receipt *node.Receipt `json:"receipt"`
}

type GetClaimRequest struct {
	Fingerprint registry.Fingerprint `json:"fingerprint"`
}

func (r *GetClaimRequest) String() string {
	return r.Fingerprint.String()
}

type GetClaimResponse struct {
	Fingerprint  registry.Fingerprint `json:"fingerprint"`
	Owner        registry.Identity    `json:"owner"`
	RegisteredAt registry.BlockNumber `json:"registered_at"`
	Certificate  *cert.Certificate    `json:"certificate"`
}

type GetNonceRequest struct {
	Identity registry.Identity `json:"identity"`
}

type GetNonceResponse struct {
	Nonce uint64 `json:"nonce"`
}

type InfoRequest struct{}

type InfoResponse struct {
	Height         registry.BlockNumber `json:"height"`
	MaxClaimLength int                  `json:"max_claim_length"`
	Claims         int                  `json:"claims"`
	StateRoot      []byte               `json:"state_root"`
	OperatorKey    []byte               `json:"operator_key"`
}

type ListEventsRequest struct {
	From  registry.BlockNumber `json:"from"`
	Limit int                  `json:"limit"`
}

type ListEventsResponse struct {
	Records []events.Record `json:"records"`
}

type StreamEventsRequest struct{}

// RegistryServiceServer is the server API of the registry service.
type RegistryServiceServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetClaim(context.Context, *GetClaimRequest) (*GetClaimResponse, error)
	GetNonce(context.Context, *GetNonceRequest) (*GetNonceResponse, error)
	Info(context.Context, *InfoRequest) (*InfoResponse, error)
	ListEvents(context.Context, *ListEventsRequest) (*ListEventsResponse, error)
	StreamEvents(*StreamEventsRequest, grpc.ServerStreamingServer[events.Record]) error
}

func RegisterRegistryServiceServer(s grpc.ServiceRegistrar, srv RegistryServiceServer) {
	s.RegisterService(&RegistryService_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(RegistryServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RegistryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RegistryServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RegistryServiceServer).StreamEvents(in, &grpc.GenericServerStream[StreamEventsRequest, events.Record]{
		ServerStream: stream,
	})
}

// RegistryService_ServiceDesc is the grpc.ServiceDesc for the registry service.
var RegistryService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    unaryHandler(submitMethod, RegistryServiceServer.Submit),
		},
		{
			MethodName: "GetClaim",
			Handler:    unaryHandler(getClaimMethod, RegistryServiceServer.GetClaim),
		},
		{
			MethodName: "GetNonce",
			Handler:    unaryHandler(getNonceMethod, RegistryServiceServer.GetNonce),
		},
		{
			MethodName: "Info",
			Handler:    unaryHandler(infoMethod, RegistryServiceServer.Info),
		},
		{
			MethodName: "ListEvents",
			Handler:    unaryHandler(listEventsMethod, RegistryServiceServer.ListEvents),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "poe/v1/registry",
}

// RegistryServiceClient is the client API of the registry service.
type RegistryServiceClient interface {
	Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error)
	GetClaim(ctx context.Context, in *GetClaimRequest, opts ...grpc.CallOption) (*GetClaimResponse, error)
	GetNonce(ctx context.Context, in *GetNonceRequest, opts ...grpc.CallOption) (*GetNonceResponse, error)
	Info(ctx context.Context, in *InfoRequest, opts ...grpc.CallOption) (*InfoResponse, error)
	ListEvents(ctx context.Context, in *ListEventsRequest, opts ...grpc.CallOption) (*ListEventsResponse, error)
	StreamEvents(
		ctx context.Context,
		in *StreamEventsRequest,
		opts ...grpc.CallOption,
	) (grpc.ServerStreamingClient[events.Record], error)
}

type registryServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRegistryServiceClient(cc grpc.ClientConnInterface) RegistryServiceClient {
	return &registryServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryServiceClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	return invoke[SubmitResponse](ctx, c.cc, submitMethod, in, opts)
}

func (c *registryServiceClient) GetClaim(ctx context.Context, in *GetClaimRequest, opts ...grpc.CallOption) (*GetClaimResponse, error) {
	return invoke[GetClaimResponse](ctx, c.cc, getClaimMethod, in, opts)
}

func (c *registryServiceClient) GetNonce(ctx context.Context, in *GetNonceRequest, opts ...grpc.CallOption) (*GetNonceResponse, error) {
	return invoke[GetNonceResponse](ctx, c.cc, getNonceMethod, in, opts)
}

func (c *registryServiceClient) Info(ctx context.Context, in *InfoRequest, opts ...grpc.CallOption) (*InfoResponse, error) {
	return invoke[InfoResponse](ctx, c.cc, infoMethod, in, opts)
}

func (c *registryServiceClient) ListEvents(
	ctx context.Context,
	in *ListEventsRequest,
	opts ...grpc.CallOption,
) (*ListEventsResponse, error) {
	return invoke[ListEventsResponse](ctx, c.cc, listEventsMethod, in, opts)
}

func (c *registryServiceClient) StreamEvents(
	ctx context.Context,
	in *StreamEventsRequest,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[events.Record], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &RegistryService_ServiceDesc.Streams[0], streamEventsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[StreamEventsRequest, events.Record]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
