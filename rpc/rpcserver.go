package rpc

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/spacemeshos/poe/cert"
	"github.com/spacemeshos/poe/events"
	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/node"
	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/signing"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// EventLog is the persisted history of events.
type EventLog interface {
	List(ctx context.Context, from registry.BlockNumber, limit int) ([]events.Record, error)
}

// rpcServer is the gRPC front end to a node.
type rpcServer struct {
	node     *node.Node
	operator ed25519.PrivateKey
	journal  EventLog
	broker   *events.Broker
	clock    func() time.Time
}

// A compile time check to ensure that rpcServer fully implements
// the RegistryServiceServer.
var _ RegistryServiceServer = (*rpcServer)(nil)

type newServerOptions struct {
	journal EventLog
	broker  *events.Broker
	clock   func() time.Time
}

type OptionFunc func(*newServerOptions)

func WithJournal(journal EventLog) OptionFunc {
	return func(opts *newServerOptions) {
		opts.journal = journal
	}
}

// WithBroker enables StreamEvents.
func WithBroker(broker *events.Broker) OptionFunc {
	return func(opts *newServerOptions) {
		opts.broker = broker
	}
}

func WithClock(clock func() time.Time) OptionFunc {
	return func(opts *newServerOptions) {
		opts.clock = clock
	}
}

// NewServer creates and returns a new instance of the rpcServer.
// Certificates returned by GetClaim are signed with operator.
func NewServer(n *node.Node, operator ed25519.PrivateKey, opts ...OptionFunc) *rpcServer {
	options := newServerOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}
	return &rpcServer{
		node:     n,
		operator: operator,
		journal:  options.journal,
		broker:   options.broker,
		clock:    options.clock,
	}
}

// Register adds the service to a gRPC server.
func (r *rpcServer) Register(s grpc.ServiceRegistrar) {
	RegisterRegistryServiceServer(s, r)
}

func (r *rpcServer) Submit(ctx context.Context, in *SubmitRequest) (*SubmitResponse, error) {
	signed, err := signing.NewFromScaleEncodable(in.Tx, in.Signature, in.PubKey)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	receipt, err := r.node.Submit(ctx, signed)
	if err != nil {
		if registry.IsRejection(err) {
			logging.FromContext(ctx).Debug("transaction rejected",
				zap.Stringer("call", in.Tx.Call),
				zap.Stringer("fingerprint", in.Tx.Fingerprint),
				zap.Error(err),
			)
		}
		st := status.Convert(toStatus(ctx, err))
		if receipt != nil {
			// The nonce was consumed; tell the caller where.
			return nil, status.Errorf(st.Code(), "%s (included in block %d with nonce %d)",
				st.Message(), receipt.Block, receipt.Nonce)
		}
		return nil, st.Err()
	}
	return &SubmitResponse{Receipt: receipt}, nil
}

func (r *rpcServer) GetClaim(ctx context.Context, in *GetClaimRequest) (*GetClaimResponse, error) {
	record, found, err := r.node.Registry().Query(ctx, in.Fingerprint)
	switch {
	case err != nil:
		return nil, toStatus(ctx, err)
	case !found:
		return nil, status.Errorf(codes.NotFound, "claim %s not found", in.Fingerprint)
	}
	out := &GetClaimResponse{
		Fingerprint:  in.Fingerprint,
		Owner:        record.Owner,
		RegisteredAt: record.RegisteredAt,
	}
	if r.operator != nil {
		certificate, err := cert.Issue(r.operator, cert.Claim{
			Fingerprint:  in.Fingerprint,
			Owner:        record.Owner,
			RegisteredAt: record.RegisteredAt,
			IssuedAt:     r.clock(),
		})
		if err != nil {
			return nil, toStatus(ctx, err)
		}
		out.Certificate = certificate
	}
	return out, nil
}

func (r *rpcServer) GetNonce(ctx context.Context, in *GetNonceRequest) (*GetNonceResponse, error) {
	nonce, err := r.node.Nonce(ctx, in.Identity)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &GetNonceResponse{Nonce: nonce}, nil
}

func (r *rpcServer) Info(ctx context.Context, _ *InfoRequest) (*InfoResponse, error) {
	reg := r.node.Registry()
	height, err := r.node.Height(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	claims, err := reg.Count(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	root, err := reg.StateRoot(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	out := &InfoResponse{
		Height:         height,
		MaxClaimLength: reg.MaxClaimLength(),
		Claims:         claims,
		StateRoot:      root,
	}
	if r.operator != nil {
		out.OperatorKey = r.operator.Public().(ed25519.PublicKey)
	}
	return out, nil
}

func (r *rpcServer) ListEvents(ctx context.Context, in *ListEventsRequest) (*ListEventsResponse, error) {
	if r.journal == nil {
		return nil, status.Error(codes.Unimplemented, "event journal is disabled")
	}
	limit := in.Limit
	switch {
	case limit < 0:
		return nil, status.Errorf(codes.InvalidArgument, "negative limit %d", limit)
	case limit == 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	records, err := r.journal.List(ctx, in.From, limit)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &ListEventsResponse{Records: records}, nil
}

// StreamEvents sends events published after the call until the client goes
// away or the broker is closed.
func (r *rpcServer) StreamEvents(_ *StreamEventsRequest, stream grpc.ServerStreamingServer[events.Record]) error {
	if r.broker == nil {
		return status.Error(codes.Unimplemented, "event streaming is disabled")
	}
	ctx := stream.Context()
	sub := r.broker.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return toStatus(ctx, ctx.Err())
		case record, ok := <-sub.Records():
			if !ok {
				return status.Error(codes.Unavailable, "event stream closed")
			}
			if err := stream.Send(&record); err != nil {
				return err
			}
		}
	}
}

var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{registry.ErrAlreadyClaimed, codes.AlreadyExists},
	{registry.ErrTooLong, codes.InvalidArgument},
	{node.ErrUnknownCall, codes.InvalidArgument},
	{registry.ErrNoSuchProof, codes.NotFound},
	{registry.ErrNotExists, codes.NotFound},
	{registry.ErrNotOwner, codes.PermissionDenied},
	{signing.ErrSignatureInvalid, codes.Unauthenticated},
	{signing.ErrInvalidPubkeyLen, codes.Unauthenticated},
	{node.ErrBadNonce, codes.FailedPrecondition},
	{node.ErrStopped, codes.Unavailable},
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// toStatus converts err into a gRPC status. Unknown errors are logged and
// reported as Internal without their message.
func toStatus(ctx context.Context, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.err) {
			return status.Error(candidate.code, err.Error())
		}
	}
	logging.FromContext(ctx).Warn("internal error", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
