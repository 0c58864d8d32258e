package rpc_test

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/spacemeshos/poe/cert"
	"github.com/spacemeshos/poe/events"
	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/node"
	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/rpc"
	"github.com/spacemeshos/poe/signing"
)

var issuedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type principal struct {
	key ed25519.PrivateKey
	id  registry.Identity
}

func newPrincipal(t *testing.T) principal {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return principal{key: priv, id: registry.Identity(pub)}
}

func (p principal) request(t *testing.T, tx node.Tx) *rpc.SubmitRequest {
	t.Helper()
	signed, err := signing.Sign(tx, p.key)
	require.NoError(t, err)
	return &rpc.SubmitRequest{Tx: tx, PubKey: signed.PubKey(), Signature: signed.Signature()}
}

type harness struct {
	client   rpc.RegistryServiceClient
	server   rpc.RegistryServiceServer
	broker   *events.Broker
	operator ed25519.PublicKey
	ctx      context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))

	reg, err := registry.New(6, registry.WithSink(node.Collector()))
	require.NoError(t, err)
	journal, err := events.NewJournal(t.TempDir())
	require.NoError(t, err)
	broker := events.NewBroker(16)
	n := node.New(reg, node.NewMemoryState(), events.NewGroup(journal, broker))

	operatorPub, operator, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := rpc.NewServer(n, operator,
		rpc.WithJournal(journal),
		rpc.WithBroker(broker),
		rpc.WithClock(func() time.Time { return issuedAt }),
	)

	listener := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	srv.Register(grpcServer)

	var eg errgroup.Group
	eg.Go(func() error { return n.Run(ctx) })
	eg.Go(func() error { return grpcServer.Serve(listener) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, conn.Close())
		grpcServer.Stop()
		cancel()
		require.NoError(t, eg.Wait())
		require.NoError(t, broker.Close())
		require.NoError(t, journal.Close())
	})
	return &harness{
		client:   rpc.NewRegistryServiceClient(conn),
		server:   srv,
		broker:   broker,
		operator: operatorPub,
		ctx:      ctx,
	}
}

func (h *harness) submit(t *testing.T, p principal, call node.Call, fp registry.Fingerprint, receiver registry.Identity) (*rpc.SubmitResponse, error) {
	t.Helper()
	nonce, err := h.client.GetNonce(h.ctx, &rpc.GetNonceRequest{Identity: p.id})
	require.NoError(t, err)
	return h.client.Submit(h.ctx, p.request(t, node.Tx{
		Call:        call,
		Fingerprint: fp,
		Receiver:    receiver,
		Nonce:       nonce.Nonce,
	}))
}

func requireCode(t *testing.T, code codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, status.Code(err), err.Error())
}

func TestSubmitAndGetClaim(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := newPrincipal(t)
	fp := registry.Fingerprint{0xde, 0xad}

	out, err := h.submit(t, alice, node.CallCreate, fp, registry.Identity{})
	require.NoError(t, err)
	require.Equal(t, registry.BlockNumber(1), out.Receipt.Block)
	require.Equal(t, alice.id, out.Receipt.Caller)
	require.Len(t, out.Receipt.Events, 1)
	require.Equal(t, registry.ClaimCreated, out.Receipt.Events[0].Event.Kind)

	claim, err := h.client.GetClaim(h.ctx, &rpc.GetClaimRequest{Fingerprint: fp})
	require.NoError(t, err)
	require.Equal(t, alice.id, claim.Owner)
	require.Equal(t, registry.BlockNumber(1), claim.RegisteredAt)

	certified, err := cert.Verify(claim.Certificate, h.operator)
	require.NoError(t, err)
	require.Equal(t, fp, certified.Fingerprint)
	require.Equal(t, alice.id, certified.Owner)
	require.Equal(t, issuedAt, certified.IssuedAt)
}

func TestSubmitMapsRejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := newPrincipal(t)
	bob := newPrincipal(t)
	fp := registry.Fingerprint{1}

	_, err := h.submit(t, alice, node.CallCreate, fp, registry.Identity{})
	require.NoError(t, err)

	_, err = h.submit(t, bob, node.CallCreate, fp, registry.Identity{})
	requireCode(t, codes.AlreadyExists, err)
	require.Contains(t, status.Convert(err).Message(), "included in block 2 with nonce 0")
	_, err = h.submit(t, bob, node.CallCreate, registry.Fingerprint{0, 1, 2, 3, 4, 5, 6}, registry.Identity{})
	requireCode(t, codes.InvalidArgument, err)
	_, err = h.submit(t, bob, node.CallRevoke, fp, registry.Identity{})
	requireCode(t, codes.PermissionDenied, err)
	_, err = h.submit(t, bob, node.CallRevoke, registry.Fingerprint{2}, registry.Identity{})
	requireCode(t, codes.NotFound, err)
	_, err = h.submit(t, bob, node.CallTransfer, registry.Fingerprint{2}, alice.id)
	requireCode(t, codes.NotFound, err)

	// Rejected transactions are included and consume the nonce.
	nonce, err := h.client.GetNonce(h.ctx, &rpc.GetNonceRequest{Identity: bob.id})
	require.NoError(t, err)
	require.Equal(t, uint64(5), nonce.Nonce)
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := newPrincipal(t)

	req := alice.request(t, node.Tx{Call: node.CallCreate, Fingerprint: registry.Fingerprint{1}})
	req.Tx.Fingerprint = registry.Fingerprint{2}
	_, err := h.client.Submit(h.ctx, req)
	requireCode(t, codes.Unauthenticated, err)

	req = alice.request(t, node.Tx{Call: node.CallCreate, Fingerprint: registry.Fingerprint{1}})
	req.PubKey = req.PubKey[:10]
	_, err = h.client.Submit(h.ctx, req)
	requireCode(t, codes.Unauthenticated, err)
}

func TestSubmitRejectsBadNonce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := newPrincipal(t)

	_, err := h.client.Submit(h.ctx, alice.request(t, node.Tx{
		Call:        node.CallCreate,
		Fingerprint: registry.Fingerprint{1},
		Nonce:       3,
	}))
	requireCode(t, codes.FailedPrecondition, err)

	nonce, err := h.client.GetNonce(h.ctx, &rpc.GetNonceRequest{Identity: alice.id})
	require.NoError(t, err)
	require.Zero(t, nonce.Nonce)
}

func TestGetClaimNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.client.GetClaim(h.ctx, &rpc.GetClaimRequest{Fingerprint: registry.Fingerprint{7}})
	requireCode(t, codes.NotFound, err)
}

func TestInfo(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := newPrincipal(t)

	info, err := h.client.Info(h.ctx, &rpc.InfoRequest{})
	require.NoError(t, err)
	require.Zero(t, info.Height)
	require.Zero(t, info.Claims)
	require.Equal(t, 6, info.MaxClaimLength)
	require.Equal(t, registry.EmptyStateRoot(), info.StateRoot)
	require.Equal(t, []byte(h.operator), info.OperatorKey)

	_, err = h.submit(t, alice, node.CallCreate, registry.Fingerprint{1}, registry.Identity{})
	require.NoError(t, err)

	info, err = h.client.Info(h.ctx, &rpc.InfoRequest{})
	require.NoError(t, err)
	require.Equal(t, registry.BlockNumber(1), info.Height)
	require.Equal(t, 1, info.Claims)
	require.NotEqual(t, registry.EmptyStateRoot(), info.StateRoot)
}

func TestListEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := newPrincipal(t)
	bob := newPrincipal(t)

	_, err := h.submit(t, alice, node.CallCreate, registry.Fingerprint{1}, registry.Identity{})
	require.NoError(t, err)
	_, err = h.submit(t, alice, node.CallTransfer, registry.Fingerprint{1}, bob.id)
	require.NoError(t, err)
	_, err = h.submit(t, bob, node.CallRevoke, registry.Fingerprint{1}, registry.Identity{})
	require.NoError(t, err)

	all, err := h.client.ListEvents(h.ctx, &rpc.ListEventsRequest{})
	require.NoError(t, err)
	require.Len(t, all.Records, 3)
	require.Equal(t, registry.ClaimCreated, all.Records[0].Event.Kind)
	require.Equal(t, registry.ClaimTransfered, all.Records[1].Event.Kind)
	require.Equal(t, bob.id, all.Records[1].Event.Receiver)
	require.Equal(t, registry.ClaimRevoked, all.Records[2].Event.Kind)

	page, err := h.client.ListEvents(h.ctx, &rpc.ListEventsRequest{From: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, registry.BlockNumber(2), page.Records[0].Block)

	_, err = h.client.ListEvents(h.ctx, &rpc.ListEventsRequest{Limit: -1})
	requireCode(t, codes.InvalidArgument, err)
}

func TestStreamEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := newPrincipal(t)

	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()
	stream, err := h.client.StreamEvents(ctx, &rpc.StreamEventsRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.broker.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = h.submit(t, alice, node.CallCreate, registry.Fingerprint{1}, registry.Identity{})
	require.NoError(t, err)

	record, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, registry.BlockNumber(1), record.Block)
	require.Equal(t, registry.ClaimCreated, record.Event.Kind)
	require.Equal(t, alice.id, record.Event.Owner)

	cancel()
	require.Eventually(t, func() bool { return h.broker.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestGateway(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := newPrincipal(t)

	gateway, err := rpc.NewGateway(h.ctx, h.server)
	require.NoError(t, err)
	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)

	get := func(path string, out any) int {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
		return resp.StatusCode
	}

	req := alice.request(t, node.Tx{Call: node.CallCreate, Fingerprint: registry.Fingerprint{0xab}})
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := srv.Client().Post(srv.URL+"/v1/submit", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	var submitted rpc.SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, registry.BlockNumber(1), submitted.Receipt.Block)

	var claim rpc.GetClaimResponse
	require.Equal(t, http.StatusOK, get("/v1/claims/ab", &claim))
	require.Equal(t, alice.id, claim.Owner)

	var nonce rpc.GetNonceResponse
	require.Equal(t, http.StatusOK, get("/v1/nonces/"+alice.id.String(), &nonce))
	require.Equal(t, uint64(1), nonce.Nonce)

	var info rpc.InfoResponse
	require.Equal(t, http.StatusOK, get("/v1/info", &info))
	require.Equal(t, 1, info.Claims)

	var list rpc.ListEventsResponse
	require.Equal(t, http.StatusOK, get("/v1/events?from=1&limit=5", &list))
	require.Len(t, list.Records, 1)

	var failure struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	require.Equal(t, http.StatusNotFound, get("/v1/claims/cd", &failure))
	require.Equal(t, codes.NotFound.String(), failure.Code)
	require.Equal(t, http.StatusBadRequest, get("/v1/claims/zz", &failure))
	require.Equal(t, http.StatusBadRequest, get("/v1/nonces/00", &failure))
	require.Equal(t, http.StatusBadRequest, get("/v1/events?limit=x", &failure))
}
