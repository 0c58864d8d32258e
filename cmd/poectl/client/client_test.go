package client_test

import (
	"context"
	"crypto/ed25519"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/poe/cert"
	"github.com/spacemeshos/poe/cmd/poectl/client"
	"github.com/spacemeshos/poe/events"
	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/node"
	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/rpc"
)

func spawnNode(t *testing.T) (*client.HTTPClient, ed25519.PublicKey) {
	t.Helper()
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))

	reg, err := registry.New(8, registry.WithSink(node.Collector()))
	require.NoError(t, err)
	journal, err := events.NewJournal(t.TempDir())
	require.NoError(t, err)
	n := node.New(reg, node.NewMemoryState(), journal)

	operatorPub, operator, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	gateway, err := rpc.NewGateway(ctx, rpc.NewServer(n, operator, rpc.WithJournal(journal)))
	require.NoError(t, err)
	srv := httptest.NewServer(gateway)

	var eg errgroup.Group
	eg.Go(func() error { return n.Run(ctx) })
	t.Cleanup(func() {
		srv.Close()
		cancel()
		require.NoError(t, eg.Wait())
		require.NoError(t, journal.Close())
	})

	cl, err := client.NewHTTPClient(srv.URL, client.WithRetries(0), client.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return cl, operatorPub
}

func TestClaimLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cl, operator := spawnNode(t)

	alicePub, alice, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	bobPub, bob, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	fp := registry.Fingerprint{0xca, 0xfe}

	receipt, err := cl.Send(ctx, alice, node.CallCreate, fp, registry.Identity{})
	require.NoError(t, err)
	require.Equal(t, registry.BlockNumber(1), receipt.Block)

	claim, err := cl.Claim(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, registry.Identity(alicePub), claim.Owner)
	_, err = cert.VerifyFingerprint(claim.Certificate, operator, fp)
	require.NoError(t, err)

	_, err = cl.Send(ctx, bob, node.CallCreate, fp, registry.Identity{})
	require.ErrorIs(t, err, client.ErrConflict)
	_, err = cl.Send(ctx, bob, node.CallRevoke, fp, registry.Identity{})
	require.ErrorIs(t, err, client.ErrForbidden)

	_, err = cl.Send(ctx, alice, node.CallTransfer, fp, registry.Identity(bobPub))
	require.NoError(t, err)
	_, err = cl.Send(ctx, bob, node.CallRevoke, fp, registry.Identity{})
	require.NoError(t, err)

	_, err = cl.Claim(ctx, fp)
	require.ErrorIs(t, err, client.ErrNotFound)

	records, err := cl.Events(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	info, err := cl.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte(operator), info.OperatorKey)
	require.Zero(t, info.Claims)
}

func TestSubmitErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cl, _ := spawnNode(t)
	_, alice, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, err = cl.Submit(ctx, alice, node.Tx{Call: node.CallCreate, Fingerprint: registry.Fingerprint{1}, Nonce: 5})
	require.ErrorIs(t, err, client.ErrBadNonce)

	_, err = cl.Send(ctx, alice, node.CallCreate, make(registry.Fingerprint, 9), registry.Identity{})
	require.ErrorIs(t, err, client.ErrInvalidRequest)

	_, err = cl.Send(ctx, alice, node.CallRevoke, registry.Fingerprint{1}, registry.Identity{})
	require.ErrorIs(t, err, client.ErrNotFound)
}
