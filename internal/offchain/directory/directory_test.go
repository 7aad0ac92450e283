package directory

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasppay/internal/chain"
	"vasppay/internal/offchain"
)

// countingClient serves one published record and counts lookups.
type countingClient struct {
	info  *chain.AccountInfo
	err   error
	calls int
}

func (c *countingClient) GetAccount(_ context.Context, _ chain.AccountAddress) (*chain.AccountInfo, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.info, nil
}

func (c *countingClient) SubmitPeerToPeer(_ context.Context, _ *chain.PeerToPeerRequest) (*chain.SubmitResult, error) {
	return &chain.SubmitResult{}, nil
}

func (c *countingClient) Transactions(_ context.Context, _ uint64, _ int) ([]*chain.Transaction, error) {
	return nil, nil
}

func testClient(t *testing.T) (*countingClient, ed25519.PublicKey) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return &countingClient{info: &chain.AccountInfo{
		VASP: &chain.VASPInfo{
			BaseURL:          "https://vasp.example",
			ComplianceKeyHex: hex.EncodeToString(pub),
		},
	}}, pub
}

func TestLookupCachesRecords(t *testing.T) {
	client, pub := testClient(t)
	d := New(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	var addr chain.AccountAddress
	addr[0] = 0x01

	url, err := d.BaseURL(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "https://vasp.example", url)

	key, err := d.ComplianceKey(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, pub, key)

	assert.Equal(t, 1, client.calls, "the second lookup must hit the cache")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	client, _ := testClient(t)
	d := New(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	var addr chain.AccountAddress
	addr[0] = 0x01

	_, err := d.ComplianceKey(ctx, addr)
	require.NoError(t, err)

	// Simulate a key rotation on chain.
	newPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	client.info.VASP.ComplianceKeyHex = hex.EncodeToString(newPub)

	key, err := d.ComplianceKey(ctx, addr)
	require.NoError(t, err)
	assert.NotEqual(t, newPub, key, "the stale key stays until invalidated")

	d.Invalidate(addr)
	key, err = d.ComplianceKey(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, newPub, key)
	assert.Equal(t, 2, client.calls)
}

func TestLookupRejectsUnpublishedVASP(t *testing.T) {
	client, _ := testClient(t)
	client.info.VASP = nil
	d := New(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var addr chain.AccountAddress
	_, err := d.ComplianceKey(context.Background(), addr)

	var perr *offchain.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, offchain.CodeVASPInfoMissing, perr.Code)
}

func TestLookupRejectsMalformedKey(t *testing.T) {
	client, _ := testClient(t)
	client.info.VASP.ComplianceKeyHex = "zz"
	d := New(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var addr chain.AccountAddress
	_, err := d.ComplianceKey(context.Background(), addr)

	var perr *offchain.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, offchain.CodeVASPInfoMissing, perr.Code)
}

func TestLookupPropagatesChainErrors(t *testing.T) {
	client, _ := testClient(t)
	client.err = chain.ErrAccountNotFound
	d := New(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var addr chain.AccountAddress
	_, err := d.ComplianceKey(context.Background(), addr)
	assert.ErrorIs(t, err, chain.ErrAccountNotFound)
}
