// Package directory resolves counterparty VASPs: given an on-chain
// address, it returns the base URL and compliance public key published in
// the account's on-chain record.
package directory

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"vasppay/internal/chain"
	"vasppay/internal/offchain"
)

// Directory caches counterparty records. Read-mostly; entries refresh on
// miss and are invalidated when signature verification fails so a rotated
// key is picked up on retry.
type Directory struct {
	client chain.Client
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[chain.AccountAddress]*entry
}

type entry struct {
	baseURL       string
	complianceKey ed25519.PublicKey
}

// New creates a counterparty directory.
func New(client chain.Client, logger *slog.Logger) *Directory {
	return &Directory{
		client: client,
		logger: logger,
		cache:  make(map[chain.AccountAddress]*entry),
	}
}

// BaseURL returns the off-chain service URL of the VASP holding an address.
func (d *Directory) BaseURL(ctx context.Context, addr chain.AccountAddress) (string, error) {
	e, err := d.lookup(ctx, addr)
	if err != nil {
		return "", err
	}
	return e.baseURL, nil
}

// ComplianceKey returns the Ed25519 compliance public key of the VASP
// holding an address.
func (d *Directory) ComplianceKey(ctx context.Context, addr chain.AccountAddress) (ed25519.PublicKey, error) {
	e, err := d.lookup(ctx, addr)
	if err != nil {
		return nil, err
	}
	return e.complianceKey, nil
}

// Invalidate drops the cached record for an address. Called after a
// verification failure so the next lookup re-reads the chain.
func (d *Directory) Invalidate(addr chain.AccountAddress) {
	d.mu.Lock()
	delete(d.cache, addr)
	d.mu.Unlock()
}

func (d *Directory) lookup(ctx context.Context, addr chain.AccountAddress) (*entry, error) {
	d.mu.RLock()
	e, ok := d.cache[addr]
	d.mu.RUnlock()
	if ok {
		return e, nil
	}

	info, err := d.client.GetAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetching account %s: %w", addr.Hex(), err)
	}
	if info.VASP == nil || info.VASP.BaseURL == "" || info.VASP.ComplianceKeyHex == "" {
		return nil, offchain.NewProtocolError(offchain.CodeVASPInfoMissing,
			fmt.Sprintf("account %s has no published base URL or compliance key", addr.Hex()))
	}

	keyBytes, err := hex.DecodeString(info.VASP.ComplianceKeyHex)
	if err != nil || len(keyBytes) != ed25519.PublicKeySize {
		return nil, offchain.NewProtocolError(offchain.CodeVASPInfoMissing,
			fmt.Sprintf("account %s has a malformed compliance key", addr.Hex()))
	}

	e = &entry{
		baseURL:       info.VASP.BaseURL,
		complianceKey: ed25519.PublicKey(keyBytes),
	}

	d.mu.Lock()
	d.cache[addr] = e
	d.mu.Unlock()

	d.logger.Debug("counterparty record cached",
		"address", addr.Hex(),
		"base_url", e.baseURL,
	)
	return e, nil
}
