package chain

import (
	"context"
	"errors"
)

// Client submission errors. Transient failures are anything not matching
// these; callers retry them.
var (
	ErrAccountNotFound     = errors.New("account not found on chain")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// VASPInfo is the published compliance record of a custodial account.
type VASPInfo struct {
	BaseURL          string
	ComplianceKeyHex string
}

// AccountInfo is the on-chain view of an account.
type AccountInfo struct {
	Address        AccountAddress
	SequenceNumber uint64
	VASP           *VASPInfo
}

// PeerToPeerRequest describes a peer-to-peer-with-metadata transaction.
type PeerToPeerRequest struct {
	Currency          string
	Amount            uint64
	Receiver          AccountAddress
	Metadata          []byte
	MetadataSignature []byte
	GasCurrency       string
}

// SubmitResult carries the chain coordinates of a committed transaction.
type SubmitResult struct {
	Version  uint64
	Sequence uint64
}

// Transaction is a committed peer-to-peer transfer as read back from the
// chain.
type Transaction struct {
	Version  uint64
	Sequence uint64
	Sender   AccountAddress
	Receiver AccountAddress
	Amount   uint64
	Currency string
	Metadata []byte
}

// Client is the blockchain collaborator. Implementations submit on behalf
// of this VASP's custody account; transaction signing lives behind them.
type Client interface {
	// GetAccount fetches the on-chain record for an address.
	GetAccount(ctx context.Context, addr AccountAddress) (*AccountInfo, error)
	// SubmitPeerToPeer submits a peer-to-peer-with-metadata transaction and
	// waits for commit.
	SubmitPeerToPeer(ctx context.Context, req *PeerToPeerRequest) (*SubmitResult, error)
	// Transactions reads committed transfers starting at a version,
	// oldest first.
	Transactions(ctx context.Context, startVersion uint64, limit int) ([]*Transaction, error)
}
