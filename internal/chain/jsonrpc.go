package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// JSONRPCConfig holds chain gateway configuration.
type JSONRPCConfig struct {
	URL     string        `envconfig:"JSON_RPC_URL" required:"true"`
	Timeout time.Duration `envconfig:"JSON_RPC_TIMEOUT" default:"30s"`
}

// JSONRPCClient talks to the chain gateway over JSON-RPC. The gateway holds
// the custody account key and signs submitted transactions.
type JSONRPCClient struct {
	url    string
	http   *http.Client
	logger *slog.Logger
	nextID atomic.Int64
}

// NewJSONRPCClient creates a chain gateway client.
func NewJSONRPCClient(cfg JSONRPCConfig, logger *slog.Logger) *JSONRPCClient {
	return &JSONRPCClient{
		url:    cfg.URL,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *JSONRPCClient) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshaling rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: http %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("decoding rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return classifyRPCError(method, rpcResp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

func classifyRPCError(method string, e *rpcError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "insufficient"):
		return fmt.Errorf("%s: %w", method, ErrInsufficientBalance)
	case strings.Contains(msg, "not found"):
		return fmt.Errorf("%s: %w", method, ErrAccountNotFound)
	default:
		return fmt.Errorf("rpc %s failed (%d): %s", method, e.Code, e.Message)
	}
}

type accountResult struct {
	Address        string `json:"address"`
	SequenceNumber uint64 `json:"sequence_number"`
	Role           *struct {
		Type          string `json:"type"`
		BaseURL       string `json:"base_url"`
		ComplianceKey string `json:"compliance_key"`
	} `json:"role"`
}

// GetAccount fetches the on-chain record for an address.
func (c *JSONRPCClient) GetAccount(ctx context.Context, addr AccountAddress) (*AccountInfo, error) {
	var res *accountResult
	if err := c.call(ctx, "get_account", []any{addr.Hex()}, &res); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("get_account %s: %w", addr.Hex(), ErrAccountNotFound)
	}

	info := &AccountInfo{Address: addr, SequenceNumber: res.SequenceNumber}
	if res.Role != nil {
		info.VASP = &VASPInfo{
			BaseURL:          res.Role.BaseURL,
			ComplianceKeyHex: res.Role.ComplianceKey,
		}
	}
	return info, nil
}

type submitResult struct {
	Version        uint64 `json:"version"`
	SequenceNumber uint64 `json:"sequence_number"`
}

// SubmitPeerToPeer submits a peer-to-peer-with-metadata transaction and
// waits for commit.
func (c *JSONRPCClient) SubmitPeerToPeer(ctx context.Context, req *PeerToPeerRequest) (*SubmitResult, error) {
	params := map[string]any{
		"currency":           req.Currency,
		"amount":             req.Amount,
		"receiver":           req.Receiver.Hex(),
		"metadata":           hex.EncodeToString(req.Metadata),
		"metadata_signature": hex.EncodeToString(req.MetadataSignature),
		"gas_currency":       req.GasCurrency,
	}

	var res submitResult
	if err := c.call(ctx, "submit_p2p_transaction", params, &res); err != nil {
		return nil, err
	}

	c.logger.Info("transaction committed",
		"receiver", req.Receiver.Hex(),
		"amount", req.Amount,
		"version", res.Version,
		"sequence", res.SequenceNumber,
	)

	return &SubmitResult{Version: res.Version, Sequence: res.SequenceNumber}, nil
}

type transactionResult struct {
	Version        uint64 `json:"version"`
	SequenceNumber uint64 `json:"sequence_number"`
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	Amount         uint64 `json:"amount"`
	Currency       string `json:"currency"`
	Metadata       string `json:"metadata"`
}

// Transactions reads committed transfers starting at a version, oldest
// first.
func (c *JSONRPCClient) Transactions(ctx context.Context, startVersion uint64, limit int) ([]*Transaction, error) {
	var res []transactionResult
	if err := c.call(ctx, "get_transactions", []any{startVersion, limit, true}, &res); err != nil {
		return nil, err
	}

	txns := make([]*Transaction, 0, len(res))
	for _, r := range res {
		sender, err := ParseAccountAddress(r.Sender)
		if err != nil {
			continue
		}
		receiver, err := ParseAccountAddress(r.Receiver)
		if err != nil {
			continue
		}
		metadata, err := hex.DecodeString(r.Metadata)
		if err != nil {
			continue
		}
		txns = append(txns, &Transaction{
			Version:  r.Version,
			Sequence: r.SequenceNumber,
			Sender:   sender,
			Receiver: receiver,
			Amount:   r.Amount,
			Currency: r.Currency,
			Metadata: metadata,
		})
	}
	return txns, nil
}
