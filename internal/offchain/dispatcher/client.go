// Package dispatcher owes the counterparty whatever the store says we
// still have to say: it signs and delivers outbound commands and drives
// the periodic send loop.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"vasppay/internal/chain"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/directory"
	"vasppay/internal/offchain/jws"
)

// commandPath is the counterparty's wire endpoint.
const commandPath = "/offchain/v2/command"

// Client signs and POSTs command envelopes to counterparty VASPs and
// verifies the signed replies.
type Client struct {
	http          *http.Client
	directory     *directory.Directory
	complianceKey ed25519.PrivateKey
	senderAddress string // our identifier for the sender header
	logger        *slog.Logger
}

// NewClient creates an outbound command client.
func NewClient(dir *directory.Directory, complianceKey ed25519.PrivateKey, senderAddress string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:          &http.Client{Timeout: timeout},
		directory:     dir,
		complianceKey: complianceKey,
		senderAddress: senderAddress,
		logger:        logger,
	}
}

// Send marshals a command and delivers it under the given cid.
func (c *Client) Send(ctx context.Context, counterparty chain.AccountAddress, cid, commandType string, command any) (*offchain.CommandResponseObject, error) {
	raw, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", commandType, err)
	}
	return c.SendRaw(ctx, counterparty, cid, commandType, raw)
}

// SendRaw delivers pre-serialized command bytes, so a stored version is
// re-sent byte for byte.
func (c *Client) SendRaw(ctx context.Context, counterparty chain.AccountAddress, cid, commandType string, rawCommand json.RawMessage) (*offchain.CommandResponseObject, error) {
	baseURL, err := c.directory.BaseURL(ctx, counterparty)
	if err != nil {
		return nil, err
	}

	envelope, err := json.Marshal(offchain.CommandRequestObject{
		ObjectType:  offchain.ObjTypeCommandRequest,
		CID:         cid,
		CommandType: commandType,
		Command:     rawCommand,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	signed, err := jws.Sign(c.complianceKey, envelope)
	if err != nil {
		return nil, fmt.Errorf("signing envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+commandPath, bytes.NewReader([]byte(signed)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/jose")
	req.Header.Set("X-Request-ID", ulid.Make().String())
	req.Header.Set("X-Request-Sender-Address", c.senderAddress)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to %s: %w", baseURL, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("counterparty %s returned %d", counterparty.Hex(), httpResp.StatusCode)
	}

	payload, err := c.verifyReply(ctx, counterparty, body)
	if err != nil {
		return nil, err
	}

	var resp offchain.CommandResponseObject
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, "malformed reply: "+err.Error())
	}
	return &resp, nil
}

// verifyReply checks the reply signature, refreshing a possibly rotated
// key once before giving up.
func (c *Client) verifyReply(ctx context.Context, counterparty chain.AccountAddress, body []byte) ([]byte, error) {
	key, err := c.directory.ComplianceKey(ctx, counterparty)
	if err != nil {
		return nil, err
	}
	payload, verr := jws.Verify(key, body)
	if verr == nil {
		return payload, nil
	}

	c.directory.Invalidate(counterparty)
	key, err = c.directory.ComplianceKey(ctx, counterparty)
	if err != nil {
		return nil, err
	}
	return jws.Verify(key, body)
}
