// Package jws implements the compact EdDSA envelope the protocol wraps
// every command in: HEADER.PAYLOAD.SIGNATURE, base64url without padding,
// signed with the VASP compliance key.
package jws

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"vasppay/internal/offchain"
)

// encodedHeader is the fixed protocol header {"alg":"EdDSA"}; any other
// header is rejected.
var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA"}`))

// Sign wraps a canonical JSON payload in a compact serialization signed by
// the compliance private key.
func Sign(key ed25519.PrivateKey, payload []byte) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(canonical)
	signingInput := encodedHeader + "." + encodedPayload
	sig := ed25519.Sign(key, []byte(signingInput))

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks a compact serialization against the counterparty's
// compliance public key and returns the canonical payload bytes.
func Verify(key ed25519.PublicKey, message []byte) ([]byte, error) {
	parts := strings.Split(string(message), ".")
	if len(parts) != 3 {
		return nil, offchain.NewProtocolError(offchain.CodeInvalidJWSFormat,
			fmt.Sprintf("expected 3 parts, got %d", len(parts)))
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, offchain.NewProtocolError(offchain.CodeInvalidJWSHeader, "header is not valid base64url")
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil || header.Alg != "EdDSA" {
		return nil, offchain.NewProtocolError(offchain.CodeInvalidJWSHeader,
			fmt.Sprintf("unsupported header %q", string(headerBytes)))
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, offchain.NewProtocolError(offchain.CodeInvalidJWSFormat, "payload is not valid base64url")
	}
	sig, err := decodeSegment(parts[2])
	if err != nil {
		return nil, offchain.NewProtocolError(offchain.CodeInvalidJWSFormat, "signature is not valid base64url")
	}

	signingInput := parts[0] + "." + parts[1]
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(key, []byte(signingInput), sig) {
		return nil, offchain.NewProtocolError(offchain.CodeInvalidJWSSignature, "signature verification failed")
	}

	return payload, nil
}

// decodeSegment decodes base64url, re-padding to a multiple of 4 first.
func decodeSegment(s string) ([]byte, error) {
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.URLEncoding.DecodeString(s)
}

// Canonicalize re-encodes JSON with lexically sorted object keys and null
// members removed, so equal commands serialize to equal bytes.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
	}
	if dec.More() {
		return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, "trailing data after JSON value")
	}

	out, err := json.Marshal(stripNulls(v))
	if err != nil {
		return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
	}
	return out, nil
}

func stripNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = stripNulls(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = stripNulls(val)
		}
		return t
	default:
		return v
	}
}
