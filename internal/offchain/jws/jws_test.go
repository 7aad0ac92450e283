package jws

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasppay/internal/offchain"
)

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv := testKeyPair(t)

	payload := []byte(`{"cid":"abc","command_type":"PaymentCommand"}`)
	signed, err := Sign(priv, payload)
	require.NoError(t, err)

	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	assert.NotContains(t, signed, "=", "segments must be unpadded")

	out, err := Verify(pub, []byte(signed))
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(out))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pub, priv := testKeyPair(t)

	signed, err := Sign(priv, []byte(`{"a":1}`))
	require.NoError(t, err)

	// Flip one character inside the payload segment.
	parts := strings.Split(signed, ".")
	seg := []byte(parts[1])
	if seg[0] == 'A' {
		seg[0] = 'B'
	} else {
		seg[0] = 'A'
	}
	tampered := parts[0] + "." + string(seg) + "." + parts[2]

	_, err = Verify(pub, []byte(tampered))
	var perr *offchain.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, offchain.CodeInvalidJWSSignature, perr.Code)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv := testKeyPair(t)
	otherPub, _ := testKeyPair(t)

	signed, err := Sign(priv, []byte(`{"a":1}`))
	require.NoError(t, err)

	_, err = Verify(otherPub, []byte(signed))
	var perr *offchain.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, offchain.CodeInvalidJWSSignature, perr.Code)
}

func TestVerifyRejectsUnsupportedHeader(t *testing.T) {
	pub, priv := testKeyPair(t)

	signed, err := Sign(priv, []byte(`{"a":1}`))
	require.NoError(t, err)

	// Replace the header with a different algorithm; the signature no
	// longer matters because the header check runs first.
	parts := strings.Split(signed, ".")
	parts[0] = "eyJhbGciOiJIUzI1NiJ9" // {"alg":"HS256"}
	_, err = Verify(pub, []byte(strings.Join(parts, ".")))

	var perr *offchain.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, offchain.CodeInvalidJWSHeader, perr.Code)
}

func TestVerifyRejectsWrongPartCount(t *testing.T) {
	pub, _ := testKeyPair(t)

	_, err := Verify(pub, []byte("only.two"))
	var perr *offchain.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, offchain.CodeInvalidJWSFormat, perr.Code)
}

func TestCanonicalizeSortsKeysAndStripsNulls(t *testing.T) {
	out, err := Canonicalize([]byte(`{"b":2,"a":1,"gone":null,"nested":{"z":null,"y":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"nested":{"y":"x"}}`, string(out))
}

func TestCanonicalizePreservesLargeNumbers(t *testing.T) {
	out, err := Canonicalize([]byte(`{"amount":18446744073709551615}`))
	require.NoError(t, err)
	assert.Equal(t, `{"amount":18446744073709551615}`, string(out))
}

func TestCanonicalizeIsStable(t *testing.T) {
	a, err := Canonicalize([]byte(`{"x":1,"y":[1,2,{"b":2,"a":1}]}`))
	require.NoError(t, err)
	b, err := Canonicalize(a)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeRejectsTrailingData(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1}{"b":2}`))
	var cerr *offchain.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, offchain.CodeInvalidJSON, cerr.Code)
}

func TestSignProducesIdenticalBytesForEquivalentJSON(t *testing.T) {
	_, priv := testKeyPair(t)

	s1, err := Sign(priv, []byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	s2, err := Sign(priv, []byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}
