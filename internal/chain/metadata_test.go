package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTravelRuleMetadataRoundTrip(t *testing.T) {
	refID := "2632a018-e62c-4edd-be4d-c03f3e2d7e3f"
	raw := NewTravelRuleMetadata(refID)

	assert.Equal(t, byte(0x02), raw[0])
	assert.Equal(t, byte(0x00), raw[1])

	parsed, err := ParseMetadata(raw)
	require.NoError(t, err)
	md, ok := parsed.(*TravelRuleMetadata)
	require.True(t, ok)
	assert.Equal(t, refID, md.ReferenceID)
}

func TestGeneralMetadataRoundTrip(t *testing.T) {
	from := testSubAddress()
	var to SubAddress
	copy(to[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	raw := NewGeneralMetadata(from, to)
	assert.Equal(t, byte(0x01), raw[0])

	parsed, err := ParseMetadata(raw)
	require.NoError(t, err)
	md, ok := parsed.(*GeneralMetadata)
	require.True(t, ok)
	require.NotNil(t, md.ToSubAddress)
	require.NotNil(t, md.FromSubAddress)
	assert.Equal(t, to, *md.ToSubAddress)
	assert.Equal(t, from, *md.FromSubAddress)
}

func TestGeneralMetadataAbsentSubAddresses(t *testing.T) {
	raw := NewGeneralMetadata(SubAddress{}, SubAddress{})

	parsed, err := ParseMetadata(raw)
	require.NoError(t, err)
	md := parsed.(*GeneralMetadata)
	assert.Nil(t, md.ToSubAddress)
	assert.Nil(t, md.FromSubAddress)
}

func TestParseMetadataRejectsUnknownVariant(t *testing.T) {
	_, err := ParseMetadata([]byte{0x7f, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnknownMetadata)
}

func TestParseMetadataRejectsShortInput(t *testing.T) {
	_, err := ParseMetadata(nil)
	assert.ErrorIs(t, err, ErrUnknownMetadata)

	_, err = ParseMetadata([]byte{0x01})
	assert.ErrorIs(t, err, ErrUnknownMetadata)
}

func TestParseMetadataRejectsWrongVersion(t *testing.T) {
	_, err := ParseMetadata([]byte{0x01, 0x09, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnknownMetadata)
}

func TestParseMetadataRejectsTruncatedOption(t *testing.T) {
	// Option claims 8 bytes but carries only 2.
	_, err := ParseMetadata([]byte{0x01, 0x00, 0x01, 0x08, 0xaa, 0xbb})
	assert.ErrorIs(t, err, ErrUnknownMetadata)
}

func TestParseMetadataRejectsBadSubAddressLength(t *testing.T) {
	// General metadata with a 3-byte to_subaddress option.
	_, err := ParseMetadata([]byte{0x01, 0x00, 0x01, 0x03, 0x01, 0x02, 0x03, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrInvalidSubAddress)
}

func TestTravelRuleAttestMessageLayout(t *testing.T) {
	refID := "ref-1"
	sender := testAddress()

	msg := TravelRuleAttestMessage(refID, sender, 0x0102030405060708)

	require.Len(t, msg, len(refID)+AccountAddressLength+8+len("@@$$LIBRA_ATTEST$$@@"))
	assert.Equal(t, []byte(refID), msg[:len(refID)])
	assert.Equal(t, sender[:], msg[len(refID):len(refID)+AccountAddressLength])

	amount := msg[len(refID)+AccountAddressLength : len(refID)+AccountAddressLength+8]
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, amount)

	assert.Equal(t, []byte("@@$$LIBRA_ATTEST$$@@"), msg[len(msg)-20:])
}
