package chain

import (
	"errors"

	"vasppay/internal/common/money"
)

// Transaction metadata variant tags. Metadata is a canonically serialized
// enum: a uleb128 variant index followed by the variant payload.
const (
	metadataGeneralTag    = 0x01
	metadataTravelRuleTag = 0x02

	metadataVersionV0 = 0x00
)

// attestSuffix terminates the signed travel-rule message.
const attestSuffix = "@@$$LIBRA_ATTEST$$@@"

// NewTravelRuleMetadata encodes travel-rule metadata carrying the off-chain
// reference id.
func NewTravelRuleMetadata(referenceID string) []byte {
	out := []byte{metadataTravelRuleTag, metadataVersionV0}
	out = appendOptionBytes(out, []byte(referenceID))
	return out
}

// NewGeneralMetadata encodes general metadata with optional from/to
// sub-addresses, used for sub-threshold transfers.
func NewGeneralMetadata(fromSub, toSub SubAddress) []byte {
	out := []byte{metadataGeneralTag, metadataVersionV0}
	if toSub.IsZero() {
		out = appendOptionBytes(out, nil)
	} else {
		out = appendOptionBytes(out, toSub[:])
	}
	if fromSub.IsZero() {
		out = appendOptionBytes(out, nil)
	} else {
		out = appendOptionBytes(out, fromSub[:])
	}
	// referenced_event: absent
	out = append(out, 0x00)
	return out
}

// TravelRuleAttestMessage builds the message the receiver's compliance key
// signs: reference id, sender account address bytes, amount as little-endian
// u64, and the fixed attest suffix.
func TravelRuleAttestMessage(referenceID string, sender AccountAddress, amount uint64) []byte {
	msg := make([]byte, 0, len(referenceID)+AccountAddressLength+8+len(attestSuffix))
	msg = append(msg, []byte(referenceID)...)
	msg = append(msg, sender[:]...)
	msg = append(msg, money.LittleEndianBytes(amount)...)
	msg = append(msg, []byte(attestSuffix)...)
	return msg
}

// GeneralMetadata is the decoded form of a general metadata payload.
type GeneralMetadata struct {
	ToSubAddress   *SubAddress
	FromSubAddress *SubAddress
}

// TravelRuleMetadata is the decoded form of a travel-rule payload.
type TravelRuleMetadata struct {
	ReferenceID string
}

// ErrUnknownMetadata marks payloads this code does not understand.
var ErrUnknownMetadata = errors.New("unknown metadata variant")

// ParseMetadata decodes a metadata payload into *GeneralMetadata or
// *TravelRuleMetadata.
func ParseMetadata(raw []byte) (any, error) {
	if len(raw) < 2 || raw[1] != metadataVersionV0 {
		return nil, ErrUnknownMetadata
	}
	rest := raw[2:]

	switch raw[0] {
	case metadataGeneralTag:
		var md GeneralMetadata
		to, rest, err := readOptionBytes(rest)
		if err != nil {
			return nil, err
		}
		from, _, err := readOptionBytes(rest)
		if err != nil {
			return nil, err
		}
		if to != nil {
			if len(to) != SubAddressLength {
				return nil, ErrInvalidSubAddress
			}
			var sub SubAddress
			copy(sub[:], to)
			md.ToSubAddress = &sub
		}
		if from != nil {
			if len(from) != SubAddressLength {
				return nil, ErrInvalidSubAddress
			}
			var sub SubAddress
			copy(sub[:], from)
			md.FromSubAddress = &sub
		}
		return &md, nil

	case metadataTravelRuleTag:
		ref, _, err := readOptionBytes(rest)
		if err != nil {
			return nil, err
		}
		return &TravelRuleMetadata{ReferenceID: string(ref)}, nil

	default:
		return nil, ErrUnknownMetadata
	}
}

func readOptionBytes(in []byte) ([]byte, []byte, error) {
	if len(in) == 0 {
		return nil, nil, ErrUnknownMetadata
	}
	if in[0] == 0x00 {
		return nil, in[1:], nil
	}
	n, rest, err := readULEB128(in[1:])
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, ErrUnknownMetadata
	}
	return rest[:n], rest[n:], nil
}

func readULEB128(in []byte) (uint64, []byte, error) {
	var v uint64
	var shift uint
	for i, b := range in {
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, in[i+1:], nil
		}
		shift += 7
		if shift > 63 {
			break
		}
	}
	return 0, nil, ErrUnknownMetadata
}

// appendOptionBytes appends an optional byte string: 0x00 for absent,
// 0x01 followed by a uleb128 length and the bytes for present.
func appendOptionBytes(out, b []byte) []byte {
	if b == nil {
		return append(out, 0x00)
	}
	out = append(out, 0x01)
	out = appendULEB128(out, uint64(len(b)))
	return append(out, b...)
}

func appendULEB128(out []byte, v uint64) []byte {
	for v >= 0x80 {
		out = append(out, byte(v)|0x80)
		v >>= 7
	}
	return append(out, byte(v))
}
