package blockstore

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
)

// codecCBOR is the content-identifier codec byte for a CBOR-encoded block,
// the only codec this node emits (spec §6 "CIDs follow the content-
// identifier standard with SHA2-256 digests").
const codecCBOR = 0x51

// CID is a block's hash in self-describing form: a codec byte followed by
// the SHA2-256 digest of its content. Equal content implies equal CID.
type CID struct {
	codec  byte
	digest [32]byte
}

// ErrInvalidCID is returned when decoding a malformed CID string.
var ErrInvalidCID = errors.New("blockstore: invalid cid")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Sum computes the CID of data.
func Sum(data []byte) CID {
	return CID{codec: codecCBOR, digest: sha256.Sum256(data)}
}

// String renders the CID in multibase lowercase-base32 form ("b" prefix).
func (c CID) String() string {
	buf := make([]byte, 0, 1+len(c.digest))
	buf = append(buf, c.codec)
	buf = append(buf, c.digest[:]...)
	return "b" + b32.EncodeToString(buf)
}

// ParseCID decodes the string form produced by String.
func ParseCID(s string) (CID, error) {
	if len(s) == 0 || s[0] != 'b' {
		return CID{}, fmt.Errorf("%w: unsupported multibase prefix in %q", ErrInvalidCID, s)
	}
	raw, err := b32.DecodeString(s[1:])
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	if len(raw) != 1+32 {
		return CID{}, fmt.Errorf("%w: wrong length", ErrInvalidCID)
	}
	var c CID
	c.codec = raw[0]
	copy(c.digest[:], raw[1:])
	return c, nil
}

// IsZero reports whether c is the zero-value CID (never a valid digest of
// anything this node can produce, used as a "no root" sentinel).
func (c CID) IsZero() bool {
	return c.codec == 0 && c.digest == [32]byte{}
}
