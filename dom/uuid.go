package dom

import (
	cryptorand "crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// UUID identifies a group, entry or icon. In XML it is stored as the
// base64 encoding of its 16 bytes.
type UUID uuid.UUID

// Empty is the all-zero UUID, used for "no group" references.
var Empty UUID

// NewUUID returns a random (version 4) UUID drawn from rand, or from
// crypto/rand if rand is nil.
func NewUUID(rand io.Reader) (UUID, error) {
	if rand == nil {
		rand = cryptorand.Reader
	}
	u, err := uuid.NewRandomFromReader(rand)
	if err != nil {
		return Empty, fmt.Errorf("dom: generating UUID: %w", err)
	}
	return UUID(u), nil
}

// ParseUUID decodes the base64 form used in KeePass XML.
func ParseUUID(encoded string) (UUID, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Empty, err
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Empty, err
	}
	return UUID(u), nil
}

// Encoded returns the base64 form used in KeePass XML.
func (u UUID) Encoded() string {
	return base64.StdEncoding.EncodeToString(u[:])
}

func (u UUID) IsEmpty() bool { return u == Empty }

func (u UUID) String() string { return uuid.UUID(u).String() }
