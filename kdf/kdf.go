// Package kdf implements the key derivation functions a KDBX header can name:
// the legacy AES transform and Argon2 (d and id variants).
package kdf

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/hoelzro/go-kdbx/variant"
)

// Identifiers stored under the "$UUID" key of the KDF parameters.
var (
	AESUUID      = uuid.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea")
	Argon2dUUID  = uuid.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c")
	Argon2idUUID = uuid.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6")
)

const uuidKey = "$UUID"

// Errors
var (
	ErrUnknownKDF        = errors.New("kdf: unknown key derivation function")
	ErrInvalidParameters = errors.New("kdf: invalid parameters")
)

// Parameters is a configured key derivation function.
type Parameters interface {
	UUID() uuid.UUID

	// Transform stretches a composite key. It returns ctx.Err() if ctx is
	// done before the transform completes.
	Transform(ctx context.Context, compositeKey []byte) ([]byte, error)

	// Reseed replaces the salt/seed with fresh bytes from rand.
	Reseed(rand io.Reader) error

	// Dictionary serializes the parameters for the KdfParameters header field.
	Dictionary() *variant.Dictionary

	Clone() Parameters
}

// Parse builds Parameters from a KdfParameters dictionary.
func Parse(d *variant.Dictionary) (Parameters, error) {
	raw, ok := d.Bytes(uuidKey)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidParameters, uuidKey)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	switch id {
	case AESUUID:
		return parseAES(d)
	case Argon2dUUID:
		return parseArgon2(d, Argon2d)
	case Argon2idUUID:
		return parseArgon2(d, Argon2id)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKDF, id)
	}
}

func newDictionary(id uuid.UUID) *variant.Dictionary {
	d := variant.New()
	d.Set(uuidKey, id[:])
	return d
}

func readSeed(rand io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand, b); err != nil {
		return nil, err
	}
	return b, nil
}
