// Package rng implements the keystream generators KeePass uses to protect
// individual strings inside a database document.
//
// A Generator is deterministic for a given seed and only moves forward.
// Clone returns a brand new generator built from the original seed, not a
// copy of the current position.
package rng

import (
	"errors"
	"fmt"
	"io"
)

// Algorithm identifies an inner stream cipher, as stored in the
// InnerRandomStreamID header field.
type Algorithm uint32

const (
	None           Algorithm = 0
	ArcFourVariant Algorithm = 1
	Salsa20        Algorithm = 2
	ChaCha20       Algorithm = 3
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "None"
	case ArcFourVariant:
		return "ArcFourVariant"
	case Salsa20:
		return "Salsa20"
	case ChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint32(a))
	}
}

// ErrUnknownAlgorithm is returned by New for unsupported algorithm IDs.
var ErrUnknownAlgorithm = errors.New("rng: unknown algorithm")

// Generator produces a keystream.
type Generator interface {
	io.Reader

	Algorithm() Algorithm

	// Seed returns a copy of the seed the generator was created with.
	Seed() []byte

	// GetBytes returns the next n bytes of keystream.
	GetBytes(n int) []byte

	// Clone returns a new generator re-initialized from the original seed.
	Clone() Generator
}

// New creates the generator for alg, seeded with seed.
func New(alg Algorithm, seed []byte) (Generator, error) {
	if len(seed) == 0 {
		return nil, errors.New("rng: empty seed")
	}
	switch alg {
	case ArcFourVariant:
		return NewArcFourVariant(seed), nil
	case Salsa20:
		return NewSalsa20(seed), nil
	case ChaCha20:
		return NewChaCha20(seed), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint32(alg))
	}
}

// SeedSize is the length of freshly generated inner stream keys for alg.
func SeedSize(alg Algorithm) int {
	if alg == ChaCha20 {
		return 64
	}
	return 32
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

func getBytes(r io.Reader, n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	b := make([]byte, n)
	r.Read(b)
	return b
}
