package kdf

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/hoelzro/go-kdbx/variant"
)

// Argon2Variant selects between Argon2d and Argon2id.
type Argon2Variant int

const (
	Argon2d Argon2Variant = iota
	Argon2id
)

func (v Argon2Variant) String() string {
	if v == Argon2id {
		return "Argon2id"
	}
	return "Argon2d"
}

// Bounds enforced on Argon2 parameters read from a header.
const (
	Argon2MinParallelism = 1
	Argon2MaxParallelism = 1<<24 - 1
	Argon2MinIterations  = 1
	Argon2MaxIterations  = math.MaxUint32
	Argon2MinMemory      = 8 * 1024 // bytes
	Argon2MaxMemory      = math.MaxUint32 * 1024
	Argon2MinSaltSize    = 8

	DefaultArgon2Iterations  = 2
	DefaultArgon2Memory      = 64 * 1024 * 1024
	DefaultArgon2Parallelism = 2
)

// Argon2 holds Argon2 KDF parameters. Memory is in bytes, as stored in the file.
type Argon2 struct {
	Variant     Argon2Variant
	Salt        []byte
	Parallelism uint32
	Memory      uint64
	Iterations  uint64
	Version     uint32
	Secret      []byte // optional "K"
	AssocData   []byte // optional "A"
}

// DefaultArgon2 returns the usual KeePass defaults. The salt is empty
// until Reseed is called.
func DefaultArgon2(variant Argon2Variant) *Argon2 {
	return &Argon2{
		Variant:     variant,
		Parallelism: DefaultArgon2Parallelism,
		Memory:      DefaultArgon2Memory,
		Iterations:  DefaultArgon2Iterations,
		Version:     argon2Version13,
	}
}

// NewArgon2 returns parameters with the usual KeePass defaults and a salt read from rand.
func NewArgon2(variant Argon2Variant, rand io.Reader) (*Argon2, error) {
	k := DefaultArgon2(variant)
	if err := k.Reseed(rand); err != nil {
		return nil, err
	}
	return k, nil
}

func parseArgon2(d *variant.Dictionary, v Argon2Variant) (*Argon2, error) {
	k := &Argon2{Variant: v}
	var ok bool
	if k.Salt, ok = d.Bytes("S"); !ok {
		return nil, fmt.Errorf("%w: Argon2 salt missing", ErrInvalidParameters)
	}
	if k.Parallelism, ok = d.Uint32("P"); !ok {
		return nil, fmt.Errorf("%w: Argon2 parallelism missing", ErrInvalidParameters)
	}
	if k.Memory, ok = d.Uint64("M"); !ok {
		return nil, fmt.Errorf("%w: Argon2 memory missing", ErrInvalidParameters)
	}
	if k.Iterations, ok = d.Uint64("I"); !ok {
		return nil, fmt.Errorf("%w: Argon2 iterations missing", ErrInvalidParameters)
	}
	if k.Version, ok = d.Uint32("V"); !ok {
		return nil, fmt.Errorf("%w: Argon2 version missing", ErrInvalidParameters)
	}
	k.Secret, _ = d.Bytes("K")
	k.AssocData, _ = d.Bytes("A")

	if err := k.validate(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Argon2) validate() error {
	switch {
	case k.Version != argon2Version10 && k.Version != argon2Version13:
		return fmt.Errorf("%w: Argon2 version %#x", ErrInvalidParameters, k.Version)
	case len(k.Salt) < Argon2MinSaltSize:
		return fmt.Errorf("%w: Argon2 salt is %d bytes", ErrInvalidParameters, len(k.Salt))
	case k.Parallelism < Argon2MinParallelism || k.Parallelism > Argon2MaxParallelism:
		return fmt.Errorf("%w: Argon2 parallelism %d", ErrInvalidParameters, k.Parallelism)
	case k.Iterations < Argon2MinIterations || k.Iterations > Argon2MaxIterations:
		return fmt.Errorf("%w: Argon2 iterations %d", ErrInvalidParameters, k.Iterations)
	case k.Memory < Argon2MinMemory || k.Memory > Argon2MaxMemory:
		return fmt.Errorf("%w: Argon2 memory %d", ErrInvalidParameters, k.Memory)
	case k.Memory/1024 < 8*uint64(k.Parallelism):
		return fmt.Errorf("%w: Argon2 memory %d below 8 KiB per lane for %d lanes", ErrInvalidParameters, k.Memory, k.Parallelism)
	}
	return nil
}

func (k *Argon2) UUID() uuid.UUID {
	if k.Variant == Argon2id {
		return Argon2idUUID
	}
	return Argon2dUUID
}

func (k *Argon2) Transform(ctx context.Context, compositeKey []byte) ([]byte, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	memoryKiB := uint32(k.Memory / 1024)
	if k.Variant == Argon2id && k.Version == argon2Version13 &&
		len(k.Secret) == 0 && len(k.AssocData) == 0 && k.Parallelism <= math.MaxUint8 {
		return k.idKey(ctx, compositeKey, memoryKiB)
	}

	mode := argon2d
	if k.Variant == Argon2id {
		mode = argon2id
	}
	return deriveArgon2(ctx, argon2Input{
		mode:     mode,
		version:  k.Version,
		password: compositeKey,
		salt:     k.Salt,
		secret:   k.Secret,
		data:     k.AssocData,
		time:     uint32(k.Iterations),
		memory:   memoryKiB,
		threads:  k.Parallelism,
		keyLen:   32,
	})
}

// idKey runs x/crypto's Argon2id. It cannot be interrupted, so a cancelled
// context abandons the computation and returns immediately.
func (k *Argon2) idKey(ctx context.Context, password []byte, memoryKiB uint32) ([]byte, error) {
	done := make(chan []byte, 1)
	go func() {
		done <- argon2.IDKey(password, k.Salt, uint32(k.Iterations), memoryKiB, uint8(k.Parallelism), 32)
	}()
	select {
	case key := <-done:
		return key, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (k *Argon2) Reseed(rand io.Reader) error {
	salt, err := readSeed(rand, 32)
	if err != nil {
		return err
	}
	k.Salt = salt
	return nil
}

func (k *Argon2) Dictionary() *variant.Dictionary {
	d := newDictionary(k.UUID())
	d.Set("S", k.Salt)
	d.Set("P", k.Parallelism)
	d.Set("M", k.Memory)
	d.Set("I", k.Iterations)
	d.Set("V", k.Version)
	if len(k.Secret) > 0 {
		d.Set("K", k.Secret)
	}
	if len(k.AssocData) > 0 {
		d.Set("A", k.AssocData)
	}
	return d
}

func (k *Argon2) Clone() Parameters {
	c := *k
	c.Salt = append([]byte(nil), k.Salt...)
	c.Secret = append([]byte(nil), k.Secret...)
	c.AssocData = append([]byte(nil), k.AssocData...)
	return &c
}
