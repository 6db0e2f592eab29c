package kdf

import (
	"context"
	"crypto/aes"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/hoelzro/go-kdbx/variant"
)

const (
	DefaultAESRounds = 60000

	// rounds between cancellation checks
	aesCheckInterval = 10000
)

// AES is the legacy KeePass transform: the composite key is encrypted Rounds
// times with AES-256-ECB keyed by Seed, then hashed.
type AES struct {
	Seed   []byte
	Rounds uint64
}

func parseAES(d *variant.Dictionary) (*AES, error) {
	seed, ok := d.Bytes("S")
	if !ok {
		return nil, fmt.Errorf("%w: AES seed missing", ErrInvalidParameters)
	}
	rounds, ok := d.Uint64("R")
	if !ok {
		return nil, fmt.Errorf("%w: AES rounds missing", ErrInvalidParameters)
	}
	k := &AES{Seed: seed, Rounds: rounds}
	if err := k.validate(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *AES) validate() error {
	if len(k.Seed) != 32 {
		return fmt.Errorf("%w: AES seed size is %d, should be 32", ErrInvalidParameters, len(k.Seed))
	}
	return nil
}

func (k *AES) UUID() uuid.UUID { return AESUUID }

func (k *AES) Transform(ctx context.Context, compositeKey []byte) ([]byte, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}
	if len(compositeKey) != 32 {
		return nil, fmt.Errorf("kdf: composite key size is %d, should be 32", len(compositeKey))
	}

	var (
		wg   sync.WaitGroup
		tk   [sha256.Size]byte
		errs [2]error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = transformKeyBlock(ctx, tk[:aes.BlockSize], compositeKey[:aes.BlockSize], k.Seed, k.Rounds)
	}()
	go func() {
		defer wg.Done()
		errs[1] = transformKeyBlock(ctx, tk[aes.BlockSize:], compositeKey[aes.BlockSize:], k.Seed, k.Rounds)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	tk = sha256.Sum256(tk[:])
	return tk[:], nil
}

// transformKeyBlock applies rounds of AES encryption using seed to src and
// stores the result in dst.
func transformKeyBlock(ctx context.Context, dst, src, seed []byte, rounds uint64) error {
	dst = dst[:aes.BlockSize]
	copy(dst, src)
	c, err := aes.NewCipher(seed)
	if err != nil {
		return err
	}
	for i := uint64(0); i < rounds; i++ {
		if i%aesCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		c.Encrypt(dst, dst)
	}
	return ctx.Err()
}

func (k *AES) Reseed(rand io.Reader) error {
	seed, err := readSeed(rand, 32)
	if err != nil {
		return err
	}
	k.Seed = seed
	return nil
}

func (k *AES) Dictionary() *variant.Dictionary {
	d := newDictionary(AESUUID)
	d.Set("R", k.Rounds)
	d.Set("S", k.Seed)
	return d
}

func (k *AES) Clone() Parameters {
	return &AES{Seed: append([]byte(nil), k.Seed...), Rounds: k.Rounds}
}
