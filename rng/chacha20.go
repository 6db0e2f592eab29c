package rng

import (
	"crypto/sha512"

	"golang.org/x/crypto/chacha20"
)

// ChaCha20Stream is an RFC 7539 ChaCha20 keystream.
type ChaCha20Stream struct {
	seed    []byte // nil when constructed from a raw key
	key     []byte
	nonce   []byte
	counter uint32
	c       *chacha20.Cipher
}

// NewChaCha20 returns the KeePass ChaCha20 inner stream for seed: SHA-512 of
// the seed supplies a 32-byte key followed by a 12-byte nonce.
func NewChaCha20(seed []byte) *ChaCha20Stream {
	sum := sha512.Sum512(seed)
	s, err := NewChaCha20Cipher(sum[:32], sum[32:32+chacha20.NonceSize], 0)
	if err != nil {
		panic(err) // key and nonce sizes are fixed above
	}
	s.seed = cloneBytes(seed)
	return s
}

// NewChaCha20Cipher returns a raw ChaCha20 keystream starting at block counter.
func NewChaCha20Cipher(key, nonce []byte, counter uint32) (*ChaCha20Stream, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	c.SetCounter(counter)
	return &ChaCha20Stream{
		key:     cloneBytes(key),
		nonce:   cloneBytes(nonce),
		counter: counter,
		c:       c,
	}, nil
}

func (s *ChaCha20Stream) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	s.c.XORKeyStream(p, p)
	return len(p), nil
}

func (s *ChaCha20Stream) Algorithm() Algorithm { return ChaCha20 }

func (s *ChaCha20Stream) Seed() []byte {
	if s.seed == nil {
		return cloneBytes(s.key)
	}
	return cloneBytes(s.seed)
}

func (s *ChaCha20Stream) GetBytes(n int) []byte { return getBytes(s, n) }

func (s *ChaCha20Stream) Clone() Generator {
	if s.seed != nil {
		return NewChaCha20(s.seed)
	}
	c, err := NewChaCha20Cipher(s.key, s.nonce, s.counter)
	if err != nil {
		panic(err)
	}
	return c
}
