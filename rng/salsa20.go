package rng

// only implements the 256-bit Salsa20

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

const salsa20Rounds = 20

// KeePassSalsa20IV is the fixed nonce KeePass uses for its Salsa20 inner stream.
var KeePassSalsa20IV = []byte{0xe8, 0x30, 0x09, 0x4b, 0x97, 0x20, 0x5d, 0x2a}

// Salsa20Stream is a Salsa20/20 keystream.
type Salsa20Stream struct {
	seed   []byte // nil when constructed from a raw key
	key    []byte
	iv     []byte
	state  [16]uint32
	output [64]byte
	offset int // bytes of output already consumed; 64 means empty
}

func rotl(a, b uint32) uint32 {
	return (a << b) | (a >> (32 - b))
}

func qr(a, b, c, d *uint32) {
	*b ^= rotl(*a+*d, 7)
	*c ^= rotl(*b+*a, 9)
	*d ^= rotl(*c+*b, 13)
	*a ^= rotl(*d+*c, 18)
}

func salsa20Block(dst, src *[16]uint32) {
	x := *src

	for i := 0; i < salsa20Rounds; i += 2 {
		// column round
		qr(&x[0], &x[4], &x[8], &x[12])
		qr(&x[5], &x[9], &x[13], &x[1])
		qr(&x[10], &x[14], &x[2], &x[6])
		qr(&x[15], &x[3], &x[7], &x[11])

		// row round
		qr(&x[0], &x[1], &x[2], &x[3])
		qr(&x[5], &x[6], &x[7], &x[4])
		qr(&x[10], &x[11], &x[8], &x[9])
		qr(&x[15], &x[12], &x[13], &x[14])
	}

	for i := range x {
		dst[i] = x[i] + src[i]
	}
}

// NewSalsa20 returns the KeePass Salsa20 inner stream for seed: the key is
// SHA-256(seed) and the nonce is KeePassSalsa20IV.
func NewSalsa20(seed []byte) *Salsa20Stream {
	key := sha256.Sum256(seed)
	s, _ := NewSalsa20Cipher(key[:], KeePassSalsa20IV)
	s.seed = cloneBytes(seed)
	return s
}

// NewSalsa20Cipher returns a raw Salsa20 keystream for a 32-byte key and an
// 8-byte nonce, starting at block 0.
func NewSalsa20Cipher(key, iv []byte) (*Salsa20Stream, error) {
	if len(key) != 32 {
		return nil, errors.New("rng: salsa20 keys must be 32 bytes long")
	}
	if len(iv) != 8 {
		return nil, errors.New("rng: salsa20 IVs must be 8 bytes long")
	}

	s := &Salsa20Stream{key: cloneBytes(key), iv: cloneBytes(iv), offset: 64}

	// nothing-up-my-sleeve number
	sigma := []byte("expand 32-byte k")
	s.state[0] = binary.LittleEndian.Uint32(sigma[0:])
	s.state[5] = binary.LittleEndian.Uint32(sigma[4:])
	s.state[10] = binary.LittleEndian.Uint32(sigma[8:])
	s.state[15] = binary.LittleEndian.Uint32(sigma[12:])

	s.state[6] = binary.LittleEndian.Uint32(iv[0:])
	s.state[7] = binary.LittleEndian.Uint32(iv[4:])

	// stream position
	s.state[8] = 0
	s.state[9] = 0

	for i := 0; i < 4; i++ {
		s.state[1+i] = binary.LittleEndian.Uint32(key[4*i:])
		s.state[11+i] = binary.LittleEndian.Uint32(key[16+4*i:])
	}

	return s, nil
}

func (s *Salsa20Stream) refill() {
	var out [16]uint32
	salsa20Block(&out, &s.state)
	for i, w := range out {
		binary.LittleEndian.PutUint32(s.output[4*i:], w)
	}
	s.state[8]++
	if s.state[8] == 0 {
		s.state[9]++
	}
	s.offset = 0
}

func (s *Salsa20Stream) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if s.offset == len(s.output) {
			s.refill()
		}
		c := copy(p[n:], s.output[s.offset:])
		s.offset += c
		n += c
	}
	return n, nil
}

// XORKeyStream XORs src with the keystream into dst.
func (s *Salsa20Stream) XORKeyStream(dst, src []byte) {
	ks := s.GetBytes(len(src))
	for i := range src {
		dst[i] = src[i] ^ ks[i]
	}
}

func (s *Salsa20Stream) Algorithm() Algorithm { return Salsa20 }

func (s *Salsa20Stream) Seed() []byte {
	if s.seed == nil {
		return cloneBytes(s.key)
	}
	return cloneBytes(s.seed)
}

func (s *Salsa20Stream) GetBytes(n int) []byte { return getBytes(s, n) }

func (s *Salsa20Stream) Clone() Generator {
	if s.seed != nil {
		return NewSalsa20(s.seed)
	}
	c, _ := NewSalsa20Cipher(s.key, s.iv)
	return c
}
