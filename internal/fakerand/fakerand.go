// Package fakerand provides a deterministic random source, suitable for testing.
package fakerand

import (
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// New returns a reader that yields the same sequence of bytes every time
// for the same label. The reader can be used from multiple goroutines.
func New(label string) io.Reader {
	key := sha256.Sum256([]byte(label))
	c, err := chacha20.NewUnauthenticatedCipher(key[:], make([]byte, chacha20.NonceSize))
	if err != nil {
		panic(err)
	}
	return &reader{c: c}
}

type reader struct {
	mu sync.Mutex
	c  *chacha20.Cipher
}

func (r *reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		p[i] = 0
	}
	r.c.XORKeyStream(p, p)
	return len(p), nil
}
