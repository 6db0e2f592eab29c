package rng

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/salsa20/salsa"
)

// quarter round vectors from the Salsa20 paper
func TestQuarterRound(t *testing.T) {
	tests := []struct {
		in   [4]uint32
		want [4]uint32
	}{
		{[4]uint32{0, 0, 0, 0}, [4]uint32{0, 0, 0, 0}},
		{[4]uint32{1, 0, 0, 0}, [4]uint32{0x08008145, 0x80, 0x10200, 0x20500000}},
		{[4]uint32{0, 1, 0, 0}, [4]uint32{0x88000100, 0x1, 0x200, 0x402000}},
		{[4]uint32{0, 0, 1, 0}, [4]uint32{0x80040000, 0, 0x1, 0x2000}},
		{[4]uint32{0, 0, 0, 1}, [4]uint32{0x48044, 0x80, 0x10000, 0x20100001}},
		{[4]uint32{0xe7e8c006, 0xc4f9417d, 0x6479b4b2, 0x68c67137}, [4]uint32{0xe876d72b, 0x9361dfd5, 0xf1460244, 0x948541a3}},
		{[4]uint32{0xd3917c5b, 0x55f1c407, 0x52a58a7a, 0x8f887a3b}, [4]uint32{0x3e2f308c, 0xd90a8f36, 0x6ab2a923, 0x2883524c}},
	}
	for _, test := range tests {
		got := test.in
		qr(&got[0], &got[1], &got[2], &got[3])
		if got != test.want {
			t.Errorf("qr(%#x) = %#x; want %#x", test.in, got, test.want)
		}
	}
}

func referenceKeystream(key []byte, iv []byte, n int) []byte {
	var k [32]byte
	copy(k[:], key)
	var counter [16]byte
	copy(counter[:], iv)
	out := make([]byte, n)
	salsa.XORKeyStream(out, make([]byte, n), &counter, &k)
	return out
}

func TestSalsa20MatchesReference(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	iv := []byte{3, 1, 4, 1, 5, 9, 2, 6}

	s, err := NewSalsa20Cipher(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	got := s.GetBytes(1000)
	if d := cmp.Diff(referenceKeystream(key, iv, 1000), got); d != "" {
		t.Errorf("keystream mismatch (-want +got):\n%s", d)
	}
}

func TestSalsa20KeePassSeed(t *testing.T) {
	seed := []byte("protected stream key")
	key := sha256.Sum256(seed)

	got := NewSalsa20(seed).GetBytes(200)
	if d := cmp.Diff(referenceKeystream(key[:], KeePassSalsa20IV, 200), got); d != "" {
		t.Errorf("keystream mismatch (-want +got):\n%s", d)
	}
}

func TestDifferingBufferSize(t *testing.T) {
	seed := []byte{1, 2, 3, 4}
	canonicalBlock := NewSalsa20(seed).GetBytes(1024)

	for bufferSize := 1; bufferSize <= 129; bufferSize++ {
		thisBlock := make([]byte, 1024)
		s := NewSalsa20(seed)
		for offset := 0; offset < len(thisBlock); offset += bufferSize {
			end := min(offset+bufferSize, len(thisBlock))
			s.Read(thisBlock[offset:end])
		}

		if !bytes.Equal(thisBlock, canonicalBlock) {
			t.Fatalf("Reading in chunks of %d didn't have the correct results", bufferSize)
		}
	}
}

func TestZeroBuffer(t *testing.T) {
	seed := []byte{9, 9, 9}

	withZeroRead := NewSalsa20(seed)
	buf := make([]byte, 32)
	withZeroRead.Read(buf[0:16])
	n, err := withZeroRead.Read(make([]byte, 0))
	if err != nil {
		t.Fatal("Reading into a zero-length buffer should succeed")
	}
	if n != 0 {
		t.Fatal("Reading into a zero-length buffer should return 0 bytes read")
	}
	withZeroRead.Read(buf[16:32])

	if !bytes.Equal(buf, NewSalsa20(seed).GetBytes(32)) {
		t.Fatal("Reading into a zero-length buffer shouldn't affect the state of the stream")
	}
}

func TestNewSalsa20CipherRejectsBadSizes(t *testing.T) {
	if _, err := NewSalsa20Cipher(make([]byte, 16), KeePassSalsa20IV); err == nil {
		t.Error("NewSalsa20Cipher accepted a 16-byte key")
	}
	if _, err := NewSalsa20Cipher(make([]byte, 32), make([]byte, 12)); err == nil {
		t.Error("NewSalsa20Cipher accepted a 12-byte IV")
	}
}
