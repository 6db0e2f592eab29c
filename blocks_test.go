package kdbx

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoelzro/go-kdbx/internal/fakerand"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := io.ReadFull(fakerand.New(t.Name()), b)
	require.NoError(t, err)
	return b
}

func TestHashedBlocksRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, blockSize, blockSize*2 + 17} {
		data := randomBytes(t, n)
		var buf bytes.Buffer
		require.NoError(t, writeHashedBlocks(context.Background(), &buf, data))
		got, err := readHashedBlocks(context.Background(), &buf)
		require.NoError(t, err)
		require.Equal(t, len(data), len(got))
		require.True(t, bytes.Equal(data, got), "%d bytes", n)
	}
}

func TestHashedBlocksCorrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHashedBlocks(context.Background(), &buf, []byte("some block content")))
	good := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"data", func(b []byte) []byte { b[4+sha256.Size+4] ^= 1; return b }},
		{"hash", func(b []byte) []byte { b[4] ^= 1; return b }},
		{"index", func(b []byte) []byte { b[0] = 1; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-10] }},
		{"terminator hash", func(b []byte) []byte { b[len(b)-5] = 1; return b }},
	}
	for _, test := range tests {
		data := test.mutate(append([]byte(nil), good...))
		_, err := readHashedBlocks(context.Background(), bytes.NewReader(data))
		require.ErrorIs(t, err, ErrDataIntegrityProblem, test.name)
	}
}

func TestHMACBlocksRoundTrip(t *testing.T) {
	key := hmacKey(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32))
	require.Len(t, key, 64)
	for _, n := range []int{0, 100, blockSize + 1} {
		data := randomBytes(t, n)
		var buf bytes.Buffer
		require.NoError(t, writeHMACBlocks(context.Background(), &buf, key, data))
		got, err := readHMACBlocks(context.Background(), &buf, key)
		require.NoError(t, err)
		require.True(t, bytes.Equal(data, got), "%d bytes", n)
	}
}

func TestHMACBlocksCorrupt(t *testing.T) {
	key := hmacKey(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32))
	var buf bytes.Buffer
	require.NoError(t, writeHMACBlocks(context.Background(), &buf, key, []byte("block one")))
	good := buf.Bytes()

	_, err := readHMACBlocks(context.Background(), bytes.NewReader(good), hmacKey(make([]byte, 32), make([]byte, 32)))
	require.ErrorIs(t, err, ErrDataIntegrityProblem, "wrong key")

	flipped := append([]byte(nil), good...)
	flipped[sha256.Size+4] ^= 1
	_, err = readHMACBlocks(context.Background(), bytes.NewReader(flipped), key)
	require.ErrorIs(t, err, ErrDataIntegrityProblem, "flipped data")

	_, err = readHMACBlocks(context.Background(), bytes.NewReader(good[:len(good)-1]), key)
	require.ErrorIs(t, err, ErrDataIntegrityProblem, "truncated")
}

func TestBlockHMACDependsOnIndex(t *testing.T) {
	key := hmacKey(make([]byte, 32), make([]byte, 32))
	require.NotEqual(t, blockHMAC(0, key, []byte("x")), blockHMAC(1, key, []byte("x")))
	require.NotEqual(t, blockHMAC(headerBlockIndex, key, []byte("x")), headerHMAC(key, []byte("y")))
}

func TestBlocksCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	require.ErrorIs(t, writeHashedBlocks(ctx, &buf, []byte("x")), context.Canceled)
	_, err := readHashedBlocks(ctx, &buf)
	require.ErrorIs(t, err, ErrOperationCancelled)
}

func TestOversizedBlockLength(t *testing.T) {
	var data bytes.Buffer
	data.Write(make([]byte, sha256.Size))
	binary.Write(&data, binary.LittleEndian, uint32(maxBlockSize))
	data.Write(bytes.Repeat([]byte{1}, 100))

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := readHMACBlocks(context.Background(), &data, make([]byte, 64))
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, ErrDataIntegrityProblem)
	require.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestReadBytesLarge(t *testing.T) {
	want := randomBytes(t, 3*readChunk+5)
	r := &reader{r: bytes.NewReader(want)}
	require.Equal(t, want, r.readBytes(len(want)))
	require.NoError(t, r.err)

	r = &reader{r: bytes.NewReader(want)}
	require.Nil(t, r.readBytes(len(want)+1))
	require.ErrorIs(t, r.err, io.ErrUnexpectedEOF)
}
