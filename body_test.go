package kdbx

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPKCS7(t *testing.T) {
	for n := 0; n <= 33; n++ {
		in := bytes.Repeat([]byte{'x'}, n)
		padded := pkcs7Pad(append([]byte(nil), in...), 16)
		require.Zero(t, len(padded)%16)
		require.Greater(t, len(padded), n)
		got, err := pkcs7Strip(padded, 16)
		require.NoError(t, err)
		require.Equal(t, in, got)
	}

	bad := bytes.Repeat([]byte{3}, 16)
	bad[14] = 2
	_, err := pkcs7Strip(bad, 16)
	require.ErrorIs(t, err, errWrongPadding)
	_, err = pkcs7Strip(make([]byte, 16), 16)
	require.ErrorIs(t, err, errWrongPadding)
	_, err = pkcs7Strip(bytes.Repeat([]byte{17}, 16), 16)
	require.ErrorIs(t, err, errWrongPadding)
}

func TestBodyCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	plain := []byte("The quick brown fox jumps over the lazy dog")
	for _, id := range []uuid.UUID{CipherAES256, CipherChaCha20} {
		iv := bytes.Repeat([]byte{0x22}, ivSize(id))
		ct, err := encryptBody(context.Background(), id, key, iv, plain)
		require.NoError(t, err)
		require.NotEqual(t, plain, ct[:len(plain)])

		got, err := decryptBody(context.Background(), id, key, iv, ct)
		require.NoError(t, err)
		require.Equal(t, plain, got, cipherName(id))
	}
}

func TestDecryptBodyErrors(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	iv := make([]byte, 16)

	_, err := decryptBody(context.Background(), CipherAES256, key, iv, make([]byte, 15))
	require.ErrorIs(t, err, ErrCouldNotDecrypt)

	_, err = decryptBody(context.Background(), uuid.New(), key, iv, make([]byte, 16))
	require.ErrorIs(t, err, ErrHeaderDataUnknown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = decryptBody(ctx, CipherAES256, key, iv, make([]byte, 32))
	require.ErrorIs(t, err, ErrOperationCancelled)
}

func TestCompression(t *testing.T) {
	data := bytes.Repeat([]byte("compress me "), 100)
	z, err := deflate(CompressionGZip, data)
	require.NoError(t, err)
	require.Less(t, len(z), len(data))
	got, err := inflate(CompressionGZip, z)
	require.NoError(t, err)
	require.Equal(t, data, got)

	same, err := deflate(CompressionNone, data)
	require.NoError(t, err)
	require.Equal(t, data, same)

	padded := append(append([]byte(nil), z...), bytes.Repeat([]byte{0x0e}, 14)...)
	got, err = inflate(CompressionGZip, padded)
	require.NoError(t, err, "bytes after the gzip member are ignored")
	require.Equal(t, data, got)

	_, err = inflate(CompressionGZip, []byte("not gzip"))
	require.ErrorIs(t, err, ErrCouldNotInflate)
	_, err = inflate(CompressionGZip, z[:len(z)/2])
	require.ErrorIs(t, err, ErrCouldNotInflate)
}
