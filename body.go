package kdbx

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20"
)

// cipher work is done in chunks of this many bytes between context checks
const cipherChunkSize = 1 << 20

var errWrongPadding = errors.New("kdbx: wrong padding")

// xorer is the part of cipher.BlockMode and cipher.Stream used here.
type xorer func(dst, src []byte)

func newBodyCipher(id uuid.UUID, key, iv []byte, encrypt bool) (xorer, bool, error) {
	switch id {
	case CipherAES256:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, false, err
		}
		var mode cipher.BlockMode
		if encrypt {
			mode = cipher.NewCBCEncrypter(block, iv)
		} else {
			mode = cipher.NewCBCDecrypter(block, iv)
		}
		return mode.CryptBlocks, true, nil
	case CipherChaCha20:
		c, err := chacha20.NewUnauthenticatedCipher(key, iv)
		if err != nil {
			return nil, false, err
		}
		return c.XORKeyStream, false, nil
	}
	return nil, false, fmt.Errorf("kdbx: unknown cipher %s", id)
}

func runCipher(ctx context.Context, fn xorer, data []byte) error {
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(data), cipherChunkSize)
		fn(data[:n], data[:n])
		data = data[n:]
	}
	return nil
}

// decryptBody decrypts data in place. A padding failure means the key was
// wrong and is reported as CouldNotDecrypt.
func decryptBody(ctx context.Context, id uuid.UUID, key, iv, data []byte) ([]byte, error) {
	fn, padded, err := newBodyCipher(id, key, iv, false)
	if err != nil {
		return nil, newError(HeaderDataUnknown, fieldCipherID.String(), err)
	}
	if padded && (len(data) == 0 || len(data)%aes.BlockSize != 0) {
		return nil, newError(CouldNotDecrypt, "ciphertext is not a multiple of the block size", nil)
	}
	if err := runCipher(ctx, fn, data); err != nil {
		return nil, newError(OperationCancelled, "", err)
	}
	if !padded {
		return data, nil
	}
	plain, err := pkcs7Strip(data, aes.BlockSize)
	if err != nil {
		return nil, newError(CouldNotDecrypt, "", err)
	}
	return plain, nil
}

func encryptBody(ctx context.Context, id uuid.UUID, key, iv, data []byte) ([]byte, error) {
	fn, padded, err := newBodyCipher(id, key, iv, true)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), data...)
	if padded {
		out = pkcs7Pad(out, aes.BlockSize)
	}
	if err := runCipher(ctx, fn, out); err != nil {
		return nil, err
	}
	return out, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	pad := blockSize - len(b)%blockSize
	for i := 0; i < pad; i++ {
		b = append(b, byte(pad))
	}
	return b
}

func pkcs7Strip(b []byte, blockSize int) ([]byte, error) {
	n := len(b)
	if n == 0 || n%blockSize != 0 {
		return nil, errWrongPadding
	}
	pad := int(b[n-1])
	if pad == 0 || pad > blockSize {
		return nil, errWrongPadding
	}
	for _, x := range b[n-pad : n-1] {
		if x != byte(pad) {
			return nil, errWrongPadding
		}
	}
	return b[:n-pad], nil
}

func inflate(c Compression, data []byte) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, newError(CouldNotInflate, "", err)
	}
	defer zr.Close()
	// some writers leave cipher padding after the gzip member
	zr.Multistream(false)
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, newError(CouldNotInflate, "", err)
	}
	return out, nil
}

func deflate(c Compression, data []byte) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
