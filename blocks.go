package kdbx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"
	"math"
)

const (
	blockSize = 1 << 20

	// largest block accepted on read
	maxBlockSize = 1 << 30

	headerBlockIndex = math.MaxUint64
)

// readHashedBlocks reassembles a KDBX 3.1 hashed block stream: LE32 index,
// SHA-256 of the data, LE32 size, data, ending with an empty block.
func readHashedBlocks(ctx context.Context, r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	br := &reader{r: r}
	for want := uint32(0); ; want++ {
		if err := ctx.Err(); err != nil {
			return nil, newError(OperationCancelled, "", err)
		}
		index := br.readUint32()
		var hash [sha256.Size]byte
		br.readFull(hash[:])
		size := br.readUint32()
		if br.err != nil {
			return nil, newError(DataIntegrityProblem, "truncated block header", br.err)
		}
		if index != want {
			return nil, newError(DataIntegrityProblem, fmt.Sprintf("block %d has index %d", want, index), nil)
		}
		if size == 0 {
			if hash != [sha256.Size]byte{} {
				return nil, newError(DataIntegrityProblem, "invalid hash of final block", nil)
			}
			return out.Bytes(), nil
		}
		if size > maxBlockSize {
			return nil, newError(DataIntegrityProblem, fmt.Sprintf("block %d is %d bytes", index, size), nil)
		}
		data := br.readBytes(int(size))
		if br.err != nil {
			return nil, newError(DataIntegrityProblem, "truncated block", br.err)
		}
		if sha256.Sum256(data) != hash {
			return nil, newError(DataIntegrityProblem, fmt.Sprintf("hash mismatch in block %d", index), nil)
		}
		out.Write(data)
	}
}

func writeHashedBlocks(ctx context.Context, w io.Writer, data []byte) error {
	bw := &writer{w: w}
	for index := uint32(0); ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(data), blockSize)
		bw.writeUint32(index)
		if n == 0 {
			bw.write(make([]byte, sha256.Size))
			bw.writeUint32(0)
			return bw.err
		}
		hash := sha256.Sum256(data[:n])
		bw.write(hash[:])
		bw.writeUint32(uint32(n))
		bw.write(data[:n])
		data = data[n:]
	}
}

// hmacKey derives the KDBX 4 HMAC base key.
func hmacKey(masterSeed, transformedKey []byte) []byte {
	h := sha512.New()
	h.Write(masterSeed)
	h.Write(transformedKey)
	h.Write([]byte{1})
	return h.Sum(nil)
}

func blockHMACKey(index uint64, key []byte) []byte {
	h := sha512.New()
	h.Write(uint64Bytes(index))
	h.Write(key)
	return h.Sum(nil)
}

func blockHMAC(index uint64, key, data []byte) []byte {
	mac := hmac.New(sha256.New, blockHMACKey(index, key))
	mac.Write(uint64Bytes(index))
	mac.Write(uint32Bytes(uint32(len(data))))
	mac.Write(data)
	return mac.Sum(nil)
}

func headerHMAC(key, header []byte) []byte {
	mac := hmac.New(sha256.New, blockHMACKey(headerBlockIndex, key))
	mac.Write(header)
	return mac.Sum(nil)
}

// readHMACBlocks reassembles a KDBX 4 HMAC block stream: HMAC-SHA-256,
// LE32 size, data, ending with an empty block.
func readHMACBlocks(ctx context.Context, r io.Reader, key []byte) ([]byte, error) {
	var out bytes.Buffer
	br := &reader{r: r}
	for index := uint64(0); ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, newError(OperationCancelled, "", err)
		}
		var mac [sha256.Size]byte
		br.readFull(mac[:])
		size := br.readUint32()
		if br.err != nil {
			return nil, newError(DataIntegrityProblem, "truncated block header", br.err)
		}
		if size > maxBlockSize {
			return nil, newError(DataIntegrityProblem, fmt.Sprintf("block %d is %d bytes", index, size), nil)
		}
		data := br.readBytes(int(size))
		if br.err != nil {
			return nil, newError(DataIntegrityProblem, "truncated block", br.err)
		}
		if !hmac.Equal(mac[:], blockHMAC(index, key, data)) {
			return nil, newError(DataIntegrityProblem, fmt.Sprintf("HMAC mismatch in block %d", index), nil)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		out.Write(data)
	}
}

func writeHMACBlocks(ctx context.Context, w io.Writer, key, data []byte) error {
	bw := &writer{w: w}
	for index := uint64(0); ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(data), blockSize)
		bw.write(blockHMAC(index, key, data[:n]))
		bw.writeUint32(uint32(n))
		bw.write(data[:n])
		if n == 0 {
			return bw.err
		}
		data = data[n:]
	}
}
