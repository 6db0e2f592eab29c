package kdbx

import (
	"bytes"
	"encoding/binary"
	"io"
)

// readChunk bounds the up-front allocation for a length read from a file.
const readChunk = 64 << 10

// reader and writer keep the first error and turn every later call into a
// no-op, so field loops only check once.
type reader struct {
	r   io.Reader
	err error
}

func (r *reader) readFull(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.r, p)
}

// readBytes reads n bytes. Larger reads grow the buffer as data arrives,
// so a corrupt length cannot force a huge allocation.
func (r *reader) readBytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n <= readChunk {
		b := make([]byte, n)
		r.readFull(b)
		if r.err != nil {
			return nil
		}
		return b
	}
	var buf bytes.Buffer
	buf.Grow(readChunk)
	m, err := io.Copy(&buf, io.LimitReader(r.r, int64(n)))
	switch {
	case err != nil:
		r.err = err
	case m == 0:
		r.err = io.EOF
	case m < int64(n):
		r.err = io.ErrUnexpectedEOF
	}
	if r.err != nil {
		return nil
	}
	return buf.Bytes()
}

func (r *reader) readUint8() uint8 {
	var buf [1]byte
	r.readFull(buf[:])
	return buf[0]
}

func (r *reader) readUint16() uint16 {
	var buf [2]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (r *reader) readUint32() uint32 {
	var buf [4]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *writer) writeUint8(i uint8) {
	w.write([]byte{i})
}

func (w *writer) writeUint16(i uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], i)
	w.write(buf[:])
}

func (w *writer) writeUint32(i uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], i)
	w.write(buf[:])
}

func (w *writer) writeUint64(i uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	w.write(buf[:])
}

func uint32Bytes(i uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], i)
	return buf[:]
}

func uint64Bytes(i uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	return buf[:]
}
