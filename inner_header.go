package kdbx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hoelzro/go-kdbx/dom"
	"github.com/hoelzro/go-kdbx/rng"
)

type innerField uint8

const (
	innerEndOfHeader     innerField = 0
	innerRandomStreamID  innerField = 1
	innerRandomStreamKey innerField = 2
	innerBinary          innerField = 3
)

func (f innerField) String() string {
	switch f {
	case innerEndOfHeader:
		return "InnerEndOfHeader"
	case innerRandomStreamID:
		return "InnerRandomStreamID"
	case innerRandomStreamKey:
		return "InnerRandomStreamKey"
	case innerBinary:
		return "InnerBinary"
	}
	return fmt.Sprintf("inner field %d", uint8(f))
}

// flag bits of an inner binary
const binaryProtected = 0x01

// innerHeader is the cleartext prefix of a KDBX 4 payload.
type innerHeader struct {
	stream    rng.Algorithm
	streamKey []byte
	binaries  []*dom.Binary
}

// readInnerHeader consumes the inner header from the start of r, leaving r
// positioned at the XML document.
func readInnerHeader(r io.Reader) (*innerHeader, error) {
	ih := new(innerHeader)
	br := &reader{r: r}
	seen := make(map[innerField]bool)
	for {
		id := innerField(br.readUint8())
		size := br.readUint32()
		if br.err != nil {
			return nil, ioError("reading inner header", br.err)
		}
		if id > innerBinary {
			return nil, newError(HeaderFieldUnknown, id.String(), nil)
		}
		if id != innerBinary && seen[id] {
			return nil, newError(HeaderFieldDuplicate, id.String(), nil)
		}
		seen[id] = true
		if size > maxBlockSize {
			return nil, newError(HeaderDataSize, id.String(), nil)
		}
		data := br.readBytes(int(size))
		if br.err != nil {
			return nil, ioError("reading "+id.String(), br.err)
		}

		switch id {
		case innerRandomStreamID:
			if len(data) != 4 {
				return nil, newError(HeaderDataSize, id.String(), fmt.Errorf("got %d bytes, want 4", len(data)))
			}
			ih.stream = rng.Algorithm(binary.LittleEndian.Uint32(data))
			if err := checkStreamAlgorithm(id, ih.stream); err != nil {
				return nil, err
			}
		case innerRandomStreamKey:
			if len(data) == 0 {
				return nil, newError(HeaderDataSize, id.String(), errors.New("must be nonzero"))
			}
			ih.streamKey = data
		case innerBinary:
			if len(data) == 0 {
				return nil, newError(HeaderDataSize, id.String(), errors.New("missing flags"))
			}
			ih.binaries = append(ih.binaries, &dom.Binary{
				Data:      data[1:],
				Protected: data[0]&binaryProtected != 0,
			})
		}
		if id == innerEndOfHeader {
			break
		}
	}
	for _, id := range []innerField{innerRandomStreamID, innerRandomStreamKey} {
		if !seen[id] {
			return nil, newError(HeaderMissing, id.String(), nil)
		}
	}
	return ih, nil
}

func (ih *innerHeader) marshal() []byte {
	var buf bytes.Buffer
	w := &writer{w: &buf}
	field := func(id innerField, data ...[]byte) {
		n := 0
		for _, d := range data {
			n += len(d)
		}
		w.writeUint8(uint8(id))
		w.writeUint32(uint32(n))
		for _, d := range data {
			w.write(d)
		}
	}
	field(innerRandomStreamID, uint32Bytes(uint32(ih.stream)))
	field(innerRandomStreamKey, ih.streamKey)
	for _, b := range ih.binaries {
		var flags byte
		if b.Protected {
			flags |= binaryProtected
		}
		field(innerBinary, []byte{flags}, b.Data)
	}
	field(innerEndOfHeader)
	return buf.Bytes()
}
