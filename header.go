package kdbx

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/hoelzro/go-kdbx/kdf"
	"github.com/hoelzro/go-kdbx/rng"
	"github.com/hoelzro/go-kdbx/variant"
)

const (
	Signature1 = 0x9AA2D903
	Signature2 = 0xB54BFB67

	signatureKP1   = 0xB54BFB65
	signatureKP2PR = 0xB54BFB66

	FileVersionCriticalMask = 0xFFFF0000
	FileVersion31           = 0x00030001
	FileVersion4            = 0x00040000

	// largest header field accepted, guards allocations driven by the file
	maxHeaderFieldSize = 16 << 20
)

var headerTerminator = []byte("\r\n\r\n")

// Body ciphers
var (
	CipherAES256   = uuid.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff")
	CipherChaCha20 = uuid.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a")
)

// Compression is the body compression algorithm.
type Compression uint32

const (
	CompressionNone Compression = 0
	CompressionGZip Compression = 1
)

type headerField uint8

const (
	fieldEndOfHeader         headerField = 0
	fieldComment             headerField = 1
	fieldCipherID            headerField = 2
	fieldCompressionFlags    headerField = 3
	fieldMasterSeed          headerField = 4
	fieldTransformSeed       headerField = 5
	fieldTransformRounds     headerField = 6
	fieldEncryptionIV        headerField = 7
	fieldProtectedStreamKey  headerField = 8
	fieldStreamStartBytes    headerField = 9
	fieldInnerRandomStreamID headerField = 10
	fieldKdfParameters       headerField = 11
	fieldPublicCustomData    headerField = 12
)

var fieldNames = map[headerField]string{
	fieldEndOfHeader:         "EndOfHeader",
	fieldComment:             "Comment",
	fieldCipherID:            "CipherID",
	fieldCompressionFlags:    "CompressionFlags",
	fieldMasterSeed:          "MasterSeed",
	fieldTransformSeed:       "TransformSeed",
	fieldTransformRounds:     "TransformRounds",
	fieldEncryptionIV:        "EncryptionIV",
	fieldProtectedStreamKey:  "ProtectedStreamKey",
	fieldStreamStartBytes:    "StreamStartBytes",
	fieldInnerRandomStreamID: "InnerRandomStreamID",
	fieldKdfParameters:       "KdfParameters",
	fieldPublicCustomData:    "PublicCustomData",
}

func (f headerField) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field %d", uint8(f))
}

// fieldSupport says which major versions allow a field and whether it
// must be present for them.
type fieldSupport struct {
	v3, v4   bool
	optional bool
}

var outerFields = map[headerField]fieldSupport{
	fieldEndOfHeader:         {v3: true, v4: true},
	fieldComment:             {v3: true, v4: true, optional: true},
	fieldCipherID:            {v3: true, v4: true},
	fieldCompressionFlags:    {v3: true, v4: true},
	fieldMasterSeed:          {v3: true, v4: true},
	fieldTransformSeed:       {v3: true},
	fieldTransformRounds:     {v3: true},
	fieldEncryptionIV:        {v3: true, v4: true},
	fieldProtectedStreamKey:  {v3: true},
	fieldStreamStartBytes:    {v3: true},
	fieldInnerRandomStreamID: {v3: true},
	fieldKdfParameters:       {v4: true},
	fieldPublicCustomData:    {v4: true, optional: true},
}

func (s fieldSupport) supports(v4 bool) bool {
	if v4 {
		return s.v4
	}
	return s.v3
}

// Header is the cleartext part of a KDBX file.
type Header struct {
	// Version is the version word as stored in the file.
	Version uint32

	Comment      []byte
	Cipher       uuid.UUID
	Compression  Compression
	MasterSeed   []byte
	EncryptionIV []byte

	// KDF is built from TransformSeed/TransformRounds in 3.x files.
	KDF kdf.Parameters

	// 3.x only; 4.x carries the inner stream in the inner header.
	ProtectedStreamKey []byte
	StreamStartBytes   []byte
	InnerRandomStream  rng.Algorithm

	PublicCustomData *variant.Dictionary

	raw []byte
}

// IsV4 reports whether the header uses the KDBX 4 layout.
func (h *Header) IsV4() bool {
	return h.Version&FileVersionCriticalMask >= FileVersion4&FileVersionCriticalMask
}

// Raw returns the header bytes from the signature through the end-of-header
// field, as used for the header hash and HMAC.
func (h *Header) Raw() []byte { return h.raw }

// Hash returns the SHA-256 of the raw header.
func (h *Header) Hash() []byte {
	sum := sha256.Sum256(h.raw)
	return sum[:]
}

func ivSize(cipherID uuid.UUID) int {
	if cipherID == CipherChaCha20 {
		return 12
	}
	return 16
}

// ReadHeader parses and validates the header at the start of r. r is left
// positioned just past the end-of-header field.
func ReadHeader(ctx context.Context, r io.Reader) (*Header, error) {
	var raw bytes.Buffer
	br := &reader{r: io.TeeReader(r, &raw)}

	sig1 := br.readUint32()
	sig2 := br.readUint32()
	if br.err != nil {
		return nil, ioError("reading signature", br.err)
	}
	if sig1 != Signature1 {
		return nil, newError(SignatureInvalid, "", nil)
	}
	switch sig2 {
	case Signature2:
	case signatureKP1:
		return nil, newError(SignatureKP1, "", nil)
	case signatureKP2PR:
		return nil, newError(SignatureKP2PR, "", nil)
	default:
		return nil, newError(SignatureInvalid, "", nil)
	}

	h := &Header{Version: br.readUint32()}
	if br.err != nil {
		return nil, ioError("reading version", br.err)
	}
	if h.Version&FileVersionCriticalMask > FileVersion4&FileVersionCriticalMask {
		return nil, newError(Version, fmt.Sprintf("%#08x", h.Version), nil)
	}
	v4 := h.IsV4()

	var (
		seen            = make(map[headerField]bool)
		transformSeed   []byte
		transformRounds uint64
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, newError(OperationCancelled, "", err)
		}

		id := headerField(br.readUint8())
		var size uint32
		if v4 {
			size = br.readUint32()
		} else {
			size = uint32(br.readUint16())
		}
		if br.err != nil {
			return nil, ioError("reading header field", br.err)
		}
		support, known := outerFields[id]
		if !known || !support.supports(v4) {
			return nil, newError(HeaderFieldUnknown, id.String(), nil)
		}
		if seen[id] {
			return nil, newError(HeaderFieldDuplicate, id.String(), nil)
		}
		seen[id] = true
		if size > maxHeaderFieldSize {
			return nil, newError(HeaderDataSize, id.String(), nil)
		}
		data := br.readBytes(int(size))
		if br.err != nil {
			return nil, ioError("reading "+id.String(), br.err)
		}

		if err := requireSize(id, data); err != nil {
			return nil, err
		}

		switch id {
		case fieldEndOfHeader:
		case fieldComment:
			h.Comment = data
		case fieldCipherID:
			h.Cipher, _ = uuid.FromBytes(data)
			if h.Cipher != CipherAES256 && h.Cipher != CipherChaCha20 {
				return nil, newError(HeaderDataUnknown, id.String(), fmt.Errorf("cipher %s", h.Cipher))
			}
		case fieldCompressionFlags:
			h.Compression = Compression(binary.LittleEndian.Uint32(data))
			if h.Compression != CompressionNone && h.Compression != CompressionGZip {
				return nil, newError(HeaderDataUnknown, id.String(), fmt.Errorf("compression %d", h.Compression))
			}
		case fieldMasterSeed:
			h.MasterSeed = data
		case fieldTransformSeed:
			transformSeed = data
		case fieldTransformRounds:
			transformRounds = binary.LittleEndian.Uint64(data)
		case fieldEncryptionIV:
			h.EncryptionIV = data
		case fieldProtectedStreamKey:
			h.ProtectedStreamKey = data
		case fieldStreamStartBytes:
			h.StreamStartBytes = data
		case fieldInnerRandomStreamID:
			h.InnerRandomStream = rng.Algorithm(binary.LittleEndian.Uint32(data))
			if err := checkStreamAlgorithm(id, h.InnerRandomStream); err != nil {
				return nil, err
			}
		case fieldKdfParameters:
			d, err := variant.Unmarshal(data)
			if err != nil {
				return nil, newError(BadVariantDictionary, id.String(), err)
			}
			h.KDF, err = kdf.Parse(d)
			if err != nil {
				return nil, newError(HeaderDataUnknown, id.String(), err)
			}
		case fieldPublicCustomData:
			d, err := variant.Unmarshal(data)
			if err != nil {
				return nil, newError(BadVariantDictionary, id.String(), err)
			}
			h.PublicCustomData = d
		}

		if id == fieldEndOfHeader {
			break
		}
	}

	for id := fieldEndOfHeader; id <= fieldPublicCustomData; id++ {
		if support := outerFields[id]; support.supports(v4) && !support.optional && !seen[id] {
			return nil, newError(HeaderMissing, id.String(), nil)
		}
	}
	if len(h.EncryptionIV) != ivSize(h.Cipher) {
		return nil, newError(HeaderDataSize, fieldEncryptionIV.String(),
			fmt.Errorf("%d bytes for cipher %s", len(h.EncryptionIV), h.Cipher))
	}
	if !v4 {
		// KeePass also reads ChaCha20 bodies in 3.1 files.
		h.KDF = &kdf.AES{Seed: transformSeed, Rounds: transformRounds}
	}

	h.raw = raw.Bytes()
	return h, nil
}

func requireSize(id headerField, data []byte) error {
	want := -1
	switch id {
	case fieldCipherID:
		want = 16
	case fieldCompressionFlags, fieldInnerRandomStreamID:
		want = 4
	case fieldMasterSeed, fieldTransformSeed:
		want = 32
	case fieldTransformRounds:
		want = 8
	case fieldProtectedStreamKey:
		if len(data) == 0 {
			return newError(HeaderDataSize, id.String(), errors.New("must be nonzero"))
		}
	}
	if want >= 0 && len(data) != want {
		return newError(HeaderDataSize, id.String(), fmt.Errorf("got %d bytes, want %d", len(data), want))
	}
	return nil
}

func checkStreamAlgorithm(id fmt.Stringer, alg rng.Algorithm) error {
	switch alg {
	case rng.ArcFourVariant, rng.Salsa20, rng.ChaCha20:
		return nil
	}
	return newError(HeaderDataUnknown, id.String(), fmt.Errorf("inner stream %d", uint32(alg)))
}

// marshal serializes the header and records the result as its raw bytes.
func (h *Header) marshal() ([]byte, error) {
	v4 := h.IsV4()
	var buf bytes.Buffer
	w := &writer{w: &buf}
	w.writeUint32(Signature1)
	w.writeUint32(Signature2)
	w.writeUint32(h.Version)

	field := func(id headerField, data []byte) {
		w.writeUint8(uint8(id))
		if v4 {
			w.writeUint32(uint32(len(data)))
		} else {
			w.writeUint16(uint16(len(data)))
		}
		w.write(data)
	}

	if len(h.Comment) > 0 {
		field(fieldComment, h.Comment)
	}
	field(fieldCipherID, h.Cipher[:])
	field(fieldCompressionFlags, uint32Bytes(uint32(h.Compression)))
	field(fieldMasterSeed, h.MasterSeed)
	if v4 {
		field(fieldEncryptionIV, h.EncryptionIV)
		field(fieldKdfParameters, h.KDF.Dictionary().Marshal())
		if h.PublicCustomData.Len() > 0 {
			field(fieldPublicCustomData, h.PublicCustomData.Marshal())
		}
	} else {
		aes, ok := h.KDF.(*kdf.AES)
		if !ok {
			return nil, fmt.Errorf("kdbx: KDBX 3.1 requires the AES KDF, got %s", h.KDF.UUID())
		}
		field(fieldTransformSeed, aes.Seed)
		field(fieldTransformRounds, uint64Bytes(aes.Rounds))
		field(fieldEncryptionIV, h.EncryptionIV)
		field(fieldProtectedStreamKey, h.ProtectedStreamKey)
		field(fieldStreamStartBytes, h.StreamStartBytes)
		field(fieldInnerRandomStreamID, uint32Bytes(uint32(h.InnerRandomStream)))
	}
	field(fieldEndOfHeader, headerTerminator)
	if w.err != nil {
		return nil, w.err
	}
	h.raw = buf.Bytes()
	return h.raw, nil
}
