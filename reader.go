package kdbx

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hoelzro/go-kdbx/dom"
	"github.com/hoelzro/go-kdbx/rng"
)

// ErrNotDecrypted is returned by GetWriter before a successful DecryptFile.
var ErrNotDecrypted = errors.New("kdbx: no database has been decrypted")

// Reader decrypts KDBX files. A Reader is not safe for concurrent use.
type Reader struct {
	opts *Options

	header        *Header
	headerPending bool

	// set by a successful DecryptFile
	tokens []SecurityToken
	stream rng.Algorithm
	done   bool
}

func NewReader(opts *Options) *Reader {
	return &Reader{opts: opts}
}

// ReadHeader parses the outer header from r. A following DecryptFile call
// continues from where the header ended on the same stream.
func (r *Reader) ReadHeader(ctx context.Context, rd io.Reader) (*Header, error) {
	h, err := ReadHeader(ctx, rd)
	if err != nil {
		return nil, err
	}
	r.header = h
	r.headerPending = true
	r.done = false
	r.opts.getLogger().WithFields(logrus.Fields{
		"version":     fmt.Sprintf("%#08x", h.Version),
		"cipher":      cipherName(h.Cipher),
		"kdf":         h.KDF.UUID().String(),
		"compression": h.Compression,
	}).Debug("kdbx: header parsed")
	return h, nil
}

// Header returns the most recently parsed header, or nil.
func (r *Reader) Header() *Header { return r.header }

// DecryptFile decrypts the database in rd with the given credentials. If
// ReadHeader was not called for rd, the header is parsed first.
func (r *Reader) DecryptFile(ctx context.Context, rd io.Reader, tokens ...SecurityToken) (*dom.Document, error) {
	if !r.headerPending {
		if _, err := r.ReadHeader(ctx, rd); err != nil {
			return nil, err
		}
	}
	r.headerPending = false
	r.done = false
	h := r.header
	log := r.opts.getLogger()

	composite, err := CompositeKey(tokens...)
	if err != nil {
		return nil, newError(UnableToReadFile, "building composite key", err)
	}
	start := time.Now()
	transformed, err := h.KDF.Transform(ctx, composite)
	if err != nil {
		if isCancellation(err) {
			return nil, newError(OperationCancelled, "", err)
		}
		return nil, newError(HeaderDataUnknown, "key derivation", err)
	}
	log.WithFields(logrus.Fields{
		"kdf":      h.KDF.UUID().String(),
		"duration": time.Since(start),
	}).Debug("kdbx: key transformed")
	key := finalKey(h.MasterSeed, transformed)

	var (
		doc    *dom.Document
		stream rng.Algorithm
	)
	if h.IsV4() {
		doc, stream, err = r.decryptV4(ctx, rd, h, key, hmacKey(h.MasterSeed, transformed))
	} else {
		doc, err = r.decryptV3(ctx, rd, h, key)
		stream = h.InnerRandomStream
	}
	if err != nil {
		return nil, err
	}

	r.tokens = append([]SecurityToken(nil), tokens...)
	r.stream = stream
	r.done = true
	log.WithFields(logrus.Fields{
		"nodes":    doc.Tree.Len(),
		"binaries": len(doc.Metadata.Binaries),
	}).Info("kdbx: database decrypted")
	return doc, nil
}

func finalKey(masterSeed, transformed []byte) []byte {
	h := sha256.New()
	h.Write(masterSeed)
	h.Write(transformed)
	return h.Sum(nil)
}

func (r *Reader) decryptV3(ctx context.Context, rd io.Reader, h *Header, key []byte) (*dom.Document, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, ioError("reading body", err)
	}
	plain, err := decryptBody(ctx, h.Cipher, key, h.EncryptionIV, data)
	if err != nil {
		return nil, err
	}
	if len(plain) < len(h.StreamStartBytes) ||
		subtle.ConstantTimeCompare(plain[:len(h.StreamStartBytes)], h.StreamStartBytes) != 1 {
		return nil, newError(CouldNotDecrypt, "stream start bytes do not match", nil)
	}
	payload, err := readHashedBlocks(ctx, bytes.NewReader(plain[len(h.StreamStartBytes):]))
	if err != nil {
		return nil, err
	}
	payload, err = inflate(h.Compression, payload)
	if err != nil {
		return nil, err
	}

	gen, err := rng.New(h.InnerRandomStream, h.ProtectedStreamKey)
	if err != nil {
		return nil, newError(HeaderDataUnknown, fieldInnerRandomStreamID.String(), err)
	}
	doc, err := dom.Parse(ctx, bytes.NewReader(payload), gen, dom.ParseOptions{})
	if err != nil {
		return nil, domError(err)
	}
	if hh := doc.Metadata.HeaderHash; hh != "" {
		want, err := base64.StdEncoding.DecodeString(hh)
		if err != nil || !bytes.Equal(want, h.Hash()) {
			return nil, newError(BadHeaderHash, "metadata header hash", err)
		}
	}
	return doc, nil
}

func (r *Reader) decryptV4(ctx context.Context, rd io.Reader, h *Header, key, macKey []byte) (*dom.Document, rng.Algorithm, error) {
	br := &reader{r: rd}
	var sum, mac [sha256.Size]byte
	br.readFull(sum[:])
	br.readFull(mac[:])
	if br.err != nil {
		return nil, 0, ioError("reading header hash", br.err)
	}
	if !bytes.Equal(sum[:], h.Hash()) {
		return nil, 0, newError(BadHeaderHash, "", nil)
	}
	if subtle.ConstantTimeCompare(mac[:], headerHMAC(macKey, h.Raw())) != 1 {
		return nil, 0, newError(CouldNotDecrypt, "header HMAC mismatch", nil)
	}

	data, err := readHMACBlocks(ctx, rd, macKey)
	if err != nil {
		return nil, 0, err
	}
	plain, err := decryptBody(ctx, h.Cipher, key, h.EncryptionIV, data)
	if err != nil {
		return nil, 0, err
	}
	payload, err := inflate(h.Compression, plain)
	if err != nil {
		return nil, 0, err
	}

	pr := bytes.NewReader(payload)
	ih, err := readInnerHeader(pr)
	if err != nil {
		return nil, 0, err
	}
	gen, err := rng.New(ih.stream, ih.streamKey)
	if err != nil {
		return nil, 0, newError(HeaderDataUnknown, innerRandomStreamID.String(), err)
	}
	doc, err := dom.Parse(ctx, pr, gen, dom.ParseOptions{V4: true, Binaries: ih.binaries})
	if err != nil {
		return nil, 0, domError(err)
	}
	return doc, ih.stream, nil
}

// domError classifies an XML parsing failure.
func domError(err error) error {
	if isCancellation(err) {
		return newError(OperationCancelled, "", err)
	}
	var (
		syntax *xml.SyntaxError
		value  *dom.ValueError
	)
	switch {
	case errors.As(err, &syntax):
		return newError(MalformedXML, "", err)
	case errors.As(err, &value):
		return newError(CouldNotDeserialize, "", err)
	default:
		return newError(CouldNotParseXML, "", err)
	}
}

// GetWriter returns a Writer that re-encrypts with the credentials and
// parameters of the last decrypted database.
func (r *Reader) GetWriter() (*Writer, error) {
	if !r.done {
		return nil, ErrNotDecrypted
	}
	h := r.header
	params := WriterParams{
		Cipher:      h.Cipher,
		Compression: h.Compression,
		KDF:         h.KDF,
		InnerStream: r.stream,
		Comment:     h.Comment,
		MinVersion:  h.Version,

		PublicCustomData: h.PublicCustomData,
	}
	return NewWriter(r.opts, r.tokens, params), nil
}

func cipherName(id uuid.UUID) string {
	switch id {
	case CipherAES256:
		return "AES-256"
	case CipherChaCha20:
		return "ChaCha20"
	}
	return id.String()
}
