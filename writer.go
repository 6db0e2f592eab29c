package kdbx

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hoelzro/go-kdbx/dom"
	"github.com/hoelzro/go-kdbx/rng"
)

// Writer encrypts documents into KDBX files. Every Write draws a fresh
// master seed, KDF salt, IV and inner stream key.
type Writer struct {
	opts   *Options
	tokens []SecurityToken
	params WriterParams
}

// NewWriter returns a Writer for a new database. A zero Cipher, KDF or
// InnerStream in params takes the value from DefaultWriterParams.
func NewWriter(opts *Options, tokens []SecurityToken, params WriterParams) *Writer {
	def := DefaultWriterParams()
	if params.Cipher == uuid.Nil {
		params.Cipher = def.Cipher
	}
	if params.KDF == nil {
		params.KDF = def.KDF
	}
	if params.InnerStream == rng.None {
		params.InnerStream = def.InnerStream
	}
	return &Writer{
		opts:   opts,
		tokens: append([]SecurityToken(nil), tokens...),
		params: params.clone(),
	}
}

// Params returns a copy of the writer's parameters.
func (w *Writer) Params() WriterParams { return w.params.clone() }

// Write encrypts doc to out. It reports false with a nil error if ctx was
// cancelled before the file was complete. A version 3.1 write stores the
// header hash in doc's metadata, and every write stores the attachment pool
// it used there.
func (w *Writer) Write(ctx context.Context, out io.Writer, doc *dom.Document) (bool, error) {
	ok, err := w.write(ctx, out, doc)
	if isCancellation(err) {
		w.opts.getLogger().Debug("kdbx: write cancelled")
		return false, nil
	}
	return ok, err
}

func (w *Writer) write(ctx context.Context, out io.Writer, doc *dom.Document) (bool, error) {
	log := w.opts.getLogger()
	rand := w.opts.getRand()
	p := w.params.clone()

	h := &Header{
		Version:          p.Version(),
		Comment:          p.Comment,
		Cipher:           p.Cipher,
		Compression:      p.Compression,
		KDF:              p.KDF,
		PublicCustomData: p.PublicCustomData,
	}
	v4 := h.IsV4()
	if !v4 && p.PublicCustomData.Len() > 0 {
		return false, fmt.Errorf("kdbx: public custom data requires KDBX 4")
	}

	var err error
	seed := func(n int) []byte {
		b := make([]byte, n)
		if _, e := io.ReadFull(rand, b); e != nil && err == nil {
			err = fmt.Errorf("kdbx: generating seeds: %w", e)
		}
		return b
	}
	h.MasterSeed = seed(32)
	h.EncryptionIV = seed(ivSize(p.Cipher))
	streamKey := seed(rng.SeedSize(p.InnerStream))
	if !v4 {
		h.StreamStartBytes = seed(32)
	}
	if err != nil {
		return false, err
	}
	if err := h.KDF.Reseed(rand); err != nil {
		return false, fmt.Errorf("kdbx: generating KDF seed: %w", err)
	}
	if !v4 {
		h.ProtectedStreamKey = streamKey
		h.InnerRandomStream = p.InnerStream
	}
	if _, err := h.marshal(); err != nil {
		return false, err
	}
	log.WithFields(logrus.Fields{
		"version":     fmt.Sprintf("%#08x", h.Version),
		"cipher":      cipherName(h.Cipher),
		"kdf":         h.KDF.UUID().String(),
		"stream":      p.InnerStream,
		"compression": h.Compression,
	}).Debug("kdbx: writing database")

	composite, err := CompositeKey(w.tokens...)
	if err != nil {
		return false, fmt.Errorf("kdbx: building composite key: %w", err)
	}
	start := time.Now()
	transformed, err := h.KDF.Transform(ctx, composite)
	if err != nil {
		return false, err
	}
	log.WithField("duration", time.Since(start)).Debug("kdbx: key transformed")
	key := finalKey(h.MasterSeed, transformed)

	gen, err := rng.New(p.InnerStream, streamKey)
	if err != nil {
		return false, err
	}
	pool := doc.BinaryPool()
	doc.Metadata.Binaries = pool

	var payload bytes.Buffer
	if v4 {
		ih := &innerHeader{stream: p.InnerStream, streamKey: streamKey, binaries: pool}
		payload.Write(ih.marshal())
	} else {
		doc.Metadata.HeaderHash = base64.StdEncoding.EncodeToString(h.Hash())
	}
	if err := doc.Encode(&payload, gen, dom.EncodeOptions{V4: v4}); err != nil {
		return false, fmt.Errorf("kdbx: encoding document: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	compressed, err := deflate(h.Compression, payload.Bytes())
	if err != nil {
		return false, fmt.Errorf("kdbx: compressing: %w", err)
	}

	var body bytes.Buffer
	if v4 {
		sum := sha256.Sum256(h.Raw())
		body.Write(h.Raw())
		body.Write(sum[:])
		macKey := hmacKey(h.MasterSeed, transformed)
		body.Write(headerHMAC(macKey, h.Raw()))
		ciphertext, err := encryptBody(ctx, h.Cipher, key, h.EncryptionIV, compressed)
		if err != nil {
			return false, err
		}
		if err := writeHMACBlocks(ctx, &body, macKey, ciphertext); err != nil {
			return false, err
		}
	} else {
		var plain bytes.Buffer
		plain.Write(h.StreamStartBytes)
		if err := writeHashedBlocks(ctx, &plain, compressed); err != nil {
			return false, err
		}
		ciphertext, err := encryptBody(ctx, h.Cipher, key, h.EncryptionIV, plain.Bytes())
		if err != nil {
			return false, err
		}
		body.Write(h.Raw())
		body.Write(ciphertext)
	}

	if _, err := out.Write(body.Bytes()); err != nil {
		return false, fmt.Errorf("kdbx: writing database: %w", err)
	}
	log.WithFields(logrus.Fields{
		"bytes":    body.Len(),
		"nodes":    doc.Tree.Len(),
		"binaries": len(pool),
	}).Info("kdbx: database written")
	return true, nil
}
