package kdbx

import (
	"crypto/rand"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hoelzro/go-kdbx/kdf"
	"github.com/hoelzro/go-kdbx/rng"
	"github.com/hoelzro/go-kdbx/variant"
)

// Options configure a Reader or Writer. A nil *Options is valid and uses
// the defaults.
type Options struct {
	// Random number source for seeds, IVs and UUIDs.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader

	// Logger receives progress messages. Defaults to a logger that
	// discards everything.
	Logger *logrus.Logger
}

func (opts *Options) getRand() io.Reader {
	if opts == nil || opts.Rand == nil {
		return rand.Reader
	}
	return opts.Rand
}

var discardLogger = newDiscardLogger()

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (opts *Options) getLogger() *logrus.Logger {
	if opts == nil || opts.Logger == nil {
		return discardLogger
	}
	return opts.Logger
}

// WriterParams choose how a database is encrypted. Seeds, salts and IVs
// are not part of the parameters: they are drawn fresh on every write.
type WriterParams struct {
	Cipher      uuid.UUID
	Compression Compression
	KDF         kdf.Parameters
	InnerStream rng.Algorithm

	// Comment and PublicCustomData are copied into the outer header.
	// Public custom data requires KDBX 4.
	Comment          []byte
	PublicCustomData *variant.Dictionary

	// MinVersion is the lowest file version to write. Reader.GetWriter sets
	// it so that a KDBX 4 file is saved as KDBX 4 again.
	MinVersion uint32
}

// DefaultWriterParams returns parameters that produce a KDBX 3.1 file:
// AES-256, GZip, the AES KDF and Salsa20 protection.
func DefaultWriterParams() WriterParams {
	return WriterParams{
		Cipher:      CipherAES256,
		Compression: CompressionGZip,
		KDF:         &kdf.AES{Rounds: kdf.DefaultAESRounds},
		InnerStream: rng.Salsa20,
	}
}

// ModernWriterParams returns parameters that produce a KDBX 4 file:
// ChaCha20, GZip, Argon2d and ChaCha20 protection.
func ModernWriterParams() WriterParams {
	return WriterParams{
		Cipher:      CipherChaCha20,
		Compression: CompressionGZip,
		KDF:         kdf.DefaultArgon2(kdf.Argon2d),
		InnerStream: rng.ChaCha20,
	}
}

// Version returns the file version these parameters require.
func (p WriterParams) Version() uint32 {
	if p.MinVersion&FileVersionCriticalMask >= FileVersion4&FileVersionCriticalMask ||
		p.Cipher == CipherChaCha20 ||
		p.InnerStream == rng.ChaCha20 ||
		p.KDF != nil && p.KDF.UUID() != kdf.AESUUID ||
		p.PublicCustomData.Len() > 0 {
		return FileVersion4
	}
	return FileVersion31
}

func (p WriterParams) clone() WriterParams {
	if p.KDF != nil {
		p.KDF = p.KDF.Clone()
	}
	p.Comment = append([]byte(nil), p.Comment...)
	if p.PublicCustomData != nil {
		p.PublicCustomData = p.PublicCustomData.Clone()
	}
	return p
}
