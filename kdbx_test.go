package kdbx

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hoelzro/go-kdbx/dom"
	"github.com/hoelzro/go-kdbx/internal/fakerand"
	"github.com/hoelzro/go-kdbx/kdf"
	"github.com/hoelzro/go-kdbx/rng"
	"github.com/hoelzro/go-kdbx/variant"
)

const testPassword = Password("correct horse battery staple")

func fastAES() *kdf.AES { return &kdf.AES{Rounds: 16} }

func fastArgon2(v kdf.Argon2Variant) *kdf.Argon2 {
	k := kdf.DefaultArgon2(v)
	k.Memory = 64 * 1024
	k.Iterations = 1
	k.Parallelism = 1
	return k
}

func testOptions(t *testing.T) *Options {
	return &Options{Rand: fakerand.New(t.Name())}
}

func sampleDocument(t *testing.T) *dom.Document {
	t.Helper()
	rand := fakerand.New("document " + t.Name())
	doc, err := dom.NewDocument("Sample", rand)
	require.NoError(t, err)

	g, err := doc.NewGroup(rand, doc.Tree.Root(), "Banking")
	require.NoError(t, err)
	id, err := doc.NewEntry(rand, g)
	require.NoError(t, err)
	e := doc.Tree.Node(id)
	e.Title.Value = "Bank"
	e.Entry.UserName.Value = "carol"
	e.Entry.Password.Value = "hunter2"
	e.Entry.URL.Value = "https://bank.example.com"
	e.Entry.Fields = []dom.ProtectedString{{Key: "PIN", Value: "1234", Protected: true}}
	e.Entry.Binaries = []dom.BinaryRef{
		{Key: "statement.txt", Value: &dom.Binary{Data: []byte("balance: 42")}},
		{Key: "secret.bin", Value: &dom.Binary{Data: []byte{9, 8, 7}, Protected: true}},
	}
	e.AddHistory(doc.Metadata.HistoryMaxItems)
	e.Entry.Password.Value = "hunter3"

	_, err = doc.NewEntry(rand, doc.Tree.Root())
	require.NoError(t, err)
	return doc
}

func writeDocument(t *testing.T, opts *Options, params WriterParams, doc *dom.Document, tokens ...SecurityToken) []byte {
	t.Helper()
	var buf bytes.Buffer
	ok, err := NewWriter(opts, tokens, params).Write(context.Background(), &buf, doc)
	require.NoError(t, err)
	require.True(t, ok)
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		params      WriterParams
		wantVersion uint32
	}{
		{
			name: "AES/Salsa20",
			params: WriterParams{
				Cipher:      CipherAES256,
				Compression: CompressionGZip,
				KDF:         fastAES(),
				InnerStream: rng.Salsa20,
				Comment:     []byte("hello"),
			},
			wantVersion: FileVersion31,
		},
		{
			name: "AES/ArcFour/uncompressed",
			params: WriterParams{
				Cipher:      CipherAES256,
				KDF:         fastAES(),
				InnerStream: rng.ArcFourVariant,
			},
			wantVersion: FileVersion31,
		},
		{
			name: "ChaCha20/Argon2d",
			params: WriterParams{
				Cipher:      CipherChaCha20,
				Compression: CompressionGZip,
				KDF:         fastArgon2(kdf.Argon2d),
				InnerStream: rng.ChaCha20,
			},
			wantVersion: FileVersion4,
		},
		{
			name: "AES/Argon2id/Salsa20",
			params: WriterParams{
				Cipher:      CipherAES256,
				Compression: CompressionGZip,
				KDF:         fastArgon2(kdf.Argon2id),
				InnerStream: rng.Salsa20,
			},
			wantVersion: FileVersion4,
		},
		{
			name: "PublicCustomData",
			params: WriterParams{
				Cipher:           CipherAES256,
				KDF:              fastAES(),
				InnerStream:      rng.Salsa20,
				PublicCustomData: publicCustomData(),
			},
			wantVersion: FileVersion4,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			doc := sampleDocument(t)
			data := writeDocument(t, testOptions(t), test.params, doc, testPassword)

			r := NewReader(nil)
			h, err := r.ReadHeader(context.Background(), bytes.NewReader(data))
			require.NoError(t, err)
			require.Equal(t, test.wantVersion, h.Version)

			rd := bytes.NewReader(data)
			h, err = r.ReadHeader(context.Background(), rd)
			require.NoError(t, err)
			got, err := r.DecryptFile(context.Background(), rd, testPassword)
			require.NoError(t, err)
			require.True(t, doc.Equal(got), "decrypted document differs")
			require.Equal(t, test.params.Comment, h.Comment)
			if test.params.PublicCustomData != nil {
				require.Equal(t, 2, h.PublicCustomData.Len())
			}

			e := got.Tree.Node(got.Tree.Entries(got.Tree.Groups(got.Tree.Root())[0])[0])
			require.Equal(t, "hunter3", e.Entry.Password.Value)
			require.Equal(t, "hunter2", e.Entry.History[0].Entry.Password.Value)
			pin, ok := e.Field("PIN")
			require.True(t, ok)
			require.Equal(t, "1234", pin.Value)
			require.Equal(t, []byte("balance: 42"), e.Entry.Binaries[0].Value.Data)
			require.True(t, e.Entry.Binaries[1].Value.Protected)
		})
	}
}

func publicCustomData() *variant.Dictionary {
	d := variant.New()
	d.Set("tool", "kdbx test")
	d.Set("count", uint32(3))
	return d
}

func TestDecryptWithoutReadHeader(t *testing.T) {
	doc := sampleDocument(t)
	data := writeDocument(t, testOptions(t), WriterParams{KDF: fastAES()}, doc, testPassword)

	got, err := NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), testPassword)
	require.NoError(t, err)
	require.True(t, doc.Equal(got))
}

func TestMinimalDatabase(t *testing.T) {
	rand := fakerand.New(t.Name())
	doc, err := dom.NewDocument("Minimal", rand)
	require.NoError(t, err)
	id, err := doc.NewEntry(rand, doc.Tree.Root())
	require.NoError(t, err)
	e := doc.Tree.Node(id)
	e.Title.Value = "Example"
	e.Entry.UserName.Value = "alice"
	e.Entry.Password.Value = "pa55word"

	params := WriterParams{Cipher: CipherAES256, Compression: CompressionGZip, KDF: fastAES()}
	data := writeDocument(t, testOptions(t), params, doc, testPassword)

	r := NewReader(nil)
	got, err := r.DecryptFile(context.Background(), bytes.NewReader(data), testPassword)
	require.NoError(t, err)
	require.Equal(t, "Minimal", got.Metadata.DatabaseName)
	require.NotEmpty(t, got.Metadata.HeaderHash)
	root := got.Tree.Root()
	require.Empty(t, got.Tree.Groups(root))
	entries := got.Tree.Entries(root)
	require.Len(t, entries, 1)
	ge := got.Tree.Node(entries[0])
	require.Equal(t, "Example", ge.Title.Value)
	require.Equal(t, "alice", ge.Entry.UserName.Value)
	require.Equal(t, "pa55word", ge.Entry.Password.Value)
	require.True(t, ge.Entry.Password.Protected)

	w, err := r.GetWriter()
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = w.Write(context.Background(), &buf, got)
	require.NoError(t, err)
	again, err := NewReader(nil).DecryptFile(context.Background(), &buf, testPassword)
	require.NoError(t, err)
	require.True(t, got.Equal(again))
	require.True(t, doc.Equal(again))
}

func TestWrongCredentials(t *testing.T) {
	for _, params := range []WriterParams{
		{KDF: fastAES()},
		{Cipher: CipherChaCha20, KDF: fastArgon2(kdf.Argon2d), InnerStream: rng.ChaCha20},
	} {
		t.Run(params.Cipher.String(), func(t *testing.T) {
			data := writeDocument(t, testOptions(t), params, sampleDocument(t), testPassword)
			_, err := NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), Password("wrong"))
			require.ErrorIs(t, err, ErrCouldNotDecrypt)
			require.Equal(t, CouldNotDecrypt, CodeOf(err))
		})
	}
}

func TestKeyFileCredentials(t *testing.T) {
	key := bytes.Repeat([]byte{0x5a}, 32)
	keyFile := NewXMLKeyFile(key)
	doc := sampleDocument(t)
	data := writeDocument(t, testOptions(t), WriterParams{KDF: fastAES()}, doc, testPassword, keyFile)

	got, err := NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), testPassword, keyFile)
	require.NoError(t, err)
	require.True(t, doc.Equal(got))

	// the raw key is equivalent to the XML file holding it
	_, err = NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), testPassword, RawKey(key))
	require.NoError(t, err)

	_, err = NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), testPassword)
	require.ErrorIs(t, err, ErrCouldNotDecrypt)

	_, err = NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), RawKey([]byte("short")))
	require.ErrorIs(t, err, ErrUnableToReadFile)
}

func TestWriteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	ok, err := NewWriter(testOptions(t), []SecurityToken{testPassword}, WriterParams{KDF: fastAES()}).
		Write(ctx, &buf, sampleDocument(t))
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, buf.Len())
}

func TestDecryptCancelled(t *testing.T) {
	data := writeDocument(t, testOptions(t), WriterParams{KDF: fastAES()}, sampleDocument(t), testPassword)

	r := NewReader(nil)
	rd := bytes.NewReader(data)
	_, err := r.ReadHeader(context.Background(), rd)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.DecryptFile(ctx, rd, testPassword)
	require.ErrorIs(t, err, ErrOperationCancelled)
	require.True(t, errors.Is(err, context.Canceled))

	_, err = NewReader(nil).DecryptFile(ctx, bytes.NewReader(data), testPassword)
	require.Equal(t, OperationCancelled, CodeOf(err))
}

func TestGetWriter(t *testing.T) {
	r := NewReader(testOptions(t))
	_, err := r.GetWriter()
	require.ErrorIs(t, err, ErrNotDecrypted)

	params := WriterParams{
		Cipher:      CipherChaCha20,
		Compression: CompressionGZip,
		KDF:         fastArgon2(kdf.Argon2id),
		InnerStream: rng.ChaCha20,
		Comment:     []byte("resaved"),
	}
	data := writeDocument(t, testOptions(t), params, sampleDocument(t), testPassword)
	doc, err := r.DecryptFile(context.Background(), bytes.NewReader(data), testPassword)
	require.NoError(t, err)

	w, err := r.GetWriter()
	require.NoError(t, err)
	got := w.Params()
	require.Equal(t, params.Cipher, got.Cipher)
	require.Equal(t, params.InnerStream, got.InnerStream)
	require.Equal(t, params.Compression, got.Compression)
	require.Equal(t, params.Comment, got.Comment)
	require.Equal(t, kdf.Argon2idUUID, got.KDF.UUID())

	doc.Root().Title.Value = "Renamed"
	var buf bytes.Buffer
	ok, err := w.Write(context.Background(), &buf, doc)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, data, buf.Bytes())

	again, err := NewReader(nil).DecryptFile(context.Background(), &buf, testPassword)
	require.NoError(t, err)
	require.True(t, doc.Equal(again))
	require.Equal(t, "Renamed", again.Root().Title.Value)
}

func TestGetWriterKeepsVersion(t *testing.T) {
	params := WriterParams{KDF: fastAES(), MinVersion: FileVersion4}
	data := writeDocument(t, testOptions(t), params, sampleDocument(t), testPassword)

	r := NewReader(nil)
	_, err := r.DecryptFile(context.Background(), bytes.NewReader(data), testPassword)
	require.NoError(t, err)
	require.True(t, r.Header().IsV4())

	w, err := r.GetWriter()
	require.NoError(t, err)
	require.Equal(t, uint32(FileVersion4), w.Params().Version())
}

func TestDecryptCancelledDuringKDF(t *testing.T) {
	rand := fakerand.New(t.Name())
	h := &Header{
		Version:            FileVersion31,
		Cipher:             CipherAES256,
		Compression:        CompressionGZip,
		MasterSeed:         randomBytes(t, 32),
		EncryptionIV:       randomBytes(t, 16),
		KDF:                &kdf.AES{Rounds: 1 << 50},
		ProtectedStreamKey: randomBytes(t, 32),
		StreamStartBytes:   randomBytes(t, 32),
		InnerRandomStream:  rng.Salsa20,
	}
	require.NoError(t, h.KDF.Reseed(rand))
	raw, err := h.marshal()
	require.NoError(t, err)
	body := &countingReader{r: bytes.NewReader(make([]byte, 64))}

	r := NewReader(nil)
	_, err = r.ReadHeader(context.Background(), bytes.NewReader(raw))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = r.DecryptFile(ctx, body, testPassword)
	require.ErrorIs(t, err, ErrOperationCancelled)
	require.Less(t, time.Since(start), 10*time.Second)
	require.Zero(t, body.n, "body must not be read after a cancelled key derivation")
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestWriterReseeds(t *testing.T) {
	opts := testOptions(t)
	doc := sampleDocument(t)
	w := NewWriter(opts, []SecurityToken{testPassword}, WriterParams{KDF: fastAES()})

	var a, b bytes.Buffer
	_, err := w.Write(context.Background(), &a, doc)
	require.NoError(t, err)
	_, err = w.Write(context.Background(), &b, doc)
	require.NoError(t, err)

	ha, err := ReadHeader(context.Background(), &a)
	require.NoError(t, err)
	hb, err := ReadHeader(context.Background(), &b)
	require.NoError(t, err)
	require.NotEqual(t, ha.MasterSeed, hb.MasterSeed)
	require.NotEqual(t, ha.EncryptionIV, hb.EncryptionIV)
	require.NotEqual(t, ha.ProtectedStreamKey, hb.ProtectedStreamKey)
	require.NotEqual(t, ha.KDF.(*kdf.AES).Seed, hb.KDF.(*kdf.AES).Seed)
	require.Empty(t, w.Params().KDF.(*kdf.AES).Seed, "writer parameters must not be mutated")
}

func TestHeaderTampering(t *testing.T) {
	for _, params := range []WriterParams{
		{KDF: fastAES(), Comment: []byte("hello")},
		{Cipher: CipherChaCha20, KDF: fastArgon2(kdf.Argon2d), Comment: []byte("hello")},
	} {
		t.Run(params.Cipher.String(), func(t *testing.T) {
			data := writeDocument(t, testOptions(t), params, sampleDocument(t), testPassword)
			i := bytes.Index(data, []byte("hello"))
			require.Positive(t, i)
			data[i] = 'j'

			_, err := NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), testPassword)
			require.ErrorIs(t, err, ErrBadHeaderHash)
		})
	}
}

func TestBodyTampering(t *testing.T) {
	t.Run("v3", func(t *testing.T) {
		data := writeDocument(t, testOptions(t), WriterParams{KDF: fastAES()}, sampleDocument(t), testPassword)
		h, err := ReadHeader(context.Background(), bytes.NewReader(data))
		require.NoError(t, err)
		// lands in the first hashed block's header
		data[len(h.Raw())+69] ^= 0x01

		_, err = NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), testPassword)
		require.ErrorIs(t, err, ErrDataIntegrityProblem)
	})
	t.Run("v4", func(t *testing.T) {
		params := WriterParams{Cipher: CipherChaCha20, KDF: fastArgon2(kdf.Argon2d)}
		data := writeDocument(t, testOptions(t), params, sampleDocument(t), testPassword)
		// last data byte before the empty terminating block
		data[len(data)-sha256.Size-4-1] ^= 0x01

		_, err := NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data), testPassword)
		require.ErrorIs(t, err, ErrDataIntegrityProblem)
	})
}

func TestDecryptTruncated(t *testing.T) {
	data := writeDocument(t, testOptions(t), WriterParams{Cipher: CipherChaCha20, KDF: fastArgon2(kdf.Argon2d)},
		sampleDocument(t), testPassword)
	h, err := ReadHeader(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	_, err = NewReader(nil).DecryptFile(context.Background(), bytes.NewReader(data[:len(h.Raw())+10]), testPassword)
	require.ErrorIs(t, err, ErrUnableToReadFile)
}

func TestWriterParamsVersion(t *testing.T) {
	tests := []struct {
		name   string
		params WriterParams
		want   uint32
	}{
		{"defaults", DefaultWriterParams(), FileVersion31},
		{"modern", ModernWriterParams(), FileVersion4},
		{"ChaCha20 cipher", WriterParams{Cipher: CipherChaCha20, KDF: fastAES(), InnerStream: rng.Salsa20}, FileVersion4},
		{"ChaCha20 stream", WriterParams{Cipher: CipherAES256, KDF: fastAES(), InnerStream: rng.ChaCha20}, FileVersion4},
		{"Argon2", WriterParams{Cipher: CipherAES256, KDF: fastArgon2(kdf.Argon2d), InnerStream: rng.Salsa20}, FileVersion4},
		{"no KDF", WriterParams{Cipher: CipherAES256, InnerStream: rng.Salsa20}, FileVersion31},
		{"custom data", WriterParams{Cipher: CipherAES256, KDF: fastAES(), PublicCustomData: publicCustomData()}, FileVersion4},
		{"empty custom data", WriterParams{Cipher: CipherAES256, KDF: fastAES(), PublicCustomData: variant.New()}, FileVersion31},
		{"minimum version", WriterParams{Cipher: CipherAES256, KDF: fastAES(), MinVersion: FileVersion4}, FileVersion4},
		{"old minimum version", WriterParams{Cipher: CipherAES256, KDF: fastAES(), MinVersion: FileVersion31}, FileVersion31},
	}
	for _, test := range tests {
		if got := test.params.Version(); got != test.want {
			t.Errorf("%s: Version() = %#08x; want %#08x", test.name, got, test.want)
		}
	}
}

func TestNewWriterDefaults(t *testing.T) {
	got := NewWriter(nil, nil, WriterParams{}).Params()
	want := DefaultWriterParams()
	if diff := cmp.Diff(want.Cipher, got.Cipher); diff != "" {
		t.Errorf("cipher (-want +got):\n%s", diff)
	}
	require.Equal(t, want.InnerStream, got.InnerStream)
	require.Equal(t, kdf.AESUUID, got.KDF.UUID())
	require.Equal(t, CompressionNone, got.Compression)
}
