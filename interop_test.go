package kdbx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hoelzro/go-kdbx/dom"
	"github.com/hoelzro/go-kdbx/kdf"
	"github.com/hoelzro/go-kdbx/rng"
)

func openFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func fixtureKeyFile(t *testing.T) KeyFile {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", "keepass.key"))
	require.NoError(t, err)
	defer f.Close()
	key, err := ReadKeyFile(f)
	require.NoError(t, err)
	return key
}

func titles(doc *dom.Document, ids []dom.NodeID) []string {
	var out []string
	for _, id := range ids {
		out = append(out, doc.Tree.Node(id).Title.Value)
	}
	return out
}

// resave writes doc back with the reader's parameters and decrypts the
// result.
func resave(t *testing.T, r *Reader, doc *dom.Document, tokens ...SecurityToken) {
	t.Helper()
	w, err := r.GetWriter()
	require.NoError(t, err)
	var buf bytes.Buffer
	ok, err := w.Write(context.Background(), &buf, doc)
	require.NoError(t, err)
	require.True(t, ok)

	again, err := NewReader(nil).DecryptFile(context.Background(), &buf, tokens...)
	require.NoError(t, err)
	require.True(t, doc.Equal(again))
}

func TestKeePassFiles(t *testing.T) {
	tests := []struct {
		file        string
		keyFile     bool
		version     uint32
		cipher      uuid.UUID
		kdf         uuid.UUID
		stream      rng.Algorithm
		compression Compression
		// copied is set for the files whose Windows group has a second
		// entry with a custom protected field.
		copied bool
	}{
		{"keepass-3.1-aes.kdbx", false, FileVersion31, CipherAES256, kdf.AESUUID, rng.Salsa20, CompressionGZip, false},
		{"keepass-3.1-aes-keyfile.kdbx", true, FileVersion31, CipherAES256, kdf.AESUUID, rng.Salsa20, CompressionGZip, false},
		{"keepass-3.1-chacha20.kdbx", false, FileVersion31, CipherChaCha20, kdf.AESUUID, rng.Salsa20, CompressionGZip, true},
		{"keepass-4-aes-argon2d.kdbx", false, FileVersion4, CipherAES256, kdf.Argon2dUUID, rng.ChaCha20, CompressionGZip, true},
		{"keepass-4-aes-argon2d-keyfile.kdbx", true, FileVersion4, CipherAES256, kdf.Argon2dUUID, rng.ChaCha20, CompressionGZip, false},
		{"keepass-4-chacha20-argon2d.kdbx", false, FileVersion4, CipherChaCha20, kdf.Argon2dUUID, rng.ChaCha20, CompressionGZip, true},
		{"keepass-4-uncompressed.kdbx", false, FileVersion4, CipherAES256, kdf.Argon2dUUID, rng.ChaCha20, CompressionNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			tokens := []SecurityToken{Password("abcdefg12345678")}
			if tt.keyFile {
				tokens = append(tokens, fixtureKeyFile(t))
			}
			r := NewReader(nil)
			doc, err := r.DecryptFile(context.Background(), bytes.NewReader(openFixture(t, tt.file)), tokens...)
			require.NoError(t, err)

			h := r.Header()
			require.Equal(t, tt.version, h.Version)
			require.Equal(t, tt.cipher, h.Cipher)
			require.Equal(t, tt.kdf, h.KDF.UUID())
			require.Equal(t, tt.compression, h.Compression)
			require.Equal(t, tt.stream, r.stream)

			root := doc.Tree.Root()
			require.Equal(t, "example", doc.Tree.Node(root).Title.Value)
			groups := doc.Tree.Groups(root)
			require.Equal(t, []string{"General", "Windows", "Network", "Internet", "eMail", "Homebanking", "Recycle Bin"}, titles(doc, groups))
			bin, ok := doc.Tree.FindByUUID(doc.Metadata.RecycleBinUUID)
			require.True(t, ok)
			require.Equal(t, groups[6], bin)

			general := doc.Tree.Entries(groups[0])
			require.Equal(t, []string{"Sample Entry", "Sample Entry2"}, titles(doc, general))
			e := doc.Tree.Node(general[0])
			require.Equal(t, "User Name", e.Entry.UserName.Value)
			require.Equal(t, "Password", e.Entry.Password.Value)
			require.True(t, e.Entry.Password.Protected)
			require.Equal(t, "http://keepass.info/", e.Entry.URL.Value)
			require.Equal(t, "Notes", e.Notes.Value)
			e = doc.Tree.Node(general[1])
			require.Equal(t, "test", e.Entry.UserName.Value)
			require.Equal(t, "AnotherPassword", e.Entry.Password.Value)

			windows := doc.Tree.Entries(groups[1])
			file := doc.Tree.Node(windows[0])
			require.Equal(t, "File test", file.Title.Value)
			require.Len(t, file.Entry.Binaries, 1)
			require.Equal(t, "example.txt", file.Entry.Binaries[0].Key)
			require.Equal(t, "Hello world", string(file.Entry.Binaries[0].Value.Data))

			if tt.copied {
				require.Equal(t, []string{"File test", "File test - Copy"}, titles(doc, windows))
				require.Empty(t, file.Entry.History)
				cp := doc.Tree.Node(windows[1])
				field, ok := cp.Field("test")
				require.True(t, ok)
				require.Equal(t, "prova", field.Value)
				require.True(t, field.Protected)
				require.Equal(t, "Hello world2", string(cp.Entry.Binaries[0].Value.Data))
				require.Len(t, cp.Entry.History, 1)
				require.Equal(t, "Hello world2", string(cp.Entry.History[0].Entry.Binaries[0].Value.Data))
			} else {
				require.Len(t, windows, 1)
				require.Len(t, file.Entry.History, 1)
				require.Equal(t, "Hello world\n", string(file.Entry.History[0].Entry.Binaries[0].Value.Data))
			}

			resave(t, r, doc, tokens...)
		})
	}
}

func TestGoKeePassLibFile(t *testing.T) {
	// written by gokeepasslib, which leaves padding after the gzip
	// stream and bytes after the last block
	r := NewReader(nil)
	doc, err := r.DecryptFile(context.Background(), bytes.NewReader(openFixture(t, "gokeepasslib-4-chacha20.kdbx")), Password("123"))
	require.NoError(t, err)
	require.Equal(t, uint32(FileVersion4), r.Header().Version)
	require.Equal(t, CipherChaCha20, r.Header().Cipher)
	require.Equal(t, "KDBX4", doc.Metadata.DatabaseName)

	root := doc.Tree.Root()
	require.Equal(t, "kdbx4key", doc.Tree.Node(root).Title.Value)
	require.Equal(t, []string{"General", "Windows", "Network", "Internet", "eMail", "Homebanking"}, titles(doc, doc.Tree.Groups(root)))
	entries := doc.Tree.Entries(root)
	require.Equal(t, []string{"Sample Entry", "Sample Entry #2"}, titles(doc, entries))
	first := doc.Tree.Node(entries[0])
	require.Equal(t, "User Name", first.Entry.UserName.Value)
	require.Equal(t, "Password", first.Entry.Password.Value)
	require.Equal(t, "https://keepass.info/", first.Entry.URL.Value)
	second := doc.Tree.Node(entries[1])
	require.Equal(t, "Michael321", second.Entry.UserName.Value)
	require.Equal(t, "12345", second.Entry.Password.Value)
	require.Empty(t, second.Notes.Value)

	resave(t, r, doc, Password("123"))
}
