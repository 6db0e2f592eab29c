package dom

import (
	"encoding/base64"
	"strings"

	"github.com/hoelzro/go-kdbx/rng"
)

// Well-known entry string keys.
const (
	KeyTitle    = "Title"
	KeyUserName = "UserName"
	KeyPassword = "Password"
	KeyURL      = "URL"
	KeyNotes    = "Notes"
)

// ProtectedString is a named string value. Value always holds the
// cleartext; Protected says whether it is ciphered with the inner random
// stream when serialized.
type ProtectedString struct {
	Key       string
	Value     string
	Protected bool
}

// Equal compares cleartext values only.
func (p ProtectedString) Equal(other ProtectedString) bool {
	return p.Value == other.Value
}

// Compare orders by cleartext value.
func (p ProtectedString) Compare(other ProtectedString) int {
	return strings.Compare(p.Value, other.Value)
}

// WithProtection returns a copy with the protection flag set to protected.
// The cleartext is unchanged.
func (p ProtectedString) WithProtection(protected bool) ProtectedString {
	p.Protected = protected
	return p
}

// Seal returns the serialized form of the value: base64 of the value XORed
// with the next bytes of gen when protected, the cleartext otherwise.
func (p ProtectedString) Seal(gen rng.Generator) string {
	if !p.Protected {
		return p.Value
	}
	return sealBytes(gen, []byte(p.Value))
}

// Open reverses Seal for a value read from XML.
func Open(gen rng.Generator, raw string, protected bool) (string, error) {
	if !protected {
		return raw, nil
	}
	b, err := openBytes(gen, raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sealBytes(gen rng.Generator, b []byte) string {
	pad := gen.GetBytes(len(b))
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ pad[i]
	}
	return base64.StdEncoding.EncodeToString(out)
}

func openBytes(gen rng.Generator, raw string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	pad := gen.GetBytes(len(b))
	for i := range b {
		b[i] ^= pad[i]
	}
	return b, nil
}
