package kdbx

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SecurityToken is one credential source contributing to the composite key.
type SecurityToken interface {
	Bytes() ([]byte, error)
}

// Password is a master password. Its token bytes are the SHA-256 of its
// UTF-8 encoding.
type Password string

func (p Password) Bytes() ([]byte, error) {
	sum := sha256.Sum256([]byte(p))
	return sum[:], nil
}

// RawKey is a previously computed 32-byte key, used unchanged.
type RawKey []byte

func (k RawKey) Bytes() ([]byte, error) {
	if len(k) != sha256.Size {
		return nil, fmt.Errorf("kdbx: raw key is %d bytes, should be %d", len(k), sha256.Size)
	}
	return append([]byte(nil), k...), nil
}

// KeyFile is the content of a key file.
type KeyFile []byte

// ReadKeyFile reads a key file's content from r.
func ReadKeyFile(r io.Reader) (KeyFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("kdbx: reading key file: %w", err)
	}
	return KeyFile(data), nil
}

// Bytes interprets the key file. XML key files (formats 1.0 and 2.0) yield
// their embedded key; 32 raw bytes or 64 hex digits are used directly; any
// other content is hashed with SHA-256.
func (f KeyFile) Bytes() ([]byte, error) {
	if key, ok, err := parseXMLKeyFile(f); ok || err != nil {
		return key, err
	}
	switch len(f) {
	case 32:
		return append([]byte(nil), f...), nil
	case 64:
		if key, err := hex.DecodeString(string(f)); err == nil {
			return key, nil
		}
	}
	sum := sha256.Sum256(f)
	return sum[:], nil
}

type xmlKeyFile struct {
	XMLName xml.Name `xml:"KeyFile"`
	Version string   `xml:"Meta>Version"`
	Data    struct {
		Hash  string `xml:"Hash,attr"`
		Value string `xml:",chardata"`
	} `xml:"Key>Data"`
}

var errKeyFileHash = errors.New("kdbx: key file hash mismatch")

// parseXMLKeyFile reports ok=false when data is not an XML key file at all.
func parseXMLKeyFile(data []byte) (key []byte, ok bool, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '<' && !bytes.HasPrefix(trimmed, []byte("\xef\xbb\xbf<")) {
		return nil, false, nil
	}
	var kf xmlKeyFile
	if err := xml.Unmarshal(data, &kf); err != nil {
		return nil, false, nil
	}
	value := strings.Join(strings.Fields(kf.Data.Value), "")
	if value == "" {
		return nil, false, nil
	}

	if strings.HasPrefix(kf.Version, "2.") {
		key, err := hex.DecodeString(value)
		if err != nil {
			return nil, true, fmt.Errorf("kdbx: key file data: %w", err)
		}
		if kf.Data.Hash != "" {
			sum := sha256.Sum256(key)
			want, err := hex.DecodeString(kf.Data.Hash)
			if err != nil || len(want) == 0 || len(want) > len(sum) || !bytes.Equal(want, sum[:len(want)]) {
				return nil, true, errKeyFileHash
			}
		}
		return key, true, nil
	}

	key, err = base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, true, fmt.Errorf("kdbx: key file data: %w", err)
	}
	return key, true, nil
}

// NewXMLKeyFile generates a version 2.0 XML key file holding key.
func NewXMLKeyFile(key []byte) KeyFile {
	sum := sha256.Sum256(key)
	encoded := strings.ToUpper(hex.EncodeToString(key))
	var groups []string
	for len(encoded) > 8 {
		groups = append(groups, encoded[:8])
		encoded = encoded[8:]
	}
	groups = append(groups, encoded)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<KeyFile>\n\t<Meta>\n\t\t<Version>2.0</Version>\n\t</Meta>\n\t<Key>\n")
	fmt.Fprintf(&buf, "\t\t<Data Hash=\"%X\">%s</Data>\n", sum[:4], strings.Join(groups, " "))
	buf.WriteString("\t</Key>\n</KeyFile>\n")
	return KeyFile(buf.Bytes())
}

// CompositeKey hashes the concatenated bytes of every token.
func CompositeKey(tokens ...SecurityToken) ([]byte, error) {
	h := sha256.New()
	for _, t := range tokens {
		b, err := t.Bytes()
		if err != nil {
			return nil, err
		}
		h.Write(b)
	}
	return h.Sum(nil), nil
}
