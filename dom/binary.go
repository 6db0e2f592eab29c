package dom

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Binary is an attachment blob in the document's pool. Binaries are
// immutable once created and are shared by pointer between entries and
// their clones.
type Binary struct {
	Data []byte

	// Protected asks for the data to be kept protected in memory and, in
	// 3.1 XML, ciphered with the inner random stream.
	Protected bool

	// Compressed selects the gzip form when the pool is written into 3.1
	// XML. It has no effect on the 4.x inner header.
	Compressed bool
}

func (b *Binary) Equal(other *Binary) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Protected == other.Protected && bytes.Equal(b.Data, other.Data)
}

// BinaryRef attaches a pool binary to an entry under a file name.
type BinaryRef struct {
	Key   string
	Value *Binary
}

func (r BinaryRef) Equal(other BinaryRef) bool {
	return r.Key == other.Key && r.Value.Equal(other.Value)
}

func binaryRefsEqual(a, b []BinaryRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// binaryRef reads <Binary><Key/><Value Ref="n"/></Binary>.
func (d *decoder) binaryRef(start xml.StartElement) (BinaryRef, error) {
	var (
		ref      BinaryRef
		haveKey  bool
		haveData bool
	)
	err := d.children(func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Key":
			s, err := d.text()
			if err != nil {
				return err
			}
			ref.Key = s
			haveKey = true
			return nil
		case "Value":
			v, ok := attr(child, "Ref")
			if !ok {
				return missing("Value", "@Ref")
			}
			if err := d.d.Skip(); err != nil {
				return err
			}
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n < 0 || n >= len(d.pool) {
				return &ValueError{Element: "Value", Value: v, Err: err}
			}
			ref.Value = d.pool[n]
			haveData = true
			return nil
		default:
			return d.d.Skip()
		}
	})
	if err != nil {
		return ref, err
	}
	if !haveKey {
		return ref, missing(start.Name.Local, "Key")
	}
	if !haveData {
		return ref, missing(start.Name.Local, "Value")
	}
	return ref, nil
}

func (e *encoder) binaryRef(r BinaryRef) {
	id, ok := e.pool[r.Value]
	if !ok && e.err == nil {
		e.err = fmt.Errorf("dom: attachment %q is not in the binary pool", r.Key)
		return
	}
	e.start("Binary")
	e.text("Key", r.Key)
	e.text("Value", "", xml.Attr{Name: xml.Name{Local: "Ref"}, Value: strconv.Itoa(id)})
	e.end("Binary")
}

// metaBinaries reads the 3.1 <Meta><Binaries> pool.
func (d *decoder) metaBinaries() ([]*Binary, error) {
	var pool []*Binary
	err := d.children(func(child xml.StartElement) error {
		if child.Name.Local != "Binary" {
			return d.d.Skip()
		}
		b, err := d.metaBinary(child)
		if err != nil {
			return err
		}
		id := len(pool)
		if s, ok := attr(child, "ID"); ok {
			id, err = strconv.Atoi(strings.TrimSpace(s))
			if err != nil || id < 0 {
				return &ValueError{Element: "Binary", Value: s, Err: err}
			}
		}
		for len(pool) <= id {
			pool = append(pool, nil)
		}
		pool[id] = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, b := range pool {
		if b == nil {
			return nil, &ValueError{Element: "Binaries", Value: strconv.Itoa(i), Err: ErrMissingElement}
		}
	}
	return pool, nil
}

func (d *decoder) metaBinary(start xml.StartElement) (*Binary, error) {
	b := new(Binary)
	if s, ok := attr(start, "Compressed"); ok {
		b.Compressed, _ = parseBool(s)
	}
	if s, ok := attr(start, "Protected"); ok {
		b.Protected, _ = parseBool(s)
	}
	s, err := d.text()
	if err != nil {
		return nil, err
	}
	var data []byte
	if b.Protected {
		data, err = openBytes(d.gen, s)
	} else {
		data, err = base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	}
	if err != nil {
		return nil, &ValueError{Element: "Binary", Value: s, Err: err}
	}
	if b.Compressed {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &ValueError{Element: "Binary", Err: err}
		}
		zr.Multistream(false)
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, &ValueError{Element: "Binary", Err: err}
		}
	}
	b.Data = data
	return b, nil
}

func (e *encoder) metaBinaries(pool []*Binary) {
	e.start("Binaries")
	for i, b := range pool {
		data := b.Data
		attrs := []xml.Attr{{Name: xml.Name{Local: "ID"}, Value: strconv.Itoa(i)}}
		if b.Compressed {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(data); err != nil && e.err == nil {
				e.err = err
			}
			if err := zw.Close(); err != nil && e.err == nil {
				e.err = err
			}
			data = buf.Bytes()
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "Compressed"}, Value: "True"})
		}
		var value string
		if b.Protected {
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "Protected"}, Value: "True"})
			value = sealBytes(e.gen, data)
		} else {
			value = base64.StdEncoding.EncodeToString(data)
		}
		e.text("Binary", value, attrs...)
	}
	e.end("Binaries")
}
