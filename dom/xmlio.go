package dom

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hoelzro/go-kdbx/rng"
)

// RawElement is an element kept verbatim because the model does not
// interpret it. It is written back unchanged.
type RawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

func (r *RawElement) Equal(other *RawElement) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.XMLName != other.XMLName || len(r.Attrs) != len(other.Attrs) {
		return false
	}
	for i := range r.Attrs {
		if r.Attrs[i] != other.Attrs[i] {
			return false
		}
	}
	return bytes.Equal(r.Inner, other.Inner)
}

func (r *RawElement) clone() *RawElement {
	if r == nil {
		return nil
	}
	c := *r
	c.Attrs = append([]xml.Attr(nil), r.Attrs...)
	c.Inner = append([]byte(nil), r.Inner...)
	return &c
}

func rawElementsEqual(a, b []RawElement) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(&b[i]) {
			return false
		}
	}
	return true
}

func cloneRawElements(rs []RawElement) []RawElement {
	if rs == nil {
		return nil
	}
	out := make([]RawElement, len(rs))
	for i := range rs {
		out[i] = *rs[i].clone()
	}
	return out
}

// how many elements are read between context checks
const ctxCheckInterval = 256

type decoder struct {
	ctx      context.Context
	d        *xml.Decoder
	gen      rng.Generator
	v4       bool
	meta     *Metadata
	pool     []*Binary
	tree     *Tree
	elements int
}

func (d *decoder) token() (xml.Token, error) {
	tok, err := d.d.Token()
	if err == io.EOF {
		line, _ := d.d.InputPos()
		return nil, &xml.SyntaxError{Msg: "unexpected EOF", Line: line}
	}
	return tok, err
}

// children calls fn for each child element of the element whose start tag
// was just consumed. fn must consume the child through its end tag.
func (d *decoder) children(fn func(start xml.StartElement) error) error {
	for {
		tok, err := d.token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			d.elements++
			if d.elements%ctxCheckInterval == 0 {
				if err := d.ctx.Err(); err != nil {
					return err
				}
			}
			if err := fn(t.Copy()); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (d *decoder) text() (string, error) {
	var sb strings.Builder
	for {
		tok, err := d.token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			if err := d.d.Skip(); err != nil {
				return "", err
			}
		case xml.EndElement:
			return sb.String(), nil
		}
	}
}

func (d *decoder) raw(start xml.StartElement) (RawElement, error) {
	var r RawElement
	err := d.d.DecodeElement(&r, &start)
	return r, err
}

func (d *decoder) boolValue(start xml.StartElement) (bool, error) {
	s, err := d.text()
	if err != nil {
		return false, err
	}
	b, ok := parseBool(s)
	if !ok {
		return false, &ValueError{Element: start.Name.Local, Value: s}
	}
	return b, nil
}

func (d *decoder) nullableBool() (*bool, error) {
	s, err := d.text()
	if err != nil {
		return nil, err
	}
	return parseNullableBool(s), nil
}

func (d *decoder) intValue(start xml.StartElement) (int, error) {
	s, err := d.text()
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ValueError{Element: start.Name.Local, Value: s, Err: err}
	}
	return i, nil
}

func (d *decoder) int64Value(start xml.StartElement) (int64, error) {
	s, err := d.text()
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &ValueError{Element: start.Name.Local, Value: s, Err: err}
	}
	return i, nil
}

func (d *decoder) date(start xml.StartElement) (time.Time, error) {
	s, err := d.text()
	if err != nil {
		return time.Time{}, err
	}
	t, err := parseDate(s)
	if err != nil {
		return time.Time{}, &ValueError{Element: start.Name.Local, Value: s, Err: err}
	}
	return t, nil
}

// uuid treats an empty element as Empty.
func (d *decoder) uuid(start xml.StartElement) (UUID, error) {
	s, err := d.text()
	if err != nil {
		return Empty, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return Empty, nil
	}
	u, err := ParseUUID(s)
	if err != nil {
		return Empty, &ValueError{Element: start.Name.Local, Value: s, Err: err}
	}
	return u, nil
}

func attr(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

type encoder struct {
	e    *xml.Encoder
	gen  rng.Generator
	v4   bool
	pool map[*Binary]int
	err  error
}

func (e *encoder) token(t xml.Token) {
	if e.err != nil {
		return
	}
	e.err = e.e.EncodeToken(t)
}

func (e *encoder) start(name string, attrs ...xml.Attr) {
	e.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (e *encoder) end(name string) {
	e.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (e *encoder) text(name, value string, attrs ...xml.Attr) {
	e.start(name, attrs...)
	if value != "" {
		e.token(xml.CharData(value))
	}
	e.end(name)
}

func (e *encoder) boolValue(name string, b bool) {
	e.text(name, formatBool(b))
}

func (e *encoder) nullableBool(name string, b *bool) {
	e.text(name, formatNullableBool(b))
}

func (e *encoder) intValue(name string, i int) {
	e.text(name, strconv.Itoa(i))
}

func (e *encoder) int64Value(name string, i int64) {
	e.text(name, strconv.FormatInt(i, 10))
}

// date omits unset dates entirely, as other writers do.
func (e *encoder) date(name string, t time.Time) {
	if t.IsZero() {
		return
	}
	e.text(name, formatDate(t, e.v4))
}

func (e *encoder) uuid(name string, u UUID) {
	e.text(name, u.Encoded())
}

func (e *encoder) raw(r *RawElement) {
	if e.err != nil || r == nil {
		return
	}
	e.err = e.e.Encode(r)
}

func (e *encoder) raws(rs []RawElement) {
	for i := range rs {
		e.raw(&rs[i])
	}
}
