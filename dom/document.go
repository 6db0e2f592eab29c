package dom

import (
	"bufio"
	"context"
	"encoding/xml"
	"io"
	"time"

	"github.com/hoelzro/go-kdbx/rng"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8" standalone="yes"?>` + "\n"

// Document is a decrypted database: the <KeePassFile> element.
type Document struct {
	Metadata *Metadata
	Tree     *Tree

	// DeletedObjects is the <Root><DeletedObjects> element, kept verbatim.
	DeletedObjects *RawElement

	// RootUnknown and Unknown hold unmodelled children of <Root> and
	// <KeePassFile>.
	RootUnknown []RawElement
	Unknown     []RawElement
}

// NewDocument returns an empty database whose root group is named after
// the database. rand supplies the UUIDs; nil means crypto/rand.
func NewDocument(name string, rand io.Reader) (*Document, error) {
	now := time.Now()
	root, err := NewGroup(rand, name, now)
	if err != nil {
		return nil, err
	}
	tree, err := NewTree(root)
	if err != nil {
		return nil, err
	}
	return &Document{
		Metadata: NewMetadata(name, now),
		Tree:     tree,
	}, nil
}

// Root returns the top-level group.
func (doc *Document) Root() *Node { return doc.Tree.Node(doc.Tree.Root()) }

// NewEntry creates an entry under group parent using the document's memory
// protection settings.
func (doc *Document) NewEntry(rand io.Reader, parent NodeID) (NodeID, error) {
	n, err := NewEntry(rand, doc.Metadata, time.Now())
	if err != nil {
		return NoNode, err
	}
	return doc.Tree.Add(parent, n)
}

// NewGroup creates a group under group parent.
func (doc *Document) NewGroup(rand io.Reader, parent NodeID, name string) (NodeID, error) {
	n, err := NewGroup(rand, name, time.Now())
	if err != nil {
		return NoNode, err
	}
	return doc.Tree.Add(parent, n)
}

// SyncEntry syncs node id to template, trimming history to the document's
// HistoryMaxItems.
func (doc *Document) SyncEntry(id NodeID, template *Node, isUpdate bool) error {
	n := doc.Tree.Node(id)
	if n == nil {
		return ErrNoNode
	}
	return n.SyncTo(template, isUpdate, time.Now(), doc.Metadata.HistoryMaxItems)
}

// BinaryPool returns the metadata pool followed by any attachment that
// an entry references but the pool lacks.
func (doc *Document) BinaryPool() []*Binary {
	pool := append([]*Binary(nil), doc.Metadata.Binaries...)
	seen := make(map[*Binary]bool, len(pool))
	for _, b := range pool {
		seen[b] = true
	}
	addRefs := func(n *Node) {
		for _, r := range n.Entry.Binaries {
			if r.Value != nil && !seen[r.Value] {
				seen[r.Value] = true
				pool = append(pool, r.Value)
			}
		}
	}
	doc.Tree.Walk(doc.Tree.Root(), func(id NodeID) error {
		n := doc.Tree.Node(id)
		if n.Kind != KindEntry {
			return nil
		}
		addRefs(n)
		for _, h := range n.Entry.History {
			addRefs(h)
		}
		return nil
	})
	return pool
}

// Equal reports structural equality: metadata, the node tree, and the
// verbatim elements. Header hashes are not compared.
func (doc *Document) Equal(other *Document) bool {
	if doc == nil || other == nil {
		return doc == other
	}
	return doc.Metadata.Equal(other.Metadata) &&
		doc.Tree.Equal(other.Tree) &&
		doc.DeletedObjects.Equal(other.DeletedObjects) &&
		rawElementsEqual(doc.RootUnknown, other.RootUnknown) &&
		rawElementsEqual(doc.Unknown, other.Unknown)
}

// ParseOptions describe the container a document was read from.
type ParseOptions struct {
	// V4 selects binary dates and the inner-header binary pool.
	V4 bool

	// Binaries is the pool read from a version 4 inner header.
	Binaries []*Binary
}

// Parse reads a <KeePassFile> document. Protected values are deciphered
// with gen in document order, so gen must be freshly seeded.
func Parse(ctx context.Context, r io.Reader, gen rng.Generator, opts ParseOptions) (*Document, error) {
	d := &decoder{
		ctx: ctx,
		d:   xml.NewDecoder(r),
		gen: gen,
		v4:  opts.V4,
	}
	if opts.V4 {
		d.pool = opts.Binaries
	}
	doc := new(Document)
	for {
		tok, err := d.token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "KeePassFile" {
			return nil, missing("document", "KeePassFile")
		}
		break
	}
	haveRoot := false
	err := d.children(func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Meta":
			m, err := d.metadata()
			doc.Metadata = m
			return err
		case "Root":
			haveRoot = true
			return d.root(doc)
		default:
			r, err := d.raw(child)
			doc.Unknown = append(doc.Unknown, r)
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	if doc.Metadata == nil {
		return nil, missing("KeePassFile", "Meta")
	}
	if !haveRoot {
		return nil, missing("KeePassFile", "Root")
	}
	doc.Metadata.Binaries = d.pool
	return doc, nil
}

func (d *decoder) root(doc *Document) error {
	err := d.children(func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Group":
			if d.tree != nil {
				r, err := d.raw(child)
				doc.RootUnknown = append(doc.RootUnknown, r)
				return err
			}
			_, err := d.group(NoNode)
			return err
		case "DeletedObjects":
			r, err := d.raw(child)
			doc.DeletedObjects = &r
			return err
		default:
			r, err := d.raw(child)
			doc.RootUnknown = append(doc.RootUnknown, r)
			return err
		}
	})
	if err != nil {
		return err
	}
	if d.tree == nil {
		return missing("Root", "Group")
	}
	doc.Tree = d.tree
	return nil
}

func (d *decoder) memoryProtectionOrDefault() MemoryProtection {
	if d.meta == nil {
		return DefaultMemoryProtection()
	}
	return d.meta.MemoryProtection
}

// attribute parses the children common to groups and entries. It reports
// false for any other element.
func (d *decoder) attribute(a *Attributes, child xml.StartElement) (bool, error) {
	var err error
	switch child.Name.Local {
	case "UUID":
		a.UUID, err = d.uuid(child)
	case "IconID":
		a.IconID, err = d.intValue(child)
	case "CustomIconUUID":
		a.CustomIconUUID, err = d.uuid(child)
	case "Times":
		a.Times, err = d.times()
	case "CustomData":
		a.CustomData, err = d.customData()
	default:
		return false, nil
	}
	return true, err
}

func (d *decoder) group(parent NodeID) (NodeID, error) {
	n := &Node{
		Kind: KindGroup,
		Attributes: Attributes{
			Title: ProtectedString{Key: "Name"},
			Notes: ProtectedString{Key: KeyNotes},
		},
		Group: &GroupData{},
	}
	var id NodeID
	if d.tree == nil {
		d.tree = &Tree{byUUID: make(map[UUID]NodeID), root: NoNode}
		id = d.tree.insert(n, NoNode)
		d.tree.root = id
	} else {
		id = d.tree.insert(n, parent)
	}
	haveUUID := false
	err := d.children(func(child xml.StartElement) error {
		if ok, err := d.attribute(&n.Attributes, child); ok {
			if child.Name.Local == "UUID" && err == nil && !haveUUID {
				// indexed before the children so that the first UUID in
				// document order wins
				haveUUID = true
				d.tree.index(id)
			}
			return err
		}
		var err error
		g := n.Group
		switch child.Name.Local {
		case "Name":
			n.Title.Value, err = d.text()
		case "Notes":
			n.Notes.Value, err = d.text()
		case "IsExpanded":
			g.IsExpanded, err = d.boolValue(child)
		case "DefaultAutoTypeSequence":
			g.DefaultAutoTypeSequence, err = d.text()
		case "EnableAutoType":
			g.EnableAutoType, err = d.nullableBool()
		case "EnableSearching":
			g.EnableSearching, err = d.nullableBool()
		case "LastTopVisibleEntry":
			g.LastTopVisibleEntry, err = d.uuid(child)
		case "Group":
			_, err = d.group(id)
		case "Entry":
			var e *Node
			e, err = d.entry(false)
			if err == nil {
				d.tree.index(d.tree.insert(e, id))
			}
		default:
			var r RawElement
			r, err = d.raw(child)
			n.Unknown = append(n.Unknown, r)
		}
		return err
	})
	if err != nil {
		return NoNode, err
	}
	if !haveUUID {
		return NoNode, missing("Group", "UUID")
	}
	return id, nil
}

func (d *decoder) entry(isHistory bool) (*Node, error) {
	n := &Node{Kind: KindEntry, Entry: new(EntryData), parent: NoNode}
	e := n.Entry
	seen := make(map[string]bool)
	haveUUID := false
	err := d.children(func(child xml.StartElement) error {
		if ok, err := d.attribute(&n.Attributes, child); ok {
			haveUUID = haveUUID || child.Name.Local == "UUID"
			return err
		}
		var err error
		switch child.Name.Local {
		case "ForegroundColor":
			e.ForegroundColor, err = d.text()
		case "BackgroundColor":
			e.BackgroundColor, err = d.text()
		case "OverrideURL":
			e.OverrideURL, err = d.text()
		case "Tags":
			e.Tags, err = d.text()
		case "String":
			var s ProtectedString
			s, err = d.protectedString(child)
			if err != nil {
				return err
			}
			seen[s.Key] = true
			switch s.Key {
			case KeyTitle:
				n.Title = s
			case KeyNotes:
				n.Notes = s
			case KeyUserName:
				e.UserName = s
			case KeyPassword:
				e.Password = s
			case KeyURL:
				e.URL = s
			default:
				e.Fields = append(e.Fields, s)
			}
		case "Binary":
			var ref BinaryRef
			ref, err = d.binaryRef(child)
			e.Binaries = append(e.Binaries, ref)
		case "AutoType":
			var r RawElement
			r, err = d.raw(child)
			e.AutoType = &r
		case "History":
			err = d.children(func(h xml.StartElement) error {
				if h.Name.Local != "Entry" {
					return d.d.Skip()
				}
				snap, err := d.entry(true)
				if err != nil {
					return err
				}
				if !isHistory {
					e.History = append(e.History, snap)
				}
				return nil
			})
		default:
			var r RawElement
			r, err = d.raw(child)
			n.Unknown = append(n.Unknown, r)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !haveUUID {
		return nil, missing("Entry", "UUID")
	}

	mp := d.memoryProtectionOrDefault()
	for key, dst := range map[string]*ProtectedString{
		KeyTitle:    &n.Title,
		KeyNotes:    &n.Notes,
		KeyUserName: &e.UserName,
		KeyPassword: &e.Password,
		KeyURL:      &e.URL,
	} {
		if !seen[key] {
			*dst = ProtectedString{Key: key, Protected: mp.Protects(key)}
		}
	}
	return n, nil
}

// protectedString reads <String><Key/><Value Protected="True"/></String>.
func (d *decoder) protectedString(start xml.StartElement) (ProtectedString, error) {
	var (
		s                 ProtectedString
		haveKey, ciphered bool
		raw               string
	)
	err := d.children(func(child xml.StartElement) error {
		var err error
		switch child.Name.Local {
		case "Key":
			s.Key, err = d.text()
			haveKey = true
		case "Value":
			if v, ok := attr(child, "Protected"); ok {
				ciphered, _ = parseBool(v)
			}
			if v, ok := attr(child, "ProtectInMemory"); ok {
				s.Protected, _ = parseBool(v)
			}
			raw, err = d.text()
		default:
			err = d.d.Skip()
		}
		return err
	})
	if err != nil {
		return s, err
	}
	if !haveKey {
		return s, missing(start.Name.Local, "Key")
	}
	if ciphered {
		s.Protected = true
		s.Value, err = Open(d.gen, raw, true)
		if err != nil {
			return s, &ValueError{Element: "Value", Value: raw, Err: err}
		}
	} else {
		s.Value = raw
	}
	return s, nil
}

func (d *decoder) times() (Times, error) {
	var t Times
	err := d.children(func(child xml.StartElement) error {
		var err error
		switch child.Name.Local {
		case "LastModificationTime":
			t.LastModificationTime, err = d.date(child)
		case "CreationTime":
			t.CreationTime, err = d.date(child)
		case "LastAccessTime":
			t.LastAccessTime, err = d.date(child)
		case "ExpiryTime":
			t.ExpiryTime, err = d.date(child)
		case "Expires":
			t.Expires, err = d.boolValue(child)
		case "UsageCount":
			t.UsageCount, err = d.intValue(child)
		case "LocationChanged":
			t.LocationChanged, err = d.date(child)
		default:
			var r RawElement
			r, err = d.raw(child)
			t.Unknown = append(t.Unknown, r)
		}
		return err
	})
	return t, err
}

// EncodeOptions describe the container a document is written into.
type EncodeOptions struct {
	// V4 selects binary dates and leaves the binary pool to the inner
	// header.
	V4 bool
}

// Encode writes the document as XML. Protected values are ciphered with
// gen in document order, so gen must be freshly seeded.
func (doc *Document) Encode(w io.Writer, gen rng.Generator, opts EncodeOptions) error {
	if doc.Metadata == nil || doc.Tree == nil {
		return ErrMissingElement
	}
	bw := bufio.NewWriter(w)
	if _, err := io.WriteString(bw, xmlHeader); err != nil {
		return err
	}
	pool := doc.BinaryPool()
	e := &encoder{
		e:    xml.NewEncoder(bw),
		gen:  gen,
		v4:   opts.V4,
		pool: make(map[*Binary]int, len(pool)),
	}
	e.e.Indent("", "\t")
	for i, b := range pool {
		if _, dup := e.pool[b]; !dup {
			e.pool[b] = i
		}
	}

	e.start("KeePassFile")
	e.metadata(doc.Metadata, pool)
	e.start("Root")
	e.group(doc.Tree, doc.Tree.Root())
	e.raw(doc.DeletedObjects)
	e.raws(doc.RootUnknown)
	e.end("Root")
	e.raws(doc.Unknown)
	e.end("KeePassFile")
	if e.err != nil {
		return e.err
	}
	if err := e.e.Flush(); err != nil {
		return err
	}
	return bw.Flush()
}

func (e *encoder) customIcon(n *Node) {
	if !n.CustomIconUUID.IsEmpty() {
		e.uuid("CustomIconUUID", n.CustomIconUUID)
	}
}

func (e *encoder) times(t Times) {
	e.start("Times")
	e.date("LastModificationTime", t.LastModificationTime)
	e.date("CreationTime", t.CreationTime)
	e.date("LastAccessTime", t.LastAccessTime)
	e.date("ExpiryTime", t.ExpiryTime)
	e.boolValue("Expires", t.Expires)
	e.intValue("UsageCount", t.UsageCount)
	e.date("LocationChanged", t.LocationChanged)
	e.raws(t.Unknown)
	e.end("Times")
}

func (e *encoder) group(t *Tree, id NodeID) {
	n := t.Node(id)
	g := n.Group
	e.start("Group")
	e.uuid("UUID", n.UUID)
	e.text("Name", n.Title.Value)
	e.text("Notes", n.Notes.Value)
	e.intValue("IconID", n.IconID)
	e.customIcon(n)
	e.times(n.Times)
	e.boolValue("IsExpanded", g.IsExpanded)
	e.text("DefaultAutoTypeSequence", g.DefaultAutoTypeSequence)
	e.nullableBool("EnableAutoType", g.EnableAutoType)
	e.nullableBool("EnableSearching", g.EnableSearching)
	e.uuid("LastTopVisibleEntry", g.LastTopVisibleEntry)
	for _, c := range g.children {
		if t.nodes[c].Kind == KindGroup {
			e.group(t, c)
		} else {
			e.entry(t.nodes[c], false)
		}
	}
	e.customData(n.CustomData)
	e.raws(n.Unknown)
	e.end("Group")
}

func (e *encoder) entry(n *Node, isHistory bool) {
	en := n.Entry
	e.start("Entry")
	e.uuid("UUID", n.UUID)
	e.intValue("IconID", n.IconID)
	e.customIcon(n)
	e.text("ForegroundColor", en.ForegroundColor)
	e.text("BackgroundColor", en.BackgroundColor)
	e.text("OverrideURL", en.OverrideURL)
	e.text("Tags", en.Tags)
	e.times(n.Times)
	for _, s := range n.Strings() {
		e.protectedString(s)
	}
	for _, r := range en.Binaries {
		e.binaryRef(r)
	}
	e.raw(en.AutoType)
	if !isHistory {
		e.start("History")
		for _, h := range en.History {
			e.entry(h, true)
		}
		e.end("History")
	}
	e.customData(n.CustomData)
	e.raws(n.Unknown)
	e.end("Entry")
}

func (e *encoder) protectedString(s ProtectedString) {
	e.start("String")
	e.text("Key", s.Key)
	if s.Protected {
		e.text("Value", s.Seal(e.gen), xml.Attr{Name: xml.Name{Local: "Protected"}, Value: "True"})
	} else {
		e.text("Value", s.Value)
	}
	e.end("String")
}
