package dom

import (
	"io"
	"time"
)

// Kind tags a Node as a group or an entry.
type Kind int

const (
	KindGroup Kind = iota
	KindEntry
)

func (k Kind) String() string {
	if k == KindGroup {
		return "Group"
	}
	return "Entry"
}

// NodeID indexes a node in its Tree.
type NodeID int

// NoNode is the nil NodeID: the parent of the root and of detached nodes.
const NoNode NodeID = -1

// Attributes are shared by groups and entries. A group's title is stored
// in <Name>.
type Attributes struct {
	UUID           UUID
	Title          ProtectedString
	Notes          ProtectedString
	IconID         int
	CustomIconUUID UUID
	Times          Times
	CustomData     CustomData
}

func (a *Attributes) equal(other *Attributes) bool {
	return a.UUID == other.UUID &&
		a.Title.Equal(other.Title) &&
		a.Notes.Equal(other.Notes) &&
		a.IconID == other.IconID &&
		a.CustomIconUUID == other.CustomIconUUID &&
		a.Times.Equal(other.Times) &&
		a.CustomData.Equal(other.CustomData)
}

func (a Attributes) clone() Attributes {
	a.Times.Unknown = cloneRawElements(a.Times.Unknown)
	a.CustomData = a.CustomData.Clone()
	return a
}

// GroupData is the group half of a Node.
type GroupData struct {
	IsExpanded              bool
	DefaultAutoTypeSequence string
	EnableAutoType          *bool
	EnableSearching         *bool
	LastTopVisibleEntry     UUID

	children []NodeID
}

func (g *GroupData) equal(other *GroupData) bool {
	return g.IsExpanded == other.IsExpanded &&
		g.DefaultAutoTypeSequence == other.DefaultAutoTypeSequence &&
		boolPtrEqual(g.EnableAutoType, other.EnableAutoType) &&
		boolPtrEqual(g.EnableSearching, other.EnableSearching) &&
		g.LastTopVisibleEntry == other.LastTopVisibleEntry
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneBoolPtr(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// EntryData is the entry half of a Node.
type EntryData struct {
	UserName        ProtectedString
	Password        ProtectedString
	URL             ProtectedString
	OverrideURL     string
	Tags            string
	ForegroundColor string
	BackgroundColor string

	// Fields holds every string that is not one of the well-known keys, in
	// document order.
	Fields   []ProtectedString
	Binaries []BinaryRef
	AutoType *RawElement

	// History holds detached snapshots, oldest first. Snapshots never
	// carry history of their own.
	History []*Node
}

// Node is a group or an entry. Nodes are owned by a Tree; history
// snapshots are detached nodes owned by their entry.
type Node struct {
	Kind Kind
	Attributes

	Group *GroupData
	Entry *EntryData

	// Unknown holds child elements that are not modelled, re-emitted after
	// the known ones.
	Unknown []RawElement

	parent NodeID
}

// Parent returns the owning group, or NoNode for the root and detached
// nodes.
func (n *Node) Parent() NodeID { return n.parent }

func (n *Node) IsGroup() bool { return n.Kind == KindGroup }

func (n *Node) IsEntry() bool { return n.Kind == KindEntry }

// NewGroup returns a detached group with a fresh UUID.
func NewGroup(rand io.Reader, name string, now time.Time) (*Node, error) {
	u, err := NewUUID(rand)
	if err != nil {
		return nil, err
	}
	return &Node{
		Kind: KindGroup,
		Attributes: Attributes{
			UUID:  u,
			Title: ProtectedString{Key: "Name", Value: name},
			Notes: ProtectedString{Key: KeyNotes},
			Times: NewTimes(now),
		},
		Group:  &GroupData{},
		parent: NoNode,
	}, nil
}

// NewEntry returns a detached entry with a fresh UUID. Its well-known
// strings are protected according to meta, and its user name defaults to
// meta's DefaultUserName.
func NewEntry(rand io.Reader, meta *Metadata, now time.Time) (*Node, error) {
	u, err := NewUUID(rand)
	if err != nil {
		return nil, err
	}
	mp := DefaultMemoryProtection()
	defaultUser := ""
	if meta != nil {
		mp = meta.MemoryProtection
		defaultUser = meta.DefaultUserName
	}
	ps := func(key, value string) ProtectedString {
		return ProtectedString{Key: key, Value: value, Protected: mp.Protects(key)}
	}
	return &Node{
		Kind: KindEntry,
		Attributes: Attributes{
			UUID:  u,
			Title: ps(KeyTitle, ""),
			Notes: ps(KeyNotes, ""),
			Times: NewTimes(now),
		},
		Entry: &EntryData{
			UserName: ps(KeyUserName, defaultUser),
			Password: ps(KeyPassword, ""),
			URL:      ps(KeyURL, ""),
		},
		parent: NoNode,
	}, nil
}

// Equal compares two nodes' own data. Children are not compared; Tree
// equality covers them.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Kind != other.Kind || !n.Attributes.equal(&other.Attributes) || !rawElementsEqual(n.Unknown, other.Unknown) {
		return false
	}
	if n.Kind == KindGroup {
		return n.Group.equal(other.Group)
	}
	return n.Entry.equal(other.Entry)
}

func (e *EntryData) equal(other *EntryData) bool {
	if !e.UserName.Equal(other.UserName) ||
		!e.Password.Equal(other.Password) ||
		!e.URL.Equal(other.URL) ||
		e.OverrideURL != other.OverrideURL ||
		e.Tags != other.Tags ||
		e.ForegroundColor != other.ForegroundColor ||
		e.BackgroundColor != other.BackgroundColor ||
		len(e.Fields) != len(other.Fields) ||
		len(e.History) != len(other.History) ||
		!binaryRefsEqual(e.Binaries, other.Binaries) ||
		!e.AutoType.Equal(other.AutoType) {
		return false
	}
	for i := range e.Fields {
		if e.Fields[i].Key != other.Fields[i].Key || !e.Fields[i].Equal(other.Fields[i]) {
			return false
		}
	}
	for i := range e.History {
		if !e.History[i].Equal(other.History[i]) {
			return false
		}
	}
	return true
}

// Clone returns a detached copy of the node. Group children are not
// copied. Entries keep their history.
func (n *Node) Clone() *Node {
	if n.Kind == KindEntry {
		return n.CloneEntry(true)
	}
	c := &Node{
		Kind:       KindGroup,
		Attributes: n.Attributes.clone(),
		Unknown:    cloneRawElements(n.Unknown),
		parent:     NoNode,
	}
	g := *n.Group
	g.EnableAutoType = cloneBoolPtr(g.EnableAutoType)
	g.EnableSearching = cloneBoolPtr(g.EnableSearching)
	g.children = nil
	c.Group = &g
	return c
}

// CloneEntry returns a detached copy of an entry. Attachments are shared
// by reference. History snapshots are copied only when preserveHistory is
// set.
func (n *Node) CloneEntry(preserveHistory bool) *Node {
	c := &Node{
		Kind:       KindEntry,
		Attributes: n.Attributes.clone(),
		Unknown:    cloneRawElements(n.Unknown),
		parent:     NoNode,
	}
	e := *n.Entry
	e.Fields = append([]ProtectedString(nil), n.Entry.Fields...)
	e.Binaries = append([]BinaryRef(nil), n.Entry.Binaries...)
	e.AutoType = n.Entry.AutoType.clone()
	e.History = nil
	if preserveHistory {
		for _, h := range n.Entry.History {
			e.History = append(e.History, h.CloneEntry(false))
		}
	}
	c.Entry = &e
	return c
}

// AddHistory appends a snapshot of the entry's current state to its
// history, dropping the oldest snapshots beyond maxItems. A negative
// maxItems keeps everything.
func (n *Node) AddHistory(maxItems int) {
	n.Entry.History = append(n.Entry.History, n.CloneEntry(false))
	if maxItems >= 0 && len(n.Entry.History) > maxItems {
		n.Entry.History = append([]*Node(nil), n.Entry.History[len(n.Entry.History)-maxItems:]...)
	}
}

// SyncTo copies every editable field of template into n, leaving no state
// shared with template other than attachment contents. With isUpdate,
// the state being overwritten is first snapshotted into the entry history
// (trimmed to maxHistory) and LastModificationTime is set to now. The
// UUID, parent, children and history of n are kept.
func (n *Node) SyncTo(template *Node, isUpdate bool, now time.Time, maxHistory int) error {
	if n.Kind != template.Kind {
		if n.Kind == KindGroup {
			return ErrNotGroup
		}
		return ErrNotEntry
	}
	if isUpdate && n.Kind == KindEntry {
		n.AddHistory(maxHistory)
	}

	n.Title = template.Title
	n.Notes = template.Notes
	n.IconID = template.IconID
	n.CustomIconUUID = template.CustomIconUUID
	n.Times = template.Times
	n.Times.Unknown = cloneRawElements(template.Times.Unknown)
	n.CustomData = template.CustomData.Clone()
	n.Unknown = cloneRawElements(template.Unknown)

	if n.Kind == KindGroup {
		g, t := n.Group, template.Group
		g.IsExpanded = t.IsExpanded
		g.DefaultAutoTypeSequence = t.DefaultAutoTypeSequence
		g.EnableAutoType = cloneBoolPtr(t.EnableAutoType)
		g.EnableSearching = cloneBoolPtr(t.EnableSearching)
		g.LastTopVisibleEntry = t.LastTopVisibleEntry
	} else {
		e, t := n.Entry, template.Entry
		e.UserName = t.UserName
		e.Password = t.Password
		e.URL = t.URL
		e.OverrideURL = t.OverrideURL
		e.Tags = t.Tags
		e.ForegroundColor = t.ForegroundColor
		e.BackgroundColor = t.BackgroundColor
		e.Fields = append([]ProtectedString(nil), t.Fields...)
		e.Binaries = append([]BinaryRef(nil), t.Binaries...)
		e.AutoType = t.AutoType.clone()
	}

	if isUpdate {
		n.Times.LastModificationTime = Timestamp(now)
	}
	return nil
}

// Field returns the string stored under key, including the well-known
// ones.
func (n *Node) Field(key string) (ProtectedString, bool) {
	switch key {
	case KeyTitle:
		return n.Title, true
	case KeyNotes:
		return n.Notes, true
	}
	if n.Kind != KindEntry {
		return ProtectedString{}, false
	}
	switch key {
	case KeyUserName:
		return n.Entry.UserName, true
	case KeyPassword:
		return n.Entry.Password, true
	case KeyURL:
		return n.Entry.URL, true
	}
	for _, f := range n.Entry.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return ProtectedString{}, false
}

// Strings returns every string of an entry in serialization order: custom
// fields first, then Notes, Password, Title, URL and UserName.
func (n *Node) Strings() []ProtectedString {
	if n.Kind != KindEntry {
		return nil
	}
	out := append([]ProtectedString(nil), n.Entry.Fields...)
	return append(out, n.Notes, n.Entry.Password, n.Title, n.Entry.URL, n.Entry.UserName)
}
