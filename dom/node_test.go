package dom

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoelzro/go-kdbx/internal/fakerand"
)

var (
	created = time.Date(2019, 3, 4, 5, 6, 7, 0, time.UTC)
	edited  = time.Date(2021, 8, 9, 10, 11, 12, 0, time.UTC)
)

func newTestEntry(t *testing.T, title string) *Node {
	t.Helper()
	meta := NewMetadata("test", created)
	meta.DefaultUserName = "default"
	n, err := NewEntry(fakerand.New(t.Name()+title), meta, created)
	require.NoError(t, err)
	n.Title.Value = title
	return n
}

func TestNewEntry(t *testing.T) {
	n := newTestEntry(t, "x")
	require.Equal(t, "default", n.Entry.UserName.Value)
	require.True(t, n.Entry.Password.Protected)
	require.False(t, n.Title.Protected)
	require.Equal(t, created, n.Times.CreationTime)
	require.Equal(t, NoNode, n.Parent())
	require.False(t, n.UUID.IsEmpty())
}

func TestCloneEntry(t *testing.T) {
	n := newTestEntry(t, "original")
	n.Entry.Fields = []ProtectedString{{Key: "k", Value: "v"}}
	bin := &Binary{Data: []byte("data")}
	n.Entry.Binaries = []BinaryRef{{Key: "f", Value: bin}}
	n.CustomData = CustomData{"a": {Value: "b"}}
	n.AddHistory(-1)

	c := n.CloneEntry(true)
	require.True(t, n.Equal(c))
	require.Len(t, c.Entry.History, 1)
	require.Same(t, bin, c.Entry.Binaries[0].Value)

	c.Entry.Fields[0].Value = "changed"
	c.CustomData.Set("a", "changed", time.Now())
	require.Equal(t, "v", n.Entry.Fields[0].Value)
	require.Equal(t, "b", n.CustomData.Get("a"))

	bare := n.CloneEntry(false)
	require.Empty(t, bare.Entry.History)
	require.False(t, n.Equal(bare))
}

func TestCloneGroup(t *testing.T) {
	g, err := NewGroup(fakerand.New(t.Name()), "g", created)
	require.NoError(t, err)
	on := true
	g.Group.EnableAutoType = &on

	c := g.Clone()
	require.True(t, g.Equal(c))
	*c.Group.EnableAutoType = false
	require.True(t, *g.Group.EnableAutoType)
}

func TestSyncToUpdate(t *testing.T) {
	n := newTestEntry(t, "before")
	n.Entry.Password.Value = "old"
	template := newTestEntry(t, "after")
	template.Entry.Password.Value = "new"
	template.Entry.Fields = []ProtectedString{{Key: "extra", Value: "1"}}
	uuid := n.UUID

	require.NoError(t, n.SyncTo(template, true, edited, 10))

	require.Equal(t, uuid, n.UUID)
	require.Equal(t, "after", n.Title.Value)
	require.Equal(t, "new", n.Entry.Password.Value)
	require.Equal(t, template.Entry.Fields, n.Entry.Fields)
	require.Equal(t, edited, n.Times.LastModificationTime)

	require.Len(t, n.Entry.History, 1)
	snap := n.Entry.History[0]
	require.Equal(t, "before", snap.Title.Value)
	require.Equal(t, "old", snap.Entry.Password.Value)
	require.Equal(t, created, snap.Times.LastModificationTime)
	require.Empty(t, snap.Entry.History)
}

func TestSyncToWithoutUpdate(t *testing.T) {
	n := newTestEntry(t, "before")
	template := newTestEntry(t, "after")

	require.NoError(t, n.SyncTo(template, false, edited, 10))
	require.Empty(t, n.Entry.History)
	require.Equal(t, "after", n.Title.Value)
	require.Equal(t, created, n.Times.LastModificationTime)
}

func TestSyncToCopiesState(t *testing.T) {
	n := newTestEntry(t, "before")
	template := newTestEntry(t, "after")
	bin := &Binary{Data: []byte("data")}
	template.Entry.Binaries = []BinaryRef{{Key: "f", Value: bin}}
	template.Entry.AutoType = &RawElement{XMLName: xml.Name{Local: "AutoType"}, Inner: []byte("<Enabled>True</Enabled>")}
	template.CustomData = CustomData{"plugin": {Value: "on"}}
	template.Unknown = []RawElement{{XMLName: xml.Name{Local: "Future"}, Inner: []byte("x")}}

	require.NoError(t, n.SyncTo(template, false, edited, 10))
	require.Equal(t, "on", n.CustomData.Get("plugin"))
	require.True(t, rawElementsEqual(template.Unknown, n.Unknown))
	require.True(t, template.Entry.AutoType.Equal(n.Entry.AutoType))
	require.Same(t, bin, n.Entry.Binaries[0].Value)

	template.CustomData.Set("plugin", "off", edited)
	template.Unknown[0].Inner[0] = 'y'
	template.Entry.AutoType.Inner[1] = 'X'
	template.Entry.Binaries[0].Key = "renamed"
	require.Equal(t, "on", n.CustomData.Get("plugin"))
	require.Equal(t, []byte("x"), n.Unknown[0].Inner)
	require.Equal(t, []byte("<Enabled>True</Enabled>"), n.Entry.AutoType.Inner)
	require.Equal(t, "f", n.Entry.Binaries[0].Key)
}

func TestSyncToKindMismatch(t *testing.T) {
	n := newTestEntry(t, "entry")
	g, err := NewGroup(fakerand.New(t.Name()), "g", created)
	require.NoError(t, err)
	require.ErrorIs(t, n.SyncTo(g, true, edited, 10), ErrNotEntry)
	require.ErrorIs(t, g.SyncTo(n, true, edited, 10), ErrNotGroup)
}

func TestGroupSyncTo(t *testing.T) {
	g, err := NewGroup(fakerand.New(t.Name()), "old", created)
	require.NoError(t, err)
	template := g.Clone()
	template.Title.Value = "new"
	template.Group.IsExpanded = true

	require.NoError(t, g.SyncTo(template, true, edited, 10))
	require.Equal(t, "new", g.Title.Value)
	require.True(t, g.Group.IsExpanded)
	require.Equal(t, edited, g.Times.LastModificationTime)
}

func TestAddHistoryTrims(t *testing.T) {
	n := newTestEntry(t, "e")
	for i := 0; i < 5; i++ {
		n.Entry.Password.Value = string(rune('a' + i))
		n.AddHistory(3)
	}
	require.Len(t, n.Entry.History, 3)
	require.Equal(t, "c", n.Entry.History[0].Entry.Password.Value)
	require.Equal(t, "e", n.Entry.History[2].Entry.Password.Value)

	n.AddHistory(0)
	require.Empty(t, n.Entry.History)
}

func TestField(t *testing.T) {
	n := newTestEntry(t, "title")
	n.Entry.Fields = []ProtectedString{{Key: "custom", Value: "c"}}

	got, ok := n.Field(KeyTitle)
	require.True(t, ok)
	require.Equal(t, "title", got.Value)
	got, ok = n.Field("custom")
	require.True(t, ok)
	require.Equal(t, "c", got.Value)
	_, ok = n.Field("nope")
	require.False(t, ok)

	keys := make([]string, 0)
	for _, s := range n.Strings() {
		keys = append(keys, s.Key)
	}
	require.Equal(t, []string{"custom", KeyNotes, KeyPassword, KeyTitle, KeyURL, KeyUserName}, keys)
}

func TestProtectedString(t *testing.T) {
	a := ProtectedString{Key: "k", Value: "v"}
	b := a.WithProtection(true)
	require.True(t, a.Equal(b))
	require.Equal(t, 0, a.Compare(b))
	require.Equal(t, -1, a.Compare(ProtectedString{Value: "w"}))

	sealed := b.Seal(newGen())
	require.NotEqual(t, "v", sealed)
	opened, err := Open(newGen(), sealed, true)
	require.NoError(t, err)
	require.Equal(t, "v", opened)
	require.Equal(t, "v", a.Seal(newGen()))
}
