package dom

import "fmt"

// DefaultSearchable is the search permission of a root group that does not
// set EnableSearching.
const DefaultSearchable = true

// Tree owns the groups and entries of a document. Nodes reference each
// other by NodeID; removed slots are never reused.
type Tree struct {
	nodes  []*Node
	byUUID map[UUID]NodeID
	root   NodeID
	live   int
}

// NewTree returns a tree holding root, which must be a group.
func NewTree(root *Node) (*Tree, error) {
	if root.Kind != KindGroup {
		return nil, ErrNotGroup
	}
	t := &Tree{byUUID: make(map[UUID]NodeID), root: NoNode}
	t.root = t.insert(root, NoNode)
	t.index(t.root)
	return t, nil
}

func (t *Tree) insert(n *Node, parent NodeID) NodeID {
	id := NodeID(len(t.nodes))
	n.parent = parent
	if n.Kind == KindGroup {
		n.Group.children = nil
	}
	t.nodes = append(t.nodes, n)
	t.live++
	if parent != NoNode {
		p := t.nodes[parent].Group
		p.children = append(p.children, id)
	}
	return id
}

// index registers the UUID of id. The parser calls it once a group's
// UUID has been read.
func (t *Tree) index(id NodeID) {
	u := t.nodes[id].UUID
	if _, dup := t.byUUID[u]; !dup {
		t.byUUID[u] = id
	}
}

// Root returns the top-level group.
func (t *Tree) Root() NodeID { return t.root }

// Node returns the node for id, or nil if id is not in the tree.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Len returns the number of live nodes.
func (t *Tree) Len() int { return t.live }

// Add appends a detached node to a group's children. A group's own
// children are not carried over; add them with further calls.
func (t *Tree) Add(parent NodeID, n *Node) (NodeID, error) {
	p := t.Node(parent)
	if p == nil {
		return NoNode, ErrNoNode
	}
	if p.Kind != KindGroup {
		return NoNode, ErrNotGroup
	}
	if n.Kind == KindEntry && n.Entry == nil || n.Kind == KindGroup && n.Group == nil {
		return NoNode, fmt.Errorf("dom: %v node without payload", n.Kind)
	}
	id := t.insert(n, parent)
	t.index(id)
	return id, nil
}

// Children returns a group's children in document order.
func (t *Tree) Children(id NodeID) []NodeID {
	n := t.Node(id)
	if n == nil || n.Kind != KindGroup {
		return nil
	}
	return append([]NodeID(nil), n.Group.children...)
}

// Groups returns the child groups of id.
func (t *Tree) Groups(id NodeID) []NodeID { return t.childrenOf(id, KindGroup) }

// Entries returns the child entries of id.
func (t *Tree) Entries(id NodeID) []NodeID { return t.childrenOf(id, KindEntry) }

func (t *Tree) childrenOf(id NodeID, k Kind) []NodeID {
	n := t.Node(id)
	if n == nil || n.Kind != KindGroup {
		return nil
	}
	var out []NodeID
	for _, c := range n.Group.children {
		if t.nodes[c].Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// FindByUUID returns the node carrying u. If several do, the first one in
// document order wins.
func (t *Tree) FindByUUID(u UUID) (NodeID, bool) {
	id, ok := t.byUUID[u]
	return id, ok
}

// Walk visits id and its descendants depth first in document order. It
// stops at the first error fn returns.
func (t *Tree) Walk(id NodeID, fn func(NodeID) error) error {
	n := t.Node(id)
	if n == nil {
		return ErrNoNode
	}
	if err := fn(id); err != nil {
		return err
	}
	if n.Kind != KindGroup {
		return nil
	}
	for _, c := range n.Group.children {
		if err := t.Walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the titles of the groups from the root down to the parent
// of id.
func (t *Tree) Path(id NodeID) []string {
	var path []string
	n := t.Node(id)
	if n == nil {
		return nil
	}
	for p := n.parent; p != NoNode; p = t.nodes[p].parent {
		path = append(path, t.nodes[p].Title.Value)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// IsSearchingPermitted resolves EnableSearching for a group, or for an
// entry's group, walking up until a group sets it.
func (t *Tree) IsSearchingPermitted(id NodeID) bool {
	for n := t.Node(id); n != nil; n = t.Node(n.parent) {
		if n.Kind == KindGroup && n.Group.EnableSearching != nil {
			return *n.Group.EnableSearching
		}
	}
	return DefaultSearchable
}

// HasDescendant reports whether a node with UUID u sits anywhere below
// group id.
func (t *Tree) HasDescendant(id NodeID, u UUID) bool {
	n := t.Node(id)
	if n == nil || n.Kind != KindGroup {
		return false
	}
	for _, c := range n.Group.children {
		if t.nodes[c].UUID == u || t.HasDescendant(c, u) {
			return true
		}
	}
	return false
}

// CanAdopt reports whether group id may take the node with UUID u as a
// child: u must not be id itself or one of its ancestors.
func (t *Tree) CanAdopt(id NodeID, u UUID) bool {
	n := t.Node(id)
	if n == nil || n.Kind != KindGroup {
		return false
	}
	for ; n != nil; n = t.Node(n.parent) {
		if n.UUID == u {
			return false
		}
	}
	return true
}

// TryAdopt moves the node with UUID u under group id. It reports false if
// no such node exists and ErrCycle if the move would create a cycle.
func (t *Tree) TryAdopt(id NodeID, u UUID) (bool, error) {
	n := t.Node(id)
	if n == nil {
		return false, ErrNoNode
	}
	if n.Kind != KindGroup {
		return false, ErrNotGroup
	}
	if !t.CanAdopt(id, u) {
		return false, ErrCycle
	}
	child, ok := t.FindByUUID(u)
	if !ok {
		return false, nil
	}
	if err := t.Reparent(child, id); err != nil {
		return false, err
	}
	return true, nil
}

// Reparent detaches id from its group and appends it to newParent's
// children.
func (t *Tree) Reparent(id, newParent NodeID) error {
	n, p := t.Node(id), t.Node(newParent)
	if n == nil || p == nil {
		return ErrNoNode
	}
	if id == t.root {
		return ErrRootGroup
	}
	if p.Kind != KindGroup {
		return ErrNotGroup
	}
	for a := newParent; a != NoNode; a = t.nodes[a].parent {
		if a == id {
			return ErrCycle
		}
	}
	t.detach(id)
	n.parent = newParent
	p.Group.children = append(p.Group.children, id)
	return nil
}

func (t *Tree) detach(id NodeID) {
	n := t.nodes[id]
	if n.parent == NoNode {
		return
	}
	g := t.nodes[n.parent].Group
	for i, c := range g.children {
		if c == id {
			g.children = append(g.children[:i:i], g.children[i+1:]...)
			break
		}
	}
	n.parent = NoNode
}

// Remove deletes id and everything below it.
func (t *Tree) Remove(id NodeID) error {
	if t.Node(id) == nil {
		return ErrNoNode
	}
	if id == t.root {
		return ErrRootGroup
	}
	t.detach(id)
	t.drop(id)
	return nil
}

func (t *Tree) drop(id NodeID) {
	n := t.nodes[id]
	if n.Kind == KindGroup {
		for _, c := range n.Group.children {
			t.drop(c)
		}
	}
	if t.byUUID[n.UUID] == id {
		delete(t.byUUID, n.UUID)
	}
	t.nodes[id] = nil
	t.live--
}

// Equal compares two trees structurally: node data and child order.
func (t *Tree) Equal(other *Tree) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.subtreeEqual(t.root, other, other.root)
}

func (t *Tree) subtreeEqual(id NodeID, other *Tree, oid NodeID) bool {
	a, b := t.Node(id), other.Node(oid)
	if a == nil || b == nil {
		return a == b
	}
	if !a.Equal(b) {
		return false
	}
	if a.Kind != KindGroup {
		return true
	}
	if len(a.Group.children) != len(b.Group.children) {
		return false
	}
	for i := range a.Group.children {
		if !t.subtreeEqual(a.Group.children[i], other, b.Group.children[i]) {
			return false
		}
	}
	return true
}
