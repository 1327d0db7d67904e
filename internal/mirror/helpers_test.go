package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
)

// quietLogger discards all output so test logs stay readable.
var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memNode is one node of the in-memory tree store.
type memNode struct {
	id       string
	parentID string
	title    string
	url      string
	children []string
}

// memStore is an in-memory TreeStore with the same semantics as the
// bbolt-backed store: ordered child lists, clamped by-index moves,
// recursive subtree removal.
type memStore struct {
	nodes map[string]*memNode
	next  int
}

func newMemStore() *memStore {
	return &memStore{
		nodes: map[string]*memNode{"1": {id: "1"}},
		next:  1,
	}
}

func (s *memStore) node(id string) (*memNode, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	return n, nil
}

func (s *memStore) newID() string {
	s.next++
	return strconv.Itoa(s.next)
}

func (s *memStore) Subtree(_ context.Context, rootID string) (*Node, error) {
	root, err := s.node(rootID)
	if err != nil {
		return nil, err
	}

	return s.buildNode(root), nil
}

func (s *memStore) buildNode(n *memNode) *Node {
	out := &Node{ID: n.id, ParentID: n.parentID, Title: n.title, URL: n.url}
	for _, cid := range n.children {
		out.Children = append(out.Children, s.buildNode(s.nodes[cid]))
	}

	return out
}

func (s *memStore) Children(_ context.Context, parentID string) ([]Node, error) {
	p, err := s.node(parentID)
	if err != nil {
		return nil, err
	}

	var out []Node
	for _, cid := range p.children {
		c := s.nodes[cid]
		out = append(out, Node{ID: c.id, ParentID: c.parentID, Title: c.title, URL: c.url})
	}

	return out, nil
}

func (s *memStore) CreateFolder(_ context.Context, parentID, title string) (string, error) {
	return s.create(parentID, title, "")
}

func (s *memStore) CreateBookmark(_ context.Context, parentID, title, url string) (string, error) {
	return s.create(parentID, title, url)
}

func (s *memStore) create(parentID, title, url string) (string, error) {
	p, err := s.node(parentID)
	if err != nil {
		return "", err
	}

	id := s.newID()
	s.nodes[id] = &memNode{id: id, parentID: parentID, title: title, url: url}
	p.children = append(p.children, id)

	return id, nil
}

func (s *memStore) RenameFolder(_ context.Context, id, title string) error {
	n, err := s.node(id)
	if err != nil {
		return err
	}

	n.title = title

	return nil
}

func (s *memStore) UpdateBookmark(_ context.Context, id string, upd BookmarkUpdate) error {
	n, err := s.node(id)
	if err != nil {
		return err
	}

	if upd.Title != nil {
		n.title = *upd.Title
	}

	if upd.URL != nil {
		n.url = *upd.URL
	}

	return nil
}

func (s *memStore) MoveNode(_ context.Context, id, parentID string, index int) error {
	n, err := s.node(id)
	if err != nil {
		return err
	}

	p, err := s.node(parentID)
	if err != nil {
		return err
	}

	old := s.nodes[n.parentID]
	old.children = removeFromList(old.children, id)

	if index > len(p.children) {
		index = len(p.children)
	}

	p.children = append(p.children, "")
	copy(p.children[index+1:], p.children[index:])
	p.children[index] = id

	n.parentID = parentID

	return nil
}

func (s *memStore) RemoveBookmark(_ context.Context, id string) error {
	n, err := s.node(id)
	if err != nil {
		return err
	}

	parent := s.nodes[n.parentID]
	parent.children = removeFromList(parent.children, id)
	delete(s.nodes, id)

	return nil
}

func (s *memStore) RemoveSubtree(_ context.Context, id string) error {
	n, err := s.node(id)
	if err != nil {
		return err
	}

	parent := s.nodes[n.parentID]
	parent.children = removeFromList(parent.children, id)

	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = append(stack, s.nodes[cur].children...)
		delete(s.nodes, cur)
	}

	return nil
}

func removeFromList(ids []string, id string) []string {
	for i, cid := range ids {
		if cid == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}

	return ids
}

// childTitles returns the titles of parentID's children in order.
func (s *memStore) childTitles(parentID string) []string {
	var out []string
	for _, cid := range s.nodes[parentID].children {
		out = append(out, s.nodes[cid].title)
	}

	return out
}

// folderByPath walks folder titles from the root and returns the node,
// or nil when a segment is missing.
func (s *memStore) folderByPath(titles ...string) *memNode {
	cur := s.nodes["1"]

	for _, title := range titles {
		var next *memNode

		for _, cid := range cur.children {
			c := s.nodes[cid]
			if c.url == "" && c.title == title {
				next = c
				break
			}
		}

		if next == nil {
			return nil
		}

		cur = next
	}

	return cur
}

// memState is an in-memory StateStore.
type memState struct {
	cursors     Cursors
	settings    RootSettings
	items       map[int64]string
	collections map[int64]string
}

func newMemState() *memState {
	return &memState{
		items:       make(map[int64]string),
		collections: make(map[int64]string),
	}
}

func (s *memState) Cursors() (Cursors, error) { return s.cursors, nil }

func (s *memState) SetCursors(c Cursors) error {
	s.cursors = c
	return nil
}

func (s *memState) RootSettings() (RootSettings, error) { return s.settings, nil }

func (s *memState) SetRootSettings(rs RootSettings) error {
	s.settings = rs
	return nil
}

func (s *memState) ItemMapping(itemID int64) (string, error) {
	return s.items[itemID], nil
}

func (s *memState) SetItemMapping(itemID int64, nodeID string) error {
	s.items[itemID] = nodeID
	return nil
}

func (s *memState) DeleteItemMapping(itemID int64) error {
	delete(s.items, itemID)
	return nil
}

func (s *memState) DeleteItemMappingsByNode(nodeID string) error {
	for id, nid := range s.items {
		if nid == nodeID {
			delete(s.items, id)
		}
	}

	return nil
}

func (s *memState) CollectionFolder(collectionID int64) (string, error) {
	return s.collections[collectionID], nil
}

func (s *memState) SetCollectionFolder(collectionID int64, folderID string) error {
	s.collections[collectionID] = folderID
	return nil
}

func (s *memState) DeleteCollectionFolder(collectionID int64) error {
	delete(s.collections, collectionID)
	return nil
}

func (s *memState) DeleteCollectionFoldersByNode(folderID string) error {
	for id, fid := range s.collections {
		if fid == folderID {
			delete(s.collections, id)
		}
	}

	return nil
}

// stubRemote serves canned snapshot data and item pages. pages maps a
// collection ID to its feed, already split into pages.
type stubRemote struct {
	groups   []RemoteGroup
	roots    []RemoteCollection
	children []RemoteCollection

	pages    map[int64][][]RemoteItem
	existing map[string]bool

	pagesFetched int
	existsCalls  int
}

func (r *stubRemote) FetchGroups(context.Context) ([]RemoteGroup, error) {
	return r.groups, nil
}

func (r *stubRemote) FetchRootCollections(context.Context) ([]RemoteCollection, error) {
	return r.roots, nil
}

func (r *stubRemote) FetchChildCollections(context.Context) ([]RemoteCollection, error) {
	return r.children, nil
}

func (r *stubRemote) FetchItemsPage(_ context.Context, collectionID int64, page int) ([]RemoteItem, error) {
	r.pagesFetched++

	feed := r.pages[collectionID]
	if page >= len(feed) {
		return nil, nil
	}

	return feed[page], nil
}

func (r *stubRemote) ItemExists(_ context.Context, _ int64, url string) (bool, error) {
	r.existsCalls++
	return r.existing[url], nil
}

// buildTestIndex reads the store's full tree and indexes it, the same
// way a pass does.
func buildTestIndex(s *memStore, rootID string) (*Index, error) {
	subtree, err := s.Subtree(context.Background(), rootID)
	if err != nil {
		return nil, err
	}

	return BuildIndex(subtree)
}
