package mirror

import (
	"errors"
	"fmt"
)

// maxTreeDepth caps traversal depth for both the local subtree walk and
// the remote collection walk. The remote data is supposed to be a
// forest; the cap turns malformed or cyclic input into an error instead
// of unbounded work.
const maxTreeDepth = 128

// ErrTreeTooDeep is returned when a traversal exceeds maxTreeDepth.
var ErrTreeTooDeep = errors.New("tree exceeds maximum depth")

// FolderInfo describes one folder under the mirror root. Path holds the
// folder titles from the root (exclusive) down to and including this
// folder; the root itself has an empty Path and Depth zero.
type FolderInfo struct {
	ID       string
	ParentID string
	Title    string
	Path     []string
	Depth    int
}

// BookmarkEntry describes one bookmark leaf. Path is the parent folder's
// Path plus the bookmark's own title, so a folder's Path is always a
// strict prefix of the Paths of the bookmarks beneath it.
type BookmarkEntry struct {
	ID       string
	ParentID string
	Title    string
	URL      string
	Path     []string
}

// Index is the in-memory view of the local mirror subtree for one pass.
// The folder reconciler and item reconciler mutate it in lockstep with
// the TreeStore so later steps see the tree as it currently is without
// re-reading it.
type Index struct {
	RootID           string
	Folders          map[string]*FolderInfo
	ChildrenByParent map[string][]string
	Bookmarks        map[string]*BookmarkEntry
	BookmarksByURL   map[string][]string
}

// BuildIndex walks a subtree snapshot pre-order and produces the pass
// index. Duplicate URLs map to multiple entries in BookmarksByURL; they
// are cleaned up later by reconciliation, not here.
func BuildIndex(root *Node) (*Index, error) {
	if root == nil {
		return nil, errors.New("nil subtree root")
	}

	ix := &Index{
		RootID:           root.ID,
		Folders:          make(map[string]*FolderInfo),
		ChildrenByParent: make(map[string][]string),
		Bookmarks:        make(map[string]*BookmarkEntry),
		BookmarksByURL:   make(map[string][]string),
	}

	type frame struct {
		node  *Node
		path  []string
		depth int
	}

	stack := []frame{{node: root, path: []string{}, depth: 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > maxTreeDepth {
			return nil, fmt.Errorf("indexing node %s: %w", f.node.ID, ErrTreeTooDeep)
		}

		n := f.node

		if !n.Folder() {
			ix.Bookmarks[n.ID] = &BookmarkEntry{
				ID:       n.ID,
				ParentID: n.ParentID,
				Title:    n.Title,
				URL:      n.URL,
				Path:     appendPath(f.path, n.Title),
			}
			ix.BookmarksByURL[n.URL] = append(ix.BookmarksByURL[n.URL], n.ID)

			continue
		}

		ix.Folders[n.ID] = &FolderInfo{
			ID:       n.ID,
			ParentID: n.ParentID,
			Title:    n.Title,
			Path:     f.path,
			Depth:    f.depth,
		}

		ids := make([]string, len(n.Children))
		for i, c := range n.Children {
			ids[i] = c.ID
		}
		ix.ChildrenByParent[n.ID] = ids

		// Push in reverse so children pop in sibling order.
		for i := len(n.Children) - 1; i >= 0; i-- {
			c := n.Children[i]
			childPath := f.path
			if c.Folder() {
				childPath = appendPath(f.path, c.Title)
			}
			stack = append(stack, frame{node: c, path: childPath, depth: f.depth + 1})
		}
	}

	return ix, nil
}

// appendPath returns a fresh slice so sibling paths never share backing
// arrays.
func appendPath(path []string, seg string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = seg

	return out
}

// addChild appends id to parentID's child list.
func (ix *Index) addChild(parentID, id string) {
	ix.ChildrenByParent[parentID] = append(ix.ChildrenByParent[parentID], id)
}

// removeChild removes id from parentID's child list.
func (ix *Index) removeChild(parentID, id string) {
	ids := ix.ChildrenByParent[parentID]
	for i, cid := range ids {
		if cid == id {
			ix.ChildrenByParent[parentID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// moveChild repositions id within parentID's child list: remove, then
// insert at the clamped target index. Mirrors TreeStore.MoveNode
// semantics for same-parent moves.
func (ix *Index) moveChild(parentID, id string, to int) {
	ix.removeChild(parentID, id)

	ids := ix.ChildrenByParent[parentID]
	if to > len(ids) {
		to = len(ids)
	}

	ids = append(ids, "")
	copy(ids[to+1:], ids[to:])
	ids[to] = id
	ix.ChildrenByParent[parentID] = ids
}

// insertFolder records a newly created folder.
func (ix *Index) insertFolder(f *FolderInfo) {
	ix.Folders[f.ID] = f
	ix.ChildrenByParent[f.ID] = nil
	ix.addChild(f.ParentID, f.ID)
}

// insertBookmark records a newly created bookmark.
func (ix *Index) insertBookmark(b *BookmarkEntry) {
	ix.Bookmarks[b.ID] = b
	ix.BookmarksByURL[b.URL] = append(ix.BookmarksByURL[b.URL], b.ID)
	ix.addChild(b.ParentID, b.ID)
}

// removeBookmark drops a bookmark from all maps.
func (ix *Index) removeBookmark(id string) {
	b := ix.Bookmarks[id]
	if b == nil {
		return
	}

	delete(ix.Bookmarks, id)
	ix.removeURLEntry(b.URL, id)
	ix.removeChild(b.ParentID, id)
}

// setBookmarkURL updates a bookmark's URL and the URL index.
func (ix *Index) setBookmarkURL(id, url string) {
	b := ix.Bookmarks[id]
	if b == nil || b.URL == url {
		return
	}

	ix.removeURLEntry(b.URL, id)
	b.URL = url
	ix.BookmarksByURL[url] = append(ix.BookmarksByURL[url], id)
}

// reparentBookmark moves a bookmark under a new parent folder, appended
// at the end, and refreshes its path.
func (ix *Index) reparentBookmark(id, newParentID string) {
	b := ix.Bookmarks[id]
	if b == nil {
		return
	}

	ix.removeChild(b.ParentID, id)
	b.ParentID = newParentID
	ix.addChild(newParentID, id)

	if p := ix.Folders[newParentID]; p != nil {
		b.Path = appendPath(p.Path, b.Title)
	}
}

func (ix *Index) removeURLEntry(url, id string) {
	ids := ix.BookmarksByURL[url]
	for i, cid := range ids {
		if cid == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}

	if len(ids) == 0 {
		delete(ix.BookmarksByURL, url)
	} else {
		ix.BookmarksByURL[url] = ids
	}
}

// refreshFolderPath recomputes Path and Depth for a folder and every
// node beneath it. Called after renames and relocations so path-prefix
// queries stay accurate for the rest of the pass.
func (ix *Index) refreshFolderPath(id string) {
	f := ix.Folders[id]
	if f == nil {
		return
	}

	parent := ix.Folders[f.ParentID]
	if parent != nil {
		f.Path = appendPath(parent.Path, f.Title)
		f.Depth = parent.Depth + 1
	}

	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		cf := ix.Folders[cur]
		if cf == nil {
			continue
		}

		for _, cid := range ix.ChildrenByParent[cur] {
			if child := ix.Folders[cid]; child != nil {
				child.Path = appendPath(cf.Path, child.Title)
				child.Depth = cf.Depth + 1
				stack = append(stack, cid)

				continue
			}

			if b := ix.Bookmarks[cid]; b != nil {
				b.Path = appendPath(cf.Path, b.Title)
			}
		}
	}
}

// removeFolderTree drops a folder and everything beneath it from the
// index, returning the IDs of the bookmarks that were removed.
func (ix *Index) removeFolderTree(id string) []string {
	f := ix.Folders[id]
	if f == nil {
		return nil
	}

	ix.removeChild(f.ParentID, id)

	var removed []string

	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		stack = append(stack, ix.ChildrenByParent[cur]...)

		if b := ix.Bookmarks[cur]; b != nil {
			delete(ix.Bookmarks, cur)
			ix.removeURLEntry(b.URL, cur)
			removed = append(removed, cur)

			continue
		}

		delete(ix.Folders, cur)
		delete(ix.ChildrenByParent, cur)
	}

	return removed
}
