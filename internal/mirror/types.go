// Package mirror implements the reconciliation engine that keeps a local
// bookmark tree in sync with a remote Raindrop-style collection store.
// One Sync pass maps the remote group/collection hierarchy onto local
// folders, then incrementally applies the remote item feeds (upserts and
// deletions) bounded by persisted cursors. The engine is parameterized
// over a RemoteClient, a TreeStore, and a StateStore so it never talks to
// the network or disk directly.
package mirror

import (
	"context"
	"errors"
	"time"
)

// Remote collection IDs with reserved meanings, matching the Raindrop API.
const (
	// AllCollectionID is the pseudo-collection covering every item the
	// user owns. The upsert sweep pages through it.
	AllCollectionID int64 = 0

	// UnsortedCollectionID holds items not filed into any collection.
	// They are mirrored into the local "Unsorted" folder.
	UnsortedCollectionID int64 = -1

	// TrashCollectionID is the remote trash. The deletion sweep pages
	// through it to find items removed since the last pass.
	TrashCollectionID int64 = -99
)

// PageSize is the fixed number of items requested per feed page.
const PageSize = 100

// ErrNotFound is returned by TreeStore implementations when a node ID
// does not resolve. The engine treats it as a soft condition in most
// places (stale mapping, externally deleted folder).
var ErrNotFound = errors.New("node not found")

// RemoteCollection is one node of the remote collection forest.
// ParentID is zero for root collections.
type RemoteCollection struct {
	ID       int64
	Title    string
	SortKey  int64
	ParentID int64
	Children []*RemoteCollection
}

// RemoteGroup is an ordering envelope over a subset of root collections.
// Groups have no remote ID; the title is their identity.
type RemoteGroup struct {
	Title         string
	CollectionIDs []int64
}

// RemoteItem is one bookmark from a remote item feed. LastUpdate is in
// Unix milliseconds; feeds deliver items in descending LastUpdate order.
type RemoteItem struct {
	ID           int64
	URL          string
	Title        string
	CollectionID int64
	LastUpdate   int64
}

// Node is a local tree node as returned by a TreeStore. A node with an
// empty URL is a folder. Children is populated only by Subtree.
type Node struct {
	ID       string
	ParentID string
	Title    string
	URL      string
	Children []*Node
}

// Folder reports whether the node is a folder rather than a bookmark.
func (n *Node) Folder() bool { return n.URL == "" }

// BookmarkUpdate carries the fields to change on an existing bookmark.
// Nil fields are left untouched.
type BookmarkUpdate struct {
	Title *string
	URL   *string
}

// TreeStore is the local bookmark tree the engine mirrors into. All
// mutations are applied one node at a time; RemoveSubtree is the only
// recursive operation.
type TreeStore interface {
	Subtree(ctx context.Context, rootID string) (*Node, error)
	Children(ctx context.Context, parentID string) ([]Node, error)
	CreateFolder(ctx context.Context, parentID, title string) (string, error)
	RenameFolder(ctx context.Context, id, title string) error
	MoveNode(ctx context.Context, id, parentID string, index int) error
	RemoveSubtree(ctx context.Context, id string) error
	CreateBookmark(ctx context.Context, parentID, title, url string) (string, error)
	UpdateBookmark(ctx context.Context, id string, upd BookmarkUpdate) error
	RemoveBookmark(ctx context.Context, id string) error
}

// RemoteClient is the read-only view of the remote service. Item pages
// must be sorted by descending LastUpdate.
type RemoteClient interface {
	FetchGroups(ctx context.Context) ([]RemoteGroup, error)
	FetchRootCollections(ctx context.Context) ([]RemoteCollection, error)
	FetchChildCollections(ctx context.Context) ([]RemoteCollection, error)
	FetchItemsPage(ctx context.Context, collectionID int64, page int) ([]RemoteItem, error)
	ItemExists(ctx context.Context, collectionID int64, url string) (bool, error)
}

// Cursors are the two high-watermark timestamps (Unix milliseconds)
// bounding incremental re-scan. Values never decrease across passes.
type Cursors struct {
	Upsert   int64 `json:"upsert"`
	Deletion int64 `json:"deletion"`
}

// RootSettings locate the mirror root folder: the parent it lives under
// and its title. Empty fields fall back to the Syncer defaults.
type RootSettings struct {
	ParentID string `json:"parentId"`
	Title    string `json:"title"`
}

// StateStore is the durable key/value state owned by the coordinator:
// root settings, sweep cursors, the item identity-mapping table, and the
// collection→folder table. Item and collection mappings that point at
// nodes which no longer exist are deleted lazily when detected.
type StateStore interface {
	Cursors() (Cursors, error)
	SetCursors(Cursors) error

	RootSettings() (RootSettings, error)
	SetRootSettings(RootSettings) error

	// ItemMapping returns the local node ID for a remote item, or ""
	// when no mapping exists.
	ItemMapping(itemID int64) (string, error)
	SetItemMapping(itemID int64, nodeID string) error
	DeleteItemMapping(itemID int64) error
	DeleteItemMappingsByNode(nodeID string) error

	// CollectionFolder returns the local folder ID for a remote
	// collection, or "" when no mapping exists.
	CollectionFolder(collectionID int64) (string, error)
	SetCollectionFolder(collectionID int64, folderID string) error
	DeleteCollectionFolder(collectionID int64) error
	DeleteCollectionFoldersByNode(folderID string) error
}

// Stats counts the mutations applied during one pass. A pass over an
// already-converged mirror leaves every field zero.
type Stats struct {
	FoldersCreated   int
	FoldersRemoved   int
	FoldersMoved     int
	BookmarksCreated int
	BookmarksUpdated int
	BookmarksMoved   int
	BookmarksDeleted int
}

// Report is the outcome of one pass. ItemErrors holds per-item failures
// that did not abort the pass; partial stats are reported even when the
// pass failed after some mutations.
type Report struct {
	Stats      Stats
	ItemErrors []error
	Duration   time.Duration
}

// OK reports whether the pass completed with no per-item failures.
func (r *Report) OK() bool { return r != nil && len(r.ItemErrors) == 0 }
