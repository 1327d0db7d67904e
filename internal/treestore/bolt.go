// Package treestore provides the local bookmark tree the engine mirrors
// into: a bbolt-backed hierarchy of folders and bookmarks with ordered
// child lists. It implements mirror.TreeStore.
package treestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alexjbarnes/marksync/internal/mirror"
	bolt "go.etcd.io/bbolt"
)

// RootID is the ID of the fixed top-level folder every tree starts
// with. It is created on open and cannot be removed.
const RootID = "1"

const (
	treeDirPerm  = fs.FileMode(0o700)
	treeFilePerm = fs.FileMode(0o600)

	treeOpenTimeout = 5 * time.Second
)

var (
	nodesBucket    = []byte("nodes")
	childrenBucket = []byte("children")
)

// nodeRecord is the stored form of one tree node.
type nodeRecord struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Folder   bool   `json:"folder"`
}

// BoltStore is a bbolt-backed bookmark tree.
type BoltStore struct {
	db *bolt.DB
}

var _ mirror.TreeStore = (*BoltStore)(nil)

// Open opens (or creates) a tree database at the given path. The root
// folder is created on first open.
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), treeDirPerm); err != nil {
		return nil, fmt.Errorf("creating tree directory: %w", err)
	}

	db, err := bolt.Open(path, treeFilePerm, &bolt.Options{Timeout: treeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening tree db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		nodes, err := tx.CreateBucketIfNotExists(nodesBucket)
		if err != nil {
			return err
		}

		if _, err := tx.CreateBucketIfNotExists(childrenBucket); err != nil {
			return err
		}

		if nodes.Get([]byte(RootID)) != nil {
			return nil
		}

		// Claim sequence 1 for the root so generated IDs start at 2.
		if _, err := nodes.NextSequence(); err != nil {
			return err
		}

		return putRecord(tx, nodeRecord{ID: RootID, Folder: true})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing tree db: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Subtree returns the full tree rooted at rootID, children in stored
// order.
func (s *BoltStore) Subtree(ctx context.Context, rootID string) (*mirror.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var root *mirror.Node

	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, rootID)
		if err != nil {
			return err
		}

		root = recordToNode(rec)

		stack := []*mirror.Node{root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			for _, childID := range childList(tx, n.ID) {
				childRec, err := getRecord(tx, childID)
				if err != nil {
					return err
				}

				child := recordToNode(childRec)
				n.Children = append(n.Children, child)

				if child.Folder() {
					stack = append(stack, child)
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return root, nil
}

// Children returns the immediate children of parentID in stored order,
// without grandchildren.
func (s *BoltStore) Children(ctx context.Context, parentID string) ([]mirror.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []mirror.Node

	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := getRecord(tx, parentID); err != nil {
			return err
		}

		for _, childID := range childList(tx, parentID) {
			rec, err := getRecord(tx, childID)
			if err != nil {
				return err
			}

			out = append(out, *recordToNode(rec))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// CreateFolder appends a new folder under parentID and returns its ID.
func (s *BoltStore) CreateFolder(ctx context.Context, parentID, title string) (string, error) {
	return s.createNode(ctx, parentID, nodeRecord{Title: title, Folder: true})
}

// CreateBookmark appends a new bookmark under parentID and returns its
// ID.
func (s *BoltStore) CreateBookmark(ctx context.Context, parentID, title, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("bookmark url must not be empty")
	}

	return s.createNode(ctx, parentID, nodeRecord{Title: title, URL: url})
}

func (s *BoltStore) createNode(ctx context.Context, parentID string, rec nodeRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var id string

	err := s.db.Update(func(tx *bolt.Tx) error {
		parent, err := getRecord(tx, parentID)
		if err != nil {
			return err
		}

		if !parent.Folder {
			return fmt.Errorf("parent %s is not a folder", parentID)
		}

		seq, err := tx.Bucket(nodesBucket).NextSequence()
		if err != nil {
			return err
		}

		id = strconv.FormatUint(seq, 10)
		rec.ID = id
		rec.ParentID = parentID

		if err := putRecord(tx, rec); err != nil {
			return err
		}

		return putChildList(tx, parentID, append(childList(tx, parentID), id))
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// RenameFolder changes a folder's title.
func (s *BoltStore) RenameFolder(ctx context.Context, id, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, id)
		if err != nil {
			return err
		}

		if !rec.Folder {
			return fmt.Errorf("node %s is not a folder", id)
		}

		rec.Title = title

		return putRecord(tx, rec)
	})
}

// UpdateBookmark applies the non-nil fields of upd to a bookmark.
func (s *BoltStore) UpdateBookmark(ctx context.Context, id string, upd mirror.BookmarkUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, id)
		if err != nil {
			return err
		}

		if rec.Folder {
			return fmt.Errorf("node %s is not a bookmark", id)
		}

		if upd.Title != nil {
			rec.Title = *upd.Title
		}

		if upd.URL != nil {
			rec.URL = *upd.URL
		}

		return putRecord(tx, rec)
	})
}

// MoveNode detaches a node from its current parent and inserts it into
// parentID's child list at the given index (clamped to the list end).
// Same-parent moves reposition within the list.
func (s *BoltStore) MoveNode(ctx context.Context, id, parentID string, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if id == RootID {
		return fmt.Errorf("cannot move the root folder")
	}

	if index < 0 {
		return fmt.Errorf("negative index %d", index)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, id)
		if err != nil {
			return err
		}

		newParent, err := getRecord(tx, parentID)
		if err != nil {
			return err
		}

		if !newParent.Folder {
			return fmt.Errorf("parent %s is not a folder", parentID)
		}

		if err := putChildList(tx, rec.ParentID, removeID(childList(tx, rec.ParentID), id)); err != nil {
			return err
		}

		ids := childList(tx, parentID)
		if index > len(ids) {
			index = len(ids)
		}

		ids = append(ids, "")
		copy(ids[index+1:], ids[index:])
		ids[index] = id

		if err := putChildList(tx, parentID, ids); err != nil {
			return err
		}

		rec.ParentID = parentID

		return putRecord(tx, rec)
	})
}

// RemoveBookmark deletes a single bookmark node.
func (s *BoltStore) RemoveBookmark(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, id)
		if err != nil {
			return err
		}

		if rec.Folder {
			return fmt.Errorf("node %s is not a bookmark", id)
		}

		if err := putChildList(tx, rec.ParentID, removeID(childList(tx, rec.ParentID), id)); err != nil {
			return err
		}

		return tx.Bucket(nodesBucket).Delete([]byte(id))
	})
}

// RemoveSubtree deletes a node and everything beneath it in one call.
func (s *BoltStore) RemoveSubtree(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if id == RootID {
		return fmt.Errorf("cannot remove the root folder")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, id)
		if err != nil {
			return err
		}

		if err := putChildList(tx, rec.ParentID, removeID(childList(tx, rec.ParentID), id)); err != nil {
			return err
		}

		nodes := tx.Bucket(nodesBucket)
		children := tx.Bucket(childrenBucket)

		stack := []string{id}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			stack = append(stack, childList(tx, cur)...)

			if err := nodes.Delete([]byte(cur)); err != nil {
				return err
			}

			if err := children.Delete([]byte(cur)); err != nil {
				return err
			}
		}

		return nil
	})
}

func getRecord(tx *bolt.Tx, id string) (nodeRecord, error) {
	var rec nodeRecord

	v := tx.Bucket(nodesBucket).Get([]byte(id))
	if v == nil {
		return rec, fmt.Errorf("node %s: %w", id, mirror.ErrNotFound)
	}

	if err := json.Unmarshal(v, &rec); err != nil {
		return rec, fmt.Errorf("decoding node %s: %w", id, err)
	}

	return rec, nil
}

func putRecord(tx *bolt.Tx, rec nodeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return tx.Bucket(nodesBucket).Put([]byte(rec.ID), data)
}

func childList(tx *bolt.Tx, parentID string) []string {
	v := tx.Bucket(childrenBucket).Get([]byte(parentID))
	if v == nil {
		return nil
	}

	var ids []string
	if err := json.Unmarshal(v, &ids); err != nil {
		return nil
	}

	return ids
}

func putChildList(tx *bolt.Tx, parentID string, ids []string) error {
	if len(ids) == 0 {
		return tx.Bucket(childrenBucket).Delete([]byte(parentID))
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	return tx.Bucket(childrenBucket).Put([]byte(parentID), data)
}

func removeID(ids []string, id string) []string {
	for i, cid := range ids {
		if cid == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}

	return ids
}

func recordToNode(rec nodeRecord) *mirror.Node {
	return &mirror.Node{
		ID:       rec.ID,
		ParentID: rec.ParentID,
		Title:    rec.Title,
		URL:      rec.URL,
	}
}
