package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// UnsortedFolderTitle names the local folder mirroring the remote
// "Unsorted" bucket. It always exists directly under the mirror root,
// after every group folder.
const UnsortedFolderTitle = "Unsorted"

// folderResult is what the item reconciler needs from the folder phase:
// where each mirrored collection lives, and where unsorted items go.
type folderResult struct {
	collectionFolders map[int64]string
	unsortedFolderID  string
}

// folderReconciler applies a Plan to the local tree: ensure a folder per
// group and collection, garbage-collect folders no longer referenced,
// and enforce sibling order. The index is mutated in lockstep with every
// store call so the item phase sees the post-folder tree.
//
// Store failures in this phase abort the pass: a partially ensured
// hierarchy would leave the collection→folder map incomplete and item
// placement would silently skip those collections.
type folderReconciler struct {
	store  TreeStore
	state  StateStore
	index  *Index
	logger *slog.Logger
	stats  *Stats

	used    map[string]bool
	parents []string
	desired map[string][]string
}

func newFolderReconciler(store TreeStore, state StateStore, index *Index, stats *Stats, logger *slog.Logger) *folderReconciler {
	return &folderReconciler{
		store:   store,
		state:   state,
		index:   index,
		logger:  logger,
		stats:   stats,
		used:    make(map[string]bool),
		desired: make(map[string][]string),
	}
}

// reconcile walks the plan, ensures every folder, removes unused ones
// deepest-first, then enforces sibling order on every touched parent.
func (r *folderReconciler) reconcile(ctx context.Context, plan *Plan, rootID string) (*folderResult, error) {
	res := &folderResult{collectionFolders: make(map[int64]string)}

	r.used[rootID] = true

	for _, g := range plan.Groups {
		groupID, err := r.ensureFolderByTitle(ctx, rootID, g.Title)
		if err != nil {
			return nil, fmt.Errorf("ensuring group folder %q: %w", g.Title, err)
		}

		r.wantChild(rootID, groupID)

		for _, col := range g.Collections {
			if err := r.ensureCollectionTree(ctx, groupID, col, res.collectionFolders); err != nil {
				return nil, err
			}
		}
	}

	unsortedID, err := r.ensureFolderByTitle(ctx, rootID, UnsortedFolderTitle)
	if err != nil {
		return nil, fmt.Errorf("ensuring unsorted folder: %w", err)
	}

	r.wantChild(rootID, unsortedID)
	res.unsortedFolderID = unsortedID

	if err := r.collectGarbage(ctx, rootID); err != nil {
		return nil, err
	}

	if err := r.enforceOrder(ctx); err != nil {
		return nil, err
	}

	return res, nil
}

// ensureCollectionTree ensures the folder for a collection node and,
// depth-first, for every descendant collection. Iterative with a depth
// guard so cyclic parent pointers in malformed remote data cannot
// recurse forever.
func (r *folderReconciler) ensureCollectionTree(ctx context.Context, parentFolderID string, root *RemoteCollection, folders map[int64]string) error {
	type frame struct {
		col      *RemoteCollection
		parentID string
		depth    int
	}

	stack := []frame{{col: root, parentID: parentFolderID, depth: 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > maxTreeDepth {
			return fmt.Errorf("collection %d: %w", f.col.ID, ErrTreeTooDeep)
		}

		folderID, err := r.ensureCollectionFolder(ctx, f.parentID, f.col)
		if err != nil {
			return fmt.Errorf("ensuring folder for collection %d (%q): %w", f.col.ID, f.col.Title, err)
		}

		folders[f.col.ID] = folderID
		r.wantChild(f.parentID, folderID)

		for i := len(f.col.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				col:      f.col.Children[i],
				parentID: folderID,
				depth:    f.depth + 1,
			})
		}
	}

	return nil
}

// ensureCollectionFolder resolves the local folder for one collection.
// The durable collection→folder mapping carries identity across renames
// and relocations; a mapping that points at a vanished folder is deleted
// and resolution falls through to a title match under the parent.
func (r *folderReconciler) ensureCollectionFolder(ctx context.Context, parentID string, col *RemoteCollection) (string, error) {
	mapped, err := r.state.CollectionFolder(col.ID)
	if err != nil {
		return "", fmt.Errorf("reading collection mapping: %w", err)
	}

	if mapped != "" {
		f := r.index.Folders[mapped]
		if f == nil {
			// Folder removed outside a pass; heal the mapping.
			if err := r.state.DeleteCollectionFolder(col.ID); err != nil {
				return "", fmt.Errorf("deleting stale collection mapping: %w", err)
			}
		} else {
			if err := r.adoptFolder(ctx, f, parentID, col.Title); err != nil {
				return "", err
			}

			return f.ID, nil
		}
	}

	id, err := r.ensureFolderByTitle(ctx, parentID, col.Title)
	if err != nil {
		return "", err
	}

	if err := r.state.SetCollectionFolder(col.ID, id); err != nil {
		return "", fmt.Errorf("saving collection mapping: %w", err)
	}

	return id, nil
}

// adoptFolder brings an identity-mapped folder in line with the plan:
// relocate it if its parent changed remotely, rename it if its title
// drifted, and refresh its subtree paths either way.
func (r *folderReconciler) adoptFolder(ctx context.Context, f *FolderInfo, parentID, title string) error {
	if f.ParentID != parentID {
		idx := len(r.index.ChildrenByParent[parentID])
		if err := r.store.MoveNode(ctx, f.ID, parentID, idx); err != nil {
			return fmt.Errorf("relocating folder %s: %w", f.ID, err)
		}

		r.index.removeChild(f.ParentID, f.ID)
		f.ParentID = parentID
		r.index.addChild(parentID, f.ID)
		r.stats.FoldersMoved++

		r.logger.Info("relocated folder",
			slog.String("id", f.ID),
			slog.String("title", f.Title),
		)
	}

	if f.Title != title {
		if err := r.store.RenameFolder(ctx, f.ID, title); err != nil {
			return fmt.Errorf("renaming folder %s: %w", f.ID, err)
		}

		r.logger.Info("renamed folder",
			slog.String("id", f.ID),
			slog.String("from", f.Title),
			slog.String("to", title),
		)
		f.Title = title
	}

	r.index.refreshFolderPath(f.ID)
	r.used[f.ID] = true

	return nil
}

// ensureFolderByTitle finds or creates a folder child of parentID with
// the given title. An existing sibling whose title matches only
// case-insensitively (external edit drift) is renamed in place rather
// than duplicated.
func (r *folderReconciler) ensureFolderByTitle(ctx context.Context, parentID, title string) (string, error) {
	var match *FolderInfo

	for _, id := range r.index.ChildrenByParent[parentID] {
		f := r.index.Folders[id]
		if f == nil {
			continue
		}

		if f.Title == title {
			match = f
			break
		}

		if match == nil && strings.EqualFold(f.Title, title) {
			match = f
		}
	}

	if match != nil {
		if match.Title != title {
			if err := r.store.RenameFolder(ctx, match.ID, title); err != nil {
				return "", fmt.Errorf("renaming folder %s: %w", match.ID, err)
			}

			r.logger.Info("renamed folder",
				slog.String("id", match.ID),
				slog.String("from", match.Title),
				slog.String("to", title),
			)
			match.Title = title
		}

		r.index.refreshFolderPath(match.ID)
		r.used[match.ID] = true

		return match.ID, nil
	}

	id, err := r.store.CreateFolder(ctx, parentID, title)
	if err != nil {
		return "", fmt.Errorf("creating folder %q: %w", title, err)
	}

	parent := r.index.Folders[parentID]
	info := &FolderInfo{ID: id, ParentID: parentID, Title: title}

	if parent != nil {
		info.Path = appendPath(parent.Path, title)
		info.Depth = parent.Depth + 1
	}

	r.index.insertFolder(info)
	r.used[id] = true
	r.stats.FoldersCreated++

	r.logger.Info("created folder",
		slog.String("id", id),
		slog.String("title", title),
	)

	return id, nil
}

// wantChild records the desired sibling order for order enforcement.
func (r *folderReconciler) wantChild(parentID, childID string) {
	if _, seen := r.desired[parentID]; !seen {
		r.parents = append(r.parents, parentID)
	}

	r.desired[parentID] = append(r.desired[parentID], childID)
}

// collectGarbage removes every folder the plan did not touch, deepest
// first so child deletions never race past already-removed parents.
// Each removal is a single subtree delete on the store; the index and
// both mapping tables are pruned to match.
func (r *folderReconciler) collectGarbage(ctx context.Context, rootID string) error {
	var unused []*FolderInfo

	for id, f := range r.index.Folders {
		if id == rootID || r.used[id] {
			continue
		}

		unused = append(unused, f)
	}

	sort.Slice(unused, func(i, j int) bool {
		if unused[i].Depth != unused[j].Depth {
			return unused[i].Depth > unused[j].Depth
		}

		return unused[i].ID < unused[j].ID
	})

	for _, f := range unused {
		if r.index.Folders[f.ID] == nil {
			// Already removed beneath an earlier unused folder.
			continue
		}

		if err := r.store.RemoveSubtree(ctx, f.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("removing unused folder %s (%q): %w", f.ID, f.Title, err)
		}

		removed := r.index.removeFolderTree(f.ID)
		for _, bookmarkID := range removed {
			if err := r.state.DeleteItemMappingsByNode(bookmarkID); err != nil {
				return fmt.Errorf("pruning item mappings for %s: %w", bookmarkID, err)
			}
		}

		if err := r.state.DeleteCollectionFoldersByNode(f.ID); err != nil {
			return fmt.Errorf("pruning collection mapping for %s: %w", f.ID, err)
		}

		r.stats.FoldersRemoved++
		r.stats.BookmarksDeleted += len(removed)

		r.logger.Info("removed unused folder",
			slog.String("id", f.ID),
			slog.String("title", f.Title),
			slog.Int("bookmarks", len(removed)),
		)
	}

	return nil
}

// enforceOrder walks every touched parent and compares the desired
// child order against the current sibling order, issuing one by-index
// move per mismatch. Mutation count is proportional to drift, not to
// tree size: a converged parent issues no moves.
func (r *folderReconciler) enforceOrder(ctx context.Context) error {
	for _, parentID := range r.parents {
		want := r.desired[parentID]

		for i, id := range want {
			if r.positionOf(parentID, id) == i {
				continue
			}

			if err := r.store.MoveNode(ctx, id, parentID, i); err != nil {
				return fmt.Errorf("reordering folder %s: %w", id, err)
			}

			r.index.moveChild(parentID, id, i)
			r.stats.FoldersMoved++

			r.logger.Debug("reordered folder",
				slog.String("id", id),
				slog.Int("index", i),
			)
		}
	}

	return nil
}

func (r *folderReconciler) positionOf(parentID, id string) int {
	for i, cid := range r.index.ChildrenByParent[parentID] {
		if cid == id {
			return i
		}
	}

	return -1
}
