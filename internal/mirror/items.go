package mirror

import (
	"context"
	"fmt"
	"log/slog"
)

// itemReconciler runs the two paginated item sweeps of a pass. Each
// sweep is bounded by its persisted cursor: pages arrive in descending
// LastUpdate order, items at or above the threshold are processed, and
// the sweep stops at the first strictly-older item. The new cursor (max
// LastUpdate observed) is returned to the coordinator only when the
// sweep completes, so a failure mid-sweep restarts from the old, more
// conservative threshold.
//
// Store and remote failures on a single item are appended to itemErrs
// and the sweep continues; the watermark reflects items seen, not items
// successfully applied.
type itemReconciler struct {
	remote RemoteClient
	store  TreeStore
	state  StateStore
	index  *Index
	logger *slog.Logger
	stats  *Stats

	collectionFolders map[int64]string
	unsortedFolderID  string

	itemErrs []error
}

func newItemReconciler(remote RemoteClient, store TreeStore, state StateStore, index *Index, folders *folderResult, stats *Stats, logger *slog.Logger) *itemReconciler {
	return &itemReconciler{
		remote:            remote,
		store:             store,
		state:             state,
		index:             index,
		logger:            logger,
		stats:             stats,
		collectionFolders: folders.collectionFolders,
		unsortedFolderID:  folders.unsortedFolderID,
	}
}

// sweepDeletions pages through the remote trash and removes every local
// bookmark matching a trashed item's URL. Returns the new deletion
// cursor value.
func (r *itemReconciler) sweepDeletions(ctx context.Context, threshold int64) (int64, error) {
	return r.sweep(ctx, TrashCollectionID, threshold, r.applyDeletion)
}

// sweepUpserts pages through the all-items feed and upserts each item
// into its target folder. Returns the new upsert cursor value.
func (r *itemReconciler) sweepUpserts(ctx context.Context, threshold int64) (int64, error) {
	return r.sweep(ctx, AllCollectionID, threshold, r.upsertItem)
}

// sweep drives one paginated feed. A page fetch failure is fatal (the
// cursor must not advance); a failure applying one item is recorded and
// skipped. Items with LastUpdate >= threshold are processed; the first
// strictly-older item ends the sweep. An item sitting exactly at the
// threshold is therefore re-applied on every pass — idempotent but
// wasteful, kept to match the behavior this engine was ported from.
func (r *itemReconciler) sweep(ctx context.Context, collectionID, threshold int64, apply func(context.Context, RemoteItem) error) (int64, error) {
	maxSeen := threshold

	for page := 0; ; page++ {
		items, err := r.remote.FetchItemsPage(ctx, collectionID, page)
		if err != nil {
			return 0, fmt.Errorf("fetching page %d of collection %d: %w", page, collectionID, err)
		}

		if len(items) == 0 {
			break
		}

		for _, it := range items {
			if it.LastUpdate < threshold {
				return maxSeen, nil
			}

			if it.LastUpdate > maxSeen {
				maxSeen = it.LastUpdate
			}

			if err := apply(ctx, it); err != nil {
				r.itemErrs = append(r.itemErrs, fmt.Errorf("item %d: %w", it.ID, err))
				r.logger.Warn("reconciling item failed",
					slog.Int64("item", it.ID),
					slog.String("url", it.URL),
					slog.String("error", err.Error()),
				)
			}
		}

		if len(items) < PageSize {
			break
		}
	}

	return maxSeen, nil
}

// applyDeletion removes every indexed bookmark carrying the trashed
// item's URL, wherever it lives in the mirror, along with any identity
// mappings pointing at the removed nodes.
func (r *itemReconciler) applyDeletion(ctx context.Context, it RemoteItem) error {
	ids := r.index.BookmarksByURL[it.URL]
	if len(ids) > 0 {
		// Copy: removeBookmark mutates the slice we are ranging over.
		ids = append([]string(nil), ids...)
	}

	for _, id := range ids {
		if err := r.store.RemoveBookmark(ctx, id); err != nil {
			return fmt.Errorf("removing bookmark %s: %w", id, err)
		}

		r.index.removeBookmark(id)

		if err := r.state.DeleteItemMappingsByNode(id); err != nil {
			return fmt.Errorf("pruning mappings for %s: %w", id, err)
		}

		r.stats.BookmarksDeleted++

		r.logger.Info("deleted bookmark",
			slog.String("id", id),
			slog.String("url", it.URL),
		)
	}

	if err := r.state.DeleteItemMapping(it.ID); err != nil {
		return fmt.Errorf("deleting mapping for item %d: %w", it.ID, err)
	}

	return nil
}

// upsertItem resolves the local node for one remote item and brings it
// in line, then refreshes the identity mapping and cleans up stale
// duplicates in the target folder.
func (r *itemReconciler) upsertItem(ctx context.Context, it RemoteItem) error {
	target, ok := r.targetFolder(it.CollectionID)
	if !ok {
		// Collection outside the mirrored set; not an error.
		r.logger.Debug("skipping item in unmapped collection",
			slog.Int64("item", it.ID),
			slog.Int64("collection", it.CollectionID),
		)

		return nil
	}

	nodeID, err := r.resolveNode(ctx, it, target)
	if err != nil {
		return err
	}

	if err := r.state.SetItemMapping(it.ID, nodeID); err != nil {
		return fmt.Errorf("saving item mapping: %w", err)
	}

	return r.cleanupDuplicates(ctx, it, target, nodeID)
}

// targetFolder maps a remote collection ID to the local folder bookmarks
// of that collection belong in.
func (r *itemReconciler) targetFolder(collectionID int64) (string, bool) {
	if collectionID == UnsortedCollectionID {
		return r.unsortedFolderID, true
	}

	id, ok := r.collectionFolders[collectionID]

	return id, ok
}

// resolveNode finds or creates the local bookmark for an item, trying
// successively weaker matches:
//
//  1. live identity mapping (survives URL and title changes)
//  2. URL match among the target folder's current children, queried
//     from the store directly to catch index/store divergence before it
//     turns into a duplicate
//  3. URL match anywhere in the index (moved into the target folder)
//  4. no match: create
func (r *itemReconciler) resolveNode(ctx context.Context, it RemoteItem, target string) (string, error) {
	mapped, err := r.state.ItemMapping(it.ID)
	if err != nil {
		return "", fmt.Errorf("reading item mapping: %w", err)
	}

	if mapped != "" {
		if r.index.Bookmarks[mapped] != nil {
			return mapped, r.updateInPlace(ctx, it, mapped, target)
		}

		// Mapping points at a node that no longer exists: self-heal and
		// fall through to URL matching.
		if err := r.state.DeleteItemMapping(it.ID); err != nil {
			return "", fmt.Errorf("deleting stale item mapping: %w", err)
		}

		r.logger.Debug("dropped stale item mapping", slog.Int64("item", it.ID))
	}

	live, err := r.store.Children(ctx, target)
	if err != nil {
		return "", fmt.Errorf("listing target folder children: %w", err)
	}

	for i := range live {
		n := &live[i]
		if n.Folder() || n.URL != it.URL {
			continue
		}

		if r.index.Bookmarks[n.ID] == nil {
			// The store has a bookmark the index missed (race or a
			// previous partial pass); adopt it instead of duplicating.
			r.adoptLiveBookmark(n, target)
		}

		return n.ID, r.updateInPlace(ctx, it, n.ID, target)
	}

	if ids := r.index.BookmarksByURL[it.URL]; len(ids) > 0 {
		return ids[0], r.updateInPlace(ctx, it, ids[0], target)
	}

	id, err := r.store.CreateBookmark(ctx, target, it.Title, it.URL)
	if err != nil {
		return "", fmt.Errorf("creating bookmark: %w", err)
	}

	entry := &BookmarkEntry{ID: id, ParentID: target, Title: it.Title, URL: it.URL}
	if p := r.index.Folders[target]; p != nil {
		entry.Path = appendPath(p.Path, it.Title)
	}

	r.index.insertBookmark(entry)
	r.stats.BookmarksCreated++

	r.logger.Info("created bookmark",
		slog.String("id", id),
		slog.String("url", it.URL),
	)

	return id, nil
}

// updateInPlace moves a resolved bookmark into the target folder if it
// drifted, and updates title/URL if the remote item changed them.
func (r *itemReconciler) updateInPlace(ctx context.Context, it RemoteItem, nodeID, target string) error {
	b := r.index.Bookmarks[nodeID]
	if b == nil {
		return fmt.Errorf("bookmark %s missing from index", nodeID)
	}

	if b.ParentID != target {
		idx := len(r.index.ChildrenByParent[target])
		if err := r.store.MoveNode(ctx, nodeID, target, idx); err != nil {
			return fmt.Errorf("moving bookmark %s: %w", nodeID, err)
		}

		r.index.reparentBookmark(nodeID, target)
		r.stats.BookmarksMoved++

		r.logger.Info("moved bookmark",
			slog.String("id", nodeID),
			slog.String("url", it.URL),
		)
	}

	upd := BookmarkUpdate{}
	if b.Title != it.Title {
		upd.Title = &it.Title
	}

	if b.URL != it.URL {
		upd.URL = &it.URL
	}

	if upd.Title == nil && upd.URL == nil {
		return nil
	}

	if err := r.store.UpdateBookmark(ctx, nodeID, upd); err != nil {
		return fmt.Errorf("updating bookmark %s: %w", nodeID, err)
	}

	if upd.Title != nil {
		b.Title = it.Title
		if p := r.index.Folders[b.ParentID]; p != nil {
			b.Path = appendPath(p.Path, b.Title)
		}
	}

	if upd.URL != nil {
		r.index.setBookmarkURL(nodeID, it.URL)
	}

	r.stats.BookmarksUpdated++

	r.logger.Info("updated bookmark",
		slog.String("id", nodeID),
		slog.String("url", it.URL),
	)

	return nil
}

// adoptLiveBookmark inserts a store-only bookmark into the index so the
// rest of the pass can reason about it.
func (r *itemReconciler) adoptLiveBookmark(n *Node, target string) {
	entry := &BookmarkEntry{ID: n.ID, ParentID: target, Title: n.Title, URL: n.URL}
	if p := r.index.Folders[target]; p != nil {
		entry.Path = appendPath(p.Path, n.Title)
	}

	r.index.insertBookmark(entry)
}

// cleanupDuplicates removes siblings of the resolved bookmark that share
// its title but carry a different URL. These are typically leftovers
// from the remote item's URL having changed. A sibling whose URL still
// exists as a live remote item in the same collection is a legitimate
// separate bookmark and is left alone.
func (r *itemReconciler) cleanupDuplicates(ctx context.Context, it RemoteItem, target, keepID string) error {
	siblings := append([]string(nil), r.index.ChildrenByParent[target]...)

	for _, id := range siblings {
		if id == keepID {
			continue
		}

		b := r.index.Bookmarks[id]
		if b == nil || b.Title != it.Title || b.URL == it.URL {
			continue
		}

		exists, err := r.remote.ItemExists(ctx, it.CollectionID, b.URL)
		if err != nil {
			return fmt.Errorf("checking remote existence of %s: %w", b.URL, err)
		}

		if exists {
			continue
		}

		if err := r.store.RemoveBookmark(ctx, id); err != nil {
			return fmt.Errorf("removing duplicate %s: %w", id, err)
		}

		r.index.removeBookmark(id)

		if err := r.state.DeleteItemMappingsByNode(id); err != nil {
			return fmt.Errorf("pruning mappings for %s: %w", id, err)
		}

		r.stats.BookmarksDeleted++

		r.logger.Info("removed duplicate bookmark",
			slog.String("id", id),
			slog.String("url", b.URL),
			slog.String("title", b.Title),
		)
	}

	return nil
}
