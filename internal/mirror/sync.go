package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRootTitle is used for the mirror root folder when no title has
// been configured or persisted.
const DefaultRootTitle = "Raindrop"

// ErrPassInProgress is returned by Sync and Reset when another pass is
// already running. The caller is rejected, not queued.
var ErrPassInProgress = errors.New("sync already in progress")

// Config holds the collaborators and defaults for a Syncer.
type Config struct {
	Remote RemoteClient
	Store  TreeStore
	State  StateStore
	Logger *slog.Logger

	// DefaultParentID is the folder the mirror root is created under
	// when settings carry no parent, or when the configured parent no
	// longer exists.
	DefaultParentID string

	// DefaultRootTitle is the title for the mirror root folder when
	// settings carry no title. Empty falls back to "Raindrop".
	DefaultRootTitle string
}

// Syncer orchestrates reconciliation passes. A pass is strictly
// sequential: snapshot fetch, folder reconciliation, deletion sweep,
// upsert sweep; only the three snapshot reads run concurrently since
// they are mutually independent. At most one pass runs at a time.
type Syncer struct {
	remote RemoteClient
	store  TreeStore
	state  StateStore
	logger *slog.Logger

	defaultParentID string
	rootTitle       string

	running atomic.Bool
}

// New creates a Syncer from its collaborators.
func New(cfg Config) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rootTitle := cfg.DefaultRootTitle
	if rootTitle == "" {
		rootTitle = DefaultRootTitle
	}

	return &Syncer{
		remote:          cfg.Remote,
		store:           cfg.Store,
		state:           cfg.State,
		logger:          logger,
		defaultParentID: cfg.DefaultParentID,
		rootTitle:       rootTitle,
	}
}

// passToken witnesses an acquired single-flight slot. Holding one is the
// only way into runPass, which keeps the in-progress guard explicit
// instead of hidden module state.
type passToken struct {
	started time.Time
}

func (s *Syncer) tryBeginPass() (*passToken, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}

	return &passToken{started: time.Now()}, nil
}

func (s *Syncer) endPass(*passToken) {
	s.running.Store(false)
}

// Sync runs one reconciliation pass. The returned Report carries stats
// and per-item errors; it is non-nil even when err is non-nil, so a
// pass that failed after mutating the tree still reports what it did.
// There is no cancellation beyond ctx: once started a pass runs to
// completion or returns an error.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	token, err := s.tryBeginPass()
	if err != nil {
		return nil, err
	}
	defer s.endPass(token)

	return s.runPass(ctx, token)
}

// Reset deletes the entire existing mirror root and clears both
// cursors, then runs a pass. The next pass rebuilds the mirror from a
// full remote rescan.
func (s *Syncer) Reset(ctx context.Context) (*Report, error) {
	token, err := s.tryBeginPass()
	if err != nil {
		return nil, err
	}
	defer s.endPass(token)

	if err := s.removeMirrorRoot(ctx); err != nil {
		return nil, err
	}

	if err := s.state.SetCursors(Cursors{}); err != nil {
		return nil, fmt.Errorf("clearing cursors: %w", err)
	}

	s.logger.Info("mirror reset, forcing full rescan")

	return s.runPass(ctx, token)
}

func (s *Syncer) removeMirrorRoot(ctx context.Context) error {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return err
	}

	children, err := s.store.Children(ctx, settings.ParentID)
	if err != nil {
		return fmt.Errorf("listing parent folder: %w", err)
	}

	for i := range children {
		c := &children[i]
		if c.Folder() && c.Title == settings.Title {
			if err := s.store.RemoveSubtree(ctx, c.ID); err != nil {
				return fmt.Errorf("removing mirror root: %w", err)
			}

			break
		}
	}

	return nil
}

// loadSettings reads the persisted root settings, filling empty fields
// from the configured defaults and repairing a parent that no longer
// exists. The repaired value is persisted at the end of the pass.
func (s *Syncer) loadSettings(ctx context.Context) (RootSettings, error) {
	settings, err := s.state.RootSettings()
	if err != nil {
		return settings, fmt.Errorf("loading root settings: %w", err)
	}

	if settings.Title == "" {
		settings.Title = s.rootTitle
	}

	if settings.ParentID == "" {
		settings.ParentID = s.defaultParentID
	}

	if _, err := s.store.Children(ctx, settings.ParentID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return settings, fmt.Errorf("resolving parent folder: %w", err)
		}

		s.logger.Warn("configured parent folder missing, using default",
			slog.String("parent", settings.ParentID),
			slog.String("default", s.defaultParentID),
		)
		settings.ParentID = s.defaultParentID
	}

	return settings, nil
}

// runPass executes one full pass. Fatal errors (remote snapshot,
// unreadable root subtree, folder reconciliation) abort immediately
// with cursors untouched; per-item errors are aggregated into the
// report and surfaced as a single error at the end.
func (s *Syncer) runPass(ctx context.Context, token *passToken) (*Report, error) {
	report := &Report{}
	defer func() {
		report.Duration = time.Since(token.started)
	}()

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return report, err
	}

	rootID, err := s.ensureRoot(ctx, settings, &report.Stats)
	if err != nil {
		return report, err
	}

	snap, err := s.fetchSnapshot(ctx)
	if err != nil {
		return report, err
	}

	subtree, err := s.store.Subtree(ctx, rootID)
	if err != nil {
		return report, fmt.Errorf("reading mirror subtree: %w", err)
	}

	index, err := BuildIndex(subtree)
	if err != nil {
		return report, fmt.Errorf("indexing mirror subtree: %w", err)
	}

	plan := BuildPlan(snap.groups, snap.roots, snap.children)

	fr := newFolderReconciler(s.store, s.state, index, &report.Stats, s.logger)

	folders, err := fr.reconcile(ctx, plan, rootID)
	if err != nil {
		return report, fmt.Errorf("reconciling folders: %w", err)
	}

	cursors, err := s.state.Cursors()
	if err != nil {
		return report, fmt.Errorf("loading cursors: %w", err)
	}

	ir := newItemReconciler(s.remote, s.store, s.state, index, folders, &report.Stats, s.logger)

	deletionCursor, err := ir.sweepDeletions(ctx, cursors.Deletion)
	if err != nil {
		return report, fmt.Errorf("deletion sweep: %w", err)
	}

	if deletionCursor > cursors.Deletion {
		cursors.Deletion = deletionCursor
		if err := s.state.SetCursors(cursors); err != nil {
			return report, fmt.Errorf("saving deletion cursor: %w", err)
		}
	}

	upsertCursor, err := ir.sweepUpserts(ctx, cursors.Upsert)
	if err != nil {
		return report, fmt.Errorf("upsert sweep: %w", err)
	}

	if upsertCursor > cursors.Upsert {
		cursors.Upsert = upsertCursor
		if err := s.state.SetCursors(cursors); err != nil {
			return report, fmt.Errorf("saving upsert cursor: %w", err)
		}
	}

	if err := s.state.SetRootSettings(settings); err != nil {
		return report, fmt.Errorf("saving root settings: %w", err)
	}

	report.ItemErrors = ir.itemErrs

	s.logger.Info("pass complete",
		slog.Int("folders_created", report.Stats.FoldersCreated),
		slog.Int("folders_removed", report.Stats.FoldersRemoved),
		slog.Int("folders_moved", report.Stats.FoldersMoved),
		slog.Int("bookmarks_created", report.Stats.BookmarksCreated),
		slog.Int("bookmarks_updated", report.Stats.BookmarksUpdated),
		slog.Int("bookmarks_moved", report.Stats.BookmarksMoved),
		slog.Int("bookmarks_deleted", report.Stats.BookmarksDeleted),
		slog.Int("item_errors", len(report.ItemErrors)),
		slog.Duration("duration", time.Since(token.started)),
	)

	if len(report.ItemErrors) > 0 {
		return report, fmt.Errorf("%d items failed to reconcile", len(report.ItemErrors))
	}

	return report, nil
}

// ensureRoot finds or creates the mirror root folder under the resolved
// parent.
func (s *Syncer) ensureRoot(ctx context.Context, settings RootSettings, stats *Stats) (string, error) {
	children, err := s.store.Children(ctx, settings.ParentID)
	if err != nil {
		return "", fmt.Errorf("listing parent folder: %w", err)
	}

	for i := range children {
		c := &children[i]
		if c.Folder() && c.Title == settings.Title {
			return c.ID, nil
		}
	}

	id, err := s.store.CreateFolder(ctx, settings.ParentID, settings.Title)
	if err != nil {
		return "", fmt.Errorf("creating mirror root: %w", err)
	}

	stats.FoldersCreated++

	s.logger.Info("created mirror root",
		slog.String("id", id),
		slog.String("title", settings.Title),
	)

	return id, nil
}

// snapshot bundles the three independent remote reads that precede
// reconciliation.
type snapshot struct {
	groups   []RemoteGroup
	roots    []RemoteCollection
	children []RemoteCollection
}

// fetchSnapshot issues the three reads concurrently; they do not depend
// on each other and this is the only concurrency in a pass.
func (s *Syncer) fetchSnapshot(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		groups, err := s.remote.FetchGroups(gctx)
		if err != nil {
			return fmt.Errorf("fetching groups: %w", err)
		}

		snap.groups = groups

		return nil
	})

	g.Go(func() error {
		roots, err := s.remote.FetchRootCollections(gctx)
		if err != nil {
			return fmt.Errorf("fetching root collections: %w", err)
		}

		snap.roots = roots

		return nil
	})

	g.Go(func() error {
		children, err := s.remote.FetchChildCollections(gctx)
		if err != nil {
			return fmt.Errorf("fetching child collections: %w", err)
		}

		snap.children = children

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return snap, nil
}
