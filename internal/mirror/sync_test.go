package mirror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestRemote() *stubRemote {
	return &stubRemote{
		groups: []RemoteGroup{{Title: "Work", CollectionIDs: []int64{10}}},
		roots:  []RemoteCollection{{ID: 10, Title: "Projects"}},
		pages: map[int64][][]RemoteItem{
			AllCollectionID: {{
				{ID: 100, URL: "https://a.test", Title: "A", CollectionID: 10, LastUpdate: 2000},
				{ID: 101, URL: "https://b.test", Title: "B", CollectionID: UnsortedCollectionID, LastUpdate: 1000},
			}},
		},
	}
}

func newTestSyncer(remote RemoteClient, store TreeStore, st StateStore) *Syncer {
	return New(Config{
		Remote:          remote,
		Store:           store,
		State:           st,
		Logger:          quietLogger,
		DefaultParentID: "1",
	})
}

func TestSync_FullPass(t *testing.T) {
	store := newMemStore()
	st := newMemState()
	s := newTestSyncer(newTestRemote(), store, st)

	report, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, report.OK())

	// Root, Work, Projects, Unsorted.
	assert.Equal(t, 4, report.Stats.FoldersCreated)
	assert.Equal(t, 2, report.Stats.BookmarksCreated)

	root := store.folderByPath(DefaultRootTitle)
	require.NotNil(t, root)
	assert.Equal(t, []string{"Work", UnsortedFolderTitle}, store.childTitles(root.id))

	projects := store.folderByPath(DefaultRootTitle, "Work", "Projects")
	require.NotNil(t, projects)
	assert.Equal(t, []string{"A"}, store.childTitles(projects.id))

	unsorted := store.folderByPath(DefaultRootTitle, UnsortedFolderTitle)
	assert.Equal(t, []string{"B"}, store.childTitles(unsorted.id))

	cursors, err := st.Cursors()
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cursors.Upsert)

	settings, err := st.RootSettings()
	require.NoError(t, err)
	assert.Equal(t, "1", settings.ParentID)
	assert.Equal(t, DefaultRootTitle, settings.Title)
}

func TestSync_SecondPassIsNoop(t *testing.T) {
	store := newMemStore()
	st := newMemState()
	s := newTestSyncer(newTestRemote(), store, st)

	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	report, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, report.Stats)
	assert.True(t, report.OK())
}

func TestSync_CustomRootTitle(t *testing.T) {
	store := newMemStore()
	st := newMemState()

	s := New(Config{
		Remote:           newTestRemote(),
		Store:            store,
		State:            st,
		Logger:           quietLogger,
		DefaultParentID:  "1",
		DefaultRootTitle: "Bookmarks",
	})

	_, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, store.folderByPath("Bookmarks"))
	assert.Nil(t, store.folderByPath(DefaultRootTitle))
}

func TestSync_RejectsConcurrentPass(t *testing.T) {
	s := newTestSyncer(newTestRemote(), newMemStore(), newMemState())

	token, err := s.tryBeginPass()
	require.NoError(t, err)

	_, err = s.Sync(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)

	_, err = s.Reset(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)

	s.endPass(token)

	_, err = s.Sync(context.Background())
	assert.NoError(t, err)
}

func TestSync_RepairsMissingParent(t *testing.T) {
	store := newMemStore()
	st := newMemState()
	st.settings = RootSettings{ParentID: "404", Title: DefaultRootTitle}

	s := newTestSyncer(newTestRemote(), store, st)

	report, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.NotNil(t, store.folderByPath(DefaultRootTitle))

	settings, err := st.RootSettings()
	require.NoError(t, err)
	assert.Equal(t, "1", settings.ParentID)
}

func TestSync_SnapshotErrorAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	remote := NewMockRemoteClient(ctrl)

	remote.EXPECT().FetchGroups(gomock.Any()).Return(nil, errors.New("upstream down"))
	remote.EXPECT().FetchRootCollections(gomock.Any()).Return(nil, nil).AnyTimes()
	remote.EXPECT().FetchChildCollections(gomock.Any()).Return(nil, nil).AnyTimes()

	store := newMemStore()
	st := newMemState()
	s := newTestSyncer(remote, store, st)

	report, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching groups")
	require.NotNil(t, report)

	// The root was ensured before the snapshot failed; cursors did not
	// move.
	assert.Equal(t, 1, report.Stats.FoldersCreated)

	cursors, err := st.Cursors()
	require.NoError(t, err)
	assert.Equal(t, Cursors{}, cursors)
}

func TestSync_PageErrorKeepsCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	remote := NewMockRemoteClient(ctrl)

	remote.EXPECT().FetchGroups(gomock.Any()).Return(nil, nil)
	remote.EXPECT().FetchRootCollections(gomock.Any()).Return(nil, nil)
	remote.EXPECT().FetchChildCollections(gomock.Any()).Return(nil, nil)
	remote.EXPECT().
		FetchItemsPage(gomock.Any(), TrashCollectionID, 0).
		Return(nil, errors.New("rate limited"))

	store := newMemStore()
	st := newMemState()
	st.cursors = Cursors{Upsert: 1500, Deletion: 1500}

	s := newTestSyncer(remote, store, st)

	_, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deletion sweep")

	cursors, err := st.Cursors()
	require.NoError(t, err)
	assert.Equal(t, Cursors{Upsert: 1500, Deletion: 1500}, cursors)
}

// createFailStore fails bookmark creation for one URL so per-item error
// aggregation can be observed end to end.
type createFailStore struct {
	*memStore
	failURL string
}

func (s *createFailStore) CreateBookmark(ctx context.Context, parentID, title, url string) (string, error) {
	if url == s.failURL {
		return "", fmt.Errorf("disk full")
	}

	return s.memStore.CreateBookmark(ctx, parentID, title, url)
}

func TestSync_ItemErrorsDoNotAbortPass(t *testing.T) {
	store := &createFailStore{memStore: newMemStore(), failURL: "https://a.test"}
	st := newMemState()
	s := newTestSyncer(newTestRemote(), store, st)

	report, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 items failed")
	require.NotNil(t, report)
	assert.False(t, report.OK())
	assert.Len(t, report.ItemErrors, 1)

	// The other item was still applied and the cursor advanced past
	// both: failed items are reported, not retried via the watermark.
	assert.Equal(t, 1, report.Stats.BookmarksCreated)

	cursors, cErr := st.Cursors()
	require.NoError(t, cErr)
	assert.Equal(t, int64(2000), cursors.Upsert)
}

func TestReset_RebuildsMirror(t *testing.T) {
	store := newMemStore()
	st := newMemState()
	remote := newTestRemote()
	s := newTestSyncer(remote, store, st)

	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	firstRoot := store.folderByPath(DefaultRootTitle)
	require.NotNil(t, firstRoot)

	report, err := s.Reset(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())

	// The old subtree is gone and a fresh one was built from a full
	// rescan.
	newRoot := store.folderByPath(DefaultRootTitle)
	require.NotNil(t, newRoot)
	assert.NotEqual(t, firstRoot.id, newRoot.id)
	assert.Equal(t, 2, report.Stats.BookmarksCreated)

	cursors, err := st.Cursors()
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cursors.Upsert)
}

func TestReset_FirstRunWithoutExistingMirror(t *testing.T) {
	store := newMemStore()
	st := newMemState()
	s := newTestSyncer(newTestRemote(), store, st)

	report, err := s.Reset(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.NotNil(t, store.folderByPath(DefaultRootTitle))
}
