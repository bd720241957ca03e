package projects

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/kicad-prism/internal/analyzer"
	"github.com/MimeLyc/kicad-prism/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "prism.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CreateGetList(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	p := &Project{
		ID:         "widget-sub1",
		Name:       "amp",
		ImportType: analyzer.Type2,
		RepoURL:    "https://github.com/acme/widget.git",
		RepoPath:   "/data/projects/type2/widget",
		SubPath:    "sub1",
		Branch:     "main",
		PathConfig: PathConfig{Schematic: "amp.kicad_sch", Jobset: "Outputs.kicad_jobset"},
	}
	require.NoError(t, store.Create(ctx, p))
	require.NoError(t, store.Create(ctx, &Project{
		ID: "board", Name: "Board", ImportType: analyzer.Type1, RepoPath: "/data/projects/type1/board",
	}))

	got, err := store.Get(ctx, "widget-sub1")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, analyzer.Type2, got.ImportType)
	assert.Equal(t, "sub1", got.SubPath)
	assert.Equal(t, "main", got.Branch)
	assert.Equal(t, p.PathConfig, got.PathConfig)
	assert.Nil(t, got.LastSyncedAt)
	assert.Equal(t, filepath.Join("/data/projects/type2/widget", "sub1"), got.Dir())
	assert.Equal(t, "/data/projects/type2/widget", got.Source())

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "widget-sub1", all[0].ID)
	assert.Equal(t, "board", all[1].ID)
	assert.Equal(t, ".", all[1].SubPath)

	byRepo, err := store.ListByRepoPath(ctx, "/data/projects/type2/widget")
	require.NoError(t, err)
	require.Len(t, byRepo, 1)

	ok, err := store.Exists(ctx, "board")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Conflicts(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Project{ID: "a", Name: "A", RepoPath: "/r", SubPath: "x"}))

	err := store.Create(ctx, &Project{ID: "a", Name: "A2", RepoPath: "/r", SubPath: "y"})
	assert.True(t, errs.Is(err, errs.KindConflict))

	err = store.Create(ctx, &Project{ID: "b", Name: "B", RepoPath: "/r", SubPath: "x"})
	assert.True(t, errs.Is(err, errs.KindConflict))

	err = store.Create(ctx, &Project{ID: "", Name: "B", RepoPath: "/r"})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestStore_MarkSynced(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Project{ID: "a", Name: "A", RepoPath: "/r", SubPath: "x"}))
	require.NoError(t, store.Create(ctx, &Project{ID: "b", Name: "B", RepoPath: "/r", SubPath: "y"}))
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkSynced(ctx, "/r", at))

	for _, id := range []string{"a", "b"} {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.LastSyncedAt)
		assert.True(t, at.Equal(*got.LastSyncedAt))
	}
}

func TestStore_ReopenKeepsDataAndSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "prism.db")
	ctx := context.Background()

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, &Project{ID: "a", Name: "A", RepoPath: "/r"}))
	require.NoError(t, store.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	store, err = NewStore(path)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_projects.sql"))
	assert.Equal(t, 12, migrationVersion("12"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}

func TestNewStore_RequiresPath(t *testing.T) {
	_, err := NewStore("  ")
	assert.Error(t, err)
}
