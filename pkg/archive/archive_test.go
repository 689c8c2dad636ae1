package archive

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/recall/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func archivePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "snapshot.json")
}

func storeMemory(t *testing.T, s *store.SQLiteStore, category, key, value string) *store.Memory {
	t.Helper()
	m, err := s.StoreMemory(category, key, value, nil)
	require.NoError(t, err)
	return m
}

func createTask(t *testing.T, s *store.SQLiteStore, project, subject string, parentID *int64) *store.Task {
	t.Helper()
	task := &store.Task{Project: project, Subject: subject, ParentID: parentID}
	require.NoError(t, s.CreateTask(task))
	return task
}

func TestCreateRejectsUnknownEntityType(t *testing.T) {
	s := newStore(t)

	_, err := Create(s, "test.db", archivePath(t), CreateOptions{EntityType: "widgets"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity type")
}

func TestCreateThreeMemories(t *testing.T) {
	s := newStore(t)
	storeMemory(t, s, "notes", "a", "1")
	storeMemory(t, s, "notes", "b", "2")
	storeMemory(t, s, "notes", "c", "3")

	path := archivePath(t)
	result, err := Create(s, "memory.db", path, CreateOptions{EntityType: EntityMemories})
	require.NoError(t, err)

	assert.Equal(t, path, result.Path)
	assert.Equal(t, 3, result.Counts.Memories)
	assert.Equal(t, 3, result.Counts.Total())
	assert.False(t, result.Purged)
	assert.Greater(t, result.Bytes, int64(0))

	// Without purge the source is untouched.
	remaining, err := s.ListMemories("", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 3)

	doc, err := os.ReadFile(path)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(doc, &env))
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.Equal(t, "memory.db", env.SourceDB)
	assert.Equal(t, []string{EntityMemories}, env.EntityTypes)
	assert.Len(t, env.Data.Memories, 3)
	assert.Empty(t, env.Data.Tasks)
}

func TestCreateNothingToArchive(t *testing.T) {
	s := newStore(t)
	storeMemory(t, s, "notes", "a", "1")

	path := archivePath(t)
	_, err := Create(s, "memory.db", path, CreateOptions{
		EntityType: EntityMemories,
		Category:   "no-such-category",
		Purge:      true,
	})
	require.ErrorIs(t, err, ErrNothingToArchive)

	// No file, and purge must not have run.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	remaining, err := s.ListMemories("", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestCreateDestinationExists(t *testing.T) {
	s := newStore(t)
	storeMemory(t, s, "notes", "a", "1")

	path := archivePath(t)
	require.NoError(t, os.WriteFile(path, []byte("occupied"), 0o644))

	_, err := Create(s, "memory.db", path, CreateOptions{EntityType: EntityMemories})
	require.ErrorIs(t, err, ErrDestinationExists)

	// Force overwrites.
	result, err := Create(s, "memory.db", path, CreateOptions{EntityType: EntityMemories, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counts.Memories)
}

func TestCreateLimitCapsRoots(t *testing.T) {
	s := newStore(t)
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		storeMemory(t, s, "notes", key, "v")
	}

	result, err := Create(s, "memory.db", archivePath(t), CreateOptions{
		EntityType: EntityMemories,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Counts.Memories)
}

func TestCascadeCollectsSubtaskClosure(t *testing.T) {
	s := newStore(t)

	// Only the root matches the project filter; its descendants belong
	// to another project and must be pulled in by the cascade.
	a := createTask(t, s, "alpha", "root", nil)
	b := createTask(t, s, "other", "child", &a.ID)
	c := createTask(t, s, "other", "grandchild", &b.ID)
	unrelated := createTask(t, s, "other", "standalone", nil)

	require.NoError(t, s.AddTaskDep(unrelated.ID, c.ID))
	_, err := s.CreateLink(store.KindTask, b.ID, store.KindMemory, 99, nil)
	require.NoError(t, err)

	path := archivePath(t)
	result, err := Create(s, "memory.db", path, CreateOptions{
		EntityType: EntityTasks,
		Project:    "alpha",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Counts.Tasks)
	assert.Equal(t, 1, result.Counts.TaskDeps)
	assert.Equal(t, 1, result.Counts.Links)

	var env Envelope
	doc, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(doc, &env))

	ids := map[int64]bool{}
	for _, task := range env.Data.Tasks {
		ids[task.ID] = true
	}
	assert.True(t, ids[a.ID] && ids[b.ID] && ids[c.ID])
	assert.False(t, ids[unrelated.ID], "dep traversal must not pull in the blocker task")

	require.Len(t, env.Data.TaskDeps, 1)
	assert.Equal(t, unrelated.ID, env.Data.TaskDeps[0].BlockerID)
	assert.Equal(t, c.ID, env.Data.TaskDeps[0].BlockedID)
}

func TestSoftDeletedTasksStillArchived(t *testing.T) {
	s := newStore(t)

	task := createTask(t, s, "alpha", "zombie", nil)
	_, err := s.UpdateTask(task.ID, map[string]any{"status": "deleted"})
	require.NoError(t, err)

	result, err := Create(s, "memory.db", archivePath(t), CreateOptions{
		EntityType: EntityTasks,
		Project:    "alpha",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counts.Tasks)
}

func TestLinkCollectedOnceWhenBothEndpointsSelected(t *testing.T) {
	s := newStore(t)
	m1 := storeMemory(t, s, "notes", "a", "1")
	m2 := storeMemory(t, s, "notes", "b", "2")
	_, err := s.CreateLink(store.KindMemory, m1.ID, store.KindMemory, m2.ID, nil)
	require.NoError(t, err)

	result, err := Create(s, "memory.db", archivePath(t), CreateOptions{EntityType: EntityMemories})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Counts.Memories)
	assert.Equal(t, 1, result.Counts.Links)
}

func TestPurgeRemovesArchivedRowsOnly(t *testing.T) {
	s := newStore(t)

	a := createTask(t, s, "alpha", "root", nil)
	b := createTask(t, s, "alpha", "child", &a.ID)
	require.NoError(t, s.AddTaskDep(a.ID, b.ID))
	_, err := s.CreateLink(store.KindTask, a.ID, store.KindMemory, 1, nil)
	require.NoError(t, err)

	keep := storeMemory(t, s, "notes", "keep", "v")
	createTask(t, s, "beta", "untouched", nil)

	result, err := Create(s, "memory.db", archivePath(t), CreateOptions{
		EntityType: EntityTasks,
		Project:    "alpha",
		Purge:      true,
	})
	require.NoError(t, err)
	assert.True(t, result.Purged)

	tasks, err := s.ListTasks(store.TaskFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "untouched", tasks[0].Subject)

	_, _, err = s.TaskDeps(b.ID)
	require.NoError(t, err)
	deps, err := s.TaskDepsForTaskIDs([]int64{a.ID, b.ID})
	require.NoError(t, err)
	assert.Empty(t, deps)

	links, err := s.LinksFor(store.KindTask, a.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	memories, err := s.ListMemories("", 10)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, keep.ID, memories[0].ID)
}

// brokenDeleteStore fails link deletion, leaving everything else intact.
type brokenDeleteStore struct {
	*store.SQLiteStore
}

func (b *brokenDeleteStore) DeleteLinksByIDs(ids []int64) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func TestPurgeFailureKeepsValidArchive(t *testing.T) {
	s := newStore(t)
	m1 := storeMemory(t, s, "notes", "a", "1")
	m2 := storeMemory(t, s, "notes", "b", "2")
	_, err := s.CreateLink(store.KindMemory, m1.ID, store.KindMemory, m2.ID, nil)
	require.NoError(t, err)

	path := archivePath(t)
	result, err := Create(&brokenDeleteStore{s}, "memory.db", path, CreateOptions{
		EntityType: EntityMemories,
		Purge:      true,
	})

	// The snapshot was written; the failure is purge-class, not
	// write-class, and the result still points at the valid file.
	var perr *PurgeError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, path, perr.Path)
	require.NotNil(t, result)
	assert.False(t, result.Purged)
	assert.Equal(t, 2, result.Counts.Memories)

	// Nothing was deleted: links go first and that delete failed.
	remaining, err := s.ListMemories("", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	links, err := s.LinksFor(store.KindMemory, m1.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	// The file on disk restores cleanly.
	dst := newStore(t)
	restored, err := Restore(dst, path)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Restored.Total())
}

func TestRoundTripArchiveAndRestore(t *testing.T) {
	src := newStore(t)

	m := storeMemory(t, src, "notes", "a", "1")
	project := "alpha"
	entryType := "summary"
	conv, err := src.LogConversation("sess", "assistant", "recap", &project, &entryType, nil)
	require.NoError(t, err)
	a := createTask(t, src, "alpha", "root", nil)
	b := createTask(t, src, "alpha", "child", &a.ID)
	require.NoError(t, src.AddTaskDep(a.ID, b.ID))
	_, err = src.CreateLink(store.KindTask, a.ID, store.KindMemory, m.ID, nil)
	require.NoError(t, err)

	path := archivePath(t)
	created, err := Create(src, "memory.db", path, CreateOptions{EntityType: EntityAll, Purge: true})
	require.NoError(t, err)
	assert.Equal(t, 6, created.Counts.Total())

	dst := newStore(t)
	restored, err := Restore(dst, path)
	require.NoError(t, err)
	assert.Equal(t, 6, restored.Restored.Total())
	assert.Equal(t, 0, restored.Skipped.Total())

	// Ids survive the round trip.
	gotMem, err := dst.ListMemories("notes", 10)
	require.NoError(t, err)
	require.Len(t, gotMem, 1)
	assert.Equal(t, m.ID, gotMem[0].ID)

	gotTask, err := dst.GetTask(b.ID)
	require.NoError(t, err)
	require.NotNil(t, gotTask.ParentID)
	assert.Equal(t, a.ID, *gotTask.ParentID)

	gotConv, err := dst.ListConversations("sess", "", 10)
	require.NoError(t, err)
	require.Len(t, gotConv, 1)
	assert.Equal(t, conv.ID, gotConv[0].ID)

	blockers, _, err := dst.TaskDeps(b.ID)
	require.NoError(t, err)
	require.Len(t, blockers, 1)
	assert.Equal(t, a.ID, blockers[0].ID)

	links, err := dst.LinksFor(store.KindTask, a.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestRestoreIsIdempotent(t *testing.T) {
	src := newStore(t)
	storeMemory(t, src, "notes", "a", "1")
	storeMemory(t, src, "notes", "b", "2")

	path := archivePath(t)
	_, err := Create(src, "memory.db", path, CreateOptions{EntityType: EntityMemories})
	require.NoError(t, err)

	dst := newStore(t)
	first, err := Restore(dst, path)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Restored.Total())

	second, err := Restore(dst, path)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Restored.Total())
	assert.Equal(t, 2, second.Skipped.Total())

	got, err := dst.ListMemories("", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRestoreDoesNotOverwriteExistingRows(t *testing.T) {
	src := newStore(t)
	m := storeMemory(t, src, "notes", "a", "archived")

	path := archivePath(t)
	_, err := Create(src, "memory.db", path, CreateOptions{EntityType: EntityMemories})
	require.NoError(t, err)

	dst := newStore(t)
	_, err = dst.RestoreMemory(&store.Memory{
		ID: m.ID, Category: "notes", Key: "a", Value: "live",
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	})
	require.NoError(t, err)

	result, err := Restore(dst, path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped.Memories)

	got, err := dst.ListMemories("notes", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "live", got[0].Value)
}

func TestRestoreRejectsSchemaMismatch(t *testing.T) {
	path := archivePath(t)
	doc := `{"schema_version":"2.0","created_at":"2026-01-01T00:00:00Z","source_db":"x","entity_types":["memories"],"filters":{},"counts":{"memories":1},"data":{"memories":[{"id":1,"category":"c","key":"k","value":"v","created_at":"","updated_at":""}]}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	dst := newStore(t)
	_, err := Restore(dst, path)
	require.ErrorIs(t, err, ErrSchemaVersion)

	got, err := dst.ListMemories("", 10)
	require.NoError(t, err)
	assert.Empty(t, got, "a rejected snapshot must insert nothing")
}

func TestRestoreMissingFile(t *testing.T) {
	dst := newStore(t)
	_, err := Restore(dst, filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestSortTasksParentFirst(t *testing.T) {
	p5, p2 := int64(5), int64(2)
	tasks := []*store.Task{
		{ID: 9, ParentID: &p5},
		{ID: 5, ParentID: &p2},
		{ID: 2},
		{ID: 3},
	}
	sorted := sortTasksParentFirst(tasks)

	var order []int64
	for _, task := range sorted {
		order = append(order, task.ID)
	}
	assert.Equal(t, []int64{2, 3, 5, 9}, order)
	// Input is left untouched.
	assert.Equal(t, int64(9), tasks[0].ID)
}

func TestSortTasksParentFirstWithOutOfOrderIDs(t *testing.T) {
	// A child whose id is smaller than its parent's still lands after it.
	p10, p2 := int64(10), int64(2)
	tasks := []*store.Task{
		{ID: 2, ParentID: &p10},
		{ID: 7, ParentID: &p2},
		{ID: 10},
	}
	sorted := sortTasksParentFirst(tasks)

	var order []int64
	for _, task := range sorted {
		order = append(order, task.ID)
	}
	assert.Equal(t, []int64{10, 2, 7}, order)
}

func TestSortTasksParentFirstTerminatesOnCycle(t *testing.T) {
	p1, p2 := int64(1), int64(2)
	tasks := []*store.Task{
		{ID: 1, ParentID: &p2},
		{ID: 2, ParentID: &p1},
		{ID: 3},
	}
	sorted := sortTasksParentFirst(tasks)
	assert.Len(t, sorted, 3)
	assert.Equal(t, int64(3), sorted[0].ID)
}

func TestWriterLeavesNoTempFile(t *testing.T) {
	s := newStore(t)
	storeMemory(t, s, "notes", "a", "1")

	dir := t.TempDir()
	path := filepath.Join(dir, "deep", "nested", "snap.json")
	_, err := Create(s, "memory.db", path, CreateOptions{EntityType: EntityMemories})
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFiltersRecordedInEnvelope(t *testing.T) {
	s := newStore(t)
	storeMemory(t, s, "notes", "a", "1")

	path := archivePath(t)
	_, err := Create(s, "memory.db", path, CreateOptions{
		EntityType: EntityMemories,
		Category:   "notes",
		Limit:      50,
	})
	require.NoError(t, err)

	doc, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc, &raw))
	var filters map[string]any
	require.NoError(t, json.Unmarshal(raw["filters"], &filters))
	assert.Equal(t, map[string]any{"category": "notes"}, filters)
}
