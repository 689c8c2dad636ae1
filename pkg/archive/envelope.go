// Package archive implements cold-storage extraction and re-ingestion
// of the entity graph: cascade collection, versioned snapshot envelopes
// with crash-atomic writes, dependency-ordered purge, and idempotent
// restore.
package archive

import (
	"errors"

	"github.com/kittclouds/recall/internal/store"
)

// SchemaVersion tags every envelope this package writes. Restore
// requires an exact match.
const SchemaVersion = "1.0"

// Entity type selectors accepted by Create.
const (
	EntityMemories      = "memories"
	EntityConversations = "conversations"
	EntityTasks         = "tasks"
	EntityAll           = "all"
)

var (
	// ErrNothingToArchive means the root filters matched no rows; no
	// file was written and nothing was deleted.
	ErrNothingToArchive = errors.New("no entities match the given filters")

	// ErrDestinationExists means the output path exists and Force was
	// not set.
	ErrDestinationExists = errors.New("output file already exists")

	// ErrSchemaVersion means a snapshot's schema_version did not match
	// the version this engine understands.
	ErrSchemaVersion = errors.New("incompatible archive schema version")
)

// Envelope is the versioned, self-describing snapshot container.
type Envelope struct {
	SchemaVersion string   `json:"schema_version"`
	CreatedAt     string   `json:"created_at"`
	SourceDB      string   `json:"source_db"`
	EntityTypes   []string `json:"entity_types"`
	Filters       Filters  `json:"filters"`
	Counts        Counts   `json:"counts"`
	Data          Data     `json:"data"`
}

// Filters records which root filters were applied at collection time.
type Filters struct {
	OlderThanDays *int64  `json:"older_than_days,omitempty"`
	Project       *string `json:"project,omitempty"`
	Category      *string `json:"category,omitempty"`
}

// Counts holds per-kind totals. Zero-valued kinds are omitted on the
// wire.
type Counts struct {
	Memories      int `json:"memories,omitempty"`
	Conversations int `json:"conversations,omitempty"`
	Tasks         int `json:"tasks,omitempty"`
	TaskDeps      int `json:"task_deps,omitempty"`
	Links         int `json:"links,omitempty"`
}

// Total sums all kinds.
func (c Counts) Total() int {
	return c.Memories + c.Conversations + c.Tasks + c.TaskDeps + c.Links
}

// Data carries the entity payload. Empty lists are omitted entirely.
type Data struct {
	Memories      []*store.Memory            `json:"memories,omitempty"`
	Conversations []*store.ConversationEntry `json:"conversations,omitempty"`
	Tasks         []*store.Task              `json:"tasks,omitempty"`
	TaskDeps      []store.TaskDep            `json:"task_deps,omitempty"`
	Links         []*store.Link              `json:"links,omitempty"`
}

// Store is the collaborator interface the archive subsystem consumes:
// filtered scans, tree-children queries, edge/link lookups by id set,
// delete-by-id-list, and idempotent insert-if-absent restores.
// *store.SQLiteStore satisfies it.
type Store interface {
	MemoriesForArchive(category string, olderThanDays int64, limit int) ([]*store.Memory, error)
	ConversationsForArchive(project string, olderThanDays int64, limit int) ([]*store.ConversationEntry, error)
	TasksForArchive(project string, olderThanDays int64, limit int) ([]*store.Task, error)
	GetTask(id int64) (*store.Task, error)
	ChildTaskIDs(parentIDs []int64) ([]int64, error)
	TaskDepsForTaskIDs(taskIDs []int64) ([]store.TaskDep, error)
	LinksForEntityIDs(entityType string, entityIDs []int64) ([]*store.Link, error)

	DeleteMemoriesByIDs(ids []int64) (int64, error)
	DeleteConversationsByIDs(ids []int64) (int64, error)
	DeleteTasksByIDs(ids []int64) (int64, error)
	DeleteLinksByIDs(ids []int64) (int64, error)
	DeleteTaskDepsForTaskIDs(taskIDs []int64) (int64, error)

	RestoreMemory(m *store.Memory) (bool, error)
	RestoreConversation(c *store.ConversationEntry) (bool, error)
	RestoreTask(t *store.Task) (bool, error)
	RestoreTaskDep(blockerID, blockedID int64) (bool, error)
	RestoreLink(l *store.Link) (bool, error)
}
