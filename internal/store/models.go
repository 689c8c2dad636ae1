// Package store provides SQLite-backed persistence for Recall.
// This is the unified data layer for memories, conversation history,
// tasks and cross-entity links.
package store

import (
	"encoding/json"
	"fmt"
)

// Entity kind names used by links and by archive selectors.
const (
	KindMemory       = "memory"
	KindConversation = "conversation"
	KindTask         = "task"
)

// TaskStatus enumerates the task lifecycle states.
// "deleted" is a soft-delete marker, not a removal.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusBlocked    TaskStatus = "blocked"
	StatusDeleted    TaskStatus = "deleted"
)

// ParseTaskStatus validates a status string.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked, StatusDeleted:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("invalid status %q: must be one of: pending, in_progress, completed, blocked, deleted", s)
}

// TaskPriority enumerates task priorities.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// ParseTaskPriority validates a priority string.
func ParseTaskPriority(s string) (TaskPriority, error) {
	switch TaskPriority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return TaskPriority(s), nil
	}
	return "", fmt.Errorf("invalid priority %q: must be one of: low, medium, high", s)
}

// TaskType enumerates who a task is intended for.
type TaskType string

const (
	TypeClaude TaskType = "claude"
	TypeHuman  TaskType = "human"
	TypeHybrid TaskType = "hybrid"
)

// ParseTaskType validates a task type string.
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TypeClaude, TypeHuman, TypeHybrid:
		return TaskType(s), nil
	}
	return "", fmt.Errorf("invalid task_type %q: must be one of: claude, human, hybrid", s)
}

// EntryType categorizes conversation rows.
type EntryType string

const (
	EntrySummary      EntryType = "summary"
	EntryRawUser      EntryType = "raw_user"
	EntryRawAssistant EntryType = "raw_assistant"
	EntryPreCompact   EntryType = "pre_compact"
)

// ParseEntryType validates an entry type string.
func ParseEntryType(s string) (EntryType, error) {
	switch EntryType(s) {
	case EntrySummary, EntryRawUser, EntryRawAssistant, EntryPreCompact:
		return EntryType(s), nil
	}
	return "", fmt.Errorf("invalid entry_type %q: must be one of: summary, raw_user, raw_assistant, pre_compact", s)
}

// Memory is a free-form key/value record, unique per (category, key).
// Leaf entity: it references nothing else.
type Memory struct {
	ID        int64    `json:"id"`
	Category  string   `json:"category"`
	Key       string   `json:"key"`
	Value     string   `json:"value"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// ConversationEntry is a single logged exchange in a session.
type ConversationEntry struct {
	ID                  int64   `json:"id"`
	SessionID           string  `json:"session_id"`
	Role                string  `json:"role"`
	Content             string  `json:"content"`
	Project             *string `json:"project,omitempty"`
	EntryType           *string `json:"entry_type,omitempty"`
	RawID               *int64  `json:"raw_id,omitempty"`
	Model               *string `json:"model,omitempty"`
	InputTokens         *int64  `json:"input_tokens,omitempty"`
	OutputTokens        *int64  `json:"output_tokens,omitempty"`
	CacheCreationTokens *int64  `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     *int64  `json:"cache_read_tokens,omitempty"`
	MessageTimestamp    *string `json:"message_timestamp,omitempty"`
	CreatedAt           string  `json:"created_at"`
}

// Task is a unit of work. ParentID, when set, forms a tree with
// multiple roots and unbounded depth.
type Task struct {
	ID          int64   `json:"id"`
	Project     string  `json:"project"`
	Subject     string  `json:"subject"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status"`
	Priority    *string `json:"priority,omitempty"`
	TaskType    *string `json:"task_type,omitempty"`
	ParentID    *int64  `json:"parent_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	CreatedBy   *string `json:"created_by,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	Owner       *string `json:"owner,omitempty"`
	SessionID   *string `json:"session_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// TaskDep is a directed edge: the blocker must complete before the
// blocked task may start. Serialized on the wire as a [blocker, blocked]
// pair.
type TaskDep struct {
	BlockerID int64
	BlockedID int64
}

// MarshalJSON encodes the dependency as a two-element array.
func (d TaskDep) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{d.BlockerID, d.BlockedID})
}

// UnmarshalJSON decodes a [blocker, blocked] pair.
func (d *TaskDep) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("task dep pair: %w", err)
	}
	d.BlockerID = pair[0]
	d.BlockedID = pair[1]
	return nil
}

// Link is a directed, typed edge between any two addressable entities.
// Endpoints are not existence-checked; dangling links are tolerated.
type Link struct {
	ID         int64   `json:"id"`
	SourceType string  `json:"source_type"`
	SourceID   int64   `json:"source_id"`
	TargetType string  `json:"target_type"`
	TargetID   int64   `json:"target_id"`
	Relation   *string `json:"relation,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// TranscriptMessage is one captured transcript message queued for
// batch insertion as a pre_compact conversation row.
type TranscriptMessage struct {
	SessionID           string
	Role                string
	Content             string
	Project             string
	Model               *string
	InputTokens         *int64
	OutputTokens        *int64
	CacheCreationTokens *int64
	CacheReadTokens     *int64
	MessageTimestamp    *string
}

// TaskFilter narrows ListTasks. Zero values mean "no filter".
type TaskFilter struct {
	Project  string
	Status   string
	Assignee string
	TaskType string
	Priority string
	Limit    int
}

// TableCount pairs a table name with its row count.
type TableCount struct {
	Table string `json:"table"`
	Count int64  `json:"count"`
}
