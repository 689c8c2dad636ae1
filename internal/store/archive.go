package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// This file holds the primitives the archive subsystem is built on:
// filtered scans per entity kind, one-level tree-children queries,
// edge/link lookups by id set, delete-by-id-list, and idempotent
// insert-if-absent restores that preserve original ids.

// MemoriesForArchive returns memories matching the archive filters,
// ordered by id. Zero values disable a filter.
func (s *SQLiteStore) MemoriesForArchive(category string, olderThanDays int64, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("SELECT " + memoryCols + " FROM memories")
	var conds []string
	var args []any
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if olderThanDays > 0 {
		conds = append(conds, "updated_at < datetime('now', ?)")
		args = append(args, fmt.Sprintf("-%d days", olderThanDays))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY id ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query memories for archive: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ConversationsForArchive returns conversation rows matching the archive
// filters, ordered by id. Age is measured on created_at.
func (s *SQLiteStore) ConversationsForArchive(project string, olderThanDays int64, limit int) ([]*ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("SELECT " + conversationCols + " FROM conversations")
	var conds []string
	var args []any
	if project != "" {
		conds = append(conds, "project = ?")
		args = append(args, project)
	}
	if olderThanDays > 0 {
		conds = append(conds, "created_at < datetime('now', ?)")
		args = append(args, fmt.Sprintf("-%d days", olderThanDays))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY id ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations for archive: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// TasksForArchive returns tasks matching the archive filters, ordered
// by id. Age is measured on updated_at.
func (s *SQLiteStore) TasksForArchive(project string, olderThanDays int64, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("SELECT " + taskCols + " FROM tasks")
	var conds []string
	var args []any
	if project != "" {
		conds = append(conds, "project = ?")
		args = append(args, project)
	}
	if olderThanDays > 0 {
		conds = append(conds, "updated_at < datetime('now', ?)")
		args = append(args, fmt.Sprintf("-%d days", olderThanDays))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY id ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks for archive: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ChildTaskIDs returns the ids of tasks whose parent_id is in parentIDs.
// One tree level per call; the caller drives the closure.
func (s *SQLiteStore) ChildTaskIDs(parentIDs []int64) ([]int64, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id FROM tasks WHERE parent_id IN (" + placeholders(len(parentIDs)) + ")"
	rows, err := s.db.Query(query, int64Args(parentIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query child tasks: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TaskDepsForTaskIDs returns all dependency edges where either endpoint
// is in the given id set.
func (s *SQLiteStore) TaskDepsForTaskIDs(taskIDs []int64) ([]TaskDep, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ph := placeholders(len(taskIDs))
	query := "SELECT blocker_id, blocked_id FROM task_deps WHERE blocker_id IN (" + ph + ") OR blocked_id IN (" + ph + ")"
	args := append(int64Args(taskIDs), int64Args(taskIDs)...)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task deps: %w", err)
	}
	defer rows.Close()

	var deps []TaskDep
	for rows.Next() {
		var d TaskDep
		if err := rows.Scan(&d.BlockerID, &d.BlockedID); err != nil {
			return nil, fmt.Errorf("scan task dep: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// LinksForEntityIDs returns all links whose source or target matches the
// given entity kind and any of the given ids.
func (s *SQLiteStore) LinksForEntityIDs(entityType string, entityIDs []int64) ([]*Link, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ph := placeholders(len(entityIDs))
	query := "SELECT " + linkCols + " FROM links" +
		" WHERE (source_type = ? AND source_id IN (" + ph + "))" +
		" OR (target_type = ? AND target_id IN (" + ph + "))"
	args := make([]any, 0, 2*len(entityIDs)+2)
	args = append(args, entityType)
	args = append(args, int64Args(entityIDs)...)
	args = append(args, entityType)
	args = append(args, int64Args(entityIDs)...)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links for %s ids: %w", entityType, err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

// =============================================================================
// Deletes by captured id lists (purge)
// =============================================================================

// DeleteMemoriesByIDs removes memories by id list.
func (s *SQLiteStore) DeleteMemoriesByIDs(ids []int64) (int64, error) {
	return s.deleteByIDs("memories", ids)
}

// DeleteConversationsByIDs removes conversation rows by id list.
func (s *SQLiteStore) DeleteConversationsByIDs(ids []int64) (int64, error) {
	return s.deleteByIDs("conversations", ids)
}

// DeleteTasksByIDs removes tasks by id list.
func (s *SQLiteStore) DeleteTasksByIDs(ids []int64) (int64, error) {
	return s.deleteByIDs("tasks", ids)
}

// DeleteLinksByIDs removes links by id list.
func (s *SQLiteStore) DeleteLinksByIDs(ids []int64) (int64, error) {
	return s.deleteByIDs("links", ids)
}

// DeleteTaskDepsForTaskIDs removes dependency edges where either
// endpoint is in the given task id set.
func (s *SQLiteStore) DeleteTaskDepsForTaskIDs(taskIDs []int64) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ph := placeholders(len(taskIDs))
	query := "DELETE FROM task_deps WHERE blocker_id IN (" + ph + ") OR blocked_id IN (" + ph + ")"
	args := append(int64Args(taskIDs), int64Args(taskIDs)...)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete task deps: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) deleteByIDs(table string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := "DELETE FROM " + table + " WHERE id IN (" + placeholders(len(ids)) + ")"
	res, err := s.db.Exec(query, int64Args(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// =============================================================================
// Idempotent restores (insert-if-absent, preserving original ids)
// =============================================================================
// Insert errors are returned as-is; the restore engine wraps them with
// the entity kind and id.

// RestoreMemory re-inserts an archived memory with its original id.
// Returns false when a row with that id already exists.
func (s *SQLiteStore) RestoreMemory(m *Memory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tagsJSON any
	if m.Tags != nil {
		b, err := json.Marshal(m.Tags)
		if err != nil {
			return false, fmt.Errorf("encode tags: %w", err)
		}
		tagsJSON = string(b)
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO memories (id, category, key, value, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Category, m.Key, m.Value, tagsJSON, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return false, err
	}
	return inserted(res)
}

// RestoreConversation re-inserts an archived conversation row.
func (s *SQLiteStore) RestoreConversation(c *ConversationEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, session_id, role, content, project,
			entry_type, raw_id, model, input_tokens, output_tokens,
			cache_creation_tokens, cache_read_tokens, message_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.SessionID, c.Role, c.Content, c.Project, c.EntryType, c.RawID,
		c.Model, c.InputTokens, c.OutputTokens, c.CacheCreationTokens,
		c.CacheReadTokens, c.MessageTimestamp, c.CreatedAt)
	if err != nil {
		return false, err
	}
	return inserted(res)
}

// RestoreTask re-inserts an archived task with its original id.
func (s *SQLiteStore) RestoreTask(t *Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO tasks (id, project, subject, description, status,
			priority, task_type, parent_id, due_date, created_by, assignee,
			owner, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Project, t.Subject, t.Description, t.Status, t.Priority,
		t.TaskType, t.ParentID, t.DueDate, t.CreatedBy, t.Assignee, t.Owner,
		t.SessionID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return false, err
	}
	return inserted(res)
}

// RestoreTaskDep re-inserts a dependency edge.
func (s *SQLiteStore) RestoreTaskDep(blockerID, blockedID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO task_deps (blocker_id, blocked_id) VALUES (?, ?)
	`, blockerID, blockedID)
	if err != nil {
		return false, err
	}
	return inserted(res)
}

// RestoreLink re-inserts an archived link with its original id.
func (s *SQLiteStore) RestoreLink(l *Link) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO links (id, source_type, source_id, target_type, target_id, relation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.SourceType, l.SourceID, l.TargetType, l.TargetID, l.Relation, l.CreatedAt)
	if err != nil {
		return false, err
	}
	return inserted(res)
}

func inserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
