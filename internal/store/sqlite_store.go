// Package store provides SQLite-backed persistence for Recall.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore is the SQLite-backed data store.
// Thread-safe for concurrent callers, though archive operations assume
// they are the only writer for their duration.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines all tables for the unified data layer.
// Note: no foreign keys on edge tables - referential integrity is
// managed at the application level so that partial purge/restore never
// trips engine-enforced constraints.
const schema = `
-- Memories: free-form key/value records
CREATE TABLE IF NOT EXISTS memories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    category TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    tags TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(category, key)
);

-- Conversations: per-session exchange log
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    project TEXT,
    entry_type TEXT,
    raw_id INTEGER,
    model TEXT,
    input_tokens INTEGER,
    output_tokens INTEGER,
    cache_creation_tokens INTEGER,
    cache_read_tokens INTEGER,
    message_timestamp TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);
CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project);

-- Tasks: parent_id forms a tree (multiple roots, unbounded depth)
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL,
    subject TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT DEFAULT 'medium',
    task_type TEXT DEFAULT 'claude',
    parent_id INTEGER,
    due_date TEXT,
    created_by TEXT,
    assignee TEXT,
    owner TEXT,
    session_id TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);

-- Task dependencies: blocker must complete before blocked starts
CREATE TABLE IF NOT EXISTS task_deps (
    blocker_id INTEGER NOT NULL,
    blocked_id INTEGER NOT NULL,
    PRIMARY KEY (blocker_id, blocked_id)
);

-- Links: directed typed edges between any two addressable entities
CREATE TABLE IF NOT EXISTS links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_type TEXT NOT NULL,
    source_id INTEGER NOT NULL,
    target_type TEXT NOT NULL,
    target_id INTEGER NOT NULL,
    relation TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(source_type, source_id, target_type, target_id)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_type, source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_type, target_id);
`

// Open opens (creating if needed) a store at the given file path.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return openDSN(dsn)
}

// OpenInMemory creates a store backed by an in-memory database.
func OpenInMemory() (*SQLiteStore, error) {
	return openDSN(":memory:")
}

func openDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Memories
// =============================================================================

const memoryCols = "id, category, key, value, tags, created_at, updated_at"

// StoreMemory inserts or updates a memory by its (category, key) identity.
func (s *SQLiteStore) StoreMemory(category, key, value string, tags []string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tagsJSON any
	if tags != nil {
		b, err := json.Marshal(tags)
		if err != nil {
			return nil, fmt.Errorf("encode tags: %w", err)
		}
		tagsJSON = string(b)
	}

	_, err := s.db.Exec(`
		INSERT INTO memories (category, key, value, tags)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET
			value = excluded.value,
			tags = excluded.tags,
			updated_at = datetime('now')
	`, category, key, value, tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}

	row := s.db.QueryRow(`
		SELECT `+memoryCols+` FROM memories WHERE category = ? AND key = ?
	`, category, key)
	return scanMemory(row)
}

// ListMemories returns memories ordered by most recently updated.
// An empty category matches all categories.
func (s *SQLiteStore) ListMemories(category string, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("SELECT " + memoryCols + " FROM memories")
	var args []any
	if category != "" {
		sb.WriteString(" WHERE category = ?")
		args = append(args, category)
	}
	sb.WriteString(" ORDER BY updated_at DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// DeleteMemory removes a memory by identity. Returns false if absent.
func (s *SQLiteStore) DeleteMemory(category, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM memories WHERE category = ? AND key = ?`, category, key)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanMemory(row *sql.Row) (*Memory, error) {
	var m Memory
	var tags sql.NullString
	err := row.Scan(&m.ID, &m.Category, &m.Key, &m.Value, &tags, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	decodeTags(&m, tags)
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]*Memory, error) {
	var out []*Memory
	for rows.Next() {
		var m Memory
		var tags sql.NullString
		if err := rows.Scan(&m.ID, &m.Category, &m.Key, &m.Value, &tags, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		decodeTags(&m, tags)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func decodeTags(m *Memory, tags sql.NullString) {
	if tags.Valid && tags.String != "" {
		// Malformed tag JSON degrades to no tags rather than failing the read.
		_ = json.Unmarshal([]byte(tags.String), &m.Tags)
	}
}

// =============================================================================
// Conversations
// =============================================================================

const conversationCols = `id, session_id, role, content, project, entry_type, raw_id,
	model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
	message_timestamp, created_at`

// LogConversation appends one conversation row for a session.
func (s *SQLiteStore) LogConversation(sessionID, role, content string, project, entryType *string, rawID *int64) (*ConversationEntry, error) {
	if entryType != nil {
		if _, err := ParseEntryType(*entryType); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO conversations (session_id, role, content, project, entry_type, raw_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, role, content, project, entryType, rawID)
	if err != nil {
		return nil, fmt.Errorf("log conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.getConversation(id)
}

func (s *SQLiteStore) getConversation(id int64) (*ConversationEntry, error) {
	row := s.db.QueryRow(`SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id)
	var c ConversationEntry
	err := row.Scan(&c.ID, &c.SessionID, &c.Role, &c.Content, &c.Project, &c.EntryType,
		&c.RawID, &c.Model, &c.InputTokens, &c.OutputTokens, &c.CacheCreationTokens,
		&c.CacheReadTokens, &c.MessageTimestamp, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return &c, nil
}

// ListConversations returns recent conversation rows, optionally filtered
// by session and entry type.
func (s *SQLiteStore) ListConversations(sessionID, entryType string, limit int) ([]*ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("SELECT " + conversationCols + " FROM conversations")
	var args []any
	var conds []string
	if sessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, sessionID)
	}
	if entryType != "" {
		conds = append(conds, "entry_type = ?")
		args = append(args, entryType)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	// id breaks same-second created_at ties.
	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// ConversationContext returns a session's summary entries oldest-first,
// ready to seed a new session.
func (s *SQLiteStore) ConversationContext(sessionID string, limit int) ([]*ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+conversationCols+` FROM conversations
		WHERE session_id = ? AND entry_type = 'summary'
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation context: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// PruneConversations deletes rows older than the given number of days,
// optionally restricted to one entry type. Returns the number removed.
func (s *SQLiteStore) PruneConversations(olderThanDays int64, entryType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := fmt.Sprintf("-%d days", olderThanDays)
	var res sql.Result
	var err error
	if entryType != "" {
		res, err = s.db.Exec(`DELETE FROM conversations WHERE created_at < datetime('now', ?) AND entry_type = ?`, cutoff, entryType)
	} else {
		res, err = s.db.Exec(`DELETE FROM conversations WHERE created_at < datetime('now', ?)`, cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	return res.RowsAffected()
}

// StoreTranscriptBatch inserts captured transcript messages as
// pre_compact conversation rows in a single transaction.
func (s *SQLiteStore) StoreTranscriptBatch(msgs []TranscriptMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transcript batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO conversations (session_id, role, content, project, entry_type,
			model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens,
			message_timestamp)
		VALUES (?, ?, ?, ?, 'pre_compact', ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare transcript insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, m := range msgs {
		if _, err := stmt.Exec(m.SessionID, m.Role, m.Content, m.Project,
			m.Model, m.InputTokens, m.OutputTokens, m.CacheCreationTokens,
			m.CacheReadTokens, m.MessageTimestamp); err != nil {
			return 0, fmt.Errorf("insert transcript message: %w", err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transcript batch: %w", err)
	}
	return count, nil
}

func collectConversations(rows *sql.Rows) ([]*ConversationEntry, error) {
	var out []*ConversationEntry
	for rows.Next() {
		var c ConversationEntry
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.Content, &c.Project,
			&c.EntryType, &c.RawID, &c.Model, &c.InputTokens, &c.OutputTokens,
			&c.CacheCreationTokens, &c.CacheReadTokens, &c.MessageTimestamp, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// =============================================================================
// Tasks
// =============================================================================

const taskCols = `id, project, subject, description, status, priority, task_type,
	parent_id, due_date, created_by, assignee, owner, session_id, created_at, updated_at`

// CreateTask inserts a task and fills in store-assigned fields.
// Status defaults to pending, priority to medium, type to claude.
func (s *SQLiteStore) CreateTask(t *Task) error {
	if t.Priority != nil {
		if _, err := ParseTaskPriority(*t.Priority); err != nil {
			return err
		}
	}
	if t.TaskType != nil {
		if _, err := ParseTaskType(*t.TaskType); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO tasks (project, subject, description, priority, task_type,
			parent_id, due_date, created_by, assignee, owner, session_id)
		VALUES (?, ?, ?, COALESCE(?, 'medium'), COALESCE(?, 'claude'), ?, ?, ?, ?, ?, ?)
	`, t.Project, t.Subject, t.Description, t.Priority, t.TaskType,
		t.ParentID, t.DueDate, t.CreatedBy, t.Assignee, t.Owner, t.SessionID)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	created, err := s.getTask(id)
	if err != nil {
		return err
	}
	*t = *created
	return nil
}

// GetTask retrieves a task by id.
func (s *SQLiteStore) GetTask(id int64) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTask(id)
}

func (s *SQLiteStore) getTask(id int64) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	var t Task
	err := row.Scan(&t.ID, &t.Project, &t.Subject, &t.Description, &t.Status,
		&t.Priority, &t.TaskType, &t.ParentID, &t.DueDate, &t.CreatedBy,
		&t.Assignee, &t.Owner, &t.SessionID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &t, nil
}

// taskUpdateCols lists the columns UpdateTask may touch.
var taskUpdateCols = []string{
	"subject", "description", "status", "priority", "task_type",
	"assignee", "owner", "due_date", "session_id",
}

// UpdateTask applies a partial update. Map keys outside the allowed
// column set are ignored; a nil value clears the column.
func (s *SQLiteStore) UpdateTask(id int64, updates map[string]any) (*Task, error) {
	if v, ok := updates["status"].(string); ok {
		if _, err := ParseTaskStatus(v); err != nil {
			return nil, err
		}
	}
	if v, ok := updates["priority"].(string); ok {
		if _, err := ParseTaskPriority(v); err != nil {
			return nil, err
		}
	}
	if v, ok := updates["task_type"].(string); ok {
		if _, err := ParseTaskType(v); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sets []string
	var args []any
	for _, col := range taskUpdateCols {
		v, ok := updates[col]
		if !ok {
			continue
		}
		if v == nil {
			sets = append(sets, col+" = NULL")
		} else if str, ok := v.(string); ok {
			sets = append(sets, col+" = ?")
			args = append(args, str)
		}
	}
	if len(sets) == 0 {
		return s.getTask(id)
	}
	sets = append(sets, "updated_at = datetime('now')")
	args = append(args, id)

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := s.db.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	return s.getTask(id)
}

// ListTasks returns tasks matching the filter, most recently updated
// first. Soft-deleted tasks are excluded unless a status filter is given.
func (s *SQLiteStore) ListTasks(f TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conds []string
	var args []any
	for _, fc := range []struct {
		col string
		val string
	}{
		{"project", f.Project},
		{"status", f.Status},
		{"assignee", f.Assignee},
		{"task_type", f.TaskType},
		{"priority", f.Priority},
	} {
		if fc.val != "" {
			conds = append(conds, fc.col+" = ?")
			args = append(args, fc.val)
		}
	}
	if f.Status == "" {
		conds = append(conds, "status != 'deleted'")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + taskCols + " FROM tasks")
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY updated_at DESC LIMIT ?")
	args = append(args, f.Limit)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Project, &t.Subject, &t.Description, &t.Status,
			&t.Priority, &t.TaskType, &t.ParentID, &t.DueDate, &t.CreatedBy,
			&t.Assignee, &t.Owner, &t.SessionID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// =============================================================================
// Task dependencies
// =============================================================================

// AddTaskDep records that blocker must complete before blocked starts.
// Adding an existing edge is a no-op.
func (s *SQLiteStore) AddTaskDep(blockerID, blockedID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO task_deps (blocker_id, blocked_id) VALUES (?, ?)
	`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("add task dep (%d, %d): %w", blockerID, blockedID, err)
	}
	return nil
}

// RemoveTaskDep deletes a dependency edge. Returns false if absent.
func (s *SQLiteStore) RemoveTaskDep(blockerID, blockedID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM task_deps WHERE blocker_id = ? AND blocked_id = ?
	`, blockerID, blockedID)
	if err != nil {
		return false, fmt.Errorf("remove task dep (%d, %d): %w", blockerID, blockedID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TaskDeps returns the tasks blocking the given task and the tasks it
// blocks.
func (s *SQLiteStore) TaskDeps(taskID int64) (blockers, blocked []*Task, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+prefixCols(taskCols, "t.")+`
		FROM task_deps d JOIN tasks t ON t.id = d.blocker_id
		WHERE d.blocked_id = ?
	`, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("query blockers for %d: %w", taskID, err)
	}
	blockers, err = collectTasks(rows)
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	rows, err = s.db.Query(`
		SELECT `+prefixCols(taskCols, "t.")+`
		FROM task_deps d JOIN tasks t ON t.id = d.blocked_id
		WHERE d.blocker_id = ?
	`, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("query blocked for %d: %w", taskID, err)
	}
	blocked, err = collectTasks(rows)
	rows.Close()
	if err != nil {
		return nil, nil, err
	}
	return blockers, blocked, nil
}

// prefixCols qualifies each column in a comma-separated list.
func prefixCols(cols, prefix string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// Links
// =============================================================================

const linkCols = "id, source_type, source_id, target_type, target_id, relation, created_at"

// CreateLink inserts a typed edge between two entities. Re-linking the
// same endpoints refreshes the relation label instead of duplicating.
func (s *SQLiteStore) CreateLink(sourceType string, sourceID int64, targetType string, targetID int64, relation *string) (*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO links (source_type, source_id, target_type, target_id, relation)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_type, source_id, target_type, target_id) DO UPDATE SET
			relation = excluded.relation
	`, sourceType, sourceID, targetType, targetID, relation)
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	row := s.db.QueryRow(`
		SELECT `+linkCols+` FROM links
		WHERE source_type = ? AND source_id = ? AND target_type = ? AND target_id = ?
	`, sourceType, sourceID, targetType, targetID)
	var l Link
	if err := row.Scan(&l.ID, &l.SourceType, &l.SourceID, &l.TargetType, &l.TargetID, &l.Relation, &l.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	return &l, nil
}

// LinksFor returns all links touching the given entity, newest first.
func (s *SQLiteStore) LinksFor(entityType string, entityID int64) ([]*Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+linkCols+` FROM links
		WHERE (source_type = ? AND source_id = ?)
		   OR (target_type = ? AND target_id = ?)
		ORDER BY created_at DESC
	`, entityType, entityID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("links for %s %d: %w", entityType, entityID, err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

// LinkedEntities returns links touching the entity in either direction,
// optionally restricted to a counterpart entity type.
func (s *SQLiteStore) LinkedEntities(entityType string, entityID int64, targetType string) ([]*Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	var args []any
	sb.WriteString("SELECT " + linkCols + " FROM links WHERE (source_type = ? AND source_id = ?")
	args = append(args, entityType, entityID)
	if targetType != "" {
		sb.WriteString(" AND target_type = ?")
		args = append(args, targetType)
	}
	sb.WriteString(") UNION SELECT " + linkCols + " FROM links WHERE (target_type = ? AND target_id = ?")
	args = append(args, entityType, entityID)
	if targetType != "" {
		sb.WriteString(" AND source_type = ?")
		args = append(args, targetType)
	}
	sb.WriteString(") ORDER BY created_at DESC")

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("linked entities for %s %d: %w", entityType, entityID, err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

// DeleteLink removes a link by id. Returns false if absent.
func (s *SQLiteStore) DeleteLink(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM links WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete link %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func collectLinks(rows *sql.Rows) ([]*Link, error) {
	var out []*Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.SourceType, &l.SourceID, &l.TargetType, &l.TargetID, &l.Relation, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// =============================================================================
// Stats
// =============================================================================

// TableCounts reports per-table row counts in a stable order.
func (s *SQLiteStore) TableCounts() ([]TableCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := []string{"memories", "conversations", "tasks", "task_deps", "links"}
	counts := make([]TableCount, 0, len(tables))
	for _, table := range tables {
		var n int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts = append(counts, TableCount{Table: table, Count: n})
	}
	return counts, nil
}
