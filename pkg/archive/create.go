package archive

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// CreateOptions controls archive creation. The zero value of each
// filter disables it; Purge defaults to keeping the source rows.
type CreateOptions struct {
	// EntityType selects the root kinds: "memories", "conversations",
	// "tasks" or "all".
	EntityType string

	// OlderThanDays keeps only rows whose age exceeds the threshold.
	OlderThanDays int64

	// Project filters conversations and tasks.
	Project string

	// Category filters memories.
	Category string

	// Limit caps the number of root rows per kind.
	Limit int

	// Purge deletes the archived rows from the live store after the
	// snapshot is durably written.
	Purge bool

	// Force allows overwriting an existing destination file.
	Force bool
}

// CreateResult reports what an archive creation did.
type CreateResult struct {
	Path   string
	Bytes  int64
	Counts Counts
	Purged bool
}

// PurgeError reports that the snapshot was written and remains valid,
// but deleting the archived rows from the live store failed partway.
// Re-running the purge against the same snapshot is safe.
type PurgeError struct {
	Path string
	Err  error
}

func (e *PurgeError) Error() string {
	return fmt.Sprintf("archive %s written but purge incomplete: %v", e.Path, e.Err)
}

func (e *PurgeError) Unwrap() error { return e.Err }

// Create collects the entities selected by opts, writes them to a
// snapshot at output, and optionally purges them from the live store.
// On a purge failure the returned result is still valid (the file
// exists) and the error is a *PurgeError.
func Create(st Store, sourceDB, output string, opts CreateOptions) (*CreateResult, error) {
	switch opts.EntityType {
	case EntityMemories, EntityConversations, EntityTasks, EntityAll:
	default:
		return nil, fmt.Errorf("unknown entity type %q: must be one of: memories, conversations, tasks, all", opts.EntityType)
	}

	if _, err := os.Stat(output); err == nil && !opts.Force {
		return nil, fmt.Errorf("%w: %s (use force to overwrite)", ErrDestinationExists, output)
	}

	data, entityTypes, err := collect(st, opts)
	if err != nil {
		return nil, err
	}

	// Cascaded links and deps never justify an archive on their own;
	// only root rows do.
	if len(data.Memories)+len(data.Conversations)+len(data.Tasks) == 0 {
		return nil, ErrNothingToArchive
	}

	env := &Envelope{
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		SourceDB:      sourceDB,
		EntityTypes:   entityTypes,
		Filters:       buildFilters(opts),
		Counts: Counts{
			Memories:      len(data.Memories),
			Conversations: len(data.Conversations),
			Tasks:         len(data.Tasks),
			TaskDeps:      len(data.TaskDeps),
			Links:         len(data.Links),
		},
		Data: data,
	}

	size, err := writeEnvelope(env, output)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{
		Path:   output,
		Bytes:  size,
		Counts: env.Counts,
	}

	if opts.Purge {
		if err := purge(st, &env.Data); err != nil {
			slog.Warn("archive purge incomplete", "path", output, "error", err)
			return result, &PurgeError{Path: output, Err: err}
		}
		result.Purged = true
	}

	slog.Info("archive created",
		"path", output,
		"bytes", size,
		"memories", env.Counts.Memories,
		"conversations", env.Counts.Conversations,
		"tasks", env.Counts.Tasks,
		"task_deps", env.Counts.TaskDeps,
		"links", env.Counts.Links,
		"purged", result.Purged,
	)
	return result, nil
}

// purge deletes the archived rows from the live store, acting only on
// the id lists captured in the written envelope. Deletion order is
// mandatory: links first (they reference everything and nothing
// references them), then dependency edges, then tasks, conversations
// and memories.
func purge(st Store, data *Data) error {
	if len(data.Links) > 0 {
		ids := make([]int64, len(data.Links))
		for i, l := range data.Links {
			ids[i] = l.ID
		}
		if _, err := st.DeleteLinksByIDs(ids); err != nil {
			return fmt.Errorf("delete archived links: %w", err)
		}
	}

	if len(data.Tasks) > 0 {
		ids := make([]int64, len(data.Tasks))
		for i, t := range data.Tasks {
			ids[i] = t.ID
		}
		if _, err := st.DeleteTaskDepsForTaskIDs(ids); err != nil {
			return fmt.Errorf("delete archived task deps: %w", err)
		}
		if _, err := st.DeleteTasksByIDs(ids); err != nil {
			return fmt.Errorf("delete archived tasks: %w", err)
		}
	}

	if len(data.Conversations) > 0 {
		ids := make([]int64, len(data.Conversations))
		for i, c := range data.Conversations {
			ids[i] = c.ID
		}
		if _, err := st.DeleteConversationsByIDs(ids); err != nil {
			return fmt.Errorf("delete archived conversations: %w", err)
		}
	}

	if len(data.Memories) > 0 {
		ids := make([]int64, len(data.Memories))
		for i, m := range data.Memories {
			ids[i] = m.ID
		}
		if _, err := st.DeleteMemoriesByIDs(ids); err != nil {
			return fmt.Errorf("delete archived memories: %w", err)
		}
	}

	return nil
}

func buildFilters(opts CreateOptions) Filters {
	var f Filters
	if opts.OlderThanDays > 0 {
		days := opts.OlderThanDays
		f.OlderThanDays = &days
	}
	if opts.Project != "" {
		project := opts.Project
		f.Project = &project
	}
	if opts.Category != "" {
		category := opts.Category
		f.Category = &category
	}
	return f
}
