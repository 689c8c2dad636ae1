package archive

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/kittclouds/recall/internal/store"
)

// RestoreResult reports per-kind restored and skipped counts.
type RestoreResult struct {
	Restored Counts
	Skipped  Counts
}

// Restore validates the snapshot at input and re-inserts its rows into
// the live store. Each row is inserted with insert-if-absent semantics:
// an id that already exists is counted as skipped, never overwritten.
// Re-running a restore is therefore safe. Any genuine row-level failure
// aborts the whole restore with the offending id in the error.
//
// Insertion order mirrors purge in reverse: memories, conversations,
// tasks, dependency edges, links. Referenced rows land before the rows
// that reference them.
func Restore(st Store, input string) (*RestoreResult, error) {
	env, err := readEnvelope(input)
	if err != nil {
		return nil, err
	}

	var result RestoreResult

	for _, m := range env.Data.Memories {
		ok, err := st.RestoreMemory(m)
		if err != nil {
			return nil, fmt.Errorf("restore memory %d: %w", m.ID, err)
		}
		count(ok, &result.Restored.Memories, &result.Skipped.Memories)
	}

	for _, c := range env.Data.Conversations {
		ok, err := st.RestoreConversation(c)
		if err != nil {
			return nil, fmt.Errorf("restore conversation %d: %w", c.ID, err)
		}
		count(ok, &result.Restored.Conversations, &result.Skipped.Conversations)
	}

	for _, t := range sortTasksParentFirst(env.Data.Tasks) {
		ok, err := st.RestoreTask(t)
		if err != nil {
			return nil, fmt.Errorf("restore task %d: %w", t.ID, err)
		}
		count(ok, &result.Restored.Tasks, &result.Skipped.Tasks)
	}

	for _, d := range env.Data.TaskDeps {
		ok, err := st.RestoreTaskDep(d.BlockerID, d.BlockedID)
		if err != nil {
			return nil, fmt.Errorf("restore task dep (%d, %d): %w", d.BlockerID, d.BlockedID, err)
		}
		count(ok, &result.Restored.TaskDeps, &result.Skipped.TaskDeps)
	}

	for _, l := range env.Data.Links {
		ok, err := st.RestoreLink(l)
		if err != nil {
			return nil, fmt.Errorf("restore link %d: %w", l.ID, err)
		}
		count(ok, &result.Restored.Links, &result.Skipped.Links)
	}

	slog.Info("archive restored",
		"path", input,
		"restored", result.Restored.Total(),
		"skipped", result.Skipped.Total(),
	)
	return &result, nil
}

// sortTasksParentFirst topologically orders tasks so a parent always
// lands before its children, regardless of id assignment order: each
// pass emits, in ascending id order, every task whose parent is absent
// from the set or already emitted. A parent_id cycle would stall the
// passes; the remainder is then emitted in id order rather than looping.
func sortTasksParentFirst(tasks []*store.Task) []*store.Task {
	inSet := make(map[int64]bool, len(tasks))
	for _, t := range tasks {
		inSet[t.ID] = true
	}

	pending := make([]*store.Task, len(tasks))
	copy(pending, tasks)
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	emitted := make(map[int64]bool, len(tasks))
	out := make([]*store.Task, 0, len(tasks))
	for len(pending) > 0 {
		progress := false
		rest := pending[:0]
		for _, t := range pending {
			if t.ParentID == nil || !inSet[*t.ParentID] || emitted[*t.ParentID] {
				out = append(out, t)
				emitted[t.ID] = true
				progress = true
			} else {
				rest = append(rest, t)
			}
		}
		pending = rest
		if !progress {
			out = append(out, pending...)
			break
		}
	}
	return out
}

func count(inserted bool, restored, skipped *int) {
	if inserted {
		*restored++
	} else {
		*skipped++
	}
}
