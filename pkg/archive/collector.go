package archive

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/kittclouds/recall/internal/store"
)

// collect expands the root filters into the closed set of rows to
// archive: root rows per selected kind, the full descendant closure of
// selected tasks, dependency edges touching any collected task, and
// links touching any collected entity, deduplicated by link id.
func collect(st Store, opts CreateOptions) (Data, []string, error) {
	var data Data
	var entityTypes []string

	wantMemories := opts.EntityType == EntityMemories || opts.EntityType == EntityAll
	wantConversations := opts.EntityType == EntityConversations || opts.EntityType == EntityAll
	wantTasks := opts.EntityType == EntityTasks || opts.EntityType == EntityAll

	if wantMemories {
		memories, err := st.MemoriesForArchive(opts.Category, opts.OlderThanDays, opts.Limit)
		if err != nil {
			return Data{}, nil, fmt.Errorf("query memories: %w", err)
		}
		data.Memories = memories
		if len(memories) > 0 {
			entityTypes = append(entityTypes, EntityMemories)
			ids := make([]int64, len(memories))
			for i, m := range memories {
				ids[i] = m.ID
			}
			links, err := st.LinksForEntityIDs(store.KindMemory, ids)
			if err != nil {
				return Data{}, nil, fmt.Errorf("query links for memories: %w", err)
			}
			data.Links = append(data.Links, links...)
		}
	}

	if wantConversations {
		conversations, err := st.ConversationsForArchive(opts.Project, opts.OlderThanDays, opts.Limit)
		if err != nil {
			return Data{}, nil, fmt.Errorf("query conversations: %w", err)
		}
		data.Conversations = conversations
		if len(conversations) > 0 {
			entityTypes = append(entityTypes, EntityConversations)
			ids := make([]int64, len(conversations))
			for i, c := range conversations {
				ids[i] = c.ID
			}
			links, err := st.LinksForEntityIDs(store.KindConversation, ids)
			if err != nil {
				return Data{}, nil, fmt.Errorf("query links for conversations: %w", err)
			}
			data.Links = append(data.Links, links...)
		}
	}

	if wantTasks {
		tasks, err := st.TasksForArchive(opts.Project, opts.OlderThanDays, opts.Limit)
		if err != nil {
			return Data{}, nil, fmt.Errorf("query tasks: %w", err)
		}
		if len(tasks) > 0 {
			entityTypes = append(entityTypes, EntityTasks)

			tasks, err = appendDescendants(st, tasks)
			if err != nil {
				return Data{}, nil, err
			}

			taskIDs := make([]int64, len(tasks))
			for i, t := range tasks {
				taskIDs[i] = t.ID
			}

			deps, err := st.TaskDepsForTaskIDs(taskIDs)
			if err != nil {
				return Data{}, nil, fmt.Errorf("query task deps: %w", err)
			}
			data.TaskDeps = deps

			links, err := st.LinksForEntityIDs(store.KindTask, taskIDs)
			if err != nil {
				return Data{}, nil, fmt.Errorf("query links for tasks: %w", err)
			}
			data.Links = append(data.Links, links...)
			data.Tasks = tasks
		}
	}

	// A link is reachable from both of its endpoints and from multiple
	// root cascades; keep the first occurrence only.
	data.Links = dedupeLinks(data.Links)

	return data, entityTypes, nil
}

// appendDescendants walks the parent/child tree breadth-first from the
// root tasks and appends every descendant not already collected. The
// visited set bounds the walk even if a parent_id cycle exists.
func appendDescendants(st Store, roots []*store.Task) ([]*store.Task, error) {
	visited := make(map[int64]bool, len(roots))
	frontier := make([]int64, len(roots))
	for i, t := range roots {
		visited[t.ID] = true
		frontier[i] = t.ID
	}

	tasks := roots
	for len(frontier) > 0 {
		children, err := st.ChildTaskIDs(frontier)
		if err != nil {
			return nil, fmt.Errorf("query subtasks: %w", err)
		}
		frontier = frontier[:0]
		for _, id := range children {
			if visited[id] {
				continue
			}
			visited[id] = true
			task, err := st.GetTask(id)
			if err != nil {
				// A child deleted between the id query and the fetch is
				// not an error; anything else is.
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return nil, fmt.Errorf("fetch subtask %d: %w", id, err)
			}
			tasks = append(tasks, task)
			frontier = append(frontier, id)
		}
	}
	return tasks, nil
}

func dedupeLinks(links []*store.Link) []*store.Link {
	if len(links) == 0 {
		return links
	}
	seen := make(map[int64]bool, len(links))
	out := links[:0]
	for _, l := range links {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		out = append(out, l)
	}
	return out
}
