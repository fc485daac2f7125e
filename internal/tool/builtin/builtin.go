// Package builtin registers the local tools: project task CRUD, memory
// store and search, and reminder creation.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/memory"
	"github.com/perrymanuk/radbot/internal/store"
	"github.com/perrymanuk/radbot/internal/tool"
)

// ReminderScheduler arms a timer for a freshly created reminder.
type ReminderScheduler interface {
	RegisterReminder(r *store.Reminder)
}

// Deps carries everything the builtin tools touch.
type Deps struct {
	Store     *store.Store
	Memory    *memory.Service
	Scheduler ReminderScheduler
	AppName   string
	UserID    string
	Log       *logger.Logger
}

// Register adds all builtin tools to the registry.
func Register(reg *tool.Registry, d Deps) error {
	tools := []*tool.Tool{
		createTaskTool(d),
		listTasksTool(d),
		updateTaskStatusTool(d),
		deleteTaskTool(d),
		storeMemoryTool(d),
		searchMemoryTool(d),
		createReminderTool(d),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func createTaskTool(d Deps) *tool.Tool {
	return &tool.Tool{
		Name:        "create_task",
		Description: "Create a project task. Status defaults to backlog.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string", "description": "Short task title"},
				"description": map[string]any{"type": "string", "description": "Optional details"},
				"project_id":  map[string]any{"type": "string", "description": "Optional project UUID"},
				"status":      map[string]any{"type": "string", "enum": []string{"backlog", "in_progress", "done"}},
			},
			"required": []string{"title"},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			title := strings.TrimSpace(stringArg(args, "title"))
			if title == "" {
				return nil, fmt.Errorf("title is required")
			}
			t := &store.Task{
				Title:       title,
				Description: stringArg(args, "description"),
				Status:      stringArg(args, "status"),
			}
			if pid := stringArg(args, "project_id"); pid != "" {
				id, err := uuid.Parse(pid)
				if err != nil {
					return nil, fmt.Errorf("invalid project_id")
				}
				t.ProjectID = &id
			}
			created, err := d.Store.CreateTask(ctx, t)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"task_id": created.ID.String(),
				"title":   created.Title,
				"status":  created.Status,
			}, nil
		},
	}
}

func listTasksTool(d Deps) *tool.Tool {
	return &tool.Tool{
		Name:        "list_tasks",
		Description: "List project tasks, optionally filtered by project or status.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project_id": map[string]any{"type": "string"},
				"status":     map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			var projectID *uuid.UUID
			if pid := stringArg(args, "project_id"); pid != "" {
				id, err := uuid.Parse(pid)
				if err != nil {
					return nil, fmt.Errorf("invalid project_id")
				}
				projectID = &id
			}
			tasks, err := d.Store.ListTasks(ctx, projectID, stringArg(args, "status"))
			if err != nil {
				return nil, err
			}
			items := make([]map[string]any, 0, len(tasks))
			for _, t := range tasks {
				item := map[string]any{
					"task_id": t.ID.String(),
					"title":   t.Title,
					"status":  t.Status,
				}
				if t.Description != "" {
					item["description"] = t.Description
				}
				items = append(items, item)
			}
			return map[string]any{"tasks": items, "count": len(items)}, nil
		},
	}
}

func updateTaskStatusTool(d Deps) *tool.Tool {
	return &tool.Tool{
		Name:        "update_task_status",
		Description: "Move a task to a new status.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string"},
				"status":  map[string]any{"type": "string", "enum": []string{"backlog", "in_progress", "done"}},
			},
			"required": []string{"task_id", "status"},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, err := uuid.Parse(stringArg(args, "task_id"))
			if err != nil {
				return nil, fmt.Errorf("invalid task_id")
			}
			status := stringArg(args, "status")
			if status == "" {
				return nil, fmt.Errorf("status is required")
			}
			if err := d.Store.UpdateTaskStatus(ctx, id, status); err != nil {
				return nil, err
			}
			t, err := d.Store.GetTask(ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"task_id": id.String(), "title": t.Title, "status": t.Status}, nil
		},
	}
}

func deleteTaskTool(d Deps) *tool.Tool {
	return &tool.Tool{
		Name:        "delete_task",
		Description: "Delete a task permanently.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string"},
			},
			"required": []string{"task_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, err := uuid.Parse(stringArg(args, "task_id"))
			if err != nil {
				return nil, fmt.Errorf("invalid task_id")
			}
			if err := d.Store.DeleteTask(ctx, id); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true}, nil
		},
	}
}

func storeMemoryTool(d Deps) *tool.Tool {
	return &tool.Tool{
		Name:        "store_memory",
		Description: "Save a piece of information to long-term memory.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":        map[string]any{"type": "string", "description": "The fact to remember"},
				"memory_type": map[string]any{"type": "string", "description": "Optional category, defaults to memory"},
			},
			"required": []string{"text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			text := strings.TrimSpace(stringArg(args, "text"))
			if text == "" {
				return nil, fmt.Errorf("text is required")
			}
			meta := map[string]any{}
			if mt := stringArg(args, "memory_type"); mt != "" {
				meta["memory_type"] = mt
			}
			if err := d.Memory.Upsert(ctx, d.UserID, text, meta); err != nil {
				return nil, fmt.Errorf("memory store failed")
			}
			return map[string]any{"stored": true}, nil
		},
	}
}

func searchMemoryTool(d Deps) *tool.Tool {
	return &tool.Tool{
		Name:        "search_memory",
		Description: "Search long-term memory. Returns the closest matches with scores.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":        map[string]any{"type": "string"},
				"limit":        map[string]any{"type": "integer", "description": "Max results, default 5"},
				"memory_type":  map[string]any{"type": "string"},
				"source_agent": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query := strings.TrimSpace(stringArg(args, "query"))
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			results := d.Memory.Search(ctx, d.AppName, d.UserID, query, intArg(args, "limit", 5),
				memory.SearchFilters{
					MemoryType:  stringArg(args, "memory_type"),
					SourceAgent: stringArg(args, "source_agent"),
				})
			items := make([]map[string]any, 0, len(results))
			for _, r := range results {
				item := map[string]any{
					"text":  r.Text,
					"score": r.Score,
				}
				if r.Timestamp != "" {
					item["timestamp"] = r.Timestamp
				}
				if r.MemoryType != "" {
					item["memory_type"] = r.MemoryType
				}
				items = append(items, item)
			}
			return map[string]any{"memories": items, "count": len(items)}, nil
		},
	}
}

func createReminderTool(d Deps) *tool.Tool {
	return &tool.Tool{
		Name: "create_reminder",
		Description: "Set a one-shot reminder. Give either remind_at (RFC 3339 or " +
			"\"YYYY-MM-DD HH:MM\" UTC) or delay_minutes from now.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message":       map[string]any{"type": "string"},
				"remind_at":     map[string]any{"type": "string", "description": "Absolute time"},
				"delay_minutes": map[string]any{"type": "integer", "description": "Minutes from now"},
			},
			"required": []string{"message"},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			message := strings.TrimSpace(stringArg(args, "message"))
			if message == "" {
				return nil, fmt.Errorf("message is required")
			}

			remindAt, err := resolveRemindAt(args)
			if err != nil {
				return nil, err
			}
			if !remindAt.After(time.Now().UTC()) {
				return nil, fmt.Errorf("remind time is in the past")
			}

			r, err := d.Store.CreateReminder(ctx, &store.Reminder{
				Message:  message,
				RemindAt: remindAt,
			})
			if err != nil {
				return nil, err
			}
			if d.Scheduler != nil {
				d.Scheduler.RegisterReminder(r)
			}
			return map[string]any{
				"reminder_id": r.ID.String(),
				"remind_at":   r.RemindAt.Format(time.RFC3339),
			}, nil
		},
	}
}

// resolveRemindAt turns the tool arguments into an absolute UTC instant.
// delay_minutes wins when both forms are present.
func resolveRemindAt(args map[string]any) (time.Time, error) {
	if mins := intArg(args, "delay_minutes", 0); mins > 0 {
		return time.Now().UTC().Add(time.Duration(mins) * time.Minute), nil
	}

	raw := strings.TrimSpace(stringArg(args, "remind_at"))
	if raw == "" {
		return time.Time{}, fmt.Errorf("remind_at or delay_minutes is required")
	}
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized remind_at format")
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg reads an integer argument. Model tool calls deliver numbers as
// float64 through JSON.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}
