// Package tasks reads the external Kanban board to report what the agent
// is currently working on. The board is owned by another tool; this
// package never writes it.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxkeep/pkg/logger"
)

// Task is one card on the board.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Board is the board file layout. Columns are optional; a task without a
// status takes its column name.
type Board struct {
	Tasks   []Task `json:"tasks"`
	Columns []struct {
		Name  string `json:"name"`
		Tasks []Task `json:"tasks"`
	} `json:"columns"`
}

// StatusProvider reports the current task status as prose.
type StatusProvider interface {
	CurrentStatus(ctx context.Context) (string, error)
}

// BoardReader reads the board file on every call.
type BoardReader struct {
	path    string
	maxOpen int
	log     *logger.Logger
}

// NewBoardReader creates a reader for the board at path.
func NewBoardReader(path string, log *logger.Logger) *BoardReader {
	if log == nil {
		log = logger.NewNop()
	}
	return &BoardReader{path: path, maxOpen: 5, log: log}
}

// Load returns all tasks on the board. A missing board is empty.
func (r *BoardReader) Load(ctx context.Context) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading task board: %w", err)
	}

	var board Board
	if err := json.Unmarshal(data, &board); err != nil {
		r.log.Error("Malformed task board, ignoring", zap.String("path", r.path), zap.Error(err))
		return nil, nil
	}

	tasks := append([]Task(nil), board.Tasks...)
	for _, col := range board.Columns {
		for _, t := range col.Tasks {
			if t.Status == "" {
				t.Status = col.Name
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// CurrentStatus describes in-progress tasks first, then other open ones.
// An empty board yields "".
func (r *BoardReader) CurrentStatus(ctx context.Context) (string, error) {
	tasks, err := r.Load(ctx)
	if err != nil {
		return "", err
	}

	var active, open []Task
	for _, t := range tasks {
		switch normalizeStatus(t.Status) {
		case "in_progress":
			active = append(active, t)
		case "todo", "blocked", "review":
			open = append(open, t)
		}
	}
	if len(active) == 0 && len(open) == 0 {
		return "", nil
	}

	byRecent := func(list []Task) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		})
	}
	byRecent(active)
	byRecent(open)

	var sb strings.Builder
	for _, t := range active {
		fmt.Fprintf(&sb, "In progress: %s", t.Title)
		if t.ID != "" {
			fmt.Fprintf(&sb, " [%s]", t.ID)
		}
		sb.WriteString("\n")
		if d := strings.TrimSpace(t.Description); d != "" {
			sb.WriteString(d)
			sb.WriteString("\n")
		}
	}
	if len(open) > 0 {
		if len(open) > r.maxOpen {
			open = open[:r.maxOpen]
		}
		sb.WriteString("Other open tasks:\n")
		for _, t := range open {
			fmt.Fprintf(&sb, "- %s (%s)\n", t.Title, normalizeStatus(t.Status))
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "in_progress", "doing", "active", "wip":
		return "in_progress"
	case "todo", "to_do", "backlog", "ready":
		return "todo"
	case "done", "complete", "completed", "closed":
		return "done"
	}
	return s
}
