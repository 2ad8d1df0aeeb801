// Package workspace owns the memory document layout: daily and hourly
// summaries and the long-term memory document.
package workspace

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxkeep/pkg/fileutil"
	"ctxkeep/pkg/logger"
)

//go:embed templates/*.md
var templatesFS embed.FS

// LongTermFile is the long-term memory document name inside memory/.
const LongTermFile = "MEMORY.md"

const (
	dailyLayout  = "2006-01-02"
	hourlyLayout = "2006-01-02-1504"
)

// Manager manages workspace directories and memory documents.
type Manager struct {
	workspaceDir string
	log          *logger.Logger
	now          func() time.Time
}

// NewManager creates a new workspace manager.
func NewManager(workspaceDir string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		workspaceDir: workspaceDir,
		log:          log,
		now:          time.Now,
	}
}

// Dir returns the workspace directory path.
func (m *Manager) Dir() string {
	return m.workspaceDir
}

// MemoryDir returns the directory holding memory documents.
func (m *Manager) MemoryDir() string {
	return filepath.Join(m.workspaceDir, "memory")
}

// HourlyDir returns the directory holding hourly summaries.
func (m *Manager) HourlyDir() string {
	return filepath.Join(m.MemoryDir(), "hourly")
}

// DailyPath returns memory/YYYY-MM-DD.md for the day containing t.
func (m *Manager) DailyPath(t time.Time) string {
	return filepath.Join(m.MemoryDir(), t.Format(dailyLayout)+".md")
}

// HourlyPath returns memory/hourly/YYYY-MM-DD-HHMM.md for the hour starting at t.
func (m *Manager) HourlyPath(t time.Time) string {
	return filepath.Join(m.HourlyDir(), t.Format(hourlyLayout)+".md")
}

// LongTermPath returns memory/MEMORY.md.
func (m *Manager) LongTermPath() string {
	return filepath.Join(m.MemoryDir(), LongTermFile)
}

// Ensure creates the workspace layout and the long-term memory document.
// Existing files are never overwritten.
func (m *Manager) Ensure() error {
	subdirs := []string{"memory", "memory/hourly", "memory/index", "sessions", "state", "logs", "tasks"}
	for _, subdir := range subdirs {
		path := filepath.Join(m.workspaceDir, subdir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", subdir, err)
		}
	}
	return m.ensureLongTerm()
}

func (m *Manager) ensureLongTerm() error {
	path := m.LongTermPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	data, err := templatesFS.ReadFile("templates/" + LongTermFile)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", LongTermFile, err)
	}
	rendered, err := RenderTemplate(string(data), NewTemplateVars(m.workspaceDir, m.now()))
	if err != nil {
		return fmt.Errorf("rendering template %s: %w", LongTermFile, err)
	}
	if err := fileutil.WriteFileAtomic(path, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	m.log.Info("Created long-term memory document", zap.String("path", path))
	return nil
}

// ReadLongTerm parses MEMORY.md, creating it from the template first when
// it does not exist.
func (m *Manager) ReadLongTerm() (*Document, error) {
	if err := m.ensureLongTerm(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.LongTermPath())
	if err != nil {
		return nil, fmt.Errorf("reading long-term memory: %w", err)
	}
	return ParseDocument(string(data)), nil
}

// ReadDaily returns the daily document for t, or "" when it does not exist.
func (m *Manager) ReadDaily(t time.Time) (string, error) {
	data, err := os.ReadFile(m.DailyPath(t))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading daily document: %w", err)
	}
	return string(data), nil
}

// UpdateDocument rewrites the markdown file at path under its advisory lock.
// fn receives the parsed document (empty when the file is missing) and
// reports whether it changed anything.
func (m *Manager) UpdateDocument(ctx context.Context, path string, fn func(*Document) (bool, error)) error {
	return fileutil.WithLock(ctx, path, func() error {
		var doc *Document
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			doc = ParseDocument(string(data))
		case os.IsNotExist(err):
			doc = &Document{}
		default:
			return fmt.Errorf("reading %s: %w", path, err)
		}

		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}
		if err := fileutil.WriteFileAtomic(path, []byte(doc.String()), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	})
}

// LatestHourly returns the path of the newest hourly summary starting
// before t, or "" when there is none.
func (m *Manager) LatestHourly(before time.Time) (string, error) {
	entries, err := os.ReadDir(m.HourlyDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("listing hourly summaries: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		start, err := time.ParseInLocation(hourlyLayout, strings.TrimSuffix(name, ".md"), before.Location())
		if err != nil || !start.Before(before) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(m.HourlyDir(), names[len(names)-1]), nil
}

// RecentDailyPaths returns existing daily documents for the last days days
// ending with the day of now, oldest first.
func (m *Manager) RecentDailyPaths(now time.Time, days int) []string {
	var paths []string
	for i := days - 1; i >= 0; i-- {
		path := m.DailyPath(now.AddDate(0, 0, -i))
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths
}
