package memory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxkeep/pkg/session"
)

// IndexMemoryFiles indexes markdown documents under the memory directory
// modified within daysBack days and after the store's last update.
func (s *Store) IndexMemoryFiles(ctx context.Context, daysBack int) (IndexReport, error) {
	return s.indexMemoryFiles(ctx, daysBack, s.LastUpdate())
}

// IndexSessionLogs indexes raw conversation logs modified within daysBack
// days and after the store's last update. Each log is flattened to
// "role: content" lines.
func (s *Store) IndexSessionLogs(ctx context.Context, daysBack int) (IndexReport, error) {
	return s.indexSessionLogs(ctx, daysBack, s.LastUpdate())
}

// IndexAll runs both indexers against the last update time observed
// before either starts, so files indexed by the first do not hide changes
// from the second.
func (s *Store) IndexAll(ctx context.Context, daysBack int) (IndexReport, error) {
	since := s.LastUpdate()
	mem, err := s.indexMemoryFiles(ctx, daysBack, since)
	if err != nil {
		return mem, err
	}
	sess, err := s.indexSessionLogs(ctx, daysBack, since)
	return IndexReport{
		Files:   mem.Files + sess.Files,
		Skipped: mem.Skipped + sess.Skipped,
		Chunks:  mem.Chunks + sess.Chunks,
		Failed:  mem.Failed + sess.Failed,
	}, err
}

func (s *Store) indexMemoryFiles(ctx context.Context, daysBack int, since time.Time) (IndexReport, error) {
	var report IndexReport
	files, err := s.changedFiles(s.opts.MemoryDir, daysBack, since, func(path string) bool {
		return strings.EqualFold(filepath.Ext(path), ".md")
	}, &report)
	if err != nil {
		return report, err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			report.Failed++
			s.log.Error("Reading memory file failed", zap.String("path", f.path), zap.Error(err))
			continue
		}
		n, err := s.AddText(ctx, string(data), s.sourceName(f.path), f.modTime)
		if err != nil {
			return report, fmt.Errorf("indexing %s: %w", f.path, err)
		}
		report.Files++
		report.Chunks += n
	}

	s.log.Info("Indexed memory files",
		zap.Int("files", report.Files),
		zap.Int("skipped", report.Skipped),
		zap.Int("chunks", report.Chunks),
	)
	return report, nil
}

func (s *Store) indexSessionLogs(ctx context.Context, daysBack int, since time.Time) (IndexReport, error) {
	var report IndexReport
	files, err := s.changedFiles(s.opts.SessionsDir, daysBack, since, func(path string) bool {
		ext := strings.ToLower(filepath.Ext(path))
		return ext == ".json" || ext == ".jsonl"
	}, &report)
	if err != nil {
		return report, err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log, err := session.ReadLogFile(f.path)
		if err != nil {
			report.Failed++
			s.log.Error("Reading session log failed", zap.String("path", f.path), zap.Error(err))
			continue
		}
		text := session.Flatten(log.Messages)
		if strings.TrimSpace(text) == "" {
			report.Skipped++
			continue
		}
		n, err := s.AddText(ctx, text, "session:"+log.Key, f.modTime)
		if err != nil {
			return report, fmt.Errorf("indexing %s: %w", f.path, err)
		}
		report.Files++
		report.Chunks += n
	}

	s.log.Info("Indexed session logs",
		zap.Int("files", report.Files),
		zap.Int("skipped", report.Skipped),
		zap.Int("chunks", report.Chunks),
	)
	return report, nil
}

type candidate struct {
	path    string
	modTime time.Time
}

// changedFiles walks root for matching files newer than both the daysBack
// cutoff and since. The index directory is never walked.
func (s *Store) changedFiles(root string, daysBack int, since time.Time, match func(string) bool, report *IndexReport) ([]candidate, error) {
	if root == "" {
		return nil, nil
	}
	cutoff := time.Time{}
	if daysBack > 0 {
		cutoff = s.now().AddDate(0, 0, -daysBack)
	}
	indexDir := filepath.Dir(s.opts.IndexPath)

	var files []candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if path == indexDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !match(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mod := info.ModTime()
		if mod.Before(cutoff) || !mod.After(since) {
			report.Skipped++
			return nil
		}
		files = append(files, candidate{path: path, modTime: mod})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

// sourceName names a file relative to the workspace when possible.
func (s *Store) sourceName(path string) string {
	base := filepath.Dir(s.opts.MemoryDir)
	if rel, err := filepath.Rel(base, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}
