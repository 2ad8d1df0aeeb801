package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ctxkeep/pkg/embedding"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	opts := Options{
		IndexPath:    filepath.Join(root, "memory", "index", "chunks.hnsw"),
		MetadataPath: filepath.Join(root, "memory", "index", "chunks.json"),
		ChunkSize:    512,
		ChunkOverlap: 128,
		MaxDistance:  2,
		MemoryDir:    filepath.Join(root, "memory"),
		SessionsDir:  filepath.Join(root, "sessions"),
	}
	return NewStore(opts, embedding.NewHashProvider(384), nil), root
}

func TestAddTextShortTextOneChunk(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	n, err := store.AddText(ctx, "The database uses PostgreSQL", "notes.md", time.Time{})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk, got %d", n)
	}

	results, err := store.Search(ctx, "The database uses PostgreSQL", 1, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Text != "The database uses PostgreSQL" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Start != 0 || results[0].End != len("The database uses PostgreSQL") {
		t.Fatalf("unexpected offsets %d-%d", results[0].Start, results[0].End)
	}
}

func TestAddTextIgnoresWhitespace(t *testing.T) {
	store, root := newTestStore(t)

	n, err := store.AddText(context.Background(), "  \n\t ", "empty", time.Time{})
	if err != nil || n != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(root, "memory", "index", "chunks.json")); !os.IsNotExist(err) {
		t.Fatal("expected no metadata file for empty input")
	}
}

func TestSearchOnMissingIndexIsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	results, err := store.Search(context.Background(), "anything", 5, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestSearchDatabaseScenario(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i, text := range []string{
		"The database uses PostgreSQL",
		"We chose React for the frontend",
		"Deploy on AWS ECS",
	} {
		if _, err := store.AddText(ctx, text, "doc"+string(rune('0'+i)), time.Time{}); err != nil {
			t.Fatalf("add text: %v", err)
		}
	}

	results, err := store.Search(ctx, "what database are we using?", 3, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 || results[0].Text != "The database uses PostgreSQL" {
		t.Fatalf("expected PostgreSQL first, got %+v", results)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Fatalf("results not ordered by similarity: %+v", results)
		}
	}
}

func TestSearchRespectsThresholdAndK(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("The scheduler runs summarization jobs every hour and indexing jobs twice an hour. ")
	}
	if _, err := store.AddText(ctx, sb.String(), "long.md", time.Time{}); err != nil {
		t.Fatalf("add text: %v", err)
	}

	for _, tc := range []struct {
		k         int
		threshold float64
	}{{1, 0}, {3, 0.2}, {5, 0.65}, {10, 0.99}} {
		results, err := store.Search(ctx, "scheduler summarization jobs", tc.k, tc.threshold)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(results) > tc.k {
			t.Fatalf("k=%d: got %d results", tc.k, len(results))
		}
		for _, r := range results {
			if r.Similarity < tc.threshold {
				t.Fatalf("threshold=%v: got similarity %v", tc.threshold, r.Similarity)
			}
		}
	}
}

func TestRoundTripChunksRetrievable(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	topics := []string{"kubernetes upgrade", "billing invoice", "logo variant", "backup window", "queue consumer"}
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Entry %d covers the %s checklist item %d. ", i, topics[i%len(topics)], i*7)
	}
	text := sb.String()
	if _, err := store.AddText(ctx, text, "mixed.md", time.Time{}); err != nil {
		t.Fatalf("add text: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalVectors < 3 {
		t.Fatalf("expected several chunks, got %d", stats.TotalVectors)
	}

	reopened := NewStore(store.opts, embedding.NewHashProvider(384), nil)
	for id := 0; id < stats.TotalVectors; id++ {
		chunk := reopened.chunkForTest(t, ctx, id)
		results, err := reopened.Search(ctx, chunk.Text, 3, 0.65)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		found := false
		for _, r := range results {
			if r.ID == id {
				found = true
			}
		}
		if !found {
			t.Fatalf("chunk %d not retrievable by its own text", id)
		}
		if chunk.Text != text[chunk.Start:chunk.End] {
			t.Fatalf("chunk %d text does not match source offsets", id)
		}
	}
}

func TestEveryChunkRetrievableInLargeIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var sb strings.Builder
	for i := 0; i < 450; i++ {
		fmt.Fprintf(&sb, "Record %d discusses widget%d and its rollout notes. ", i, i)
	}
	if _, err := store.AddText(ctx, sb.String(), "widgets.md", time.Time{}); err != nil {
		t.Fatalf("add text: %v", err)
	}

	n, err := store.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n < 50 {
		t.Fatalf("expected at least 50 chunks, got %d", n)
	}

	var missing []int
	for id := 0; id < n; id++ {
		chunk := store.chunkForTest(t, ctx, id)
		results, err := store.Search(ctx, chunk.Text, 5, 0.65)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		found := false
		for _, r := range results {
			if r.ID == id {
				found = true
			}
		}
		if !found {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		t.Fatalf("chunks not retrievable by their own text: %v", missing)
	}
}

func (s *Store) chunkForTest(t *testing.T, ctx context.Context, id int) Chunk {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx, false); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s.chunks[id]
}

func TestClearRequiresConfirmation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AddText(ctx, "Deploy on AWS ECS", "deploy.md", time.Time{}); err != nil {
		t.Fatalf("add text: %v", err)
	}
	indexBefore, _ := os.ReadFile(store.opts.IndexPath)
	metaBefore, _ := os.ReadFile(store.opts.MetadataPath)

	if err := store.Clear(ctx, false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	indexAfter, _ := os.ReadFile(store.opts.IndexPath)
	metaAfter, _ := os.ReadFile(store.opts.MetadataPath)
	if !bytes.Equal(indexBefore, indexAfter) || !bytes.Equal(metaBefore, metaAfter) {
		t.Fatal("unconfirmed clear modified files")
	}

	if err := store.Clear(ctx, true); err != nil {
		t.Fatalf("clear: %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalVectors != 0 {
		t.Fatalf("expected empty index, got %d", stats.TotalVectors)
	}

	n, err := store.AddText(ctx, "Deploy on AWS ECS", "deploy.md", time.Time{})
	if err != nil || n != 1 {
		t.Fatalf("add after clear: %d, %v", n, err)
	}
}

func TestStatsSources(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, _ = store.AddText(ctx, "first note", "a.md", time.Time{})
	_, _ = store.AddText(ctx, "second note", "a.md", time.Time{})
	_, _ = store.AddText(ctx, "third note", "b.md", time.Time{})

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalVectors != 3 || stats.Sources["a.md"] != 2 || stats.Sources["b.md"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Model != "hash-v1" || stats.Dimension != 384 {
		t.Fatalf("unexpected model info %s/%d", stats.Model, stats.Dimension)
	}
	if stats.IndexBytes == 0 || stats.LastUpdate.IsZero() {
		t.Fatalf("expected on-disk size and last update, got %+v", stats)
	}
}

func TestMissingIndexRebuildsFromMetadata(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, _ = store.AddText(ctx, "The database uses PostgreSQL", "db.md", time.Time{})
	_, _ = store.AddText(ctx, "Deploy on AWS ECS", "deploy.md", time.Time{})
	if err := os.Remove(store.opts.IndexPath); err != nil {
		t.Fatalf("remove index: %v", err)
	}

	reopened := NewStore(store.opts, embedding.NewHashProvider(384), nil)
	results, err := reopened.Search(ctx, "database PostgreSQL", 1, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Source != "db.md" {
		t.Fatalf("unexpected results after rebuild %+v", results)
	}
	if _, err := os.Stat(store.opts.IndexPath); err != nil {
		t.Fatalf("expected rebuilt index file: %v", err)
	}
}

func TestIndexMemoryFilesSkipsUnmodified(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	memDir := filepath.Join(root, "memory")

	old := time.Now().Add(-72 * time.Hour)
	recent := time.Now().Add(-time.Hour)
	write := func(name, content string, mtime time.Time) {
		path := filepath.Join(memDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	write("2026-03-01.md", "## 10:00 - 11:00\nDecided to use PostgreSQL.", recent)
	write("hourly/2026-03-01-1000.md", "Topics: postgresql", recent)
	write("2026-02-01.md", "ancient notes", old)
	write("notes.txt", "not markdown", recent)

	report, err := store.IndexMemoryFiles(ctx, 1)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if report.Files != 2 {
		t.Fatalf("expected 2 files indexed, got %+v", report)
	}

	counts, err := store.SourceCounts(ctx)
	if err != nil {
		t.Fatalf("source counts: %v", err)
	}
	if counts["memory/2026-03-01.md"] != 1 || counts["memory/hourly/2026-03-01-1000.md"] != 1 {
		t.Fatalf("unexpected sources %v", counts)
	}

	again, err := store.IndexMemoryFiles(ctx, 1)
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if again.Files != 0 {
		t.Fatalf("expected unmodified files to be skipped, got %+v", again)
	}
}

func TestIndexSessionLogs(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	dir := filepath.Join(root, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	log := `{"messages":[{"role":"user","content":"Which queue do we use?"},{"role":"assistant","content":"We will use NATS for the event queue."}]}`
	if err := os.WriteFile(filepath.Join(dir, "chat-7.json"), []byte(log), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	report, err := store.IndexSessionLogs(ctx, 7)
	if err != nil {
		t.Fatalf("index sessions: %v", err)
	}
	if report.Files != 1 || report.Chunks != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	results, err := store.Search(ctx, "NATS event queue", 1, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Source != "session:chat-7" {
		t.Fatalf("unexpected results %+v", results)
	}
	if !strings.HasPrefix(results[0].Text, "user: Which queue") {
		t.Fatalf("expected flattened log, got %q", results[0].Text)
	}
}
