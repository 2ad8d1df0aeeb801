package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"go.uber.org/zap"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/embedding"
	"ctxkeep/pkg/fileutil"
	"ctxkeep/pkg/logger"
)

const (
	// exactScanLimit is the index size up to which Search compares the
	// query against every vector instead of walking the graph.
	exactScanLimit = 20000
	// candidateFactor widens graph searches before exact re-ranking.
	candidateFactor = 4
)

// Options configures a Store.
type Options struct {
	IndexPath    string
	MetadataPath string
	ChunkSize    int
	ChunkOverlap int
	// MaxDistance maps L2 distance to similarity: 1 - d/MaxDistance.
	// Providers emit unit vectors, so 2 is the exact upper bound.
	MaxDistance float64
	EfSearch    int
	// Roots lets batch indexers name sources relative to the workspace.
	MemoryDir   string
	SessionsDir string
}

// OptionsFromConfig resolves store options against the workspace.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		IndexPath:    cfg.Resolve(cfg.Store.IndexPath),
		MetadataPath: cfg.Resolve(cfg.Store.MetadataPath),
		ChunkSize:    cfg.Store.ChunkSize,
		ChunkOverlap: cfg.Store.ChunkOverlap,
		MaxDistance:  cfg.Store.MaxDistance,
		EfSearch:     cfg.Store.EfSearch,
		MemoryDir:    cfg.MemoryDir(),
		SessionsDir:  cfg.SessionsDir(),
	}
}

// Store is the chunked embedding store. Methods are safe for concurrent
// use; cross-process writers are serialized by an advisory lock on the
// index file and every file write is an atomic rewrite.
type Store struct {
	opts     Options
	provider embedding.Provider
	chunker  Chunker
	log      *logger.Logger

	mu       sync.Mutex
	graph    *hnsw.Graph[int]
	chunks   []Chunk
	loaded   bool
	metaMod  time.Time
	metaSize int64
	now      func() time.Time
}

// NewStore creates a store. Nothing is read until the first operation.
func NewStore(opts Options, provider embedding.Provider, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.MaxDistance <= 0 {
		opts.MaxDistance = 2
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = 64
	}
	return &Store{
		opts:     opts,
		provider: provider,
		chunker:  NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		log:      log,
		now:      time.Now,
	}
}

// Provider returns the embedding provider.
func (s *Store) Provider() embedding.Provider {
	return s.provider
}

// AddText chunks, embeds and indexes text, then rewrites the index and
// metadata files. Whitespace-only text is logged and ignored. A zero ts
// means now.
func (s *Store) AddText(ctx context.Context, text, source string, ts time.Time) (int, error) {
	if strings.TrimSpace(text) == "" {
		s.log.Warn("Ignoring empty text", zap.String("source", source))
		return 0, nil
	}
	if ts.IsZero() {
		ts = s.now()
	}

	spans := s.chunker.Split(text)
	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = text[sp.Start:sp.End]
	}

	vectors, err := embedding.EmbedAll(ctx, s.provider, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", source, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = fileutil.WithLock(ctx, s.opts.IndexPath, func() error {
		if err := s.ensureLoaded(ctx, true); err != nil {
			return err
		}
		if err := s.checkDims(vectors); err != nil {
			return err
		}

		for i, sp := range spans {
			id := len(s.chunks)
			s.graph.Add(hnsw.MakeNode(id, vectors[i]))
			s.chunks = append(s.chunks, Chunk{
				ID:        id,
				Text:      texts[i],
				Source:    source,
				Timestamp: ts,
				Start:     sp.Start,
				End:       sp.End,
			})
		}
		return s.persist(true)
	})
	if err != nil {
		s.loaded = false
		return 0, err
	}

	s.log.Debug("Indexed text",
		zap.String("source", source),
		zap.Int("chunks", len(spans)),
		zap.Int("total", len(s.chunks)),
	)
	return len(spans), nil
}

// Search returns up to k chunks nearest to query with similarity at least
// threshold, nearest first. An index that was never created yields no
// results.
func (s *Store) Search(ctx context.Context, query string, k int, threshold float64) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists() {
		return nil, nil
	}
	if err := s.ensureLoaded(ctx, false); err != nil {
		return nil, err
	}
	if s.graph.Len() == 0 {
		return nil, nil
	}

	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if err := s.checkDims([][]float32{vec}); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, k)
	for _, node := range s.candidates(vec, k) {
		if node.Key < 0 || node.Key >= len(s.chunks) {
			continue
		}
		dist := embedding.Distance(vec, node.Value)
		sim := clamp01(1 - dist/s.opts.MaxDistance)
		if sim < threshold {
			continue
		}
		results = append(results, SearchResult{
			Chunk:      s.chunks[node.Key],
			Similarity: sim,
			Distance:   dist,
			Query:      query,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Stats reports the store's size and composition.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Sources:   map[string]int{},
		Model:     s.provider.Model(),
		Dimension: s.provider.Dimension(),
		IndexPath: s.opts.IndexPath,
	}
	if !s.exists() {
		return stats, nil
	}
	if err := s.ensureLoaded(ctx, false); err != nil {
		return stats, err
	}

	stats.TotalVectors = s.graph.Len()
	for _, c := range s.chunks {
		stats.Sources[c.Source]++
	}
	if info, err := os.Stat(s.opts.IndexPath); err == nil {
		stats.IndexBytes = info.Size()
	}
	stats.MetadataBytes = s.metaSize
	stats.LastUpdate = s.metaMod
	return stats, nil
}

// Len returns the number of indexed chunks.
func (s *Store) Len(ctx context.Context) (int, error) {
	stats, err := s.Stats(ctx)
	return stats.TotalVectors, err
}

// SourceCounts returns the number of chunks per source.
func (s *Store) SourceCounts(ctx context.Context) (map[string]int, error) {
	stats, err := s.Stats(ctx)
	return stats.Sources, err
}

// LastUpdate returns the modification time of the metadata file, or the
// zero time when the store has never been written.
func (s *Store) LastUpdate() time.Time {
	info, err := os.Stat(s.opts.MetadataPath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Clear replaces the index with an empty one and resets metadata. It does
// nothing unless confirm is true.
func (s *Store) Clear(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fileutil.WithLock(ctx, s.opts.IndexPath, func() error {
		s.graph = s.newGraph()
		s.chunks = []Chunk{}
		if err := s.persist(true); err != nil {
			s.loaded = false
			return err
		}
		s.log.Info("Cleared embedding index", zap.String("path", s.opts.IndexPath))
		return nil
	})
}

// Rebuild re-embeds every chunk from metadata and rewrites the index.
func (s *Store) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fileutil.WithLock(ctx, s.opts.IndexPath, func() error {
		chunks, err := s.readMetadata()
		if err != nil {
			return err
		}
		s.chunks = chunks
		if err := s.rebuildGraph(ctx); err != nil {
			s.loaded = false
			return err
		}
		return nil
	})
}

// Close releases the in-memory index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = nil
	s.chunks = nil
	s.loaded = false
	return nil
}

func (s *Store) exists() bool {
	if _, err := os.Stat(s.opts.MetadataPath); err == nil {
		return true
	}
	_, err := os.Stat(s.opts.IndexPath)
	return err == nil
}

// ensureLoaded (re)reads the files when another writer changed them since
// the last load. Callers hold s.mu; locked reports whether they also hold
// the file lock, which a rebuild needs.
func (s *Store) ensureLoaded(ctx context.Context, locked bool) error {
	info, statErr := os.Stat(s.opts.MetadataPath)
	if s.loaded && statErr == nil && info.ModTime().Equal(s.metaMod) && info.Size() == s.metaSize {
		return nil
	}
	if s.loaded && os.IsNotExist(statErr) && s.metaMod.IsZero() {
		return nil
	}

	chunks, err := s.readMetadata()
	if err != nil {
		return err
	}
	s.chunks = chunks
	s.metaMod, s.metaSize = time.Time{}, 0
	if statErr == nil {
		s.metaMod, s.metaSize = info.ModTime(), info.Size()
	}

	rebuild := func() error {
		if locked {
			return s.rebuildGraph(ctx)
		}
		return fileutil.WithLock(ctx, s.opts.IndexPath, func() error {
			return s.rebuildGraph(ctx)
		})
	}

	graph, err := s.readIndex()
	switch {
	case err != nil && len(chunks) > 0:
		s.log.Warn("Index unreadable, rebuilding from metadata", zap.String("path", s.opts.IndexPath), zap.Error(err))
		return rebuild()
	case err != nil:
		return err
	case graph == nil && len(chunks) > 0:
		s.log.Warn("Index file missing, rebuilding from metadata", zap.String("path", s.opts.IndexPath))
		return rebuild()
	case graph == nil:
		graph = s.newGraph()
	case graph.Len() != len(chunks):
		s.log.Warn("Index and metadata disagree, rebuilding from metadata",
			zap.Int("vectors", graph.Len()),
			zap.Int("chunks", len(chunks)),
		)
		return rebuild()
	}

	s.graph = graph
	s.loaded = true
	return nil
}

func (s *Store) readMetadata() ([]Chunk, error) {
	data, err := os.ReadFile(s.opts.MetadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Chunk{}, nil
		}
		return nil, fmt.Errorf("reading chunk metadata: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("parsing chunk metadata %s: %w", s.opts.MetadataPath, err)
	}
	if chunks == nil {
		chunks = []Chunk{}
	}
	return chunks, nil
}

// readIndex returns nil, nil when the index file does not exist.
func (s *Store) readIndex() (*hnsw.Graph[int], error) {
	f, err := os.Open(s.opts.IndexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()

	graph := s.newGraph()
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("importing index %s: %w", s.opts.IndexPath, err)
	}
	return graph, nil
}

// rebuildGraph re-embeds s.chunks into a fresh graph and rewrites the
// index file. Callers hold s.mu and the file lock.
func (s *Store) rebuildGraph(ctx context.Context) error {
	graph := s.newGraph()
	if len(s.chunks) > 0 {
		texts := make([]string, len(s.chunks))
		for i, c := range s.chunks {
			texts[i] = c.Text
		}
		vectors, err := embedding.EmbedAll(ctx, s.provider, texts)
		if err != nil {
			return fmt.Errorf("rebuilding index: %w", err)
		}
		for i, c := range s.chunks {
			graph.Add(hnsw.MakeNode(c.ID, vectors[i]))
		}
	}
	s.graph = graph
	if err := s.persist(false); err != nil {
		return err
	}
	s.loaded = true
	s.log.Info("Rebuilt embedding index", zap.Int("chunks", len(s.chunks)))
	return nil
}

// persist rewrites the index file and, when withMetadata is set, the
// metadata file. Callers hold s.mu and the file lock.
func (s *Store) persist(withMetadata bool) error {
	var buf bytes.Buffer
	if err := s.graph.Export(&buf); err != nil {
		return fmt.Errorf("exporting index: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.opts.IndexPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if !withMetadata {
		return nil
	}
	if err := fileutil.WriteJSONAtomic(s.opts.MetadataPath, s.chunks, 0o644); err != nil {
		return fmt.Errorf("writing chunk metadata: %w", err)
	}
	if info, err := os.Stat(s.opts.MetadataPath); err == nil {
		s.metaMod, s.metaSize = info.ModTime(), info.Size()
	}
	s.loaded = true
	return nil
}

// candidates returns the nodes to rank for a query. Indexes up to
// exactScanLimit vectors are scanned in full so every stored chunk is
// reachable; larger ones query the graph with a widened candidate list.
// Callers hold s.mu.
func (s *Store) candidates(vec []float32, k int) []hnsw.Node[int] {
	if s.graph.Len() <= exactScanLimit {
		nodes := make([]hnsw.Node[int], 0, len(s.chunks))
		for i := range s.chunks {
			if v, ok := s.graph.Lookup(i); ok {
				nodes = append(nodes, hnsw.MakeNode(i, v))
			}
		}
		return nodes
	}
	want := max(s.opts.EfSearch, k*candidateFactor)
	s.graph.EfSearch = want
	return s.graph.Search(vec, want)
}

func (s *Store) newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.EuclideanDistance
	g.M = 16
	g.Ml = 0.25
	g.EfSearch = s.opts.EfSearch
	return g
}

func (s *Store) checkDims(vectors [][]float32) error {
	if s.graph == nil || s.graph.Len() == 0 {
		return nil
	}
	want := s.graph.Dims()
	for _, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("embedding dimension %d does not match index dimension %d; clear and re-index after changing models", len(v), want)
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
