package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/memory"
)

var (
	indexDays      int
	indexMemory    bool
	indexSessions  bool
	indexRebuild   bool
	addSource      string
	searchK        int
	searchMinScore float64
	clearYes       bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index memory documents and session logs",
	Long: `Index recently changed memory documents and session logs into the
chunked embedding store. Files unchanged since the last update are skipped.

Examples:
  # Index both sources, last 7 days
  ctxkeep index

  # Only session logs from the last day
  ctxkeep index --sessions --days 1

  # Rebuild the ANN index from stored metadata
  ctxkeep index --rebuild`,
	Args: cobra.NoArgs,
	Run:  runIndex,
}

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a piece of text to the store",
	Args:  cobra.ExactArgs(1),
	Run:   runAdd,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the embedding store",
	Long: `Search the embedding store for chunks similar to the query.

Examples:
  ctxkeep search "what database are we using"
  ctxkeep search "deploy" -k 10 --threshold 0.5`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show embedding store statistics",
	Args:  cobra.NoArgs,
	Run:   runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the index and its metadata",
	Long:  `Delete the ANN index and chunk metadata. Requires --yes.`,
	Args:  cobra.NoArgs,
	Run:   runClear,
}

func init() {
	indexCmd.Flags().IntVar(&indexDays, "days", 7, "only consider files modified within this many days")
	indexCmd.Flags().BoolVar(&indexMemory, "memory", false, "index memory documents only")
	indexCmd.Flags().BoolVar(&indexSessions, "sessions", false, "index session logs only")
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "rebuild the ANN index from metadata")

	addCmd.Flags().StringVar(&addSource, "source", "cli", "source label stored with the chunks")

	searchCmd.Flags().IntVarP(&searchK, "limit", "k", 0, "maximum results (default from config)")
	searchCmd.Flags().Float64Var(&searchMinScore, "threshold", -1, "minimum similarity (default from config)")

	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deletion")

	rootCmd.AddCommand(indexCmd, addCmd, searchCmd, statsCmd, clearCmd)
}

func runIndex(cmd *cobra.Command, args []string) {
	var store *memory.Store
	cleanup := mustStartApp(&store)
	defer cleanup()

	ctx := context.Background()
	if indexRebuild {
		if err := store.Rebuild(ctx); err != nil {
			fail("rebuilding index: %v", err)
		}
		fmt.Println("✅ Index rebuilt from metadata")
		return
	}

	var (
		report memory.IndexReport
		err    error
	)
	switch {
	case indexMemory && !indexSessions:
		report, err = store.IndexMemoryFiles(ctx, indexDays)
	case indexSessions && !indexMemory:
		report, err = store.IndexSessionLogs(ctx, indexDays)
	default:
		report, err = store.IndexAll(ctx, indexDays)
	}
	if err != nil {
		fail("indexing: %v", err)
	}

	if jsonOutput {
		printJSON(report)
		return
	}
	fmt.Printf("✅ Indexed %d files (%d chunks), %d skipped, %d failed\n",
		report.Files, report.Chunks, report.Skipped, report.Failed)
}

func runAdd(cmd *cobra.Command, args []string) {
	var store *memory.Store
	cleanup := mustStartApp(&store)
	defer cleanup()

	n, err := store.AddText(context.Background(), args[0], addSource, time.Now())
	if err != nil {
		fail("adding text: %v", err)
	}
	fmt.Printf("✅ Added %d chunks from %s\n", n, addSource)
}

func runSearch(cmd *cobra.Command, args []string) {
	var (
		store *memory.Store
		cfg   *config.Config
	)
	cleanup := mustStartApp(&store, &cfg)
	defer cleanup()

	k := searchK
	if k <= 0 {
		k = cfg.Store.SearchK
	}
	threshold := searchMinScore
	if threshold < 0 {
		threshold = cfg.Store.Threshold
	}

	query := strings.Join(args, " ")
	results, err := store.Search(context.Background(), query, k, threshold)
	if err != nil {
		fail("searching: %v", err)
	}

	if jsonOutput {
		printJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, r := range results {
		fmt.Printf("[%d] %.3f  %s  %s\n", i+1, r.Similarity, r.Source, r.Timestamp.Format("2006-01-02 15:04"))
		fmt.Printf("    %s\n\n", truncateString(strings.Join(strings.Fields(r.Text), " "), 200))
	}
}

func runStats(cmd *cobra.Command, args []string) {
	var store *memory.Store
	cleanup := mustStartApp(&store)
	defer cleanup()

	stats, err := store.Stats(context.Background())
	if err != nil {
		fail("reading stats: %v", err)
	}

	if jsonOutput {
		printJSON(stats)
		return
	}

	fmt.Printf("Vectors:      %d\n", stats.TotalVectors)
	fmt.Printf("Model:        %s (%d dims)\n", stats.Model, stats.Dimension)
	fmt.Printf("Index:        %s (%d bytes)\n", stats.IndexPath, stats.IndexBytes)
	fmt.Printf("Metadata:     %d bytes\n", stats.MetadataBytes)
	if !stats.LastUpdate.IsZero() {
		fmt.Printf("Last update:  %s\n", stats.LastUpdate.Format("2006-01-02 15:04:05"))
	}
	if len(stats.Sources) == 0 {
		return
	}

	sources := make([]string, 0, len(stats.Sources))
	for src := range stats.Sources {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tCHUNKS")
	for _, src := range sources {
		fmt.Fprintf(w, "%s\t%d\n", truncateString(src, 60), stats.Sources[src])
	}
	_ = w.Flush()
}

func runClear(cmd *cobra.Command, args []string) {
	var store *memory.Store
	cleanup := mustStartApp(&store)
	defer cleanup()

	err := store.Clear(context.Background(), clearYes)
	if errors.Is(err, memory.ErrConfirmationRequired) {
		fail("refusing to clear the index without --yes")
	}
	if err != nil {
		fail("clearing index: %v", err)
	}
	fmt.Println("✅ Index cleared")
}
