package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"ctxkeep/pkg/recall"
)

var (
	recallSession   string
	recallEnable    bool
	recallDisable   bool
	recallThreshold float64
	recallMax       int
	recallTokens    int
	recallStyle     string
	recallExclude   []string
	recallInclude   []string
)

var recallCmd = &cobra.Command{
	Use:   "recall <prompt>",
	Short: "Recall relevant context for a prompt",
	Long: `Run the recall hook for a prompt and print the context block that would
be injected. Nothing is printed when recall has nothing to add.

Prompts are taken from the arguments, or from stdin when the only argument
is "-".`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRecall,
}

var recallConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the recall configuration",
	Long: `Show the recall configuration, or change it when any flag is given.
The running daemon picks up changes without a restart.

Examples:
  ctxkeep recall config
  ctxkeep recall config --threshold 0.7 --max-results 5
  ctxkeep recall config --exclude telegram:42`,
	Args: cobra.NoArgs,
	Run:  runRecallConfig,
}

func init() {
	recallCmd.Flags().StringVarP(&recallSession, "session", "s", "", "session id the prompt belongs to")

	f := recallConfigCmd.Flags()
	f.BoolVar(&recallEnable, "enable", false, "enable recall")
	f.BoolVar(&recallDisable, "disable", false, "disable recall")
	f.Float64Var(&recallThreshold, "threshold", 0, "minimum similarity")
	f.IntVar(&recallMax, "max-results", 0, "maximum results injected")
	f.IntVar(&recallTokens, "max-tokens", 0, "token budget for the injected block")
	f.StringVar(&recallStyle, "style", "", "structured or plain")
	f.StringSliceVar(&recallExclude, "exclude", nil, "session ids to exclude")
	f.StringSliceVar(&recallInclude, "include", nil, "session ids to stop excluding")
	recallConfigCmd.MarkFlagsMutuallyExclusive("enable", "disable")

	recallCmd.AddCommand(recallConfigCmd)
	rootCmd.AddCommand(recallCmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	prompt, err := messageContent(args, os.Stdin)
	if err != nil {
		fail("%v", err)
	}

	var hook *recall.Hook
	cleanup := mustStartApp(&hook)
	defer cleanup()

	res, err := hook.ProcessPrompt(context.Background(), prompt, recallSession)
	if err != nil {
		fail("recall: %v", err)
	}
	if jsonOutput {
		printJSON(res)
		return
	}
	if res.Text == "" {
		return
	}
	fmt.Println(strings.TrimRight(res.Text, "\n"))
}

// applyRecallFlags changes cfg for every flag set on cmd and reports
// whether anything was set.
func applyRecallFlags(cmd *cobra.Command, cfg *recall.Config) (bool, error) {
	flags := cmd.Flags()
	changed := false
	if recallEnable {
		cfg.Enabled, changed = true, true
	}
	if recallDisable {
		cfg.Enabled, changed = false, true
	}
	if flags.Changed("threshold") {
		if recallThreshold < 0 || recallThreshold > 1 {
			return false, fmt.Errorf("threshold must be within [0, 1]")
		}
		cfg.Threshold, changed = recallThreshold, true
	}
	if flags.Changed("max-results") {
		cfg.MaxResults, changed = recallMax, true
	}
	if flags.Changed("max-tokens") {
		cfg.MaxTokens, changed = recallTokens, true
	}
	if flags.Changed("style") {
		style := recall.Style(recallStyle)
		if style != recall.StyleStructured && style != recall.StylePlain {
			return false, fmt.Errorf("unknown style %q", recallStyle)
		}
		cfg.Style, changed = style, true
	}
	for _, s := range recallExclude {
		if !slices.Contains(cfg.ExcludedSessions, s) {
			cfg.ExcludedSessions = append(cfg.ExcludedSessions, s)
		}
		changed = true
	}
	if len(recallInclude) > 0 {
		cfg.ExcludedSessions = slices.DeleteFunc(cfg.ExcludedSessions, func(s string) bool {
			return slices.Contains(recallInclude, s)
		})
		changed = true
	}
	return changed, nil
}

func runRecallConfig(cmd *cobra.Command, args []string) {
	var configs *recall.ConfigStore
	cleanup := mustStartApp(&configs)
	defer cleanup()

	cfg := configs.Get()
	changed, err := applyRecallFlags(cmd, &cfg)
	if err != nil {
		fail("%v", err)
	}
	if changed {
		if err := configs.Save(cfg); err != nil {
			fail("saving recall config: %v", err)
		}
		cfg = configs.Get()
	}

	if jsonOutput {
		printJSON(cfg)
		return
	}
	if changed {
		fmt.Printf("✅ Updated %s\n\n", configs.Path())
	}
	fmt.Printf("Enabled:           %t\n", cfg.Enabled)
	fmt.Printf("Threshold:         %.2f\n", cfg.Threshold)
	fmt.Printf("Max results:       %d\n", cfg.MaxResults)
	fmt.Printf("Max tokens:        %d\n", cfg.MaxTokens)
	fmt.Printf("Include sources:   %t\n", cfg.IncludeSources)
	fmt.Printf("Style:             %s\n", cfg.Style)
	if len(cfg.ExcludedSessions) > 0 {
		fmt.Printf("Excluded sessions: %s\n", strings.Join(cfg.ExcludedSessions, ", "))
	}
}
