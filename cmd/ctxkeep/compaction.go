package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ctxkeep/pkg/compaction"
)

var (
	msgSession string
	msgID      string
	msgRole    string
)

var compactionCmd = &cobra.Command{
	Use:   "compaction",
	Short: "Detect context resets and inject continuity briefs",
	Long: `Feed conversation messages through the compaction state machine.

Message content is taken from the arguments, or from stdin when the only
argument is "-".

Examples:
  # Register a message without detection
  ctxkeep compaction register -s telegram:42 --role user "deploy the api"

  # Check a message for a reset without changing state
  ctxkeep compaction detect -s telegram:42 --role assistant "Let's start fresh"

  # Full pipeline: detect, register, inject on reset
  ctxkeep compaction handle -s telegram:42 --role assistant - < reply.txt`,
}

var compactionRegisterCmd = &cobra.Command{
	Use:   "register <content>",
	Short: "Record a message in the session window",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCompactionRegister,
}

var compactionDetectCmd = &cobra.Command{
	Use:   "detect <content>",
	Short: "Check a message against the detection rules",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCompactionDetect,
}

var compactionHandleCmd = &cobra.Command{
	Use:   "handle <content>",
	Short: "Detect, register and inject a brief when a reset is found",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCompactionHandle,
}

var compactionInjectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Build and deliver a continuity brief now",
	Args:  cobra.NoArgs,
	Run:   runCompactionInject,
}

var compactionBriefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Print the continuity brief without delivering it",
	Args:  cobra.NoArgs,
	Run:   runCompactionBrief,
}

var compactionStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show a session's compaction state",
	Args:  cobra.NoArgs,
	Run:   runCompactionState,
}

func init() {
	for _, c := range []*cobra.Command{compactionRegisterCmd, compactionDetectCmd, compactionHandleCmd, compactionInjectCmd, compactionStateCmd} {
		c.Flags().StringVarP(&msgSession, "session", "s", "", "session key")
		_ = c.MarkFlagRequired("session")
	}
	for _, c := range []*cobra.Command{compactionRegisterCmd, compactionDetectCmd, compactionHandleCmd} {
		c.Flags().StringVar(&msgID, "id", "", "message id (default: generated)")
		c.Flags().StringVar(&msgRole, "role", "user", "message role")
	}

	compactionCmd.AddCommand(
		compactionRegisterCmd,
		compactionDetectCmd,
		compactionHandleCmd,
		compactionInjectCmd,
		compactionBriefCmd,
		compactionStateCmd,
	)
	rootCmd.AddCommand(compactionCmd)
}

// messageContent joins args, reading stdin for a lone "-".
func messageContent(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

func messageFromFlags(args []string) compaction.Message {
	content, err := messageContent(args, os.Stdin)
	if err != nil {
		fail("%v", err)
	}
	id := msgID
	if id == "" {
		id = uuid.NewString()
	}
	return compaction.Message{
		Session:   msgSession,
		ID:        id,
		Role:      msgRole,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func runCompactionRegister(cmd *cobra.Command, args []string) {
	msg := messageFromFlags(args)

	var injector *compaction.Injector
	cleanup := mustStartApp(&injector)
	defer cleanup()

	registered, err := injector.RegisterMessage(context.Background(), msg.Session, msg.ID, msg.Content, msg.Role, msg.Timestamp)
	if err != nil {
		fail("%v", err)
	}
	if jsonOutput {
		printJSON(map[string]interface{}{"id": msg.ID, "registered": registered})
		return
	}
	if registered {
		fmt.Printf("✅ Registered %s\n", msg.ID)
	} else {
		fmt.Println("Duplicate content, not registered")
	}
}

func runCompactionDetect(cmd *cobra.Command, args []string) {
	msg := messageFromFlags(args)

	var injector *compaction.Injector
	cleanup := mustStartApp(&injector)
	defer cleanup()

	det, err := injector.DetectCompaction(context.Background(), msg.Session, msg.ID, msg.Content, msg.Role)
	if err != nil {
		fail("%v", err)
	}
	if jsonOutput {
		printJSON(det)
		return
	}
	if !det.Detected {
		fmt.Printf("No reset detected (state: %s)\n", det.State)
		return
	}
	fmt.Printf("⚠️  Reset detected: %s (%s), state: %s\n", det.Trigger, det.Pattern, det.State)
}

func runCompactionHandle(cmd *cobra.Command, args []string) {
	msg := messageFromFlags(args)

	var injector *compaction.Injector
	cleanup := mustStartApp(&injector)
	defer cleanup()

	out, err := injector.HandleMessage(context.Background(), msg)
	if out != nil {
		if jsonOutput {
			printJSON(out)
		} else {
			printOutcome(out)
		}
	}
	if err != nil {
		fail("%v", err)
	}
}

func printOutcome(out *compaction.Outcome) {
	fmt.Printf("Registered: %t\n", out.Registered)
	fmt.Printf("State:      %s\n", out.State)
	if !out.Detection.Detected {
		return
	}
	fmt.Printf("Trigger:    %s (%s)\n", out.Detection.Trigger, out.Detection.Pattern)
	if out.Injection != nil {
		fmt.Printf("Injected:   %s (%d tokens)\n", out.Injection.ID, out.Brief.Tokens)
	}
}

func runCompactionInject(cmd *cobra.Command, args []string) {
	var injector *compaction.Injector
	cleanup := mustStartApp(&injector)
	defer cleanup()

	ev, brief, err := injector.Inject(context.Background(), msgSession, "manual")
	if err != nil {
		fail("injecting: %v", err)
	}
	if jsonOutput {
		printJSON(map[string]interface{}{"injection": ev, "brief": brief})
		return
	}
	fmt.Printf("✅ Delivered brief %s to %s (%d tokens)\n", ev.ID, ev.Session, brief.Tokens)
}

func runCompactionBrief(cmd *cobra.Command, args []string) {
	var briefs *compaction.BriefBuilder
	cleanup := mustStartApp(&briefs)
	defer cleanup()

	brief, err := briefs.Build(context.Background())
	if err != nil {
		fail("building brief: %v", err)
	}
	if jsonOutput {
		printJSON(brief)
		return
	}
	fmt.Println(brief.Text)
}

func runCompactionState(cmd *cobra.Command, args []string) {
	var injector *compaction.Injector
	cleanup := mustStartApp(&injector)
	defer cleanup()

	st, err := injector.SessionState(context.Background(), msgSession)
	if err != nil {
		fail("%v", err)
	}
	if jsonOutput {
		printJSON(map[string]string{"session": msgSession, "state": st.String()})
		return
	}
	fmt.Printf("%s: %s\n", msgSession, st)
}
