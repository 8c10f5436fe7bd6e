package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pagewatch/internal/logging"
	"pagewatch/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pagewatch",
	Short: "pagewatch - LLM-driven web page watcher",
	Long: `pagewatch executes natural-language watching tasks against web pages.

A task ("Check the roast date and price of the Ethiopia Natural") is turned
into a browser automation plan by an LLM, executed headlessly, and cached so
subsequent runs replay without model calls. Failed replays regenerate the plan
from the live page; successful extractions feed change detection.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// runCmd executes a single task end to end
var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Execute a watching task against a URL",
	Long: `Runs one task through the full pipeline: cached plan replay when a plan
exists for the (instruction, url) signature, otherwise the interactive loop
(or direct plan generation with --mode plan), then persistence and change
detection when a database is configured.

Example:
  pagewatch run "Check the roast date and price" --url https://roastery.example.com/p/ethiopia`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

// planCmd generates and caches a plan without executing it
var planCmd = &cobra.Command{
	Use:   "plan [instruction]",
	Short: "Generate and cache an execution plan without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlanOnly,
}

var (
	taskURL      string
	taskID       string
	taskMode     string
	forceNewPlan bool
	execOnly     bool
	planID       string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	runCmd.Flags().StringVar(&taskURL, "url", "", "Target page URL (required)")
	runCmd.Flags().StringVar(&taskID, "task-id", "", "Task id for monitoring history")
	runCmd.Flags().StringVar(&taskMode, "mode", "", "Execution mode: interactive, plan, auto")
	runCmd.Flags().BoolVar(&forceNewPlan, "force-new-plan", false, "Ignore the cached plan")
	runCmd.Flags().BoolVar(&execOnly, "execution-only", false, "Replay a cached plan, never generate")
	runCmd.Flags().StringVar(&planID, "plan-id", "", "Replay this exact plan (implies --execution-only)")
	_ = runCmd.MarkFlagRequired("url")

	planCmd.Flags().StringVar(&taskURL, "url", "", "Target page URL (required)")
	_ = planCmd.MarkFlagRequired("url")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTask(cmd *cobra.Command, args []string) error {
	task := types.TaskInput{
		Instruction: joinArgs(args),
		URL:         taskURL,
		TaskID:      taskID,
	}
	if taskMode != "" || forceNewPlan || execOnly || planID != "" {
		task.Options = &types.TaskOptions{
			ExecutionMode: types.ExecutionMode(taskMode),
			ForceNewPlan:  forceNewPlan,
			ExecutionOnly: execOnly || planID != "",
			PlanID:        planID,
		}
	}
	return invoke(cmd, task)
}

func runPlanOnly(cmd *cobra.Command, args []string) error {
	task := types.TaskInput{
		Instruction: joinArgs(args),
		URL:         taskURL,
		Options:     &types.TaskOptions{PlanOnly: true},
	}
	return invoke(cmd, task)
}

// invoke runs one task through a freshly wired engine and prints the wire
// body, mirroring what a serve deployment would return.
func invoke(cmd *cobra.Command, task types.TaskInput) error {
	ctx, cancel := signalContext(timeout)
	defer cancel()

	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Info("Executing task",
		zap.String("instruction", task.Instruction),
		zap.String("url", task.URL))

	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	lr := engine.Handler.Handle(ctx, raw)

	fmt.Println(prettyJSON(lr.Body))
	if lr.StatusCode >= 400 {
		return fmt.Errorf("task failed with status %d", lr.StatusCode)
	}
	return nil
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func prettyJSON(body string) string {
	var buf map[string]interface{}
	if err := json.Unmarshal([]byte(body), &buf); err != nil {
		return body
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return body
	}
	return string(pretty)
}
