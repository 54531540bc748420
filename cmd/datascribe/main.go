package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"datascribe/internal/config"
	"datascribe/internal/embedding"
	"datascribe/internal/llm"
	"datascribe/internal/logging"
	"datascribe/internal/memory"
	"datascribe/internal/pipeline"
)

var (
	// Global flags
	verbose    bool
	apiKey     string
	configPath string
	outputPath string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "datascribe",
	Short: "datascribe - CSV to narrated analysis report",
	Long: `datascribe turns a raw CSV file into a validated, narrated analysis
report. A staged pipeline interprets the schema, cleans the data with
generated transformation code run in a sandbox, analyzes it, builds charts,
reviews everything, and writes the final story. Every model output is
validated against a strict schema before the run may continue.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
			if cfg.Embedding.APIKey == "" {
				cfg.Embedding.APIKey = apiKey
			}
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(".", logging.Settings{
			DebugMode: cfg.Logging.DebugMode,
			Level:     cfg.Logging.Level,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: logging unavailable: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

// runCmd executes the full pipeline for one CSV file
var runCmd = &cobra.Command{
	Use:   "run [csv-file]",
	Short: "Run the full analysis pipeline on a CSV file",
	Long: `Processes a CSV file through the staged pipeline:
  1. Interpret: profile the schema and propose analyses
  2. Wrangle: generate and execute cleaning code in the sandbox
  3. Analyze: descriptive statistics, trends, correlations, outliers
  4. Visualize: chart plan plus generated chart code, executed per chart
  5. Review: cross-stage QA
  6. Narrate: the final report

The run fails fast on schema violations; failures inside generated chart
code are recorded per chart and the run continues.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

// queryCmd searches the retrieval memory
var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search stored artifacts by similarity",
	Long: `Embeds the query text and returns the most similar stored artifact
chunks from a stage collection.

Example:
  datascribe query "revenue outliers" --stage analysis_report`,
	Args: cobra.MinimumNArgs(1),
	RunE: queryMemory,
}

var (
	queryStage string
	queryTopK  int
)

// statusCmd shows memory store contents
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory store statistics",
	RunE:  showStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (overrides config and env)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".datascribe/config.yaml", "config file path")

	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the full run report as JSON to this file")

	queryCmd.Flags().StringVar(&queryStage, "stage", "analysis_report", "stage collection to search")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of chunks to return (default from config)")

	rootCmd.AddCommand(runCmd, queryCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func openStore() (*memory.Store, error) {
	engine, err := embedding.NewEngine(embedding.Config{
		Provider:    cfg.Embedding.Provider,
		GenAIAPIKey: cfg.Embedding.APIKey,
		GenAIModel:  cfg.Embedding.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}
	return memory.NewStore(cfg.Memory.DatabasePath, engine,
		cfg.Memory.ChunkWindow, cfg.Memory.ChunkOverlap)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	csvPath := args[0]
	if _, err := os.Stat(csvPath); err != nil {
		return fmt.Errorf("cannot read %s: %w", csvPath, err)
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("no API key configured (set GEMINI_API_KEY or --api-key)")
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore()
	if err != nil {
		// Retrieval context is an enhancement, not a requirement.
		fmt.Fprintf(os.Stderr, "Warning: memory unavailable, continuing without retrieval: %v\n", err)
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	client := llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.GetLLMTimeout(),
	})

	started := time.Now()
	fmt.Printf("Analyzing %s ...\n", csvPath)

	run, err := pipeline.New(client, store, cfg).Execute(ctx, csvPath)
	if err != nil {
		return err
	}

	printRunSummary(run, time.Since(started))

	if outputPath != "" {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize run: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Full report written to %s\n", outputPath)
	}
	return nil
}

func printRunSummary(run *pipeline.Run, elapsed time.Duration) {
	fmt.Printf("\nRun %s finished in %s\n", run.ID, elapsed.Round(time.Millisecond))
	fmt.Printf("Cleaned dataset: %s\n", run.CleanedCSVPath)

	m := run.Cleaning.FinalMetrics
	fmt.Printf("Rows: %d -> %d (%d removed)\n",
		m.OriginalShape[0], m.FinalShape[0], m.RowsRemoved)
	if run.Cleaning.ExecutionFailure != "" {
		fmt.Printf("Note: cleaning code did not run (%s), original data retained\n",
			run.Cleaning.ExecutionFailure)
	}

	ok := 0
	for _, c := range run.Charts {
		if c.Error == "" {
			ok++
		}
	}
	fmt.Printf("Charts: %d of %d built\n", ok, len(run.Charts))
	for _, c := range run.Charts {
		if c.Error != "" {
			fmt.Printf("  failed: %s (%s)\n", c.Title, c.Error)
		}
	}

	fmt.Printf("QA: %s\n", run.QA.OverallStatus)

	n := run.Narrative
	fmt.Printf("\n=== Executive Summary ===\n%s\n", n.ExecutiveSummary)
	fmt.Printf("\n=== Data Overview ===\n%s\n", n.DataOverview)
	fmt.Printf("\n=== Key Findings ===\n")
	for _, f := range n.KeyFindings {
		fmt.Printf("  - %s\n", f)
	}
	fmt.Printf("\n=== Conclusion ===\n%s\n", n.Conclusion)
}

func queryMemory(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	k := queryTopK
	if k <= 0 {
		k = cfg.Memory.TopK
	}

	ctx, cancel := signalContext()
	defer cancel()

	chunks := store.Retrieve(ctx, strings.Join(args, " "), queryStage, k)
	if len(chunks) == 0 {
		fmt.Printf("No matches in %s\n", queryStage)
		return nil
	}
	for i, c := range chunks {
		fmt.Printf("--- match %d ---\n%s\n", i+1, c)
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stages := []string{
		"schema_analysis", "cleaning_report", "analysis_report",
		"visualization_plan", "qa_report", "narrative",
	}
	fmt.Printf("Memory store: %s\n", cfg.Memory.DatabasePath)
	for _, s := range stages {
		n, err := store.Count(s)
		if err != nil {
			return err
		}
		fmt.Printf("  %-20s %d chunks\n", s, n)
	}
	return nil
}
