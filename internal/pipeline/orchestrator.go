package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"datascribe/internal/artifact"
	"datascribe/internal/chart"
	"datascribe/internal/config"
	"datascribe/internal/dataset"
	"datascribe/internal/extract"
	"datascribe/internal/llm"
	"datascribe/internal/logging"
	"datascribe/internal/memory"
	"datascribe/internal/prompt"
	"datascribe/internal/sandbox"
)

// =============================================================================
// RUN STATE
// =============================================================================

// ChartResult is the outcome of executing one chart snippet. Exactly one of
// Figure and Error is meaningful. Failed results keep the source and the
// columns that were available so the failure is diagnosable from the report.
type ChartResult struct {
	Title            string        `json:"title"`
	Figure           *chart.Figure `json:"figure,omitempty"`
	Error            string        `json:"error,omitempty"`
	FailedCode       string        `json:"failed_code,omitempty"`
	AvailableColumns []string      `json:"available_columns,omitempty"`
}

// Run accumulates everything a pipeline execution produces.
type Run struct {
	ID             string
	CSVPath        string
	CleanedCSVPath string
	State          State
	StartedAt      time.Time
	FinishedAt     time.Time

	Schema    *artifact.SchemaAnalysis
	Cleaning  *artifact.CleaningReport
	Analysis  *artifact.AnalysisReport
	Plan      *artifact.VisualizationPlan
	QA        *artifact.QAReport
	Narrative *artifact.Narrative
	Charts    []ChartResult
}

// sections returns the accumulated artifacts as prompt sections, in pipeline
// order. Artifacts that fail to serialize are skipped.
func (r *Run) sections() []prompt.Section {
	var secs []prompt.Section
	add := func(title string, a artifact.Artifact) {
		text, err := artifact.Text(a)
		if err != nil {
			logging.PipelineError("Failed to serialize %s for prompt: %v", title, err)
			return
		}
		secs = append(secs, prompt.Section{Title: title, Body: text})
	}
	if r.Schema != nil {
		add("Schema analysis", r.Schema)
	}
	if r.Cleaning != nil {
		add("Cleaning report", r.Cleaning)
	}
	if r.Analysis != nil {
		add("Analysis report", r.Analysis)
	}
	if r.Plan != nil {
		add("Visualization plan", r.Plan)
	}
	if r.QA != nil {
		add("QA report", r.QA)
	}
	return secs
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator owns the stage loop. The model client, memory store, and
// sandbox executor are injected; a nil memory store degrades retrieval to
// empty context instead of failing.
type Orchestrator struct {
	client llm.Client
	mem    *memory.Store
	exec   *sandbox.Executor
	cfg    *config.Config
}

// New creates an orchestrator.
func New(client llm.Client, mem *memory.Store, cfg *config.Config) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Orchestrator{
		client: client,
		mem:    mem,
		exec:   sandbox.NewExecutor(),
		cfg:    cfg,
	}
}

// Execute runs the full pipeline for one CSV file. The returned Run is
// populated with every artifact produced before a failure, so partial
// progress is inspectable even when err is non-nil.
func (o *Orchestrator) Execute(ctx context.Context, csvPath string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		CSVPath:   csvPath,
		State:     StateInitiated,
		StartedAt: time.Now(),
	}
	defer func() { run.FinishedAt = time.Now() }()

	logging.Pipeline("Run %s started for %s", run.ID, csvPath)

	table, err := dataset.LoadCSV(csvPath)
	if err != nil {
		return o.fail(run, fmt.Errorf("failed to load dataset: %w", err))
	}
	profile, err := profileJSON(table, o.cfg.Prompt.SampleRows)
	if err != nil {
		return o.fail(run, err)
	}

	// INTERPRETING
	if err := o.advance(run, StateInterpreting); err != nil {
		return o.fail(run, err)
	}
	a, err := o.completeStage(ctx, run, artifact.KindSchemaAnalysis,
		"Analyze the schema of this dataset.", profile)
	if err != nil {
		return o.fail(run, err)
	}
	run.Schema = a.(*artifact.SchemaAnalysis)

	// WRANGLING
	if err := o.advance(run, StateWrangling); err != nil {
		return o.fail(run, err)
	}
	a, err = o.completeStage(ctx, run, artifact.KindCleaningReport,
		"Perform comprehensive data wrangling on this dataset and write the transformation code.", profile)
	if err != nil {
		return o.fail(run, err)
	}
	run.Cleaning = a.(*artifact.CleaningReport)

	cleaned, err := o.applyCleaning(ctx, run, table)
	if err != nil {
		return o.fail(run, err)
	}
	cleanedProfile, err := profileJSON(cleaned, o.cfg.Prompt.SampleRows)
	if err != nil {
		return o.fail(run, err)
	}

	// ANALYZING
	if err := o.advance(run, StateAnalyzing); err != nil {
		return o.fail(run, err)
	}
	a, err = o.completeStage(ctx, run, artifact.KindAnalysisReport,
		fmt.Sprintf("Analyze the cleaned dataset at %s.", run.CleanedCSVPath), cleanedProfile)
	if err != nil {
		return o.fail(run, err)
	}
	run.Analysis = a.(*artifact.AnalysisReport)

	// VISUALIZING
	if err := o.advance(run, StateVisualizing); err != nil {
		return o.fail(run, err)
	}
	a, err = o.completeStage(ctx, run, artifact.KindVisualizationPlan,
		fmt.Sprintf("Recommend charts for the key findings. AVAILABLE COLUMNS: %s.",
			strings.Join(cleaned.Columns, ", ")), cleanedProfile)
	if err != nil {
		return o.fail(run, err)
	}
	run.Plan = a.(*artifact.VisualizationPlan)

	// EXECUTING_CHARTS: contained failures only, this stage cannot fail.
	if err := o.advance(run, StateExecutingCharts); err != nil {
		return o.fail(run, err)
	}
	run.Charts = o.executeCharts(ctx, run.Plan, cleaned)

	// QA_REVIEW
	if err := o.advance(run, StateQAReview); err != nil {
		return o.fail(run, err)
	}
	a, err = o.completeStage(ctx, run, artifact.KindQAReport,
		"Review the outputs of every prior stage."+chartOutcomeNote(run.Charts), cleanedProfile)
	if err != nil {
		return o.fail(run, err)
	}
	run.QA = a.(*artifact.QAReport)

	// NARRATING
	if err := o.advance(run, StateNarrating); err != nil {
		return o.fail(run, err)
	}
	a, err = o.completeStage(ctx, run, artifact.KindNarrative,
		"Write the final narrative for this analysis.", cleanedProfile)
	if err != nil {
		return o.fail(run, err)
	}
	run.Narrative = a.(*artifact.Narrative)

	if err := o.advance(run, StateComplete); err != nil {
		return o.fail(run, err)
	}
	logging.Pipeline("Run %s complete: %d charts (%d failed)",
		run.ID, len(run.Charts), countFailed(run.Charts))
	return run, nil
}

// =============================================================================
// STAGE MECHANICS
// =============================================================================

// completeStage performs the shared stage loop: retrieve context, assemble
// the prompt, call the model, extract the payload, validate it against the
// stage schema, and store the artifact in memory.
func (o *Orchestrator) completeStage(ctx context.Context, run *Run, kind artifact.Kind, task, profile string) (artifact.Artifact, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, string(kind))
	defer timer.Stop()

	user := prompt.Assemble(prompt.Input{
		Task:           task,
		DatasetSummary: profile,
		Artifacts:      run.sections(),
		Retrieved:      o.retrieve(ctx, task, kind),
		MaxBytes:       o.cfg.Prompt.MaxBytes,
	})

	raw, err := o.client.Complete(ctx, prompt.System(kind), user)
	if err != nil {
		return nil, fmt.Errorf("model request for %s failed: %w", kind, err)
	}

	payload, err := extract.Payload(raw)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", kind, err)
	}

	a, err := artifact.Validate(kind, payload)
	if err != nil {
		return nil, err
	}

	o.remember(ctx, run.ID, a)
	return a, nil
}

// applyCleaning runs the wrangler's generated code in the sandbox against a
// clone of the raw table. Execution failure is contained: the original data
// is retained, the failure is recorded on the report, and the run continues.
// The cleaned CSV is written next to the input and the final metrics are
// recomputed from what actually happened, not from what the model claimed.
func (o *Orchestrator) applyCleaning(ctx context.Context, run *Run, table *dataset.Table) (*dataset.Table, error) {
	report := run.Cleaning
	cleaned := table

	if code := extract.Code(report.GeneratedCode); strings.TrimSpace(code) != "" {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.GetSandboxTimeout())
		out, err := o.exec.RunCleaning(sctx, code, table)
		cancel()
		if err != nil {
			report.ExecutionFailure = err.Error()
			report.AuditLog = append(report.AuditLog, artifact.AuditEntry{
				Step:    len(report.AuditLog) + 1,
				Action:  "Cleaning code execution",
				Details: "failed, original data retained: " + err.Error(),
			})
			logging.PipelineError("Run %s: cleaning code failed, keeping original data: %v", run.ID, err)
		} else {
			cleaned = out
		}
	} else {
		report.ExecutionFailure = "no executable code generated"
	}

	cleanedPath := dataset.CleanedPath(run.CSVPath)
	if err := dataset.SaveCSV(cleaned, cleanedPath); err != nil {
		return nil, fmt.Errorf("failed to write cleaned dataset: %w", err)
	}
	run.CleanedCSVPath = cleanedPath
	report.CleanedCSVPath = cleanedPath

	report.FinalMetrics = artifact.FinalDatasetMetrics{
		OriginalShape:        []int{table.NumRows(), table.NumColumns()},
		FinalShape:           []int{cleaned.NumRows(), cleaned.NumColumns()},
		TotalTransformations: len(report.AuditLog),
		RowsRemoved:          table.NumRows() - cleaned.NumRows(),
	}

	// Re-store with the corrected metrics; stable chunk ids make this an
	// overwrite, not a duplicate.
	o.remember(ctx, run.ID, report)
	return cleaned, nil
}

// retrieve gathers memory chunks from every stage collection that precedes
// kind, orders them by similarity with stage order breaking ties, and caps
// the merged list at TopK total. A nil store or any retrieval failure yields
// no context.
func (o *Orchestrator) retrieve(ctx context.Context, query string, kind artifact.Kind) []string {
	if o.mem == nil || o.cfg.Memory.TopK <= 0 {
		return nil
	}
	order := []artifact.Kind{
		artifact.KindSchemaAnalysis,
		artifact.KindCleaningReport,
		artifact.KindAnalysisReport,
		artifact.KindVisualizationPlan,
		artifact.KindQAReport,
	}
	var scored []memory.ScoredChunk
	for _, k := range order {
		if k == kind {
			break
		}
		scored = append(scored, o.mem.RetrieveScored(ctx, query, string(k), o.cfg.Memory.TopK)...)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > o.cfg.Memory.TopK {
		scored = scored[:o.cfg.Memory.TopK]
	}
	out := make([]string, len(scored))
	for i, c := range scored {
		out[i] = c.Text
	}
	return out
}

// remember stores an artifact's serialized text in its stage collection.
// Memory failures degrade retrieval for later stages, they never fail a run.
func (o *Orchestrator) remember(ctx context.Context, runID string, a artifact.Artifact) {
	if o.mem == nil {
		return
	}
	text, err := artifact.Text(a)
	if err != nil {
		logging.MemoryWarn("Failed to serialize %s for memory: %v", a.Kind(), err)
		return
	}
	if err := o.mem.Save(ctx, runID, string(a.Kind()), text); err != nil {
		logging.MemoryWarn("Failed to store %s in memory: %v", a.Kind(), err)
	}
}

func (o *Orchestrator) advance(run *Run, next State) error {
	if !run.State.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s", run.State, next)
	}
	logging.PipelineDebug("Run %s: %s -> %s", run.ID, run.State, next)
	run.State = next
	return nil
}

// fail moves the run to FAILED and wraps the cause in a StageError naming
// the stage the run died in.
func (o *Orchestrator) fail(run *Run, err error) (*Run, error) {
	stage := run.State
	logging.PipelineError("Run %s failed in %s: %v", run.ID, stage, err)
	run.State = StateFailed
	return run, &StageError{Stage: stage, Err: err}
}

func profileJSON(t *dataset.Table, sampleRows int) (string, error) {
	data, err := json.MarshalIndent(dataset.Summarize(t, sampleRows), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize dataset profile: %w", err)
	}
	return string(data), nil
}

// chartOutcomeNote summarizes chart execution for the QA prompt.
func chartOutcomeNote(results []ChartResult) string {
	if len(results) == 0 {
		return ""
	}
	failed := countFailed(results)
	note := fmt.Sprintf(" %d of %d charts executed successfully.", len(results)-failed, len(results))
	for _, r := range results {
		if r.Error != "" {
			note += fmt.Sprintf(" Chart %q failed: %s.", r.Title, r.Error)
		}
	}
	return note
}

func countFailed(results []ChartResult) int {
	n := 0
	for _, r := range results {
		if r.Error != "" {
			n++
		}
	}
	return n
}
