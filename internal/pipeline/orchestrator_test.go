package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"datascribe/internal/artifact"
	"datascribe/internal/config"
	"datascribe/internal/dataset"
	"datascribe/internal/embedding"
	"datascribe/internal/llm"
	"datascribe/internal/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go.opencensus.io starts a permanent worker goroutine in its
		// package init; it is a known goleak false positive.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// writeFixtureCSV writes 10 rows over 3 columns: two exact duplicate rows
// and one missing revenue value.
func writeFixtureCSV(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.csv")
	content := strings.Join([]string{
		"id,region,revenue",
		"1,north,100",
		"2,south,200",
		"2,south,200",
		"3,east,",
		"4,west,175",
		"5,north,130",
		"6,south,210",
		"7,east,160",
		"7,east,160",
		"8,west,190",
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

const schemaResponse = `{
	"schema_summary": "Sales records keyed by id across four regions. Revenue is numeric with one gap.",
	"key_questions": ["Is revenue in a single currency?"],
	"data_types": {"id": "int", "region": "str", "revenue": "float"},
	"missing_values": {"id": 0, "region": 0, "revenue": 1},
	"suggested_analysis": ["trend_analysis", "outlier_detection"]
}`

const cleaningCode = `
import "tabular"

func CleanData(t *tabular.Table) *tabular.Table {
	out := t.DropDuplicateRows()
	return out.FillMissing("revenue", "155")
}
`

const goodChartCode = `
import (
	"strconv"

	"chart"
	"tabular"
)

func BuildChart(t *tabular.Table) *chart.Figure {
	f := chart.NewFigure("bar", "Revenue by region")
	f.AddSeries("revenue", nil)
	for i := 0; i < t.NumRows(); i++ {
		v, _ := strconv.ParseFloat(t.Cell(i, "revenue"), 64)
		f.AddPoint(t.Cell(i, "region"), v)
	}
	return f
}
`

const badChartCode = `
import (
	"chart"
	"tabular"
)

func BuildChart(t *tabular.Table) *chart.Figure {
	f := chart.NewFigure("line", "Broken")
	f.AddSeries("x", nil)
	f.AddPoint(t.Rows[999][0], 1)
	return f
}
`

const analysisResponse = `{
	"cleaned_csv_path": "ignored",
	"descriptive_stats": {
		"revenue": {"count": 8, "mean": 165.0, "std": 36.0, "min": 100.0, "25%": 136.25, "50%": 167.5, "75%": 193.75, "max": 210.0}
	},
	"trends": ["South region leads revenue."],
	"correlation": [["id", "revenue", 0.41]],
	"outliers": [],
	"data_summary": "Revenue is fairly even across regions with a modest south lead."
}`

const qaResponse = `{
	"overall_status": "Good",
	"review_items": [
		{"stage": "Wrangler", "check": "row accounting", "status": "Pass", "details": "2 duplicates removed, 10 -> 8"},
		{"agent": "Visualizer", "check": "chart execution", "status": "Warning", "details": "1 of 2 charts failed"}
	],
	"summary": "Pipeline outputs are consistent; one chart needs a fix."
}`

const narrativeResponse = `{
	"executive_summary": "Sales are healthy and evenly distributed across regions.",
	"data_overview": "10 raw rows over 3 columns, reduced to 8 after deduplication.",
	"key_findings": ["South region leads revenue", "One revenue value was imputed"],
	"conclusion": "Collect more months of data before drawing seasonal conclusions."
}`

func scriptedResponses(t *testing.T) []string {
	t.Helper()
	cleaningResponse := fmt.Sprintf("```json\n"+`{
		"audit_log": [
			{"step": 1, "action": "Deduplication", "details": "Removed exact duplicate rows"},
			{"step": 2, "action": "Missing data handling", "details": "Filled revenue gap with median"}
		],
		"schema_validation": {"status": "valid"},
		"final_dataset_metrics": {"original_shape": [999, 999], "final_shape": [999, 999], "total_transformations": 99, "rows_removed": 99},
		"generated_code": %s,
		"cleaned_csv_path": ""
	}`+"\n```", mustJSON(t, cleaningCode))

	planResponse := fmt.Sprintf(`{
		"chart_recommendations": [
			{"chart_type": "bar", "reason": "Compare revenue across regions", "data_columns": ["region", "revenue"], "title": "Revenue by region"},
			{"chart_type": "line", "reason": "Show ordering", "data_columns": ["id"], "title": "Broken chart"}
		],
		"code_snippets": [%s, %s]
	}`, mustJSON(t, goodChartCode), mustJSON(t, badChartCode))

	return []string{
		schemaResponse, cleaningResponse, analysisResponse,
		planResponse, qaResponse, narrativeResponse,
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Prompt.SampleRows = 3
	cfg.Sandbox.Timeout = "10s"
	cfg.Sandbox.MaxParallelCharts = 2
	return cfg
}

func TestExecuteFullRun(t *testing.T) {
	csvPath := writeFixtureCSV(t)
	client := llm.NewScriptedClient(scriptedResponses(t)...)

	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.db"),
		embedding.NewLocalEngine(64), 1200, 200)
	if err != nil {
		t.Fatalf("failed to open memory store: %v", err)
	}
	defer store.Close()

	o := New(client, store, testConfig(t))
	run, err := o.Execute(context.Background(), csvPath)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.State != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", run.State)
	}
	if client.Calls() != 6 {
		t.Errorf("expected 6 model calls, got %d", client.Calls())
	}

	// Cleaning actually ran: duplicates dropped, metrics recomputed from
	// the executed result rather than the model's claim.
	m := run.Cleaning.FinalMetrics
	if m.OriginalShape[0] != 10 || m.FinalShape[0] != 8 || m.RowsRemoved != 2 {
		t.Errorf("unexpected final metrics: %+v", m)
	}
	if run.CleanedCSVPath == "" {
		t.Fatal("cleaned CSV path not set")
	}
	cleaned, err := dataset.LoadCSV(run.CleanedCSVPath)
	if err != nil {
		t.Fatalf("failed to load cleaned CSV: %v", err)
	}
	if cleaned.NumRows() != 8 {
		t.Errorf("cleaned CSV has %d rows, want 8", cleaned.NumRows())
	}
	for i := 0; i < cleaned.NumRows(); i++ {
		if cleaned.Cell(i, "revenue") == "" {
			t.Errorf("row %d still has missing revenue", i)
		}
	}

	// One chart succeeded, one failed in place.
	if len(run.Charts) != 2 {
		t.Fatalf("expected 2 chart results, got %d", len(run.Charts))
	}
	if run.Charts[0].Figure == nil || run.Charts[0].Error != "" {
		t.Errorf("first chart should have succeeded: %+v", run.Charts[0])
	}
	if run.Charts[0].Figure != nil && len(run.Charts[0].Figure.Series[0].Data) != 8 {
		t.Errorf("first chart should plot 8 points, got %d", len(run.Charts[0].Figure.Series[0].Data))
	}
	bad := run.Charts[1]
	if bad.Error == "" || bad.Figure != nil {
		t.Errorf("second chart should have failed: %+v", bad)
	}
	if bad.FailedCode == "" || len(bad.AvailableColumns) != 3 {
		t.Errorf("failed chart should carry code and columns: %+v", bad)
	}

	// Legacy "agent" field in QA items maps onto Stage.
	if len(run.QA.ReviewItems) != 2 || run.QA.ReviewItems[1].Stage != "Visualizer" {
		t.Errorf("unexpected QA items: %+v", run.QA.ReviewItems)
	}

	if run.Narrative.ExecutiveSummary == "" || len(run.Narrative.KeyFindings) == 0 {
		t.Errorf("narrative incomplete: %+v", run.Narrative)
	}

	// Artifacts landed in their stage collections.
	for _, kind := range []artifact.Kind{
		artifact.KindSchemaAnalysis, artifact.KindCleaningReport,
		artifact.KindAnalysisReport, artifact.KindVisualizationPlan,
		artifact.KindQAReport, artifact.KindNarrative,
	} {
		n, err := store.Count(string(kind))
		if err != nil {
			t.Fatalf("Count(%s): %v", kind, err)
		}
		if n == 0 {
			t.Errorf("no chunks stored for %s", kind)
		}
	}
}

func TestExecuteChartsMiddleFailureIsolated(t *testing.T) {
	// Failure in the middle slot of three: neighbors on both sides must
	// succeed and every result must land in its plan position, regardless
	// of parallel completion order.
	table, err := dataset.LoadCSV(writeFixtureCSV(t))
	if err != nil {
		t.Fatalf("failed to load fixture: %v", err)
	}

	o := New(llm.NewScriptedClient(), nil, testConfig(t))
	plan := &artifact.VisualizationPlan{
		ChartRecommendations: []artifact.ChartRecommendation{
			{ChartType: "bar", Title: "first"},
			{ChartType: "line", Title: "middle"},
			{ChartType: "bar", Title: "last"},
		},
		CodeSnippets: []string{goodChartCode, badChartCode, goodChartCode},
	}

	results := o.executeCharts(context.Background(), plan, table)
	if len(results) != 3 {
		t.Fatalf("expected 3 chart results, got %d", len(results))
	}
	for _, i := range []int{0, 2} {
		if results[i].Figure == nil || results[i].Error != "" {
			t.Errorf("chart %d should have succeeded: %+v", i, results[i])
		}
	}
	mid := results[1]
	if mid.Error == "" || mid.Figure != nil {
		t.Errorf("middle chart should have failed: %+v", mid)
	}
	if mid.Title != "middle" {
		t.Errorf("failure landed in the wrong slot: %+v", mid)
	}
	if mid.FailedCode == "" || len(mid.AvailableColumns) != 3 {
		t.Errorf("failed chart should carry code and columns: %+v", mid)
	}
}

func TestRetrieveCapsMergedChunksAtTopK(t *testing.T) {
	ctx := context.Background()
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.db"),
		embedding.NewLocalEngine(64), 40, 10)
	if err != nil {
		t.Fatalf("failed to open memory store: %v", err)
	}
	defer store.Close()

	// Several chunks in each of two prior stage collections.
	long := strings.Repeat("regional revenue findings ", 10)
	if err := store.Save(ctx, "r1", string(artifact.KindSchemaAnalysis), long); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, "r1", string(artifact.KindCleaningReport), long); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg := testConfig(t)
	cfg.Memory.TopK = 2
	o := New(llm.NewScriptedClient(), store, cfg)

	got := o.retrieve(ctx, "revenue findings", artifact.KindAnalysisReport)
	if len(got) != 2 {
		t.Errorf("merged retrieval should be capped at TopK=2, got %d chunks", len(got))
	}
}

func TestExecuteSchemaViolationIsFatal(t *testing.T) {
	csvPath := writeFixtureCSV(t)
	// Missing suggested_analysis.
	client := llm.NewScriptedClient(`{
		"schema_summary": "s",
		"key_questions": [],
		"data_types": {},
		"missing_values": {}
	}`)

	o := New(client, nil, testConfig(t))
	run, err := o.Execute(context.Background(), csvPath)
	if err == nil {
		t.Fatal("expected schema violation to fail the run")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %T", err)
	}
	if stageErr.Stage != StateInterpreting {
		t.Errorf("expected failure in INTERPRETING, got %s", stageErr.Stage)
	}
	var schemaErr *artifact.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected wrapped *SchemaError, got %v", err)
	}
	if run.State != StateFailed {
		t.Errorf("expected FAILED, got %s", run.State)
	}
	if run.Schema != nil {
		t.Error("no artifact should be produced from an invalid payload")
	}
}

func TestExecuteCleaningFailureIsContained(t *testing.T) {
	csvPath := writeFixtureCSV(t)

	responses := scriptedResponses(t)
	// Replace the wrangler response with code that panics at runtime.
	panicCode := `
import "tabular"

func CleanData(t *tabular.Table) *tabular.Table {
	t.Rows[999][0] = "x"
	return t
}
`
	responses[1] = fmt.Sprintf(`{
		"audit_log": [{"step": 1, "action": "Deduplication", "details": "planned"}],
		"final_dataset_metrics": {"original_shape": [10, 3], "final_shape": [8, 3], "total_transformations": 1, "rows_removed": 2},
		"generated_code": %s
	}`, mustJSON(t, panicCode))

	client := llm.NewScriptedClient(responses...)
	o := New(client, nil, testConfig(t))

	run, err := o.Execute(context.Background(), csvPath)
	if err != nil {
		t.Fatalf("cleaning failure must not abort the run: %v", err)
	}
	if run.State != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", run.State)
	}
	if run.Cleaning.ExecutionFailure == "" {
		t.Error("execution failure should be recorded on the report")
	}
	// Original data retained: all 10 rows survive.
	if m := run.Cleaning.FinalMetrics; m.FinalShape[0] != 10 || m.RowsRemoved != 0 {
		t.Errorf("expected original data retained, got %+v", m)
	}
	last := run.Cleaning.AuditLog[len(run.Cleaning.AuditLog)-1]
	if !strings.Contains(last.Details, "original data retained") {
		t.Errorf("audit log should note the fallback: %+v", last)
	}
}

func TestExecuteMissingCSV(t *testing.T) {
	o := New(llm.NewScriptedClient(), nil, testConfig(t))
	run, err := o.Execute(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))
	if err == nil {
		t.Fatal("expected load failure")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StateInitiated {
		t.Fatalf("expected StageError in INITIATED, got %v", err)
	}
	if run.State != StateFailed {
		t.Errorf("expected FAILED, got %s", run.State)
	}
}
