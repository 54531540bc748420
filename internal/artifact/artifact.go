// Package artifact defines the validated structured outputs of the pipeline
// stages and the schema contract that model responses must satisfy before
// they are stored or forwarded downstream.
package artifact

import (
	"encoding/json"
	"fmt"
)

// Kind identifies an artifact variant.
type Kind string

const (
	KindSchemaAnalysis    Kind = "schema_analysis"
	KindCleaningReport    Kind = "cleaning_report"
	KindAnalysisReport    Kind = "analysis_report"
	KindVisualizationPlan Kind = "visualization_plan"
	KindQAReport          Kind = "qa_report"
	KindNarrative         Kind = "narrative"
)

// Artifact is the validated output of one pipeline stage. Artifacts are
// immutable once validated; later stages only read them.
type Artifact interface {
	Kind() Kind
}

// Text serializes an artifact for storage in retrieval memory.
func Text(a Artifact) (string, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize %s artifact: %w", a.Kind(), err)
	}
	return string(data), nil
}

// =============================================================================
// SCHEMA ANALYSIS (interpretation stage)
// =============================================================================

// SchemaAnalysis is the interpretation stage's view of the raw dataset.
type SchemaAnalysis struct {
	SchemaSummary     string            `json:"schema_summary"`
	KeyQuestions      []string          `json:"key_questions"`
	DataTypes         map[string]string `json:"data_types"`
	MissingValues     map[string]int    `json:"missing_values"`
	SuggestedAnalysis []string          `json:"suggested_analysis"`
}

func (*SchemaAnalysis) Kind() Kind { return KindSchemaAnalysis }

// =============================================================================
// CLEANING REPORT (wrangling stage)
// =============================================================================

// AuditEntry is one logged transformation in the cleaning audit trail.
type AuditEntry struct {
	Step    int    `json:"step"`
	Action  string `json:"action"`
	Details string `json:"details"`
}

// FinalDatasetMetrics records the actually-observed shape change. The
// orchestrator recomputes these from the executed result; model-claimed
// values are not trusted.
type FinalDatasetMetrics struct {
	OriginalShape        []int `json:"original_shape"`
	FinalShape           []int `json:"final_shape"`
	TotalTransformations int   `json:"total_transformations"`
	RowsRemoved          int   `json:"rows_removed"`
}

// CleaningReport is the wrangling stage artifact: the audit trail plus the
// generated transformation code that produced the cleaned dataset.
type CleaningReport struct {
	AuditLog                 []AuditEntry           `json:"audit_log"`
	SchemaValidation         map[string]interface{} `json:"schema_validation,omitempty"`
	MissingData              map[string]interface{} `json:"missing_data,omitempty"`
	Outliers                 map[string]interface{} `json:"outliers,omitempty"`
	Deduplication            map[string]interface{} `json:"deduplication,omitempty"`
	CategoricalNormalization map[string]interface{} `json:"categorical_normalization,omitempty"`
	FinalMetrics             FinalDatasetMetrics    `json:"final_dataset_metrics"`
	GeneratedCode            string                 `json:"generated_code"`

	// Filled by the orchestrator after execution, not by the model.
	CleanedCSVPath   string `json:"cleaned_csv_path,omitempty"`
	ExecutionFailure string `json:"execution_failure,omitempty"`
}

func (*CleaningReport) Kind() Kind { return KindCleaningReport }

// =============================================================================
// ANALYSIS REPORT (analysis stage)
// =============================================================================

// NumericStats holds descriptive statistics for one numeric column.
type NumericStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"25%"`
	P50   float64 `json:"50%"`
	P75   float64 `json:"75%"`
	Max   float64 `json:"max"`
}

// Correlation is one pairwise correlation, serialized as the JSON tuple
// ["column_a", "column_b", r].
type Correlation struct {
	A string
	B string
	R float64
}

// MarshalJSON encodes the correlation as a three-element tuple.
func (c Correlation) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.A, c.B, c.R})
}

// UnmarshalJSON decodes a ["a", "b", r] tuple.
func (c *Correlation) UnmarshalJSON(data []byte) error {
	var tuple []interface{}
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 3 {
		return fmt.Errorf("correlation tuple must have 3 elements, got %d", len(tuple))
	}
	a, ok := tuple[0].(string)
	if !ok {
		return fmt.Errorf("correlation tuple element 0 must be a string")
	}
	b, ok := tuple[1].(string)
	if !ok {
		return fmt.Errorf("correlation tuple element 1 must be a string")
	}
	r, ok := tuple[2].(float64)
	if !ok {
		return fmt.Errorf("correlation tuple element 2 must be a number")
	}
	c.A, c.B, c.R = a, b, r
	return nil
}

// OutlierReport describes outliers found in one column.
type OutlierReport struct {
	Column string    `json:"column"`
	Values []float64 `json:"values"`
	Count  int       `json:"count"`
}

// AnalysisReport is the analysis stage artifact. DescriptiveStats is an
// empty map (never null) for datasets with no numeric columns.
type AnalysisReport struct {
	CleanedCSVPath   string                  `json:"cleaned_csv_path"`
	DescriptiveStats map[string]NumericStats `json:"descriptive_stats"`
	Trends           []string                `json:"trends"`
	Correlations     []Correlation           `json:"correlations"`
	Outliers         []OutlierReport         `json:"outliers"`
	DataSummary      string                  `json:"data_summary"`
}

func (*AnalysisReport) Kind() Kind { return KindAnalysisReport }

// =============================================================================
// VISUALIZATION PLAN (visualization stage)
// =============================================================================

// ChartRecommendation is a single recommended chart.
type ChartRecommendation struct {
	ChartType   string   `json:"chart_type"`
	Reason      string   `json:"reason"`
	DataColumns []string `json:"data_columns"`
	Title       string   `json:"title"`
}

// VisualizationPlan is the visualization stage artifact: chart
// recommendations paired one-to-one with generated code snippets.
type VisualizationPlan struct {
	ChartRecommendations []ChartRecommendation `json:"chart_recommendations"`
	CodeSnippets         []string              `json:"code_snippets"`
}

func (*VisualizationPlan) Kind() Kind { return KindVisualizationPlan }

// =============================================================================
// QA REPORT (review stage)
// =============================================================================

// ReviewItem is one QA check result.
type ReviewItem struct {
	Stage   string `json:"stage"`
	Check   string `json:"check"`
	Status  string `json:"status"` // Pass, Warning, Fail
	Details string `json:"details"`
}

// UnmarshalJSON accepts the legacy "agent" key as an alias for "stage".
func (r *ReviewItem) UnmarshalJSON(data []byte) error {
	type alias struct {
		Stage   string `json:"stage"`
		Agent   string `json:"agent"`
		Check   string `json:"check"`
		Status  string `json:"status"`
		Details string `json:"details"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.Stage = a.Stage
	if r.Stage == "" {
		r.Stage = a.Agent
	}
	r.Check = a.Check
	r.Status = a.Status
	r.Details = a.Details
	return nil
}

// QAReport is the review stage artifact.
type QAReport struct {
	OverallStatus string       `json:"overall_status"` // Good, Needs Review, Critical Issues
	ReviewItems   []ReviewItem `json:"review_items"`
	Summary       string       `json:"summary"`
}

func (*QAReport) Kind() Kind { return KindQAReport }

// =============================================================================
// NARRATIVE (narration stage)
// =============================================================================

// Narrative is the final storytelling artifact.
type Narrative struct {
	ExecutiveSummary string   `json:"executive_summary"`
	DataOverview     string   `json:"data_overview"`
	KeyFindings      []string `json:"key_findings"`
	Conclusion       string   `json:"conclusion"`
}

func (*Narrative) Kind() Kind { return KindNarrative }
