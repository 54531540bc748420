// Package prompt builds the per-stage model requests: a fixed system
// instruction describing the stage's JSON contract, plus a user message
// assembled from the dataset profile, prior artifacts, and retrieved memory
// chunks under a hard byte budget. The full dataset is never embedded, only
// its profile and a handful of sample rows.
package prompt

import (
	"fmt"
	"strings"

	"datascribe/internal/artifact"
)

// DefaultMaxBytes caps the assembled user message.
const DefaultMaxBytes = 48 * 1024

const truncationMark = "\n[context truncated]\n"

// SystemInterpreter instructs the schema interpretation stage.
const SystemInterpreter = `You are a world-class CSV schema analyst. Analyze the provided dataset profile and output STRICTLY in this JSON format:
{
    "schema_summary": "Concise 2-sentence overview of the dataset",
    "key_questions": ["Question 1 for clarification", "Question 2"],
    "data_types": {"column1": "int", "column2": "str"},
    "missing_values": {"column1": 5, "column2": 0},
    "suggested_analysis": ["trend_analysis", "outlier_detection"]
}

Rules:
1. NEVER add extra fields or explanations
2. For missing_values, count empty values per column
3. Suggest 2-3 analysis types based on data patterns
4. If a timestamp column exists, add "time_series" to suggested_analysis
5. Output ONLY valid JSON`

// SystemWrangler instructs the cleaning stage. The generated_code field must
// hold Go source runnable in the sandbox.
const SystemWrangler = `You are a senior data engineer responsible for preparing raw data for analysis. Your job is to plan comprehensive data wrangling with full auditability and to write the transformation code that performs it.

OUTPUT STRICTLY IN THIS JSON FORMAT:
{
    "audit_log": [
        {"step": 1, "action": "Schema validation", "details": "All required columns present"},
        {"step": 2, "action": "Missing data handling", "details": "Filled 'age' with median (15 values)"}
    ],
    "schema_validation": {"status": "valid", "missing_columns": [], "type_mismatches": {}},
    "missing_data": {"summary": {}, "total_rows_dropped": 0},
    "outliers": {"detected": {}, "treatment": "flagged, not removed"},
    "deduplication": {"exact_duplicates_removed": 2, "rows_after_cleaning": 98},
    "categorical_normalization": {"values_normalized": {}},
    "final_dataset_metrics": {"original_shape": [100, 14], "final_shape": [98, 14], "total_transformations": 6, "rows_removed": 2},
    "generated_code": "...Go source...",
    "cleaned_csv_path": ""
}

Rules for generated_code:
1. It must be Go source defining exactly one function:
       func CleanData(t *tabular.Table) *tabular.Table
2. Import "tabular" for the table type. Other allowed imports: strings, strconv, fmt, math, regexp, sort, time, unicode.
3. Tables hold string cells. Use the table methods: DropDuplicateRows, DropColumn, RenameColumn, FillMissing, MapColumn, Filter, SortBy, Mean, Median, FloatColumn, Cell, Column, NumRows.
4. Remove exact duplicate rows. Flag outliers in the report but do NOT remove them.
5. Never import os, net, or any package outside the allowed list.
6. Leave cleaned_csv_path empty. It is filled in after the code runs.
7. Output ONLY valid JSON. Put the code in the generated_code string, escaped, without markdown fences.`

// SystemAnalyst instructs the analysis stage.
const SystemAnalyst = `You are a senior data analyst. Your job is to:
- Run descriptive statistics on numeric data
- Identify trends, correlations, and patterns
- Use the interpreter's schema and suggested analysis to guide your work

You must output STRICTLY this JSON format:
{
    "cleaned_csv_path": "path provided to you",
    "descriptive_stats": {"column": {"count": 98, "mean": 1.0, "std": 0.5, "min": 0.0, "25%": 0.5, "50%": 1.0, "75%": 1.5, "max": 2.0}},
    "trends": ["trend 1", "trend 2"],
    "correlations": [["column_a", "column_b", 0.87]],
    "outliers": [{"column": "revenue", "values": [9999], "count": 1}],
    "data_summary": "Comprehensive summary of key insights"
}

Rules:
1. descriptive_stats covers numeric columns only. If there are none, output an empty object for it.
2. Each correlation is a three-element array: two column names and the coefficient.
3. Output ONLY valid JSON.`

// SystemVisualizer instructs the chart planning stage. Snippets must be Go
// source runnable in the sandbox, one per recommendation, same order.
const SystemVisualizer = `You are a senior data visualization expert. Analyze the provided analysis report and recommend appropriate charts, along with Go code to build them.

You must output STRICTLY this JSON format:
{
    "chart_recommendations": [
        {"chart_type": "bar", "reason": "...", "data_columns": ["region", "revenue"], "title": "Revenue by region"}
    ],
    "code_snippets": ["...Go source..."]
}

Instructions:
1. Analyze the descriptive_stats, trends, correlations, and outliers from the analysis report.
2. Recommend 2-4 charts that best visualize the key findings. Use chart_type values: bar, line, scatter, histogram, box, pie.
3. For each recommendation provide one code snippet, in the same order. Each snippet must be Go source defining exactly one function:
       func BuildChart(t *tabular.Table) *chart.Figure
4. Import "tabular" and "chart". Other allowed imports: strings, strconv, fmt, math, regexp, sort, time, unicode.
5. Build figures with chart.NewFigure(chartType, title), then AddSeries(name, nil) and AddPoint(label, value). Read cells with t.Cell(i, "column") and parse numbers with strconv.ParseFloat.
6. Reference only columns listed under AVAILABLE COLUMNS.
7. Output ONLY the valid JSON object. No markdown fences, no extra text.`

// SystemQA instructs the review stage.
const SystemQA = `You are a meticulous quality assurance reviewer for a data analysis pipeline. Review the outputs of every prior stage for consistency, plausibility, and completeness.

You must output STRICTLY this JSON format:
{
    "overall_status": "Good",
    "review_items": [
        {"stage": "Interpreter", "check": "schema coverage", "status": "Pass", "details": "All columns typed"}
    ],
    "summary": "Concise summary of the QA findings"
}

Rules:
1. overall_status is one of: "Good", "Needs Review", "Critical Issues".
2. status per item is one of: "Pass", "Warning", "Fail".
3. Cross-check numbers between stages: row counts, column names, stats referenced by trends.
4. Note any chart that failed to execute as a Warning, not a Fail.
5. Output ONLY valid JSON.`

// SystemNarrator instructs the final narrative stage.
const SystemNarrator = `You are a data storyteller. Turn the full analysis into a clear narrative for a non-technical reader.

You must output STRICTLY this JSON format:
{
    "executive_summary": "High-level summary suitable for executives",
    "data_overview": "Description of the dataset itself: size, columns, quality",
    "key_findings": ["finding 1", "finding 2"],
    "conclusion": "Closing interpretation and recommended next steps"
}

Rules:
1. Ground every claim in the artifacts you are given. Do not invent numbers.
2. Mention data quality caveats raised by the QA review.
3. Output ONLY valid JSON.`

// System returns the system instruction for a stage's artifact kind.
func System(kind artifact.Kind) string {
	switch kind {
	case artifact.KindSchemaAnalysis:
		return SystemInterpreter
	case artifact.KindCleaningReport:
		return SystemWrangler
	case artifact.KindAnalysisReport:
		return SystemAnalyst
	case artifact.KindVisualizationPlan:
		return SystemVisualizer
	case artifact.KindQAReport:
		return SystemQA
	case artifact.KindNarrative:
		return SystemNarrator
	default:
		return ""
	}
}

// Section is one titled block of the user message.
type Section struct {
	Title string
	Body  string
}

// Input collects everything a stage's user message is assembled from.
type Input struct {
	DatasetSummary string    // serialized dataset profile, never the dataset
	Artifacts      []Section // prior artifacts in pipeline order
	Retrieved      []string  // memory chunks, most similar first
	Task           string    // the stage's concrete request
	MaxBytes       int       // 0 selects DefaultMaxBytes
}

// Assemble builds the user message. The task and dataset profile are always
// included. Artifact sections are added in pipeline order, then retrieved
// chunks in similarity order; when the budget runs out the remaining
// lower-priority material is dropped and a truncation mark is appended.
func Assemble(in Input) string {
	max := in.MaxBytes
	if max <= 0 {
		max = DefaultMaxBytes
	}

	var b strings.Builder
	if in.Task != "" {
		b.WriteString(in.Task)
		b.WriteString("\n\n")
	}
	if in.DatasetSummary != "" {
		b.WriteString("DATASET PROFILE:\n")
		b.WriteString(in.DatasetSummary)
		b.WriteString("\n\n")
	}

	truncated := false
	for _, s := range in.Artifacts {
		block := fmt.Sprintf("%s:\n%s\n\n", strings.ToUpper(s.Title), s.Body)
		if b.Len()+len(block) > max {
			truncated = true
			break
		}
		b.WriteString(block)
	}

	if !truncated && len(in.Retrieved) > 0 {
		header := "RELEVANT CONTEXT FROM EARLIER STAGES:\n"
		if b.Len()+len(header) <= max {
			b.WriteString(header)
			for _, chunk := range in.Retrieved {
				block := chunk + "\n---\n"
				if b.Len()+len(block) > max {
					truncated = true
					break
				}
				b.WriteString(block)
			}
			b.WriteString("\n")
		} else {
			truncated = true
		}
	}

	out := b.String()
	if truncated {
		out += truncationMark
	}
	return out
}
