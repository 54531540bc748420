package artifact

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SchemaError reports a failed schema contract. Validation is all-or-nothing:
// a payload with any missing or mismatched field produces no artifact.
type SchemaError struct {
	Stage      string
	Missing    []string
	Mismatched []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing fields: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, fmt.Sprintf("type mismatches: %s", strings.Join(e.Mismatched, ", ")))
	}
	if len(parts) == 0 {
		parts = append(parts, "invalid payload")
	}
	return fmt.Sprintf("schema validation failed for stage %q: %s", e.Stage, strings.Join(parts, "; "))
}

// fieldCheck validates one top-level field's shape.
type fieldCheck func(v interface{}) bool

// fieldSpec describes one required top-level field of a stage schema.
type fieldSpec struct {
	name  string
	check fieldCheck
}

// stageSchema is the per-stage contract: required fields and the
// unknown-field policy.
type stageSchema struct {
	fields []fieldSpec
	// strict rejects unknown extra fields; tolerant schemas ignore them.
	strict bool
	// aliases maps legacy field names to their canonical names before
	// structural checking (e.g. "correlation" -> "correlations").
	aliases map[string]string
	// build decodes the normalized payload into the typed artifact.
	build func(data []byte) (Artifact, error)
}

func isString(v interface{}) bool { _, ok := v.(string); return ok }
func isNumber(v interface{}) bool { _, ok := v.(float64); return ok }
func isObject(v interface{}) bool { _, ok := v.(map[string]interface{}); return ok }
func isList(v interface{}) bool   { _, ok := v.([]interface{}); return ok }

func isStringList(v interface{}) bool {
	list, ok := v.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if !isString(item) {
			return false
		}
	}
	return true
}

func isStringMap(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	for _, item := range m {
		if !isString(item) {
			return false
		}
	}
	return true
}

func isNumberMap(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	for _, item := range m {
		if !isNumber(item) {
			return false
		}
	}
	return true
}

func isObjectList(v interface{}) bool {
	list, ok := v.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if !isObject(item) {
			return false
		}
	}
	return true
}

// isObjectMap accepts a map whose values are objects (descriptive_stats).
// The empty map is explicitly valid: a dataset with zero numeric columns
// yields {} rather than an error.
func isObjectMap(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	for _, item := range m {
		if !isObject(item) {
			return false
		}
	}
	return true
}

func decodeInto[T Artifact](data []byte, out T) (Artifact, error) {
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

var schemas = map[Kind]stageSchema{
	KindSchemaAnalysis: {
		strict: true,
		fields: []fieldSpec{
			{"schema_summary", isString},
			{"key_questions", isStringList},
			{"data_types", isStringMap},
			{"missing_values", isNumberMap},
			{"suggested_analysis", isStringList},
		},
		build: func(data []byte) (Artifact, error) { return decodeInto(data, &SchemaAnalysis{}) },
	},
	KindCleaningReport: {
		fields: []fieldSpec{
			{"audit_log", isObjectList},
			{"final_dataset_metrics", isObject},
			{"generated_code", isString},
		},
		build: func(data []byte) (Artifact, error) { return decodeInto(data, &CleaningReport{}) },
	},
	KindAnalysisReport: {
		aliases: map[string]string{"correlation": "correlations"},
		fields: []fieldSpec{
			{"descriptive_stats", isObjectMap},
			{"trends", isStringList},
			{"correlations", isList},
			{"outliers", isObjectList},
			{"data_summary", isString},
		},
		build: func(data []byte) (Artifact, error) { return decodeInto(data, &AnalysisReport{}) },
	},
	KindVisualizationPlan: {
		aliases: map[string]string{"plotly_code_snippets": "code_snippets"},
		fields: []fieldSpec{
			{"chart_recommendations", isObjectList},
			{"code_snippets", isStringList},
		},
		build: func(data []byte) (Artifact, error) { return decodeInto(data, &VisualizationPlan{}) },
	},
	KindQAReport: {
		fields: []fieldSpec{
			{"overall_status", isString},
			{"review_items", isObjectList},
			{"summary", isString},
		},
		build: func(data []byte) (Artifact, error) { return decodeInto(data, &QAReport{}) },
	},
	KindNarrative: {
		fields: []fieldSpec{
			{"executive_summary", isString},
			{"data_overview", isString},
			{"key_findings", isStringList},
			{"conclusion", isString},
		},
		build: func(data []byte) (Artifact, error) { return decodeInto(data, &Narrative{}) },
	},
}

// Validate checks a JSON payload against the stage's schema contract and
// returns the normalized typed artifact. All-or-nothing: any missing field
// or type mismatch fails with *SchemaError naming the stage and fields.
func Validate(kind Kind, payload string) (Artifact, error) {
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("no schema registered for artifact kind %q", kind)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, &SchemaError{Stage: string(kind), Mismatched: []string{fmt.Sprintf("payload is not a JSON object: %v", err)}}
	}

	// Normalize legacy field names before checking.
	for legacy, canonical := range schema.aliases {
		if v, exists := raw[legacy]; exists {
			if _, already := raw[canonical]; !already {
				raw[canonical] = v
			}
			delete(raw, legacy)
		}
	}

	verr := &SchemaError{Stage: string(kind)}
	known := make(map[string]bool, len(schema.fields))
	for _, f := range schema.fields {
		known[f.name] = true
		v, exists := raw[f.name]
		if !exists || v == nil {
			verr.Missing = append(verr.Missing, f.name)
			continue
		}
		if !f.check(v) {
			verr.Mismatched = append(verr.Mismatched, f.name)
		}
	}
	if schema.strict {
		var extras []string
		for k := range raw {
			if !known[k] {
				extras = append(extras, k)
			}
		}
		sort.Strings(extras)
		for _, k := range extras {
			verr.Mismatched = append(verr.Mismatched, fmt.Sprintf("unexpected field %q", k))
		}
	}
	if len(verr.Missing) > 0 || len(verr.Mismatched) > 0 {
		return nil, verr
	}

	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-serialize payload: %w", err)
	}
	a, err := schema.build(normalized)
	if err != nil {
		// Structural checks passed but a nested field failed to decode.
		return nil, &SchemaError{Stage: string(kind), Mismatched: []string{err.Error()}}
	}
	return a, nil
}
