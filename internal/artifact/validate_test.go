package artifact

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const validSchemaPayload = `{
	"schema_summary": "Two sentence overview.",
	"key_questions": ["Q1"],
	"data_types": {"id": "int", "region": "str"},
	"missing_values": {"id": 0, "region": 2},
	"suggested_analysis": ["trend_analysis"]
}`

func TestValidateSchemaAnalysis(t *testing.T) {
	a, err := Validate(KindSchemaAnalysis, validSchemaPayload)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	sa, ok := a.(*SchemaAnalysis)
	if !ok {
		t.Fatalf("wrong type %T", a)
	}
	if sa.MissingValues["region"] != 2 || sa.DataTypes["id"] != "int" {
		t.Errorf("fields not decoded: %+v", sa)
	}
}

func TestValidateIdempotent(t *testing.T) {
	a, err := Validate(KindSchemaAnalysis, validSchemaPayload)
	if err != nil {
		t.Fatalf("first Validate failed: %v", err)
	}
	text, err := Text(a)
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	b, err := Validate(KindSchemaAnalysis, text)
	if err != nil {
		t.Fatalf("re-validating serialized artifact failed: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("round trip changed the artifact (-first +second):\n%s", diff)
	}
}

func TestValidateMissingFieldAllOrNothing(t *testing.T) {
	payload := `{
		"schema_summary": "s",
		"key_questions": [],
		"data_types": {},
		"missing_values": {}
	}`
	a, err := Validate(KindSchemaAnalysis, payload)
	if a != nil {
		t.Error("no artifact may be produced from an invalid payload")
	}
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SchemaError, got %T", err)
	}
	if len(serr.Missing) != 1 || serr.Missing[0] != "suggested_analysis" {
		t.Errorf("wrong missing list: %v", serr.Missing)
	}
	if serr.Stage != string(KindSchemaAnalysis) {
		t.Errorf("wrong stage: %s", serr.Stage)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	payload := strings.Replace(validSchemaPayload, `["Q1"]`, `"Q1"`, 1)
	_, err := Validate(KindSchemaAnalysis, payload)
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if len(serr.Mismatched) != 1 || serr.Mismatched[0] != "key_questions" {
		t.Errorf("wrong mismatch list: %v", serr.Mismatched)
	}
}

func TestValidateStrictRejectsExtraFields(t *testing.T) {
	payload := strings.Replace(validSchemaPayload, `"schema_summary"`,
		`"bonus": 1, "schema_summary"`, 1)
	_, err := Validate(KindSchemaAnalysis, payload)
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if len(serr.Mismatched) != 1 || !strings.Contains(serr.Mismatched[0], "bonus") {
		t.Errorf("extra field not flagged: %v", serr.Mismatched)
	}
}

func TestValidateNotAnObject(t *testing.T) {
	for _, payload := range []string{`[1]`, `"str"`, `{broken`} {
		var serr *SchemaError
		_, err := Validate(KindSchemaAnalysis, payload)
		if !errors.As(err, &serr) {
			t.Errorf("Validate(%q): expected *SchemaError, got %v", payload, err)
		}
	}
}

func TestValidateAnalysisLegacyCorrelationAlias(t *testing.T) {
	payload := `{
		"cleaned_csv_path": "p.csv",
		"descriptive_stats": {"rev": {"count": 8, "mean": 1, "std": 1, "min": 0, "25%": 0, "50%": 1, "75%": 1, "max": 2}},
		"trends": ["t"],
		"correlation": [["a", "b", 0.9]],
		"outliers": [{"column": "rev", "values": [99], "count": 1}],
		"data_summary": "s"
	}`
	a, err := Validate(KindAnalysisReport, payload)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	ar := a.(*AnalysisReport)
	if len(ar.Correlations) != 1 {
		t.Fatalf("alias not normalized: %+v", ar)
	}
	c := ar.Correlations[0]
	if c.A != "a" || c.B != "b" || c.R != 0.9 {
		t.Errorf("correlation tuple decoded wrong: %+v", c)
	}
	if ar.DescriptiveStats["rev"].P25 != 0 || ar.DescriptiveStats["rev"].Max != 2 {
		t.Errorf("percentile keys decoded wrong: %+v", ar.DescriptiveStats["rev"])
	}
}

func TestValidateAnalysisEmptyStats(t *testing.T) {
	// A dataset with zero numeric columns yields {} for descriptive_stats,
	// which is valid.
	payload := `{
		"cleaned_csv_path": "p.csv",
		"descriptive_stats": {},
		"trends": [],
		"correlations": [],
		"outliers": [],
		"data_summary": "All columns are categorical."
	}`
	a, err := Validate(KindAnalysisReport, payload)
	if err != nil {
		t.Fatalf("empty descriptive_stats should validate: %v", err)
	}
	if len(a.(*AnalysisReport).DescriptiveStats) != 0 {
		t.Error("expected empty stats map")
	}
}

func TestValidateVisualizationLegacySnippetAlias(t *testing.T) {
	payload := `{
		"chart_recommendations": [{"chart_type": "bar", "reason": "r", "data_columns": ["a"], "title": "T"}],
		"plotly_code_snippets": ["func BuildChart() {}"]
	}`
	a, err := Validate(KindVisualizationPlan, payload)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	vp := a.(*VisualizationPlan)
	if len(vp.CodeSnippets) != 1 {
		t.Errorf("legacy snippet field not normalized: %+v", vp)
	}
}

func TestValidateQALegacyAgentField(t *testing.T) {
	payload := `{
		"overall_status": "Good",
		"review_items": [{"agent": "Analyst", "check": "c", "status": "Pass", "details": "d"}],
		"summary": "s"
	}`
	a, err := Validate(KindQAReport, payload)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	qa := a.(*QAReport)
	if qa.ReviewItems[0].Stage != "Analyst" {
		t.Errorf("agent alias not mapped to stage: %+v", qa.ReviewItems[0])
	}
}

func TestCorrelationMarshalTuple(t *testing.T) {
	a := &AnalysisReport{
		CleanedCSVPath:   "p.csv",
		DescriptiveStats: map[string]NumericStats{},
		Trends:           []string{},
		Correlations:     []Correlation{{A: "x", B: "y", R: -0.5}},
		Outliers:         []OutlierReport{},
		DataSummary:      "s",
	}
	text, err := Text(a)
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if !strings.Contains(text, `"x"`) || !strings.Contains(text, `-0.5`) {
		t.Errorf("tuple not serialized: %s", text)
	}
	// The serialized form must validate again.
	if _, err := Validate(KindAnalysisReport, text); err != nil {
		t.Errorf("serialized report failed validation: %v", err)
	}
}

func TestValidateUnknownKind(t *testing.T) {
	if _, err := Validate(Kind("bogus"), `{}`); err == nil {
		t.Error("expected error for unknown kind")
	}
}
