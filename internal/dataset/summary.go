package dataset

import (
	"strconv"
	"strings"
	"time"
)

// DType is the inferred column type.
type DType string

const (
	DTypeInt    DType = "int"
	DTypeFloat  DType = "float"
	DTypeBool   DType = "bool"
	DTypeDate   DType = "date"
	DTypeString DType = "string"
)

// ColumnSummary describes one column for prompt context.
type ColumnSummary struct {
	Name      string `json:"name"`
	DType     DType  `json:"dtype"`
	NullCount int    `json:"null_count"`
	Distinct  int    `json:"distinct"`
}

// Summary is the bounded dataset description handed to the generative
// capability. It never contains the full dataset: shape, columns, inferred
// dtypes, quality counters, structural hints, and a small row sample only.
type Summary struct {
	Rows          int              `json:"rows"`
	Cols          int              `json:"columns"`
	ColumnInfo    []ColumnSummary  `json:"column_info"`
	DuplicateRows int              `json:"duplicate_rows"`

	// Structural hints (keyword/shape based, not analysis).
	PotentialIdentifiers []string `json:"potential_identifiers,omitempty"`
	PotentialTimestamps  []string `json:"potential_timestamps,omitempty"`
	PotentialCategorical []string `json:"potential_categorical,omitempty"`
	PotentialNumeric     []string `json:"potential_numeric,omitempty"`

	SampleColumns []string   `json:"sample_columns"`
	SampleRows    [][]string `json:"sample_rows"`
}

var dateLayouts = []string{
	"2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
	"2006-01-02 15:04:05", time.RFC3339, "Jan 2, 2006", "2 Jan 2006",
}

var (
	identifierKeywords = []string{"id", "key", "index", "uuid", "code"}
	timestampKeywords  = []string{"date", "time", "timestamp", "created", "updated", "modified"}
)

// InferDType classifies a column from its non-empty values.
// Empty columns classify as string.
func InferDType(values []string) DType {
	var nonEmpty int
	isInt, isFloat, isBool, isDate := true, true, true, true
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			isFloat = false
		}
		switch strings.ToLower(v) {
		case "true", "false", "yes", "no":
		default:
			isBool = false
		}
		if !parsesAsDate(v) {
			isDate = false
		}
	}
	if nonEmpty == 0 {
		return DTypeString
	}
	switch {
	case isBool:
		return DTypeBool
	case isInt:
		return DTypeInt
	case isFloat:
		return DTypeFloat
	case isDate:
		return DTypeDate
	default:
		return DTypeString
	}
}

func parsesAsDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// Summarize builds the bounded Summary, including at most sampleRows rows.
func Summarize(t *Table, sampleRows int) *Summary {
	if sampleRows <= 0 {
		sampleRows = 5
	}

	s := &Summary{
		Rows:          t.NumRows(),
		Cols:          t.NumColumns(),
		SampleColumns: append([]string(nil), t.Columns...),
	}

	for _, name := range t.Columns {
		values := t.Column(name)
		nulls := 0
		distinct := make(map[string]struct{})
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				nulls++
				continue
			}
			distinct[v] = struct{}{}
		}
		dtype := InferDType(values)
		s.ColumnInfo = append(s.ColumnInfo, ColumnSummary{
			Name:      name,
			DType:     dtype,
			NullCount: nulls,
			Distinct:  len(distinct),
		})

		lower := strings.ToLower(name)
		if containsAny(lower, identifierKeywords) {
			s.PotentialIdentifiers = append(s.PotentialIdentifiers, name)
		}
		if containsAny(lower, timestampKeywords) || dtype == DTypeDate {
			s.PotentialTimestamps = append(s.PotentialTimestamps, name)
		}
		switch dtype {
		case DTypeInt, DTypeFloat:
			s.PotentialNumeric = append(s.PotentialNumeric, name)
		case DTypeString:
			if len(distinct) > 0 && len(distinct) < 50 {
				s.PotentialCategorical = append(s.PotentialCategorical, name)
			}
		}
	}

	s.DuplicateRows = countDuplicates(t)

	n := sampleRows
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	for i := 0; i < n; i++ {
		s.SampleRows = append(s.SampleRows, append([]string(nil), t.Rows[i]...))
	}
	return s
}

// NumericColumns returns the columns whose inferred dtype is int or float.
func NumericColumns(t *Table) []string {
	var out []string
	for _, name := range t.Columns {
		switch InferDType(t.Column(name)) {
		case DTypeInt, DTypeFloat:
			out = append(out, name)
		}
	}
	return out
}

func countDuplicates(t *Table) int {
	seen := make(map[string]int, len(t.Rows))
	dups := 0
	for _, row := range t.Rows {
		key := strings.Join(row, "\x1f")
		if seen[key] > 0 {
			dups++
		}
		seen[key]++
	}
	return dups
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
