// Package chart defines the serializable figure specification produced by
// sandboxed chart-generation code. A Figure is plain data: the out-of-scope
// rendering layer turns it into an actual plot.
package chart

import "fmt"

// Default color palette for chart series.
var defaultColors = []string{
	"#4F46E5", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

// Point is a single labeled value in a series.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Series is one named data series of a figure.
type Series struct {
	Name  string  `json:"name"`
	Color string  `json:"color,omitempty"`
	Data  []Point `json:"data"`
}

// Figure is a serializable chart specification.
type Figure struct {
	Type   string   `json:"type"` // bar, line, scatter, histogram, box, pie
	Title  string   `json:"title"`
	XLabel string   `json:"x_label,omitempty"`
	YLabel string   `json:"y_label,omitempty"`
	Series []Series `json:"series"`
}

// NewFigure creates a figure of the given type and title.
func NewFigure(chartType, title string) *Figure {
	if chartType == "" {
		chartType = "bar"
	}
	return &Figure{Type: chartType, Title: title}
}

// AddSeries appends a named series, assigning a palette color.
func (f *Figure) AddSeries(name string, data []Point) *Figure {
	f.Series = append(f.Series, Series{
		Name:  name,
		Color: defaultColors[(len(f.Series))%len(defaultColors)],
		Data:  data,
	})
	return f
}

// AddPoint appends one point to the last series, creating a default series
// when none exists yet.
func (f *Figure) AddPoint(label string, value float64) *Figure {
	if len(f.Series) == 0 {
		f.AddSeries("Value", nil)
	}
	s := &f.Series[len(f.Series)-1]
	s.Data = append(s.Data, Point{Label: label, Value: value})
	return f
}

// Validate reports whether the figure is renderable.
func (f *Figure) Validate() error {
	if f.Type == "" {
		return fmt.Errorf("figure has no type")
	}
	if len(f.Series) == 0 {
		return fmt.Errorf("figure %q has no series", f.Title)
	}
	return nil
}
