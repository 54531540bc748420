package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"datascribe/internal/artifact"
	"datascribe/internal/dataset"
	"datascribe/internal/extract"
	"datascribe/internal/logging"
	"datascribe/internal/sandbox"
)

// executeCharts runs every chart snippet against the cleaned table with
// bounded parallelism. Results land in their plan slot regardless of
// completion order, and a failing snippet fills its slot with a failure
// record instead of affecting its neighbors. The worker closures never
// return an error: this stage has no fatal outcomes.
func (o *Orchestrator) executeCharts(ctx context.Context, plan *artifact.VisualizationPlan, table *dataset.Table) []ChartResult {
	results := make([]ChartResult, len(plan.CodeSnippets))
	if len(results) == 0 {
		return results
	}

	limit := o.cfg.Sandbox.MaxParallelCharts
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, snippet := range plan.CodeSnippets {
		i, snippet := i, snippet
		title := ""
		if i < len(plan.ChartRecommendations) {
			title = plan.ChartRecommendations[i].Title
		}
		g.Go(func() error {
			code := extract.Code(snippet)
			sctx, cancel := context.WithTimeout(gctx, o.cfg.GetSandboxTimeout())
			defer cancel()

			fig, err := o.exec.RunChart(sctx, code, table)
			if err != nil {
				res := ChartResult{
					Title:            title,
					Error:            err.Error(),
					FailedCode:       code,
					AvailableColumns: append([]string(nil), table.Columns...),
				}
				var execErr *sandbox.ExecError
				if errors.As(err, &execErr) {
					res.FailedCode = execErr.FailedCode
					res.AvailableColumns = execErr.AvailableColumns
				}
				results[i] = res
				logging.Pipeline("Chart %d (%q) failed: %v", i, title, err)
				return nil
			}
			results[i] = ChartResult{Title: title, Figure: fig}
			return nil
		})
	}

	g.Wait()
	return results
}
