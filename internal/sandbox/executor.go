// Package sandbox executes model-generated Go transformation code inside a
// Yaegi interpreter. Generated code never touches the process environment:
// imports are restricted to a whitelist, the input table is cloned before
// every invocation, and panics inside generated code surface as errors.
package sandbox

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"datascribe/internal/chart"
	"datascribe/internal/dataset"
	"datascribe/internal/logging"
)

// =============================================================================
// INTERPRETED EXECUTION OF GENERATED TRANSFORMATION CODE
// =============================================================================
// Generated cleaning code must define:
//
//	func CleanData(t *tabular.Table) *tabular.Table
//
// Generated chart code must define:
//
//	func BuildChart(t *tabular.Table) *chart.Figure
//
// `tabular` and `chart` are virtual import paths bound to this module's own
// table and figure types, so generated code manipulates real values without
// any serialization boundary.
//
// SAFETY RESTRICTIONS:
// - Only whitelisted stdlib imports (no os, os/exec, net, syscall, unsafe)
// - The interpreter is loaded with only the whitelisted stdlib symbols, so
//   a forbidden package cannot resolve even if the import screen is wrong
// - Input tables are cloned; the caller's table is never mutated
// - Panics in generated code are recovered and returned as ExecError
// - Timeout enforcement via context

// ExecError describes a contained failure inside generated code. It carries
// the source that failed and the columns that were available at the time, so
// the failure can be reported without aborting the run.
type ExecError struct {
	Phase            string   // "validate", "eval", "lookup", "invoke", "timeout"
	FailedCode       string
	AvailableColumns []string
	Err              error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("sandbox %s failed: %v", e.Phase, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Executor runs generated Go code in an isolated interpreter. A fresh
// interpreter is created per invocation so state never leaks between
// executions.
type Executor struct {
	allowedPackages map[string]bool
	stdlibSymbols   interp.Exports
}

// NewExecutor creates an executor with the default import whitelist.
func NewExecutor() *Executor {
	e := &Executor{
		allowedPackages: map[string]bool{
			// Virtual packages bound to module types
			"tabular": true,
			"chart":   true,

			// Safe stdlib packages
			"strings": true,
			"strconv": true,
			"fmt":     true,
			"math":    true,
			"regexp":  true,
			"sort":    true,
			"time":    true,
			"unicode": true,

			// EXPLICITLY BLOCKED (unsafe packages):
			// "os" - filesystem access
			// "os/exec" - command execution
			// "net", "net/http" - network access
			// "io/ioutil" - filesystem access
			// "syscall" - system calls
			// "unsafe" - unsafe operations
		},
	}
	e.stdlibSymbols = filteredStdlib(e.allowedPackages)
	return e
}

// filteredStdlib selects only the whitelisted packages from yaegi's stdlib
// symbol table. Keys are "<import path>/<package name>", e.g.
// "strings/strings" or "os/exec/exec".
func filteredStdlib(allowed map[string]bool) interp.Exports {
	out := interp.Exports{}
	for key, symbols := range stdlib.Symbols {
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if allowed[key[:idx]] {
			out[key] = symbols
		}
	}
	return out
}

// RunCleaning executes generated cleaning code against a clone of the input
// table and returns the transformed table. The input table is unchanged
// regardless of what the generated code does.
func (e *Executor) RunCleaning(ctx context.Context, code string, input *dataset.Table) (*dataset.Table, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "RunCleaning")
	defer timer.Stop()

	v, err := e.run(ctx, code, "CleanData", input)
	if err != nil {
		return nil, err
	}
	out, ok := v.(*dataset.Table)
	if !ok || out == nil {
		return nil, e.execErr("invoke", code, input,
			fmt.Errorf("CleanData returned %T, want *tabular.Table", v))
	}
	logging.Sandbox("Cleaning code executed: %d rows in, %d rows out",
		input.NumRows(), out.NumRows())
	return out, nil
}

// RunChart executes generated chart code against a clone of the input table
// and returns the built figure.
func (e *Executor) RunChart(ctx context.Context, code string, input *dataset.Table) (*chart.Figure, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "RunChart")
	defer timer.Stop()

	v, err := e.run(ctx, code, "BuildChart", input)
	if err != nil {
		return nil, err
	}
	fig, ok := v.(*chart.Figure)
	if !ok || fig == nil {
		return nil, e.execErr("invoke", code, input,
			fmt.Errorf("BuildChart returned %T, want *chart.Figure", v))
	}
	if err := fig.Validate(); err != nil {
		return nil, e.execErr("invoke", code, input, err)
	}
	return fig, nil
}

// run evaluates code in a fresh interpreter and invokes the named entry
// function with a clone of the input table.
func (e *Executor) run(ctx context.Context, code, funcName string, input *dataset.Table) (interface{}, error) {
	if err := e.validateImports(code); err != nil {
		return nil, e.execErr("validate", code, input, err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(e.stdlibSymbols); err != nil {
		return nil, e.execErr("eval", code, input, fmt.Errorf("failed to load stdlib: %w", err))
	}
	if err := i.Use(exportedSymbols()); err != nil {
		return nil, e.execErr("eval", code, input, fmt.Errorf("failed to bind table symbols: %w", err))
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return nil, e.execErr("eval", code, input, err)
	}

	fv, err := i.Eval("main." + funcName)
	if err != nil {
		return nil, e.execErr("lookup", code, input,
			fmt.Errorf("%s function not found: %w", funcName, err))
	}

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("panic in generated code: %v", r)
			}
		}()
		out := e.invoke(fv, funcName, input.Clone())
		resultChan <- out
	}()

	select {
	case out := <-resultChan:
		return out, nil
	case err := <-errChan:
		return nil, e.execErr("invoke", code, input, err)
	case <-ctx.Done():
		return nil, e.execErr("timeout", code, input,
			fmt.Errorf("execution timed out: %w", ctx.Err()))
	}
}

// invoke calls the looked-up entry function with the cloned table. Both entry
// signatures take a single *dataset.Table, so the typed assertion happens at
// the call site in RunCleaning/RunChart.
func (e *Executor) invoke(fv reflect.Value, funcName string, t *dataset.Table) interface{} {
	switch fn := fv.Interface().(type) {
	case func(*dataset.Table) *dataset.Table:
		return fn(t)
	case func(*dataset.Table) *chart.Figure:
		return fn(t)
	default:
		panic(fmt.Sprintf("%s has incorrect signature %T", funcName, fv.Interface()))
	}
}

func (e *Executor) execErr(phase, code string, input *dataset.Table, err error) *ExecError {
	var cols []string
	if input != nil {
		cols = append(cols, input.Columns...)
	}
	logging.SandboxWarn("%s failure: %v", phase, err)
	return &ExecError{Phase: phase, FailedCode: code, AvailableColumns: cols, Err: err}
}

// exportedSymbols binds the virtual import paths to real module types.
// Methods travel with the type, so generated code gets the full Table and
// Figure surface.
func exportedSymbols() interp.Exports {
	return interp.Exports{
		"tabular/tabular": map[string]reflect.Value{
			"Table": reflect.ValueOf((*dataset.Table)(nil)),
			"New":   reflect.ValueOf(dataset.New),
		},
		"chart/chart": map[string]reflect.Value{
			"Figure":    reflect.ValueOf((*chart.Figure)(nil)),
			"Series":    reflect.ValueOf((*chart.Series)(nil)),
			"Point":     reflect.ValueOf((*chart.Point)(nil)),
			"NewFigure": reflect.ValueOf(chart.NewFigure),
		},
	}
}

// validateImports parses the source and checks every import spec against the
// allow-list. Parsing covers all import spellings: grouped blocks, aliased,
// dot, and blank imports, and `import("os")` without a space. Unparseable
// source is left for the eval phase to report; the interpreter only ever
// loads the filtered symbol set either way.
func (e *Executor) validateImports(code string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "generated.go", wrapCode(code), parser.ImportsOnly)
	if err != nil {
		return nil
	}

	var forbidden []string
	for _, spec := range f.Imports {
		pkg, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			pkg = strings.Trim(spec.Path.Value, `"`)
		}
		if !e.allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}

	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v (allowed: %v)",
			forbidden, e.allowedList())
	}
	return nil
}

// wrapCode wraps generated code in a main package if it lacks one.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return fmt.Sprintf("package main\n\n%s\n", code)
}

func (e *Executor) allowedList() []string {
	var pkgs []string
	for pkg := range e.allowedPackages {
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}
