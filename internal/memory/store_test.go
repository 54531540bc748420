package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

// stubEngine maps keyword hits to fixed axis vectors so similarity ranking
// is fully deterministic.
type stubEngine struct {
	fail bool
}

func (e *stubEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("stub embed failure")
	}
	vec := make([]float32, 4)
	for i, kw := range []string{"alpha", "beta", "gamma", "delta"} {
		if strings.Contains(text, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (e *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *stubEngine) Dimensions() int { return 4 }
func (e *stubEngine) Name() string    { return "stub" }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "mem.db"), &stubEngine{}, 50, 10)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndRetrieve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "run1", "analysis_report", "alpha findings"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, "run2", "analysis_report", "beta findings"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got := s.Retrieve(ctx, "tell me about alpha", "analysis_report", 1)
	if len(got) != 1 || !strings.Contains(got[0], "alpha") {
		t.Errorf("expected the alpha chunk, got %v", got)
	}
}

func TestRetrieveScopedToStageType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "run1", "schema_analysis", "alpha schema"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got := s.Retrieve(ctx, "alpha", "analysis_report", 5)
	if len(got) != 0 {
		t.Errorf("retrieval must not cross stage collections: %v", got)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("alpha beta gamma ", 20) // forces multiple chunks
	if err := s.Save(ctx, "run1", "qa_report", long); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	first, err := s.Count("qa_report")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if first < 2 {
		t.Fatalf("expected multiple chunks, got %d", first)
	}

	if err := s.Save(ctx, "run1", "qa_report", long); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	again, err := s.Count("qa_report")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if again != first {
		t.Errorf("re-storing the same artifact changed chunk count: %d -> %d", first, again)
	}
}

func TestSaveShrinkingArtifactTrimsStaleChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("alpha ", 60)
	if err := s.Save(ctx, "run1", "narrative", long); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, "run1", "narrative", "alpha"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	n, err := s.Count("narrative")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("stale chunks not trimmed: %d remain", n)
	}
}

func TestRetrieveNeverErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty collection.
	if got := s.Retrieve(ctx, "anything", "cleaning_report", 3); len(got) != 0 {
		t.Errorf("empty collection should yield nothing, got %v", got)
	}
	// k <= 0.
	if got := s.Retrieve(ctx, "anything", "cleaning_report", 0); len(got) != 0 {
		t.Errorf("k=0 should yield nothing, got %v", got)
	}

	// Query embedding failure degrades to empty, not error.
	failing, err := NewStore(filepath.Join(t.TempDir(), "mem2.db"), &stubEngine{fail: true}, 50, 10)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer failing.Close()
	if got := failing.Retrieve(ctx, "anything", "qa_report", 3); len(got) != 0 {
		t.Errorf("embed failure should yield nothing, got %v", got)
	}
}

func TestSaveEmbedFailureReturnsError(t *testing.T) {
	failing, err := NewStore(filepath.Join(t.TempDir(), "mem3.db"), &stubEngine{fail: true}, 50, 10)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer failing.Close()
	if err := failing.Save(context.Background(), "run1", "qa_report", "text"); err == nil {
		t.Error("Save should surface embedding failure to the caller")
	}
}

func TestTopKOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "r1", "narrative", "alpha beta"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "r2", "narrative", "beta only here"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "r3", "narrative", "gamma only"); err != nil {
		t.Fatal(err)
	}

	got := s.Retrieve(ctx, "beta", "narrative", 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	// "beta only here" is a pure beta vector, the closest match.
	if !strings.Contains(got[0], "beta only") {
		t.Errorf("best match wrong: %v", got)
	}
}

func TestRetrieveScoredDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "r1", "schema_analysis", "alpha beta gamma"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "r2", "schema_analysis", "alpha only"); err != nil {
		t.Fatal(err)
	}

	scored := s.RetrieveScored(ctx, "alpha", "schema_analysis", 5)
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored chunks, got %d", len(scored))
	}
	if scored[0].Score < scored[1].Score {
		t.Errorf("scores not descending: %f < %f", scored[0].Score, scored[1].Score)
	}
	if !strings.Contains(scored[0].Text, "alpha only") {
		t.Errorf("pure alpha chunk should rank first: %+v", scored)
	}
}
