package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"datascribe/internal/embedding"
	"datascribe/internal/logging"
)

// Store is the retrieval memory: one SQLite database holding one logical
// collection per stage type. Documents are keyed by
// (stage_type, report_id, sequence_index), so re-storing an artifact for the
// same run is idempotent.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	dbPath  string
	engine  embedding.Engine
	window  int
	overlap int
}

// NewStore opens (or creates) the memory database at path.
// window/overlap control artifact chunking.
func NewStore(path string, engine embedding.Engine, window, overlap int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "NewStore")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MemoryWarn("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MemoryWarn("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, dbPath: path, engine: engine, window: window, overlap: overlap}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Memory("Memory store ready at %s (window=%d overlap=%d engine=%s)",
		path, s.window, s.overlap, engine.Name())
	return s, nil
}

func (s *Store) initialize() error {
	if s.window <= 0 {
		s.window = 1200
	}
	if s.overlap < 0 || s.overlap >= s.window {
		s.overlap = 0
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		stage_type TEXT NOT NULL,
		report_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_stage ON chunks(stage_type);
	CREATE INDEX IF NOT EXISTS idx_chunks_report ON chunks(stage_type, report_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// chunkID derives the stable document key.
func chunkID(stageType, reportID string, seq int) string {
	return fmt.Sprintf("%s:%s:%04d", stageType, reportID, seq)
}

// Save chunks, embeds, and upserts an artifact's serialized text into the
// collection for its stage type. Stable ids make re-storage idempotent per
// run: stale chunks from a previous, longer version are removed.
func (s *Store) Save(ctx context.Context, reportID, stageType, artifactText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := Chunk(artifactText, s.window, s.overlap)
	if len(chunks) == 0 {
		return nil
	}

	embeddings, err := s.engine.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, content := range chunks {
		embJSON, err := json.Marshal(embeddings[i])
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		_, err = tx.Exec(
			"INSERT OR REPLACE INTO chunks (id, stage_type, report_id, seq, content, embedding) VALUES (?, ?, ?, ?, ?, ?)",
			chunkID(stageType, reportID, i), stageType, reportID, i, content, string(embJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", i, err)
		}
	}

	// Drop leftovers from a longer prior version of this artifact.
	if _, err := tx.Exec(
		"DELETE FROM chunks WHERE stage_type = ? AND report_id = ? AND seq >= ?",
		stageType, reportID, len(chunks),
	); err != nil {
		return fmt.Errorf("failed to trim stale chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logging.Memory("Stored %d chunks for %s/%s", len(chunks), stageType, reportID)
	return nil
}

// ScoredChunk pairs a retrieved chunk's text with its cosine similarity to
// the query. Callers merging results across collections sort on Score.
type ScoredChunk struct {
	Text  string
	Score float64
}

// Retrieve returns the raw text of the top-k most similar chunks in the
// stage type's collection. Failures of any kind (store unreachable, empty
// collection, embedding error) yield an empty result, never an error:
// missing context degrades a prompt, it does not abort a run.
func (s *Store) Retrieve(ctx context.Context, query, stageType string, k int) []string {
	scored := s.RetrieveScored(ctx, query, stageType, k)
	out := make([]string, len(scored))
	for i, c := range scored {
		out[i] = c.Text
	}
	return out
}

// RetrieveScored is Retrieve with similarity scores attached. Same failure
// policy: never an error, an empty slice at worst.
func (s *Store) RetrieveScored(ctx context.Context, query, stageType string, k int) []ScoredChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		return nil
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		logging.MemoryWarn("Retrieve: query embedding failed: %v", err)
		return nil
	}

	if vecEnabled {
		if scored, ok := s.vecSearch(queryVec, stageType, k); ok {
			return scored
		}
	}

	rows, err := s.db.Query(
		"SELECT content, embedding FROM chunks WHERE stage_type = ? AND embedding IS NOT NULL",
		stageType,
	)
	if err != nil {
		logging.MemoryWarn("Retrieve: query failed: %v", err)
		return nil
	}
	defer rows.Close()

	var candidates []ScoredChunk
	for rows.Next() {
		var content, embJSON string
		if err := rows.Scan(&content, &embJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		candidates = append(candidates, ScoredChunk{Text: content, Score: sim})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	logging.Memory("Retrieved %d/%d chunks from %s", len(candidates), k, stageType)
	return candidates
}

// vecSearch ranks chunks inside SQLite through the sqlite-vec extension.
// Embeddings are stored as JSON arrays, which vec_distance_cosine accepts
// directly; cosine distance is 1 - similarity. A false return means the
// caller should fall back to the in-process scan.
func (s *Store) vecSearch(queryVec []float32, stageType string, k int) ([]ScoredChunk, bool) {
	queryJSON, err := json.Marshal(queryVec)
	if err != nil {
		return nil, false
	}

	rows, err := s.db.Query(
		`SELECT content, vec_distance_cosine(embedding, ?) AS distance
		 FROM chunks
		 WHERE stage_type = ? AND embedding IS NOT NULL
		 ORDER BY distance ASC
		 LIMIT ?`,
		string(queryJSON), stageType, k,
	)
	if err != nil {
		logging.MemoryWarn("sqlite-vec search failed, using in-process ranking: %v", err)
		return nil, false
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var content string
		var distance float64
		if err := rows.Scan(&content, &distance); err != nil {
			continue
		}
		out = append(out, ScoredChunk{Text: content, Score: 1.0 - distance})
	}
	if err := rows.Err(); err != nil {
		logging.MemoryWarn("sqlite-vec search aborted, using in-process ranking: %v", err)
		return nil, false
	}

	logging.Memory("Retrieved %d/%d chunks from %s via sqlite-vec", len(out), k, stageType)
	return out, true
}

// Count returns the number of chunks stored for a stage type.
func (s *Store) Count(stageType string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE stage_type = ?", stageType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
