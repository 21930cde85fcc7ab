// Package history persists completed research sessions in SQLite and
// answers similarity queries over their topic embeddings. The table is
// append-only: sessions are recorded once and never updated in place.
package history

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepresearcher/internal/embedding"
	"deepresearcher/internal/research"
)

const schema = `
CREATE TABLE IF NOT EXISTS research_sessions (
	id            TEXT PRIMARY KEY,
	topic         TEXT NOT NULL,
	summary       TEXT NOT NULL,
	report        TEXT NOT NULL,
	sources_json  TEXT NOT NULL,
	loop_count    INTEGER NOT NULL,
	degraded      INTEGER NOT NULL DEFAULT 0,
	embedding     BLOB,
	created_at    TIMESTAMP NOT NULL,
	stored_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_stored_at ON research_sessions(stored_at);

CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const dimensionKey = "embedding_dimension"

// Entry is a stored session as returned by queries. Similarity is only
// populated by SearchSimilar.
type Entry struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Summary    string            `json:"summary"`
	Report     string            `json:"report"`
	Sources    []research.Source `json:"sources"`
	LoopCount  int               `json:"loop_count"`
	Degraded   bool              `json:"degraded"`
	CreatedAt  time.Time         `json:"created_at"`
	StoredAt   time.Time         `json:"stored_at"`
	Similarity float64           `json:"similarity,omitempty"`
}

// Stats summarizes the store contents.
type Stats struct {
	Sessions     int       `json:"sessions"`
	WithVectors  int       `json:"with_vectors"`
	OldestStored time.Time `json:"oldest_stored,omitempty"`
	NewestStored time.Time `json:"newest_stored,omitempty"`
}

// Store is the SQLite-backed session archive. Writes are serialized by
// the mutex; reads run concurrently. It implements research.Recorder.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	engine    embedding.Engine
	vectorExt bool
	logger    *zap.Logger
}

// Open initializes the database at path. A nil engine disables
// similarity search but not archival. If the store already holds
// vectors of a different dimension than the engine produces, Open
// fails: mixing dimensions would silently corrupt every search.
func Open(path string, engine embedding.Engine, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		// NORMAL is safe under WAL and much faster than FULL.
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s := &Store{db: db, path: path, engine: engine, logger: logger}
	if engine != nil {
		if err := s.checkDimensions(engine.Dimensions()); err != nil {
			db.Close()
			return nil, err
		}
	}
	s.detectVecExtension()
	if s.vectorExt && engine != nil {
		if err := s.ensureVecTable(engine.Dimensions()); err != nil {
			logger.Warn("vec table unavailable, using brute-force search", zap.Error(err))
			s.vectorExt = false
		}
	}

	logger.Info("history store opened",
		zap.String("path", path),
		zap.Bool("similarity_search", engine != nil),
		zap.Bool("vec_extension", s.vectorExt))
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// checkDimensions pins the store to one embedding dimension for its
// lifetime. First open with an engine writes the dimension; later opens
// must match it.
func (s *Store) checkDimensions(dims int) error {
	var stored string
	err := s.db.QueryRow("SELECT value FROM store_meta WHERE key = ?", dimensionKey).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec("INSERT INTO store_meta (key, value) VALUES (?, ?)", dimensionKey, strconv.Itoa(dims))
		if err != nil {
			return fmt.Errorf("record embedding dimension: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read embedding dimension: %w", err)
	}

	storedDims, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("corrupt embedding dimension %q: %w", stored, err)
	}
	if storedDims != dims {
		return fmt.Errorf("%w: store holds %d-dimensional vectors but engine produces %d; re-embed or use a new store file",
			research.ErrConfiguration, storedDims, dims)
	}
	return nil
}

// detectVecExtension probes for the sqlite-vec vec0 module. Available
// only in cgo builds with the extension registered; when present,
// SearchSimilar runs over a vec0 index instead of a brute-force scan.
func (s *Store) detectVecExtension() {
	_, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(v float[2])")
	if err != nil {
		s.vectorExt = false
		return
	}
	s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	s.vectorExt = true
}

// ensureVecTable creates the vec0 index alongside the sessions table.
// The sessions table stays the source of truth; vec_sessions only
// accelerates similarity search.
func (s *Store) ensureVecTable(dims int) error {
	query := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_sessions USING vec0(embedding float[%d], session_id TEXT)", dims)
	_, err := s.db.Exec(query)
	return err
}

// pruneVecOrphans drops vec index rows whose session no longer exists.
// Caller holds the write lock.
func (s *Store) pruneVecOrphans(ctx context.Context) {
	if !s.vectorExt {
		return
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM vec_sessions WHERE session_id NOT IN (SELECT id FROM research_sessions)")
	if err != nil {
		s.logger.Warn("failed to prune vec index", zap.Error(err))
	}
}

// ============================================================================
// WRITES
// ============================================================================

// Record archives a completed session. The embedding covers the topic
// and running summary so similarity search matches on subject matter,
// not report phrasing. An embedding failure stores the session without
// a vector rather than losing it.
func (s *Store) Record(ctx context.Context, session *research.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: nil or unidentified session", research.ErrInvalidArgument)
	}

	var vec []byte
	if s.engine != nil {
		raw, err := s.engine.Embed(ctx, session.Topic+"\n"+session.RunningSummary)
		if err != nil {
			s.logger.Warn("embedding failed, storing session without vector",
				zap.String("session", session.ID),
				zap.Error(err))
		} else {
			vec = encodeVector(raw)
		}
	}

	sourcesJSON, err := json.Marshal(session.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_sessions
			(id, topic, summary, report, sources_json, loop_count, degraded, embedding, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Topic, session.RunningSummary, session.FinalReport,
		string(sourcesJSON), session.LoopCount, boolToInt(session.Degraded),
		vec, session.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if s.vectorExt && vec != nil {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO vec_sessions (session_id, embedding) VALUES (?, ?)", session.ID, vec)
		if err != nil {
			// The session row is the source of truth; a missing index row
			// only drops this session from the fast path.
			s.logger.Warn("failed to index session vector",
				zap.String("session", session.ID),
				zap.Error(err))
		}
	}
	return nil
}

// Delete removes a session by ID. Returns false if no row matched.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM research_sessions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if s.vectorExt {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM vec_sessions WHERE session_id = ?", id); err != nil {
			s.logger.Warn("failed to drop vec index row", zap.String("session", id), zap.Error(err))
		}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Cleanup deletes all but the keepRecent most recently stored sessions
// and returns how many were removed.
func (s *Store) Cleanup(ctx context.Context, keepRecent int) (int64, error) {
	if keepRecent < 0 {
		return 0, fmt.Errorf("%w: keepRecent must not be negative, got %d", research.ErrInvalidArgument, keepRecent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM research_sessions
		WHERE id NOT IN (
			SELECT id FROM research_sessions ORDER BY stored_at DESC LIMIT ?
		)`, keepRecent)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	s.pruneVecOrphans(ctx)
	return res.RowsAffected()
}

// ============================================================================
// READS
// ============================================================================

// Get returns one session by ID, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic, summary, report, sources_json, loop_count, degraded, created_at, stored_at
		FROM research_sessions WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, summary, report, sources_json, loop_count, degraded, created_at, stored_at
		FROM research_sessions ORDER BY stored_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// SearchSimilar returns the topK stored sessions most similar to the
// query by cosine similarity over their embeddings. Ties break toward
// the more recently stored session. Sessions without vectors are
// invisible to search. topK larger than the store returns everything.
// With the sqlite-vec extension loaded the search runs over the vec0
// index; otherwise, or if the indexed query fails, it brute-force scans.
func (s *Store) SearchSimilar(ctx context.Context, query string, topK int) ([]Entry, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: topK must be at least 1, got %d", research.ErrInvalidArgument, topK)
	}
	if s.engine == nil {
		return nil, fmt.Errorf("%w: similarity search requires an embedding engine", research.ErrConfiguration)
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if s.vectorExt {
		entries, err := s.searchVec(ctx, encodeVector(queryVec), topK)
		if err == nil {
			return entries, nil
		}
		s.logger.Debug("vec search failed, falling back to brute force", zap.Error(err))
	}
	return s.searchBruteForce(ctx, queryVec, topK)
}

// searchVec runs the query against the vec0 index, joining back to the
// sessions table for the full rows. sqlite-vec reports cosine distance;
// similarity is its complement.
func (s *Store) searchVec(ctx context.Context, queryBlob []byte, topK int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT rs.id, rs.topic, rs.summary, rs.report, rs.sources_json, rs.loop_count, rs.degraded,
			rs.created_at, rs.stored_at,
			vec_distance_cosine(vs.embedding, ?) AS distance
		FROM vec_sessions vs
		JOIN research_sessions rs ON vs.session_id = rs.id
		ORDER BY distance ASC, rs.stored_at DESC
		LIMIT ?`, queryBlob, topK)
	if err != nil {
		return nil, fmt.Errorf("vec search: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var sourcesJSON string
		var degraded int
		var distance float64
		if err := rows.Scan(&entry.ID, &entry.Topic, &entry.Summary, &entry.Report,
			&sourcesJSON, &entry.LoopCount, &degraded, &entry.CreatedAt, &entry.StoredAt, &distance); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		entry.Degraded = degraded != 0
		if err := json.Unmarshal([]byte(sourcesJSON), &entry.Sources); err != nil {
			s.logger.Warn("corrupt sources json, skipping in search", zap.String("session", entry.ID))
			continue
		}
		entry.Similarity = 1 - distance
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) searchBruteForce(ctx context.Context, queryVec []float32, topK int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, summary, report, sources_json, loop_count, degraded, created_at, stored_at, embedding
		FROM research_sessions WHERE embedding IS NOT NULL
		ORDER BY stored_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var candidates []Entry
	for rows.Next() {
		var entry Entry
		var sourcesJSON string
		var degraded int
		var vec []byte
		if err := rows.Scan(&entry.ID, &entry.Topic, &entry.Summary, &entry.Report,
			&sourcesJSON, &entry.LoopCount, &degraded, &entry.CreatedAt, &entry.StoredAt, &vec); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		entry.Degraded = degraded != 0
		if err := json.Unmarshal([]byte(sourcesJSON), &entry.Sources); err != nil {
			s.logger.Warn("corrupt sources json, skipping in search", zap.String("session", entry.ID))
			continue
		}

		stored := decodeVector(vec)
		sim, simErr := embedding.CosineSimilarity(queryVec, stored)
		if simErr != nil {
			// Dimension drift in a single row; skip rather than fail the search.
			s.logger.Warn("skipping session with mismatched vector",
				zap.String("session", entry.ID),
				zap.Int("dims", len(stored)))
			continue
		}
		entry.Similarity = sim
		candidates = append(candidates, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows arrive newest-first, so a stable sort keeps recency as the
	// tiebreak for equal similarity.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// Stats reports store-level counts and the stored-at range.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(embedding) FROM research_sessions`).Scan(&stats.Sessions, &stats.WithVectors)
	if err != nil {
		return Stats{}, fmt.Errorf("count sessions: %w", err)
	}
	if stats.Sessions > 0 {
		// Plain column selects keep the declared TIMESTAMP type, which
		// aggregate expressions would lose.
		err = s.db.QueryRowContext(ctx, `
			SELECT stored_at FROM research_sessions ORDER BY stored_at ASC LIMIT 1`).Scan(&stats.OldestStored)
		if err != nil {
			return Stats{}, fmt.Errorf("oldest session: %w", err)
		}
		err = s.db.QueryRowContext(ctx, `
			SELECT stored_at FROM research_sessions ORDER BY stored_at DESC LIMIT 1`).Scan(&stats.NewestStored)
		if err != nil {
			return Stats{}, fmt.Errorf("newest session: %w", err)
		}
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var sourcesJSON string
	var degraded int
	if err := row.Scan(&entry.ID, &entry.Topic, &entry.Summary, &entry.Report,
		&sourcesJSON, &entry.LoopCount, &degraded, &entry.CreatedAt, &entry.StoredAt); err != nil {
		return nil, err
	}
	entry.Degraded = degraded != 0
	if err := json.Unmarshal([]byte(sourcesJSON), &entry.Sources); err != nil {
		return nil, fmt.Errorf("unmarshal sources for %s: %w", entry.ID, err)
	}
	return &entry, nil
}

// ============================================================================
// VECTOR ENCODING
// ============================================================================

// Vectors are stored as little-endian float32, 4 bytes per component.

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
