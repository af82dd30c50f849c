package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Entity represents a row in the entities table.
type Entity struct {
	ID          int64    `json:"id"`
	CIK         string   `json:"cik"`
	Name        string   `json:"name"`
	Ticker      string   `json:"ticker,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
}

// EntityMatch is a nearest-neighbour hit over entity description vectors.
type EntityMatch struct {
	CIK        string  `json:"cik"`
	Similarity float64 `json:"similarity"`
}

// Store wraps the SQLite database for all relgraph persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", embeddingDim)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the vector dimension the store was created with.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- entities ---

// UpsertEntities inserts or updates entities by CIK in one transaction.
func (s *Store) UpsertEntities(ctx context.Context, entities []Entity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entities (cik, name, ticker, aliases, description)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(cik) DO UPDATE SET
				name = excluded.name,
				ticker = excluded.ticker,
				aliases = excluded.aliases,
				description = excluded.description,
				updated_at = CURRENT_TIMESTAMP
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entities {
			aliases, err := json.Marshal(e.Aliases)
			if err != nil {
				return fmt.Errorf("encoding aliases for %s: %w", e.CIK, err)
			}
			if _, err := stmt.ExecContext(ctx, e.CIK, e.Name, e.Ticker, string(aliases), e.Description); err != nil {
				return fmt.Errorf("upserting entity %s: %w", e.CIK, err)
			}
		}
		return nil
	})
}

// ListEntities returns every entity ordered by CIK.
func (s *Store) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cik, name, COALESCE(ticker, ''), COALESCE(aliases, 'null'), COALESCE(description, '')
		FROM entities ORDER BY cik
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var (
			e       Entity
			aliases string
		)
		if err := rows.Scan(&e.ID, &e.CIK, &e.Name, &e.Ticker, &aliases, &e.Description); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
			return nil, fmt.Errorf("decoding aliases for %s: %w", e.CIK, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEntity looks an entity up by CIK.
func (s *Store) GetEntity(ctx context.Context, cik string) (*Entity, error) {
	var (
		e       Entity
		aliases string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cik, name, COALESCE(ticker, ''), COALESCE(aliases, 'null'), COALESCE(description, '')
		FROM entities WHERE cik = ?
	`, cik).Scan(&e.ID, &e.CIK, &e.Name, &e.Ticker, &aliases, &e.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", cik, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
		return nil, fmt.Errorf("decoding aliases for %s: %w", cik, err)
	}
	return &e, nil
}

// --- entity vectors ---

// PutEntityVector stores the description vector of the entity with the given
// CIK, replacing any previous one.
func (s *Store) PutEntityVector(ctx context.Context, cik string, vec []float32) error {
	if len(vec) != s.embeddingDim {
		return fmt.Errorf("vector for %s has dimension %d, want %d", cik, len(vec), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM entities WHERE cik = ?", cik).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entity %s: %w", cik, ErrNotFound)
		}
		if err != nil {
			return err
		}
		// vec0 has no upsert.
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_entities WHERE entity_id = ?", id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO vec_entities (entity_id, embedding) VALUES (?, ?)",
			id, serializeFloat32(vec))
		return err
	})
}

// EntityVector returns the stored description vector for a CIK.
func (s *Store) EntityVector(ctx context.Context, cik string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT v.embedding
		FROM vec_entities v
		JOIN entities e ON e.id = v.entity_id
		WHERE e.cik = ?
	`, cik).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return deserializeFloat32(blob), true, nil
}

// NearestEntities performs KNN search over entity description vectors.
// Similarity is 1 - cosine distance.
func (s *Store) NearestEntities(ctx context.Context, query []float32, k int) ([]EntityMatch, error) {
	if len(query) != s.embeddingDim {
		return nil, fmt.Errorf("query has dimension %d, want %d", len(query), s.embeddingDim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.cik, v.distance
		FROM vec_entities v
		JOIN entities e ON e.id = v.entity_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(query), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []EntityMatch
	for rows.Next() {
		var (
			m        EntityMatch
			distance float64
		)
		if err := rows.Scan(&m.CIK, &distance); err != nil {
			return nil, err
		}
		m.Similarity = 1 - distance
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- embedding cache ---

// GetEmbedding reads a cached vector.
func (s *Store) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT vector FROM embedding_cache WHERE key = ?", key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return deserializeFloat32(blob), true, nil
}

// PutEmbedding writes a cached vector.
func (s *Store) PutEmbedding(ctx context.Context, key string, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (key, vector) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET vector = excluded.vector
	`, key, serializeFloat32(vec))
	return err
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ContentHash returns the hex sha256 of data.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
