package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Canonical companies keyed by SEC CIK
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    cik TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    ticker TEXT,
    aliases JSON,
    description TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Entity description vectors via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    entity_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

-- Processed filings with hash-based change detection
CREATE TABLE IF NOT EXISTS filings (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    company_id TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Relationship edges, one per (source, target, relation)
CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    relation TEXT NOT NULL,
    kind TEXT NOT NULL,
    confidence TEXT NOT NULL,
    similarity REAL,
    llm_verified INTEGER,
    raw_mention TEXT,
    context TEXT,
    decision_tier INTEGER,
    reasoning TEXT,
    filing_id INTEGER REFERENCES filings(id) ON DELETE SET NULL,
    extracted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(source_id, target_id, relation)
);

-- Embedding cache keyed by sha256(model, text)
CREATE TABLE IF NOT EXISTS embedding_cache (
    key TEXT PRIMARY KEY,
    vector BLOB NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_edges_kind ON edges(kind);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_filings_company ON filings(company_id);
`, embeddingDim)
}
