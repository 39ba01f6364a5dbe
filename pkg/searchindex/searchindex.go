// Package searchindex implements the on-disk search index named but left
// unspecified by spec.md §3's Library data model ("a `search_index/`
// directory"). It is adapted from an earlier SQLite-backed store's driver
// wiring (ncruces/go-sqlite3, a pure-Go engine, no cgo) and sqlite-vec
// extension registration, repointed at this module's domain — indexing
// pkg/store.Page content instead of a notes/entities/edges graph.
//
// Two retrieval paths are kept in sync on every Upsert: a plain indexed
// text scan over title/body, and an approximate nearest-neighbor search
// over a feature-hashed embedding of the page's text (pkg/searchindex
// has no model to call out to for real embeddings, and a local-first note
// app shouldn't need network access just to search its own notes — feature
// hashing gives a deterministic, offline stand-in vector that still
// exercises sqlite-vec's vec0 virtual table end to end).
package searchindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/orsinium-labs/stopwords"
	"github.com/rs/zerolog"

	"github.com/erewhon/nous-sub001/pkg/core"
	"github.com/erewhon/nous-sub001/pkg/log"
	"github.com/erewhon/nous-sub001/pkg/oplog"
)

const component = "searchindex"

// VectorDims is the fixed width of the hashed feature vector stored in the
// vec0 table. Chosen small since it is a lexical fallback, not a learned
// embedding; sqlite-vec has no trouble with larger widths if this ever
// changes.
const VectorDims = 64

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	notebook_id TEXT NOT NULL,
	page_id TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(notebook_id, page_id)
);
CREATE INDEX IF NOT EXISTS idx_pages_notebook ON pages(notebook_id);

CREATE VIRTUAL TABLE IF NOT EXISTS pages_vec USING vec0(embedding float[64]);
`

// Index is one library's search index, backed by a single SQLite database
// file under that library's search_index/ directory.
type Index struct {
	mu  sync.RWMutex
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if absent) the search index database at path —
// typically "{library}/search_index/index.db".
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, core.IO(component, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, core.IO(component, fmt.Errorf("create schema: %w", err))
	}
	return &Index{db: db, log: log.WithComponent(component)}, nil
}

func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.Close()
}

// Hit is one search result, either from the text or vector path.
type Hit struct {
	NotebookID uuid.UUID
	PageID     uuid.UUID
	Title      string
	Score      float64 // lower is closer for vector hits; text hits are unscored (0)
}

// Upsert indexes (or reindexes) one page's searchable text: its title plus
// a best-effort flattening of every block's opaque Data payload. Block
// contents are never semantically interpreted — only their raw bytes are
// tokenized — since blocks are typed by the editor, not by this package
// (spec.md §3 "EditorData").
func (ix *Index) Upsert(notebookID, pageID uuid.UUID, title string, content oplog.EditorData) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	body := flattenBlocks(content)
	tokens := tokenize(title + " " + body)
	vec := hashEmbedding(tokens, VectorDims)

	tx, err := ix.db.Begin()
	if err != nil {
		return core.IO(component, err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(`SELECT seq FROM pages WHERE notebook_id = ? AND page_id = ?`,
		notebookID.String(), pageID.String()).Scan(&seq)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`INSERT INTO pages (notebook_id, page_id, title, body, updated_at) VALUES (?, ?, ?, ?, strftime('%s','now'))`,
			notebookID.String(), pageID.String(), title, body)
		if err != nil {
			return core.IO(component, err)
		}
		seq, err = res.LastInsertId()
		if err != nil {
			return core.IO(component, err)
		}
	case err != nil:
		return core.IO(component, err)
	default:
		if _, err := tx.Exec(`UPDATE pages SET title = ?, body = ?, updated_at = strftime('%s','now') WHERE seq = ?`,
			title, body, seq); err != nil {
			return core.IO(component, err)
		}
		if _, err := tx.Exec(`DELETE FROM pages_vec WHERE rowid = ?`, seq); err != nil {
			return core.IO(component, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO pages_vec (rowid, embedding) VALUES (?, ?)`, seq, encodeVector(vec)); err != nil {
		return core.IO(component, err)
	}

	if err := tx.Commit(); err != nil {
		return core.IO(component, err)
	}
	return nil
}

// Delete removes a page from the index, e.g. when pkg/store soft-deletes it.
func (ix *Index) Delete(notebookID, pageID uuid.UUID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var seq int64
	err := ix.db.QueryRow(`SELECT seq FROM pages WHERE notebook_id = ? AND page_id = ?`,
		notebookID.String(), pageID.String()).Scan(&seq)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return core.IO(component, err)
	}
	if _, err := ix.db.Exec(`DELETE FROM pages_vec WHERE rowid = ?`, seq); err != nil {
		return core.IO(component, err)
	}
	if _, err := ix.db.Exec(`DELETE FROM pages WHERE seq = ?`, seq); err != nil {
		return core.IO(component, err)
	}
	return nil
}

// SearchText does a stopword-filtered substring scan over indexed
// title/body text, requiring every remaining query token to appear.
func (ix *Index) SearchText(ctx context.Context, query string, limit int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var where strings.Builder
	args := make([]any, 0, len(tokens))
	for i, tok := range tokens {
		if i > 0 {
			where.WriteString(" AND ")
		}
		where.WriteString("(title LIKE ? OR body LIKE ?)")
		like := "%" + tok + "%"
		args = append(args, like, like)
	}
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	rows, err := ix.db.QueryContext(ctx, `SELECT notebook_id, page_id, title FROM pages WHERE `+where.String()+` LIMIT ?`, args...)
	if err != nil {
		return nil, core.IO(component, err)
	}
	defer rows.Close()
	return scanHits(rows)
}

// SearchSimilar ranks indexed pages by hashed-embedding distance to query,
// exercising the vec0 KNN path.
func (ix *Index) SearchSimilar(ctx context.Context, query string, limit int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	vec := hashEmbedding(tokenize(query), VectorDims)

	rows, err := ix.db.QueryContext(ctx, `
		SELECT p.notebook_id, p.page_id, p.title, v.distance
		FROM pages_vec v
		JOIN pages p ON p.seq = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, encodeVector(vec), limit)
	if err != nil {
		return nil, core.IO(component, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var nb, pg string
		if err := rows.Scan(&nb, &pg, &h.Title, &h.Score); err != nil {
			return nil, core.IO(component, err)
		}
		if h.NotebookID, err = uuid.Parse(nb); err != nil {
			continue
		}
		if h.PageID, err = uuid.Parse(pg); err != nil {
			continue
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func scanHits(rows *sql.Rows) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var h Hit
		var nb, pg string
		if err := rows.Scan(&nb, &pg, &h.Title); err != nil {
			return nil, core.IO(component, err)
		}
		nbID, err := uuid.Parse(nb)
		if err != nil {
			continue
		}
		pgID, err := uuid.Parse(pg)
		if err != nil {
			continue
		}
		h.NotebookID, h.PageID = nbID, pgID
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// flattenBlocks renders every block's opaque Data payload to a plain text
// approximation by stripping JSON punctuation — good enough to tokenize,
// not an attempt to parse each block type's schema.
func flattenBlocks(content oplog.EditorData) string {
	var sb strings.Builder
	for _, b := range content.Blocks {
		for _, r := range string(b.Data) {
			switch r {
			case '{', '}', '[', ']', '"', ':', ',':
				sb.WriteRune(' ')
			default:
				sb.WriteRune(r)
			}
		}
		sb.WriteRune(' ')
	}
	return sb.String()
}

// tokenize lowercases, splits on non-letters/digits, and drops English
// stopwords plus single-character tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if stopwords.English.IsStopword(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// hashEmbedding implements the feature-hashing trick: each token increments
// a bucket chosen by a hash of the token, and the resulting vector is
// L2-normalized so cosine/L2 distance between two documents reflects
// shared-vocabulary overlap regardless of document length.
func hashEmbedding(tokens []string, dims int) []float32 {
	vec := make([]float32, dims)
	for _, tok := range tokens {
		vec[fnv32(tok)%uint32(dims)]++
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// encodeVector serializes a float32 vector as sqlite-vec's native raw
// little-endian blob format for a float[N] vec0 column.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
