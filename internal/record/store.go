package record

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the durable record store, backed by an embedded SQLite database.
//
// Writes serialize through a single coarse lock; there is no row-level
// concurrency control. Reads on a missing key or id return an empty result,
// never an error.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the record database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			key TEXT UNIQUE NOT NULL,
			value BLOB,
			type TEXT NOT NULL DEFAULT 'custom',
			tags_json TEXT,
			metadata_json TEXT,
			created_at DATETIME,
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS record_tags (
			record_id TEXT NOT NULL,
			tag_id INTEGER NOT NULL,
			UNIQUE(record_id, tag_id),
			FOREIGN KEY(record_id) REFERENCES records(id),
			FOREIGN KEY(tag_id) REFERENCES tags(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_key ON records(key);`,
		`CREATE INDEX IF NOT EXISTS idx_records_type ON records(type);`,
		`CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or updates the record stored under key and returns the
// stored row.
//
// An existing key keeps its id and created_at; only value, type, tags,
// metadata and updated_at change. A new key is assigned a fresh id.
func (s *Store) Save(key string, value []byte, typ Type, tags []string, metadata map[string]string) (Record, error) {
	if err := Validate(key, typ); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now().UTC()

	// Upsert keeps a stable id for an existing key.
	var id string
	var createdAt time.Time
	err = s.db.QueryRow(`SELECT id, created_at FROM records WHERE key = ?`, key).Scan(&id, &createdAt)
	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		createdAt = now
		_, err = s.db.Exec(
			`INSERT INTO records (id, key, value, type, tags_json, metadata_json, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, key, value, string(typ), string(tagsJSON), string(metaJSON), createdAt, now,
		)
	case err == nil:
		_, err = s.db.Exec(
			`UPDATE records SET value = ?, type = ?, tags_json = ?, metadata_json = ?, updated_at = ? WHERE id = ?`,
			value, string(typ), string(tagsJSON), string(metaJSON), now, id,
		)
		if err == nil {
			// Tag set is replaced, not merged.
			_, err = s.db.Exec(`DELETE FROM record_tags WHERE record_id = ?`, id)
		}
	default:
		return Record{}, fmt.Errorf("failed to query record: %w", err)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to write record: %w", err)
	}

	for _, tag := range tags {
		if err := s.attachTag(id, tag); err != nil {
			return Record{}, err
		}
	}

	return Record{
		ID:        id,
		Key:       key,
		Value:     value,
		Type:      typ,
		Tags:      tags,
		Metadata:  metadata,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}, nil
}

func (s *Store) attachTag(recordID, tag string) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO tags (name) VALUES (?)`, tag); err != nil {
		return fmt.Errorf("failed to create tag: %w", err)
	}

	var tagID int64
	if err := s.db.QueryRow(`SELECT id FROM tags WHERE name = ?`, tag).Scan(&tagID); err != nil {
		return fmt.Errorf("failed to resolve tag: %w", err)
	}

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO record_tags (record_id, tag_id) VALUES (?, ?)`,
		recordID, tagID,
	); err != nil {
		return fmt.Errorf("failed to attach tag: %w", err)
	}
	return nil
}

// Load returns records matching the filter, most recently updated first.
// A filter that matches nothing returns an empty slice.
func (s *Store) Load(f Filter) ([]Record, error) {
	query := `SELECT id, key, value, type, tags_json, metadata_json, created_at, updated_at FROM records WHERE 1=1`
	var params []interface{}

	if f.Key != "" {
		query += ` AND key = ?`
		params = append(params, f.Key)
	}
	if f.ID != "" {
		query += ` AND id = ?`
		params = append(params, f.ID)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		params = append(params, string(f.Type))
	}

	query += ` ORDER BY updated_at DESC`
	// Tag matching happens after scanning, so the SQL limit would cut off
	// rows before the tag filter sees them. Limit in Go instead.
	if f.Limit > 0 && len(f.Tags) == 0 {
		query += ` LIMIT ?`
		params = append(params, f.Limit)
	}

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if len(f.Tags) > 0 && !hasAllTags(rec.Tags, f.Tags) {
			continue
		}
		records = append(records, rec)
		if f.Limit > 0 && len(records) == f.Limit {
			break
		}
	}
	return records, rows.Err()
}

// Search returns records whose key or value contains the query substring,
// most recently updated first. Used for exact-mode search.
func (s *Store) Search(query string, typ Type, limit int) ([]Record, error) {
	sqlQuery := `SELECT id, key, value, type, tags_json, metadata_json, created_at, updated_at FROM records
		WHERE (key LIKE ? OR value LIKE ?)`
	like := "%" + query + "%"
	params := []interface{}{like, like}

	if typ != "" {
		sqlQuery += ` AND type = ?`
		params = append(params, string(typ))
	}

	sqlQuery += ` ORDER BY updated_at DESC`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		params = append(params, limit)
	}

	rows, err := s.db.Query(sqlQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes all records matching the filter and returns how many ids
// were deleted. A filter matching nothing returns 0 without error.
func (s *Store) Delete(f Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.resolveIDs(f)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	params := make([]interface{}, len(ids))
	for i, id := range ids {
		params[i] = id
	}

	if _, err := s.db.Exec(`DELETE FROM record_tags WHERE record_id IN (`+placeholders+`)`, params...); err != nil {
		return 0, fmt.Errorf("failed to delete tag rows: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM records WHERE id IN (`+placeholders+`)`, params...); err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}

	return len(ids), nil
}

// ResolveIDs returns the ids of records the filter would select, without
// deleting anything. The coordinator uses this to fan out per-id deletes.
func (s *Store) ResolveIDs(f Filter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveIDs(f)
}

func (s *Store) resolveIDs(f Filter) ([]string, error) {
	recs, err := s.Load(Filter{Key: f.Key, ID: f.ID, Tags: f.Tags, Type: f.Type})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// Stats reports totals by type plus the number of distinct tags.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{ByType: make(map[Type]int)}

	rows, err := s.db.Query(`SELECT type, COUNT(*) FROM records GROUP BY type`)
	if err != nil {
		return stats, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return stats, err
		}
		stats.ByType[Type(typ)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(DISTINCT tag_id) FROM record_tags`,
	).Scan(&stats.TotalTags); err != nil {
		return stats, fmt.Errorf("failed to count tags: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var typ, tagsJSON, metaJSON string
	if err := row.Scan(&rec.ID, &rec.Key, &rec.Value, &typ, &tagsJSON, &metaJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.Type = Type(typ)

	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return rec, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return rec, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
