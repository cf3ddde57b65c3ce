package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/felixgeelhaar/mnemo/internal/backup"
	"github.com/felixgeelhaar/mnemo/internal/config"
	"github.com/felixgeelhaar/mnemo/internal/embed"
	"github.com/felixgeelhaar/mnemo/internal/mirror"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/felixgeelhaar/mnemo/internal/record"
	"github.com/felixgeelhaar/mnemo/internal/vector"
	"github.com/felixgeelhaar/mnemo/internal/wal"
	"github.com/felixgeelhaar/mnemo/internal/writer"
)

// SearchMode selects how Search matches records.
type SearchMode string

const (
	// ModeExact matches by substring against keys and values.
	ModeExact SearchMode = "exact"
	// ModeSemantic matches by embedding similarity.
	ModeSemantic SearchMode = "semantic"
	// ModeHybrid merges exact and semantic matches.
	ModeHybrid SearchMode = "hybrid"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine is closed")

// SearchRequest describes one search.
type SearchRequest struct {
	Query string
	Key   string
	Tags  []string
	Type  record.Type
	Mode  SearchMode
	Limit int
}

// SearchResult pairs a record with its match similarity in [0, 1].
type SearchResult struct {
	Record     record.Record
	Similarity float64
}

// Engine ties the record store, vector index, write-ahead log, coordinator,
// mirror and backup manager together behind one API. All cross-backend
// wiring lives here; callers never touch the subsystems directly.
type Engine struct {
	cfg    *config.Config
	obs    *observe.Observer
	store  *record.Store
	index  *vector.Index
	mirror *mirror.Mirror
	log    *wal.WAL
	coord  *writer.Coordinator
	backup *backup.Manager
	closed atomic.Bool
}

// Open builds every subsystem from the configuration and replays any
// write-ahead log entries left by a previous crash before serving.
func Open(ctx context.Context, cfg *config.Config, obs *observe.Observer) (*Engine, error) {
	store, err := record.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	embedder, err := embed.New(cfg.Embedder.Provider, cfg.Embedder.Model, cfg.Embedder.APIKey)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}

	index, err := vector.Open(ctx, cfg.VectorFile, embedder)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	log, err := wal.Open(cfg.WALDir, obs)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}

	mode, err := writer.ParseMode(cfg.WriteMode)
	if err != nil {
		store.Close()
		return nil, err
	}

	mir := mirror.New(cfg.MirrorDir)
	backends := writer.Backends{
		Record: cfg.Backends.RecordEnabled(),
		Vector: cfg.Backends.VectorEnabled(),
		Mirror: cfg.Backends.MirrorEnabled(),
	}

	e := &Engine{
		cfg:    cfg,
		obs:    obs,
		store:  store,
		index:  index,
		mirror: mir,
		log:    log,
		backup: backup.New(cfg.DataDir, cfg.BackupDir, cfg.ArchiveDir, cfg.ArchivePatterns,
			[]string{cfg.DBPath, cfg.VectorFile, cfg.WALDir}, obs),
	}

	if err := e.replay(ctx); err != nil {
		store.Close()
		return nil, err
	}

	// The coordinator starts after replay so queued entries never race
	// recovery.
	e.coord = writer.New(store, index, mir, log, obs, mode, backends)
	return e, nil
}

// replay re-applies pending wal entries directly against the backends.
func (e *Engine) replay(ctx context.Context) error {
	applied, err := e.log.Replay(wal.ApplierFunc(func(entry wal.Entry) error {
		switch entry.Op {
		case wal.OpDelete:
			if _, derr := e.store.Delete(record.Filter{Key: entry.Key}); derr != nil {
				return derr
			}
			for _, typ := range record.Types {
				e.index.Delete(string(typ), entry.Key)
			}
			return nil
		case wal.OpCreate, wal.OpUpdate, wal.OpTag:
			typ := record.Type(entry.Type)
			if !typ.Valid() {
				typ = record.TypeCustom
			}
			_, serr := e.store.Save(entry.Key, entry.Value, typ, entry.Tags, entry.Metadata)
			return serr
		default:
			e.obs.Log().Warn().Str("op", string(entry.Op)).Msg("unknown wal op skipped")
			return nil
		}
	}))
	if err != nil {
		return fmt.Errorf("failed to replay wal: %w", err)
	}
	if applied > 0 {
		e.obs.Log().Info().Int("entries", applied).Msg("wal replay complete")
	}
	return nil
}

// Replay re-runs wal recovery on demand and returns how many entries were
// applied.
func (e *Engine) Replay(ctx context.Context) (int, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.replay")
	defer span.End()
	if e.closed.Load() {
		return 0, ErrClosed
	}
	return e.log.Replay(wal.ApplierFunc(func(entry wal.Entry) error {
		switch entry.Op {
		case wal.OpDelete:
			_, err := e.store.Delete(record.Filter{Key: entry.Key})
			return err
		default:
			typ := record.Type(entry.Type)
			if !typ.Valid() {
				typ = record.TypeCustom
			}
			_, err := e.store.Save(entry.Key, entry.Value, typ, entry.Tags, entry.Metadata)
			return err
		}
	}))
}

// Save writes one record through the coordinator and returns its id. In
// async mode the id may be empty until the write is applied.
func (e *Engine) Save(ctx context.Context, key string, value []byte, typ record.Type, tags []string, metadata map[string]string) (string, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.save")
	defer span.End()
	if e.closed.Load() {
		return "", ErrClosed
	}

	saved, err := e.coord.Save(ctx, record.Record{
		Key:      key,
		Value:    value,
		Type:     typ,
		Tags:     tags,
		Metadata: metadata,
	})
	if err != nil {
		return "", err
	}

	e.obs.Log().Info().Str("key", key).Str("type", string(typ)).Msg("record saved")
	return saved.ID, nil
}

// SaveBatch writes several records, each independently; one failure does not
// stop the rest.
func (e *Engine) SaveBatch(ctx context.Context, recs []record.Record) ([]record.Record, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.save_batch")
	defer span.End()
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.coord.SaveBatch(ctx, recs)
}

// Load reads records straight from the store, bypassing the coordinator.
func (e *Engine) Load(ctx context.Context, f record.Filter) ([]record.Record, error) {
	_, span := e.obs.StartSpan(ctx, "engine.load")
	defer span.End()
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.store.Load(f)
}

// Delete removes every record the filter selects from all backends and
// returns the number removed.
func (e *Engine) Delete(ctx context.Context, f record.Filter) (int, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.delete")
	defer span.End()
	if e.closed.Load() {
		return 0, ErrClosed
	}

	victims, err := e.store.Load(f)
	if err != nil {
		return 0, err
	}
	for _, rec := range victims {
		if err := e.coord.Delete(ctx, rec); err != nil {
			return 0, err
		}
	}
	if len(victims) > 0 {
		e.obs.Log().Info().Int("count", len(victims)).Msg("records deleted")
	}
	return len(victims), nil
}

// Search runs the requested mode and returns results ordered by similarity,
// capped at the limit. A query matching nothing returns an empty slice.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.search")
	defer span.End()
	if e.closed.Load() {
		return nil, ErrClosed
	}

	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Mode == "" {
		req.Mode = ModeExact
	}

	var results []SearchResult
	var err error
	switch req.Mode {
	case ModeExact:
		results, err = e.searchExact(req)
	case ModeSemantic:
		results, err = e.searchSemantic(ctx, req)
	case ModeHybrid:
		results, err = e.searchHybrid(ctx, req)
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	results = filterByTags(results, req.Tags)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

func (e *Engine) searchExact(req SearchRequest) ([]SearchResult, error) {
	recs, err := e.store.Search(req.Query, req.Type, 0)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(recs))
	for _, rec := range recs {
		if req.Key != "" && rec.Key != req.Key {
			continue
		}
		results = append(results, SearchResult{Record: rec, Similarity: 1.0})
	}
	return results, nil
}

func (e *Engine) searchSemantic(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	types := record.Types
	if req.Type != "" {
		types = []record.Type{req.Type}
	}

	var results []SearchResult
	for _, typ := range types {
		matches, err := e.index.Search(ctx, string(typ), req.Query, req.Limit)
		if err != nil {
			return nil, fmt.Errorf("failed to search vector index: %w", err)
		}
		for _, m := range matches {
			if req.Key != "" && m.ID != req.Key {
				continue
			}
			recs, err := e.store.Load(record.Filter{Key: m.ID})
			if err != nil {
				return nil, err
			}
			if len(recs) == 0 {
				// The index can briefly hold keys the store has dropped.
				continue
			}
			results = append(results, SearchResult{
				Record:     recs[0],
				Similarity: similarity(float64(m.Distance)),
			})
		}
	}
	return results, nil
}

func (e *Engine) searchHybrid(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	exact, err := e.searchExact(req)
	if err != nil {
		return nil, err
	}
	semantic, err := e.searchSemantic(ctx, req)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(exact))
	merged := make([]SearchResult, 0, len(exact)+len(semantic))
	for _, r := range exact {
		seen[r.Record.ID] = true
		merged = append(merged, r)
	}
	for _, r := range semantic {
		if seen[r.Record.ID] {
			continue
		}
		merged = append(merged, r)
	}
	return merged, nil
}

// similarity maps an L2 distance between unit vectors onto [0, 1].
func similarity(distance float64) float64 {
	s := 1 - distance/2
	if s < 0 {
		return 0
	}
	return s
}

func filterByTags(results []SearchResult, tags []string) []SearchResult {
	if len(tags) == 0 {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if hasAllTags(r.Record.Tags, tags) {
			kept = append(kept, r)
		}
	}
	return kept
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// Stats reports store totals.
func (e *Engine) Stats(ctx context.Context) (record.Stats, error) {
	_, span := e.obs.StartSpan(ctx, "engine.stats")
	defer span.End()
	if e.closed.Load() {
		return record.Stats{}, ErrClosed
	}
	return e.store.Stats()
}

// Backup returns the backup manager for snapshot and retention operations.
func (e *Engine) Backup() *backup.Manager {
	return e.backup
}

// Drain blocks until queued async writes have been applied.
func (e *Engine) Drain() {
	e.coord.Drain()
}

// Close drains pending writes, persists the vector index and shuts every
// subsystem down. The engine cannot be reused afterwards.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.coord.Close()

	var firstErr error
	if err := e.index.Flush(); err != nil {
		firstErr = fmt.Errorf("failed to flush vector index: %w", err)
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close record store: %w", err)
	}
	return firstErr
}
