package writer

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/mnemo/internal/mirror"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/felixgeelhaar/mnemo/internal/record"
	"github.com/felixgeelhaar/mnemo/internal/vector"
	"github.com/felixgeelhaar/mnemo/internal/wal"
)

// Mode selects how writes are delivered to the backends.
type Mode string

const (
	// ModeSync applies each write inline before returning.
	ModeSync Mode = "sync"
	// ModeAsync queues writes and applies them on a background worker.
	ModeAsync Mode = "async"
	// ModeBatch accepts slices of writes and applies each item independently.
	ModeBatch Mode = "batch"
)

// ParseMode validates a mode string, defaulting to sync.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSync:
		return ModeSync, nil
	case ModeAsync:
		return ModeAsync, nil
	case ModeBatch:
		return ModeBatch, nil
	default:
		return "", fmt.Errorf("unknown write mode %q", s)
	}
}

// Backends controls which destinations receive writes. The record store is
// the primary backend; the vector index and markdown mirror are secondary
// and may be switched off independently.
type Backends struct {
	Record bool
	Vector bool
	Mirror bool
}

// AllBackends enables every destination.
func AllBackends() Backends {
	return Backends{Record: true, Vector: true, Mirror: true}
}

// maxDocumentBytes caps the text handed to the embedder per record.
const maxDocumentBytes = 500

const asyncQueueSize = 256

// Coordinator fans writes out across the enabled backends. When the record
// store is enabled, every write is logged to the WAL before any backend is
// touched; a failure in the primary record store aborts the write, while
// secondary backend failures are logged and swallowed so one degraded
// destination cannot block the others. In async mode a full queue applies
// backpressure instead of bypassing it.
type Coordinator struct {
	store    *record.Store
	index    *vector.Index
	mirror   *mirror.Mirror
	log      *wal.WAL
	obs      *observe.Observer
	mode     Mode
	backends Backends

	queue   chan job
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

type job struct {
	ctx     context.Context
	rec     record.Record
	remove  bool
	barrier chan struct{}
}

// New builds a coordinator. In async mode a single background worker is
// started; call Close to stop it.
func New(store *record.Store, index *vector.Index, mir *mirror.Mirror, log *wal.WAL, obs *observe.Observer, mode Mode, backends Backends) *Coordinator {
	c := &Coordinator{
		store:    store,
		index:    index,
		mirror:   mir,
		log:      log,
		obs:      obs,
		mode:     mode,
		backends: backends,
	}
	if mode == ModeAsync {
		c.queue = make(chan job, asyncQueueSize)
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Mode returns the configured delivery mode.
func (c *Coordinator) Mode() Mode {
	return c.mode
}

// Save writes the record to every enabled backend. In sync and batch modes
// the returned record carries the store-assigned id; in async mode the write
// is queued and the input record is returned as-is.
func (c *Coordinator) Save(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := record.Validate(rec.Key, rec.Type); err != nil {
		return rec, err
	}

	// The WAL replays into the record store on startup, so only writes the
	// record backend would accept belong in it.
	if c.backends.Record {
		op := wal.OpUpdate
		if rec.ID == "" {
			op = wal.OpCreate
		}
		if _, err := c.log.Append(wal.Entry{
			Op:       op,
			Key:      rec.Key,
			Value:    rec.Value,
			Type:     string(rec.Type),
			Tags:     rec.Tags,
			Metadata: rec.Metadata,
		}); err != nil {
			return rec, fmt.Errorf("failed to log write: %w", err)
		}
	}

	if c.mode == ModeAsync {
		// A full queue blocks until the worker catches up. Applying inline
		// instead would let a later write overtake queued ones.
		c.queue <- job{ctx: context.WithoutCancel(ctx), rec: rec}
		return rec, nil
	}
	return c.apply(ctx, rec)
}

// SaveBatch applies each record independently and returns the first error
// alongside every record that did succeed.
func (c *Coordinator) SaveBatch(ctx context.Context, recs []record.Record) ([]record.Record, error) {
	saved := make([]record.Record, 0, len(recs))
	var firstErr error
	for _, rec := range recs {
		out, err := c.Save(ctx, rec)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to save %q: %w", rec.Key, err)
			}
			continue
		}
		saved = append(saved, out)
	}
	return saved, firstErr
}

// Delete removes the record from every enabled backend.
func (c *Coordinator) Delete(ctx context.Context, rec record.Record) error {
	if c.backends.Record {
		if _, err := c.log.Append(wal.Entry{Op: wal.OpDelete, Key: rec.Key}); err != nil {
			return fmt.Errorf("failed to log delete: %w", err)
		}
	}

	if c.mode == ModeAsync {
		c.queue <- job{ctx: context.WithoutCancel(ctx), rec: rec, remove: true}
		return nil
	}
	return c.applyDelete(ctx, rec)
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for j := range c.queue {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		var err error
		if j.remove {
			err = c.applyDelete(j.ctx, j.rec)
		} else {
			_, err = c.apply(j.ctx, j.rec)
		}
		if err != nil {
			c.obs.Log().Error().Str("key", j.rec.Key).Err(err).Msg("async write failed")
		}
	}
}

func (c *Coordinator) apply(ctx context.Context, rec record.Record) (record.Record, error) {
	if c.backends.Record {
		saved, err := c.store.Save(rec.Key, rec.Value, rec.Type, rec.Tags, rec.Metadata)
		if err != nil {
			return rec, fmt.Errorf("failed to save record: %w", err)
		}
		// The stored row carries the stable id and the original creation
		// time, which the mirror keys its files on.
		rec = saved
	}

	if c.backends.Vector {
		if err := c.index.Add(ctx, string(rec.Type), rec.Key, document(rec), rec.Metadata); err != nil {
			c.obs.Log().Warn().Str("key", rec.Key).Err(err).Msg("vector index write failed")
		}
	}

	if c.backends.Mirror {
		if err := c.mirror.Write(rec); err != nil {
			c.obs.Log().Warn().Str("key", rec.Key).Err(err).Msg("mirror write failed")
		}
	}

	return rec, nil
}

func (c *Coordinator) applyDelete(ctx context.Context, rec record.Record) error {
	if c.backends.Record {
		if _, err := c.store.Delete(record.Filter{Key: rec.Key}); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
	}

	if c.backends.Vector {
		c.index.Delete(string(rec.Type), rec.Key)
	}

	if c.backends.Mirror {
		if err := c.mirror.Remove(rec); err != nil {
			c.obs.Log().Warn().Str("key", rec.Key).Err(err).Msg("mirror remove failed")
		}
	}

	return nil
}

// Drain blocks until every queued async write has been applied. In sync and
// batch modes it returns immediately.
func (c *Coordinator) Drain() {
	if c.mode != ModeAsync {
		return
	}
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	done := make(chan struct{})
	c.queue <- job{barrier: done}
	c.closeMu.Unlock()
	<-done
}

// Close drains pending work and stops the worker. Safe to call more than once.
func (c *Coordinator) Close() {
	if c.mode != ModeAsync {
		return
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
	c.wg.Wait()
}

// document is the text indexed for a record: the key and value joined, capped
// so oversized payloads do not dominate embedding cost.
func document(rec record.Record) string {
	doc := rec.Key + ": " + string(rec.Value)
	if len(doc) > maxDocumentBytes {
		doc = doc[:maxDocumentBytes]
	}
	return doc
}
