package engine

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mnemo/internal/record"
)

type txOp struct {
	rec    record.Record
	filter record.Filter
	remove bool
}

// Tx stages a group of writes. Nothing touches the backends until Commit;
// Rollback discards the staged operations. Commit applies sequentially and
// stops at the first failure, so a partial commit leaves earlier operations
// applied.
type Tx struct {
	engine *Engine
	ops    []txOp
	done   bool
}

// Begin starts a staged write group.
func (e *Engine) Begin() *Tx {
	return &Tx{engine: e}
}

// Save stages an upsert. Validation happens immediately so a bad record is
// caught before Commit.
func (t *Tx) Save(key string, value []byte, typ record.Type, tags []string, metadata map[string]string) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	if err := record.Validate(key, typ); err != nil {
		return err
	}
	t.ops = append(t.ops, txOp{rec: record.Record{
		Key:      key,
		Value:    value,
		Type:     typ,
		Tags:     tags,
		Metadata: metadata,
	}})
	return nil
}

// Delete stages a filtered delete.
func (t *Tx) Delete(f record.Filter) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.ops = append(t.ops, txOp{filter: f, remove: true})
	return nil
}

// Commit applies the staged operations in order, stopping at the first
// error. Returns how many operations were applied.
func (t *Tx) Commit(ctx context.Context) (int, error) {
	if t.done {
		return 0, fmt.Errorf("transaction already finished")
	}
	t.done = true

	if t.engine.closed.Load() {
		return 0, ErrClosed
	}

	applied := 0
	for _, op := range t.ops {
		if op.remove {
			if _, err := t.engine.Delete(ctx, op.filter); err != nil {
				return applied, fmt.Errorf("failed to apply staged delete: %w", err)
			}
		} else {
			if _, err := t.engine.coord.Save(ctx, op.rec); err != nil {
				return applied, fmt.Errorf("failed to apply staged save %q: %w", op.rec.Key, err)
			}
		}
		applied++
	}
	return applied, nil
}

// Rollback discards the staged operations. Safe after Commit; it then does
// nothing.
func (t *Tx) Rollback() {
	t.done = true
	t.ops = nil
}
