package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/mnemo/internal/observe"
)

// Op is the kind of mutation recorded in the log.
type Op string

const (
	OpCreate Op = "CREATE"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	OpTag    Op = "TAG"
)

// ErrCorruptEntry marks a log file that could not be decoded. Replay skips
// such entries instead of failing.
var ErrCorruptEntry = errors.New("corrupt wal entry")

const sequenceFile = "_sequence"

// Entry is one logged mutation. Entries are written before the mutation is
// applied and deleted once replay has re-applied them.
type Entry struct {
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Op        Op                `json:"op"`
	Key       string            `json:"key"`
	Value     []byte            `json:"value,omitempty"`
	Type      string            `json:"type,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Applier is the subset of the record store replay needs.
type Applier interface {
	Apply(e Entry) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(e Entry) error

func (f ApplierFunc) Apply(e Entry) error {
	return f(e)
}

// WAL is a write-ahead log: one file per entry, named by sequence number,
// plus a separate counter file so the sequence survives a log-directory
// reset. Append flushes to disk before returning; that is the durability
// contract the coordinator relies on.
type WAL struct {
	mu  sync.Mutex
	dir string
	seq uint64
	obs *observe.Observer
}

// Open opens the log directory, creating it if needed, and restores the
// persisted sequence counter.
func Open(dir string, obs *observe.Observer) (*WAL, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create wal directory: %w", err)
	}

	w := &WAL{dir: dir, obs: obs}

	data, err := os.ReadFile(filepath.Join(dir, sequenceFile))
	if err == nil {
		if seq, perr := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64); perr == nil {
			w.seq = seq
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read sequence file: %w", err)
	}

	return w, nil
}

// Append assigns the next sequence number, durably writes the entry and
// returns the sequence. The entry file is synced before Append returns.
func (w *WAL) Append(e Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	e.Seq = w.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		w.seq--
		return 0, fmt.Errorf("failed to marshal wal entry: %w", err)
	}

	if err := w.writeDurable(w.entryPath(e.Seq), data); err != nil {
		w.seq--
		return 0, err
	}

	// The counter is persisted after the entry: losing it only replays the
	// last entry one extra time, which replay tolerates.
	if err := w.writeDurable(filepath.Join(w.dir, sequenceFile), []byte(strconv.FormatUint(w.seq, 10))); err != nil {
		return 0, err
	}

	return e.Seq, nil
}

func (w *WAL) writeDurable(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func (w *WAL) entryPath(seq uint64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%012d.log", seq))
}

// Pending returns the sequence numbers of entries not yet replayed, ascending.
func (w *WAL) Pending() ([]uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending()
}

func (w *WAL) pending() ([]uint64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list wal directory: %w", err)
	}

	var seqs []uint64
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		seq, perr := strconv.ParseUint(strings.TrimSuffix(name, ".log"), 10, 64)
		if perr != nil {
			continue
		}
		seqs = append(seqs, seq)
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Replay re-applies every pending entry in sequence order, then removes the
// consumed files. A corrupt entry is logged and skipped; it never aborts the
// rest of the replay. Returns the number of entries applied.
func (w *WAL) Replay(applier Applier) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seqs, err := w.pending()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, seq := range seqs {
		path := w.entryPath(seq)

		entry, err := readEntry(path)
		if err != nil {
			w.obs.Log().Warn().Int("seq", int(seq)).Err(err).Msg("skipping unreadable wal entry")
			_ = os.Remove(path)
			continue
		}

		if err := applier.Apply(entry); err != nil {
			return applied, fmt.Errorf("failed to apply wal entry %d: %w", seq, err)
		}
		applied++

		if err := os.Remove(path); err != nil {
			return applied, fmt.Errorf("failed to remove consumed wal entry %d: %w", seq, err)
		}
	}

	return applied, nil
}

func readEntry(path string) (Entry, error) {
	var entry Entry

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return entry, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return entry, nil
}

// Sequence returns the last assigned sequence number.
func (w *WAL) Sequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}
