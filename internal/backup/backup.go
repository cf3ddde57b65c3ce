package backup

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zip"

	"github.com/felixgeelhaar/mnemo/internal/observe"
)

// Snapshot describes one backup archive on disk.
type Snapshot struct {
	Kind      string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Report summarizes what a budget cleanup removed.
type Report struct {
	DeletedFiles  int
	FreedBytes    int64
	OldestDeleted time.Time
}

// DefaultArchivePatterns selects the subtrees whose files age out into the
// archive tree.
var DefaultArchivePatterns = []string{"conversations/**", "goals/**"}

// Manager creates zip snapshots of the data root, moves stale files into a
// parallel archive tree and enforces a size budget on the root.
type Manager struct {
	root       string
	backupDir  string
	archiveDir string
	patterns   []string
	protect    []string
	obs        *observe.Observer
}

// New builds a manager for the data root. Snapshots land in backupDir and
// aged files in archiveDir; empty patterns fall back to the defaults.
// Paths in protect (files or whole directories) are never archived or
// deleted by retention; the caller lists its live stores here.
func New(root, backupDir, archiveDir string, patterns, protect []string, obs *observe.Observer) *Manager {
	if len(patterns) == 0 {
		patterns = DefaultArchivePatterns
	}
	cleaned := make([]string, 0, len(protect))
	for _, p := range protect {
		if abs, err := filepath.Abs(p); err == nil {
			cleaned = append(cleaned, abs)
		} else {
			cleaned = append(cleaned, filepath.Clean(p))
		}
	}
	return &Manager{
		root:       root,
		backupDir:  backupDir,
		archiveDir: archiveDir,
		patterns:   patterns,
		protect:    cleaned,
		obs:        obs,
	}
}

// isProtected reports whether path is one of the protected paths or lives
// under a protected directory.
func (m *Manager) isProtected(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	for _, p := range m.protect {
		if abs == p || strings.HasPrefix(abs, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Create zips the entire data root into `<kind>_<timestamp>.zip` under the
// backup directory. The source tree is left untouched.
func (m *Manager) Create(kind string) (Snapshot, error) {
	if kind == "" {
		kind = "manual"
	}
	if err := os.MkdirAll(m.backupDir, 0750); err != nil {
		return Snapshot{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := time.Now().UTC()
	path := filepath.Join(m.backupDir, fmt.Sprintf("%s_%s.zip", kind, now.Format("20060102_150405")))

	f, err := os.Create(path) // #nosec G304
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to create archive: %w", err)
	}
	zw := zip.NewWriter(f)

	walkErr := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// The backup directory may live inside the root; never zip
			// archives into new archives.
			if sameDir(p, m.backupDir) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(m.root, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(p) // #nosec G304
		if err != nil {
			return err
		}
		_, err = io.Copy(w, src)
		src.Close()
		return err
	})
	if walkErr != nil {
		zw.Close()
		f.Close()
		os.Remove(path)
		return Snapshot{}, fmt.Errorf("failed to build archive: %w", walkErr)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return Snapshot{}, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to close archive: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to stat archive: %w", err)
	}

	snap := Snapshot{Kind: kind, Path: path, Size: info.Size(), CreatedAt: now}
	m.obs.Log().Info().Str("path", path).Int("bytes", int(snap.Size)).Msg("backup created")
	return snap, nil
}

// List returns known snapshots, newest first.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var snaps []Snapshot
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".zip") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		kind := strings.TrimSuffix(name, ".zip")
		if i := strings.Index(kind, "_"); i > 0 {
			kind = kind[:i]
		}
		snaps = append(snaps, Snapshot{
			Kind:      kind,
			Path:      filepath.Join(m.backupDir, name),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

// Restore extracts a snapshot over the data root. Existing files are
// overwritten; files not present in the snapshot are left alone.
func (m *Manager) Restore(archivePath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		target := filepath.Join(m.root, filepath.FromSlash(file.Name))
		rel, err := filepath.Rel(m.root, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("archive entry %q escapes the data root", file.Name)
		}
		if file.FileInfo().IsDir() {
			continue
		}
		if err := m.extractFile(file, target); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", file.Name, err)
	}
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", file.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil { // #nosec G110
		dst.Close()
		return fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	return dst.Close()
}

// ArchiveOld moves files older than threshold out of the selected subtrees
// into the archive tree, keeping their relative paths. Returns how many
// files moved.
func (m *Manager) ArchiveOld(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	moved := 0

	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if sameDir(p, m.backupDir) || sameDir(p, m.archiveDir) {
				return filepath.SkipDir
			}
			return nil
		}

		if m.isProtected(p) {
			return nil
		}
		rel, err := filepath.Rel(m.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !m.matchesPattern(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		dest := filepath.Join(m.archiveDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
			return fmt.Errorf("failed to create archive path: %w", err)
		}
		if err := os.Rename(p, dest); err != nil {
			return fmt.Errorf("failed to archive %s: %w", rel, err)
		}
		moved++
		return nil
	})
	if err != nil {
		return moved, err
	}

	if moved > 0 {
		m.obs.Log().Info().Int("files", moved).Msg("archived stale files")
	}
	return moved, nil
}

func (m *Manager) matchesPattern(rel string) bool {
	for _, pattern := range m.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Cleanup deletes the oldest files in the data root until usage drops to 90%
// of maxBytes. Nothing happens while usage is within budget. Protected paths
// (the live stores registered at construction) and dot- or
// underscore-prefixed internals are counted toward usage but never deleted.
func (m *Manager) Cleanup(maxBytes int64) (Report, error) {
	var report Report
	if maxBytes <= 0 {
		return report, nil
	}

	type candidate struct {
		path    string
		size    int64
		modTime time.Time
	}

	var total int64
	var files []candidate
	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if sameDir(p, m.backupDir) {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		if strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") {
			return nil
		}
		if m.isProtected(p) {
			return nil
		}
		files = append(files, candidate{path: p, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to measure data root: %w", err)
	}

	if total <= maxBytes {
		return report, nil
	}

	target := maxBytes * 9 / 10
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files {
		if total <= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			m.obs.Log().Warn().Str("path", f.path).Err(err).Msg("cleanup skip")
			continue
		}
		total -= f.size
		report.DeletedFiles++
		report.FreedBytes += f.size
		if report.OldestDeleted.IsZero() || f.modTime.Before(report.OldestDeleted) {
			report.OldestDeleted = f.modTime
		}
	}

	m.obs.Log().Info().Int("deleted", report.DeletedFiles).Int("freed", int(report.FreedBytes)).Msg("cleanup done")
	return report, nil
}

func sameDir(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return aa == bb
}
