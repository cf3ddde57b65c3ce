package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/mnemo/internal/record"
)

// Mirror maintains a human-readable markdown copy of the store. Each record
// occupies one "## key" block in a file chosen by its type; conversations are
// grouped into one file per day.
type Mirror struct {
	dir string
}

// New returns a mirror rooted at dir. The directory is created on first write.
func New(dir string) *Mirror {
	return &Mirror{dir: dir}
}

// Dir returns the mirror root.
func (m *Mirror) Dir() string {
	return m.dir
}

// fileFor maps a record to its markdown file. Conversations go to a per-date
// file under conversations/, named from the record's date metadata when
// present and the creation time otherwise. Creation time keeps a
// conversation in one file across edits on later days.
func (m *Mirror) fileFor(rec record.Record) string {
	switch rec.Type {
	case record.TypeConversation:
		date := rec.Metadata["date"]
		if date == "" {
			when := rec.CreatedAt
			if when.IsZero() {
				when = time.Now().UTC()
			}
			date = when.Format("2006-01-02")
		}
		return filepath.Join(m.dir, "conversations", date+".md")
	case record.TypeDecision:
		return filepath.Join(m.dir, "decisions.md")
	case record.TypeKnowledge:
		return filepath.Join(m.dir, "knowledge.md")
	case record.TypeGoal:
		return filepath.Join(m.dir, "goals.md")
	case record.TypeTask:
		return filepath.Join(m.dir, "tasks.md")
	default:
		return filepath.Join(m.dir, "notes.md")
	}
}

// Write upserts the record's block in its markdown file, replacing an
// existing block with the same key.
func (m *Mirror) Write(rec record.Record) error {
	path := m.fileFor(rec)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}

	blocks, err := readBlocks(path)
	if err != nil {
		return err
	}

	replaced := false
	for i, b := range blocks {
		if b.key == rec.Key {
			blocks[i] = renderBlock(rec)
			replaced = true
			break
		}
	}
	if !replaced {
		blocks = append(blocks, renderBlock(rec))
	}

	return writeBlocks(path, blocks)
}

// Remove deletes the record's block, rewriting the file without it. Removing
// the last block removes the file. Unknown keys are a no-op.
func (m *Mirror) Remove(rec record.Record) error {
	path := m.fileFor(rec)

	blocks, err := readBlocks(path)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}

	kept := blocks[:0]
	for _, b := range blocks {
		if b.key != rec.Key {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(blocks) {
		return nil
	}
	if len(kept) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove mirror file: %w", err)
		}
		return nil
	}

	return writeBlocks(path, kept)
}

type block struct {
	key  string
	body string
}

func renderBlock(rec record.Record) block {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", rec.Key)
	fmt.Fprintf(&sb, "- type: %s\n", rec.Type)
	if len(rec.Tags) > 0 {
		fmt.Fprintf(&sb, "- tags: %s\n", strings.Join(rec.Tags, ", "))
	}
	if !rec.UpdatedAt.IsZero() {
		fmt.Fprintf(&sb, "- updated: %s\n", rec.UpdatedAt.UTC().Format(time.RFC3339))
	}
	sb.WriteString("\n")
	sb.WriteString(strings.TrimRight(string(rec.Value), "\n"))
	sb.WriteString("\n")
	return block{key: rec.Key, body: sb.String()}
}

// readBlocks splits a mirror file on "## " headings. Content before the first
// heading is dropped; mirror files are fully regenerated on every write.
func readBlocks(path string) ([]block, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror file: %w", err)
	}

	var blocks []block
	var cur *block
	for _, line := range strings.SplitAfter(string(data), "\n") {
		if strings.HasPrefix(line, "## ") {
			if cur != nil {
				blocks = append(blocks, *cur)
			}
			key := strings.TrimSpace(strings.TrimPrefix(line, "## "))
			cur = &block{key: key, body: line}
			continue
		}
		if cur != nil {
			cur.body += line
		}
	}
	if cur != nil {
		blocks = append(blocks, *cur)
	}

	for i := range blocks {
		blocks[i].body = strings.TrimRight(blocks[i].body, "\n") + "\n"
	}
	return blocks, nil
}

func writeBlocks(path string, blocks []block) error {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.body)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write mirror file: %w", err)
	}
	return nil
}
