package mirror

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/mnemo/internal/record"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestMirror_WriteRoutesByType(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	tests := []struct {
		name string
		rec  record.Record
		file string
	}{
		{
			name: "ConversationByDateMetadata",
			rec: record.Record{
				Key:      "conv:standup",
				Type:     record.TypeConversation,
				Value:    []byte("status round"),
				Metadata: map[string]string{"date": "2026-03-14"},
			},
			file: filepath.Join("conversations", "2026-03-14.md"),
		},
		{
			name: "Decision",
			rec:  record.Record{Key: "dec:db", Type: record.TypeDecision, Value: []byte("use sqlite")},
			file: "decisions.md",
		},
		{
			name: "Knowledge",
			rec:  record.Record{Key: "know:wal", Type: record.TypeKnowledge, Value: []byte("log before apply")},
			file: "knowledge.md",
		},
		{
			name: "Goal",
			rec:  record.Record{Key: "goal:q1", Type: record.TypeGoal, Value: []byte("ship it")},
			file: "goals.md",
		},
		{
			name: "CustomFallsBackToNotes",
			rec:  record.Record{Key: "misc:x", Type: record.TypeCustom, Value: []byte("whatever")},
			file: "notes.md",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Write(tt.rec); err != nil {
				t.Fatalf("Failed to write: %v", err)
			}
			content := readFile(t, filepath.Join(dir, tt.file))
			if !strings.Contains(content, "## "+tt.rec.Key) {
				t.Errorf("Expected heading for %q in %s, got:\n%s", tt.rec.Key, tt.file, content)
			}
			if !strings.Contains(content, string(tt.rec.Value)) {
				t.Errorf("Expected body %q in %s", tt.rec.Value, tt.file)
			}
		})
	}
}

func TestMirror_ConversationWithoutDateUsesCreationTime(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	rec := record.Record{
		Key:       "conv:retro",
		Type:      record.TypeConversation,
		Value:     []byte("went well"),
		CreatedAt: time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
	}
	if err := m.Write(rec); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "conversations", "2026-01-02.md")); err != nil {
		t.Errorf("Expected conversations/2026-01-02.md to exist: %v", err)
	}
}

func TestMirror_ConversationEditStaysInCreationDateFile(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	rec := record.Record{
		Key:       "conv:standup",
		Type:      record.TypeConversation,
		Value:     []byte("first pass"),
		CreatedAt: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
	}
	if err := m.Write(rec); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	// An edit on a later day must land in the original file, not fork a
	// second one.
	rec.Value = []byte("amended")
	rec.UpdatedAt = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	if err := m.Write(rec); err != nil {
		t.Fatalf("Failed to re-write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "conversations", "2026-01-02.md"))
	if err != nil {
		t.Fatalf("Expected original date file: %v", err)
	}
	if !strings.Contains(string(data), "amended") {
		t.Errorf("Expected edit in the creation-date file, got %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "conversations", "2026-01-05.md")); !os.IsNotExist(err) {
		t.Error("Expected no second file for the edit day")
	}
}

func TestMirror_WriteReplacesExistingBlock(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	rec := record.Record{Key: "dec:db", Type: record.TypeDecision, Value: []byte("first draft")}
	if err := m.Write(rec); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	rec.Value = []byte("final call")
	rec.Tags = []string{"infra"}
	if err := m.Write(rec); err != nil {
		t.Fatalf("Failed to rewrite: %v", err)
	}

	content := readFile(t, filepath.Join(dir, "decisions.md"))
	if strings.Contains(content, "first draft") {
		t.Error("Expected old block content replaced")
	}
	if !strings.Contains(content, "final call") {
		t.Error("Expected new block content present")
	}
	if strings.Count(content, "## dec:db") != 1 {
		t.Errorf("Expected exactly one block for the key, got:\n%s", content)
	}
	if !strings.Contains(content, "tags: infra") {
		t.Error("Expected tags line in block")
	}
}

func TestMirror_MultipleBlocksInOneFile(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	for _, key := range []string{"dec:a", "dec:b", "dec:c"} {
		rec := record.Record{Key: key, Type: record.TypeDecision, Value: []byte("body of " + key)}
		if err := m.Write(rec); err != nil {
			t.Fatalf("Failed to write %s: %v", key, err)
		}
	}

	content := readFile(t, filepath.Join(dir, "decisions.md"))
	for _, key := range []string{"dec:a", "dec:b", "dec:c"} {
		if !strings.Contains(content, "## "+key) {
			t.Errorf("Expected block for %q", key)
		}
	}

	// Updating the middle block keeps the others intact.
	if err := m.Write(record.Record{Key: "dec:b", Type: record.TypeDecision, Value: []byte("revised")}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	content = readFile(t, filepath.Join(dir, "decisions.md"))
	if !strings.Contains(content, "body of dec:a") || !strings.Contains(content, "body of dec:c") {
		t.Error("Expected untouched blocks to survive an update")
	}
	if !strings.Contains(content, "revised") {
		t.Error("Expected updated block content")
	}
}

func TestMirror_Remove(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	a := record.Record{Key: "dec:a", Type: record.TypeDecision, Value: []byte("keep")}
	b := record.Record{Key: "dec:b", Type: record.TypeDecision, Value: []byte("drop")}
	for _, rec := range []record.Record{a, b} {
		if err := m.Write(rec); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}

	if err := m.Remove(b); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}

	content := readFile(t, filepath.Join(dir, "decisions.md"))
	if strings.Contains(content, "dec:b") {
		t.Error("Expected removed block gone")
	}
	if !strings.Contains(content, "## dec:a") {
		t.Error("Expected remaining block intact")
	}

	// Removing the last block removes the file.
	if err := m.Remove(a); err != nil {
		t.Fatalf("Failed to remove last block: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "decisions.md")); !os.IsNotExist(err) {
		t.Error("Expected empty mirror file deleted")
	}
}

func TestMirror_RemoveUnknownKeyIsNoop(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	if err := m.Remove(record.Record{Key: "dec:ghost", Type: record.TypeDecision}); err != nil {
		t.Fatalf("Expected no error removing from missing file, got %v", err)
	}

	if err := m.Write(record.Record{Key: "dec:a", Type: record.TypeDecision, Value: []byte("x")}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := m.Remove(record.Record{Key: "dec:ghost", Type: record.TypeDecision}); err != nil {
		t.Fatalf("Expected no error removing unknown key, got %v", err)
	}
	if !strings.Contains(readFile(t, filepath.Join(dir, "decisions.md")), "## dec:a") {
		t.Error("Expected existing block untouched by no-op remove")
	}
}
