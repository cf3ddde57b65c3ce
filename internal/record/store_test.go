package record

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.Save("goal:2026-Q1", []byte(`{"title":"Ship v1"}`), TypeGoal, []string{"important"}, map[string]string{"owner": "me"})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("Expected non-empty id")
	}
	if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
		t.Error("Expected timestamps on the returned record")
	}

	recs, err := s.Load(Filter{Key: "goal:2026-Q1"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}

	rec := recs[0]
	if !bytes.Equal(rec.Value, []byte(`{"title":"Ship v1"}`)) {
		t.Errorf("Expected original value, got %q", rec.Value)
	}
	if rec.Type != TypeGoal {
		t.Errorf("Expected type goal, got %q", rec.Type)
	}
	if len(rec.Tags) != 1 || rec.Tags[0] != "important" {
		t.Errorf("Expected tags [important], got %v", rec.Tags)
	}
	if rec.Metadata["owner"] != "me" {
		t.Errorf("Expected metadata owner 'me', got %q", rec.Metadata["owner"])
	}
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		t.Errorf("Expected updated_at >= created_at, got %v < %v", rec.UpdatedAt, rec.CreatedAt)
	}
}

func TestStore_UpsertKeepsID(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Save("note", []byte("first"), TypeCustom, nil, nil)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, err := s.Save("note", []byte("second"), TypeCustom, []string{"edited"}, nil)
	if err != nil {
		t.Fatalf("Re-save failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Expected stable id on upsert, got %q then %q", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("Expected creation time preserved, got %v then %v", first.CreatedAt, second.CreatedAt)
	}

	recs, err := s.Load(Filter{Key: "note"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record after upsert, got %d", len(recs))
	}
	if string(recs[0].Value) != "second" {
		t.Errorf("Expected value 'second', got %q", recs[0].Value)
	}
	if len(recs[0].Tags) != 1 || recs[0].Tags[0] != "edited" {
		t.Errorf("Expected replaced tag set [edited], got %v", recs[0].Tags)
	}
}

func TestStore_Validation(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save("", []byte("x"), TypeCustom, nil, nil); err == nil {
		t.Error("Expected error for empty key")
	}
	if _, err := s.Save("k", []byte("x"), Type("bogus"), nil, nil); err == nil {
		t.Error("Expected error for unknown type")
	}
	if !strings.Contains(ErrValidation.Error(), "validation") {
		t.Errorf("Unexpected sentinel text: %v", ErrValidation)
	}
}

func TestStore_LoadFilters(t *testing.T) {
	s := newTestStore(t)

	mustSave := func(key string, typ Type, tags ...string) string {
		t.Helper()
		saved, err := s.Save(key, []byte(key), typ, tags, nil)
		if err != nil {
			t.Fatalf("Save %s failed: %v", key, err)
		}
		return saved.ID
	}

	idA := mustSave("a", TypeGoal, "work", "q1")
	mustSave("b", TypeGoal, "work")
	mustSave("c", TypeKnowledge, "home")

	t.Run("ByID", func(t *testing.T) {
		recs, err := s.Load(Filter{ID: idA})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(recs) != 1 || recs[0].Key != "a" {
			t.Errorf("Expected record 'a', got %v", recs)
		}
	})

	t.Run("ByType", func(t *testing.T) {
		recs, err := s.Load(Filter{Type: TypeGoal})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("Expected 2 goal records, got %d", len(recs))
		}
	})

	t.Run("TagsAreANDed", func(t *testing.T) {
		recs, err := s.Load(Filter{Tags: []string{"work", "q1"}})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(recs) != 1 || recs[0].Key != "a" {
			t.Errorf("Expected only record 'a' to carry both tags, got %v", recs)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		recs, err := s.Load(Filter{Limit: 2})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("Expected limit of 2, got %d", len(recs))
		}
	})

	t.Run("TagsWithLimit", func(t *testing.T) {
		// 'a' is the oldest row and the only one tagged q1. The limit must
		// apply to tag matches, not to the newest rows scanned.
		recs, err := s.Load(Filter{Tags: []string{"q1"}, Limit: 2})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(recs) != 1 || recs[0].Key != "a" {
			t.Errorf("Expected the tagged record despite the limit, got %v", recs)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		recs, err := s.Load(Filter{Key: "missing"})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("Expected empty result, got %d records", len(recs))
		}
	})
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save("goal:2026-Q1", []byte(`{"title":"Ship v1"}`), TypeGoal, []string{"important"}, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := s.Save("other", []byte("x"), TypeCustom, []string{"minor"}, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	n, err := s.Delete(Filter{Tags: []string{"important"}})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deletion, got %d", n)
	}

	recs, _ := s.Load(Filter{Key: "goal:2026-Q1"})
	if len(recs) != 0 {
		t.Errorf("Expected deleted record to be gone, got %v", recs)
	}

	n, err = s.Delete(Filter{Key: "never-existed"})
	if err != nil {
		t.Fatalf("Delete of missing key errored: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 deletions for missing key, got %d", n)
	}
}

func TestStore_RoundTripPayloads(t *testing.T) {
	s := newTestStore(t)

	large := bytes.Repeat([]byte("payload-"), 2048) // > 10KB
	cases := map[string][]byte{
		"empty":   []byte(""),
		"large":   large,
		"unicode": []byte("记忆系统 — mémoire 🧠"),
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Save("k:"+name, value, TypeCustom, nil, nil); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			recs, err := s.Load(Filter{Key: "k:" + name})
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(recs) != 1 {
				t.Fatalf("Expected 1 record, got %d", len(recs))
			}
			if !bytes.Equal(recs[0].Value, value) {
				t.Errorf("Value mismatch: expected %d bytes, got %d", len(value), len(recs[0].Value))
			}
		})
	}
}

func TestStore_Search(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save("meeting-notes", []byte("discussed roadmap priorities"), TypeConversation, nil, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := s.Save("unrelated", []byte("nothing here"), TypeCustom, nil, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	recs, err := s.Search("roadmap", "", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Key != "meeting-notes" {
		t.Errorf("Expected substring match on value, got %v", recs)
	}

	recs, err = s.Search("roadmap", TypeCustom, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Expected type filter to exclude match, got %v", recs)
	}
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save("g1", []byte("x"), TypeGoal, []string{"a", "b"}, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := s.Save("g2", []byte("x"), TypeGoal, []string{"a"}, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := s.Save("k1", []byte("x"), TypeKnowledge, nil, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Expected total 3, got %d", stats.Total)
	}
	if stats.ByType[TypeGoal] != 2 {
		t.Errorf("Expected 2 goals, got %d", stats.ByType[TypeGoal])
	}
	if stats.TotalTags != 2 {
		t.Errorf("Expected 2 distinct tags, got %d", stats.TotalTags)
	}
}
