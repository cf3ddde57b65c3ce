package record

import (
	"errors"
	"fmt"
	"time"
)

// Type classifies a stored record.
type Type string

const (
	TypeConversation Type = "conversation"
	TypeKnowledge    Type = "knowledge"
	TypeGoal         Type = "goal"
	TypeTask         Type = "task"
	TypeDecision     Type = "decision"
	TypeCustom       Type = "custom"
)

// ErrValidation is returned when a record is rejected before any write is attempted.
var ErrValidation = errors.New("validation failed")

// Types lists every known record type.
var Types = []Type{TypeConversation, TypeKnowledge, TypeGoal, TypeTask, TypeDecision, TypeCustom}

// Valid reports whether t is one of the known record types.
func (t Type) Valid() bool {
	switch t {
	case TypeConversation, TypeKnowledge, TypeGoal, TypeTask, TypeDecision, TypeCustom:
		return true
	}
	return false
}

// Record is a single durable memory entry.
//
// Key is unique among live records and mutable via upsert. ID is assigned on
// first save and never changes afterwards, even when the key is re-saved.
type Record struct {
	ID        string
	Key       string
	Value     []byte
	Type      Type
	Tags      []string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter selects records for Load and Delete. All set fields are ANDed.
// Tags require every listed tag to be present on the record.
type Filter struct {
	Key   string
	ID    string
	Tags  []string
	Type  Type
	Limit int
}

// Stats summarizes the contents of the store.
type Stats struct {
	Total     int
	ByType    map[Type]int
	TotalTags int
}

// Validate checks the fields every write path requires. Callers that stage
// writes elsewhere first should validate before staging so a bad record never
// reaches durable state.
func Validate(key string, typ Type) error {
	if key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrValidation)
	}
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown record type %q", ErrValidation, typ)
	}
	return nil
}
