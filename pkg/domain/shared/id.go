package shared

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a persisted catalog row. IDs are assigned before insert, so
// an instance can reference its unified vulnerability within one batch.
type ID uuid.UUID

// NewID returns a time-ordered (version 7) ID. Rows inserted by one batch
// then land close together in the primary key index.
func NewID() ID {
	u, err := uuid.NewV7()
	if err != nil {
		return ID(uuid.New())
	}
	return ID(u)
}

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: id %q: %v", ErrValidation, s, err)
	}
	return ID(u), nil
}

// MustParseID is ParseID for constants in tests.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id was never assigned.
func (id ID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// Value stores the ID as text; the columns are of type uuid.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan reads a uuid column in text or binary form.
func (id *ID) Scan(src any) error {
	if src == nil {
		return fmt.Errorf("cannot scan NULL into ID")
	}
	return (*uuid.UUID)(id).Scan(src)
}

// MarshalText lets IDs appear as JSON strings and JSON object keys.
func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ID) UnmarshalText(data []byte) error {
	if err := (*uuid.UUID)(id).UnmarshalText(data); err != nil {
		return fmt.Errorf("invalid id %q: %w", data, err)
	}
	return nil
}

// IDStrings converts ids for pq.Array arguments.
func IDStrings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
