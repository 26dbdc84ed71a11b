package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Identifier is a tagged item/order identifier. Persisted identifiers are
// server-assigned and stable; temporary identifiers are generated on the
// client for optimistic items and are never written to the store. The tag
// lives in the type so no code ever has to sniff an id string's shape.
type Identifier struct {
	value     string
	temporary bool
}

// NewPersistedID generates a fresh server-side identifier.
func NewPersistedID() Identifier {
	return Identifier{value: uuid.NewString()}
}

// NewTemporaryID generates a client-side identifier, unique per session.
func NewTemporaryID() Identifier {
	return Identifier{value: uuid.NewString(), temporary: true}
}

// PersistedID wraps an existing server-assigned value.
func PersistedID(value string) Identifier {
	return Identifier{value: value}
}

// IsPersisted reports whether the identifier is server-assigned.
func (id Identifier) IsPersisted() bool {
	return id.value != "" && !id.temporary
}

// IsTemporary reports whether the identifier is client-generated.
func (id Identifier) IsTemporary() bool {
	return id.temporary
}

// IsZero reports whether the identifier is unset.
func (id Identifier) IsZero() bool {
	return id.value == ""
}

func (id Identifier) String() string {
	return id.value
}

type identifierJSON struct {
	Value     string `json:"value"`
	Temporary bool   `json:"temporary,omitempty"`
}

func (id Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(identifierJSON{Value: id.value, Temporary: id.temporary})
}

func (id *Identifier) UnmarshalJSON(data []byte) error {
	var raw identifierJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*id = Identifier{value: raw.Value, temporary: raw.Temporary}
	return nil
}

// Scan implements sql.Scanner. Anything read back from the store is by
// definition persisted.
func (id *Identifier) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*id = Identifier{value: v}
	case []byte:
		*id = Identifier{value: string(v)}
	case nil:
		*id = Identifier{}
	default:
		return fmt.Errorf("cannot scan %T into Identifier", value)
	}
	return nil
}

// Value implements driver.Valuer. Temporary identifiers must be replaced
// with persisted ones before a row is written.
func (id Identifier) Value() (driver.Value, error) {
	if id.temporary {
		return nil, fmt.Errorf("temporary identifier %q cannot be persisted", id.value)
	}
	return id.value, nil
}

// GormDataType tells gorm to store identifiers as plain text.
func (Identifier) GormDataType() string {
	return "text"
}
