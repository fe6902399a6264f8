package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MaxVertexIDLength bounds the size of a vertex identifier in bytes.
const MaxVertexIDLength = 255

// VertexID is an opaque binary vertex identifier supplied by the caller,
// typically a content hash or a UUID. It is immutable and comparable, so it
// can be used as a map key.
type VertexID struct {
	value string
}

// NewVertexID returns a random 16-byte identifier.
func NewVertexID() VertexID {
	id := uuid.New()
	return VertexID{value: string(id[:])}
}

// VertexIDFromBytes copies b into a VertexID.
func VertexIDFromBytes(b []byte) (VertexID, error) {
	if len(b) == 0 {
		return VertexID{}, fmt.Errorf("vertex ID cannot be empty")
	}
	if len(b) > MaxVertexIDLength {
		return VertexID{}, fmt.Errorf("vertex ID is %d bytes, maximum is %d", len(b), MaxVertexIDLength)
	}
	return VertexID{value: string(b)}, nil
}

// MustVertexID is VertexIDFromBytes for literals in tests and fixtures.
func MustVertexID(b []byte) VertexID {
	id, err := VertexIDFromBytes(b)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseVertexID decodes the hex form produced by String.
func ParseVertexID(s string) (VertexID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return VertexID{}, fmt.Errorf("vertex ID %q is not hex: %w", s, err)
	}
	return VertexIDFromBytes(b)
}

// Bytes returns a copy of the raw identifier.
func (id VertexID) Bytes() []byte {
	return []byte(id.value)
}

// Len returns the identifier length in bytes.
func (id VertexID) Len() int {
	return len(id.value)
}

// String returns the lowercase hex encoding of the identifier.
func (id VertexID) String() string {
	return hex.EncodeToString([]byte(id.value))
}

// IsZero checks if the VertexID is the zero value
func (id VertexID) IsZero() bool {
	return id.value == ""
}

// Less orders identifiers by their raw bytes.
func (id VertexID) Less(other VertexID) bool {
	return id.value < other.value
}

// MarshalJSON implements json.Marshaler
func (id VertexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (id *VertexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("VertexID must be a string: %w", err)
	}
	parsed, err := ParseVertexID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
