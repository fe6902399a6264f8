package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVertexIDFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		wantErr bool
	}{
		{"single byte", []byte{0x01}, false},
		{"sixteen bytes", make([]byte, 16), false},
		{"max length", make([]byte, MaxVertexIDLength), false},
		{"empty", nil, true},
		{"too long", make([]byte, MaxVertexIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := VertexIDFromBytes(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, id.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.in), id.Len())
		})
	}
}

func TestVertexIDHexRoundTrip(t *testing.T) {
	id := MustVertexID([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Equal(t, "deadbeef", id.String())

	parsed, err := ParseVertexID("DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseVertexID("xyz")
	assert.Error(t, err)
}

func TestVertexIDBytesIsCopy(t *testing.T) {
	raw := []byte{1, 2, 3}
	id := MustVertexID(raw)
	raw[0] = 9

	b := id.Bytes()
	assert.Equal(t, []byte{1, 2, 3}, b)
	b[1] = 9
	assert.Equal(t, []byte{1, 2, 3}, id.Bytes())
}

func TestNewVertexIDIsUnique(t *testing.T) {
	a, b := NewVertexID(), NewVertexID()
	assert.Equal(t, 16, a.Len())
	assert.NotEqual(t, a, b)
}

func TestDirectionOpposite(t *testing.T) {
	assert.Equal(t, DirectionIn, DirectionOut.Opposite())
	assert.Equal(t, DirectionOut, DirectionIn.Opposite())
	assert.Equal(t, DirectionBoth, DirectionBoth.Opposite())

	for _, d := range Directions {
		assert.Equal(t, d, d.Opposite().Opposite())
	}
}

func TestParseDirection(t *testing.T) {
	for _, d := range Directions {
		parsed, err := ParseDirection(strings.ToLower(d.String()))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
	assert.False(t, Direction(7).IsValid())
}

func TestEdgeMirror(t *testing.T) {
	a := MustVertexID([]byte("a"))
	b := MustVertexID([]byte("b"))
	when := time.UnixMilli(1700000000000).UTC()

	half := Edge{Type: "knows", Direction: DirectionOut, Dest: b, When: when}
	mirror := half.Mirror(a)

	assert.Equal(t, Edge{Type: "knows", Direction: DirectionIn, Dest: a, When: when}, mirror)
}

func TestRecordJSON(t *testing.T) {
	rec := Record{
		ID:         MustVertexID([]byte{0x0a}),
		Properties: map[string]string{"name": "x"},
		Edges: []Edge{{
			Type:      "t",
			Direction: DirectionBoth,
			Dest:      MustVertexID([]byte{0x0b}),
			When:      time.UnixMilli(0).UTC(),
		}},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"0a","properties":{"name":"x"},"edges":[{"type":"t","direction":"BOTH","dest":"0b","when":"1970-01-01T00:00:00Z"}]}`, string(data))

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.Edges[0].Dest, back.Edges[0].Dest)
	assert.Equal(t, DirectionBoth, back.Edges[0].Direction)
}

func TestTruncateTime(t *testing.T) {
	in := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	assert.Equal(t, 123000000, TruncateTime(in).Nanosecond())
}
