package codec

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianhks/asterion/internal/domain"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

var (
	vertexA = domain.MustVertexID([]byte{0x01, 0x02})
	vertexB = domain.MustVertexID([]byte{0xff, 0x00})
)

func TestStringComponentRoundTrip(t *testing.T) {
	tests := []string{"", "name", "a#b", "100%", "%23", "##%%", "ünïcode"}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			enc := EncodeString(in)
			assert.NotEmpty(t, enc)
			assert.NotContains(t, enc, Separator)

			out, err := DecodeString(enc)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestEmptyNameAndValueAreDistinctKeys(t *testing.T) {
	c := New(Options{})

	empty, err := c.PropertyKey(vertexA, "")
	require.NoError(t, err)
	named, err := c.PropertyKey(vertexA, "x")
	require.NoError(t, err)

	assert.NotEmpty(t, empty.Clustering)
	assert.NotEqual(t, empty, named)
}

func TestVertexEncodingPreservesOrder(t *testing.T) {
	ids := []domain.VertexID{
		domain.MustVertexID([]byte{0x10, 0x00}),
		domain.MustVertexID([]byte{0x01, 0xff}),
		domain.MustVertexID([]byte{0xa0, 0x01}),
		domain.MustVertexID([]byte{0x0a, 0x01}),
	}

	encoded := make([]string, len(ids))
	for i, id := range ids {
		encoded[i] = EncodeVertex(id)
	}
	sort.Strings(encoded)
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	for i, id := range ids {
		decoded, err := DecodeVertex(encoded[i])
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestEdgeKey(t *testing.T) {
	c := New(Options{})

	key, err := c.EdgeKey(vertexA, "knows", domain.DirectionOut, vertexB)
	require.NoError(t, err)
	assert.Equal(t, "v0102#sknows", key.Partition)
	assert.Equal(t, "d2#vff00", key.Clustering)

	dir, dest, err := DecodeEdgeClustering(key.Clustering)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionOut, dir)
	assert.Equal(t, vertexB, dest)

	assert.True(t, len(key.Clustering) > len(DirectionPrefix(domain.DirectionOut)))
	assert.Equal(t, DirectionPrefix(domain.DirectionOut), key.Clustering[:3])
}

func TestEdgeKeyValidation(t *testing.T) {
	c := New(Options{})

	tests := []struct {
		name     string
		src      domain.VertexID
		edgeType string
		dir      domain.Direction
		dest     domain.VertexID
	}{
		{"missing source", domain.VertexID{}, "t", domain.DirectionOut, vertexB},
		{"missing type", vertexA, "", domain.DirectionOut, vertexB},
		{"bad direction", vertexA, "t", domain.Direction(0), vertexB},
		{"missing dest", vertexA, "t", domain.DirectionIn, domain.VertexID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.EdgeKey(tt.src, tt.edgeType, tt.dir, tt.dest)
			assert.True(t, appErrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestFixedWidthIDs(t *testing.T) {
	c := New(Options{IDLength: 2})

	_, err := c.PropertyKey(vertexA, "p")
	require.NoError(t, err)

	_, err = c.PropertyKey(domain.MustVertexID([]byte{1, 2, 3}), "p")
	assert.True(t, appErrors.IsValidation(err))
}

func TestIndexKey(t *testing.T) {
	c := New(Options{})

	key, err := c.IndexKey("color", "red#1", vertexA)
	require.NoError(t, err)
	assert.Equal(t, IndexPartition("color"), key.Partition)
	assert.Equal(t, IndexPrefix("red#1"), key.Clustering[:len(IndexPrefix("red#1"))])

	value, v, err := DecodeIndexClustering(key.Clustering)
	require.NoError(t, err)
	assert.Equal(t, "red#1", value)
	assert.Equal(t, vertexA, v)
}

func TestIndexPrefixDoesNotMatchLongerValues(t *testing.T) {
	c := New(Options{})

	key, err := c.IndexKey("color", "redder", vertexA)
	require.NoError(t, err)
	assert.NotEqual(t, IndexPrefix("red"), key.Clustering[:len(IndexPrefix("red"))])
}

func TestTimestampRoundTrip(t *testing.T) {
	in := time.Date(2023, 5, 6, 7, 8, 9, 987000000, time.UTC)

	b := EncodeTimestamp(in)
	assert.Len(t, b, 8)

	out, err := DecodeTimestamp(b)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	_, err = DecodeTimestamp([]byte{1, 2})
	assert.True(t, appErrors.IsValidation(err))
}

func TestDecodeMalformed(t *testing.T) {
	_, err := DecodeVertex("x00")
	assert.True(t, appErrors.IsValidation(err))

	_, err = DecodeVertex("vzz")
	assert.True(t, appErrors.IsValidation(err))

	_, err = DecodeString("name")
	assert.True(t, appErrors.IsValidation(err))

	_, err = DecodeDirection("d9")
	assert.True(t, appErrors.IsValidation(err))

	_, _, err = DecodeEdgeClustering("d1")
	assert.True(t, appErrors.IsValidation(err))
}

func TestValueRoundTrip(t *testing.T) {
	for _, v := range []string{"", "plain", "with\nnewline"} {
		assert.Equal(t, v, DecodeValue(EncodeValue(v)))
	}
}
