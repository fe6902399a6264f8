// Package codec maps graph identifiers and values onto the string keys and
// byte values of the wide-column tables.
//
// Every key component carries a one-letter tag and is never empty, so empty
// property names and values survive stores that reject empty key strings.
// Components are joined with '#', which never occurs inside an encoded
// component.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/brianhks/asterion/internal/domain"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

const (
	// Separator joins the components of a composite key.
	Separator = "#"

	tagVertex    = 'v'
	tagString    = 's'
	tagDirection = 'd'
)

var (
	escaper   = strings.NewReplacer("%", "%25", "#", "%23")
	unescaper = strings.NewReplacer("%23", "#", "%25", "%")
)

// Options tunes identifier validation.
type Options struct {
	// IDLength, when positive, requires every vertex ID to be exactly this
	// many bytes.
	IDLength int
}

// Key addresses one row: the partition it lives in and its clustering
// position within the partition.
type Key struct {
	Partition  string
	Clustering string
}

// Codec builds and parses row keys for the four graph tables.
type Codec struct {
	opts Options
}

// New creates a codec.
func New(opts Options) *Codec {
	return &Codec{opts: opts}
}

// Options returns the options the codec was built with.
func (c *Codec) Options() Options {
	return c.opts
}

// ValidateVertex checks an identifier against the configured width.
func (c *Codec) ValidateVertex(id domain.VertexID) error {
	if id.IsZero() {
		return appErrors.NewValidationError("vertex ID is required")
	}
	if c.opts.IDLength > 0 && id.Len() != c.opts.IDLength {
		return appErrors.NewValidationError(
			fmt.Sprintf("vertex ID %s is %d bytes, expected %d", id, id.Len(), c.opts.IDLength))
	}
	return nil
}

// VertexPartition is the partition of a vertex in vertex_properties and
// edge_type_catalog.
func (c *Codec) VertexPartition(v domain.VertexID) (string, error) {
	if err := c.ValidateVertex(v); err != nil {
		return "", err
	}
	return EncodeVertex(v), nil
}

// PropertyKey addresses a property row.
func (c *Codec) PropertyKey(v domain.VertexID, name string) (Key, error) {
	partition, err := c.VertexPartition(v)
	if err != nil {
		return Key{}, err
	}
	return Key{Partition: partition, Clustering: EncodeString(name)}, nil
}

// EdgePartition is the partition holding every edge half of one type
// anchored at v.
func (c *Codec) EdgePartition(v domain.VertexID, edgeType string) (string, error) {
	if err := c.ValidateVertex(v); err != nil {
		return "", err
	}
	if edgeType == "" {
		return "", appErrors.NewValidationError("edge type is required")
	}
	return Join(EncodeVertex(v), EncodeString(edgeType)), nil
}

// EdgeKey addresses one edge half.
func (c *Codec) EdgeKey(v domain.VertexID, edgeType string, dir domain.Direction, dest domain.VertexID) (Key, error) {
	partition, err := c.EdgePartition(v, edgeType)
	if err != nil {
		return Key{}, err
	}
	if !dir.IsValid() {
		return Key{}, appErrors.NewValidationError(fmt.Sprintf("unknown direction %d", int(dir)))
	}
	if err := c.ValidateVertex(dest); err != nil {
		return Key{}, err
	}
	return Key{Partition: partition, Clustering: Join(EncodeDirection(dir), EncodeVertex(dest))}, nil
}

// CatalogKey addresses an edge_type_catalog row.
func (c *Codec) CatalogKey(v domain.VertexID, edgeType string) (Key, error) {
	partition, err := c.VertexPartition(v)
	if err != nil {
		return Key{}, err
	}
	if edgeType == "" {
		return Key{}, appErrors.NewValidationError("edge type is required")
	}
	return Key{Partition: partition, Clustering: EncodeString(edgeType)}, nil
}

// IndexKey addresses a property_index row.
func (c *Codec) IndexKey(name, value string, v domain.VertexID) (Key, error) {
	if err := c.ValidateVertex(v); err != nil {
		return Key{}, err
	}
	return Key{
		Partition:  EncodeString(name),
		Clustering: Join(EncodeString(value), EncodeVertex(v)),
	}, nil
}

// IndexPartition is the property_index partition of a property name.
func IndexPartition(name string) string {
	return EncodeString(name)
}

// IndexPrefix selects the index rows of one property value.
func IndexPrefix(value string) string {
	return EncodeString(value) + Separator
}

// DirectionPrefix selects the edge halves of one direction within an edge
// partition.
func DirectionPrefix(dir domain.Direction) string {
	return EncodeDirection(dir) + Separator
}

// DecodePropertyName parses the clustering key of a property row.
func DecodePropertyName(clustering string) (string, error) {
	return DecodeString(clustering)
}

// DecodeEdgeType parses the clustering key of a catalog row.
func DecodeEdgeType(clustering string) (string, error) {
	return DecodeString(clustering)
}

// DecodeEdgeClustering parses the clustering key of an edge half.
func DecodeEdgeClustering(clustering string) (domain.Direction, domain.VertexID, error) {
	parts := strings.Split(clustering, Separator)
	if len(parts) != 2 {
		return 0, domain.VertexID{}, malformed("edge clustering key", clustering)
	}
	dir, err := DecodeDirection(parts[0])
	if err != nil {
		return 0, domain.VertexID{}, err
	}
	dest, err := DecodeVertex(parts[1])
	if err != nil {
		return 0, domain.VertexID{}, err
	}
	return dir, dest, nil
}

// DecodeIndexClustering parses the clustering key of an index row.
func DecodeIndexClustering(clustering string) (string, domain.VertexID, error) {
	parts := strings.Split(clustering, Separator)
	if len(parts) != 2 {
		return "", domain.VertexID{}, malformed("index clustering key", clustering)
	}
	value, err := DecodeString(parts[0])
	if err != nil {
		return "", domain.VertexID{}, err
	}
	v, err := DecodeVertex(parts[1])
	if err != nil {
		return "", domain.VertexID{}, err
	}
	return value, v, nil
}

// DecodeVertexPartition parses a vertex_properties or edge_type_catalog
// partition key.
func DecodeVertexPartition(partition string) (domain.VertexID, error) {
	return DecodeVertex(partition)
}

// Join concatenates encoded components.
func Join(components ...string) string {
	return strings.Join(components, Separator)
}

// EncodeVertex encodes an identifier as 'v' followed by lowercase hex.
// Identifiers of equal length sort like their raw bytes.
func EncodeVertex(v domain.VertexID) string {
	return string(tagVertex) + v.String()
}

// DecodeVertex is the inverse of EncodeVertex.
func DecodeVertex(s string) (domain.VertexID, error) {
	if len(s) < 3 || s[0] != tagVertex {
		return domain.VertexID{}, malformed("vertex component", s)
	}
	b, err := hex.DecodeString(s[1:])
	if err != nil {
		return domain.VertexID{}, malformed("vertex component", s)
	}
	id, err := domain.VertexIDFromBytes(b)
	if err != nil {
		return domain.VertexID{}, appErrors.NewValidationError(err.Error())
	}
	return id, nil
}

// EncodeString encodes free text as 's' followed by the text with '%' and
// '#' escaped.
func EncodeString(s string) string {
	return string(tagString) + escaper.Replace(s)
}

// DecodeString is the inverse of EncodeString.
func DecodeString(s string) (string, error) {
	if s == "" || s[0] != tagString || strings.Contains(s, Separator) {
		return "", malformed("string component", s)
	}
	return unescaper.Replace(s[1:]), nil
}

// EncodeDirection encodes a direction as 'd' followed by its numeric value.
func EncodeDirection(d domain.Direction) string {
	return fmt.Sprintf("%c%d", tagDirection, int(d))
}

// DecodeDirection is the inverse of EncodeDirection.
func DecodeDirection(s string) (domain.Direction, error) {
	if len(s) != 2 || s[0] != tagDirection {
		return 0, malformed("direction component", s)
	}
	d := domain.Direction(s[1] - '0')
	if !d.IsValid() {
		return 0, malformed("direction component", s)
	}
	return d, nil
}

// EncodeTimestamp stores t as 8-byte big-endian Unix milliseconds.
func EncodeTimestamp(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixMilli()))
	return b
}

// DecodeTimestamp is the inverse of EncodeTimestamp.
func DecodeTimestamp(b []byte) (time.Time, error) {
	if len(b) != 8 {
		return time.Time{}, appErrors.NewValidationError(
			fmt.Sprintf("timestamp value is %d bytes, expected 8", len(b)))
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC(), nil
}

// EncodeValue stores a property value as raw UTF-8 bytes.
func EncodeValue(value string) []byte {
	return []byte(value)
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(b []byte) string {
	return string(b)
}

func malformed(what, s string) error {
	return appErrors.NewValidationError(fmt.Sprintf("malformed %s %q", what, s))
}
