// Package domain holds the graph-level types shared by the store, the codec
// and the export cursor.
package domain

import (
	"sort"
	"time"
)

// Edge is one physical half of an edge, seen from the vertex it is anchored
// at. Every logical edge is stored as two halves with opposite directions
// and the same type and timestamp.
type Edge struct {
	Type      string    `json:"type"`
	Direction Direction `json:"direction"`
	Dest      VertexID  `json:"dest"`
	When      time.Time `json:"when"`
}

// Mirror returns the half anchored at dest for an edge anchored at anchor.
func (e Edge) Mirror(anchor VertexID) Edge {
	return Edge{
		Type:      e.Type,
		Direction: e.Direction.Opposite(),
		Dest:      anchor,
		When:      e.When,
	}
}

// Record is the export unit: everything stored for one vertex.
type Record struct {
	ID         VertexID          `json:"id"`
	Properties map[string]string `json:"properties"`
	Edges      []Edge            `json:"edges"`
}

// SortedPropertyNames returns the property names of the record in order.
func (r Record) SortedPropertyNames() []string {
	names := make([]string, 0, len(r.Properties))
	for name := range r.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TruncateTime rounds t down to the millisecond precision edges are stored
// with.
func TruncateTime(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
