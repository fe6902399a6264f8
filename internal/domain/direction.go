package domain

import (
	"fmt"
	"strings"
)

// Direction is the orientation of an edge half as seen from its anchor
// vertex. The numeric values are persisted and must not change.
type Direction int

const (
	DirectionIn   Direction = 1
	DirectionOut  Direction = 2
	DirectionBoth Direction = 3
)

// Directions lists every valid direction in storage order.
var Directions = []Direction{DirectionIn, DirectionOut, DirectionBoth}

// Opposite returns the direction of the mirrored half: OUT and IN swap,
// BOTH stays BOTH.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionIn:
		return DirectionOut
	case DirectionOut:
		return DirectionIn
	default:
		return d
	}
}

// IsValid checks if the direction is one of the defined values
func (d Direction) IsValid() bool {
	switch d {
	case DirectionIn, DirectionOut, DirectionBoth:
		return true
	default:
		return false
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionBoth:
		return "BOTH"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts IN, OUT or BOTH in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN":
		return DirectionIn, nil
	case "OUT":
		return DirectionOut, nil
	case "BOTH":
		return DirectionBoth, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (d Direction) MarshalText() ([]byte, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
