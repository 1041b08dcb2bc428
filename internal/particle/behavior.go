package particle

import (
	"fmt"
	"strings"
)

// Edge selects what happens when a move would leave the domain.
type Edge int

const (
	// Reflect mirrors the overshoot back inside and flips the velocity component.
	Reflect Edge = iota
	// Pass moves unconditionally; particles may leave the domain.
	Pass
	// Cycle wraps coordinates around the domain (toroidal topology).
	Cycle
)

func (e Edge) String() string {
	switch e {
	case Reflect:
		return "Reflect"
	case Pass:
		return "Pass"
	case Cycle:
		return "Cycle"
	default:
		return fmt.Sprintf("Edge(%d)", int(e))
	}
}

// ParseEdge parses a case-insensitive edge name.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reflect":
		return Reflect, nil
	case "pass":
		return Pass, nil
	case "cycle":
		return Cycle, nil
	default:
		return 0, fmt.Errorf("unknown edge policy %q (expected Reflect, Pass or Cycle)", s)
	}
}

func (e Edge) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Edge) UnmarshalText(text []byte) error {
	parsed, err := ParseEdge(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Behavior configures how a particle moves.
type Behavior struct {
	Edge         Edge `json:"edge" yaml:"edge"`
	SpeedLimited bool `json:"speed_limited" yaml:"speed_limited"`
}

func (b Behavior) String() string {
	if b.SpeedLimited {
		return b.Edge.String() + "+vmax"
	}
	return b.Edge.String()
}
