package params

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/gravbench/internal/particle"
)

// File is the on-disk form of an experiment parameter file:
//
//	optimizer: gsa
//	params:
//	  particle_count: 30
//	  g0: 1000
//	  alpha: 5.0
//	  normalizer: MinMax
//	  behavior: {edge: Reflect, speed_limited: true}
//	grid:
//	  - {key: g0, values: [100, 1000, 5000]}
//	  - {key: alpha, values: [1, 5, 10]}
type File struct {
	Optimizer string `yaml:"optimizer"`
	Params    Params `yaml:"params"`
	Grid      []Axis `yaml:"grid"`
}

// Axis is one swept parameter of a grid search.
type Axis struct {
	Key    string  `yaml:"key" json:"key"`
	Values []Value `yaml:"values" json:"values"`
}

// LoadFile reads and decodes a YAML parameter file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file %s: %w", path, err)
	}
	for i, axis := range f.Grid {
		if err := axis.Validate(); err != nil {
			return nil, fmt.Errorf("grid axis %d: %w", i, err)
		}
	}
	return &f, nil
}

// ParseAxis parses "key=v1,v2,...".
func ParseAxis(s string) (Axis, error) {
	key, list, ok := strings.Cut(s, "=")
	if !ok {
		return Axis{}, fmt.Errorf("invalid axis %q: expected key=v1,v2,...", s)
	}
	axis := Axis{Key: strings.TrimSpace(key)}
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		axis.Values = append(axis.Values, Parse(item))
	}
	if err := axis.Validate(); err != nil {
		return Axis{}, err
	}
	return axis, nil
}

// Validate checks that the axis names a key and has at least one value.
func (a Axis) Validate() error {
	if a.Key == "" {
		return &Error{Key: "<axis>", Reason: "key cannot be empty"}
	}
	if len(a.Values) == 0 {
		return &Error{Key: a.Key, Reason: "axis needs at least one value"}
	}
	return nil
}

type behaviorDoc struct {
	Edge         string `yaml:"edge"`
	SpeedLimited bool   `yaml:"speed_limited"`
}

// UnmarshalYAML keeps the YAML type of scalars: !!int becomes Int,
// !!float Float, !!bool Bool and !!str String. Mappings decode as Behavior.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!int":
			var i int
			if err := node.Decode(&i); err != nil {
				return err
			}
			*v = Int(i)
		case "!!float":
			var f float64
			if err := node.Decode(&f); err != nil {
				return err
			}
			*v = Float(f)
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			*v = Bool(b)
		case "!!str":
			*v = String(node.Value)
		default:
			return fmt.Errorf("line %d: unsupported parameter type %s", node.Line, node.ShortTag())
		}
		return nil

	case yaml.MappingNode:
		var doc behaviorDoc
		if err := node.Decode(&doc); err != nil {
			return err
		}
		edge, err := particle.ParseEdge(doc.Edge)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*v = Behavior(particle.Behavior{Edge: edge, SpeedLimited: doc.SpeedLimited})
		return nil

	default:
		return fmt.Errorf("line %d: parameter must be a scalar or a behavior mapping", node.Line)
	}
}
