// Package params holds named, tagged optimizer parameters. Optimizers look up
// the keys they need through typed getters that fail with a descriptive
// *Error instead of guessing.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/gravbench/internal/particle"
)

// Kind is the tag of a Value.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindString
	KindNormalizer
	KindBehavior
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "Float"
	case KindInt:
		return "Int"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindNormalizer:
		return "Normalizer"
	case KindBehavior:
		return "Behavior"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a tagged parameter value.
type Value struct {
	kind     Kind
	f        float64
	i        int
	b        bool
	s        string
	behavior particle.Behavior
}

func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

func Int(v int) Value { return Value{kind: KindInt, i: v} }

func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

func String(v string) Value { return Value{kind: KindString, s: v} }

// Normalizer tags the name of a mass normalization strategy.
func Normalizer(name string) Value { return Value{kind: KindNormalizer, s: name} }

func Behavior(b particle.Behavior) Value { return Value{kind: KindBehavior, behavior: b} }

func (v Value) Kind() Kind { return v.kind }

// String renders the value compactly; it is used in grid-search
// directory names.
func (v Value) String() string {
	switch v.kind {
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.Itoa(v.i)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindBehavior:
		return v.behavior.String()
	default:
		return v.s
	}
}

// Interface returns the value as a plain Go value for serialization.
func (v Value) Interface() any {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return v.i
	case KindBool:
		return v.b
	case KindBehavior:
		return v.behavior
	default:
		return v.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON reads integral numbers as Int and other numbers as Float.
// Objects decode as Behavior.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch x := raw.(type) {
	case json.Number:
		if i, err := strconv.Atoi(x.String()); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %s: %w", x, err)
		}
		*v = Float(f)
	case bool:
		*v = Bool(x)
	case string:
		*v = String(x)
	case map[string]any:
		var b particle.Behavior
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("invalid behavior: %w", err)
		}
		*v = Behavior(b)
	default:
		return fmt.Errorf("unsupported parameter value %s", data)
	}
	return nil
}

// Parse infers a value from text: integers, then floats, then booleans,
// falling back to a string.
func Parse(s string) Value {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return Bool(b)
	}
	return String(s)
}

// Params maps parameter names to values.
type Params map[string]Value

// Clone returns a shallow copy that can be modified independently.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// With returns a copy of p with key set to v.
func (p Params) With(key string, v Value) Params {
	out := p.Clone()
	out[key] = v
	return out
}

// Merge returns a copy of p overridden by every entry of other.
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Display renders the given keys as "k1=v1,k2=v2". Missing keys are skipped.
func (p Params) Display(keys ...string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := p[k]; ok {
			parts = append(parts, k+"="+v.String())
		}
	}
	return strings.Join(parts, ",")
}

func (p Params) lookup(key string, want Kind) (Value, error) {
	v, ok := p[key]
	if !ok {
		return Value{}, &Error{Key: key, Reason: "not found"}
	}
	if v.kind != want {
		return Value{}, &Error{Key: key, Reason: fmt.Sprintf("should be of type %s, got %s", want, v.kind)}
	}
	return v, nil
}

// Float returns a float parameter. Int values are widened.
func (p Params) Float(key string) (float64, error) {
	if v, ok := p[key]; ok && v.kind == KindInt {
		return float64(v.i), nil
	}
	v, err := p.lookup(key, KindFloat)
	return v.f, err
}

func (p Params) Int(key string) (int, error) {
	v, err := p.lookup(key, KindInt)
	return v.i, err
}

func (p Params) Bool(key string) (bool, error) {
	v, err := p.lookup(key, KindBool)
	return v.b, err
}

// Text returns a String parameter.
func (p Params) Text(key string) (string, error) {
	v, err := p.lookup(key, KindString)
	return v.s, err
}

// Normalizer returns the name of a normalization strategy. Plain strings
// are accepted too, since parameter files cannot tag them.
func (p Params) Normalizer(key string) (string, error) {
	if v, ok := p[key]; ok && v.kind == KindString {
		return v.s, nil
	}
	v, err := p.lookup(key, KindNormalizer)
	return v.s, err
}

func (p Params) Behavior(key string) (particle.Behavior, error) {
	v, err := p.lookup(key, KindBehavior)
	return v.behavior, err
}

// PositiveInt returns an Int parameter no smaller than least.
func (p Params) PositiveInt(key string, least int) (int, error) {
	n, err := p.Int(key)
	if err != nil {
		return 0, err
	}
	if n < least {
		return 0, &Error{Key: key, Reason: fmt.Sprintf("must be at least %d, got %d", least, n)}
	}
	return n, nil
}

// ErrInvalid matches any *Error through errors.Is.
var ErrInvalid = &Error{}

// Error is a configuration error naming the offending parameter.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return "parameter '" + e.Key + "' " + e.Reason
}

func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}
