package params

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/gravbench/internal/particle"
)

func TestGetters(t *testing.T) {
	p := Params{
		"particle_count": Int(30),
		"g0":             Float(1000),
		"tiled":          Bool(true),
		"label":          String("run"),
		"normalizer":     Normalizer("MinMax"),
		"behavior":       Behavior(particle.Behavior{Edge: particle.Cycle}),
	}

	if n, err := p.Int("particle_count"); err != nil || n != 30 {
		t.Errorf("Int = %d, %v", n, err)
	}
	if g, err := p.Float("g0"); err != nil || g != 1000 {
		t.Errorf("Float = %f, %v", g, err)
	}
	if b, err := p.Bool("tiled"); err != nil || !b {
		t.Errorf("Bool = %t, %v", b, err)
	}
	if s, err := p.Text("label"); err != nil || s != "run" {
		t.Errorf("Text = %s, %v", s, err)
	}
	if s, err := p.Normalizer("normalizer"); err != nil || s != "MinMax" {
		t.Errorf("Normalizer = %s, %v", s, err)
	}
	if b, err := p.Behavior("behavior"); err != nil || b.Edge != particle.Cycle {
		t.Errorf("Behavior = %v, %v", b, err)
	}
}

func TestFloat_WidensInt(t *testing.T) {
	p := Params{"alpha": Int(5)}
	a, err := p.Float("alpha")
	if err != nil {
		t.Fatalf("Expected Int to widen, got %v", err)
	}
	if a != 5 {
		t.Errorf("Expected 5, got %f", a)
	}
}

func TestInt_RejectsFloat(t *testing.T) {
	p := Params{"particle_count": Float(30)}
	_, err := p.Int("particle_count")

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *Error, got %v", err)
	}
	if perr.Key != "particle_count" {
		t.Errorf("Expected key particle_count, got %s", perr.Key)
	}
	if !errors.Is(err, ErrInvalid) {
		t.Error("Expected errors.Is(err, ErrInvalid)")
	}
}

func TestMissingKey(t *testing.T) {
	_, err := Params{}.Float("g0")
	if err == nil || err.Error() != "parameter 'g0' not found" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPositiveInt(t *testing.T) {
	p := Params{"particle_count": Int(0)}
	if _, err := p.PositiveInt("particle_count", 1); err == nil {
		t.Error("Expected error for zero count")
	}
	p["particle_count"] = Int(3)
	if n, err := p.PositiveInt("particle_count", 1); err != nil || n != 3 {
		t.Errorf("PositiveInt = %d, %v", n, err)
	}
}

func TestWith_DoesNotMutate(t *testing.T) {
	base := Params{"g0": Float(1)}
	derived := base.With("g0", Float(2))

	if g, _ := base.Float("g0"); g != 1 {
		t.Errorf("Base mutated: %f", g)
	}
	if g, _ := derived.Float("g0"); g != 2 {
		t.Errorf("Expected derived 2, got %f", g)
	}
}

func TestDisplay(t *testing.T) {
	p := Params{"g0": Float(1000), "alpha": Float(0.5), "particle_count": Int(30)}
	if got := p.Display("g0", "alpha", "missing"); got != "g0=1000,alpha=0.5" {
		t.Errorf("Display = %q", got)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
	}{
		{"30", KindInt},
		{"0.5", KindFloat},
		{"1e3", KindFloat},
		{"true", KindBool},
		{"MinMax", KindString},
	}
	for _, tt := range tests {
		if got := Parse(tt.in).Kind(); got != tt.kind {
			t.Errorf("Parse(%q) kind = %s, expected %s", tt.in, got, tt.kind)
		}
	}
}

func TestParseAxis(t *testing.T) {
	axis, err := ParseAxis("g0=100, 1000,5000")
	if err != nil {
		t.Fatalf("ParseAxis failed: %v", err)
	}
	if axis.Key != "g0" || len(axis.Values) != 3 {
		t.Fatalf("Unexpected axis: %+v", axis)
	}
	if axis.Values[1].String() != "1000" {
		t.Errorf("Expected 1000, got %s", axis.Values[1])
	}

	if _, err := ParseAxis("g0"); err == nil {
		t.Error("Expected error without '='")
	}
	if _, err := ParseAxis("g0="); err == nil {
		t.Error("Expected error for empty axis")
	}
}

func TestMarshalJSON(t *testing.T) {
	p := Params{
		"g0":       Float(1000),
		"tiled":    Bool(false),
		"behavior": Behavior(particle.Behavior{Edge: particle.Reflect, SpeedLimited: true}),
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"behavior":{"edge":"Reflect","speed_limited":true},"g0":1000,"tiled":false}`
	if string(data) != want {
		t.Errorf("Marshal = %s\nexpected %s", data, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gsa.yaml")
	content := `optimizer: gsa
params:
  particle_count: 30
  g0: 1000
  alpha: 5.0
  normalizer: ZScore
  tiled: true
  behavior:
    edge: cycle
    speed_limited: true
grid:
  - key: g0
    values: [100, 1000]
  - key: alpha
    values: [1.5, 5]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if f.Optimizer != "gsa" {
		t.Errorf("Expected optimizer gsa, got %s", f.Optimizer)
	}
	if f.Params["particle_count"].Kind() != KindInt {
		t.Errorf("Expected particle_count to be Int, got %s", f.Params["particle_count"].Kind())
	}
	if f.Params["alpha"].Kind() != KindFloat {
		t.Errorf("Expected alpha to be Float, got %s", f.Params["alpha"].Kind())
	}
	if g0, err := f.Params.Float("g0"); err != nil || g0 != 1000 {
		t.Errorf("g0 = %f, %v", g0, err)
	}
	if n, err := f.Params.Normalizer("normalizer"); err != nil || n != "ZScore" {
		t.Errorf("normalizer = %s, %v", n, err)
	}
	b, err := f.Params.Behavior("behavior")
	if err != nil {
		t.Fatalf("behavior: %v", err)
	}
	if b.Edge != particle.Cycle || !b.SpeedLimited {
		t.Errorf("Unexpected behavior %+v", b)
	}
	if len(f.Grid) != 2 || f.Grid[1].Key != "alpha" || len(f.Grid[1].Values) != 2 {
		t.Errorf("Unexpected grid %+v", f.Grid)
	}
}

func TestLoadFile_BadEdge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := "params:\n  behavior:\n    edge: bounce\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("Expected error for unknown edge")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestUnmarshalJSON(t *testing.T) {
	var p Params
	data := `{"particle_count": 30, "g0": 1000.5, "tiled": true, "normalizer": "ZScore",
		"behavior": {"edge": "cycle", "speed_limited": true}}`
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if p["particle_count"].Kind() != KindInt {
		t.Errorf("Expected particle_count to be Int, got %s", p["particle_count"].Kind())
	}
	if g0, _ := p.Float("g0"); g0 != 1000.5 {
		t.Errorf("Expected g0 1000.5, got %f", g0)
	}
	if name, err := p.Normalizer("normalizer"); err != nil || name != "ZScore" {
		t.Errorf("Expected normalizer ZScore, got %q (%v)", name, err)
	}
	b, err := p.Behavior("behavior")
	if err != nil {
		t.Fatalf("Behavior failed: %v", err)
	}
	if b.Edge != particle.Cycle || !b.SpeedLimited {
		t.Errorf("Expected Cycle+vmax, got %s", b)
	}

	if err := json.Unmarshal([]byte(`{"x": [1, 2]}`), &p); err == nil {
		t.Error("Expected error for array value")
	}
}
