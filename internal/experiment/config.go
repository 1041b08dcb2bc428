// Package experiment runs many independent optimizer attempts in parallel
// against one or more problems, optionally sweeping two parameters over a
// grid, and persists every attempt through a store.
package experiment

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/cwbudde/gravbench/internal/opt"
	"github.com/cwbudde/gravbench/internal/params"
)

// OverwritePolicy decides what happens when a problem already has output.
type OverwritePolicy int

const (
	// Fail refuses to touch existing output.
	Fail OverwritePolicy = iota
	// Overwrite removes the problem's existing output first.
	Overwrite
	// Merge keeps existing output and replaces only attempts that run again.
	Merge
)

var policyNames = [...]string{"fail", "overwrite", "merge"}

func (p OverwritePolicy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("OverwritePolicy(%d)", int(p))
}

// ParseOverwritePolicy accepts fail, overwrite or merge.
func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	for i, name := range policyNames {
		if strings.EqualFold(s, name) {
			return OverwritePolicy(i), nil
		}
	}
	return Fail, fmt.Errorf("unknown overwrite policy %q (use fail, overwrite or merge)", s)
}

func (p OverwritePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *OverwritePolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseOverwritePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Config describes one experiment.
type Config struct {
	// ID names the experiment in every written artifact. A random UUID is
	// assigned when empty.
	ID string `json:"id"`

	Optimizer  string        `json:"optimizer"`
	Params     params.Params `json:"params"`
	Iterations int           `json:"iterations"`
	Attempts   int           `json:"attempts"`
	Seed       int64         `json:"seed"`

	// Workers bounds the attempts running at once; 0 means one per CPU.
	Workers int `json:"workers"`

	OnExists OverwritePolicy `json:"on_exists"`
	SaveData bool            `json:"save_data"`
	Trace    bool            `json:"trace"`
}

// normalize validates c and fills in defaults.
func (c *Config) normalize() error {
	if _, err := opt.Defaults(c.Optimizer); err != nil {
		return err
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.Attempts <= 0 {
		return fmt.Errorf("attempts must be positive, got %d", c.Attempts)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.OnExists < Fail || c.OnExists > Merge {
		return fmt.Errorf("invalid overwrite policy: %s", c.OnExists)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Params == nil {
		c.Params = params.Params{}
	}
	return nil
}

// ErrExists matches any *ExistsError through errors.Is.
var ErrExists = &ExistsError{}

// ExistsError reports a problem whose output already exists under the
// Fail policy.
type ExistsError struct {
	Problem string
}

func (e *ExistsError) Error() string {
	return "output for problem '" + e.Problem + "' already exists"
}

func (e *ExistsError) Is(target error) bool {
	_, ok := target.(*ExistsError)
	return ok
}
