package validation

import (
	"fmt"
	"log"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region types
// Mode decides when an expression has to hold.
type Mode string

const (
	// Eventually passes the first time the expression holds and is not evaluated again.
	Eventually Mode = "eventually"
	// Always must hold on every evaluation until the validation is stopped.
	Always Mode = "always"
)

// Status is the outcome of a validation.
type Status string

const (
	Unknown Status = "Unknown"
	Passed  Status = "Passed"
	Failed  Status = "Failed"
)

// Env is what an expression can see. Paths are matched against normalized paths.
type Env struct {
	Frame   int                    `expr:"frame"`
	Segment int                    `expr:"segment"`
	Count   func(path string) int  `expr:"count"`
	Exists  func(path string) bool `expr:"exists"`
	Matches func(part string) int  `expr:"matching"`
}

// NewEnv builds the expression environment for one snapshot.
func NewEnv(frame, ordinal int, snap world.Snapshot) Env {
	counts := make(map[string]int, len(snap))
	for _, obj := range snap {
		counts[obj.Key()]++
	}
	return Env{
		Frame:   frame,
		Segment: ordinal,
		Count:   func(path string) int { return counts[path] },
		Exists:  func(path string) bool { return counts[path] > 0 },
		Matches: func(part string) int {
			n := 0
			for path, c := range counts {
				if strings.Contains(path, part) {
					n += c
				}
			}
			return n
		},
	}
}

// Result is the reportable state of one validation.
type Result struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}
// #endregion types

// #region validation
// Validation is a named boolean expression checked against each snapshot.
type Validation struct {
	APIVersion  int    `json:"apiVersion"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Mode        Mode   `json:"mode"`
	Expression  string `json:"expression"`

	program   *vm.Program
	status    Status
	evaluated bool
	stopped   bool
	paused    bool
	lastErr   error
}

// Compile checks the expression once. It is called at load time so bad plans fail fast.
func (v *Validation) Compile() error {
	if v.Mode == "" {
		v.Mode = Eventually
	}
	if v.Mode != Eventually && v.Mode != Always {
		return fmt.Errorf("validation %q: unknown mode %q", v.Name, v.Mode)
	}
	program, err := expr.Compile(v.Expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("validation %q: compile: %w", v.Name, err)
	}
	v.program = program
	if v.status == "" {
		v.status = Unknown
	}
	return nil
}

// Process evaluates the expression unless the outcome is already decided.
func (v *Validation) Process(env Env) {
	if v.stopped || v.paused {
		return
	}
	if v.Mode == Eventually && v.status == Passed {
		return
	}
	if v.Mode == Always && v.status == Failed {
		return
	}
	if v.program == nil {
		if err := v.Compile(); err != nil {
			v.lastErr = err
			v.status = Failed
			return
		}
	}

	out, err := expr.Run(v.program, env)
	if err != nil {
		v.lastErr = fmt.Errorf("validation %q: run: %w", v.Name, err)
		log.Printf("[ACTION] (%d) - Validation - %v", env.Segment, v.lastErr)
		if v.Mode == Always {
			v.status = Failed
		}
		return
	}
	v.evaluated = true
	ok, _ := out.(bool)
	switch v.Mode {
	case Eventually:
		if ok {
			v.status = Passed
		}
	case Always:
		if !ok {
			v.status = Failed
			log.Printf("[ACTION] (%d) - Validation - %q failed on frame %d", env.Segment, v.Name, env.Frame)
		}
	}
}

// Done reports whether the validation no longer needs the segment to stay active.
// An always-validation is done once it has been evaluated.
func (v *Validation) Done() bool {
	if v.stopped {
		return true
	}
	if v.Mode == Always {
		return v.evaluated || v.status == Failed
	}
	return v.status == Passed
}

// Stop freezes the outcome. An eventually-validation that never held fails; an
// always-validation that never failed passes.
func (v *Validation) Stop() {
	if v.stopped {
		return
	}
	v.stopped = true
	switch {
	case v.Mode == Always && v.status != Failed && v.evaluated:
		v.status = Passed
	case v.Mode == Eventually && v.status != Passed:
		v.status = Failed
	}
}

func (v *Validation) Pause()   { v.paused = true }
func (v *Validation) Unpause() { v.paused = false }

func (v *Validation) Status() Status {
	if v.status == "" {
		return Unknown
	}
	return v.status
}

func (v *Validation) Result() Result {
	r := Result{Name: v.Name, Status: v.Status()}
	if v.lastErr != nil {
		r.Error = v.lastErr.Error()
	}
	return r
}

// ReplayReset clears the outcome but keeps the compiled program.
func (v *Validation) ReplayReset() {
	v.status = Unknown
	v.evaluated = false
	v.stopped = false
	v.paused = false
	v.lastErr = nil
}
// #endregion validation

// #region set
// Set is an ordered group of validations processed together.
type Set []*Validation

func (s Set) Compile() error {
	for _, v := range s {
		if err := v.Compile(); err != nil {
			return err
		}
	}
	return nil
}

func (s Set) Process(env Env) {
	for _, v := range s {
		v.Process(env)
	}
}

// Done is true for an empty set.
func (s Set) Done() bool {
	for _, v := range s {
		if !v.Done() {
			return false
		}
	}
	return true
}

func (s Set) Stop() {
	for _, v := range s {
		v.Stop()
	}
}

func (s Set) Pause() {
	for _, v := range s {
		v.Pause()
	}
}

func (s Set) Unpause() {
	for _, v := range s {
		v.Unpause()
	}
}

func (s Set) ReplayReset() {
	for _, v := range s {
		v.ReplayReset()
	}
}

func (s Set) Results() []Result {
	out := make([]Result, 0, len(s))
	for _, v := range s {
		out = append(out, v.Result())
	}
	return out
}

// Failed reports whether any validation has failed.
func (s Set) Failed() bool {
	for _, v := range s {
		if v.Status() == Failed {
			return true
		}
	}
	return false
}

func (s Set) APIVersion() int {
	n := 0
	for _, v := range s {
		n = max(n, v.APIVersion)
	}
	return n
}
// #endregion set
