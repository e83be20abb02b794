package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Executor runs one tool invocation with its parsed arguments.
type Executor func(ctx context.Context, args Args) (*Result, error)

// Config holds the Tool Registry's tunables, per SPEC_FULL §4.8.
type Config struct {
	Enabled                 bool
	MaxExecutionTime        time.Duration
	MaxConcurrentExecutions int
	SafetyChecksEnabled     bool
	UseForkTimeout          bool
}

// DefaultConfig matches spec.md's defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		MaxExecutionTime:        30 * time.Second,
		MaxConcurrentExecutions: 10,
		SafetyChecksEnabled:     true,
		UseForkTimeout:          false,
	}
}

// ExecutionRecord is a Tool Execution Record, tracked while a tool call is
// in flight.
type ExecutionRecord struct {
	ExecutionID string
	ToolName    string
	StartTime   time.Time
	Timeout     time.Duration
}

// Registry is the Tool Registry: a mutex-guarded map of Definitions plus
// in-flight ExecutionRecords, substituting for per-worker isolation per
// SPEC_FULL §5.
type Registry struct {
	cfg Config

	mu    sync.RWMutex
	tools map[string]Definition

	execMu sync.Mutex
	active map[string]*ExecutionRecord

	forkExecutor ForkExecutor
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:    cfg,
		tools:  map[string]Definition{},
		active: map[string]*ExecutionRecord{},
	}
}

// SetForkExecutor installs the out-of-process executor used when
// cfg.UseForkTimeout is set. Tests and simple deployments can leave this
// unset and rely on inline execution only.
func (r *Registry) SetForkExecutor(fe ForkExecutor) {
	r.forkExecutor = fe
}

// RegisterTool adds def to the registry. Fails if a tool with the same name
// is already registered, or if def violates the required-params invariant.
func (r *Registry) RegisterTool(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// ListEnabled returns every enabled tool definition, for tools/list.
func (r *Registry) ListEnabled() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, d := range r.tools {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// ActiveExecutions reports the number of tool calls currently in flight.
func (r *Registry) ActiveExecutions() int {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	return len(r.active)
}

// ExecuteTool runs name with the raw JSON arguments, following SPEC_FULL
// §4.8's five-step contract. It never returns a Go error for
// application-level failures (missing tool, bad args, timeout, executor
// panic-equivalent) — those are reported in-band via Result.IsError,
// per spec.md §7's propagation policy. A non-nil error return means the
// tool call could not even be attempted (e.g. nil registry state).
func (r *Registry) ExecuteTool(ctx context.Context, name string, rawArgs json.RawMessage) (*Result, error) {
	if !r.cfg.Enabled {
		return ErrorResult("tool registry is disabled"), nil
	}

	r.mu.RLock()
	def, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult(fmt.Sprintf("tool %q not found", name)), nil
	}
	if !def.Enabled {
		return ErrorResult(fmt.Sprintf("tool %q is disabled", name)), nil
	}

	r.execMu.Lock()
	if len(r.active) >= r.cfg.MaxConcurrentExecutions {
		r.execMu.Unlock()
		return ErrorResult("tool concurrency limit reached"), nil
	}
	executionID := uuid.NewString()
	rec := &ExecutionRecord{ExecutionID: executionID, ToolName: name, StartTime: time.Now(), Timeout: r.cfg.MaxExecutionTime}
	r.active[executionID] = rec
	r.execMu.Unlock()
	defer func() {
		r.execMu.Lock()
		delete(r.active, executionID)
		r.execMu.Unlock()
	}()

	decoded, args, err := parseArguments(rawArgs)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	applyDefaults(def, decoded, args)
	if r.cfg.SafetyChecksEnabled {
		if _, err := validateArguments(def, decoded); err != nil {
			return ErrorResult(err.Error()), nil
		}
	}

	if def.Execute == nil {
		return ErrorResult(fmt.Sprintf("tool %q has no executor configured", name)), nil
	}

	if r.cfg.UseForkTimeout && r.forkExecutor != nil {
		return r.forkExecutor.Run(ctx, executionID, name, args, rec.Timeout)
	}
	return r.runInline(ctx, def, args, rec.Timeout)
}

// runInline runs the executor in-process. Go's cooperative cancellation
// means a timeout here cannot stop the executor: ctx is cancelled at the
// deadline and runInline returns the timeout result then, but an executor
// that ignores ctx keeps running in its own goroutine until it returns on
// its own — it cannot be forcibly killed the way a fork-mode child process
// can, per spec.md §9's non-fork substitution note.
func (r *Registry) runInline(ctx context.Context, def Definition, args Args, timeout time.Duration) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct {
		res *Result
		err error
	}, 1)
	start := time.Now()
	go func() {
		res, err := def.Execute(execCtx, args)
		done <- struct {
			res *Result
			err error
		}{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return ErrorResult(out.err.Error()), nil
		}
		if time.Since(start) > timeout {
			return ErrorResult(fmt.Sprintf("tool execution timed out after %dms", timeout.Milliseconds())), nil
		}
		return out.res, nil
	case <-execCtx.Done():
		return ErrorResult(fmt.Sprintf("tool execution timed out after %dms", timeout.Milliseconds())), nil
	}
}
