package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
)

// ForkExecutor runs a tool invocation out-of-process so a timeout can be
// enforced by killing the child rather than merely racing a context, per
// SPEC_FULL §4.8 step 4 and §4.10.
type ForkExecutor interface {
	Run(ctx context.Context, executionID, toolName string, args Args, timeout time.Duration) (*Result, error)
}

// pollInterval is the parent's child-wait polling cadence, per spec.md §4.8.
const pollInterval = 100 * time.Millisecond

// ProcessForkExecutor re-invokes the server's own binary with an internal
// flag to run a single tool in isolation, using
// github.com/viant/gosh/runner/local the way the teacher's stdio transport
// client uses it to drive a local subprocess (transport/client/stdio's use
// of runner/local.New). The child's result is handed back via a temp file
// named mcp-result-<execution_id>.json rather than over the subprocess's
// stdout pipe, so a killed child leaves no half-written framed message
// behind.
type ProcessForkExecutor struct {
	// SelfPath is the path to the server's own executable (os.Executable()
	// at startup), re-invoked with ExecuteFlag for one isolated tool call.
	SelfPath string
	// ExecuteFlag is the flag name the binary recognizes as "run exactly
	// one tool and exit", e.g. "--mcp-execute-tool".
	ExecuteFlag string
	// TempDir holds the per-execution args/result files; defaults to
	// os.TempDir() when empty.
	TempDir string

	newRunner func() runner.Runner
}

// NewProcessForkExecutor constructs a ProcessForkExecutor bound to selfPath.
func NewProcessForkExecutor(selfPath, executeFlag string) *ProcessForkExecutor {
	return &ProcessForkExecutor{
		SelfPath:    selfPath,
		ExecuteFlag: executeFlag,
		newRunner:   func() runner.Runner { return local.New() },
	}
}

// Run spawns the child, polls for its result file every pollInterval, and
// kills the child (via context cancellation, which gosh's local runner
// propagates to the underlying process) once timeout elapses without a
// result file appearing.
func (p *ProcessForkExecutor) Run(ctx context.Context, executionID, toolName string, args Args, timeout time.Duration) (*Result, error) {
	tempDir := p.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	argsPath := filepath.Join(tempDir, fmt.Sprintf("mcp-args-%s.json", executionID))
	resultPath := filepath.Join(tempDir, fmt.Sprintf("mcp-result-%s.json", executionID))
	defer func() {
		_ = os.Remove(argsPath)
		_ = os.Remove(resultPath)
	}()

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to marshal tool arguments: %v", err)), nil
	}
	if err := os.WriteFile(argsPath, argsJSON, 0o600); err != nil {
		return ErrorResult(fmt.Sprintf("failed to stage tool arguments: %v", err)), nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := strings.Join([]string{
		p.SelfPath,
		p.ExecuteFlag + "=" + toolName,
		"--mcp-execution-id=" + executionID,
		"--mcp-args-file=" + argsPath,
		"--mcp-result-file=" + resultPath,
	}, " ")

	r := p.newRunner()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_, _, _ = r.Run(runCtx, cmd)
	}()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if data, err := os.ReadFile(resultPath); err == nil {
			var res Result
			if jsonErr := json.Unmarshal(data, &res); jsonErr == nil {
				cancel()
				<-runDone
				return &res, nil
			}
		}
		if time.Now().After(deadline) {
			cancel() // SIGKILL-equivalent: gosh's local runner tears down the child when its context is cancelled
			<-runDone
			return ErrorResult(fmt.Sprintf("Tool execution timed out after %dms", timeout.Milliseconds())), nil
		}
		select {
		case <-runDone:
			if data, err := os.ReadFile(resultPath); err == nil {
				var res Result
				if jsonErr := json.Unmarshal(data, &res); jsonErr == nil {
					return &res, nil
				}
			}
			return ErrorResult(fmt.Sprintf("tool %q exited without producing a result", toolName)), nil
		case <-ticker.C:
		}
	}
}
