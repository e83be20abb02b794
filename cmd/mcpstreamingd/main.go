// Command mcpstreamingd wires the Streaming Server, Session Manager,
// Timeout Manager, Origin Validator, and Tool Registry together and serves
// MCP over HTTP/1.1 with keep-alive and optional SSE.
//
// It also doubles as the fork-mode tool executor's child process: invoked
// with --mcp-execute-tool, it runs exactly one tool call read from a JSON
// args file and writes the result to a JSON result file, then exits. This
// is the idiomatic Go substitute for the spec's native fork() — re-exec of
// the same binary rather than an in-process child address space.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nowex35/mcpstreaming/internal/pointer"
	"github.com/nowex35/mcpstreaming/jsonrpc"
	"github.com/nowex35/mcpstreaming/mcp/dispatcher"
	"github.com/nowex35/mcpstreaming/mcp/tool"
	"github.com/nowex35/mcpstreaming/origin"
	"github.com/nowex35/mcpstreaming/session"
	"github.com/nowex35/mcpstreaming/timeout"
	"github.com/nowex35/mcpstreaming/transport/httpserver"
)

// executeFlag is the flag name ProcessForkExecutor re-invokes this binary
// with; must match fork.go's ExecuteFlag argument at wiring time below.
const executeFlag = "--mcp-execute-tool"

func main() {
	address := flag.String("address", "127.0.0.1:8787", "address to listen on")
	maxConnections := flag.Int("max-connections", 1024, "maximum concurrent connections")
	allowedOrigins := flag.String("allowed-origins", "", "comma-separated Origin allow-list (empty: localhost/127.0.0.1 only)")
	useForkTimeout := flag.Bool("use-fork-timeout", false, "execute tools out-of-process so timeouts can SIGKILL a hung tool")
	debug := flag.Bool("debug", false, "enable debug logging")

	executeTool := flag.String("mcp-execute-tool", "", "internal: run a single tool in isolation and exit (fork-mode child)")
	executionID := flag.String("mcp-execution-id", "", "internal: execution ID for fork-mode child")
	argsFile := flag.String("mcp-args-file", "", "internal: path to the JSON arguments file for fork-mode child")
	resultFile := flag.String("mcp-result-file", "", "internal: path to write the JSON result file for fork-mode child")
	flag.Parse()

	logger := jsonrpc.NewStdLogger(os.Stderr, *debug)
	tools := buildTools()

	if *executeTool != "" {
		runForkChild(logger, tools, *executeTool, *executionID, *argsFile, *resultFile)
		return
	}

	registryCfg := tool.DefaultConfig()
	registryCfg.UseForkTimeout = *useForkTimeout
	registry := tool.NewRegistry(registryCfg)
	for _, def := range tools {
		if err := registry.RegisterTool(def); err != nil {
			log.Fatalf("register tool %q: %v", def.Name, err)
		}
	}
	if *useForkTimeout {
		self, err := os.Executable()
		if err != nil {
			log.Fatalf("resolve executable path: %v", err)
		}
		registry.SetForkExecutor(tool.NewProcessForkExecutor(self, executeFlag))
	}

	sessions := session.NewManager(session.DefaultEventCapacity, session.DefaultCleanupInterval)
	timeouts := timeout.NewManager(timeout.DefaultConfig())

	originCfg := origin.Config{}
	if *allowedOrigins != "" {
		originCfg.Enabled = true
		originCfg.AllowedOrigins = strings.Split(*allowedOrigins, ",")
	}
	validator := origin.NewValidator(originCfg)

	d := dispatcher.New(
		dispatcher.ServerInfo{Name: "mcpstreamingd", Version: "0.1.0"},
		dispatcher.Capabilities{Tools: true},
		sessions,
		timeouts,
		registry,
	)
	mcpServer := dispatcher.NewServer(d, validator)

	httpCfg := httpserver.DefaultConfig(*address)
	httpCfg.MaxConcurrentConnections = *maxConnections
	srv := httpserver.New(httpCfg, mcpServer.Handle, logger)

	stop := make(chan struct{})
	go reapSessionsAndTimeouts(sessions, timeouts, logger, stop)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		close(stop)
		logger.Infof("shutting down")
		_ = srv.Close()
	}()

	logger.Infof("listening on %s", *address)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

// reapSessionsAndTimeouts periodically sweeps expired sessions, completed
// timeout records, and progress-expired in-flight requests, the same
// housekeeping a production deployment would run on a ticker rather than
// per-request.
func reapSessionsAndTimeouts(sessions *session.Manager, timeouts *timeout.Manager, logger jsonrpc.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(session.DefaultCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := sessions.CleanupExpiredSessions(false); n > 0 {
				logger.Debugf("expired %d sessions", n)
			}
			timeouts.CleanupCompletedRequests()
			for _, requestID := range timeouts.CheckExpiredRequests() {
				logger.Debugf("request %s expired", requestID)
			}
		}
	}
}

// runForkChild executes exactly one tool call read from argsFile and writes
// its result to resultFile, per SPEC_FULL §4.10. It never returns a
// non-zero exit status for an application-level tool failure; the result
// file's IsError field carries that instead, matching the parent's
// in-band error propagation policy.
func runForkChild(logger jsonrpc.Logger, tools []tool.Definition, toolName, executionID, argsFile, resultFile string) {
	if argsFile == "" || resultFile == "" {
		log.Fatalf("fork-mode child requires --mcp-args-file and --mcp-result-file")
	}

	var def *tool.Definition
	for i := range tools {
		if tools[i].Name == toolName {
			def = &tools[i]
			break
		}
	}
	if def == nil {
		writeForkResult(resultFile, tool.ErrorResult(fmt.Sprintf("tool %q not found", toolName)))
		return
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		writeForkResult(resultFile, tool.ErrorResult(fmt.Sprintf("failed to read arguments: %v", err)))
		return
	}
	var args tool.Args
	if err := json.Unmarshal(raw, &args); err != nil {
		writeForkResult(resultFile, tool.ErrorResult(fmt.Sprintf("failed to decode arguments: %v", err)))
		return
	}

	logger.Debugf("fork child %s executing %s", executionID, toolName)
	result, err := def.Execute(context.Background(), args)
	if err != nil {
		writeForkResult(resultFile, tool.ErrorResult(err.Error()))
		return
	}
	writeForkResult(resultFile, result)
}

func writeForkResult(resultFile string, result *tool.Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		log.Fatalf("encode tool result: %v", err)
	}
	if err := os.WriteFile(resultFile, raw, 0o600); err != nil {
		log.Fatalf("write tool result: %v", err)
	}
}

// buildTools returns the small set of demonstration tools the registry
// starts with, per spec.md's Non-goal that only enough tools to exercise
// the registry are provided, not a general-purpose tool catalog.
func buildTools() []tool.Definition {
	return []tool.Definition{
		{
			Name:            "echo",
			Description:     "Echoes the given message back to the caller.",
			ParameterSchema: map[string]tool.ParamSchema{"message": {Type: tool.TypeString, Required: true}},
			RequiredParams:  []string{"message"},
			Enabled:         true,
			Execute: func(ctx context.Context, args tool.Args) (*tool.Result, error) {
				msg, _ := args.GetString("message")
				return &tool.Result{Content: []tool.Content{tool.TextContent("Echo: " + msg)}}, nil
			},
		},
		{
			Name:        "sleep",
			Description: "Sleeps for the given number of milliseconds, honoring cancellation. Useful for exercising timeout handling.",
			ParameterSchema: map[string]tool.ParamSchema{
				"duration_ms": {Type: tool.TypeNumber, Default: pointer.Ref(interface{}(float64(100)))},
			},
			Enabled: true,
			Execute: func(ctx context.Context, args tool.Args) (*tool.Result, error) {
				ms, _ := args.GetNumber("duration_ms")
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
					return &tool.Result{Content: []tool.Content{tool.TextContent("slept")}}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
	}
}
