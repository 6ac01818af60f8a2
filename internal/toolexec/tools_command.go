package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	nexusexec "github.com/haasonsaas/nexus/internal/exec"
	"github.com/haasonsaas/nexus/pkg/models"
)

func (e *Executor) registerCommandTools() {
	e.register("run_command", "command", runCommand)
	e.register("run_javascript", "command", runJavascript)
}

const (
	// defaultRunCommandTimeout and defaultRunJavascriptTimeout match spec
	// §5's differentiated per-tool defaults (60s / 100s) for a caller that
	// omits timeoutMs.
	defaultRunCommandTimeout    = 60 * time.Second
	defaultRunJavascriptTimeout = 100 * time.Second
	maxCommandTimeout           = 5 * time.Minute
)

func clampTimeout(timeoutMs int64, fallback time.Duration) time.Duration {
	if timeoutMs <= 0 {
		return fallback
	}
	d := time.Duration(timeoutMs) * time.Millisecond
	if d > maxCommandTimeout {
		return maxCommandTimeout
	}
	return d
}

type runCommandArgs struct {
	Command   string `json:"command"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

type commandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// runCommand executes an untrusted command string as an argv (never via a
// shell) with a bounded timeout, rejecting anything the exec safety helpers
// flag as shell-metacharacter or option-injection risk.
func runCommand(ctx context.Context, _ ExecContext, _ *Executor, args json.RawMessage) (any, error) {
	var in runCommandArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	fields := strings.Fields(in.Command)
	if len(fields) == 0 {
		return errResult{Error: "empty_command"}, nil
	}
	program, err := nexusexec.SanitizeExecutableValue(fields[0])
	if err != nil {
		return errResult{Error: fmt.Sprintf("unsafe_executable: %v", err)}, nil
	}
	argv, err := nexusexec.SanitizeArguments(fields[1:])
	if err != nil {
		return errResult{Error: fmt.Sprintf("unsafe_argument: %v", err)}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, clampTimeout(in.TimeoutMs, defaultRunCommandTimeout))
	defer cancel()

	cmd := exec.CommandContext(runCtx, program, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if runErr != nil {
		return errResult{Error: models.ErrKindToolExecutionFailed}, nil
	}
	return res, nil
}

// maxJSCodeBytes and maxJSResultBytes bound run_javascript's input and
// captured stdout so a runaway payload can't exhaust memory or blow past an
// LLM's context window with its own output.
const (
	maxJSCodeBytes   = 64 * 1024
	maxJSResultBytes = 256 * 1024
)

// deniedJSPatterns blocks the module/process/network surface the restricted
// sandbox must never expose to model-authored code.
var deniedJSPatterns = regexp.MustCompile(
	`\b(require|import|process|global|globalThis|child_process|fetch|XMLHttpRequest)\b|` +
		`\bFunction\s*\(|__proto__|constructor\s*\[`,
)

// sandboxShadow is prepended to every run_javascript payload: it shadows
// the globals a denylist alone can't catch (bypassing a word-boundary
// check via indirection) with undefined before the payload ever runs.
const sandboxShadow = `
(function(require, process, global, globalThis, fetch, XMLHttpRequest, __dirname, __filename) {
`
const sandboxShadowClose = `
})(undefined, undefined, undefined, undefined, undefined, undefined, undefined, undefined);
`

// resultEpilogue runs after the sandboxed payload: code assigns its return
// value to __result__ (left undefined if it never does), and this prints it
// as a single delimited, JSON-stringified line so the Go side can separate
// it from anything the payload itself wrote to stdout. A value that can't be
// JSON-serialized (a function, a BigInt, a cyclic object) reports the
// non_json_serializable_return sentinel instead of a raw stdout line.
const resultEpilogue = `
try {
  if (typeof __result__ !== "undefined") {
    var __serialized__ = JSON.stringify(__result__);
    if (typeof __serialized__ !== "string") { throw new Error("unserializable"); }
    console.log("__NEXUS_RESULT__" + __serialized__);
  }
} catch (e) {
  console.log("__NEXUS_RESULT_ERROR__non_json_serializable_return");
}
`

const resultMarker = "__NEXUS_RESULT__"
const resultErrorMarker = "__NEXUS_RESULT_ERROR__"

type runJavascriptArgs struct {
	Code      string          `json:"code"`
	Input     json.RawMessage `json:"input,omitempty"`
	TimeoutMs int64           `json:"timeoutMs,omitempty"`
}

type javascriptResult struct {
	Stdout   string          `json:"stdout"`
	Stderr   string          `json:"stderr"`
	Result   json.RawMessage `json:"result,omitempty"`
	TimedOut bool            `json:"timedOut,omitempty"`
}

// extractResult splits the payload's own stdout from the trailing result
// line the epilogue appended, returning the JSON result (if any) and an
// error kind when the payload's return value couldn't be serialized.
func extractResult(stdout string) (remaining string, result json.RawMessage, errKind string) {
	lines := strings.Split(stdout, "\n")
	last := len(lines) - 1
	for last >= 0 && lines[last] == "" {
		last--
	}
	if last < 0 {
		return stdout, nil, ""
	}
	line := lines[last]
	switch {
	case strings.HasPrefix(line, resultMarker):
		result = json.RawMessage(strings.TrimPrefix(line, resultMarker))
	case strings.HasPrefix(line, resultErrorMarker):
		errKind = strings.TrimPrefix(line, resultErrorMarker)
	default:
		return stdout, nil, ""
	}
	return strings.Join(lines[:last], "\n"), result, errKind
}

// runJavascript executes code in a restricted sandbox: a static pattern
// check denies module/process/network access outright, then the payload
// runs wrapped in an IIFE that shadows those same symbols to undefined, so
// even an indirect reference (e.g. built from string concatenation) binds
// to nothing rather than the real global. A trailing epilogue captures
// __result__ (when the payload sets it) as the tool's structured return
// value.
func runJavascript(ctx context.Context, _ ExecContext, _ *Executor, args json.RawMessage) (any, error) {
	var in runJavascriptArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	if len(in.Code) > maxJSCodeBytes {
		return errResult{Error: models.ErrKindCodeTooLarge}, nil
	}
	if deniedJSPatterns.MatchString(in.Code) {
		return errResult{Error: models.ErrKindBlockedCode}, nil
	}

	var inputArg string
	if len(in.Input) > 0 {
		inputArg = fmt.Sprintf("var input = %s;\n", string(in.Input))
	}
	script := inputArg + sandboxShadow + in.Code + sandboxShadowClose + resultEpilogue

	runCtx, cancel := context.WithTimeout(ctx, clampTimeout(in.TimeoutMs, defaultRunJavascriptTimeout))
	defer cancel()

	cmd := exec.CommandContext(runCtx, "node", "-e", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return javascriptResult{Stdout: stdout.String(), Stderr: stderr.String(), TimedOut: true}, nil
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return errResult{Error: models.ErrKindJSExecutionFailed}, nil
		}
	}

	if stdout.Len() > maxJSResultBytes {
		return errResult{Error: models.ErrKindResultTooLarge}, nil
	}

	out, result, errKind := extractResult(stdout.String())
	if errKind != "" {
		return errResult{Error: errKind}, nil
	}
	return javascriptResult{Stdout: out, Stderr: stderr.String(), Result: result}, nil
}
