package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bofamily/bo/internal/store"
)

// Result is a skill's parsed output.
type Result struct {
	Response string
	Hints    map[string]any
}

// Invocation carries the per-request environment into the subprocess.
type Invocation struct {
	RequestID string
	From      string // canonical owner token of the sender
	Params    map[string]any
}

// Executor spawns skill entrypoints in isolated subprocesses. Skills
// never run in-process; the subprocess boundary is a security boundary.
type Executor struct {
	timeout time.Duration
	log     *slog.Logger
}

func NewExecutor(timeout time.Duration, log *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{timeout: timeout, log: log}
}

// Run invokes the skill entrypoint with the request document on stdin.
// Non-zero exit, timeout, or empty stdout are failures.
func (e *Executor) Run(ctx context.Context, skill *store.Skill, inv Invocation) (*Result, error) {
	if skill.Entrypoint == "" {
		return nil, fmt.Errorf("skill %s: no entrypoint", skill.Name)
	}

	request, err := json.Marshal(inv.Params)
	if err != nil {
		return nil, fmt.Errorf("skill %s: encode request: %w", skill.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", skill.Entrypoint)
	cmd.Stdin = bytes.NewReader(request)
	cmd.Env = append(os.Environ(),
		"BO_REQUEST_ID="+inv.RequestID,
		"BO_REQUEST_FROM="+inv.From,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	if stderr.Len() > 0 {
		e.log.Debug("skill stderr", "skill", skill.Name, "stderr", strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("skill %s: timed out after %s", skill.Name, e.timeout)
		}
		return nil, fmt.Errorf("skill %s: %w", skill.Name, err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, fmt.Errorf("skill %s: empty output", skill.Name)
	}

	e.log.Info("skill executed",
		"skill", skill.Name,
		"request_id", inv.RequestID,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return parseOutput(out), nil
}

// parseOutput tries the structured {response, hints} shape first and
// falls back to treating stdout as the response verbatim.
func parseOutput(out string) *Result {
	var doc struct {
		Response string         `json:"response"`
		Hints    map[string]any `json:"hints"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err == nil && doc.Response != "" {
		if doc.Hints == nil {
			doc.Hints = map[string]any{}
		}
		return &Result{Response: doc.Response, Hints: doc.Hints}
	}
	return &Result{Response: out, Hints: map[string]any{}}
}
