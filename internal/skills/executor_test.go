package skills

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/store"
)

func TestRunParsesStructuredOutput(t *testing.T) {
	e := NewExecutor(5*time.Second, nil)
	res, err := e.Run(context.Background(), &store.Skill{
		Name:       "echo",
		Entrypoint: `printf '{"response":"sunny, 72F","hints":{"zip":"30642"}}'`,
	}, Invocation{RequestID: "r1", From: "5551234567", Params: map[string]any{"day": "today"}})
	require.NoError(t, err)
	require.Equal(t, "sunny, 72F", res.Response)
	require.Equal(t, "30642", res.Hints["zip"])
}

func TestRunRawOutputFallsBack(t *testing.T) {
	e := NewExecutor(5*time.Second, nil)
	res, err := e.Run(context.Background(), &store.Skill{
		Name:       "raw",
		Entrypoint: `printf 'plain text answer'`,
	}, Invocation{RequestID: "r2", From: "5551234567"})
	require.NoError(t, err)
	require.Equal(t, "plain text answer", res.Response)
	require.Empty(t, res.Hints)
}

func TestRunReadsRequestFromStdin(t *testing.T) {
	e := NewExecutor(5*time.Second, nil)
	res, err := e.Run(context.Background(), &store.Skill{
		Name:       "cat",
		Entrypoint: "cat",
	}, Invocation{RequestID: "r3", From: "5551234567", Params: map[string]any{"q": "hello"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"q":"hello"}`, res.Response)
}

func TestRunEnvironment(t *testing.T) {
	e := NewExecutor(5*time.Second, nil)
	res, err := e.Run(context.Background(), &store.Skill{
		Name:       "env",
		Entrypoint: `printf '%s %s' "$BO_REQUEST_ID" "$BO_REQUEST_FROM"`,
	}, Invocation{RequestID: "req-9", From: "telegram:42"})
	require.NoError(t, err)
	require.Equal(t, "req-9 telegram:42", res.Response)
}

func TestRunFailures(t *testing.T) {
	e := NewExecutor(5*time.Second, nil)
	ctx := context.Background()

	_, err := e.Run(ctx, &store.Skill{Name: "boom", Entrypoint: "exit 3"}, Invocation{})
	require.Error(t, err)

	_, err = e.Run(ctx, &store.Skill{Name: "silent", Entrypoint: "true"}, Invocation{})
	require.Error(t, err)

	_, err = e.Run(ctx, &store.Skill{Name: "none"}, Invocation{})
	require.Error(t, err)
}

func TestRunTimeout(t *testing.T) {
	e := NewExecutor(100*time.Millisecond, nil)
	_, err := e.Run(context.Background(), &store.Skill{
		Name:       "slow",
		Entrypoint: "sleep 5",
	}, Invocation{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}
