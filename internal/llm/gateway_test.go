package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/store"
	"github.com/bofamily/bo/internal/store/storetest"
)

var testModels = Models{Simple: "mini", Standard: "std", Complex: "big"}

func fakeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func completion(content string) []byte {
	out, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return out
}

func TestProviderCompleteSelectsModelPerStep(t *testing.T) {
	var gotModel atomic.Value
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel.Store(req.Model)
		w.Write(completion("ok"))
	})

	stores := storetest.New()
	g := NewGateway(NewOpenAIProvider("key", srv.URL, time.Second), testModels, stores.LLMLog, "", nil)

	for step, want := range map[string]string{
		StepFactFinding:    "mini",
		StepSummary:        "mini",
		StepWhatToDo:       "std",
		StepCreateResponse: "std",
		StepModerationPG:   "big",
	} {
		_, err := g.Complete(context.Background(), Call{RequestID: "r", Owner: "o", Step: step, User: "hi"})
		require.NoError(t, err)
		require.Equal(t, want, gotModel.Load(), "step %s", step)
	}
}

func TestProviderRetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write(completion("recovered"))
	})

	p := NewOpenAIProvider("key", srv.URL, time.Second)
	out, err := p.Complete(context.Background(), Request{Model: "std", User: "hi"})
	require.NoError(t, err)
	require.Equal(t, "recovered", out)
	require.Equal(t, int32(2), calls.Load())
}

func TestCompleteWritesAuditRow(t *testing.T) {
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion("Hey!"))
	})
	stores := storetest.New()
	g := NewGateway(NewOpenAIProvider("key", srv.URL, time.Second), testModels, stores.LLMLog, "", nil)

	out, err := g.Complete(context.Background(), Call{
		RequestID: "req-1", Owner: "5551234567", Step: StepCreateResponse, User: "hi",
	})
	require.NoError(t, err)
	require.Equal(t, "Hey!", out)

	rows := storetest.MemOf(stores).LLMRows
	require.Len(t, rows, 1)
	require.Equal(t, "req-1", rows[0].RequestID)
	require.Equal(t, StepCreateResponse, rows[0].Step)
	require.Equal(t, "Hey!", rows[0].Response)
}

func TestCompleteAuditFailureDoesNotPropagate(t *testing.T) {
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion("fine"))
	})
	g := NewGateway(NewOpenAIProvider("key", srv.URL, time.Second), testModels, failingAudit{}, "", nil)

	out, err := g.Complete(context.Background(), Call{RequestID: "r", Step: StepWhatToDo, User: "x"})
	require.NoError(t, err)
	require.Equal(t, "fine", out)
}

type failingAudit struct{}

func (failingAudit) Add(context.Context, *store.LLMLogEntry) error {
	return context.DeadlineExceeded
}

func TestMockModeByStepWithDefault(t *testing.T) {
	dir := t.TempDir()
	mockPath := filepath.Join(dir, "mock.json")
	require.NoError(t, os.WriteFile(mockPath, []byte(`{
		"what_to_do": {"skill": "create_a_response"},
		"create_response": "Hey!",
		"default": "[]"
	}`), 0o644))

	stores := storetest.New()
	g := NewGateway(nil, testModels, stores.LLMLog, "", nil)
	require.NoError(t, g.LoadMock(mockPath))
	require.True(t, g.Mocked())

	ctx := context.Background()

	out, err := g.Complete(ctx, Call{Step: StepCreateResponse, User: "hi"})
	require.NoError(t, err)
	require.Equal(t, "Hey!", out)

	// Non-string payloads come back stringified.
	out, err = g.Complete(ctx, Call{Step: StepWhatToDo, User: "hi"})
	require.NoError(t, err)
	require.JSONEq(t, `{"skill":"create_a_response"}`, out)

	// Missing steps fall back to the default value.
	out, err = g.Complete(ctx, Call{Step: StepFactFinding, User: "hi"})
	require.NoError(t, err)
	require.Equal(t, "[]", out)
}

func TestRequestLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "requests.log")
	mockPath := filepath.Join(dir, "mock.json")
	require.NoError(t, os.WriteFile(mockPath, []byte(`{"default":"ok"}`), 0o644))

	g := NewGateway(nil, testModels, nil, logPath, nil)
	require.NoError(t, g.LoadMock(mockPath))

	_, err := g.Complete(context.Background(), Call{RequestID: "r-log", Owner: "o", Step: StepSummary, User: "sum it"})
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "request_id=r-log")
	require.Contains(t, string(data), "<<< ok")
}
