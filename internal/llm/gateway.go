package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bofamily/bo/internal/store"
)

// Pipeline step names. Every call names its step so the audit log and
// the mock map stay keyed consistently.
const (
	StepFactFinding      = "fact_finding"
	StepWhatToDo         = "what_to_do"
	StepCreateResponse   = "create_response"
	StepSummary          = "summary"
	StepRecipientMessage = "send_to_contact_recipient"
	StepSenderAck        = "send_to_contact_sender"
	StepModerationPG     = "pg_filter"
)

// Models holds the three task tiers.
type Models struct {
	Simple   string // trivial extraction
	Standard string // conversation and routing
	Complex  string // personality, safety, crisis
}

// modelFor maps a step to its tier.
func (m Models) modelFor(step string) string {
	switch step {
	case StepFactFinding, StepSummary:
		return m.Simple
	case StepModerationPG:
		return m.Complex
	default:
		return m.Standard
	}
}

// Call is one gateway invocation.
type Call struct {
	RequestID   string
	Owner       string
	Step        string
	System      string
	User        string
	Temperature float64
}

// Gateway fronts every model call: model selection, mock substitution,
// and the audit trail. Audit failures never propagate.
type Gateway struct {
	provider Provider
	models   Models
	audit    store.LLMLogStore
	log      *slog.Logger

	mock map[string]string

	mu      sync.Mutex
	logPath string
}

func NewGateway(provider Provider, models Models, audit store.LLMLogStore, logPath string, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		provider: provider,
		models:   models,
		audit:    audit,
		logPath:  logPath,
		log:      log,
	}
}

// LoadMock reads a step-keyed response map from path. Values may be any
// JSON shape; non-strings are re-stringified. The "default" key covers
// steps the file omits.
func (g *Gateway) LoadMock(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load llm mock: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse llm mock: %w", err)
	}
	g.mock = make(map[string]string, len(raw))
	for step, val := range raw {
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			s = string(val)
		}
		g.mock[step] = s
	}
	return nil
}

// Mocked reports whether deterministic mock mode is active.
func (g *Gateway) Mocked() bool { return g.mock != nil }

// Complete runs one call through mock or provider and records it.
func (g *Gateway) Complete(ctx context.Context, call Call) (string, error) {
	requestDoc, _ := json.Marshal(map[string]any{
		"request_id":  call.RequestID,
		"owner":       call.Owner,
		"step":        call.Step,
		"model":       g.models.modelFor(call.Step),
		"system":      call.System,
		"user":        call.User,
		"temperature": call.Temperature,
	})

	var response string
	if g.mock != nil {
		var ok bool
		response, ok = g.mock[call.Step]
		if !ok {
			response = g.mock["default"]
		}
	} else {
		var err error
		response, err = g.provider.Complete(ctx, Request{
			Model:       g.models.modelFor(call.Step),
			System:      call.System,
			User:        call.User,
			Temperature: call.Temperature,
		})
		if err != nil {
			g.log.Warn("llm call failed",
				"request_id", call.RequestID,
				"step", call.Step,
				"error", err,
			)
			g.record(ctx, call, string(requestDoc), "ERROR: "+err.Error())
			return "", fmt.Errorf("llm %s: %w", call.Step, err)
		}
	}

	g.record(ctx, call, string(requestDoc), response)
	return strings.TrimSpace(response), nil
}

// record persists the audit row and appends to the request log file.
// Neither failure propagates.
func (g *Gateway) record(ctx context.Context, call Call, requestDoc, response string) {
	if g.audit != nil {
		err := g.audit.Add(ctx, &store.LLMLogEntry{
			RequestID:  call.RequestID,
			Owner:      call.Owner,
			Step:       call.Step,
			RequestDoc: requestDoc,
			Response:   response,
		})
		if err != nil {
			g.log.Warn("llm audit write failed", "request_id", call.RequestID, "error", err)
		}
	}

	if g.logPath == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	f, err := os.OpenFile(g.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		g.log.Warn("request log open failed", "path", g.logPath, "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] request_id=%s owner=%s step=%s\n>>> %s\n<<< %s\n\n",
		time.Now().UTC().Format(time.RFC3339), call.RequestID, call.Owner, call.Step,
		call.User, response)
}
