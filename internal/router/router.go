// Package router runs the five-stage pipeline that turns an inbound
// family message into a reply or a dispatch envelope.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/contacts"
	"github.com/bofamily/bo/internal/identity"
	"github.com/bofamily/bo/internal/llm"
	"github.com/bofamily/bo/internal/memory"
	"github.com/bofamily/bo/internal/moderation"
	"github.com/bofamily/bo/internal/ratelimit"
	"github.com/bofamily/bo/internal/skills"
	"github.com/bofamily/bo/internal/store"
	"github.com/bofamily/bo/internal/tenant"
)

// ReminderPrefix marks scheduler-injected messages.
const ReminderPrefix = "[scheduled: reminder] "

// capabilityDenied is the verbatim reply when the ACL blocks a skill.
const capabilityDenied = "I don't have that capability for this chat—sorry!"

// RateLimiter is the pre-flight admission check, satisfied by
// ratelimit.Limiter.
type RateLimiter interface {
	Check(ctx context.Context, familyID, userID uuid.UUID, memberCount int) (*ratelimit.Decision, error)
}

// Request is one inbound message.
type Request struct {
	RequestID string
	Owner     string // raw principal token, canonicalized here
	Message   string
	ChatID    string // transport group chat id, may be empty
}

// Router is the central state machine. One instance serves all
// transports; messages from the same owner run strictly in order.
type Router struct {
	resolver *tenant.Resolver
	stores   *store.Stores
	memory   *memory.Store
	executor *skills.Executor
	gateway  *llm.Gateway
	screener *moderation.Screener
	pgFilter *moderation.PGFilter
	limiter  RateLimiter
	log      *slog.Logger

	defaultZip string
	logPath    string

	mu     sync.Mutex
	owners map[string]*sync.Mutex
	logF   sync.Mutex
}

// Config wires a Router.
type Config struct {
	Resolver   *tenant.Resolver
	Stores     *store.Stores
	Memory     *memory.Store
	Executor   *skills.Executor
	Gateway    *llm.Gateway
	Screener   *moderation.Screener
	PGFilter   *moderation.PGFilter
	Limiter    RateLimiter
	DefaultZip string
	LogPath    string
	Logger     *slog.Logger
}

func New(cfg Config) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		resolver:   cfg.Resolver,
		stores:     cfg.Stores,
		memory:     cfg.Memory,
		executor:   cfg.Executor,
		gateway:    cfg.Gateway,
		screener:   cfg.Screener,
		pgFilter:   cfg.PGFilter,
		limiter:    cfg.Limiter,
		defaultZip: cfg.DefaultZip,
		logPath:    cfg.LogPath,
		log:        log,
		owners:     make(map[string]*sync.Mutex),
	}
}

// Handle runs one message through the pipeline. A nil output with nil
// error means the message was deliberately dropped (cooldown, dedup).
// Tenancy errors are returned for the transport to translate; every
// other failure becomes a polite excuse.
func (r *Router) Handle(ctx context.Context, req Request) (*Output, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.Must(uuid.NewV7()).String()
	}
	owner := identity.Canonical(req.Owner)

	lock := r.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	ten, err := r.resolver.Resolve(ctx, req.ChatID, owner)
	if err != nil {
		return nil, err
	}
	defer r.resolver.Commit(ctx, ten)

	// Rate limit before anything billable. Limiter outages fail open.
	if out, blocked := r.checkRateLimit(ctx, req, ten); blocked {
		return out, nil
	}

	screen := r.screener.Screen(ctx, ten.User.ID, ten.Family, req.Message)
	if !screen.ShouldContinue {
		r.logStage(req.RequestID, owner, "crisis short-circuit")
		return &Output{Reply: screen.Reply}, nil
	}

	message := req.Message
	reminderTriggered := strings.HasPrefix(message, ReminderPrefix)
	if reminderTriggered {
		message = strings.TrimPrefix(message, ReminderPrefix)
	}

	dir, err := contacts.Load(ctx, r.stores.Users, ten.Family)
	if err != nil {
		r.log.Error("contact load failed", "request_id", req.RequestID, "error", err)
		return &Output{Reply: excuse()}, nil
	}

	registry, err := skills.LoadRegistry(ctx, r.stores.Skills)
	if err != nil {
		r.log.Error("skill registry load failed", "request_id", req.RequestID, "error", err)
		return &Output{Reply: excuse()}, nil
	}

	if !reminderTriggered {
		if ws := parseWeatherSend(message); ws != nil {
			if out := r.weatherShortCircuit(ctx, req, ten, dir, registry, owner, ws); out != nil {
				return out, nil
			}
		}
	}

	// Stage 1: fact extraction, best-effort.
	r.extractFacts(ctx, req, ten, owner, message)

	// Stage 2: skill selection.
	dec, out := r.selectSkill(ctx, req, ten, dir, registry, owner, message, reminderTriggered)
	if out != nil {
		return out, nil
	}

	// Stage 3: execution.
	var (
		skillOutput string
		hints       map[string]any
		extra       []string
	)
	switch dec.Skill {
	case skills.SkillCreateResponse:
		// Straight to composition.
	case skills.SkillFriendMode:
		person := stringParam(dec.Params, "person")
		if person == "" {
			person = ten.User.FirstName
		}
		extra = append(extra, friendModeGeneric, fmt.Sprintf(friendModePersonal, person))
	case skills.SkillSendToContact:
		return r.sendToContact(ctx, req, ten, dir, owner, message, dec), nil
	default:
		sk, ok := registry.Get(dec.Skill)
		if !ok {
			r.log.Warn("skill not found", "request_id", req.RequestID, "skill", dec.Skill)
			return &Output{Reply: excuse()}, nil
		}
		if !registry.Allowed(owner, dec.Skill) {
			r.logStage(req.RequestID, owner, "skill denied: "+dec.Skill)
			return &Output{Reply: capabilityDenied}, nil
		}
		res, err := r.executor.Run(ctx, sk, skills.Invocation{
			RequestID: req.RequestID,
			From:      owner,
			Params:    dec.Params,
		})
		if err != nil {
			r.log.Warn("skill failed", "request_id", req.RequestID, "skill", dec.Skill, "error", err)
			return &Output{Reply: excuse()}, nil
		}
		skillOutput, hints = res.Response, res.Hints
	}

	if reminderTriggered {
		extra = append(extra, "This is a scheduled reminder firing. Warmly remind them about it now; do not offer to create any new tasks or reminders.")
	}

	// Stage 4: composition.
	reply, ok := r.compose(ctx, req, ten, owner, message, skillOutput, hints, extra)
	if !ok {
		return &Output{Reply: excuse()}, nil
	}

	reply = SanitizeReply(Truncate(reply, MaxReplyChars))

	// Conversation append is load-bearing; its failure fails the request.
	if err := r.memory.AppendExchange(ctx, ten.User.ID, ten.Family, message, reply); err != nil {
		r.log.Error("conversation append failed", "request_id", req.RequestID, "error", err)
		return &Output{Reply: excuse()}, nil
	}

	notification := r.todoNotification(ten, dir, dec)

	// Stage 5: summary, best-effort.
	r.updateSummary(ctx, req, ten, owner, message, reply)

	// Post-output moderation.
	final := r.pgFilter.Review(ctx, ten.User.ID, ten.Family, req.RequestID, owner, reply, excuse())
	r.logStage(req.RequestID, owner, "completed skill="+dec.Skill)
	return &Output{Reply: final, Notification: notification}, nil
}

func (r *Router) ownerLock(owner string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.owners[owner]
	if !ok {
		lock = &sync.Mutex{}
		r.owners[owner] = lock
	}
	return lock
}

func (r *Router) checkRateLimit(ctx context.Context, req Request, ten *tenant.Tenancy) (*Output, bool) {
	members, err := r.stores.Families.MemberCount(ctx, ten.Family)
	if err != nil {
		r.log.Warn("member count failed", "request_id", req.RequestID, "error", err)
		members = 1
	}
	dec, err := r.limiter.Check(ctx, ten.Family, ten.User.ID, members)
	if err != nil {
		r.log.Warn("rate limiter unavailable, failing open", "request_id", req.RequestID, "error", err)
		return nil, false
	}
	if dec.Allowed {
		return nil, false
	}
	if dec.Notify {
		wait := time.Until(dec.CooldownUntil).Round(time.Second)
		return &Output{Reply: fmt.Sprintf(
			"Whew, y'all have been chatty! I'm taking a quick breather—give me about %s.", wait)}, true
	}
	// Mid-cooldown attempts stay silent.
	r.logStage(req.RequestID, identity.Canonical(req.Owner), "dropped: in_cooldown")
	return nil, true
}

func (r *Router) extractFacts(ctx context.Context, req Request, ten *tenant.Tenancy, owner, message string) {
	raw, err := r.gateway.Complete(ctx, llm.Call{
		RequestID: req.RequestID,
		Owner:     owner,
		Step:      llm.StepFactFinding,
		System:    factFindingSystem,
		User:      message,
	})
	if err != nil {
		return
	}
	for _, e := range parseFacts(raw) {
		if e.Key == "personality_instruction" {
			if err := r.memory.AppendPersonality(ctx, ten.User.ID, ten.Family, e.Value); err != nil {
				r.log.Warn("personality append failed", "request_id", req.RequestID, "error", err)
			}
			continue
		}
		err := r.memory.SaveFact(ctx, &store.Fact{
			UserID:   ten.User.ID,
			FamilyID: ten.Family,
			Key:      e.Key,
			Value:    e.Value,
			Scope:    e.Scope,
			Tags:     e.Tags,
		})
		if err != nil {
			r.log.Warn("fact save skipped", "request_id", req.RequestID, "key", e.Key, "error", err)
		}
	}
}

func (r *Router) selectSkill(ctx context.Context, req Request, ten *tenant.Tenancy, dir *contacts.Directory, registry *skills.Registry, owner, message string, reminderTriggered bool) (*decision, *Output) {
	var exclude []string
	if reminderTriggered {
		exclude = append(exclude, "todo")
	}
	system := fmt.Sprintf(whatToDoSystem,
		registry.CatalogText(owner, exclude...),
		strings.Join(dir.Names(), ", "),
		ten.User.DisplayName(),
	)
	raw, err := r.gateway.Complete(ctx, llm.Call{
		RequestID: req.RequestID,
		Owner:     owner,
		Step:      llm.StepWhatToDo,
		System:    system,
		User:      message,
	})
	if err != nil || raw == "" {
		return nil, &Output{Reply: excuse()}
	}
	dec, err := parseDecision(raw)
	if err != nil {
		r.log.Warn("what_to_do unparseable", "request_id", req.RequestID, "error", err)
		return nil, &Output{Reply: excuse()}
	}
	if dec.PersonalityInstruction != "" {
		if err := r.memory.AppendPersonality(ctx, ten.User.ID, ten.Family, dec.PersonalityInstruction); err != nil {
			r.log.Warn("personality append failed", "request_id", req.RequestID, "error", err)
		}
	}
	// A scheduled reminder must never create new work.
	if reminderTriggered {
		switch dec.Skill {
		case "todo", "reminder", skills.SkillFriendMode:
			dec.Skill = skills.SkillCreateResponse
		}
	}
	return dec, nil
}

func (r *Router) compose(ctx context.Context, req Request, ten *tenant.Tenancy, owner, message, skillOutput string, hints map[string]any, extra []string) (string, bool) {
	facts, err := r.memory.RelevantFacts(ctx, ten.User.ID, ten.Family, message)
	if err != nil {
		r.log.Warn("fact lookup failed", "request_id", req.RequestID, "error", err)
	}
	conv, err := r.memory.Conversation(ctx, ten.User.ID, ten.Family)
	if err != nil {
		r.log.Warn("conversation lookup failed", "request_id", req.RequestID, "error", err)
	}
	summary, _ := r.memory.SummaryText(ctx, ten.User.ID, ten.Family)
	personality, _ := r.memory.PersonalityText(ctx, ten.User.ID, ten.Family)

	doc := composeContext{
		UserMessage:  message,
		SkillOutput:  skillOutput,
		Hints:        hints,
		Personality:  personality,
		Summary:      summary,
		Facts:        facts,
		Conversation: conv,
		Extra:        extra,
	}
	reply, err := r.gateway.Complete(ctx, llm.Call{
		RequestID:   req.RequestID,
		Owner:       owner,
		Step:        llm.StepCreateResponse,
		System:      createResponseSystem,
		User:        doc.prompt(),
		Temperature: 0.7,
	})
	if err != nil || reply == "" {
		return "", false
	}
	return reply, true
}

// sendToContact composes both sides of a forwarded message and emits
// the dispatch envelope, preferring Telegram delivery when available.
func (r *Router) sendToContact(ctx context.Context, req Request, ten *tenant.Tenancy, dir *contacts.Directory, owner, message string, dec *decision) *Output {
	to := stringParam(dec.Params, "to")
	prompt := stringParam(dec.Params, "ai_prompt")
	from := stringParam(dec.Params, "from")
	if from == "" {
		from = ten.User.DisplayName()
	}
	if to == "" || prompt == "" {
		return &Output{Reply: excuse()}
	}

	contact, ok := dir.Resolve(to)
	if !ok {
		if group, err := r.stores.GroupChats.GetByName(ctx, ten.Family, to); err == nil {
			return r.sendToGroupChat(ctx, req, ten, group, owner, from, message, prompt)
		}
		return &Output{Reply: fmt.Sprintf("I don't know who %s is—can you add them to the family first?", to)}
	}
	if contact.Number == "" && contact.TelegramID == "" {
		return &Output{Reply: fmt.Sprintf("I have %s in contacts but no valid phone number for them.", contact.Name)}
	}

	body, err := r.gateway.Complete(ctx, llm.Call{
		RequestID:   req.RequestID,
		Owner:       owner,
		Step:        llm.StepRecipientMessage,
		System:      createResponseSystem,
		User:        fmt.Sprintf("Write a short message to %s on behalf of %s. What they want to say: %s", contact.Name, from, prompt),
		Temperature: 0.7,
	})
	if err != nil || body == "" {
		return &Output{Reply: excuse()}
	}
	ack, err := r.gateway.Complete(ctx, llm.Call{
		RequestID:   req.RequestID,
		Owner:       owner,
		Step:        llm.StepSenderAck,
		System:      createResponseSystem,
		User:        fmt.Sprintf("Confirm briefly to %s that their message was sent to %s.", from, contact.Name),
		Temperature: 0.7,
	})
	if err != nil || ack == "" {
		return &Output{Reply: excuse()}
	}

	body = SanitizeReply(Truncate(body, MaxReplyChars))
	ack = SanitizeReply(Truncate(ack, MaxReplyChars))

	if err := r.memory.AppendExchange(ctx, ten.User.ID, ten.Family, message, ack); err != nil {
		r.log.Error("conversation append failed", "request_id", req.RequestID, "error", err)
		return &Output{Reply: excuse()}
	}

	r.logStage(req.RequestID, owner, "dispatch to "+contact.Name)
	return &Output{Dispatch: &Dispatch{
		SendTo:           contact.Number,
		SendBody:         body,
		ReplyToSender:    ack,
		SendToTelegramID: contact.TelegramID,
	}}
}

// sendToGroupChat handles send_to_contact when the target resolves to a
// registered family group chat rather than a person.
func (r *Router) sendToGroupChat(ctx context.Context, req Request, ten *tenant.Tenancy, group *store.GroupChat, owner, from, message, prompt string) *Output {
	body, err := r.gateway.Complete(ctx, llm.Call{
		RequestID:   req.RequestID,
		Owner:       owner,
		Step:        llm.StepRecipientMessage,
		System:      createResponseSystem,
		User:        fmt.Sprintf("Write a short message to the %s group chat on behalf of %s. What they want to say: %s", group.Name, from, prompt),
		Temperature: 0.7,
	})
	if err != nil || body == "" {
		return &Output{Reply: excuse()}
	}
	ack, err := r.gateway.Complete(ctx, llm.Call{
		RequestID:   req.RequestID,
		Owner:       owner,
		Step:        llm.StepSenderAck,
		System:      createResponseSystem,
		User:        fmt.Sprintf("Confirm briefly to %s that their message was posted in the %s group chat.", from, group.Name),
		Temperature: 0.7,
	})
	if err != nil || ack == "" {
		return &Output{Reply: excuse()}
	}

	body = SanitizeReply(Truncate(body, MaxReplyChars))
	ack = SanitizeReply(Truncate(ack, MaxReplyChars))

	if err := r.memory.AppendExchange(ctx, ten.User.ID, ten.Family, message, ack); err != nil {
		r.log.Error("conversation append failed", "request_id", req.RequestID, "error", err)
		return &Output{Reply: excuse()}
	}

	r.logStage(req.RequestID, owner, "dispatch to group "+group.Name)
	d := &Dispatch{SendBody: body, ReplyToSender: ack}
	if group.Type == store.GroupTelegram {
		d.SendToGroup = group.ChatID
	} else {
		d.SendTo = group.ChatID
	}
	return &Output{Dispatch: d}
}

// weatherShortCircuit handles "send <contact> the weather" without any
// model call. Returns nil to fall through to the normal pipeline.
func (r *Router) weatherShortCircuit(ctx context.Context, req Request, ten *tenant.Tenancy, dir *contacts.Directory, registry *skills.Registry, owner string, ws *weatherSend) *Output {
	contact, ok := dir.Resolve(ws.Contact)
	if !ok || contact.Number == "" && contact.TelegramID == "" {
		return nil
	}
	sk, ok := registry.Get("weather")
	if !ok || !registry.Allowed(owner, "weather") {
		return nil
	}

	res, err := r.executor.Run(ctx, sk, skills.Invocation{
		RequestID: req.RequestID,
		From:      owner,
		Params:    map[string]any{"day": ws.Day, "zip": r.defaultZip},
	})
	if err != nil {
		r.log.Warn("weather short-circuit failed", "request_id", req.RequestID, "error", err)
		return &Output{Reply: excuse()}
	}

	first := contact.User.FirstName
	if first == "" {
		first = contact.Name
	}
	r.logStage(req.RequestID, owner, "weather short-circuit to "+contact.Name)
	return &Output{Dispatch: &Dispatch{
		SendTo:           contact.Number,
		SendBody:         Truncate(res.Response, MaxReplyChars),
		ReplyToSender:    fmt.Sprintf("Okay, sent the weather to %s.", first),
		SendToTelegramID: contact.TelegramID,
	}}
}

// todoNotification builds the ride-along envelope when a todo change
// was made on someone else's behalf.
func (r *Router) todoNotification(ten *tenant.Tenancy, dir *contacts.Directory, dec *decision) *Dispatch {
	if dec.Skill != "todo" {
		return nil
	}
	forContact := stringParam(dec.Params, "for_contact")
	if forContact == "" {
		return nil
	}
	contact, ok := dir.Resolve(forContact)
	if !ok || contact.User.ID == ten.User.ID {
		return nil
	}
	if contact.Number == "" && contact.TelegramID == "" {
		return nil
	}
	body := fmt.Sprintf("%s updated your todo list", ten.User.DisplayName())
	if text := stringParam(dec.Params, "text"); text != "" {
		body += ": " + text
	}
	return &Dispatch{
		SendTo:           contact.Number,
		SendBody:         body,
		SendToTelegramID: contact.TelegramID,
	}
}

func (r *Router) updateSummary(ctx context.Context, req Request, ten *tenant.Tenancy, owner, message, reply string) {
	current, _ := r.memory.SummaryText(ctx, ten.User.ID, ten.Family)
	updated, err := r.gateway.Complete(ctx, llm.Call{
		RequestID: req.RequestID,
		Owner:     owner,
		Step:      llm.StepSummary,
		System:    summarySystem,
		User:      fmt.Sprintf("Current summary:\n%s\n\nNew exchange:\nuser: %s\nassistant: %s", current, message, reply),
	})
	if err != nil || updated == "" {
		return
	}
	if err := r.memory.ReplaceSummary(ctx, ten.User.ID, ten.Family, Truncate(updated, 2000)); err != nil {
		r.log.Warn("summary update failed", "request_id", req.RequestID, "error", err)
	}
}

// logStage appends one line to the human-readable router log.
func (r *Router) logStage(requestID, owner, note string) {
	if r.logPath == "" {
		return
	}
	r.logF.Lock()
	defer r.logF.Unlock()
	f, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] request_id=%s owner=%s %s\n",
		time.Now().UTC().Format(time.RFC3339), requestID, owner, note)
}
