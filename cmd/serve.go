package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bofamily/bo/internal/bus"
	"github.com/bofamily/bo/internal/channels"
	"github.com/bofamily/bo/internal/channels/selfchat"
	"github.com/bofamily/bo/internal/channels/telegram"
	"github.com/bofamily/bo/internal/config"
	"github.com/bofamily/bo/internal/gateway"
	"github.com/bofamily/bo/internal/llm"
	"github.com/bofamily/bo/internal/memory"
	"github.com/bofamily/bo/internal/moderation"
	"github.com/bofamily/bo/internal/ratelimit"
	"github.com/bofamily/bo/internal/router"
	"github.com/bofamily/bo/internal/scheduler"
	"github.com/bofamily/bo/internal/skills"
	"github.com/bofamily/bo/internal/store"
	"github.com/bofamily/bo/internal/store/pg"
	"github.com/bofamily/bo/internal/tenant"
	"github.com/bofamily/bo/internal/upgrade"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL environment variable is not set")
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.MockPath == "" {
		return fmt.Errorf("AI_GATEWAY_API_KEY environment variable is not set (or set BO_LLM_MOCK_PATH)")
	}

	db, err := pg.OpenDB(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	status, err := upgrade.CheckSchema(db)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	if !status.Compatible {
		return fmt.Errorf("schema check: %s", upgrade.FormatError(status))
	}
	stores := pg.NewStores(db)

	var limiter router.RateLimiter
	var cooldown scheduler.CooldownChecker
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(parent).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		rl := ratelimit.New(rdb, stores.RateLimitLog, nil)
		limiter = rl
		cooldown = rl
	} else {
		slog.Warn("REDIS_URL not set, rate limiting disabled")
		limiter = noopLimiter{}
		cooldown = noopLimiter{}
	}

	provider := llm.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.APIBase, cfg.LLMTimeout())
	llmGateway := llm.NewGateway(provider, llm.Models{
		Simple:   cfg.LLM.SimpleModel,
		Standard: cfg.LLM.Model,
		Complex:  cfg.LLM.ComplexModel,
	}, stores.LLMLog, cfg.Logs.RequestLog, nil)
	if cfg.LLM.MockPath != "" {
		if err := llmGateway.LoadMock(cfg.LLM.MockPath); err != nil {
			return fmt.Errorf("load llm mock: %w", err)
		}
		slog.Warn("llm gateway running in mock mode", "path", cfg.LLM.MockPath)
	}

	msgBus := bus.NewMessageBus()
	notifier := gateway.NewAdminNotifier(stores.Users, msgBus)

	rtr := router.New(router.Config{
		Resolver:   tenant.NewResolver(stores.Users, stores.Families, stores.GroupChats),
		Stores:     stores,
		Memory:     memory.New(stores.Facts, stores.Conversation, stores.Profiles, cfg.Router.ConversationMessages),
		Executor:   skills.NewExecutor(time.Duration(cfg.Router.SkillTimeoutSecs)*time.Second, nil),
		Gateway:    llmGateway,
		Screener:   moderation.NewScreener(stores.Moderation, notifier, nil),
		PGFilter:   moderation.NewPGFilter(llmGateway, stores.Moderation, nil),
		Limiter:    limiter,
		DefaultZip: cfg.Router.DefaultZip,
		LogPath:    cfg.Logs.RouterLog,
	})
	loop := gateway.New(msgBus, rtr, nil)

	manager := channels.NewManager(msgBus)
	if cfg.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Telegram, msgBus, stores.Users)
		if err != nil {
			return fmt.Errorf("telegram channel: %w", err)
		}
		manager.Register(tg)
	}
	if cfg.SelfChat.SocketPath != "" {
		bridge := selfchat.NewSocketBridge(cfg.SelfChat.SocketPath)
		manager.Register(selfchat.New(cfg.SelfChat, msgBus, bridge, bridge, stores.Users, stores.SelfReplied))
	}

	zone, err := time.LoadLocation(cfg.Router.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("load default timezone: %w", err)
	}
	enqueue := func(ctx context.Context, recipient *store.User, _ uuid.UUID, text string) error {
		channel := bus.ChannelSelfChat
		if recipient.TelegramID != "" {
			channel = bus.ChannelTelegram
		}
		loop.Process(ctx, bus.InboundMessage{
			Channel: channel,
			Sender:  scheduler.OwnerToken(recipient),
			Content: text,
		})
		return nil
	}
	sched := scheduler.New(stores, cooldown, enqueue,
		time.Duration(cfg.Scheduler.TickSecs)*time.Second, zone, nil)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	slog.Info("bo is up", "version", Version)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(runCtx) })
	g.Go(func() error { return sched.Run(runCtx) })

	err = g.Wait()
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if stopErr := manager.StopAll(stopCtx); stopErr != nil {
		slog.Error("channel shutdown failed", "error", stopErr)
	}
	if err != nil && !errorsIsCanceled(err) {
		return err
	}
	slog.Info("bo shut down cleanly")
	return nil
}

func errorsIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// noopLimiter stands in when Redis is not configured: every message is
// allowed and no family is ever in cooldown.
type noopLimiter struct{}

func (noopLimiter) Check(context.Context, uuid.UUID, uuid.UUID, int) (*ratelimit.Decision, error) {
	return &ratelimit.Decision{Allowed: true}, nil
}

func (noopLimiter) InCooldown(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}
