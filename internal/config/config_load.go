package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		LLM: LLMConfig{
			APIBase:      "https://ai-gateway.vercel.sh/v1",
			Model:        "openai/gpt-4o",
			SimpleModel:  "openai/gpt-4o-mini",
			ComplexModel: "anthropic/claude-sonnet-4",
			TimeoutSecs:  60,
		},
		Telegram: TelegramConfig{
			ReplyRateLimitMS: 3000,
			UnknownSenderRPM: 20,
		},
		Router: RouterConfig{
			ConversationMessages: 20,
			DefaultTimezone:      "America/New_York",
			SkillTimeoutSecs:     30,
		},
		Scheduler: SchedulerConfig{
			TickSecs: 30,
		},
	}
}

// Load reads config from an optional JSON5 file, then overlays env vars.
// A missing file is not an error; env-only deployments are the common case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("DATABASE_URL", &c.Database.DSN)
	envStr("REDIS_URL", &c.Redis.URL)
	envStr("BO_TELEGRAM_BOT_TOKEN", &c.Telegram.Token)

	envStr("AI_GATEWAY_API_KEY", &c.LLM.APIKey)
	envStr("AI_GATEWAY_BASE_URL", &c.LLM.APIBase)
	envStr("BO_LLM_MODEL", &c.LLM.Model)
	envStr("BO_SIMPLE_MODEL", &c.LLM.SimpleModel)
	envStr("BO_COMPLEX_MODEL", &c.LLM.ComplexModel)
	envStr("BO_LLM_MOCK_PATH", &c.LLM.MockPath)

	envInt("BO_CONVERSATION_MESSAGES", &c.Router.ConversationMessages)
	envStr("BO_DEFAULT_TZ", &c.Router.DefaultTimezone)
	envStr("BO_DEFAULT_ZIP", &c.Router.DefaultZip)

	envStr("BO_SELFCHAT_SOCKET", &c.SelfChat.SocketPath)

	envStr("BO_REQUEST_LOG", &c.Logs.RequestLog)
	envStr("BO_ROUTER_LOG", &c.Logs.RouterLog)

	if v := os.Getenv("BO_AGENT_NUMBERS"); v != "" {
		var numbers []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				numbers = append(numbers, p)
			}
		}
		c.SelfChat.AgentNumbers = numbers
	}
}
