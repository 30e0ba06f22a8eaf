package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Bo service.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	LLM       LLMConfig       `json:"llm"`
	Telegram  TelegramConfig  `json:"telegram"`
	SelfChat  SelfChatConfig  `json:"selfchat"`
	Router    RouterConfig    `json:"router"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logs      LogsConfig      `json:"logs"`
}

// DatabaseConfig configures the Postgres persistence layer.
// DSN is never read from the config file — env DATABASE_URL only.
type DatabaseConfig struct {
	DSN          string `json:"-"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"` // default 20
	MaxIdleConns int    `json:"max_idle_conns,omitempty"` // default 5
}

// RedisConfig configures the rate-limit key-value store.
type RedisConfig struct {
	URL string `json:"-"` // env REDIS_URL only
}

// LLMConfig configures the model gateway.
type LLMConfig struct {
	APIKey       string `json:"-"` // env AI_GATEWAY_API_KEY only
	APIBase      string `json:"api_base,omitempty"`
	Model        string `json:"model,omitempty"`         // standard tier
	SimpleModel  string `json:"simple_model,omitempty"`  // trivial extraction
	ComplexModel string `json:"complex_model,omitempty"` // personality/safety/crisis
	MockPath     string `json:"mock_path,omitempty"`     // deterministic test mode
	TimeoutSecs  int    `json:"timeout_secs,omitempty"`  // per-call bound, default 60
}

// TelegramConfig configures the Telegram bot adapter.
type TelegramConfig struct {
	Token            string `json:"-"` // env BO_TELEGRAM_BOT_TOKEN only
	ReplyRateLimitMS int    `json:"reply_rate_limit_ms,omitempty"` // min inter-reply spacing, default 3000
	UnknownSenderRPM int    `json:"unknown_sender_rpm,omitempty"`  // default 20
}

// SelfChatConfig configures the self-chat observer adapter.
type SelfChatConfig struct {
	// AgentNumbers are canonical phones allowed to trigger the agent
	// outside their own self-chat (env BO_AGENT_NUMBERS, comma-separated).
	AgentNumbers []string `json:"agent_numbers,omitempty"`
	// SocketPath is where the external observer bridge connects
	// (env BO_SELFCHAT_SOCKET). Empty disables the self-chat channel.
	SocketPath string `json:"socket_path,omitempty"`
}

// RouterConfig configures the message pipeline.
type RouterConfig struct {
	ConversationMessages int    `json:"conversation_messages,omitempty"` // 2-100, default 20
	DefaultTimezone      string `json:"default_tz,omitempty"`            // default America/New_York
	DefaultZip           string `json:"default_zip,omitempty"`           // default weather location
	SkillTimeoutSecs     int    `json:"skill_timeout_secs,omitempty"`    // subprocess bound, default 30
}

// SchedulerConfig configures the reminder sweep.
type SchedulerConfig struct {
	TickSecs int `json:"tick_secs,omitempty"` // default 30
}

// LogsConfig names the human-readable audit files.
type LogsConfig struct {
	RequestLog string `json:"request_log,omitempty"` // env BO_REQUEST_LOG
	RouterLog  string `json:"router_log,omitempty"`  // env BO_ROUTER_LOG
}

// LLMTimeout returns the per-call LLM timeout.
func (c *Config) LLMTimeout() time.Duration {
	secs := c.LLM.TimeoutSecs
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// SkillTimeout returns the per-invocation skill subprocess timeout.
func (c *Config) SkillTimeout() time.Duration {
	secs := c.Router.SkillTimeoutSecs
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// SchedulerTick returns the sweep interval.
func (c *Config) SchedulerTick() time.Duration {
	secs := c.Scheduler.TickSecs
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// Validate checks the parts of the config that serve cannot run without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if c.LLM.APIKey == "" && c.LLM.MockPath == "" {
		return fmt.Errorf("AI_GATEWAY_API_KEY is not set (and no BO_LLM_MOCK_PATH for mock mode)")
	}
	if n := c.Router.ConversationMessages; n < 2 || n > 100 {
		return fmt.Errorf("conversation_messages must be in [2,100], got %d", n)
	}
	if _, err := time.LoadLocation(c.Router.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid default timezone %q: %w", c.Router.DefaultTimezone, err)
	}
	return nil
}
