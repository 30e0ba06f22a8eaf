package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bofamily/bo/internal/config"
	"github.com/bofamily/bo/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("bo doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, env-only)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.DSN == "" {
		fmt.Printf("    %-12s DATABASE_URL not set\n", "Status:")
	} else if db, dbErr := sql.Open("pgx", cfg.Database.DSN); dbErr != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", dbErr)
	} else if pingErr := db.Ping(); pingErr != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", pingErr)
		db.Close()
	} else {
		defer db.Close()
		fmt.Printf("    %-12s connected\n", "Status:")
		s, schemaErr := upgrade.CheckSchema(db)
		switch {
		case schemaErr != nil:
			fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", schemaErr)
		case s.Dirty:
			fmt.Printf("    %-12s v%d (DIRTY, run: bo migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
		case s.Compatible:
			fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
		default:
			fmt.Printf("    %-12s v%d (run: bo migrate up)\n", "Schema:", s.CurrentVersion)
		}
	}

	fmt.Println()
	fmt.Println("  Redis:")
	if cfg.Redis.URL == "" {
		fmt.Printf("    %-12s REDIS_URL not set (rate limiting disabled)\n", "Status:")
	} else if opt, optErr := redis.ParseURL(cfg.Redis.URL); optErr != nil {
		fmt.Printf("    %-12s BAD URL (%s)\n", "Status:", optErr)
	} else {
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		if pingErr := rdb.Ping(context.Background()).Err(); pingErr != nil {
			fmt.Printf("    %-12s PING FAILED (%s)\n", "Status:", pingErr)
		} else {
			fmt.Printf("    %-12s connected\n", "Status:")
		}
	}

	fmt.Println()
	fmt.Println("  Transports:")
	if cfg.Telegram.Token != "" {
		fmt.Printf("    %-12s configured\n", "Telegram:")
	} else {
		fmt.Printf("    %-12s BO_TELEGRAM_BOT_TOKEN not set\n", "Telegram:")
	}
	if cfg.SelfChat.SocketPath != "" {
		fmt.Printf("    %-12s %s\n", "Self-chat:", cfg.SelfChat.SocketPath)
	} else {
		fmt.Printf("    %-12s BO_SELFCHAT_SOCKET not set\n", "Self-chat:")
	}

	fmt.Println()
	fmt.Println("  LLM:")
	if cfg.LLM.MockPath != "" {
		fmt.Printf("    %-12s MOCK MODE (%s)\n", "Status:", cfg.LLM.MockPath)
	} else if cfg.LLM.APIKey == "" {
		fmt.Printf("    %-12s AI_GATEWAY_API_KEY not set\n", "Status:")
	} else {
		fmt.Printf("    %-12s %s\n", "Base:", cfg.LLM.APIBase)
		fmt.Printf("    %-12s %s / %s / %s\n", "Models:", cfg.LLM.SimpleModel, cfg.LLM.Model, cfg.LLM.ComplexModel)
	}
}
