package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bofamily/bo/internal/bootstrap"
	"github.com/bofamily/bo/internal/config"
	"github.com/bofamily/bo/internal/store/pg"
)

func seedCmd() *cobra.Command {
	var opts bootstrap.Options

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed default skills and an initial family",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("DATABASE_URL environment variable is not set")
			}
			db, err := pg.OpenDB(cfg.Database.DSN, pg.PoolConfig{
				MaxOpenConns: cfg.Database.MaxOpenConns,
				MaxIdleConns: cfg.Database.MaxIdleConns,
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			return bootstrap.Seed(cmd.Context(), pg.NewStores(db), opts)
		},
	}

	cmd.Flags().StringVar(&opts.FamilyName, "family", "", "name of the initial family")
	cmd.Flags().StringVar(&opts.OwnerFirst, "owner-first", "", "owner first name")
	cmd.Flags().StringVar(&opts.OwnerLast, "owner-last", "", "owner last name")
	cmd.Flags().StringVar(&opts.OwnerPhone, "owner-phone", "", "owner phone number")
	return cmd
}
