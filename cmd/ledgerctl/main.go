package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xela07ax/guildops-agent/internal/infra"
	"github.com/xela07ax/guildops-agent/internal/ledger"
	"github.com/xela07ax/guildops-agent/internal/repository/postgres"
	"github.com/xela07ax/guildops-agent/internal/repository/sqlite"
)

var backend string

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Confirmation ledger maintenance",
	Long:  color.CyanString("ledgerctl") + " inspects and purges the guildops confirmation ledger.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "ledger backend override: postgres or sqlite")
	rootCmd.AddCommand(listCmd, purgeCmd, userCmd)
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.Red("error: %v", err)
		stop()
		os.Exit(1)
	}
}

// openLedger открывает журнал по конфигу; закрывать через возвращенную функцию.
func openLedger(ctx context.Context) (*infra.Config, ledger.Store, func(), error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if backend != "" {
		cfg.Ledger.Backend = backend
	}
	switch cfg.Ledger.Backend {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return cfg, postgres.NewConfirmationRepo(db), db.Close, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return cfg, s, func() { _ = s.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("backend %q has no persistent ledger", cfg.Ledger.Backend)
}
