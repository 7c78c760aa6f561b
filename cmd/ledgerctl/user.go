package main

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xela07ax/guildops-agent/internal/console/service"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/infra"
	"github.com/xela07ax/guildops-agent/internal/repository/postgres"
)

var (
	userName     string
	userPassword string
	userScopes   []string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage console operators",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a console operator",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(userScopes) == 0 {
			return errors.New("at least one --scope is required")
		}
		u, err := service.NewUser(userName, userPassword, userScopes)
		if err != nil {
			return err
		}

		cfg, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		if err := postgres.NewUserRepo(db).CreateUser(ctx, u); err != nil {
			return err
		}
		color.Green("operator %s created (%s)", u.Username, u.ID)
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userName, "username", "", "operator login")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "operator password")
	userAddCmd.Flags().StringSliceVar(&userScopes, "scope", nil,
		"granted scope, repeatable ("+domain.ScopeConsoleRead+", "+domain.ScopeGuildAdmin+", admin)")
	_ = userAddCmd.MarkFlagRequired("username")
	_ = userAddCmd.MarkFlagRequired("password")
	userCmd.AddCommand(userAddCmd)
}
