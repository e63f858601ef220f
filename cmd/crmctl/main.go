// Command crmctl runs one-off administrative tasks against the CRM database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"confcrm/internal/config"
	"confcrm/internal/logging"
	"confcrm/internal/store/pg"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logFormat string
	root := &cobra.Command{
		Use:           "crmctl",
		Short:         "Administer the conference CRM",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init("crmctl", logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: json or text")

	root.AddCommand(
		newMigrateCmd(),
		newSchedulerCmd(),
		newOAuthCmd(),
		newTokenCmd(),
		newTemplatesCmd(),
		newContactsCmd(),
	)
	return root
}

// openStore connects using the DB_* environment.
func openStore(ctx context.Context) (*pg.Store, func(), error) {
	var cfg config.DBConfig
	if err := config.Load(&cfg); err != nil {
		return nil, nil, err
	}
	db, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return pg.New(db), db.Close, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			applied, err := pg.Migrate(cmd.Context(), st.DB)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
			}
			return nil
		},
	}
}
