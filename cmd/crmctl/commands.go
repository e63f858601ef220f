package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"confcrm/internal/auth"
	"confcrm/internal/config"
	"confcrm/internal/contacts"
	"confcrm/internal/domain"
	"confcrm/internal/providers"
	"confcrm/internal/scheduler"
	"confcrm/internal/service"
)

func newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Drive the delivery scheduler by hand",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run-once",
		Short: "Run a single delivery pass and print its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.SchedulerConfig
			if err := config.Load(&cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			rdb := contacts.NewRedisClient(cfg.RedisConfig)
			if rdb != nil {
				defer rdb.Close()
			}
			lookup := contacts.Lookup(st, rdb, cfg.ContactCacheTTL)
			workerID := cfg.WorkerID
			if workerID == "" {
				workerID = "crmctl"
			}
			sched := &scheduler.Scheduler{
				Store:    st,
				Contacts: lookup,
				Sender: providers.NewRegistry(providers.Options{
					SMTP:            cfg.SMTPConfig,
					LinkedIn:        cfg.LinkedInConfig,
					BreakerFailures: cfg.BreakerFailures,
					BreakerOpenFor:  cfg.BreakerOpenFor,
				}, providers.NewLinkedInOAuth(cfg.LinkedInConfig, st)),
				Completer: &service.CampaignService{Store: st, Templates: st, Contacts: lookup},
				Config: scheduler.Config{
					WorkerID:    workerID,
					BatchSize:   cfg.BatchSize,
					Concurrency: cfg.Concurrency,
					LeaseTTL:    cfg.LeaseTTL,
					SendTimeout: cfg.SendTimeout,
					MaxAttempts: cfg.MaxAttempts,
				},
			}
			res, err := sched.RunPass(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	})
	return cmd
}

func newOAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Maintain OAuth handshake state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired OAuth state tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			n, err := st.DeleteExpiredOAuthStates(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired states\n", n)
			return nil
		},
	})
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API bearer tokens",
	}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.AuthConfig
			if err := config.Load(&cfg); err != nil {
				return err
			}
			tokens := &auth.Tokens{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer}
			tok, err := tokens.Issue(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVar(&user, "user", "", "user id the token is scoped to")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("user")
	cmd.AddCommand(issue)
	return cmd
}

func newTemplatesCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage message templates",
	}
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create the starter templates an owner does not have yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			seeded, err := (&service.TemplateService{Store: st}).SeedDefaults(cmd.Context(), owner)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d templates for %s\n", len(seeded), owner)
			return nil
		},
	}
	seed.Flags().StringVar(&owner, "owner", "system", "owner of the seeded templates")
	cmd.AddCommand(seed)
	return cmd
}

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage contact records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Upsert contacts from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := readContacts(args[0])
			if err != nil {
				return err
			}
			var rcfg config.RedisConfig
			if err := config.Load(&rcfg); err != nil {
				return err
			}
			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			rdb := contacts.NewRedisClient(rcfg)
			if rdb != nil {
				defer rdb.Close()
			}
			for _, c := range list {
				if err := st.UpsertContact(cmd.Context(), c); err != nil {
					return fmt.Errorf("contact %s: %w", c.ID, err)
				}
				if rdb != nil {
					if err := contacts.NewCached(st, rdb, rcfg.ContactCacheTTL).Invalidate(cmd.Context(), c.ID); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "cache invalidate %s: %v\n", c.ID, err)
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d contacts\n", len(list))
			return nil
		},
	})
	return cmd
}

func readContacts(path string) ([]domain.Contact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []domain.Contact
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, c := range list {
		if c.ID == "" {
			return nil, fmt.Errorf("contact %d has no id", i)
		}
	}
	return list, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
