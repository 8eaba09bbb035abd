package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rezkam/docrepo/internal/application/documents"
	"github.com/rezkam/docrepo/internal/config"
	"github.com/rezkam/docrepo/internal/connection"
	"github.com/rezkam/docrepo/internal/docstore"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options are the values shared by every subcommand.
type options struct {
	endpoint string
	database string
	catalog  string
}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:           "docctl",
		Short:         "Operate a docrepo document store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", "", "store endpoint (env DOCREPO_STORE_ENDPOINT)")
	root.PersistentFlags().StringVar(&opts.database, "database", "", "database id (env DOCREPO_STORE_DATABASE)")
	root.PersistentFlags().StringVar(&opts.catalog, "containers", "", "container catalog file (env DOCREPO_CONTAINERS_FILE)")

	root.AddCommand(
		&cobra.Command{
			Use:   "ping",
			Short: "Connect to the store and verify it answers",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, opts, false, func(ctx context.Context, m *connection.Manager, _ *config.Catalog) error {
					if _, err := m.Database(ctx); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "ok database=%s\n", m.DatabaseID())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the embedded schema to a SQL store",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, opts, true, func(ctx context.Context, m *connection.Manager, _ *config.Catalog) error {
					if _, err := m.Get(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Create every container declared in the catalog",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, opts, true, func(ctx context.Context, m *connection.Manager, cat *config.Catalog) error {
					if len(cat.Containers) == 0 {
						return fmt.Errorf("no containers declared; set --containers or DOCREPO_CONTAINERS_FILE")
					}
					if err := documents.NewService(m, documents.WithCatalog(cat.Containers)).Sync(ctx); err != nil {
						return err
					}
					for _, spec := range cat.Containers {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\tpartitionKey=%s\n", spec.ID, spec.PartitionKeyPath)
					}
					return nil
				})
			},
		},
	)
	return root
}

// withManager loads configuration, applies flag overrides and runs fn with a
// connected Manager that is closed afterwards.
func withManager(cmd *cobra.Command, opts options, migrate bool, fn func(context.Context, *connection.Manager, *config.Catalog) error) error {
	if opts.endpoint != "" {
		os.Setenv("DOCREPO_STORE_ENDPOINT", opts.endpoint)
	}
	if opts.catalog != "" {
		os.Setenv("DOCREPO_CONTAINERS_FILE", opts.catalog)
	}

	cfg, err := config.LoadCLIConfig()
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog.Load()
	if err != nil {
		return err
	}

	database := cat.DatabaseOr(cfg.Store.Database)
	if opts.database != "" {
		database = opts.database
	}

	m := connection.NewManager(connection.Config{
		Endpoint: cfg.Store.Endpoint,
		Key:      cfg.Store.Key,
		Database: database,
		Retry: docstore.RetryPolicy{
			RequestTimeout: cfg.Store.RequestTimeout,
			MaxRetries:     cfg.Store.MaxRetries,
			RetryInterval:  cfg.Store.RetryInterval,
			MaxWait:        cfg.Store.MaxWait,
		},
		Verify:      true,
		AutoMigrate: migrate,
	})
	defer m.Close()

	return fn(cmd.Context(), m, cat)
}
