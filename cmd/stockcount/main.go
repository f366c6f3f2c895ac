/*
main.go - Application entry point

PURPOSE:
  The stockcount CLI. Starts the API server and runs maintenance tasks
  against the configured store.

COMMANDS:
  serve              Start the HTTP API (graceful shutdown on SIGINT/SIGTERM)
  sync               Refresh the stock snapshot once and exit
  seed <scenario>    Reset the store and load a demo scenario
  token <id> <role>  Print a signed bearer token (needs JWT_SECRET)

CONFIGURATION:
  Environment and .env (see config/config.go). Global flags override:
    --port   HTTP port
    --store  sqlite | postgres | memory
    --db     SQLite path or PostgreSQL DSN, depending on --store

EXAMPLES:
  stockcount serve --store sqlite --db ./data/stock.db
  stockcount seed small-warehouse
  stockcount token ann approver
*/
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/stockcount/api"
	"github.com/warp/stockcount/config"
	"github.com/warp/stockcount/store/memory"
	"github.com/warp/stockcount/store/postgres"
	"github.com/warp/stockcount/store/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Port  int
	Store string
	DB    string

	cfg config.Config
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "stockcount",
		Short:         "Inventory count sessions and stock reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().IntVar(&opts.Port, "port", 0, "HTTP port (overrides HTTP_PORT)")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "store driver: sqlite|postgres|memory (overrides STORE_DRIVER)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite path or PostgreSQL DSN")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = o.Port
	}
	if cmd.Flags().Changed("store") {
		cfg.StoreDriver = o.Store
	}
	if cmd.Flags().Changed("db") {
		if cfg.StoreDriver == config.DriverPostgres {
			cfg.DatabaseDSN = o.DB
		} else {
			cfg.SQLitePath = o.DB
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// openStore opens the configured backend. close releases it.
func openStore(cfg config.Config) (store api.Store, close func(), err error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Println("[Store] Using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	case config.DriverPostgres:
		s, err := postgres.New(cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return s, func() { _ = s.Close() }, nil
	}
}
