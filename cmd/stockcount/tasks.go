package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/stockcount/api"
	"github.com/warp/stockcount/count"
)

var cliActor = count.Actor{ID: "cli", Role: count.RoleAdmin}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh the stock snapshot once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(opts.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := count.NewEngine(store).Sync(cmd.Context(), cliActor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d positions at %s\n", res.Positions, res.SyncedAt.Format(time.RFC3339))
			return nil
		},
	}
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "seed [scenario]",
		Short: "Reset the store and load a demo scenario",
		Long: `Reset the store and load a demo scenario.

This deletes every session, movement and catalog row in the store.

Example:
  stockcount seed --list
  stockcount seed small-warehouse --store sqlite --db ./demo.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list || len(args) == 0 {
				all, err := api.LoadScenarios()
				if err != nil {
					return err
				}
				for _, sc := range all {
					fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", sc.ID, sc.Description)
				}
				return nil
			}

			sc, err := api.FindScenario(args[0])
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(opts.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := sc.Load(cmd.Context(), store, count.NewEngine(store))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %s: %d positions in snapshot\n", sc.ID, res.Positions)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list available scenarios")
	return cmd
}

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <actor-id> <role>",
		Short: "Print a signed bearer token for an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := count.ParseRole(args[1])
			if !ok {
				return fmt.Errorf("unknown role %q (want counter, approver or admin)", args[1])
			}
			tok, err := api.NewAuth(opts.cfg.JWTSecret).IssueToken(count.Actor{ID: args[0], Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
