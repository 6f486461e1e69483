package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aretw0/dwsm/internal/app"
	"github.com/aretw0/dwsm/pkg/ports"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage sessions in the remote store",
	Long: `List, inspect, and remove sessions directly in the configured remote store.
Removal here bypasses the coordinators, so no destroyed events are fired.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store ports.RemoteStore) error {
			return listSessions(ctx, cmd.OutOrStdout(), store)
		})
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print the stored metadata of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store ports.RemoteStore) error {
			return inspectSession(ctx, cmd.OutOrStdout(), store, args[0])
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm [session-id]...",
	Short: "Remove one or more sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return errors.New("requires at least one session id, or --all")
		}
		return withStore(cmd, func(ctx context.Context, store ports.RemoteStore) error {
			return removeSessions(ctx, cmd.OutOrStdout(), store, args, all)
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
	sessionRmCmd.Flags().Bool("all", false, "Remove every stored session")
}

// withStore opens and starts the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store ports.RemoteStore) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	raw, cleanup, err := app.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := app.WrapStore(raw, cfg, nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("failed to start store: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Stop(stopCtx)
	}()

	return fn(ctx, store)
}

func listSessions(ctx context.Context, out io.Writer, store ports.RemoteStore) error {
	lister, ok := store.(ports.SessionLister)
	if !ok {
		return errors.New("store does not support listing sessions")
	}
	ids, err := lister.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}

	if len(ids) == 0 {
		fmt.Fprintln(out, "No active sessions found.")
		return nil
	}

	sort.Strings(ids)
	fmt.Fprintln(out, "Active Sessions:")
	for _, id := range ids {
		fmt.Fprintln(out, "- "+id)
	}
	return nil
}

func inspectSession(ctx context.Context, out io.Writer, store ports.RemoteStore, id string) error {
	meta, err := store.GetSessionMetaData(ctx, id)
	if err != nil {
		return fmt.Errorf("error loading session '%s': %w", id, err)
	}
	if meta == nil {
		return fmt.Errorf("session '%s' not found", id)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func removeSessions(ctx context.Context, out io.Writer, store ports.RemoteStore, ids []string, all bool) error {
	if all {
		lister, ok := store.(ports.SessionLister)
		if !ok {
			return errors.New("store does not support listing sessions")
		}
		listed, err := lister.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}
		ids = listed
	}

	var errs []error
	for _, id := range ids {
		if err := store.RemoveSession(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("error removing '%s': %w", id, err))
			continue
		}
		fmt.Fprintf(out, "Removed session '%s'\n", id)
	}
	return errors.Join(errs...)
}
