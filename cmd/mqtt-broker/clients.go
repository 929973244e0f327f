package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/database"
)

var (
	clientUsername string
	clientPassword string
	clientDisabled bool
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage the client credentials stored in the database.",
}

var clientsAddCmd = &cobra.Command{
	Use:   "add <client-id>",
	Short: "Create or replace a client record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store database.ClientStore) error {
			record := &database.ClientRecord{
				ClientID:  args[0],
				Username:  clientUsername,
				Disabled:  clientDisabled,
				UpdatedAt: time.Now().UTC(),
			}
			if err := record.SetPassword(clientPassword); err != nil {
				return err
			}
			if err := store.SaveClient(ctx, record); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "client %s saved\n", record.ClientID)
			return nil
		})
	},
}

var clientsShowCmd = &cobra.Command{
	Use:   "show <client-id>",
	Short: "Print a client record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store database.ClientStore) error {
			record, err := store.FindClient(ctx, args[0])
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(record)
		})
	},
}

var clientsRemoveCmd = &cobra.Command{
	Use:   "remove <client-id>",
	Short: "Delete a client record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store database.ClientStore) error {
			if err := store.DeleteClient(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "client %s removed\n", args[0])
			return nil
		})
	},
}

func init() {
	clientsAddCmd.Flags().StringVar(&clientUsername, "username", "", "username the client must present")
	clientsAddCmd.Flags().StringVar(&clientPassword, "password", "", "password the client must present")
	clientsAddCmd.Flags().BoolVar(&clientDisabled, "disabled", false, "store the client as disabled")
	clientsCmd.AddCommand(clientsAddCmd, clientsShowCmd, clientsRemoveCmd)
	rootCmd.AddCommand(clientsCmd)
}

func withStore(ctx context.Context, fn func(ctx context.Context, store database.ClientStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	callback, err := database.ConnectDatabase(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := callback.Invoke(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "error occured while closing database: %v\n", err)
		}
	}()
	return fn(ctx, database.NewDatabaseStore(database.Clients, database.OperationTimeout))
}
