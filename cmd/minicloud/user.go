package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/minicloud/minicloud/pkg/config"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/types"

	"github.com/google/uuid"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create an account and print its bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		user := &types.User{
			Username: args[0],
			Token:    uuid.NewString(),
		}
		if err := store.CreateUser(user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		fmt.Printf("User %q created (id %d)\n", user.Username, user.ID)
		fmt.Printf("Token: %s\n", user.Token)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := store.ListUsers()
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.Username, u.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func openStore(cmd *cobra.Command) (storage.Store, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return storage.NewBoltStore(cfg.DataDir)
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)

	userCmd.PersistentFlags().String("config", "", "Path to YAML config file")
}
