package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bournemouth-hq/relay/pkg/config"
	"bournemouth-hq/relay/pkg/store"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create or update a user account",
	Long: `Create a user account, or reset its password if it already exists.

The password is read from stdin so it never appears in shell history:

  relay user add alice < password.txt
  echo -n "secret" | relay user add alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		password, err := reader.ReadString('\n')
		if err != nil && password == "" {
			return fmt.Errorf("failed to read password from stdin: %w", err)
		}
		password = strings.TrimRight(password, "\r\n")
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		st, err := store.Open(store.Config{Path: cfg.Store.Path})
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		if err := st.CreateUser(context.Background(), args[0], password); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "user %q saved\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
}
