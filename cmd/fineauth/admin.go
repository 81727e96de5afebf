package main

import (
	"fmt"

	"github.com/fineauth/fineauth/internal/config"
	"github.com/fineauth/fineauth/internal/permissions"
	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}
	admin.AddCommand(
		newSetAdminCmd("grant", "Grant admin to an account name", true),
		newSetAdminCmd("revoke", "Revoke admin from an account name", false),
		&cobra.Command{
			Use:   "list",
			Short: "List permissions and their holders",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				perms, err := loadPermissions()
				if err != nil {
					return err
				}
				for _, p := range perms.List() {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			},
		},
	)
	return admin
}

func newSetAdminCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <account name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perms, err := loadPermissions()
			if err != nil {
				return err
			}
			if err := perms.SetAccountPermission(permissions.Admin, args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: admin=%v\n", args[0], enabled)
			return nil
		},
	}
}

func loadPermissions() (*permissions.Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openPermissions(cfg)
}
