package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fineauth/fineauth/internal/version"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fineauth",
		Short:        "EVE Online SSO account federation server",
		Version:      version.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.SetVersionTemplate(`{{printf "fineauth %s\n" .Version}}`)
	root.AddCommand(newServeCmd(), newAdminCmd())
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
