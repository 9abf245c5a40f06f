package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emailpilot/accountfetch/internal/mcp"
)

func newToolsCmd() *cobra.Command {
	var initTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "tools <account>",
		Short: "List the tools exposed by an account's server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			resolver, closeSecrets, err := buildResolver(ctx)
			if err != nil {
				return err
			}
			defer closeSecrets()

			client := mcp.NewClient(resolver)
			initCtx, cancel := context.WithTimeout(ctx, initTimeout)
			defer cancel()
			if err := client.Initialize(initCtx); err != nil {
				return err
			}
			defer client.Cleanup(context.Background())

			proc, err := client.Resolve(args[0])
			if err != nil {
				return err
			}

			tools, err := proc.ListTools(ctx)
			if err != nil {
				return err
			}
			for _, tool := range tools {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", tool.Name, tool.Description)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&initTimeout, "init-timeout", 60*time.Second, "timeout for starting and handshaking the server processes")
	return cmd
}
