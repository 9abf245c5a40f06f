package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/emailpilot/accountfetch/internal/mcp"
)

func newServersCmd() *cobra.Command {
	var initTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List the configured servers and their process states",
		Args:  cobra.NoArgs,
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

			servers := client.Servers()
			names := make([]string, 0, len(servers))
			for name := range servers {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, servers[name])
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&initTimeout, "init-timeout", 60*time.Second, "timeout for starting and handshaking the server processes")
	return cmd
}
