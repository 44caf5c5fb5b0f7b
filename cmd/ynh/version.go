package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/YunoHost/cli/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Show the client version (and the server's, when reachable)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("ynh %s\n", version.FormatVersion(version.String()))

			// Server side is best effort: no configured profile or an
			// unreachable host is not an error for this command.
			sess, serverName, err := openSession(cmd)
			if err != nil {
				return nil
			}
			ctx := context.Background()
			if err := sess.Login(ctx, false); err != nil {
				return nil
			}
			resp, err := sess.Request(ctx, http.MethodGet, "/versions", nil)
			if err != nil || !resp.OK() {
				return nil
			}
			fmt.Printf("server '%s':\n", serverName)
			return newFormatter(cmd).PrintBody(resp.Body)
		},
	}
}
