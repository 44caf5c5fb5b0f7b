package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YunoHost/cli/internal/session"
)

func newSSECommand() *cobra.Command {
	sseCmd := &cobra.Command{
		Use:           "sse",
		Short:         "Follow the server's live event stream (Ctrl-C to stop)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          followEvents,
	}
	sseCmd.Flags().Bool("history", false, "Also replay the server's recent event history")
	return sseCmd
}

func followEvents(cmd *cobra.Command, args []string) error {
	out := newFormatter(cmd)
	history, _ := cmd.Flags().GetBool("history")

	sess, _, err := openSession(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Login(ctx, false); err != nil {
		return err
	}

	return sess.StreamEvents(ctx, session.StreamOptions{History: history}, out.PrintNotice)
}
