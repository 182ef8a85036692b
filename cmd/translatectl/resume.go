package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"translator-backend/internal/bootstrap"
	"translator-backend/internal/shared/config"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Re-arm polling for interrupted jobs and keep running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.Build(ctx, config.Load(), bootstrap.RoleLocal)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Orchestrator.Resume(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resumed %d job(s); press Ctrl+C to stop\n", n)
			<-ctx.Done()
			return nil
		},
	}
}
