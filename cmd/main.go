package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/layered-backend/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	cmd := &cobra.Command{
		Use:          "layered",
		Short:        "image layer decomposition backend",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// .env is optional; real deployments set the environment directly.
			_ = godotenv.Load(".env", ".env.local")
		},
		RunE: serve.RunE,
	}
	cmd.AddCommand(serve, newStaleCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and the job runner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Start(ctx); err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newStaleCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "list projects stuck in processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ops, err := app.NewOps()
			if err != nil {
				return err
			}
			defer ops.Log.Sync()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			stale, err := ops.Projects.ListStale(ctx, olderThan, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECT\tCREATED\tAGE")
			for _, p := range stale {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.CreatedAt.UTC().Format(time.RFC3339), time.Since(p.CreatedAt).Round(time.Second))
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "report projects processing for longer than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to print")
	return cmd
}
