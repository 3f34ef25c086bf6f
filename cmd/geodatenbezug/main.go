package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"geodatenbezug/internal/app"
	"geodatenbezug/internal/config"
	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "geodatenbezug",
		Short:         "Exports changed datasets from geodienste.ch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newServeCommand(), newTopicsCommand())
	return root
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process all due topics once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(application *app.Application) error {
				run, err := application.Run(cmd.Context())
				if err != nil {
					return err
				}
				if run.Failed() > 0 {
					return fmt.Errorf("%d von %d Themen fehlgeschlagen", run.Failed(), len(run.Outcomes))
				}
				return nil
			})
		},
	}
}

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cron trigger and the ops HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withConfig(cmd.Context(), func(cfg *config.Config) {
				if addr != "" {
					cfg.Ops.Addr = addr
				}
			}, func(application *app.Application) error {
				return application.Serve(cmd.Context())
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "ops listen address (overrides ops.addr)")
	return cmd
}

func newTopicsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List the topic catalog as reported by geodienste.ch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(application *app.Application) error {
				statuses, due, err := application.Topics(cmd.Context())
				if err != nil {
					return err
				}
				return printTopics(cmd, statuses, due)
			})
		},
	}
}

func printTopics(cmd *cobra.Command, statuses, due []domain.TopicStatus) error {
	isDue := make(map[string]bool, len(due))
	for _, topic := range due {
		isDue[topic.Key()] = true
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "THEMA\tKANTON\tAKTUALISIERT\tFÄLLIG")
	for _, topic := range statuses {
		updated := "-"
		if topic.UpdatedAt != nil {
			updated = *topic.UpdatedAt
		}
		marker := ""
		if isDue[topic.Key()] {
			marker = "ja"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", topic.TopicVersionID, topic.Canton, updated, marker)
	}
	return w.Flush()
}

func withApplication(ctx context.Context, fn func(*app.Application) error) error {
	return withConfig(ctx, nil, fn)
}

func withConfig(ctx context.Context, adjust func(*config.Config), fn func(*app.Application) error) error {
	cfg := config.Load()
	if adjust != nil {
		adjust(&cfg)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	if err := fn(application); err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}
