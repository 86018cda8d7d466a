package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"valinemail/internal/config"
	"valinemail/internal/logger"
	"valinemail/internal/services"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()

	root := &cobra.Command{
		Use:           "server",
		Short:         "Valine comment mail notifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		// 不带子命令时直接启动服务
		RunE: serve.RunE,
	}
	root.AddCommand(serve, newResendCommand(), newVerifyCommand())
	return root
}

func newResendCommand() *cobra.Command {
	var drain bool

	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Re-send notifications for comments of the last day that never finished",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if drain {
				sweeps := services.NewDrainer(a.sweeper.SweepUnnotified, a.cfg.Sweep.Interval, 0, a.log.Sugar()).Drain(ctx, 0)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d sweeps\n", sweeps)
				return nil
			}

			n, err := a.sweeper.SweepUnnotified(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "keep sweeping every SWEEP_INTERVAL until nothing is left")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the SMTP transport configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log := logger.New(cfg.LogLevel, cfg.LogDev)
			defer func() { _ = log.Sync() }()
			for _, w := range cfg.Warnings {
				log.Sugar().Warnw("Config", "detail", w)
			}

			if err := services.NewMailService(cfg.SMTP, log.Sugar()).Verify(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "true")
			return nil
		},
	}
}
