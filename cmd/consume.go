package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/techday-registration/internal/queue"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Process registration confirmations from RabbitMQ",
	Long: `Consume registration.committed events and send the confirmation
follow-up. The worker reconnects when the broker goes away and stops on
SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.RabbitMQ.URL == "" {
			return errors.New("rabbitmq.url is not configured")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := queue.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, queue.LogConfirmation(logger), logger)
		logger.Info("consumer started", "queue", cfg.RabbitMQ.Queue)
		if err := c.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
		logger.Info("consumer stopped")
		return nil
	},
}
