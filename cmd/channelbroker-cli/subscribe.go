package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSubscribeCommand(c *cli) *cobra.Command {
	var (
		topic string
		count int
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Join a topic over WebSocket and print what arrives",
		Long: `Join a topic over WebSocket and print every message sent to it.
Press Ctrl+C to stop, or pass --count to stop after that many messages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSubscribe(cmd, topic, count)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "topic to join (required)")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many messages (0 = run until interrupted)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func (c *cli) runSubscribe(cmd *cobra.Command, topic string, count int) error {
	if err := c.requireAuthentication(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, err := c.client.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	defer sub.Close()

	out := cmd.OutOrStdout()
	for received := 0; count == 0 || received < count; received++ {
		frame, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("subscription ended: %w", err)
		}

		if frame.Binary {
			fmt.Fprintf(out, "[binary %d bytes] %x\n", len(frame.Data), frame.Data)
		} else {
			fmt.Fprintln(out, string(frame.Data))
		}
	}
	return nil
}
