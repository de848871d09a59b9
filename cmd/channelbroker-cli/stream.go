package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/channelbroker/pkg/client"
	"github.com/rmacdonaldsmith/channelbroker/pkg/wire"
)

func newStreamCommand(c *cli) *cobra.Command {
	var (
		topic      string
		bufferSize int
		count      int
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow a topic as Server-Sent Events",
		Long: `Follow a topic using Server-Sent Events, reconnecting if the connection drops.
Press Ctrl+C to stop streaming.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStream(cmd, topic, bufferSize, count)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "topic to follow (required)")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "event buffer size")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events (0 = run until interrupted)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func (c *cli) runStream(cmd *cobra.Command, topic string, bufferSize, count int) error {
	if err := c.requireAuthentication(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := c.client.Stream(ctx, client.StreamConfig{
		Topic:      topic,
		BufferSize: bufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer stream.Close()

	out := cmd.OutOrStdout()
	errs := stream.Errors()
	received := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Stream stopped. Received %d events.\n", received)
			return nil

		case event, ok := <-stream.Events():
			if !ok {
				return nil
			}
			received++
			printEvent(out, event)
			if count > 0 && received >= count {
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "stream error: %v\n", err)
		}
	}
}

func printEvent(out io.Writer, event wire.StreamEvent) {
	data, err := event.Bytes()
	if err != nil {
		fmt.Fprintf(out, "%s %s [undecodable %s payload]\n", event.Timestamp.Format("15:04:05.000"), event.Topic, event.Kind)
		return
	}
	if event.Kind == "binary" {
		fmt.Fprintf(out, "%s %s [binary %d bytes] %x\n", event.Timestamp.Format("15:04:05.000"), event.Topic, len(data), data)
		return
	}
	fmt.Fprintf(out, "%s %s %s\n", event.Timestamp.Format("15:04:05.000"), event.Topic, data)
}
