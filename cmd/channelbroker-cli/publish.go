package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newPublishCommand(c *cli) *cobra.Command {
	var (
		topic       string
		data        string
		file        string
		contentType string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to a topic",
		Long: `Publish a message to a topic. The body is taken from --data, from --file, or
from standard input when --file is "-". Large bodies are streamed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPublish(cmd, topic, data, file, contentType)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "topic to publish to (required)")
	cmd.Flags().StringVar(&data, "data", "", "message body")
	cmd.Flags().StringVar(&file, "file", "", `read the body from a file ("-" for stdin)`)
	cmd.Flags().StringVar(&contentType, "content-type", "text/plain; charset=utf-8", "content type; non-text types are delivered as binary")
	cmd.MarkFlagsMutuallyExclusive("data", "file")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func (c *cli) runPublish(cmd *cobra.Command, topic, data, file, contentType string) error {
	if err := c.requireAuthentication(); err != nil {
		return err
	}

	var body io.Reader = strings.NewReader(data)
	switch file {
	case "":
	case "-":
		body = cmd.InOrStdin()
	default:
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", file, err)
		}
		defer f.Close()
		body = f
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp, err := c.client.Publish(ctx, topic, body, contentType)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published %d bytes (%s) to %s\n", resp.Bytes, resp.Kind, resp.Topic)
	return nil
}
