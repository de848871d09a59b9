package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  c.runHealth,
	}
}

func (c *cli) runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	if health.Healthy {
		fmt.Fprintf(out, "Server is healthy\n")
	} else {
		fmt.Fprintf(out, "Server is not healthy\n")
	}
	fmt.Fprintf(out, "Broker alive: %t\n", health.BrokerAlive)
	fmt.Fprintf(out, "Connections: %d\n", health.Connections)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	return nil
}
