package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAdminCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires admin privileges)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "subscriptions",
		Short: "List every subscription entry in the broker",
		RunE:  c.runAdminSubscriptions,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show broker counters",
		RunE:  c.runAdminStats,
	})

	return cmd
}

func (c *cli) runAdminSubscriptions(cmd *cobra.Command, args []string) error {
	if err := c.requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp, err := c.client.AdminSubscriptions(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Subscriptions) == 0 {
		fmt.Fprintln(out, "No subscriptions")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAILBOX\tPROTOCOL\tTOPICS")
	for _, sub := range resp.Subscriptions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", sub.MailboxID, sub.Protocol, strings.Join(sub.Topics, ","))
	}
	return w.Flush()
}

func (c *cli) runAdminStats(cmd *cobra.Command, args []string) error {
	if err := c.requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.client.AdminStats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Subscribers:\t%d\n", stats.Subscribers)
	fmt.Fprintf(w, "Connections:\t%d\n", stats.Connections)
	fmt.Fprintf(w, "Commands:\t%d\n", stats.Commands)
	fmt.Fprintf(w, "Forwards:\t%d\n", stats.Forwards)
	fmt.Fprintf(w, "Deliveries:\t%d\n", stats.Deliveries)
	fmt.Fprintf(w, "Dropped (full):\t%d\n", stats.DroppedFull)
	fmt.Fprintf(w, "Dropped (closed):\t%d\n", stats.DroppedClosed)
	fmt.Fprintf(w, "Relay failures:\t%d\n", stats.RelayFailures)
	fmt.Fprintf(w, "Purged:\t%d\n", stats.Purged)
	return w.Flush()
}
