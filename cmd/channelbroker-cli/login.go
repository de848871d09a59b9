package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "login",
		Aliases: []string{"auth"},
		Short:   "Obtain a token from the gateway",
		Long: `Log in with --client-id and print a JWT token for subsequent commands.
The client ID "admin" receives admin rights.`,
		RunE: c.runLogin,
	}
}

func (c *cli) runLogin(cmd *cobra.Command, args []string) error {
	if c.clientID == "" {
		return fmt.Errorf("--client-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp, err := c.client.Login(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logged in as %s (expires %s)\n", resp.ClientID, resp.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Token: %s\n", resp.Token)
	fmt.Fprintf(out, "\n  export CHANNELBROKER_TOKEN=%q\n", resp.Token)

	return nil
}
