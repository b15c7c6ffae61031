package main

import (
	"fmt"
	"time"

	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/spf13/cobra"
)

var flagLinkTTL time.Duration

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Create or inspect meeting links",
}

var linkNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Print a fresh meeting link",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), domain.MeetingLinks{TTL: flagLinkTTL}.Generate())
	},
}

var linkCheckCmd = &cobra.Command{
	Use:     "check <room-id>",
	Short:   "Show when a meeting link was created and whether it expired",
	Example: `  meetsfu link check 3f9a0c1d2e4b5a6c-1760659200000`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkLink(cmd, domain.MeetingLinks{TTL: flagLinkTTL}, domain.RoomID(args[0]))
	},
}

func init() {
	linkCmd.PersistentFlags().DurationVar(&flagLinkTTL, "ttl", domain.LinkTTL, "link lifetime")
	linkCmd.AddCommand(linkNewCmd, linkCheckCmd)
}

func checkLink(cmd *cobra.Command, links domain.MeetingLinks, id domain.RoomID) error {
	created, ok := links.CreatedAt(id)
	if !ok {
		return fmt.Errorf("%q is not a meeting link", id)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "created: %s\n", created.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "age:     %s\n", links.Age(id).Truncate(time.Second))
	if links.IsExpired(id) {
		fmt.Fprintln(out, "status:  expired")
	} else {
		fmt.Fprintln(out, "status:  valid")
	}
	return nil
}
