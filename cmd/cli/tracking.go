// cmd/cli/tracking.go - tracking store CLI
// -----------------------------------------------------------------------------
// Commands to manage which peers this node replicates a URN from/to. All
// commands go through the same control socket as the "rep" route.
// -----------------------------------------------------------------------------

package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track [urn] [peer]",
	Short: "Start tracking a peer for a URN",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "track", map[string]any{"urn": args[0], "peer": args[1]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var untrackCmd = &cobra.Command{
	Use:   "untrack [urn] [peer]",
	Short: "Stop tracking a peer for a URN",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "untrack", map[string]any{"urn": args[0], "peer": args[1]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var listTrackedCmd = &cobra.Command{
	Use:   "list [urn]",
	Short: "List tracked peers for a URN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "tracking.list", map[string]any{"urn": args[0]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

func init() {
	trackingCmd.AddCommand(trackCmd)
	trackingCmd.AddCommand(untrackCmd)
	trackingCmd.AddCommand(listTrackedCmd)
}

var trackingCmd = &cobra.Command{
	Use:   "tracking",
	Short: "Manage tracked peers",
}

// NewTrackingCommand returns the root Cobra command for "tracking".
func NewTrackingCommand() *cobra.Command { return trackingCmd }
