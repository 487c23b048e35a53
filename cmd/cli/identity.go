// cmd/cli/identity.go - identity verification CLI
// -----------------------------------------------------------------------------
// Commands to inspect and verify identity documents through the daemon's
// identity verifier.
// -----------------------------------------------------------------------------

package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var identityShowCmd = &cobra.Command{
	Use:   "show [urn]",
	Short: "Show the verified identity document for a URN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "identity.show", map[string]any{"urn": args[0]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var identityVerifyCmd = &cobra.Command{
	Use:   "verify [urn] [tip]",
	Short: "Verify the identity document chain for a URN against a given tip",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "identity.verify", map[string]any{"urn": args[0], "tip": args[1]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect and verify identity documents",
}

func init() {
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityVerifyCmd)
}

// NewIdentityCommand returns the root Cobra command for "identity".
func NewIdentityCommand() *cobra.Command { return identityCmd }
