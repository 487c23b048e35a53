package cli

import "github.com/spf13/cobra"

// RegisterRoutes attaches every command group defined in the cli package
// to the provided root command, so they can be invoked like
// `linkmesh tracking track ...` or `linkmesh identity verify ...` from the main
// binary.
func RegisterRoutes(root *cobra.Command) {
	root.AddCommand(
		NewReplicationCommand(),
		NewTrackingCommand(),
		NewIdentityCommand(),
	)
}
