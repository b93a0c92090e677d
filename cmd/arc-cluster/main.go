package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Handle store backends register themselves with the physical registry.
	_ "github.com/gezibash/arc-cluster/internal/handlestore/physical/badger"
	_ "github.com/gezibash/arc-cluster/internal/handlestore/physical/memory"
	_ "github.com/gezibash/arc-cluster/internal/handlestore/physical/redis"
	_ "github.com/gezibash/arc-cluster/internal/handlestore/physical/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arc-cluster",
		Short: "Arc cluster - capability discovery across a node group",
		Long: `Arc cluster node and client commands.

Server:
  arc-cluster start      Join the group and answer discovery requests

Client:
  arc-cluster lookup     Discover remote implementations of a capability
  arc-cluster members    Show the group view
  arc-cluster backends   List handle store backends`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json)")

	rootCmd.AddCommand(
		newStartCmd(),
		newLookupCmd(),
		newMembersCmd(),
		newBackendsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
