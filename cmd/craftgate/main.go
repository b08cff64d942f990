package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "craftgate",
		Short: "Hostname-routing proxy for Minecraft Java connections",
		Long: `craftgate reads the first bytes of each connection, decodes the
Minecraft handshake (or a TLS ClientHello / HTTP request), and routes the
connection to an upstream by the host name the client asked for.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		serveCmd(),
		inspectCmd(),
		versionCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "craftgate: %v\n", err)
		os.Exit(1)
	}
}
