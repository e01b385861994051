package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pgwired",
		Short: "pgwired speaks the PostgreSQL frontend/backend wire protocol",
		Long: `pgwired is a standalone PostgreSQL wire-protocol emulator: it drives the
startup handshake, authentication, and simple/extended query cycles
against pluggable application handlers instead of a real storage engine.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

// version is set by the release build, mirroring the reference
// emulator's PG_VERSION string.
var version = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the pgwired version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
