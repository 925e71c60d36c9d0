//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "replinetd",
		Short: "Framed request/response server with replicated entity state",
		Long: `replinetd serves a length-prefixed, JSON-headed request/response protocol
to many concurrent TCP clients from one readiness loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		probeCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "replinetd: %v\n", err)
		os.Exit(1)
	}
}
