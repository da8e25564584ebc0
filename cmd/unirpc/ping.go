package main

import (
	"fmt"
	"time"

	"github.com/pior/unirpc"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Log in and report what the server negotiated",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := sessionConfig()

		start := time.Now()
		s, err := unirpc.Connect(cmd.Context(), config)
		if err != nil {
			return fmt.Errorf("login to %s failed: %w", config.Address(), err)
		}
		defer s.Close()
		elapsed := time.Since(start)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Connected to %s (took %v)\n", config.Address(), elapsed)
		if id := s.ServerID(); id != "" {
			fmt.Fprintf(out, "Server ID: %s\n", id)
		}
		fmt.Fprintf(out, "NLS mode:  %s\n", s.NLSMode())
		fmt.Fprintf(out, "Encoding:  %s\n", s.Encoding())
		fmt.Fprintf(out, "Marks:     %s\n", s.Marks())

		if !s.HealthCheck() {
			return fmt.Errorf("session failed its health check")
		}
		fmt.Fprintln(out, "Health check: ok")
		return nil
	},
}
