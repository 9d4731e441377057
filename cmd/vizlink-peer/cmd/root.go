package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vizlink-peer",
	Short: "Headless vizlink session participant",
	Long: `vizlink-peer joins a vizlink relay as a full participant: it negotiates a
WebRTC peer connection with the other participant and keeps the shared
visualization document replicated over the relay.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
