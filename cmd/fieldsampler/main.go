package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var profile string

	rootCmd := &cobra.Command{
		Use:   "fieldsampler",
		Short: "Device-side location sampler for fieldtrack assignments",
		Long: `fieldsampler periodically submits this device's position for an
in-progress assignment. A running session survives restarts: "resume"
continues it unless it is older than 24 hours.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "YAML device profile")

	rootCmd.AddCommand(runCmd(&profile))
	rootCmd.AddCommand(resumeCmd(&profile))
	rootCmd.AddCommand(stopCmd(&profile))
	rootCmd.AddCommand(statusCmd(&profile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
