// Package cmd implements the gatewardend CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cfgFile string

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("gatewardend version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "gatewardend",
	Short: "gatewardend is the gatewarden VPN control plane",
	Long: "gatewardend keeps a WireGuard (or Amnezia) interface and a remote XRay\n" +
		"panel in line with the peers stored in PostgreSQL: it provisions and\n" +
		"revokes access, watches who is connected, and enforces active windows\n" +
		"and account expiry.",
	// Run is unset so the bare command prints help.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.ini", "config file path")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("gatewardend version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
