// Command ynh is a remote administration client for YunoHost servers. The
// command tree is generated from the server actionsmap, so every API
// operation is reachable without this binary knowing about it.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YunoHost/cli/internal/actionsmap"
	"github.com/YunoHost/cli/internal/config"
)

// minServerVersion is the oldest YunoHost release whose API this client
// understands.
const minServerVersion = "12.1.0"

var outputModes = []string{"human", "json", "plain", "yaml"}

var rootCmd *cobra.Command

func main() {
	rootCmd = &cobra.Command{
		Use:           "ynh",
		Short:         "Administer remote YunoHost servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("server-name", "s", config.DefaultServer, "Stored server profile to talk to")
	rootCmd.PersistentFlags().StringP("output-as", "o", "human", fmt.Sprintf("Output format (%s)", strings.Join(outputModes, ", ")))
	rootCmd.PersistentFlags().BoolP("insecure", "k", false, "Skip TLS certificate verification (dangerous; testing only)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase verbosity (repeatable)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("output-as")
		for _, known := range outputModes {
			if mode == known {
				return nil
			}
		}
		return fmt.Errorf("unknown output format %q (want one of %s)", mode, strings.Join(outputModes, ", "))
	}

	schema, err := loadSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, cat := range schema.Categories {
		rootCmd.AddCommand(newCategoryCommand(nil, cat))
	}

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newSSECommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSchema resolves the actionsmap: an explicit override via
// YNH_ACTIONSMAP, the system copy when installed on a YunoHost box, or the
// bundled fallback.
func loadSchema() (*actionsmap.Schema, error) {
	if override := strings.TrimSpace(os.Getenv("YNH_ACTIONSMAP")); override != "" {
		return actionsmap.Load(config.ExpandPath(override))
	}
	return actionsmap.LoadDefault()
}
