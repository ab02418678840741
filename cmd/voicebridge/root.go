package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCommand builds the voicebridge root command, grounded on DMRHub's
// cmd/root.go NewCommand shape (cobra.Command with Version/Annotations,
// SilenceErrors, DisableAutoGenTag). voicebridge's config is a plain
// env-var singleton (pkg/config.Get) rather than configulator, so there's
// no config-from-context wiring here — each subcommand reads pkg/config
// directly.
func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "voicebridge",
		Short:   "Real-time voice-agent telephony bridge",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(newServeCommand())
	return cmd
}
