// Package cli implements the gmic command line.
package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the root command.
func Execute(version string) error {
	a := newApp(os.Stdout, os.Stderr)
	defer a.close()
	return newRootCmd(version, a).Execute()
}

func newRootCmd(version string, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gmic",
		Short:         "Follow on-chain GM conversations",
		Long:          "gmic reconciles on-chain GM message feeds into conversations and reports new activity.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default: $XDG_CONFIG_HOME/gmic/config.yaml)")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (auto, console, json)")
	flags.String("context", "", "context file (default: ~/.config/gmic/context.yaml)")
	flags.Bool("json", false, "machine-readable output")

	cmd.AddCommand(
		newWatchCmd(a),
		newHistoryCmd(a),
		newCooldownCmd(a),
		newConnectCmd(a),
		newDisconnectCmd(a),
		newFocusCmd(a),
		newPinCmd(a),
		newUnpinCmd(a),
		newStatusCmd(a),
		newTabCmd(a),
		newNormalizeCmd(a),
		newValidateCmd(a),
	)
	return cmd
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSONLine(out io.Writer, v any) error {
	return json.NewEncoder(out).Encode(v)
}
