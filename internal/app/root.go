// SPDX-License-Identifier: Apache-2.0

// Package app assembles rass's command-line surface: flag parsing,
// server command splitting, and the wiring of Supervisor, Policy, and
// Router into one running proxy, per spec.md §6 and grounded on the
// teacher's cobra/viper root-command pattern
// (cmd/thv-proxyrunner/app/commands.go).
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rass-lsp/rass/pkg/logger"
)

// NewRootCmd builds rass's root command.
func NewRootCmd() *cobra.Command {
	var flags *Flags

	cmd := &cobra.Command{
		Use:   "rass [flags] -- server-command [args...] [-- server-command [args...]]...",
		Short: "rass multiplexes a single LSP client across multiple LSP server subprocesses",
		Long: `rass sits between one LSP client and N LSP server subprocesses, presenting
itself to the client as a single language server. Client requests and
notifications are routed or broadcast to the servers according to a
pluggable routing Policy, and their responses, diagnostics, and
server-originated requests are merged or translated back to the client.

Each server command is given verbatim after its own "--" separator; the
first one is the primary server.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Args:              cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{
			UnknownFlags: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logger.ParseLevel(viper.GetString("log-level"))
			if err != nil {
				return fmt.Errorf("%w", &ConfigError{err})
			}
			logger.Initialize(level)

			commands := splitServerCommands(cmd.Flags().Args())
			if len(commands) == 0 {
				return &ConfigError{fmt.Errorf("at least one server command is required, e.g. `rass -- gopls`")}
			}

			reason, err := Run(cmd.Context(), flags, commands)
			return reasonToError(reason, err)
		},
	}

	flags = registerFlags(cmd)
	return cmd
}
