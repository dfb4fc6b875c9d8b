// SPDX-License-Identifier: Apache-2.0

package app

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rass-lsp/rass/pkg/logger"
)

// Flags holds rass's CLI-configurable behavior (spec.md §6 "Command-line
// flags"), bound onto the root command the same way the teacher binds
// its persistent --debug flag.
type Flags struct {
	DelayMS              int
	DropTardy            bool
	RequestTimeoutMS     int
	InitializeTimeoutMS  int
	DiagnosticTimeoutMS  int
	DiagnosticCoalesceMS int
	LogicClass           string
	LogLevel             string
	QuietServer          bool
}

func registerFlags(cmd *cobra.Command) *Flags {
	f := &Flags{}
	cmd.Flags().IntVar(&f.DelayMS, "delay-ms", 0, "artificial delay before forwarding server responses/notifications to the client")
	cmd.Flags().BoolVar(&f.DropTardy, "drop-tardy", false, "drop diagnostics that arrive after the tardiness threshold instead of merging them late (responses after their aggregation deadline are always dropped)")
	cmd.Flags().IntVar(&f.RequestTimeoutMS, "request-timeout-ms", 2000, "deadline for aggregating a broadcast client request")
	cmd.Flags().IntVar(&f.InitializeTimeoutMS, "initialize-timeout-ms", 2500, "deadline for aggregating the initialize handshake")
	cmd.Flags().IntVar(&f.DiagnosticTimeoutMS, "diagnostic-timeout-ms", 1000, "tardiness threshold for publishDiagnostics, measured from the triggering edit")
	cmd.Flags().IntVar(&f.DiagnosticCoalesceMS, "diagnostic-coalesce-ms", 50, "coalescing window for merging rapid diagnostics updates per URI")
	cmd.Flags().StringVar(&f.LogicClass, "logic-class", "default", "registered Policy implementation to use")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	cmd.Flags().BoolVar(&f.QuietServer, "quiet-server", false, "do not relay server stderr")

	for _, name := range []string{"delay-ms", "drop-tardy", "request-timeout-ms", "initialize-timeout-ms",
		"diagnostic-timeout-ms", "diagnostic-coalesce-ms", "logic-class", "log-level", "quiet-server"} {
		if err := viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			logger.Warnw("failed binding flag", "flag", name, "error", err)
		}
	}
	return f
}

func (f *Flags) requestTimeout() time.Duration {
	return time.Duration(f.RequestTimeoutMS) * time.Millisecond
}

func (f *Flags) initializeTimeout() time.Duration {
	return time.Duration(f.InitializeTimeoutMS) * time.Millisecond
}

func (f *Flags) diagnosticTimeout() time.Duration {
	return time.Duration(f.DiagnosticTimeoutMS) * time.Millisecond
}

func (f *Flags) diagnosticCoalesce() time.Duration {
	return time.Duration(f.DiagnosticCoalesceMS) * time.Millisecond
}

func (f *Flags) delay() time.Duration {
	return time.Duration(f.DelayMS) * time.Millisecond
}
