// SPDX-License-Identifier: Apache-2.0

// Command rass is the entry point for the LSP multiplexing proxy.
package main

import (
	"errors"
	"os"

	"github.com/rass-lsp/rass/internal/app"
)

func main() {
	cmd := app.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		var cfgErr *app.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
