// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/rass-lsp/rass/internal/router"
)

// ConfigError wraps a startup configuration problem (bad flag value,
// unknown --logic-class, missing server command) so main can map it to
// exit code 2 per spec.md §7 item 6, distinct from the runtime-failure
// exit code 1.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// reasonToError turns a router.Reason/error pair into the error RunE
// should return: nil for a clean shutdown, a plain (non-ConfigError)
// error otherwise so main exits 1 per spec.md §6.
func reasonToError(reason router.Reason, err error) error {
	if reason == router.ShutdownClean {
		return nil
	}
	if err != nil {
		return err
	}
	return errShutdownUnclean(reason)
}

type errShutdownUnclean router.Reason

func (e errShutdownUnclean) Error() string {
	switch router.Reason(e) {
	case router.ShutdownClientGone:
		return "client gone unexpectedly"
	case router.ShutdownFatal:
		return "fatal error"
	default:
		return "unclean shutdown"
	}
}
