// SPDX-License-Identifier: Apache-2.0

package app

import (
	"io"
	"os"
)

// newStdioStreams returns the process's stdin/stdout wired as the
// client transport's reader/writer/closer. Pulled behind a var so tests
// can substitute pipes without touching the real process streams.
func newStdioStreams() (io.Reader, io.Writer, io.Closer) {
	return os.Stdin, os.Stdout, os.Stdin
}
