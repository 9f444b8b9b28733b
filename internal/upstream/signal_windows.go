//go:build windows
// +build windows

package upstream

import "os"

// terminateSignal falls back to an immediate kill on Windows, which has no
// SIGTERM-equivalent graceful process signal.
func terminateSignal() os.Signal { return os.Kill }
