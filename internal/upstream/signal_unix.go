//go:build !windows
// +build !windows

package upstream

import (
	"os"
	"syscall"
)

// terminateSignal is the graceful-shutdown signal sent to a LocalProcess
// backend before the force-kill fallback.
func terminateSignal() os.Signal { return syscall.SIGTERM }
