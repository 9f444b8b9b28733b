package backendtools

import (
	"context"
	"testing"
)

func TestRunCmd_RejectsCommandNotInAllowlist(t *testing.T) {
	if _, err := RunCmd(context.Background(), t.TempDir(), "rm", []string{"-rf", "/"}, 0); err == nil {
		t.Fatalf("expected rm to be rejected")
	}
}

func TestRunCmd_EchoSucceeds(t *testing.T) {
	result, err := RunCmd(context.Background(), t.TempDir(), "echo", []string{"hi"}, 0)
	if err != nil {
		t.Fatalf("RunCmd: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestRunCmd_NonZeroExitIsReportedNotErrored(t *testing.T) {
	result, err := RunCmd(context.Background(), t.TempDir(), "find", []string{"/does/not/exist"}, 0)
	if err != nil {
		t.Fatalf("RunCmd: %v", err)
	}
	if result.ExitCode == 0 {
		t.Fatalf("expected a non-zero exit code for a missing path")
	}
}
