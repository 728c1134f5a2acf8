package main

import (
	"testing"
)

func TestOrNever(t *testing.T) {
	tests := []struct {
		name string
		ts   string
		want string
	}{
		{"empty timestamp", "", "never"},
		{"recorded timestamp", "2026-01-02T03:04:05Z", "2026-01-02T03:04:05Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := orNever(tt.ts); got != tt.want {
				t.Errorf("orNever(%q) = %q, want %q", tt.ts, got, tt.want)
			}
		})
	}
}

func TestReportErrors_NeverFailsTheCommand(t *testing.T) {
	// Per-item failures are reported, not fatal: a partially successful
	// run still exits zero. Only configuration and IO failures abort.
	tests := []struct {
		name   string
		failed int
		errs   []string
	}{
		{"clean run", 0, nil},
		{"one failure", 1, []string{"a1: simulated transport error"}},
		{"errors without failed count", 0, []string{"a1: simulated transport error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reportErrors(tt.failed, tt.errs); err != nil {
				t.Errorf("reportErrors(%d, %v) = %v, want nil", tt.failed, tt.errs, err)
			}
		})
	}
}

// Test CLI argument validation through cobra

func TestPushCmd_RequiresVaultDir(t *testing.T) {
	rootCmd.SetArgs([]string{"push"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("push command should fail with no arguments")
	}
}

func TestPullCmd_RejectsTwoArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"pull", "/vault1", "/vault2"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("pull command should fail with two arguments")
	}
}

func TestArchiveCmd_RequiresTwoArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"archive", "/vault"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("archive command should fail without an artifact id")
	}
}

func TestStatusCmd_RequiresVaultDir(t *testing.T) {
	rootCmd.SetArgs([]string{"status"})
	err := rootCmd.Execute()

	if err == nil {
		t.Error("status command should fail with no arguments")
	}
}
