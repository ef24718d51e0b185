package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

const pidFileName = "newspulse.pid"

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd)
}

// runningDaemon locates the daemon through its PID file. A stale file
// (signal 0 fails) is treated the same as a missing one.
func runningDaemon() (*os.Process, int, error) {
	cfg := loadConfig()
	raw, err := os.ReadFile(filepath.Join(cfg.DataDir, pidFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("no running daemon (PID file not found)")
		}
		return nil, 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, 0, fmt.Errorf("invalid PID file content: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, 0, fmt.Errorf("no running daemon (process %d not found)", pid)
	}
	return proc, pid, nil
}

func signalDaemon(sig syscall.Signal, name, verb string) error {
	proc, pid, err := runningDaemon()
	if err != nil {
		return err
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	fmt.Fprintf(os.Stdout, "Sent %s to daemon (PID %d) to %s.\n", name, pid, verb)
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGTERM, "SIGTERM", "shut down")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGHUP, "SIGHUP", "restart")
	},
}
