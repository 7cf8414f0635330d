package lifecycle

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// PortSweeper is a ProcessSweeper that kills whatever process (if any) is
// still bound to the engine's port, catching stragglers that survived a
// SIGKILL race or a previous crash (spec §4.6 deactivateCurrent step 4 /
// forceCleanup).
type PortSweeper struct{}

// Sweep kills the process listening on port, found with lsof and killed
// with kill -9, and waits up to 2s for the port to be free. On Windows no
// lookup is made and Sweep returns nil without killing anything.
func (PortSweeper) Sweep(ctx context.Context, port int) error {
	if portFree(ctx, port) {
		return nil
	}

	pid, err := findPIDOnPort(ctx, port)
	if err != nil {
		return fmt.Errorf("locate process on port %d: %w", port, err)
	}
	if pid == "" {
		return nil
	}

	killCmd := exec.CommandContext(ctx, "kill", "-9", pid)
	if err := killCmd.Run(); err != nil {
		return fmt.Errorf("kill pid %s on port %d: %w", pid, port, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if portFree(ctx, port) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("port %d still bound after killing pid %s", port, pid)
}

func portFree(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: 300 * time.Millisecond}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return true
	}
	_ = conn.Close()
	return false
}

func findPIDOnPort(ctx context.Context, port int) (string, error) {
	if runtime.GOOS == "windows" {
		return "", nil
	}
	out, err := exec.CommandContext(ctx, "lsof", "-t", "-i", fmt.Sprintf("TCP:%d", port), "-sTCP:LISTEN").Output()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return "", nil
		}
		return "", err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", nil
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return "", fmt.Errorf("unexpected lsof output %q", string(out))
	}
	return fields[0], nil
}
