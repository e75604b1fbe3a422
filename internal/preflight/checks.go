package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"avsync/internal/config"
	"avsync/internal/deps"
)

// CheckDirectoryAccess passes when path is a directory the current user can
// list, read and write.
func CheckDirectoryAccess(name, path string) Result {
	problem := func(format string, args ...any) Result {
		return Result{Name: name, Detail: path + " (error: " + fmt.Sprintf(format, args...) + ")"}
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return problem("does not exist")
	case err != nil:
		return problem("stat: %v", err)
	case !info.IsDir():
		return problem("is not a directory")
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return problem("insufficient permissions: %v", err)
	}
	return Result{Name: name, Passed: true, Detail: path + " (read/write ok)"}
}

// CheckNtfy verifies that the ntfy server behind topic answers. A topic is a
// full URL such as https://ntfy.sh/avsync.
func CheckNtfy(ctx context.Context, topic string) Result {
	const name = "ntfy"

	topic = strings.TrimRight(strings.TrimSpace(topic), "/")
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, topic+"/json?poll=1&since=none", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url (%v)", err)}
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "topic requires authentication"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unexpected status (%d)", resp.StatusCode)}
	}
}

// CheckSystemDeps reports the external programs and SyncNet modules cfg
// points at. The daemon status and `avsync check` share it.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	return append(statuses, deps.CheckSyncNet(cfg)...)
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (server unreachable)"
	}
	return err.Error()
}
