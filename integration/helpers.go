//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fakeDownloader imitates twmd. It appends its arguments to calls.log in
// the work dir and prints output chosen by user name.
const fakeDownloader = `#!/bin/sh
echo "$@" >> calls.log
user=""
login=0
while [ $# -gt 0 ]; do
	case "$1" in
		--user) user="$2"; shift ;;
		--login) login=1 ;;
	esac
	shift
done
case "$user" in
	ghost)
		[ $login = 1 ] && echo "Logged in"
		echo "User '$user' not found"
		;;
	alice)
		[ $login = 1 ] && echo "Logged in"
		i=1
		while [ $i -le 19 ]; do
			echo "Downloaded img$i.jpg"
			i=$((i+1))
		done
		echo "error"
		;;
	bob)
		echo "unexpected banner"
		;;
	*)
		[ $login = 1 ] && echo "Logged in"
		echo "Downloaded $user/1.jpg"
		echo "$user/0.jpg already exists"
		;;
esac
`

// RequireShell skips tests that need a POSIX shell
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake downloader needs /bin/sh")
	}
}

// WriteFakeDownloader installs the fake downloader and returns its path
func WriteFakeDownloader(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twmd")
	if err := os.WriteFile(path, []byte(fakeDownloader), 0755); err != nil {
		t.Fatalf("Failed to write fake downloader: %v", err)
	}
	return path
}

// MakeWorkDir creates a work dir with one directory per user plus the
// script dir that must never be treated as a user
func MakeWorkDir(t *testing.T, users ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, u := range append(users, "script") {
		if err := os.MkdirAll(filepath.Join(root, u), 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", u, err)
		}
	}
	return root
}

// Calls returns the downloader invocations recorded in the work dir
func Calls(t *testing.T, workDir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(workDir, "calls.log"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// HasFlag reports whether a marker file exists in the user directory
func HasFlag(workDir, user, flag string) bool {
	info, err := os.Stat(filepath.Join(workDir, user, flag))
	return err == nil && info.Mode().IsRegular()
}

// BuildBinary compiles twmd-batch into a temp dir
func BuildBinary(t *testing.T) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "twmd-batch")
	cmd := exec.Command("go", "build", "-o", out, "../cmd/twmd-batch")
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, b)
	}
	return out
}

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "history.db")
}
