package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// execute runs the command line and returns exit code, stdout and stderr
func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// lockDir returns a fresh lock directory and the matching flag
func lockDir(t *testing.T) (string, string) {
	dir := filepath.Join(t.TempDir(), "locks")
	return dir, "--lock-dir=" + dir
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	if root.Use != "agentlock" {
		t.Errorf("root.Use = %q, want agentlock", root.Use)
	}

	expectedCmds := []string{"list", "cleanup", "force-release", "status", "acquire", "release", "exec", "perf", "version"}
	cmdMap := make(map[string]bool)
	for _, c := range root.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestNoArgsPrintsHelp(t *testing.T) {
	code, stdout, _ := execute(t)
	if code != 0 {
		t.Errorf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "Usage:") || !strings.Contains(stdout, "force-release") {
		t.Errorf("expected usage on stdout, got %q", stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := execute(t, "frobnicate")
	if code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("expected unknown command error, got %q", stderr)
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := execute(t, "version")
	if code != 0 || strings.TrimSpace(stdout) != "agentlock v"+Version {
		t.Errorf("unexpected version output (exit %d): %q", code, stdout)
	}
}

func TestForceReleaseMissingResource(t *testing.T) {
	_, dirFlag := lockDir(t)
	code, _, stderr := execute(t, "force-release", dirFlag)
	if code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "Error:") {
		t.Errorf("expected an error message, got %q", stderr)
	}
}

func TestInvalidResource(t *testing.T) {
	_, dirFlag := lockDir(t)
	for _, resource := range []string{"../backlog", ".guard", "a/b"} {
		code, _, _ := execute(t, "acquire", resource, dirFlag, "--holder=agent1")
		if code != 1 {
			t.Errorf("acquire %q: expected exit 1, got %d", resource, code)
		}
	}
}

func TestUnusableLockDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	code, _, stderr := execute(t, "list", "--lock-dir="+filepath.Join(file, "locks"))
	if code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "cannot create lock directory") {
		t.Errorf("unexpected error output %q", stderr)
	}
}

func TestListEmpty(t *testing.T) {
	dir, dirFlag := lockDir(t)
	code, stdout, _ := execute(t, "list", dirFlag)
	if code != 0 || !strings.Contains(stdout, "No active locks") {
		t.Errorf("unexpected list output (exit %d): %q", code, stdout)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("lock directory should have been created: %v", err)
	}
}

func TestCommandNamesIgnoreCase(t *testing.T) {
	_, dirFlag := lockDir(t)
	for _, name := range []string{"LIST", "List", "list"} {
		code, stdout, stderr := execute(t, name, dirFlag)
		if code != 0 || !strings.Contains(stdout, "No active locks") {
			t.Errorf("%s: expected exit 0 with list output, got %d: %q %q", name, code, stdout, stderr)
		}
	}

	code, stdout, _ := execute(t, "CleanUp", dirFlag)
	if code != 0 || !strings.Contains(stdout, "0 stale lock(s) removed") {
		t.Errorf("CleanUp: unexpected output (exit %d): %q", code, stdout)
	}
}

func TestLockLifecycle(t *testing.T) {
	_, dirFlag := lockDir(t)

	code, stdout, _ := execute(t, "acquire", "backlog", dirFlag, "--holder=agent1", "--meta", "task=3.1", "--timeout=60")
	if code != 0 || !strings.Contains(stdout, "Lock 'backlog' acquired by 'agent1'") {
		t.Fatalf("acquire failed (exit %d): %q", code, stdout)
	}

	code, stdout, _ = execute(t, "acquire", "backlog", dirFlag, "--holder=agent2")
	if code != 2 || !strings.Contains(stdout, "locked by 'agent1'") {
		t.Errorf("contended acquire: expected exit 2, got %d: %q", code, stdout)
	}

	code, stdout, _ = execute(t, "list", dirFlag)
	if code != 0 {
		t.Errorf("list: expected exit 0, got %d", code)
	}
	for _, want := range []string{"Active locks:", "• backlog", "Locked by: agent1", "Since 0 minute(s)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("list output misses %q: %q", want, stdout)
		}
	}

	code, stdout, _ = execute(t, "status", "backlog", dirFlag)
	if code != 0 || !strings.Contains(stdout, "Locked by:  agent1") || !strings.Contains(stdout, "task: 3.1") {
		t.Errorf("unexpected status output (exit %d): %q", code, stdout)
	}

	code, stdout, _ = execute(t, "status", "backlog", dirFlag, "--json")
	if code != 0 || !strings.Contains(stdout, `"task": "3.1"`) || !strings.Contains(stdout, `"timeout": 60`) {
		t.Errorf("unexpected status --json output (exit %d): %q", code, stdout)
	}

	code, stdout, _ = execute(t, "release", "backlog", dirFlag, "--holder=agent2")
	if code != 2 || !strings.Contains(stdout, "held by 'agent1'") {
		t.Errorf("foreign release: expected exit 2, got %d: %q", code, stdout)
	}

	code, stdout, _ = execute(t, "release", "backlog", dirFlag, "--holder=agent1")
	if code != 0 || !strings.Contains(stdout, "Lock 'backlog' released") {
		t.Errorf("release failed (exit %d): %q", code, stdout)
	}

	code, stdout, _ = execute(t, "status", "backlog", dirFlag)
	if code != 0 || !strings.Contains(stdout, "is not locked") {
		t.Errorf("unexpected status after release (exit %d): %q", code, stdout)
	}

	// releasing again is fine
	code, _, _ = execute(t, "release", "backlog", dirFlag, "--holder=agent1")
	if code != 0 {
		t.Errorf("idempotent release: expected exit 0, got %d", code)
	}
}

func TestHolderFromEnvironment(t *testing.T) {
	_, dirFlag := lockDir(t)
	t.Setenv("AGENTLOCK_HOLDER", "env-agent")

	code, stdout, _ := execute(t, "acquire", "stories", dirFlag)
	if code != 0 || !strings.Contains(stdout, "acquired by 'env-agent'") {
		t.Errorf("expected holder from environment (exit %d): %q", code, stdout)
	}
}

func TestDetectedHolder(t *testing.T) {
	_, dirFlag := lockDir(t)
	t.Setenv("AGENTLOCK_HOLDER", "")
	t.Setenv("CODEX_SESSION", "")
	t.Setenv("CLAUDE_CODE_SESSION", "1")

	code, stdout, _ := execute(t, "acquire", "stories", dirFlag)
	if code != 0 || !strings.Contains(stdout, "acquired by 'claude_code'") {
		t.Errorf("expected detected holder (exit %d): %q", code, stdout)
	}
}

func TestForceRelease(t *testing.T) {
	_, dirFlag := lockDir(t)

	if code, _, _ := execute(t, "acquire", "backlog", dirFlag, "--holder=agent1"); code != 0 {
		t.Fatalf("acquire failed")
	}

	code, stdout, _ := execute(t, "force-release", "backlog", dirFlag)
	if code != 0 || !strings.Contains(stdout, "Lock 'backlog' released") {
		t.Errorf("force-release failed (exit %d): %q", code, stdout)
	}

	code, _, _ = execute(t, "acquire", "backlog", dirFlag, "--holder=agent2")
	if code != 0 {
		t.Errorf("agent2 should acquire after force-release, got exit %d", code)
	}
}

func TestCleanup(t *testing.T) {
	dir, dirFlag := lockDir(t)

	if code, _, _ := execute(t, "acquire", "backlog", dirFlag, "--holder=agent1"); code != 0 {
		t.Fatalf("acquire failed")
	}
	stale := `{"locked_by": "agent2", "locked_at": "2020-01-01T00:00:00Z", "timeout": 60}`
	if err := os.WriteFile(filepath.Join(dir, "stories.lock"), []byte(stale), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.lock"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	code, stdout, _ := execute(t, "cleanup", dirFlag)
	if code != 0 || !strings.Contains(stdout, "2 stale lock(s) removed") {
		t.Errorf("unexpected cleanup output (exit %d): %q", code, stdout)
	}

	code, stdout, _ = execute(t, "list", dirFlag)
	if code != 0 || !strings.Contains(stdout, "backlog") || strings.Contains(stdout, "stories") {
		t.Errorf("unexpected list after cleanup (exit %d): %q", code, stdout)
	}
}

func TestAcquireWait(t *testing.T) {
	_, dirFlag := lockDir(t)

	if code, _, _ := execute(t, "acquire", "backlog", dirFlag, "--holder=agent1"); code != 0 {
		t.Fatalf("acquire failed")
	}

	start := time.Now()
	code, _, _ := execute(t, "acquire", "backlog", dirFlag, "--holder=agent2", "--wait", "--max-wait=300ms", "--poll-interval=50ms")
	if code != 2 {
		t.Errorf("expected exit 2 after waiting, got %d", code)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("acquire --wait returned too early after %v", elapsed)
	}
}

func TestMetricsFlag(t *testing.T) {
	_, dirFlag := lockDir(t)

	code, stdout, _ := execute(t, "acquire", "backlog", dirFlag, "--holder=agent1", "--metrics")
	if code != 0 {
		t.Fatalf("acquire failed with exit %d", code)
	}
	if !strings.Contains(stdout, `agentlock_acquire_total{result="acquired"}`) {
		t.Errorf("expected metrics in output, got %q", stdout)
	}
}

func TestExec(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec tests use sh")
	}
	_, dirFlag := lockDir(t)

	code, stdout, _ := execute(t, "exec", "backlog", dirFlag, "--holder=agent1", "--", "sh", "-c", "echo running")
	if code != 0 || !strings.Contains(stdout, "running") {
		t.Errorf("exec failed (exit %d): %q", code, stdout)
	}

	code, stdout, _ = execute(t, "status", "backlog", dirFlag)
	if !strings.Contains(stdout, "is not locked") {
		t.Errorf("lock should be released after exec (exit %d): %q", code, stdout)
	}

	code, _, _ = execute(t, "exec", "backlog", dirFlag, "--holder=agent1", "--", "sh", "-c", "exit 3")
	if code != 3 {
		t.Errorf("expected exit code of the command (3), got %d", code)
	}

	// the command sees the lock held by its holder
	lockedCheck := fmt.Sprintf("test -f %q", filepath.Join(strings.TrimPrefix(dirFlag, "--lock-dir="), "backlog.lock"))
	code, _, _ = execute(t, "exec", "backlog", dirFlag, "--holder=agent1", "--", "sh", "-c", lockedCheck)
	if code != 0 {
		t.Errorf("lock file should exist while the command runs, got exit %d", code)
	}

	if code, _, _ := execute(t, "acquire", "backlog", dirFlag, "--holder=agent2"); code != 0 {
		t.Fatalf("acquire failed")
	}
	code, _, stderr := execute(t, "exec", "backlog", dirFlag, "--holder=agent1", "--max-wait=100ms", "--poll-interval=20ms", "--", "sh", "-c", "exit 0")
	if code != 2 || !strings.Contains(stderr, "locked by 'agent2'") {
		t.Errorf("expected exit 2 for a held lock, got %d: %q", code, stderr)
	}
}

func TestPerf(t *testing.T) {
	_, dirFlag := lockDir(t)

	code, stdout, stderr := execute(t, "perf", dirFlag, "--skip=acquire-release,renew", "--workers=3", "--duration=300ms", "--hold=1ms")
	if code != 0 {
		t.Fatalf("perf failed (exit %d): %s %s", code, stdout, stderr)
	}
	for _, want := range []string{"acquire-release     skipped", "contention", "violations        0"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("perf output misses %q:\n%s", want, stdout)
		}
	}
}
