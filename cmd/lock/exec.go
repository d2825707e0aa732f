package lock

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/inove-ai/agentlock/cmd/util"
	"github.com/inove-ai/agentlock/lib/lockmgr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// minRenewInterval bounds how often exec renews the lease of a running command
const minRenewInterval = time.Second

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <resource> -- <command> [args...]",
		Short: "Run a command while holding a lock",
		Long: util.WrapString(fmt.Sprintf("Wait for the lock of a resource, run the command and release the lock. "+
			"The lease is renewed while the command runs. "+
			"Exits with the exit code of the command, or %d if the lock could not be obtained.", util.ExitNotAcquired)),
		Example: "  agentlock exec backlog -- python scripts/finish_task.py 3.1",
		Args:    cobra.MatchAll(cobra.MinimumNArgs(2), util.ResourceArg),
		RunE:    runExec,
	}
	cmd.Flags().Uint64("timeout", 0, util.WrapString("Lease in seconds (0 uses --default-timeout)"))
	util.SetupWaitFlags(cmd)
	return cmd
}

// runExec handles the exec command
func runExec(cmd *cobra.Command, args []string) error {
	resource, command := args[0], args[1:]

	mgr, err := setupLockMgr(cmd)
	if err != nil {
		return err
	}

	conf := util.GetManagerConfig()
	holder := util.HolderFunc(conf)()
	timeout := viper.GetUint64("timeout")
	if timeout == 0 {
		timeout = conf.DefaultTimeout
	}
	if timeout == 0 {
		timeout = lockmgr.DefaultTimeout
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	meta := map[string]any{"command": strings.Join(command, " ")}
	if !mgr.WaitForLockWith(ctx, resource, holder, timeout, meta, conf.MaxWait, conf.PollInterval) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Resource '%s' is locked by %s, gave up after %s\n",
			resource, describeHolder(mgr, resource), conf.MaxWait)
		return &util.ExitError{Code: util.ExitNotAcquired}
	}

	// keep the lease alive while the command runs; the renewer must be stopped
	// before the release, otherwise it could recreate the lock
	renewCtx, stopRenew := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		keepAlive(renewCtx, mgr, resource, holder, timeout)
	}()
	defer func() {
		stopRenew()
		<-renewDone
		if !mgr.ReleaseLock(resource, holder) {
			util.Logger.Warningf("lock %s was taken over before the command finished", resource)
		}
	}()

	child := exec.CommandContext(ctx, command[0], command[1:]...)
	child.Stdin = cmd.InOrStdin()
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()

	err = child.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1 // terminated by a signal
		}
		return &util.ExitError{Code: code}
	}
	if err != nil {
		return fmt.Errorf("cannot run %s: %w", command[0], err)
	}
	return nil
}

// keepAlive renews the lease every third of its duration until ctx is done
func keepAlive(ctx context.Context, mgr lockmgr.ILockManager, resource, holder string, timeout uint64) {
	interval := max(time.Duration(timeout)*time.Second/3, minRenewInterval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !mgr.AcquireLock(resource, holder, timeout, nil) {
				util.Logger.Warningf("cannot renew lock %s, it is held by someone else", resource)
			}
		}
	}
}
