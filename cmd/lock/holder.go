package lock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/inove-ai/agentlock/cmd/util"
	"github.com/inove-ai/agentlock/lib/lockmgr"
	"github.com/inove-ai/agentlock/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <resource>",
		Short: "Show who holds the lock of a resource",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), util.ResourceArg),
		RunE:  runStatus,
	}
	cmd.Flags().Bool("json", false, util.WrapString("Print the lock file content instead of a summary"))
	return cmd
}

func newAcquireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acquire <resource>",
		Short: "Acquire or renew a lock",
		Long: util.WrapString(fmt.Sprintf("Acquire the lock of a resource for the configured holder. "+
			"If the holder already owns the lock its lease is renewed. "+
			"Exits with %d if the lock is held by someone else.", util.ExitNotAcquired)),
		Args: cobra.MatchAll(cobra.ExactArgs(1), util.ResourceArg),
		RunE: runAcquire,
	}
	cmd.Flags().Uint64("timeout", 0, util.WrapString("Lease in seconds (0 uses --default-timeout)"))
	cmd.Flags().Bool("wait", false, util.WrapString("Wait for the lock instead of failing immediately"))
	cmd.Flags().StringArray("meta", nil, util.WrapString("Metadata stored in the lock file as key=value (repeatable)"))
	util.SetupWaitFlags(cmd)
	return cmd
}

func newReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <resource>",
		Short: "Release a lock held by the configured holder",
		Long: util.WrapString(fmt.Sprintf("Release the lock of a resource. Releasing an unlocked resource succeeds. "+
			"Exits with %d if the lock is held by someone else.", util.ExitNotAcquired)),
		Args: cobra.MatchAll(cobra.ExactArgs(1), util.ResourceArg),
		RunE: runRelease,
	}
}

// describeHolder returns who holds resource, for messages about a failed operation
func describeHolder(mgr lockmgr.ILockManager, resource string) string {
	if desc, found := mgr.GetLockInfo(resource); found {
		return fmt.Sprintf("'%s'", desc.LockedBy)
	}
	return "another holder"
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	resource := args[0]

	mgr, err := setupLockMgr(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	desc, found := mgr.GetLockInfo(resource)
	if !found {
		fmt.Fprintf(out, "Resource '%s' is not locked\n", resource)
		return nil
	}

	if viper.GetBool("json") {
		data, err := store.EncodeDescriptor(desc)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	lease := time.Duration(desc.Timeout) * time.Second
	if desc.Timeout == 0 {
		lease = time.Duration(util.GetManagerConfig().DefaultTimeout) * time.Second
	}
	expiresIn := time.Until(desc.LockedAt.Add(lease)).Round(time.Second)

	fmt.Fprintf(out, "Resource '%s' is locked\n", resource)
	fmt.Fprintf(out, "  Locked by:  %s\n", desc.LockedBy)
	fmt.Fprintf(out, "  Locked at:  %s (%s ago)\n", desc.LockedAt.Format(time.RFC3339), util.FormatAge(desc.LockedAt, time.Now()))
	fmt.Fprintf(out, "  PID:        %d\n", desc.PID)
	fmt.Fprintf(out, "  Expires in: %s\n", max(expiresIn, 0))

	keys := make([]string, 0, len(desc.Metadata))
	for k := range desc.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: %v\n", k, desc.Metadata[k])
	}
	return nil
}

// runAcquire handles the acquire command
func runAcquire(cmd *cobra.Command, args []string) error {
	resource := args[0]

	mgr, err := setupLockMgr(cmd)
	if err != nil {
		return err
	}

	pairs, err := cmd.Flags().GetStringArray("meta")
	if err != nil {
		return err
	}
	meta, err := util.ParseMetadata(pairs)
	if err != nil {
		return err
	}

	conf := util.GetManagerConfig()
	holder := util.HolderFunc(conf)()
	timeout := viper.GetUint64("timeout")

	var acquired bool
	if viper.GetBool("wait") {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		acquired = mgr.WaitForLockWith(ctx, resource, holder, timeout, meta, conf.MaxWait, conf.PollInterval)
	} else {
		acquired = mgr.AcquireLock(resource, holder, timeout, meta)
	}

	if !acquired {
		fmt.Fprintf(cmd.OutOrStdout(), "Resource '%s' is locked by %s\n", resource, describeHolder(mgr, resource))
		return &util.ExitError{Code: util.ExitNotAcquired}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Lock '%s' acquired by '%s'\n", resource, holder)
	return nil
}

// runRelease handles the release command
func runRelease(cmd *cobra.Command, args []string) error {
	resource := args[0]

	mgr, err := setupLockMgr(cmd)
	if err != nil {
		return err
	}

	holder := util.HolderFunc(util.GetManagerConfig())()
	if !mgr.ReleaseLock(resource, holder) {
		fmt.Fprintf(cmd.OutOrStdout(), "Lock '%s' is held by %s, not released\n", resource, describeHolder(mgr, resource))
		return &util.ExitError{Code: util.ExitNotAcquired}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Lock '%s' released\n", resource)
	return nil
}
