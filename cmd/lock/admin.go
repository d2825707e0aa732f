package lock

import (
	"fmt"
	"sort"
	"time"

	"github.com/inove-ai/agentlock/cmd/util"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active locks",
		Long:  "List every lock that is currently held, with its holder and how long ago it was acquired or renewed.",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired and corrupted lock files",
		Args:  cobra.NoArgs,
		RunE:  runCleanup,
	}
}

func newForceReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-release <resource>",
		Short: "Release a lock regardless of its holder",
		Long: util.WrapString("Delete the lock of a resource without checking who holds it. " +
			"Use this only to recover from a lock whose holder is known to be gone."),
		Args: cobra.MatchAll(cobra.ExactArgs(1), util.ResourceArg),
		RunE: runForceRelease,
	}
}

// runList handles the list command
func runList(cmd *cobra.Command, _ []string) error {
	mgr, err := setupLockMgr(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	active := mgr.ListActiveLocks()
	if len(active) == 0 {
		fmt.Fprintln(out, "No active locks")
		return nil
	}

	resources := make([]string, 0, len(active))
	for resource := range active {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	now := time.Now()
	fmt.Fprintln(out, "Active locks:")
	fmt.Fprintln(out)
	for _, resource := range resources {
		desc := active[resource]
		fmt.Fprintf(out, "  • %s\n", resource)
		fmt.Fprintf(out, "    Locked by: %s\n", desc.LockedBy)
		fmt.Fprintf(out, "    Since %s\n", util.FormatAge(desc.LockedAt, now))
		fmt.Fprintln(out)
	}
	return nil
}

// runCleanup handles the cleanup command
func runCleanup(cmd *cobra.Command, _ []string) error {
	mgr, err := setupLockMgr(cmd)
	if err != nil {
		return err
	}

	removed := mgr.CleanupStaleLocks()
	fmt.Fprintf(cmd.OutOrStdout(), "%d stale lock(s) removed\n", removed)
	return nil
}

// runForceRelease handles the force-release command
func runForceRelease(cmd *cobra.Command, args []string) error {
	resource := args[0]

	mgr, err := setupLockMgr(cmd)
	if err != nil {
		return err
	}

	if mgr.ForceRelease(resource) {
		fmt.Fprintf(cmd.OutOrStdout(), "Lock '%s' released\n", resource)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Failed to release lock '%s'\n", resource)
	}
	return nil
}
