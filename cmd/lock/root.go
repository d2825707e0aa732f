package lock

import (
	"github.com/inove-ai/agentlock/cmd/util"
	"github.com/inove-ai/agentlock/lib/lockmgr"
	"github.com/spf13/cobra"
)

// NewCommands creates the lock commands. They are attached directly to the root command.
func NewCommands() []*cobra.Command {
	return []*cobra.Command{
		newListCmd(),
		newCleanupCmd(),
		newForceReleaseCmd(),
		newStatusCmd(),
		newAcquireCmd(),
		newReleaseCmd(),
		newExecCmd(),
	}
}

// setupLockMgr binds the command flags and creates the lock manager of the
// configured lock directory
func setupLockMgr(cmd *cobra.Command) (lockmgr.ILockManager, error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	return util.NewLockManager(util.GetManagerConfig())
}
