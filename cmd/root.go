package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/inove-ai/agentlock/cmd/lock"
	"github.com/inove-ai/agentlock/cmd/perf"
	"github.com/inove-ai/agentlock/cmd/util"
	"github.com/inove-ai/agentlock/lib/common"
	"github.com/inove-ai/agentlock/lib/lockmgr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "1.0.0"
)

func init() {
	// "agentlock LIST" works like "agentlock list"
	cobra.EnableCaseInsensitive = true
}

// NewRootCmd creates the agentlock command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentlock",
		Short: "cooperative file locks for agent workflows",
		Long: fmt.Sprintf(`agentlock (v%s)

Cooperative, lease based locks on named resources, shared between agent
processes on one machine through a lock directory. Locks expire on their own
when a holder disappears, so no lock can block a workflow forever.`, Version),
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: printMetrics,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of agentlock",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentlock v%s\n", Version)
		},
	}

	// Add Commands
	rootCmd.AddCommand(lock.NewCommands()...)
	rootCmd.AddCommand(perf.NewPerfCmd())
	rootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupManagerFlags(rootCmd)

	return rootCmd
}

// setup loads the configuration and initializes the loggers. It runs after the
// arguments have been validated, so later errors do not print the usage.
func setup(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	util.InitConfig()
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

func printMetrics(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("metrics") {
		fmt.Fprintln(cmd.OutOrStdout())
		lockmgr.WriteMetrics(cmd.OutOrStdout())
	}
	return nil
}

// Run executes the command line args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *util.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", rootCmd.CommandPath())
	return 1
}

// Execute runs the command tree on the process arguments and exits.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
