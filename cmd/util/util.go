package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/inove-ai/agentlock/lib/common"
	"github.com/inove-ai/agentlock/lib/identity"
	"github.com/inove-ai/agentlock/lib/lockmgr"
	"github.com/inove-ai/agentlock/lib/store"
	"github.com/inove-ai/agentlock/lib/store/fstore"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// DefaultLockDir is the lock directory relative to the working directory
	DefaultLockDir = ".agents/locks"

	// ExitNotAcquired is the exit code of acquire, release and exec if the lock was not obtained or not released
	ExitNotAcquired = 2
)

var Logger = logger.GetLogger("cmd")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Exit codes
// --------------------------------------------------------------------------

// ExitError makes the process exit with Code. The command has already reported
// what happened, so the error itself is not printed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupManagerFlags adds the flags every lock command understands to cmd
func SetupManagerFlags(cmd *cobra.Command) {
	key := "lock-dir"
	cmd.PersistentFlags().String(key, DefaultLockDir, WrapString("Directory holding the lock files, created if absent"))

	key = "default-timeout"
	cmd.PersistentFlags().Uint64(key, lockmgr.DefaultTimeout, WrapString("Lease in seconds for locks acquired without explicit timeout"))

	key = "holder"
	cmd.PersistentFlags().String(key, "", WrapString("Identity of the lock holder (detected from the agent environment if empty)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Log level (debug, info, warn, error), logs are written to stderr"))

	key = "metrics"
	cmd.PersistentFlags().Bool(key, false, WrapString("Print lock metrics in Prometheus text format after the command"))
}

// SetupWaitFlags adds the flags of commands that wait for a lock to cmd
func SetupWaitFlags(cmd *cobra.Command) {
	key := "max-wait"
	cmd.Flags().Duration(key, lockmgr.DefaultMaxWait, WrapString("How long to wait for the lock"))

	key = "poll-interval"
	cmd.Flags().Duration(key, lockmgr.DefaultPollInterval, WrapString("Pause between two attempts while waiting"))
}

// InitConfig initializes configuration from environment variables and .env files
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("agentlock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	viper.SetDefault("lock-dir", DefaultLockDir)
	viper.SetDefault("default-timeout", lockmgr.DefaultTimeout)
	viper.SetDefault("log-level", "warn")
	viper.SetDefault("max-wait", lockmgr.DefaultMaxWait)
	viper.SetDefault("poll-interval", lockmgr.DefaultPollInterval)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetManagerConfig reads the manager configuration from viper
func GetManagerConfig() *common.ManagerConfig {
	return &common.ManagerConfig{
		LockDir:        viper.GetString("lock-dir"),
		DefaultTimeout: viper.GetUint64("default-timeout"),
		Holder:         viper.GetString("holder"),
		MaxWait:        viper.GetDuration("max-wait"),
		PollInterval:   viper.GetDuration("poll-interval"),
		LogLevel:       viper.GetString("log-level"),
	}
}

// HolderFunc returns the identity provider for a configuration: the configured
// holder if set, the detected agent otherwise.
func HolderFunc(conf *common.ManagerConfig) lockmgr.HolderFunc {
	if conf.Holder != "" {
		holder := conf.Holder
		return func() string { return holder }
	}
	return identity.Detect
}

// NewLockManager creates a lock manager on the configured lock directory.
// It fails if the lock directory cannot be created or written.
func NewLockManager(conf *common.ManagerConfig) (lockmgr.ILockManager, error) {
	Logger.Debugf("configuration:%s", conf.String())

	lease := conf.DefaultTimeout
	if lease == 0 {
		lease = lockmgr.DefaultTimeout
	}

	s, err := fstore.NewFileStore(conf.LockDir, store.Options{
		DefaultTimeout: time.Duration(lease) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	return lockmgr.NewLockManager(s, lockmgr.Options{
		DefaultTimeout: lease,
		Holder:         HolderFunc(conf),
	}), nil
}

// --------------------------------------------------------------------------
// Argument helpers
// --------------------------------------------------------------------------

// ResourceArg validates that the first argument is a usable resource name
func ResourceArg(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing resource, usage: %s", cmd.UseLine())
	}
	return store.ValidateResource(args[0])
}

// ParseMetadata converts key=value pairs into descriptor metadata
func ParseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		switch key {
		case store.KeyLockedBy, store.KeyLockedAt, store.KeyPID, store.KeyTimeout:
			return nil, fmt.Errorf("metadata key %q is reserved", key)
		}
		meta[key] = value
	}
	return meta, nil
}

// FormatAge renders how long ago t was in whole minutes
func FormatAge(t time.Time, now time.Time) string {
	minutes := int(now.Sub(t).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%d minute(s)", minutes)
}
