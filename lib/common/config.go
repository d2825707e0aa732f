package common

import (
	"fmt"
	"strings"
	"time"
)

// ManagerConfig holds the resolved configuration of a lock manager instance.
type ManagerConfig struct {
	// LockDir is the directory holding one descriptor file per resource
	LockDir string
	// DefaultTimeout is the lease in seconds for locks acquired without explicit timeout
	DefaultTimeout uint64
	// Holder overrides the detected agent identity if not empty
	Holder string

	// Wait parameters of acquire --wait and exec
	MaxWait      time.Duration
	PollInterval time.Duration

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ManagerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	holder := c.Holder
	if holder == "" {
		holder = "(detected)"
	}

	addSection("Lock Store")
	addField("Directory", c.LockDir)
	addField("Default Timeout", fmt.Sprintf("%d sec", c.DefaultTimeout))

	addSection("Lock Manager")
	addField("Holder", holder)
	addField("Max Wait", c.MaxWait.String())
	addField("Poll Interval", c.PollInterval.String())

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
