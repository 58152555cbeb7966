// Package config collects the tunables that size a running lookup engine:
// per-task admission limits, the iterative-lookup fan-out, the in-memory
// reference server's simulated deadlines, and the manager's global
// concurrency cap.
package config

import (
	"fmt"
	"time"
)

// Config mirrors the teacher's plain field-struct configuration
// convention: no tags, no nested builder, just defaultable fields
// populated either programmatically or from cmd/ddht's CLI flags.
type Config struct {
	// MaxConcurrentRequests bounds how many in-flight RPCs a single Task
	// will have outstanding at once.
	MaxConcurrentRequests int

	// K is the routing-table bucket size / lookup convergence width: a
	// lookup is done once K nodes at least as close as any outstanding
	// candidate have responded.
	K int

	// Alpha is the per-tick fan-out: how many new probes a lookup issues
	// per Update() call, bounded by MaxConcurrentRequests.
	Alpha int

	// MaxConcurrentTasks is the manager's global running-task cap.
	MaxConcurrentTasks int

	// SoftDeadline/HardDeadline size memrpc's simulated stall/timeout
	// timers. They have no effect on a real RpcServer.
	SoftDeadline time.Duration
	HardDeadline time.Duration
}

// Default returns a Config with the values this engine was designed and
// tested against.
func Default() Config {
	return Config{
		MaxConcurrentRequests: 8,
		K:                     8,
		Alpha:                 3,
		MaxConcurrentTasks:    4,
		SoftDeadline:          2 * time.Second,
		HardDeadline:          10 * time.Second,
	}
}

// Validate reports the first configuration error found, if any.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentRequests <= 0:
		return fmt.Errorf("config: MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	case c.K <= 0:
		return fmt.Errorf("config: K must be positive, got %d", c.K)
	case c.Alpha <= 0:
		return fmt.Errorf("config: Alpha must be positive, got %d", c.Alpha)
	case c.MaxConcurrentTasks <= 0:
		return fmt.Errorf("config: MaxConcurrentTasks must be positive, got %d", c.MaxConcurrentTasks)
	case c.SoftDeadline < 0:
		return fmt.Errorf("config: SoftDeadline must not be negative, got %s", c.SoftDeadline)
	case c.HardDeadline < 0:
		return fmt.Errorf("config: HardDeadline must not be negative, got %s", c.HardDeadline)
	case c.SoftDeadline > 0 && c.HardDeadline > 0 && c.SoftDeadline >= c.HardDeadline:
		return fmt.Errorf("config: SoftDeadline (%s) must be shorter than HardDeadline (%s)", c.SoftDeadline, c.HardDeadline)
	}
	return nil
}
