// Package runctx carries the runtime context that Design Notes calls out
// as needing to be passed explicitly rather than exposed as ambient
// process globals (run_out_dir, gpu_id, max_cpu_slices, logger).
package runctx

import (
	"github.com/team-gpu/httomo/internal/comm"
	"github.com/team-gpu/httomo/internal/obslog"
)

// Context is threaded through the runner, sectionizer, planner, and
// wrappers instead of being read from package-level globals.
type Context struct {
	RunID        string
	RunOutDir    string
	GPUID        int // -1 means "no device bound"
	MaxCPUSlices int
	ResliceDir   string // empty means in-memory reslicing
	SaveAll      bool
	Comm         comm.Communicator
	Log          *obslog.Logger
}

// HasDevice reports whether a device is bound for this process.
func (c *Context) HasDevice() bool { return c.GPUID >= 0 }

// Rank is a convenience accessor for c.Comm.Rank().
func (c *Context) Rank() int { return c.Comm.Rank() }
