// Package control holds the explicit context value threaded through
// the conversion pipeline: the mark allocator, the string-intern
// table, and the logging sink.
//
// Grounded on the ground truth's Control struct and logit()/croak()
// functions (reposurgeon.go lines 50-150): same responsibilities, but
// passed explicitly rather than kept in a package-level var, per
// spec.md §9's note that these two process-wide counters should be
// "encapsulated in an explicit context value passed through the
// pipeline rather than true globals."
package control

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Control is the run-wide context passed down through every stage.
type Control struct {
	Verbose bool
	Window  time.Duration // coalescing window for the changeset builder and fetch driver

	logw       io.Writer
	logmu      sync.Mutex
	markMu     sync.Mutex
	nextMark   int
	internMu   sync.Mutex
	internTbl  map[string]string
	startTime  time.Time
}

// DefaultWindow is the ~300s coalescing window spec.md §4.1 and §9
// call out as a tunable, not a correctness property.
const DefaultWindow = 300 * time.Second

// New builds a Control writing diagnostics to w. A nil w discards them.
func New(w io.Writer) *Control {
	if w == nil {
		w = io.Discard
	}
	return &Control{
		logw:      w,
		Window:    DefaultWindow,
		internTbl: make(map[string]string),
		startTime: time.Now(),
	}
}

// AllocMark returns the next mark in the single monotonically
// increasing counter shared across blobs and commits (spec.md §4.7).
func (c *Control) AllocMark() int {
	c.markMu.Lock()
	defer c.markMu.Unlock()
	c.nextMark++
	return c.nextMark
}

// Intern returns a canonical copy of s so that repeated equal strings
// (paths, author names, branch names) share storage. This is the
// minimal, in-process stand-in for the string-interning arena that
// spec.md §1 and §6 name as an external collaborator out of this
// engine's scope; the Database only needs the de-duplication, not a
// general-purpose cache service.
func (c *Control) Intern(s string) string {
	c.internMu.Lock()
	defer c.internMu.Unlock()
	if v, ok := c.internTbl[s]; ok {
		return v
	}
	c.internTbl[s] = s
	return s
}

// Logit writes an unconditional diagnostic line, mirroring the ground
// truth's logit().
func (c *Control) Logit(format string, args ...interface{}) {
	c.logmu.Lock()
	defer c.logmu.Unlock()
	fmt.Fprintf(c.logw, "crap-clone: %s\n", fmt.Sprintf(format, args...))
}

// Debugf writes a diagnostic line only when Verbose is set.
func (c *Control) Debugf(format string, args ...interface{}) {
	if !c.Verbose {
		return
	}
	c.Logit(format, args...)
}

// Croak writes a fatal diagnostic, matching the ground truth's
// croak(): a single point where user-facing failures are reported.
func (c *Control) Croak(format string, args ...interface{}) {
	c.logmu.Lock()
	defer c.logmu.Unlock()
	fmt.Fprintf(c.logw, "crap-clone: %s\n", fmt.Sprintf(format, args...))
}
