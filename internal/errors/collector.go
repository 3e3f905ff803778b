package errors

import (
	"sync"
)

// Collector collects recoverable startup errors so that a scan can report
// everything it skipped without aborting.
type Collector struct {
	errors []*FrameworkError
	mutex  sync.RWMutex
}

// NewCollector creates a new error collector.
func NewCollector() *Collector {
	return &Collector{
		errors: make([]*FrameworkError, 0),
	}
}

// Add adds an error to the collector.
func (c *Collector) Add(err *FrameworkError) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errors = append(c.errors, err)
}

// Errors returns a copy of the collected errors in insertion order.
func (c *Collector) Errors() []*FrameworkError {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make([]*FrameworkError, len(c.errors))
	copy(result, c.errors)
	return result
}

// ByKind returns the collected errors of one kind.
func (c *Collector) ByKind(kind Kind) []*FrameworkError {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var out []*FrameworkError
	for _, err := range c.errors {
		if err.Kind == kind {
			out = append(out, err)
		}
	}
	return out
}

// HasErrors returns true if there are any errors.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errors) > 0
}

// Len returns the number of collected errors.
func (c *Collector) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errors)
}
