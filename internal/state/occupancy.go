// Package state holds the occupancy snapshot shared by the ingestion handler
// and the upload loop.
package state

import (
	"sync"

	"CapIot.occupancy/internal/models"
)

// Occupancy is the current absolute occupancy count. The zero value is ready
// to use and reads (0, 0).
type Occupancy struct {
	mu     sync.Mutex
	counts models.Counts
}

// New creates an Occupancy starting at (0, 0).
func New() *Occupancy {
	return &Occupancy{}
}

// Replace overwrites each provided field with its new absolute value. A nil
// field keeps its stored value. It returns the state after the update.
func (o *Occupancy) Replace(entered, exited *int) models.Counts {
	o.mu.Lock()
	defer o.mu.Unlock()

	if entered != nil {
		o.counts.PeopleEntered = *entered
	}
	if exited != nil {
		o.counts.PeopleExited = *exited
	}
	return o.counts
}

// Snapshot returns a copy of the current counts.
func (o *Occupancy) Snapshot() models.Counts {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts
}
