package queue

import "github.com/inkmd/inkmd/internal/domain"

// Action is one state transition request handled by Reduce
type Action interface {
	action()
}

// Enqueue adds an upload batch to the queue. When ReplaceExisting is
// set, or every prior record is terminal, the new batch replaces the
// displayed records (an in-flight record survives the replacement).
type Enqueue struct {
	Files           []domain.IncomingFile
	ReplaceExisting bool
}

// Remove deletes one record and drops it from the pending queue
type Remove struct {
	Name string
}

// UpdateStatus applies a partial update to one record
type UpdateStatus struct {
	Name  string
	Patch domain.StatusPatch
}

// Start pops the named file off the head of the pending queue, marks
// it active, and moves it to uploading.
type Start struct {
	Name string
}

// Skip marks a pending file skipped with a reason and removes it from
// the pending queue without making it active.
type Skip struct {
	Name   string
	Reason string
}

// SetConversionID records the backend correlation id for the active file
type SetConversionID struct {
	ID string
}

// ClearActive releases the active slot and the tracked conversion id
type ClearActive struct{}

// ClearCompleted removes completed (and optionally skipped) records
type ClearCompleted struct {
	IncludeSkipped bool
}

// ClearAll resets the queue to empty
type ClearAll struct{}

// Retry resets an errored record and requeues it at the front of the
// pending queue so it runs before older queued files.
type Retry struct {
	Name string
}

func (Enqueue) action()         {}
func (Remove) action()          {}
func (UpdateStatus) action()    {}
func (Start) action()           {}
func (Skip) action()            {}
func (SetConversionID) action() {}
func (ClearActive) action()     {}
func (ClearCompleted) action()  {}
func (ClearAll) action()        {}
func (Retry) action()           {}
