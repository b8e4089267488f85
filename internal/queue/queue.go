// Package queue holds the conversion queue state and its reducer. The
// reducer is pure: every transition returns a new state and never
// mutates its input, which keeps the orchestrator's event loop easy to
// reason about and the transitions easy to test in isolation.
package queue

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/inkmd/inkmd/internal/domain"
)

// State is the whole conversion queue at one instant
type State struct {
	// Pending is the FIFO of file names not yet started.
	Pending []string
	// Order preserves record insertion order for display.
	Order []string
	// Records maps file name to its record.
	Records map[string]*domain.FileRecord
	// Active is the name of the file currently uploading or
	// processing, or empty when idle.
	Active string
	// ActiveConversionID correlates the in-flight poll with the
	// backend. Poll responses carrying any other id are stale.
	ActiveConversionID string
}

// NewState returns an empty queue
func NewState() State {
	return State{Records: make(map[string]*domain.FileRecord)}
}

// IsProcessing reports whether a file is mid-conversion
func (s State) IsProcessing() bool {
	return s.Active != ""
}

// Record returns the named record, or nil
func (s State) Record(name string) *domain.FileRecord {
	return s.Records[name]
}

// AllTerminal reports whether every record has reached a final status
func (s State) AllTerminal() bool {
	for _, r := range s.Records {
		if !domain.IsTerminalStatus(r.Status) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	out := State{
		Pending:            append([]string(nil), s.Pending...),
		Order:              append([]string(nil), s.Order...),
		Records:            make(map[string]*domain.FileRecord, len(s.Records)),
		Active:             s.Active,
		ActiveConversionID: s.ActiveConversionID,
	}
	for name, r := range s.Records {
		out.Records[name] = r.Clone()
	}
	return out
}

// SkipReasonUnsupported is recorded on files rejected by type
const SkipReasonUnsupported = "unsupported file type"

// IsSupported classifies a file as convertible by extension and
// declared type.
func IsSupported(f domain.IncomingFile) bool {
	if strings.EqualFold(filepath.Ext(f.Name), ".pdf") {
		return true
	}
	return f.MimeType == "application/pdf"
}

// Reduce applies one action and returns the next state. The input
// state is never modified; on error it is returned unchanged.
func Reduce(s State, action Action) (State, error) {
	switch a := action.(type) {
	case Enqueue:
		return reduceEnqueue(s, a)
	case Remove:
		return reduceRemove(s, a)
	case UpdateStatus:
		return reduceUpdateStatus(s, a)
	case Start:
		return reduceStart(s, a)
	case Skip:
		return reduceSkip(s, a)
	case SetConversionID:
		next := s.Clone()
		next.ActiveConversionID = a.ID
		return next, nil
	case ClearActive:
		next := s.Clone()
		next.Active = ""
		next.ActiveConversionID = ""
		return next, nil
	case ClearCompleted:
		return reduceClearCompleted(s, a)
	case ClearAll:
		return NewState(), nil
	case Retry:
		return reduceRetry(s, a)
	default:
		return s, fmt.Errorf("unknown queue action %T", action)
	}
}

func reduceEnqueue(s State, a Enqueue) (State, error) {
	supported := 0
	for _, f := range a.Files {
		if IsSupported(f) {
			supported++
		}
	}
	if supported == 0 {
		return s, domain.ErrNoSupportedFiles
	}

	next := s.Clone()

	// A fresh batch replaces a fully finished one instead of piling
	// up behind it. An in-flight record survives the replacement.
	if a.ReplaceExisting || next.AllTerminal() {
		kept := NewState()
		if next.Active != "" {
			kept.Records[next.Active] = next.Records[next.Active]
			kept.Order = append(kept.Order, next.Active)
			kept.Active = next.Active
			kept.ActiveConversionID = next.ActiveConversionID
		}
		next = kept
	}

	for _, f := range a.Files {
		record := &domain.FileRecord{
			Name:     f.Name,
			Size:     f.Size,
			MimeType: f.MimeType,
			Status:   domain.FileStatusQueued,
			Data:     f.Data,
		}

		// Unsupported files are rejected on arrival rather than
		// when they reach the head of the queue.
		convertible := IsSupported(f)
		if !convertible {
			record.Status = domain.FileStatusSkipped
			record.Stage = SkipReasonUnsupported
			record.Error = SkipReasonUnsupported
		}

		if _, exists := next.Records[f.Name]; exists {
			// Re-upload of a known name resets that record; the
			// active file is never interrupted.
			if f.Name == next.Active {
				continue
			}
			next.Records[f.Name] = record
			if convertible && !contains(next.Pending, f.Name) {
				next.Pending = append(next.Pending, f.Name)
			}
			if !convertible {
				next.Pending = without(next.Pending, f.Name)
			}
			continue
		}

		next.Records[f.Name] = record
		next.Order = append(next.Order, f.Name)
		if convertible {
			next.Pending = append(next.Pending, f.Name)
		}
	}

	return next, nil
}

func reduceRemove(s State, a Remove) (State, error) {
	if _, ok := s.Records[a.Name]; !ok {
		return s, domain.ErrNotFound
	}

	next := s.Clone()
	delete(next.Records, a.Name)
	next.Order = without(next.Order, a.Name)
	next.Pending = without(next.Pending, a.Name)
	if next.Active == a.Name {
		next.Active = ""
		next.ActiveConversionID = ""
	}
	return next, nil
}

func reduceUpdateStatus(s State, a UpdateStatus) (State, error) {
	if _, ok := s.Records[a.Name]; !ok {
		return s, domain.ErrNotFound
	}

	// Only the active record may hold an in-flight status.
	if p := a.Patch; p.Status != nil && s.Active != a.Name {
		if *p.Status == domain.FileStatusUploading || *p.Status == domain.FileStatusProcessing {
			return s, fmt.Errorf("cannot move inactive record %q to %s", a.Name, *p.Status)
		}
	}

	next := s.Clone()
	r := next.Records[a.Name]
	p := a.Patch
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Progress != nil {
		r.Progress = *p.Progress
	}
	if p.Stage != nil {
		r.Stage = *p.Stage
	}
	if p.TotalPages != nil {
		r.TotalPages = *p.TotalPages
	}
	if p.CurrentPage != nil {
		r.CurrentPage = *p.CurrentPage
	}
	if p.Markdown != nil {
		r.Markdown = *p.Markdown
	}
	if p.Error != nil {
		r.Error = *p.Error
	}

	// A record leaving the uploading/processing pair releases the
	// active slot.
	if next.Active == a.Name && domain.IsTerminalStatus(r.Status) {
		next.Active = ""
		next.ActiveConversionID = ""
	}
	return next, nil
}

func reduceStart(s State, a Start) (State, error) {
	if s.Active != "" {
		return s, fmt.Errorf("cannot start %q: %q is still active", a.Name, s.Active)
	}
	if len(s.Pending) == 0 || s.Pending[0] != a.Name {
		return s, fmt.Errorf("cannot start %q: not at the head of the queue", a.Name)
	}
	r, ok := s.Records[a.Name]
	if !ok {
		return s, domain.ErrNotFound
	}
	if r.Status != domain.FileStatusQueued {
		return s, fmt.Errorf("cannot start %q from status %q", a.Name, r.Status)
	}

	next := s.Clone()
	next.Pending = next.Pending[1:]
	next.Active = a.Name
	next.Records[a.Name].Status = domain.FileStatusUploading
	next.Records[a.Name].Stage = "Uploading..."
	return next, nil
}

func reduceSkip(s State, a Skip) (State, error) {
	r, ok := s.Records[a.Name]
	if !ok {
		return s, domain.ErrNotFound
	}
	if r.Status != domain.FileStatusQueued {
		return s, fmt.Errorf("cannot skip %q from status %q", a.Name, r.Status)
	}

	next := s.Clone()
	next.Pending = without(next.Pending, a.Name)
	rec := next.Records[a.Name]
	rec.Status = domain.FileStatusSkipped
	rec.Stage = a.Reason
	rec.Error = a.Reason
	return next, nil
}

func reduceClearCompleted(s State, a ClearCompleted) (State, error) {
	next := s.Clone()
	for name, r := range next.Records {
		if r.Status == domain.FileStatusCompleted ||
			(a.IncludeSkipped && r.Status == domain.FileStatusSkipped) {
			delete(next.Records, name)
			next.Order = without(next.Order, name)
			next.Pending = without(next.Pending, name)
		}
	}
	return next, nil
}

func reduceRetry(s State, a Retry) (State, error) {
	r, ok := s.Records[a.Name]
	if !ok {
		return s, domain.ErrNotFound
	}
	if r.Status != domain.FileStatusError {
		return s, domain.ErrNotRetryable
	}

	next := s.Clone()
	rec := next.Records[a.Name]
	rec.Status = domain.FileStatusQueued
	rec.Progress = 0
	rec.Stage = ""
	rec.Error = ""
	rec.Markdown = ""
	rec.TotalPages = 0
	rec.CurrentPage = 0

	// Retried files jump the line: run before anything still queued.
	next.Pending = append([]string{a.Name}, without(next.Pending, a.Name)...)
	return next, nil
}

// Check verifies the queue invariants. It is called after every
// transition in tests and returns a descriptive error on violation.
func Check(s State) error {
	inFlight := 0
	for name, r := range s.Records {
		if r.Status == domain.FileStatusUploading || r.Status == domain.FileStatusProcessing {
			inFlight++
			if s.Active != name {
				return fmt.Errorf("record %q is %s but active is %q", name, r.Status, s.Active)
			}
		}
	}
	if inFlight > 1 {
		return fmt.Errorf("%d records in flight, want at most 1", inFlight)
	}
	if s.Active != "" {
		if _, ok := s.Records[s.Active]; !ok {
			return fmt.Errorf("active record %q does not exist", s.Active)
		}
		if contains(s.Pending, s.Active) {
			return fmt.Errorf("active record %q still pending", s.Active)
		}
	}
	for _, name := range s.Pending {
		if _, ok := s.Records[name]; !ok {
			return fmt.Errorf("pending name %q has no record", name)
		}
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func without(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
