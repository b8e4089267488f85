package queue

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkmd/inkmd/internal/domain"
)

func pdf(name string) domain.IncomingFile {
	return domain.IncomingFile{Name: name, Size: 1024, MimeType: "application/pdf", Data: []byte("%PDF-1.4")}
}

func txt(name string) domain.IncomingFile {
	return domain.IncomingFile{Name: name, Size: 10, MimeType: "text/plain"}
}

func mustReduce(t *testing.T, s State, a Action) State {
	t.Helper()
	next, err := Reduce(s, a)
	require.NoError(t, err)
	require.NoError(t, Check(next))
	return next
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported(pdf("doc.pdf")))
	assert.True(t, IsSupported(domain.IncomingFile{Name: "SCAN.PDF"}))
	assert.True(t, IsSupported(domain.IncomingFile{Name: "renamed.bin", MimeType: "application/pdf"}))
	assert.False(t, IsSupported(txt("notes.txt")))
	assert.False(t, IsSupported(domain.IncomingFile{Name: "doc.pdf.txt"}))
}

func TestEnqueueRejectsAllUnsupported(t *testing.T) {
	s := NewState()
	_, err := Reduce(s, Enqueue{Files: []domain.IncomingFile{txt("a.txt"), txt("b.md")}})
	assert.ErrorIs(t, err, domain.ErrNoSupportedFiles)
}

func TestEnqueueSkipsUnsupportedImmediately(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), txt("b.txt")}})

	require.Len(t, s.Records, 2)
	assert.Equal(t, []string{"a.pdf"}, s.Pending)
	assert.Equal(t, []string{"a.pdf", "b.txt"}, s.Order)

	skipped := s.Record("b.txt")
	require.NotNil(t, skipped)
	assert.Equal(t, domain.FileStatusSkipped, skipped.Status)
	assert.Equal(t, SkipReasonUnsupported, skipped.Error)
}

func TestEnqueueReplacesFinishedBatch(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("old.pdf")}})
	s = mustReduce(t, s, Start{Name: "old.pdf"})
	s = mustReduce(t, s, UpdateStatus{Name: "old.pdf", Patch: domain.StatusPatch{Status: ptr(domain.FileStatusCompleted)}})

	// Every record is terminal, so the next batch starts fresh.
	s = mustReduce(t, s, Enqueue{Files: []domain.IncomingFile{pdf("new.pdf")}})
	assert.Nil(t, s.Record("old.pdf"))
	assert.Equal(t, []string{"new.pdf"}, s.Order)
	assert.Equal(t, []string{"new.pdf"}, s.Pending)
}

func TestEnqueueAppendsWhileProcessing(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf")}})
	s = mustReduce(t, s, Start{Name: "a.pdf"})

	s = mustReduce(t, s, Enqueue{Files: []domain.IncomingFile{pdf("b.pdf")}})
	assert.Equal(t, "a.pdf", s.Active)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, s.Order)
	assert.Equal(t, []string{"b.pdf"}, s.Pending)
}

func TestEnqueueReplaceExistingKeepsActiveRecord(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), pdf("b.pdf")}})
	s = mustReduce(t, s, Start{Name: "a.pdf"})
	s = mustReduce(t, s, SetConversionID{ID: "42"})

	s = mustReduce(t, s, Enqueue{Files: []domain.IncomingFile{pdf("c.pdf")}, ReplaceExisting: true})
	assert.Equal(t, "a.pdf", s.Active)
	assert.Equal(t, "42", s.ActiveConversionID)
	assert.Nil(t, s.Record("b.pdf"))
	assert.Equal(t, []string{"a.pdf", "c.pdf"}, s.Order)
	assert.Equal(t, []string{"c.pdf"}, s.Pending)
}

func TestEnqueueDuplicateNameResetsRecord(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), pdf("b.pdf")}})
	s = mustReduce(t, s, Start{Name: "a.pdf"})
	s = mustReduce(t, s, Skip{Name: "b.pdf", Reason: "test"})

	// b.pdf comes back in a later upload without replacing the batch.
	s = mustReduce(t, s, Enqueue{Files: []domain.IncomingFile{pdf("b.pdf")}})
	r := s.Record("b.pdf")
	require.NotNil(t, r)
	assert.Equal(t, domain.FileStatusQueued, r.Status)
	assert.Equal(t, []string{"b.pdf"}, s.Pending)
	// Re-uploading the active name never interrupts it.
	s = mustReduce(t, s, Enqueue{Files: []domain.IncomingFile{pdf("a.pdf")}})
	assert.Equal(t, domain.FileStatusUploading, s.Record("a.pdf").Status)
}

func TestStartRequiresHeadOfQueue(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), pdf("b.pdf")}})

	_, err := Reduce(s, Start{Name: "b.pdf"})
	assert.Error(t, err)

	s = mustReduce(t, s, Start{Name: "a.pdf"})
	assert.Equal(t, "a.pdf", s.Active)
	assert.Equal(t, domain.FileStatusUploading, s.Record("a.pdf").Status)
	assert.Equal(t, []string{"b.pdf"}, s.Pending)

	// Only one file is ever in flight.
	_, err = Reduce(s, Start{Name: "b.pdf"})
	assert.Error(t, err)
}

func TestTerminalStatusReleasesActiveSlot(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf")}})
	s = mustReduce(t, s, Start{Name: "a.pdf"})
	s = mustReduce(t, s, SetConversionID{ID: "42"})

	s = mustReduce(t, s, UpdateStatus{Name: "a.pdf", Patch: domain.StatusPatch{
		Status:   ptr(domain.FileStatusCompleted),
		Progress: ptr(100),
		Markdown: ptr("# Hi"),
	}})

	assert.Empty(t, s.Active)
	assert.Empty(t, s.ActiveConversionID)
	r := s.Record("a.pdf")
	assert.Equal(t, domain.FileStatusCompleted, r.Status)
	assert.Equal(t, "# Hi", r.Markdown)
}

func TestRemoveActiveClearsConversionID(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), pdf("b.pdf")}})
	s = mustReduce(t, s, Start{Name: "a.pdf"})
	s = mustReduce(t, s, SetConversionID{ID: "42"})

	s = mustReduce(t, s, Remove{Name: "a.pdf"})
	assert.Empty(t, s.Active)
	assert.Empty(t, s.ActiveConversionID)
	assert.Nil(t, s.Record("a.pdf"))
	assert.Equal(t, []string{"b.pdf"}, s.Pending)

	_, err := Reduce(s, Remove{Name: "a.pdf"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRetryRequeuesErroredFileFirst(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), pdf("b.pdf")}})
	s = mustReduce(t, s, Start{Name: "a.pdf"})
	s = mustReduce(t, s, UpdateStatus{Name: "a.pdf", Patch: domain.StatusPatch{
		Status:   ptr(domain.FileStatusError),
		Progress: ptr(40),
		Error:    ptr("backend unreachable"),
	}})

	s = mustReduce(t, s, Retry{Name: "a.pdf"})
	r := s.Record("a.pdf")
	assert.Equal(t, domain.FileStatusQueued, r.Status)
	assert.Zero(t, r.Progress)
	assert.Empty(t, r.Error)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, s.Pending)
}

func TestRetryOnlyAppliesToErroredFiles(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf")}})

	_, err := Reduce(s, Retry{Name: "a.pdf"})
	assert.ErrorIs(t, err, domain.ErrNotRetryable)

	_, err = Reduce(s, Retry{Name: "missing.pdf"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClearCompleted(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), pdf("b.pdf"), txt("c.txt")}})
	s = mustReduce(t, s, Start{Name: "a.pdf"})
	s = mustReduce(t, s, UpdateStatus{Name: "a.pdf", Patch: domain.StatusPatch{Status: ptr(domain.FileStatusCompleted)}})

	cleared := mustReduce(t, s, ClearCompleted{})
	assert.Nil(t, cleared.Record("a.pdf"))
	assert.NotNil(t, cleared.Record("b.pdf"))
	assert.NotNil(t, cleared.Record("c.txt"))

	cleared = mustReduce(t, s, ClearCompleted{IncludeSkipped: true})
	assert.Nil(t, cleared.Record("a.pdf"))
	assert.Nil(t, cleared.Record("c.txt"))
	assert.Equal(t, []string{"b.pdf"}, cleared.Order)
}

func TestClearAll(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), pdf("b.pdf")}})
	s = mustReduce(t, s, Start{Name: "a.pdf"})

	s = mustReduce(t, s, ClearAll{})
	assert.Empty(t, s.Records)
	assert.Empty(t, s.Pending)
	assert.Empty(t, s.Active)
}

func TestReduceNeverMutatesInput(t *testing.T) {
	s := mustReduce(t, NewState(), Enqueue{Files: []domain.IncomingFile{pdf("a.pdf"), pdf("b.pdf")}})
	before := s.Clone()

	_ = mustReduce(t, s, Start{Name: "a.pdf"})
	_ = mustReduce(t, s, Remove{Name: "b.pdf"})
	_ = mustReduce(t, s, ClearAll{})

	assert.Equal(t, before.Pending, s.Pending)
	assert.Equal(t, before.Order, s.Order)
	assert.Equal(t, before.Active, s.Active)
	require.Len(t, s.Records, len(before.Records))
	for name, r := range before.Records {
		assert.Equal(t, *r, *s.Records[name])
	}
}

// TestInvariantsUnderRandomActions drives the reducer with arbitrary
// action sequences and verifies that no reachable state ever violates
// the queue invariants, in particular that at most one record is in
// flight at a time.
func TestInvariantsUnderRandomActions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	names := []string{"a.pdf", "b.pdf", "c.pdf", "d.txt"}

	randomAction := func(s State) Action {
		name := names[rng.Intn(len(names))]
		switch rng.Intn(9) {
		case 0:
			count := 1 + rng.Intn(3)
			files := make([]domain.IncomingFile, 0, count)
			for i := 0; i < count; i++ {
				files = append(files, pdf(names[rng.Intn(len(names))]))
			}
			return Enqueue{Files: files, ReplaceExisting: rng.Intn(4) == 0}
		case 1:
			return Remove{Name: name}
		case 2:
			if len(s.Pending) > 0 && rng.Intn(2) == 0 {
				return Start{Name: s.Pending[0]}
			}
			return Start{Name: name}
		case 3:
			return Skip{Name: name, Reason: "test skip"}
		case 4:
			statuses := []string{
				domain.FileStatusProcessing, domain.FileStatusCompleted,
				domain.FileStatusError, domain.FileStatusQueued,
			}
			return UpdateStatus{Name: name, Patch: domain.StatusPatch{
				Status:   ptr(statuses[rng.Intn(len(statuses))]),
				Progress: ptr(rng.Intn(101)),
			}}
		case 5:
			return SetConversionID{ID: fmt.Sprintf("%d", rng.Intn(100))}
		case 6:
			return Retry{Name: name}
		case 7:
			return ClearCompleted{IncludeSkipped: rng.Intn(2) == 0}
		default:
			return ClearActive{}
		}
	}

	s := NewState()
	for i := 0; i < 5000; i++ {
		action := randomAction(s)
		next, err := Reduce(s, action)
		if err != nil {
			// Rejected actions must leave the state untouched.
			require.NoError(t, Check(s), "step %d: %#v", i, action)
			continue
		}
		require.NoError(t, Check(next), "step %d: %#v", i, action)
		s = next
	}
}

func ptr[T any](v T) *T { return &v }
