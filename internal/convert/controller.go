// Package convert drives queued files through the external converter:
// upload, progress polling, completion or error, then on to the next
// file. All queue state is owned by a single run loop; network round
// trips run as tasks that post their results back as events, so every
// transition happens on one goroutine in event order.
package convert

import (
	"context"
	"sync"
	"time"

	"github.com/inkmd/inkmd/internal/domain"
	"github.com/inkmd/inkmd/internal/queue"
	"go.uber.org/zap"
)

// Converter is the backend surface the controller needs
type Converter interface {
	Submit(ctx context.Context, filename string, data []byte) (string, error)
	Progress(ctx context.Context, conversionID string) (*domain.ProgressReport, error)
}

// HistoryAppender receives completed conversions
type HistoryAppender interface {
	Add(filename, markdown string, fileSize int64, pageCount int) *domain.HistoryItem
}

// CurrentDocument is the most recently completed conversion, kept for
// the markdown display.
type CurrentDocument struct {
	Filename string `json:"filename"`
	Markdown string `json:"markdown"`
}

// submitResult is posted when an upload task finishes
type submitResult struct {
	name         string
	conversionID string
	err          error
}

// pollResult is posted when a progress request finishes. It carries
// the conversion id it was issued for so the loop can discard
// responses that a newer conversion has superseded.
type pollResult struct {
	conversionID string
	report       *domain.ProgressReport
	err          error
}

type command struct {
	run   func() error
	reply chan error
	// readOnly commands skip the snapshot broadcast.
	readOnly bool
}

// Controller owns the conversion queue state machine
type Controller struct {
	converter Converter
	history   HistoryAppender
	logger    *zap.Logger

	pollInterval   time.Duration
	requestTimeout time.Duration

	state        queue.State
	current      *CurrentDocument
	pollInFlight bool

	commands  chan command
	events    chan any
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// notify receives a snapshot after every state transition.
	notify func(queue.State)
}

// Option configures a Controller
type Option func(*Controller)

// WithNotify registers a snapshot listener invoked from the run loop
// after every transition.
func WithNotify(fn func(queue.State)) Option {
	return func(c *Controller) { c.notify = fn }
}

// WithPollInterval overrides the progress polling interval
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// NewController creates a controller and starts its run loop
func NewController(converter Converter, history HistoryAppender, requestTimeout time.Duration, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		converter:      converter,
		history:        history,
		logger:         logger,
		pollInterval:   500 * time.Millisecond,
		requestTimeout: requestTimeout,
		state:          queue.NewState(),
		commands:       make(chan command),
		events:         make(chan any, 16),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.run()
	return c
}

// Close stops the run loop
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.stopped
}

func (c *Controller) run() {
	defer close(c.stopped)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.commands:
			err := cmd.run()
			cmd.reply <- err
			if err == nil && !cmd.readOnly {
				c.publish()
			}
		case ev := <-c.events:
			c.handleEvent(ev)
			c.publish()
		case <-ticker.C:
			c.pollTick()
		}
	}
}

// do runs a mutation inside the loop and waits for its result
func (c *Controller) do(run func() error) error {
	return c.send(command{run: run, reply: make(chan error, 1)})
}

// ask runs a read inside the loop without broadcasting a snapshot
func (c *Controller) ask(run func() error) error {
	return c.send(command{run: run, reply: make(chan error, 1), readOnly: true})
}

func (c *Controller) send(cmd command) error {
	select {
	case c.commands <- cmd:
		return <-cmd.reply
	case <-c.done:
		return domain.ErrInvalidRequest
	}
}

// AddFiles validates and enqueues an upload batch, then starts
// processing if the queue is idle. An active file is never
// interrupted.
func (c *Controller) AddFiles(files []domain.IncomingFile, replaceExisting bool) error {
	return c.do(func() error {
		next, err := queue.Reduce(c.state, queue.Enqueue{Files: files, ReplaceExisting: replaceExisting})
		if err != nil {
			return err
		}
		c.state = next
		c.processNext()
		return nil
	})
}

// Remove deletes one file from the queue. Removing the active file
// cancels its poll; a late in-flight response is discarded by the
// stale-id guard.
func (c *Controller) Remove(name string) error {
	return c.do(func() error {
		next, err := queue.Reduce(c.state, queue.Remove{Name: name})
		if err != nil {
			return err
		}
		c.state = next
		c.processNext()
		return nil
	})
}

// Retry requeues an errored file ahead of everything still pending
func (c *Controller) Retry(name string) error {
	return c.do(func() error {
		next, err := queue.Reduce(c.state, queue.Retry{Name: name})
		if err != nil {
			return err
		}
		c.state = next
		c.processNext()
		return nil
	})
}

// ClearCompleted removes completed (and optionally skipped) records
func (c *Controller) ClearCompleted(includeSkipped bool) error {
	return c.do(func() error {
		next, err := queue.Reduce(c.state, queue.ClearCompleted{IncludeSkipped: includeSkipped})
		if err != nil {
			return err
		}
		c.state = next
		return nil
	})
}

// ClearAll resets the queue and cancels any in-flight poll
func (c *Controller) ClearAll() error {
	return c.do(func() error {
		next, err := queue.Reduce(c.state, queue.ClearAll{})
		if err != nil {
			return err
		}
		c.state = next
		return nil
	})
}

// Snapshot returns a copy of the queue state
func (c *Controller) Snapshot() queue.State {
	snap := queue.NewState()
	c.ask(func() error {
		snap = c.state.Clone()
		return nil
	})
	return snap
}

// Current returns the most recently completed document, or nil
func (c *Controller) Current() *CurrentDocument {
	var doc *CurrentDocument
	c.ask(func() error {
		if c.current != nil {
			d := *c.current
			doc = &d
		}
		return nil
	})
	return doc
}

// processNext drains the head of the pending queue. It is a no-op
// when a file is already active or nothing is pending. Unsupported
// files are skipped in place so one bad file never blocks the batch.
func (c *Controller) processNext() {
	for c.state.Active == "" && len(c.state.Pending) > 0 {
		name := c.state.Pending[0]
		record := c.state.Record(name)

		if !queue.IsSupported(domain.IncomingFile{Name: record.Name, MimeType: record.MimeType}) {
			c.reduce(queue.Skip{Name: name, Reason: queue.SkipReasonUnsupported})
			continue
		}

		c.reduce(queue.Start{Name: name})
		c.logger.Info("starting upload", zap.String("file", name), zap.Int64("size", record.Size))

		go c.submitTask(name, record.Data)
		return
	}
}

func (c *Controller) submitTask(name string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	conversionID, err := c.converter.Submit(ctx, name, data)
	select {
	case c.events <- submitResult{name: name, conversionID: conversionID, err: err}:
	case <-c.done:
	}
}

func (c *Controller) pollTick() {
	if c.state.ActiveConversionID == "" || c.pollInFlight {
		return
	}
	c.pollInFlight = true
	conversionID := c.state.ActiveConversionID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		defer cancel()

		report, err := c.converter.Progress(ctx, conversionID)
		select {
		case c.events <- pollResult{conversionID: conversionID, report: report, err: err}:
		case <-c.done:
		}
	}()
}

func (c *Controller) handleEvent(ev any) {
	switch e := ev.(type) {
	case submitResult:
		c.handleSubmitResult(e)
	case pollResult:
		c.handlePollResult(e)
	}

	if err := queue.Check(c.state); err != nil {
		c.logger.Error("queue invariant violated", zap.Error(err))
	}
}

func (c *Controller) handleSubmitResult(e submitResult) {
	// The file may have been removed or the batch cleared while the
	// upload was in flight.
	if c.state.Active != e.name {
		c.logger.Debug("dropping stale submit result", zap.String("file", e.name))
		return
	}

	if e.err != nil {
		c.logger.Warn("upload failed", zap.String("file", e.name), zap.Error(e.err))
		c.failActive(e.err.Error())
		c.processNext()
		return
	}

	c.reduce(queue.SetConversionID{ID: e.conversionID})
	c.patchActive(domain.StatusPatch{
		Status: ptr(domain.FileStatusProcessing),
		Stage:  ptr("Waiting for conversion..."),
	})
	c.logger.Info("conversion started",
		zap.String("file", e.name), zap.String("conversion_id", e.conversionID))
}

func (c *Controller) handlePollResult(e pollResult) {
	c.pollInFlight = false

	// Stale-poll guard: a late response for a superseded conversion
	// must not touch a newer record.
	if e.conversionID != c.state.ActiveConversionID {
		c.logger.Debug("dropping stale poll response", zap.String("conversion_id", e.conversionID))
		return
	}
	name := c.state.Active
	if name == "" {
		return
	}

	if e.err != nil {
		// A transport failure terminates the poll; the record must
		// not stay stuck in processing.
		c.logger.Warn("progress poll failed", zap.String("file", name), zap.Error(e.err))
		c.failActive(e.err.Error())
		c.processNext()
		return
	}

	switch e.report.Status {
	case domain.ConversionStatusCompleted:
		c.completeActive(name, e.report)
		c.processNext()

	case domain.ConversionStatusError:
		message := e.report.Error
		if message == "" {
			message = "conversion failed"
		}
		c.failActive(message)
		c.processNext()

	default:
		c.patchActive(domain.StatusPatch{
			Progress:    ptr(e.report.Progress),
			Stage:       ptr(e.report.Stage),
			TotalPages:  ptr(e.report.TotalPages),
			CurrentPage: ptr(e.report.CurrentPage),
		})
	}
}

func (c *Controller) completeActive(name string, report *domain.ProgressReport) {
	if report.Result == nil {
		c.failActive("conversion completed without a result")
		return
	}

	record := c.state.Record(name)
	pageCount := report.Result.PageCount
	if pageCount == 0 {
		pageCount = report.TotalPages
	}

	c.patchActive(domain.StatusPatch{
		Status:     ptr(domain.FileStatusCompleted),
		Progress:   ptr(100),
		Stage:      ptr("Conversion complete"),
		TotalPages: ptr(pageCount),
		Markdown:   ptr(report.Result.Markdown),
	})

	item := c.history.Add(name, report.Result.Markdown, record.Size, pageCount)
	c.current = &CurrentDocument{Filename: name, Markdown: report.Result.Markdown}
	c.logger.Info("conversion completed",
		zap.String("file", name), zap.Int64("history_id", item.ID), zap.Int("pages", pageCount))
}

// failActive marks the active record errored, which also releases the
// active slot and the tracked conversion id.
func (c *Controller) failActive(message string) {
	c.patchActive(domain.StatusPatch{
		Status: ptr(domain.FileStatusError),
		Stage:  ptr("Error"),
		Error:  ptr(message),
	})
}

func (c *Controller) patchActive(patch domain.StatusPatch) {
	name := c.state.Active
	if name == "" {
		return
	}
	c.reduce(queue.UpdateStatus{Name: name, Patch: patch})
}

func (c *Controller) reduce(action queue.Action) {
	next, err := queue.Reduce(c.state, action)
	if err != nil {
		c.logger.Error("queue transition failed", zap.Error(err))
		return
	}
	c.state = next
}

func (c *Controller) publish() {
	if c.notify != nil {
		c.notify(c.state.Clone())
	}
}

func ptr[T any](v T) *T {
	return &v
}
