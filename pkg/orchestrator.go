package regionfix

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mattkeenan/regionfix/pkg/nbt"
)

var (
	ErrNotStarted     = errors.New("regionfix: scan run not started")
	ErrAlreadyStarted = errors.New("regionfix: scan run already started")
)

// RunState is the lifecycle of a ScanRun.
type RunState int

const (
	StateIdle RunState = iota
	StateDispatched
	StateDraining
	StateFinished
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// WorkItem is one container or data file to scan. Results are folded into
// the world and grid the item came from.
type WorkItem struct {
	Path    string
	Kind    GridKind
	Framing nbt.Framing

	data  bool
	world *World
	grid  *Grid
}

// IsDataFile reports whether the item is a stand-alone document.
func (it WorkItem) IsDataFile() bool {
	return it.data
}

// scanMessage is what a worker sends back for one item.
type scanMessage struct {
	item      WorkItem
	container *ScannedContainer
	data      *ScannedDataFile
	fault     []byte
}

// Progress is reported by Run after every poll that consumed results.
type Progress struct {
	Done   int
	Total  int
	Counts Counts
}

// scanFunc fills msg for one item. It returns an error only when the item
// could not be completed.
type scanFunc func(ctx context.Context, item WorkItem, opts ScanOptions, msg *scanMessage) error

func scanWorkItem(ctx context.Context, item WorkItem, opts ScanOptions, msg *scanMessage) error {
	if item.data {
		msg.data = NewScannedDataFile(item.Path, item.Framing)
		msg.data.Scan()
		return nil
	}
	msg.container = NewScannedContainer(item.Path, item.Kind)
	return msg.container.scan(ctx, opts)
}

// ScanRun scans a list of work items, either inline or on a bounded pool
// of goroutines, and folds each result into its parent as it arrives.
type ScanRun struct {
	items []WorkItem
	opts  ScanOptions
	state RunState

	ctx       context.Context
	cancel    context.CancelFunc
	queue     chan scanMessage
	submitted chan struct{} // closed once every item has been handed out
	exited    chan struct{} // closed once no worker goroutine remains
	inline    bool
	next      int

	received int
	counts   Counts
	err      error

	scanItem scanFunc
}

// NewScanRun returns an idle run over items.
func NewScanRun(items []WorkItem, opts ScanOptions) *ScanRun {
	return &ScanRun{
		items:    items,
		opts:     opts,
		scanItem: scanWorkItem,
	}
}

// NewWorldScan returns an idle run over every item of w.
func NewWorldScan(w *World, opts ScanOptions) *ScanRun {
	return NewScanRun(w.WorkItems(), opts)
}

// State returns the current lifecycle state.
func (s *ScanRun) State() RunState {
	return s.state
}

// Progress returns how many results have been folded so far.
func (s *ScanRun) Progress() Progress {
	return Progress{Done: s.received, Total: len(s.items), Counts: s.counts}
}

// ============================================================================
// DISPATCH
// ============================================================================

// Start hands the items to the worker pool. With one worker or fewer no
// goroutines are started and Poll scans one item per call.
func (s *ScanRun) Start(ctx context.Context) error {
	if s.state != StateIdle {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan scanMessage, len(s.items))
	s.submitted = make(chan struct{})
	s.exited = make(chan struct{})
	s.inline = s.opts.Workers <= 1
	s.state = StateDispatched

	if s.inline {
		close(s.exited)
		if len(s.items) == 0 {
			close(s.submitted)
		}
		VerboseLog(2, "scanning %d items inline", len(s.items))
		return nil
	}

	g, gctx := errgroup.WithContext(s.ctx)
	g.SetLimit(s.opts.Workers)
	VerboseLog(2, "scanning %d items with %d workers", len(s.items), s.opts.Workers)

	go func() {
		defer close(s.exited)
		for _, item := range s.items {
			if gctx.Err() != nil {
				break
			}
			item := item
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				if msg, ok := s.runItem(gctx, item); ok {
					s.queue <- msg
				}
				return nil
			})
		}
		close(s.submitted)
		g.Wait()
	}()
	return nil
}

// runItem scans one item, turning panics and unexpected errors into an
// encoded fault. ok is false when the item was abandoned by cancellation.
func (s *ScanRun) runItem(ctx context.Context, item WorkItem) (msg scanMessage, ok bool) {
	msg.item = item
	defer func() {
		if r := recover(); r != nil {
			msg.fault = encodeFault(newWorkerFault(item.Path, r))
			ok = true
		}
	}()

	if err := s.scanItem(ctx, item, s.opts, &msg); err != nil {
		if ctx.Err() != nil {
			return msg, false
		}
		msg.fault = encodeFault(newWorkerFault(item.Path, err))
	}
	return msg, true
}

// ============================================================================
// COLLECTION
// ============================================================================

// Poll folds every result that is ready without blocking. done is true
// once the run has finished, successfully or not.
func (s *ScanRun) Poll() (done bool, err error) {
	switch s.state {
	case StateIdle:
		return false, ErrNotStarted
	case StateFinished:
		return true, s.err
	}
	if err := s.ctx.Err(); err != nil {
		return true, s.finish(errors.Wrap(err, "scan interrupted"))
	}

	if s.inline && s.next < len(s.items) {
		item := s.items[s.next]
		s.next++
		if msg, ok := s.runItem(s.ctx, item); ok {
			s.queue <- msg
		}
		if s.next == len(s.items) {
			close(s.submitted)
		}
	}

drain:
	for {
		select {
		case msg := <-s.queue:
			if err := s.apply(msg); err != nil {
				return true, s.finish(err)
			}
		default:
			break drain
		}
	}

	if s.state == StateDispatched {
		select {
		case <-s.submitted:
			s.state = StateDraining
		default:
		}
	}
	if s.state == StateDraining && s.received == len(s.items) {
		s.finish(nil)
		return true, nil
	}
	return false, nil
}

// apply folds one result into its parent aggregates.
func (s *ScanRun) apply(msg scanMessage) error {
	s.received++
	if msg.fault != nil {
		fault, err := decodeFault(msg.fault)
		if err != nil {
			fault = WorkerFault{Kind: "undecodable", Message: err.Error(), Path: msg.item.Path}
		}
		cpe := &ChildProcessError{Fault: fault}
		switch {
		case msg.container != nil:
			cpe.Partial = msg.container
		case msg.data != nil:
			cpe.Partial = msg.data
		}
		return cpe
	}

	it := msg.item
	switch {
	case msg.container != nil:
		s.counts = s.counts.Add(msg.container.Counts())
		if it.world != nil {
			it.world.replaceContainer(it.grid, msg.container)
		} else if it.grid != nil {
			it.grid.replaceContainer(msg.container)
		}
	case msg.data != nil:
		s.counts = s.counts.Add(msg.data.Counts())
		if it.world != nil {
			it.world.replaceDataFile(msg.data)
		}
	}
	if IsDebugEnabled("scan") {
		pathLog(it.Path).Debugf("folded (%d/%d)", s.received, len(s.items))
	}
	return nil
}

func (s *ScanRun) finish(err error) error {
	s.state = StateFinished
	s.err = err
	s.cancel()
	return err
}

// Stop cancels the run, abandoning items still in flight, and waits for
// the worker goroutines to return. The run cannot be resumed.
func (s *ScanRun) Stop() {
	if s.state == StateIdle {
		s.state = StateFinished
		s.err = errors.Wrap(context.Canceled, "scan interrupted")
		return
	}
	s.cancel()
	<-s.exited
	if s.state != StateFinished {
		s.finish(errors.Wrap(context.Canceled, "scan interrupted"))
	}
}

// ============================================================================
// POLL LOOP
// ============================================================================

// nextPollInterval doubles the sleep after an empty poll and halves it
// after a productive one, within [MinPollInterval, MaxPollInterval].
func nextPollInterval(cur time.Duration, productive bool) time.Duration {
	if productive {
		cur /= 2
	} else {
		cur *= 2
	}
	if cur < MinPollInterval {
		return MinPollInterval
	}
	if cur > MaxPollInterval {
		return MaxPollInterval
	}
	return cur
}

// Run starts the run if needed and polls until it finishes. progress, if
// not nil, is called after every poll that folded at least one result.
func (s *ScanRun) Run(ctx context.Context, progress func(Progress)) error {
	if s.state == StateIdle {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}

	interval := MinPollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		before := s.received
		done, err := s.Poll()
		productive := s.received != before
		if productive && progress != nil {
			progress(s.Progress())
		}
		if done {
			if err != nil {
				s.Stop()
			}
			return err
		}

		interval = nextPollInterval(interval, productive)
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			s.Stop()
			return errors.Wrap(ctx.Err(), "scan interrupted")
		case <-timer.C:
		}
	}
}
