// Package loop implements the Event Loop: one goroutine per Loop,
// multiplexing readiness notifications for every Channel registered to
// it through an internal/poller.Selector and draining a FIFO task queue
// fed by Submit calls from any goroutine.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"go.uber.org/atomic"

	"github.com/nt-core/netgo/internal/poller"
)

// nextID hands out the monotonically increasing identity assigned to
// each Loop at construction, used by callers (e.g. the allocator's
// arena-pinning AllocateFor) that want a stable per-loop hash key.
var nextID = atomic.NewUint64(0)

// pollTimeout bounds how long a single Wait call blocks when no task
// has been submitted and Wake hasn't fired, so the loop still notices a
// cancelled context or a stop request promptly.
const pollTimeout = 10 * time.Millisecond

// failurePause is how long the loop goroutine sleeps after a selector
// Wait error or a panic escaping the loop body itself, so a tight crash
// loop can't spin the CPU. Panics in individual tasks and readiness
// callbacks are recovered and logged where they occur, without a pause.
const failurePause = time.Second

// Task is a unit of work run on the loop goroutine, in submission
// order, interleaved with readiness callbacks between polls.
type Task func()

// Callback is invoked on the loop goroutine when a registered fd
// becomes ready.
type Callback func(poller.Event)

type registration struct {
	interest poller.Interest
	callback Callback
}

// Loop is a single-goroutine readiness multiplexer plus task queue. Its
// Service lifecycle starts the goroutine on StartAsync and stops it,
// draining in-flight work, on StopAsync.
type Loop struct {
	id       uint64
	selector poller.Selector
	logger   log.Logger

	regMu         sync.Mutex
	registrations map[int]*registration

	taskMu sync.Mutex
	tasks  []Task

	wakeScheduled atomic.Bool
	stopRequested atomic.Bool

	Service services.Service
}

// New creates a Loop backed by a fresh platform Selector.
func New(logger log.Logger) (*Loop, error) {
	sel, err := poller.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	l := &Loop{
		id:            nextID.Inc(),
		selector:      sel,
		logger:        logger,
		registrations: make(map[int]*registration),
	}
	l.Service = services.NewBasicService(nil, l.running, l.stopping)
	return l, nil
}

// ID returns this Loop's process-unique identity, stable for the
// Loop's lifetime. Used as a hash key for arena-pinned allocation.
func (l *Loop) ID() uint64 { return l.id }

// Submit enqueues task to run on the loop goroutine. Safe to call from
// any goroutine, including the loop's own.
func (l *Loop) Submit(task Task) {
	l.taskMu.Lock()
	l.tasks = append(l.tasks, task)
	l.taskMu.Unlock()

	if l.wakeScheduled.CompareAndSwap(false, true) {
		l.selector.Wake()
	}
}

// Register adds fd to the loop's selector with the given interest,
// invoking cb on the loop goroutine whenever fd becomes ready.
func (l *Loop) Register(fd int, interest poller.Interest, cb Callback) error {
	l.regMu.Lock()
	l.registrations[fd] = &registration{interest: interest, callback: cb}
	l.regMu.Unlock()
	return l.selector.Add(fd, interest, fd)
}

// ModifyInterest changes the readiness conditions fd is watched for,
// e.g. adding InterestWrite once a partial write leaves data queued.
func (l *Loop) ModifyInterest(fd int, interest poller.Interest) error {
	l.regMu.Lock()
	if reg, ok := l.registrations[fd]; ok {
		reg.interest = interest
	}
	l.regMu.Unlock()
	return l.selector.Modify(fd, interest)
}

// Unregister removes fd from the loop's selector. Safe to call more
// than once or for an fd never registered.
func (l *Loop) Unregister(fd int) error {
	l.regMu.Lock()
	delete(l.registrations, fd)
	l.regMu.Unlock()
	return l.selector.Remove(fd)
}

func (l *Loop) running(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if l.stopRequested.Load() {
			return nil
		}

		l.pollOnce()
	}
}

// pollOnce runs a single Wait-then-drain cycle, recovering from any
// panic in a callback or task so one bad handler can't kill the loop.
func (l *Loop) pollOnce() {
	defer func() {
		if r := recover(); r != nil {
			level.Error(l.logger).Log("msg", "recovered panic in loop body", "panic", r)
			time.Sleep(failurePause)
		}
	}()

	events, err := l.selector.Wait(pollTimeout)
	l.wakeScheduled.Store(false)
	if err != nil {
		level.Error(l.logger).Log("msg", "selector wait failed", "err", err)
		time.Sleep(failurePause)
		return
	}

	for _, e := range events {
		l.dispatch(e)
	}

	l.drainTasks()
}

func (l *Loop) dispatch(e poller.Event) {
	l.regMu.Lock()
	reg, ok := l.registrations[e.Fd]
	l.regMu.Unlock()
	if !ok || reg.callback == nil {
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				level.Error(l.logger).Log("msg", "recovered panic dispatching readiness callback", "fd", e.Fd, "panic", r)
			}
		}()
		reg.callback(e)
	}()
}

func (l *Loop) drainTasks() {
	l.taskMu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.taskMu.Unlock()

	for _, t := range tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					level.Error(l.logger).Log("msg", "recovered panic running submitted task", "panic", r)
				}
			}()
			t()
		}()
	}
}

func (l *Loop) stopping(_ error) error {
	l.stopRequested.Store(true)
	l.selector.Wake()
	return l.selector.Close()
}
