// Package pool is the bounded worker executor that handlers use to run
// blocking, CPU-bound work (TLS handshakes, compression, anything that
// must never run on an Event Loop goroutine per spec.md §9 "Blocking
// delegated tasks") off the loop, posting completions back as ordinary
// submitted tasks.
package pool

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// JobFunc is a unit of work submitted via RunJobs. A non-nil result short
// circuits the remaining jobs in that batch.
type JobFunc func(payload interface{}) (interface{}, error)

// StoppableJobFunc is a unit of long-running work submitted via
// RunStoppableJobs; it must observe stopCh and return promptly once it is
// closed.
type StoppableJobFunc func(payload interface{}, stopCh <-chan struct{}) error

var (
	metricQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netgo",
		Subsystem: "pool",
		Name:      "queue_length",
		Help:      "Current length of the blocking-task executor's queue.",
	})
	metricQueueMax = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netgo",
		Subsystem: "pool",
		Name:      "queue_max",
		Help:      "Maximum number of items allowed in the blocking-task executor's queue.",
	})
)

// Pool is a bounded, fixed-size goroutine executor.
type Pool struct {
	cfg  *Config
	size *atomic.Int32

	workQueue  chan func()
	shutdownWg sync.WaitGroup
}

// NewPool starts cfg.MaxWorkers goroutines draining a queue of depth
// cfg.QueueDepth. A nil cfg uses defaultConfig.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = defaultConfig()
	}

	p := &Pool{
		cfg:       cfg,
		workQueue: make(chan func(), cfg.QueueDepth),
		size:      atomic.NewInt32(0),
	}

	p.shutdownWg.Add(cfg.MaxWorkers)
	for i := 0; i < cfg.MaxWorkers; i++ {
		go p.worker()
	}

	metricQueueMax.Set(float64(cfg.QueueDepth))

	return p
}

// Shutdown closes the work queue and waits for every worker goroutine
// to drain it and exit. The Pool must not be submitted to again after
// Shutdown returns.
func (p *Pool) Shutdown() {
	close(p.workQueue)
	p.shutdownWg.Wait()
}

func (p *Pool) worker() {
	defer p.shutdownWg.Done()
	for task := range p.workQueue {
		p.size.Dec()
		metricQueueLength.Set(float64(p.size.Load()))
		task()
	}
}

// submit enqueues task, failing if the queue has no room.
func (p *Pool) submit(task func()) error {
	select {
	case p.workQueue <- task:
		p.size.Inc()
		metricQueueLength.Set(float64(p.size.Load()))
		return nil
	default:
		return fmt.Errorf("pool: queue is full")
	}
}

// RunJobs runs fn over every payload concurrently and returns the first
// non-nil result produced, or every job's combined error if none did.
// It fails fast if the queue doesn't have room for all of payloads.
func (p *Pool) RunJobs(payloads []interface{}, fn JobFunc) (interface{}, error) {
	total := len(payloads)
	if int(p.size.Load())+total > p.cfg.QueueDepth {
		return nil, fmt.Errorf("queue doesn't have room for %d jobs", total)
	}

	results := make(chan interface{}, 1)
	wg := &sync.WaitGroup{}
	wg.Add(total)
	stopped := atomic.NewBool(false)

	errMu := sync.Mutex{}
	var errs []error

	for _, payload := range payloads {
		payload := payload
		err := p.submit(func() {
			defer wg.Done()
			if stopped.Load() {
				return
			}
			msg, err := fn(payload)
			if err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				return
			}
			if msg != nil {
				select {
				case results <- msg:
				default:
				}
			}
		})
		if err != nil {
			stopped.Store(true)
			wg.Done()
			return nil, err
		}
	}

	allDone := make(chan struct{}, 1)
	go func() {
		wg.Wait()
		allDone <- struct{}{}
	}()

	select {
	case msg := <-results:
		stopped.Store(true)
		return msg, nil
	case <-allDone:
		// A result may have arrived alongside allDone; it takes precedence.
		select {
		case msg := <-results:
			return msg, nil
		default:
		}
		errMu.Lock()
		defer errMu.Unlock()
		return nil, multierr.Combine(errs...)
	}
}

func waitGroupAdd(n int) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	wg.Add(n)
	return wg
}

// Stopper stops every still-running StoppableJobFunc started by a
// RunStoppableJobs call and reports the last error any of them returned.
type Stopper struct {
	stopCh chan struct{}
	once   atomic.Bool
	wg     *sync.WaitGroup
	err    *atomic.Error
}

// Stop closes the stop channel observed by every job, waits for all of
// them to return, and reports the last non-nil error any of them
// produced. Safe to call more than once.
func (s *Stopper) Stop() error {
	if s.once.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
	s.wg.Wait()
	return s.err.Load()
}

// RunStoppableJobs starts fn for every payload on the executor and
// returns immediately with a Stopper that can be used to signal and
// await their completion.
func (p *Pool) RunStoppableJobs(payloads []interface{}, fn StoppableJobFunc) (*Stopper, error) {
	total := len(payloads)
	if int(p.size.Load())+total > p.cfg.QueueDepth {
		return nil, fmt.Errorf("queue doesn't have room for %d jobs", total)
	}

	s := &Stopper{
		stopCh: make(chan struct{}),
		wg:     waitGroupAdd(total),
		err:    atomic.NewError(nil),
	}

	for _, payload := range payloads {
		payload := payload
		err := p.submit(func() {
			defer s.wg.Done()
			if err := fn(payload, s.stopCh); err != nil {
				s.err.Store(err)
			}
		})
		if err != nil {
			s.wg.Done()
			return s, err
		}
	}

	return s, nil
}
