// Package device emulates an asynchronous compute device on the host: work
// is launched onto a stream and runs on a fixed pool of goroutines until the
// caller synchronizes.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrClosed is returned when launching onto a closed stream.
var ErrClosed = errors.New("device: stream closed")

type task struct {
	fn func() error
}

// Stream is a queue of asynchronous work executed by a worker pool.
// Launch returns as soon as the work is queued; Synchronize blocks until
// everything launched before it has finished.
type Stream struct {
	size  int
	tasks chan task

	mu sync.Mutex
	// idle is signalled whenever pending drops to zero.
	idle    *sync.Cond
	pending int
	errs    []error
	closed  bool
	once    sync.Once
}

// NewStream starts a stream with the given number of workers. workers <= 0
// uses GOMAXPROCS.
func NewStream(workers int) *Stream {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}
	s := &Stream{
		size:  workers,
		tasks: make(chan task, workers*2),
	}
	s.idle = sync.NewCond(&s.mu)
	for range workers {
		go s.work()
	}
	return s
}

func (s *Stream) work() {
	for t := range s.tasks {
		err := run(t.fn)
		s.mu.Lock()
		if err != nil {
			s.errs = append(s.errs, err)
		}
		s.pending--
		if s.pending == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device: kernel panic: %v", r)
		}
	}()
	return fn()
}

// Workers is the number of goroutines executing the stream.
func (s *Stream) Workers() int {
	return s.size
}

// Launch queues fn. Errors surface at the next Synchronize.
func (s *Stream) Launch(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending++
	s.mu.Unlock()
	s.tasks <- task{fn: fn}
	return nil
}

// Synchronize waits until no launched work is outstanding and returns the
// errors produced since the previous Synchronize. It is safe to call from
// several goroutines at once.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	for s.pending > 0 {
		s.idle.Wait()
	}
	errs := s.errs
	s.errs = nil
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Close drains the stream and stops the workers.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.Synchronize()
	s.once.Do(func() { close(s.tasks) })
	return err
}
