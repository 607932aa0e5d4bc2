// ABOUTME: Serial job executor guaranteeing at most one in-flight sync per data source.
// ABOUTME: New submissions join the previous job before starting; they never cancel it.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// PanicError is returned by Job.Wait when an operation panicked and no
// OnPanic converter was configured.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("sync operation panicked: %v", e.Value)
}

// Job is a handle to a submitted operation's outcome.
type Job[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// Done is closed when the job has finished and OnComplete has returned.
func (j *Job[T]) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. Ending ctx does not stop the job.
func (j *Job[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Options configures a Coordinator.
type Options[T any] struct {
	// OnComplete runs once per job on the job goroutine, in submission order.
	OnComplete func(T)
	// OnPanic converts a recovered panic into a failure outcome.
	OnPanic func(recovered any) T
	Logger  *log.Logger
}

// Coordinator runs submitted operations one at a time, in order.
type Coordinator[T any] struct {
	lock chan struct{}
	prev *Job[T]
	opts Options[T]
}

// New creates a coordinator with an idle worker.
func New[T any](opts Options[T]) *Coordinator[T] {
	return &Coordinator[T]{lock: make(chan struct{}, 1), opts: opts}
}

// Submit waits for the previous job to finish, then starts op and returns its
// handle. If ctx ends before op starts, Submit returns ctx.Err() and op never
// runs. A started op gets a context that ignores the submitter's cancellation.
func (c *Coordinator[T]) Submit(ctx context.Context, op func(context.Context) T) (*Job[T], error) {
	select {
	case c.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.lock }()

	if c.prev != nil {
		select {
		case <-c.prev.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	job := &Job[T]{done: make(chan struct{})}
	c.prev = job
	go c.run(context.WithoutCancel(ctx), job, op)
	return job, nil
}

// Run submits op and waits for its outcome.
func (c *Coordinator[T]) Run(ctx context.Context, op func(context.Context) T) (T, error) {
	job, err := c.Submit(ctx, op)
	if err != nil {
		var zero T
		return zero, err
	}
	return job.Wait(ctx)
}

// Drain waits for the most recently submitted job to finish.
func (c *Coordinator[T]) Drain(ctx context.Context) error {
	select {
	case c.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	prev := c.prev
	<-c.lock
	if prev == nil {
		return nil
	}
	select {
	case <-prev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator[T]) run(ctx context.Context, job *Job[T], op func(context.Context) T) {
	defer close(job.done)

	job.result, job.err = c.invoke(ctx, op)
	if c.opts.OnComplete != nil && job.err == nil {
		c.opts.OnComplete(job.result)
	}
}

func (c *Coordinator[T]) invoke(ctx context.Context, op func(context.Context) T) (result T, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if c.opts.Logger != nil {
			c.opts.Logger.Error("sync operation panicked", "panic", r)
		}
		if c.opts.OnPanic != nil {
			result = c.opts.OnPanic(r)
			return
		}
		err = &PanicError{Value: r}
	}()
	return op(ctx), nil
}

// Registry hands out one coordinator per data source.
type Registry[T any] struct {
	mu      sync.Mutex
	opts    Options[T]
	sources map[string]*Coordinator[T]
}

// NewRegistry creates a registry whose coordinators share opts.
func NewRegistry[T any](opts Options[T]) *Registry[T] {
	return &Registry[T]{opts: opts, sources: make(map[string]*Coordinator[T])}
}

// For returns the coordinator owned by source, creating it on first use.
func (r *Registry[T]) For(source string) *Coordinator[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sources[source]
	if !ok {
		c = New(r.opts)
		r.sources[source] = c
	}
	return c
}
