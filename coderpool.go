// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrCoderPoolSaturated is returned by [*CoderPool.Submit] when the pool's
// queue is full or it has already been shut down (§4.D "submission is
// refused"). Callers post [PacketSendingFailedEvent] (encoder side) or
// [PacketReceiveRejectedEvent] (decoder side) in response.
var ErrCoderPoolSaturated = errors.New("netmux: coder pool saturated or shut down")

type coderPoolCtxKey struct{}

// CoderPool wraps a small cached worker goroutine group used to offload
// CPU-bound packet encode/decode work off a connection's reader or
// caller goroutine (§4.D). A pool may be "disabled" (pass-through mode,
// selected by [Config.UseEncoderThreadPool]/[Config.UseDecoderThreadPool]
// being false), in which case [*CoderPool.Submit] always runs inline and
// [*CoderPool.IsValidCoderThread] always reports true.
type CoderPool struct {
	disabled bool
	tasks    chan func(context.Context)
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// NewCoderPool starts workers goroutines backing the pool. If workers <= 0
// the pool is disabled and behaves as a pass-through.
func NewCoderPool(workers int, queueCapacity int) *CoderPool {
	if workers <= 0 {
		return &CoderPool{disabled: true}
	}
	if queueCapacity <= 0 {
		queueCapacity = workers * 4
	}

	p := &CoderPool{
		tasks: make(chan func(context.Context), queueCapacity),
		done:  make(chan struct{}),
	}
	for range workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// DefaultCoderPoolSize is the worker count used when a pool is enabled
// without an explicit size, mirroring GOMAXPROCS the way the teacher's
// other pooled components size their caches.
func DefaultCoderPoolSize() int {
	return runtime.GOMAXPROCS(0)
}

func (p *CoderPool) worker() {
	defer p.wg.Done()
	ctx := context.WithValue(context.Background(), coderPoolCtxKey{}, p)
	for {
		select {
		case <-p.done:
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task(ctx)
		}
	}
}

// IsValidCoderThread reports whether ctx was produced by a task running on
// this pool's own workers, or whether the pool is disabled.
//
// Usage rule (§4.D): before calling the blocking encode/decode path, check
// this first. If true, do the work inline; if false, call
// [*CoderPool.Submit] instead. This prevents a handler running on a pool
// worker from deadlocking by resubmitting to the same pool.
func (p *CoderPool) IsValidCoderThread(ctx context.Context) bool {
	if p.disabled {
		return true
	}
	return ctx.Value(coderPoolCtxKey{}) == p
}

// Submit runs task on the pool. If the pool is disabled, task runs inline
// synchronously. Otherwise Submit enqueues task and returns immediately;
// if the queue is full or the pool has been shut down, it returns
// [ErrCoderPoolSaturated] without running task.
func (p *CoderPool) Submit(ctx context.Context, task func(context.Context)) error {
	if p.disabled {
		task(ctx)
		return nil
	}

	select {
	case <-p.done:
		return ErrCoderPoolSaturated
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrCoderPoolSaturated
	}
}

// Shutdown stops accepting work and terminates every worker goroutine.
// Tasks still queued are dropped (§4.D "pending submissions are
// dropped").
func (p *CoderPool) Shutdown() {
	if p.disabled {
		return
	}
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
