package application

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	log "github.com/sirupsen/logrus"
)

type ExecutionState uint8

const (
	ExecutionQueued ExecutionState = iota
	ExecutionRunning
	// ExecutionDispatched means the provider accepted the request and a monitor
	// is reconciling it.
	ExecutionDispatched
	ExecutionDone
	ExecutionFailed
)

func (s ExecutionState) String() string {
	return []string{"QUEUED", "RUNNING", "DISPATCHED", "DONE", "FAILED"}[s]
}

func (s ExecutionState) isFinal() bool {
	return s == ExecutionDone || s == ExecutionFailed
}

// ExecutionHandle is a snapshot of the background execution of an operation.
type ExecutionHandle struct {
	OperationId string
	State       ExecutionState
	Error       string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

type executionEntry struct {
	handle ExecutionHandle
	// closed once the worker returns, whatever the outcome.
	done chan struct{}
}

// executeFunc runs the operation and reports whether it was handed over to a
// monitor rather than completed synchronously.
type executeFunc func(ctx context.Context, operationId string) (dispatched bool, err error)

type executionQueue struct {
	pool    *workerpool.WorkerPool
	execute executeFunc

	lock    *sync.RWMutex
	entries map[string]*executionEntry
}

func newExecutionQueue(workers int, execute executeFunc) *executionQueue {
	if workers <= 0 {
		workers = 1
	}
	return &executionQueue{
		pool:    workerpool.New(workers),
		execute: execute,
		lock:    &sync.RWMutex{},
		entries: make(map[string]*executionEntry),
	}
}

// submit enqueues the operation unless it is already queued or running.
func (q *executionQueue) submit(ctx context.Context, operationId string) ExecutionHandle {
	q.lock.Lock()
	defer q.lock.Unlock()

	if entry, ok := q.entries[operationId]; ok {
		state := entry.handle.State
		if state == ExecutionQueued || state == ExecutionRunning {
			return entry.handle
		}
	}

	now := time.Now()
	entry := &executionEntry{
		handle: ExecutionHandle{
			OperationId: operationId,
			State:       ExecutionQueued,
			SubmittedAt: now,
			UpdatedAt:   now,
		},
		done: make(chan struct{}),
	}
	q.entries[operationId] = entry

	q.pool.Submit(func() {
		defer close(entry.done)
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("execution of operation %s panicked: %v", operationId, r)
				q.setState(operationId, ExecutionFailed, "panic during execution")
			}
		}()

		q.setState(operationId, ExecutionRunning, "")

		dispatched, err := q.execute(ctx, operationId)
		if err != nil {
			log.WithError(err).WithField("operation_id", operationId).
				Warn("background execution failed")
			q.setState(operationId, ExecutionFailed, err.Error())
			return
		}
		if dispatched {
			q.setState(operationId, ExecutionDispatched, "")
			return
		}
		q.setState(operationId, ExecutionDone, "")
	})

	return entry.handle
}

// finish records the outcome of a dispatched execution once its monitor is done.
func (q *executionQueue) finish(operationId string, err error) {
	if err != nil {
		q.setState(operationId, ExecutionFailed, err.Error())
		return
	}
	q.setState(operationId, ExecutionDone, "")
}

func (q *executionQueue) get(operationId string) (ExecutionHandle, bool) {
	q.lock.RLock()
	defer q.lock.RUnlock()

	entry, ok := q.entries[operationId]
	if !ok {
		return ExecutionHandle{}, false
	}
	return entry.handle, true
}

// wait blocks until the worker of the latest submission of the operation returns.
func (q *executionQueue) wait(ctx context.Context, operationId string) (ExecutionHandle, bool) {
	q.lock.RLock()
	entry, ok := q.entries[operationId]
	q.lock.RUnlock()
	if !ok {
		return ExecutionHandle{}, false
	}

	select {
	case <-entry.done:
	case <-ctx.Done():
	}
	return q.get(operationId)
}

func (q *executionQueue) stop() {
	q.pool.StopWait()
}

func (q *executionQueue) setState(operationId string, state ExecutionState, errMsg string) {
	q.lock.Lock()
	defer q.lock.Unlock()

	entry, ok := q.entries[operationId]
	if !ok {
		entry = &executionEntry{
			handle: ExecutionHandle{OperationId: operationId, SubmittedAt: time.Now()},
			done:   make(chan struct{}),
		}
		close(entry.done)
		q.entries[operationId] = entry
	}
	// a monitor may finish before the worker marks the dispatch.
	if entry.handle.State.isFinal() && !state.isFinal() {
		return
	}
	entry.handle.State = state
	entry.handle.Error = errMsg
	entry.handle.UpdatedAt = time.Now()
}
