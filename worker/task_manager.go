package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleflea/sense-voice-recognizer/model"
)

// ProcessFunc runs one job on the worker goroutine. It is never called
// concurrently with itself.
type ProcessFunc func(input model.AudioData) (model.Result, error)

// JobRecorder receives job lifecycle transitions.
type JobRecorder interface {
	Add(ctx context.Context, rec *model.JobRecord) error
	UpdateStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error
	Delete(ctx context.Context, id string) error
}

// Observer receives lifecycle events for metrics.
type Observer interface {
	JobSubmitted(priority int)
	JobRejected()
	JobStarted(wait time.Duration)
	JobFinished(status model.JobStatus, elapsed time.Duration, audioSeconds float64)
}

type Option func(*TaskManager)

func WithRecorder(r JobRecorder) Option {
	return func(tm *TaskManager) { tm.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(tm *TaskManager) { tm.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(tm *TaskManager) { tm.logger = l }
}

// recordTimeout bounds each call into the recorder so a slow store cannot
// stall the worker for long.
const recordTimeout = 2 * time.Second

// TaskManager serializes jobs onto one worker goroutine. One TaskManager
// owns one engine instance; scaling out means more (engine, TaskManager)
// pairs, never sharing an engine between workers.
type TaskManager struct {
	queue    *JobQueue
	process  ProcessFunc
	recorder JobRecorder
	observer Observer
	logger   *slog.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	inFlight atomic.Int32
}

func NewTaskManager(process ProcessFunc, opts ...Option) *TaskManager {
	tm := &TaskManager{
		queue:    NewJobQueue(),
		process:  process,
		recorder: nopRecorder{},
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Start launches the worker goroutine. Jobs submitted earlier wait in the
// queue until then. Calling Start again, or after Shutdown, does nothing.
func (tm *TaskManager) Start() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.started || tm.stopped {
		return
	}
	tm.started = true

	tm.wg.Add(1)
	go tm.run()
	tm.logger.Info("worker started")
}

// Submit enqueues input and returns immediately. It never blocks on the
// worker and applies no capacity check; callers compare QueueSize against
// their bound first. After Shutdown the returned handle is already
// resolved with model.ErrAbandoned.
func (tm *TaskManager) Submit(input model.AudioData, priority int) *model.Handle {
	return tm.SubmitJob(model.NewJob(input, priority, ""))
}

func (tm *TaskManager) SubmitJob(job *model.Job) *model.Handle {
	tm.record(func(ctx context.Context) error { return tm.recorder.Add(ctx, job.Record()) })

	if err := tm.queue.Push(job); err != nil {
		tm.abandon(job)
		return job.Handle()
	}

	tm.observer.JobSubmitted(job.Priority)
	tm.logger.Debug("job queued", "job_id", job.ID, "priority", job.Priority, "queue_size", tm.queue.Len())
	return job.Handle()
}

// TrySubmit checks the bound and enqueues under one lock, so at most limit
// jobs are ever pending. It returns model.ErrCapacityRejected when full.
func (tm *TaskManager) TrySubmit(job *model.Job, limit int) (*model.Handle, error) {
	tm.record(func(ctx context.Context) error { return tm.recorder.Add(ctx, job.Record()) })

	ok, err := tm.queue.PushIfBelow(job, limit)
	switch {
	case err != nil:
		tm.abandon(job)
		return job.Handle(), nil
	case !ok:
		tm.record(func(ctx context.Context) error { return tm.recorder.Delete(ctx, job.ID) })
		tm.observer.JobRejected()
		return nil, fmt.Errorf("%w: limit %d", model.ErrCapacityRejected, limit)
	}

	tm.observer.JobSubmitted(job.Priority)
	tm.logger.Debug("job queued", "job_id", job.ID, "priority", job.Priority, "queue_size", tm.queue.Len())
	return job.Handle(), nil
}

// QueueSize is the number of pending jobs, excluding the one in flight.
func (tm *TaskManager) QueueSize() int {
	return tm.queue.Len()
}

// InFlight reports whether the worker is currently running a job.
func (tm *TaskManager) InFlight() bool {
	return tm.inFlight.Load() > 0
}

// Shutdown abandons every queued job, lets the in-flight job finish and
// joins the worker. It is idempotent; concurrent callers all return after
// the worker has exited.
func (tm *TaskManager) Shutdown() {
	tm.stopOnce.Do(func() {
		tm.mu.Lock()
		tm.stopped = true
		tm.mu.Unlock()

		tm.queue.Close()
		pending := tm.queue.Drain()
		for _, job := range pending {
			tm.abandon(job)
		}

		tm.wg.Wait()
		tm.logger.Info("worker stopped", "abandoned", len(pending))
	})
}

func (tm *TaskManager) run() {
	defer tm.wg.Done()

	for {
		job, ok := tm.queue.Pop()
		if !ok {
			return
		}
		tm.execute(job)
	}
}

func (tm *TaskManager) execute(job *model.Job) {
	tm.inFlight.Add(1)
	defer tm.inFlight.Add(-1)

	started := time.Now()
	tm.observer.JobStarted(started.Sub(job.EnqueuedAt))
	tm.record(func(ctx context.Context) error {
		return tm.recorder.UpdateStatus(ctx, job.ID, model.StatusProcessing, "")
	})

	audioSeconds := job.Input.Seconds()
	result, err := tm.safeProcess(job)
	elapsed := time.Since(started)
	job.Release()

	status := model.StatusCompleted
	errMsg := ""
	if err != nil {
		status = model.StatusFailed
		errMsg = err.Error()
		err = &model.ProcessingError{JobID: job.ID, Err: err}
		tm.logger.Warn("job failed", "job_id", job.ID, "elapsed", elapsed, "error", errMsg)
	} else {
		tm.logger.Debug("job completed", "job_id", job.ID, "elapsed", elapsed)
	}

	job.Handle().Resolve(result, err)
	tm.observer.JobFinished(status, elapsed, audioSeconds)
	tm.record(func(ctx context.Context) error {
		return tm.recorder.UpdateStatus(ctx, job.ID, status, errMsg)
	})
}

func (tm *TaskManager) safeProcess(job *model.Job) (result model.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			tm.logger.Error("processing panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tm.process(job.Input)
}

func (tm *TaskManager) abandon(job *model.Job) {
	if !job.Handle().Resolve(model.Result{}, model.ErrAbandoned) {
		return
	}
	tm.observer.JobFinished(model.StatusAbandoned, 0, job.Input.Seconds())
	tm.record(func(ctx context.Context) error {
		return tm.recorder.UpdateStatus(ctx, job.ID, model.StatusAbandoned, model.ErrAbandoned.Error())
	})
}

func (tm *TaskManager) record(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := fn(ctx); err != nil && !errors.Is(err, model.ErrJobNotFound) {
		tm.logger.Warn("job store update failed", "error", err)
	}
}

type nopRecorder struct{}

func (nopRecorder) Add(context.Context, *model.JobRecord) error { return nil }

func (nopRecorder) UpdateStatus(context.Context, string, model.JobStatus, string) error { return nil }

func (nopRecorder) Delete(context.Context, string) error { return nil }

type nopObserver struct{}

func (nopObserver) JobSubmitted(int) {}

func (nopObserver) JobRejected() {}

func (nopObserver) JobStarted(time.Duration) {}

func (nopObserver) JobFinished(model.JobStatus, time.Duration, float64) {}
