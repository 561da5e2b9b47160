package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// Uploads is the fire-and-forget upload stage. The controller dispatches
// finished containers; a single worker uploads them and archives the readings.
type Uploads struct {
	queue    ports.UploadQueue
	uploader ports.Uploader
	sink     ports.ReadingSink
	policy   ports.Policy
	obs      ports.Observability
	timeout  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewUploads wires the stage; sink may be nil.
func NewUploads(q ports.UploadQueue, up ports.Uploader, sink ports.ReadingSink, pol ports.Policy, obs ports.Observability, timeout time.Duration) (*Uploads, error) {
	if q == nil {
		return nil, errors.New("upload queue is nil")
	}
	if up == nil {
		return nil, errors.New("uploader is nil")
	}
	if obs == nil {
		return nil, errors.New("observability is nil")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Uploads{
		queue:    q,
		uploader: up,
		sink:     sink,
		policy:   pol,
		obs:      obs,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the worker. Further calls are no-ops.
func (u *Uploads) Start() {
	u.startOnce.Do(func() {
		go u.run()
	})
}

// Dispatch hands a job to the worker and reports whether it was accepted.
// Under the "drop" policy it never blocks.
func (u *Uploads) Dispatch(job *domain.UploadJob) bool {
	ok := enqueueWithPolicy(u.queue, job, u.policy, u.obs, u.stopCh)
	if !ok {
		u.obs.IncCounter("soundmap_queue_dropped_total", 1)
	}
	u.obs.SetGauge("soundmap_queue_length", float64(u.queue.Len()))
	return ok
}

// Close stops the worker after it drains the queue, or when ctx expires.
func (u *Uploads) Close(ctx context.Context) error {
	u.stopOnce.Do(func() { close(u.stopCh) })
	u.startOnce.Do(func() { close(u.doneCh) })

	select {
	case <-u.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("upload worker: %w", ctx.Err())
	}
}

func (u *Uploads) run() {
	defer close(u.doneCh)

	sleep := u.policy.IdleSleep
	if sleep <= 0 {
		sleep = 50 * time.Millisecond
	}

	for {
		batch := u.queue.DequeueBatch(u.policy.MaxBatchSize)
		if len(batch) == 0 {
			select {
			case <-u.stopCh:
				return
			case <-time.After(sleep):
			}
			continue
		}
		u.obs.SetGauge("soundmap_queue_length", float64(u.queue.Len()))
		u.process(batch)
	}
}

func (u *Uploads) process(batch []*domain.UploadJob) {
	readings := make([]*domain.Reading, 0, len(batch))
	for _, job := range batch {
		u.upload(job)
		if job.Reading != nil {
			readings = append(readings, job.Reading)
		}
	}

	if u.sink == nil || len(readings) == 0 {
		return
	}
	start := time.Now()
	if err := u.sink.WriteBatch(readings); err != nil {
		u.obs.IncCounter("soundmap_archive_failures_total", 1)
		u.obs.LogError("archive_write_failed", err, ports.Field{Key: "sink", Value: u.sink.Name()})
		return
	}
	u.obs.ObserveLatency("soundmap_archive_latency_seconds", time.Since(start).Seconds())
}

// upload makes a single attempt; failures are reported, never retried.
func (u *Uploads) upload(job *domain.UploadJob) {
	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()

	start := time.Now()
	reply, err := u.uploader.Upload(ctx, job.Path, job.User, job.Location)
	u.obs.ObserveLatency("soundmap_upload_latency_seconds", time.Since(start).Seconds())

	if err != nil {
		if !errors.Is(err, domain.ErrUpload) {
			err = fmt.Errorf("%w: %v", domain.ErrUpload, err)
		}
		u.obs.RecordUploadFailure(job, err)
		if job.Reading != nil {
			job.Reading.UploadError = err.Error()
		}
		return
	}

	u.obs.IncCounter("soundmap_uploads_total", 1)
	u.obs.LogInfo("upload_complete",
		ports.Field{Key: "path", Value: job.Path},
		ports.Field{Key: "reply", Value: reply})
	if job.Reading != nil {
		job.Reading.UploadResult = reply
	}
}

func enqueueWithPolicy(q ports.UploadQueue, job *domain.UploadJob, pol ports.Policy, obs ports.Observability, stop <-chan struct{}) bool {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = 5 * time.Millisecond
	}

	for {
		if ok := q.Enqueue(job); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			select {
			case <-stop:
				obs.LogError("queue_closed_drop", fmt.Errorf("upload stage stopped while blocked on %s", job.Path))
				return false
			case <-time.After(sleep):
			}
		case "drop", "reject", "":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen))
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}
