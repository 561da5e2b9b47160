package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/SoundMap/internal/adapters/wav"
	"github.com/ghalamif/SoundMap/internal/app/periodic"
	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

type finishRequest struct {
	event  Event
	reason string
}

// session owns one container and the workers feeding it. ticks and progress
// are guarded by the controller's mutex.
type session struct {
	id       string
	target   domain.Target
	startPos domain.GeoPoint
	started  time.Time
	writer   *wav.Writer

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	stopCh chan finishRequest
	done   chan struct{}

	ticks    int
	progress float64
	full     bool
}

func (c *Controller) openSession(target domain.Target, pos domain.GeoPoint) (*session, error) {
	started := time.Now()
	name := c.cfg.User + "_" + strconv.FormatInt(started.UnixMilli(), 10) + ".wav"
	w, err := wav.Create(filepath.Join(c.cfg.OutputDir, name), c.cfg.Format, wav.WithPayloadLimit(c.cfg.PayloadLimit))
	if err != nil {
		return nil, err
	}

	c.agg.Clear()
	if err := c.capture.Start(); err != nil {
		w.Discard()
		return nil, fmt.Errorf("%w: start capture: %v", domain.ErrSensorUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	return &session{
		id:       uuid.NewString(),
		target:   target,
		startPos: pos,
		started:  started,
		writer:   w,
		ctx:      gctx,
		cancel:   cancel,
		group:    g,
		stopCh:   make(chan finishRequest, 1),
		done:     make(chan struct{}),
	}, nil
}

// run starts the amplitude and chunk workers plus the supervisor.
func (s *session) run(c *Controller) {
	s.group.Go(func() error {
		return periodic.Every(s.ctx, c.cfg.AmplitudePeriod, func(context.Context) error {
			c.sampleAmplitude()
			return nil
		})
	})

	buf := make([]byte, c.cfg.ChunkBytes)
	s.group.Go(func() error {
		return periodic.Every(s.ctx, c.cfg.ChunkPeriod, func(context.Context) error {
			return c.writeChunk(s, buf)
		})
	})

	go c.supervise(s)
}

func (c *Controller) sampleAmplitude() {
	amp := c.sensor.ReadAmplitude()
	level := normalizeLevel(amp)

	c.mu.Lock()
	c.level = level
	pos, err := c.positionLocked()
	c.mu.Unlock()

	c.obs.SetGauge("soundmap_volume_level", level)
	if err != nil {
		// sampling pauses until a fix is back
		return
	}
	c.agg.Push(amp, pos)
}

func (c *Controller) writeChunk(s *session, buf []byte) error {
	if s.full {
		return nil
	}
	n, err := c.capture.Read(buf)
	if err != nil {
		return fmt.Errorf("%w: read capture: %v", domain.ErrContainerIO, err)
	}
	if n == 0 {
		return nil
	}
	if _, err := s.writer.Write(buf[:n]); err != nil {
		if errors.Is(err, wav.ErrPayloadLimit) {
			s.full = true
			c.obs.LogWarn("payload_limit_reached", err, ports.Field{Key: "session", Value: s.id})
			return nil
		}
		return err
	}
	return nil
}

// supervise drives the countdown and the mid-recording proximity check, and
// runs finalization exactly once.
func (c *Controller) supervise(s *session) {
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	total := c.cfg.totalTicks()
	step := float64(c.cfg.Tick) / float64(c.cfg.Duration)

	for {
		select {
		case req := <-s.stopCh:
			c.finish(s, req.event, req.reason)
			return
		case <-s.ctx.Done():
			c.finish(s, EventAbort, "worker failure")
			return
		case <-ticker.C:
			c.mu.Lock()
			s.ticks++
			s.progress = float64(s.ticks) * step * 100
			ticks, progress := s.ticks, s.progress
			pos, posErr := c.positionLocked()
			c.mu.Unlock()
			c.obs.SetGauge("soundmap_recording_progress", progress)

			if posErr == nil {
				dist := domain.Distance(pos, s.target.Location)
				c.obs.SetGauge("soundmap_target_distance_m", dist)
				if !(dist <= c.cfg.ProximityMeters) && !c.cfg.Debug {
					c.finish(s, EventAbort, fmt.Sprintf("left target area (%.1f m)", dist))
					return
				}
			}
			if ticks >= total {
				c.finish(s, EventComplete, "completed")
				return
			}
		}
	}
}

// finish stops the workers before touching the container or the sample set,
// then patches or deletes the file, dispatches the upload and polls again.
func (c *Controller) finish(s *session, ev Event, reason string) {
	defer close(s.done)

	c.mu.Lock()
	c.applyLocked(ev)
	c.mu.Unlock()

	s.cancel()
	workerErr := s.group.Wait()
	if err := c.capture.Stop(); err != nil {
		c.obs.LogWarn("capture_stop_failed", err, ports.Field{Key: "session", Value: s.id})
	}

	if workerErr != nil && ev == EventComplete {
		ev, reason = c.abortFinalizing(workerErr)
	} else if workerErr != nil {
		reason = workerErr.Error()
	}

	path := s.writer.Path()
	payload := s.writer.Written()
	if ev == EventComplete {
		if err := s.writer.Close(); err != nil {
			ev, reason = c.abortFinalizing(err)
		} else if err := wav.Finalize(path); err != nil {
			ev, reason = c.abortFinalizing(err)
		}
	}
	if ev == EventAbort {
		if err := s.writer.Discard(); err != nil {
			c.obs.LogError("container_discard_failed", err, ports.Field{Key: "path", Value: path})
		}
	}

	agg, aggErr := c.agg.Compute()
	c.agg.Clear()
	if agg.Rejected > 0 {
		c.obs.IncCounter("soundmap_samples_rejected_total", float64(agg.Rejected))
	}

	c.mu.Lock()
	loc := s.startPos
	if p, err := c.positionLocked(); err == nil {
		loc = p
	}
	c.mu.Unlock()

	reading := &domain.Reading{
		SessionID:     s.id,
		User:          c.cfg.User,
		TargetTag:     s.target.Tag,
		Intensity:     agg.Intensity,
		Accepted:      agg.Accepted,
		Rejected:      agg.Rejected,
		LowConfidence: agg.LowConfidence,
		MeanLocation:  agg.MeanLocation,
		Location:      loc,
		FilePath:      path,
		PayloadBytes:  payload,
		StartedAt:     s.started,
		Duration:      time.Since(s.started),
		Aborted:       ev == EventAbort,
	}

	if ev == EventAbort {
		reading.AbortReason = reason
		reading.FilePath = ""
	}
	// the upload worker owns reading once dispatched
	snapshot := *reading

	if ev == EventAbort {
		c.obs.IncCounter("soundmap_sessions_aborted_total", 1)
		c.obs.LogWarn("recording_aborted", nil,
			ports.Field{Key: "session", Value: s.id},
			ports.Field{Key: "reason", Value: reason})
	} else {
		if aggErr != nil || agg.LowConfidence {
			c.obs.LogWarn("aggregate_low_confidence", aggErr,
				ports.Field{Key: "session", Value: s.id},
				ports.Field{Key: "rejected", Value: agg.Rejected})
		}
		job := &domain.UploadJob{Path: path, User: c.cfg.User, Location: loc, Reading: reading}
		if !c.uploads.Dispatch(job) {
			snapshot.UploadError = "upload queue full"
		}
		c.obs.IncCounter("soundmap_sessions_completed_total", 1)
		c.obs.LogInfo("recording_finalized",
			ports.Field{Key: "session", Value: s.id},
			ports.Field{Key: "path", Value: path},
			ports.Field{Key: "bytes", Value: payload},
			ports.Field{Key: "intensity", Value: agg.Intensity})
	}

	c.mu.Lock()
	c.applyLocked(EventFinalized)
	c.session = nil
	c.target = nil
	c.level = 0
	last := snapshot
	c.last = &last
	c.mu.Unlock()
	c.obs.SetGauge("soundmap_recording_progress", 0)

	c.publish(snapshot)

	if c.life.Err() != nil {
		return
	}
	if err := c.Poll(c.life); err != nil && c.life.Err() == nil {
		c.obs.LogWarn("post_session_poll_failed", err)
	}
}

// abortFinalizing moves a Finalizing session to Aborted after a container
// failure.
func (c *Controller) abortFinalizing(err error) (Event, string) {
	c.mu.Lock()
	c.applyLocked(EventAbort)
	c.mu.Unlock()
	c.obs.LogError("container_finalize_failed", err)
	return EventAbort, err.Error()
}
