// Package recorder owns the recording lifecycle: arming against a target,
// gated capture, bounded countdown and finalization of each session.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ghalamif/SoundMap/internal/app/aggregate"
	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// ErrClosed is returned by Start once the controller has been closed.
var ErrClosed = errors.New("recorder: controller closed")

// Dispatcher accepts finished containers for upload without blocking.
type Dispatcher interface {
	Dispatch(job *domain.UploadJob) bool
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State     State                 `json:"state"`
	User      string                `json:"user"`
	Target    *domain.Target        `json:"target,omitempty"`
	Peers     []domain.PeerLocation `json:"peers"`
	Origin    *domain.GeoPoint      `json:"origin,omitempty"`
	Progress  float64               `json:"progress"`
	Remaining time.Duration         `json:"remaining"`
	Level     float64               `json:"level"`
	Last      *domain.Reading       `json:"last,omitempty"`
}

type Controller struct {
	cfg     Config
	sensor  ports.Sensor
	capture ports.AudioCapture
	coord   ports.Coordinator
	uploads Dispatcher
	obs     ports.Observability
	agg     *aggregate.Set

	// bounds background work such as the post-session re-poll
	life      context.Context
	closeLife context.CancelFunc

	// serializes coordination polls
	pollMu sync.Mutex

	mu       sync.Mutex
	state    State
	target   *domain.Target
	peers    []domain.PeerLocation
	origin   *domain.GeoPoint
	fix      domain.GeoPoint
	fixAt    time.Time
	hasFix   bool
	level    float64
	session  *session
	last     *domain.Reading
	outcomes chan domain.Reading
}

func New(cfg Config, sensor ports.Sensor, capture ports.AudioCapture, coord ports.Coordinator, uploads Dispatcher, obs ports.Observability) (*Controller, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case sensor == nil:
		return nil, errors.New("sensor is nil")
	case capture == nil:
		return nil, errors.New("audio capture is nil")
	case coord == nil:
		return nil, errors.New("coordinator is nil")
	case uploads == nil:
		return nil, errors.New("upload dispatcher is nil")
	case obs == nil:
		return nil, errors.New("observability is nil")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: output dir: %v", domain.ErrContainerIO, err)
	}

	life, closeLife := context.WithCancel(context.Background())
	return &Controller{
		life:      life,
		closeLife: closeLife,
		cfg:       cfg,
		sensor:    sensor,
		capture:   capture,
		coord:     coord,
		uploads:   uploads,
		obs:       obs,
		agg:       aggregate.NewSet(cfg.LatThreshold, cfg.LngThreshold),
		state:     Idle,
		peers:     []domain.PeerLocation{},
		outcomes:  make(chan domain.Reading, 8),
	}, nil
}

// Outcomes streams every finished session. Slow readers miss outcomes rather
// than stall the controller.
func (c *Controller) Outcomes() <-chan domain.Reading { return c.outcomes }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State: c.state,
		User:  c.cfg.User,
		Peers: append([]domain.PeerLocation(nil), c.peers...),
		Level: c.level,
	}
	if c.target != nil {
		t := *c.target
		snap.Target = &t
	}
	if c.origin != nil {
		o := *c.origin
		snap.Origin = &o
	}
	if c.last != nil {
		r := *c.last
		snap.Last = &r
	}
	if s := c.session; s != nil {
		snap.Progress = s.progress
		snap.Remaining = c.cfg.Duration - time.Duration(s.ticks)*c.cfg.Tick
		if snap.Remaining < 0 {
			snap.Remaining = 0
		}
	}
	return snap
}

// Poll asks the coordination service for a target and the peer roster. Any
// failure leaves the controller Idle with no target and an empty roster.
func (c *Controller) Poll(ctx context.Context) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	if st := c.State(); st != Idle && st != Armed {
		return fmt.Errorf("%w: poll in %s", domain.ErrBusy, st)
	}

	target, peers, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle && c.state != Armed {
		// a recording started while the request was in flight
		return fmt.Errorf("%w: poll in %s", domain.ErrBusy, c.state)
	}

	if err != nil {
		c.target = nil
		c.peers = []domain.PeerLocation{}
		c.applyLocked(EventTargetLost)
		c.obs.SetGauge("soundmap_peers", 0)
		c.obs.LogWarn("poll_failed", err)
		return err
	}

	c.target = &target
	c.peers = peers
	if c.origin == nil {
		o := target.Location
		c.origin = &o
	}
	c.applyLocked(EventTargetAssigned)
	c.obs.SetGauge("soundmap_peers", float64(len(peers)))
	c.obs.LogInfo("target_assigned",
		ports.Field{Key: "tag", Value: target.Tag},
		ports.Field{Key: "location", Value: target.Location.String()},
		ports.Field{Key: "peers", Value: len(peers)})
	return nil
}

func (c *Controller) fetch(ctx context.Context) (domain.Target, []domain.PeerLocation, error) {
	c.mu.Lock()
	pos, err := c.positionLocked()
	c.mu.Unlock()
	if err != nil {
		return domain.Target{}, nil, err
	}

	target, err := c.coord.RequestTarget(ctx, c.cfg.User, pos)
	if err != nil {
		return domain.Target{}, nil, err
	}
	peers, err := c.coord.RequestPeers(ctx)
	if err != nil {
		return domain.Target{}, nil, err
	}
	return target, peers, nil
}

// Start begins a recording session. It is a no-op while a session is active.
func (c *Controller) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.life.Err() != nil {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Recording, Finalizing, Aborted:
		return nil
	case Idle:
		return domain.ErrNoTarget
	}
	target := *c.target

	pos, err := c.positionLocked()
	if err != nil {
		return err
	}
	dist := domain.Distance(pos, target.Location)
	c.obs.SetGauge("soundmap_target_distance_m", dist)
	if !(dist <= c.cfg.ProximityMeters) && !c.cfg.Debug {
		return fmt.Errorf("%w: %.1f m from %s, limit %.0f m", domain.ErrOutOfRange, dist, target.Tag, c.cfg.ProximityMeters)
	}

	next, err := transition(c.state, EventStart)
	if err != nil {
		return err
	}

	s, err := c.openSession(target, pos)
	if err != nil {
		c.obs.LogError("session_open_failed", err)
		return err
	}
	c.session = s
	c.setStateLocked(next)
	s.run(c)

	c.obs.IncCounter("soundmap_sessions_started_total", 1)
	c.obs.LogInfo("recording_started",
		ports.Field{Key: "session", Value: s.id},
		ports.Field{Key: "target", Value: target.Tag},
		ports.Field{Key: "distance_m", Value: dist},
		ports.Field{Key: "path", Value: s.writer.Path()})
	return nil
}

// Stop ends the active session early and keeps its container. It waits until
// the session is finalized or ctx expires; without a session it does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	return c.requestFinish(ctx, EventComplete, "stopped")
}

// Cancel aborts the active session and deletes its container.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.requestFinish(ctx, EventAbort, "cancelled")
}

// Close aborts any active session and cancels background coordination work.
// It waits for the session to wind down or for ctx to expire. Start fails with
// ErrClosed afterwards.
func (c *Controller) Close(ctx context.Context) error {
	c.closeLife()
	return c.Cancel(ctx)
}

func (c *Controller) requestFinish(ctx context.Context, ev Event, reason string) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	select {
	case s.stopCh <- finishRequest{event: ev, reason: reason}:
	default:
		// already finishing
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// positionLocked returns a fresh fix, or the last one while it is younger
// than the GPS timeout.
func (c *Controller) positionLocked() (domain.GeoPoint, error) {
	now := time.Now()
	if p, ok := c.sensor.ReadPosition(); ok {
		c.fix, c.fixAt, c.hasFix = p, now, true
		return p, nil
	}
	if c.hasFix && now.Sub(c.fixAt) <= c.cfg.GPSTimeout {
		return c.fix, nil
	}
	return domain.GeoPoint{}, fmt.Errorf("%w: no position fix", domain.ErrSensorUnavailable)
}

func (c *Controller) applyLocked(ev Event) {
	next, err := transition(c.state, ev)
	if err != nil {
		c.obs.LogError("state_transition_rejected", err)
		return
	}
	c.setStateLocked(next)
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.obs.SetGauge("soundmap_controller_state", float64(s))
}

func (c *Controller) publish(r domain.Reading) {
	select {
	case c.outcomes <- r:
	default:
		c.obs.LogWarn("outcome_dropped", nil, ports.Field{Key: "session", Value: r.SessionID})
	}
}
