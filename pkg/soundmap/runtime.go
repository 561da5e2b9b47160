package soundmap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/SoundMap/internal/adapters/coordination"
	"github.com/ghalamif/SoundMap/internal/adapters/observability"
	"github.com/ghalamif/SoundMap/internal/adapters/opcua"
	"github.com/ghalamif/SoundMap/internal/adapters/queue"
	"github.com/ghalamif/SoundMap/internal/adapters/simulator"
	"github.com/ghalamif/SoundMap/internal/adapters/sink"
	"github.com/ghalamif/SoundMap/internal/adapters/upload"
	"github.com/ghalamif/SoundMap/internal/app/periodic"
	"github.com/ghalamif/SoundMap/internal/app/pipeline"
	"github.com/ghalamif/SoundMap/internal/app/recorder"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	sensor        Sensor
	capture       AudioCapture
	coordinator   Coordinator
	uploader      Uploader
	sink          ReadingSink
	queue         UploadQueue
	observability Observability
	registry      *prometheus.Registry
}

// WithSensor injects a custom level/position source (phone bridge, serial GPS, simulators).
func WithSensor(s Sensor) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sensor = s
	}
}

// WithCapture injects the PCM source recorded into each container.
func WithCapture(c AudioCapture) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.capture = c
	}
}

// WithCoordinator replaces the HTTP coordination client.
func WithCoordinator(c Coordinator) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.coordinator = c
	}
}

// WithUploader replaces the multipart HTTP uploader.
func WithUploader(u Uploader) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.uploader = u
	}
}

// WithReadingSink archives finished readings somewhere other than Postgres.
func WithReadingSink(s ReadingSink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithUploadQueue injects a custom queue implementation.
func WithUploadQueue(q UploadQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithRegistry registers the default metrics on reg instead of a private
// registry, and serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// Runtime wires sensor, coordination, recorder and upload pipeline together
// and exposes simple lifecycle hooks for embedding SoundMap in any Go service.
type Runtime struct {
	cfg         *Config
	log         *slog.Logger
	obs         ports.Observability
	registry    *prometheus.Registry
	sensor      ports.Sensor
	capture     ports.AudioCapture
	coord       ports.Coordinator
	uploader    ports.Uploader
	queue       ports.UploadQueue
	sink        ports.ReadingSink
	uploads     *pipeline.Uploads
	controller  *recorder.Controller
	opcuaSensor *opcua.Sensor
	db          *sql.DB

	metricsSrv    *http.Server
	traceShutdown func(context.Context) error
	cancel        context.CancelFunc
	loops         sync.WaitGroup
	startOnce     sync.Once
	startErr      error
}

// NewRuntime bootstraps the default adapters (simulated or OPC UA sensor, tone
// capture, HTTP coordination and upload, in-memory queue, optional Postgres
// archive, Prometheus observability). RuntimeOption values override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	logger := observability.NewLogger(cfg.Logging)
	reg := overrides.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	var err error
	obs := overrides.observability
	if obs == nil {
		obs, err = observability.NewPromObs(reg, logger)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	rt := &Runtime{
		cfg:      cfg,
		log:      logger,
		obs:      obs,
		registry: reg,
	}

	rt.sensor = overrides.sensor
	if rt.sensor == nil {
		switch cfg.Sensor.Kind {
		case "opcua":
			rt.opcuaSensor, err = opcua.NewSensor(cfg.Sensor.OPCUA, obs)
			if err != nil {
				return nil, err
			}
			rt.sensor = rt.opcuaSensor
		default:
			rt.sensor = simulator.NewSensor(cfg.Sensor.Simulated)
		}
	}

	rt.capture = overrides.capture
	if rt.capture == nil {
		if cfg.Audio.BitDepth != 16 {
			return nil, fmt.Errorf("tone capture emits 16-bit PCM, audio.bit_depth is %d", cfg.Audio.BitDepth)
		}
		rt.capture = simulator.NewToneCapture(int(cfg.Audio.Channels), int(cfg.Audio.SampleRate), cfg.Sensor.ToneHz)
	}

	rt.coord = overrides.coordinator
	if rt.coord == nil {
		rt.coord, err = coordination.NewClient(cfg.Coordination, obs)
		if err != nil {
			return nil, err
		}
	}

	rt.uploader = overrides.uploader
	if rt.uploader == nil {
		rt.uploader, err = upload.NewHTTPUploader(cfg.Upload)
		if err != nil {
			return nil, err
		}
	}

	rt.queue = overrides.queue
	if rt.queue == nil {
		rt.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	rt.sink = overrides.sink
	if rt.sink == nil && cfg.Archive.ConnString != "" {
		rt.db, err = sink.Open(cfg.Archive.ConnString)
		if err != nil {
			return nil, err
		}
		rt.sink, err = sink.NewPostgresSink(rt.db, cfg.Archive.Table)
		if err != nil {
			_ = rt.db.Close()
			return nil, err
		}
	}

	rt.uploads, err = pipeline.NewUploads(rt.queue, rt.uploader, rt.sink, cfg.Policy, obs, cfg.Upload.Timeout)
	if err != nil {
		rt.closeDB()
		return nil, err
	}

	rt.controller, err = recorder.New(cfg.Recording, rt.sensor, rt.capture, rt.coord, rt.uploads, obs)
	if err != nil {
		rt.closeDB()
		return nil, err
	}
	return rt, nil
}

// Controller exposes the recording state machine for manual Poll/Start/Stop/Cancel.
func (e *Runtime) Controller() *Controller {
	if e == nil {
		return nil
	}
	return e.controller
}

// Start connects the sensor, launches the upload worker, the metrics server
// and the background loops. It returns immediately; call Run to block on a
// context instead.
func (e *Runtime) Start(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("runtime is nil")
	}
	e.startOnce.Do(func() {
		e.startErr = e.start(ctx)
	})
	return e.startErr
}

func (e *Runtime) start(ctx context.Context) error {
	shutdown, err := observability.InitTracing(ctx, e.cfg.Tracing, e.log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	e.traceShutdown = shutdown

	if e.opcuaSensor != nil {
		if err := e.opcuaSensor.Connect(ctx); err != nil {
			return err
		}
	}

	e.uploads.Start()
	e.startMetrics()

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.goLoop(func() {
		_ = periodic.Every(loopCtx, time.Second, func(context.Context) error {
			e.recordGauges()
			return nil
		})
	})
	if e.cfg.Autopilot.Enabled {
		e.goLoop(func() {
			e.autopilot(loopCtx)
			_ = periodic.Every(loopCtx, e.cfg.Autopilot.PollInterval, func(ctx context.Context) error {
				e.autopilot(ctx)
				return nil
			})
		})
	}

	e.obs.LogInfo("runtime_started",
		ports.Field{Key: "user", Value: e.cfg.User},
		ports.Field{Key: "sensor", Value: e.cfg.Sensor.Kind},
		ports.Field{Key: "autopilot", Value: e.cfg.Autopilot.Enabled},
		ports.Field{Key: "metrics_addr", Value: e.cfg.Metrics.Addr})
	return nil
}

// Run starts the runtime and blocks until the provided context is cancelled.
// Upon cancellation it attempts a graceful shutdown.
func (e *Runtime) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// Shutdown discards an in-flight recording, stops coordination work, drains the upload queue and
// closes the metrics server, sensor connection, archive and tracer.
func (e *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if e.cancel != nil {
		e.cancel()
	}
	e.loops.Wait()

	if err := e.controller.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close recorder: %w", err))
	}

	if err := e.uploads.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain uploads: %w", err))
	}

	if e.metricsSrv != nil {
		if err := e.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if e.opcuaSensor != nil {
		if err := e.opcuaSensor.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	// a failed span flush is logged, not fatal
	observability.ShutdownWithTimeout(ctx, e.traceShutdown, e.log)

	return errors.Join(errs...)
}

// Handler serves /metrics, /healthz and /status.
func (e *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(e.controller.Snapshot()); err != nil {
			e.obs.LogWarn("status_encode_failed", err)
		}
	})
	return mux
}

// Probe runs a single coordination poll without starting the runtime and
// returns the resulting snapshot. The poll error is returned alongside it.
func (e *Runtime) Probe(ctx context.Context) (Snapshot, error) {
	if e.opcuaSensor != nil {
		if err := e.opcuaSensor.Connect(ctx); err != nil {
			return Snapshot{}, err
		}
		defer e.opcuaSensor.Close(context.Background())
	}
	err := e.controller.Poll(ctx)
	return e.controller.Snapshot(), err
}

func (e *Runtime) startMetrics() {
	e.metricsSrv = &http.Server{
		Addr:              e.cfg.Metrics.Addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := e.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.obs.LogError("metrics_server_exited", err)
		}
	}()
}

func (e *Runtime) goLoop(fn func()) {
	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		fn()
	}()
}

func (e *Runtime) recordGauges() {
	e.obs.SetGauge("soundmap_queue_length", float64(e.queue.Len()))
}

// autopilot polls while no session is active and, when configured, starts
// recording once the unit is within range of its target.
func (e *Runtime) autopilot(ctx context.Context) {
	switch e.controller.State() {
	case recorder.Idle, recorder.Armed:
	default:
		return
	}

	if err := e.controller.Poll(ctx); err != nil {
		// Poll already logged the failure
		return
	}
	if !e.cfg.Autopilot.AutoStart {
		return
	}

	err := e.controller.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrNoTarget):
		e.obs.LogInfo("autopilot_waiting", ports.Field{Key: "reason", Value: err.Error()})
	default:
		e.obs.LogWarn("autopilot_start_failed", err)
	}
}

func (e *Runtime) closeDB() {
	if e.db != nil {
		_ = e.db.Close()
	}
}
