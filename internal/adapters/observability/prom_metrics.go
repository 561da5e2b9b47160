package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

// LevelCritical sits above slog.LevelError.
const LevelCritical = slog.Level(12)

type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the runtime's collectors on reg. A nil reg uses the
// default registerer and a nil logger uses slog.Default().
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) (*PromObs, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		})
	}

	counters := map[string]prometheus.Counter{
		"soundmap_sessions_started_total":      counter("soundmap_sessions_started_total", "Recording sessions started."),
		"soundmap_sessions_completed_total":    counter("soundmap_sessions_completed_total", "Recording sessions finalized and dispatched for upload."),
		"soundmap_sessions_aborted_total":      counter("soundmap_sessions_aborted_total", "Recording sessions aborted and discarded."),
		"soundmap_samples_rejected_total":      counter("soundmap_samples_rejected_total", "Intensity samples rejected as spatial outliers."),
		"soundmap_uploads_total":               counter("soundmap_uploads_total", "Containers uploaded successfully."),
		"soundmap_upload_failures_total":       counter("soundmap_upload_failures_total", "Container uploads that failed."),
		"soundmap_queue_dropped_total":         counter("soundmap_queue_dropped_total", "Upload jobs lost due to queue backpressure."),
		"soundmap_archive_failures_total":      counter("soundmap_archive_failures_total", "Reading batches the archive sink rejected."),
		"soundmap_coordination_requests_total": counter("soundmap_coordination_requests_total", "Successful coordination requests."),
		"soundmap_coordination_wait_total":     counter("soundmap_coordination_wait_total", "Wait replies received from the coordination service."),
		"soundmap_coordination_failures_total": counter("soundmap_coordination_failures_total", "Failed coordination requests."),
	}
	gauges := map[string]prometheus.Gauge{
		"soundmap_queue_length":       gauge("soundmap_queue_length", "Upload jobs waiting in the in-memory queue."),
		"soundmap_controller_state":   gauge("soundmap_controller_state", "Controller state (0 idle, 1 armed, 2 recording, 3 finalizing, 4 aborted)."),
		"soundmap_recording_progress": gauge("soundmap_recording_progress", "Progress of the active recording in percent."),
		"soundmap_volume_level":       gauge("soundmap_volume_level", "Normalized microphone level in [0,1]."),
		"soundmap_peers":              gauge("soundmap_peers", "Peers in the last roster."),
		"soundmap_target_distance_m":  gauge("soundmap_target_distance_m", "Distance to the assigned target in metres."),
	}

	histos := map[string]prometheus.Histogram{
		"soundmap_coordination_latency_seconds": histogram("soundmap_coordination_latency_seconds", "Coordination request round-trip latency."),
		"soundmap_upload_latency_seconds":       histogram("soundmap_upload_latency_seconds", "Container upload latency."),
		"soundmap_archive_latency_seconds":      histogram("soundmap_archive_latency_seconds", "Reading archive write latency."),
	}

	p := &PromObs{
		log:      logger,
		counters: counters,
		gauges:   gauges,
		histos:   make(map[string]prometheus.Observer, len(histos)),
	}
	for _, c := range p.counters {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	for _, g := range p.gauges {
		if err := reg.Register(g); err != nil {
			return nil, err
		}
	}
	for name, h := range histos {
		if err := reg.Register(h); err != nil {
			return nil, err
		}
		p.histos[name] = h
	}
	return p, nil
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.LogAttrs(context.Background(), slog.LevelInfo, msg, toAttrs(nil, fields)...)
}

func (p *PromObs) LogWarn(msg string, err error, fields ...ports.Field) {
	p.log.LogAttrs(context.Background(), slog.LevelWarn, msg, toAttrs(err, fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.LogAttrs(context.Background(), slog.LevelError, msg, toAttrs(err, fields)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.LogAttrs(context.Background(), LevelCritical, msg, toAttrs(err, fields)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordUploadFailure(job *domain.UploadJob, err error) {
	p.IncCounter("soundmap_upload_failures_total", 1)
	if job == nil {
		p.LogError("upload_failed", err)
		return
	}
	p.LogError("upload_failed", err,
		ports.Field{Key: "path", Value: job.Path},
		ports.Field{Key: "user", Value: job.User},
	)
}

func toAttrs(err error, fields []ports.Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

// Nop discards logs and metrics.
type Nop struct{}

func (Nop) LogInfo(string, ...ports.Field)               {}
func (Nop) LogWarn(string, error, ...ports.Field)        {}
func (Nop) LogError(string, error, ...ports.Field)       {}
func (Nop) LogCritical(string, error, ...ports.Field)    {}
func (Nop) IncCounter(string, float64)                   {}
func (Nop) ObserveLatency(string, float64)               {}
func (Nop) SetGauge(string, float64)                     {}
func (Nop) RecordUploadFailure(*domain.UploadJob, error) {}

var (
	_ ports.Observability = (*PromObs)(nil)
	_ ports.Observability = Nop{}
)
