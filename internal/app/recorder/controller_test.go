package recorder

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/SoundMap/internal/adapters/wav"
	"github.com/ghalamif/SoundMap/internal/domain"
	"github.com/ghalamif/SoundMap/internal/ports"
)

var mcgill = domain.GeoPoint{Latitude: 45.504812985241564, Longitude: -73.57715606689453}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		User:            "jo",
		OutputDir:       t.TempDir(),
		Duration:        100 * time.Millisecond,
		Tick:            10 * time.Millisecond,
		AmplitudePeriod: 5 * time.Millisecond,
		ChunkPeriod:     5 * time.Millisecond,
		ChunkBytes:      8,
	}
}

type fixture struct {
	ctl     *Controller
	sensor  *stubSensor
	capture *stubCapture
	coord   *stubCoordinator
	uploads *stubDispatcher
	cfg     Config
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		sensor:  &stubSensor{pos: mcgill, fix: true, amp: 500},
		capture: &stubCapture{},
		coord:   &stubCoordinator{target: domain.Target{Tag: "McGill", Location: mcgill}},
		uploads: &stubDispatcher{},
		cfg:     cfg,
	}
	ctl, err := New(cfg, f.sensor, f.capture, f.coord, f.uploads, &mockObs{})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	f.ctl = ctl
	return f
}

func (f *fixture) armed(t *testing.T) {
	t.Helper()
	if err := f.ctl.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if st := f.ctl.State(); st != Armed {
		t.Fatalf("expected armed, got %s", st)
	}
}

func waitOutcome(t *testing.T, ctl *Controller) domain.Reading {
	t.Helper()
	select {
	case r := <-ctl.Outcomes():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session outcome")
		return domain.Reading{}
	}
}

func waitState(t *testing.T, ctl *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ctl.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state %s never reached, at %s", want, ctl.State())
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries)
}

func TestStartWithoutTarget(t *testing.T) {
	f := newFixture(t, testConfig(t))
	if err := f.ctl.Start(context.Background()); !errors.Is(err, domain.ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestPollArmsAndKeepsFirstOrigin(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.coord.peers = []domain.PeerLocation{{Name: "Foo"}, {Name: "Bar"}}
	f.armed(t)

	second := domain.GeoPoint{Latitude: 45.55, Longitude: -73.23}
	f.coord.setTarget(domain.Target{Tag: "Bar", Location: second})
	f.armed(t)

	snap := f.ctl.Snapshot()
	if snap.Target == nil || snap.Target.Tag != "Bar" {
		t.Fatalf("target should be replaced wholesale, got %+v", snap.Target)
	}
	if snap.Origin == nil || domain.Distance(*snap.Origin, mcgill) > 0.001 {
		t.Fatalf("origin should stay at the first target, got %+v", snap.Origin)
	}
	if len(snap.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(snap.Peers))
	}
	user, pos := f.coord.lastRequest()
	if user != "jo" || domain.Distance(pos, mcgill) > 0.001 {
		t.Fatalf("unexpected request metadata %q %v", user, pos)
	}
}

func TestPollFailureLeavesIdle(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.coord.peers = []domain.PeerLocation{{Name: "Foo"}}
	f.armed(t)

	f.coord.setErr(domain.ErrUnreachable)
	if err := f.ctl.Poll(context.Background()); !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	snap := f.ctl.Snapshot()
	if snap.State != Idle || snap.Target != nil || len(snap.Peers) != 0 {
		t.Fatalf("expected idle with nothing assigned, got %+v", snap)
	}
}

func TestPollWithoutFix(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.sensor.set(domain.GeoPoint{}, false)
	if err := f.ctl.Poll(context.Background()); !errors.Is(err, domain.ErrSensorUnavailable) {
		t.Fatalf("expected ErrSensorUnavailable, got %v", err)
	}
	if f.coord.targetCalls() != 0 {
		t.Fatalf("coordinator should not be called without a position")
	}
}

func TestLastFixUsedWithinGPSTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.GPSTimeout = time.Hour
	f := newFixture(t, cfg)
	f.armed(t)

	f.sensor.set(domain.GeoPoint{}, false)
	if err := f.ctl.Poll(context.Background()); err != nil {
		t.Fatalf("poll with recent fix: %v", err)
	}
}

func TestStartOutOfRange(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.armed(t)

	// about 111 m north of the target
	f.sensor.set(domain.GeoPoint{Latitude: mcgill.Latitude + 0.001, Longitude: mcgill.Longitude}, true)
	if err := f.ctl.Start(context.Background()); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if st := f.ctl.State(); st != Armed {
		t.Fatalf("state should be unchanged, got %s", st)
	}
	if n := countFiles(t, f.cfg.OutputDir); n != 0 {
		t.Fatalf("no container should be created, found %d files", n)
	}
}

func TestStartRefusesNonFiniteTarget(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.coord.setTarget(domain.Target{Tag: "Nowhere", Location: domain.GeoPoint{Latitude: math.NaN(), Longitude: math.NaN()}})
	f.armed(t)

	if err := f.ctl.Start(context.Background()); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for a NaN target, got %v", err)
	}
	if st := f.ctl.State(); st != Armed {
		t.Fatalf("state should be unchanged, got %s", st)
	}
	if n := countFiles(t, f.cfg.OutputDir); n != 0 {
		t.Fatalf("no container should be created, found %d files", n)
	}
}

func TestDebugBypassesProximity(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debug = true
	cfg.Duration = 10 * time.Second
	cfg.Tick = 10 * time.Millisecond
	f := newFixture(t, cfg)
	f.armed(t)

	f.sensor.set(domain.GeoPoint{Latitude: mcgill.Latitude + 1, Longitude: mcgill.Longitude}, true)
	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start with debug override: %v", err)
	}
	if st := f.ctl.State(); st != Recording {
		t.Fatalf("expected recording, got %s", st)
	}

	// ticks keep running far from the target without aborting
	time.Sleep(50 * time.Millisecond)
	if st := f.ctl.State(); st != Recording {
		t.Fatalf("debug session should not abort, got %s", st)
	}
	if err := f.ctl.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = 10 * time.Second
	f := newFixture(t, cfg)
	f.armed(t)

	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if n := countFiles(t, f.cfg.OutputDir); n != 1 {
		t.Fatalf("expected exactly one container, found %d", n)
	}
	if err := f.ctl.Poll(context.Background()); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("poll while recording should be busy, got %v", err)
	}
	f.ctl.Cancel(context.Background())
}

func TestCountdownCompletesAndDispatchesUpload(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.armed(t)

	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	r := waitOutcome(t, f.ctl)
	if r.Aborted {
		t.Fatalf("session aborted: %s", r.AbortReason)
	}
	if r.User != "jo" || r.TargetTag != "McGill" || r.SessionID == "" {
		t.Fatalf("unexpected reading %+v", r)
	}
	if r.Accepted == 0 || r.Intensity != 500 || r.LowConfidence {
		t.Fatalf("unexpected aggregate %+v", r)
	}
	if filepath.Base(r.FilePath)[:3] != "jo_" || filepath.Ext(r.FilePath) != ".wav" {
		t.Fatalf("unexpected file name %s", r.FilePath)
	}

	data, err := os.ReadFile(r.FilePath)
	if err != nil {
		t.Fatalf("read container: %v", err)
	}
	if int64(len(data)) != wav.HeaderSize+r.PayloadBytes || r.PayloadBytes == 0 {
		t.Fatalf("container is %d bytes for %d payload bytes", len(data), r.PayloadBytes)
	}
	hdr, err := wav.ReadHeader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if int64(hdr.ChunkSize) != r.PayloadBytes+36 || int64(hdr.Subchunk2Size) != r.PayloadBytes {
		t.Fatalf("header not patched: %+v", hdr)
	}

	jobs := f.uploads.snapshot()
	if len(jobs) != 1 || jobs[0].Path != r.FilePath || jobs[0].User != "jo" {
		t.Fatalf("unexpected upload jobs %+v", jobs)
	}
	if !f.capture.stopped() {
		t.Fatalf("capture should be stopped")
	}

	// the post-session poll re-arms the controller
	waitState(t, f.ctl, Armed)
	if f.ctl.Snapshot().Last == nil {
		t.Fatalf("snapshot should carry the last reading")
	}
}

func TestCancelDeletesContainer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = 10 * time.Second
	f := newFixture(t, cfg)
	f.armed(t)

	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := f.ctl.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	r := waitOutcome(t, f.ctl)
	if !r.Aborted || r.AbortReason != "cancelled" {
		t.Fatalf("expected cancelled session, got %+v", r)
	}
	if n := countFiles(t, f.cfg.OutputDir); n != 0 {
		t.Fatalf("container should be deleted, found %d files", n)
	}
	if len(f.uploads.snapshot()) != 0 {
		t.Fatalf("aborted sessions must not be uploaded")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = 10 * time.Second
	f := newFixture(t, cfg)

	if err := f.ctl.Stop(context.Background()); err != nil {
		t.Fatalf("stop without session: %v", err)
	}

	f.armed(t)
	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.ctl.Stop(context.Background()); err != nil {
				t.Errorf("stop: %v", err)
			}
		}()
	}
	wg.Wait()

	r := waitOutcome(t, f.ctl)
	if r.Aborted {
		t.Fatalf("explicit stop should finalize, got abort %q", r.AbortReason)
	}
	if len(f.uploads.snapshot()) != 1 {
		t.Fatalf("expected one upload job")
	}
	if err := f.ctl.Stop(context.Background()); err != nil {
		t.Fatalf("stop after finalize: %v", err)
	}
}

func TestCloseCancelsPostSessionPoll(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = 10 * time.Second
	f := newFixture(t, cfg)
	f.armed(t)

	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.coord.blockTargets()
	calls := f.coord.targetCalls()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	begin := time.Now()
	if err := f.ctl.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("close took %s", elapsed)
	}
	if got := f.coord.targetCalls(); got != calls {
		t.Fatalf("no re-poll expected after close, got %d extra requests", got-calls)
	}
	if err := f.ctl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseReleasesBlockedRepoll(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = 10 * time.Second
	f := newFixture(t, cfg)
	f.armed(t)

	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.coord.blockTargets()

	// Cancel waits for the re-poll, which is now parked on the coordinator
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.ctl.Cancel(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cancel to outlast its deadline, got %v", err)
	}
	waitOutcome(t, f.ctl)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctl.Close(context.Background())
		// only returns once the re-poll has let go of the poll lock
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		f.ctl.Poll(ctx)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked re-poll was not released by close")
	}
}

func TestLeavingTargetAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = 10 * time.Second
	f := newFixture(t, cfg)
	f.armed(t)

	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.sensor.set(domain.GeoPoint{Latitude: mcgill.Latitude + 0.001, Longitude: mcgill.Longitude}, true)

	r := waitOutcome(t, f.ctl)
	if !r.Aborted {
		t.Fatalf("expected abort after leaving the target area")
	}
	if n := countFiles(t, f.cfg.OutputDir); n != 0 {
		t.Fatalf("container should be deleted, found %d files", n)
	}
}

func TestCaptureFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = 10 * time.Second
	f := newFixture(t, cfg)
	f.armed(t)
	f.capture.failReads(errors.New("device gone"))

	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	r := waitOutcome(t, f.ctl)
	if !r.Aborted {
		t.Fatalf("expected abort on capture failure")
	}
	if len(f.uploads.snapshot()) != 0 {
		t.Fatalf("aborted sessions must not be uploaded")
	}
}

func TestSnapshotProgress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = time.Second
	cfg.Tick = 10 * time.Millisecond
	f := newFixture(t, cfg)
	f.sensor.setAmp(550)
	f.armed(t)

	if err := f.ctl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	snap := f.ctl.Snapshot()
	if snap.State != Recording || snap.Progress <= 0 || snap.Progress >= 100 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Remaining <= 0 || snap.Remaining >= time.Second {
		t.Fatalf("unexpected remaining %s", snap.Remaining)
	}
	if snap.Level != 0.5 {
		t.Fatalf("expected level 0.5 for amplitude 550, got %v", snap.Level)
	}
	f.ctl.Cancel(context.Background())
}

type stubSensor struct {
	mu  sync.Mutex
	pos domain.GeoPoint
	fix bool
	amp int32
}

func (s *stubSensor) set(p domain.GeoPoint, fix bool) {
	s.mu.Lock()
	s.pos, s.fix = p, fix
	s.mu.Unlock()
}

func (s *stubSensor) setAmp(v int32) {
	s.mu.Lock()
	s.amp = v
	s.mu.Unlock()
}

func (s *stubSensor) ReadAmplitude() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amp
}

func (s *stubSensor) ReadPosition() (domain.GeoPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.fix
}

type stubCapture struct {
	mu      sync.Mutex
	running bool
	err     error
}

func (c *stubCapture) failReads(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *stubCapture) Start() error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *stubCapture) Stop() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

func (c *stubCapture) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running
}

func (c *stubCapture) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	for i := range p {
		p[i] = 0x01
	}
	return len(p), nil
}

type stubCoordinator struct {
	mu      sync.Mutex
	target  domain.Target
	peers   []domain.PeerLocation
	err     error
	calls   int
	user    string
	lastPos domain.GeoPoint
	block   bool
}

func (c *stubCoordinator) setTarget(t domain.Target) {
	c.mu.Lock()
	c.target = t
	c.mu.Unlock()
}

func (c *stubCoordinator) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// blockTargets makes RequestTarget hang until its context is done.
func (c *stubCoordinator) blockTargets() {
	c.mu.Lock()
	c.block = true
	c.mu.Unlock()
}

func (c *stubCoordinator) targetCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *stubCoordinator) lastRequest() (string, domain.GeoPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.lastPos
}

func (c *stubCoordinator) RequestTarget(ctx context.Context, user string, pos domain.GeoPoint) (domain.Target, error) {
	c.mu.Lock()
	c.calls++
	c.user, c.lastPos = user, pos
	if c.block {
		c.mu.Unlock()
		<-ctx.Done()
		return domain.Target{}, ctx.Err()
	}
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.Target{}, c.err
	}
	return c.target, nil
}

func (c *stubCoordinator) RequestPeers(context.Context) ([]domain.PeerLocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return []domain.PeerLocation{}, c.err
	}
	return append([]domain.PeerLocation{}, c.peers...), nil
}

type stubDispatcher struct {
	mu   sync.Mutex
	jobs []*domain.UploadJob
}

func (d *stubDispatcher) Dispatch(job *domain.UploadJob) bool {
	d.mu.Lock()
	d.jobs = append(d.jobs, job)
	d.mu.Unlock()
	return true
}

func (d *stubDispatcher) snapshot() []*domain.UploadJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*domain.UploadJob(nil), d.jobs...)
}

type mockObs struct{}

func (mockObs) LogInfo(string, ...ports.Field)               {}
func (mockObs) LogWarn(string, error, ...ports.Field)        {}
func (mockObs) LogError(string, error, ...ports.Field)       {}
func (mockObs) LogCritical(string, error, ...ports.Field)    {}
func (mockObs) IncCounter(string, float64)                   {}
func (mockObs) ObserveLatency(string, float64)               {}
func (mockObs) SetGauge(string, float64)                     {}
func (mockObs) RecordUploadFailure(*domain.UploadJob, error) {}
