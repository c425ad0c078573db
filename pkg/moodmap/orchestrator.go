// Package moodmap owns the capture and analysis lifecycle. It is the only
// place where the orchestrator state changes; the camera, models and
// scheduler report outcomes and the orchestrator decides the transition.
package moodmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
	"github.com/teslashibe/mood-map/pkg/models"
	"github.com/teslashibe/mood-map/pkg/pose"
	"github.com/teslashibe/mood-map/pkg/scheduler"
	"github.com/teslashibe/mood-map/pkg/snapshot"
)

// Models loads the analysis engine. *models.Bootstrapper implements it.
type Models interface {
	EnsureLoaded(ctx context.Context) error
	State() models.State
	OnChange(fn func(models.State))
}

// Camera hands out the capture session. *camera.Manager implements it.
type Camera interface {
	Acquire(ctx context.Context) (*camera.Session, error)
	Release(s *camera.Session)
}

// Detector runs detection cycles. *scheduler.Scheduler implements it.
type Detector interface {
	Run(ctx context.Context, src scheduler.FrameSource, fn func(scheduler.Outcome)) error
	Analyze(ctx context.Context, src scheduler.FrameSource, onAttempt func(int)) (scheduler.Outcome, error)
	Config() scheduler.Config
}

// Overlay shows the current detection over the live frame.
// *overlay.Surface implements it.
type Overlay interface {
	Resize(w, h int)
	Draw(det face.Detection, a face.Analysis) error
	Clear()
}

// Compositor renders the exportable snapshot. *snapshot.Compositor
// implements it.
type Compositor interface {
	Composite(frame camera.Frame, a *face.Analysis) ([]byte, error)
}

// Sink stores an exported snapshot. snapshot.FileSink implements it.
type Sink interface {
	Save(ctx context.Context, name string, data []byte) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Models     Models
	Camera     Camera
	Detector   Detector
	Overlay    Overlay
	Compositor Compositor
}

// Config tunes the orchestrator.
type Config struct {
	// ReleaseDelay is how long the camera stays on after results are
	// shown. Zero or less releases it immediately.
	ReleaseDelay time.Duration

	// OnFrame, if set, receives every frame the continuous loop samples.
	// It must not block.
	OnFrame func(camera.Frame)

	// MaxReadFailures is how many frame reads in a row may fail before
	// continuous capture gives up on the camera. Zero means 10.
	MaxReadFailures int
}

// Orchestrator is the mood map state machine. It is safe for concurrent use.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
	now  func() time.Time

	mu          sync.Mutex
	state       State
	attempt     int
	notice      *Notice
	result      *face.Analysis
	detection   face.Detection // detection the result was built from
	frame       camera.Frame   // frame the result was taken from
	snapshot    []byte
	faceVisible bool
	session     *camera.Session
	readFails   int // consecutive failed frame reads while capturing

	// epoch is bumped whenever running work is invalidated. Outcomes
	// carrying an older epoch are dropped.
	epoch    uint64
	starting bool // a capture or analysis is acquiring the camera
	cancel   context.CancelFunc
	loopDone chan struct{}
	release  *time.Timer

	subs   map[int]chan Status
	nextID int
}

// New creates an orchestrator in the Idle state.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxReadFailures <= 0 {
		cfg.MaxReadFailures = 10
	}
	o := &Orchestrator{
		deps:  deps,
		cfg:   cfg,
		log:   logger,
		now:   time.Now,
		state: StateIdle,
		subs:  make(map[int]chan Status),
	}
	if deps.Models != nil {
		deps.Models.OnChange(func(models.State) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.publishLocked()
		})
	}
	return o
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

// Subscribe returns a channel that receives the latest status after every
// change, and a function to stop receiving. Slow readers only miss
// intermediate updates.
func (o *Orchestrator) Subscribe() (<-chan Status, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan Status, 1)
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	ch <- o.statusLocked()

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
}

// Mount loads the models: Idle -> ModelLoading -> Ready, or Error when the
// load fails. Calling it again returns the stored outcome.
func (o *Orchestrator) Mount(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateIdle:
		o.state = StateModelLoading
		o.publishLocked()
	case StateError:
		o.mu.Unlock()
		return models.ErrModelLoadFailure
	case StateModelLoading:
	default:
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	o.log.Info("loading models")
	err := o.deps.Models.EnsureLoaded(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateModelLoading {
		return err
	}
	switch {
	case err == nil:
		o.state = StateReady
		o.log.Info("models loaded")
	case errors.Is(err, models.ErrModelLoadFailure):
		o.state = StateError
		o.notice = newNotice(NoticeModelLoadFailure)
	default:
		// The caller stopped waiting; the shared load carries on and a
		// later Mount picks up its outcome.
		o.state = StateIdle
	}
	o.publishLocked()
	return err
}

// StartCapture opens the camera and starts the continuous detection loop.
// When the camera is refused the state is left unchanged and a
// DeviceDenied notice is shown.
func (o *Orchestrator) StartCapture(ctx context.Context) error {
	o.mu.Lock()
	if err := o.checkStartLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	if o.state == StateCapturing {
		o.mu.Unlock()
		return nil
	}

	o.stopReleaseTimerLocked()
	o.epoch++
	epoch := o.epoch
	loopCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.starting = true
	o.mu.Unlock()

	// The caller may give up while the camera is being opened; after that
	// the loop lives until StopCapture.
	stop := context.AfterFunc(ctx, cancel)
	s, fresh, err := o.openSession(loopCtx)
	stop()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch != epoch {
		if fresh {
			o.deps.Camera.Release(s)
		}
		cancel()
		return ErrCancelled
	}
	if loopCtx.Err() != nil {
		if fresh {
			o.deps.Camera.Release(s)
		}
		o.starting = false
		o.cancel = nil
		o.publishLocked()
		return ctx.Err()
	}
	o.starting = false
	if err != nil {
		o.cancel = nil
		cancel()
		return o.acquireFailedLocked(err)
	}

	o.session = s
	o.state = StateCapturing
	o.notice = nil
	o.readFails = 0
	o.deps.Overlay.Resize(s.Width, s.Height)

	done := make(chan struct{})
	o.loopDone = done
	go func() {
		defer close(done)
		err := o.deps.Detector.Run(loopCtx, s, func(out scheduler.Outcome) {
			if o.cfg.OnFrame != nil && !out.Frame.Empty() {
				o.cfg.OnFrame(out.Frame)
			}
			o.onTick(epoch, out)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			o.log.Warn("capture loop stopped", "error", err)
		}
	}()

	o.log.Info("capture started", "session", s.ID, "width", s.Width, "height", s.Height)
	o.publishLocked()
	return nil
}

// Analyze runs one bounded-retry analysis on the camera, opening it if
// needed. A running continuous loop is stopped first. On success the
// result is stored, drawn and composited, and the camera is released
// after ReleaseDelay. When no face is found the camera is released and
// a NoFaceDetected notice is shown.
func (o *Orchestrator) Analyze(ctx context.Context) (*face.Analysis, error) {
	o.mu.Lock()
	if err := o.checkStartLocked(); err != nil {
		o.mu.Unlock()
		return nil, err
	}

	o.stopReleaseTimerLocked()
	o.epoch++
	epoch := o.epoch
	prevCancel, prevDone := o.cancel, o.loopDone
	o.loopDone = nil

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.starting = true
	o.mu.Unlock()

	// Stop the continuous loop before taking over its session.
	if prevCancel != nil {
		prevCancel()
	}
	if prevDone != nil {
		<-prevDone
	}

	s, fresh, err := o.openSession(runCtx)

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		if fresh {
			o.deps.Camera.Release(s)
		}
		cancel()
		return nil, ErrCancelled
	}
	o.starting = false
	if err != nil {
		o.cancel = nil
		cancel()
		// The continuous loop, if any, is already gone.
		if o.state == StateCapturing {
			o.state = StateReady
		}
		if runCtx.Err() != nil {
			o.publishLocked()
			o.mu.Unlock()
			return nil, ctx.Err()
		}
		err = o.acquireFailedLocked(err)
		o.mu.Unlock()
		return nil, err
	}

	o.session = s
	o.state = StateAnalyzing
	o.attempt = 0
	o.notice = nil
	o.faceVisible = false
	o.deps.Overlay.Resize(s.Width, s.Height)
	o.publishLocked()
	o.mu.Unlock()

	out, err := o.deps.Detector.Analyze(runCtx, s, func(n int) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.epoch == epoch && o.state == StateAnalyzing {
			o.attempt = n
			o.publishLocked()
		}
	})
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch != epoch {
		return nil, ErrCancelled
	}
	o.cancel = nil

	if err != nil {
		sess := o.session
		o.session = nil
		o.attempt = 0
		o.deps.Overlay.Clear()
		o.faceVisible = false
		o.state = StateReady
		if errors.Is(err, scheduler.ErrNoFaceDetected) {
			o.notice = newNotice(NoticeNoFaceDetected)
		}
		o.deps.Camera.Release(sess)
		o.publishLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	a := o.acceptLocked(out)
	o.state = StateResultsReady
	o.attempt = 0

	if data, err := o.deps.Compositor.Composite(out.Frame, &a); err != nil {
		o.log.Warn("snapshot composite failed", "error", err)
	} else {
		o.snapshot = data
	}

	o.armReleaseLocked(epoch)
	o.log.Info("analysis complete", "id", a.ID, "emotion", a.DominantEmotion, "attempts", out.Attempt)
	o.publishLocked()
	return &a, nil
}

// StopCapture cancels running loops and timers, then releases the camera.
// A stored result is kept.
func (o *Orchestrator) StopCapture() {
	o.mu.Lock()
	cancel, done, sess := o.invalidateLocked()
	switch o.state {
	case StateCapturing, StateAnalyzing:
		o.state = StateReady
		o.attempt = 0
		o.deps.Overlay.Clear()
		o.faceVisible = false
	}
	o.mu.Unlock()

	o.teardown(cancel, done, sess)

	o.mu.Lock()
	o.publishLocked()
	o.mu.Unlock()
	o.log.Info("capture stopped")
}

// Reset clears the result, overlay and snapshot, releases the camera and
// returns to Ready.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	cancel, done, sess := o.invalidateLocked()
	o.result = nil
	o.detection = face.Detection{}
	o.frame = camera.Frame{}
	o.snapshot = nil
	o.attempt = 0
	o.faceVisible = false
	o.deps.Overlay.Clear()
	switch o.state {
	case StateCapturing, StateAnalyzing, StateResultsReady:
		o.state = StateReady
	}
	if o.state == StateReady {
		o.notice = nil
	}
	o.mu.Unlock()

	o.teardown(cancel, done, sess)

	o.mu.Lock()
	o.publishLocked()
	o.mu.Unlock()
}

// Snapshot returns the composited PNG of the current result and its file
// name, compositing it first if needed.
func (o *Orchestrator) Snapshot() ([]byte, string, error) {
	o.mu.Lock()
	if o.result == nil {
		o.mu.Unlock()
		return nil, "", ErrNoResult
	}
	a := *o.result
	name := snapshot.FileName(a.Timestamp)
	if o.snapshot != nil {
		data := o.snapshot
		o.mu.Unlock()
		return data, name, nil
	}

	data, err := o.compositeLocked(a)
	if err != nil {
		o.mu.Unlock()
		o.exportFailed(err)
		return nil, "", fmt.Errorf("%w: %w", ErrExportFailure, err)
	}
	o.snapshot = data
	if o.notice != nil && o.notice.Kind == NoticeExportFailure {
		o.notice = nil
	}
	o.publishLocked()
	o.mu.Unlock()
	return data, name, nil
}

// compositeLocked blends a over its frame. The live overlay may have been
// cleared by a later empty tick, so a's detection is drawn for the blend
// and the overlay is put back the way it was.
func (o *Orchestrator) compositeLocked(a face.Analysis) ([]byte, error) {
	if !o.faceVisible {
		if err := o.deps.Overlay.Draw(o.detection, a); err != nil {
			return nil, fmt.Errorf("redraw overlay: %w", err)
		}
		defer o.deps.Overlay.Clear()
	}
	return o.deps.Compositor.Composite(o.frame, &a)
}

// Export saves the snapshot of the current result to sink and returns the
// file name. Failures leave the result in place so Export can be retried.
func (o *Orchestrator) Export(ctx context.Context, sink Sink) (string, error) {
	data, name, err := o.Snapshot()
	if err != nil {
		return "", err
	}
	if err := sink.Save(ctx, name, data); err != nil {
		o.exportFailed(err)
		return "", fmt.Errorf("%w: %w", ErrExportFailure, err)
	}

	o.mu.Lock()
	if o.notice != nil && o.notice.Kind == NoticeExportFailure {
		o.notice = nil
		o.publishLocked()
	}
	o.mu.Unlock()

	o.log.Info("snapshot exported", "file", name)
	return name, nil
}

// Close stops everything and releases the camera. Subscribers are closed.
func (o *Orchestrator) Close() error {
	o.StopCapture()

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	return nil
}

// openSession returns the active session or acquires a new one. fresh reports
// whether the session was opened by this call.
func (o *Orchestrator) openSession(ctx context.Context) (s *camera.Session, fresh bool, err error) {
	o.mu.Lock()
	s = o.session
	o.mu.Unlock()
	if s.Active() {
		return s, false, nil
	}

	s, err = o.deps.Camera.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (o *Orchestrator) checkStartLocked() error {
	if o.starting {
		return ErrBusy
	}
	switch o.state {
	case StateIdle, StateModelLoading:
		return ErrNotReady
	case StateError:
		return models.ErrModelLoadFailure
	case StateAnalyzing:
		return ErrBusy
	}
	return nil
}

func (o *Orchestrator) acquireFailedLocked(err error) error {
	if errors.Is(err, camera.ErrDeviceDenied) {
		o.notice = newNotice(NoticeDeviceDenied)
		o.log.Warn("camera denied", "error", err)
	} else {
		o.log.Error("camera acquire failed", "error", err)
	}
	o.publishLocked()
	return err
}

// onTick applies one continuous-mode outcome.
func (o *Orchestrator) onTick(epoch uint64, out scheduler.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch != epoch || o.state != StateCapturing {
		return
	}

	if out.Kind == scheduler.Fail && errors.Is(out.Err, scheduler.ErrFrameUnavailable) {
		o.readFails++
		if o.readFails >= o.cfg.MaxReadFailures {
			o.cameraLostLocked(out.Err)
		}
		return
	}
	o.readFails = 0

	switch out.Kind {
	case scheduler.Found:
		o.acceptLocked(out)
		o.publishLocked()
	case scheduler.Empty:
		if o.faceVisible {
			o.deps.Overlay.Clear()
			o.faceVisible = false
			o.publishLocked()
		}
	}
}

// cameraLostLocked ends continuous capture after the camera stopped
// delivering frames. It runs on the loop goroutine between reads, so the
// session can be released here; the loop exits once it sees the cancel.
func (o *Orchestrator) cameraLostLocked(err error) {
	cancel, _, sess := o.invalidateLocked()
	if cancel != nil {
		cancel()
	}
	o.deps.Camera.Release(sess)

	o.state = StateReady
	o.readFails = 0
	o.deps.Overlay.Clear()
	o.faceVisible = false
	o.notice = newNotice(NoticeDeviceDenied)
	o.log.Warn("camera lost during capture", "failures", o.cfg.MaxReadFailures, "error", err)
	o.publishLocked()
}

// acceptLocked turns a Found outcome into the current result.
func (o *Orchestrator) acceptLocked(out scheduler.Outcome) face.Analysis {
	a := face.NewAnalysis(out.Detection, pose.FromDetection(out.Detection), o.now())
	o.result = &a
	o.detection = out.Detection
	o.frame = out.Frame
	o.snapshot = nil
	if err := o.deps.Overlay.Draw(out.Detection, a); err != nil {
		o.log.Warn("overlay draw failed", "error", err)
		o.faceVisible = false
	} else {
		o.faceVisible = true
	}
	return a
}

func (o *Orchestrator) armReleaseLocked(epoch uint64) {
	if o.cfg.ReleaseDelay <= 0 {
		o.deps.Camera.Release(o.session)
		o.session = nil
		return
	}
	o.release = time.AfterFunc(o.cfg.ReleaseDelay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.epoch != epoch || o.state != StateResultsReady {
			return
		}
		o.deps.Camera.Release(o.session)
		o.session = nil
		o.release = nil
		o.log.Debug("camera released after results")
		o.publishLocked()
	})
}

func (o *Orchestrator) stopReleaseTimerLocked() {
	if o.release != nil {
		o.release.Stop()
		o.release = nil
	}
}

// invalidateLocked drops all running work and hands back what the caller
// must stop outside the lock.
func (o *Orchestrator) invalidateLocked() (context.CancelFunc, chan struct{}, *camera.Session) {
	o.epoch++
	o.stopReleaseTimerLocked()
	cancel, done, sess := o.cancel, o.loopDone, o.session
	o.cancel = nil
	o.loopDone = nil
	o.session = nil
	o.starting = false
	return cancel, done, sess
}

// teardown cancels work, waits for the loop and only then releases the
// camera.
func (o *Orchestrator) teardown(cancel context.CancelFunc, done chan struct{}, sess *camera.Session) {
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	o.deps.Camera.Release(sess)
}

func (o *Orchestrator) exportFailed(err error) {
	o.log.Warn("export failed", "error", err)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notice = newNotice(NoticeExportFailure)
	o.publishLocked()
}

func (o *Orchestrator) statusLocked() Status {
	st := Status{
		State:       o.state,
		Attempt:     o.attempt,
		Notice:      o.notice,
		Result:      o.result,
		CameraOn:    o.session.Active(),
		FaceVisible: o.faceVisible,
		HasSnapshot: o.snapshot != nil,
	}
	if o.deps.Detector != nil {
		st.MaxAttempts = o.deps.Detector.Config().MaxAttempts
	}
	if o.session != nil {
		st.FrameWidth, st.FrameHeight = o.session.Width, o.session.Height
	}
	if o.state == StateModelLoading && o.deps.Models != nil {
		st.Progress = o.deps.Models.State().Progress
	}
	return st
}

// publishLocked hands the latest status to every subscriber, replacing
// any update the subscriber has not read yet.
func (o *Orchestrator) publishLocked() {
	st := o.statusLocked()
	for _, ch := range o.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
