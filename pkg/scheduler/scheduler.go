// Package scheduler drives the face-analysis engine with frames from the
// active capture session, either on a fixed cadence or as a bounded number
// of attempts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
)

var tracer = otel.Tracer("github.com/teslashibe/mood-map/pkg/scheduler")

// Kind classifies a detection outcome.
type Kind int

const (
	// Fail means the frame or the engine call failed.
	Fail Kind = iota
	// Empty means the engine saw no face.
	Empty
	// Found means at least one face was detected.
	Found
)

// String returns the outcome kind name.
func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case Empty:
		return "empty"
	default:
		return "fail"
	}
}

// Outcome is the result of one detection call.
type Outcome struct {
	Kind      Kind
	Detection face.Detection // best face when Kind is Found
	Faces     int            // number of faces the engine reported
	Frame     camera.Frame   // frame the detection ran on
	Attempt   int            // 1-based attempt number in bounded-retry mode
	Err       error          // set when Kind is Fail
}

// FrameSource yields frames. *camera.Session implements it.
type FrameSource interface {
	Read(ctx context.Context) (camera.Frame, error)
}

// Gate reports whether the engine may be used. *models.Bootstrapper
// implements it.
type Gate interface {
	Ready() bool
}

// Config controls cadence and retry budget.
type Config struct {
	TickInterval time.Duration // continuous mode cadence
	MaxAttempts  int           // bounded-retry budget
	RetryDelay   time.Duration // pause after an empty or failed attempt
	Options      face.Options
}

// DefaultConfig returns the cadence used by the live view.
func DefaultConfig() Config {
	return Config{
		TickInterval: 100 * time.Millisecond,
		MaxAttempts:  5,
		RetryDelay:   500 * time.Millisecond,
		Options:      face.DefaultOptions(),
	}
}

// Scheduler issues detection calls, one at a time.
type Scheduler struct {
	engine face.Engine
	gate   Gate
	cfg    Config
	log    *slog.Logger

	// inflight allows a single engine call across every caller.
	inflight *semaphore.Weighted
}

// New creates a scheduler. Zero config fields fall back to DefaultConfig.
func New(engine face.Engine, gate Gate, cfg Config, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Options.InputSize <= 0 {
		cfg.Options.InputSize = def.Options.InputSize
	}
	if cfg.Options.ScoreThreshold <= 0 {
		cfg.Options.ScoreThreshold = def.Options.ScoreThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:   engine,
		gate:     gate,
		cfg:      cfg,
		log:      logger,
		inflight: semaphore.NewWeighted(1),
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// DetectOnce runs the engine on one frame. It waits for any other call in
// flight to return first.
func (s *Scheduler) DetectOnce(ctx context.Context, frame camera.Frame) Outcome {
	out := Outcome{Frame: frame}

	if s.gate != nil && !s.gate.Ready() {
		out.Err = ErrModelsNotReady
		return out
	}
	if frame.Empty() {
		out.Err = face.ErrEmptyFrame
		return out
	}

	if err := s.inflight.Acquire(ctx, 1); err != nil {
		out.Err = err
		return out
	}
	defer s.inflight.Release(1)

	ctx, span := tracer.Start(ctx, "scheduler.detect", trace.WithAttributes(
		attribute.Int("frame.width", frame.Width),
		attribute.Int("frame.height", frame.Height),
		attribute.Int64("frame.seq", int64(frame.Seq)),
	))
	defer span.End()

	dets, err := s.engine.Detect(ctx, frame.Data, s.cfg.Options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detect failed")
		out.Err = fmt.Errorf("detect: %w", err)
		return out
	}

	out.Faces = len(dets)
	span.SetAttributes(attribute.Int("faces", len(dets)))

	best := face.SelectBest(dets)
	if best == nil {
		out.Kind = Empty
		return out
	}
	out.Kind = Found
	out.Detection = *best
	return out
}

// sample reads a frame from src and detects on it.
func (s *Scheduler) sample(ctx context.Context, src FrameSource) Outcome {
	frame, err := src.Read(ctx)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: %w", ErrFrameUnavailable, err)}
	}
	return s.DetectOnce(ctx, frame)
}

// Run samples src once per TickInterval until ctx is cancelled, passing
// every outcome to fn. A tick starts only after the previous outcome was
// delivered. Empty and failed ticks are reported but not counted.
func (s *Scheduler) Run(ctx context.Context, src FrameSource, fn func(Outcome)) error {
	if s.gate != nil && !s.gate.Ready() {
		return ErrModelsNotReady
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		out := s.sample(ctx, src)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if out.Kind == Fail {
			s.log.Debug("tick failed", "error", out.Err)
		}
		fn(out)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Analyze samples src up to MaxAttempts times, pausing RetryDelay after
// every empty or failed attempt, and returns the first Found outcome.
// onAttempt, if set, is called before each attempt. When every attempt
// misses it returns ErrNoFaceDetected.
func (s *Scheduler) Analyze(ctx context.Context, src FrameSource, onAttempt func(attempt int)) (Outcome, error) {
	if s.gate != nil && !s.gate.Ready() {
		return Outcome{}, ErrModelsNotReady
	}

	attempt := 0
	op := func() (Outcome, error) {
		if err := ctx.Err(); err != nil {
			return Outcome{}, backoff.Permanent(err)
		}

		attempt++
		if onAttempt != nil {
			onAttempt(attempt)
		}

		out := s.sample(ctx, src)
		out.Attempt = attempt

		switch {
		case ctx.Err() != nil:
			return out, backoff.Permanent(ctx.Err())
		case out.Kind == Found:
			return out, nil
		case out.Kind == Empty:
			return out, errEmpty
		case errors.Is(out.Err, ErrModelsNotReady):
			return out, backoff.Permanent(out.Err)
		default:
			s.log.Debug("attempt failed", "attempt", attempt, "error", out.Err)
			return out, out.Err
		}
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
	)
	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		return out, ctx.Err()
	case errors.Is(err, ErrModelsNotReady):
		return out, err
	default:
		s.log.Info("no face after retries", "attempts", attempt, "last", err)
		return out, ErrNoFaceDetected
	}
}
