package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teslashibe/mood-map/internal/log"
	"github.com/teslashibe/mood-map/pkg/camera"
	"github.com/teslashibe/mood-map/pkg/face"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type gate bool

func (g gate) Ready() bool { return bool(g) }

type frameSource struct {
	reads atomic.Int32
	err   error
}

func (s *frameSource) Read(ctx context.Context) (camera.Frame, error) {
	n := s.reads.Add(1)
	if s.err != nil {
		return camera.Frame{}, s.err
	}
	return camera.Frame{Data: []byte{0xff, 0xd8}, Width: 640, Height: 480, Seq: uint64(n)}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

func found(expr face.Expressions) face.MockResult {
	return face.MockResult{Detections: []face.Detection{face.SampleDetection(expr)}}
}

func TestDetectOnce(t *testing.T) {
	frame := camera.Frame{Data: []byte{1}, Width: 640, Height: 480}

	t.Run("found picks best face", func(t *testing.T) {
		small := face.SampleDetection(nil)
		small.Box = face.Box{X: 0, Y: 0, W: 20, H: 20, Score: 0.6}
		big := face.SampleDetection(face.Expressions{"happy": 0.9})

		engine := face.NewMockEngine()
		engine.Script = []face.MockResult{{Detections: []face.Detection{small, big}}}
		s := New(engine, gate(true), testConfig(), log.Discard())

		out := s.DetectOnce(context.Background(), frame)
		assert.Equal(t, Found, out.Kind)
		assert.Equal(t, 2, out.Faces)
		assert.Equal(t, big.Box, out.Detection.Box)
		assert.Equal(t, face.DefaultOptions(), engine.LastOptions())
	})

	t.Run("empty", func(t *testing.T) {
		s := New(face.NewMockEngine(), gate(true), testConfig(), log.Discard())
		out := s.DetectOnce(context.Background(), frame)
		assert.Equal(t, Empty, out.Kind)
		assert.NoError(t, out.Err)
	})

	t.Run("engine error", func(t *testing.T) {
		engine := face.NewMockEngine()
		engine.Fallback = face.MockResult{Err: errors.New("inference blew up")}
		s := New(engine, gate(true), testConfig(), log.Discard())

		out := s.DetectOnce(context.Background(), frame)
		assert.Equal(t, Fail, out.Kind)
		assert.ErrorContains(t, out.Err, "inference blew up")
	})

	t.Run("models not ready", func(t *testing.T) {
		engine := face.NewMockEngine()
		s := New(engine, gate(false), testConfig(), log.Discard())

		out := s.DetectOnce(context.Background(), frame)
		assert.Equal(t, Fail, out.Kind)
		assert.ErrorIs(t, out.Err, ErrModelsNotReady)
		assert.Equal(t, 0, engine.Calls())
	})

	t.Run("empty frame", func(t *testing.T) {
		engine := face.NewMockEngine()
		s := New(engine, gate(true), testConfig(), log.Discard())

		out := s.DetectOnce(context.Background(), camera.Frame{})
		assert.ErrorIs(t, out.Err, face.ErrEmptyFrame)
		assert.Equal(t, 0, engine.Calls())
	})
}

func TestAnalyze_ExhaustsAfterMaxAttempts(t *testing.T) {
	engine := face.NewMockEngine()
	s := New(engine, gate(true), testConfig(), log.Discard())
	src := &frameSource{}

	var attempts []int
	start := time.Now()
	_, err := s.Analyze(context.Background(), src, func(n int) { attempts = append(attempts, n) })

	require.ErrorIs(t, err, ErrNoFaceDetected)
	assert.Equal(t, 5, engine.Calls())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)
	assert.Equal(t, 1, engine.MaxInFlight())
	// Four pauses between five attempts.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestAnalyze_StopsOnFound(t *testing.T) {
	engine := face.NewMockEngine()
	engine.Script = []face.MockResult{
		{},
		{},
		found(face.Expressions{"happy": 0.82, "neutral": 0.10, "sad": 0.08}),
	}
	s := New(engine, gate(true), testConfig(), log.Discard())

	out, err := s.Analyze(context.Background(), &frameSource{}, nil)
	require.NoError(t, err)
	assert.Equal(t, Found, out.Kind)
	assert.Equal(t, 3, out.Attempt)
	assert.Equal(t, 3, engine.Calls())

	emotion, score := out.Detection.Expressions.Dominant()
	assert.Equal(t, "happy", emotion)
	assert.InDelta(t, 0.82, score, 1e-9)
}

func TestAnalyze_TransientFailureIsRetried(t *testing.T) {
	engine := face.NewMockEngine()
	engine.Script = []face.MockResult{
		{Err: errors.New("busy")},
		found(face.Expressions{"neutral": 0.7}),
	}
	s := New(engine, gate(true), testConfig(), log.Discard())

	out, err := s.Analyze(context.Background(), &frameSource{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempt)
}

func TestAnalyze_RepeatedFailureBecomesNoFace(t *testing.T) {
	engine := face.NewMockEngine()
	engine.Fallback = face.MockResult{Err: errors.New("busy")}
	s := New(engine, gate(true), testConfig(), log.Discard())

	_, err := s.Analyze(context.Background(), &frameSource{}, nil)
	assert.ErrorIs(t, err, ErrNoFaceDetected)
	assert.Equal(t, 5, engine.Calls())
}

func TestAnalyze_FrameErrorsCountAsAttempts(t *testing.T) {
	engine := face.NewMockEngine()
	s := New(engine, gate(true), testConfig(), log.Discard())
	src := &frameSource{err: camera.ErrNoFrame}

	_, err := s.Analyze(context.Background(), src, nil)
	assert.ErrorIs(t, err, ErrNoFaceDetected)
	assert.Equal(t, int32(5), src.reads.Load())
	assert.Equal(t, 0, engine.Calls())
}

func TestAnalyze_CancelAbortsPendingDelay(t *testing.T) {
	engine := face.NewMockEngine()
	cfg := testConfig()
	cfg.RetryDelay = time.Second
	s := New(engine, gate(true), cfg, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	_, err := s.Analyze(ctx, &frameSource{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, engine.Calls())
}

func TestAnalyze_ModelsNotReady(t *testing.T) {
	engine := face.NewMockEngine()
	s := New(engine, gate(false), testConfig(), log.Discard())

	_, err := s.Analyze(context.Background(), &frameSource{}, nil)
	assert.ErrorIs(t, err, ErrModelsNotReady)
	assert.Equal(t, 0, engine.Calls())
}

func TestAnalyze_ConcurrentRequestsNeverOverlap(t *testing.T) {
	engine := face.NewMockEngine()
	engine.Delay = 5 * time.Millisecond
	cfg := testConfig()
	cfg.RetryDelay = time.Millisecond
	s := New(engine, gate(true), cfg, log.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Analyze(context.Background(), &frameSource{}, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 15, engine.Calls())
	assert.Equal(t, 1, engine.MaxInFlight())
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	engine := face.NewMockEngine()
	engine.Script = []face.MockResult{{}, found(face.Expressions{"sad": 0.6}), {Err: errors.New("glitch")}}
	s := New(engine, gate(true), testConfig(), log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var kinds []Kind

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, &frameSource{}, func(out Outcome) {
			mu.Lock()
			kinds = append(kinds, out.Kind)
			n := len(kinds)
			mu.Unlock()
			if n == 5 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, kinds, 5)
	assert.Equal(t, []Kind{Empty, Found, Fail, Empty, Empty}, kinds)
	assert.Equal(t, 1, engine.MaxInFlight())
}

func TestRun_ReadFailureIsFrameUnavailable(t *testing.T) {
	engine := face.NewMockEngine()
	s := New(engine, gate(true), testConfig(), log.Discard())
	src := &frameSource{err: errors.New("unplugged")}

	ctx, cancel := context.WithCancel(context.Background())
	var got Outcome
	err := s.Run(ctx, src, func(out Outcome) {
		got = out
		cancel()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Fail, got.Kind)
	assert.ErrorIs(t, got.Err, ErrFrameUnavailable)
	assert.ErrorContains(t, got.Err, "unplugged")
	assert.Equal(t, 0, engine.Calls())
}

func TestRun_ModelsNotReady(t *testing.T) {
	s := New(face.NewMockEngine(), gate(false), testConfig(), log.Discard())
	err := s.Run(context.Background(), &frameSource{}, func(Outcome) {})
	assert.ErrorIs(t, err, ErrModelsNotReady)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "fail", Fail.String())
}
