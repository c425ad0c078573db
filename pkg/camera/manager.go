package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the single active capture session. It is created by
// Manager.Acquire and invalidated by Manager.Release.
type Session struct {
	ID        string
	Width     int // actual frame width read back from the stream
	Height    int // actual frame height read back from the stream
	StartedAt time.Time

	stream Stream

	mu     sync.Mutex
	active bool
	seq    uint64
	warm   *Frame
}

// Active reports whether the session still owns the device.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Read returns the next frame. The warm-up frame captured during
// acquisition is handed out first so no frame is wasted.
func (s *Session) Read(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return Frame{}, ErrSessionClosed
	}

	var frame Frame
	if s.warm != nil {
		frame = *s.warm
		s.warm = nil
	} else {
		f, err := s.stream.Read(ctx)
		if err != nil {
			return Frame{}, err
		}
		if f.Empty() {
			return Frame{}, ErrNoFrame
		}
		frame = f
	}

	s.seq++
	frame.Seq = s.seq
	if frame.Width == 0 || frame.Height == 0 {
		frame.Width, frame.Height = s.Width, s.Height
	}
	return frame, nil
}

// stop marks the session inactive and stops the stream exactly once.
func (s *Session) stop() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false, nil
	}
	s.active = false
	s.warm = nil
	return true, s.stream.StopAllTracks()
}

// Manager owns the capture device and at most one active session.
type Manager struct {
	device Device
	log    *slog.Logger

	acquireMu sync.Mutex // serialises Acquire

	mu      sync.Mutex
	config  Config
	session *Session
	closed  bool
}

// NewManager creates a manager for device using cfg as the stream request.
func NewManager(device Device, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		device: device,
		config: cfg,
		log:    logger,
	}
}

// GetConfig returns the current capture configuration.
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// SetConfig updates the configuration used by the next Acquire.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Active returns the active session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && m.session.Active() {
		return m.session
	}
	return nil
}

// Acquire opens the device and returns a new session. The stream's first
// frame is read before returning so Width and Height hold the real size.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.session != nil && m.session.Active() {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	cfg := m.config
	m.mu.Unlock()

	stream, err := m.device.RequestStream(ctx, cfg.Constraints())
	if err != nil {
		m.log.Warn("camera request refused", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrDeviceDenied, err)
	}

	warm, err := stream.Read(ctx)
	if err == nil && warm.Empty() {
		err = ErrNoFrame
	}
	if err != nil {
		if stopErr := stream.StopAllTracks(); stopErr != nil {
			m.log.Warn("stop after failed warm-up", "error", stopErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceDenied, err)
	}

	width, height := warm.Width, warm.Height
	if width == 0 || height == 0 {
		width, height = cfg.Width, cfg.Height
	}

	s := &Session{
		ID:        uuid.NewString(),
		Width:     width,
		Height:    height,
		StartedAt: time.Now(),
		stream:    stream,
		active:    true,
		warm:      &warm,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.stop()
		return nil, ErrManagerClosed
	}
	m.session = s
	m.mu.Unlock()

	m.log.Info("camera acquired",
		"session", s.ID,
		"requested", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"actual", fmt.Sprintf("%dx%d", width, height))

	return s, nil
}

// Release stops every track of the session's stream. It is safe to call
// with nil, with a session that was already released, or more than once.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}

	stopped, err := s.stop()
	if err != nil {
		m.log.Warn("camera stop failed", "session", s.ID, "error", err)
	}

	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	m.mu.Unlock()

	if stopped {
		m.log.Info("camera released", "session", s.ID, "active_for", time.Since(s.StartedAt).Round(time.Millisecond))
	}
}

// Close releases any active session and rejects later acquisitions.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	s := m.session
	m.mu.Unlock()

	m.Release(s)
	return nil
}
