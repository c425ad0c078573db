package models

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/teslashibe/mood-map/internal/httpc"
	"github.com/teslashibe/mood-map/pkg/face"
)

var tracer = otel.Tracer("github.com/teslashibe/mood-map/pkg/models")

// Progress messages shown while loading.
const (
	ProgressRuntime = "Loading face analysis runtime..."
	progressModels  = "Loading AI models (%d/%d)..."
)

// Config controls where artifacts come from.
type Config struct {
	Dir     string        // local model directory
	BaseURL string        // optional download location for missing files
	Timeout time.Duration // upper bound for the whole load
	Client  *http.Client  // defaults to httpc.Client
}

// Bootstrapper loads an engine once and reports its state.
type Bootstrapper struct {
	engine   face.Engine
	manifest Manifest
	cfg      Config
	log      *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	state     State
	listeners []func(State)
}

// New creates a bootstrapper for engine and the artifacts in manifest.
func New(engine face.Engine, manifest Manifest, cfg Config, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Client == nil {
		cfg.Client = httpc.Client
	}
	return &Bootstrapper{
		engine:   engine,
		manifest: manifest,
		cfg:      cfg,
		log:      logger,
	}
}

// State returns the current model state.
func (b *Bootstrapper) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Ready reports whether the engine can be used.
func (b *Bootstrapper) Ready() bool {
	return b.State().Status == StatusReady
}

// OnChange registers fn to be called after every state change.
func (b *Bootstrapper) OnChange(fn func(State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// EnsureLoaded loads the engine if needed and waits for the outcome.
// Concurrent callers share one load; later callers get the stored outcome.
// ctx only bounds the wait, not the shared load.
func (b *Bootstrapper) EnsureLoaded(ctx context.Context) error {
	if err, done := b.terminal(); done {
		return err
	}

	ch := b.group.DoChan("load", func() (any, error) {
		return nil, b.load()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminal returns the stored outcome once the load has finished.
func (b *Bootstrapper) terminal() (error, bool) {
	st := b.State()
	switch st.Status {
	case StatusReady:
		return nil, true
	case StatusFailed:
		return st.Err, true
	default:
		return nil, false
	}
}

func (b *Bootstrapper) load() error {
	// A caller may have raced past terminal() while the previous flight
	// was finishing.
	if err, done := b.terminal(); done {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "models.load")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("models.artifacts", b.manifest.Names()))

	start := time.Now()
	err := b.run(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrModelLoadFailure, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "model load failed")
		b.log.Error("model load failed", "error", err)
		b.setState(State{Status: StatusFailed, Err: err})
		return err
	}

	b.log.Info("models ready", "artifacts", len(b.manifest.Artifacts), "took", time.Since(start).Round(time.Millisecond))
	b.setState(State{Status: StatusReady})
	return nil
}

func (b *Bootstrapper) run(ctx context.Context) error {
	if err := b.manifest.Validate(); err != nil {
		return err
	}

	b.setState(State{Status: StatusLoading, Progress: ProgressRuntime})
	if err := b.engine.Init(ctx); err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}

	total := len(b.manifest.Artifacts)
	b.setState(State{Status: StatusLoading, Progress: fmt.Sprintf(progressModels, 0, total)})

	resolved := make([]face.Artifact, total)

	// progressMu spans the count and its report so updates never go backwards.
	var (
		progressMu sync.Mutex
		done       int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, a := range b.manifest.Artifacts {
		g.Go(func() error {
			files, err := b.resolve(gctx, a)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", a.Name, err)
			}
			resolved[i] = face.Artifact{Name: a.Name, Files: files}

			progressMu.Lock()
			defer progressMu.Unlock()
			done++
			b.setState(State{Status: StatusLoading, Progress: fmt.Sprintf(progressModels, done, total)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := b.engine.LoadArtifacts(ctx, resolved); err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	return nil
}

// resolve returns local paths for every file of a, downloading missing
// files when a base URL is configured.
func (b *Bootstrapper) resolve(ctx context.Context, a face.Artifact) ([]string, error) {
	paths := make([]string, 0, len(a.Files))
	for _, name := range a.Files {
		local := filepath.Join(b.cfg.Dir, filepath.FromSlash(name))

		if _, err := os.Stat(local); err == nil {
			paths = append(paths, local)
			continue
		} else if !os.IsNotExist(err) {
			return nil, err
		}

		if b.cfg.BaseURL == "" {
			return nil, fmt.Errorf("%s not found in %s", name, b.cfg.Dir)
		}

		src, err := joinURL(b.cfg.BaseURL, name)
		if err != nil {
			return nil, err
		}
		b.log.Info("downloading model file", "artifact", a.Name, "url", src)
		if err := httpc.Download(ctx, b.cfg.Client, src, local); err != nil {
			return nil, err
		}
		paths = append(paths, local)
	}
	return paths, nil
}

func joinURL(base, name string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("bad base url: %w", err)
	}
	u.Path = path.Join(u.Path, name)
	return u.String(), nil
}

func (b *Bootstrapper) setState(st State) {
	b.mu.Lock()
	// A final state is never overwritten by late progress updates.
	if b.state.Status == StatusReady || b.state.Status == StatusFailed {
		b.mu.Unlock()
		return
	}
	b.state = st
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}
