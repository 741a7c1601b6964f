// Package pipeline sequences detection, embedding, swapping, blending and
// enhancement over one set of loaded models.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dudu/faceswap/internal/compositor"
	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/enhancer"
	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/logger"
	"github.com/dudu/faceswap/internal/modelstore"
	"github.com/dudu/faceswap/internal/parser"
	"github.com/dudu/faceswap/internal/swapper"
)

// Model names passed to the executor.
const (
	ModelDetector = "detector"
	ModelEmbedder = "embedder"
	ModelSwapper  = "swapper"
	ModelParser   = "parser"
	ModelEnhancer = "enhancer"
	ModelEmap     = "emap"
)

// Downloader fetches model artifacts. *modelstore.Store implements it.
type Downloader interface {
	Download(ctx context.Context, url string, progress modelstore.ProgressFunc) ([]byte, error)
	// Evict drops a cached artifact that failed to load.
	Evict(url string) error
}

// InitOptions controls one Init call.
type InitOptions struct {
	// Timeout bounds each artifact download; zero keeps the store default.
	Timeout           time.Duration
	EnableEnhancement bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithOps fixes the image kernel backend instead of the one named by
// the backend.image_ops setting.
func WithOps(ops imageops.Ops) Option {
	return func(e *Engine) { e.ops = ops }
}

// WithEvents installs the event callback.
func WithEvents(fn EventFunc) Option {
	return func(e *Engine) { e.onEvent = fn }
}

// Engine owns every model session. Calls are serialized; Dispose may be
// called from any goroutine and aborts an in-flight download.
type Engine struct {
	cfg     config.Config
	store   Downloader
	exec    *inference.Executor
	ops     imageops.Ops
	onEvent EventFunc

	mu     sync.Mutex // guards state and cancel
	state  State
	cancel context.CancelFunc

	runMu   sync.Mutex // serializes model use
	models  map[string]*inference.Model
	emap    *swapper.Emap
	enhance bool

	det  *detector.Detector
	ext  *swapper.Extractor
	gen  *swapper.Generator
	par  *parser.Parser
	comp *compositor.Compositor
	enh  *enhancer.Enhancer

	lastTiming Timing
}

// New creates an idle engine. Nothing is downloaded or loaded until Init.
func New(cfg config.Config, store Downloader, exec *inference.Executor, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		exec:   exec,
		state:  StateIdle,
		models: make(map[string]*inference.Model),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateDisposed {
		e.state = s
	}
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

func (e *Engine) phase(p Phase) {
	e.emit(Event{Kind: EventPhase, Phase: p})
}

// artifact is one model file to fetch and how to load it.
type artifact struct {
	name  string
	url   string
	table inference.BindingTable
}

// missing lists the artifacts not loaded yet. Caller holds runMu.
func (e *Engine) missing(enhance bool) []artifact {
	m := e.cfg.Models
	want := []artifact{
		{ModelDetector, m.Detector, inference.ImageOnly},
		{ModelEmbedder, m.Embedder, inference.ImageOnly},
		{ModelSwapper, m.Swapper, inference.SwapperInputs},
	}
	if m.Parser != "" {
		want = append(want, artifact{ModelParser, m.Parser, inference.ImageOnly})
	}
	if enhance {
		want = append(want, artifact{ModelEnhancer, m.Enhancer, inference.ImageOnly})
	}

	var out []artifact
	for _, a := range want {
		if e.models[a.name] == nil {
			out = append(out, a)
		}
	}
	if e.emap == nil && m.Emap != "" {
		out = append(out, artifact{name: ModelEmap, url: m.Emap})
	}
	return out
}

// Init downloads and loads every model not loaded yet. Re-initializing with
// enhancement turned on loads only the enhancer. A failed Init releases all
// sessions so the next attempt starts clean.
func (e *Engine) Init(ctx context.Context, opts InitOptions) (err error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.mu.Lock()
	if e.state == StateDisposed {
		e.mu.Unlock()
		return faceerr.Errorf(faceerr.KindDisposed, "init", "engine disposed")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		if err != nil {
			e.releaseLocked()
			e.setState(StateIdle)
			logger.Logger().Warn("init failed", "error", err)
		}
	}()

	if opts.EnableEnhancement && e.cfg.Models.Enhancer == "" {
		return faceerr.Errorf(faceerr.KindModelLoad, "init", "enhancement requested but no enhancer model configured")
	}

	todo := e.missing(opts.EnableEnhancement)
	e.enhance = opts.EnableEnhancement
	if len(todo) == 0 && e.det != nil {
		return nil
	}

	e.setState(StateDownloading)
	e.phase(PhaseDownload)
	blobs := make(map[string][]byte, len(todo))
	for _, a := range todo {
		data, err := e.download(ctx, a, opts.Timeout)
		if err != nil {
			return err
		}
		blobs[a.name] = data
	}
	if e.State() == StateDisposed {
		return faceerr.Errorf(faceerr.KindDisposed, "init", "engine disposed during download")
	}

	e.setState(StateLoading)
	e.phase(PhaseLoading)
	for _, a := range todo {
		if a.table == nil {
			continue
		}
		model, err := e.exec.NewSession(a.name, blobs[a.name], a.table)
		if err != nil {
			return e.reject(a, err)
		}
		e.models[a.name] = model
	}
	if err := e.loadEmap(todo, blobs); err != nil {
		return err
	}

	e.build()
	e.setState(StateReady)
	logger.Logger().Info("pipeline ready",
		"accelerated", e.exec.Accelerated(), "ops", e.ops.Name(), "enhancement", e.enhance)
	return nil
}

func (e *Engine) download(ctx context.Context, a artifact, timeout time.Duration) ([]byte, error) {
	if a.url == "" {
		return nil, faceerr.Errorf(faceerr.KindModelDownload, a.name, "no URL configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	data, err := e.store.Download(ctx, a.url, func(current, total int64) {
		e.emit(Event{Kind: EventProgress, Phase: PhaseDownload, Model: a.name, Current: current, Total: total})
	})
	if err != nil {
		return nil, faceerr.Classify(faceerr.KindModelDownload, a.name, err)
	}
	logger.Logger().Debug("artifact ready", "model", a.name, "bytes", len(data), "elapsed", time.Since(start))
	return data, nil
}

// reject evicts an artifact whose bytes could not be loaded, so a retried
// Init downloads it again instead of failing on the same cached copy.
func (e *Engine) reject(a artifact, cause error) error {
	if err := e.store.Evict(a.url); err != nil {
		logger.Logger().Warn("failed to evict rejected artifact", "model", a.name, "error", err)
	}
	return faceerr.New(faceerr.KindModelDownload, a.name, fmt.Errorf("artifact rejected: %w", cause))
}

// loadEmap parses the downloaded matrix, or extracts it from the swap model
// when no separate artifact is configured.
func (e *Engine) loadEmap(todo []artifact, blobs map[string][]byte) error {
	if e.emap != nil {
		return nil
	}
	source := ModelEmap
	data, ok := blobs[ModelEmap]
	if !ok {
		source = ModelSwapper
		data, ok = blobs[ModelSwapper]
	}
	if !ok {
		return faceerr.New(faceerr.KindModelLoad, ModelEmap,
			errors.New("no emap artifact and swap model bytes unavailable"))
	}
	var (
		em  *swapper.Emap
		err error
	)
	if source == ModelEmap {
		em, err = swapper.LoadEmap(data)
	} else {
		em, err = swapper.ExtractEmap(data)
	}
	if err != nil {
		for _, a := range todo {
			if a.name == source {
				return e.reject(a, err)
			}
		}
		return faceerr.New(faceerr.KindModelLoad, ModelEmap, err)
	}
	e.emap = em
	return nil
}

// build wires the stage objects over the loaded sessions. Caller holds runMu.
func (e *Engine) build() {
	if e.ops == nil {
		e.ops = selectOps(e.cfg.Backend.ImageOps, e.exec.Accelerated())
	}
	e.det = detector.New(e.models[ModelDetector], detector.OptionsFromConfig(e.cfg.Detection), e.ops)
	e.ext = swapper.NewExtractor(e.models[ModelEmbedder], e.emap, e.ops)
	e.gen = swapper.NewGenerator(e.models[ModelSwapper], e.ops)
	e.par = parser.New(e.models[ModelParser], e.ops)
	e.comp = compositor.New(e.ops, e.cfg.Blend.ColorMatchLimit)
	e.enh = nil
	if m := e.models[ModelEnhancer]; m != nil {
		e.enh = enhancer.New(m, e.par, e.cfg.Enhancer.InputSize, e.ops)
	}
}

// releaseLocked destroys every session. Caller holds runMu.
func (e *Engine) releaseLocked() error {
	var errs []error
	for name, m := range e.models {
		if err := m.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		delete(e.models, name)
	}
	e.emap = nil
	e.det, e.ext, e.gen, e.par, e.comp, e.enh = nil, nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

// Dispose aborts any in-flight download, waits for the running call to
// finish and releases every session and backend resource. It is idempotent.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.state == StateDisposed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateDisposed
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.runMu.Lock()
	defer e.runMu.Unlock()
	err := e.releaseLocked()
	if e.ops != nil {
		err = errors.Join(err, e.ops.Close())
	}
	logger.Logger().Info("pipeline disposed")
	return err
}

// ready checks the engine can run a call. Caller holds runMu.
func (e *Engine) ready(op string) error {
	switch s := e.State(); s {
	case StateReady:
		return nil
	case StateDisposed:
		return faceerr.Errorf(faceerr.KindDisposed, op, "engine disposed")
	default:
		return faceerr.Errorf(faceerr.KindState, op, "engine is %s, not ready", s)
	}
}
