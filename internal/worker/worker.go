// Package worker runs one pipeline engine on a dedicated goroutine and
// exposes it as request/response calls with asynchronous notifications.
package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/faceerr"
	"github.com/dudu/faceswap/internal/geometry"
	"github.com/dudu/faceswap/internal/imageops"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/logger"
	"github.com/dudu/faceswap/internal/pipeline"
	"github.com/dudu/faceswap/internal/swapper"
)

// EventBuffer is the notification channel capacity. Progress updates that
// do not fit are dropped; phase changes are always delivered.
const EventBuffer = 64

// Notification is an event tagged with the request that caused it.
type Notification struct {
	RequestID string
	pipeline.Event
}

type request struct {
	id   string
	run  func(ctx context.Context) error
	ctx  context.Context
	done chan error
}

// Worker serializes every call onto one goroutine.
type Worker struct {
	engine   *pipeline.Engine
	requests chan request
	events   chan Notification
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	current string // request ID being served, touched only by loop
}

// New creates the engine and starts its goroutine. opts are passed to the
// engine; an event callback among them is replaced.
func New(cfg config.Config, store pipeline.Downloader, exec *inference.Executor, opts ...pipeline.Option) *Worker {
	w := &Worker{
		requests: make(chan request),
		events:   make(chan Notification, EventBuffer),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	opts = append(opts, pipeline.WithEvents(w.forward))
	w.engine = pipeline.New(cfg, store, exec, opts...)
	go w.loop()
	return w
}

// Events returns the notification stream. It is closed after Dispose.
func (w *Worker) Events() <-chan Notification {
	return w.events
}

// State reports the engine state without queueing.
func (w *Worker) State() pipeline.State {
	return w.engine.State()
}

func (w *Worker) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.quit:
			return
		case req := <-w.requests:
			w.current = req.id
			req.done <- req.run(req.ctx)
			w.current = ""
		}
	}
}

// forward runs on the worker goroutine.
func (w *Worker) forward(ev pipeline.Event) {
	n := Notification{RequestID: w.current, Event: ev}
	if ev.Kind == pipeline.EventPhase {
		select {
		case w.events <- n:
		case <-w.quit:
		}
		return
	}
	select {
	case w.events <- n:
	default:
		logger.Logger().Debug("progress dropped", "request", n.RequestID, "phase", ev.Phase)
	}
}

// call queues run and waits for it. The returned ID tags the call's
// notifications.
func (w *Worker) call(ctx context.Context, run func(ctx context.Context) error) (string, error) {
	id := uuid.NewString()
	req := request{id: id, run: run, ctx: ctx, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return id, faceerr.Errorf(faceerr.KindDisposed, "worker", "worker disposed")
	case <-ctx.Done():
		return id, ctx.Err()
	}
	return id, <-req.done
}

// Init downloads and loads the models.
func (w *Worker) Init(ctx context.Context, opts pipeline.InitOptions) (string, error) {
	return w.call(ctx, func(ctx context.Context) error {
		return w.engine.Init(ctx, opts)
	})
}

// Detect finds faces in img.
func (w *Worker) Detect(ctx context.Context, img *imageops.Image) (string, []detector.Face, error) {
	var faces []detector.Face
	id, err := w.call(ctx, func(context.Context) error {
		var err error
		faces, err = w.engine.Detect(img)
		return err
	})
	return id, faces, err
}

// Embed returns the identity of one face.
func (w *Worker) Embed(ctx context.Context, img *imageops.Image, landmarks [5]geometry.Point) (*swapper.Identity, error) {
	var id *swapper.Identity
	_, err := w.call(ctx, func(context.Context) error {
		var err error
		id, err = w.engine.Embed(img, landmarks)
		return err
	})
	return id, err
}

// Swap replaces the requested faces and returns the composited image.
func (w *Worker) Swap(ctx context.Context, req pipeline.SwapRequest) (string, *imageops.Image, error) {
	var out *imageops.Image
	id, err := w.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = w.engine.Swap(ctx, req)
		return err
	})
	return id, out, err
}

// Timing returns the stage durations of the last swap.
func (w *Worker) Timing(ctx context.Context) (pipeline.Timing, error) {
	var t pipeline.Timing
	_, err := w.call(ctx, func(context.Context) error {
		t = w.engine.LastTiming()
		return nil
	})
	return t, err
}

// Dispose bypasses the queue: it aborts an in-flight download, waits for
// the running call, releases the engine and stops the goroutine. Queued
// and later calls fail with a disposed error.
func (w *Worker) Dispose() error {
	var err error
	w.once.Do(func() {
		close(w.quit)
		err = w.engine.Dispose()
		<-w.stopped
		close(w.events)
	})
	return err
}
