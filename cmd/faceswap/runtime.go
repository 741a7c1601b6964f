package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/modelstore"
	"github.com/dudu/faceswap/internal/pipeline"
	"github.com/dudu/faceswap/internal/worker"
)

// session bundles a ready worker with the resources it depends on.
type session struct {
	worker  *worker.Worker
	factory *inference.ORTFactory
	events  sync.WaitGroup
}

func newStore(cfg *config.Config) (*modelstore.Store, error) {
	cache, err := modelstore.NewFSCache(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}
	return modelstore.New(cache, modelstore.WithTimeout(cfg.Cache.DownloadTimeout)), nil
}

func newFactory(cfg *config.Config) *inference.ORTFactory {
	return inference.NewORTFactory(inference.ORTConfig{
		LibraryPath: cfg.Backend.LibraryPath,
		DeviceID:    cfg.Backend.DeviceID,
		Threads:     cfg.Backend.Threads,
	})
}

// openSession starts a worker and initializes it, rendering download and
// per-face progress on stderr.
func openSession(ctx context.Context, cfg *config.Config, enhance bool) (*session, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	factory := newFactory(cfg)
	exec := inference.NewExecutor(factory, cfg.Backend.PreferAccelerated)

	s := &session{
		worker:  worker.New(*cfg, store, exec),
		factory: factory,
	}
	s.events.Add(1)
	go func() {
		defer s.events.Done()
		render(s.worker.Events())
	}()

	if _, err := s.worker.Init(ctx, pipeline.InitOptions{
		Timeout:           cfg.Cache.DownloadTimeout,
		EnableEnhancement: enhance,
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize models: %w", err)
	}
	return s, nil
}

// Close disposes the worker, waits for the event renderer and shuts the
// runtime down.
func (s *session) Close() error {
	err := s.worker.Dispose()
	s.events.Wait()
	if cerr := s.factory.Close(); err == nil {
		err = cerr
	}
	return err
}

// render draws one bar per downloaded model and one for the face loop.
func render(events <-chan worker.Notification) {
	var (
		bar     *progressbar.ProgressBar
		current string
	)
	finish := func() {
		if bar != nil {
			bar.Finish()
			fmt.Fprintln(os.Stderr)
			bar = nil
		}
	}
	for n := range events {
		switch n.Kind {
		case pipeline.EventPhase:
			finish()
			current = ""
			if n.Phase != pipeline.PhaseDone {
				fmt.Fprintf(os.Stderr, "%s...\n", n.Phase)
			}
		case pipeline.EventProgress:
			key := string(n.Phase) + "/" + n.Model
			if bar == nil || key != current {
				finish()
				bar = newBar(n)
				current = key
			}
			bar.Set64(n.Current)
		}
	}
	finish()
}

func newBar(n worker.Notification) *progressbar.ProgressBar {
	if n.Phase == pipeline.PhaseDownload {
		return progressbar.NewOptions64(n.Total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(n.Model),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}
	return progressbar.NewOptions64(n.Total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(string(n.Phase)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
}
