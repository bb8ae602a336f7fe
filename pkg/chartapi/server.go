// Package chartapi is the consumer process: a poll loop that keeps the
// incremental cache fresh while the producer is running, and the HTTP
// surface the rendering page queries for experiments and frames.
package chartapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opensensing/luxcap/pkg/cache"
	"github.com/opensensing/luxcap/pkg/config"
	"github.com/opensensing/luxcap/pkg/runsignal"
	"github.com/opensensing/luxcap/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the chart API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log   logrus.FieldLogger
	cfg   *config.ChartConfig
	store store.Store
	cache *cache.Cache
	sig   runsignal.Signal

	httpServer *http.Server
	done       chan struct{}
	wg         sync.WaitGroup

	// Poll loop state: the experiment being followed and whether the
	// last observed signal was running, so the paused transition can
	// trigger exactly one final full fetch.
	followingID uint
	wasRunning  bool
}

// NewServer creates a new chart API server over an already-started
// store.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ChartConfig,
	st store.Store,
	c *cache.Cache,
	sig runsignal.Signal,
) Server {
	return &server{
		log:   log.WithField("component", "chartapi"),
		cfg:   cfg,
		store: st,
		cache: c,
		sig:   sig,
		done:  make(chan struct{}),
	}
}

// Start launches the HTTP server and the background poll loop.
func (s *server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).Info("Chart API listening")

		if err := s.httpServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Chart API server failed")
		}
	}()

	s.wg.Add(1)

	go s.pollLoop(ctx)

	return nil
}

// Stop shuts down the poll loop and the HTTP server.
func (s *server) Stop() error {
	close(s.done)

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down chart api: %w", err)
	}

	s.wg.Wait()

	s.log.Info("Chart API stopped")

	return nil
}
