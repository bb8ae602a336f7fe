package chartapi

import (
	"context"
	"errors"
	"time"

	"github.com/opensensing/luxcap/pkg/runsignal"
	"github.com/opensensing/luxcap/pkg/store"
)

// pollLoop runs an immediate pass and then ticks at the configured poll
// interval, checking the pause/resume cell before touching the cache.
func (s *server) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	s.pollPass(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pollPass(ctx)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollPass executes one consumer poll: when the producer signals
// running, refresh the followed experiment incrementally; on the
// running-to-paused transition, take one final unconditional fetch so
// the last in-flight rows are captured.
func (s *server) pollPass(ctx context.Context) {
	if s.sig.ReadState() == runsignal.Running {
		exp, err := s.store.RunningExperiment(ctx)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.WithError(err).Warn("Resolving running experiment failed")
			}

			// Signal says running but the store disagrees; the producer
			// may not have committed yet, or may be gone. Try again on
			// the next pass.
			return
		}

		s.followingID = exp.ID
		s.wasRunning = true

		s.cache.HandleDataUpdate(ctx, exp.ID)

		return
	}

	if s.wasRunning {
		s.wasRunning = false
		s.cache.HandleCompletedExperiment(ctx, s.followingID)
	}
}
