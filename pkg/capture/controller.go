// Package capture owns the experiment lifecycle: it drives the sampling
// device on a periodic tick and forwards readings to the store, one
// experiment at a time.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opensensing/luxcap/pkg/device"
	"github.com/opensensing/luxcap/pkg/runsignal"
	"github.com/opensensing/luxcap/pkg/store"
)

// Lifecycle errors at the controller boundary. These are usage errors
// and are never auto-recovered.
var (
	// ErrAlreadyRunning reports a Start while an experiment is active.
	ErrAlreadyRunning = errors.New("capture already running")

	// ErrNotRunning reports a Stop with no active experiment.
	ErrNotRunning = errors.New("capture not running")
)

// Config tunes one capture run. Values are read at Start; a running
// loop is never rescheduled.
type Config struct {
	// SamplePeriod is the interval between readings.
	SamplePeriod time.Duration

	// MaxDuration ends the experiment automatically when it elapses.
	// Zero disables the cap.
	MaxDuration time.Duration
}

// Controller is the producer-side state machine (Idle or Running). It
// owns the device handle for the lifetime of an experiment; holding the
// same Controller across Start/Stop cycles reuses the device.
type Controller struct {
	log    logrus.FieldLogger
	store  store.Store
	device device.Reader
	sig    runsignal.Signal
	cfg    Config

	mu      sync.Mutex
	running bool
	expID   uint
	done    chan struct{}

	wg      sync.WaitGroup
	started chan uint
}

// New creates an idle Controller.
func New(
	log logrus.FieldLogger,
	st store.Store,
	dev device.Reader,
	sig runsignal.Signal,
	cfg Config,
) *Controller {
	return &Controller{
		log:     log.WithField("component", "capture"),
		store:   st,
		device:  dev,
		sig:     sig,
		cfg:     cfg,
		started: make(chan uint, 1),
	}
}

// Started emits the experiment id of each successful Start, for the
// chart-loading collaborator.
func (c *Controller) Started() <-chan uint {
	return c.started
}

// Start begins a new experiment: creates the store record, takes one
// immediate reading so the chart has a point before the first tick,
// signals the consumer to resume, and arms the periodic sampling loop.
func (c *Controller) Start(ctx context.Context, name string) (uint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return 0, ErrAlreadyRunning
	}

	id, err := c.store.StartExperiment(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("starting experiment: %w", err)
	}

	// A dead device must not leave a half-started experiment behind.
	if err := c.sample(ctx, id); err != nil {
		if errors.Is(err, device.ErrUnavailable) {
			if stopErr := c.store.StopExperiment(ctx, id); stopErr != nil {
				c.log.WithError(stopErr).
					Error("Closing experiment after device failure failed")
			}

			return 0, err
		}

		// A store I/O failure on the first reading is skipped like any
		// other tick; the loop retries naturally.
		c.log.WithError(err).Warn("Initial reading skipped")
	}

	if err := c.sig.WriteState(runsignal.Running); err != nil {
		c.log.WithError(err).Warn("Signaling capture start failed")
	}

	c.running = true
	c.expID = id
	c.done = make(chan struct{})

	c.wg.Add(1)

	go c.run(ctx, id, c.done)

	select {
	case c.started <- id:
	default:
	}

	c.log.WithFields(logrus.Fields{
		"experiment": id,
		"name":       name,
		"period":     c.cfg.SamplePeriod.String(),
	}).Info("Experiment started")

	return id, nil
}

// Stop ends the active experiment. The sampling loop is cancelled and
// drained before the end timestamp is committed, so no reading is ever
// written after StopExperiment.
func (c *Controller) Stop() error {
	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()

		return ErrNotRunning
	}

	c.running = false
	id := c.expID
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()

	return c.finish(id)
}

// run is the periodic sampling loop. The ticker's depth-1 channel
// coalesces ticks that arrive while a write is still in flight.
func (c *Controller) run(ctx context.Context, id uint, done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SamplePeriod)
	defer ticker.Stop()

	var deadline <-chan time.Time

	if c.cfg.MaxDuration > 0 {
		timer := time.NewTimer(c.cfg.MaxDuration)
		defer timer.Stop()

		deadline = timer.C
	}

	for {
		select {
		case <-ticker.C:
			err := c.sample(ctx, id)
			if err == nil {
				continue
			}

			if errors.Is(err, device.ErrUnavailable) {
				c.log.WithError(err).WithField("experiment", id).
					Error("Device unavailable, stopping experiment")
				c.selfStop(id)

				return
			}

			c.log.WithError(err).WithField("experiment", id).
				Warn("Reading skipped")
		case <-deadline:
			c.log.WithField("experiment", id).
				Info("Maximum duration reached, stopping experiment")
			c.selfStop(id)

			return
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sample takes one reading and appends it to the store.
func (c *Controller) sample(ctx context.Context, id uint) error {
	value, err := c.device.Read()
	if err != nil {
		return err
	}

	if err := c.store.WriteReading(ctx, id, value); err != nil {
		return err
	}

	return nil
}

// selfStop performs the fail-safe transition to Idle from inside the
// sampling loop, unless a concurrent Stop already claimed it.
func (c *Controller) selfStop(id uint) {
	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()

		return
	}

	c.running = false
	close(c.done)
	c.mu.Unlock()

	if err := c.finish(id); err != nil {
		c.log.WithError(err).WithField("experiment", id).
			Error("Closing experiment failed")
	}
}

// finish commits the experiment end and signals the consumer to pause.
func (c *Controller) finish(id uint) error {
	err := c.store.StopExperiment(context.Background(), id)

	if sigErr := c.sig.WriteState(runsignal.Paused); sigErr != nil {
		c.log.WithError(sigErr).Warn("Signaling capture stop failed")
	}

	if err != nil {
		return fmt.Errorf("stopping experiment: %w", err)
	}

	c.log.WithField("experiment", id).Info("Experiment stopped")

	return nil
}
