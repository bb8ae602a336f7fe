// Package cache is the consumer-side incremental cache: it lets the
// polling chart process fetch only rows newer than its last watermark
// instead of re-reading the whole experiment on every poll.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opensensing/luxcap/pkg/store"
)

// Frame is the accumulated, render-ready view of one experiment:
// readings ordered by relative timestamp.
type Frame []store.Point

// Config tunes the render-time downsampling policy.
type Config struct {
	// MaxPoints is the frame length above which Downsampled decimates.
	MaxPoints int

	// Stride is the decimation step once MaxPoints is exceeded.
	Stride int
}

// Cache accumulates per-experiment frames and tracks the fetch
// watermark. Frames only ever grow between explicit clears; a transient
// empty fetch never erases history. Safe for concurrent use by the poll
// loop and HTTP handlers.
type Cache struct {
	log   logrus.FieldLogger
	store store.Store

	maxPoints int
	stride    int

	mu      sync.Mutex
	frames  map[uint]Frame
	last    time.Time
	current time.Time

	now func() time.Time
}

// New creates an empty cache reading from the given store.
func New(log logrus.FieldLogger, st store.Store, cfg Config) *Cache {
	return &Cache{
		log:       log.WithField("component", "cache"),
		store:     st,
		maxPoints: cfg.MaxPoints,
		stride:    cfg.Stride,
		frames:    make(map[uint]Frame),
		now:       time.Now,
	}
}

// HandleDataUpdate rolls the watermark pair forward and merges rows
// newer than the previous watermark into the experiment's frame. A
// missing experiment or an empty fetch leaves the frame untouched.
func (c *Cache) HandleDataUpdate(ctx context.Context, id uint) {
	c.mu.Lock()
	c.last, c.current = c.current, c.now()
	since := c.sinceLocked()
	c.mu.Unlock()

	points, err := c.store.LatestReadings(ctx, id, since)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.log.WithField("experiment", id).
				Debug("Experiment not in store, cache unchanged")

			return
		}

		c.log.WithError(err).WithField("experiment", id).
			Warn("Fetching new readings failed, cache unchanged")

		return
	}

	if len(points) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames[id] = appendMonotonic(c.frames[id], points)
}

// HandleCompletedExperiment replaces the frame with one unconditional
// full fetch, guaranteeing the final in-flight rows written before the
// producer stopped are captured.
func (c *Cache) HandleCompletedExperiment(ctx context.Context, id uint) {
	points, err := c.store.LatestReadings(ctx, id, nil)
	if err != nil {
		c.log.WithError(err).WithField("experiment", id).
			Warn("Final fetch failed, cache unchanged")

		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames[id] = Frame(points)
}

// GetCachedData returns the accumulated frame for the experiment, or an
// empty frame if it has never been updated.
func (c *Cache) GetCachedData(id uint) Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.frames[id]
}

// Downsampled returns the render view of the frame: the full frame while
// it fits within MaxPoints, every Stride-th row beyond that. The
// underlying accumulation keeps full resolution either way.
func (c *Cache) Downsampled(id uint) Frame {
	c.mu.Lock()
	frame := c.frames[id]
	c.mu.Unlock()

	if len(frame) <= c.maxPoints || c.stride <= 1 {
		return frame
	}

	out := make(Frame, 0, len(frame)/c.stride+1)
	for i := 0; i < len(frame); i += c.stride {
		out = append(out, frame[i])
	}

	return out
}

// ClearCache discards the frame for one experiment.
func (c *Cache) ClearCache(id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.frames, id)
}

// Size returns the total row count across all cached frames.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, frame := range c.frames {
		total += len(frame)
	}

	return total
}

// sinceLocked converts the rolled-over watermark into a fetch bound. A
// zero watermark (first update) means an unbounded fetch.
func (c *Cache) sinceLocked() *time.Time {
	if c.last.IsZero() {
		return nil
	}

	since := c.last

	return &since
}

// appendMonotonic appends only rows strictly newer than the frame's
// tail, preserving the sorted-ascending invariant even when consecutive
// fetch windows overlap.
func appendMonotonic(frame Frame, points []store.Point) Frame {
	for _, p := range points {
		if n := len(frame); n > 0 && p.TS <= frame[n-1].TS {
			continue
		}

		frame = append(frame, p)
	}

	return frame
}
