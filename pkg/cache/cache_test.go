package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensing/luxcap/pkg/cache"
	"github.com/opensensing/luxcap/pkg/config"
	"github.com/opensensing/luxcap/pkg/store"
)

// stubStore scripts LatestReadings responses and records the since bound
// of each call. Unimplemented Store methods panic if reached.
type stubStore struct {
	store.Store

	batches [][]store.Point
	err     error

	calls  int
	sinces []*time.Time
}

func (s *stubStore) LatestReadings(
	_ context.Context, _ uint, since *time.Time,
) ([]store.Point, error) {
	s.sinces = append(s.sinces, since)

	if s.err != nil {
		return nil, s.err
	}

	if s.calls >= len(s.batches) {
		return []store.Point{}, nil
	}

	batch := s.batches[s.calls]
	s.calls++

	return batch, nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestCache_AccumulatesAcrossUpdates(t *testing.T) {
	st := &stubStore{batches: [][]store.Point{
		{{TS: 0, Value: 1}, {TS: 1, Value: 2}},
		// Overlapping window: the row at ts=1 is fetched again.
		{{TS: 1, Value: 2}, {TS: 2, Value: 3}},
	}}

	c := cache.New(testLogger(), st, cache.Config{MaxPoints: 100, Stride: 10})
	ctx := context.Background()

	c.HandleDataUpdate(ctx, 1)
	c.HandleDataUpdate(ctx, 1)

	frame := c.GetCachedData(1)
	require.Len(t, frame, 3, "overlapping fetches must not duplicate rows")
	assert.Equal(t, cache.Frame{
		{TS: 0, Value: 1}, {TS: 1, Value: 2}, {TS: 2, Value: 3},
	}, frame)
}

func TestCache_WatermarkProgression(t *testing.T) {
	st := &stubStore{batches: [][]store.Point{{{TS: 0, Value: 1}}}}

	c := cache.New(testLogger(), st, cache.Config{MaxPoints: 100, Stride: 10})
	ctx := context.Background()

	before := time.Now()

	c.HandleDataUpdate(ctx, 1)
	c.HandleDataUpdate(ctx, 1)

	require.Len(t, st.sinces, 2)
	assert.Nil(t, st.sinces[0], "first update must fetch unbounded")
	require.NotNil(t, st.sinces[1], "later updates must fetch incrementally")
	assert.False(t, st.sinces[1].Before(before))
}

func TestCache_EmptyFetchKeepsFrame(t *testing.T) {
	st := &stubStore{batches: [][]store.Point{{{TS: 0, Value: 5}}}}

	c := cache.New(testLogger(), st, cache.Config{MaxPoints: 100, Stride: 10})
	ctx := context.Background()

	c.HandleDataUpdate(ctx, 1)
	require.Len(t, c.GetCachedData(1), 1)

	// The scripted batches are exhausted, so this fetch comes back empty.
	c.HandleDataUpdate(ctx, 1)
	assert.Len(t, c.GetCachedData(1), 1, "an empty fetch must not erase history")
}

func TestCache_FetchErrorKeepsFrame(t *testing.T) {
	st := &stubStore{batches: [][]store.Point{{{TS: 0, Value: 5}}}}

	c := cache.New(testLogger(), st, cache.Config{MaxPoints: 100, Stride: 10})
	ctx := context.Background()

	c.HandleDataUpdate(ctx, 1)
	require.Len(t, c.GetCachedData(1), 1)

	st.err = errors.New("disk on fire")
	c.HandleDataUpdate(ctx, 1)
	assert.Len(t, c.GetCachedData(1), 1)

	st.err = store.ErrNotFound
	c.HandleDataUpdate(ctx, 1)
	assert.Len(t, c.GetCachedData(1), 1)
}

func TestCache_CompletedExperimentReplacesFrame(t *testing.T) {
	st := &stubStore{batches: [][]store.Point{
		{{TS: 0, Value: 1}},
		{{TS: 0, Value: 1}, {TS: 1, Value: 2}, {TS: 2, Value: 3}},
	}}

	c := cache.New(testLogger(), st, cache.Config{MaxPoints: 100, Stride: 10})
	ctx := context.Background()

	c.HandleDataUpdate(ctx, 1)
	require.Len(t, c.GetCachedData(1), 1)

	// The final fetch is authoritative: the frame becomes exactly what
	// the store holds, including rows written after the last poll.
	c.HandleCompletedExperiment(ctx, 1)

	frame := c.GetCachedData(1)
	require.Len(t, frame, 3)
	assert.Nil(t, st.sinces[len(st.sinces)-1], "final fetch must be unbounded")
}

func TestCache_Downsampled(t *testing.T) {
	points := make([]store.Point, 20)
	for i := range points {
		points[i] = store.Point{TS: float64(i), Value: float64(i * 10)}
	}

	st := &stubStore{batches: [][]store.Point{points}}

	c := cache.New(testLogger(), st, cache.Config{MaxPoints: 10, Stride: 2})
	ctx := context.Background()

	c.HandleDataUpdate(ctx, 1)

	// Past MaxPoints the render view keeps every Stride-th row.
	frame := c.Downsampled(1)
	require.Len(t, frame, 10)

	for i, p := range frame {
		assert.InDelta(t, float64(i*2), p.TS, 1e-9)
	}

	// The full-resolution frame is untouched by downsampling.
	assert.Len(t, c.GetCachedData(1), 20)

	// A frame within the budget is returned as-is.
	small := &stubStore{batches: [][]store.Point{points[:5]}}
	cs := cache.New(testLogger(), small, cache.Config{MaxPoints: 10, Stride: 2})
	cs.HandleDataUpdate(ctx, 1)
	assert.Len(t, cs.Downsampled(1), 5)
}

func TestCache_ClearAndSize(t *testing.T) {
	st := &stubStore{batches: [][]store.Point{
		{{TS: 0, Value: 1}, {TS: 1, Value: 2}},
	}}

	c := cache.New(testLogger(), st, cache.Config{MaxPoints: 100, Stride: 10})
	ctx := context.Background()

	assert.Zero(t, c.Size())

	c.HandleDataUpdate(ctx, 1)
	assert.Equal(t, 2, c.Size())

	c.ClearCache(1)
	assert.Zero(t, c.Size())
	assert.Empty(t, c.GetCachedData(1))
}

// TestCache_StoreRoundTrip drives the cache against a real store the way
// the poll loop does: incremental updates while rows arrive, then the
// final full fetch once capture ends. Every persisted row must end up in
// the frame exactly once.
func TestCache_StoreRoundTrip(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := testLogger()

	st := store.NewStore(log, cfg)
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	ctx := context.Background()

	id, err := st.StartExperiment(ctx, "roundtrip")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.WriteReading(ctx, id, float64(i)))
	}

	c := cache.New(log, st, cache.Config{MaxPoints: 100, Stride: 10})
	c.HandleDataUpdate(ctx, id)
	require.Len(t, c.GetCachedData(id), 3)

	// More rows land between polls, then capture stops.
	require.NoError(t, st.WriteReading(ctx, id, 3))
	require.NoError(t, st.WriteReading(ctx, id, 4))
	require.NoError(t, st.StopExperiment(ctx, id))

	c.HandleCompletedExperiment(ctx, id)

	frame := c.GetCachedData(id)
	require.Len(t, frame, 5)

	for i := 1; i < len(frame); i++ {
		assert.Greater(t, frame[i].TS, frame[i-1].TS,
			"frame must stay strictly ordered")
	}
}
