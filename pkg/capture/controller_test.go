package capture_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensing/luxcap/pkg/capture"
	"github.com/opensensing/luxcap/pkg/config"
	"github.com/opensensing/luxcap/pkg/device"
	"github.com/opensensing/luxcap/pkg/runsignal"
	"github.com/opensensing/luxcap/pkg/store"
)

// scriptedDevice returns a fixed value until its budget is spent, then
// fails every read with the configured error.
type scriptedDevice struct {
	mu        sync.Mutex
	value     float64
	remaining int
	failWith  error
}

func (d *scriptedDevice) Read() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.remaining == 0 {
		return 0, d.failWith
	}

	if d.remaining > 0 {
		d.remaining--
	}

	return d.value, nil
}

func (d *scriptedDevice) Close() error { return nil }

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func setupTestSignal(t *testing.T) *runsignal.FileSignal {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return runsignal.NewFileSignal(log, filepath.Join(t.TempDir(), "control.txt"))
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestController_StartStop(t *testing.T) {
	st := setupTestStore(t)
	sig := setupTestSignal(t)
	dev := &scriptedDevice{value: 42, remaining: -1}

	ctrl := capture.New(testLogger(), st, dev, sig, capture.Config{
		SamplePeriod: 10 * time.Millisecond,
	})

	ctx := context.Background()

	id, err := ctrl.Start(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, runsignal.Running, sig.ReadState())

	running, err := st.RunningExperiment(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, running.ID)

	select {
	case startedID := <-ctrl.Started():
		assert.Equal(t, id, startedID)
	default:
		t.Fatal("Started must emit the new experiment id")
	}

	// The immediate sample lands before the first tick.
	points, err := st.LatestReadings(ctx, id, nil)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.InDelta(t, 42.0, points[0].Value, 1e-9)

	// Let a few ticks fire.
	require.Eventually(t, func() bool {
		points, err := st.LatestReadings(ctx, id, nil)

		return err == nil && len(points) >= 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.Stop())

	assert.Equal(t, runsignal.Paused, sig.ReadState())

	_, err = st.RunningExperiment(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	exp, err := st.GetExperiment(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, exp.End)

	require.ErrorIs(t, ctrl.Stop(), capture.ErrNotRunning)
}

func TestController_StartWhileRunning(t *testing.T) {
	st := setupTestStore(t)
	sig := setupTestSignal(t)
	dev := &scriptedDevice{value: 1, remaining: -1}

	ctrl := capture.New(testLogger(), st, dev, sig, capture.Config{
		SamplePeriod: 50 * time.Millisecond,
	})

	ctx := context.Background()

	_, err := ctrl.Start(ctx, "first")
	require.NoError(t, err)

	_, err = ctrl.Start(ctx, "second")
	require.ErrorIs(t, err, capture.ErrAlreadyRunning)

	require.NoError(t, ctrl.Stop())
}

func TestController_DeadDeviceAtStart(t *testing.T) {
	st := setupTestStore(t)
	sig := setupTestSignal(t)
	dev := &scriptedDevice{remaining: 0, failWith: device.ErrUnavailable}

	ctrl := capture.New(testLogger(), st, dev, sig, capture.Config{
		SamplePeriod: 10 * time.Millisecond,
	})

	ctx := context.Background()

	_, err := ctrl.Start(ctx, "doomed")
	require.ErrorIs(t, err, device.ErrUnavailable)

	// No half-started experiment is left behind.
	_, err = st.RunningExperiment(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, ctrl.Stop(), capture.ErrNotRunning)
}

func TestController_DeadDeviceMidRun(t *testing.T) {
	st := setupTestStore(t)
	sig := setupTestSignal(t)
	dev := &scriptedDevice{value: 7, remaining: 3, failWith: device.ErrUnavailable}

	ctrl := capture.New(testLogger(), st, dev, sig, capture.Config{
		SamplePeriod: 5 * time.Millisecond,
	})

	ctx := context.Background()

	id, err := ctrl.Start(ctx, "flaky")
	require.NoError(t, err)

	// The fail-safe ends the experiment without an operator Stop.
	require.Eventually(t, func() bool {
		exp, err := st.GetExperiment(ctx, id)

		return err == nil && exp.End != nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, runsignal.Paused, sig.ReadState())
	require.ErrorIs(t, ctrl.Stop(), capture.ErrNotRunning)
}

func TestController_MaxDurationAutoStop(t *testing.T) {
	st := setupTestStore(t)
	sig := setupTestSignal(t)
	dev := &scriptedDevice{value: 3, remaining: -1}

	ctrl := capture.New(testLogger(), st, dev, sig, capture.Config{
		SamplePeriod: 5 * time.Millisecond,
		MaxDuration:  30 * time.Millisecond,
	})

	ctx := context.Background()

	id, err := ctrl.Start(ctx, "capped")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exp, err := st.GetExperiment(ctx, id)

		return err == nil && exp.End != nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, runsignal.Paused, sig.ReadState())
	require.ErrorIs(t, ctrl.Stop(), capture.ErrNotRunning)
}

func TestController_RestartAfterStop(t *testing.T) {
	st := setupTestStore(t)
	sig := setupTestSignal(t)
	dev := &scriptedDevice{value: 9, remaining: -1}

	ctrl := capture.New(testLogger(), st, dev, sig, capture.Config{
		SamplePeriod: 50 * time.Millisecond,
	})

	ctx := context.Background()

	first, err := ctrl.Start(ctx, "one")
	require.NoError(t, err)
	require.NoError(t, ctrl.Stop())

	second, err := ctrl.Start(ctx, "two")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, ctrl.Stop())

	experiments, err := st.ListExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, experiments, 2)

	for _, exp := range experiments {
		assert.NotNil(t, exp.End, "both experiments must be closed")
	}
}

func TestController_WrappedUnavailableError(t *testing.T) {
	st := setupTestStore(t)
	sig := setupTestSignal(t)
	wrapped := errors.Join(device.ErrUnavailable, errors.New("i2c timeout"))
	dev := &scriptedDevice{remaining: 0, failWith: wrapped}

	ctrl := capture.New(testLogger(), st, dev, sig, capture.Config{
		SamplePeriod: 10 * time.Millisecond,
	})

	_, err := ctrl.Start(context.Background(), "wrapped")
	require.ErrorIs(t, err, device.ErrUnavailable)
}
