package device_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensing/luxcap/pkg/config"
	"github.com/opensensing/luxcap/pkg/device"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestSimulatedReader(t *testing.T) {
	dev := device.New(testLogger(), config.DeviceConfig{Simulated: true})

	t.Cleanup(func() { _ = dev.Close() })

	// A 0.92 sine plus ±0.04 noise around mid-range stays well inside
	// the 16-bit conversion range.
	for i := 0; i < 500; i++ {
		value, err := dev.Read()
		require.NoError(t, err)
		assert.Greater(t, value, 1000.0)
		assert.Less(t, value, 65000.0)
	}
}

func TestNew_DeadBusReportsUnavailable(t *testing.T) {
	cfg := config.DeviceConfig{
		Bus:      9999,
		Address:  config.DefaultAddress,
		Gain:     config.DefaultGain,
		DataRate: config.DefaultDataRate,
		Mode:     config.ModeSingleShot,
	}

	dev := device.New(testLogger(), cfg)

	t.Cleanup(func() { _ = dev.Close() })

	_, err := dev.Read()
	require.ErrorIs(t, err, device.ErrUnavailable)
}
