package device

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/opensensing/luxcap/pkg/config"
)

// adsReader reads a single ADS1115 input channel. Single-shot and
// continuous polling modes are behaviorally identical today (one
// conversion per Read); the mode only tunes the driver's conversion
// quality hint and is kept as a seam for hardware-level continuous
// conversion support.
type adsReader struct {
	log logrus.FieldLogger
	bus i2c.BusCloser
	pin ads1x15.PinADC
}

// openADS1115 opens the bus, probes the chip, and commits the channel
// configuration with one test conversion.
func openADS1115(
	log logrus.FieldLogger, cfg config.DeviceConfig,
) (*adsReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initializing host drivers: %w", err)
	}

	bus, err := i2creg.Open(strconv.Itoa(cfg.Bus))
	if err != nil {
		return nil, fmt.Errorf("opening i2c bus %d: %w", cfg.Bus, err)
	}

	dev, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: cfg.Address})
	if err != nil {
		_ = bus.Close()

		return nil, fmt.Errorf("probing ads1115 at 0x%02x: %w", cfg.Address, err)
	}

	quality := ads1x15.SaveEnergy
	if cfg.Mode == config.ModeContinuous {
		quality = ads1x15.BestQuality
	}

	pin, err := dev.PinForChannel(
		channelFor(cfg.Channel),
		fullScale(cfg.Gain),
		physic.Frequency(cfg.DataRate)*physic.Hertz,
		quality,
	)
	if err != nil {
		_ = bus.Close()

		return nil, fmt.Errorf("configuring channel %d: %w", cfg.Channel, err)
	}

	// One committed conversion validates the configuration before any
	// experiment relies on the device.
	if _, err := pin.Read(); err != nil {
		_ = bus.Close()

		return nil, fmt.Errorf("test conversion: %w", err)
	}

	log.WithFields(logrus.Fields{
		"bus":       cfg.Bus,
		"address":   fmt.Sprintf("0x%02x", cfg.Address),
		"gain":      cfg.Gain,
		"data_rate": cfg.DataRate,
		"mode":      cfg.Mode,
		"channel":   cfg.Channel,
	}).Info("ADC initialized")

	return &adsReader{log: log, bus: bus, pin: pin}, nil
}

// Read performs one conversion and returns the input voltage.
func (r *adsReader) Read() (float64, error) {
	sample, err := r.pin.Read()
	if err != nil {
		r.log.WithError(err).Debug("Conversion failed")

		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return float64(sample.V) / float64(physic.Volt), nil
}

// Close halts conversions and releases the bus.
func (r *adsReader) Close() error {
	_ = r.pin.Halt()

	return r.bus.Close()
}

// channelFor maps a configured input channel to the driver constant.
func channelFor(channel int) ads1x15.Channel {
	switch channel {
	case 1:
		return ads1x15.Channel1
	case 2:
		return ads1x15.Channel2
	case 3:
		return ads1x15.Channel3
	default:
		return ads1x15.Channel0
	}
}

// fullScale maps a PGA gain setting to its full-scale input range.
func fullScale(gain int) physic.ElectricPotential {
	switch gain {
	case config.GainOne:
		return 4096 * physic.MilliVolt
	case config.GainTwo:
		return 2048 * physic.MilliVolt
	case config.GainFour:
		return 1024 * physic.MilliVolt
	case config.GainEight:
		return 512 * physic.MilliVolt
	case config.GainSixteen:
		return 256 * physic.MilliVolt
	default:
		return 6144 * physic.MilliVolt
	}
}
