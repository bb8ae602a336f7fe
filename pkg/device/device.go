// Package device produces scalar readings from an analog source: an
// ADS1115 ADC on an I2C bus, or a simulated signal when no hardware is
// configured. The capture controller owns exactly one Reader for the
// lifetime of an experiment; there is no process-wide device registry.
package device

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opensensing/luxcap/pkg/config"
)

// ErrUnavailable reports that the device cannot produce a reading. A
// reader constructed against a dead bus returns it from every Read so
// the controller can stop the experiment cleanly instead of crashing.
var ErrUnavailable = errors.New("sampling device unavailable")

// Reader produces one scalar reading per call.
type Reader interface {
	Read() (float64, error)
	Close() error
}

// New builds a Reader from the device configuration. The configuration
// must be normalized first. Hardware initialization failure does not
// return an error: the resulting reader reports ErrUnavailable on every
// Read, and the failure is logged here.
func New(log logrus.FieldLogger, cfg config.DeviceConfig) Reader {
	log = log.WithField("component", "device")

	if cfg.Simulated {
		log.Info("Using simulated sampling device")

		return newSimulated(log)
	}

	r, err := openADS1115(log, cfg)
	if err != nil {
		log.WithError(err).Error(
			"Sampling device initialization failed, reads will report unavailable")

		return &unavailableReader{}
	}

	return r
}

// unavailableReader stands in for a device that could not be opened.
type unavailableReader struct{}

func (*unavailableReader) Read() (float64, error) { return 0, ErrUnavailable }

func (*unavailableReader) Close() error { return nil }
