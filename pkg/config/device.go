package config

import (
	"github.com/sirupsen/logrus"
)

// ADS1115 I2C addresses, selected by how the ADDR pin is wired.
const (
	AddressGND uint16 = 0x48 // default
	AddressVDD uint16 = 0x49
	AddressSDA uint16 = 0x4A
	AddressSCL uint16 = 0x4B
)

// ADS1115 programmable gain amplifier settings. The value selects the
// full-scale input range.
const (
	GainTwoThirds = 0  // ±6.144V, default
	GainOne       = 1  // ±4.096V
	GainTwo       = 2  // ±2.048V
	GainFour      = 4  // ±1.024V
	GainEight     = 8  // ±0.512V
	GainSixteen   = 16 // ±0.256V
)

// Polling modes for the conversion trigger discipline.
const (
	ModeSingleShot = "single"
	ModeContinuous = "continuous"
)

// Device defaults applied when a configured value is outside its valid set.
const (
	DefaultBus      = 1
	DefaultAddress  = AddressGND
	DefaultGain     = GainTwoThirds
	DefaultDataRate = 128
	DefaultMode     = ModeSingleShot
	DefaultChannel  = 0
)

// DeviceConfig is the sampling device configuration bundle. Out-of-enum
// values are coerced to defaults by Normalize rather than rejected, so a
// bad panel selection never blocks the operator from starting a capture.
type DeviceConfig struct {
	Bus       int    `yaml:"bus" mapstructure:"bus"`
	Address   uint16 `yaml:"address" mapstructure:"address"`
	Gain      int    `yaml:"gain" mapstructure:"gain"`
	DataRate  int    `yaml:"data_rate" mapstructure:"data_rate"`
	Mode      string `yaml:"mode" mapstructure:"mode"`
	Channel   int    `yaml:"channel" mapstructure:"channel"`
	Simulated bool   `yaml:"simulated" mapstructure:"simulated"`
}

// validAddresses is the set of ADDR pin wirings the ADS1115 supports.
var validAddresses = map[uint16]struct{}{
	AddressGND: {},
	AddressVDD: {},
	AddressSDA: {},
	AddressSCL: {},
}

// validGains is the set of PGA settings the ADS1115 supports.
var validGains = map[int]struct{}{
	GainTwoThirds: {},
	GainOne:       {},
	GainTwo:       {},
	GainFour:      {},
	GainEight:     {},
	GainSixteen:   {},
}

// validDataRates is the set of samples-per-second rates the ADS1115 supports.
var validDataRates = map[int]struct{}{
	8:   {},
	16:  {},
	32:  {},
	64:  {},
	128: {},
	250: {},
	475: {},
	860: {},
}

// Normalize coerces any out-of-enum device setting to its documented
// default, logging a warning for each coercion. It never fails.
func (d *DeviceConfig) Normalize(log logrus.FieldLogger) {
	if d.Bus <= 0 {
		log.WithField("bus", d.Bus).Warn("Invalid I2C bus, using default")
		d.Bus = DefaultBus
	}

	if _, ok := validAddresses[d.Address]; !ok {
		log.WithField("address", d.Address).Warn("Invalid I2C address, using default")
		d.Address = DefaultAddress
	}

	if _, ok := validGains[d.Gain]; !ok {
		log.WithField("gain", d.Gain).Warn("Invalid gain setting, using default")
		d.Gain = DefaultGain
	}

	if _, ok := validDataRates[d.DataRate]; !ok {
		log.WithField("data_rate", d.DataRate).Warn("Invalid data rate, using default")
		d.DataRate = DefaultDataRate
	}

	switch d.Mode {
	case ModeSingleShot, ModeContinuous:
	default:
		log.WithField("mode", d.Mode).Warn("Invalid polling mode, using single-shot")
		d.Mode = DefaultMode
	}

	if d.Channel < 0 || d.Channel > 3 {
		log.WithField("channel", d.Channel).Warn("Invalid input channel, using default")
		d.Channel = DefaultChannel
	}
}
