package device

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// simCycle is the period of the simulated waveform.
	simCycle = time.Minute

	// simAmplitude scales the sine component of the signal.
	simAmplitude = 0.92

	// simNoiseSpan is the width of the uniform noise band, centered on 0.
	simNoiseSpan = 0.08

	// simOffset centers the simulated signal mid-range of a 16-bit ADC.
	simOffset = 32768
)

// simReader produces a slowly varying sine wave with bounded random
// noise, shaped like a mid-range 16-bit conversion.
type simReader struct {
	log   logrus.FieldLogger
	start time.Time
	omega float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newSimulated(log logrus.FieldLogger) *simReader {
	return &simReader{
		log:   log,
		start: time.Now(),
		omega: 2 * math.Pi / simCycle.Seconds(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Read returns the next simulated reading. It never fails.
func (r *simReader) Read() (float64, error) {
	r.mu.Lock()
	noise := simNoiseSpan*r.rng.Float64() - simNoiseSpan/2
	r.mu.Unlock()

	signal := simAmplitude * math.Sin(r.omega*time.Since(r.start).Seconds())
	reading := float64(simOffset + int(simOffset*(signal+noise)))

	r.log.WithField("reading", reading).Trace("Simulated conversion")

	return reading, nil
}

func (r *simReader) Close() error { return nil }
