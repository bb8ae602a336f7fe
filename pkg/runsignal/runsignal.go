// Package runsignal is the cross-process pause/resume cell: the capture
// process writes it on experiment start/stop and the chart consumer
// polls it before fetching new data. The file cell is deliberately kept
// behind a small interface so it can be swapped for a real IPC
// primitive without touching the controller or consumer.
package runsignal

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// State is the consumer-facing capture state.
type State int

const (
	// Paused tells the consumer to hold its last rendered view.
	Paused State = iota

	// Running tells the consumer to keep polling for new data.
	Running
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == Running {
		return "running"
	}

	return "paused"
}

// Wire encoding: a single text token, last writer wins.
const (
	runningToken = "1"
	pausedToken  = "0"
)

// Signal is the pause/resume cell.
type Signal interface {
	// ReadState returns the current state. Transient read failures
	// report Running so a consumer never wedges paused on an I/O hiccup.
	ReadState() State

	// WriteState replaces the state. Failures are returned for logging;
	// writers do not retry.
	WriteState(state State) error
}

// Compile-time interface check.
var _ Signal = (*FileSignal)(nil)

// FileSignal is the file-backed Signal shared by both processes.
type FileSignal struct {
	log  logrus.FieldLogger
	path string
}

// NewFileSignal creates a Signal backed by the file at path.
func NewFileSignal(log logrus.FieldLogger, path string) *FileSignal {
	return &FileSignal{
		log:  log.WithField("component", "runsignal"),
		path: path,
	}
}

// ReadState reads the cell. A missing or unreadable file, or an
// unrecognized token, reports Running: only an explicit pause token
// holds the consumer back.
func (s *FileSignal) ReadState() State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.WithError(err).Debug("Control file unreadable, assuming running")

		return Running
	}

	if strings.TrimSpace(string(data)) == pausedToken {
		return Paused
	}

	return Running
}

// WriteState replaces the cell contents.
func (s *FileSignal) WriteState(state State) error {
	token := pausedToken
	if state == Running {
		token = runningToken
	}

	if err := os.WriteFile(s.path, []byte(token), 0o644); err != nil {
		return fmt.Errorf("writing control file: %w", err)
	}

	s.log.WithField("state", state.String()).Debug("Control file updated")

	return nil
}
