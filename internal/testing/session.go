package testing

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ethpandaops/tortillas/internal/testing/classifier"
	"github.com/ethpandaops/tortillas/internal/testing/interrupt"
	"github.com/ethpandaops/tortillas/internal/testing/machine"
	"github.com/sirupsen/logrus"
)

const logChunkSize = 32 * 1024

// session binds a live machine to the monitor and log stream reading it. A
// worker keeps its session across tests until the machine must be restored.
type session struct {
	machine machine.Machine
	monitor interrupt.Monitor
	debug   *logStream
}

func newSession(log logrus.FieldLogger, m machine.Machine, cfg interrupt.Config) *session {
	return &session{
		machine: m,
		monitor: interrupt.NewMonitor(log, m.InterruptTrace(), cfg),
		debug:   newLogStream(m.DebugLog()),
	}
}

// reset drops interrupt and log output produced before the next test starts.
func (s *session) reset() error {
	if err := s.monitor.Discard(); err != nil {
		return err
	}

	return s.debug.discard()
}

// logStream reads the guest debug console incrementally, splitting it into
// scoped messages and keeping a copy of the raw output of the current test.
type logStream struct {
	reader   io.Reader
	splitter *classifier.Splitter
	buf      []byte
	capture  bytes.Buffer
}

func newLogStream(r io.Reader) *logStream {
	return &logStream{
		reader:   r,
		splitter: classifier.NewSplitter(),
		buf:      make([]byte, logChunkSize),
	}
}

// pump reads everything currently available and returns the completed
// messages.
func (l *logStream) pump() ([]classifier.Message, error) {
	var messages []classifier.Message

	for {
		n, err := l.reader.Read(l.buf)
		if n > 0 {
			l.capture.Write(l.buf[:n])
			messages = append(messages, l.splitter.Feed(l.buf[:n])...)
		}

		if errors.Is(err, io.EOF) || (n == 0 && err == nil) {
			return messages, nil
		}

		if err != nil {
			return messages, fmt.Errorf("reading debug log: %w", err)
		}
	}
}

// flush returns the message still being assembled.
func (l *logStream) flush() []classifier.Message {
	return l.splitter.Flush()
}

// discard drops pending output and starts a fresh capture.
func (l *logStream) discard() error {
	for {
		n, err := l.reader.Read(l.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("discarding debug log: %w", err)
		}

		if n == 0 || err != nil {
			break
		}
	}

	l.splitter.Reset()
	l.capture.Reset()

	return nil
}

// captured returns the raw debug output since the last discard.
func (l *logStream) captured() []byte {
	return l.capture.Bytes()
}
