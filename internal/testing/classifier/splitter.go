package classifier

import (
	"regexp"
	"strings"

	"github.com/acarl005/stripansi"
)

// markerPattern finds the start of a debug-log message: a bracketed scope such
// as "[SYSCALL   ]" or a kernel panic banner. Guest output such as "STATUS: ok"
// stays part of the current message.
var markerPattern = regexp.MustCompile(`\[[A-Z_]+\s*\]|KERNEL\sPANIC:\s`)

// Message is one scoped debug-log message with ANSI sequences removed.
type Message struct {
	Scope string
	Text  string
}

// Splitter cuts a streamed debug log into scoped messages. A message is only
// emitted once the next marker arrives or the stream is flushed, so partial
// writes never produce truncated messages.
type Splitter struct {
	pending []byte
	scope   string
}

// NewSplitter creates a splitter with no open scope.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Feed appends raw log bytes and returns every message completed by them.
func (s *Splitter) Feed(data []byte) []Message {
	if len(data) == 0 {
		return nil
	}

	s.pending = append(s.pending, data...)

	var (
		messages []Message
		cursor   int
	)

	for _, loc := range markerPattern.FindAllIndex(s.pending, -1) {
		if msg, ok := s.message(s.pending[cursor:loc[0]]); ok {
			messages = append(messages, msg)
		}

		s.scope = normalizeScope(string(s.pending[loc[0]:loc[1]]))
		cursor = loc[1]
	}

	s.pending = append([]byte(nil), s.pending[cursor:]...)

	return messages
}

// Flush emits the message still being assembled, if any.
func (s *Splitter) Flush() []Message {
	msg, ok := s.message(s.pending)
	s.Reset()

	if !ok {
		return nil
	}

	return []Message{msg}
}

// Reset drops buffered text. Text arriving before the next marker is unscoped.
func (s *Splitter) Reset() {
	s.pending = nil
	s.scope = ""
}

func (s *Splitter) message(raw []byte) (Message, bool) {
	text := stripansi.Strip(string(raw))
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}

	return Message{Scope: s.scope, Text: text}, true
}

func normalizeScope(marker string) string {
	return strings.Trim(strings.TrimSpace(marker), "[]: ")
}
