// Package interrupt parses QEMU interrupt traces and waits for the bootup and
// completion signals a SWEB guest raises through its tortillas syscalls.
package interrupt

import (
	"regexp"
	"strconv"
	"strings"
)

// maxBlockLines caps the register lines collected for one interrupt. QEMU
// prints about twenty lines per interrupt.
const maxBlockLines = 30

var (
	vectorPattern   = regexp.MustCompile(`\bv=([0-9a-fA-F]+)\b`)
	registerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

// Interrupt is one parsed interrupt block of a QEMU "log int" trace.
type Interrupt struct {
	Vector    int
	Registers map[string]uint64
}

// Signal identifies an interrupt by vector and one register value.
type Signal struct {
	Vector   int
	Register string
	Value    uint64
}

// Matches reports whether in carries the signal. The register must be present.
func (s Signal) Matches(in Interrupt) bool {
	if in.Vector != s.Vector {
		return false
	}

	value, ok := in.Registers[s.Register]

	return ok && value == s.Value
}

// Parser assembles interrupt blocks from a streamed trace. It is not safe for
// concurrent use.
type Parser struct {
	partial string
	current *Interrupt
	lines   int
}

// NewParser creates an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes trace bytes and returns every interrupt block completed by
// them. A block completes when the next interrupt header arrives or when it
// reaches the line cap.
func (p *Parser) Feed(data []byte) []Interrupt {
	text := p.partial + string(data)

	lines := strings.Split(text, "\n")
	p.partial = lines[len(lines)-1]

	var completed []Interrupt

	for _, line := range lines[:len(lines)-1] {
		if in, ok := p.line(line); ok {
			completed = append(completed, in)
		}
	}

	return completed
}

// Pending returns the block currently being assembled, if any.
func (p *Parser) Pending() (Interrupt, bool) {
	if p.current == nil {
		return Interrupt{}, false
	}

	return *p.current, true
}

// Flush completes the pending block, including an unterminated last line.
func (p *Parser) Flush() []Interrupt {
	var completed []Interrupt

	if p.partial != "" {
		if in, ok := p.line(p.partial); ok {
			completed = append(completed, in)
		}

		p.partial = ""
	}

	if p.current != nil {
		completed = append(completed, *p.current)
	}

	p.Reset()

	return completed
}

// Reset drops all buffered state.
func (p *Parser) Reset() {
	p.partial = ""
	p.current = nil
	p.lines = 0
}

func (p *Parser) line(line string) (Interrupt, bool) {
	var (
		completed Interrupt
		done      bool
	)

	if match := vectorPattern.FindStringSubmatch(line); match != nil {
		vector, err := strconv.ParseInt(match[1], 16, 64)
		if err == nil {
			if p.current != nil {
				completed, done = *p.current, true
			}

			p.current = &Interrupt{Vector: int(vector), Registers: make(map[string]uint64)}
			p.lines = 0

			return completed, done
		}
	}

	if p.current == nil {
		return Interrupt{}, false
	}

	parseRegisters(line, p.current.Registers)
	p.lines++

	if p.lines >= maxBlockLines {
		completed, done = *p.current, true
		p.current = nil
		p.lines = 0
	}

	return completed, done
}

// parseRegisters reads KEY=HEX tokens. Tokens with lowercase keys, empty
// values or non-hex values are ignored.
func parseRegisters(line string, into map[string]uint64) {
	for _, token := range strings.Fields(line) {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" || value == "" || !registerPattern.MatchString(key) {
			continue
		}

		parsed, err := strconv.ParseUint(value, 16, 64)
		if err != nil {
			continue
		}

		into[key] = parsed
	}
}
