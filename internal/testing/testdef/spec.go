// Package testdef discovers SWEB userspace tests and parses the YAML
// specification header at the top of every test source file.
package testdef

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethpandaops/tortillas/internal/config"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoHeader is returned for source files without a specification header.
	ErrNoHeader = errors.New("no test specification header")

	errInvalidHeader       = errors.New("invalid test specification header")
	errCategoryRequired    = errors.New("category is required")
	errDescriptionRequired = errors.New("description is required")
	errNegativeTimeout     = errors.New("timeout must not be negative")
)

// Spec is the parsed header of one test source file.
type Spec struct {
	Name string `yaml:"-"`
	Path string `yaml:"-"`

	Category        string   `yaml:"category"`
	Description     string   `yaml:"description"`
	Tags            []string `yaml:"tags"`
	TimeoutSecs     int      `yaml:"timeout"`
	ExpectTimeout   bool     `yaml:"expect_timeout"`
	ExpectExitCodes []int    `yaml:"expect_exit_codes"`
	Disabled        bool     `yaml:"disabled"`
}

// HasTag reports whether the spec carries tag.
func (s *Spec) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// ExitCodes returns the expected exit codes, defaulting to [0] when none
// are listed.
func (s *Spec) ExitCodes() []int {
	if len(s.ExpectExitCodes) == 0 {
		return []int{0}
	}

	return s.ExpectExitCodes
}

// ExtractHeader returns the raw YAML of a specification header. The first line
// must open a block comment and "---" must appear on the first or second line.
func ExtractHeader(source []byte) ([]byte, error) {
	lines := bytes.SplitAfter(source, []byte("\n"))
	if len(lines) == 0 || !bytes.HasPrefix(lines[0], []byte("/*")) {
		return nil, ErrNoHeader
	}

	marker := []byte("---")
	if !bytes.Contains(lines[0], marker) && (len(lines) < 2 || !bytes.Contains(lines[1], marker)) {
		return nil, ErrNoHeader
	}

	var header bytes.Buffer

	for _, line := range lines[1:] {
		if bytes.Contains(line, []byte("*/")) {
			break
		}

		header.Write(line)
	}

	return header.Bytes(), nil
}

// ParseSpec parses the specification header of a test source file.
func ParseSpec(name, path string, source []byte) (*Spec, error) {
	raw, err := ExtractHeader(source)
	if err != nil {
		return nil, err
	}

	spec := &Spec{Name: name, Path: path}
	if err := yaml.Unmarshal(raw, spec); err != nil {
		return nil, fmt.Errorf("%w %s: %w", errInvalidHeader, name, err)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: test %s: %w", config.ErrInvalidConfig, name, err)
	}

	return spec, nil
}

// Validate checks the required header fields.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Category) == "" {
		return errCategoryRequired
	}

	if strings.TrimSpace(s.Description) == "" {
		return errDescriptionRequired
	}

	if s.TimeoutSecs < 0 {
		return errNegativeTimeout
	}

	return nil
}
