package testdef

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/sirupsen/logrus"
)

// Loader finds and parses test specifications inside a SWEB source tree.
type Loader interface {
	// Discover parses every test whose file name starts with glob. Files
	// without a header or with unparsable YAML are skipped; a header missing
	// required fields fails discovery.
	Discover(glob string) ([]*Spec, error)
	// Load parses a single test source file.
	Load(path string) (*Spec, error)
}

type loader struct {
	testsDir string
	log      logrus.FieldLogger
}

// NewLoader creates a loader for the tests of a SWEB source tree.
func NewLoader(log logrus.FieldLogger, swebPath string) Loader {
	return &loader{
		testsDir: filepath.Join(swebPath, config.TestsDir),
		log:      log.WithField("component", "testdef_loader"),
	}
}

func (l *loader) Discover(glob string) ([]*Spec, error) {
	pattern := filepath.Join(l.testsDir, glob+"*"+config.TestFileSuffix)

	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", pattern, err)
	}

	l.log.WithFields(logrus.Fields{
		"pattern": pattern,
		"files":   len(paths),
	}).Debug("discovering tests")

	specs := make([]*Spec, 0, len(paths))

	for _, path := range paths {
		spec, err := l.Load(path)
		if err != nil {
			if errors.Is(err, config.ErrInvalidConfig) {
				return nil, err
			}

			if !errors.Is(err, ErrNoHeader) {
				l.log.WithError(err).WithField("file", filepath.Base(path)).Warn("failed to parse test header, skipping")
			}

			continue
		}

		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})

	return specs, nil
}

func (l *loader) Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: test sources of the operator's SWEB tree
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), config.TestFileSuffix)

	return ParseSpec(name, path, data)
}

// Filter keeps specs in any of categories and carrying any of tags. Empty
// filters match everything.
func Filter(specs []*Spec, categories, tags []string) []*Spec {
	filtered := make([]*Spec, 0, len(specs))

	for _, spec := range specs {
		if len(categories) > 0 && !contains(categories, spec.Category) {
			continue
		}

		if len(tags) > 0 && !anyTag(spec, tags) {
			continue
		}

		filtered = append(filtered, spec)
	}

	return filtered
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}

	return false
}

func anyTag(spec *Spec, tags []string) bool {
	for _, tag := range tags {
		if spec.HasTag(tag) {
			return true
		}
	}

	return false
}
