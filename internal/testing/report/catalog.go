package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/ethpandaops/tortillas/internal/testing/testdef"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	catalogGlob        = "test_*" + config.TestFileSuffix
	defaultCategory    = "uncategorized"
	missingDescription = "Description missing."
	catalogHeader      = "# Test summary\n\n"
	catalogFooter      = "The end."
	catalogDiffContext = 3
	catalogFileMode    = 0o644
)

// ErrMissingMetadata is returned when test files lack a header or its
// category or description. The catalog is still rendered with defaults.
var ErrMissingMetadata = errors.New("tests are missing metadata")

// prioritizedCategories are moved to the end of the catalog in this order.
var prioritizedCategories = []string{"pthread", "fork", "exec", "misc", "sleep", "usleep", "waitpid", defaultCategory}

// CatalogEntry documents one test program.
type CatalogEntry struct {
	Filename    string   `yaml:"-"`
	Category    string   `yaml:"category"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

// LoadCatalog reads the header of every test_*.c file of a SWEB tree. Files
// with missing metadata are included with defaults and reported through an
// error wrapping ErrMissingMetadata; unparsable YAML fails immediately.
func LoadCatalog(log logrus.FieldLogger, swebPath string) ([]CatalogEntry, error) {
	log = log.WithField("component", "catalog")

	pattern := filepath.Join(swebPath, config.TestsDir, catalogGlob)

	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", pattern, err)
	}

	sort.Strings(paths)

	var (
		entries = make([]CatalogEntry, 0, len(paths))
		missing []string
	)

	for _, path := range paths {
		entry, complete, err := loadEntry(path)
		if err != nil {
			return nil, err
		}

		if !complete {
			log.WithField("file", entry.Filename).Warn("missing metadata")

			missing = append(missing, entry.Filename)
		}

		entries = append(entries, entry)
	}

	log.WithField("tests", len(entries)).Debug("catalog loaded")

	if len(missing) > 0 {
		return entries, fmt.Errorf("%w: %s", ErrMissingMetadata, strings.Join(missing, ", "))
	}

	return entries, nil
}

func loadEntry(path string) (CatalogEntry, bool, error) {
	entry := CatalogEntry{Filename: filepath.Base(path)}

	source, err := os.ReadFile(path) //nolint:gosec // G304: test sources of the operator's SWEB tree
	if err != nil {
		return entry, false, fmt.Errorf("reading %s: %w", path, err)
	}

	complete := true

	header, err := testdef.ExtractHeader(source)
	switch {
	case errors.Is(err, testdef.ErrNoHeader):
		complete = false
	case err != nil:
		return entry, false, err
	default:
		if err := yaml.Unmarshal(header, &entry); err != nil {
			return entry, false, fmt.Errorf("parsing header of %s: %w", entry.Filename, err)
		}
	}

	if strings.TrimSpace(entry.Category) == "" {
		entry.Category = defaultCategory
		complete = false
	}

	if strings.TrimSpace(entry.Description) == "" {
		entry.Description = missingDescription
		complete = false
	}

	return entry, complete, nil
}

// RenderCatalog renders entries as markdown grouped by category. Categories
// are sorted by name, except that prioritized categories move to the end.
func RenderCatalog(entries []CatalogEntry) string {
	sorted := make([]CatalogEntry, len(entries))
	copy(sorted, entries)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Filename < sorted[j].Filename
	})

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Category < sorted[j].Category
	})

	for _, category := range prioritizedCategories {
		sort.SliceStable(sorted, func(i, j int) bool {
			return !strings.Contains(sorted[i].Category, category) && strings.Contains(sorted[j].Category, category)
		})
	}

	var b strings.Builder

	b.WriteString(catalogHeader)

	current := ""

	for i, entry := range sorted {
		if i == 0 || entry.Category != current {
			current = entry.Category
			fmt.Fprintf(&b, "# %s\n\n", current)
		}

		fmt.Fprintf(&b, "### %s\n\n", entry.Filename)
		fmt.Fprintf(&b, "Description:\n\n> %s\n\n", strings.TrimSpace(entry.Description))

		tags := make([]string, len(entry.Tags))
		for k, tag := range entry.Tags {
			tags[k] = "`" + tag + "`"
		}

		fmt.Fprintf(&b, "Tags: %s\n\n", strings.Join(tags, ", "))
	}

	b.WriteString(catalogFooter)

	return b.String()
}

// WriteCatalog renders entries into path.
func WriteCatalog(path string, entries []CatalogEntry) error {
	if err := os.WriteFile(path, []byte(RenderCatalog(entries)), catalogFileMode); err != nil {
		return fmt.Errorf("writing catalog %s: %w", path, err)
	}

	return nil
}

// DiffCatalog returns a unified diff from the catalog at path to the freshly
// rendered one. An empty diff means the file is up to date; a missing file
// diffs against empty content.
func DiffCatalog(path string, entries []CatalogEntry) (string, error) {
	current, err := os.ReadFile(path) //nolint:gosec // G304: catalog path supplied by the operator
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("reading catalog %s: %w", path, err)
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(RenderCatalog(entries)),
		FromFile: path,
		ToFile:   path + " (generated)",
		Context:  catalogDiffContext,
	})
	if err != nil {
		return "", fmt.Errorf("diffing catalog: %w", err)
	}

	return diff, nil
}
