package actions

import (
	"errors"
	"fmt"
	"io"

	"github.com/ethpandaops/tortillas/internal/testing/report"
	"github.com/sirupsen/logrus"
)

// ErrCatalogStale is returned by a catalog check when the file differs from
// the generated catalog.
var ErrCatalogStale = errors.New("test catalog is out of date")

// CatalogOptions configures catalog generation.
type CatalogOptions struct {
	SwebPath string
	File     string
	// Check compares File with the generated catalog instead of writing it.
	Check bool
}

// Catalog generates the markdown test catalog of a SWEB tree. Tests missing
// metadata are still listed, but make Catalog fail after the file is written.
func Catalog(log logrus.FieldLogger, w io.Writer, opts CatalogOptions) error {
	entries, loadErr := report.LoadCatalog(log, opts.SwebPath)
	if loadErr != nil && !errors.Is(loadErr, report.ErrMissingMetadata) {
		return loadErr
	}

	if opts.Check {
		diff, err := report.DiffCatalog(opts.File, entries)
		if err != nil {
			return err
		}

		if diff != "" {
			fmt.Fprint(w, diff)

			return fmt.Errorf("%w: %s", ErrCatalogStale, opts.File)
		}

		fmt.Fprintf(w, "✅ %s is up to date (%d tests)\n", opts.File, len(entries))

		return loadErr
	}

	if err := report.WriteCatalog(opts.File, entries); err != nil {
		return err
	}

	fmt.Fprintf(w, "✅ Wrote %d tests to %s\n", len(entries), opts.File)

	return loadErr
}
