package report

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func writeSource(t *testing.T, sweb, name, source string) {
	t.Helper()

	dir := filepath.Join(sweb, config.TestsDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(source), 0o600))
}

func header(category, description string, tags ...string) string {
	return "/*\n---\ncategory: " + category + "\ndescription: " + description +
		"\ntags: [" + strings.Join(tags, ", ") + "]\n*/\nint main() { return 0; }\n"
}

func TestRenderCatalog(t *testing.T) {
	t.Parallel()

	out := RenderCatalog([]CatalogEntry{
		{Filename: "test_fork.c", Category: "fork", Description: "Forks twice", Tags: []string{"fork", "slow"}},
		{Filename: "test_alloc.c", Category: "memory", Description: "Allocates", Tags: nil},
	})

	expected := "# Test summary\n\n" +
		"# memory\n\n" +
		"### test_alloc.c\n\n" +
		"Description:\n\n> Allocates\n\n" +
		"Tags: \n\n" +
		"# fork\n\n" +
		"### test_fork.c\n\n" +
		"Description:\n\n> Forks twice\n\n" +
		"Tags: `fork`, `slow`\n\n" +
		"The end."

	assert.Equal(t, expected, out)
}

func TestRenderCatalog_CategoryOrder(t *testing.T) {
	t.Parallel()

	entries := []CatalogEntry{
		{Filename: "test_u.c", Category: "uncategorized"},
		{Filename: "test_w.c", Category: "waitpid"},
		{Filename: "test_m2.c", Category: "misc"},
		{Filename: "test_p.c", Category: "pthread"},
		{Filename: "test_z.c", Category: "zzz"},
		{Filename: "test_m1.c", Category: "misc"},
		{Filename: "test_a.c", Category: "alpha"},
		{Filename: "test_f.c", Category: "fork"},
	}

	out := RenderCatalog(entries)

	var order []string

	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "# ") && line != "# Test summary" {
			order = append(order, strings.TrimPrefix(line, "# "))
		}
	}

	assert.Equal(t, []string{"alpha", "zzz", "pthread", "fork", "misc", "waitpid", "uncategorized"}, order)
	assert.Less(t, strings.Index(out, "test_m1.c"), strings.Index(out, "test_m2.c"))
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	sweb := t.TempDir()
	writeSource(t, sweb, "test_fork.c", header("fork", "Forks", "fork"))
	writeSource(t, sweb, "test_alpha.c", header("alpha", "First"))
	writeSource(t, sweb, "helper.c", "int helper(void);\n")

	entries, err := LoadCatalog(quietLogger(), sweb)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "test_alpha.c", entries[0].Filename)
	assert.Equal(t, []string{"fork"}, entries[1].Tags)
}

func TestLoadCatalog_MissingMetadata(t *testing.T) {
	t.Parallel()

	sweb := t.TempDir()
	writeSource(t, sweb, "test_ok.c", header("misc", "Fine"))
	writeSource(t, sweb, "test_bare.c", "int main() { return 0; }\n")
	writeSource(t, sweb, "test_nodesc.c", "/*\n---\ncategory: misc\n*/\n")

	entries, err := LoadCatalog(quietLogger(), sweb)
	require.ErrorIs(t, err, ErrMissingMetadata)
	assert.Contains(t, err.Error(), "test_bare.c")
	assert.Contains(t, err.Error(), "test_nodesc.c")
	require.Len(t, entries, 3)

	assert.Equal(t, "test_bare.c", entries[0].Filename)
	assert.Equal(t, defaultCategory, entries[0].Category)
	assert.Equal(t, missingDescription, entries[0].Description)
	assert.Equal(t, "misc", entries[1].Category)
	assert.Equal(t, missingDescription, entries[1].Description)
}

func TestLoadCatalog_InvalidYAML(t *testing.T) {
	t.Parallel()

	sweb := t.TempDir()
	writeSource(t, sweb, "test_broken.c", "/*\n---\ncategory: [unclosed\n*/\n")

	_, err := LoadCatalog(quietLogger(), sweb)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingMetadata)
}

func TestDiffCatalog(t *testing.T) {
	t.Parallel()

	entries := []CatalogEntry{{Filename: "test_a.c", Category: "misc", Description: "A"}}
	path := filepath.Join(t.TempDir(), config.CatalogFile)

	diff, err := DiffCatalog(path, entries)
	require.NoError(t, err)
	assert.Contains(t, diff, "+# Test summary")

	require.NoError(t, WriteCatalog(path, entries))

	diff, err = DiffCatalog(path, entries)
	require.NoError(t, err)
	assert.Empty(t, diff)

	entries[0].Description = "B"

	diff, err = DiffCatalog(path, entries)
	require.NoError(t, err)
	assert.Contains(t, diff, "-> A")
	assert.Contains(t, diff, "+> B")
}
