package machine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createOverlay creates a qcow2 image backed by base.
func createOverlay(ctx context.Context, imgBinary, base, overlay string) error {
	//nolint:gosec // G204: qemu-img with operator supplied image paths
	cmd := exec.CommandContext(ctx, imgBinary, "create", "-f", "qcow2", "-F", "qcow2", "-b", base, overlay)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating overlay %s: %w (%s)", overlay, err, out)
	}

	return nil
}

// cloneFile copies src to dst, sharing extents with a reflink when the
// filesystem supports it.
func cloneFile(src, dst string) (err error) {
	in, err := os.Open(src) //nolint:gosec // G304: snapshot image created by this process
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // G304: run directory path
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", dst, closeErr)
		}
	}()

	if unix.IoctlFileClone(int(out.Fd()), int(in.Fd())) == nil {
		return nil
	}

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	return nil
}

// findBinary resolves name on PATH, then in common install locations.
func findBinary(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}

	for _, dir := range []string{"/usr/local/bin/", "/usr/bin/", "/bin/"} {
		if _, err := os.Stat(dir + name); err == nil {
			return dir + name
		}
	}

	return name
}
