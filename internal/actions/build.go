package actions

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrBuildFailed is returned when a cmake step of the SWEB build fails.
var ErrBuildFailed = errors.New("SWEB build failed")

// BuildOptions selects the steps of the SWEB build.
type BuildOptions struct {
	SwebPath string
	BuildDir string
	Arch     string
	// SkipSetup skips configuring the build tree and selecting Arch.
	SkipSetup bool
	// SkipBuild skips every step, including setup.
	SkipBuild bool
}

// Builder configures and compiles a SWEB tree with cmake.
type Builder interface {
	Build(ctx context.Context, opts BuildOptions) error
}

// commandFunc runs name with args, feeding stdin, and returns combined output.
type commandFunc func(ctx context.Context, stdin, name string, args ...string) ([]byte, error)

type builder struct {
	log  logrus.FieldLogger
	exec commandFunc
}

var _ Builder = (*builder)(nil)

// NewBuilder creates a cmake based SWEB builder.
func NewBuilder(log logrus.FieldLogger) Builder {
	return &builder{
		log:  log.WithField("component", "builder"),
		exec: runCommand,
	}
}

// Build runs the cmake steps selected by opts. The architecture switch of the
// SWEB build asks for confirmation, which is answered on stdin.
func (b *builder) Build(ctx context.Context, opts BuildOptions) error {
	if opts.SkipBuild {
		b.log.Info("skipping SWEB build")

		return nil
	}

	if !opts.SkipSetup {
		b.log.WithFields(logrus.Fields{
			"source": opts.SwebPath,
			"build":  opts.BuildDir,
			"arch":   opts.Arch,
		}).Info("setting up SWEB build")

		if err := b.step(ctx, "", "cmake", "-B"+opts.BuildDir, "-H"+opts.SwebPath); err != nil {
			return err
		}

		if err := b.step(ctx, "yes\n", "cmake", "--build", opts.BuildDir, "--target", opts.Arch); err != nil {
			return err
		}
	}

	b.log.Info("building SWEB")

	return b.step(ctx, "", "cmake", "--build", opts.BuildDir)
}

func (b *builder) step(ctx context.Context, stdin, name string, args ...string) error {
	b.log.WithField("command", name+" "+strings.Join(args, " ")).Debug("executing build command")

	output, err := b.exec(ctx, stdin, name, args...)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w\nOutput: %s", ErrBuildFailed, name, strings.Join(args, " "), err, string(output))
	}

	return nil
}

func runCommand(ctx context.Context, stdin, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: fixed cmake invocations on operator paths
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	return cmd.CombinedOutput()
}
