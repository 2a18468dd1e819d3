package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	imageName      = "SWEB.qcow2"
	debugLogName   = "out.log"
	traceLogName   = "int.log"
	stderrLogName  = "qemu.log"
	fifoBaseName   = "qemu"
	defaultTag     = "tortillas"
	defaultKeyWait = 200 * time.Millisecond
	defaultStopMax = 10 * time.Second
)

// QEMUConfig configures the QEMU launcher.
type QEMUConfig struct {
	// Arch is x86_64 or x86_32.
	Arch string
	// BaseImage is the SWEB disk image produced by the build.
	BaseImage string
	// RunDir holds one working directory per machine.
	RunDir string
	// SnapshotTag names the internal snapshot saved by Snapshot.
	SnapshotTag string
	// KeystrokeDelay is the pause after every monitor command.
	KeystrokeDelay time.Duration
	// ShutdownTimeout bounds a graceful quit before the process is killed.
	ShutdownTimeout time.Duration
}

type qemuLauncher struct {
	log       logrus.FieldLogger
	cfg       QEMUConfig
	binary    string
	cpu       string
	imgBinary string
}

var _ Launcher = (*qemuLauncher)(nil)

// NewQEMULauncher creates a launcher for the configured architecture.
func NewQEMULauncher(log logrus.FieldLogger, cfg QEMUConfig) (Launcher, error) {
	binary, cpu, err := emulatorFor(cfg.Arch)
	if err != nil {
		return nil, err
	}

	base, err := filepath.Abs(cfg.BaseImage)
	if err != nil {
		return nil, fmt.Errorf("resolving base image: %w", err)
	}

	cfg.BaseImage = base

	if cfg.SnapshotTag == "" {
		cfg.SnapshotTag = defaultTag
	}

	if cfg.KeystrokeDelay <= 0 {
		cfg.KeystrokeDelay = defaultKeyWait
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultStopMax
	}

	return &qemuLauncher{
		log:       log.WithField("component", "qemu_launcher"),
		cfg:       cfg,
		binary:    findBinary(binary),
		cpu:       cpu,
		imgBinary: findBinary("qemu-img"),
	}, nil
}

func emulatorFor(arch string) (binary, cpu string, err error) {
	switch arch {
	case "x86_64", "x86/64":
		return "qemu-system-x86_64", "qemu64", nil
	case "x86_32", "x86/32":
		return "qemu-system-i386", "qemu32", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedArch, arch)
	}
}

func (l *qemuLauncher) Boot(ctx context.Context, name string) (Machine, error) {
	dir, err := l.prepareDir(name)
	if err != nil {
		return nil, err
	}

	image := filepath.Join(dir, imageName)
	if err := createOverlay(ctx, l.imgBinary, l.cfg.BaseImage, image); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	return l.start(name, dir, image, "")
}

func (l *qemuLauncher) RestoreFrom(_ context.Context, snap *Snapshot, name string) (Machine, error) {
	dir, err := l.prepareDir(name)
	if err != nil {
		return nil, err
	}

	image := filepath.Join(dir, imageName)
	if err := cloneFile(snap.Image, image); err != nil {
		return nil, fmt.Errorf("%w: cloning snapshot: %w", ErrSpawn, err)
	}

	return l.start(name, dir, image, snap.Tag)
}

func (l *qemuLauncher) prepareDir(name string) (string, error) {
	dir := filepath.Join(l.cfg.RunDir, name)

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("%w: cleaning %s: %w", ErrSpawn, dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: run directory is inspected by the operator
		return "", fmt.Errorf("%w: creating %s: %w", ErrSpawn, dir, err)
	}

	return dir, nil
}

// args builds the emulator command line. A non-empty loadvm restores the
// named internal snapshot of image.
func (l *qemuLauncher) args(dir, image, loadvm string) []string {
	args := []string{
		"-m", "8M",
		"-cpu", l.cpu,
		"-drive", fmt.Sprintf("file=%s,index=0,media=disk,cache=writethrough", image),
		"-debugcon", "file:" + filepath.Join(dir, debugLogName),
		"-monitor", "pipe:" + filepath.Join(dir, fifoBaseName),
		"-nographic",
		"-display", "none",
		"-serial", "/dev/null",
	}

	if loadvm != "" {
		args = append(args, "-loadvm", loadvm)
	}

	return args
}

func (l *qemuLauncher) start(name, dir, image, loadvm string) (_ Machine, err error) {
	m := &qemuMachine{
		log:         l.log.WithField("machine", name),
		name:        name,
		dir:         dir,
		image:       image,
		ownsImage:   true,
		tag:         l.cfg.SnapshotTag,
		keyDelay:    l.cfg.KeystrokeDelay,
		stopTimeout: l.cfg.ShutdownTimeout,
		done:        make(chan struct{}),
	}

	defer func() {
		if err != nil {
			_ = m.Terminate()
		}
	}()

	if err := m.openStreams(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	stderr, err := os.Create(filepath.Join(dir, stderrLogName)) //nolint:gosec // G304: run directory path
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrSpawn, stderrLogName, err)
	}

	m.closers = append(m.closers, stderr)

	cmd := exec.Command(l.binary, l.args(dir, image, loadvm)...) //nolint:gosec // G204: emulator command with controlled arguments
	cmd.Stdout = stderr
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %w", ErrSpawn, l.binary, err)
	}

	m.cmd = cmd

	go m.wait()

	m.log.WithFields(logrus.Fields{
		"pid":    cmd.Process.Pid,
		"loadvm": loadvm,
	}).Debug("machine started")

	if err := m.monitorCommand("logfile " + filepath.Join(dir, traceLogName)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	if err := m.monitorCommand("log int"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	return m, nil
}

type qemuMachine struct {
	log         logrus.FieldLogger
	name        string
	dir         string
	image       string
	ownsImage   bool
	tag         string
	keyDelay    time.Duration
	stopTimeout time.Duration

	cmd     *exec.Cmd
	monitor *os.File
	trace   *os.File
	debug   *os.File
	closers []io.Closer

	monitorMu sync.Mutex
	done      chan struct{}
	waitErr   error
	once      sync.Once
	termErr   error
}

var _ Machine = (*qemuMachine)(nil)

// openStreams creates the log files and monitor fifos before the emulator
// opens them. The fifos are opened read-write so neither side blocks.
func (m *qemuMachine) openStreams() error {
	for _, name := range []string{debugLogName, traceLogName} {
		f, err := os.Create(filepath.Join(m.dir, name)) //nolint:gosec // G304: run directory path
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}

		_ = f.Close()
	}

	fifoIn := filepath.Join(m.dir, fifoBaseName+".in")
	fifoOut := filepath.Join(m.dir, fifoBaseName+".out")

	for _, fifo := range []string{fifoIn, fifoOut} {
		if err := unix.Mkfifo(fifo, 0o600); err != nil {
			return fmt.Errorf("creating fifo %s: %w", fifo, err)
		}
	}

	monitor, err := os.OpenFile(fifoIn, os.O_RDWR, 0) //nolint:gosec // G304: fifo created above
	if err != nil {
		return fmt.Errorf("opening monitor input: %w", err)
	}

	m.monitor = monitor
	m.closers = append(m.closers, monitor)

	replies, err := os.OpenFile(fifoOut, os.O_RDWR, 0) //nolint:gosec // G304: fifo created above
	if err != nil {
		return fmt.Errorf("opening monitor output: %w", err)
	}

	m.closers = append(m.closers, replies)

	// The monitor echoes every command; an undrained fifo would stall QEMU.
	go func() { _, _ = io.Copy(io.Discard, replies) }()

	if m.trace, err = os.Open(filepath.Join(m.dir, traceLogName)); err != nil {
		return fmt.Errorf("opening interrupt trace: %w", err)
	}

	m.closers = append(m.closers, m.trace)

	if m.debug, err = os.Open(filepath.Join(m.dir, debugLogName)); err != nil {
		return fmt.Errorf("opening debug log: %w", err)
	}

	m.closers = append(m.closers, m.debug)

	return nil
}

func (m *qemuMachine) wait() {
	err := m.cmd.Wait()

	if err != nil {
		m.waitErr = fmt.Errorf("%w: %w", ErrExited, err)
	} else {
		m.waitErr = ErrExited
	}

	close(m.done)
}

func (m *qemuMachine) Name() string {
	return m.name
}

func (m *qemuMachine) InterruptTrace() io.Reader {
	return m.trace
}

func (m *qemuMachine) DebugLog() io.Reader {
	return m.debug
}

func (m *qemuMachine) DebugLogPath() string {
	return filepath.Join(m.dir, debugLogName)
}

func (m *qemuMachine) Done() <-chan struct{} {
	return m.done
}

func (m *qemuMachine) Err() error {
	select {
	case <-m.done:
		return m.waitErr
	default:
		return nil
	}
}

func (m *qemuMachine) SendGuestInput(ctx context.Context, input string) error {
	for _, key := range KeySequence(input) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := m.monitorCommand(sendkeyCommand(key)); err != nil {
			return err
		}
	}

	return nil
}

// monitorCommand writes one command to the QEMU monitor. QEMU drops keys
// when commands arrive too quickly, so each write is followed by a pause.
func (m *qemuMachine) monitorCommand(command string) error {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if err := m.Err(); err != nil {
		return err
	}

	if _, err := io.WriteString(m.monitor, command+"\n"); err != nil {
		return fmt.Errorf("writing monitor command %q: %w", command, err)
	}

	time.Sleep(m.keyDelay)

	return nil
}

func (m *qemuMachine) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := m.monitorCommand("savevm " + m.tag); err != nil {
		return nil, fmt.Errorf("saving snapshot: %w", err)
	}

	if err := m.monitorCommand("quit"); err != nil {
		return nil, fmt.Errorf("stopping snapshot machine: %w", err)
	}

	timer := time.NewTimer(m.stopTimeout)
	defer timer.Stop()

	select {
	case <-m.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("machine %s did not quit within %s", m.name, m.stopTimeout) //nolint:err113 // Static timeout message
	}

	m.ownsImage = false

	if err := m.Terminate(); err != nil {
		m.log.WithError(err).Warn("failed to clean up snapshot machine")
	}

	return &Snapshot{Image: m.image, Tag: m.tag}, nil
}

func (m *qemuMachine) Terminate() error {
	m.once.Do(func() {
		if m.cmd != nil && m.cmd.Process != nil && Alive(m) {
			if err := unix.Kill(-m.cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				m.log.WithError(err).Warn("failed to kill machine process group")
			}

			select {
			case <-m.done:
			case <-time.After(m.stopTimeout):
				m.log.Warn("machine did not exit after kill")
			}
		}

		m.termErr = m.release()
	})

	return m.termErr
}

// release closes every handle and removes the fifos, the trace and, unless a
// snapshot took it over, the disk image. The debug log stays for inspection.
func (m *qemuMachine) release() error {
	var errs []error

	for _, closer := range m.closers {
		if err := closer.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}

	m.closers = nil

	remove := []string{
		filepath.Join(m.dir, fifoBaseName+".in"),
		filepath.Join(m.dir, fifoBaseName+".out"),
		filepath.Join(m.dir, traceLogName),
	}

	if m.ownsImage {
		remove = append(remove, m.image)
	}

	for _, path := range remove {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("releasing machine %s: %w", m.name, errors.Join(errs...))
	}

	return nil
}
