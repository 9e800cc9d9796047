// Package toolchain drives the platform kernel compiler and finalizer as
// external processes.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/fxnlabs/kernel-cache/internal/errdefs"
	"github.com/fxnlabs/kernel-cache/internal/metrics"
)

const (
	DefaultCompiler  = "/opt/rocm/bin/clang-ocl"
	DefaultFinalizer = "/opt/rocm/bin/amdhsafin"
	DefaultDevice    = "Fiji"
	DefaultTarget    = "8:0:3"

	// BinaryExt is appended to the staged source path to name the final
	// code object.
	BinaryExt = ".hsaco"
)

// Config selects the tools and their fixed flags.
type Config struct {
	Compiler  string
	Finalizer string
	// Device is passed as -mdevice and names the compiler's HSAIL dump.
	Device string
	// Target is the finalizer's -target triple, e.g. "8:0:3" for gfx803.
	Target         string
	CompilerFlags  []string
	FinalizerFlags []string
	// Timeout bounds each tool invocation. Zero means no limit.
	Timeout time.Duration
	// Stderr receives the tools' standard error. Nil means os.Stderr.
	Stderr io.Writer
}

// DefaultConfig returns the ROCm tool locations for a Fiji device.
func DefaultConfig() Config {
	return Config{
		Compiler:  DefaultCompiler,
		Finalizer: DefaultFinalizer,
		Device:    DefaultDevice,
		Target:    DefaultTarget,
	}
}

// Runner runs one external command to completion in dir.
type Runner interface {
	Run(ctx context.Context, dir string, stderr io.Writer, name string, args ...string) error
}

// ExecRunner runs commands with os/exec. Standard output is discarded.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for I/O after the process is
	// killed on cancellation.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, dir string, stderr io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stderr = stderr
	cmd.WaitDelay = r.WaitDelay
	return cmd.Run()
}

// Toolchain turns a staged source file into a loadable code object.
type Toolchain struct {
	cfg     Config
	runner  Runner
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a Toolchain. A nil runner uses ExecRunner.
func New(cfg Config, runner Runner, logger *zap.Logger, m *metrics.Metrics) *Toolchain {
	if runner == nil {
		runner = ExecRunner{WaitDelay: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Noop()
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Toolchain{
		cfg:     cfg,
		runner:  runner,
		logger:  logger.Named("toolchain"),
		metrics: m,
	}
}

// Build compiles src inside workDir and finalizes the result. It returns
// the path of the code object, which lives next to src.
func (t *Toolchain) Build(ctx context.Context, workDir, src, params string) (string, error) {
	intermediate := t.IntermediatePath(workDir)
	out := src + BinaryExt

	compileArgs, err := t.CompileArgs(src, params)
	if err != nil {
		return "", err
	}
	if err := t.run(ctx, errdefs.Compile, "compiler", workDir, t.cfg.Compiler, compileArgs); err != nil {
		return "", err
	}
	if err := t.run(ctx, errdefs.Link, "finalizer", workDir, t.cfg.Finalizer, t.FinalizeArgs(intermediate, out)); err != nil {
		return "", err
	}
	if err := os.Remove(intermediate); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", errdefs.E(errdefs.IO, "remove intermediate", intermediate, err)
	}
	return out, nil
}

// CompileArgs returns the compiler arguments: fixed target flags, extra
// configured flags, the caller's params and finally the source. params is
// split into words the way a POSIX shell would, so quoted defines stay
// whole.
func (t *Toolchain) CompileArgs(src, params string) ([]string, error) {
	words, err := shellwords.Parse(params)
	if err != nil {
		return nil, errdefs.Invalidf("compile", "malformed params %q: %v", params, err)
	}

	args := []string{
		"-march=hsail64",
		"-mdevice=" + t.cfg.Device,
		"-save-temps=dump",
		"-nobin",
	}
	args = append(args, t.cfg.CompilerFlags...)
	args = append(args, words...)
	return append(args, src), nil
}

// FinalizeArgs returns the finalizer arguments for turning intermediate
// into out.
func (t *Toolchain) FinalizeArgs(intermediate, out string) []string {
	args := []string{
		"-target=" + t.cfg.Target,
		"-hsail", intermediate,
		"-output=" + out,
	}
	return append(args, t.cfg.FinalizerFlags...)
}

// IntermediatePath is where the compiler leaves its HSAIL dump.
func (t *Toolchain) IntermediatePath(workDir string) string {
	return filepath.Join(workDir, "dump_0_"+t.cfg.Device+".hsail")
}

func (t *Toolchain) run(ctx context.Context, kind errdefs.Kind, tool, dir, name string, args []string) error {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	cmdline := name + " " + strings.Join(args, " ")
	start := time.Now()
	err := t.runner.Run(ctx, dir, t.cfg.Stderr, name, args...)
	elapsed := time.Since(start)

	if err == nil {
		t.metrics.ToolInvocations.WithLabelValues(tool, "success").Inc()
		t.logger.Debug("Tool finished", zap.String("tool", tool), zap.Duration("elapsed", elapsed))
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	t.metrics.ToolInvocations.WithLabelValues(tool, "failure").Inc()
	t.logger.Warn("Tool failed",
		zap.String("tool", tool),
		zap.String("cmd", cmdline),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))
	return errdefs.Tool(kind, tool, cmdline, exitCode, err)
}
