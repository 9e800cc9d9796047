// Package toolchaintest installs shell-script stand-ins for the kernel
// compiler and finalizer so pipeline tests run without ROCm.
package toolchaintest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fxnlabs/kernel-cache/internal/toolchain"
)

// Options controls how the fake tools behave.
type Options struct {
	CompilerExit  int
	FinalizerExit int
	// CompilerSleep makes the compiler block for the given number of
	// seconds before doing anything, e.g. "30".
	CompilerSleep string
	// NotELF makes the finalizer write an image the driver rejects.
	NotELF bool
}

// Fake is an installed pair of fake tools.
type Fake struct {
	Config toolchain.Config
	logs   string
}

// Install writes the fake tools into a fresh temp dir and returns a
// toolchain config pointing at them.
func Install(t testing.TB, opts Options) *Fake {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain needs /bin/sh")
	}

	dir := t.TempDir()
	logs := filepath.Join(dir, "compiler.log")
	cfg := toolchain.DefaultConfig()
	cfg.Compiler = filepath.Join(dir, "clang-ocl")
	cfg.Finalizer = filepath.Join(dir, "amdhsafin")

	sleep := ""
	if opts.CompilerSleep != "" {
		sleep = "exec sleep " + opts.CompilerSleep + "\n"
	}
	compiler := fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
%sprintf 'version: 0:20140528:$full:$large;\n' > "dump_0_%s.hsail"
exit %d
`, logs, sleep, cfg.Device, opts.CompilerExit)

	image := `\177ELF\002\001\001`
	if opts.NotELF {
		image = `not-an-elf`
	}
	finalizer := fmt.Sprintf(`#!/bin/sh
out=""
for a in "$@"; do
	case "$a" in
		-output=*) out="${a#-output=}" ;;
	esac
done
[ -n "$out" ] || exit 64
printf '%s' > "$out"
exit %d
`, image, opts.FinalizerExit)

	writeScript(t, cfg.Compiler, compiler)
	writeScript(t, cfg.Finalizer, finalizer)

	return &Fake{Config: cfg, logs: logs}
}

// CompilerCalls returns the argument lists the compiler was invoked with.
func (f *Fake) CompilerCalls(t testing.TB) []string {
	t.Helper()
	data, err := os.ReadFile(f.logs)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read compiler log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeScript(t testing.TB, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
}
