package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fxnlabs/kernel-cache/fixtures"
	"github.com/fxnlabs/kernel-cache/internal/config"
	"github.com/fxnlabs/kernel-cache/internal/toolchain/toolchaintest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"kcache"}, args...))
	return out.String(), err
}

// writeConfig writes a config that compiles with fake tools and loads
// into the host backend.
func writeConfig(t *testing.T, fake *toolchaintest.Fake) string {
	t.Helper()
	cfg := config.Default()
	cfg.Logger.Verbosity = "error"
	cfg.Toolchain.Compiler = fake.Config.Compiler
	cfg.Toolchain.Finalizer = fake.Config.Finalizer
	cfg.Staging.Root = t.TempDir()
	cfg.Driver.Backend = "host"

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := run(t, "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fixtures.ConfigTemplate, data)

	_, err = run(t, "--config", path, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	_, err = run(t, "--config", path, "init", "--force")
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fixtures.ConfigTemplate, data)
}

func TestInit_Manifest(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	manifestPath := filepath.Join(dir, "warmup.yaml")

	out, err := run(t, "--config", configPath, "init", "--manifest", manifestPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+manifestPath)

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, fixtures.WarmupManifest, data)

	manifest, err := config.LoadManifest(manifestPath)
	require.NoError(t, err)
	assert.Len(t, manifest.Kernels, 3)
}

func TestWarm(t *testing.T) {
	fake := toolchaintest.Install(t, toolchaintest.Options{})
	path := writeConfig(t, fake)
	manifest := filepath.Join(t.TempDir(), "warmup.yaml")
	require.NoError(t, os.WriteFile(manifest, fixtures.WarmupManifest, 0o644))

	out, err := run(t, "--config", path, "warm", "--manifest", manifest, "--parallel", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "ALGORITHM")
	assert.Contains(t, out, "Conv1x1Fwd")
	assert.Contains(t, out, "gemm.cl")
	assert.Contains(t, out, "ActivationFwd")
	assert.Len(t, fake.CompilerCalls(t), 3)
}

func TestWarm_CompileFailure(t *testing.T) {
	fake := toolchaintest.Install(t, toolchaintest.Options{CompilerExit: 1})
	path := writeConfig(t, fake)

	_, err := run(t, "--config", path, "warm", "--manifest", "../../fixtures/manifests/warmup.yaml")
	assert.Error(t, err)
}

func TestWarm_MissingManifest(t *testing.T) {
	fake := toolchaintest.Install(t, toolchaintest.Options{})
	path := writeConfig(t, fake)

	_, err := run(t, "--config", path, "warm", "--manifest", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDevices(t *testing.T) {
	fake := toolchaintest.Install(t, toolchaintest.Options{})
	path := writeConfig(t, fake)

	out, err := run(t, "--config", path, "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "Backend:        host")
	assert.Contains(t, out, "GPU available:  false")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "kcache dev", out[:len("kcache dev")])

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Greater(t, len(out), len("kcache dev"))
	assert.Contains(t, out, "kcache dev (")
}
