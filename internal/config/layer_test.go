package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectis-project/vectis/internal/config"
)

func TestParseLayerSections(t *testing.T) {
	layer := mustLayer(t, `
defaults:
    architecture: amd64
vendors:
    debian:
        components: main
        suites:
            sid: {}
directories:
    /home/builder:
        parallel: 2
`)

	assert.Equal(t, "amd64", layer.Defaults["architecture"])
	require.Contains(t, layer.Vendors, "debian")
	assert.Equal(t, "main", layer.Vendors["debian"].Values["components"])
	assert.NotContains(t, layer.Vendors["debian"].Values, "suites")
	require.Contains(t, layer.Directories, "/home/builder")
}

func TestEmptySuiteEntryCreates(t *testing.T) {
	// "sid: {}" in the defaults means the suite exists even without a
	// create-on-demand lookup
	cfg, err := config.New(nil, "/")
	require.NoError(t, err)
	debian, err := cfg.GetVendor("debian")
	require.NoError(t, err)

	sid, err := cfg.GetSuite(debian, "sid", false)
	require.NoError(t, err)
	assert.NotNil(t, sid)
}

func TestNullSuiteEntryIsAbsent(t *testing.T) {
	cfg, err := config.New([]*config.Layer{mustLayer(t, `
vendors:
    debian:
        suites:
            phantom:
`)}, "/")
	require.NoError(t, err)
	debian, err := cfg.GetVendor("debian")
	require.NoError(t, err)

	suite, err := cfg.GetSuite(debian, "phantom", false)
	require.NoError(t, err)
	assert.Nil(t, suite)
}

func TestNullSuiteEntryMasksLowerLayers(t *testing.T) {
	// a layer that declares a suite key with a null value hides the
	// value any lower layer would have provided
	cfg, err := config.New([]*config.Layer{
		mustLayer(t, `
vendors:
    debian:
        suites:
            experimental:
                sbuild_resolver:
`),
	}, "/")
	require.NoError(t, err)

	debian, err := cfg.GetVendor("debian")
	require.NoError(t, err)
	experimental, err := cfg.GetSuite(debian, "experimental", true)
	require.NoError(t, err)

	resolver, err := experimental.SbuildResolver()
	require.NoError(t, err)
	assert.Empty(t, resolver)
}

func TestDiscoverLayers(t *testing.T) {
	tmp := t.TempDir()
	system := filepath.Join(tmp, "xdg")
	user := filepath.Join(tmp, "home-config")

	writeLayer := func(dir, body string) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "vectis"), 0o755))
		require.NoError(t, os.WriteFile(
			filepath.Join(dir, "vectis", "vectis.yaml"), []byte(body), 0o644))
	}
	writeLayer(system, `
defaults:
    architecture: s390x
    parallel: 2
`)
	writeLayer(user, `
defaults:
    architecture: riscv64
`)

	t.Setenv("XDG_CONFIG_DIRS", system)
	t.Setenv("XDG_CONFIG_HOME", user)

	layers, err := config.DiscoverLayers()
	require.NoError(t, err)
	require.Len(t, layers, 2)

	// the user layer is more specific than the system one
	assert.Equal(t, "riscv64", layers[0].Defaults["architecture"])
	assert.Equal(t, "s390x", layers[1].Defaults["architecture"])

	cfg, err := config.New(layers, "/")
	require.NoError(t, err)
	arch, err := cfg.Architecture()
	require.NoError(t, err)
	assert.Equal(t, "riscv64", arch)
	parallel, err := cfg.Parallel()
	require.NoError(t, err)
	assert.Equal(t, 2, parallel)
}

func TestDiscoverLayersNone(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_DIRS", filepath.Join(tmp, "nowhere"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "also-nowhere"))

	layers, err := config.DiscoverLayers()
	require.NoError(t, err)
	assert.Empty(t, layers)
}