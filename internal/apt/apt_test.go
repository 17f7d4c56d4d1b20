package apt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectis-project/vectis/internal/apt"
	"github.com/vectis-project/vectis/internal/config"
)

const testLayer = `
defaults:
    mirrors:
        "": http://cache/${archive}
`

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	layer, err := config.ParseLayer([]byte(testLayer))
	require.NoError(t, err)
	cfg, err := config.New([]*config.Layer{layer}, "/")
	require.NoError(t, err)
	return cfg
}

func TestSourceString(t *testing.T) {
	source := apt.Source{
		Type:       apt.Deb,
		URI:        "http://deb.debian.org/debian",
		Suite:      "sid",
		Components: []string{"main", "contrib"},
	}
	assert.Equal(t,
		"deb http://deb.debian.org/debian sid main contrib",
		source.String())

	source.Type = apt.DebSrc
	source.Trusted = true
	assert.Equal(t,
		"deb-src [trusted=yes] http://deb.debian.org/debian sid main contrib",
		source.String())
}

func TestPiupartsMirrorOption(t *testing.T) {
	source := apt.Source{
		Type:       apt.Deb,
		URI:        "http://cache/debian",
		Suite:      "sid",
		Components: []string{"main"},
	}
	assert.Equal(t, "http://cache/debian sid main",
		source.PiupartsMirrorOption())
}

func TestSourcesForSuite(t *testing.T) {
	cfg := newConfig(t)

	debian, err := cfg.GetVendor("debian")
	require.NoError(t, err)
	sid, err := cfg.GetSuite(debian, "sid", true)
	require.NoError(t, err)
	mirrors, err := cfg.Mirrors()
	require.NoError(t, err)

	sources, err := apt.SourcesForSuite(mirrors, sid, nil, true)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t,
		"deb http://cache/debian sid main",
		sources[0].String())
	assert.Equal(t,
		"deb-src http://cache/debian sid main",
		sources[1].String())
}

func TestSourcesForPocket(t *testing.T) {
	cfg := newConfig(t)

	debian, err := cfg.GetVendor("debian")
	require.NoError(t, err)
	security, err := cfg.GetSuite(debian, "jessie-security", true)
	require.NoError(t, err)
	mirrors, err := cfg.Mirrors()
	require.NoError(t, err)

	sources, err := apt.SourcesForSuite(mirrors, security, nil, false)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t,
		"deb http://cache/security.debian.org jessie/updates main",
		sources[0].String())
	assert.Equal(t,
		"deb http://cache/debian jessie main",
		sources[1].String())
}

func TestComponentFilter(t *testing.T) {
	cfg := newConfig(t)

	debian, err := cfg.GetVendor("debian")
	require.NoError(t, err)
	sid, err := cfg.GetSuite(debian, "sid", true)
	require.NoError(t, err)
	mirrors, err := cfg.Mirrors()
	require.NoError(t, err)

	sources, err := apt.SourcesForSuite(
		mirrors, sid, []string{"main", "non-free", "bogus"}, false)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, []string{"main", "non-free"}, sources[0].Components)
}

func TestNoMirror(t *testing.T) {
	cfg, err := config.New(nil, "/")
	require.NoError(t, err)

	debian, err := cfg.GetVendor("debian")
	require.NoError(t, err)
	sid, err := cfg.GetSuite(debian, "sid", true)
	require.NoError(t, err)
	mirrors, err := cfg.Mirrors()
	require.NoError(t, err)

	_, err = apt.SourcesForSuite(mirrors, sid, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mirror configured")
}