package virt_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectis-project/vectis/internal/virt"
)

const fakeBackend = `#!/bin/sh
echo ok
while read cmd rest; do
    case "$cmd" in
        capabilities)
            echo "ok CAPS"
            ;;
        open)
            echo "ok /tmp/fake-scratch"
            ;;
        print-execute-command)
            echo "ok EXECUTE"
            ;;
        copydown|copyup|shell)
            echo ok
            ;;
        quit)
            exit 0
            ;;
        *)
            echo "bad $cmd"
            ;;
    esac
done
`

func writeBackend(t *testing.T, caps, execute string) string {
	t.Helper()
	script := strings.Replace(fakeBackend, "CAPS", caps, 1)
	script = strings.Replace(script, "EXECUTE", execute, 1)
	path := filepath.Join(t.TempDir(), "fake-backend")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func openFake(t *testing.T, caps, execute string) *virt.Worker {
	t.Helper()
	w, err := virt.Open([]string{writeBackend(t, caps, execute)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestHandshake(t *testing.T) {
	w := openFake(t,
		"root-on-testbed isolation-machine suggested-normal-user=tester",
		"/usr/bin/env,--")

	assert.Equal(t, "/tmp/fake-scratch", w.Scratch())
	assert.Equal(t, "tester", w.User())
	assert.True(t, w.HasCapability("root-on-testbed"))
	assert.True(t, w.HasCapability("isolation-machine"))
	assert.False(t, w.HasCapability("isolation-container"))
	assert.Equal(t, []string{"/usr/bin/env", "--"}, w.CallArgv())

	require.NoError(t, w.Close())
}

func TestDefaultUser(t *testing.T) {
	w := openFake(t,
		"root-on-testbed isolation-container",
		"/usr/bin/env,--")
	assert.Equal(t, "user", w.User())
}

func TestExecuteCommandUnescaping(t *testing.T) {
	w := openFake(t,
		"root-on-testbed isolation-machine",
		"/bin/echo,in%20testbed")

	assert.Equal(t, []string{"/bin/echo", "in testbed"}, w.CallArgv())

	out, err := w.CheckOutput([]string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, "in testbed hello\n", string(out))
}

func TestCallExitCode(t *testing.T) {
	w := openFake(t,
		"root-on-testbed isolation-machine",
		"/usr/bin/env,--")

	code, err := w.Call([]string{"false"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	code, err = w.Call([]string{"true"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestCopyAndShell(t *testing.T) {
	w := openFake(t,
		"root-on-testbed isolation-machine",
		"/usr/bin/env,--")

	require.NoError(t, w.CopyToGuest("/etc/hostname", "/tmp/hostname"))
	require.NoError(t, w.CopyToHost("/tmp/hostname", "/tmp/out"))
	w.OpenShell()
}

func TestMissingRootCapability(t *testing.T) {
	_, err := virt.Open([]string{writeBackend(t,
		"isolation-machine", "/usr/bin/env,--")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root-on-testbed")
}

func TestMissingIsolation(t *testing.T) {
	_, err := virt.Open([]string{writeBackend(t,
		"root-on-testbed", "/usr/bin/env,--")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "isolation")
}

func TestBackendNotFound(t *testing.T) {
	_, err := virt.Open([]string{"no-such-virtualization-backend"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}