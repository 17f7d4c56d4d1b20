// Package virt drives an autopkgtest virtualization backend over its
// line-based stdin/stdout protocol.
package virt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// backendPrefixes are tried in order when locating the backend
// executable for a bare name like "qemu" or "schroot".
var backendPrefixes = []string{"autopkgtest-virt-", "adt-virt-", ""}

// Worker is a running virtualization backend with an opened testbed.
type Worker struct {
	argv     []string
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	scratch  string
	user     string
	caps     map[string]bool
	callArgv []string
	closed   bool
}

func expandUser(word string) string {
	if word == "~" || strings.HasPrefix(word, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(word, "~"))
		}
	}
	return word
}

func findBackend(name string) (string, error) {
	for _, prefix := range backendPrefixes {
		if path, err := exec.LookPath(prefix + name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("virtualization provider %q not found", name)
}

// Open starts the backend described by the given command line (for
// example "qemu --cpus=4 image.qcow2"), performs the protocol handshake
// and opens the testbed. The backend must support root-on-testbed and
// machine or container isolation.
func Open(commandLine []string) (*Worker, error) {
	if len(commandLine) == 0 {
		return nil, fmt.Errorf("empty virtualization command line")
	}

	argv := make([]string, len(commandLine))
	for i, word := range commandLine {
		argv[i] = expandUser(word)
	}

	backend, err := findBackend(argv[0])
	if err != nil {
		return nil, err
	}
	argv[0] = backend

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &Worker{
		argv:   argv,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		user:   "user",
		caps:   map[string]bool{},
	}

	if err := w.handshake(); err != nil {
		w.kill()
		return nil, err
	}
	return w, nil
}

func (w *Worker) handshake() error {
	line, err := w.readLine()
	if err != nil {
		return err
	}
	if line != "ok" {
		return fmt.Errorf("response to startup was %q", line)
	}

	words, err := w.command("capabilities")
	if err != nil {
		return err
	}
	for _, word := range words {
		w.caps[word] = true
		if user, ok := strings.CutPrefix(word, "suggested-normal-user="); ok {
			w.user = user
		}
	}
	if !w.caps["root-on-testbed"] {
		return fmt.Errorf("%s does not support root-on-testbed", w.argv[0])
	}
	if !w.caps["isolation-machine"] && !w.caps["isolation-container"] {
		return fmt.Errorf("%s does not support machine or container isolation",
			w.argv[0])
	}

	words, err = w.command("open")
	if err != nil {
		return err
	}
	if len(words) < 1 {
		return fmt.Errorf("open did not return a scratch directory")
	}
	w.scratch = words[0]

	words, err = w.command("print-execute-command")
	if err != nil {
		return err
	}
	if len(words) < 1 {
		return fmt.Errorf("print-execute-command gave no command")
	}
	for _, quoted := range strings.Split(words[0], ",") {
		part, err := url.PathUnescape(quoted)
		if err != nil {
			return fmt.Errorf("malformed execute command %q: %w", words[0], err)
		}
		w.callArgv = append(w.callArgv, part)
	}

	logrus.WithFields(logrus.Fields{
		"backend": w.argv[0],
		"scratch": w.scratch,
		"user":    w.user,
	}).Debug("testbed opened")
	return nil
}

func (w *Worker) readLine() (string, error) {
	line, err := w.stdout.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading from %s: %w", w.argv[0], err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// command sends one protocol line and returns the words following the
// leading "ok" of the response.
func (w *Worker) command(words ...string) ([]string, error) {
	request := strings.Join(words, " ")
	if _, err := io.WriteString(w.stdin, request+"\n"); err != nil {
		return nil, fmt.Errorf("writing to %s: %w", w.argv[0], err)
	}
	line, err := w.readLine()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "ok" {
		return nil, fmt.Errorf("response to %q was %q", words[0], line)
	}
	return fields[1:], nil
}

// Scratch returns the testbed's scratch directory.
func (w *Worker) Scratch() string {
	return w.scratch
}

// User returns the unprivileged user suggested by the backend, or
// "user" when it did not suggest one.
func (w *Worker) User() string {
	return w.user
}

// HasCapability reports whether the backend advertised the capability.
func (w *Worker) HasCapability(name string) bool {
	return w.caps[name]
}

// CallArgv returns the host command prefix that executes its arguments
// inside the testbed.
func (w *Worker) CallArgv() []string {
	return append([]string(nil), w.callArgv...)
}

func (w *Worker) hostCommand(argv []string) *exec.Cmd {
	full := append(w.CallArgv(), argv...)
	logrus.WithField("argv", argv).Debug("running in testbed")
	return exec.Command(full[0], full[1:]...)
}

// Call runs argv inside the testbed and returns its exit code.
func (w *Worker) Call(argv []string, stdout, stderr io.Writer) (int, error) {
	cmd := w.hostCommand(argv)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// CheckCall runs argv inside the testbed and fails unless it exits 0.
func (w *Worker) CheckCall(argv []string) error {
	cmd := w.hostCommand(argv)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%v failed in testbed: %w", argv, err)
	}
	return nil
}

// CheckOutput runs argv inside the testbed and returns its stdout.
func (w *Worker) CheckOutput(argv []string) ([]byte, error) {
	cmd := w.hostCommand(argv)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%v failed in testbed: %w", argv, err)
	}
	return out, nil
}

// CopyToGuest copies a file or directory from the host into the testbed.
func (w *Worker) CopyToGuest(hostPath, guestPath string) error {
	_, err := w.command("copydown",
		url.PathEscape(hostPath), url.PathEscape(guestPath))
	return err
}

// CopyToHost copies a file or directory from the testbed to the host.
func (w *Worker) CopyToHost(guestPath, hostPath string) error {
	_, err := w.command("copyup",
		url.PathEscape(guestPath), url.PathEscape(hostPath))
	return err
}

// OpenShell asks the backend for an interactive shell in the testbed,
// for debugging. Failure is logged but not fatal.
func (w *Worker) OpenShell() {
	if _, err := w.command("shell"); err != nil {
		logrus.WithError(err).Warn("unable to open a shell in the testbed")
	}
}

func (w *Worker) kill() {
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}

// Close shuts the backend down, politely first.
func (w *Worker) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	_, writeErr := io.WriteString(w.stdin, "quit\n")
	_ = w.stdin.Close()
	err := w.cmd.Wait()
	if writeErr != nil && err == nil {
		err = writeErr
	}
	return err
}
