package commands

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vfskit/pkg/blockdev"
	"github.com/marmos91/vfskit/pkg/fatfs"
)

// newImage formats a fresh FAT16 disk image and returns its path. vfsctl
// is a one-shot-per-invocation tool, so every multi-step test below runs
// its own command against the same on-disk image to observe state
// persisting the way it would between two real invocations of the
// binary.
func newImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := blockdev.CreateFile(path, 512, 8192)
	require.NoError(t, err)
	_, err = fatfs.Format(dev, fatfs.FormatOptions{Variant: fatfs.FAT16, Label: "VFSCTL"})
	require.NoError(t, err)
	require.NoError(t, dev.Close())
	return path
}

// run executes the root command with args against the fat backend
// mounted on image.
func run(t *testing.T, image string, args ...string) error {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(append([]string{"--backend", "fat", "--image", image}, args...))
	return cmd.Execute()
}

// captureStdout redirects os.Stdout for the duration of fn and returns
// whatever it wrote.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func writeStdin(t *testing.T, content string) func() {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	orig := os.Stdin
	os.Stdin = r
	return func() { os.Stdin = orig }
}

func TestMkdirAndLsPersistAcrossInvocations(t *testing.T) {
	img := newImage(t)
	require.NoError(t, run(t, img, "mkdir", "/docs"))

	out := captureStdout(t, func() {
		require.NoError(t, run(t, img, "ls", "/"))
	})
	assert.Contains(t, out, "docs")
}

func TestWriteAndCatRoundTrip(t *testing.T) {
	img := newImage(t)
	restore := writeStdin(t, "hello vfsctl")
	defer restore()
	require.NoError(t, run(t, img, "write", "/hello.txt"))

	out := captureStdout(t, func() {
		require.NoError(t, run(t, img, "cat", "/hello.txt"))
	})
	assert.Equal(t, "hello vfsctl", out)
}

func TestStatReportsKindAndSize(t *testing.T) {
	img := newImage(t)
	restore := writeStdin(t, "abc")
	defer restore()
	require.NoError(t, run(t, img, "write", "/f.txt"))

	out := captureStdout(t, func() {
		require.NoError(t, run(t, img, "stat", "/f.txt"))
	})
	assert.Contains(t, out, "kind:       file")
	assert.Contains(t, out, "size:       3")
	assert.Contains(t, out, "fs_handle:  fat")
}

func TestMvMovesEntry(t *testing.T) {
	img := newImage(t)
	restore := writeStdin(t, "payload")
	defer restore()
	require.NoError(t, run(t, img, "write", "/a.txt"))
	require.NoError(t, run(t, img, "mv", "/a.txt", "/b.txt"))

	err := run(t, img, "stat", "/a.txt")
	require.Error(t, err)

	out := captureStdout(t, func() {
		require.NoError(t, run(t, img, "cat", "/b.txt"))
	})
	assert.Equal(t, "payload", out)
}

func TestRmRemovesEntry(t *testing.T) {
	img := newImage(t)
	require.NoError(t, run(t, img, "mkdir", "/empty"))
	require.NoError(t, run(t, img, "rm", "/empty"))

	out := captureStdout(t, func() {
		require.NoError(t, run(t, img, "ls", "/"))
	})
	assert.NotContains(t, out, "empty")
}

func TestStatfsReportsOccupancy(t *testing.T) {
	img := newImage(t)
	out := captureStdout(t, func() {
		require.NoError(t, run(t, img, "statfs"))
	})
	assert.Contains(t, out, "block_size:")
	assert.Contains(t, out, "free_blocks:")
}

func TestTmpfsBackendStartsEmptyEveryInvocation(t *testing.T) {
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"--backend", "tmpfs", "mkdir", "/docs"})
	require.NoError(t, cmd.Execute())

	// A second, independent invocation gets a fresh in-memory instance:
	// nothing persists without a backing device.
	out := captureStdout(t, func() {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"--backend", "tmpfs", "ls", "/"})
		require.NoError(t, cmd.Execute())
	})
	assert.NotContains(t, out, "docs")
}

func TestFatBackendRequiresImageFlag(t *testing.T) {
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"--backend", "fat", "--image", "", "stat", "/"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "--image"))
}

func TestUnknownBackendRejected(t *testing.T) {
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"--backend", "bogus", "stat", "/"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown --backend"))
}

func TestFatBackendMissingImageFailsCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"--backend", "fat", "--image", path, "statfs"})
	err := cmd.Execute()
	require.Error(t, err)
}
