package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := Execute(args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestFormatAndRepair(t *testing.T) {
	img := filepath.Join(t.TempDir(), "fs.img")
	code, out, errs := run("format", img)
	require.Equal(t, 0, code, errs)
	assert.Contains(t, out, "agcount=4")

	code, out, errs = run("-t", "2", img)
	assert.Equal(t, 0, code, errs)
	assert.Contains(t, out, "Phase 2 - using internal log")
	assert.Contains(t, out, "found root inode chunk")
	assert.Empty(t, errs)
}

func TestDryRunLeavesImageAlone(t *testing.T) {
	img := filepath.Join(t.TempDir(), "fs.img")
	code, _, errs := run("format", img)
	require.Equal(t, 0, code, errs)
	before, err := os.ReadFile(img)
	require.NoError(t, err)

	code, _, errs = run("-n", "-c", "bigtime=1", img)
	assert.Equal(t, 0, code, errs)

	after, err := os.ReadFile(img)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpgradeNotApplicable(t *testing.T) {
	img := filepath.Join(t.TempDir(), "fs.img")
	code, _, errs := run("format", "--v4", img)
	require.Equal(t, 0, code, errs)

	code, out, _ := run("--add-bigtime", img)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Large timestamp feature only supported on V5 filesystems.")
}

func TestExternalLogNeedsDevice(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "fs.img")
	logImg := filepath.Join(dir, "log.img")
	code, _, errs := run("format", "--log-device", logImg, img)
	require.Equal(t, 0, code, errs)

	code, _, errs = run(img)
	assert.Equal(t, 1, code)
	assert.Contains(t, errs, "external log")

	code, out, errs := run("-l", logImg, img)
	assert.Equal(t, 0, code, errs)
	assert.Contains(t, out, "using external log on "+logImg)
}

func TestMissingDevice(t *testing.T) {
	code, _, errs := run(filepath.Join(t.TempDir(), "nope.img"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errs, "fsrepair:")

	code, _, _ = run()
	assert.Equal(t, 1, code)
}
