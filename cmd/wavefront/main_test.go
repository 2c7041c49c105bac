package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRender_ReportsAllSamples(t *testing.T) {
	dir := t.TempDir()
	hm := filepath.Join(dir, "bounces.tiff")

	out, err := execute(t, "render",
		"--width", "8", "--height", "4", "--samples", "2",
		"--max-paths", "64", "--sort", "partitioned",
		"--heatmap", hm, "--heatmap-scale", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "samples       64\n")
	assert.Contains(t, out, "intersect_closest")

	info, err := os.Stat(hm)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestRender_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_paths: 128\nsort: none\nlane_width: 1\nblock_size: 32\n"), 0o600))

	out, err := execute(t, "render", "-c", path, "--width", "5", "--height", "5", "-s", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "samples       75\n")
}

func TestRender_RejectsBadInput(t *testing.T) {
	garbage := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("max_paths: [oops"), 0o600))

	tests := []struct {
		name string
		args []string
	}{
		{"unknown sort", []string{"render", "--sort", "bogus"}},
		{"zero width", []string{"render", "--width", "0"}},
		{"unparsable config", []string{"render", "-c", garbage}},
		{"positional", []string{"render", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestTiles_List(t *testing.T) {
	out, err := execute(t, "tiles", "--width", "10", "--height", "6", "-s", "1", "--budget", "32", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "tile edge 4")
	assert.Contains(t, out, "60 paths")
	assert.Contains(t, out, "samples 0+1")
}
