package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInspect reports no dimensions for the broken clip and 320x240 for
// anything else.
func fakeInspect(broken string) inspectFunc {
	return func(_ context.Context, path string) (Info, error) {
		if path == broken {
			return Info{}, errors.New("no video stream dimensions")
		}
		return Info{Path: path, Width: 320, Height: 240}, nil
	}
}

func writeClip(t *testing.T, dir string) (string, os.FileInfo) {
	t.Helper()
	path := filepath.Join(dir, "walk.mp4")
	require.NoError(t, os.WriteFile(path, []byte("broken container"), 0o644))
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))
	st, err := os.Stat(path)
	require.NoError(t, err)
	return path, st
}

func assertUntouched(t *testing.T, path string, before os.FileInfo) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "broken container", string(data))
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())
	assert.True(t, before.ModTime().Equal(after.ModTime()), "input mtime changed")
}

func TestRepairedPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/work", "original_repaired.mp4"), RepairedPath("/data/v/original.mp4", "/work"))
}

func TestRepairWritesSeparateCopy(t *testing.T) {
	src := t.TempDir()
	path, before := writeClip(t, src)
	id, err := GenerateID(path)
	require.NoError(t, err)

	work := filepath.Join(t.TempDir(), "gei", "vid")
	encode := func(_ context.Context, in, out string) error {
		assert.Equal(t, path, in)
		return os.WriteFile(out, []byte("re-encoded"), 0o644)
	}
	got, err := repair(context.Background(), path, work, nil, fakeInspect(path), encode)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "walk_repaired.mp4"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "re-encoded", string(data))

	assertUntouched(t, path, before)
	again, err := GenerateID(path)
	require.NoError(t, err)
	assert.Equal(t, id, again, "the input keeps its identity")
}

func TestRepairSkipsHealthyClip(t *testing.T) {
	path, _ := writeClip(t, t.TempDir())
	encode := func(context.Context, string, string) error {
		t.Fatal("healthy clip re-encoded")
		return nil
	}
	got, err := repair(context.Background(), path, t.TempDir(), nil, fakeInspect("other.mp4"), encode)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestRepairFailureLeavesInput(t *testing.T) {
	path, before := writeClip(t, t.TempDir())
	work := t.TempDir()
	encode := func(_ context.Context, _, out string) error {
		os.WriteFile(out, []byte("partial"), 0o644)
		return errors.New("exit status 1")
	}
	_, err := repair(context.Background(), path, work, nil, fakeInspect(path), encode)
	assert.ErrorContains(t, err, "ffmpeg repair failed")

	assertUntouched(t, path, before)
	_, err = os.Stat(RepairedPath(path, work))
	assert.True(t, os.IsNotExist(err), "partial output removed")
}
