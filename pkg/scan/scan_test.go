package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func names(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestScanFindsSupportedFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp4"))
	touch(t, filepath.Join(root, "b.mp3"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "sub", "c.mkv"))
	touch(t, filepath.Join(root, "sub", "image.png"))

	s := New(Config{}, nil)
	got, err := s.Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "b.mp3", "c.mkv"}, names(got))
}

func TestScanSkipsHiddenAndSystemDirs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "keep.wav"))
	touch(t, filepath.Join(root, ".hidden", "secret.mp3"))
	touch(t, filepath.Join(root, "node_modules", "dep.mp4"))
	touch(t, filepath.Join(root, "Temp", "scratch.flac"))
	touch(t, filepath.Join(root, "__pycache__", "cached.ogg"))

	s := New(Config{}, nil)
	got, err := s.Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.wav"}, names(got))
}

func TestScanDeterministicOrder(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{"z.mp3", "a.mp3", "m.mp3"} {
		touch(t, filepath.Join(root, f))
	}

	s := New(Config{}, nil)
	first, err := s.Scan(root)
	require.NoError(t, err)
	second, err := s.Scan(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.mp3", "m.mp3", "z.mp3"}, names(first))
	assert.Equal(t, first, second)
}

func TestScanIncludeExcludePatterns(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "talks", "one.mp4"))
	touch(t, filepath.Join(root, "talks", "draft_two.mp4"))
	touch(t, filepath.Join(root, "music", "song.mp3"))

	s := New(Config{
		Includes: []string{"talks/**"},
		Excludes: []string{"**/draft_*"},
	}, nil)
	got, err := s.Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.mp4"}, names(got))
}

func TestScanInvalidPattern(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp3"))

	s := New(Config{Includes: []string{"[bad"}}, nil)
	_, err := s.Scan(root)
	assert.Error(t, err)
}

func TestScanEmptyDirIsNotError(t *testing.T) {
	s := New(Config{}, nil)
	got, err := s.Scan(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScanMissingRoot(t *testing.T) {
	s := New(Config{}, nil)
	_, err := s.Scan(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestScanRootIsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.mp3")
	touch(t, file)

	s := New(Config{}, nil)
	_, err := s.Scan(file)
	assert.Error(t, err)
}

func TestIsAudio(t *testing.T) {
	assert.True(t, IsAudio("/x/a.MP3"))
	assert.True(t, IsAudio("/x/a.opus"))
	assert.False(t, IsAudio("/x/a.mp4"))
	assert.False(t, IsAudio("/x/a.txt"))
}
