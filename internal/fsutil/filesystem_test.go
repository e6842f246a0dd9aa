package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both implementations must commit a frame the same way.
func testFrameLifecycle(t *testing.T, fsys FileSystem, root string) {
	t.Helper()
	dir := filepath.Join(root, "images")
	require.NoError(t, fsys.MkdirAll(dir, 0o755))
	assert.True(t, fsys.Exists(dir))

	names, err := fsys.ListFiles(dir)
	require.NoError(t, err)
	assert.Empty(t, names)

	tmp := filepath.Join(dir, ".frame.tmp")
	final := filepath.Join(dir, "20250601-120000_HEALTHY.jpg")
	require.NoError(t, fsys.WriteFile(tmp, []byte("jpeg"), 0o644))
	require.NoError(t, fsys.Rename(tmp, final))
	assert.False(t, fsys.Exists(tmp))

	data, err := fsys.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	names, err = fsys.ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"20250601-120000_HEALTHY.jpg"}, names)

	err = fsys.Rename(tmp, final)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "rename of a committed temp file: %v", err)

	require.NoError(t, fsys.Remove(final))
	assert.False(t, fsys.Exists(final))
	_, err = fsys.ReadFile(final)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = fsys.ListFiles(filepath.Join(root, "missing"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestOSFileSystem_FrameLifecycle(t *testing.T) {
	testFrameLifecycle(t, OSFileSystem{}, t.TempDir())
}

func TestMemoryFileSystem_FrameLifecycle(t *testing.T) {
	testFrameLifecycle(t, NewMemoryFileSystem(), "/log")
}

func TestOSFileSystem_ListFilesSkipsDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), nil, 0o644))

	names, err := OSFileSystem{}.ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, names)
}

func TestMemoryFileSystem_Copies(t *testing.T) {
	mfs := NewMemoryFileSystem()
	src := []byte("hello")
	require.NoError(t, mfs.WriteFile("/frames/a.jpg", src, 0o644))
	src[0] = 'j'

	data, err := mfs.ReadFile("/frames/./a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data[0] = 'y'
	again, _ := mfs.ReadFile("/frames/a.jpg")
	assert.Equal(t, "hello", string(again))
}

func TestMemoryFileSystem_ListFilesNested(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/frames/b.jpg", nil, 0o644))
	require.NoError(t, mfs.WriteFile("/frames/a.jpg", nil, 0o644))
	require.NoError(t, mfs.WriteFile("/frames/nested/c.jpg", nil, 0o644))

	names, err := mfs.ListFiles("/frames")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, names)
}

func TestMemoryFileSystem_RemoveDir(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/a/b", 0o755))
	require.NoError(t, mfs.WriteFile("/a/b/c.jpg", []byte("x"), 0o644))

	assert.Error(t, mfs.Remove("/a/b"), "non-empty directory")
	require.NoError(t, mfs.Remove("/a/b/c.jpg"))
	require.NoError(t, mfs.Remove("/a/b"))
	assert.False(t, mfs.Exists("/a/b"))
	assert.True(t, mfs.Exists("/a"))
	assert.True(t, errors.Is(mfs.Remove("/a/b"), fs.ErrNotExist))
}
