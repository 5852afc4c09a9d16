package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	root, err := NewRoot(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)
	return root
}

func TestUserPathRejectsTraversal(t *testing.T) {
	root := newTestRoot(t)

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := root.UserPath("alice", bad)
		assert.Error(t, err, "filename %q", bad)

		_, err = root.UserPath(bad, "ok.txt")
		assert.Error(t, err, "username %q", bad)
	}
}

func TestOpenUploadCreatesLazily(t *testing.T) {
	root := newTestRoot(t)

	f, err := root.OpenUpload("alice", "a.bin")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("data"), 0)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(root.Dir(), "alice", "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
}

func TestOpenUploadDoesNotTruncate(t *testing.T) {
	root := newTestRoot(t)

	f, err := root.OpenUpload("alice", "a.bin")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = root.OpenUpload("alice", "a.bin")
	require.NoError(t, err)
	defer f.Close()

	data, err := os.ReadFile(filepath.Join(root.Dir(), "alice", "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUsedStorage(t *testing.T) {
	root := newTestRoot(t)

	used, err := root.UsedStorage("alice")
	require.NoError(t, err)
	assert.Zero(t, used)

	writeFile(t, root, "alice", "a.bin", 100)
	writeFile(t, root, "alice", "b.bin", 24)

	used, err = root.UsedStorage("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(124), used)

	used, err = root.UsedStorage("bob")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestListSortedByName(t *testing.T) {
	root := newTestRoot(t)

	writeFile(t, root, "alice", "b.bin", 10)
	writeFile(t, root, "alice", "a.bin", 2048)

	elems, err := root.List("alice")
	require.NoError(t, err)
	require.Len(t, elems, 2)
	assert.Equal(t, "a.bin", elems[0].Name)
	assert.Equal(t, "2.0Kb", elems[0].Size)
	assert.Equal(t, "b.bin", elems[1].Name)
	assert.Equal(t, "10b", elems[1].Size)
}

func TestListMissingUserIsEmpty(t *testing.T) {
	root := newTestRoot(t)

	elems, err := root.List("ghost")
	require.NoError(t, err)
	assert.Empty(t, elems)
}

func TestElemAndRemove(t *testing.T) {
	root := newTestRoot(t)

	writeFile(t, root, "alice", "a.bin", 7)

	elem, err := root.Elem("alice", "a.bin")
	require.NoError(t, err)
	assert.Equal(t, "a.bin", elem.Name)
	assert.Equal(t, "7b", elem.Size)
	assert.NotEmpty(t, elem.ModifyT)

	require.NoError(t, root.Remove("alice", "a.bin"))
	_, err = root.Elem("alice", "a.bin")
	assert.Error(t, err)
}

func writeFile(t *testing.T, root *Root, username, filename string, size int) {
	t.Helper()
	f, err := root.OpenUpload(username, filename)
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, size), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
