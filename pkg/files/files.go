// Package files manages the on-disk storage root. Every user's files
// live flat under storage_root/<username>/<filename>; the per-user
// directory is created lazily on first upload.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flowdrop/flowdrop/internal/bytesize"
	"github.com/flowdrop/flowdrop/pkg/protocol"
)

const timeLayout = "2006-01-02 15:04:05"

// ErrBadName is returned when a username or filename could escape the
// storage root.
var ErrBadName = errors.New("invalid file name")

// Root is a handle to the storage root directory.
type Root struct {
	dir string
}

// NewRoot returns a Root rooted at dir. The directory is created if it
// does not exist.
func NewRoot(dir string) (*Root, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %q: %w", dir, err)
	}
	return &Root{dir: dir}, nil
}

// Dir returns the storage root path.
func (r *Root) Dir() string {
	return r.dir
}

// sanitize rejects names that could escape the user's directory.
func sanitize(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q must not contain path separators", ErrBadName, name)
	}
	return nil
}

// UserPath resolves the absolute path of a user's file.
func (r *Root) UserPath(username, filename string) (string, error) {
	if err := sanitize(username); err != nil {
		return "", err
	}
	if err := sanitize(filename); err != nil {
		return "", err
	}
	return filepath.Join(r.dir, username, filename), nil
}

// OpenUpload opens a user's file for slice writes: create-if-missing,
// read+write, never truncated, so out-of-order positional writes and
// reopen after a crash both work.
func (r *Root) OpenUpload(username, filename string) (*os.File, error) {
	path, err := r.UserPath(username, filename)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create user directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	return f, nil
}

// UsedStorage sums the sizes of all files directly under the user's
// directory. A missing directory counts as zero.
func (r *Root) UsedStorage(username string) (uint64, error) {
	if err := sanitize(username); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(filepath.Join(r.dir, username))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		total += uint64(info.Size())
	}
	return total, nil
}

// Elem builds the display row for one of the user's files.
func (r *Root) Elem(username, filename string) (protocol.FileListElem, error) {
	path, err := r.UserPath(username, filename)
	if err != nil {
		return protocol.FileListElem{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return protocol.FileListElem{}, err
	}
	return elemFromInfo(filename, info), nil
}

// List returns the user's directory listing sorted by name.
// A missing directory yields an empty listing.
func (r *Root) List(username string) ([]protocol.FileListElem, error) {
	if err := sanitize(username); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(r.dir, username))
	if os.IsNotExist(err) {
		return []protocol.FileListElem{}, nil
	}
	if err != nil {
		return nil, err
	}

	elems := make([]protocol.FileListElem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		elems = append(elems, elemFromInfo(entry.Name(), info))
	}

	sort.Slice(elems, func(i, j int) bool { return elems[i].Name < elems[j].Name })
	return elems, nil
}

// Remove deletes one of the user's files.
func (r *Root) Remove(username, filename string) error {
	path, err := r.UserPath(username, filename)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// elemFromInfo formats a display row. Creation and access times are not
// portably available, so the modification time stands in for all three.
func elemFromInfo(name string, info os.FileInfo) protocol.FileListElem {
	stamp := info.ModTime().Format(timeLayout)
	return protocol.FileListElem{
		Name:    name,
		Size:    bytesize.ByteSize(info.Size()).Display(),
		CreateT: stamp,
		AccessT: stamp,
		ModifyT: stamp,
	}
}
