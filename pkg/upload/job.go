// Package upload implements the sliced-upload engine: admission of
// announced uploads, slice dispatch across a fixed pool of workers,
// positional writes into the storage root, and idle-resend supervision.
package upload

import (
	"io"
	"sync/atomic"

	"github.com/flowdrop/flowdrop/pkg/files"
	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// File is the writable handle a job holds on its destination.
type File interface {
	io.WriterAt
	io.Closer
}

// FS opens upload destinations. The production implementation is the
// storage root; tests substitute fault-injecting wrappers.
type FS interface {
	OpenUpload(username, filename string) (File, error)
}

// RootFS adapts a storage root to the FS interface.
func RootFS(root *files.Root) FS {
	return rootFS{root: root}
}

type rootFS struct {
	root *files.Root
}

func (r rootFS) OpenUpload(username, filename string) (File, error) {
	f, err := r.root.OpenUpload(username, filename)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Dispatcher delivers envelopes minted by the upload engine back into
// the session fan-out. Implemented by the session dispatcher.
type Dispatcher interface {
	Dispatch(env protocol.Envelope)
}

// Job is one in-flight upload: the announcing request, the session it
// originated from, the open destination file, and the idle watchdog.
// It lives from admission until the terminal Finish observation.
type Job struct {
	Req    protocol.FileRequest
	Origin protocol.Client

	file     File
	watchdog *Watchdog
	finished atomic.Bool
}

// Finished reports whether the terminal Finish was observed.
func (j *Job) Finished() bool {
	return j.finished.Load()
}

// close stops supervision and releases the file handle.
func (j *Job) close() error {
	j.watchdog.Stop()
	return j.file.Close()
}
