package upload

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdrop/flowdrop/pkg/files"
	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// captureDispatcher records every envelope the upload engine emits.
type captureDispatcher struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (d *captureDispatcher) Dispatch(env protocol.Envelope) {
	d.mu.Lock()
	d.envs = append(d.envs, env)
	d.mu.Unlock()
}

func (d *captureDispatcher) snapshot() []protocol.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Envelope, len(d.envs))
	copy(out, d.envs)
	return out
}

func (d *captureDispatcher) responses() []protocol.FileResponse {
	var out []protocol.FileResponse
	for _, env := range d.snapshot() {
		if env.Msg.Kind == protocol.KindFileResponse {
			out = append(out, *env.Msg.FileResponse)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T, fs FS) (*Coordinator, *captureDispatcher, *files.Root) {
	t.Helper()
	root, err := files.NewRoot(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)

	d := &captureDispatcher{}
	c := NewCoordinator(Config{Workers: 2, NudgeInterval: time.Hour}, root, fs, d)
	return c, d, root
}

func testRequest(name string, size, sliceSize uint64) (protocol.FileRequest, [protocol.FileHashSize]byte) {
	hash := sha256.Sum256([]byte(name))
	frame := protocol.SliceFrame{FileHash: hash}
	return protocol.FileRequest{
		Username:  "alice",
		Name:      name,
		Size:      size,
		SliceSize: sliceSize,
		FileHash:  frame.HexHash(),
	}, hash
}

var origin = protocol.Client{Username: "alice", UserCtxHash: "ctx-1"}

func TestAdmitAndOutOfOrderUpload(t *testing.T) {
	c, d, root := newTestCoordinator(t, nil)

	req, hash := testRequest("two.bin", 7, 4)
	require.True(t, c.Admit(req, origin))
	assert.True(t, c.InFlight(req.FileHash))

	// Slice 1 before slice 0.
	c.Deliver(protocol.SliceFrame{FileHash: hash, Index: 1, Payload: []byte{'e', 'f', 'g'}})
	c.Deliver(protocol.SliceFrame{FileHash: hash, Index: 0, Payload: []byte{'a', 'b', 'c', 'd'}})

	responses := d.responses()
	require.Len(t, responses, 2)
	for _, resp := range responses {
		assert.Equal(t, protocol.SliceOk, resp.Status)
		assert.Equal(t, req.FileHash, resp.FileHash)
	}
	assert.Equal(t, protocol.SliceRange{1, 2}, responses[0].SliceIdx)
	assert.Equal(t, protocol.SliceRange{0, 1}, responses[1].SliceIdx)

	c.Complete(req.FileHash)
	assert.False(t, c.InFlight(req.FileHash))

	data, err := os.ReadFile(filepath.Join(root.Dir(), "alice", "two.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefg"), data)
}

func TestOkResponseBroadcastsSameUser(t *testing.T) {
	c, d, _ := newTestCoordinator(t, nil)

	req, hash := testRequest("b.bin", 4, 4)
	require.True(t, c.Admit(req, origin))

	c.Deliver(protocol.SliceFrame{FileHash: hash, Index: 0, Payload: []byte("data")})

	envs := d.snapshot()
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.BroadcastSameUser, envs[0].Policy.Kind)
	assert.Equal(t, protocol.SenderUser, envs[0].Sender.Kind)
	assert.Equal(t, origin, envs[0].Sender.Client)
}

func TestUnknownHashIsDropped(t *testing.T) {
	c, d, _ := newTestCoordinator(t, nil)

	hash := sha256.Sum256([]byte("never admitted"))
	c.Deliver(protocol.SliceFrame{FileHash: hash, Index: 0, Payload: []byte("data")})

	assert.Empty(t, d.snapshot())
}

// shortWriteFS truncates writes for one slice index by one byte.
type shortWriteFS struct {
	inner      FS
	sliceSize  uint64
	shortIndex uint32
}

type shortWriteFile struct {
	File
	offset int64
}

func (f shortWriteFile) WriteAt(p []byte, off int64) (int, error) {
	if off == f.offset && len(p) > 0 {
		return f.File.WriteAt(p[:len(p)-1], off)
	}
	return f.File.WriteAt(p, off)
}

func (s shortWriteFS) OpenUpload(username, filename string) (File, error) {
	f, err := s.inner.OpenUpload(username, filename)
	if err != nil {
		return nil, err
	}
	return shortWriteFile{File: f, offset: int64(s.shortIndex) * int64(s.sliceSize)}, nil
}

func TestResendOnPartialWrite(t *testing.T) {
	root, err := files.NewRoot(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)

	d := &captureDispatcher{}
	fs := shortWriteFS{inner: RootFS(root), sliceSize: 4, shortIndex: 3}
	c := NewCoordinator(Config{Workers: 2, NudgeInterval: time.Hour}, root, fs, d)

	req, hash := testRequest("c.bin", 20, 4)
	require.True(t, c.Admit(req, origin))

	c.Deliver(protocol.SliceFrame{FileHash: hash, Index: 3, Payload: []byte("dddd")})

	envs := d.snapshot()
	require.Len(t, envs, 1)
	require.Equal(t, protocol.KindFileResponse, envs[0].Msg.Kind)
	resp := envs[0].Msg.FileResponse
	assert.Equal(t, protocol.SliceResend, resp.Status)
	assert.Equal(t, protocol.SliceRange{3, 4}, resp.SliceIdx)

	// The retry demand goes to the origin session only.
	require.Equal(t, protocol.Targets, envs[0].Policy.Kind)
	require.Len(t, envs[0].Policy.Targets, 1)
	assert.Equal(t, origin, envs[0].Policy.Targets[0])
}

func TestAdmitFailureLeavesNoJob(t *testing.T) {
	root, err := files.NewRoot(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)

	d := &captureDispatcher{}
	c := NewCoordinator(Config{Workers: 2, NudgeInterval: time.Hour}, root, failFS{}, d)

	req, _ := testRequest("d.bin", 4, 4)
	assert.False(t, c.Admit(req, origin))
	assert.False(t, c.InFlight(req.FileHash))
}

type failFS struct{}

func (failFS) OpenUpload(username, filename string) (File, error) {
	return nil, os.ErrPermission
}

func TestWatchdogNudgesOriginUntilComplete(t *testing.T) {
	root, err := files.NewRoot(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)

	d := &captureDispatcher{}
	c := NewCoordinator(Config{Workers: 1, NudgeInterval: 30 * time.Millisecond}, root, nil, d)

	req, _ := testRequest("idle.bin", 4, 4)
	require.True(t, c.Admit(req, origin))

	assert.Eventually(t, func() bool {
		for _, env := range d.snapshot() {
			if env.Msg.Kind == protocol.KindPleaseSend &&
				env.Msg.PleaseSend.FileHash == req.FileHash {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	c.Complete(req.FileHash)
	time.Sleep(50 * time.Millisecond) // let an in-flight nudge land
	settled := len(d.snapshot())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, len(d.snapshot()), "nudges must stop after Finish")
}

func TestAbortSessionScrubsJobs(t *testing.T) {
	c, d, _ := newTestCoordinator(t, nil)

	reqA, _ := testRequest("a.bin", 4, 4)
	reqB, hashB := testRequest("b.bin", 4, 4)
	other := protocol.Client{Username: "bob", UserCtxHash: "ctx-2"}

	require.True(t, c.Admit(reqA, origin))
	require.True(t, c.Admit(reqB, other))

	c.AbortSession(origin.UserCtxHash)

	assert.False(t, c.InFlight(reqA.FileHash))
	assert.True(t, c.InFlight(reqB.FileHash), "other sessions' jobs survive")

	// The surviving job still accepts slices.
	c.Deliver(protocol.SliceFrame{FileHash: hashB, Index: 0, Payload: []byte("data")})
	assert.NotEmpty(t, d.responses())
}

func TestDownloadCodes(t *testing.T) {
	c, _, _ := newTestCoordinator(t, nil)

	req := DownloadRequest{Username: "alice", Filename: "a.bin"}
	code, err := c.GenDownloadCode(req)
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	got, ok := c.ResolveDownloadCode(code)
	require.True(t, ok)
	assert.Equal(t, req, got)

	_, ok = c.ResolveDownloadCode("missing")
	assert.False(t, ok)

	// Codes for the same file stay distinct.
	code2, err := c.GenDownloadCode(req)
	require.NoError(t, err)
	assert.NotEqual(t, code, code2)
}

func TestUserUsedStorage(t *testing.T) {
	c, _, root := newTestCoordinator(t, nil)

	used, err := c.UserUsedStorage("alice")
	require.NoError(t, err)
	assert.Zero(t, used)

	f, err := root.OpenUpload("alice", "x.bin")
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 64), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	used, err = c.UserUsedStorage("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(64), used)
}
