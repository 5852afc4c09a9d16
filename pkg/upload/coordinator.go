package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/files"
	"github.com/flowdrop/flowdrop/pkg/metrics"
	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// DefaultNudgeInterval is how long an upload may sit idle before the
// watchdog nudges the client with a PleaseSend.
const DefaultNudgeInterval = 10 * time.Second

// Config tunes the coordinator.
type Config struct {
	// Workers is the size of the fixed worker pool.
	Workers int

	// NudgeInterval overrides DefaultNudgeInterval; tests shorten it.
	NudgeInterval time.Duration
}

// DownloadRequest identifies a finished file a client wants a share
// code for.
type DownloadRequest struct {
	Username string `json:"username"`
	Filename string `json:"filename"`
}

// Coordinator admits uploads, routes slices to the owning worker, and
// mints download codes. One instance serves the whole process.
type Coordinator struct {
	cfg        Config
	root       *files.Root
	fs         FS
	dispatcher Dispatcher

	// nowMillis feeds worker selection; tests pin it.
	nowMillis func() int64

	mu       sync.RWMutex
	dispatch map[string]int             // hex file hash -> worker index
	codes    map[string]DownloadRequest // download code -> target file

	workers []*Worker
}

// NewCoordinator builds the worker pool. fs may be nil, in which case
// the storage root itself serves uploads.
func NewCoordinator(cfg Config, root *files.Root, fs FS, dispatcher Dispatcher) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.NudgeInterval <= 0 {
		cfg.NudgeInterval = DefaultNudgeInterval
	}
	if fs == nil {
		fs = RootFS(root)
	}

	c := &Coordinator{
		cfg:        cfg,
		root:       root,
		fs:         fs,
		dispatcher: dispatcher,
		nowMillis:  func() int64 { return time.Now().UnixMilli() },
		dispatch:   make(map[string]int),
		codes:      make(map[string]DownloadRequest),
		workers:    make([]*Worker, cfg.Workers),
	}
	for i := range c.workers {
		c.workers[i] = newWorker(i, dispatcher)
	}
	return c
}

// Admit opens the destination and hands a new job to a worker.
// Returns false when any I/O step fails; the dispatch map is untouched
// in that case. Admitting a file hash that is already in flight is a
// caller bug and panics.
func (c *Coordinator) Admit(req protocol.FileRequest, origin protocol.Client) bool {
	file, err := c.fs.OpenUpload(req.Username, req.Name)
	if err != nil {
		logger.Warn("upload admission failed",
			"username", req.Username,
			"name", req.Name,
			"error", err)
		metrics.UploadsRejected.Inc()
		return false
	}

	idx := int(c.nowMillis() % int64(len(c.workers)))
	if idx < 0 {
		idx += len(c.workers)
	}
	worker := c.workers[idx]

	job := &Job{Req: req, Origin: origin, file: file}
	job.watchdog = NewWatchdog(c.cfg.NudgeInterval, func() {
		metrics.WatchdogNudges.Inc()
		c.dispatcher.Dispatch(protocol.Envelope{
			Sender: protocol.ServerSender(),
			Msg:    protocol.NewPleaseSend(req.FileHash),
			Policy: protocol.TargetsPolicy(origin),
		})
	})

	c.mu.Lock()
	if _, exists := c.dispatch[req.FileHash]; exists {
		c.mu.Unlock()
		job.watchdog.Stop()
		_ = file.Close()
		panic(fmt.Sprintf("upload: file hash %s already in flight", req.FileHash))
	}
	c.dispatch[req.FileHash] = idx
	c.mu.Unlock()

	worker.attach(req.FileHash, job)

	metrics.UploadsAdmitted.Inc()
	logger.Info("upload admitted",
		"username", req.Username,
		"name", req.Name,
		"size", req.Size,
		"slices", req.SliceCount(),
		"worker", idx)
	return true
}

// Deliver routes a parsed binary frame to the worker owning its job.
// Frames for unknown hashes are dropped.
func (c *Coordinator) Deliver(frame protocol.SliceFrame) {
	hash := frame.HexHash()

	c.mu.RLock()
	idx, ok := c.dispatch[hash]
	c.mu.RUnlock()

	if !ok {
		logger.Debug("slice for unknown upload dropped", "file_hash", hash)
		return
	}

	c.workers[idx].Write(hash, frame.Index, frame.Payload)
}

// Complete runs the terminal Finish hook: stop the watchdog, close the
// file, forget the job. Unknown hashes are ignored.
func (c *Coordinator) Complete(fileHash string) {
	c.mu.Lock()
	idx, ok := c.dispatch[fileHash]
	if ok {
		delete(c.dispatch, fileHash)
	}
	c.mu.Unlock()

	if !ok {
		logger.Debug("finish for unknown upload ignored", "file_hash", fileHash)
		return
	}

	job := c.workers[idx].detach(fileHash)
	if job == nil {
		return
	}
	job.finished.Store(true)
	if err := job.close(); err != nil {
		logger.Warn("failed to close finished upload", "file_hash", fileHash, "error", err)
	}

	metrics.UploadsCompleted.Inc()
	logger.Info("upload finished",
		"username", job.Req.Username,
		"name", job.Req.Name,
		"file_hash", fileHash)
}

// AbortSession scrubs every job originating from the given session.
// Called when a session closes so no watchdog keeps firing at a dead
// sink.
func (c *Coordinator) AbortSession(userCtxHash string) {
	for _, worker := range c.workers {
		for _, hash := range worker.jobsOf(userCtxHash) {
			c.mu.Lock()
			delete(c.dispatch, hash)
			c.mu.Unlock()

			job := worker.detach(hash)
			if job == nil {
				continue
			}
			if err := job.close(); err != nil {
				logger.Warn("failed to close aborted upload", "file_hash", hash, "error", err)
			}
			logger.Info("upload aborted with session",
				"username", job.Req.Username,
				"name", job.Req.Name,
				"file_hash", hash)
		}
	}
}

// InFlight reports whether the file hash has an active job.
func (c *Coordinator) InFlight(fileHash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dispatch[fileHash]
	return ok
}

// GenDownloadCode mints an opaque code for the requested file. Codes
// never expire; the map only grows for the process lifetime.
func (c *Coordinator) GenDownloadCode(req DownloadRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to serialize download request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		sum := sha256.Sum256(append(payload, []byte(fmt.Sprintf("%d", time.Now().UnixNano()))...))
		code := hex.EncodeToString(sum[:8])
		if _, taken := c.codes[code]; taken {
			continue
		}
		c.codes[code] = req
		return code, nil
	}
}

// ResolveDownloadCode looks up the file behind a code.
func (c *Coordinator) ResolveDownloadCode(code string) (DownloadRequest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	req, ok := c.codes[code]
	return req, ok
}

// UserUsedStorage sums the user's on-disk bytes.
func (c *Coordinator) UserUsedStorage(username string) (uint64, error) {
	return c.root.UsedStorage(username)
}
