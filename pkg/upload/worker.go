package upload

import (
	"sync"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/metrics"
	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// Worker owns a shard of in-flight jobs keyed by hex file hash.
// Concurrent Write calls are allowed; each job's file is written at
// non-overlapping positional offsets.
type Worker struct {
	id         int
	dispatcher Dispatcher

	mu   sync.RWMutex
	jobs map[string]*Job
}

func newWorker(id int, dispatcher Dispatcher) *Worker {
	return &Worker{
		id:         id,
		dispatcher: dispatcher,
		jobs:       make(map[string]*Job),
	}
}

func (w *Worker) attach(fileHash string, job *Job) {
	w.mu.Lock()
	w.jobs[fileHash] = job
	w.mu.Unlock()
}

// detach removes and returns the job, or nil if unknown.
func (w *Worker) detach(fileHash string) *Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	job := w.jobs[fileHash]
	delete(w.jobs, fileHash)
	return job
}

func (w *Worker) job(fileHash string) *Job {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.jobs[fileHash]
}

// jobsOf returns the hashes of jobs originating from the given session.
func (w *Worker) jobsOf(userCtxHash string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var hashes []string
	for hash, job := range w.jobs {
		if job.Origin.UserCtxHash == userCtxHash {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// Write lands one slice. The slice status envelope is emitted strictly
// after the write returns: Ok fans out to all same-user sessions,
// Resend targets only the origin.
func (w *Worker) Write(fileHash string, index uint32, payload []byte) {
	job := w.job(fileHash)
	if job == nil {
		logger.Debug("slice for unknown job dropped", "file_hash", fileHash, "worker", w.id)
		return
	}

	job.watchdog.Reset()

	offset := int64(index) * int64(job.Req.SliceSize)
	n, err := job.file.WriteAt(payload, offset)

	resp := protocol.FileResponse{
		Name:     job.Req.Name,
		FileHash: fileHash,
		SliceIdx: protocol.RangeOf(uint64(index)),
	}

	if err != nil || n < len(payload) {
		logger.Warn("slice write failed",
			"file_hash", fileHash,
			"slice", index,
			"written", n,
			"expected", len(payload),
			"error", err)
		metrics.SliceWriteFailures.Inc()

		resp.Status = protocol.SliceResend
		w.dispatcher.Dispatch(protocol.Envelope{
			Sender: protocol.UserSender(job.Origin),
			Msg:    protocol.NewFileResponse(resp),
			Policy: protocol.TargetsPolicy(job.Origin),
		})
		return
	}

	metrics.SlicesWritten.Inc()
	metrics.UploadBytes.Add(float64(n))

	resp.Status = protocol.SliceOk
	w.dispatcher.Dispatch(protocol.Envelope{
		Sender: protocol.UserSender(job.Origin),
		Msg:    protocol.NewFileResponse(resp),
		Policy: protocol.PolicyOf(protocol.BroadcastSameUser),
	})
}
