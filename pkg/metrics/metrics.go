// Package metrics exposes the server's Prometheus collectors.
// Collectors register on the default registry at init; the HTTP
// surface serves them under /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OnlineUsers tracks distinct usernames with at least one live session.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowdrop_online_users",
		Help: "Number of distinct users with at least one live session",
	})

	// OnlineClients tracks live WebSocket sessions.
	OnlineClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowdrop_online_clients",
		Help: "Number of live WebSocket sessions",
	})

	// MessagesDelivered counts envelopes enqueued to session mailboxes.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_messages_delivered_total",
		Help: "Envelopes enqueued to session mailboxes",
	})

	// MessagesDropped counts envelopes dropped on full mailboxes.
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_messages_dropped_total",
		Help: "Envelopes dropped because a session mailbox was full",
	})

	// UploadsAdmitted counts accepted file requests.
	UploadsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_uploads_admitted_total",
		Help: "File requests admitted for upload",
	})

	// UploadsRejected counts refused file requests (quota or I/O).
	UploadsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_uploads_rejected_total",
		Help: "File requests refused at admission",
	})

	// UploadsCompleted counts uploads that reached their terminal Finish.
	UploadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_uploads_completed_total",
		Help: "Uploads that observed their terminal Finish",
	})

	// SlicesWritten counts fully landed slices.
	SlicesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_slices_written_total",
		Help: "Slices written in full",
	})

	// SliceWriteFailures counts partial or failed slice writes.
	SliceWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_slice_write_failures_total",
		Help: "Slice writes that failed or landed short",
	})

	// UploadBytes counts bytes landed in the storage root.
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_upload_bytes_total",
		Help: "Bytes written into the storage root by uploads",
	})

	// WatchdogNudges counts PleaseSend nudges to stalled clients.
	WatchdogNudges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdrop_watchdog_nudges_total",
		Help: "PleaseSend nudges emitted for idle uploads",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
