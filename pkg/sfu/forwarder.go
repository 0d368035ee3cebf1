package sfu

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/truegather/backend/internal/logging"
	"github.com/truegather/backend/internal/metrics"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Forwarder copies RTP packets from one publisher's remote track onto a
// local track attached to every subscriber peer connection for that feed.
// It performs no decoding, re-encoding, or buffering beyond a single packet.
type Forwarder struct {
	remoteTrack *webrtc.TrackRemote
	localTrack  *webrtc.TrackLocalStaticRTP
	running     atomic.Bool
	kind        string
}

// NewForwarder builds a Forwarder for one publisher track. Call Start to
// begin copying.
func NewForwarder(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) *Forwarder {
	return &Forwarder{remoteTrack: remote, localTrack: local, kind: remote.Kind().String()}
}

// Start spawns the copy goroutine exactly once; subsequent calls are no-ops.
func (f *Forwarder) Start(ctx context.Context) {
	if !f.running.CompareAndSwap(false, true) {
		return
	}
	go f.run(ctx)
}

// Stop marks the forwarder as no longer running. The copy goroutine observes
// this on its next read-or-write failure and exits; Stop does not block
// waiting for it.
func (f *Forwarder) Stop() {
	f.running.Store(false)
}

// IsRunning reports whether the copy goroutine is active.
func (f *Forwarder) IsRunning() bool {
	return f.running.Load()
}

func (f *Forwarder) run(ctx context.Context) {
	buf := make([]byte, 1500)
	for f.running.Load() {
		select {
		case <-ctx.Done():
			f.running.Store(false)
			return
		default:
		}

		n, _, err := f.remoteTrack.Read(buf)
		if err != nil {
			if err != io.EOF {
				metrics.ForwarderErrorsTotal.WithLabelValues(f.kind, "read").Inc()
				logging.Warn(ctx, "forwarder read failed, stopping", zap.Error(err))
			}
			f.running.Store(false)
			return
		}

		if _, err := f.localTrack.Write(buf[:n]); err != nil {
			metrics.ForwarderErrorsTotal.WithLabelValues(f.kind, "write").Inc()
			logging.Debug(ctx, "forwarder write failed, continuing", zap.Error(err))
			continue
		}
		metrics.ForwarderPacketsTotal.WithLabelValues(f.kind).Inc()
	}
}
