// Package iqsource provides complex baseband sample streams for the
// synchronizer: raw I/Q files, a stereo sound card and a burst simulator.
package iqsource

import (
	"context"
)

// Source delivers complex baseband samples in chunks.
//
// Read fills buf with up to len(buf) samples and returns how many were
// written. It returns io.EOF once the stream is exhausted and ctx.Err() when
// the context is cancelled.
type Source interface {
	Read(ctx context.Context, buf []complex64) (int, error)
	Close() error
}
