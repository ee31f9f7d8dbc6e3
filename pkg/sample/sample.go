// Package sample streams channel readings to consumers.
package sample

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/goanalogin/pkg/analogin"
)

// DefaultBufferSize is the default size for the output channel buffer.
const DefaultBufferSize = 100

// Sample is one reading of one channel.
type Sample struct {
	Timestamp time.Time
	ID        int    // Channel identifier
	Raw       uint16 // Last delivered conversion
}

// Poller starts polling and returns the stream of samples. The stream is
// closed when ctx is done.
type Poller func(ctx context.Context) <-chan Sample

// NewPoller creates a poller that reads every source once per interval.
// Readings are not filtered; callers own any averaging or conversion.
func NewPoller(sources []analogin.Source, interval time.Duration, bufSize int, logger *zap.Logger) Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					for _, s := range Snapshot(sources, now) {
						select {
						case out <- s:
						case <-ctx.Done():
							return
						default:
							logger.Warn("poller output channel full, dropping sample", zap.Int("channel", s.ID))
						}
					}
				}
			}
		}()

		return out
	}
}

// Snapshot reads every source once.
func Snapshot(sources []analogin.Source, now time.Time) []Sample {
	samples := make([]Sample, 0, len(sources))
	for _, src := range sources {
		samples = append(samples, Sample{
			Timestamp: now,
			ID:        src.ID(),
			Raw:       src.Raw(),
		})
	}
	return samples
}
