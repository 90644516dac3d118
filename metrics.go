package main

import (
	"context"
	"log"
	"time"

	"github.com/dustin/go-humanize"
)

// RunMetrics logs server stats every interval until ctx is canceled, the
// DCP analogue of the teacher's RunMetrics(ctx, room, interval) in
// metrics.go.
func RunMetrics(ctx context.Context, s *Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastFrames uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames := s.FramesProcessed()
			rate := float64(frames-lastFrames) / interval.Seconds()
			lastFrames = frames

			log.Printf("[metrics] users=%s groups=%s frames=%s (%.1f/s) started=%s",
				humanize.Comma(int64(s.UserCount())),
				humanize.Comma(int64(s.GroupCount())),
				humanize.Comma(int64(frames)),
				rate,
				humanize.Time(s.startedAt))
		}
	}
}
