package playback

import (
	"context"
	"time"

	"github.com/dlnabridge/dlnabridge/core/catalog"
	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
)

const (
	// Range starts below this are treated as normal header probing, not seeks.
	rangeSeekMinBytes = 1 << 20

	// Upstream resume positions shorter than this are ignored.
	resumeMinTicks = 2 * 60 * model.TicksPerSecond

	// Assumed stream bitrate used to estimate total byte size when the
	// renderer seeks by byte range: 8 Mbps.
	assumedBitrate = 8_000_000
)

// CalculateSeekTicks estimates a playback position from a byte-range start,
// assuming a constant bitrate stream.
func CalculateSeekTicks(rangeStart, runTimeTicks int64) int64 {
	if rangeStart <= 0 || runTimeTicks <= 0 {
		return 0
	}
	durationSeconds := float64(runTimeTicks) / float64(model.TicksPerSecond)
	estimatedTotalBytes := durationSeconds * assumedBitrate / 8
	if estimatedTotalBytes <= 0 {
		return 0
	}
	ratio := float64(rangeStart) / estimatedTotalBytes
	if ratio > 1 {
		ratio = 1
	}
	return int64(ratio * float64(runTimeTicks))
}

// ResolveStartTicks decides where playback starts: a byte-range seek beyond
// 1MiB converts to an estimated position; a stored upstream resume position
// (over two minutes, item unplayed) is preferred unless the range-derived seek
// diverges from it by more than the configured threshold.
func ResolveStartTicks(ctx context.Context, client catalog.Client, item *model.CatalogItem,
	rangeStart int64, seekResumeThreshold time.Duration) int64 {
	var seekTicks int64
	if rangeStart > rangeSeekMinBytes {
		seekTicks = CalculateSeekTicks(rangeStart, item.RunTime())
	}

	data, err := client.GetUserData(ctx, item.ID)
	if err != nil {
		log.Debug(ctx, "No upstream user data for item", "item", item.ID, err)
		return seekTicks
	}
	resume := data.PlaybackPositionTicks
	if resume < resumeMinTicks || data.Played {
		return seekTicks
	}

	if seekTicks == 0 {
		return resume
	}
	thresholdTicks := int64(seekResumeThreshold / 100) // ns → ticks
	diff := seekTicks - resume
	if diff < 0 {
		diff = -diff
	}
	if diff > thresholdTicks {
		return seekTicks
	}
	return resume
}
