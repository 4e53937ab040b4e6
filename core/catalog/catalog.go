// Package catalog talks to the upstream Emby/Jellyfin-compatible media
// catalog: item listing, stream/image URL construction, and playback
// telemetry reporting.
package catalog

import (
	"context"
	"net/url"

	"github.com/dlnabridge/dlnabridge/model"
)

// Client is the upstream catalog contract used by the DLNA server.
type Client interface {
	// GetLibraries lists the user's top-level libraries.
	GetLibraries(ctx context.Context) ([]model.CatalogItem, error)
	// GetChildren lists the direct (non-recursive) children of an item.
	GetChildren(ctx context.Context, parentID string) ([]model.CatalogItem, error)
	GetItem(ctx context.Context, id string) (*model.CatalogItem, error)
	GetUserData(ctx context.Context, itemID string) (*model.UserItemData, error)

	// StreamURL builds the upstream media URL. When transcode is true the
	// stream.mp4 endpoint is used, otherwise the static stream endpoint.
	StreamURL(itemID string, transcode bool, params url.Values) string
	ImageURL(itemID string) string
	// SubtitleURLs returns candidate upstream URLs for an embedded subtitle
	// stream, in priority order.
	SubtitleURLs(itemID string, index int) []string

	ReportPlaybackStart(ctx context.Context, info PlaybackInfo) error
	ReportPlaybackProgress(ctx context.Context, info PlaybackInfo) error
	ReportPlaybackStopped(ctx context.Context, info PlaybackInfo) error
	MarkPlayed(ctx context.Context, itemID string) error
}

// PlaybackInfo carries one telemetry report for a playback session.
type PlaybackInfo struct {
	ItemID         string
	SessionID      string
	PositionTicks  int64
	StartTimeTicks int64
	IsPaused       bool
	PlayMethod     string
	EventName      string
}
