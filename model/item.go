package model

import "strings"

// ItemType is the catalog item kind, as reported by the upstream catalog.
type ItemType string

const (
	ItemTypeMovie            ItemType = "Movie"
	ItemTypeEpisode          ItemType = "Episode"
	ItemTypeSeason           ItemType = "Season"
	ItemTypeSeries           ItemType = "Series"
	ItemTypeAudio            ItemType = "Audio"
	ItemTypeMusicAlbum       ItemType = "MusicAlbum"
	ItemTypeMusicArtist      ItemType = "MusicArtist"
	ItemTypeMusicVideo       ItemType = "MusicVideo"
	ItemTypePhoto            ItemType = "Photo"
	ItemTypeVideo            ItemType = "Video"
	ItemTypeAudioBook        ItemType = "AudioBook"
	ItemTypeFolder           ItemType = "Folder"
	ItemTypeCollectionFolder ItemType = "CollectionFolder"
	ItemTypeBoxSet           ItemType = "BoxSet"
	ItemTypePlaylist         ItemType = "Playlist"
	ItemTypeUserView         ItemType = "UserView"
	ItemTypeAggregateFolder  ItemType = "AggregateFolder"
)

// TicksPerSecond is the upstream position unit: 1 tick = 100ns.
const TicksPerSecond int64 = 10_000_000

// MediaStream describes one elementary stream of a media source.
type MediaStream struct {
	Type       string `json:"Type"`
	Codec      string `json:"Codec,omitempty"`
	Width      int    `json:"Width,omitempty"`
	Height     int    `json:"Height,omitempty"`
	Language   string `json:"Language,omitempty"`
	Channels   int    `json:"Channels,omitempty"`
	SampleRate int    `json:"SampleRate,omitempty"`
	Index      int    `json:"Index"`
	IsExternal bool   `json:"IsExternal,omitempty"`
}

// MediaSource describes a playable rendition of a catalog item.
type MediaSource struct {
	Container    string        `json:"Container,omitempty"`
	Size         int64         `json:"Size,omitempty"`
	Bitrate      int           `json:"Bitrate,omitempty"`
	RunTimeTicks int64         `json:"RunTimeTicks,omitempty"`
	MediaStreams []MediaStream `json:"MediaStreams,omitempty"`
}

// VideoStream returns the first video stream, if any.
func (m *MediaSource) VideoStream() *MediaStream {
	for i := range m.MediaStreams {
		if m.MediaStreams[i].Type == "Video" {
			return &m.MediaStreams[i]
		}
	}
	return nil
}

// AudioStream returns the first audio stream, if any.
func (m *MediaSource) AudioStream() *MediaStream {
	for i := range m.MediaStreams {
		if m.MediaStreams[i].Type == "Audio" {
			return &m.MediaStreams[i]
		}
	}
	return nil
}

// CatalogItem is a single item (container or media) from the upstream catalog.
type CatalogItem struct {
	ID                string        `json:"Id"`
	Name              string        `json:"Name"`
	Type              ItemType      `json:"Type"`
	CollectionType    string        `json:"CollectionType,omitempty"`
	ParentID          string        `json:"ParentId,omitempty"`
	ChildCount        int           `json:"ChildCount,omitempty"`
	RunTimeTicks      int64         `json:"RunTimeTicks,omitempty"`
	IndexNumber       *int          `json:"IndexNumber,omitempty"`
	ParentIndexNumber *int          `json:"ParentIndexNumber,omitempty"`
	ProductionYear    int           `json:"ProductionYear,omitempty"`
	Overview          string        `json:"Overview,omitempty"`
	Genres            []string      `json:"Genres,omitempty"`
	SeriesName        string        `json:"SeriesName,omitempty"`
	Album             string        `json:"Album,omitempty"`
	Artists           []string      `json:"Artists,omitempty"`
	MediaSources      []MediaSource `json:"MediaSources,omitempty"`
}

// UserItemData is the per-user playback state for an item.
type UserItemData struct {
	PlaybackPositionTicks int64 `json:"PlaybackPositionTicks"`
	Played                bool  `json:"Played"`
}

var containerTypes = map[ItemType]bool{
	ItemTypeAggregateFolder:  true,
	ItemTypeCollectionFolder: true,
	ItemTypeBoxSet:           true,
	ItemTypeFolder:           true,
	ItemTypeUserView:         true,
	ItemTypeSeries:           true,
	ItemTypeSeason:           true,
	ItemTypeMusicAlbum:       true,
	ItemTypeMusicArtist:      true,
	ItemTypePlaylist:         true,
}

var mediaTypes = map[ItemType]bool{
	ItemTypeMovie:      true,
	ItemTypeEpisode:    true,
	ItemTypeAudio:      true,
	ItemTypePhoto:      true,
	ItemTypeVideo:      true,
	ItemTypeMusicVideo: true,
	ItemTypeAudioBook:  true,
}

// Extras folders the catalog exposes but renderers should never see.
var excludedFolderNames = map[string]bool{
	"behind the scenes": true,
	"deleted scenes":    true,
	"interviews":        true,
	"scenes":            true,
	"samples":           true,
	"shorts":            true,
	"featurettes":       true,
	"extras":            true,
	"trailers":          true,
	"theme videos":      true,
	"theme songs":       true,
	"specials":          true,
}

// IsContainer reports whether the item type browses as a DIDL container.
func (i *CatalogItem) IsContainer() bool {
	return containerTypes[i.Type]
}

// IsMedia reports whether the item type renders as a DIDL item.
func (i *CatalogItem) IsMedia() bool {
	return mediaTypes[i.Type]
}

// Browsable reports whether the item should be included in Browse results.
func (i *CatalogItem) Browsable() bool {
	if i.ID == "" {
		return false
	}
	if excludedFolderNames[strings.ToLower(i.Name)] {
		return false
	}
	return i.IsContainer() || i.IsMedia()
}

// FirstMediaSource returns the primary media source, or nil.
func (i *CatalogItem) FirstMediaSource() *MediaSource {
	if len(i.MediaSources) == 0 {
		return nil
	}
	return &i.MediaSources[0]
}

// RunTime returns the effective run time in ticks, preferring the item value
// and falling back to the first media source.
func (i *CatalogItem) RunTime() int64 {
	if i.RunTimeTicks > 0 {
		return i.RunTimeTicks
	}
	if ms := i.FirstMediaSource(); ms != nil {
		return ms.RunTimeTicks
	}
	return 0
}
