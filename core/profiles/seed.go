package profiles

import (
	"context"

	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
	"github.com/dlnabridge/dlnabridge/model/id"
)

// Seed ensures the store carries a usable profile set: a wildcard default
// plus the renderer families that need special handling. Runs only on an
// empty store so admin edits are never clobbered.
func Seed(ctx context.Context, repo model.DeviceProfileRepository) error {
	count, err := repo.CountAll()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	log.Info(ctx, "Seeding default device profiles")
	for i, p := range defaultProfiles() {
		p.SortOrder = i
		p.Enabled = true
		if err := repo.Put(&p); err != nil {
			return err
		}
	}
	return nil
}

func defaultProfiles() []model.DeviceProfile {
	return []model.DeviceProfile{
		{
			ID:                  id.NewHash("profile", "samsung-tv"),
			Name:                "Samsung TV",
			UserAgentMatch:      "samsung",
			Manufacturer:        "Samsung Electronics",
			MaxStreamingBitrate: 40_000_000,
			DirectPlay: []model.DirectPlayProfile{
				{MediaType: "Video", Container: "mp4,mkv", VideoCodec: "h264,hevc", AudioCodec: "aac,ac3,eac3,mp3"},
				{MediaType: "Audio", Container: "mp3,flac"},
			},
			Transcoding: []model.TranscodingProfile{
				{MediaType: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac", Protocol: "http"},
			},
		},
		{
			ID:                  id.NewHash("profile", "lg-tv"),
			Name:                "LG webOS TV",
			UserAgentMatch:      "webos",
			Manufacturer:        "LG Electronics",
			MaxStreamingBitrate: 30_000_000,
			DirectPlay: []model.DirectPlayProfile{
				{MediaType: "Video", Container: "mp4,mkv", VideoCodec: "h264,hevc", AudioCodec: "aac,ac3,mp3"},
			},
			Transcoding: []model.TranscodingProfile{
				{MediaType: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac", Protocol: "http"},
			},
		},
		{
			ID:                  id.NewHash("profile", "xbox"),
			Name:                "Xbox",
			UserAgentMatch:      "xbox",
			MaxStreamingBitrate: 25_000_000,
			DirectPlay: []model.DirectPlayProfile{
				{MediaType: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac"},
			},
			Transcoding: []model.TranscodingProfile{
				{MediaType: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac", Protocol: "http"},
			},
		},
		{
			ID:                  id.NewHash("profile", "vlc"),
			Name:                "VLC",
			UserAgentMatch:      "vlc",
			MaxStreamingBitrate: 100_000_000,
			DirectPlay: []model.DirectPlayProfile{
				{MediaType: "Video", Container: "mp4,mkv,avi,mov"},
				{MediaType: "Audio"},
			},
		},
		{
			ID:                  id.NewHash("profile", "default"),
			Name:                "Generic DLNA Device",
			UserAgentMatch:      WildcardMatch,
			MaxStreamingBitrate: 20_000_000,
			DirectPlay: []model.DirectPlayProfile{
				{MediaType: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac"},
				{MediaType: "Audio", Container: "mp3"},
			},
			Transcoding: []model.TranscodingProfile{
				{MediaType: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac", Protocol: "http"},
				{MediaType: "Audio", Container: "mp3", AudioCodec: "mp3", Protocol: "http"},
			},
		},
	}
}
