package model

import (
	"strings"
	"time"
)

// DeviceProfile shapes streaming behavior for a family of renderers,
// matched by user-agent substring (or "*" for the default profile).
type DeviceProfile struct {
	ID                  string    `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	UserAgentMatch      string    `db:"user_agent_match" json:"userAgentMatch"`
	Manufacturer        string    `db:"manufacturer" json:"manufacturer"`
	ModelName           string    `db:"model_name" json:"modelName"`
	MaxStreamingBitrate int       `db:"max_streaming_bitrate" json:"maxStreamingBitrate"`
	Enabled             bool      `db:"enabled" json:"enabled"`
	SortOrder           int       `db:"sort_order" json:"sortOrder"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`

	DirectPlay  []DirectPlayProfile  `db:"-" json:"directPlay"`
	Transcoding []TranscodingProfile `db:"-" json:"transcoding"`
}

// DirectPlayProfile whitelists a (media type, container, codecs) combination
// the device plays without transcoding. Empty string means "any".
type DirectPlayProfile struct {
	ID         string `db:"id" json:"id"`
	ProfileID  string `db:"profile_id" json:"-"`
	MediaType  string `db:"media_type" json:"mediaType"`
	Container  string `db:"container" json:"container"`
	VideoCodec string `db:"video_codec" json:"videoCodec"`
	AudioCodec string `db:"audio_codec" json:"audioCodec"`
}

// TranscodingProfile is the target format used when direct play is not possible.
type TranscodingProfile struct {
	ID         string `db:"id" json:"id"`
	ProfileID  string `db:"profile_id" json:"-"`
	MediaType  string `db:"media_type" json:"mediaType"`
	Container  string `db:"container" json:"container"`
	VideoCodec string `db:"video_codec" json:"videoCodec"`
	AudioCodec string `db:"audio_codec" json:"audioCodec"`
	Protocol   string `db:"protocol" json:"protocol"`
}

// Matches reports whether the entry covers the given stream parameters.
// Matching is case-insensitive; containers may be a comma-separated list.
func (d *DirectPlayProfile) Matches(mediaType, container, videoCodec, audioCodec string) bool {
	if d.MediaType != "" && !strings.EqualFold(d.MediaType, mediaType) {
		return false
	}
	if !fieldMatches(d.Container, container) {
		return false
	}
	if !fieldMatches(d.VideoCodec, videoCodec) {
		return false
	}
	return fieldMatches(d.AudioCodec, audioCodec)
}

func fieldMatches(allowed, actual string) bool {
	if allowed == "" {
		return true
	}
	for _, v := range strings.Split(allowed, ",") {
		if strings.EqualFold(strings.TrimSpace(v), actual) {
			return true
		}
	}
	return false
}

type DeviceProfiles []DeviceProfile

// DeviceProfileRepository persists device profiles and their sub-profiles.
type DeviceProfileRepository interface {
	Get(id string) (*DeviceProfile, error)
	// GetAll returns enabled profiles in admin-defined order.
	GetAll() (DeviceProfiles, error)
	Put(profile *DeviceProfile) error
	Delete(id string) error
	CountAll() (int64, error)
}
