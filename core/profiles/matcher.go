// Package profiles selects a DeviceProfile for a renderer based on its
// user-agent, manufacturer, or model name.
package profiles

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
	"github.com/dlnabridge/dlnabridge/model/id"
)

const (
	// WildcardMatch marks the default profile.
	WildcardMatch = "*"

	profileCacheTTL = 5 * time.Minute
)

// Matcher resolves renderer requests to device profiles.
type Matcher struct {
	repo  model.DeviceProfileRepository
	cache *ttlcache.Cache[string, model.DeviceProfiles]
}

func NewMatcher(repo model.DeviceProfileRepository) *Matcher {
	cache := ttlcache.New[string, model.DeviceProfiles](
		ttlcache.WithTTL[string, model.DeviceProfiles](profileCacheTTL),
	)
	go cache.Start()
	return &Matcher{repo: repo, cache: cache}
}

// Match returns the first profile that covers the request, per admin order:
// wildcard profiles match everything, otherwise a case-insensitive user-agent
// substring, manufacturer, or model-name comparison. When nothing matches,
// the wildcard profile is returned, and failing that a constructed fallback.
func (m *Matcher) Match(ctx context.Context, userAgent, manufacturer, modelName string) *model.DeviceProfile {
	all := m.profiles(ctx)

	uaLower := strings.ToLower(userAgent)
	for i := range all {
		p := &all[i]
		if p.UserAgentMatch == WildcardMatch {
			continue
		}
		if p.UserAgentMatch != "" && strings.Contains(uaLower, strings.ToLower(p.UserAgentMatch)) {
			return p
		}
		if manufacturer != "" && strings.EqualFold(p.Manufacturer, manufacturer) {
			return p
		}
		if modelName != "" && strings.EqualFold(p.ModelName, modelName) {
			return p
		}
	}
	for i := range all {
		if all[i].UserAgentMatch == WildcardMatch {
			return &all[i]
		}
	}
	log.Warn(ctx, "No default device profile found, using built-in fallback", "userAgent", userAgent)
	return FallbackProfile()
}

func (m *Matcher) profiles(ctx context.Context) model.DeviceProfiles {
	if item := m.cache.Get("all"); item != nil {
		return item.Value()
	}
	all, err := m.repo.GetAll()
	if err != nil {
		log.Error(ctx, "Failed to load device profiles", err)
		return model.DeviceProfiles{*FallbackProfile()}
	}
	m.cache.Set("all", all, ttlcache.DefaultTTL)
	return all
}

// Invalidate drops the cached profile list, e.g. after an admin change.
func (m *Matcher) Invalidate() {
	m.cache.Delete("all")
}

// FallbackProfile is used when the store has no usable profile at all.
func FallbackProfile() *model.DeviceProfile {
	return &model.DeviceProfile{
		ID:                  id.NewHash("profile", "fallback"),
		Name:                "Generic DLNA Device",
		UserAgentMatch:      WildcardMatch,
		MaxStreamingBitrate: 20_000_000,
		Enabled:             true,
		DirectPlay: []model.DirectPlayProfile{
			{MediaType: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac"},
			{MediaType: "Audio", Container: "mp3"},
		},
		Transcoding: []model.TranscodingProfile{
			{MediaType: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac", Protocol: "http"},
			{MediaType: "Audio", Container: "mp3", AudioCodec: "mp3", Protocol: "http"},
		},
	}
}
