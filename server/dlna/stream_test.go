package dlna

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/model"
)

func mediaItem(container, videoCodec, audioCodec string) *model.CatalogItem {
	ms := model.MediaSource{Container: container}
	if videoCodec != "" {
		ms.MediaStreams = append(ms.MediaStreams, model.MediaStream{Type: "Video", Codec: videoCodec})
	}
	if audioCodec != "" {
		ms.MediaStreams = append(ms.MediaStreams, model.MediaStream{Type: "Audio", Codec: audioCodec})
	}
	return &model.CatalogItem{
		ID:           movieID,
		Name:         "Big Movie",
		Type:         model.ItemTypeMovie,
		MediaSources: []model.MediaSource{ms},
	}
}

var _ = Describe("Stream", func() {
	Describe("parseRangeStart", func() {
		DescribeTable("extracts the first byte offset",
			func(header string, expected int64) {
				Expect(parseRangeStart(header)).To(Equal(expected))
			},
			Entry("empty", "", int64(0)),
			Entry("open ended", "bytes=1048576-", int64(1048576)),
			Entry("bounded", "bytes=500-999", int64(500)),
			Entry("from zero", "bytes=0-", int64(0)),
			Entry("wrong unit", "items=5-", int64(0)),
			Entry("missing dash", "bytes=500", int64(0)),
			Entry("negative", "bytes=-500", int64(0)),
			Entry("garbage", "bytes=abc-", int64(0)),
		)
	})

	Describe("responseCoversEnd", func() {
		upstream := func(status int, contentRange string) *http.Response {
			resp := &http.Response{StatusCode: status, Header: http.Header{}}
			if contentRange != "" {
				resp.Header.Set("Content-Range", contentRange)
			}
			return resp
		}

		DescribeTable("detects whether the body runs to the end of the file",
			func(status int, contentRange string, expected bool) {
				Expect(responseCoversEnd(upstream(status, contentRange))).To(Equal(expected))
			},
			Entry("full response", http.StatusOK, "", true),
			Entry("tail range", http.StatusPartialContent, "bytes 4000-4999/5000", true),
			Entry("head range", http.StatusPartialContent, "bytes 0-999/5000", false),
			Entry("unknown total", http.StatusPartialContent, "bytes 0-4999/*", false),
			Entry("missing header", http.StatusPartialContent, "", false),
			Entry("garbage", http.StatusPartialContent, "bananas", false),
		)
	})

	Describe("directPlayDecision", func() {
		profile := &model.DeviceProfile{
			DirectPlay: []model.DirectPlayProfile{
				{MediaType: "Video", Container: "mp4,mkv", VideoCodec: "h264,hevc", AudioCodec: "aac,ac3"},
				{MediaType: "Audio", Container: "mp3,flac"},
			},
		}

		It("transcodes when no profile matched", func() {
			client := &clientContext{Vendor: profiles.VendorGeneric}
			Expect(directPlayDecision(mediaItem("mp4", "h264", "aac"), client)).To(BeFalse())
		})

		It("transcodes when the container is unknown", func() {
			client := &clientContext{Vendor: profiles.VendorGeneric, Profile: profile}
			Expect(directPlayDecision(mediaItem("", "h264", "aac"), client)).To(BeFalse())
		})

		It("direct-plays a container and codec pair the profile allows", func() {
			client := &clientContext{Vendor: profiles.VendorGeneric, Profile: profile}
			Expect(directPlayDecision(mediaItem("mkv", "hevc", "ac3"), client)).To(BeTrue())
		})

		It("transcodes a codec outside the profile", func() {
			client := &clientContext{Vendor: profiles.VendorGeneric, Profile: profile}
			Expect(directPlayDecision(mediaItem("mkv", "vp9", "aac"), client)).To(BeFalse())
		})

		It("direct-plays audio by container alone", func() {
			client := &clientContext{Vendor: profiles.VendorGeneric, Profile: profile}
			item := mediaItem("flac", "", "flac")
			item.Type = model.ItemTypeAudio
			Expect(directPlayDecision(item, client)).To(BeTrue())
		})

		Context("VLC", func() {
			client := &clientContext{Vendor: profiles.VendorVLC, Profile: &model.DeviceProfile{}}

			It("direct-plays anything on the known-good list", func() {
				Expect(directPlayDecision(mediaItem("mkv", "av1", "dts"), client)).To(BeTrue())
			})

			It("treats a missing codec as playable", func() {
				Expect(directPlayDecision(mediaItem("mov", "", ""), client)).To(BeTrue())
			})

			It("still transcodes unlisted containers", func() {
				Expect(directPlayDecision(mediaItem("wmv", "h264", "aac"), client)).To(BeFalse())
			})
		})
	})

	Describe("upstreamParams", func() {
		It("requests a static stream for direct play", func() {
			client := &clientContext{Vendor: profiles.VendorGeneric, Profile: &model.DeviceProfile{MaxStreamingBitrate: 20_000_000}}
			params := upstreamParams(client, true, 0)
			Expect(params.Get("Static")).To(Equal("true"))
			Expect(params.Get("MaxStreamingBitrate")).To(Equal("20000000"))
			Expect(params.Get("Container")).To(BeEmpty())
		})

		It("adds Samsung stream-copy hints", func() {
			client := &clientContext{Vendor: profiles.VendorSamsung}
			params := upstreamParams(client, true, 0)
			Expect(params.Get("EnableAutoStreamCopy")).To(Equal("true"))
			Expect(params.Get("AllowVideoStreamCopy")).To(Equal("true"))
			Expect(params.Get("AllowAudioStreamCopy")).To(Equal("true"))
		})

		It("pins Xbox to h264/aac without stream copy", func() {
			client := &clientContext{Vendor: profiles.VendorXbox}
			params := upstreamParams(client, true, 0)
			Expect(params.Get("VideoCodec")).To(Equal("h264"))
			Expect(params.Get("AudioCodec")).To(Equal("aac"))
			Expect(params.Get("EnableAutoStreamCopy")).To(Equal("false"))
		})

		It("builds the transcode query with the bitrate cap", func() {
			client := &clientContext{Vendor: profiles.VendorGeneric, Profile: &model.DeviceProfile{MaxStreamingBitrate: 8_000_000}}
			params := upstreamParams(client, false, 0)
			Expect(params.Get("Container")).To(Equal("mp4"))
			Expect(params.Get("VideoCodec")).To(Equal("h264"))
			Expect(params.Get("AudioCodec")).To(Equal("aac"))
			Expect(params.Get("TranscodingMaxAudioChannels")).To(Equal("2"))
			Expect(params.Get("AudioBitRate")).To(Equal("128000"))
			Expect(params.Get("VideoBitRate")).To(Equal("8000000"))
			Expect(params.Get("StartTimeTicks")).To(BeEmpty())
		})

		It("carries the resume position only when transcoding from an offset", func() {
			client := &clientContext{Vendor: profiles.VendorGeneric}
			params := upstreamParams(client, false, 6_000_000_000)
			Expect(params.Get("StartTimeTicks")).To(Equal("6000000000"))
		})
	})
})
