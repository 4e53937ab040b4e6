package dlna

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dlnabridge/dlnabridge/conf"
	"github.com/dlnabridge/dlnabridge/core/playback"
	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
)

const streamCopyBufferSize = 64 << 10

// Containers and codecs VLC is known to handle regardless of what the
// wildcard profile says.
var (
	vlcContainers  = map[string]bool{"mp4": true, "mkv": true, "avi": true, "mov": true}
	vlcVideoCodecs = map[string]bool{"h264": true, "hevc": true, "mpeg4": true, "vp9": true, "av1": true}
	vlcAudioCodecs = map[string]bool{"aac": true, "mp3": true, "ac3": true, "eac3": true, "dts": true}
)

// Upstream response headers forwarded to the renderer as-is.
var forwardedStreamHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Cache-Control",
	"Last-Modified",
	"ETag",
}

// handleStream proxies one media stream from the upstream catalog to the
// renderer, driving the playback tracker along the way.
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	itemID := chi.URLParam(req, "id")
	if !isUUID(itemID) {
		http.NotFound(w, req)
		return
	}

	item, err := r.catalog.GetItem(ctx, itemID)
	if err != nil {
		log.Error(ctx, "Failed to fetch item for streaming", err, "item", itemID)
		http.Error(w, "upstream catalog unavailable", http.StatusBadGateway)
		return
	}

	client := r.clientFor(req)
	rangeStart := parseRangeStart(req.Header.Get("Range"))
	direct := directPlayDecision(item, client)
	playMethod := playback.PlayMethodTranscode
	if direct {
		playMethod = playback.PlayMethodDirectStream
	}

	startTicks := playback.ResolveStartTicks(ctx, r.catalog, item, rangeStart, conf.Server.Dlna.SeekResumeThreshold)
	upstreamURL := r.catalog.StreamURL(itemID, !direct, upstreamParams(client, direct, startTicks))

	if req.Method == http.MethodHead {
		r.proxyHead(w, req, upstreamURL)
		return
	}

	// Telemetry must survive the request context: the renderer hanging up
	// is exactly when the disconnect heuristic fires.
	reportCtx := context.WithoutCancel(ctx)

	sessionID, reused, err := r.tracker.Open(ctx, playback.OpenOptions{
		Item:           item,
		StartTicks:     startTicks,
		UserAgent:      req.UserAgent(),
		ClientEndpoint: req.RemoteAddr,
		PlayMethod:     playMethod,
	})
	if err != nil {
		log.Error(ctx, "Failed to open playback session", err, "item", itemID)
		http.Error(w, "playback session unavailable", http.StatusInternalServerError)
		return
	}
	log.Debug(ctx, "Streaming item", "item", itemID, "session", sessionID, "reused", reused,
		"method", playMethod, "rangeStart", rangeStart, "vendor", client.Vendor)

	upReq, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		r.tracker.Stop(reportCtx, sessionID, false)
		http.Error(w, "bad upstream url", http.StatusBadGateway)
		return
	}
	if rangeHeader := req.Header.Get("Range"); rangeHeader != "" {
		upReq.Header.Set("Range", rangeHeader)
	}

	resp, err := r.streamClient.Do(upReq)
	if err != nil {
		log.Error(ctx, "Upstream stream request failed", err, "item", itemID)
		r.tracker.Stop(reportCtx, sessionID, false)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn(ctx, "Upstream rejected stream request", "item", itemID, "status", resp.StatusCode)
		r.tracker.Stop(reportCtx, sessionID, false)
		w.WriteHeader(resp.StatusCode)
		return
	}

	for _, h := range forwardedStreamHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("transferMode.dlna.org", "Streaming")
	if direct {
		w.Header().Set("contentFeatures.dlna.org", dlnaFlagsFor(client.Vendor))
	}
	status := http.StatusOK
	if resp.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	tailDelivered := responseCoversEnd(resp)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamCopyBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			r.tracker.RecordBytes(sessionID, int64(written))
			if flusher != nil {
				flusher.Flush()
			}
			if writeErr != nil {
				r.tracker.Disconnect(reportCtx, sessionID)
				return
			}
			r.tracker.MaybeReportProgress(reportCtx, sessionID)
		}
		if readErr == io.EOF {
			r.tracker.Complete(reportCtx, sessionID, tailDelivered)
			return
		}
		if readErr != nil {
			log.Warn(ctx, "Upstream stream interrupted", readErr, "item", itemID, "session", sessionID)
			r.tracker.Disconnect(reportCtx, sessionID)
			return
		}
	}
}

// proxyHead answers renderer HEAD probes without opening a session
func (r *Router) proxyHead(w http.ResponseWriter, req *http.Request, upstreamURL string) {
	upReq, err := http.NewRequestWithContext(req.Context(), http.MethodHead, upstreamURL, nil)
	if err != nil {
		http.Error(w, "bad upstream url", http.StatusBadGateway)
		return
	}
	resp, err := r.streamClient.Do(upReq)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for _, h := range forwardedStreamHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("transferMode.dlna.org", "Streaming")
	w.WriteHeader(resp.StatusCode)
}

// directPlayDecision decides whether the renderer gets the original file
// or an upstream-transcoded one.
func directPlayDecision(item *model.CatalogItem, client *clientContext) bool {
	ms := item.FirstMediaSource()
	if client.Profile == nil || ms == nil || ms.Container == "" {
		return false
	}

	container := strings.ToLower(ms.Container)
	videoCodec, audioCodec := "", ""
	if vs := ms.VideoStream(); vs != nil {
		videoCodec = strings.ToLower(vs.Codec)
	}
	if as := ms.AudioStream(); as != nil {
		audioCodec = strings.ToLower(as.Codec)
	}

	if client.Vendor == profiles.VendorVLC &&
		vlcContainers[container] &&
		(videoCodec == "" || vlcVideoCodecs[videoCodec]) &&
		(audioCodec == "" || vlcAudioCodecs[audioCodec]) {
		return true
	}

	mediaType := "Video"
	if item.Type == model.ItemTypeAudio || item.Type == model.ItemTypeAudioBook {
		mediaType = "Audio"
	}
	for i := range client.Profile.DirectPlay {
		if client.Profile.DirectPlay[i].Matches(mediaType, container, videoCodec, audioCodec) {
			return true
		}
	}
	return false
}

// upstreamParams builds the upstream stream URL query for the decided play
// method, with per-vendor stream-copy hints.
func upstreamParams(client *clientContext, direct bool, startTicks int64) url.Values {
	params := url.Values{}
	if direct {
		params.Set("Static", "true")
		if client.Profile != nil && client.Profile.MaxStreamingBitrate > 0 {
			params.Set("MaxStreamingBitrate", strconv.Itoa(client.Profile.MaxStreamingBitrate))
		}
		switch client.Vendor {
		case profiles.VendorSamsung:
			params.Set("EnableAutoStreamCopy", "true")
			params.Set("AllowVideoStreamCopy", "true")
			params.Set("AllowAudioStreamCopy", "true")
		case profiles.VendorXbox:
			params.Set("VideoCodec", "h264")
			params.Set("AudioCodec", "aac")
			params.Set("EnableAutoStreamCopy", "false")
		case profiles.VendorLG:
			params.Set("EnableAutoStreamCopy", "true")
		}
		return params
	}

	params.Set("Container", "mp4")
	params.Set("VideoCodec", "h264")
	params.Set("AudioCodec", "aac")
	params.Set("TranscodingMaxAudioChannels", "2")
	params.Set("AudioBitRate", "128000")
	if client.Profile != nil && client.Profile.MaxStreamingBitrate > 0 {
		params.Set("VideoBitRate", strconv.Itoa(client.Profile.MaxStreamingBitrate))
	}
	if startTicks > 0 {
		params.Set("StartTimeTicks", strconv.FormatInt(startTicks, 10))
	}
	return params
}

// responseCoversEnd reports whether the upstream response body runs through
// the end of the file, so a clean EOF means the renderer received the tail.
// A 200 always does; a 206 only when its Content-Range ends at the last byte.
func responseCoversEnd(resp *http.Response) bool {
	if resp.StatusCode != http.StatusPartialContent {
		return true
	}
	spec, ok := strings.CutPrefix(resp.Header.Get("Content-Range"), "bytes ")
	if !ok {
		return false
	}
	span, total, ok := strings.Cut(spec, "/")
	if !ok {
		return false
	}
	_, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return false
	}
	end, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
	if err != nil {
		return false
	}
	size, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return false
	}
	return end == size-1
}

// parseRangeStart extracts N from "Range: bytes=N-". Anything malformed
// is treated as a request from byte zero.
func parseRangeStart(rangeHeader string) int64 {
	if rangeHeader == "" {
		return 0
	}
	spec, ok := strings.CutPrefix(rangeHeader, "bytes=")
	if !ok {
		return 0
	}
	start, _, found := strings.Cut(spec, "-")
	if !found {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
