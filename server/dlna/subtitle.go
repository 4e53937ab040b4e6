package dlna

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dlnabridge/dlnabridge/log"
)

// handleSubtitle proxies an embedded subtitle stream. The upstream exposes
// subtitles under a couple of URL shapes depending on its version, so the
// candidates are tried in order until one returns actual subtitle data.
func (r *Router) handleSubtitle(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	itemID := chi.URLParam(req, "id")
	index, err := strconv.Atoi(chi.URLParam(req, "index"))
	if !isUUID(itemID) || err != nil || index < 0 {
		http.NotFound(w, req)
		return
	}

	for _, candidate := range r.catalog.SubtitleURLs(itemID, index) {
		upReq, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
		if err != nil {
			continue
		}
		resp, err := r.streamClient.Do(upReq)
		if err != nil {
			log.Debug(ctx, "Subtitle candidate failed", err, "url", candidate)
			continue
		}
		if resp.StatusCode != http.StatusOK || isHTMLResponse(resp) {
			resp.Body.Close()
			continue
		}
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/x-subrip"
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = io.Copy(w, resp.Body)
		resp.Body.Close()
		return
	}

	log.Debug(ctx, "No subtitle source found, serving fallback", "item", itemID, "index", index)
	w.Header().Set("Content-Type", "application/x-subrip")
	_, _ = w.Write([]byte(renderTemplate("srt-fallback", "No subtitles available")))
}

// isHTMLResponse detects upstream error pages served with a 200 status
func isHTMLResponse(resp *http.Response) bool {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	return strings.Contains(contentType, "text/html")
}
