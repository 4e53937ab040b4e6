package dlna

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dlnabridge/dlnabridge/log"
)

// handleAlbumArt serves item artwork from the local endpoint so DIDL
// albumArtURI values never expose the upstream access token.
func (r *Router) handleAlbumArt(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	itemID := chi.URLParam(req, "id")
	if !isUUID(itemID) {
		http.NotFound(w, req)
		return
	}

	img, err := r.artwork.Get(ctx, itemID)
	if err != nil {
		log.Debug(ctx, "No artwork for item", "item", itemID, err)
		http.NotFound(w, req)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(img.Data)
}
