// Package nativeapi exposes the admin REST API for device profiles.
package nativeapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
	"github.com/dlnabridge/dlnabridge/persistence"
)

type Router struct {
	repo    model.DeviceProfileRepository
	matcher *profiles.Matcher
}

func New(repo model.DeviceProfileRepository, matcher *profiles.Matcher) *Router {
	return &Router{repo: repo, matcher: matcher}
}

func (api *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", api.listProfiles)
		r.Post("/", api.saveProfile)
		r.Get("/{id}", api.getProfile)
		r.Put("/{id}", api.saveProfile)
		r.Delete("/{id}", api.deleteProfile)
	})
	return r
}

func (api *Router) listProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := api.repo.GetAll()
	if err != nil {
		log.Error(ctx, "Error listing device profiles", err)
		http.Error(w, "Error retrieving profiles", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, all)
}

func (api *Router) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID := chi.URLParam(r, "id")
	p, err := api.repo.Get(profileID)
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, "Profile not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error(ctx, "Error getting device profile", "id", profileID, err)
		http.Error(w, "Error retrieving profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, p)
}

// saveProfile creates or replaces a profile. The path id, when present,
// wins over the id in the body.
func (api *Router) saveProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p model.DeviceProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid profile payload", http.StatusBadRequest)
		return
	}
	if pathID := chi.URLParam(r, "id"); pathID != "" {
		p.ID = pathID
	}
	if p.Name == "" {
		http.Error(w, "Profile name required", http.StatusBadRequest)
		return
	}

	if err := api.repo.Put(&p); err != nil {
		log.Error(ctx, "Error saving device profile", "name", p.Name, err)
		http.Error(w, "Error saving profile", http.StatusInternalServerError)
		return
	}
	api.matcher.Invalidate()
	log.Info(ctx, "Device profile saved", "id", p.ID, "name", p.Name)
	writeJSON(w, r, &p)
}

func (api *Router) deleteProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID := chi.URLParam(r, "id")
	if profileID == "" {
		http.Error(w, "Profile ID required", http.StatusBadRequest)
		return
	}
	if err := api.repo.Delete(profileID); err != nil {
		log.Error(ctx, "Error deleting device profile", "id", profileID, err)
		http.Error(w, "Error deleting profile", http.StatusInternalServerError)
		return
	}
	api.matcher.Invalidate()
	log.Info(ctx, "Device profile deleted", "id", profileID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, r *http.Request, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error(r.Context(), "Error encoding response", err)
	}
}
