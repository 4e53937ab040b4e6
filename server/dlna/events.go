package dlna

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dlnabridge/dlnabridge/log"
)

const defaultSubscriptionTimeout = "Second-1800"

// handleEvent accepts GENA subscription requests. We never emit events,
// but renderers expect the subscription handshake to succeed.
func (r *Router) handleEvent(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case "SUBSCRIBE":
		r.handleSubscribe(w, req)
	case "UNSUBSCRIBE":
		w.WriteHeader(http.StatusOK)
	default:
		w.Header().Set("Allow", "SUBSCRIBE, UNSUBSCRIBE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (r *Router) handleSubscribe(w http.ResponseWriter, req *http.Request) {
	sid := req.Header.Get("SID")
	if sid == "" {
		if req.Header.Get("CALLBACK") == "" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		sid = "uuid:" + uuid.NewString()
	}

	timeout := req.Header.Get("TIMEOUT")
	if timeout == "" {
		timeout = defaultSubscriptionTimeout
	}

	log.Debug(req.Context(), "Event subscription", "path", req.URL.Path, "sid", sid, "timeout", timeout)
	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", timeout)
	w.WriteHeader(http.StatusOK)
}
