// Package dlna implements a UPnP 1.0 MediaServer bridging the upstream
// catalog to DLNA renderers: SSDP discovery, ContentDirectory browsing,
// and a range-aware streaming proxy with playback telemetry.
package dlna

import (
	"context"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/robfig/cron/v3"

	"github.com/dlnabridge/dlnabridge/conf"
	"github.com/dlnabridge/dlnabridge/consts"
	"github.com/dlnabridge/dlnabridge/core/artwork"
	"github.com/dlnabridge/dlnabridge/core/catalog"
	"github.com/dlnabridge/dlnabridge/core/playback"
	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
	"github.com/dlnabridge/dlnabridge/model/id"
)

const (
	// SSDP multicast address and port
	ssdpAddr = "239.255.255.250:1900"
	// UPnP device type for media server
	deviceType = "urn:schemas-upnp-org:device:MediaServer:1"
	// UPnP service types
	contentDirectoryType  = "urn:schemas-upnp-org:service:ContentDirectory:1"
	connectionManagerType = "urn:schemas-upnp-org:service:ConnectionManager:1"

	// ConfigID changes only when the device description changes
	configID = 1
)

var serverHeader = consts.AppName + "/1.0 UPnP/1.0 " + consts.AppName + "/1.0"

func init() {
	chi.RegisterMethod("SUBSCRIBE")
	chi.RegisterMethod("UNSUBSCRIBE")
}

// clientContext is the per-request renderer identity: detected vendor and
// the matched device profile.
type clientContext struct {
	UserAgent string
	Vendor    profiles.Vendor
	Profile   *model.DeviceProfile
}

// Router handles DLNA/UPnP requests and owns the discovery lifecycle
type Router struct {
	catalog    catalog.Client
	matcher    *profiles.Matcher
	tracker    *playback.Tracker
	artwork    *artwork.Provider
	serverName string
	uuid       string
	httpPort   int

	bootID       atomic.Uint32
	ssdpConn     *net.UDPConn
	msearchSeen  *ttlcache.Cache[string, struct{}]
	streamClient *http.Client
	scheduler    *cron.Cron

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new DLNA router
func New(client catalog.Client, matcher *profiles.Matcher, tracker *playback.Tracker) *Router {
	serverName := conf.Server.Dlna.ServerName
	if serverName == "" {
		serverName = consts.AppName
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	r := &Router{
		catalog:    client,
		matcher:    matcher,
		tracker:    tracker,
		artwork:    artwork.NewProvider(client),
		serverName: serverName,
		uuid:       id.NewUUID(hostname, serverName),
		httpPort:   conf.Server.Dlna.Port,
		// no timeout: streams run for the length of the media
		streamClient: &http.Client{},
	}
	r.bootID.Store(1)
	return r
}

// UUID returns the stable device UUID advertised over SSDP
func (r *Router) UUID() string {
	return r.uuid
}

// Routes returns the chi router for all DLNA HTTP endpoints
func (r *Router) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(serverHeaderMiddleware)

	router.Get("/device.xml", r.handleDeviceDescription)

	router.Get("/ContentDirectory/scpd.xml", r.handleContentDirectoryDescription)
	router.Post("/ContentDirectory/control", r.handleContentDirectoryControl)
	router.MethodFunc("SUBSCRIBE", "/ContentDirectory/event", r.handleEvent)
	router.MethodFunc("UNSUBSCRIBE", "/ContentDirectory/event", r.handleEvent)

	router.Get("/ConnectionManager/scpd.xml", r.handleConnectionManagerDescription)
	router.Post("/ConnectionManager/control", r.handleConnectionManagerControl)
	router.MethodFunc("SUBSCRIBE", "/ConnectionManager/event", r.handleEvent)
	router.MethodFunc("UNSUBSCRIBE", "/ConnectionManager/event", r.handleEvent)

	router.Get("/stream/{id}", r.handleStream)
	router.Head("/stream/{id}", r.handleStream)
	router.Get("/subtitle/{id}/{index}", r.handleSubtitle)
	router.Get("/albumart/{id}", r.handleAlbumArt)

	router.Get("/icon/{size}.png", r.handleIcon)

	router.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ContentDirectory/event" || req.URL.Path == "/ConnectionManager/event" {
			w.Header().Set("Allow", "SUBSCRIBE, UNSUBSCRIBE")
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	return router
}

func serverHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Server", serverHeader)
		next.ServeHTTP(w, req)
	})
}

// clientFor resolves the renderer identity for a request
func (r *Router) clientFor(req *http.Request) *clientContext {
	ua := req.UserAgent()
	return &clientContext{
		UserAgent: ua,
		Vendor:    profiles.DetectVendor(ua),
		Profile:   r.matcher.Match(req.Context(), ua, "", ""),
	}
}

// Start begins SSDP discovery and the periodic maintenance jobs
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()

	r.msearchSeen = newMSearchCache()

	if err := r.startSSDP(); err != nil {
		return err
	}

	r.scheduler = cron.New()
	_, _ = r.scheduler.AddFunc("@every 5m", func() {
		r.tracker.SweepStale(r.ctx)
	})
	_, _ = r.scheduler.AddFunc("@every 1h", r.bumpBootID)
	r.scheduler.Start()

	log.Info(r.ctx, "DLNA server started", "name", r.serverName, "uuid", r.uuid, "port", r.httpPort)
	return nil
}

// Stop halts SSDP announcements and background jobs. Byebye notifications
// are attempted before the socket closes.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	r.sendByeBye()

	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.ssdpConn != nil {
		r.ssdpConn.Close()
	}
	if r.msearchSeen != nil {
		r.msearchSeen.Stop()
	}
	if r.artwork != nil {
		r.artwork.Stop()
	}
	r.wg.Wait()

	r.running = false
	log.Info("DLNA server stopped")
}

// getActiveInterfaces returns network interfaces that are up and have
// usable IPv4 addresses
func getActiveInterfaces() ([]net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var active []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
					active = append(active, iface)
					break
				}
			}
		}
	}
	return active, nil
}

// getLocalIP returns the first non-loopback IPv4 address
func getLocalIP() string {
	ifaces, err := getActiveInterfaces()
	if err != nil || len(ifaces) == 0 {
		return "127.0.0.1"
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
					return ipnet.IP.String()
				}
			}
		}
	}
	return "127.0.0.1"
}
