package dlna

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/log"
)

const (
	// SSDP message types
	ssdpAlive  = "ssdp:alive"
	ssdpByeBye = "ssdp:byebye"
	ssdpAll    = "ssdp:all"

	// Cache control max-age in seconds
	cacheMaxAge = 1800

	// Announcement interval
	announceInterval = 25 * time.Minute

	// Maximum M-SEARCH response delay regardless of MX
	maxResponseDelay = 3 * time.Second

	// Back-to-back requests from the same endpoint inside this window
	// are answered only once
	msearchDedupWindow = 2 * time.Second
)

// mSearchRequest is a parsed M-SEARCH datagram
type mSearchRequest struct {
	ST        string
	Man       string
	UserAgent string
	MX        int
}

// parseMSearch extracts the headers we care about from an M-SEARCH datagram
func parseMSearch(msg string) mSearchRequest {
	req := mSearchRequest{MX: 1}
	req.ST = extractHeader(msg, "ST")
	req.Man = strings.Trim(extractHeader(msg, "MAN"), `"`)
	req.UserAgent = extractHeader(msg, "USER-AGENT")
	if mx, err := strconv.Atoi(extractHeader(msg, "MX")); err == nil && mx > 0 {
		req.MX = mx
	}
	return req
}

// startSSDP binds the multicast listener and starts the advertise cycle.
// If the multicast bind fails (another server owns :1900), discovery
// degrades to send-only announcements from ephemeral sockets.
func (r *Router) startSSDP() error {
	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve SSDP address: %w", err)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		log.Warn(r.ctx, "SSDP multicast bind failed, discovery degraded to announce-only", err)
	} else {
		if err := conn.SetReadBuffer(65535); err != nil {
			log.Warn(r.ctx, "Failed to set SSDP read buffer", err)
		}
		r.ssdpConn = conn
		r.wg.Add(1)
		go r.listenSSDP()
	}

	r.wg.Add(1)
	go r.advertiseLoop()

	return nil
}

// listenSSDP handles incoming SSDP M-SEARCH requests
func (r *Router) listenSSDP() {
	defer r.wg.Done()
	buf := make([]byte, 2048)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		if err := r.ssdpConn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			continue
		}

		n, remoteAddr, err := r.ssdpConn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if r.ctx.Err() != nil {
				return
			}
			log.Error(r.ctx, "Error reading SSDP packet", err)
			continue
		}

		msg := string(buf[:n])
		if strings.HasPrefix(msg, "M-SEARCH") {
			r.handleMSearch(msg, remoteAddr)
		}
	}
}

// handleMSearch responds to SSDP M-SEARCH discovery requests
func (r *Router) handleMSearch(msg string, remoteAddr *net.UDPAddr) {
	req := parseMSearch(msg)
	if req.ST == "" || (req.Man != "" && req.Man != "ssdp:discover") {
		return
	}

	targets := r.responseTargets(req.ST)
	if len(targets) == 0 {
		return
	}

	dedupKey := remoteAddr.String() + "|" + req.ST
	if r.msearchSeen.Has(dedupKey) {
		return
	}
	r.msearchSeen.Set(dedupKey, struct{}{}, msearchDedupWindow)

	vendor := profiles.DetectVendor(req.UserAgent)
	delay := responseDelay(req.MX, vendor)

	log.Debug(r.ctx, "Responding to M-SEARCH", "st", req.ST, "from", remoteAddr.String(),
		"vendor", vendor, "delay", delay)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(delay):
		}
		for _, target := range targets {
			r.sendSearchResponse(target, remoteAddr, vendor)
		}
	}()
}

// responseTargets maps a search target to the notification types we
// answer for. An empty slice means the ST is not ours.
func (r *Router) responseTargets(st string) []string {
	switch st {
	case ssdpAll:
		return r.allNotificationTypes()
	case "upnp:rootdevice", deviceType, contentDirectoryType, connectionManagerType:
		return []string{st}
	case "uuid:" + r.uuid:
		return []string{st}
	}
	return nil
}

// responseDelay picks a random delay within the MX window. Some renderer
// families drop responses that arrive too fast after their query, so they
// get a minimum delay; Xbox expects an immediate answer.
func responseDelay(mx int, vendor profiles.Vendor) time.Duration {
	if vendor == profiles.VendorXbox {
		return 0
	}
	window := time.Duration(mx) * time.Second
	if window > maxResponseDelay {
		window = maxResponseDelay
	}
	delay := time.Duration(rand.Int63n(int64(window) + 1))
	var floor time.Duration
	switch vendor {
	case profiles.VendorSamsung:
		floor = 100 * time.Millisecond
	case profiles.VendorLG:
		floor = 200 * time.Millisecond
	}
	if delay < floor {
		delay = floor
	}
	return delay
}

// sendSearchResponse sends a unicast M-SEARCH response to the requester
func (r *Router) sendSearchResponse(st string, remoteAddr *net.UDPAddr, vendor profiles.Vendor) {
	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\n")
	fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", cacheMaxAge)
	fmt.Fprintf(&b, "DATE: %s\r\n", time.Now().UTC().Format(time.RFC1123))
	b.WriteString("EXT:\r\n")
	fmt.Fprintf(&b, "LOCATION: %s\r\n", r.getDeviceURL())
	fmt.Fprintf(&b, "SERVER: %s\r\n", serverHeader)
	fmt.Fprintf(&b, "ST: %s\r\n", st)
	fmt.Fprintf(&b, "USN: %s\r\n", r.getUSN(st))
	fmt.Fprintf(&b, "BOOTID.UPNP.ORG: %d\r\n", r.bootID.Load())
	fmt.Fprintf(&b, "CONFIGID.UPNP.ORG: %d\r\n", configID)
	if vendor == profiles.VendorSamsung {
		b.WriteString("SEARCHPORT.UPNP.ORG: 1900\r\n")
	}
	b.WriteString("\r\n")

	conn, err := net.DialUDP("udp4", nil, remoteAddr)
	if err != nil {
		log.Error(r.ctx, "Failed to dial for M-SEARCH response", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(b.String())); err != nil {
		log.Error(r.ctx, "Failed to send M-SEARCH response", err)
	}
}

// advertiseLoop announces presence twice shortly after start, then on a
// fixed interval.
func (r *Router) advertiseLoop() {
	defer r.wg.Done()

	r.announcePresence()
	select {
	case <-r.ctx.Done():
		return
	case <-time.After(time.Second + time.Duration(rand.Intn(500))*time.Millisecond):
	}
	r.announcePresence()

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.announcePresence()
		}
	}
}

// announcePresence sends an ssdp:alive NOTIFY for every notification type,
// spaced out so constrained renderers do not drop them.
func (r *Router) announcePresence() {
	for i, target := range r.allNotificationTypes() {
		if i > 0 {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(200*time.Millisecond + time.Duration(rand.Intn(100))*time.Millisecond):
			}
		}
		r.sendNotify(target, ssdpAlive)
	}
}

// sendByeBye sends ssdp:byebye notifications before the socket closes.
// Delivery is best-effort.
func (r *Router) sendByeBye() {
	for _, target := range []string{"upnp:rootdevice", "uuid:" + r.uuid, deviceType} {
		r.sendNotify(target, ssdpByeBye)
	}
}

// sendNotify sends a single SSDP NOTIFY message to the multicast group
func (r *Router) sendNotify(nt, nts string) {
	var b strings.Builder
	b.WriteString("NOTIFY * HTTP/1.1\r\n")
	fmt.Fprintf(&b, "HOST: %s\r\n", ssdpAddr)
	if nts == ssdpAlive {
		fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", cacheMaxAge)
		fmt.Fprintf(&b, "LOCATION: %s\r\n", r.getDeviceURL())
	}
	fmt.Fprintf(&b, "NT: %s\r\n", nt)
	fmt.Fprintf(&b, "NTS: %s\r\n", nts)
	if nts == ssdpAlive {
		fmt.Fprintf(&b, "SERVER: %s\r\n", serverHeader)
	}
	fmt.Fprintf(&b, "USN: %s\r\n", r.getUSN(nt))
	fmt.Fprintf(&b, "BOOTID.UPNP.ORG: %d\r\n", r.bootID.Load())
	fmt.Fprintf(&b, "CONFIGID.UPNP.ORG: %d\r\n", configID)
	b.WriteString("\r\n")

	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		log.Error(r.ctx, "Failed to resolve SSDP address for notify", err)
		return
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		log.Error(r.ctx, "Failed to dial for NOTIFY", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(b.String())); err != nil {
		log.Error(r.ctx, "Failed to send NOTIFY", err)
	}
}

// allNotificationTypes returns every NT this device advertises
func (r *Router) allNotificationTypes() []string {
	return []string{
		"upnp:rootdevice",
		"uuid:" + r.uuid,
		deviceType,
		contentDirectoryType,
		connectionManagerType,
	}
}

// getUSN returns the Unique Service Name for a notification type
func (r *Router) getUSN(nt string) string {
	if nt == "uuid:"+r.uuid {
		return nt
	}
	return fmt.Sprintf("uuid:%s::%s", r.uuid, nt)
}

// getDeviceURL returns the URL to the device description
func (r *Router) getDeviceURL() string {
	return fmt.Sprintf("http://%s:%d/device.xml", getLocalIP(), r.httpPort)
}

// bumpBootID advances BOOTID.UPNP.ORG so renderers can detect a restart
func (r *Router) bumpBootID() {
	r.bootID.Add(1)
}

// newMSearchCache builds the dedup cache for back-to-back M-SEARCH requests
func newMSearchCache() *ttlcache.Cache[string, struct{}] {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](msearchDedupWindow),
	)
	go cache.Start()
	return cache
}

// extractHeader extracts a header value from an SSDP message
func extractHeader(msg, header string) string {
	headerPrefix := header + ":"
	for _, line := range strings.Split(msg, "\r\n") {
		if strings.HasPrefix(strings.ToUpper(line), strings.ToUpper(headerPrefix)) {
			return strings.TrimSpace(line[len(headerPrefix):])
		}
	}
	return ""
}
