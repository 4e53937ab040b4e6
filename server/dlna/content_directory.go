package dlna

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/maruel/natural"

	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
)

// Browse request/response structures

// BrowseRequest represents a ContentDirectory Browse request
type BrowseRequest struct {
	XMLName        xml.Name `xml:"Browse"`
	ObjectID       string   `xml:"ObjectID"`
	BrowseFlag     string   `xml:"BrowseFlag"`
	Filter         string   `xml:"Filter"`
	StartingIndex  int      `xml:"StartingIndex"`
	RequestedCount int      `xml:"RequestedCount"`
	SortCriteria   string   `xml:"SortCriteria"`
}

// BrowseResponse represents a ContentDirectory Browse response. Result
// carries the DIDL-Lite document as a string, escaped by xml.Marshal when
// the response is serialized.
type BrowseResponse struct {
	XMLName        xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 BrowseResponse"`
	Result         string   `xml:"Result"`
	NumberReturned int      `xml:"NumberReturned"`
	TotalMatches   int      `xml:"TotalMatches"`
	UpdateID       uint32   `xml:"UpdateID"`
}

// GetSearchCapabilitiesResponse for GetSearchCapabilities action
type GetSearchCapabilitiesResponse struct {
	XMLName    xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 GetSearchCapabilitiesResponse"`
	SearchCaps string   `xml:"SearchCaps"`
}

// GetSortCapabilitiesResponse for GetSortCapabilities action
type GetSortCapabilitiesResponse struct {
	XMLName  xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 GetSortCapabilitiesResponse"`
	SortCaps string   `xml:"SortCaps"`
}

// GetSystemUpdateIDResponse for GetSystemUpdateID action
type GetSystemUpdateIDResponse struct {
	XMLName xml.Name `xml:"urn:schemas-upnp-org:service:ContentDirectory:1 GetSystemUpdateIDResponse"`
	Id      uint32   `xml:"Id"`
}

// DIDL-Lite content structures

// DIDLLite is the root element for DIDL-Lite content
type DIDLLite struct {
	XMLName    xml.Name    `xml:"DIDL-Lite"`
	Xmlns      string      `xml:"xmlns,attr"`
	XmlnsDC    string      `xml:"xmlns:dc,attr"`
	XmlnsUPnP  string      `xml:"xmlns:upnp,attr"`
	XmlnsSec   string      `xml:"xmlns:sec,attr"`
	Containers []Container `xml:"container,omitempty"`
	Items      []Item      `xml:"item,omitempty"`
}

// Container represents a DIDL-Lite container (folder, series, season)
type Container struct {
	ID          string `xml:"id,attr"`
	ParentID    string `xml:"parentID,attr"`
	Restricted  string `xml:"restricted,attr"`
	ChildCount  int    `xml:"childCount,attr"`
	Title       string `xml:"dc:title"`
	Class       string `xml:"upnp:class"`
	AlbumArtURI string `xml:"upnp:albumArtURI,omitempty"`
	Icon        string `xml:"upnp:icon,omitempty"`
	DcmInfo     string `xml:"sec:dcmInfo,omitempty"`
}

// Item represents a DIDL-Lite item (playable media)
type Item struct {
	ID            string   `xml:"id,attr"`
	ParentID      string   `xml:"parentID,attr"`
	Restricted    string   `xml:"restricted,attr"`
	Title         string   `xml:"dc:title"`
	Class         string   `xml:"upnp:class"`
	AlbumArtURI   string   `xml:"upnp:albumArtURI,omitempty"`
	Description   string   `xml:"dc:description,omitempty"`
	Date          string   `xml:"dc:date,omitempty"`
	EpisodeNumber int      `xml:"upnp:episodeNumber,omitempty"`
	EpisodeSeason int      `xml:"upnp:episodeSeason,omitempty"`
	SeriesTitle   string   `xml:"upnp:seriesTitle,omitempty"`
	Album         string   `xml:"upnp:album,omitempty"`
	Artists       []string `xml:"upnp:artist,omitempty"`
	Genres        []string `xml:"upnp:genre,omitempty"`
	Icon          string   `xml:"upnp:icon,omitempty"`
	DcmInfo       string   `xml:"sec:dcmInfo,omitempty"`
	Resources     []Res    `xml:"res"`
}

// Res represents a resource element
type Res struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Size         int64  `xml:"size,attr,omitempty"`
	Duration     string `xml:"duration,attr,omitempty"`
	Resolution   string `xml:"resolution,attr,omitempty"`
	Bitrate      int    `xml:"bitrate,attr,omitempty"`
	SampleFreq   int    `xml:"sampleFrequency,attr,omitempty"`
	Channels     int    `xml:"nrAudioChannels,attr,omitempty"`
	URL          string `xml:",chardata"`
}

// UPnP object classes
const (
	classStorageFolder  = "object.container.storageFolder"
	classMovieGenre     = "object.container.genre.movieGenre"
	classPhotoAlbum     = "object.container.album.photoAlbum"
	classVideoAlbum     = "object.container.album.videoAlbum"
	classMusicAlbum     = "object.container.album.musicAlbum"
	classMusicArtist    = "object.container.person.musicArtist"
	classMovie          = "object.item.videoItem.movie"
	classVideoItem      = "object.item.videoItem"
	classMusicVideoClip = "object.item.videoItem.musicVideoClip"
	classMusicTrack     = "object.item.audioItem.musicTrack"
	classPhoto          = "object.item.imageItem.photo"
)

const (
	rootObjectID    = "0"
	libraryPrefix   = "library:"
	dlnaFlagsVideo  = "DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	samsungPNFlags  = "DLNA.ORG_PN=AVC_MP4_MP_HD_1080i_AAC;DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"
	maxDescription  = 200
	dcmInfoItem     = "CREATIONDATE=0,FOLDER=0,BM=0"
	dcmInfoFolder   = "CREATIONDATE=0,FOLDER=1"
)

func emptyDIDL() DIDLLite {
	return DIDLLite{
		Xmlns:     "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		XmlnsDC:   "http://purl.org/dc/elements/1.1/",
		XmlnsUPnP: "urn:schemas-upnp-org:metadata-1-0/upnp/",
		XmlnsSec:  "http://www.sec.co.kr/",
	}
}

// handleBrowse handles the ContentDirectory Browse action
func (r *Router) handleBrowse(ctx context.Context, body []byte, client *clientContext, req *http.Request) (*BrowseResponse, error) {
	var browse BrowseRequest
	if err := xml.Unmarshal(body, &browse); err != nil {
		type browseWrapper struct {
			Browse BrowseRequest `xml:"Browse"`
		}
		var wrapper browseWrapper
		if err := xml.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: malformed Browse payload: %s", errInvalidAction, err)
		}
		browse = wrapper.Browse
	}

	log.Debug(ctx, "Browse request",
		"objectID", browse.ObjectID,
		"browseFlag", browse.BrowseFlag,
		"startIndex", browse.StartingIndex,
		"count", browse.RequestedCount,
		"sort", browse.SortCriteria)

	baseURL := r.getBaseURL(req)

	var didl DIDLLite
	var total int
	var err error
	switch browse.BrowseFlag {
	case "BrowseMetadata":
		didl, total, err = r.browseMetadata(ctx, browse.ObjectID, client, baseURL)
	case "BrowseDirectChildren":
		didl, total, err = r.browseDirectChildren(ctx, &browse, client, baseURL)
	default:
		return nil, fmt.Errorf("%w: unsupported BrowseFlag %q", errInvalidAction, browse.BrowseFlag)
	}
	if err != nil {
		log.Error(ctx, "Browse against upstream catalog failed", err, "objectID", browse.ObjectID)
		didl, total = emptyDIDL(), 0
	}

	didlXML, err := xml.Marshal(didl)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DIDL-Lite: %w", err)
	}

	return &BrowseResponse{
		Result:         string(didlXML),
		NumberReturned: len(didl.Containers) + len(didl.Items),
		TotalMatches:   total,
		UpdateID:       r.getUpdateID(),
	}, nil
}

// browseMetadata returns metadata for a single object
func (r *Router) browseMetadata(ctx context.Context, objectID string, client *clientContext, baseURL string) (DIDLLite, int, error) {
	didl := emptyDIDL()

	switch {
	case objectID == rootObjectID:
		libraries, err := r.catalog.GetLibraries(ctx)
		if err != nil {
			return didl, 0, err
		}
		didl.Containers = []Container{{
			ID:         rootObjectID,
			ParentID:   "-1",
			Restricted: "1",
			ChildCount: len(libraries),
			Title:      r.serverName,
			Class:      classStorageFolder,
		}}
		return didl, 1, nil

	case strings.HasPrefix(objectID, libraryPrefix):
		item, err := r.catalog.GetItem(ctx, strings.TrimPrefix(objectID, libraryPrefix))
		if err != nil {
			return didl, 0, err
		}
		c := r.toContainer(ctx, item, rootObjectID, client, baseURL)
		c.ID = objectID
		c.Class = libraryClass(item.CollectionType)
		didl.Containers = []Container{c}
		return didl, 1, nil

	case isUUID(objectID):
		item, err := r.catalog.GetItem(ctx, objectID)
		if err != nil {
			return didl, 0, err
		}
		parentID := item.ParentID
		if parentID == "" {
			parentID = rootObjectID
		}
		if item.IsContainer() {
			didl.Containers = []Container{r.toContainer(ctx, item, parentID, client, baseURL)}
		} else {
			didl.Items = []Item{r.toItem(item, parentID, client, baseURL)}
		}
		return didl, 1, nil
	}

	return didl, 0, nil
}

// browseDirectChildren returns the direct children of a container
func (r *Router) browseDirectChildren(ctx context.Context, browse *BrowseRequest, client *clientContext, baseURL string) (DIDLLite, int, error) {
	didl := emptyDIDL()

	var children []model.CatalogItem
	var err error
	switch {
	case browse.ObjectID == rootObjectID:
		children, err = r.catalog.GetLibraries(ctx)
	case strings.HasPrefix(browse.ObjectID, libraryPrefix):
		children, err = r.catalog.GetChildren(ctx, strings.TrimPrefix(browse.ObjectID, libraryPrefix))
	case isUUID(browse.ObjectID):
		children, err = r.catalog.GetChildren(ctx, browse.ObjectID)
	default:
		return didl, 0, nil
	}
	if err != nil {
		return didl, 0, err
	}

	included := children[:0]
	for i := range children {
		if children[i].Browsable() {
			included = append(included, children[i])
		}
	}
	sortChildren(included, browse.SortCriteria, client.Vendor)

	total := len(included)
	page := paginate(included, browse.StartingIndex, browse.RequestedCount)

	for i := range page {
		child := &page[i]
		if browse.ObjectID == rootObjectID {
			c := r.toContainer(ctx, child, rootObjectID, client, baseURL)
			c.ID = libraryPrefix + child.ID
			c.Class = libraryClass(child.CollectionType)
			didl.Containers = append(didl.Containers, c)
			continue
		}
		if child.IsContainer() {
			didl.Containers = append(didl.Containers, r.toContainer(ctx, child, browse.ObjectID, client, baseURL))
		} else {
			didl.Items = append(didl.Items, r.toItem(child, browse.ObjectID, client, baseURL))
		}
	}

	return didl, total, nil
}

// toContainer converts a catalog container to a DIDL-Lite container.
// childCount is recomputed against the catalog so it reflects the same
// inclusion rules applied when the container is browsed.
func (r *Router) toContainer(ctx context.Context, item *model.CatalogItem, parentID string, client *clientContext, baseURL string) Container {
	c := Container{
		ID:          item.ID,
		ParentID:    parentID,
		Restricted:  "1",
		ChildCount:  r.includedChildCount(ctx, item.ID),
		Title:       item.Name,
		Class:       upnpClass(item),
		AlbumArtURI: albumArtURL(baseURL, item.ID),
	}
	if client.Vendor == profiles.VendorSamsung {
		c.Icon = c.AlbumArtURI
		c.DcmInfo = dcmInfoFolder
	}
	return c
}

// toItem converts a playable catalog item to a DIDL-Lite item
func (r *Router) toItem(item *model.CatalogItem, parentID string, client *clientContext, baseURL string) Item {
	di := Item{
		ID:          item.ID,
		ParentID:    parentID,
		Restricted:  "1",
		Title:       itemTitle(item),
		Class:       upnpClass(item),
		AlbumArtURI: albumArtURL(baseURL, item.ID),
		Description: truncate(item.Overview, maxDescription),
	}
	if item.ProductionYear > 0 {
		di.Date = strconv.Itoa(item.ProductionYear)
	}
	if item.Type == model.ItemTypeEpisode {
		if item.IndexNumber != nil {
			di.EpisodeNumber = *item.IndexNumber
		}
		if item.ParentIndexNumber != nil {
			di.EpisodeSeason = *item.ParentIndexNumber
		}
		di.SeriesTitle = item.SeriesName
	}
	if item.Type == model.ItemTypeAudio || item.Type == model.ItemTypeAudioBook {
		di.Album = item.Album
		di.Artists = limit(item.Artists, 3)
	}
	di.Genres = limit(item.Genres, 2)
	if client.Vendor == profiles.VendorSamsung {
		di.Icon = di.AlbumArtURI
		di.DcmInfo = dcmInfoItem
	}

	res := Res{
		ProtocolInfo: fmt.Sprintf("http-get:*:%s:%s", mimeForItem(item), dlnaFlagsFor(client.Vendor)),
		URL:          fmt.Sprintf("%s/stream/%s", baseURL, item.ID),
	}
	if ms := item.FirstMediaSource(); ms != nil {
		res.Size = ms.Size
		res.Bitrate = ms.Bitrate
		if vs := ms.VideoStream(); vs != nil && vs.Width > 0 && vs.Height > 0 {
			res.Resolution = fmt.Sprintf("%dx%d", vs.Width, vs.Height)
		}
		if as := ms.AudioStream(); as != nil {
			res.SampleFreq = as.SampleRate
			res.Channels = as.Channels
		}
	}
	if ticks := item.RunTime(); ticks > 0 {
		res.Duration = formatDuration(float64(ticks) / float64(model.TicksPerSecond))
	}
	di.Resources = []Res{res}
	return di
}

// includedChildCount counts the direct children that would survive the
// inclusion rules on a subsequent browse of this container.
func (r *Router) includedChildCount(ctx context.Context, itemID string) int {
	children, err := r.catalog.GetChildren(ctx, itemID)
	if err != nil {
		log.Warn(ctx, "Failed to count container children", err, "id", itemID)
		return 0
	}
	count := 0
	for i := range children {
		if children[i].Browsable() {
			count++
		}
	}
	return count
}

// itemTitle formats the display title. Episodes are prefixed with their
// index so renderers without episode metadata still list them in order.
func itemTitle(item *model.CatalogItem) string {
	if item.Type == model.ItemTypeEpisode && item.IndexNumber != nil {
		return fmt.Sprintf("%d. %s", *item.IndexNumber, item.Name)
	}
	return item.Name
}

func upnpClass(item *model.CatalogItem) string {
	switch item.Type {
	case model.ItemTypeMovie:
		return classMovie
	case model.ItemTypeMusicVideo:
		return classMusicVideoClip
	case model.ItemTypeEpisode, model.ItemTypeVideo:
		return classVideoItem
	case model.ItemTypeAudio, model.ItemTypeAudioBook:
		return classMusicTrack
	case model.ItemTypePhoto:
		return classPhoto
	case model.ItemTypeSeries, model.ItemTypeSeason:
		return classVideoAlbum
	case model.ItemTypeMusicAlbum:
		return classMusicAlbum
	case model.ItemTypeMusicArtist:
		return classMusicArtist
	default:
		return classStorageFolder
	}
}

// libraryClass maps a library's collection type to the class of its
// top-level container.
func libraryClass(collectionType string) string {
	switch strings.ToLower(collectionType) {
	case "movies", "tvshows":
		return classMovieGenre
	case "photos":
		return classPhotoAlbum
	default:
		return classStorageFolder
	}
}

// sortChildren orders children in place. Default order puts containers
// first, then sorts by index number and natural title. Samsung renderers
// misbehave with index-first ordering, so they get title before index.
func sortChildren(children []model.CatalogItem, sortCriteria string, vendor profiles.Vendor) {
	criteria := strings.ToLower(strings.TrimSpace(sortCriteria))

	byTitle := func(a, b *model.CatalogItem) bool {
		return natural.Less(strings.ToLower(a.Name), strings.ToLower(b.Name))
	}
	sortIdx := func(it *model.CatalogItem) int {
		if it.IndexNumber != nil {
			return *it.IndexNumber
		}
		return int(^uint(0) >> 1)
	}

	sort.SliceStable(children, func(i, j int) bool {
		a, b := &children[i], &children[j]
		if vendor == profiles.VendorSamsung {
			if a.IsContainer() != b.IsContainer() {
				return a.IsContainer()
			}
			if a.Name != b.Name {
				return byTitle(a, b)
			}
			return sortIdx(a) < sortIdx(b)
		}
		switch {
		case strings.Contains(criteria, "dc:date"):
			if a.ProductionYear != b.ProductionYear {
				return a.ProductionYear < b.ProductionYear
			}
			return byTitle(a, b)
		case strings.Contains(criteria, "dc:title"):
			return byTitle(a, b)
		default:
			if a.IsContainer() != b.IsContainer() {
				return a.IsContainer()
			}
			if ai, bi := sortIdx(a), sortIdx(b); ai != bi {
				return ai < bi
			}
			return byTitle(a, b)
		}
	})
}

// paginate applies StartingIndex/RequestedCount after sorting.
// A count of zero means "all remaining items".
func paginate(children []model.CatalogItem, start, count int) []model.CatalogItem {
	if start < 0 {
		start = 0
	}
	if start >= len(children) {
		return nil
	}
	end := len(children)
	if count > 0 && start+count < end {
		end = start + count
	}
	return children[start:end]
}

func mimeForItem(item *model.CatalogItem) string {
	container := ""
	if ms := item.FirstMediaSource(); ms != nil {
		container = strings.ToLower(ms.Container)
	}
	switch item.Type {
	case model.ItemTypeAudio, model.ItemTypeAudioBook:
		switch container {
		case "flac":
			return "audio/flac"
		case "mp4", "m4a", "aac":
			return "audio/mp4"
		default:
			return "audio/mpeg"
		}
	case model.ItemTypePhoto:
		return "image/jpeg"
	default:
		switch container {
		case "mkv":
			return "video/x-matroska"
		case "avi":
			return "video/avi"
		case "mov":
			return "video/quicktime"
		default:
			return "video/mp4"
		}
	}
}

func dlnaFlagsFor(vendor profiles.Vendor) string {
	if vendor == profiles.VendorSamsung {
		return samsungPNFlags
	}
	return dlnaFlagsVideo
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func limit(list []string, max int) []string {
	if len(list) <= max {
		return list
	}
	return list[:max]
}

// albumArtURL points renderers at the local artwork proxy instead of the
// upstream image endpoint, which would expose the access token.
func albumArtURL(baseURL, itemID string) string {
	return fmt.Sprintf("%s/albumart/%s", baseURL, itemID)
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// handleGetSearchCapabilities returns search capabilities
func (r *Router) handleGetSearchCapabilities(ctx context.Context) (*GetSearchCapabilitiesResponse, error) {
	return &GetSearchCapabilitiesResponse{}, nil
}

// handleGetSortCapabilities returns sort capabilities
func (r *Router) handleGetSortCapabilities(ctx context.Context) (*GetSortCapabilitiesResponse, error) {
	return &GetSortCapabilitiesResponse{
		SortCaps: "dc:title,dc:date,upnp:class",
	}, nil
}

// handleGetSystemUpdateID returns the current system update ID
func (r *Router) handleGetSystemUpdateID(ctx context.Context) (*GetSystemUpdateIDResponse, error) {
	return &GetSystemUpdateIDResponse{Id: r.getUpdateID()}, nil
}

// getUpdateID is static: the upstream catalog has no change feed to track
func (r *Router) getUpdateID() uint32 {
	return 0
}

// formatDuration formats a duration in seconds to DLNA format (H:MM:SS.mmm).
// Millisecond arithmetic is integer so parseDuration output round-trips.
func formatDuration(seconds float64) string {
	totalMs := int64(math.Round(seconds * 1000))
	h := totalMs / 3600000
	m := totalMs / 60000 % 60
	s := totalMs / 1000 % 60
	ms := totalMs % 1000
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms)
}

// parseDuration parses a DLNA duration string to seconds
func parseDuration(duration string) float64 {
	parts := strings.Split(duration, ":")
	if len(parts) != 3 {
		return 0
	}

	h, _ := strconv.ParseFloat(parts[0], 64)
	m, _ := strconv.ParseFloat(parts[1], 64)

	secParts := strings.Split(parts[2], ".")
	s, _ := strconv.ParseFloat(secParts[0], 64)

	ms := 0.0
	if len(secParts) > 1 {
		ms, _ = strconv.ParseFloat("0."+secParts[1], 64)
	}

	return h*3600 + m*60 + s + ms
}
