package dlna

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dlnabridge/dlnabridge/core/catalog"
	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/model"
)

type fakeCatalog struct {
	libraries []model.CatalogItem
	children  map[string][]model.CatalogItem
	items     map[string]*model.CatalogItem
	userData  map[string]*model.UserItemData
	reports   []string
}

func (f *fakeCatalog) GetLibraries(context.Context) ([]model.CatalogItem, error) {
	return f.libraries, nil
}

func (f *fakeCatalog) GetChildren(_ context.Context, parentID string) ([]model.CatalogItem, error) {
	return f.children[parentID], nil
}

func (f *fakeCatalog) GetItem(_ context.Context, id string) (*model.CatalogItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s not found", id)
	}
	return item, nil
}

func (f *fakeCatalog) GetUserData(_ context.Context, itemID string) (*model.UserItemData, error) {
	data, ok := f.userData[itemID]
	if !ok {
		return nil, fmt.Errorf("no user data for %s", itemID)
	}
	return data, nil
}

func (f *fakeCatalog) StreamURL(itemID string, transcode bool, params url.Values) string {
	suffix := "/stream"
	if transcode {
		suffix = "/stream.mp4"
	}
	return fmt.Sprintf("http://upstream:8096/Videos/%s%s?%s", itemID, suffix, params.Encode())
}

func (f *fakeCatalog) ImageURL(itemID string) string {
	return "http://upstream:8096/Items/" + itemID + "/Images/Primary"
}

func (f *fakeCatalog) SubtitleURLs(string, int) []string { return nil }

func (f *fakeCatalog) ReportPlaybackStart(_ context.Context, info catalog.PlaybackInfo) error {
	f.reports = append(f.reports, "start:"+info.SessionID)
	return nil
}

func (f *fakeCatalog) ReportPlaybackProgress(_ context.Context, info catalog.PlaybackInfo) error {
	f.reports = append(f.reports, "progress:"+info.SessionID)
	return nil
}

func (f *fakeCatalog) ReportPlaybackStopped(_ context.Context, info catalog.PlaybackInfo) error {
	f.reports = append(f.reports, "stop:"+info.SessionID)
	return nil
}

func (f *fakeCatalog) MarkPlayed(_ context.Context, itemID string) error {
	f.reports = append(f.reports, "played:"+itemID)
	return nil
}

var _ catalog.Client = (*fakeCatalog)(nil)

type emptyProfileRepo struct{}

func (emptyProfileRepo) Get(string) (*model.DeviceProfile, error) { return nil, fmt.Errorf("not found") }
func (emptyProfileRepo) GetAll() (model.DeviceProfiles, error)    { return nil, nil }
func (emptyProfileRepo) Put(*model.DeviceProfile) error           { return nil }
func (emptyProfileRepo) Delete(string) error                      { return nil }
func (emptyProfileRepo) CountAll() (int64, error)                 { return 0, nil }

const (
	moviesLibID = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	musicLibID  = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	seasonID    = "cccccccc-cccc-cccc-cccc-cccccccccccc"
	movieID     = "dddddddd-dddd-dddd-dddd-dddddddddddd"
)

func intp(v int) *int { return &v }

func browseBody(objectID, flag string, start, count int) []byte {
	return []byte(fmt.Sprintf(`<u:Browse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
		<ObjectID>%s</ObjectID>
		<BrowseFlag>%s</BrowseFlag>
		<Filter>*</Filter>
		<StartingIndex>%d</StartingIndex>
		<RequestedCount>%d</RequestedCount>
		<SortCriteria></SortCriteria>
	</u:Browse>`, objectID, flag, start, count))
}

// Decode-side DIDL types. The production structs carry literal prefixed
// tags for marshaling, which the decoder resolves to namespace URLs, so
// tests match on local names instead.
type didlDoc struct {
	XMLName    xml.Name       `xml:"DIDL-Lite"`
	Containers []containerDoc `xml:"container"`
	Items      []itemDoc      `xml:"item"`
}

type containerDoc struct {
	ID         string `xml:"id,attr"`
	ParentID   string `xml:"parentID,attr"`
	ChildCount int    `xml:"childCount,attr"`
	Title      string `xml:"title"`
	Class      string `xml:"class"`
	Icon       string `xml:"icon"`
	DcmInfo    string `xml:"dcmInfo"`
}

type itemDoc struct {
	ID        string   `xml:"id,attr"`
	ParentID  string   `xml:"parentID,attr"`
	Title     string   `xml:"title"`
	Class     string   `xml:"class"`
	Icon      string   `xml:"icon"`
	DcmInfo   string   `xml:"dcmInfo"`
	Resources []resDoc `xml:"res"`
}

type resDoc struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Duration     string `xml:"duration,attr"`
	URL          string `xml:",chardata"`
}

func decodeResult(result string) didlDoc {
	var didl didlDoc
	ExpectWithOffset(1, xml.Unmarshal([]byte(result), &didl)).To(Succeed())
	return didl
}

var _ = Describe("ContentDirectory", func() {
	var router *Router
	var fake *fakeCatalog
	var client *clientContext
	req := httptest.NewRequest("POST", "http://192.168.1.5:8200/ContentDirectory/control", nil)

	BeforeEach(func() {
		fake = &fakeCatalog{
			libraries: []model.CatalogItem{
				{ID: moviesLibID, Name: "Movies", Type: model.ItemTypeCollectionFolder, CollectionType: "movies"},
				{ID: musicLibID, Name: "Music", Type: model.ItemTypeCollectionFolder, CollectionType: "music"},
			},
			children: map[string][]model.CatalogItem{
				moviesLibID: {
					{ID: movieID, Name: "Big Movie", Type: model.ItemTypeMovie, RunTimeTicks: 3600 * model.TicksPerSecond},
				},
				seasonID: {
					{ID: "eeeeeeee-0003-0000-0000-000000000000", Name: "Finale", Type: model.ItemTypeEpisode, IndexNumber: intp(3)},
					{ID: "eeeeeeee-0001-0000-0000-000000000000", Name: "Pilot", Type: model.ItemTypeEpisode, IndexNumber: intp(1)},
					{ID: "eeeeeeee-0002-0000-0000-000000000000", Name: "Middle", Type: model.ItemTypeEpisode, IndexNumber: intp(2)},
				},
			},
			items: map[string]*model.CatalogItem{
				moviesLibID: {ID: moviesLibID, Name: "Movies", Type: model.ItemTypeCollectionFolder, CollectionType: "movies"},
				movieID:     {ID: movieID, Name: "Big Movie", Type: model.ItemTypeMovie, RunTimeTicks: 3600 * model.TicksPerSecond},
			},
		}
		router = &Router{
			catalog:    fake,
			matcher:    profiles.NewMatcher(emptyProfileRepo{}),
			serverName: "TestServer",
			uuid:       "11111111-2222-3333-4444-555555555555",
			httpPort:   8200,
		}
		client = &clientContext{Vendor: profiles.VendorGeneric}
	})

	Describe("Browse root", func() {
		It("lists libraries as containers", func() {
			resp, err := router.handleBrowse(context.Background(), browseBody("0", "BrowseDirectChildren", 0, 10), client, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.NumberReturned).To(Equal(2))
			Expect(resp.TotalMatches).To(Equal(2))

			didl := decodeResult(resp.Result)
			Expect(didl.Containers).To(HaveLen(2))
			Expect(didl.Containers[0].ID).To(Equal("library:" + moviesLibID))
			Expect(didl.Containers[0].ParentID).To(Equal("0"))
			Expect(didl.Containers[0].Class).To(Equal(classMovieGenre))
			Expect(didl.Containers[0].ChildCount).To(Equal(1))
			Expect(didl.Containers[1].ID).To(Equal("library:" + musicLibID))
			Expect(didl.Containers[1].Class).To(Equal(classStorageFolder))
		})

		It("returns root metadata with the server name", func() {
			resp, err := router.handleBrowse(context.Background(), browseBody("0", "BrowseMetadata", 0, 0), client, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.TotalMatches).To(Equal(1))

			didl := decodeResult(resp.Result)
			Expect(didl.Containers).To(HaveLen(1))
			Expect(didl.Containers[0].ID).To(Equal("0"))
			Expect(didl.Containers[0].ParentID).To(Equal("-1"))
			Expect(didl.Containers[0].Title).To(Equal("TestServer"))
		})
	})

	Describe("Browse a season", func() {
		It("orders episodes by index number with formatted titles", func() {
			resp, err := router.handleBrowse(context.Background(), browseBody(seasonID, "BrowseDirectChildren", 0, 0), client, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.NumberReturned).To(Equal(3))

			didl := decodeResult(resp.Result)
			Expect(didl.Items).To(HaveLen(3))
			Expect(didl.Items[0].Title).To(Equal("1. Pilot"))
			Expect(didl.Items[1].Title).To(Equal("2. Middle"))
			Expect(didl.Items[2].Title).To(Equal("3. Finale"))
		})

		It("paginates after sorting", func() {
			resp, err := router.handleBrowse(context.Background(), browseBody(seasonID, "BrowseDirectChildren", 1, 1), client, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.NumberReturned).To(Equal(1))
			Expect(resp.TotalMatches).To(Equal(3))

			didl := decodeResult(resp.Result)
			Expect(didl.Items[0].Title).To(Equal("2. Middle"))
		})

		It("returns an empty page when StartingIndex is past the end", func() {
			resp, err := router.handleBrowse(context.Background(), browseBody(seasonID, "BrowseDirectChildren", 10, 5), client, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.NumberReturned).To(Equal(0))
			Expect(resp.TotalMatches).To(Equal(3))
		})
	})

	Describe("Browse items", func() {
		It("points res URLs at the local stream endpoint", func() {
			resp, err := router.handleBrowse(context.Background(), browseBody("library:"+moviesLibID, "BrowseDirectChildren", 0, 0), client, req)
			Expect(err).ToNot(HaveOccurred())

			didl := decodeResult(resp.Result)
			Expect(didl.Items).To(HaveLen(1))
			Expect(didl.Items[0].Resources).To(HaveLen(1))
			Expect(didl.Items[0].Resources[0].URL).To(Equal("http://192.168.1.5:8200/stream/" + movieID))
			Expect(didl.Items[0].Resources[0].Duration).To(Equal("1:00:00.000"))
		})

		It("filters excluded extras folders", func() {
			fake.children[moviesLibID] = append(fake.children[moviesLibID],
				model.CatalogItem{ID: "ffffffff-0000-0000-0000-000000000000", Name: "Trailers", Type: model.ItemTypeFolder})
			resp, err := router.handleBrowse(context.Background(), browseBody("library:"+moviesLibID, "BrowseDirectChildren", 0, 0), client, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.TotalMatches).To(Equal(1))
		})

		It("returns an empty result for an unparseable ObjectID", func() {
			resp, err := router.handleBrowse(context.Background(), browseBody("bogus", "BrowseDirectChildren", 0, 0), client, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.NumberReturned).To(Equal(0))
			Expect(resp.TotalMatches).To(Equal(0))
		})
	})

	Describe("Samsung shaping", func() {
		It("adds icon and dcmInfo elements", func() {
			client.Vendor = profiles.VendorSamsung
			resp, err := router.handleBrowse(context.Background(), browseBody(seasonID, "BrowseDirectChildren", 0, 1), client, req)
			Expect(err).ToNot(HaveOccurred())

			didl := decodeResult(resp.Result)
			Expect(didl.Items[0].DcmInfo).To(Equal(dcmInfoItem))
			Expect(didl.Items[0].Icon).ToNot(BeEmpty())
			Expect(didl.Items[0].Resources[0].ProtocolInfo).To(ContainSubstring("AVC_MP4_MP_HD_1080i_AAC"))
		})
	})

	Describe("Result escaping", func() {
		It("escapes titles exactly once through the SOAP envelope", func() {
			fake.children[seasonID] = []model.CatalogItem{
				{ID: "eeeeeeee-0009-0000-0000-000000000000", Name: "Tom & Jerry <Special>", Type: model.ItemTypeMovie},
			}
			resp, err := router.handleBrowse(context.Background(), browseBody(seasonID, "BrowseDirectChildren", 0, 0), client, req)
			Expect(err).ToNot(HaveOccurred())

			envelope, err := xml.Marshal(resp)
			Expect(err).ToNot(HaveOccurred())

			var decoded BrowseResponse
			Expect(xml.Unmarshal(envelope, &decoded)).To(Succeed())
			didl := decodeResult(decoded.Result)
			Expect(didl.Items[0].Title).To(Equal("Tom & Jerry <Special>"))
		})
	})

	Describe("SOAP faults", func() {
		post := func(body string) *httptest.ResponseRecorder {
			faultReq := httptest.NewRequest("POST", "http://192.168.1.5:8200/ContentDirectory/control", strings.NewReader(body))
			faultReq.Header.Set("SOAPAction", `"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`)
			w := httptest.NewRecorder()
			router.handleContentDirectoryControl(w, faultReq)
			return w
		}

		It("answers an unparseable envelope with the Invalid Action fault", func() {
			w := post("this is not xml")
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).To(ContainSubstring("<faultcode>s:Client</faultcode>"))
			Expect(w.Body.String()).To(ContainSubstring("<errorCode>401</errorCode>"))
			Expect(w.Body.String()).To(ContainSubstring("Invalid Action"))
		})

		It("answers a malformed Browse body with the Invalid Action fault", func() {
			w := post(`<?xml version="1.0"?>
				<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
					<s:Body>
						<u:Browse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
							<ObjectID>0</ObjectID>
							<BrowseFlag>BrowseDirectChildren</BrowseFlag>
							<StartingIndex>not-a-number</StartingIndex>
						</u:Browse>
					</s:Body>
				</s:Envelope>`)
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).To(ContainSubstring("<faultcode>s:Client</faultcode>"))
			Expect(w.Body.String()).To(ContainSubstring("<errorCode>401</errorCode>"))
			Expect(w.Body.String()).To(ContainSubstring("Invalid Action"))
		})
	})

	Describe("class mapping", func() {
		DescribeTable("maps catalog types to UPnP classes",
			func(itemType model.ItemType, expected string) {
				Expect(upnpClass(&model.CatalogItem{Type: itemType})).To(Equal(expected))
			},
			Entry("movie", model.ItemTypeMovie, classMovie),
			Entry("episode", model.ItemTypeEpisode, classVideoItem),
			Entry("music video", model.ItemTypeMusicVideo, classMusicVideoClip),
			Entry("audio", model.ItemTypeAudio, classMusicTrack),
			Entry("photo", model.ItemTypePhoto, classPhoto),
			Entry("series", model.ItemTypeSeries, classVideoAlbum),
			Entry("season", model.ItemTypeSeason, classVideoAlbum),
			Entry("music album", model.ItemTypeMusicAlbum, classMusicAlbum),
			Entry("folder", model.ItemTypeFolder, classStorageFolder),
		)
	})

	Describe("duration formatting", func() {
		DescribeTable("round-trips H:MM:SS.mmm strings",
			func(s string) {
				Expect(formatDuration(parseDuration(s))).To(Equal(s))
			},
			Entry("an hour", "1:00:00.000"),
			Entry("with millis", "0:03:25.500"),
			Entry("long", "12:59:59.999"),
			Entry("an odd millisecond", "0:00:11.001"),
		)

		It("round-trips every millisecond fraction", func() {
			for ms := 0; ms < 1000; ms++ {
				s := fmt.Sprintf("0:00:11.%03d", ms)
				Expect(formatDuration(parseDuration(s))).To(Equal(s))
			}
		})

		It("formats zero as 0:00:00.000", func() {
			Expect(formatDuration(0)).To(Equal("0:00:00.000"))
		})
	})

	Describe("description truncation", func() {
		It("truncates long overviews with an ellipsis", func() {
			long := make([]rune, 300)
			for i := range long {
				long[i] = 'x'
			}
			out := truncate(string(long), maxDescription)
			Expect(len([]rune(out))).To(Equal(maxDescription + 3))
			Expect(out[len(out)-3:]).To(Equal("..."))
		})
	})
})

func TestDLNA(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DLNA Suite")
}
