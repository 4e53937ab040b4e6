package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
)

const (
	catalogTimeout = 30 * time.Second

	// Browse bursts from TVs can be aggressive; keep the upstream polite.
	catalogRateLimit = 20
	catalogBurst     = 10

	// itemFields is the field set requested on every item listing.
	itemFields = "MediaSources,Overview,Genres,ParentId,ChildCount,ProductionYear"
)

// UpstreamError wraps any non-2xx or transport failure from the catalog.
type UpstreamError struct {
	Status int
	Op     string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("catalog %s returned status %d", e.Op, e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

type itemsResponse struct {
	Items            []model.CatalogItem `json:"Items"`
	TotalRecordCount int                 `json:"TotalRecordCount"`
}

type httpClient struct {
	baseURL    string
	token      string
	userID     string
	deviceName string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a catalog client for the given server.
func NewClient(serverURL, accessToken, userID, deviceName string) Client {
	return &httpClient{
		baseURL:    strings.TrimRight(serverURL, "/"),
		token:      accessToken,
		userID:     userID,
		deviceName: deviceName,
		client: &http.Client{
			Timeout: catalogTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(catalogRateLimit), catalogBurst),
	}
}

func (c *httpClient) GetLibraries(ctx context.Context) ([]model.CatalogItem, error) {
	params := url.Values{
		"UserId":    {c.userID},
		"Recursive": {"false"},
		"Fields":    {itemFields},
	}
	var resp itemsResponse
	if err := c.getJSON(ctx, "/Items", params, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *httpClient) GetChildren(ctx context.Context, parentID string) ([]model.CatalogItem, error) {
	params := url.Values{
		"UserId":    {c.userID},
		"ParentId":  {parentID},
		"Recursive": {"false"},
		"Fields":    {itemFields},
		"SortBy":    {"SortName"},
		"SortOrder": {"Ascending"},
	}
	var resp itemsResponse
	if err := c.getJSON(ctx, "/Items", params, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *httpClient) GetItem(ctx context.Context, id string) (*model.CatalogItem, error) {
	params := url.Values{
		"UserId": {c.userID},
		"Fields": {itemFields},
	}
	var item model.CatalogItem
	if err := c.getJSON(ctx, "/Items/"+url.PathEscape(id), params, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *httpClient) GetUserData(ctx context.Context, itemID string) (*model.UserItemData, error) {
	path := fmt.Sprintf("/Users/%s/Items/%s/UserData", url.PathEscape(c.userID), url.PathEscape(itemID))
	var data model.UserItemData
	if err := c.getJSON(ctx, path, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *httpClient) StreamURL(itemID string, transcode bool, params url.Values) string {
	p := url.Values{}
	for k, vs := range params {
		p[k] = vs
	}
	p.Set("api_key", c.token)
	path := "/Videos/" + url.PathEscape(itemID) + "/stream"
	if transcode {
		path += ".mp4"
	}
	return c.baseURL + path + "?" + p.Encode()
}

func (c *httpClient) ImageURL(itemID string) string {
	p := url.Values{
		"maxWidth": {"600"},
		"quality":  {"90"},
		"api_key":  {c.token},
	}
	return c.baseURL + "/Items/" + url.PathEscape(itemID) + "/Images/Primary?" + p.Encode()
}

func (c *httpClient) SubtitleURLs(itemID string, index int) []string {
	id := url.PathEscape(itemID)
	idx := strconv.Itoa(index)
	p := "?api_key=" + url.QueryEscape(c.token)
	return []string{
		c.baseURL + "/Videos/" + id + "/" + id + "/Subtitles/" + idx + "/0/Stream.srt" + p,
		c.baseURL + "/Videos/" + id + "/" + id + "/Subtitles/" + idx + "/Stream.srt" + p,
	}
}

// Telemetry payload sent to the playback reporting endpoints.
type playbackPayload struct {
	UserID         string `json:"UserId"`
	ItemID         string `json:"ItemId"`
	SessionID      string `json:"SessionId"`
	MediaSourceID  string `json:"MediaSourceId"`
	PlaySessionID  string `json:"PlaySessionId"`
	CanSeek        bool   `json:"CanSeek"`
	PlayMethod     string `json:"PlayMethod"`
	PositionTicks  int64  `json:"PositionTicks"`
	StartTimeTicks int64  `json:"StartTimeTicks,omitempty"`
	IsPaused       bool   `json:"IsPaused"`
	Failed         bool   `json:"Failed"`
	EventName      string `json:"EventName,omitempty"`
}

func (c *httpClient) payload(info PlaybackInfo) playbackPayload {
	return playbackPayload{
		UserID:         c.userID,
		ItemID:         info.ItemID,
		SessionID:      info.SessionID,
		MediaSourceID:  info.ItemID,
		PlaySessionID:  info.SessionID,
		CanSeek:        true,
		PlayMethod:     info.PlayMethod,
		PositionTicks:  info.PositionTicks,
		StartTimeTicks: info.StartTimeTicks,
		IsPaused:       info.IsPaused,
		EventName:      info.EventName,
	}
}

func (c *httpClient) ReportPlaybackStart(ctx context.Context, info PlaybackInfo) error {
	p := c.payload(info)
	if p.EventName == "" {
		p.EventName = "playbackstart"
	}
	return c.postJSON(ctx, "/Sessions/Playing", p)
}

func (c *httpClient) ReportPlaybackProgress(ctx context.Context, info PlaybackInfo) error {
	p := c.payload(info)
	if p.EventName == "" {
		if info.IsPaused {
			p.EventName = "pause"
		} else {
			p.EventName = "timeupdate"
		}
	}
	return c.postJSON(ctx, "/Sessions/Playing/Progress", p)
}

func (c *httpClient) ReportPlaybackStopped(ctx context.Context, info PlaybackInfo) error {
	p := c.payload(info)
	p.EventName = ""
	return c.postJSON(ctx, "/Sessions/Playing/Stopped", p)
}

func (c *httpClient) MarkPlayed(ctx context.Context, itemID string) error {
	path := fmt.Sprintf("/Users/%s/PlayedItems/%s", url.PathEscape(c.userID), url.PathEscape(itemID))
	return c.postJSON(ctx, path, struct{}{})
}

func (c *httpClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return &UpstreamError{Op: "GET " + path, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return &UpstreamError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: "GET " + path, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Op: "GET " + path, Err: err}
	}
	return nil
}

func (c *httpClient) postJSON(ctx context.Context, path string, body interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return &UpstreamError{Op: "POST " + path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return &UpstreamError{Op: "POST " + path, Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &UpstreamError{Op: "POST " + path, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: "POST " + path, Status: resp.StatusCode}
	}
	log.Debug(ctx, "Catalog report sent", "path", path)
	return nil
}

func (c *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("X-Emby-Token", c.token)
	req.Header.Set("User-Agent", c.deviceName+"/1.0")
}
