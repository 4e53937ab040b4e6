package playback

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dlnabridge/dlnabridge/core/catalog"
	"github.com/dlnabridge/dlnabridge/model"
)

type recordingClient struct {
	mu       sync.Mutex
	events   []string
	infos    []catalog.PlaybackInfo
	userData map[string]*model.UserItemData
}

func (c *recordingClient) record(event string, info catalog.PlaybackInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.infos = append(c.infos, info)
}

func (c *recordingClient) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *recordingClient) LastInfo() catalog.PlaybackInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infos[len(c.infos)-1]
}

func (c *recordingClient) GetLibraries(context.Context) ([]model.CatalogItem, error) { return nil, nil }
func (c *recordingClient) GetChildren(context.Context, string) ([]model.CatalogItem, error) {
	return nil, nil
}
func (c *recordingClient) GetItem(context.Context, string) (*model.CatalogItem, error) {
	return nil, nil
}

func (c *recordingClient) GetUserData(_ context.Context, itemID string) (*model.UserItemData, error) {
	data, ok := c.userData[itemID]
	if !ok {
		return nil, fmt.Errorf("no user data for %s", itemID)
	}
	return data, nil
}

func (c *recordingClient) StreamURL(string, bool, url.Values) string { return "" }
func (c *recordingClient) ImageURL(string) string                   { return "" }
func (c *recordingClient) SubtitleURLs(string, int) []string        { return nil }

func (c *recordingClient) ReportPlaybackStart(_ context.Context, info catalog.PlaybackInfo) error {
	c.record("start", info)
	return nil
}

func (c *recordingClient) ReportPlaybackProgress(_ context.Context, info catalog.PlaybackInfo) error {
	c.record("progress", info)
	return nil
}

func (c *recordingClient) ReportPlaybackStopped(_ context.Context, info catalog.PlaybackInfo) error {
	c.record("stop", info)
	return nil
}

func (c *recordingClient) MarkPlayed(_ context.Context, itemID string) error {
	c.record("played", catalog.PlaybackInfo{ItemID: itemID})
	return nil
}

var _ catalog.Client = (*recordingClient)(nil)

var _ = Describe("Tracker", func() {
	var tracker *Tracker
	var client *recordingClient
	var clock time.Time
	ctx := context.Background()

	item := &model.CatalogItem{
		ID:           "11111111-aaaa-bbbb-cccc-000000000001",
		Name:         "Feature",
		Type:         model.ItemTypeMovie,
		RunTimeTicks: 3600 * model.TicksPerSecond,
	}

	advance := func(d time.Duration) { clock = clock.Add(d) }

	open := func(startTicks int64) (string, bool) {
		sid, reused, err := tracker.Open(ctx, OpenOptions{
			Item:       item,
			StartTicks: startTicks,
			PlayMethod: PlayMethodDirectStream,
		})
		Expect(err).ToNot(HaveOccurred())
		return sid, reused
	}

	BeforeEach(func() {
		client = &recordingClient{userData: map[string]*model.UserItemData{}}
		clock = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
		tracker = NewTracker(client, "user-1")
		tracker.now = func() time.Time { return clock }
	})

	Describe("Open", func() {
		It("starts a session and reports playback start", func() {
			sid, reused := open(0)
			Expect(sid).ToNot(BeEmpty())
			Expect(reused).To(BeFalse())
			Expect(tracker.ActiveSessions()).To(Equal(1))
			Expect(client.Events()).To(Equal([]string{"start"}))
			Expect(client.LastInfo().PlayMethod).To(Equal(PlayMethodDirectStream))
		})

		It("reuses the session on rapid reconnect at the same position", func() {
			sid, _ := open(0)
			advance(5 * time.Second)
			sid2, reused := open(0)
			Expect(sid2).To(Equal(sid))
			Expect(reused).To(BeTrue())
			Expect(client.Events()).To(Equal([]string{"start"}))
		})

		It("reports a reconnect at a diverged position as a seek", func() {
			sid, _ := open(0)
			advance(5 * time.Second)
			seekTo := 300 * model.TicksPerSecond
			sid2, reused := open(seekTo)
			Expect(sid2).To(Equal(sid))
			Expect(reused).To(BeTrue())
			Expect(client.Events()).To(Equal([]string{"start", "progress"}))
			Expect(client.LastInfo().PositionTicks).To(Equal(seekTo))

			pos, ok := tracker.Position(sid)
			Expect(ok).To(BeTrue())
			Expect(pos).To(Equal(seekTo))
		})

		It("replaces the session when the reconnect window has passed", func() {
			sid, _ := open(0)
			advance(dedupWindow + time.Second)
			sid2, reused := open(0)
			Expect(sid2).ToNot(Equal(sid))
			Expect(reused).To(BeFalse())
			Expect(client.Events()).To(Equal([]string{"start", "stop", "start"}))
			Expect(tracker.ActiveSessions()).To(Equal(1))
		})
	})

	Describe("MaybeReportProgress", func() {
		It("throttles reports to the progress cadence", func() {
			sid, _ := open(0)
			tracker.MaybeReportProgress(ctx, sid)
			tracker.MaybeReportProgress(ctx, sid)
			Expect(client.Events()).To(Equal([]string{"start", "progress"}))

			advance(ProgressInterval)
			tracker.MaybeReportProgress(ctx, sid)
			Expect(client.Events()).To(Equal([]string{"start", "progress", "progress"}))
		})

		It("ignores unknown sessions", func() {
			tracker.MaybeReportProgress(ctx, "nope")
			Expect(client.Events()).To(BeEmpty())
		})
	})

	Describe("Seek", func() {
		It("moves the position and reports immediately", func() {
			sid, _ := open(0)
			tracker.Seek(ctx, sid, 120*model.TicksPerSecond)
			Expect(client.Events()).To(Equal([]string{"start", "progress"}))
			pos, _ := tracker.Position(sid)
			Expect(pos).To(Equal(120 * model.TicksPerSecond))
		})
	})

	Describe("Stop", func() {
		It("reports once and destroys the session", func() {
			sid, _ := open(0)
			tracker.Stop(ctx, sid, false)
			tracker.Stop(ctx, sid, false)
			Expect(client.Events()).To(Equal([]string{"start", "stop"}))
			Expect(tracker.ActiveSessions()).To(BeZero())
		})

		It("marks the item played when asked", func() {
			sid, _ := open(0)
			tracker.Stop(ctx, sid, true)
			Expect(client.Events()).To(Equal([]string{"start", "stop", "played"}))
		})
	})

	Describe("Complete", func() {
		It("marks watched past the threshold", func() {
			sid, _ := open(0)
			tracker.Seek(ctx, sid, 3000*model.TicksPerSecond)
			tracker.Complete(ctx, sid, false)
			Expect(client.Events()).To(ContainElement("played"))
		})

		It("stops without watched below the threshold", func() {
			sid, _ := open(0)
			tracker.Seek(ctx, sid, 600*model.TicksPerSecond)
			tracker.Complete(ctx, sid, false)
			Expect(client.Events()).To(Equal([]string{"start", "progress", "stop"}))
		})

		It("marks an uninterrupted full play from the start as watched", func() {
			sid, _ := open(0)
			tracker.RecordBytes(sid, 3_600_000_000)
			tracker.Complete(ctx, sid, true)
			Expect(client.Events()).To(Equal([]string{"start", "stop", "played"}))
			Expect(tracker.ActiveSessions()).To(BeZero())
		})

		It("keeps the item unwatched when the delivered range stops short of the tail", func() {
			sid, _ := open(0)
			tracker.RecordBytes(sid, 1<<20)
			tracker.Complete(ctx, sid, false)
			Expect(client.Events()).To(Equal([]string{"start", "stop"}))
		})
	})

	Describe("Disconnect", func() {
		It("pauses an established mid-stream session", func() {
			sid, _ := open(0)
			tracker.RecordBytes(sid, 6<<20)
			advance(time.Minute)
			tracker.Disconnect(ctx, sid)

			Expect(client.Events()).To(Equal([]string{"start", "progress"}))
			info := client.LastInfo()
			Expect(info.IsPaused).To(BeTrue())
			Expect(info.EventName).To(Equal("pause"))
			Expect(tracker.ActiveSessions()).To(Equal(1))
		})

		It("stops a session that barely streamed", func() {
			sid, _ := open(0)
			tracker.RecordBytes(sid, 1024)
			advance(time.Minute)
			tracker.Disconnect(ctx, sid)
			Expect(client.Events()).To(Equal([]string{"start", "stop"}))
		})

		It("stops a session that reached the end", func() {
			sid, _ := open(0)
			tracker.RecordBytes(sid, 6<<20)
			tracker.Seek(ctx, sid, 3550*model.TicksPerSecond)
			advance(time.Minute)
			tracker.Disconnect(ctx, sid)
			Expect(client.Events()).To(Equal([]string{"start", "progress", "stop"}))
		})
	})

	Describe("SweepStale", func() {
		It("evicts active sessions idle past the limit", func() {
			open(0)
			advance(16 * time.Minute)
			tracker.SweepStale(ctx)
			Expect(tracker.ActiveSessions()).To(BeZero())
			Expect(client.Events()).To(Equal([]string{"start", "stop"}))
		})

		It("keeps paused sessions around longer", func() {
			sid, _ := open(0)
			tracker.RecordBytes(sid, 6<<20)
			advance(time.Minute)
			tracker.Disconnect(ctx, sid)

			advance(16 * time.Minute)
			tracker.SweepStale(ctx)
			Expect(tracker.ActiveSessions()).To(Equal(1))

			advance(2 * time.Hour)
			tracker.SweepStale(ctx)
			Expect(tracker.ActiveSessions()).To(BeZero())
		})
	})
})

var _ = Describe("Start position", func() {
	item := &model.CatalogItem{
		ID:           "11111111-aaaa-bbbb-cccc-000000000002",
		RunTimeTicks: 3600 * model.TicksPerSecond,
	}
	// At the assumed 8 Mbps, an hour of content is 3.6 GB.
	estimatedTotalBytes := int64(3_600_000_000)

	Describe("CalculateSeekTicks", func() {
		It("maps a byte offset to a position by ratio", func() {
			ticks := CalculateSeekTicks(estimatedTotalBytes/2, item.RunTimeTicks)
			Expect(ticks).To(BeNumerically("~", 1800*model.TicksPerSecond, model.TicksPerSecond))
		})

		It("clamps past-the-end offsets to the run time", func() {
			Expect(CalculateSeekTicks(estimatedTotalBytes*2, item.RunTimeTicks)).To(Equal(item.RunTimeTicks))
		})

		It("returns zero without a range start or run time", func() {
			Expect(CalculateSeekTicks(0, item.RunTimeTicks)).To(BeZero())
			Expect(CalculateSeekTicks(1000, 0)).To(BeZero())
		})
	})

	Describe("ResolveStartTicks", func() {
		var client *recordingClient
		ctx := context.Background()
		threshold := time.Minute

		BeforeEach(func() {
			client = &recordingClient{userData: map[string]*model.UserItemData{}}
		})

		It("returns zero when nothing suggests a position", func() {
			Expect(ResolveStartTicks(ctx, client, item, 0, threshold)).To(BeZero())
		})

		It("ignores range starts below the probing threshold", func() {
			Expect(ResolveStartTicks(ctx, client, item, 512, threshold)).To(BeZero())
		})

		It("prefers the stored resume position", func() {
			client.userData[item.ID] = &model.UserItemData{PlaybackPositionTicks: 600 * model.TicksPerSecond}
			Expect(ResolveStartTicks(ctx, client, item, 0, threshold)).To(Equal(600 * model.TicksPerSecond))
		})

		It("ignores resume positions under two minutes", func() {
			client.userData[item.ID] = &model.UserItemData{PlaybackPositionTicks: 90 * model.TicksPerSecond}
			Expect(ResolveStartTicks(ctx, client, item, 0, threshold)).To(BeZero())
		})

		It("ignores resume positions for played items", func() {
			client.userData[item.ID] = &model.UserItemData{PlaybackPositionTicks: 600 * model.TicksPerSecond, Played: true}
			Expect(ResolveStartTicks(ctx, client, item, 0, threshold)).To(BeZero())
		})

		It("keeps the resume position when a range seek lands nearby", func() {
			client.userData[item.ID] = &model.UserItemData{PlaybackPositionTicks: 600 * model.TicksPerSecond}
			rangeStart := estimatedTotalBytes * 630 / 3600
			Expect(ResolveStartTicks(ctx, client, item, rangeStart, threshold)).To(Equal(600 * model.TicksPerSecond))
		})

		It("follows the range seek when it diverges from the resume position", func() {
			client.userData[item.ID] = &model.UserItemData{PlaybackPositionTicks: 600 * model.TicksPerSecond}
			rangeStart := estimatedTotalBytes / 2
			Expect(ResolveStartTicks(ctx, client, item, rangeStart, threshold)).
				To(BeNumerically("~", 1800*model.TicksPerSecond, model.TicksPerSecond))
		})
	})
})

func TestPlayback(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Playback Suite")
}
