// Package playback owns playback sessions for streamed items and reports
// start/progress/stop/watched telemetry to the upstream catalog.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dlnabridge/dlnabridge/core/catalog"
	"github.com/dlnabridge/dlnabridge/log"
	"github.com/dlnabridge/dlnabridge/model"
	"github.com/dlnabridge/dlnabridge/model/id"
)

const (
	PlayMethodDirectStream = "DirectStream"
	PlayMethodTranscode    = "Transcode"

	// ProgressInterval is the wall-clock cadence of progress reports while
	// bytes are flowing.
	ProgressInterval = 15 * time.Second

	// Reconnects within this window reuse the existing session.
	dedupWindow = 30 * time.Second

	// Position divergence above which a reconnect is reported as a seek.
	seekReportThreshold = 10 * model.TicksPerSecond

	// Staleness eviction thresholds for the periodic sweep.
	activeStaleAfter = 15 * time.Minute
	pausedStaleAfter = 2 * time.Hour

	// Items played past this fraction are marked watched on stop.
	watchedThreshold = 0.8

	// Disconnect is treated as a pause (not a stop) only for sessions that
	// streamed a meaningful amount and are not at the very end.
	pauseMinBytes         = 5 << 20
	pauseMinDuration      = 30 * time.Second
	pauseMaxPositionRatio = 0.95
)

// Session is the unit of playback tracking, created per streamed item.
type Session struct {
	ID                   string
	ItemID               string
	UserID               string
	StartTime            time.Time
	LastProgressUpdate   time.Time
	LastPositionTicks    int64
	IsPaused             bool
	UserAgent            string
	ClientEndpoint       string
	TotalBytesStreamed   int64
	InitialPositionTicks int64
	RunTimeTicks         int64
	PlayMethod           string
}

// Progress is the live byte/position accounting for a session.
type Progress struct {
	CurrentTicks         int64
	LastReportedPosition int64
	LastReportedTime     time.Time
	LastUpdateTime       time.Time
	TotalBytesStreamed   int64
	HasBeenSeeked        bool
	LastSeekTime         time.Time
	ReportCount          int
}

// OpenOptions describes a new stream attach.
type OpenOptions struct {
	Item           *model.CatalogItem
	StartTicks     int64
	UserAgent      string
	ClientEndpoint string
	PlayMethod     string
}

// Tracker owns all sessions. Indexes hold only opaque IDs so eviction has a
// single mutation site.
type Tracker struct {
	client catalog.Client
	userID string
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	progress map[string]*Progress
	byItem   map[string]string
	stopping map[string]bool
}

func NewTracker(client catalog.Client, userID string) *Tracker {
	return &Tracker{
		client:   client,
		userID:   userID,
		now:      time.Now,
		sessions: map[string]*Session{},
		progress: map[string]*Progress{},
		byItem:   map[string]string{},
		stopping: map[string]bool{},
	}
}

// Open attaches a stream to a playback session. Rapid reconnects for the same
// item reuse the live session; a position divergence above 10s is reported as
// a seek. Returns the session ID and whether an existing session was reused.
func (t *Tracker) Open(ctx context.Context, opts OpenOptions) (string, bool, error) {
	itemID := opts.Item.ID
	now := t.now()

	t.mu.Lock()
	if existingID, ok := t.byItem[itemID]; ok {
		prog := t.progress[existingID]
		sess := t.sessions[existingID]
		if prog != nil && sess != nil && now.Sub(prog.LastUpdateTime) <= dedupWindow {
			seeked := false
			if diff := opts.StartTicks - prog.CurrentTicks; diff > seekReportThreshold || diff < -seekReportThreshold {
				prog.CurrentTicks = opts.StartTicks
				prog.HasBeenSeeked = true
				prog.LastSeekTime = now
				seeked = true
			}
			prog.LastUpdateTime = now
			sess.IsPaused = false
			info := t.reportInfoLocked(sess, prog)
			t.mu.Unlock()

			if seeked {
				log.Debug(ctx, "Reusing playback session after seek", "session", existingID, "item", itemID)
				if err := t.client.ReportPlaybackProgress(ctx, info); err != nil {
					log.Warn(ctx, "Failed to report seek", "session", existingID, err)
				}
				t.markReported(existingID)
			}
			return existingID, true, nil
		}
		// Stale entry for the same item: evict before starting fresh.
		t.mu.Unlock()
		t.Stop(ctx, existingID, false)
		t.mu.Lock()
	}

	sessionID := id.NewRandom()
	sess := &Session{
		ID:                   sessionID,
		ItemID:               itemID,
		UserID:               t.userID,
		StartTime:            now,
		LastProgressUpdate:   now,
		LastPositionTicks:    opts.StartTicks,
		UserAgent:            opts.UserAgent,
		ClientEndpoint:       opts.ClientEndpoint,
		InitialPositionTicks: opts.StartTicks,
		RunTimeTicks:         opts.Item.RunTime(),
		PlayMethod:           opts.PlayMethod,
	}
	t.sessions[sessionID] = sess
	t.progress[sessionID] = &Progress{
		CurrentTicks:   opts.StartTicks,
		LastUpdateTime: now,
	}
	t.byItem[itemID] = sessionID
	info := catalog.PlaybackInfo{
		ItemID:         itemID,
		SessionID:      sessionID,
		PositionTicks:  opts.StartTicks,
		StartTimeTicks: opts.StartTicks,
		PlayMethod:     opts.PlayMethod,
	}
	t.mu.Unlock()

	log.Info(ctx, "Playback started", "session", sessionID, "item", itemID,
		"method", opts.PlayMethod, "startTicks", opts.StartTicks, "client", opts.ClientEndpoint)
	if err := t.client.ReportPlaybackStart(ctx, info); err != nil {
		log.Warn(ctx, "Failed to report playback start", "session", sessionID, err)
	}
	return sessionID, false, nil
}

// RecordBytes accounts streamed bytes for a session. Called on every copy-loop
// iteration; missing sessions are silently ignored.
func (t *Tracker) RecordBytes(sessionID string, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prog, ok := t.progress[sessionID]
	if !ok {
		return
	}
	prog.TotalBytesStreamed += n
	prog.LastUpdateTime = t.now()
	if sess, ok := t.sessions[sessionID]; ok {
		sess.TotalBytesStreamed += n
	}
}

// MaybeReportProgress sends a progress report if the cadence interval elapsed.
func (t *Tracker) MaybeReportProgress(ctx context.Context, sessionID string) {
	t.mu.Lock()
	prog, ok := t.progress[sessionID]
	sess := t.sessions[sessionID]
	if !ok || sess == nil {
		t.mu.Unlock()
		return
	}
	if t.now().Sub(prog.LastReportedTime) < ProgressInterval {
		t.mu.Unlock()
		return
	}
	info := t.reportInfoLocked(sess, prog)
	t.mu.Unlock()

	if err := t.client.ReportPlaybackProgress(ctx, info); err != nil {
		log.Warn(ctx, "Failed to report progress", "session", sessionID, err)
		return
	}
	t.markReported(sessionID)
}

// Seek moves the session position. Position advances only through this call
// or reconnect inference, never from byte counts.
func (t *Tracker) Seek(ctx context.Context, sessionID string, ticks int64) {
	t.mu.Lock()
	prog, ok := t.progress[sessionID]
	sess := t.sessions[sessionID]
	if !ok || sess == nil {
		t.mu.Unlock()
		return
	}
	prog.CurrentTicks = ticks
	prog.HasBeenSeeked = true
	prog.LastSeekTime = t.now()
	sess.LastPositionTicks = ticks
	info := t.reportInfoLocked(sess, prog)
	t.mu.Unlock()

	if err := t.client.ReportPlaybackProgress(ctx, info); err != nil {
		log.Warn(ctx, "Failed to report seek", "session", sessionID, err)
		return
	}
	t.markReported(sessionID)
}

// Pause reports the session paused without destroying it.
func (t *Tracker) Pause(ctx context.Context, sessionID string) {
	t.mu.Lock()
	prog, ok := t.progress[sessionID]
	sess := t.sessions[sessionID]
	if !ok || sess == nil {
		t.mu.Unlock()
		return
	}
	sess.IsPaused = true
	sess.LastProgressUpdate = t.now()
	info := t.reportInfoLocked(sess, prog)
	info.IsPaused = true
	info.EventName = "pause"
	t.mu.Unlock()

	log.Debug(ctx, "Playback paused", "session", sessionID)
	if err := t.client.ReportPlaybackProgress(ctx, info); err != nil {
		log.Warn(ctx, "Failed to report pause", "session", sessionID, err)
	}
}

// Stop reports the end of the session and destroys it. Concurrent or repeated
// Stop calls for the same session are no-ops.
func (t *Tracker) Stop(ctx context.Context, sessionID string, markWatched bool) {
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	if !ok || t.stopping[sessionID] {
		t.mu.Unlock()
		return
	}
	t.stopping[sessionID] = true
	prog := t.progress[sessionID]
	info := t.reportInfoLocked(sess, prog)
	itemID := sess.ItemID
	bytes := int64(0)
	if prog != nil {
		bytes = prog.TotalBytesStreamed
	}
	t.mu.Unlock()

	log.Info(ctx, "Playback stopped", "session", sessionID, "item", itemID,
		"watched", markWatched, "streamed", humanize.Bytes(uint64(bytes)))
	if err := t.client.ReportPlaybackStopped(ctx, info); err != nil {
		log.Warn(ctx, "Failed to report playback stop", "session", sessionID, err)
	}
	if markWatched {
		if err := t.client.MarkPlayed(ctx, itemID); err != nil {
			log.Warn(ctx, "Failed to mark item played", "item", itemID, err)
		}
	}

	t.mu.Lock()
	delete(t.sessions, sessionID)
	delete(t.progress, sessionID)
	delete(t.stopping, sessionID)
	if t.byItem[itemID] == sessionID {
		delete(t.byItem, itemID)
	}
	t.mu.Unlock()
}

// Complete handles a clean end-of-stream: stop, marking watched when the
// position passed the watched threshold. The position only moves on explicit
// seeks, so when the delivered body ran through the end of the file the
// caller sets reachedEnd and the position is advanced to the runtime first;
// an uninterrupted play from byte zero then counts as watched.
func (t *Tracker) Complete(ctx context.Context, sessionID string, reachedEnd bool) {
	t.mu.Lock()
	sess := t.sessions[sessionID]
	prog := t.progress[sessionID]
	if sess == nil || prog == nil {
		t.mu.Unlock()
		return
	}
	if reachedEnd && sess.RunTimeTicks > 0 {
		prog.CurrentTicks = sess.RunTimeTicks
		sess.LastPositionTicks = sess.RunTimeTicks
	}
	watched := sess.RunTimeTicks > 0 &&
		float64(prog.CurrentTicks) >= watchedThreshold*float64(sess.RunTimeTicks)
	t.mu.Unlock()

	t.Stop(ctx, sessionID, watched)
}

// Disconnect applies the pause-vs-stop heuristic when the downstream writer
// fails: long-running mid-stream sessions pause, everything else stops.
func (t *Tracker) Disconnect(ctx context.Context, sessionID string) {
	t.mu.Lock()
	sess := t.sessions[sessionID]
	prog := t.progress[sessionID]
	if sess == nil || prog == nil {
		t.mu.Unlock()
		return
	}
	elapsed := t.now().Sub(sess.StartTime)
	nearEnd := sess.RunTimeTicks > 0 &&
		float64(prog.CurrentTicks) >= pauseMaxPositionRatio*float64(sess.RunTimeTicks)
	treatAsPause := prog.TotalBytesStreamed >= pauseMinBytes &&
		elapsed >= pauseMinDuration && !nearEnd
	t.mu.Unlock()

	if treatAsPause {
		t.Pause(ctx, sessionID)
		return
	}
	t.Stop(ctx, sessionID, false)
}

// SweepStale destroys sessions that stopped updating: 15 minutes for active
// sessions, 2 hours for paused ones.
func (t *Tracker) SweepStale(ctx context.Context) {
	now := t.now()
	var stale []string
	t.mu.Lock()
	for sid, prog := range t.progress {
		sess := t.sessions[sid]
		if sess == nil {
			continue
		}
		limit := activeStaleAfter
		if sess.IsPaused {
			limit = pausedStaleAfter
		}
		if now.Sub(prog.LastUpdateTime) > limit {
			stale = append(stale, sid)
		}
	}
	t.mu.Unlock()

	for _, sid := range stale {
		log.Info(ctx, "Evicting stale playback session", "session", sid)
		t.Stop(ctx, sid, false)
	}
}

// Position returns the current position of a session in ticks.
func (t *Tracker) Position(sessionID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prog, ok := t.progress[sessionID]
	if !ok {
		return 0, false
	}
	return prog.CurrentTicks, true
}

// ActiveSessions returns the number of live sessions.
func (t *Tracker) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) reportInfoLocked(sess *Session, prog *Progress) catalog.PlaybackInfo {
	info := catalog.PlaybackInfo{
		ItemID:     sess.ItemID,
		SessionID:  sess.ID,
		PlayMethod: sess.PlayMethod,
		IsPaused:   sess.IsPaused,
	}
	if prog != nil {
		info.PositionTicks = prog.CurrentTicks
	}
	return info
}

func (t *Tracker) markReported(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prog, ok := t.progress[sessionID]; ok {
		prog.LastReportedPosition = prog.CurrentTicks
		prog.LastReportedTime = t.now()
		prog.ReportCount++
	}
	if sess, ok := t.sessions[sessionID]; ok {
		sess.LastProgressUpdate = t.now()
		if prog, ok := t.progress[sessionID]; ok {
			sess.LastPositionTicks = prog.CurrentTicks
		}
	}
}
