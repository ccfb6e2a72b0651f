// Package manager implements the Manager state machine: the single-owner
// actor that drives reads off the bus connection, advances the wire parser,
// fans out decoded events to subscriber queues under backpressure, and
// periodically sweeps dead subscriptions. Every operation runs under one
// mutex, matching the bus connection's original direct-lock style rather
// than a command-channel actor -- there is at most one active call into the
// Manager at any instant, so a channel-based actor would only add latency
// without adding concurrency.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/alanyoungcy/busgate/internal/auditlog"
	"github.com/alanyoungcy/busgate/internal/busconn"
	"github.com/alanyoungcy/busgate/internal/decode"
	"github.com/alanyoungcy/busgate/internal/domain"
	"github.com/alanyoungcy/busgate/internal/subtable"
	"github.com/alanyoungcy/busgate/internal/wire"
)

const pingInterval = 30 * time.Second

// Manager is the core fan-out state machine described by the component
// design: it owns the bus connection, the subscription table, and the
// hashtag tag cache, all behind a single mutex.
type Manager struct {
	mu sync.Mutex

	conn      *busconn.BusConnection
	table     *subtable.Table
	tags      *decode.TagCache
	nextID    atomic.Uint64 // channel ids are handed out monotonically, never recycled
	lastPing  time.Time
	log       *slog.Logger
	namespace string
	audit     domain.AuditBus // optional; nil disables audit logging
}

// New constructs a Manager around an already-dialed bus connection.
func New(conn *busconn.BusConnection, tags *decode.TagCache, log *slog.Logger) *Manager {
	return &Manager{
		conn:      conn,
		table:     subtable.New(),
		tags:      tags,
		lastPing:  time.Now(),
		log:       log,
		namespace: conn.Namespace(),
	}
}

// WithAuditBus attaches an optional audit trail: every SUBSCRIBE/UNSUBSCRIBE
// transition and ping-sweep reap is then appended (fire-and-forget) to it.
func (m *Manager) WithAuditBus(bus domain.AuditBus) *Manager {
	m.audit = bus
	return m
}

// Run drives the read/parse/fan-out loop until ctx is cancelled or a fatal
// bus I/O error occurs. It is meant to run as one goroutine supervised by an
// errgroup; on return it has already issued a best-effort broadcast
// UNSUBSCRIBE of every timeline it still held.
func (m *Manager) Run(ctx context.Context) error {
	defer m.shutdownUnsubscribeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m.maybePingSweep()

		for {
			m.mu.Lock()
			result, _, err := m.conn.PollRead(200 * time.Millisecond)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("manager: bus read: %w", err)
			}
			if result == busconn.ReadNotReady {
				m.mu.Unlock()
				break
			}
			m.parseLoop()
			m.mu.Unlock()
		}
	}
}

// maybePingSweep runs the 30-second liveness sweep described in §4.5.1.
func (m *Manager) maybePingSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastPing) < pingInterval {
		return
	}
	m.lastPing = time.Now()

	pingEvent := &domain.Event{Kind: domain.EventPing}
	emptied := m.table.Sweep(func(q subtable.OutboundQueue) bool {
		if q.Closed() {
			return true
		}
		return !q.TrySend(pingEvent)
	})
	if len(emptied) > 0 {
		if err := m.conn.SendCmd(busconn.CmdUnsubscribe, emptied); err != nil {
			m.log.Error("ping sweep: unsubscribe failed", "error", err, "count", len(emptied))
		} else {
			m.log.Info("ping sweep: reaped empty timelines", "count", len(emptied))
		}
		if m.audit != nil {
			for _, tl := range emptied {
				auditlog.Log(context.Background(), m.audit, m.log, "ping_sweep_reap", tl.String(), nil)
			}
		}
	}
}

// parseLoop repeatedly advances WireParser over the unread window, fanning
// out messages and recovering from malformed frames, until the window is
// exhausted or a frame is incomplete. Caller must hold m.mu.
func (m *Manager) parseLoop() {
	for {
		w := m.conn.Window()
		if len(w) == 0 {
			return
		}

		res := wire.Parse(string(w))
		switch res.Kind {
		case wire.KindMessage:
			if !m.dispatch(res) {
				// Backpressure: rewind already positioned read_start at this
				// message's start; stop parsing until the next wake-up.
				return
			}
			m.conn.Advance(res.Consumed)
		case wire.KindNonMessage:
			m.conn.Advance(res.Consumed)
		case wire.KindIncomplete:
			m.conn.Compact()
			return
		case wire.KindError:
			m.log.Warn("parse error, rewinding to next frame boundary", "error", res.Err)
			m.rewindToNextFrame()
		}
	}
}

// dispatch decodes one recognized message and fans it out. Returns false if
// fan-out aborted due to backpressure on some channel (in which case it has
// already rewound the read cursor to this message's start).
func (m *Manager) dispatch(res wire.Result) bool {
	channel := res.Channel
	if m.namespace != "" {
		prefix := m.namespace + ":"
		if !strings.HasPrefix(channel, prefix) {
			return true // does not match namespace; caller still advances past it
		}
		channel = strings.TrimPrefix(channel, prefix)
	}

	tl, err := decode.TimelineFromChannel(channel, m.tags)
	if err != nil {
		m.log.Warn("dropping message: unresolvable timeline", "channel", channel, "error", err)
		return true
	}

	ev, err := decode.EventFromJSON(res.Payload)
	if err != nil {
		m.log.Warn("dropping message: undecodable event", "channel", channel, "error", err)
		return true
	}

	channels := m.table.ChannelsOf(tl)
	for _, q := range channels {
		if q.Closed() {
			continue
		}
		if !q.TrySend(ev) {
			m.log.Warn("channel full, rewinding", "timeline", tl.String())
			// +1 so the backward search window includes this message's own
			// leading '*' byte; without it the search can only ever find
			// the marker before THIS one and re-deliver an earlier,
			// already-fully-delivered message instead.
			m.rewindToOffset(m.conn.ReadStart() + 1)
			return false
		}
	}
	return true
}

// rewindToNextFrame implements malformed-frame recovery: the bytes at the
// read cursor cannot start a frame, and every frame before them has already
// been dispatched, so resynchronize at the next "\r\n*" marker after the
// error position (e.g. past the leading garbage run in spec.md's S5 case).
// Scanning forward always makes progress, so the Manager never re-parses the
// identical unparseable window, or replays an already-delivered frame, in a
// loop.
func (m *Manager) rewindToNextFrame() {
	m.skipForward(m.conn.ReadStart())
}

// rewindToOffset resynchronizes to the frame marker immediately preceding
// from. dispatch passes one past a backpressured message's own start so the
// search window includes that marker's leading '*' byte; this re-parks the
// read cursor on the deferred message itself, not an earlier one, so a
// resumed parse replays at most that single message (§4.5.5/§8). If no
// marker precedes it, the message was already sitting at the start of the
// buffered input (readStart == 0), which is where it belongs.
func (m *Manager) rewindToOffset(from int) {
	if !m.rewindFrom(from) {
		m.conn.RewindTo(0)
	}
}

// rewindFrom scans input[:searchEnd] backward for the last "\r\n*" frame
// marker, confirming each candidate self-synchronizes by re-parsing and
// looping further back on failure. Returns false if no candidate
// resynchronizes before the start of the buffered input, leaving the read
// cursor at whatever candidate it last tried.
func (m *Manager) rewindFrom(searchEnd int) bool {
	input := m.conn.RawInput()
	for {
		idx := strings.LastIndex(string(input[:searchEnd]), "\r\n*")
		if idx < 0 {
			return false
		}
		candidate := idx + len("\r\n")
		m.conn.RewindTo(candidate)

		w := m.conn.Window()
		res := wire.Parse(string(w))
		if res.Kind == wire.KindMessage || res.Kind == wire.KindNonMessage {
			return true
		}
		searchEnd = candidate
	}
}

// skipForward advances the read cursor past malformed bytes to the next
// "\r\n*" marker at or after from. If the buffered input has no such marker either, the whole window is
// dropped; parseLoop resumes once more data arrives and a real boundary is
// read.
func (m *Manager) skipForward(from int) {
	writeEnd := m.conn.WriteEnd()
	input := m.conn.RawInput()
	if idx := strings.Index(string(input[from:writeEnd]), "\r\n*"); idx >= 0 {
		m.conn.RewindTo(from + idx + len("\r\n"))
		return
	}
	m.conn.RewindTo(writeEnd)
}

// Subscribe registers a new subscriber queue for sub.Timeline, issuing a bus
// SUBSCRIBE if this is the timeline's first channel. Implements §4.5.6.
func (m *Manager) Subscribe(sub domain.Subscription, q subtable.OutboundQueue) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.HashtagName != "" {
		if tag := sub.Timeline.Tag; tag != 0 {
			m.tags.Put(sub.HashtagName, tag)
			m.conn.PutTagName(tag, sub.HashtagName)
		}
	}

	id := m.nextID.Inc() - 1

	if outcome := m.table.Insert(sub.Timeline, id, q); outcome == subtable.FirstForTimeline {
		if err := m.conn.SendCmd(busconn.CmdSubscribe, []domain.Timeline{sub.Timeline}); err != nil {
			m.log.Error("subscribe: bus command failed", "timeline", sub.Timeline.String(), "error", err)
		} else {
			m.log.Info("subscribed", "timeline", sub.Timeline.String())
			if m.audit != nil {
				auditlog.Log(context.Background(), m.audit, m.log, "subscribe", sub.Timeline.String(), nil)
			}
		}
	}
	return id
}

// shutdownUnsubscribeAll issues a best-effort broadcast UNSUBSCRIBE of every
// timeline still held, with no wait for acknowledgment, per §5's Manager
// drop behavior.
func (m *Manager) shutdownUnsubscribeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.table.List()
	if len(list) == 0 {
		return
	}
	tls := make([]domain.Timeline, 0, len(list))
	for tl := range list {
		tls = append(tls, tl)
	}
	if err := m.conn.SendCmd(busconn.CmdUnsubscribe, tls); err != nil {
		m.log.Warn("shutdown: broadcast unsubscribe failed", "error", err)
		return
	}
	if m.audit != nil {
		for _, tl := range tls {
			auditlog.Log(context.Background(), m.audit, m.log, "shutdown_unsubscribe", tl.String(), nil)
		}
	}
}

// Count returns the total number of live channels across all timelines, for
// admin introspection (§4.6).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Count()
}

// Backpressure returns the current unread window size in KiB.
func (m *Manager) Backpressure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conn.Window()) / 1024
}

// List renders one line per timeline: "<Timeline>: <channel_count>",
// right-aligned on the longest timeline name.
func (m *Manager) List() string {
	m.mu.Lock()
	counts := m.table.List()
	m.mu.Unlock()

	width := 0
	names := make(map[domain.Timeline]string, len(counts))
	for tl := range counts {
		name := tl.String()
		names[tl] = name
		if len(name) > width {
			width = len(name)
		}
	}

	var b strings.Builder
	for tl, count := range counts {
		fmt.Fprintf(&b, "%*s: %d\n", width, names[tl], count)
	}
	return b.String()
}
