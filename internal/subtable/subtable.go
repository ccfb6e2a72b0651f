// Package subtable implements the reference-counted Timeline -> channel set
// that drives the Manager's SUBSCRIBE/UNSUBSCRIBE transitions: a bus
// SUBSCRIBE is issued only when a timeline's first channel is inserted, and
// an UNSUBSCRIBE only when its last channel is removed.
package subtable

import "github.com/alanyoungcy/busgate/internal/domain"

// OutboundQueue is the nonblocking sink fan-out writes into. Implemented by
// internal/wsadapter's per-client channel wrapper.
type OutboundQueue interface {
	// TrySend attempts a nonblocking delivery of ev, returning false if the
	// queue is full (the caller must then trigger rewind, not drop/close).
	TrySend(ev *domain.Event) bool
	// Closed reports whether the consuming side has gone away; Manager's
	// ping sweep uses this to reap dead entries.
	Closed() bool
}

// InsertOutcome reports whether inserting a channel was this timeline's
// first subscriber.
type InsertOutcome int

const (
	AlreadySubscribed InsertOutcome = iota
	FirstForTimeline
)

// RemoveOutcome reports whether removing a channel emptied its timeline.
type RemoveOutcome int

const (
	StillSubscribed RemoveOutcome = iota
	LastForTimeline
	Unknown
)

// Table is the Timeline -> {channel id -> queue} map. It is not itself
// synchronized; callers (internal/manager) hold the Manager's single mutex
// around every operation.
type Table struct {
	timelines map[domain.Timeline]map[uint64]OutboundQueue
}

// New returns an empty Table.
func New() *Table {
	return &Table{timelines: make(map[domain.Timeline]map[uint64]OutboundQueue)}
}

// Insert adds channel id's queue under tl. A channel id reused by accident
// (already present in tl's set) is a programming error; Manager hands out
// ids from a monotonic counter, so this never legitimately occurs.
func (t *Table) Insert(tl domain.Timeline, id uint64, q OutboundQueue) InsertOutcome {
	channels, ok := t.timelines[tl]
	if !ok {
		channels = make(map[uint64]OutboundQueue)
		t.timelines[tl] = channels
	}
	first := len(channels) == 0
	channels[id] = q
	if first {
		return FirstForTimeline
	}
	return AlreadySubscribed
}

// Remove drops channel id from tl. Returns LastForTimeline (and deletes the
// timeline entry entirely) when that was tl's only channel, Unknown if tl or
// id was not present, otherwise StillSubscribed.
func (t *Table) Remove(tl domain.Timeline, id uint64) RemoveOutcome {
	channels, ok := t.timelines[tl]
	if !ok {
		return Unknown
	}
	if _, ok := channels[id]; !ok {
		return Unknown
	}
	delete(channels, id)
	if len(channels) == 0 {
		delete(t.timelines, tl)
		return LastForTimeline
	}
	return StillSubscribed
}

// ChannelsOf returns the live queues subscribed to tl, in no particular
// order. The returned map must not be mutated by the caller.
func (t *Table) ChannelsOf(tl domain.Timeline) map[uint64]OutboundQueue {
	return t.timelines[tl]
}

// Count returns the total number of live channels across every timeline.
func (t *Table) Count() int {
	n := 0
	for _, channels := range t.timelines {
		n += len(channels)
	}
	return n
}

// List returns, for each timeline with at least one channel, its channel
// count, for admin introspection (§4.6's "list" report).
func (t *Table) List() map[domain.Timeline]int {
	out := make(map[domain.Timeline]int, len(t.timelines))
	for tl, channels := range t.timelines {
		out[tl] = len(channels)
	}
	return out
}

// Sweep removes, from every timeline, any channel for which drop(queue)
// returns true, deleting any timeline left empty as a result. It returns
// the set of timelines that became empty, so the caller can issue bus
// UNSUBSCRIBEs for them.
func (t *Table) Sweep(drop func(OutboundQueue) bool) []domain.Timeline {
	var emptied []domain.Timeline
	for tl, channels := range t.timelines {
		for id, q := range channels {
			if drop(q) {
				delete(channels, id)
			}
		}
		if len(channels) == 0 {
			delete(t.timelines, tl)
			emptied = append(emptied, tl)
		}
	}
	return emptied
}
