// Package decode turns bus channel names and raw JSON payloads into the
// domain types the rest of the gateway operates on: timeline_from_channel
// and event_from_json from the decoder contract. Both functions are pure
// except for the name<->id cache traffic that timeline_from_channel drives.
package decode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alanyoungcy/busgate/internal/domain"
)

// TagCache is the hashtag name<->id lookup consulted while decoding channel
// names (name->id) and by ChannelFromTimeline (id->name). The two directions
// are kept as independent bounded LRUs rather than one bidirectional
// structure, so traffic in one direction does not evict entries of the
// other. BusConnection keeps its own separate id->name cache for encoding
// outgoing commands.
type TagCache struct {
	byName *lru.Cache[string, int64]
	byID   *lru.Cache[int64, string]
}

// NewTagCache builds a TagCache whose two directions each hold up to size
// entries.
func NewTagCache(size int) (*TagCache, error) {
	byName, err := lru.New[string, int64](size)
	if err != nil {
		return nil, fmt.Errorf("decode: tag name cache: %w", err)
	}
	byID, err := lru.New[int64, string](size)
	if err != nil {
		return nil, fmt.Errorf("decode: tag id cache: %w", err)
	}
	return &TagCache{byName: byName, byID: byID}, nil
}

// Put records a confirmed name<->id pairing in both directions, e.g. after a
// client subscribes to a hashtag whose id was resolved elsewhere.
func (c *TagCache) Put(name string, id int64) {
	c.byName.Add(name, id)
	c.byID.Add(id, name)
}

// IDFor returns the cached id for name, if known.
func (c *TagCache) IDFor(name string) (int64, bool) {
	return c.byName.Get(name)
}

// NameFor returns the cached name for id, if known.
func (c *TagCache) NameFor(id int64) (string, bool) {
	return c.byID.Get(id)
}

const channelPrefix = "timeline:"

// TimelineFromChannel parses a bus channel name (already stripped of any
// namespace prefix by Manager.dispatch) into a Timeline. Hashtag channels
// consult cache for the name->id mapping recorded at subscribe time; a miss
// is a programming error (the gateway only ever subscribes to hashtag
// channels it has itself named) and surfaces as ErrUnknownTag.
func TimelineFromChannel(name string, cache *TagCache) (domain.Timeline, error) {
	if !strings.HasPrefix(name, channelPrefix) {
		return domain.Timeline{}, fmt.Errorf("decode: %w: channel %q missing %q prefix", domain.ErrUnknownTag, name, channelPrefix)
	}
	rest := strings.TrimPrefix(name, channelPrefix)

	switch {
	case rest == "public":
		return domain.Public(), nil
	case rest == "public:local":
		return domain.PublicLocal(), nil
	case strings.HasPrefix(rest, "hashtag:"):
		return hashtagTimeline(strings.TrimPrefix(rest, "hashtag:"), cache)
	case strings.HasPrefix(rest, "list:"):
		return domain.List(strings.TrimPrefix(rest, "list:")), nil
	case strings.HasPrefix(rest, "direct:"):
		return domain.Direct(strings.TrimPrefix(rest, "direct:")), nil
	case strings.HasSuffix(rest, ":notification"):
		return domain.UserNotification(strings.TrimSuffix(rest, ":notification")), nil
	case rest != "":
		// Bare "timeline:<user_id>" is a user's home timeline.
		return domain.User(rest), nil
	default:
		return domain.Timeline{}, fmt.Errorf("decode: %w: empty channel name", domain.ErrUnknownTag)
	}
}

func hashtagTimeline(rest string, cache *TagCache) (domain.Timeline, error) {
	local := strings.HasSuffix(rest, ":local")
	name := strings.TrimSuffix(rest, ":local")

	id, ok := cache.IDFor(name)
	if !ok {
		return domain.Timeline{}, fmt.Errorf("decode: %w: hashtag %q not in cache", domain.ErrUnknownTag, name)
	}
	if local {
		return domain.HashtagLocal(id), nil
	}
	return domain.Hashtag(id), nil
}

// ChannelFromTimeline is the inverse of TimelineFromChannel, following the
// same naming rules BusConnection.channelName applies when encoding
// SUBSCRIBE/UNSUBSCRIBE commands (BusConnection does not call it; it uses its
// own id->name cache). It returns an error only for Hashtag/HashtagLocal
// timelines whose id is not yet named in cache (callers must Put the pairing before first use, typically at
// subscription time from the client-supplied hashtag name).
func ChannelFromTimeline(tl domain.Timeline, cache *TagCache) (string, error) {
	switch tl.Kind {
	case domain.TimelinePublic:
		return channelPrefix + "public", nil
	case domain.TimelinePublicLocal:
		return channelPrefix + "public:local", nil
	case domain.TimelineHashtag, domain.TimelineHashtagLocal:
		name, ok := cache.NameFor(tl.Tag)
		if !ok {
			return "", fmt.Errorf("decode: %w: hashtag id %d not in cache", domain.ErrUnknownTag, tl.Tag)
		}
		if tl.Kind == domain.TimelineHashtagLocal {
			return channelPrefix + "hashtag:" + name + ":local", nil
		}
		return channelPrefix + "hashtag:" + name, nil
	case domain.TimelineList:
		return channelPrefix + "list:" + tl.ID, nil
	case domain.TimelineDirect:
		return channelPrefix + "direct:" + tl.ID, nil
	case domain.TimelineUser:
		return channelPrefix + tl.ID, nil
	case domain.TimelineUserNotification:
		return channelPrefix + tl.ID + ":notification", nil
	default:
		return "", fmt.Errorf("decode: unknown timeline kind %v", tl.Kind)
	}
}

// wireEvent mirrors the JSON shape delivered on the bus: a discriminator
// plus an opaque payload string that, for "update" events, is itself a JSON
// document describing a status.
type wireEvent struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// EventFromJSON strictly decodes a bus message payload into an Event. Only
// the event kinds in domain.EventKind are recognized; anything else yields
// ErrUnknownEvent. For "update" events the payload is additionally decoded
// into a StatusPayload so that downstream adapters can filter without
// re-parsing JSON per client.
func EventFromJSON(text string) (*domain.Event, error) {
	var we wireEvent
	if err := json.Unmarshal([]byte(text), &we); err != nil {
		return nil, fmt.Errorf("decode: %w: %v", domain.ErrUnknownEvent, err)
	}

	kind := domain.EventKind(we.Event)
	switch kind {
	case domain.EventUpdate, domain.EventNotification, domain.EventDelete,
		domain.EventFilterChange, domain.EventAnnouncement,
		domain.EventStatusUpdate, domain.EventConversation, domain.EventPing:
	default:
		return nil, fmt.Errorf("decode: %w: %q", domain.ErrUnknownEvent, we.Event)
	}

	ev := &domain.Event{Kind: kind, RawPayload: we.Payload}
	if kind == domain.EventUpdate && we.Payload != "" {
		var sp domain.StatusPayload
		if err := json.Unmarshal([]byte(we.Payload), &sp); err != nil {
			return nil, fmt.Errorf("decode: %w: status payload: %v", domain.ErrUnknownEvent, err)
		}
		ev.Status = &sp
	}
	return ev, nil
}

// ParseTagID parses a base-10 hashtag id, e.g. the tag_id query parameter a
// client supplies alongside a hashtag name when subscribing.
func ParseTagID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
