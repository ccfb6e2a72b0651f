package domain

import "fmt"

// TimelineKind discriminates the logical stream classes a client can
// subscribe to.
type TimelineKind uint8

const (
	TimelineUser TimelineKind = iota
	TimelineUserNotification
	TimelinePublic
	TimelinePublicLocal
	TimelineHashtag
	TimelineHashtagLocal
	TimelineList
	TimelineDirect
)

func (k TimelineKind) String() string {
	switch k {
	case TimelineUser:
		return "User"
	case TimelineUserNotification:
		return "UserNotification"
	case TimelinePublic:
		return "Public"
	case TimelinePublicLocal:
		return "PublicLocal"
	case TimelineHashtag:
		return "Hashtag"
	case TimelineHashtagLocal:
		return "HashtagLocal"
	case TimelineList:
		return "List"
	case TimelineDirect:
		return "Direct"
	default:
		return "Unknown"
	}
}

// Timeline identifies a logical stream. It is a plain comparable value so it
// can be used directly as a map key (the zero value is User("")). Only
// Hashtag/HashtagLocal carry a Tag; every other kind leaves it at zero.
type Timeline struct {
	Kind TimelineKind
	ID   string // user id, list id, direct conversation id
	Tag  int64  // hashtag id, only meaningful for Hashtag/HashtagLocal
}

func User(id string) Timeline             { return Timeline{Kind: TimelineUser, ID: id} }
func UserNotification(id string) Timeline { return Timeline{Kind: TimelineUserNotification, ID: id} }
func Public() Timeline                    { return Timeline{Kind: TimelinePublic} }
func PublicLocal() Timeline               { return Timeline{Kind: TimelinePublicLocal} }
func Hashtag(tag int64) Timeline          { return Timeline{Kind: TimelineHashtag, Tag: tag} }
func HashtagLocal(tag int64) Timeline     { return Timeline{Kind: TimelineHashtagLocal, Tag: tag} }
func List(id string) Timeline             { return Timeline{Kind: TimelineList, ID: id} }
func Direct(id string) Timeline           { return Timeline{Kind: TimelineDirect, ID: id} }

// IsPublic reports whether tl is one of the two public-firehose timelines;
// only these are subject to the language allow-list filter.
func (tl Timeline) IsPublic() bool {
	return tl.Kind == TimelinePublic || tl.Kind == TimelinePublicLocal
}

// String renders a debug-friendly, stable representation used by admin
// introspection (§4.6) and log fields.
func (tl Timeline) String() string {
	switch tl.Kind {
	case TimelineUser:
		return fmt.Sprintf("User(%s)", tl.ID)
	case TimelineUserNotification:
		return fmt.Sprintf("UserNotification(%s)", tl.ID)
	case TimelinePublic:
		return "Public"
	case TimelinePublicLocal:
		return "PublicLocal"
	case TimelineHashtag:
		return fmt.Sprintf("Hashtag(%d)", tl.Tag)
	case TimelineHashtagLocal:
		return fmt.Sprintf("HashtagLocal(%d)", tl.Tag)
	case TimelineList:
		return fmt.Sprintf("List(%s)", tl.ID)
	case TimelineDirect:
		return fmt.Sprintf("Direct(%s)", tl.ID)
	default:
		return "Unknown"
	}
}

// Blocks carries the per-client filtering criteria applied by the adapter
// (never by the core Manager) when forwarding Update events.
type Blocks struct {
	BlockedUsers   map[string]struct{}
	BlockingUsers  map[string]struct{}
	BlockedDomains map[string]struct{}
}

// Subscription describes one client's request to watch a Timeline.
type Subscription struct {
	Timeline     Timeline
	HashtagName  string // only set when Timeline.Kind is Hashtag/HashtagLocal
	AllowedLangs map[string]struct{}
	Blocks       Blocks
}
