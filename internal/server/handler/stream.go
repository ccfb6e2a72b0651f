package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/busgate/internal/decode"
	"github.com/alanyoungcy/busgate/internal/domain"
	"github.com/alanyoungcy/busgate/internal/subtable"
	"github.com/alanyoungcy/busgate/internal/wsadapter"
)

// SubscribeManager is the subset of internal/manager.Manager the streaming
// endpoint depends on.
type SubscribeManager interface {
	Subscribe(sub domain.Subscription, q subtable.OutboundQueue) uint64
}

// StreamHandler upgrades incoming requests to WebSocket connections and
// registers them with the Manager as timeline subscribers. Subscription
// criteria (timeline, hashtag, language allow-list) are read from the query
// string; block lists are not read from the request, so Subscription.Blocks
// stays empty and the adapter's block filters never reject anything. This
// gateway does not support renegotiating a subscription after connect.
type StreamHandler struct {
	manager SubscribeManager
	logger  *slog.Logger
}

// NewStreamHandler creates a StreamHandler backed by manager.
func NewStreamHandler(manager SubscribeManager, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{manager: manager, logger: logger}
}

// Stream handles a streaming subscription request.
// GET /api/v1/streaming?stream=<kind>&tag=<name>&list=<id>&lang=<csv>
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubscription(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := wsadapter.Upgrade(w, r, sub, h.logger)
	if err != nil {
		h.logger.Warn("stream: upgrade failed", "error", err)
		return
	}

	h.manager.Subscribe(sub, client)
	if sub.Timeline.Kind == domain.TimelineUser {
		// A user's home timeline and their notification channel are two
		// distinct bus channels (§6); one client connection watches both.
		notif := sub
		notif.Timeline = domain.UserNotification(sub.Timeline.ID)
		h.manager.Subscribe(notif, client)
	}
	client.Run(r.Context())
}

// parseSubscription derives a domain.Subscription from the request's query
// string, mirroring the channel naming rules of §6.
func parseSubscription(r *http.Request) (domain.Subscription, error) {
	q := r.URL.Query()
	kind := q.Get("stream")

	var tl domain.Timeline
	var hashtagName string

	switch kind {
	case "public":
		tl = domain.Public()
	case "public:local":
		tl = domain.PublicLocal()
	case "hashtag", "hashtag:local":
		hashtagName = q.Get("tag")
		if hashtagName == "" {
			return domain.Subscription{}, errMissingParam("tag")
		}
		id, err := decode.ParseTagID(q.Get("tag_id"))
		if err != nil {
			return domain.Subscription{}, errMissingParam("tag_id")
		}
		if kind == "hashtag:local" {
			tl = domain.HashtagLocal(id)
		} else {
			tl = domain.Hashtag(id)
		}
	case "list":
		id := q.Get("list")
		if id == "" {
			return domain.Subscription{}, errMissingParam("list")
		}
		tl = domain.List(id)
	case "direct":
		id := q.Get("id")
		if id == "" {
			return domain.Subscription{}, errMissingParam("id")
		}
		tl = domain.Direct(id)
	case "user":
		id := q.Get("id")
		if id == "" {
			return domain.Subscription{}, errMissingParam("id")
		}
		tl = domain.User(id)
	default:
		return domain.Subscription{}, errMissingParam("stream")
	}

	sub := domain.Subscription{Timeline: tl, HashtagName: hashtagName}

	if langs := q.Get("lang"); langs != "" {
		sub.AllowedLangs = make(map[string]struct{})
		for _, l := range strings.Split(langs, ",") {
			l = strings.TrimSpace(l)
			if l != "" {
				sub.AllowedLangs[l] = struct{}{}
			}
		}
	}

	return sub, nil
}

func errMissingParam(name string) error {
	return &missingParamError{name: name}
}

type missingParamError struct{ name string }

func (e *missingParamError) Error() string {
	return "stream: missing or invalid query parameter: " + e.name
}
