package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/busgate/internal/domain"
)

func TestTimelineFromChannel(t *testing.T) {
	cache, err := NewTagCache(16)
	require.NoError(t, err)
	cache.Put("photography", 42)

	cases := []struct {
		name    string
		channel string
		want    domain.Timeline
	}{
		{"public", "timeline:public", domain.Public()},
		{"public local", "timeline:public:local", domain.PublicLocal()},
		{"hashtag", "timeline:hashtag:photography", domain.Hashtag(42)},
		{"hashtag local", "timeline:hashtag:photography:local", domain.HashtagLocal(42)},
		{"list", "timeline:list:abc", domain.List("abc")},
		{"direct", "timeline:direct:abc", domain.Direct("abc")},
		{"user home", "timeline:99", domain.User("99")},
		{"user notification", "timeline:99:notification", domain.UserNotification("99")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TimelineFromChannel(tc.channel, cache)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTimelineFromChannel_UnknownHashtagIsError(t *testing.T) {
	cache, err := NewTagCache(16)
	require.NoError(t, err)

	_, err = TimelineFromChannel("timeline:hashtag:nevercached", cache)
	assert.ErrorIs(t, err, domain.ErrUnknownTag)
}

func TestChannelFromTimeline(t *testing.T) {
	cache, err := NewTagCache(16)
	require.NoError(t, err)
	cache.Put("photography", 42)

	cases := []struct {
		name string
		tl   domain.Timeline
		want string
	}{
		{"public", domain.Public(), "timeline:public"},
		{"public local", domain.PublicLocal(), "timeline:public:local"},
		{"hashtag", domain.Hashtag(42), "timeline:hashtag:photography"},
		{"hashtag local", domain.HashtagLocal(42), "timeline:hashtag:photography:local"},
		{"list", domain.List("abc"), "timeline:list:abc"},
		{"direct", domain.Direct("abc"), "timeline:direct:abc"},
		{"user home", domain.User("99"), "timeline:99"},
		{"user notification", domain.UserNotification("99"), "timeline:99:notification"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ChannelFromTimeline(tc.tl, cache)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEventFromJSON(t *testing.T) {
	ev, err := EventFromJSON(`{"event":"update","payload":"{\"id\":\"1\",\"language\":\"en\"}"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.EventUpdate, ev.Kind)
	assert.True(t, ev.IsUpdate())
	assert.Equal(t, "en", ev.Language())

	_, err = EventFromJSON(`{"event":"not_a_real_kind","payload":""}`)
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)
}
