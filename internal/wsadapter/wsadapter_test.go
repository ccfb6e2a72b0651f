package wsadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/busgate/internal/domain"
)

func statusEvent(authorID, lang string) *domain.Event {
	sp := &domain.StatusPayload{ID: "1", Language: lang}
	sp.Account.ID = authorID
	return &domain.Event{Kind: domain.EventUpdate, Status: sp}
}

func TestAllows_NonUpdateAlwaysPasses(t *testing.T) {
	c := &Client{sub: domain.Subscription{Timeline: domain.Public()}}
	ev := &domain.Event{Kind: domain.EventNotification}
	assert.True(t, c.allows(ev))
}

func TestAllows_LanguageFilterAppliesOnlyToPublic(t *testing.T) {
	c := &Client{sub: domain.Subscription{
		Timeline:     domain.Public(),
		AllowedLangs: map[string]struct{}{"en": {}},
	}}
	assert.True(t, c.allows(statusEvent("u1", "en")))
	assert.False(t, c.allows(statusEvent("u1", "fr")))
}

func TestAllows_LanguageFilterSkippedOffPublicTimeline(t *testing.T) {
	c := &Client{sub: domain.Subscription{
		Timeline:     domain.User("u1"),
		AllowedLangs: map[string]struct{}{"en": {}},
	}}
	assert.True(t, c.allows(statusEvent("u2", "fr")))
}

func TestAllows_BlockedAuthorRejected(t *testing.T) {
	c := &Client{sub: domain.Subscription{
		Timeline: domain.Public(),
		Blocks:   domain.Blocks{BlockedUsers: map[string]struct{}{"bad": {}}},
	}}
	assert.False(t, c.allows(statusEvent("bad", "en")))
	assert.True(t, c.allows(statusEvent("good", "en")))
}

func TestAllows_BlockedDomainRejected(t *testing.T) {
	c := &Client{sub: domain.Subscription{
		Timeline: domain.Public(),
		Blocks:   domain.Blocks{BlockedDomains: map[string]struct{}{"spam.example": {}}},
	}}
	ev := statusEvent("u1", "en")
	ev.Status.URL = "https://spam.example/statuses/1"
	assert.False(t, c.allows(ev))
}
