package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnknownTag    = errors.New("unknown hashtag id")
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrNamespaceMiss = errors.New("channel does not match configured namespace")
)
