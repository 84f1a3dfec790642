package oauthmodel

import "errors"

var (
	ErrNoAuthData         = errors.New("no auth data in redirect")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
	ErrInvalidRedirectURL = errors.New("invalid redirect url")
)
