package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session record not found")
	ErrSessionExists    = errors.New("session record already exists")
	ErrPeerNotConnected = errors.New("peer not connected")
	ErrLinkClosed       = errors.New("data link closed")
	ErrNoIdentity       = errors.New("no peer identity assigned")
)
