package gateway

import "errors"

var (
	ErrRemoteUnavailable = errors.New("remote service unavailable")
	ErrInvalidShare      = errors.New("share link invalid or secret wrong")
	ErrAuthExpired       = errors.New("credential invalid or expired")
	ErrTransferRejected  = errors.New("transfer rejected")
)

// errnoLoginRequired is what the web API reports for a stale cookie.
const errnoLoginRequired = "990001"
