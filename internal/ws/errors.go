package ws

import "errors"

// Every per-message failure is reported to the sender as
// {"type":"error","message":...} and is non-fatal for the connection.
var (
	errUnknownType        = errors.New("Unknown message type")
	errMalformed          = errors.New("malformed message")
	errMissingFields      = errors.New("missing required fields")
	errUnauthorized       = errors.New("not authorized for room")
	errNotRegistered      = errors.New("not registered")
	errAlreadyRegistered  = errors.New("connection already registered")
	errInvalidContext     = errors.New("message does not match registered identity")
	errInvalidIndex       = errors.New("element index out of range")
	errTargetNotConnected = errors.New("target user not connected")
	errCollaborator       = errors.New("lookup temporarily failed, retry")
)
